package telegram

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/tgerr"

	"github.com/danhigham/tgpulse/internal/apperr"
)

func TestTranslate(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
		kind apperr.Kind
	}{
		{"password needed", fmt.Errorf("sign in: %w", auth.ErrPasswordAuthNeeded), ErrPasswordRequired, apperr.KindAuthentication},
		{"password invalid", auth.ErrPasswordInvalid, ErrInvalidPassword, apperr.KindAuthentication},
		{"phone invalid", tgerr.New(400, "PHONE_NUMBER_INVALID"), ErrInvalidPhone, apperr.KindAuthentication},
		{"code invalid", tgerr.New(400, "PHONE_CODE_INVALID"), ErrInvalidCode, apperr.KindAuthentication},
		{"code expired", tgerr.New(400, "PHONE_CODE_EXPIRED"), ErrCodeExpired, apperr.KindAuthentication},
		{"bad api id", tgerr.New(400, "API_ID_INVALID"), ErrNotConfigured, apperr.KindConfiguration},
		{"unregistered", tgerr.New(400, "PHONE_NUMBER_UNOCCUPIED"), ErrSignUpRequired, apperr.KindAuthentication},
		{"flood wait", tgerr.New(420, "FLOOD_WAIT_30"), ErrFloodWait, apperr.KindTransientNetwork},
		{"revoked", tgerr.New(401, "SESSION_REVOKED"), apperr.ErrUnauthorized, apperr.KindAuthorization},
		{"unregistered key", tgerr.New(401, "AUTH_KEY_UNREGISTERED"), apperr.ErrUnauthorized, apperr.KindAuthorization},
		{"other rpc", tgerr.New(500, "INTERNAL"), ErrUnavailable, apperr.KindTransientNetwork},
		{"network", errors.New("dial tcp: connection refused"), ErrUnavailable, apperr.KindTransientNetwork},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := translate(tt.err)
			if !errors.Is(got, tt.want) {
				t.Errorf("translate() = %v, want %v", got, tt.want)
			}
			if k := apperr.KindOf(got); k != tt.kind {
				t.Errorf("KindOf() = %v, want %v", k, tt.kind)
			}
		})
	}
}

func TestTranslate_Deadline(t *testing.T) {
	got := translate(fmt.Errorf("get history: %w", context.DeadlineExceeded))
	if apperr.KindOf(got) != apperr.KindTransientNetwork {
		t.Errorf("KindOf() = %v, want transient_network", apperr.KindOf(got))
	}
}

func TestTranslate_PassesClassified(t *testing.T) {
	in := apperr.Validation("bad input")
	if got := translate(in); got != error(in) {
		t.Errorf("translate() = %v, want unchanged", got)
	}
	if translate(nil) != nil {
		t.Error("translate(nil) != nil")
	}
}
