package telegram

import (
	"context"
	"errors"

	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/tgerr"

	"github.com/danhigham/tgpulse/internal/apperr"
)

var (
	ErrNotConfigured    = apperr.New(apperr.KindConfiguration, "configuration", "Telegram API credentials not configured")
	ErrInvalidPhone     = apperr.New(apperr.KindAuthentication, "invalid_phone", "Invalid phone number")
	ErrInvalidCode      = apperr.New(apperr.KindAuthentication, "invalid_code", "Invalid verification code")
	ErrCodeExpired      = apperr.New(apperr.KindAuthentication, "code_expired", "Verification code expired, request a new one")
	ErrPasswordRequired = apperr.New(apperr.KindAuthentication, "password_required", "Two-factor password required")
	ErrInvalidPassword  = apperr.New(apperr.KindAuthentication, "invalid_password", "Invalid password")
	ErrSignUpRequired   = apperr.New(apperr.KindAuthentication, "sign_up_required", "Phone number is not registered on Telegram")
	ErrFloodWait        = apperr.New(apperr.KindTransientNetwork, "flood_wait", "Too many attempts, try again later")
	ErrUnavailable      = apperr.New(apperr.KindTransientNetwork, "upstream_unavailable", "Telegram is unavailable")
)

// translate maps a gotd error to the apperr taxonomy. Errors that are
// already classified pass through.
func translate(err error) error {
	if err == nil {
		return nil
	}
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return err
	}

	var signUp *auth.SignUpRequired
	switch {
	case errors.Is(err, auth.ErrPasswordAuthNeeded), tgerr.Is(err, "SESSION_PASSWORD_NEEDED"):
		return apperr.Wrap(ErrPasswordRequired, err)
	case errors.Is(err, auth.ErrPasswordInvalid), tgerr.Is(err, "PASSWORD_HASH_INVALID"):
		return apperr.Wrap(ErrInvalidPassword, err)
	case tgerr.Is(err, "PHONE_NUMBER_INVALID", "PHONE_NUMBER_BANNED", "PHONE_NUMBER_FLOOD"):
		return apperr.Wrap(ErrInvalidPhone, err)
	case tgerr.Is(err, "PHONE_CODE_INVALID", "PHONE_CODE_EMPTY", "PHONE_CODE_HASH_EMPTY"):
		return apperr.Wrap(ErrInvalidCode, err)
	case tgerr.Is(err, "PHONE_CODE_EXPIRED"):
		return apperr.Wrap(ErrCodeExpired, err)
	case tgerr.Is(err, "API_ID_INVALID", "API_ID_PUBLISHED_FLOOD"):
		return apperr.Wrap(ErrNotConfigured, err)
	case errors.As(err, &signUp), tgerr.Is(err, "PHONE_NUMBER_UNOCCUPIED"):
		return apperr.Wrap(ErrSignUpRequired, err)
	}

	if _, ok := tgerr.AsFloodWait(err); ok {
		return apperr.Wrap(ErrFloodWait, err)
	}
	if rpcErr, ok := tgerr.As(err); ok && rpcErr.Code == 401 {
		// AUTH_KEY_UNREGISTERED, SESSION_REVOKED, USER_DEACTIVATED and friends.
		return apperr.Wrap(apperr.ErrUnauthorized, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return apperr.Transient("Telegram request timed out", err)
	}
	return apperr.Wrap(ErrUnavailable, err)
}
