package auth_test

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/danhigham/tgpulse/internal/apperr"
	"github.com/danhigham/tgpulse/internal/auth"
	"github.com/danhigham/tgpulse/internal/domain"
	"github.com/danhigham/tgpulse/internal/sessionstore"
	"github.com/danhigham/tgpulse/internal/telegram"
	"github.com/danhigham/tgpulse/internal/telegram/telegramtest"
)

const (
	testPhone = "+15551234567"
	testHash  = "abc123"
	testCode  = "11111"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

type fixture struct {
	machine *auth.Machine
	dialer  *telegramtest.Dialer
	store   *sessionstore.Memory
	now     time.Time
}

func newFixture(t *testing.T, opts auth.Options) *fixture {
	t.Helper()
	f := &fixture{
		dialer: &telegramtest.Dialer{
			SendCodeFunc: func(string) (string, error) { return testHash, nil },
			SignInFunc: func(phone, code, hash string) error {
				if phone == testPhone && code == testCode && hash == testHash {
					return nil
				}
				return telegram.ErrInvalidCode
			},
		},
		store: sessionstore.NewMemory(),
		now:   time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time { return f.now }
	f.store.SetClock(clock)
	f.machine = auth.NewMachine(f.dialer, f.store, auth.NewTokens(testSecret), opts, zaptest.NewLogger(t))
	f.machine.SetClock(clock)
	return f
}

func TestSendCode(t *testing.T) {
	f := newFixture(t, auth.Options{})
	ctx := context.Background()

	pl, err := f.machine.SendCode(ctx, "", testPhone)
	require.NoError(t, err)
	assert.Equal(t, testHash, pl.PhoneCodeHash)
	assert.Equal(t, domain.LoginStepCode, pl.Step)
	assert.NotEmpty(t, pl.ID)
	assert.NotEmpty(t, pl.AuthData)
	assert.Equal(t, auth.StateCodeRequested, f.machine.State(ctx, pl.ID, ""))
	assert.Equal(t, 1, f.dialer.Connects())
	assert.Equal(t, 1, f.dialer.Closes())
}

func TestSendCode_Validation(t *testing.T) {
	f := newFixture(t, auth.Options{})
	_, err := f.machine.SendCode(context.Background(), "", "  ")
	require.Error(t, err)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	assert.Empty(t, f.dialer.Calls())
}

func TestSendCode_InvalidPhone(t *testing.T) {
	f := newFixture(t, auth.Options{})
	f.dialer.SendCodeFunc = func(string) (string, error) { return "", telegram.ErrInvalidPhone }

	_, err := f.machine.SendCode(context.Background(), "", "123")
	assert.True(t, errors.Is(err, telegram.ErrInvalidPhone))
	assert.Equal(t, f.dialer.Connects(), f.dialer.Closes())
}

func TestSendCode_RestartDiscardsPrevious(t *testing.T) {
	f := newFixture(t, auth.Options{})
	ctx := context.Background()

	first, err := f.machine.SendCode(ctx, "", testPhone)
	require.NoError(t, err)
	second, err := f.machine.SendCode(ctx, first.ID, "+15550000000")
	require.NoError(t, err)

	assert.Equal(t, auth.StateUnauthenticated, f.machine.State(ctx, first.ID, ""))
	assert.Equal(t, auth.StateCodeRequested, f.machine.State(ctx, second.ID, ""))
}

func TestSendCode_FailureKeepsPrevious(t *testing.T) {
	f := newFixture(t, auth.Options{})
	ctx := context.Background()

	first, err := f.machine.SendCode(ctx, "", testPhone)
	require.NoError(t, err)

	f.dialer.SendCodeFunc = func(string) (string, error) { return "", telegram.ErrUnavailable }
	_, err = f.machine.SendCode(ctx, first.ID, "+15550000000")
	require.Error(t, err)
	assert.Equal(t, auth.StateCodeRequested, f.machine.State(ctx, first.ID, ""))

	_, err = f.machine.SendCode(ctx, first.ID, " ")
	require.Error(t, err)
	assert.Equal(t, auth.StateCodeRequested, f.machine.State(ctx, first.ID, ""))
}

func TestSubmitCode_WrongThenRight(t *testing.T) {
	f := newFixture(t, auth.Options{})
	ctx := context.Background()

	pl, err := f.machine.SendCode(ctx, "", testPhone)
	require.NoError(t, err)

	_, err = f.machine.SubmitCode(ctx, pl.ID, testPhone, "00000", testHash)
	require.Error(t, err)
	assert.True(t, errors.Is(err, telegram.ErrInvalidCode))
	assert.Equal(t, auth.StateCodeRequested, f.machine.State(ctx, pl.ID, ""))

	res, err := f.machine.SubmitCode(ctx, pl.ID, testPhone, testCode, testHash)
	require.NoError(t, err)
	require.NotNil(t, res.Session)
	assert.False(t, res.NeedPassword)
	assert.NotEmpty(t, res.Session.Token)
	assert.Equal(t, auth.StateAuthenticated, f.machine.State(ctx, pl.ID, res.Session.Token))

	// Every step reconnects with the auth key that requested the code.
	sessions := f.dialer.Sessions()
	require.Len(t, sessions, 3)
	assert.Nil(t, sessions[0])
	assert.Equal(t, pl.AuthData, sessions[1])
	assert.Equal(t, pl.AuthData, sessions[2])
	assert.Equal(t, f.dialer.Connects(), f.dialer.Closes())
}

func TestSubmitCode_LocatesLoginByHash(t *testing.T) {
	f := newFixture(t, auth.Options{})
	ctx := context.Background()

	_, err := f.machine.SendCode(ctx, "", testPhone)
	require.NoError(t, err)

	res, err := f.machine.SubmitCode(ctx, "", testPhone, testCode, testHash)
	require.NoError(t, err)
	require.NotNil(t, res.Session)
}

func TestSubmitCode_NoPendingLogin(t *testing.T) {
	f := newFixture(t, auth.Options{})
	_, err := f.machine.SubmitCode(context.Background(), "missing", testPhone, testCode, testHash)
	assert.True(t, errors.Is(err, auth.ErrNoPendingLogin))
	assert.Empty(t, f.dialer.Calls())
}

func TestSubmitCode_CodeExpiredDropsLogin(t *testing.T) {
	f := newFixture(t, auth.Options{})
	ctx := context.Background()
	f.dialer.SignInFunc = func(string, string, string) error { return telegram.ErrCodeExpired }

	pl, err := f.machine.SendCode(ctx, "", testPhone)
	require.NoError(t, err)
	_, err = f.machine.SubmitCode(ctx, pl.ID, testPhone, testCode, testHash)
	assert.True(t, errors.Is(err, telegram.ErrCodeExpired))
	assert.Equal(t, auth.StateUnauthenticated, f.machine.State(ctx, pl.ID, ""))
}

func TestTwoFactorFlow(t *testing.T) {
	f := newFixture(t, auth.Options{})
	ctx := context.Background()
	f.dialer.SignInFunc = func(string, string, string) error { return telegram.ErrPasswordRequired }
	f.dialer.SignInPasswordFunc = func(pw string) error {
		if pw != "hunter2" {
			return telegram.ErrInvalidPassword
		}
		return nil
	}

	pl, err := f.machine.SendCode(ctx, "", testPhone)
	require.NoError(t, err)

	res, err := f.machine.SubmitCode(ctx, pl.ID, testPhone, testCode, testHash)
	require.NoError(t, err)
	assert.True(t, res.NeedPassword)
	assert.Nil(t, res.Session)
	assert.Equal(t, pl.ID, res.LoginID)
	assert.Equal(t, auth.StatePasswordRequired, f.machine.State(ctx, pl.ID, ""))
	assert.Equal(t, 0, f.store.Len())

	_, err = f.machine.SubmitPassword(ctx, pl.ID, "wrong")
	assert.True(t, errors.Is(err, telegram.ErrInvalidPassword))
	assert.Equal(t, auth.StatePasswordRequired, f.machine.State(ctx, pl.ID, ""))

	sess, err := f.machine.SubmitPassword(ctx, pl.ID, "hunter2")
	require.NoError(t, err)
	assert.True(t, f.machine.IsValid(ctx, sess.Token))
	assert.Equal(t, auth.StateUnauthenticated, f.machine.State(ctx, pl.ID, ""))
	assert.Equal(t, f.dialer.Connects(), f.dialer.Closes())
}

func TestSubmitPassword_WrongStep(t *testing.T) {
	f := newFixture(t, auth.Options{})
	ctx := context.Background()

	pl, err := f.machine.SendCode(ctx, "", testPhone)
	require.NoError(t, err)
	_, err = f.machine.SubmitPassword(ctx, pl.ID, "hunter2")
	assert.True(t, errors.Is(err, auth.ErrWrongStep))

	_, err = f.machine.SubmitPassword(ctx, "", "hunter2")
	assert.True(t, errors.Is(err, auth.ErrNoPendingLogin))
}

func TestPendingLoginExpires(t *testing.T) {
	f := newFixture(t, auth.Options{PendingTTL: time.Minute})
	ctx := context.Background()

	pl, err := f.machine.SendCode(ctx, "", testPhone)
	require.NoError(t, err)
	f.now = f.now.Add(2 * time.Minute)

	_, err = f.machine.SubmitCode(ctx, pl.ID, testPhone, testCode, testHash)
	assert.True(t, errors.Is(err, auth.ErrNoPendingLogin))
}

func TestIsValid_RoundTripAndExpiry(t *testing.T) {
	f := newFixture(t, auth.Options{SessionTTL: time.Hour})
	ctx := context.Background()
	sess := signIn(t, f)

	assert.True(t, f.machine.IsValid(ctx, sess.Token))
	assert.Equal(t, f.now.Add(time.Hour), sess.ExpiresAt)

	f.now = f.now.Add(time.Hour)
	assert.False(t, f.machine.IsValid(ctx, sess.Token))
}

func TestIsValid_RejectsGarbage(t *testing.T) {
	f := newFixture(t, auth.Options{})
	ctx := context.Background()
	assert.False(t, f.machine.IsValid(ctx, ""))
	assert.False(t, f.machine.IsValid(ctx, "not-a-token"))

	other := auth.NewTokens([]byte("another-secret-another-secret-xx"))
	forged, err := other.Sign("some-id", f.now, f.now.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, f.machine.IsValid(ctx, forged))
	assert.Empty(t, f.dialer.Calls())
}

func TestLogout_Twice(t *testing.T) {
	f := newFixture(t, auth.Options{RemoteLogout: true})
	ctx := context.Background()
	sess := signIn(t, f)

	f.machine.Logout(ctx, sess.Token)
	assert.False(t, f.machine.IsValid(ctx, sess.Token))
	assert.Equal(t, 0, f.store.Len())

	f.machine.Logout(ctx, sess.Token)
	assert.False(t, f.machine.IsValid(ctx, sess.Token))

	var remote int
	for _, c := range f.dialer.Calls() {
		if c == "log_out" {
			remote++
		}
	}
	assert.Equal(t, 1, remote)
}

func TestLogout_RemoteFailureStillClears(t *testing.T) {
	f := newFixture(t, auth.Options{RemoteLogout: true})
	ctx := context.Background()
	f.dialer.LogOutFunc = func() error { return telegram.ErrUnavailable }
	sess := signIn(t, f)

	f.machine.Logout(ctx, sess.Token)
	assert.False(t, f.machine.IsValid(ctx, sess.Token))
	assert.Equal(t, f.dialer.Connects(), f.dialer.Closes())
}

func TestStatus(t *testing.T) {
	f := newFixture(t, auth.Options{})
	ctx := context.Background()
	sess := signIn(t, f)

	user, err := f.machine.Status(ctx, sess.Token)
	require.NoError(t, err)
	assert.Equal(t, "Test", user.FirstName)

	// Status reconnects with the signed-in session data.
	sessions := f.dialer.Sessions()
	assert.True(t, bytes.HasSuffix(sessions[len(sessions)-1], []byte("+auth")))
}

func TestStatus_RevokedSessionExpires(t *testing.T) {
	f := newFixture(t, auth.Options{})
	ctx := context.Background()
	sess := signIn(t, f)
	f.dialer.SelfFunc = func() (domain.User, error) {
		return domain.User{}, apperr.ErrUnauthorized
	}

	_, err := f.machine.Status(ctx, sess.Token)
	assert.Equal(t, apperr.KindAuthorization, apperr.KindOf(err))
	assert.False(t, f.machine.IsValid(ctx, sess.Token))
}

func signIn(t *testing.T, f *fixture) domain.Session {
	t.Helper()
	ctx := context.Background()
	pl, err := f.machine.SendCode(ctx, "", testPhone)
	require.NoError(t, err)
	res, err := f.machine.SubmitCode(ctx, pl.ID, testPhone, testCode, testHash)
	require.NoError(t, err)
	require.NotNil(t, res.Session)
	return *res.Session
}
