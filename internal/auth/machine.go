// Package auth drives the phone, code and password login flow and owns the
// issued sessions.
//
// A login moves Unauthenticated -> CodeRequested -> Authenticated, with a
// PasswordRequired step in between for accounts with two-factor auth. The
// in-flight state lives in process memory keyed by an opaque login id. A
// finished login becomes a session record in the Store plus a signed token
// for the client.
package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/danhigham/tgpulse/internal/apperr"
	"github.com/danhigham/tgpulse/internal/domain"
	"github.com/danhigham/tgpulse/internal/sessionstore"
	"github.com/danhigham/tgpulse/internal/telegram"
)

var (
	ErrNoPendingLogin = apperr.New(apperr.KindAuthentication, "no_pending_login", "No login in progress, request a new code")
	ErrWrongStep      = apperr.New(apperr.KindValidation, "wrong_step", "Login is not waiting for this step")
)

type State int

const (
	StateUnauthenticated State = iota
	StateCodeRequested
	StatePasswordRequired
	StateAuthenticated
)

func (s State) String() string {
	switch s {
	case StateCodeRequested:
		return "code_requested"
	case StatePasswordRequired:
		return "password_required"
	case StateAuthenticated:
		return "authenticated"
	default:
		return "unauthenticated"
	}
}

type Options struct {
	SessionTTL    time.Duration
	PendingTTL    time.Duration
	RemoteLogout  bool
	LogoutTimeout time.Duration
}

// CodeResult is the outcome of a submitted code. Exactly one of Session and
// NeedPassword is set. LoginID names the login still waiting for a password.
type CodeResult struct {
	Session      *domain.Session
	NeedPassword bool
	LoginID      string
}

type Machine struct {
	dialer  telegram.Dialer
	store   sessionstore.Store
	tokens  *Tokens
	pending *pendingLogins
	opts    Options
	logger  *zap.Logger
	now     func() time.Time
}

func NewMachine(dialer telegram.Dialer, store sessionstore.Store, tokens *Tokens, opts Options, logger *zap.Logger) *Machine {
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = 30 * 24 * time.Hour
	}
	if opts.PendingTTL <= 0 {
		opts.PendingTTL = 10 * time.Minute
	}
	if opts.LogoutTimeout <= 0 {
		opts.LogoutTimeout = 10 * time.Second
	}
	return &Machine{
		dialer:  dialer,
		store:   store,
		tokens:  tokens,
		pending: newPendingLogins(time.Now),
		opts:    opts,
		logger:  logger,
		now:     time.Now,
	}
}

// SetClock replaces the time source of the machine, its pending logins and
// its token verifier. Tests only.
func (m *Machine) SetClock(now func() time.Time) {
	m.now = now
	m.pending.now = now
	m.tokens.now = now
}

func (m *Machine) SessionTTL() time.Duration { return m.opts.SessionTTL }
func (m *Machine) PendingTTL() time.Duration { return m.opts.PendingTTL }

// SendCode starts a login for phone. A previous login named by prevID is
// replaced once the new code is sent; on failure it is left untouched.
func (m *Machine) SendCode(ctx context.Context, prevID, phone string) (domain.PendingLogin, error) {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return domain.PendingLogin{}, apperr.Validation("Phone number is required")
	}
	var pl domain.PendingLogin
	err := telegram.WithConn(ctx, m.dialer, nil, func(conn telegram.Conn) error {
		hash, err := conn.SendCode(ctx, phone)
		if err != nil {
			return err
		}
		data, err := conn.SessionData()
		if err != nil {
			return err
		}
		pl = domain.PendingLogin{
			ID:            uuid.NewString(),
			PhoneNumber:   phone,
			PhoneCodeHash: hash,
			Step:          domain.LoginStepCode,
			AuthData:      data,
			ExpiresAt:     m.now().Add(m.opts.PendingTTL),
		}
		return nil
	})
	if err != nil {
		m.logger.Info("send code failed", zap.String("phone", maskPhone(phone)), zap.Error(err))
		return domain.PendingLogin{}, err
	}

	if prevID != "" {
		m.Abandon(prevID)
	}
	m.pending.put(pl)
	m.logger.Info("code requested", zap.String("login", pl.ID), zap.String("phone", maskPhone(phone)))
	return pl, nil
}

// SubmitCode signs in with the code sent for pendingID. When pendingID is
// unknown the login is located by phone and hash instead. A wrong code
// leaves the login waiting for a code.
func (m *Machine) SubmitCode(ctx context.Context, pendingID, phone, code, hash string) (CodeResult, error) {
	phone, code, hash = strings.TrimSpace(phone), strings.TrimSpace(code), strings.TrimSpace(hash)
	if phone == "" || code == "" || hash == "" {
		return CodeResult{}, apperr.Validation("Phone number, code and phone code hash are required")
	}

	pl, ok := m.pending.get(pendingID)
	if !ok || pl.PhoneCodeHash != hash || pl.PhoneNumber != phone {
		pl, ok = m.pending.byHash(phone, hash)
	}
	if !ok {
		return CodeResult{}, ErrNoPendingLogin
	}
	if pl.Step != domain.LoginStepCode {
		return CodeResult{}, ErrWrongStep
	}

	log := m.logger.With(zap.String("login", pl.ID))
	var data []byte
	err := telegram.WithConn(ctx, m.dialer, pl.AuthData, func(conn telegram.Conn) error {
		signErr := conn.SignIn(ctx, pl.PhoneNumber, code, pl.PhoneCodeHash)
		if signErr != nil && !errors.Is(signErr, telegram.ErrPasswordRequired) {
			return signErr
		}
		var err error
		if data, err = conn.SessionData(); err != nil {
			return err
		}
		return signErr
	})

	switch {
	case errors.Is(err, telegram.ErrPasswordRequired):
		pl.Step = domain.LoginStepPassword
		pl.AuthData = data
		m.pending.put(pl)
		log.Info("password required")
		return CodeResult{NeedPassword: true, LoginID: pl.ID}, nil
	case errors.Is(err, telegram.ErrCodeExpired):
		m.pending.delete(pl.ID)
		log.Info("code expired")
		return CodeResult{}, err
	case err != nil:
		log.Info("sign in failed", zap.Error(err))
		return CodeResult{}, err
	}

	sess, err := m.issue(ctx, data)
	if err != nil {
		return CodeResult{}, err
	}
	m.pending.delete(pl.ID)
	log.Info("signed in")
	return CodeResult{Session: &sess}, nil
}

// SubmitPassword completes a login waiting for its two-factor password. A
// wrong password leaves the login waiting for a password.
func (m *Machine) SubmitPassword(ctx context.Context, pendingID, password string) (domain.Session, error) {
	if password == "" {
		return domain.Session{}, apperr.Validation("Password is required")
	}
	pl, ok := m.pending.get(pendingID)
	if !ok {
		return domain.Session{}, ErrNoPendingLogin
	}
	if pl.Step != domain.LoginStepPassword {
		return domain.Session{}, ErrWrongStep
	}

	log := m.logger.With(zap.String("login", pl.ID))
	var data []byte
	err := telegram.WithConn(ctx, m.dialer, pl.AuthData, func(conn telegram.Conn) error {
		if err := conn.SignInPassword(ctx, password); err != nil {
			return err
		}
		var err error
		data, err = conn.SessionData()
		return err
	})
	if err != nil {
		log.Info("password sign in failed", zap.Error(err))
		return domain.Session{}, err
	}

	sess, err := m.issue(ctx, data)
	if err != nil {
		return domain.Session{}, err
	}
	m.pending.delete(pl.ID)
	log.Info("signed in with password")
	return sess, nil
}

func (m *Machine) issue(ctx context.Context, data []byte) (domain.Session, error) {
	now := m.now()
	rec := sessionstore.Record{
		ID:        uuid.NewString(),
		Data:      data,
		CreatedAt: now,
		ExpiresAt: now.Add(m.opts.SessionTTL),
	}
	if err := m.store.Put(ctx, rec); err != nil {
		m.logger.Error("store session", zap.Error(err))
		return domain.Session{}, err
	}
	token, err := m.tokens.Sign(rec.ID, rec.CreatedAt, rec.ExpiresAt)
	if err != nil {
		_ = m.store.Delete(ctx, rec.ID)
		return domain.Session{}, err
	}
	return domain.Session{Token: token, CreatedAt: rec.CreatedAt, ExpiresAt: rec.ExpiresAt}, nil
}

// Resolve returns the session record behind token. Any token that does not
// verify or whose record is gone yields apperr.ErrUnauthorized.
func (m *Machine) Resolve(ctx context.Context, token string) (sessionstore.Record, error) {
	id, err := m.tokens.Parse(token)
	if err != nil {
		return sessionstore.Record{}, apperr.Wrap(apperr.ErrUnauthorized, err)
	}
	rec, err := m.store.Get(ctx, id)
	if errors.Is(err, sessionstore.ErrNotFound) {
		return sessionstore.Record{}, apperr.ErrUnauthorized
	}
	if err != nil {
		return sessionstore.Record{}, apperr.Transient("Session store unavailable", err)
	}
	return rec, nil
}

// IsValid is a local check of token presence and expiry. It never talks
// to Telegram.
func (m *Machine) IsValid(ctx context.Context, token string) bool {
	_, err := m.Resolve(ctx, token)
	return err == nil
}

// Status fetches the account behind token, proving the session is still
// accepted by Telegram.
func (m *Machine) Status(ctx context.Context, token string) (domain.User, error) {
	rec, err := m.Resolve(ctx, token)
	if err != nil {
		return domain.User{}, err
	}
	var user domain.User
	err = telegram.WithConn(ctx, m.dialer, rec.Data, func(conn telegram.Conn) error {
		var err error
		user, err = conn.Self(ctx)
		return err
	})
	if errors.Is(err, apperr.ErrUnauthorized) {
		m.Expire(ctx, token)
	}
	return user, err
}

// Logout drops the session behind token. The local record is always
// removed; telling Telegram is best effort.
func (m *Machine) Logout(ctx context.Context, token string) {
	id, err := m.tokens.Parse(token)
	if err != nil {
		return
	}
	rec, err := m.store.Get(ctx, id)
	if err == nil && m.opts.RemoteLogout {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.opts.LogoutTimeout)
		err := telegram.WithConn(rctx, m.dialer, rec.Data, func(conn telegram.Conn) error {
			return conn.LogOut(rctx)
		})
		cancel()
		if err != nil {
			m.logger.Warn("remote logout failed", zap.String("session", id), zap.Error(err))
		}
	}
	if err := m.store.Delete(ctx, id); err != nil {
		m.logger.Warn("delete session", zap.String("session", id), zap.Error(err))
		return
	}
	m.logger.Info("logged out", zap.String("session", id))
}

// Expire drops the local session after Telegram rejected it.
func (m *Machine) Expire(ctx context.Context, token string) {
	id, err := m.tokens.Parse(token)
	if err != nil {
		return
	}
	if err := m.store.Delete(ctx, id); err != nil {
		m.logger.Warn("delete expired session", zap.String("session", id), zap.Error(err))
		return
	}
	m.logger.Info("session expired", zap.String("session", id))
}

// Abandon discards an in-flight login.
func (m *Machine) Abandon(pendingID string) {
	if pendingID != "" {
		m.pending.delete(pendingID)
	}
}

// State reports where a client stands given its login id and session token.
func (m *Machine) State(ctx context.Context, pendingID, token string) State {
	if token != "" && m.IsValid(ctx, token) {
		return StateAuthenticated
	}
	pl, ok := m.pending.get(pendingID)
	if !ok {
		return StateUnauthenticated
	}
	if pl.Step == domain.LoginStepPassword {
		return StatePasswordRequired
	}
	return StateCodeRequested
}

// Sweep drops expired pending logins until ctx is done.
func (m *Machine) Sweep(ctx context.Context, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := m.pending.sweep(); n > 0 {
				m.logger.Debug("swept pending logins", zap.Int("count", n))
			}
		}
	}
}

func maskPhone(phone string) string {
	if len(phone) <= 4 {
		return "****"
	}
	return strings.Repeat("*", len(phone)-4) + phone[len(phone)-4:]
}
