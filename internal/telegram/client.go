package telegram

import (
	"context"

	"github.com/danhigham/tgpulse/internal/domain"
)

// Dialer opens live connections to Telegram. sessionData is an MTProto
// session previously returned by Conn.SessionData, or nil for a fresh one.
type Dialer interface {
	Connect(ctx context.Context, sessionData []byte) (Conn, error)
}

// Conn is one live connection. Every Conn returned by Connect must be
// closed, on success and failure paths alike.
type Conn interface {
	SendCode(ctx context.Context, phone string) (phoneCodeHash string, err error)
	SignIn(ctx context.Context, phone, code, phoneCodeHash string) error
	SignInPassword(ctx context.Context, password string) error
	Self(ctx context.Context) (domain.User, error)
	Dialogs(ctx context.Context, limit int) ([]domain.Conversation, error)
	History(ctx context.Context, conv domain.Conversation, limit int) ([]domain.Message, error)
	LogOut(ctx context.Context) error
	// SessionData returns the current MTProto session, including the auth
	// key and DC. After a successful sign-in it is the account credential.
	SessionData() ([]byte, error)
	Close() error
}

// WithConn connects, runs fn and closes the connection before returning.
func WithConn(ctx context.Context, d Dialer, sessionData []byte, fn func(Conn) error) (err error) {
	conn, err := d.Connect(ctx, sessionData)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := conn.Close(); cerr != nil && err == nil {
			err = translate(cerr)
		}
	}()
	return fn(conn)
}
