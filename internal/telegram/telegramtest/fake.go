// Package telegramtest provides a scriptable in-memory telegram.Dialer.
package telegramtest

import (
	"context"
	"fmt"
	"sync"

	"github.com/danhigham/tgpulse/internal/domain"
	"github.com/danhigham/tgpulse/internal/telegram"
)

// Dialer is a fake telegram.Dialer. Hooks left nil succeed with zero
// values. Every method records its name in Calls, so tests can assert how
// much upstream traffic a request caused.
type Dialer struct {
	ConnectErr error

	SendCodeFunc       func(phone string) (string, error)
	SignInFunc         func(phone, code, hash string) error
	SignInPasswordFunc func(password string) error
	SelfFunc           func() (domain.User, error)
	DialogsFunc        func(limit int) ([]domain.Conversation, error)
	HistoryFunc        func(conv domain.Conversation, limit int) ([]domain.Message, error)
	LogOutFunc         func() error

	mu       sync.Mutex
	connects int
	closes   int
	calls    []string
	sessions [][]byte
	serial   int
}

var _ telegram.Dialer = (*Dialer)(nil)

func (d *Dialer) Connect(_ context.Context, sessionData []byte) (telegram.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, "connect")
	d.sessions = append(d.sessions, append([]byte(nil), sessionData...))
	if d.ConnectErr != nil {
		return nil, d.ConnectErr
	}
	d.connects++
	data := sessionData
	if len(data) == 0 {
		d.serial++
		data = []byte(fmt.Sprintf("session-%d", d.serial))
	}
	return &conn{d: d, data: append([]byte(nil), data...)}, nil
}

// Connects reports how many connections were opened successfully.
func (d *Dialer) Connects() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connects
}

func (d *Dialer) Closes() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closes
}

// Calls returns every recorded call in order, including "connect".
func (d *Dialer) Calls() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.calls...)
}

// Sessions returns the session data passed to each Connect.
func (d *Dialer) Sessions() [][]byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([][]byte(nil), d.sessions...)
}

func (d *Dialer) record(name string) {
	d.mu.Lock()
	d.calls = append(d.calls, name)
	d.mu.Unlock()
}

type conn struct {
	d    *Dialer
	data []byte

	mu       sync.Mutex
	closed   bool
	authDone bool
}

func (c *conn) SendCode(_ context.Context, phone string) (string, error) {
	c.d.record("send_code")
	if c.d.SendCodeFunc != nil {
		return c.d.SendCodeFunc(phone)
	}
	return "hash", nil
}

func (c *conn) SignIn(_ context.Context, phone, code, hash string) error {
	c.d.record("sign_in")
	if c.d.SignInFunc != nil {
		if err := c.d.SignInFunc(phone, code, hash); err != nil {
			return err
		}
	}
	c.markAuthorized()
	return nil
}

func (c *conn) SignInPassword(_ context.Context, password string) error {
	c.d.record("sign_in_password")
	if c.d.SignInPasswordFunc != nil {
		if err := c.d.SignInPasswordFunc(password); err != nil {
			return err
		}
	}
	c.markAuthorized()
	return nil
}

func (c *conn) Self(context.Context) (domain.User, error) {
	c.d.record("self")
	if c.d.SelfFunc != nil {
		return c.d.SelfFunc()
	}
	return domain.User{ID: "1", FirstName: "Test"}, nil
}

func (c *conn) Dialogs(_ context.Context, limit int) ([]domain.Conversation, error) {
	c.d.record("dialogs")
	if c.d.DialogsFunc != nil {
		return c.d.DialogsFunc(limit)
	}
	return nil, nil
}

func (c *conn) History(_ context.Context, conv domain.Conversation, limit int) ([]domain.Message, error) {
	c.d.record("history")
	if c.d.HistoryFunc != nil {
		return c.d.HistoryFunc(conv, limit)
	}
	return nil, nil
}

func (c *conn) LogOut(context.Context) error {
	c.d.record("log_out")
	if c.d.LogOutFunc != nil {
		return c.d.LogOutFunc()
	}
	return nil
}

// SessionData returns the data the connection was opened with, suffixed
// with "+auth" once a sign-in succeeded.
func (c *conn) SessionData() ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := append([]byte(nil), c.data...)
	if c.authDone {
		out = append(out, "+auth"...)
	}
	return out, nil
}

func (c *conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.d.mu.Lock()
	c.d.closes++
	c.d.mu.Unlock()
	return nil
}

func (c *conn) markAuthorized() {
	c.mu.Lock()
	c.authDone = true
	c.mu.Unlock()
}
