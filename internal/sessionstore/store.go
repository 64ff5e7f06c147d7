// Package sessionstore keeps session credentials.
//
// Store is the server-side keyed store of issued sessions; each record holds
// the Telegram session blob behind a token. Slot is the client-side single
// "current session" holder used by API clients (the counterpart of a browser
// cookie jar or local storage).
package sessionstore

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("session not found")

type Record struct {
	ID        string    `json:"id"`
	Data      []byte    `json:"data"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Store persists session records until their ExpiresAt. Get never returns an
// expired record.
type Store interface {
	Put(ctx context.Context, rec Record) error
	Get(ctx context.Context, id string) (Record, error)
	Delete(ctx context.Context, id string) error
}

// Slot holds at most one session token for a single client context.
type Slot interface {
	// Save replaces any previous token.
	Save(token string, ttl time.Duration) error
	Get() (string, bool)
	Clear() error
	Has() bool
}
