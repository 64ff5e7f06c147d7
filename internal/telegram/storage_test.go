package telegram

import (
	"context"
	"errors"
	"testing"

	"github.com/gotd/td/session"
)

func TestMemoryStorage_Empty(t *testing.T) {
	s := newMemoryStorage(nil)
	if _, err := s.LoadSession(context.Background()); !errors.Is(err, session.ErrNotFound) {
		t.Errorf("LoadSession() error = %v, want session.ErrNotFound", err)
	}
}

func TestMemoryStorage_RoundTrip(t *testing.T) {
	seed := []byte(`{"Version":1}`)
	s := newMemoryStorage(seed)
	seed[0] = 'X'

	got, err := s.LoadSession(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != `{"Version":1}` {
		t.Errorf("LoadSession() = %q, seed was not copied", got)
	}

	if err := s.StoreSession(context.Background(), []byte("next")); err != nil {
		t.Fatal(err)
	}
	if string(s.Bytes()) != "next" {
		t.Errorf("Bytes() = %q, want %q", s.Bytes(), "next")
	}
}
