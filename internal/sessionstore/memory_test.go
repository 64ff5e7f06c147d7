package sessionstore_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/danhigham/tgpulse/internal/sessionstore"
)

func TestMemory_PutGet(t *testing.T) {
	ctx := context.Background()
	s := sessionstore.NewMemory()
	now := time.Now()

	rec := sessionstore.Record{ID: "a", Data: []byte("blob"), CreatedAt: now, ExpiresAt: now.Add(time.Hour)}
	if err := s.Put(ctx, rec); err != nil {
		t.Fatal(err)
	}

	got, err := s.Get(ctx, "a")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if string(got.Data) != "blob" {
		t.Errorf("Data = %q, want %q", got.Data, "blob")
	}

	// Returned data must be a copy.
	got.Data[0] = 'X'
	again, _ := s.Get(ctx, "a")
	if string(again.Data) != "blob" {
		t.Errorf("stored data mutated through returned record: %q", again.Data)
	}
}

func TestMemory_PutOverwrites(t *testing.T) {
	ctx := context.Background()
	s := sessionstore.NewMemory()
	exp := time.Now().Add(time.Hour)

	_ = s.Put(ctx, sessionstore.Record{ID: "a", Data: []byte("old"), ExpiresAt: exp})
	_ = s.Put(ctx, sessionstore.Record{ID: "a", Data: []byte("new"), ExpiresAt: exp})

	got, err := s.Get(ctx, "a")
	if err != nil {
		t.Fatal(err)
	}
	if string(got.Data) != "new" {
		t.Errorf("Data = %q, want %q", got.Data, "new")
	}
	if s.Len() != 1 {
		t.Errorf("Len = %d, want 1", s.Len())
	}
}

func TestMemory_Expiry(t *testing.T) {
	ctx := context.Background()
	s := sessionstore.NewMemory()
	now := time.Now()
	s.SetClock(func() time.Time { return now })

	_ = s.Put(ctx, sessionstore.Record{ID: "a", ExpiresAt: now.Add(time.Minute)})
	_ = s.Put(ctx, sessionstore.Record{ID: "b", ExpiresAt: now.Add(time.Hour)})

	now = now.Add(2 * time.Minute)
	if _, err := s.Get(ctx, "a"); !errors.Is(err, sessionstore.ErrNotFound) {
		t.Errorf("Get(expired) error = %v, want ErrNotFound", err)
	}
	if _, err := s.Get(ctx, "b"); err != nil {
		t.Errorf("Get(live) error = %v", err)
	}

	now = now.Add(2 * time.Hour)
	if n := s.Sweep(); n != 1 {
		t.Errorf("Sweep() = %d, want 1", n)
	}
	if s.Len() != 0 {
		t.Errorf("Len = %d, want 0", s.Len())
	}
}

func TestMemory_Delete(t *testing.T) {
	ctx := context.Background()
	s := sessionstore.NewMemory()
	_ = s.Put(ctx, sessionstore.Record{ID: "a", ExpiresAt: time.Now().Add(time.Hour)})

	if err := s.Delete(ctx, "a"); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete(ctx, "a"); err != nil {
		t.Errorf("second Delete() error: %v", err)
	}
	if _, err := s.Get(ctx, "a"); !errors.Is(err, sessionstore.ErrNotFound) {
		t.Errorf("Get after Delete error = %v, want ErrNotFound", err)
	}
}
