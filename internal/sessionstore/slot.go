package sessionstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

type slotEntry struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func (e slotEntry) valid(now time.Time) bool {
	return e.Token != "" && now.Before(e.ExpiresAt)
}

// MemorySlot keeps the current token in process memory.
type MemorySlot struct {
	mu    sync.Mutex
	entry slotEntry
	now   func() time.Time
}

func NewMemorySlot() *MemorySlot {
	return &MemorySlot{now: time.Now}
}

func (s *MemorySlot) Save(token string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entry = slotEntry{Token: token, ExpiresAt: s.now().Add(ttl)}
	return nil
}

func (s *MemorySlot) Get() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.entry.valid(s.now()) {
		s.entry = slotEntry{}
		return "", false
	}
	return s.entry.Token, true
}

func (s *MemorySlot) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entry = slotEntry{}
	return nil
}

func (s *MemorySlot) Has() bool {
	_, ok := s.Get()
	return ok
}

// FileSlot persists the current token as a JSON file readable only by the
// owner. Save writes a temp file and renames it over the old one.
type FileSlot struct {
	mu   sync.Mutex
	path string
	now  func() time.Time
}

func NewFileSlot(path string) *FileSlot {
	return &FileSlot{path: path, now: time.Now}
}

func (s *FileSlot) Save(token string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(slotEntry{Token: token, ExpiresAt: s.now().Add(ttl)})
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".session-*")
	if err != nil {
		return fmt.Errorf("create temp session: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write session: %w", err)
	}
	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod session: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close session: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace session: %w", err)
	}
	return nil
}

func (s *FileSlot) Get() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		return "", false
	}
	var e slotEntry
	if err := json.Unmarshal(data, &e); err != nil || !e.valid(s.now()) {
		_ = os.Remove(s.path)
		return "", false
	}
	return e.Token, true
}

func (s *FileSlot) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove session: %w", err)
	}
	return nil
}

func (s *FileSlot) Has() bool {
	_, ok := s.Get()
	return ok
}
