package telegram

import (
	"context"
	"sync"

	"github.com/gotd/td/session"
)

// memoryStorage is a session.Storage over a byte slice. Each connection gets
// its own instance, seeded from the caller's session data.
type memoryStorage struct {
	mu   sync.Mutex
	data []byte
}

func newMemoryStorage(data []byte) *memoryStorage {
	return &memoryStorage{data: append([]byte(nil), data...)}
}

func (s *memoryStorage) LoadSession(context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.data) == 0 {
		return nil, session.ErrNotFound
	}
	return append([]byte(nil), s.data...), nil
}

func (s *memoryStorage) StoreSession(_ context.Context, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = append([]byte(nil), data...)
	return nil
}

func (s *memoryStorage) Bytes() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.data...)
}
