package sessionstore

import (
	"context"
	"sync"
	"time"
)

// Memory is an in-process Store. Expired records are dropped lazily on Get
// and in bulk by Sweep.
type Memory struct {
	mu      sync.RWMutex
	records map[string]Record
	now     func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		records: make(map[string]Record),
		now:     time.Now,
	}
}

// SetClock replaces the time source. Tests only.
func (m *Memory) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

func (m *Memory) Put(_ context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec.Data = append([]byte(nil), rec.Data...)
	m.records[rec.ID] = rec
	return nil
}

func (m *Memory) Get(_ context.Context, id string) (Record, error) {
	m.mu.RLock()
	rec, ok := m.records[id]
	now := m.now()
	m.mu.RUnlock()

	if !ok {
		return Record{}, ErrNotFound
	}
	if !now.Before(rec.ExpiresAt) {
		m.mu.Lock()
		if cur, ok := m.records[id]; ok && !m.now().Before(cur.ExpiresAt) {
			delete(m.records, id)
		}
		m.mu.Unlock()
		return Record{}, ErrNotFound
	}
	rec.Data = append([]byte(nil), rec.Data...)
	return rec, nil
}

func (m *Memory) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, id)
	return nil
}

// Sweep removes every expired record and returns how many were dropped.
func (m *Memory) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	n := 0
	for id, rec := range m.records {
		if !now.Before(rec.ExpiresAt) {
			delete(m.records, id)
			n++
		}
	}
	return n
}

func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}
