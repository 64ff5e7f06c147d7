package sessionstore

import "time"

func (s *MemorySlot) SetClock(now func() time.Time) { s.now = now }

func (s *FileSlot) SetClock(now func() time.Time) { s.now = now }

func (r *Redis) SetClock(now func() time.Time) { r.now = now }
