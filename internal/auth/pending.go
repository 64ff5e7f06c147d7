package auth

import (
	"sync"
	"time"

	"github.com/danhigham/tgpulse/internal/domain"
)

// pendingLogins holds in-flight logins in process memory only. Entries are
// never persisted and vanish on restart.
type pendingLogins struct {
	mu      sync.Mutex
	entries map[string]domain.PendingLogin
	now     func() time.Time
}

func newPendingLogins(now func() time.Time) *pendingLogins {
	return &pendingLogins{
		entries: make(map[string]domain.PendingLogin),
		now:     now,
	}
}

func (p *pendingLogins) put(pl domain.PendingLogin) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pl.AuthData = append([]byte(nil), pl.AuthData...)
	p.entries[pl.ID] = pl
}

func (p *pendingLogins) get(id string) (domain.PendingLogin, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pl, ok := p.entries[id]
	if !ok {
		return domain.PendingLogin{}, false
	}
	if !p.now().Before(pl.ExpiresAt) {
		delete(p.entries, id)
		return domain.PendingLogin{}, false
	}
	pl.AuthData = append([]byte(nil), pl.AuthData...)
	return pl, true
}

// byHash finds the live login that requested phoneCodeHash for phone.
func (p *pendingLogins) byHash(phone, hash string) (domain.PendingLogin, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.now()
	for _, pl := range p.entries {
		if pl.PhoneCodeHash == hash && pl.PhoneNumber == phone && now.Before(pl.ExpiresAt) {
			pl.AuthData = append([]byte(nil), pl.AuthData...)
			return pl, true
		}
	}
	return domain.PendingLogin{}, false
}

func (p *pendingLogins) delete(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.entries, id)
}

func (p *pendingLogins) sweep() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.now()
	n := 0
	for id, pl := range p.entries {
		if !now.Before(pl.ExpiresAt) {
			delete(p.entries, id)
			n++
		}
	}
	return n
}

func (p *pendingLogins) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}
