package gateway

import (
	"testing"
	"time"
)

func TestLimiterPool_EvictsIdleClients(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	p := newLimiterPool(1, 2)
	p.now = func() time.Time { return now }

	for i := 0; i < 50; i++ {
		p.allow(string(rune('a' + i%26)) + string(rune('0'+i/26)))
	}
	if got := p.len(); got != 50 {
		t.Fatalf("len() = %d, want 50", got)
	}

	now = now.Add(2 * time.Minute)
	if !p.allow("fresh") {
		t.Error("allow(fresh) = false, want true")
	}
	if got := p.len(); got != 1 {
		t.Errorf("len() after idle period = %d, want 1", got)
	}
}

func TestLimiterPool_KeepsActiveBucket(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	p := newLimiterPool(0.001, 2)
	p.now = func() time.Time { return now }

	if !p.allow("ip") || !p.allow("ip") {
		t.Fatal("burst of 2 should be allowed")
	}
	if p.allow("ip") {
		t.Error("third request allowed, want limited")
	}
	// Other clients arriving and sweeps running do not reset an active bucket.
	now = now.Add(30 * time.Second)
	p.allow("other")
	if p.allow("ip") {
		t.Error("request after 30s allowed, want limited")
	}
}
