package gateway

import (
	"context"
	"net"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/danhigham/tgpulse/internal/apperr"
	"github.com/danhigham/tgpulse/internal/sessionstore"
)

type ctxKey int

const (
	tokenKey ctxKey = iota
	recordKey
)

// requireSession rejects requests without a live session before any
// handler runs, so unauthenticated calls never reach Telegram.
func (s *Server) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := cookieValue(r, s.opts.CookieName)
		if token == "" {
			s.writeError(w, r, apperr.ErrUnauthorized)
			return
		}
		rec, err := s.machine.Resolve(r.Context(), token)
		if err != nil {
			if apperr.KindOf(err) == apperr.KindAuthorization {
				s.clearCookie(w, s.opts.CookieName)
			}
			s.writeError(w, r, err)
			return
		}
		ctx := context.WithValue(r.Context(), tokenKey, token)
		ctx = context.WithValue(ctx, recordKey, rec)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func sessionFrom(ctx context.Context) (string, sessionstore.Record) {
	token, _ := ctx.Value(tokenKey).(string)
	rec, _ := ctx.Value(recordKey).(sessionstore.Record)
	return token, rec
}

type limiterEntry struct {
	l        *rate.Limiter
	lastSeen time.Time
}

// limiterPool holds one token bucket per client. Entries idle long enough
// to have refilled completely are dropped, since a fresh bucket is
// equivalent.
type limiterPool struct {
	mu        sync.Mutex
	m         map[string]*limiterEntry
	rps       float64
	burst     int
	idle      time.Duration
	lastSweep time.Time
	now       func() time.Time
}

func newLimiterPool(rps float64, burst int) *limiterPool {
	if rps <= 0 {
		rps = 1
	}
	if burst <= 0 {
		burst = 5
	}
	idle := time.Duration(float64(burst) / rps * float64(time.Second))
	if idle < time.Minute {
		idle = time.Minute
	}
	return &limiterPool{
		m:     make(map[string]*limiterEntry),
		rps:   rps,
		burst: burst,
		idle:  idle,
		now:   time.Now,
	}
}

func (p *limiterPool) allow(key string) bool {
	p.mu.Lock()
	now := p.now()
	if now.Sub(p.lastSweep) >= p.idle {
		p.sweep(now)
	}
	e, ok := p.m[key]
	if !ok {
		e = &limiterEntry{l: rate.NewLimiter(rate.Limit(p.rps), p.burst)}
		p.m[key] = e
	}
	e.lastSeen = now
	p.mu.Unlock()
	return e.l.AllowN(now, 1)
}

// sweep must be called with mu held.
func (p *limiterPool) sweep(now time.Time) {
	cutoff := now.Add(-p.idle)
	for k, e := range p.m {
		if e.lastSeen.Before(cutoff) {
			delete(p.m, k)
		}
	}
	p.lastSweep = now
}

func (p *limiterPool) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.m)
}

var errRateLimited = apperr.New(apperr.KindValidation, "rate_limited", "Too many requests, slow down")

// rateLimit throttles login steps per client IP.
func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.allow(clientIP(r)) {
			s.logger.Info("rate limited", zap.String("ip", clientIP(r)), zap.String("path", r.URL.Path))
			w.Header().Set("Retry-After", "1")
			writeJSON(w, http.StatusTooManyRequests, errorBody{Error: errRateLimited.Msg})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// cors admits credentialed requests from the configured origins.
func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && originAllowed(origin, s.opts.CORSOrigins) {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Credentials", "true")
			h.Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Content-Type")
			h.Set("Access-Control-Max-Age", "600")
			h.Add("Vary", "Origin")
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func originAllowed(origin string, allowed []string) bool {
	return slices.ContainsFunc(allowed, func(a string) bool {
		return a == "*" || strings.EqualFold(a, origin)
	})
}
