// Package gateway exposes the login flow and activity snapshots over HTTP.
//
// Sessions travel in one httpOnly cookie only. Guarded routes check it
// locally before any call to Telegram, and a rejected session clears the
// cookie so the client restarts the login flow.
package gateway

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/danhigham/tgpulse/internal/activity"
	"github.com/danhigham/tgpulse/internal/auth"
)

type Options struct {
	CookieName      string
	LoginCookieName string
	SecureCookies   bool
	CORSOrigins     []string
	RateRPS         float64
	RateBurst       int
	// TrustProxy takes the client IP from X-Forwarded-For / X-Real-IP.
	// Enable only behind a proxy that sets those headers.
	TrustProxy bool
	// APIConfigured is reported by /healthz.
	APIConfigured bool
	// RequestTimeout bounds each guarded or login request.
	RequestTimeout time.Duration
}

type Server struct {
	machine    *auth.Machine
	aggregator *activity.Aggregator
	opts       Options
	logger     *zap.Logger
	metrics    *metrics
	limiter    *limiterPool
}

func New(machine *auth.Machine, aggregator *activity.Aggregator, opts Options, logger *zap.Logger) *Server {
	if opts.CookieName == "" {
		opts.CookieName = "tg_session"
	}
	if opts.LoginCookieName == "" {
		opts.LoginCookieName = "tg_login"
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 60 * time.Second
	}
	return &Server{
		machine:    machine,
		aggregator: aggregator,
		opts:       opts,
		logger:     logger,
		metrics:    newMetrics(),
		limiter:    newLimiterPool(opts.RateRPS, opts.RateBurst),
	}
}

// Handler returns the full route tree wrapped in tracing.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	if s.opts.TrustProxy {
		r.Use(middleware.RealIP)
	}
	r.Use(middleware.Recoverer)
	r.Use(s.metrics.instrument)
	r.Use(s.cors)

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", s.metrics.handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Timeout(s.opts.RequestTimeout))

		r.Route("/auth", func(r chi.Router) {
			r.Use(s.rateLimit)
			r.Post("/send-code", s.handleSendCode)
			r.Post("/verify-code", s.handleVerifyCode)
			r.Post("/sign-in-password", s.handleSignInPassword)
		})

		r.Post("/logout", s.handleLogout)

		r.Group(func(r chi.Router) {
			r.Use(s.requireSession)
			r.Get("/activity", s.handleActivity)
			r.Get("/stats", s.handleActivity)
			r.Get("/status", s.handleStatus)
		})
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "Not found"})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, errorBody{Error: "Method not allowed"})
	})

	return otelhttp.NewHandler(r, "tgpulse.gateway",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)
}
