package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/danhigham/tgpulse/internal/activity"
	"github.com/danhigham/tgpulse/internal/auth"
	"github.com/danhigham/tgpulse/internal/config"
	"github.com/danhigham/tgpulse/internal/gateway"
	"github.com/danhigham/tgpulse/internal/sessionstore"
	"github.com/danhigham/tgpulse/internal/telegram"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP gateway",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		logger, err := newLogger(cfg)
		if err != nil {
			return err
		}
		defer logger.Sync()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(ctx, cfg, logger)
	},
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	logCfg := zap.NewDevelopmentConfig()
	if cfg.Server.Production() {
		logCfg = zap.NewProductionConfig()
	}
	level, err := zap.ParseAtomicLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("parse log level: %w", err)
	}
	logCfg.Level = level
	if cfg.LogFile != "" {
		logCfg.OutputPaths = []string{cfg.LogFile}
		logCfg.ErrorOutputPaths = []string{cfg.LogFile}
	}
	logger, err := logCfg.Build()
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}
	return logger, nil
}

func initTracing(ctx context.Context, cfg *config.Config) (func(context.Context) error, error) {
	exp, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(cfg.Tracing.Endpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("otel exporter: %w", err)
	}
	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		attribute.String("service.name", cfg.Tracing.ServiceName),
		attribute.String("deployment.environment", cfg.Server.Env),
	))
	if err != nil {
		return nil, fmt.Errorf("otel resource: %w", err)
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.AlwaysSample())),
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
	return tp.Shutdown, nil
}

func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (sessionstore.Store, func(), error) {
	if cfg.Session.Store == "redis" {
		r, err := sessionstore.OpenRedis(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("session store", zap.String("backend", "redis"), zap.String("addr", cfg.Redis.Addr))
		return r, func() { _ = r.Close() }, nil
	}

	m := sessionstore.NewMemory()
	sweepCtx, cancel := context.WithCancel(ctx)
	go func() {
		t := time.NewTicker(time.Minute)
		defer t.Stop()
		for {
			select {
			case <-sweepCtx.Done():
				return
			case <-t.C:
				if n := m.Sweep(); n > 0 {
					logger.Debug("swept sessions", zap.Int("count", n))
				}
			}
		}
	}()
	logger.Info("session store", zap.String("backend", "memory"))
	return m, cancel, nil
}

func serve(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	if cfg.Tracing.Endpoint != "" {
		shutdown, err := initTracing(ctx, cfg)
		if err != nil {
			return err
		}
		defer func() {
			c, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdown(c)
		}()
	}

	if !cfg.APIConfigured() {
		logger.Warn("telegram api credentials missing, login endpoints will fail",
			zap.String("hint", "set TELEGRAM_API_ID and TELEGRAM_API_HASH"))
	}

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	dialer := telegram.NewGotdDialer(cfg.Telegram.APIID, cfg.Telegram.APIHash, telegram.GotdOptions{
		MaxRetries:    cfg.Telegram.MaxRetries,
		RetryInterval: cfg.Telegram.RetryInterval,
		DialTimeout:   cfg.Telegram.DialTimeout,
		Markdown:      cfg.Activity.Markdown,
	}, logger)

	machine := auth.NewMachine(dialer, store, auth.NewTokens([]byte(cfg.Session.TokenSecret)), auth.Options{
		SessionTTL:   cfg.Session.TTL,
		PendingTTL:   cfg.Session.PendingTTL,
		RemoteLogout: cfg.Session.RemoteLogout,
	}, logger.Named("auth"))
	go machine.Sweep(ctx, time.Minute)

	aggregator := activity.NewAggregator(dialer, activity.Limits{
		Conversations: cfg.Activity.Conversations,
		Detailed:      cfg.Activity.Detailed,
		Messages:      cfg.Activity.Messages,
	}, logger.Named("activity"))

	gw := gateway.New(machine, aggregator, gateway.Options{
		CookieName:     cfg.Session.CookieName,
		SecureCookies:  cfg.Server.Production(),
		CORSOrigins:    cfg.Server.CORSOrigins,
		RateRPS:        cfg.RateLimit.RPS,
		RateBurst:      cfg.RateLimit.Burst,
		APIConfigured:  cfg.APIConfigured(),
		RequestTimeout: cfg.Server.RequestTimeout(),
		TrustProxy:     cfg.Server.TrustProxy,
	}, logger.Named("gateway"))

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           gw.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       90 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("gateway listening", zap.String("addr", cfg.Server.Addr), zap.String("env", cfg.Server.Env))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("listen: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
