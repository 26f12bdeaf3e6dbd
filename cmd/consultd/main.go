package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/lexconsult/consult-control-plane/internal/api"
	"github.com/lexconsult/consult-control-plane/internal/backend"
	"github.com/lexconsult/consult-control-plane/internal/call"
	"github.com/lexconsult/consult-control-plane/internal/config"
	"github.com/lexconsult/consult-control-plane/internal/consult"
	"github.com/lexconsult/consult-control-plane/internal/eventbus"
	"github.com/lexconsult/consult-control-plane/internal/jobs"
	"github.com/lexconsult/consult-control-plane/internal/logging"
	"github.com/lexconsult/consult-control-plane/internal/model"
	"github.com/lexconsult/consult-control-plane/internal/store"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadFromEnv()
	if err != nil {
		l := logging.New("info")
		l.Fatal().Err(err).Msg("load config")
	}
	logger := logging.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect db")
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		logger.Fatal().Err(err).Msg("ping db")
	}

	st := store.New(pool)
	records, closeRecords, err := store.OpenRecords(ctx, recordOptions(cfg, pool))
	if err != nil {
		logger.Fatal().Err(err).Str("backend", cfg.StateBackend).Msg("open record store")
	}
	defer func() { _ = closeRecords() }()

	provider, err := buildProvider(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("init video widget")
	}
	be, err := buildBackend(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("init backend client")
	}

	bus := eventbus.New()
	defer bus.Close()
	sessions := consult.NewManager(consult.ManagerConfig{
		Mode:           cfg.PricingMode,
		FixedFee:       cfg.FixedFee,
		Currency:       cfg.Currency,
		PaymentTimeout: cfg.PaymentTimeout,
	}, consult.ManagerDeps{
		Provider: provider,
		Records:  records,
		Backend:  be,
		Sinks: func(sessionID string, role model.Role) consult.Sink {
			return bus.Sink(sessionID, role)
		},
		Logger: logger,
	})

	jobs.NewRunner(sessions, records, jobs.Options{
		Presence:         provider.Presence(),
		PresenceInterval: cfg.PresenceInterval,
		RecordTTL:        cfg.RecordTTL,
		Logger:           logger,
	}).Start(ctx)

	handler := api.NewRouter(cfg, st, sessions, bus, logger)

	srv := &http.Server{
		Addr:        cfg.ListenAddr,
		Handler:     handler,
		ReadTimeout: 30 * time.Second,
		// The end-of-call handler waits on the payment report; event
		// streams set their own write deadlines.
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info().
		Str("addr", cfg.ListenAddr).
		Str("state_backend", cfg.StateBackend).
		Str("widget", provider.Name()).
		Str("pricing_mode", string(cfg.PricingMode)).
		Msg("consult-control-plane listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("http server")
		os.Exit(1)
	}
}

func recordOptions(cfg config.Config, pool store.DB) store.OpenOptions {
	return store.OpenOptions{
		Backend:    cfg.StateBackend,
		RedisAddr:  cfg.RedisAddr,
		RedisDB:    cfg.RedisDB,
		SQLitePath: cfg.SQLitePath,
		RecordTTL:  cfg.RecordTTL,
		Postgres:   pool,
	}
}

func buildProvider(cfg config.Config, logger zerolog.Logger) (call.Provider, error) {
	switch cfg.WidgetProvider {
	case config.WidgetDaily:
		p, err := call.NewDailyProvider(call.DailyOptions{
			APIKey:  cfg.DailyAPIKey,
			BaseURL: cfg.DailyBaseURL,
			Logger:  logger,
		})
		if err != nil {
			return nil, err
		}
		return p, nil
	default:
		return call.NewFakeProvider(), nil
	}
}

// buildBackend returns nil when no backend is configured; every paid call
// then ends on the local fallback.
func buildBackend(cfg config.Config) (consult.Backend, error) {
	if cfg.BackendURL == "" {
		return nil, nil
	}
	c, err := backend.New(backend.Config{
		BaseURL:   cfg.BackendURL,
		CSRFToken: cfg.CSRFToken,
		Timeout:   cfg.PaymentTimeout,
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}
