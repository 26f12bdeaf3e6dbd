package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/lexconsult/consult-control-plane/internal/config"
	"github.com/lexconsult/consult-control-plane/internal/jobs"
	"github.com/lexconsult/consult-control-plane/internal/logging"
	"github.com/lexconsult/consult-control-plane/internal/store"
)

// consult-jobs sweeps stale timer records for deployments that run the sweep
// outside the API process.
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

	records, closeRecords, err := store.OpenRecords(ctx, store.OpenOptions{
		Backend:    cfg.StateBackend,
		RedisAddr:  cfg.RedisAddr,
		RedisDB:    cfg.RedisDB,
		SQLitePath: cfg.SQLitePath,
		RecordTTL:  cfg.RecordTTL,
		Postgres:   pool,
	})
	if err != nil {
		logger.Fatal().Err(err).Str("backend", cfg.StateBackend).Msg("open record store")
	}
	defer func() { _ = closeRecords() }()

	jobs.NewRunner(nil, records, jobs.Options{RecordTTL: cfg.RecordTTL, Logger: logger}).Start(ctx)

	logger.Info().Str("state_backend", cfg.StateBackend).Msg("consult-jobs worker started")
	<-ctx.Done()
	logger.Info().Msg("consult-jobs worker stopping")
}
