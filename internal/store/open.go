package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type OpenOptions struct {
	// Backend is one of redis, sqlite or postgres.
	Backend    string
	RedisAddr  string
	RedisDB    int
	SQLitePath string
	RecordTTL  time.Duration
	// Postgres backs the postgres backend; it is not closed by the returned
	// close func.
	Postgres DB
}

// OpenRecords builds the timer record store for the configured backend. The
// returned close func releases what OpenRecords opened.
func OpenRecords(ctx context.Context, opts OpenOptions) (RecordStore, func() error, error) {
	nop := func() error { return nil }
	switch opts.Backend {
	case "redis":
		rdb := redis.NewClient(&redis.Options{Addr: opts.RedisAddr, DB: opts.RedisDB})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, nil, fmt.Errorf("ping redis: %w", err)
		}
		return NewRedisRecords(rdb, opts.RecordTTL), rdb.Close, nil
	case "sqlite":
		s, err := NewSQLiteRecords(opts.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	case "postgres":
		if opts.Postgres == nil {
			return nil, nil, fmt.Errorf("postgres record backend needs a database handle")
		}
		return New(opts.Postgres), nop, nil
	default:
		return nil, nil, fmt.Errorf("unknown record backend %q", opts.Backend)
	}
}
