package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/lexconsult/consult-control-plane/internal/store"
)

func newRecordCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "record",
		Short: "Inspect or clear persisted timer records",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "get <session-id>",
		Short: "Print the timer record for a session",
		Args:  cobra.ExactArgs(1),
		RunE:  runRecordGet,
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "delete <session-id>",
		Short: "Delete the timer record for a session",
		Args:  cobra.ExactArgs(1),
		RunE:  runRecordDelete,
	})
	return cmd
}

// openRecords is replaced in tests.
var openRecords = func(ctx context.Context, cmd *cobra.Command) (store.RecordStore, func() error, error) {
	backend, _ := cmd.Flags().GetString("backend")
	redisAddr, _ := cmd.Flags().GetString("redis-addr")
	sqlitePath, _ := cmd.Flags().GetString("sqlite-path")
	databaseURL, _ := cmd.Flags().GetString("database-url")

	opts := store.OpenOptions{Backend: backend, RedisAddr: redisAddr, SQLitePath: sqlitePath}
	var pool *pgxpool.Pool
	if backend == "postgres" {
		if databaseURL == "" {
			return nil, nil, fmt.Errorf("--database-url is required for the postgres backend")
		}
		p, err := pgxpool.New(ctx, databaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("connect db: %w", err)
		}
		pool = p
		opts.Postgres = p
	}
	rs, closeFn, err := store.OpenRecords(ctx, opts)
	if err != nil {
		if pool != nil {
			pool.Close()
		}
		return nil, nil, err
	}
	return rs, func() error {
		err := closeFn()
		if pool != nil {
			pool.Close()
		}
		return err
	}, nil
}

func runRecordGet(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	rs, closeFn, err := openRecords(ctx, cmd)
	if err != nil {
		return err
	}
	defer func() { _ = closeFn() }()

	st, ok, err := rs.Load(ctx, args[0])
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("no record under %s", store.RecordKey(args[0]))
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(st)
}

func runRecordDelete(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	rs, closeFn, err := openRecords(ctx, cmd)
	if err != nil {
		return err
	}
	defer func() { _ = closeFn() }()

	if err := rs.Delete(ctx, args[0]); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", store.RecordKey(args[0]))
	return nil
}
