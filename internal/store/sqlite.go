package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/lexconsult/consult-control-plane/internal/model"
)

// SQLiteRecords keeps timer records in a local SQLite file.
type SQLiteRecords struct {
	db *sql.DB
}

func NewSQLiteRecords(dsn string) (*SQLiteRecords, error) {
	// Pooled connections to a plain :memory: database would each see an empty
	// database.
	if dsn == ":memory:" {
		dsn = "file::memory:?cache=shared"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	const schema = `CREATE TABLE IF NOT EXISTS timer_records (
		key TEXT PRIMARY KEY,
		payload TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	)`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &SQLiteRecords{db: db}, nil
}

func (s *SQLiteRecords) Close() error {
	return s.db.Close()
}

func (s *SQLiteRecords) Load(ctx context.Context, sessionID string) (model.SessionTimerState, bool, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM timer_records WHERE key = ?`, RecordKey(sessionID)).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return model.SessionTimerState{}, false, nil
	}
	if err != nil {
		return model.SessionTimerState{}, false, fmt.Errorf("sqlite load record: %w", err)
	}
	st, err := decodeState([]byte(raw))
	if err != nil {
		return model.SessionTimerState{}, false, err
	}
	return st, true, nil
}

func (s *SQLiteRecords) Save(ctx context.Context, sessionID string, st model.SessionTimerState) error {
	payload, err := encodeState(st)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO timer_records (key, payload, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at`,
		RecordKey(sessionID), string(payload), time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("sqlite save record: %w", err)
	}
	return nil
}

func (s *SQLiteRecords) Delete(ctx context.Context, sessionID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM timer_records WHERE key = ?`, RecordKey(sessionID)); err != nil {
		return fmt.Errorf("sqlite delete record: %w", err)
	}
	return nil
}

func (s *SQLiteRecords) SweepStale(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM timer_records WHERE updated_at < ?`, olderThan.Unix())
	if err != nil {
		return 0, fmt.Errorf("sqlite sweep records: %w", err)
	}
	return res.RowsAffected()
}
