package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/lexconsult/consult-control-plane/internal/model"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrCorruptRecord = errors.New("corrupt timer record")
)

// RecordStore persists SessionTimerState keyed by session id.
type RecordStore interface {
	Load(ctx context.Context, sessionID string) (model.SessionTimerState, bool, error)
	Save(ctx context.Context, sessionID string, st model.SessionTimerState) error
	Delete(ctx context.Context, sessionID string) error
	SweepStale(ctx context.Context, olderThan time.Time) (int64, error)
}

// RecordKey is the key a session's timer record is stored under.
func RecordKey(sessionID string) string {
	return "session_" + sessionID
}

func encodeState(st model.SessionTimerState) ([]byte, error) {
	return json.Marshal(st)
}

func decodeState(raw []byte) (model.SessionTimerState, error) {
	var st model.SessionTimerState
	if err := json.Unmarshal(raw, &st); err != nil {
		return model.SessionTimerState{}, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}
	if st.ElapsedSeconds < 0 {
		st.ElapsedSeconds = 0
	}
	return st, nil
}

type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

// Store is the Postgres-backed store: consultation lookup plus timer records.
type Store struct {
	db DB
}

func New(db DB) *Store {
	return &Store{db: db}
}

func (s *Store) GetConsultation(ctx context.Context, consultationID string) (*model.Consultation, error) {
	const q = `
select c.id, c.client_id, c.lawyer_id, c.room_url, c.rate_per_minute, coalesce(w.balance, 0), c.status, c.created_at
from consultations c
left join wallets w on w.user_id = c.client_id
where c.id = $1
limit 1`

	var out model.Consultation
	if err := s.db.QueryRow(ctx, q, consultationID).Scan(
		&out.ID, &out.ClientID, &out.LawyerID, &out.RoomURL, &out.RatePerMinute, &out.Balance, &out.Status, &out.CreatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &out, nil
}

func (s *Store) Load(ctx context.Context, sessionID string) (model.SessionTimerState, bool, error) {
	var raw []byte
	err := s.db.QueryRow(ctx, `select payload from timer_records where key = $1`, RecordKey(sessionID)).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.SessionTimerState{}, false, nil
		}
		return model.SessionTimerState{}, false, err
	}
	st, err := decodeState(raw)
	if err != nil {
		return model.SessionTimerState{}, false, err
	}
	return st, true, nil
}

func (s *Store) Save(ctx context.Context, sessionID string, st model.SessionTimerState) error {
	payload, err := encodeState(st)
	if err != nil {
		return err
	}
	const q = `
insert into timer_records (key, payload, updated_at)
values ($1, $2, now())
on conflict (key)
do update set payload = excluded.payload, updated_at = now()`
	_, err = s.db.Exec(ctx, q, RecordKey(sessionID), payload)
	return err
}

func (s *Store) Delete(ctx context.Context, sessionID string) error {
	_, err := s.db.Exec(ctx, `delete from timer_records where key = $1`, RecordKey(sessionID))
	return err
}

func (s *Store) SweepStale(ctx context.Context, olderThan time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, `delete from timer_records where updated_at < $1`, olderThan)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
