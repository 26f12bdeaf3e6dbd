package store

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	pgxmock "github.com/pashagolub/pgxmock/v3"

	"github.com/lexconsult/consult-control-plane/internal/model"
)

func TestGetConsultation_JoinsClientWallet(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock pool: %v", err)
	}
	defer mock.Close()

	createdAt := time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)
	cols := []string{"id", "client_id", "lawyer_id", "room_url", "rate_per_minute", "balance", "status", "created_at"}
	mock.ExpectQuery(regexp.QuoteMeta("select c.id, c.client_id, c.lawyer_id, c.room_url")).
		WithArgs("cons_1").
		WillReturnRows(pgxmock.NewRows(cols).AddRow(
			"cons_1", "usr_client", "usr_lawyer", "https://lex.daily.co/cons-1", 10.0, 100.0, "accepted", createdAt,
		))

	s := New(mock)
	out, err := s.GetConsultation(context.Background(), "cons_1")
	if err != nil {
		t.Fatalf("GetConsultation returned err: %v", err)
	}
	if out.Status != model.ConsultationAccepted {
		t.Fatalf("expected accepted status, got %s", out.Status)
	}
	if out.RatePerMinute != 10 || out.Balance != 100 {
		t.Fatalf("unexpected pricing inputs: %+v", out)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestGetConsultation_MissingReturnsNotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock pool: %v", err)
	}
	defer mock.Close()

	mock.ExpectQuery(regexp.QuoteMeta("select c.id")).
		WithArgs("cons_missing").
		WillReturnRows(pgxmock.NewRows([]string{"id"}))

	s := New(mock)
	if _, err := s.GetConsultation(context.Background(), "cons_missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestLoad_DecodesPayloadUnderSessionKey(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock pool: %v", err)
	}
	defer mock.Close()

	mock.ExpectQuery(regexp.QuoteMeta("select payload from timer_records where key = $1")).
		WithArgs("session_42").
		WillReturnRows(pgxmock.NewRows([]string{"payload"}).AddRow(
			[]byte(`{"elapsedSeconds":130,"billingStarted":true,"warningIssued":false,"isActive":true}`),
		))

	s := New(mock)
	st, ok, err := s.Load(context.Background(), "42")
	if err != nil || !ok {
		t.Fatalf("Load returned ok=%v err=%v", ok, err)
	}
	if st.ElapsedSeconds != 130 || !st.BillingStarted {
		t.Fatalf("unexpected state: %+v", st)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestLoad_MissingRecord(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock pool: %v", err)
	}
	defer mock.Close()

	mock.ExpectQuery(regexp.QuoteMeta("select payload from timer_records")).
		WithArgs("session_7").
		WillReturnRows(pgxmock.NewRows([]string{"payload"}))

	s := New(mock)
	_, ok, err := s.Load(context.Background(), "7")
	if err != nil {
		t.Fatalf("Load returned err: %v", err)
	}
	if ok {
		t.Fatal("expected no record")
	}
}

func TestLoad_CorruptPayload(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock pool: %v", err)
	}
	defer mock.Close()

	mock.ExpectQuery(regexp.QuoteMeta("select payload from timer_records")).
		WithArgs("session_9").
		WillReturnRows(pgxmock.NewRows([]string{"payload"}).AddRow([]byte(`{not json`)))

	s := New(mock)
	if _, _, err := s.Load(context.Background(), "9"); !errors.Is(err, ErrCorruptRecord) {
		t.Fatalf("expected ErrCorruptRecord, got %v", err)
	}
}

func TestSaveDeleteSweep(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock pool: %v", err)
	}
	defer mock.Close()

	cutoff := time.Now().Add(-24 * time.Hour)
	mock.ExpectExec(regexp.QuoteMeta("insert into timer_records")).
		WithArgs("session_42", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(regexp.QuoteMeta("delete from timer_records where key = $1")).
		WithArgs("session_42").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectExec(regexp.QuoteMeta("delete from timer_records where updated_at < $1")).
		WithArgs(cutoff).
		WillReturnResult(pgxmock.NewResult("DELETE", 3))

	s := New(mock)
	if err := s.Save(context.Background(), "42", model.SessionTimerState{ElapsedSeconds: 5}); err != nil {
		t.Fatalf("Save returned err: %v", err)
	}
	if err := s.Delete(context.Background(), "42"); err != nil {
		t.Fatalf("Delete returned err: %v", err)
	}
	n, err := s.SweepStale(context.Background(), cutoff)
	if err != nil {
		t.Fatalf("SweepStale returned err: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 swept rows, got %d", n)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
