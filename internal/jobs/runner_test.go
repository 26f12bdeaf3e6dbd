package jobs

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexconsult/consult-control-plane/internal/metrics"
)

type mockSessions struct {
	mu        sync.Mutex
	ticks     int
	syncs     int
	reapGrace time.Duration
	tickFn    func(context.Context) (int, error)
}

func (m *mockSessions) TickAll(ctx context.Context) (int, error) {
	m.mu.Lock()
	m.ticks++
	m.mu.Unlock()
	if m.tickFn != nil {
		return m.tickFn(ctx)
	}
	return 1, nil
}

func (m *mockSessions) SyncPresence(context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.syncs++
	return 1, nil
}

func (m *mockSessions) Reap(grace time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reapGrace = grace
	return 0
}

func (m *mockSessions) counts() (int, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ticks, m.syncs
}

type mockSweeper struct {
	mu        sync.Mutex
	olderThan time.Time
	calls     int
	sweepFn   func(context.Context, time.Time) (int64, error)
}

func (m *mockSweeper) SweepStale(ctx context.Context, olderThan time.Time) (int64, error) {
	m.mu.Lock()
	m.calls++
	m.olderThan = olderThan
	m.mu.Unlock()
	if m.sweepFn != nil {
		return m.sweepFn(ctx, olderThan)
	}
	return 0, nil
}

func scrape(t *testing.T) string {
	t.Helper()
	rr := httptest.NewRecorder()
	metrics.Default().Handler().ServeHTTP(rr, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rr.Body)
	return string(body)
}

func TestRunOnce_RecordsStatus(t *testing.T) {
	metrics.ResetDefaultForTest()
	r := NewRunner(nil, nil, Options{Logger: zerolog.Nop()})

	r.runOnce(context.Background(), JobMeterTick, func(context.Context) error { return nil })
	r.runOnce(context.Background(), JobMeterTick, func(context.Context) error { return errors.New("persist failed") })

	out := scrape(t)
	if !strings.Contains(out, `consult_job_runs_total{job="meter_tick",status="ok"} 1`) {
		t.Fatalf("missing ok sample: %s", out)
	}
	if !strings.Contains(out, `consult_job_runs_total{job="meter_tick",status="error"} 1`) {
		t.Fatalf("missing error sample: %s", out)
	}
}

func TestSweep_UsesRecordTTL(t *testing.T) {
	now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	sessions := &mockSessions{}
	sweeper := &mockSweeper{}
	r := NewRunner(sessions, sweeper, Options{RecordTTL: 2 * time.Hour, Logger: zerolog.Nop()})
	r.now = func() time.Time { return now }

	if err := r.sweep(context.Background()); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if !sweeper.olderThan.Equal(now.Add(-2 * time.Hour)) {
		t.Fatalf("unexpected cutoff %v", sweeper.olderThan)
	}
	if sessions.reapGrace != reapGrace {
		t.Fatalf("expected reap grace %v, got %v", reapGrace, sessions.reapGrace)
	}
}

func TestSweep_PropagatesError(t *testing.T) {
	sweeper := &mockSweeper{sweepFn: func(context.Context, time.Time) (int64, error) {
		return 0, errors.New("db down")
	}}
	r := NewRunner(nil, sweeper, Options{Logger: zerolog.Nop()})
	if err := r.sweep(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestStart_SchedulesJobsAndStopsOnCancel(t *testing.T) {
	tests := []struct {
		name      string
		presence  bool
		wantSyncs bool
	}{
		{name: "fake widget", presence: false, wantSyncs: false},
		{name: "presence widget", presence: true, wantSyncs: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sessions := &mockSessions{}
			sweeper := &mockSweeper{}
			r := NewRunner(sessions, sweeper, Options{Presence: tt.presence, PresenceInterval: time.Hour, Logger: zerolog.Nop()})

			ctx, cancel := context.WithCancel(context.Background())
			r.Start(ctx)
			deadline := time.Now().Add(2 * time.Second)
			for time.Now().Before(deadline) {
				ticks, syncs := sessions.counts()
				if ticks >= 2 && (syncs > 0) == tt.wantSyncs {
					break
				}
				time.Sleep(10 * time.Millisecond)
			}
			cancel()

			ticks, syncs := sessions.counts()
			if ticks < 2 {
				t.Fatalf("expected repeated ticks, got %d", ticks)
			}
			if (syncs > 0) != tt.wantSyncs {
				t.Fatalf("presence sync ran=%v, want %v", syncs > 0, tt.wantSyncs)
			}
			sweeper.mu.Lock()
			calls := sweeper.calls
			sweeper.mu.Unlock()
			if calls != 1 {
				t.Fatalf("expected the sweep to run once on start, got %d", calls)
			}
		})
	}
}
