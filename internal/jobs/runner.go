package jobs

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexconsult/consult-control-plane/internal/metrics"
)

const (
	JobMeterTick    = "meter_tick"
	JobPresenceSync = "presence_sync"
	JobRecordSweep  = "record_sweep"

	tickInterval  = time.Second
	sweepInterval = 5 * time.Minute
	// Finished controllers stay around this long so the rating can still
	// reach them.
	reapGrace = 15 * time.Minute
)

// Sessions is the set of open meters.
type Sessions interface {
	TickAll(context.Context) (int, error)
	SyncPresence(context.Context) (int, error)
	Reap(grace time.Duration) int
}

type Sweeper interface {
	SweepStale(ctx context.Context, olderThan time.Time) (int64, error)
}

type Options struct {
	// Presence enables polling of the video room for participant counts.
	Presence         bool
	PresenceInterval time.Duration
	RecordTTL        time.Duration
	Logger           zerolog.Logger
}

type Runner struct {
	sessions Sessions
	sweeper  Sweeper
	opts     Options
	log      zerolog.Logger
	now      func() time.Time
}

// NewRunner schedules only the jobs whose dependency is non-nil.
func NewRunner(sessions Sessions, sweeper Sweeper, opts Options) *Runner {
	if opts.PresenceInterval <= 0 {
		opts.PresenceInterval = 5 * time.Second
	}
	if opts.RecordTTL <= 0 {
		opts.RecordTTL = 24 * time.Hour
	}
	return &Runner{sessions: sessions, sweeper: sweeper, opts: opts, log: opts.Logger, now: time.Now}
}

func (r *Runner) Start(ctx context.Context) {
	if r.sessions != nil {
		go r.runEvery(ctx, JobMeterTick, tickInterval, r.tick)
		if r.opts.Presence {
			go r.runEvery(ctx, JobPresenceSync, r.opts.PresenceInterval, r.syncPresence)
		}
	}
	go r.runEvery(ctx, JobRecordSweep, sweepInterval, r.sweep)
}

func (r *Runner) tick(ctx context.Context) error {
	_, err := r.sessions.TickAll(ctx)
	return err
}

func (r *Runner) syncPresence(ctx context.Context) error {
	_, err := r.sessions.SyncPresence(ctx)
	return err
}

func (r *Runner) sweep(ctx context.Context) error {
	if r.sessions != nil {
		if n := r.sessions.Reap(reapGrace); n > 0 {
			r.log.Info().Int("controllers", n).Msg("reaped finished sessions")
		}
	}
	if r.sweeper == nil {
		return nil
	}
	n, err := r.sweeper.SweepStale(ctx, r.now().Add(-r.opts.RecordTTL))
	if err != nil {
		return err
	}
	if n > 0 {
		r.log.Info().Int64("records", n).Msg("swept stale timer records")
	}
	return nil
}

func (r *Runner) runEvery(ctx context.Context, name string, interval time.Duration, fn func(context.Context) error) {
	r.runOnce(ctx, name, fn)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.runOnce(ctx, name, fn)
		}
	}
}

func (r *Runner) runOnce(ctx context.Context, name string, fn func(context.Context) error) {
	start := time.Now()
	err := fn(ctx)
	dur := time.Since(start)
	if err != nil {
		r.log.Error().Str("job", name).Str("status", "error").Int64("duration_ms", dur.Milliseconds()).Err(err).Msg("job run")
		metrics.Default().ObserveJob(name, "error", dur)
		return
	}
	r.log.Debug().Str("job", name).Str("status", "ok").Int64("duration_ms", dur.Milliseconds()).Msg("job run")
	metrics.Default().ObserveJob(name, "ok", dur)
}
