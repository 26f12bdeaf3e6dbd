// Package meter implements the per-session billing timer.
//
// A Meter accrues one second per Tick while exactly two parties are present,
// prices the elapsed time through a billing.Policy, mirrors its state to a
// keyed record store and ends the call once the balance cap is reached.
package meter

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/lexconsult/consult-control-plane/internal/billing"
	"github.com/lexconsult/consult-control-plane/internal/metrics"
	"github.com/lexconsult/consult-control-plane/internal/model"
)

type Phase string

const (
	PhaseWaiting Phase = "waiting"
	PhaseLive    Phase = "live"
	PhaseEnded   Phase = "ended"
)

const liveThreshold = 2

// RecordStore persists SessionTimerState keyed by session id.
type RecordStore interface {
	Load(ctx context.Context, sessionID string) (model.SessionTimerState, bool, error)
	Save(ctx context.Context, sessionID string, st model.SessionTimerState) error
	Delete(ctx context.Context, sessionID string) error
}

// Leaver is the part of the video room the meter may drive.
type Leaver interface {
	Leave(ctx context.Context) error
}

// Sink receives display refreshes and one-shot notifications.
type Sink interface {
	Display(model.Display)
	Notify(model.Notification)
}

type Config struct {
	SessionID string
	Role      model.Role
	Policy    billing.Policy
	Balance   float64
	Currency  string
}

type Deps struct {
	Records RecordStore
	Call    Leaver
	Sink    Sink
	Logger  zerolog.Logger
}

type Meter struct {
	cfg     Config
	records RecordStore
	call    Leaver
	sink    Sink
	log     zerolog.Logger

	mu       sync.Mutex
	state    model.SessionTimerState
	phase    Phase
	restored bool
}

func New(cfg Config, deps Deps) *Meter {
	if cfg.Currency == "" {
		cfg.Currency = billing.DefaultCurrency
	}
	if cfg.Role == "" {
		cfg.Role = model.RoleClient
	}
	sink := deps.Sink
	if sink == nil {
		sink = NopSink{}
	}
	return &Meter{
		cfg:     cfg,
		records: deps.Records,
		call:    deps.Call,
		sink:    sink,
		log:     deps.Logger.With().Str("session_id", cfg.SessionID).Str("role", string(cfg.Role)).Logger(),
		phase:   PhaseWaiting,
	}
}

// Restore builds a meter from the persisted record when one exists. The
// restored meter is always inactive until a participant count re-activates it.
func Restore(ctx context.Context, cfg Config, deps Deps) (*Meter, error) {
	m := New(cfg, deps)
	if m.records == nil {
		return m, nil
	}
	st, ok, err := m.records.Load(ctx, cfg.SessionID)
	if err != nil {
		return nil, fmt.Errorf("restore session %s: %w", cfg.SessionID, err)
	}
	if ok {
		st.IsActive = false
		m.state = st
		m.restored = true
		m.log.Info().Int("elapsed_seconds", st.ElapsedSeconds).Msg("restored timer record")
	}
	return m, nil
}

func (m *Meter) billable() bool {
	return m.cfg.Role == model.RoleClient
}

// Tick advances the meter by one second when live and refreshes the display.
func (m *Meter) Tick(ctx context.Context) (model.Display, error) {
	m.mu.Lock()
	if !m.state.IsActive || m.phase == PhaseEnded {
		d := m.displayLocked()
		m.mu.Unlock()
		metrics.Default().IncTick(string(m.cfg.Role), false)
		m.sink.Display(d)
		return d, nil
	}

	m.state.ElapsedSeconds++
	var (
		notes     []model.Notification
		terminate bool
		saveErr   error
	)
	if m.billable() {
		notes, terminate = m.evaluateLocked()
		if terminate {
			m.phase = PhaseEnded
		}
		saveErr = m.persistLocked(ctx)
	}
	d := m.displayLocked()
	m.mu.Unlock()

	metrics.Default().IncTick(string(m.cfg.Role), true)
	for _, n := range notes {
		m.emit(n)
	}
	if terminate {
		metrics.Default().IncTermination("balance_exhausted")
		m.log.Warn().Float64("cost", d.CostValue).Float64("balance", m.cfg.Balance).Msg("balance exhausted, leaving call")
		if m.call != nil {
			if err := m.call.Leave(ctx); err != nil {
				m.log.Error().Err(err).Msg("leave after balance exhaustion failed")
			}
		}
	}
	m.sink.Display(d)
	if saveErr != nil {
		return d, saveErr
	}
	return d, nil
}

// evaluateLocked applies the billing policy to the current elapsed time.
func (m *Meter) evaluateLocked() ([]model.Notification, bool) {
	p := m.cfg.Policy
	elapsed := m.state.ElapsedSeconds
	if p.InTrial(elapsed) && p.Mode != model.PricingFixedFee {
		return nil, false
	}

	var notes []model.Notification
	if !p.InTrial(elapsed) && !m.state.BillingStarted {
		m.state.BillingStarted = true
		notes = append(notes, m.note(model.NotifyBillingStarted, "Free period over. Billing Started.", false))
	}

	cost := p.Cost(elapsed)
	remaining := m.cfg.Balance - cost
	if p.LowBalance(remaining) && !m.state.WarningIssued {
		m.state.WarningIssued = true
		notes = append(notes, m.note(model.NotifyLowBalance, "Low Balance Warning", false))
	}

	if cost >= m.cfg.Balance {
		notes = append(notes, m.note(model.NotifyBalanceExhausted, "Balance Exhausted. Ending Call.", true))
		return notes, true
	}
	return notes, false
}

// SetParticipants recomputes the live gate from the current participant count.
// Time spent waiting is never backfilled.
func (m *Meter) SetParticipants(count int) model.Display {
	m.mu.Lock()
	if m.phase == PhaseEnded {
		d := m.displayLocked()
		m.mu.Unlock()
		return d
	}
	wasActive := m.state.IsActive
	m.state.IsActive = count >= liveThreshold
	if m.state.IsActive {
		m.phase = PhaseLive
	} else {
		m.phase = PhaseWaiting
	}
	d := m.displayLocked()
	changed := wasActive != m.state.IsActive
	m.mu.Unlock()

	if changed {
		m.log.Info().Int("participants", count).Str("phase", string(m.Phase())).Msg("participant gate changed")
		m.emit(m.note(model.NotifyStatus, d.Status, false))
	}
	m.sink.Display(d)
	return d
}

// End stops the meter; later ticks and participant changes are no-ops.
func (m *Meter) End() {
	m.mu.Lock()
	m.phase = PhaseEnded
	m.state.IsActive = false
	m.mu.Unlock()
}

func (m *Meter) Persist(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.persistLocked(ctx)
}

func (m *Meter) persistLocked(ctx context.Context) error {
	if m.records == nil || !m.billable() {
		return nil
	}
	if err := m.records.Save(ctx, m.cfg.SessionID, m.state); err != nil {
		return fmt.Errorf("persist session %s: %w", m.cfg.SessionID, err)
	}
	return nil
}

// Reset deletes the persisted record. The lawyer view only reads the record.
func (m *Meter) Reset(ctx context.Context) error {
	if m.records == nil || !m.billable() {
		return nil
	}
	if err := m.records.Delete(ctx, m.cfg.SessionID); err != nil {
		return fmt.Errorf("reset session %s: %w", m.cfg.SessionID, err)
	}
	return nil
}

func (m *Meter) Cost() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.costLocked()
}

func (m *Meter) costLocked() float64 {
	if !m.billable() {
		return 0
	}
	return m.cfg.Policy.Cost(m.state.ElapsedSeconds)
}

func (m *Meter) State() model.SessionTimerState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Meter) Phase() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase
}

func (m *Meter) Restored() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.restored
}

func (m *Meter) Config() Config {
	return m.cfg
}

func (m *Meter) Snapshot() model.Display {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.displayLocked()
}

func (m *Meter) displayLocked() model.Display {
	d := model.Display{
		SessionID:      m.cfg.SessionID,
		Role:           m.cfg.Role,
		Clock:          billing.FormatClock(m.state.ElapsedSeconds),
		ElapsedSeconds: m.state.ElapsedSeconds,
		Status:         m.statusLocked(),
		Live:           m.state.IsActive && m.phase == PhaseLive,
		Terminated:     m.phase == PhaseEnded,
	}
	if m.billable() {
		d.CostValue = m.costLocked()
		d.Cost = billing.FormatAmount(m.cfg.Currency, d.CostValue)
		d.Rate = billing.FormatAmount(m.cfg.Currency, m.cfg.Policy.RatePerMinute)
	}
	return d
}

func (m *Meter) statusLocked() string {
	switch {
	case m.phase == PhaseEnded:
		return "Session Ended"
	case !m.state.IsActive:
		return WaitingLabel(m.cfg.Role)
	case m.billable() && m.cfg.Policy.InTrial(m.state.ElapsedSeconds):
		return m.cfg.Policy.TrialLabel()
	default:
		return "Live"
	}
}

// WaitingLabel names the party each role is waiting for.
func WaitingLabel(role model.Role) string {
	if role == model.RoleLawyer {
		return "Waiting for Client..."
	}
	return "Waiting for Expert..."
}

func (m *Meter) note(kind model.NotificationKind, msg string, terminal bool) model.Notification {
	return model.Notification{SessionID: m.cfg.SessionID, Kind: kind, Message: msg, Terminal: terminal}
}

func (m *Meter) emit(n model.Notification) {
	metrics.Default().IncNotification(string(n.Kind))
	m.sink.Notify(n)
}

type NopSink struct{}

func (NopSink) Display(model.Display) {}
func (NopSink) Notify(model.Notification) {}
