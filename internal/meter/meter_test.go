package meter

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexconsult/consult-control-plane/internal/billing"
	"github.com/lexconsult/consult-control-plane/internal/model"
)

type memRecords struct {
	mu      sync.Mutex
	records map[string]model.SessionTimerState
	saves   int
	saveErr error
}

func newMemRecords() *memRecords {
	return &memRecords{records: make(map[string]model.SessionTimerState)}
}

func (r *memRecords) Load(_ context.Context, id string) (model.SessionTimerState, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.records[id]
	return st, ok, nil
}

func (r *memRecords) Save(_ context.Context, id string, st model.SessionTimerState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.saveErr != nil {
		return r.saveErr
	}
	r.saves++
	r.records[id] = st
	return nil
}

func (r *memRecords) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.records, id)
	return nil
}

type countingLeaver struct {
	calls int
}

func (l *countingLeaver) Leave(context.Context) error {
	l.calls++
	return nil
}

type recordingSink struct {
	displays []model.Display
	notes    []model.Notification
}

func (s *recordingSink) Display(d model.Display) { s.displays = append(s.displays, d) }
func (s *recordingSink) Notify(n model.Notification) { s.notes = append(s.notes, n) }

func (s *recordingSink) count(kind model.NotificationKind) int {
	n := 0
	for _, note := range s.notes {
		if note.Kind == kind {
			n++
		}
	}
	return n
}

type harness struct {
	meter   *Meter
	records *memRecords
	call    *countingLeaver
	sink    *recordingSink
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	h := &harness{records: newMemRecords(), call: &countingLeaver{}, sink: &recordingSink{}}
	h.meter = New(cfg, Deps{Records: h.records, Call: h.call, Sink: h.sink, Logger: zerolog.Nop()})
	return h
}

func clientConfig(mode model.PricingMode, rate, fee, balance float64) Config {
	return Config{
		SessionID: "42",
		Role:      model.RoleClient,
		Policy:    billing.NewPolicy(mode, rate, fee),
		Balance:   balance,
	}
}

func tickN(t *testing.T, m *Meter, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, err := m.Tick(context.Background())
		require.NoError(t, err)
	}
}

func TestTick_InactiveDoesNotAccrue(t *testing.T) {
	h := newHarness(t, clientConfig(model.PricingFlat, 10, 0, 100))
	tickN(t, h.meter, 5)

	assert.Zero(t, h.meter.State().ElapsedSeconds)
	assert.Zero(t, h.records.saves)
	require.Len(t, h.sink.displays, 5)
	assert.Equal(t, "Waiting for Expert...", h.sink.displays[4].Status)
}

func TestTick_FlatRateScenario(t *testing.T) {
	h := newHarness(t, clientConfig(model.PricingFlat, 10, 0, 100))
	h.meter.SetParticipants(2)
	tickN(t, h.meter, 130)

	assert.Equal(t, 130, h.meter.State().ElapsedSeconds)
	assert.Equal(t, 1.67, h.meter.Cost())
	d := h.meter.Snapshot()
	assert.Equal(t, "02:10", d.Clock)
	assert.Equal(t, "₹1.67", d.Cost)
	assert.Equal(t, "Live", d.Status)
	assert.Equal(t, 130, h.records.saves)
	assert.Equal(t, 130, h.records.records["42"].ElapsedSeconds)
}

func TestTick_FixedFeeScenario(t *testing.T) {
	h := newHarness(t, clientConfig(model.PricingFixedFee, 10, 20, 100))
	h.meter.SetParticipants(2)
	tickN(t, h.meter, 1)
	assert.Equal(t, "Base Charge Active", h.meter.Snapshot().Status)
	assert.Equal(t, 20.0, h.meter.Cost())

	tickN(t, h.meter, 129)
	assert.Equal(t, 21.67, h.meter.Cost())
}

func TestTick_FreeIntroStatusDuringTrial(t *testing.T) {
	h := newHarness(t, clientConfig(model.PricingFlat, 10, 0, 100))
	h.meter.SetParticipants(2)
	tickN(t, h.meter, 120)
	d := h.meter.Snapshot()
	assert.Equal(t, "Free Intro", d.Status)
	assert.Zero(t, d.CostValue)
	assert.False(t, h.meter.State().BillingStarted)
}

func TestTick_BillingStartsOnceWhenTrialExceeded(t *testing.T) {
	h := newHarness(t, clientConfig(model.PricingFlat, 10, 0, 1000))
	h.meter.SetParticipants(2)
	tickN(t, h.meter, 120)
	require.False(t, h.meter.State().BillingStarted)

	tickN(t, h.meter, 1)
	require.True(t, h.meter.State().BillingStarted)
	tickN(t, h.meter, 60)

	assert.Equal(t, 1, h.sink.count(model.NotifyBillingStarted))
}

func TestTick_LowBalanceWarningFiresOnce(t *testing.T) {
	// 60/min is 1 per second after the trial; warning when remaining < 120.
	h := newHarness(t, clientConfig(model.PricingFlat, 60, 0, 200))
	h.meter.SetParticipants(2)
	tickN(t, h.meter, 120+80)
	assert.False(t, h.meter.State().WarningIssued, "remaining is exactly two minutes")

	tickN(t, h.meter, 1)
	assert.True(t, h.meter.State().WarningIssued)
	tickN(t, h.meter, 30)
	assert.Equal(t, 1, h.sink.count(model.NotifyLowBalance))
}

func TestTick_BalanceExhaustedLeavesOnceAndStops(t *testing.T) {
	h := newHarness(t, clientConfig(model.PricingFlat, 60, 0, 10))
	h.meter.SetParticipants(2)
	tickN(t, h.meter, 130)

	require.Equal(t, PhaseEnded, h.meter.Phase())
	assert.Equal(t, 1, h.call.calls)
	assert.Equal(t, 1, h.sink.count(model.NotifyBalanceExhausted))
	frozen := h.meter.State().ElapsedSeconds
	assert.Equal(t, 130, frozen)

	tickN(t, h.meter, 10)
	h.meter.SetParticipants(2)
	tickN(t, h.meter, 10)
	assert.Equal(t, frozen, h.meter.State().ElapsedSeconds)
	assert.Equal(t, 1, h.call.calls)
	assert.True(t, h.meter.Snapshot().Terminated)
	assert.Equal(t, "Session Ended", h.meter.Snapshot().Status)
}

func TestTick_FixedFeeAboveBalanceTerminatesImmediately(t *testing.T) {
	h := newHarness(t, clientConfig(model.PricingFixedFee, 10, 20, 15))
	h.meter.SetParticipants(2)
	tickN(t, h.meter, 1)
	assert.Equal(t, PhaseEnded, h.meter.Phase())
	assert.Equal(t, 1, h.call.calls)
}

func TestSetParticipants_NoBackfill(t *testing.T) {
	h := newHarness(t, clientConfig(model.PricingFlat, 10, 0, 100))
	h.meter.SetParticipants(2)
	tickN(t, h.meter, 3)
	h.meter.SetParticipants(1)
	tickN(t, h.meter, 50)
	h.meter.SetParticipants(2)
	tickN(t, h.meter, 2)

	assert.Equal(t, 5, h.meter.State().ElapsedSeconds)
	assert.Equal(t, 3, h.sink.count(model.NotifyStatus))
}

func TestRestore_ForcesInactive(t *testing.T) {
	records := newMemRecords()
	records.records["42"] = model.SessionTimerState{ElapsedSeconds: 130, BillingStarted: true, IsActive: true}
	sink := &recordingSink{}

	m, err := Restore(context.Background(), clientConfig(model.PricingFlat, 10, 0, 100), Deps{Records: records, Sink: sink, Logger: zerolog.Nop()})
	require.NoError(t, err)

	require.True(t, m.Restored())
	assert.False(t, m.State().IsActive)
	assert.True(t, m.State().BillingStarted)
	d := m.Snapshot()
	assert.Equal(t, "02:10", d.Clock)
	assert.Equal(t, "Waiting for Expert...", d.Status)

	_, err = m.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 130, m.State().ElapsedSeconds)

	m.SetParticipants(2)
	_, err = m.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 131, m.State().ElapsedSeconds)
	assert.Zero(t, sink.count(model.NotifyBillingStarted))
}

func TestRestore_MissingRecordStartsFresh(t *testing.T) {
	m, err := Restore(context.Background(), clientConfig(model.PricingFlat, 10, 0, 100), Deps{Records: newMemRecords(), Logger: zerolog.Nop()})
	require.NoError(t, err)
	assert.False(t, m.Restored())
	assert.Zero(t, m.State().ElapsedSeconds)
}

func TestLawyerMeterNeverBillsOrPersists(t *testing.T) {
	h := newHarness(t, Config{SessionID: "42", Role: model.RoleLawyer, Policy: billing.NewPolicy(model.PricingFlat, 60, 0), Balance: 1})
	h.meter.SetParticipants(1)
	assert.Equal(t, "Waiting for Client...", h.meter.Snapshot().Status)

	h.meter.SetParticipants(2)
	tickN(t, h.meter, 300)

	assert.Equal(t, 300, h.meter.State().ElapsedSeconds)
	assert.Zero(t, h.records.saves)
	assert.Zero(t, h.call.calls)
	assert.Empty(t, h.meter.Snapshot().Cost)
	assert.Equal(t, "Live", h.meter.Snapshot().Status)

	h.records.records["42"] = model.SessionTimerState{ElapsedSeconds: 9}
	require.NoError(t, h.meter.Reset(context.Background()))
	assert.Contains(t, h.records.records, "42")
}

func TestReset_DeletesRecord(t *testing.T) {
	h := newHarness(t, clientConfig(model.PricingFlat, 10, 0, 100))
	h.meter.SetParticipants(2)
	tickN(t, h.meter, 3)
	require.Contains(t, h.records.records, "42")

	require.NoError(t, h.meter.Reset(context.Background()))
	assert.NotContains(t, h.records.records, "42")
}

func TestTick_PersistFailureIsReported(t *testing.T) {
	h := newHarness(t, clientConfig(model.PricingFlat, 10, 0, 100))
	h.records.saveErr = errors.New("disk full")
	h.meter.SetParticipants(2)

	d, err := h.meter.Tick(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1, d.ElapsedSeconds)
}
