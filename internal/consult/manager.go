package consult

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/lexconsult/consult-control-plane/internal/billing"
	"github.com/lexconsult/consult-control-plane/internal/call"
	"github.com/lexconsult/consult-control-plane/internal/meter"
	"github.com/lexconsult/consult-control-plane/internal/metrics"
	"github.com/lexconsult/consult-control-plane/internal/model"
)

type ManagerConfig struct {
	Mode           model.PricingMode
	FixedFee       float64
	Currency       string
	PaymentTimeout time.Duration
}

type ManagerDeps struct {
	Provider call.Provider
	Records  meter.RecordStore
	Backend  Backend
	// Sinks builds the sink for one party; nil discards output.
	Sinks  func(sessionID string, role model.Role) Sink
	Logger zerolog.Logger
}

type sessionKey struct {
	sessionID string
	role      model.Role
}

// Manager keeps the open controllers, one per session and role.
type Manager struct {
	cfg  ManagerConfig
	deps ManagerDeps
	log  zerolog.Logger

	// opening serializes opens per key so a racing page never joins twice.
	opening singleflight.Group

	mu       sync.RWMutex
	sessions map[sessionKey]*Controller
}

func NewManager(cfg ManagerConfig, deps ManagerDeps) *Manager {
	if cfg.Mode == "" {
		cfg.Mode = model.PricingFlat
	}
	if cfg.Currency == "" {
		cfg.Currency = billing.DefaultCurrency
	}
	if cfg.PaymentTimeout <= 0 {
		cfg.PaymentTimeout = DefaultPaymentTimeout
	}
	return &Manager{
		cfg:      cfg,
		deps:     deps,
		log:      deps.Logger,
		sessions: make(map[sessionKey]*Controller),
	}
}

// Open starts (or returns the already open) controller for this party. A
// missing or unreachable widget aborts the open. Each new controller gets a
// fresh instance id that the page passes back on end, unload and left.
func (m *Manager) Open(ctx context.Context, c *model.Consultation, role model.Role) (*Controller, error) {
	if !role.Valid() {
		return nil, ErrForbidden
	}
	key := sessionKey{sessionID: c.ID, role: role}
	v, err, _ := m.opening.Do(c.ID+"/"+string(role), func() (any, error) {
		return m.open(ctx, c, key)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Controller), nil
}

func (m *Manager) open(ctx context.Context, c *model.Consultation, key sessionKey) (*Controller, error) {
	m.mu.RLock()
	existing, ok := m.sessions[key]
	m.mu.RUnlock()
	// A reopened page after unload or call end gets a fresh controller.
	if ok {
		if _, done := existing.Done(); !done {
			return existing, nil
		}
	}

	if m.deps.Provider == nil {
		return nil, ErrWidgetUnavailable
	}
	role := key.role
	room, err := m.deps.Provider.Room(c.RoomURL, call.Party{UserID: c.UserID(role), Role: string(role)})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWidgetUnavailable, err)
	}

	var sink Sink = nopSink{}
	if m.deps.Sinks != nil {
		sink = m.deps.Sinks(c.ID, role)
	}
	instanceID := uuid.NewString()
	log := m.log.With().Str("session_id", c.ID).Str("role", string(role)).Str("instance", instanceID).Logger()
	mt, err := meter.Restore(ctx, meter.Config{
		SessionID: c.ID,
		Role:      role,
		Policy:    billing.NewPolicy(m.cfg.Mode, c.RatePerMinute, m.cfg.FixedFee),
		Balance:   c.Balance,
		Currency:  m.cfg.Currency,
	}, meter.Deps{Records: m.deps.Records, Call: room, Sink: sink, Logger: m.log})
	if err != nil {
		return nil, err
	}

	if err := room.Join(ctx); err != nil {
		return nil, fmt.Errorf("%w: join: %v", ErrWidgetUnavailable, err)
	}

	ctrl := &Controller{
		sessionID:      c.ID,
		role:           role,
		instanceID:     instanceID,
		currency:       m.cfg.Currency,
		meter:          mt,
		room:           room,
		presence:       m.deps.Provider.Presence(),
		backend:        m.deps.Backend,
		sink:           sink,
		paymentTimeout: m.cfg.PaymentTimeout,
		log:            log,
	}

	m.mu.Lock()
	m.sessions[key] = ctrl
	n := len(m.sessions)
	m.mu.Unlock()

	metrics.Default().SetOpenSessions(n)
	log.Info().Bool("restored", mt.Restored()).Str("widget", m.deps.Provider.Name()).Msg("session opened")
	return ctrl, nil
}

// Get returns the current controller for the party regardless of instance.
func (m *Manager) Get(sessionID string, role model.Role) (*Controller, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.sessions[sessionKey{sessionID: sessionID, role: role}]
	if !ok {
		return nil, ErrNotOpen
	}
	return c, nil
}

// Lookup returns the party's controller only if it is still the instance the
// page opened. A page superseded by a reopen gets ErrStaleInstance.
func (m *Manager) Lookup(sessionID string, role model.Role, instanceID string) (*Controller, error) {
	c, err := m.Get(sessionID, role)
	if err != nil {
		return nil, err
	}
	if c.instanceID != instanceID {
		return nil, ErrStaleInstance
	}
	return c, nil
}

// Close drops the controller if it is still instanceID. Its persisted record
// is left alone.
func (m *Manager) Close(sessionID string, role model.Role, instanceID string) bool {
	key := sessionKey{sessionID: sessionID, role: role}
	m.mu.Lock()
	c, ok := m.sessions[key]
	closed := ok && c.instanceID == instanceID
	if closed {
		delete(m.sessions, key)
	}
	n := len(m.sessions)
	m.mu.Unlock()
	metrics.Default().SetOpenSessions(n)
	return closed
}

// Reap drops controllers that finished more than grace ago.
func (m *Manager) Reap(grace time.Duration) int {
	cutoff := time.Now().Add(-grace)
	m.mu.Lock()
	reaped := 0
	for k, c := range m.sessions {
		if at, done := c.Done(); done && at.Before(cutoff) {
			delete(m.sessions, k)
			reaped++
		}
	}
	n := len(m.sessions)
	m.mu.Unlock()
	metrics.Default().SetOpenSessions(n)
	return reaped
}

func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

func (m *Manager) snapshot() []*Controller {
	m.mu.RLock()
	out := make([]*Controller, 0, len(m.sessions))
	for _, c := range m.sessions {
		out = append(out, c)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].sessionID == out[j].sessionID {
			return out[i].role < out[j].role
		}
		return out[i].sessionID < out[j].sessionID
	})
	return out
}

// TickAll advances every running meter by one second. It returns how many
// meters were ticked and the joined persist errors.
func (m *Manager) TickAll(ctx context.Context) (int, error) {
	var (
		errs   []error
		ticked int
	)
	for _, c := range m.snapshot() {
		if _, done := c.Done(); done {
			continue
		}
		ticked++
		if _, err := c.Tick(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return ticked, errors.Join(errs...)
}

// SyncPresence polls participant counts for rooms that report presence.
func (m *Manager) SyncPresence(ctx context.Context) (int, error) {
	var (
		errs   []error
		polled int
	)
	for _, c := range m.snapshot() {
		if !c.presence || c.meter.Phase() == meter.PhaseEnded {
			continue
		}
		if _, err := c.SyncPresence(ctx); err != nil {
			errs = append(errs, err)
			continue
		}
		polled++
	}
	return polled, errors.Join(errs...)
}
