// Package eventbus fans session events out to websocket subscribers.
package eventbus

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/lexconsult/consult-control-plane/internal/model"
)

// Event types published on the bus.
const (
	SessionDisplay      = "session.display"
	SessionNotification = "session.notification"
	SessionOutcome      = "session.outcome"
)

const subscriberBuffer = 64

// Event is a single message on the bus.
type Event struct {
	Type      string          `json:"type"`
	SessionID string          `json:"session_id"`
	Role      model.Role      `json:"role"`
	Timestamp time.Time       `json:"ts"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Topic selects events by session and role. Empty fields match anything.
type Topic struct {
	SessionID string
	Role      model.Role
}

func (t Topic) matches(e Event) bool {
	if t.SessionID != "" && t.SessionID != e.SessionID {
		return false
	}
	return t.Role == "" || t.Role == e.Role
}

type subscription struct {
	topic Topic
	types map[string]bool // nil = all
}

// Bus is a fan-out pub/sub bus scoped by session. Slow subscribers miss
// events rather than block the publisher.
type Bus struct {
	mu   sync.RWMutex
	subs map[chan Event]subscription
}

func New() *Bus {
	return &Bus{subs: make(map[chan Event]subscription)}
}

// Subscribe returns a channel receiving events on topic. No types means all
// types.
func (b *Bus) Subscribe(topic Topic, types ...string) chan Event {
	ch := make(chan Event, subscriberBuffer)
	sub := subscription{topic: topic}
	if len(types) > 0 {
		sub.types = make(map[string]bool, len(types))
		for _, t := range types {
			sub.types[t] = true
		}
	}
	b.mu.Lock()
	b.subs[ch] = sub
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Bus) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(ch)
	}
}

func (b *Bus) Publish(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch, sub := range b.subs {
		if !sub.topic.matches(e) {
			continue
		}
		if sub.types != nil && !sub.types[e.Type] {
			continue
		}
		select {
		case ch <- e:
		default:
		}
	}
}

func (b *Bus) PublishType(topic Topic, eventType string, data any) {
	var raw json.RawMessage
	if data != nil {
		raw, _ = json.Marshal(data)
	}
	b.Publish(Event{Type: eventType, SessionID: topic.SessionID, Role: topic.Role, Timestamp: time.Now(), Data: raw})
}

func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close unsubscribes everyone.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		close(ch)
		delete(b.subs, ch)
	}
}

// SessionSink publishes one party's displays, notifications and outcome.
type SessionSink struct {
	bus   *Bus
	topic Topic
}

func (b *Bus) Sink(sessionID string, role model.Role) *SessionSink {
	return &SessionSink{bus: b, topic: Topic{SessionID: sessionID, Role: role}}
}

func (s *SessionSink) Display(d model.Display) {
	s.bus.PublishType(s.topic, SessionDisplay, d)
}

func (s *SessionSink) Notify(n model.Notification) {
	s.bus.PublishType(s.topic, SessionNotification, n)
}

func (s *SessionSink) Outcome(o model.Outcome) {
	s.bus.PublishType(s.topic, SessionOutcome, o)
}
