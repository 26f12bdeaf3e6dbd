package call

import (
	"context"
	"sync"
)

// FakeProvider hands out in-process rooms. Participant counts are driven by
// the page (or a test) rather than polled.
type FakeProvider struct {
	mu    sync.Mutex
	rooms map[string]*FakeRoom
}

func NewFakeProvider() *FakeProvider {
	return &FakeProvider{rooms: make(map[string]*FakeRoom)}
}

func (f *FakeProvider) Name() string { return "fake" }

func (f *FakeProvider) Presence() bool { return false }

func (f *FakeProvider) Room(roomURL string, party Party) (Room, error) {
	return &fakeHandle{room: f.FakeRoom(roomURL), party: party}, nil
}

// FakeRoom returns the room for roomURL, creating it on first use.
func (f *FakeProvider) FakeRoom(roomURL string) *FakeRoom {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rooms[roomURL]
	if !ok {
		r = &FakeRoom{URL: roomURL, participants: make(map[string]Participant)}
		f.rooms[roomURL] = r
	}
	return r
}

// FakeRoom is the shared state behind every party's handle on one room.
type FakeRoom struct {
	URL string

	mu           sync.Mutex
	joins        int
	leaves       int
	leftBy       []string
	participants map[string]Participant
	joinErr      error
	leaveErr     error
}

type fakeHandle struct {
	room  *FakeRoom
	party Party
}

func (h *fakeHandle) Join(context.Context) error {
	return h.room.join()
}

func (h *fakeHandle) Leave(context.Context) error {
	return h.room.leave(h.party)
}

func (h *fakeHandle) Participants(context.Context) (map[string]Participant, error) {
	return h.room.snapshot(), nil
}

func (r *FakeRoom) join() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.joinErr != nil {
		return r.joinErr
	}
	r.joins++
	return nil
}

// leave drops the party's participants; everyone else stays.
func (r *FakeRoom) leave(party Party) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaves++
	if r.leaveErr != nil {
		return r.leaveErr
	}
	r.leftBy = append(r.leftBy, party.UserID)
	for id, p := range r.participants {
		if p.UserID == party.UserID {
			delete(r.participants, id)
		}
	}
	return nil
}

func (r *FakeRoom) snapshot() map[string]Participant {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]Participant, len(r.participants))
	for id, p := range r.participants {
		out[id] = p
	}
	return out
}

// SetParticipants replaces the room's participants. Each id doubles as the
// participant's user id.
func (r *FakeRoom) SetParticipants(ids ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.participants = make(map[string]Participant, len(ids))
	for _, id := range ids {
		r.participants[id] = Participant{ID: id, UserID: id}
	}
}

func (r *FakeRoom) Participants() map[string]Participant {
	return r.snapshot()
}

func (r *FakeRoom) FailJoin(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.joinErr = err
}

func (r *FakeRoom) FailLeave(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaveErr = err
}

func (r *FakeRoom) Joins() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.joins
}

func (r *FakeRoom) Leaves() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.leaves
}

// LeftBy lists the user ids that left successfully, in order.
func (r *FakeRoom) LeftBy() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.leftBy...)
}
