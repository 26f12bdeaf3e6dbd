// Package call wraps the third-party video room the consultation runs in.
package call

import (
	"context"
	"errors"
	"net/url"
	"path"
	"strings"
	"time"
)

var (
	ErrInvalidRoomURL = errors.New("invalid room url")
	ErrNoParty        = errors.New("room handle needs a party user id")
)

// Participant is one connected widget session. UserID is the identity the
// page joined with (the meeting token user_id).
type Participant struct {
	ID       string    `json:"id"`
	UserID   string    `json:"user_id,omitempty"`
	UserName string    `json:"user_name,omitempty"`
	JoinedAt time.Time `json:"joined_at,omitempty"`
}

// Party is the side of the call a room handle acts for.
type Party struct {
	UserID string
	Role   string
}

// Room is one party's handle on a video room. Leave removes only that party;
// Participants reports everyone in the room.
type Room interface {
	Join(ctx context.Context) error
	Leave(ctx context.Context) error
	Participants(ctx context.Context) (map[string]Participant, error)
}

// Provider opens party-scoped room handles by URL.
type Provider interface {
	Name() string
	Room(roomURL string, party Party) (Room, error)
	// Presence reports whether Participants reflects the remote room, so the
	// presence job can poll it.
	Presence() bool
}

// RoomName extracts the room name from a room URL such as
// https://team.daily.co/consult-42.
func RoomName(roomURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(roomURL))
	if err != nil || u.Host == "" {
		return "", ErrInvalidRoomURL
	}
	name := path.Base(strings.TrimRight(u.Path, "/"))
	if name == "" || name == "." || name == "/" {
		return "", ErrInvalidRoomURL
	}
	return name, nil
}
