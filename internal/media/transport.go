package media

import (
	"context"
	"fmt"
)

// Transport is the peer-to-peer media collaborator. It moves audio/video once both
// peers agree to connect; call signaling never goes through it.
type Transport interface {
	// JoinRoom finds or creates roomID and joins it as memberID.
	JoinRoom(ctx context.Context, roomID, memberID, token string) (Room, error)
}

// Room is one joined media room. Events replaces per-callback registration:
// remote publications and member departures arrive on a single channel that
// closes after Leave.
type Room interface {
	ID() string
	Publish(ctx context.Context, kind Kind) (LocalTrack, error)
	Subscribe(ctx context.Context, t Track) error
	Events() <-chan Event
	Leave(ctx context.Context) error
}

type Kind string

const (
	KindAudio Kind = "audio"
	KindVideo Kind = "video"
)

// Track is a publication announced in a room.
type Track struct {
	ID       string
	Kind     Kind
	MemberID string
}

// LocalTrack is a track this member publishes. Disabling it is local only (mute, camera off).
type LocalTrack interface {
	Kind() Kind
	SetEnabled(enabled bool) error
	Enabled() bool
}

type EventType int

const (
	EventTrackPublished EventType = iota + 1
	EventMemberLeft
)

type Event struct {
	Type     EventType
	MemberID string
	Track    Track
}

// RoomName is the session-scoped room for one call. A new session never reuses a room.
func RoomName(conversationID, sessionID string) string {
	return fmt.Sprintf("call_%s_%s", conversationID, sessionID)
}
