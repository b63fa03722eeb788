package media

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
)

var ErrLeft = errors.New("media: member left the room")

// Loopback is an in-process Transport: members of the same room see each other's
// publications and departures. It carries no media bytes; it is used in tests and
// when the client runs without a media backend.
type Loopback struct {
	mu    sync.Mutex
	rooms map[string]map[string]*loopbackMember
}

func NewLoopback() *Loopback {
	return &Loopback{rooms: map[string]map[string]*loopbackMember{}}
}

type loopbackMember struct {
	hub    *Loopback
	room   string
	id     string
	events chan Event
	tracks []*loopbackTrack
	subs   map[string]struct{}
	left   bool
}

type loopbackTrack struct {
	mu      sync.Mutex
	track   Track
	enabled bool
}

func (t *loopbackTrack) Kind() Kind { return t.track.Kind }

func (t *loopbackTrack) SetEnabled(enabled bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.enabled = enabled
	return nil
}

func (t *loopbackTrack) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

func (l *Loopback) JoinRoom(ctx context.Context, roomID, memberID, token string) (Room, error) {
	if roomID == "" || memberID == "" {
		return nil, errors.New("media: room and member required")
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	members, ok := l.rooms[roomID]
	if !ok {
		members = map[string]*loopbackMember{}
		l.rooms[roomID] = members
	}
	if prev, ok := members[memberID]; ok {
		prev.leaveLocked()
	}
	m := &loopbackMember{
		hub:    l,
		room:   roomID,
		id:     memberID,
		events: make(chan Event, 64),
		subs:   map[string]struct{}{},
	}
	// Existing publications are announced to the joiner.
	for _, other := range members {
		for _, t := range other.tracks {
			m.emit(Event{Type: EventTrackPublished, MemberID: other.id, Track: t.track})
		}
	}
	members[memberID] = m
	return m, nil
}

// Members lists who is currently in roomID.
func (l *Loopback) Members(roomID string) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, 0, len(l.rooms[roomID]))
	for id := range l.rooms[roomID] {
		out = append(out, id)
	}
	return out
}

// Kick removes memberID as if its connection dropped.
func (l *Loopback) Kick(roomID, memberID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if m, ok := l.rooms[roomID][memberID]; ok {
		m.leaveLocked()
	}
}

func (m *loopbackMember) ID() string { return m.room }

func (m *loopbackMember) Events() <-chan Event { return m.events }

func (m *loopbackMember) Publish(ctx context.Context, kind Kind) (LocalTrack, error) {
	m.hub.mu.Lock()
	defer m.hub.mu.Unlock()
	if m.left {
		return nil, ErrLeft
	}
	t := &loopbackTrack{track: Track{ID: uuid.NewString(), Kind: kind, MemberID: m.id}, enabled: true}
	m.tracks = append(m.tracks, t)
	for _, other := range m.hub.rooms[m.room] {
		if other != m {
			other.emit(Event{Type: EventTrackPublished, MemberID: m.id, Track: t.track})
		}
	}
	return t, nil
}

func (m *loopbackMember) Subscribe(ctx context.Context, t Track) error {
	m.hub.mu.Lock()
	defer m.hub.mu.Unlock()
	if m.left {
		return ErrLeft
	}
	if t.MemberID == m.id {
		return errors.New("media: cannot subscribe to own track")
	}
	m.subs[t.ID] = struct{}{}
	return nil
}

func (m *loopbackMember) Leave(ctx context.Context) error {
	m.hub.mu.Lock()
	defer m.hub.mu.Unlock()
	m.leaveLocked()
	return nil
}

func (m *loopbackMember) leaveLocked() {
	if m.left {
		return
	}
	m.left = true
	members := m.hub.rooms[m.room]
	if members[m.id] == m {
		delete(members, m.id)
	}
	for _, other := range members {
		other.emit(Event{Type: EventMemberLeft, MemberID: m.id})
	}
	if len(members) == 0 {
		delete(m.hub.rooms, m.room)
	}
	close(m.events)
}

// emit never blocks; a member that stops draining its events loses them.
func (m *loopbackMember) emit(ev Event) {
	if m.left {
		return
	}
	select {
	case m.events <- ev:
	default:
	}
}
