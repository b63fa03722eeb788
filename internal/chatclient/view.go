package chatclient

import (
	"slices"

	"link-platform/internal/messages"

	"github.com/samber/lo"
)

// View is the ordered local copy of one conversation's messages.
//
// Inserts are de-duplicated by id because the feed delivers at least once and the
// initial load overlaps the live feed. Updates only patch read_at in place.
type View struct {
	self string
	msgs []messages.Message
	ids  map[string]struct{}
}

func NewView(self string) *View {
	return &View{self: self, ids: map[string]struct{}{}}
}

// Insert adds m in creation order. It reports false for an id already present.
func (v *View) Insert(m messages.Message) bool {
	if _, ok := v.ids[m.ID]; ok {
		return false
	}
	v.ids[m.ID] = struct{}{}

	// Almost always an append; late arrivals slot in by (created_at, id).
	i := len(v.msgs)
	for i > 0 && before(m, v.msgs[i-1]) {
		i--
	}
	v.msgs = slices.Insert(v.msgs, i, m)
	return true
}

// Patch applies a read receipt. read_at only ever moves from null to set.
// An update for a message not seen yet is inserted, since it carries the full row.
func (v *View) Patch(m messages.Message) bool {
	if _, ok := v.ids[m.ID]; !ok {
		return v.Insert(m)
	}
	_, i, _ := lo.FindIndexOf(v.msgs, func(x messages.Message) bool { return x.ID == m.ID })
	if i < 0 || m.ReadAt == nil || v.msgs[i].ReadAt != nil {
		return false
	}
	at := *m.ReadAt
	v.msgs[i].ReadAt = &at
	return true
}

func (v *View) Messages() []messages.Message {
	return slices.Clone(v.msgs)
}

func (v *View) Len() int { return len(v.msgs) }

// UnreadFromPeer reports whether any peer message still lacks read_at.
func (v *View) UnreadFromPeer() bool {
	return lo.ContainsBy(v.msgs, func(m messages.Message) bool {
		return m.SenderID != v.self && m.ReadAt == nil
	})
}

// ReadMarker returns the id of the message that shows the "read" marker.
func (v *View) ReadMarker() (string, bool) {
	return ReadMarker(v.msgs, v.self)
}

// ReadMarker picks the most recent own message with a read receipt. Only that one
// message carries the marker, not every read message.
func ReadMarker(msgs []messages.Message, self string) (string, bool) {
	m, _, ok := lo.FindLastIndexOf(msgs, func(m messages.Message) bool {
		return m.SenderID == self && m.ReadAt != nil
	})
	if !ok {
		return "", false
	}
	return m.ID, true
}

func before(a, b messages.Message) bool {
	if a.CreatedAt.Equal(b.CreatedAt) {
		return a.ID < b.ID
	}
	return a.CreatedAt.Before(b.CreatedAt)
}
