package conversations

import (
	"context"
	"testing"
	"time"

	"link-platform/internal/apperr"

	"github.com/stretchr/testify/require"
)

type fixedUnread map[string]int

func (f fixedUnread) CountUnread(_ context.Context, conversationID, readerID string) (int, error) {
	return f[conversationID+"|"+readerID], nil
}

func seed(t *testing.T) *MemoryRepo {
	t.Helper()
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r := NewMemoryRepo()
	r.Add(Conversation{ID: "c1", Participants: [2]string{"alice", "bob"}, CreatedAt: t0})
	r.Add(Conversation{ID: "c2", Participants: [2]string{"carol", "alice"}, CreatedAt: t0.Add(time.Minute)})
	r.SetDisplayName("bob", "Bob")
	return r
}

func TestPeer(t *testing.T) {
	s := NewService(seed(t), nil, nil)
	ctx := context.Background()

	peer, err := s.Peer(ctx, "c1", "alice")
	require.NoError(t, err)
	require.Equal(t, "bob", peer)

	_, err = s.Peer(ctx, "c1", "mallory")
	require.ErrorIs(t, err, apperr.ErrNotAuthorized)

	_, err = s.Peer(ctx, "nope", "alice")
	require.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestTouchIsMonotonic(t *testing.T) {
	r := seed(t)
	s := NewService(r, nil, nil)
	ctx := context.Background()
	later := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.Touch(ctx, "c1", later))
	require.NoError(t, s.Touch(ctx, "c1", later.Add(-time.Hour)))

	c, err := r.Get(ctx, "c1")
	require.NoError(t, err)
	require.True(t, c.UpdatedAt.Equal(later))
}

func TestList_OrdersByActivityWithUnread(t *testing.T) {
	r := seed(t)
	s := NewService(r, fixedUnread{"c1|alice": 3}, nil)
	ctx := context.Background()

	require.NoError(t, s.Touch(ctx, "c1", time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)))

	got, err := s.List(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "c1", got[0].ID)
	require.Equal(t, "bob", got[0].PeerID)
	require.Equal(t, "Bob", got[0].PeerName)
	require.Equal(t, 3, got[0].UnreadCount)
	require.Equal(t, "carol", got[1].PeerID)
	require.Empty(t, got[1].PeerName)
}
