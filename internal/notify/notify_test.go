package notify

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"link-platform/internal/apperr"

	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	mu   sync.Mutex
	sent []string
	errs map[string]error
}

func (f *fakeSender) Send(_ context.Context, sub Subscription, _ []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sub.Endpoint)
	return f.errs[sub.Endpoint]
}

func TestIncomingCallContent(t *testing.T) {
	n := IncomingCall("Alice", "c1", true)
	require.Equal(t, "Alice · video call", n.Title)
	require.Equal(t, "Tap to answer", n.Body)
	require.Equal(t, "/chat/c1", n.TargetURL)

	require.Equal(t, "Link · voice call", IncomingCall("  ", "c1", false).Title)
}

func TestNewMessageTruncatesPreview(t *testing.T) {
	long := strings.Repeat("é", 150)
	n := NewMessage("", "c9", long)
	require.Equal(t, "Link", n.Title)
	require.Equal(t, strings.Repeat("é", 100)+"...", n.Body)

	require.Equal(t, "hi", NewMessage("Bob", "c9", "hi").Body)
}

func TestRegisterValidates(t *testing.T) {
	store := NewMemorySubscriptions()
	ctx := context.Background()
	now := time.Now()

	err := Register(ctx, store, Subscription{UserID: "u", Endpoint: "http://push.example/x", P256dh: "k", Auth: "a"}, now)
	require.ErrorIs(t, err, apperr.ErrValidationFailed)

	err = Register(ctx, store, Subscription{UserID: "u", Endpoint: "https://push.example/x"}, now)
	require.ErrorIs(t, err, apperr.ErrValidationFailed)

	require.NoError(t, Register(ctx, store, Subscription{UserID: "u", Endpoint: "https://push.example/x", P256dh: "k", Auth: "a"}, now))
	require.NoError(t, Register(ctx, store, Subscription{UserID: "u", Endpoint: "https://push.example/x", P256dh: "k2", Auth: "a2"}, now))

	subs, err := store.ListForUser(ctx, "u")
	require.NoError(t, err)
	require.Len(t, subs, 1)
	require.Equal(t, "k2", subs[0].P256dh)
}

func TestDeliver_PrunesGoneAndExpired(t *testing.T) {
	ctx := context.Background()
	store := NewMemorySubscriptions()
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)

	require.NoError(t, store.Upsert(ctx, Subscription{UserID: "u", Endpoint: "https://a", P256dh: "k", Auth: "a"}))
	require.NoError(t, store.Upsert(ctx, Subscription{UserID: "u", Endpoint: "https://b", P256dh: "k", Auth: "a"}))
	require.NoError(t, store.Upsert(ctx, Subscription{UserID: "u", Endpoint: "https://c", P256dh: "k", Auth: "a", ExpirationTime: &past}))

	sender := &fakeSender{errs: map[string]error{"https://b": ErrSubscriptionGone}}
	d := NewDeliverer(store, sender, nil)
	d.clock = func() time.Time { return now }

	require.NoError(t, d.Deliver(ctx, "u", IncomingCall("A", "c1", false)))
	require.Equal(t, []string{"https://a", "https://b"}, sender.sent)

	subs, err := store.ListForUser(ctx, "u")
	require.NoError(t, err)
	require.Len(t, subs, 1)
	require.Equal(t, "https://a", subs[0].Endpoint)
}

func TestDeliver_ReportsTransientFailure(t *testing.T) {
	ctx := context.Background()
	store := NewMemorySubscriptions()
	require.NoError(t, store.Upsert(ctx, Subscription{UserID: "u", Endpoint: "https://a", P256dh: "k", Auth: "a"}))

	d := NewDeliverer(store, &fakeSender{errs: map[string]error{"https://a": errors.New("503")}}, nil)
	err := d.Deliver(ctx, "u", NewMessage("A", "c1", "hi"))
	require.ErrorIs(t, err, apperr.ErrNotificationFailed)

	subs, _ := store.ListForUser(ctx, "u")
	require.Len(t, subs, 1)
}

func TestDirectDispatchDoesNotBlock(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	store := NewMemorySubscriptions()
	require.NoError(t, store.Upsert(ctx, Subscription{UserID: "u", Endpoint: "https://a", P256dh: "k", Auth: "a"}))
	sender := &fakeSender{}

	NewDirect(NewDeliverer(store, sender, nil), nil).Dispatch(ctx, "u", NewMessage("A", "c1", "hi"))
	// The request context ending must not cancel delivery.
	cancel()

	require.Eventually(t, func() bool {
		sender.mu.Lock()
		defer sender.mu.Unlock()
		return len(sender.sent) == 1
	}, time.Second, 5*time.Millisecond)
}
