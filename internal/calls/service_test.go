package calls

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"link-platform/internal/apperr"
	"link-platform/internal/changefeed"
	"link-platform/internal/conversations"
	"link-platform/internal/notify"

	"github.com/stretchr/testify/require"
)

type recordingNotifier struct {
	mu   sync.Mutex
	sent map[string][]notify.Notification
}

func (r *recordingNotifier) Dispatch(_ context.Context, userID string, n notify.Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sent == nil {
		r.sent = map[string][]notify.Notification{}
	}
	r.sent[userID] = append(r.sent[userID], n)
}

type failingPublisher struct{}

func (failingPublisher) Publish(context.Context, changefeed.Event) error {
	return errors.New("redis down")
}

type fixture struct {
	svc      *Service
	repo     *MemoryRepo
	notifier *recordingNotifier
	now      time.Time
}

func newFixture(t *testing.T, feed changefeed.Publisher) *fixture {
	t.Helper()
	convs := conversations.NewMemoryRepo()
	convs.Add(conversations.Conversation{ID: "c1", Participants: [2]string{"alice", "bob"}})
	convs.SetDisplayName("alice", "Alice")

	f := &fixture{
		repo:     NewMemoryRepo(),
		notifier: &recordingNotifier{},
		now:      time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC),
	}
	f.svc = NewService(f.repo, conversations.NewService(convs, nil, nil), feed, f.notifier, nil, Options{
		RingTimeout: 30 * time.Second,
		SweepGrace:  10 * time.Second,
	})
	f.svc.clock = func() time.Time { return f.now }
	var n int64
	f.svc.newID = func() string { return fmt.Sprintf("s%d", atomic.AddInt64(&n, 1)) }
	return f
}

func TestStartCall_CreatesRingingAndNotifiesCallee(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	sess, err := f.svc.StartCall(ctx, "c1", "alice", CallTypeVideo)
	require.NoError(t, err)
	require.Equal(t, StatusRinging, sess.Status)
	require.Equal(t, "bob", sess.CalleeID)

	require.Len(t, f.notifier.sent["bob"], 1)
	require.Equal(t, "Alice · video call", f.notifier.sent["bob"][0].Title)
	require.Equal(t, "/chat/c1", f.notifier.sent["bob"][0].TargetURL)
}

func TestStartCall_RejectsNonParticipantAndBadType(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.svc.StartCall(ctx, "c1", "mallory", CallTypeAudio)
	require.ErrorIs(t, err, apperr.ErrNotAuthorized)

	_, err = f.svc.StartCall(ctx, "c1", "alice", CallType("fax"))
	require.ErrorIs(t, err, apperr.ErrValidationFailed)
}

func TestStartCall_AlreadyInCallWhileActive(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	first, err := f.svc.StartCall(ctx, "c1", "alice", CallTypeAudio)
	require.NoError(t, err)

	_, err = f.svc.StartCall(ctx, "c1", "bob", CallTypeAudio)
	require.ErrorIs(t, err, apperr.ErrAlreadyInCall)

	_, err = f.svc.Accept(ctx, first.ID, "bob")
	require.NoError(t, err)
	_, err = f.svc.StartCall(ctx, "c1", "alice", CallTypeAudio)
	require.ErrorIs(t, err, apperr.ErrAlreadyInCall)

	_, err = f.svc.End(ctx, first.ID, "alice")
	require.NoError(t, err)
	_, err = f.svc.StartCall(ctx, "c1", "bob", CallTypeAudio)
	require.NoError(t, err, "a conversation whose prior call ended may ring again")
}

func TestStartCall_AfterRejectSucceeds(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	first, err := f.svc.StartCall(ctx, "c1", "alice", CallTypeAudio)
	require.NoError(t, err)
	_, err = f.svc.Reject(ctx, first.ID, "bob")
	require.NoError(t, err)

	_, err = f.svc.StartCall(ctx, "c1", "alice", CallTypeAudio)
	require.NoError(t, err)
}

func TestStartCall_SimultaneousAttemptsYieldOneSession(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	var wins, conflicts int32
	for _, caller := range []string{"alice", "bob", "alice", "bob"} {
		wg.Add(1)
		go func(caller string) {
			defer wg.Done()
			_, err := f.svc.StartCall(ctx, "c1", caller, CallTypeAudio)
			switch {
			case err == nil:
				atomic.AddInt32(&wins, 1)
			case errors.Is(err, apperr.ErrAlreadyInCall):
				atomic.AddInt32(&conflicts, 1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(caller)
	}
	wg.Wait()

	require.Equal(t, int32(1), wins)
	require.Equal(t, int32(3), conflicts)
}

func TestAccept_ConcurrentExactlyOneWins(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	sess, err := f.svc.StartCall(ctx, "c1", "alice", CallTypeAudio)
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Accept(ctx, sess.ID, "bob")
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var ok, rejected int
	for err := range results {
		if err == nil {
			ok++
		} else if errors.Is(err, apperr.ErrTransitionRejected) {
			rejected++
		}
	}
	require.Equal(t, 1, ok)
	require.Equal(t, 1, rejected)
}

func TestAcceptThenReject_SecondIsRejected(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	sess, err := f.svc.StartCall(ctx, "c1", "alice", CallTypeAudio)
	require.NoError(t, err)

	got, err := f.svc.Accept(ctx, sess.ID, "bob")
	require.NoError(t, err)
	require.Equal(t, StatusAccepted, got.Status)
	require.NotNil(t, got.StartedAt)

	_, err = f.svc.Reject(ctx, sess.ID, "bob")
	require.ErrorIs(t, err, apperr.ErrTransitionRejected)
}

func TestAccept_OnlyCallee(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	sess, err := f.svc.StartCall(ctx, "c1", "alice", CallTypeAudio)
	require.NoError(t, err)

	_, err = f.svc.Accept(ctx, sess.ID, "alice")
	require.ErrorIs(t, err, apperr.ErrTransitionRejected)

	cur, err := f.repo.Get(ctx, sess.ID)
	require.NoError(t, err)
	require.Equal(t, StatusRinging, cur.Status)
}

func TestEnd_IsIdempotent(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	sess, err := f.svc.StartCall(ctx, "c1", "alice", CallTypeAudio)
	require.NoError(t, err)
	_, err = f.svc.Accept(ctx, sess.ID, "bob")
	require.NoError(t, err)

	f.now = f.now.Add(2 * time.Minute)
	first, err := f.svc.End(ctx, sess.ID, "bob")
	require.NoError(t, err)
	require.Equal(t, StatusEnded, first.Status)

	f.now = f.now.Add(time.Minute)
	second, err := f.svc.End(ctx, sess.ID, "alice")
	require.NoError(t, err)
	require.Equal(t, StatusEnded, second.Status)
	require.True(t, second.EndedAt.Equal(*first.EndedAt), "second End must not touch the row")
	require.Equal(t, 2*time.Minute, second.TalkTime())
}

func TestEnd_NonPartyNotAuthorized(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	sess, err := f.svc.StartCall(ctx, "c1", "alice", CallTypeAudio)
	require.NoError(t, err)

	_, err = f.svc.End(ctx, sess.ID, "mallory")
	require.ErrorIs(t, err, apperr.ErrNotAuthorized)

	_, err = f.svc.End(ctx, "missing", "alice")
	require.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestMiss_LosesToAccept(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	sess, err := f.svc.StartCall(ctx, "c1", "alice", CallTypeAudio)
	require.NoError(t, err)

	_, err = f.svc.Accept(ctx, sess.ID, "bob")
	require.NoError(t, err)

	_, err = f.svc.Miss(ctx, sess.ID, "alice")
	require.ErrorIs(t, err, apperr.ErrTransitionRejected)

	cur, err := f.repo.Get(ctx, sess.ID)
	require.NoError(t, err)
	require.Equal(t, StatusAccepted, cur.Status)
}

func TestMiss_PersistsMissed(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	sess, err := f.svc.StartCall(ctx, "c1", "alice", CallTypeAudio)
	require.NoError(t, err)

	_, err = f.svc.Miss(ctx, sess.ID, "bob")
	require.ErrorIs(t, err, apperr.ErrTransitionRejected, "only the caller times out")

	got, err := f.svc.Miss(ctx, sess.ID, "alice")
	require.NoError(t, err)
	require.Equal(t, StatusMissed, got.Status)
	require.NotNil(t, got.EndedAt)
}

func TestExpireRinging_OnlyStaleSessions(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	old, err := f.svc.StartCall(ctx, "c1", "alice", CallTypeAudio)
	require.NoError(t, err)

	f.now = f.now.Add(35 * time.Second)
	n, err := f.svc.ExpireRinging(ctx)
	require.NoError(t, err)
	require.Zero(t, n, "grace period not yet elapsed")

	f.now = f.now.Add(10 * time.Second)
	n, err = f.svc.ExpireRinging(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	cur, err := f.repo.Get(ctx, old.ID)
	require.NoError(t, err)
	require.Equal(t, StatusMissed, cur.Status)
}

func TestTransitionsPublishToFeed(t *testing.T) {
	feed := changefeed.NewMemory()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := feed.Subscribe(ctx, changefeed.TableCallSessions, changefeed.Filter{{Column: "callee_id", Value: "bob"}})
	require.NoError(t, err)

	f := newFixture(t, feed)
	sess, err := f.svc.StartCall(ctx, "c1", "alice", CallTypeAudio)
	require.NoError(t, err)
	_, err = f.svc.Accept(ctx, sess.ID, "bob")
	require.NoError(t, err)

	ev := <-ch
	require.Equal(t, changefeed.OpInsert, ev.Op)
	ev = <-ch
	require.Equal(t, changefeed.OpUpdate, ev.Op)
	require.Contains(t, string(ev.Row), `"status":"accepted"`)
}

func TestPublishFailureDoesNotFailTransition(t *testing.T) {
	f := newFixture(t, failingPublisher{})
	sess, err := f.svc.StartCall(context.Background(), "c1", "alice", CallTypeAudio)
	require.NoError(t, err)
	_, err = f.svc.Reject(context.Background(), sess.ID, "bob")
	require.NoError(t, err)
}

func TestListCalls_NewestFirst(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	a, err := f.svc.StartCall(ctx, "c1", "alice", CallTypeAudio)
	require.NoError(t, err)
	_, err = f.svc.End(ctx, a.ID, "alice")
	require.NoError(t, err)
	f.now = f.now.Add(time.Minute)
	b, err := f.svc.StartCall(ctx, "c1", "bob", CallTypeVideo)
	require.NoError(t, err)

	got, err := f.svc.ListCalls(ctx, "c1", "alice", 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, b.ID, got[0].ID)

	_, err = f.svc.ListCalls(ctx, "c1", "mallory", 0)
	require.ErrorIs(t, err, apperr.ErrNotAuthorized)
}
