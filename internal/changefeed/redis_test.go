package changefeed

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newRedisFeed(t *testing.T) (*RedisFeed, *redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	f := NewRedisFeed(rdb, 0, nil)
	f.Block = 50 * time.Millisecond
	f.RetryDelay = 10 * time.Millisecond
	return f, rdb, mr
}

func receive(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no event delivered")
		return Event{}
	}
}

func TestRedisFeed_DeliversEntriesPublishedRightAfterSubscribe(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f, _, _ := newRedisFeed(t)

	// Older entries are not replayed.
	require.NoError(t, Publish(ctx, f, TableMessages, OpInsert, row{ID: "old", CalleeID: "bob"}))

	ch, err := f.Subscribe(ctx, TableMessages, Filter{{Column: "callee_id", Value: "bob"}})
	require.NoError(t, err)

	// Published before the reader goroutine has issued any XREAD.
	require.NoError(t, Publish(ctx, f, TableMessages, OpInsert, row{ID: "skip", CalleeID: "carol"}))
	require.NoError(t, Publish(ctx, f, TableMessages, OpInsert, row{ID: "m1", CalleeID: "bob"}))

	ev := receive(t, ch)
	require.Equal(t, OpInsert, ev.Op)
	require.JSONEq(t, `{"id":"m1","caller_id":"","callee_id":"bob"}`, string(ev.Row))
}

func TestRedisFeed_EmptyStreamStartsFromBeginning(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f, _, _ := newRedisFeed(t)

	ch, err := f.Subscribe(ctx, TableCallSessions, nil)
	require.NoError(t, err)
	require.NoError(t, Publish(ctx, f, TableCallSessions, OpUpdate, row{ID: "s1"}))

	ev := receive(t, ch)
	require.Equal(t, TableCallSessions, ev.Table)
	require.Equal(t, OpUpdate, ev.Op)
}

// publishAfterIdleRead adds an entry right after the first XREAD that timed out,
// before the reader sends its next XREAD.
type publishAfterIdleRead struct {
	once    sync.Once
	publish func()
}

func (h *publishAfterIdleRead) DialHook(next redis.DialHook) redis.DialHook { return next }

func (h *publishAfterIdleRead) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		err := next(ctx, cmd)
		if cmd.Name() == "xread" && errors.Is(err, redis.Nil) {
			h.once.Do(h.publish)
		}
		return err
	}
}

func (h *publishAfterIdleRead) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return next
}

func TestRedisFeed_NoGapAfterBlockTimeout(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f, _, mr := newRedisFeed(t)

	wc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = wc.Close() })
	writer := NewRedisFeed(wc, 0, nil)
	published := make(chan error, 1)
	f.rdb.AddHook(&publishAfterIdleRead{publish: func() {
		published <- Publish(context.Background(), writer, TableCallSessions, OpInsert, row{ID: "s1", CalleeID: "bob"})
	}})

	ch, err := f.Subscribe(ctx, TableCallSessions, Filter{{Column: "callee_id", Value: "bob"}})
	require.NoError(t, err)

	select {
	case err := <-published:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("reader never timed out")
	}
	ev := receive(t, ch)
	require.JSONEq(t, `{"id":"s1","caller_id":"","callee_id":"bob"}`, string(ev.Row))
}

func TestRedisFeed_SubscribeFailsWhenRedisIsDown(t *testing.T) {
	f, _, mr := newRedisFeed(t)
	mr.Close()

	_, err := f.Subscribe(context.Background(), TableMessages, nil)
	require.Error(t, err)
}

func TestRedisFeed_ClosesOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	f, _, _ := newRedisFeed(t)

	ch, err := f.Subscribe(ctx, TableMessages, nil)
	require.NoError(t, err)
	cancel()

	require.Eventually(t, func() bool {
		select {
		case _, ok := <-ch:
			return !ok
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)
}
