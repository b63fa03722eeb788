package jobs

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"link-platform/internal/notify"

	"github.com/riverqueue/river"
	"github.com/stretchr/testify/require"
)

type recordingDeliverer struct {
	user string
	n    notify.Notification
	err  error
}

func (d *recordingDeliverer) Deliver(_ context.Context, userID string, n notify.Notification) error {
	d.user, d.n = userID, n
	return d.err
}

func TestPushWorker_Delivers(t *testing.T) {
	d := &recordingDeliverer{}
	w := &PushWorker{deliverer: d}
	n := notify.IncomingCall("Alice", "c1", true)

	err := w.Work(context.Background(), &river.Job[PushArgs]{Args: PushArgs{UserID: "bob", Notification: n}})
	require.NoError(t, err)
	require.Equal(t, "bob", d.user)
	require.Equal(t, n, d.n)
}

func TestPushWorker_FailureIsRetried(t *testing.T) {
	d := &recordingDeliverer{err: errors.New("push service 500")}
	w := &PushWorker{deliverer: d}

	err := w.Work(context.Background(), &river.Job[PushArgs]{Args: PushArgs{UserID: "bob"}})
	require.ErrorIs(t, err, d.err)

	err = w.Work(context.Background(), &river.Job[PushArgs]{Args: PushArgs{}})
	require.Error(t, err, "a job without a user is cancelled")
}

func TestSweepWorker(t *testing.T) {
	calls := 0
	w := &SweepWorker{
		expirer: ExpirerFunc(func(context.Context) (int, error) {
			calls++
			return 2, nil
		}),
		log: slog.Default(),
	}
	require.NoError(t, w.Work(context.Background(), &river.Job[SweepArgs]{}))
	require.Equal(t, 1, calls)

	w.expirer = ExpirerFunc(func(context.Context) (int, error) { return 0, errors.New("db down") })
	require.Error(t, w.Work(context.Background(), &river.Job[SweepArgs]{}))
}

func TestJobKindsAndAttempts(t *testing.T) {
	require.Equal(t, "push_delivery", PushArgs{}.Kind())
	require.Equal(t, "missed_call_sweep", SweepArgs{}.Kind())
	require.Equal(t, 3, PushArgs{}.InsertOpts().MaxAttempts)
	require.Equal(t, 1, SweepArgs{}.InsertOpts().MaxAttempts)
}
