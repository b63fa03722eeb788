package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"link-platform/internal/notify"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
)

/* ===================== PUSH DELIVERY ===================== */

// PushArgs is one out-of-band notification for one user.
type PushArgs struct {
	UserID       string              `json:"user_id"`
	Notification notify.Notification `json:"notification"`
}

func (PushArgs) Kind() string { return "push_delivery" }

// A push that is minutes late is worse than none; retry briefly only.
func (PushArgs) InsertOpts() river.InsertOpts { return river.InsertOpts{MaxAttempts: 3} }

type Deliverer interface {
	Deliver(ctx context.Context, userID string, n notify.Notification) error
}

type PushWorker struct {
	river.WorkerDefaults[PushArgs]
	deliverer Deliverer
}

func (w *PushWorker) Work(ctx context.Context, job *river.Job[PushArgs]) error {
	if job.Args.UserID == "" {
		return river.JobCancel(errors.New("push job without user_id"))
	}
	return w.deliverer.Deliver(ctx, job.Args.UserID, job.Args.Notification)
}

func (w *PushWorker) Timeout(*river.Job[PushArgs]) time.Duration { return 30 * time.Second }

/* ===================== MISSED CALL SWEEP ===================== */

// SweepArgs triggers one pass of the missed-call sweep.
type SweepArgs struct{}

func (SweepArgs) Kind() string { return "missed_call_sweep" }

// The next periodic run replaces a failed one.
func (SweepArgs) InsertOpts() river.InsertOpts { return river.InsertOpts{MaxAttempts: 1} }

type Expirer interface {
	ExpireRinging(ctx context.Context) (int, error)
}

// ExpirerFunc adapts a function, letting the queue be built before the call service.
type ExpirerFunc func(ctx context.Context) (int, error)

func (f ExpirerFunc) ExpireRinging(ctx context.Context) (int, error) { return f(ctx) }

type SweepWorker struct {
	river.WorkerDefaults[SweepArgs]
	expirer Expirer
	log     *slog.Logger
}

func (w *SweepWorker) Work(ctx context.Context, job *river.Job[SweepArgs]) error {
	n, err := w.expirer.ExpireRinging(ctx)
	if err != nil {
		return fmt.Errorf("missed call sweep: %w", err)
	}
	if n > 0 {
		w.log.Info("missed call sweep", "expired", n)
	}
	return nil
}

/* ===================== QUEUE ===================== */

type Config struct {
	MaxWorkers    int
	SweepInterval time.Duration
}

// Queue runs push delivery and the periodic sweep on River. It is also the
// production notify.Dispatcher: dispatch is a job insert, delivery happens later.
type Queue struct {
	client *river.Client[pgx.Tx]
	log    *slog.Logger
}

func New(pool *pgxpool.Pool, deliverer Deliverer, expirer Expirer, cfg Config, log *slog.Logger) (*Queue, error) {
	if log == nil {
		log = slog.Default()
	}
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 10
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 15 * time.Second
	}

	workers := river.NewWorkers()
	river.AddWorker(workers, &PushWorker{deliverer: deliverer})
	river.AddWorker(workers, &SweepWorker{expirer: expirer, log: log})

	client, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Logger: log,
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: cfg.MaxWorkers},
		},
		Workers: workers,
		PeriodicJobs: []*river.PeriodicJob{
			river.NewPeriodicJob(
				river.PeriodicInterval(cfg.SweepInterval),
				func() (river.JobArgs, *river.InsertOpts) { return SweepArgs{}, nil },
				&river.PeriodicJobOpts{RunOnStart: true},
			),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create River client: %w", err)
	}
	return &Queue{client: client, log: log}, nil
}

func (q *Queue) Start(ctx context.Context) error { return q.client.Start(ctx) }

func (q *Queue) Stop(ctx context.Context) error { return q.client.Stop(ctx) }

// Dispatch enqueues a push. An insert failure is logged and never reaches the caller.
func (q *Queue) Dispatch(ctx context.Context, userID string, n notify.Notification) {
	if _, err := q.client.Insert(ctx, PushArgs{UserID: userID, Notification: n}, nil); err != nil {
		q.log.Warn("notification enqueue failed", "user_id", userID, "err", err)
	}
}

// Migrate applies River's own schema migrations.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
	if err != nil {
		return fmt.Errorf("river migrator: %w", err)
	}
	if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
		return fmt.Errorf("river migrate: %w", err)
	}
	return nil
}
