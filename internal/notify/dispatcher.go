package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"link-platform/internal/apperr"
)

// Deliverer fans a notification out to every subscription of a user.
type Deliverer struct {
	subs   SubscriptionStore
	sender Sender
	log    *slog.Logger
	clock  func() time.Time
}

func NewDeliverer(subs SubscriptionStore, sender Sender, log *slog.Logger) *Deliverer {
	if log == nil {
		log = slog.Default()
	}
	return &Deliverer{subs: subs, sender: sender, log: log, clock: time.Now}
}

// Deliver sends n to all of userID's subscriptions. Gone or expired subscriptions are pruned.
// The returned error wraps ErrNotificationFailed when any live subscription could not be reached.
func (d *Deliverer) Deliver(ctx context.Context, userID string, n Notification) error {
	subs, err := d.subs.ListForUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("%w: %w", apperr.ErrNotificationFailed, err)
	}
	if len(subs) == 0 {
		return nil
	}

	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("%w: %w", apperr.ErrNotificationFailed, err)
	}

	now := d.clock()
	var errs []error
	for _, sub := range subs {
		if sub.ExpirationTime != nil && !sub.ExpirationTime.After(now) {
			d.prune(ctx, sub)
			continue
		}
		err := d.sender.Send(ctx, sub, payload)
		switch {
		case err == nil:
		case errors.Is(err, ErrSubscriptionGone):
			d.prune(ctx, sub)
		default:
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", apperr.ErrNotificationFailed, errors.Join(errs...))
	}
	return nil
}

func (d *Deliverer) prune(ctx context.Context, sub Subscription) {
	if err := d.subs.Delete(ctx, sub.UserID, sub.Endpoint); err != nil {
		d.log.Warn("push subscription prune failed", "user_id", sub.UserID, "err", err)
		return
	}
	d.log.Info("push subscription pruned", "user_id", sub.UserID)
}

// Direct delivers in a background goroutine detached from the request.
type Direct struct {
	deliverer *Deliverer
	log       *slog.Logger
	timeout   time.Duration
}

func NewDirect(d *Deliverer, log *slog.Logger) *Direct {
	if log == nil {
		log = slog.Default()
	}
	return &Direct{deliverer: d, log: log, timeout: 15 * time.Second}
}

func (x *Direct) Dispatch(ctx context.Context, userID string, n Notification) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), x.timeout)
	go func() {
		defer cancel()
		if err := x.deliverer.Deliver(ctx, userID, n); err != nil {
			x.log.Warn("notification dispatch failed", "user_id", userID, "err", err)
		}
	}()
}

// Discard drops notifications; used when push is not configured.
type Discard struct {
	Log *slog.Logger
}

func (d Discard) Dispatch(_ context.Context, userID string, n Notification) {
	if d.Log != nil {
		d.Log.Debug("notification discarded", "user_id", userID, "title", n.Title)
	}
}
