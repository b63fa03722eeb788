package changefeed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"link-platform/internal/apperr"

	"github.com/redis/go-redis/v9"
)

const streamPrefix = "changefeed:"

func StreamKey(table string) string { return streamPrefix + table }

// RedisFeed carries events over one Redis stream per table.
// Entries hold two fields: op and row (JSON).
type RedisFeed struct {
	rdb    *redis.Client
	maxLen int64
	log    *slog.Logger

	// Block bounds each XREAD so cancellation is noticed promptly.
	Block time.Duration
	// RetryDelay is the pause after a failed XREAD.
	RetryDelay time.Duration
}

func NewRedisFeed(rdb *redis.Client, maxLen int64, log *slog.Logger) *RedisFeed {
	if log == nil {
		log = slog.Default()
	}
	return &RedisFeed{rdb: rdb, maxLen: maxLen, log: log, Block: 5 * time.Second, RetryDelay: time.Second}
}

func (f *RedisFeed) Publish(ctx context.Context, ev Event) error {
	if ev.Table == "" || !ev.Op.Valid() {
		return fmt.Errorf("changefeed: invalid event table=%q op=%q", ev.Table, ev.Op)
	}
	args := &redis.XAddArgs{
		Stream: StreamKey(ev.Table),
		Values: map[string]any{"op": string(ev.Op), "row": string(ev.Row)},
	}
	if f.maxLen > 0 {
		args.MaxLen = f.maxLen
		args.Approx = true
	}
	if err := f.rdb.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("changefeed: xadd %s: %w", ev.Table, err)
	}
	return nil
}

// Subscribe delivers entries added after it returns. The stream's current tail is
// resolved to a concrete id before returning, and every later XREAD continues from
// the last id seen, so block timeouts and transient errors never open a gap.
func (f *RedisFeed) Subscribe(ctx context.Context, table string, filter Filter) (<-chan Event, error) {
	if table == "" {
		return nil, errors.New("changefeed: table required")
	}
	stream := StreamKey(table)
	startID, err := f.tailID(ctx, stream)
	if err != nil {
		return nil, apperr.Store(fmt.Errorf("changefeed: resolve tail of %s: %w", stream, err))
	}
	out := make(chan Event, 64)
	go f.read(ctx, table, startID, filter, out)
	return out, nil
}

// tailID returns the id of the newest entry, or 0-0 for an empty stream.
func (f *RedisFeed) tailID(ctx context.Context, stream string) (string, error) {
	msgs, err := f.rdb.XRevRangeN(ctx, stream, "+", "-", 1).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return "", err
	}
	if len(msgs) == 0 {
		return "0-0", nil
	}
	return msgs[0].ID, nil
}

func (f *RedisFeed) read(ctx context.Context, table, lastID string, filter Filter, out chan<- Event) {
	defer close(out)

	stream := StreamKey(table)
	for ctx.Err() == nil {
		res, err := f.rdb.XRead(ctx, &redis.XReadArgs{
			Streams: []string{stream, lastID},
			Count:   100,
			Block:   f.Block,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			f.log.Warn("changefeed read failed", "stream", stream, "err", err)
			select {
			case <-time.After(f.RetryDelay):
			case <-ctx.Done():
				return
			}
			continue
		}

		for _, s := range res {
			for _, msg := range s.Messages {
				lastID = msg.ID
				ev, ok := decodeEntry(table, msg.Values)
				if !ok {
					f.log.Warn("changefeed entry dropped", "stream", stream, "id", msg.ID)
					continue
				}
				if !filter.Match(ev.Row) {
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}
}

func decodeEntry(table string, values map[string]any) (Event, bool) {
	op, _ := values["op"].(string)
	row, _ := values["row"].(string)
	ev := Event{Table: table, Op: Op(op), Row: []byte(row)}
	if !ev.Op.Valid() || row == "" {
		return Event{}, false
	}
	return ev, true
}
