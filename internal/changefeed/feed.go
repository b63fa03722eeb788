package changefeed

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
)

// Table names carried on the feed.
const (
	TableCallSessions = "call_sessions"
	TableMessages     = "messages"
)

type Op string

const (
	OpInsert Op = "insert"
	OpUpdate Op = "update"
)

func (o Op) Valid() bool { return o == OpInsert || o == OpUpdate }

// Event is one row-level change. Row is the JSON of the full row after the write.
//
// Delivery is at-least-once with no ordering across rows; consumers must tolerate
// duplicates and reordering.
type Event struct {
	Table string          `json:"table"`
	Op    Op              `json:"op"`
	Row   json.RawMessage `json:"row"`
}

func NewEvent(table string, op Op, row any) (Event, error) {
	b, err := json.Marshal(row)
	if err != nil {
		return Event{}, fmt.Errorf("changefeed: encode %s row: %w", table, err)
	}
	return Event{Table: table, Op: op, Row: b}, nil
}

type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Subscriber delivers events for one table that match filter.
// The channel closes when ctx is done.
type Subscriber interface {
	Subscribe(ctx context.Context, table string, filter Filter) (<-chan Event, error)
}

// Eq matches rows whose column equals value.
type Eq struct {
	Column string
	Value  string
}

// Filter matches a row if any of its clauses match. An empty filter matches every row.
type Filter []Eq

// Match reads only the filtered columns; the row is not fully decoded.
// Only string columns can match.
func (f Filter) Match(row json.RawMessage) bool {
	if len(f) == 0 {
		return true
	}
	if !gjson.ValidBytes(row) {
		return false
	}
	for _, eq := range f {
		v := gjson.GetBytes(row, eq.Column)
		if v.Type == gjson.String && v.Str == eq.Value {
			return true
		}
	}
	return false
}

// Publish is a convenience for encoding row and publishing it.
func Publish(ctx context.Context, p Publisher, table string, op Op, row any) error {
	if p == nil {
		return nil
	}
	ev, err := NewEvent(table, op, row)
	if err != nil {
		return err
	}
	return p.Publish(ctx, ev)
}
