package messages

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepo is an in-memory message store for tests and local development.
type MemoryRepo struct {
	mu   sync.Mutex
	rows []Message
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{} }

func (r *MemoryRepo) Insert(ctx context.Context, m Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows = append(r.rows, m)
	return nil
}

func (r *MemoryRepo) MarkRead(ctx context.Context, conversationID, readerID string, at time.Time) ([]Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	updated := make([]Message, 0)
	for i, m := range r.rows {
		if m.ConversationID != conversationID || m.SenderID == readerID || m.ReadAt != nil {
			continue
		}
		t := at
		r.rows[i].ReadAt = &t
		updated = append(updated, r.rows[i])
	}
	return updated, nil
}

func (r *MemoryRepo) List(ctx context.Context, conversationID string, limit int) ([]Message, error) {
	r.mu.Lock()
	out := make([]Message, 0)
	for _, m := range r.rows {
		if m.ConversationID == conversationID {
			out = append(out, m)
		}
	}
	r.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (r *MemoryRepo) CountUnread(ctx context.Context, conversationID, readerID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, m := range r.rows {
		if m.ConversationID == conversationID && m.SenderID != readerID && m.ReadAt == nil {
			n++
		}
	}
	return n, nil
}
