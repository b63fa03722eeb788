package conversations

import (
	"context"
	"sort"
	"sync"
	"time"

	"link-platform/internal/apperr"
)

// MemoryRepo is an in-memory conversation repository for tests and local development.
type MemoryRepo struct {
	mu sync.Mutex

	conversations map[string]Conversation
	names         map[string]string
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{conversations: map[string]Conversation{}, names: map[string]string{}}
}

// Add stores a conversation; it is the only way to create one.
func (r *MemoryRepo) Add(c Conversation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = c.CreatedAt
	}
	r.conversations[c.ID] = c
}

func (r *MemoryRepo) SetDisplayName(userID, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.names[userID] = name
}

func (r *MemoryRepo) Get(ctx context.Context, id string) (Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conversations[id]
	if !ok {
		return Conversation{}, apperr.ErrNotFound
	}
	return c, nil
}

func (r *MemoryRepo) ListForUser(ctx context.Context, userID string) ([]Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Conversation, 0)
	for _, c := range r.conversations {
		if c.HasParticipant(userID) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

func (r *MemoryRepo) Touch(ctx context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conversations[id]
	if !ok {
		return apperr.ErrNotFound
	}
	if at.After(c.UpdatedAt) {
		c.UpdatedAt = at
		r.conversations[id] = c
	}
	return nil
}

func (r *MemoryRepo) DisplayName(ctx context.Context, userID string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	name, ok := r.names[userID]
	if !ok {
		return "", apperr.ErrNotFound
	}
	return name, nil
}
