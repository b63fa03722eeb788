package calls

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"link-platform/internal/apperr"
)

var errDuplicateID = errors.New("duplicate session id")

// MemoryRepo is an in-memory Session Store for tests and local development.
// Insert enforces the single-active-call rule atomically, like the partial unique index.
type MemoryRepo struct {
	mu       sync.Mutex
	sessions map[string]Session
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{sessions: map[string]Session{}} }

func (r *MemoryRepo) Insert(ctx context.Context, s Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[s.ID]; ok {
		return apperr.Store(errDuplicateID)
	}
	if s.Status.Active() {
		for _, x := range r.sessions {
			if x.ConversationID == s.ConversationID && x.Status.Active() {
				return apperr.ErrAlreadyInCall
			}
		}
	}
	r.sessions[s.ID] = s
	return nil
}

func (r *MemoryRepo) Get(ctx context.Context, id string) (Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return Session{}, apperr.ErrNotFound
	}
	return s, nil
}

func (r *MemoryRepo) FindActive(ctx context.Context, conversationID string) (Session, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sessions {
		if s.ConversationID == conversationID && s.Status.Active() {
			return s, true, nil
		}
	}
	return Session{}, false, nil
}

func (r *MemoryRepo) Transition(ctx context.Context, t Transition) (Session, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[t.ID]
	if !ok || !t.allows(s) {
		return Session{}, false, nil
	}
	s = t.apply(s)
	r.sessions[s.ID] = s
	return s, true, nil
}

func (r *MemoryRepo) ListByConversation(ctx context.Context, conversationID string, limit int) ([]Session, error) {
	out := r.filter(func(s Session) bool { return s.ConversationID == conversationID })
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return truncate(out, limit), nil
}

func (r *MemoryRepo) ListStaleRinging(ctx context.Context, cutoff time.Time, limit int) ([]Session, error) {
	out := r.filter(func(s Session) bool { return s.Status == StatusRinging && s.CreatedAt.Before(cutoff) })
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return truncate(out, limit), nil
}

func (r *MemoryRepo) filter(keep func(Session) bool) []Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Session, 0)
	for _, s := range r.sessions {
		if keep(s) {
			out = append(out, s)
		}
	}
	return out
}

func truncate(s []Session, limit int) []Session {
	if limit > 0 && len(s) > limit {
		return s[:limit]
	}
	return s
}
