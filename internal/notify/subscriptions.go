package notify

import (
	"context"
	"database/sql"
	"net/url"
	"sort"
	"sync"
	"time"

	"link-platform/internal/apperr"
)

// Subscription is one browser push endpoint registered by a user.
type Subscription struct {
	UserID         string     `json:"user_id"`
	Endpoint       string     `json:"endpoint"`
	P256dh         string     `json:"p256dh"`
	Auth           string     `json:"auth"`
	ExpirationTime *time.Time `json:"expiration_time,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

type SubscriptionStore interface {
	// Upsert is keyed by (user_id, endpoint).
	Upsert(ctx context.Context, s Subscription) error
	ListForUser(ctx context.Context, userID string) ([]Subscription, error)
	Delete(ctx context.Context, userID, endpoint string) error
}

// Register validates and stores a push subscription for userID.
func Register(ctx context.Context, store SubscriptionStore, s Subscription, now time.Time) error {
	if s.UserID == "" {
		return apperr.Validation("user_id required")
	}
	u, err := url.Parse(s.Endpoint)
	if err != nil || u.Scheme != "https" || u.Host == "" {
		return apperr.Validation("endpoint must be an https url")
	}
	if s.P256dh == "" || s.Auth == "" {
		return apperr.Validation("p256dh and auth keys required")
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now.UTC()
	}
	return store.Upsert(ctx, s)
}

// NOTE: This store assumes a push_subscriptions table with UNIQUE (user_id, endpoint).

type PostgresSubscriptions struct {
	db *sql.DB
}

func NewPostgresSubscriptions(db *sql.DB) *PostgresSubscriptions {
	return &PostgresSubscriptions{db: db}
}

func (r *PostgresSubscriptions) Upsert(ctx context.Context, s Subscription) error {
	const q = `
INSERT INTO push_subscriptions (user_id, endpoint, p256dh, auth, expiration_time, created_at)
VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (user_id, endpoint)
DO UPDATE SET p256dh = EXCLUDED.p256dh, auth = EXCLUDED.auth, expiration_time = EXCLUDED.expiration_time
`
	_, err := r.db.ExecContext(ctx, q, s.UserID, s.Endpoint, s.P256dh, s.Auth, s.ExpirationTime, s.CreatedAt)
	return apperr.Store(err)
}

func (r *PostgresSubscriptions) ListForUser(ctx context.Context, userID string) ([]Subscription, error) {
	const q = `
SELECT user_id, endpoint, p256dh, auth, expiration_time, created_at
FROM push_subscriptions
WHERE user_id = $1
ORDER BY created_at
`
	rows, err := r.db.QueryContext(ctx, q, userID)
	if err != nil {
		return nil, apperr.Store(err)
	}
	defer rows.Close()

	out := make([]Subscription, 0)
	for rows.Next() {
		var s Subscription
		var exp sql.NullTime
		if err := rows.Scan(&s.UserID, &s.Endpoint, &s.P256dh, &s.Auth, &exp, &s.CreatedAt); err != nil {
			return nil, apperr.Store(err)
		}
		if exp.Valid {
			t := exp.Time
			s.ExpirationTime = &t
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Store(err)
	}
	return out, nil
}

func (r *PostgresSubscriptions) Delete(ctx context.Context, userID, endpoint string) error {
	const q = `DELETE FROM push_subscriptions WHERE user_id = $1 AND endpoint = $2`
	_, err := r.db.ExecContext(ctx, q, userID, endpoint)
	return apperr.Store(err)
}

// MemorySubscriptions is an in-memory SubscriptionStore for tests and local development.
type MemorySubscriptions struct {
	mu   sync.Mutex
	subs map[string]map[string]Subscription // user_id -> endpoint -> sub
}

func NewMemorySubscriptions() *MemorySubscriptions {
	return &MemorySubscriptions{subs: map[string]map[string]Subscription{}}
}

func (m *MemorySubscriptions) Upsert(ctx context.Context, s Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	byEndpoint, ok := m.subs[s.UserID]
	if !ok {
		byEndpoint = map[string]Subscription{}
		m.subs[s.UserID] = byEndpoint
	}
	if prev, ok := byEndpoint[s.Endpoint]; ok {
		s.CreatedAt = prev.CreatedAt
	}
	byEndpoint[s.Endpoint] = s
	return nil
}

func (m *MemorySubscriptions) ListForUser(ctx context.Context, userID string) ([]Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Subscription, 0, len(m.subs[userID]))
	for _, s := range m.subs[userID] {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Endpoint < out[j].Endpoint })
	return out, nil
}

func (m *MemorySubscriptions) Delete(ctx context.Context, userID, endpoint string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.subs[userID], endpoint)
	return nil
}
