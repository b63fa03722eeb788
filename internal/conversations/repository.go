package conversations

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"link-platform/internal/apperr"
)

// Repository is the conversation/profile slice of the relational store.
type Repository interface {
	Get(ctx context.Context, id string) (Conversation, error)
	ListForUser(ctx context.Context, userID string) ([]Conversation, error)
	Touch(ctx context.Context, id string, at time.Time) error
	DisplayName(ctx context.Context, userID string) (string, error)
}

// NOTE: This repository assumes the following tables exist:
// - conversations (id, created_at, updated_at)
// - conversation_participants (conversation_id, user_id), two rows per conversation
// - profiles (user_id, display_name)

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) Get(ctx context.Context, id string) (Conversation, error) {
	const q = `
SELECT c.id, c.created_at, c.updated_at, p.user_id
FROM conversations c
JOIN conversation_participants p ON p.conversation_id = c.id
WHERE c.id = $1
ORDER BY p.user_id
`
	rows, err := r.db.QueryContext(ctx, q, id)
	if err != nil {
		return Conversation{}, apperr.Store(err)
	}
	defer rows.Close()

	var c Conversation
	n := 0
	for rows.Next() {
		var uid string
		if err := rows.Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt, &uid); err != nil {
			return Conversation{}, apperr.Store(err)
		}
		if n < 2 {
			c.Participants[n] = uid
		}
		n++
	}
	if err := rows.Err(); err != nil {
		return Conversation{}, apperr.Store(err)
	}
	if n == 0 {
		return Conversation{}, apperr.ErrNotFound
	}
	return c, nil
}

func (r *PostgresRepo) ListForUser(ctx context.Context, userID string) ([]Conversation, error) {
	const q = `
SELECT c.id, c.created_at, c.updated_at, me.user_id, peer.user_id
FROM conversation_participants me
JOIN conversations c ON c.id = me.conversation_id
JOIN conversation_participants peer ON peer.conversation_id = me.conversation_id AND peer.user_id <> me.user_id
WHERE me.user_id = $1
ORDER BY c.updated_at DESC
`
	rows, err := r.db.QueryContext(ctx, q, userID)
	if err != nil {
		return nil, apperr.Store(err)
	}
	defer rows.Close()

	out := make([]Conversation, 0)
	for rows.Next() {
		var c Conversation
		if err := rows.Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt, &c.Participants[0], &c.Participants[1]); err != nil {
			return nil, apperr.Store(err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Store(err)
	}
	return out, nil
}

func (r *PostgresRepo) Touch(ctx context.Context, id string, at time.Time) error {
	// GREATEST keeps the marker monotonic under concurrent sends.
	const q = `UPDATE conversations SET updated_at = GREATEST(updated_at, $2) WHERE id = $1`
	res, err := r.db.ExecContext(ctx, q, id, at)
	if err != nil {
		return apperr.Store(err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return apperr.ErrNotFound
	}
	return nil
}

func (r *PostgresRepo) DisplayName(ctx context.Context, userID string) (string, error) {
	const q = `SELECT display_name FROM profiles WHERE user_id = $1`
	var name string
	if err := r.db.QueryRowContext(ctx, q, userID).Scan(&name); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", apperr.ErrNotFound
		}
		return "", apperr.Store(err)
	}
	return name, nil
}
