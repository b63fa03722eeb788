package messages

import (
	"context"
	"database/sql"
	"time"

	"link-platform/internal/apperr"
)

type Repository interface {
	Insert(ctx context.Context, m Message) error
	// MarkRead sets read_at on every unread message not sent by readerID and returns the updated rows.
	MarkRead(ctx context.Context, conversationID, readerID string, at time.Time) ([]Message, error)
	// List returns up to limit most recent messages, oldest first.
	List(ctx context.Context, conversationID string, limit int) ([]Message, error)
	CountUnread(ctx context.Context, conversationID, readerID string) (int, error)
}

const messageCols = `id, conversation_id, sender_id, content, created_at, read_at`

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(r rowScanner) (Message, error) {
	var m Message
	var readAt sql.NullTime
	if err := r.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Content, &m.CreatedAt, &readAt); err != nil {
		return Message{}, err
	}
	if readAt.Valid {
		t := readAt.Time
		m.ReadAt = &t
	}
	return m, nil
}

func (r *PostgresRepo) Insert(ctx context.Context, m Message) error {
	const q = `
INSERT INTO messages (` + messageCols + `)
VALUES ($1,$2,$3,$4,$5,$6)
`
	_, err := r.db.ExecContext(ctx, q, m.ID, m.ConversationID, m.SenderID, m.Content, m.CreatedAt, m.ReadAt)
	return apperr.Store(err)
}

func (r *PostgresRepo) MarkRead(ctx context.Context, conversationID, readerID string, at time.Time) ([]Message, error) {
	const q = `
UPDATE messages
SET read_at = $3
WHERE conversation_id = $1 AND sender_id <> $2 AND read_at IS NULL
RETURNING ` + messageCols
	return r.query(ctx, q, conversationID, readerID, at)
}

func (r *PostgresRepo) List(ctx context.Context, conversationID string, limit int) ([]Message, error) {
	const q = `
SELECT ` + messageCols + ` FROM (
  SELECT ` + messageCols + `
  FROM messages
  WHERE conversation_id = $1
  ORDER BY created_at DESC, id DESC
  LIMIT $2
) recent
ORDER BY created_at, id
`
	return r.query(ctx, q, conversationID, limit)
}

func (r *PostgresRepo) CountUnread(ctx context.Context, conversationID, readerID string) (int, error) {
	const q = `
SELECT count(*)
FROM messages
WHERE conversation_id = $1 AND sender_id <> $2 AND read_at IS NULL
`
	var n int
	if err := r.db.QueryRowContext(ctx, q, conversationID, readerID).Scan(&n); err != nil {
		return 0, apperr.Store(err)
	}
	return n, nil
}

func (r *PostgresRepo) query(ctx context.Context, q string, args ...any) ([]Message, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, apperr.Store(err)
	}
	defer rows.Close()

	out := make([]Message, 0)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, apperr.Store(err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Store(err)
	}
	return out, nil
}
