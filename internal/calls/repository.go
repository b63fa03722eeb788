package calls

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"link-platform/internal/apperr"

	"github.com/jackc/pgx/v5/pgconn"
)

// Repository is the Session Store contract.
//
// Transition is the only way status changes: it is a compare-and-swap on a single row.
// ok=false means zero rows matched the precondition.
type Repository interface {
	// Insert returns apperr.ErrAlreadyInCall if another session of the conversation is active.
	Insert(ctx context.Context, s Session) error
	Get(ctx context.Context, id string) (Session, error)
	FindActive(ctx context.Context, conversationID string) (Session, bool, error)
	Transition(ctx context.Context, t Transition) (Session, bool, error)
	// ListByConversation returns newest first.
	ListByConversation(ctx context.Context, conversationID string, limit int) ([]Session, error)
	// ListStaleRinging returns ringing sessions created before cutoff, oldest first.
	ListStaleRinging(ctx context.Context, cutoff time.Time, limit int) ([]Session, error)
}

// NOTE: This repository assumes the call_sessions table and the partial unique index
// call_sessions_one_active_idx ON (conversation_id) WHERE status IN ('ringing','accepted').

const oneActiveIndex = "call_sessions_one_active_idx"

const sessionCols = `id, conversation_id, caller_id, callee_id, call_type, status, created_at, started_at, ended_at`

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(r rowScanner) (Session, error) {
	var s Session
	var started, ended sql.NullTime
	if err := r.Scan(
		&s.ID,
		&s.ConversationID,
		&s.CallerID,
		&s.CalleeID,
		&s.CallType,
		&s.Status,
		&s.CreatedAt,
		&started,
		&ended,
	); err != nil {
		return Session{}, err
	}
	if started.Valid {
		t := started.Time
		s.StartedAt = &t
	}
	if ended.Valid {
		t := ended.Time
		s.EndedAt = &t
	}
	return s, nil
}

func (r *PostgresRepo) Insert(ctx context.Context, s Session) error {
	const q = `
INSERT INTO call_sessions (` + sessionCols + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
`
	_, err := r.db.ExecContext(ctx, q,
		s.ID,
		s.ConversationID,
		s.CallerID,
		s.CalleeID,
		string(s.CallType),
		string(s.Status),
		s.CreatedAt,
		s.StartedAt,
		s.EndedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == oneActiveIndex {
			return apperr.ErrAlreadyInCall
		}
		return apperr.Store(err)
	}
	return nil
}

func (r *PostgresRepo) Get(ctx context.Context, id string) (Session, error) {
	q := `SELECT ` + sessionCols + ` FROM call_sessions WHERE id = $1`
	s, err := scanSession(r.db.QueryRowContext(ctx, q, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, apperr.ErrNotFound
		}
		return Session{}, apperr.Store(err)
	}
	return s, nil
}

func (r *PostgresRepo) FindActive(ctx context.Context, conversationID string) (Session, bool, error) {
	q := `
SELECT ` + sessionCols + `
FROM call_sessions
WHERE conversation_id = $1 AND status IN ('ringing','accepted')
ORDER BY created_at DESC
LIMIT 1
`
	s, err := scanSession(r.db.QueryRowContext(ctx, q, conversationID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, false, nil
		}
		return Session{}, false, apperr.Store(err)
	}
	return s, true, nil
}

func (r *PostgresRepo) Transition(ctx context.Context, t Transition) (Session, bool, error) {
	q, args := transitionQuery(t)
	s, err := scanSession(r.db.QueryRowContext(ctx, q, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, false, nil
		}
		return Session{}, false, apperr.Store(err)
	}
	return s, true, nil
}

// transitionQuery builds the conditional UPDATE for t. started_at/ended_at are only
// overwritten when the target status stamps them.
func transitionQuery(t Transition) (string, []any) {
	var startedAt, endedAt *time.Time
	at := t.At
	if t.To == StatusAccepted {
		startedAt = &at
	}
	if t.To.Terminal() {
		endedAt = &at
	}

	from := make([]string, 0, len(t.From))
	for _, f := range t.From {
		from = append(from, string(f))
	}

	args := []any{string(t.To), startedAt, endedAt, t.ID, from}
	var where []string
	where = append(where, "id = $4", "status = ANY($5)")

	switch t.Party {
	case PartyCallee:
		args = append(args, t.ActorID)
		where = append(where, fmt.Sprintf("callee_id = $%d", len(args)))
	case PartyCaller:
		args = append(args, t.ActorID)
		where = append(where, fmt.Sprintf("caller_id = $%d", len(args)))
	case PartyEither:
		args = append(args, t.ActorID)
		n := len(args)
		where = append(where, fmt.Sprintf("(caller_id = $%d OR callee_id = $%d)", n, n))
	case PartySystem:
	default:
		// Unknown party never matches.
		where = append(where, "FALSE")
	}
	if !t.CreatedBefore.IsZero() {
		args = append(args, t.CreatedBefore)
		where = append(where, fmt.Sprintf("created_at < $%d", len(args)))
	}

	q := `
UPDATE call_sessions
SET status = $1,
    started_at = COALESCE($2, started_at),
    ended_at = COALESCE($3, ended_at)
WHERE ` + strings.Join(where, " AND ") + `
RETURNING ` + sessionCols
	return q, args
}

func (r *PostgresRepo) ListByConversation(ctx context.Context, conversationID string, limit int) ([]Session, error) {
	q := `
SELECT ` + sessionCols + `
FROM call_sessions
WHERE conversation_id = $1
ORDER BY created_at DESC
LIMIT $2
`
	return r.list(ctx, q, conversationID, limit)
}

func (r *PostgresRepo) ListStaleRinging(ctx context.Context, cutoff time.Time, limit int) ([]Session, error) {
	q := `
SELECT ` + sessionCols + `
FROM call_sessions
WHERE status = 'ringing' AND created_at < $1
ORDER BY created_at
LIMIT $2
`
	return r.list(ctx, q, cutoff, limit)
}

func (r *PostgresRepo) list(ctx context.Context, q string, args ...any) ([]Session, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, apperr.Store(err)
	}
	defer rows.Close()

	out := make([]Session, 0)
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, apperr.Store(err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Store(err)
	}
	return out, nil
}
