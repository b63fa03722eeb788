package callclient

import (
	"encoding/json"
	"fmt"
	"time"

	"link-platform/internal/calls"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// sessionRow is the wire shape of a call_sessions row on the change feed.
type sessionRow struct {
	ID             string     `json:"id" validate:"required"`
	ConversationID string     `json:"conversation_id" validate:"required"`
	CallerID       string     `json:"caller_id" validate:"required"`
	CalleeID       string     `json:"callee_id" validate:"required,nefield=CallerID"`
	CallType       string     `json:"call_type" validate:"oneof=audio video"`
	Status         string     `json:"status" validate:"oneof=ringing accepted rejected ended missed"`
	CreatedAt      time.Time  `json:"created_at" validate:"required"`
	StartedAt      *time.Time `json:"started_at"`
	EndedAt        *time.Time `json:"ended_at"`
}

// decodeSession validates a feed row before the state machine sees it.
// Anything malformed is an error; the caller drops the event.
func decodeSession(raw json.RawMessage) (calls.Session, error) {
	var row sessionRow
	if err := json.Unmarshal(raw, &row); err != nil {
		return calls.Session{}, fmt.Errorf("decode call session: %w", err)
	}
	if err := validate.Struct(row); err != nil {
		return calls.Session{}, fmt.Errorf("invalid call session: %w", err)
	}
	return calls.Session{
		ID:             row.ID,
		ConversationID: row.ConversationID,
		CallerID:       row.CallerID,
		CalleeID:       row.CalleeID,
		CallType:       calls.CallType(row.CallType),
		Status:         calls.Status(row.Status),
		CreatedAt:      row.CreatedAt,
		StartedAt:      row.StartedAt,
		EndedAt:        row.EndedAt,
	}, nil
}
