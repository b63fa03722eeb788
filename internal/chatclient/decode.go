package chatclient

import (
	"encoding/json"
	"fmt"
	"time"

	"link-platform/internal/messages"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

type messageRow struct {
	ID             string     `json:"id" validate:"required"`
	ConversationID string     `json:"conversation_id" validate:"required"`
	SenderID       string     `json:"sender_id" validate:"required"`
	Content        string     `json:"content" validate:"required"`
	CreatedAt      time.Time  `json:"created_at" validate:"required"`
	ReadAt         *time.Time `json:"read_at"`
}

func decodeMessage(raw json.RawMessage) (messages.Message, error) {
	var row messageRow
	if err := json.Unmarshal(raw, &row); err != nil {
		return messages.Message{}, fmt.Errorf("decode message: %w", err)
	}
	if err := validate.Struct(row); err != nil {
		return messages.Message{}, fmt.Errorf("invalid message: %w", err)
	}
	return messages.Message(row), nil
}
