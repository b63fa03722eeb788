package messages

import "time"

// Message is append-only. ReadAt is null until the recipient has seen it and never changes after.
type Message struct {
	ID             string     `json:"id"`
	ConversationID string     `json:"conversation_id"`
	SenderID       string     `json:"sender_id"`
	Content        string     `json:"content"`
	CreatedAt      time.Time  `json:"created_at"`
	ReadAt         *time.Time `json:"read_at"`
}

// MaxContentRunes bounds one message body.
const MaxContentRunes = 4000
