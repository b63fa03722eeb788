package conversations

import "time"

// Conversation is a two-party direct conversation.
// Membership is fixed at creation; UpdatedAt only moves forward and is bumped on every send.
type Conversation struct {
	ID           string    `json:"id"`
	Participants [2]string `json:"participants"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (c Conversation) HasParticipant(userID string) bool {
	return userID != "" && (c.Participants[0] == userID || c.Participants[1] == userID)
}

// Peer returns the other participant.
func (c Conversation) Peer(userID string) (string, bool) {
	switch userID {
	case "":
		return "", false
	case c.Participants[0]:
		return c.Participants[1], true
	case c.Participants[1]:
		return c.Participants[0], true
	default:
		return "", false
	}
}

// Summary is one row of a user's conversation list.
type Summary struct {
	ID          string    `json:"id"`
	PeerID      string    `json:"peer_id"`
	PeerName    string    `json:"peer_name"`
	UnreadCount int       `json:"unread_count"`
	UpdatedAt   time.Time `json:"updated_at"`
}
