package calls

import "time"

// Session is the persisted record of one call attempt between the two participants of a conversation.
//
// Invariant: at most one Session per conversation is ringing or accepted at any time.
//
// Rows are never deleted; they double as call history.
type Session struct {
	ID             string     `json:"id"`
	ConversationID string     `json:"conversation_id"`
	CallerID       string     `json:"caller_id"`
	CalleeID       string     `json:"callee_id"`
	CallType       CallType   `json:"call_type"`
	Status         Status     `json:"status"`
	CreatedAt      time.Time  `json:"created_at"`
	StartedAt      *time.Time `json:"started_at"`
	EndedAt        *time.Time `json:"ended_at"`
}

func (s Session) IsParty(userID string) bool {
	return userID != "" && (s.CallerID == userID || s.CalleeID == userID)
}

// TalkTime is the connected duration of a call that was accepted and has ended.
func (s Session) TalkTime() time.Duration {
	if s.StartedAt == nil || s.EndedAt == nil || s.EndedAt.Before(*s.StartedAt) {
		return 0
	}
	return s.EndedAt.Sub(*s.StartedAt)
}

type Status string

const (
	StatusRinging  Status = "ringing"
	StatusAccepted Status = "accepted"
	StatusRejected Status = "rejected"
	StatusEnded    Status = "ended"
	StatusMissed   Status = "missed"
)

func (s Status) Valid() bool {
	switch s {
	case StatusRinging, StatusAccepted, StatusRejected, StatusEnded, StatusMissed:
		return true
	default:
		return false
	}
}

// Active statuses count against the single-active-call rule.
func (s Status) Active() bool { return s == StatusRinging || s == StatusAccepted }

func (s Status) Terminal() bool { return s.Valid() && !s.Active() }

type CallType string

const (
	CallTypeAudio CallType = "audio"
	CallTypeVideo CallType = "video"
)

func (t CallType) Valid() bool { return t == CallTypeAudio || t == CallTypeVideo }

// Party names who may request a transition.
type Party int

const (
	PartyCallee Party = iota + 1
	PartyCaller
	PartyEither
	// PartySystem transitions have no actor clause (server sweep).
	PartySystem
)

// Transition is a conditional update: it applies only while the row's status is one of From
// and the actor matches Party.
type Transition struct {
	ID      string
	From    []Status
	To      Status
	Party   Party
	ActorID string
	At      time.Time

	// CreatedBefore, when set, additionally requires created_at < CreatedBefore.
	CreatedBefore time.Time
}

func (t Transition) allows(s Session) bool {
	if s.ID != t.ID {
		return false
	}
	okFrom := false
	for _, f := range t.From {
		if s.Status == f {
			okFrom = true
			break
		}
	}
	if !okFrom {
		return false
	}
	if !t.CreatedBefore.IsZero() && !s.CreatedAt.Before(t.CreatedBefore) {
		return false
	}
	switch t.Party {
	case PartyCallee:
		return s.CalleeID == t.ActorID
	case PartyCaller:
		return s.CallerID == t.ActorID
	case PartyEither:
		return s.IsParty(t.ActorID)
	case PartySystem:
		return true
	default:
		return false
	}
}

// apply returns s after the transition, stamping started_at/ended_at.
func (t Transition) apply(s Session) Session {
	at := t.At
	s.Status = t.To
	if t.To == StatusAccepted {
		s.StartedAt = &at
	}
	if t.To.Terminal() {
		s.EndedAt = &at
	}
	return s
}
