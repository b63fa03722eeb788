package reporting

import (
	"context"
	"errors"

	"link-platform/internal/calls"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

// historyLimit bounds how much history one summary reads.
const historyLimit = 200

// CallHistory lists the sessions of a conversation visible to a participant.
// Implemented by calls.Service, which also enforces membership.
type CallHistory interface {
	ListCalls(ctx context.Context, conversationID, userID string, limit int) ([]calls.Session, error)
}

type Service struct {
	history CallHistory
}

func NewService(history CallHistory) *Service { return &Service{history: history} }

func (s *Service) CallHistorySummary(ctx context.Context, conversationID, userID string) (CallHistorySummary, error) {
	if conversationID == "" || userID == "" {
		return CallHistorySummary{}, ErrInvalidRequest
	}
	if s.history == nil {
		return CallHistorySummary{}, errors.New("reporting: call history not configured")
	}
	rows, err := s.history.ListCalls(ctx, conversationID, userID, historyLimit)
	if err != nil {
		return CallHistorySummary{}, err
	}
	out := Summarize(rows)
	out.ConversationID = conversationID
	return out, nil
}

// Summarize counts sessions by final status. Talk time only counts calls that were
// accepted and have ended.
func Summarize(rows []calls.Session) CallHistorySummary {
	var out CallHistorySummary
	for _, c := range rows {
		out.TotalCalls++
		if c.CallType == calls.CallTypeVideo {
			out.VideoCalls++
		}
		switch c.Status {
		case calls.StatusEnded:
			if c.StartedAt != nil {
				out.CompletedCalls++
				out.TotalTalkSeconds += int(c.TalkTime().Seconds())
			} else {
				out.CanceledCalls++
			}
		case calls.StatusRejected:
			out.RejectedCalls++
		case calls.StatusMissed:
			out.MissedCalls++
		case calls.StatusRinging, calls.StatusAccepted:
			out.ActiveCalls++
		}
	}
	if out.CompletedCalls > 0 {
		out.AverageTalkSeconds = out.TotalTalkSeconds / out.CompletedCalls
	}
	return out
}
