package conversations

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"link-platform/internal/apperr"
)

// UnreadCounter counts messages from the peer that the reader has not read yet.
// Implemented by the message store.
type UnreadCounter interface {
	CountUnread(ctx context.Context, conversationID, readerID string) (int, error)
}

type Service struct {
	repo   Repository
	unread UnreadCounter
	log    *slog.Logger
}

func NewService(repo Repository, unread UnreadCounter, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{repo: repo, unread: unread, log: log}
}

// Peer returns the other participant of conversationID.
// A user outside the conversation gets ErrNotAuthorized.
func (s *Service) Peer(ctx context.Context, conversationID, userID string) (string, error) {
	if conversationID == "" || userID == "" {
		return "", apperr.Validation("conversation_id and user_id required")
	}
	c, err := s.repo.Get(ctx, conversationID)
	if err != nil {
		return "", err
	}
	peer, ok := c.Peer(userID)
	if !ok {
		return "", apperr.ErrNotAuthorized
	}
	return peer, nil
}

// Touch bumps the conversation's activity marker.
func (s *Service) Touch(ctx context.Context, conversationID string, at time.Time) error {
	return s.repo.Touch(ctx, conversationID, at)
}

// DisplayName returns the user's profile name, or "" when none is stored.
func (s *Service) DisplayName(ctx context.Context, userID string) (string, error) {
	name, err := s.repo.DisplayName(ctx, userID)
	if errors.Is(err, apperr.ErrNotFound) {
		return "", nil
	}
	return name, err
}

// List returns the user's conversations, most recently active first, with unread counts.
func (s *Service) List(ctx context.Context, userID string) ([]Summary, error) {
	if userID == "" {
		return nil, apperr.Validation("user_id required")
	}
	rows, err := s.repo.ListForUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	out := make([]Summary, 0, len(rows))
	for _, c := range rows {
		peer, _ := c.Peer(userID)
		sum := Summary{ID: c.ID, PeerID: peer, UpdatedAt: c.UpdatedAt}

		if name, err := s.DisplayName(ctx, peer); err != nil {
			s.log.Warn("peer name lookup failed", "conversation_id", c.ID, "err", err)
		} else {
			sum.PeerName = name
		}
		if s.unread != nil {
			n, err := s.unread.CountUnread(ctx, c.ID, userID)
			if err != nil {
				return nil, err
			}
			sum.UnreadCount = n
		}
		out = append(out, sum)
	}
	return out, nil
}
