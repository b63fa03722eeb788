package messages

import (
	"context"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"link-platform/internal/apperr"
	"link-platform/internal/changefeed"
	"link-platform/internal/notify"

	"github.com/google/uuid"
)

// Conversations is the slice of the conversation service the message path needs.
type Conversations interface {
	Peer(ctx context.Context, conversationID, userID string) (string, error)
	DisplayName(ctx context.Context, userID string) (string, error)
	Touch(ctx context.Context, conversationID string, at time.Time) error
}

// Service is the server side of message sync: append-only sends and batched read marking.
type Service struct {
	repo     Repository
	convs    Conversations
	feed     changefeed.Publisher
	notifier notify.Dispatcher
	log      *slog.Logger

	// clock is injectable for deterministic tests.
	clock func() time.Time
	newID func() string
}

func NewService(repo Repository, convs Conversations, feed changefeed.Publisher, notifier notify.Dispatcher, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		repo:     repo,
		convs:    convs,
		feed:     feed,
		notifier: notifier,
		log:      log,
		clock:    time.Now,
		newID:    uuid.NewString,
	}
}

// Send appends a message, bumps the conversation's activity marker and alerts the recipient.
// Only the insert can fail the send.
func (s *Service) Send(ctx context.Context, conversationID, senderID, content string) (Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return Message{}, apperr.Validation("content is empty")
	}
	if utf8.RuneCountInString(content) > MaxContentRunes {
		return Message{}, apperr.Validation("content too long")
	}
	recipientID, err := s.convs.Peer(ctx, conversationID, senderID)
	if err != nil {
		return Message{}, err
	}

	m := Message{
		ID:             s.newID(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
		CreatedAt:      s.clock().UTC(),
	}
	if err := s.repo.Insert(ctx, m); err != nil {
		return Message{}, err
	}
	s.publish(ctx, changefeed.OpInsert, m)

	if err := s.convs.Touch(ctx, conversationID, m.CreatedAt); err != nil {
		s.log.Warn("conversation activity bump failed", "conversation_id", conversationID, "err", err)
	}

	if s.notifier != nil {
		name, err := s.convs.DisplayName(ctx, senderID)
		if err != nil {
			s.log.Warn("sender name lookup failed", "conversation_id", conversationID, "err", err)
		}
		s.notifier.Dispatch(ctx, recipientID, notify.NewMessage(name, conversationID, content))
	}
	return m, nil
}

// MarkAsRead stamps read_at on every unread message from the peer in one batched update.
// Running it again is a no-op. Returns how many messages changed.
func (s *Service) MarkAsRead(ctx context.Context, conversationID, readerID string) (int, error) {
	if _, err := s.convs.Peer(ctx, conversationID, readerID); err != nil {
		return 0, err
	}
	updated, err := s.repo.MarkRead(ctx, conversationID, readerID, s.clock().UTC())
	if err != nil {
		return 0, err
	}
	for _, m := range updated {
		s.publish(ctx, changefeed.OpUpdate, m)
	}
	return len(updated), nil
}

// List is the initial load for a conversation view, oldest first.
func (s *Service) List(ctx context.Context, conversationID, userID string, limit int) ([]Message, error) {
	if _, err := s.convs.Peer(ctx, conversationID, userID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.repo.List(ctx, conversationID, limit)
}

func (s *Service) publish(ctx context.Context, op changefeed.Op, m Message) {
	if err := changefeed.Publish(ctx, s.feed, changefeed.TableMessages, op, m); err != nil {
		s.log.Warn("change feed publish failed", "message_id", m.ID, "op", op, "err", err)
	}
}
