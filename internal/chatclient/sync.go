package chatclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"link-platform/internal/changefeed"
	"link-platform/internal/messages"
)

var ErrStopped = errors.New("chatclient: sync stopped")

// MessageAPI is the client's view of the message service, acting as the local user.
type MessageAPI interface {
	ListMessages(ctx context.Context, conversationID string, limit int) ([]messages.Message, error)
	SendMessage(ctx context.Context, conversationID, content string) (messages.Message, error)
	MarkAsRead(ctx context.Context, conversationID string) (int, error)
}

type SyncOptions struct {
	InitialLimit int
	// OnChange is called from the sync loop with the current view after each change.
	OnChange func(msgs []messages.Message)
	Log      *slog.Logger
}

// Sync keeps the View of one open conversation in step with the message feed and
// marks peer messages read while the conversation is open.
type Sync struct {
	self           string
	conversationID string
	api            MessageAPI
	feed           changefeed.Subscriber
	opts           SyncOptions
	log            *slog.Logger

	view *View
	cmds chan func()
	done chan struct{}

	mu     sync.RWMutex
	snap   []messages.Message
	marker string
}

func NewSync(self, conversationID string, api MessageAPI, feed changefeed.Subscriber, opts SyncOptions) *Sync {
	if opts.InitialLimit <= 0 {
		opts.InitialLimit = 100
	}
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	return &Sync{
		self:           self,
		conversationID: conversationID,
		api:            api,
		feed:           feed,
		opts:           opts,
		log:            log.With("user_id", self, "conversation_id", conversationID),
		view:           NewView(self),
		cmds:           make(chan func()),
		done:           make(chan struct{}),
	}
}

// Run subscribes before the initial load so nothing sent in between is lost;
// the overlap is removed by the view's de-duplication.
func (s *Sync) Run(ctx context.Context) error {
	defer close(s.done)

	events, err := s.feed.Subscribe(ctx, changefeed.TableMessages, changefeed.Filter{
		{Column: "conversation_id", Value: s.conversationID},
	})
	if err != nil {
		return fmt.Errorf("subscribe messages: %w", err)
	}

	initial, err := s.api.ListMessages(ctx, s.conversationID, s.opts.InitialLimit)
	if err != nil {
		return fmt.Errorf("initial load: %w", err)
	}
	for _, m := range initial {
		s.view.Insert(m)
	}
	s.publish()
	if s.view.UnreadFromPeer() {
		s.markRead(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return errors.New("message feed closed")
			}
			s.handleEvent(ctx, ev)
		case fn := <-s.cmds:
			fn()
		}
	}
}

// Send posts a message and shows it right away; the feed echo is de-duplicated.
func (s *Sync) Send(ctx context.Context, content string) (messages.Message, error) {
	var (
		out messages.Message
		err error
	)
	ran := make(chan struct{})
	fn := func() {
		defer close(ran)
		out, err = s.api.SendMessage(ctx, s.conversationID, content)
		if err != nil {
			return
		}
		if s.view.Insert(out) {
			s.publish()
		}
	}
	select {
	case s.cmds <- fn:
	case <-ctx.Done():
		return messages.Message{}, ctx.Err()
	case <-s.done:
		return messages.Message{}, ErrStopped
	}
	<-ran
	return out, err
}

// Messages returns the current ordered view.
func (s *Sync) Messages() []messages.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

// ReadMarker returns the id of the own message that carries the "read" marker.
func (s *Sync) ReadMarker() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.marker, s.marker != ""
}

func (s *Sync) handleEvent(ctx context.Context, ev changefeed.Event) {
	m, err := decodeMessage(ev.Row)
	if err != nil {
		s.log.Warn("message event dropped", "op", ev.Op, "err", err)
		return
	}
	if m.ConversationID != s.conversationID {
		return
	}

	switch ev.Op {
	case changefeed.OpInsert:
		if !s.view.Insert(m) {
			s.log.Debug("duplicate message ignored", "message_id", m.ID)
			return
		}
		s.publish()
		// Viewing the conversation is what marks the peer's messages read.
		if m.SenderID != s.self && m.ReadAt == nil {
			s.markRead(ctx)
		}
	case changefeed.OpUpdate:
		if s.view.Patch(m) {
			s.publish()
		}
	default:
		s.log.Warn("message event dropped", "op", ev.Op, "message_id", m.ID)
	}
}

// markRead failures are not fatal; the next peer message triggers another attempt.
func (s *Sync) markRead(ctx context.Context) {
	n, err := s.api.MarkAsRead(ctx, s.conversationID)
	if err != nil {
		s.log.Warn("mark as read failed", "err", err)
		return
	}
	s.log.Debug("messages marked read", "count", n)
}

func (s *Sync) publish() {
	snap := s.view.Messages()
	marker, _ := s.view.ReadMarker()

	s.mu.Lock()
	s.snap = snap
	s.marker = marker
	s.mu.Unlock()

	if s.opts.OnChange != nil {
		s.opts.OnChange(snap)
	}
}
