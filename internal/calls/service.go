package calls

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"link-platform/internal/apperr"
	"link-platform/internal/changefeed"
	"link-platform/internal/notify"

	"github.com/google/uuid"
)

// Participants resolves conversation membership.
type Participants interface {
	// Peer returns the other participant, or apperr.ErrNotAuthorized if userID is not a member.
	Peer(ctx context.Context, conversationID, userID string) (string, error)
	DisplayName(ctx context.Context, userID string) (string, error)
}

type Options struct {
	// RingTimeout is the caller-side deadline; the sweep waits RingTimeout+SweepGrace.
	RingTimeout time.Duration
	SweepGrace  time.Duration
	// SweepBatch caps how many sessions one sweep expires.
	SweepBatch int
}

// Service is the call signaling engine: the single writer of call-session status.
//
// Every transition is a conditional update against the store. A transition that
// matches zero rows reports apperr.ErrTransitionRejected and changes nothing.
type Service struct {
	repo         Repository
	participants Participants
	feed         changefeed.Publisher
	notifier     notify.Dispatcher
	log          *slog.Logger
	opts         Options

	// clock is injectable for deterministic tests.
	clock func() time.Time
	newID func() string
}

func NewService(repo Repository, participants Participants, feed changefeed.Publisher, notifier notify.Dispatcher, log *slog.Logger, opts Options) *Service {
	if log == nil {
		log = slog.Default()
	}
	if opts.RingTimeout <= 0 {
		opts.RingTimeout = 30 * time.Second
	}
	if opts.SweepBatch <= 0 {
		opts.SweepBatch = 100
	}
	return &Service{
		repo:         repo,
		participants: participants,
		feed:         feed,
		notifier:     notifier,
		log:          log,
		opts:         opts,
		clock:        time.Now,
		newID:        uuid.NewString,
	}
}

// StartCall creates a ringing session and alerts the callee.
func (s *Service) StartCall(ctx context.Context, conversationID, callerID string, callType CallType) (Session, error) {
	if !callType.Valid() {
		return Session{}, apperr.Validation("call_type must be audio or video")
	}
	calleeID, err := s.participants.Peer(ctx, conversationID, callerID)
	if err != nil {
		return Session{}, err
	}

	// Fast path. The store enforces the same rule on insert for the racing case.
	if _, ok, err := s.repo.FindActive(ctx, conversationID); err != nil {
		return Session{}, err
	} else if ok {
		return Session{}, apperr.ErrAlreadyInCall
	}

	sess := Session{
		ID:             s.newID(),
		ConversationID: conversationID,
		CallerID:       callerID,
		CalleeID:       calleeID,
		CallType:       callType,
		Status:         StatusRinging,
		CreatedAt:      s.clock().UTC(),
	}
	if err := s.repo.Insert(ctx, sess); err != nil {
		return Session{}, err
	}
	s.publish(ctx, changefeed.OpInsert, sess)
	s.notifyCallee(ctx, sess)

	s.log.Info("call started", "session_id", sess.ID, "conversation_id", conversationID, "call_type", callType)
	return sess, nil
}

// Accept moves ringing to accepted. Only the callee may accept.
func (s *Service) Accept(ctx context.Context, sessionID, calleeID string) (Session, error) {
	return s.transition(ctx, Transition{
		ID:      sessionID,
		From:    []Status{StatusRinging},
		To:      StatusAccepted,
		Party:   PartyCallee,
		ActorID: calleeID,
	})
}

// Reject moves ringing to rejected. Only the callee may reject.
func (s *Service) Reject(ctx context.Context, sessionID, calleeID string) (Session, error) {
	return s.transition(ctx, Transition{
		ID:      sessionID,
		From:    []Status{StatusRinging},
		To:      StatusRejected,
		Party:   PartyCallee,
		ActorID: calleeID,
	})
}

// Miss moves ringing to missed on the caller's ring timeout. If the callee accepted
// first this reports ErrTransitionRejected and the live call is untouched.
func (s *Service) Miss(ctx context.Context, sessionID, callerID string) (Session, error) {
	return s.transition(ctx, Transition{
		ID:      sessionID,
		From:    []Status{StatusRinging},
		To:      StatusMissed,
		Party:   PartyCaller,
		ActorID: callerID,
	})
}

// End hangs up a ringing or accepted session. Either party may end.
// Ending an already terminal session is a no-op that returns the stored row.
func (s *Service) End(ctx context.Context, sessionID, requesterID string) (Session, error) {
	sess, err := s.transition(ctx, Transition{
		ID:      sessionID,
		From:    []Status{StatusRinging, StatusAccepted},
		To:      StatusEnded,
		Party:   PartyEither,
		ActorID: requesterID,
	})
	if !errors.Is(err, apperr.ErrTransitionRejected) {
		return sess, err
	}

	cur, err := s.repo.Get(ctx, sessionID)
	if err != nil {
		return Session{}, err
	}
	if !cur.IsParty(requesterID) {
		return Session{}, apperr.ErrNotAuthorized
	}
	if cur.Status.Terminal() {
		return cur, nil
	}
	return Session{}, apperr.ErrTransitionRejected
}

// Get returns a session visible to userID.
func (s *Service) Get(ctx context.Context, sessionID, userID string) (Session, error) {
	sess, err := s.repo.Get(ctx, sessionID)
	if err != nil {
		return Session{}, err
	}
	if !sess.IsParty(userID) {
		return Session{}, apperr.ErrNotAuthorized
	}
	return sess, nil
}

// ListCalls returns the conversation's call history, newest first.
func (s *Service) ListCalls(ctx context.Context, conversationID, userID string, limit int) ([]Session, error) {
	if _, err := s.participants.Peer(ctx, conversationID, userID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.repo.ListByConversation(ctx, conversationID, limit)
}

// ExpireRinging marks ringing sessions past the ring deadline plus grace as missed.
// It covers callers whose process died mid-ring. Returns how many sessions were expired.
func (s *Service) ExpireRinging(ctx context.Context) (int, error) {
	now := s.clock().UTC()
	cutoff := now.Add(-(s.opts.RingTimeout + s.opts.SweepGrace))

	stale, err := s.repo.ListStaleRinging(ctx, cutoff, s.opts.SweepBatch)
	if err != nil {
		return 0, err
	}

	n := 0
	for _, st := range stale {
		sess, ok, err := s.repo.Transition(ctx, Transition{
			ID:            st.ID,
			From:          []Status{StatusRinging},
			To:            StatusMissed,
			Party:         PartySystem,
			At:            now,
			CreatedBefore: cutoff,
		})
		if err != nil {
			return n, err
		}
		if !ok {
			continue
		}
		n++
		s.publish(ctx, changefeed.OpUpdate, sess)
	}
	if n > 0 {
		s.log.Info("ringing sessions expired", "count", n)
	}
	return n, nil
}

func (s *Service) transition(ctx context.Context, t Transition) (Session, error) {
	if t.ID == "" || t.ActorID == "" {
		return Session{}, apperr.Validation("session_id and user_id required")
	}
	t.At = s.clock().UTC()

	sess, ok, err := s.repo.Transition(ctx, t)
	if err != nil {
		return Session{}, err
	}
	if !ok {
		return Session{}, apperr.ErrTransitionRejected
	}
	s.publish(ctx, changefeed.OpUpdate, sess)
	s.log.Info("call transition", "session_id", sess.ID, "status", sess.Status)
	return sess, nil
}

// publish failures are logged only; the write is already committed.
func (s *Service) publish(ctx context.Context, op changefeed.Op, sess Session) {
	if err := changefeed.Publish(ctx, s.feed, changefeed.TableCallSessions, op, sess); err != nil {
		s.log.Warn("change feed publish failed", "session_id", sess.ID, "op", op, "err", err)
	}
}

func (s *Service) notifyCallee(ctx context.Context, sess Session) {
	if s.notifier == nil {
		return
	}
	name, err := s.participants.DisplayName(ctx, sess.CallerID)
	if err != nil {
		s.log.Warn("caller name lookup failed", "session_id", sess.ID, "err", err)
	}
	s.notifier.Dispatch(ctx, sess.CalleeID, notify.IncomingCall(name, sess.ConversationID, sess.CallType == CallTypeVideo))
}
