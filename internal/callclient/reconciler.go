package callclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"link-platform/internal/apperr"
	"link-platform/internal/calls"
	"link-platform/internal/changefeed"
	"link-platform/internal/media"
)

type Options struct {
	// RingTimeout is how long an outgoing call rings before the caller gives up.
	RingTimeout time.Duration
	// RetryDelay re-arms the ring timeout when the miss request itself failed.
	RetryDelay time.Duration
	Clock      Clock
	// Media is optional; without it the reconciler only tracks signaling.
	Media media.Transport
	// OnChange is called from the reconciliation loop after every local state change.
	OnChange func(st State, active bool)
	Log      *slog.Logger
}

const finishedMemory = 64

// Reconciler turns call_sessions change events into the local call state of one user.
//
// A single goroutine (Run) owns the state. Feed events, user commands, the ring
// timer and media room events are all consumed there, so transitions never interleave.
type Reconciler struct {
	userID string
	sig    Signaling
	feed   changefeed.Subscriber
	opts   Options
	log    *slog.Logger

	cmds chan command
	done chan struct{}

	// Owned by the loop.
	state    *State
	timer    Timer
	room     media.Room
	audio    media.LocalTrack
	video    media.LocalTrack
	finished map[string]struct{}
	order    []string

	mu       sync.RWMutex
	snapshot *State
}

type command struct {
	run   func() error
	reply chan error
}

func New(userID string, sig Signaling, feed changefeed.Subscriber, opts Options) *Reconciler {
	if opts.RingTimeout <= 0 {
		opts.RingTimeout = 30 * time.Second
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 5 * time.Second
	}
	if opts.Clock == nil {
		opts.Clock = realClock{}
	}
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	return &Reconciler{
		userID:   userID,
		sig:      sig,
		feed:     feed,
		opts:     opts,
		log:      log.With("user_id", userID),
		cmds:     make(chan command),
		done:     make(chan struct{}),
		finished: map[string]struct{}{},
	}
}

// Run consumes events until ctx is done. It must be called exactly once.
func (r *Reconciler) Run(ctx context.Context) error {
	defer close(r.done)

	events, err := r.feed.Subscribe(ctx, changefeed.TableCallSessions, changefeed.Filter{
		{Column: "caller_id", Value: r.userID},
		{Column: "callee_id", Value: r.userID},
	})
	if err != nil {
		return fmt.Errorf("subscribe call sessions: %w", err)
	}
	defer r.teardown(ctx)

	for {
		var timeout <-chan time.Time
		if r.timer != nil {
			timeout = r.timer.C()
		}
		var roomEvents <-chan media.Event
		if r.room != nil {
			roomEvents = r.room.Events()
		}

		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return errors.New("call session feed closed")
			}
			r.handleEvent(ctx, ev)
		case cmd := <-r.cmds:
			cmd.reply <- cmd.run()
		case <-timeout:
			r.timer = nil
			r.handleTimeout(ctx)
		case mev, ok := <-roomEvents:
			if !ok {
				r.log.Warn("media room closed by transport")
				r.room, r.audio, r.video = nil, nil, nil
				r.publish()
				continue
			}
			r.handleMedia(ctx, mev)
		}
	}
}

// State returns the current local call, if any.
func (r *Reconciler) State() (State, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.snapshot == nil {
		return State{}, false
	}
	return *r.snapshot, true
}

// StartCall rings the peer of conversationID. The caller joins the media room right away.
func (r *Reconciler) StartCall(ctx context.Context, conversationID string, callType calls.CallType) (State, error) {
	var out State
	err := r.do(ctx, func() error {
		if r.state != nil {
			return ErrBusy
		}
		sess, err := r.sig.StartCall(ctx, conversationID, callType)
		if err != nil {
			return err
		}
		r.state = &State{
			SessionID:      sess.ID,
			ConversationID: sess.ConversationID,
			CallType:       sess.CallType,
			Role:           RoleCaller,
			Status:         calls.StatusRinging,
			PeerID:         sess.CalleeID,
		}
		r.armTimer(r.opts.RingTimeout)
		r.log.Info("outgoing call ringing", "session_id", sess.ID)
		r.publish()

		r.joinMedia(ctx)
		if r.state == nil {
			return errors.New("callclient: call ended, media unavailable")
		}
		out = *r.state
		return nil
	})
	return out, err
}

// Accept answers the ringing incoming call.
func (r *Reconciler) Accept(ctx context.Context) error {
	return r.do(ctx, func() error {
		if r.state == nil || r.state.Role != RoleCallee || r.state.Status != calls.StatusRinging {
			return ErrNoCall
		}
		sess, err := r.sig.Accept(ctx, r.state.SessionID)
		if err != nil {
			return err
		}
		r.apply(ctx, sess)
		return nil
	})
}

// Reject declines the ringing incoming call.
func (r *Reconciler) Reject(ctx context.Context) error {
	return r.do(ctx, func() error {
		if r.state == nil || r.state.Role != RoleCallee || r.state.Status != calls.StatusRinging {
			return ErrNoCall
		}
		sess, err := r.sig.Reject(ctx, r.state.SessionID)
		if err != nil {
			return err
		}
		r.apply(ctx, sess)
		return nil
	})
}

// Hangup ends the current call from either side.
func (r *Reconciler) Hangup(ctx context.Context) error {
	return r.do(ctx, func() error {
		if r.state == nil {
			return ErrNoCall
		}
		sess, err := r.sig.End(ctx, r.state.SessionID)
		if err != nil {
			return err
		}
		r.apply(ctx, sess)
		return nil
	})
}

// SetMuted toggles the local microphone track. No signaling is involved.
func (r *Reconciler) SetMuted(ctx context.Context, muted bool) error {
	return r.do(ctx, func() error {
		if r.state == nil {
			return ErrNoCall
		}
		if r.audio != nil {
			if err := r.audio.SetEnabled(!muted); err != nil {
				return err
			}
		}
		r.state.Muted = muted
		r.publish()
		return nil
	})
}

// SetCameraOff toggles the local camera track of a video call.
func (r *Reconciler) SetCameraOff(ctx context.Context, off bool) error {
	return r.do(ctx, func() error {
		if r.state == nil {
			return ErrNoCall
		}
		if r.state.CallType != calls.CallTypeVideo {
			return apperr.Validation("camera toggle needs a video call")
		}
		if r.video != nil {
			if err := r.video.SetEnabled(!off); err != nil {
				return err
			}
		}
		r.state.CameraOff = off
		r.publish()
		return nil
	})
}

func (r *Reconciler) do(ctx context.Context, fn func() error) error {
	cmd := command{run: fn, reply: make(chan error, 1)}
	select {
	case r.cmds <- cmd:
	case <-ctx.Done():
		return ctx.Err()
	case <-r.done:
		return ErrStopped
	}
	select {
	case err := <-cmd.reply:
		return err
	case <-r.done:
		return ErrStopped
	}
}

func (r *Reconciler) handleEvent(ctx context.Context, ev changefeed.Event) {
	sess, err := decodeSession(ev.Row)
	if err != nil {
		r.log.Warn("call session event dropped", "op", ev.Op, "err", err)
		return
	}
	if !sess.IsParty(r.userID) {
		return
	}

	switch ev.Op {
	case changefeed.OpInsert:
		r.onInsert(ctx, sess)
	case changefeed.OpUpdate:
		r.apply(ctx, sess)
	default:
		r.log.Warn("call session event dropped", "op", ev.Op, "session_id", sess.ID)
	}
}

func (r *Reconciler) onInsert(ctx context.Context, sess calls.Session) {
	if r.state != nil {
		if r.state.SessionID == sess.ID {
			r.apply(ctx, sess)
			return
		}
		// No call waiting: a second incoming call is ignored while busy.
		r.log.Debug("incoming call ignored while busy", "session_id", sess.ID)
		return
	}
	if sess.CalleeID != r.userID || sess.Status != calls.StatusRinging {
		return
	}
	if _, done := r.finished[sess.ID]; done {
		r.log.Debug("stale ringing event ignored", "session_id", sess.ID)
		return
	}

	r.state = &State{
		SessionID:      sess.ID,
		ConversationID: sess.ConversationID,
		CallType:       sess.CallType,
		Role:           RoleCallee,
		Status:         calls.StatusRinging,
		PeerID:         sess.CallerID,
	}
	r.log.Info("incoming call", "session_id", sess.ID, "call_type", sess.CallType)
	r.publish()
}

// apply folds a persisted session row into local state. Rows for other sessions
// only update the finished set; duplicates and stale rows are no-ops.
func (r *Reconciler) apply(ctx context.Context, sess calls.Session) {
	if sess.Status.Terminal() {
		r.remember(sess.ID)
	}
	if r.state == nil || r.state.SessionID != sess.ID {
		return
	}

	switch {
	case sess.Status == calls.StatusAccepted:
		if r.state.Status != calls.StatusRinging {
			return
		}
		r.stopTimer()
		r.state.Status = calls.StatusAccepted
		r.log.Info("call accepted", "session_id", sess.ID)
		r.publish()
		// The callee only allocates media once the call is accepted.
		r.joinMedia(ctx)
	case sess.Status.Terminal():
		r.log.Info("call over", "session_id", sess.ID, "status", sess.Status)
		r.clear(ctx)
	}
}

// handleTimeout gives up on an unanswered outgoing call. The miss is conditional on
// the session still ringing, so an accept that won the race is kept.
func (r *Reconciler) handleTimeout(ctx context.Context) {
	if r.state == nil || r.state.Role != RoleCaller || r.state.Status != calls.StatusRinging {
		return
	}
	id := r.state.SessionID

	sess, err := r.sig.Miss(ctx, id)
	switch {
	case err == nil:
		r.apply(ctx, sess)
	case errors.Is(err, apperr.ErrTransitionRejected):
		cur, gerr := r.sig.GetCall(ctx, id)
		if gerr != nil {
			r.log.Warn("session lookup after rejected miss failed", "session_id", id, "err", gerr)
			r.retryOrDrop(ctx, id, gerr)
			return
		}
		r.log.Info("ring timeout lost to peer", "session_id", id, "status", cur.Status)
		r.apply(ctx, cur)
	default:
		r.log.Warn("ring timeout miss failed", "session_id", id, "err", err)
		r.retryOrDrop(ctx, id, err)
	}
}

// retryOrDrop re-arms the ring timer for transient failures. A session we can no
// longer see or act on will not recover by retrying, so it is dropped locally and
// the server sweep settles it.
func (r *Reconciler) retryOrDrop(ctx context.Context, id string, err error) {
	if errors.Is(err, apperr.ErrNotAuthorized) || errors.Is(err, apperr.ErrNotFound) {
		r.log.Error("outgoing call dropped", "session_id", id, "err", err)
		r.remember(id)
		r.clear(ctx)
		return
	}
	r.armTimer(r.opts.RetryDelay)
}

func (r *Reconciler) handleMedia(ctx context.Context, ev media.Event) {
	if ev.MemberID == r.userID {
		return
	}
	switch ev.Type {
	case media.EventTrackPublished:
		if err := r.room.Subscribe(ctx, ev.Track); err != nil {
			r.log.Warn("remote track subscribe failed", "track_id", ev.Track.ID, "err", err)
		}
	case media.EventMemberLeft:
		if r.state == nil {
			return
		}
		// The peer vanished from the room without an end we observed: hang up.
		id := r.state.SessionID
		if _, err := r.sig.End(ctx, id); err != nil {
			r.log.Warn("end after peer left media failed", "session_id", id, "err", err)
		}
		r.log.Info("peer left media room", "session_id", id)
		r.remember(id)
		r.clear(ctx)
	}
}

func (r *Reconciler) joinMedia(ctx context.Context) {
	if r.opts.Media == nil || r.room != nil || r.state == nil {
		return
	}
	st := *r.state
	if err := r.connect(ctx, st); err != nil {
		r.log.Error("media connect failed", "session_id", st.SessionID, "err", err)
		if _, err := r.sig.End(ctx, st.SessionID); err != nil {
			r.log.Warn("end after media failure failed", "session_id", st.SessionID, "err", err)
		}
		r.remember(st.SessionID)
		r.clear(ctx)
	}
}

func (r *Reconciler) connect(ctx context.Context, st State) error {
	token, err := r.sig.MediaToken(ctx, st.SessionID)
	if err != nil {
		return fmt.Errorf("media token: %w", err)
	}
	room, err := r.opts.Media.JoinRoom(ctx, media.RoomName(st.ConversationID, st.SessionID), r.userID, token)
	if err != nil {
		return fmt.Errorf("join room: %w", err)
	}

	audio, err := room.Publish(ctx, media.KindAudio)
	if err != nil {
		_ = room.Leave(ctx)
		return fmt.Errorf("publish audio: %w", err)
	}
	_ = audio.SetEnabled(!st.Muted)

	var video media.LocalTrack
	if st.CallType == calls.CallTypeVideo {
		video, err = room.Publish(ctx, media.KindVideo)
		if err != nil {
			_ = room.Leave(ctx)
			return fmt.Errorf("publish video: %w", err)
		}
		_ = video.SetEnabled(!st.CameraOff)
	}

	r.room, r.audio, r.video = room, audio, video
	r.state.InMedia = true
	r.publish()
	return nil
}

func (r *Reconciler) clear(ctx context.Context) {
	r.stopTimer()
	r.leaveMedia(ctx)
	r.state = nil
	r.publish()
}

func (r *Reconciler) leaveMedia(ctx context.Context) {
	if r.room == nil {
		return
	}
	if err := r.room.Leave(ctx); err != nil {
		r.log.Warn("media leave failed", "room", r.room.ID(), "err", err)
	}
	r.room, r.audio, r.video = nil, nil, nil
}

func (r *Reconciler) teardown(ctx context.Context) {
	leaveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	r.stopTimer()
	r.leaveMedia(leaveCtx)
}

func (r *Reconciler) armTimer(d time.Duration) {
	r.stopTimer()
	r.timer = r.opts.Clock.NewTimer(d)
}

func (r *Reconciler) stopTimer() {
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
}

// remember records a session that reached a terminal status so a late duplicate
// insert cannot ring again.
func (r *Reconciler) remember(id string) {
	if _, ok := r.finished[id]; ok {
		return
	}
	r.finished[id] = struct{}{}
	r.order = append(r.order, id)
	if len(r.order) > finishedMemory {
		delete(r.finished, r.order[0])
		r.order = r.order[1:]
	}
}

func (r *Reconciler) publish() {
	var snap *State
	if r.state != nil {
		cp := *r.state
		snap = &cp
	}
	r.mu.Lock()
	r.snapshot = snap
	r.mu.Unlock()

	if r.opts.OnChange != nil {
		if snap == nil {
			r.opts.OnChange(State{}, false)
		} else {
			r.opts.OnChange(*snap, true)
		}
	}
}
