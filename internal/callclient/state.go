package callclient

import (
	"context"
	"errors"
	"time"

	"link-platform/internal/calls"
)

type Role string

const (
	RoleCaller Role = "caller"
	RoleCallee Role = "callee"
)

// State is the local view of the single call this user may be in.
type State struct {
	SessionID      string         `json:"session_id"`
	ConversationID string         `json:"conversation_id"`
	CallType       calls.CallType `json:"call_type"`
	Role           Role           `json:"role"`
	Status         calls.Status   `json:"status"`
	PeerID         string         `json:"peer_id"`

	Muted     bool `json:"muted"`
	CameraOff bool `json:"camera_off"`
	InMedia   bool `json:"in_media"`
}

var (
	ErrBusy    = errors.New("callclient: already in a call")
	ErrNoCall  = errors.New("callclient: no call in progress")
	ErrStopped = errors.New("callclient: reconciler stopped")
)

// Signaling is the client's view of the call signaling engine. Every method acts
// as the already-authenticated local user.
type Signaling interface {
	StartCall(ctx context.Context, conversationID string, callType calls.CallType) (calls.Session, error)
	Accept(ctx context.Context, sessionID string) (calls.Session, error)
	Reject(ctx context.Context, sessionID string) (calls.Session, error)
	End(ctx context.Context, sessionID string) (calls.Session, error)
	Miss(ctx context.Context, sessionID string) (calls.Session, error)
	GetCall(ctx context.Context, sessionID string) (calls.Session, error)
	MediaToken(ctx context.Context, sessionID string) (string, error)
}

// Clock creates the ring-timeout timers. Tests substitute a manual clock.
type Clock interface {
	NewTimer(d time.Duration) Timer
}

type Timer interface {
	C() <-chan time.Time
	Stop() bool
}

type realClock struct{}

func (realClock) NewTimer(d time.Duration) Timer { return realTimer{time.NewTimer(d)} }

type realTimer struct{ t *time.Timer }

func (t realTimer) C() <-chan time.Time { return t.t.C }
func (t realTimer) Stop() bool          { return t.t.Stop() }
