package apperr

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by the call and message services.
//
// AlreadyInCall and TransitionRejected are expected outcomes: callers branch on them.
// NotificationFailed never leaves the notify package.
var (
	ErrNotAuthorized      = errors.New("not authorized")
	ErrNotFound           = errors.New("not found")
	ErrAlreadyInCall      = errors.New("already in call")
	ErrTransitionRejected = errors.New("transition rejected")
	ErrValidationFailed   = errors.New("validation failed")
	ErrStoreUnavailable   = errors.New("store unavailable")
	ErrNotificationFailed = errors.New("notification failed")
)

// Store wraps a collaborator failure as ErrStoreUnavailable, keeping the cause.
// Taxonomy errors pass through unchanged.
func Store(err error) error {
	if err == nil {
		return nil
	}
	if IsTaxonomy(err) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
}

// Validation returns ErrValidationFailed with a human-readable reason.
func Validation(reason string) error {
	return fmt.Errorf("%w: %s", ErrValidationFailed, reason)
}

// IsTaxonomy reports whether err already belongs to the taxonomy.
func IsTaxonomy(err error) bool {
	for _, target := range []error{
		ErrNotAuthorized,
		ErrNotFound,
		ErrAlreadyInCall,
		ErrTransitionRejected,
		ErrValidationFailed,
		ErrStoreUnavailable,
		ErrNotificationFailed,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// Wire codes carried in API error bodies so clients can rebuild the sentinel.
const (
	CodeNotAuthorized      = "not_authorized"
	CodeNotFound           = "not_found"
	CodeAlreadyInCall      = "already_in_call"
	CodeTransitionRejected = "transition_rejected"
	CodeValidationFailed   = "validation_failed"
	CodeStoreUnavailable   = "store_unavailable"
	CodeInternal           = "internal"
)

var codes = []struct {
	code string
	err  error
}{
	{CodeNotAuthorized, ErrNotAuthorized},
	{CodeNotFound, ErrNotFound},
	{CodeAlreadyInCall, ErrAlreadyInCall},
	{CodeTransitionRejected, ErrTransitionRejected},
	{CodeValidationFailed, ErrValidationFailed},
	{CodeStoreUnavailable, ErrStoreUnavailable},
}

// Code maps err to its wire code.
func Code(err error) string {
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return CodeInternal
}

// FromCode rebuilds a taxonomy error from a wire code and message.
func FromCode(code, msg string) error {
	for _, c := range codes {
		if c.code == code {
			if msg == "" || msg == c.err.Error() {
				return c.err
			}
			return fmt.Errorf("%w: %s", c.err, msg)
		}
	}
	if msg == "" {
		msg = "request failed"
	}
	return errors.New(msg)
}
