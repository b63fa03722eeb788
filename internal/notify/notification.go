package notify

import (
	"context"
	"strings"
	"unicode/utf8"
)

// Notification is an out-of-band alert for a user who may not be watching the feed.
type Notification struct {
	Title     string `json:"title"`
	Body      string `json:"body"`
	TargetURL string `json:"url"`
}

// Dispatcher sends notifications best-effort. Callers never learn the outcome;
// failures are logged by the implementation.
type Dispatcher interface {
	Dispatch(ctx context.Context, userID string, n Notification)
}

const (
	fallbackName   = "Link"
	maxPreviewRune = 100
)

func ConversationURL(conversationID string) string { return "/chat/" + conversationID }

// IncomingCall is the alert sent to a callee when a call starts ringing.
func IncomingCall(callerName, conversationID string, video bool) Notification {
	kind := "voice call"
	if video {
		kind = "video call"
	}
	return Notification{
		Title:     nameOrFallback(callerName) + " · " + kind,
		Body:      "Tap to answer",
		TargetURL: ConversationURL(conversationID),
	}
}

// NewMessage is the alert sent to the recipient of a message.
func NewMessage(senderName, conversationID, content string) Notification {
	return Notification{
		Title:     nameOrFallback(senderName),
		Body:      preview(content),
		TargetURL: ConversationURL(conversationID),
	}
}

func nameOrFallback(name string) string {
	if n := strings.TrimSpace(name); n != "" {
		return n
	}
	return fallbackName
}

func preview(content string) string {
	if utf8.RuneCountInString(content) <= maxPreviewRune {
		return content
	}
	r := []rune(content)
	return string(r[:maxPreviewRune]) + "..."
}
