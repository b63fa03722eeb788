package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
)

// New returns the process logger. Local and dev environments get readable text at
// debug level; everything else gets JSON at info.
func New(appEnv, component string) *slog.Logger {
	return NewWriter(os.Stdout, appEnv, component)
}

// NewWriter is New with an explicit destination.
func NewWriter(w io.Writer, appEnv, component string) *slog.Logger {
	var h slog.Handler
	switch appEnv {
	case "local", "dev":
		h = slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug})
	default:
		h = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelInfo})
	}
	l := slog.New(h)
	if component != "" {
		l = l.With("component", component)
	}
	return l
}

type ctxKey struct{}

// With stores a logger in context.
func With(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// From gets a logger from context, falling back to slog.Default().
func From(ctx context.Context) *slog.Logger {
	if v := ctx.Value(ctxKey{}); v != nil {
		if l, ok := v.(*slog.Logger); ok && l != nil {
			return l
		}
	}
	return slog.Default()
}
