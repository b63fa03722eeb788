package auth

import (
	"context"
	"errors"
)

type ctxKey int

const ctxUserID ctxKey = iota

var ErrNoIdentity = errors.New("user_id not in context")

func WithUser(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, ctxUserID, userID)
}

func UserID(ctx context.Context) (string, error) {
	v := ctx.Value(ctxUserID)
	if s, ok := v.(string); ok && s != "" {
		return s, nil
	}
	return "", ErrNoIdentity
}
