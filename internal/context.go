package internal

import (
	"context"
	"time"
)

type ctxKey string

const (
	clientMetaKey ctxKey = "clientMeta"
	userIDKey     ctxKey = "userID"
)

// ClientMeta is the caller information recorded with refresh tokens and
// audit events.
type ClientMeta struct {
	IPAddress string
	UserAgent string
	RequestID string
}

func ContextWithClientMeta(ctx context.Context, meta ClientMeta) context.Context {
	return context.WithValue(ctx, clientMetaKey, meta)
}

func ClientMetaFromContext(ctx context.Context) ClientMeta {
	if ctx == nil {
		return ClientMeta{}
	}
	if meta, ok := ctx.Value(clientMetaKey).(ClientMeta); ok {
		return meta
	}
	return ClientMeta{}
}

// ContextWithUserID stores the authenticated user id. Only the transport layer
// sets it, after authorization succeeded.
func ContextWithUserID(ctx context.Context, userID int64) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

func UserIDFromContext(ctx context.Context) (int64, bool) {
	if ctx == nil {
		return 0, false
	}
	id, ok := ctx.Value(userIDKey).(int64)
	return id, ok && id > 0
}

// WithTimeout returns a context with timeout, defaulting to 5 seconds if duration is zero or negative.
func WithTimeout(ctx context.Context, duration time.Duration) (context.Context, context.CancelFunc) {
	if duration <= 0 {
		duration = 5 * time.Second
	}
	return context.WithTimeout(ctx, duration)
}
