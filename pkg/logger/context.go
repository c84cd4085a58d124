package logger

import (
	"context"
	"log/slog"
)

type fieldsKey struct{}

// With stores request scoped fields on ctx. Fields accumulate across calls.
func With(ctx context.Context, fields ...any) context.Context {
	prev, _ := ctx.Value(fieldsKey{}).([]any)
	merged := make([]any, 0, len(prev)+len(fields))
	merged = append(merged, prev...)
	merged = append(merged, fields...)
	return context.WithValue(ctx, fieldsKey{}, merged)
}

// Scoped returns base enriched with the fields stored on ctx.
func Scoped(ctx context.Context, base *slog.Logger) *slog.Logger {
	if base == nil {
		base = LoggerWrapper()
	}
	if fields, ok := ctx.Value(fieldsKey{}).([]any); ok && len(fields) > 0 {
		return base.With(fields...)
	}
	return base
}

// From returns the process logger scoped to ctx.
func From(ctx context.Context) *slog.Logger {
	return Scoped(ctx, LoggerWrapper())
}
