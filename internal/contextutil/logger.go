package contextutil

import (
	"context"
	"log/slog"
)

type contextKey string

const (
	loggerKey    contextKey = "logger"
	requestIDKey contextKey = "request_id"
)

// LoggerFromContext extracts a logger from context if available, otherwise returns the default logger.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	return LoggerFromContextOr(ctx, slog.Default())
}

// LoggerFromContextOr returns the logger stored in ctx, or fallback.
func LoggerFromContextOr(ctx context.Context, fallback *slog.Logger) *slog.Logger {
	if ctxLogger := ctx.Value(loggerKey); ctxLogger != nil {
		if l, ok := ctxLogger.(*slog.Logger); ok {
			return l
		}
	}
	return fallback
}

// WithLogger returns a copy of ctx carrying logger.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// WithRequestID returns a copy of ctx carrying the request id.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromContext returns the request id stored in ctx, or "".
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// Detach returns a background context that keeps the logger and request id of
// ctx but none of its deadline or cancellation. Work handed to background
// workers uses it so it outlives the HTTP request.
func Detach(ctx context.Context) context.Context {
	out := WithLogger(context.Background(), LoggerFromContext(ctx))
	if id := RequestIDFromContext(ctx); id != "" {
		out = WithRequestID(out, id)
	}
	return out
}
