package logging

import (
	"context"

	"go.uber.org/zap"
)

type ctxKey string

const (
	// TraceIDKey is the context key for the request trace ID.
	TraceIDKey ctxKey = "trace_id"
)

// SetTraceID adds trace ID to context.
func SetTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// GetTraceID extracts trace ID from context.
func GetTraceID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if s, ok := ctx.Value(TraceIDKey).(string); ok {
		return s
	}
	return ""
}

// WithContext returns logger with the trace_id field from ctx, if present.
func WithContext(logger *zap.Logger, ctx context.Context) *zap.Logger {
	if traceID := GetTraceID(ctx); traceID != "" {
		return logger.With(zap.String("trace_id", traceID))
	}
	return logger
}
