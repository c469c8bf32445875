package tracing

import (
	"context"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

// PropagateToLogger adds tracing context to a zerolog logger
func PropagateToLogger(ctx context.Context, logger zerolog.Logger) zerolog.Logger {
	tc := FromContext(ctx)

	if tc.TraceID != "" {
		logger = logger.With().Str("trace_id", tc.TraceID).Logger()
	}
	if tc.FlushID != "" {
		logger = logger.With().Str("flush_id", tc.FlushID).Logger()
	}
	if tc.Transport != "" {
		logger = logger.With().Str("transport", tc.Transport).Logger()
	}
	if tc.SessionID != "" {
		logger = logger.With().Str("sid", tc.SessionID).Logger()
	}

	return logger
}

// LoggerFromContext creates a logger with tracing context from the given context
func LoggerFromContext(ctx context.Context, baseLogger zerolog.Logger) zerolog.Logger {
	return PropagateToLogger(ctx, baseLogger)
}

// MergeContext merges tracing information from source context into target context
func MergeContext(target, source context.Context) context.Context {
	tc := FromContext(source)

	if tc.TraceID != "" && GetTraceID(target) == "" {
		target = WithTraceID(target, tc.TraceID)
	}
	if tc.FlushID != "" && GetFlushID(target) == "" {
		target = WithFlushID(target, tc.FlushID)
	}
	if tc.Transport != "" && GetTransport(target) == "" {
		target = WithTransport(target, tc.Transport)
	}
	if tc.SessionID != "" && GetSessionID(target) == "" {
		target = WithSessionID(target, tc.SessionID)
	}

	return target
}

// Detach returns a background context carrying the tracing values and the
// active span of ctx, but none of its cancellation. Deliveries started from
// a flush use it so they are not cut short when the caller returns.
func Detach(ctx context.Context) context.Context {
	detached := NewContext(context.Background(), FromContext(ctx))
	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		detached = trace.ContextWithSpan(detached, span)
	}
	return detached
}
