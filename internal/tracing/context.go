package tracing

import (
	"context"

	"github.com/google/uuid"
)

// ContextKey is the type for context keys
type ContextKey string

const (
	// TraceIDKey is the context key for trace ID
	TraceIDKey ContextKey = "trace_id"
	// FlushIDKey is the context key for the flush cycle that produced a payload
	FlushIDKey ContextKey = "flush_id"
	// TransportKey is the context key for the delivering transport name
	TransportKey ContextKey = "transport"
	// SessionIDKey is the context key for a single session being delivered
	SessionIDKey ContextKey = "sid"
)

// TraceContext holds tracing information
type TraceContext struct {
	TraceID   string
	FlushID   string
	Transport string
	SessionID string
}

// NewTraceID generates a new trace ID
func NewTraceID() string {
	return uuid.New().String()
}

// NewFlushID generates a new flush ID
func NewFlushID() string {
	return uuid.New().String()
}

// WithTraceID adds a trace ID to the context
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// WithFlushID adds a flush ID to the context
func WithFlushID(ctx context.Context, flushID string) context.Context {
	return context.WithValue(ctx, FlushIDKey, flushID)
}

// WithTransport adds a transport name to the context
func WithTransport(ctx context.Context, transport string) context.Context {
	return context.WithValue(ctx, TransportKey, transport)
}

// WithSessionID adds a session id to the context
func WithSessionID(ctx context.Context, sid string) context.Context {
	return context.WithValue(ctx, SessionIDKey, sid)
}

// GetTraceID retrieves the trace ID from the context
func GetTraceID(ctx context.Context) string {
	if traceID, ok := ctx.Value(TraceIDKey).(string); ok {
		return traceID
	}
	return ""
}

// GetFlushID retrieves the flush ID from the context
func GetFlushID(ctx context.Context) string {
	if flushID, ok := ctx.Value(FlushIDKey).(string); ok {
		return flushID
	}
	return ""
}

// GetTransport retrieves the transport name from the context
func GetTransport(ctx context.Context) string {
	if transport, ok := ctx.Value(TransportKey).(string); ok {
		return transport
	}
	return ""
}

// GetSessionID retrieves the session id from the context
func GetSessionID(ctx context.Context) string {
	if sid, ok := ctx.Value(SessionIDKey).(string); ok {
		return sid
	}
	return ""
}

// FromContext extracts all tracing information from the context
func FromContext(ctx context.Context) *TraceContext {
	return &TraceContext{
		TraceID:   GetTraceID(ctx),
		FlushID:   GetFlushID(ctx),
		Transport: GetTransport(ctx),
		SessionID: GetSessionID(ctx),
	}
}

// NewContext creates a new context with tracing information
func NewContext(ctx context.Context, tc *TraceContext) context.Context {
	if tc.TraceID != "" {
		ctx = WithTraceID(ctx, tc.TraceID)
	}
	if tc.FlushID != "" {
		ctx = WithFlushID(ctx, tc.FlushID)
	}
	if tc.Transport != "" {
		ctx = WithTransport(ctx, tc.Transport)
	}
	if tc.SessionID != "" {
		ctx = WithSessionID(ctx, tc.SessionID)
	}
	return ctx
}

// NewFlushContext creates a context for one flush cycle with a new flush ID
func NewFlushContext(ctx context.Context) context.Context {
	return WithFlushID(ctx, NewFlushID())
}
