package tracing

import (
	"context"
	"testing"
)

func TestNewTraceID(t *testing.T) {
	id1 := NewTraceID()
	id2 := NewTraceID()

	if id1 == "" {
		t.Error("NewTraceID returned empty string")
	}

	if id1 == id2 {
		t.Error("NewTraceID returned duplicate IDs")
	}
}

func TestNewFlushID(t *testing.T) {
	id1 := NewFlushID()
	id2 := NewFlushID()

	if id1 == "" {
		t.Error("NewFlushID returned empty string")
	}

	if id1 == id2 {
		t.Error("NewFlushID returned duplicate IDs")
	}
}

func TestWithTraceID(t *testing.T) {
	ctx := WithTraceID(context.Background(), "test-trace-id")

	if got := GetTraceID(ctx); got != "test-trace-id" {
		t.Errorf("Expected trace ID test-trace-id, got %s", got)
	}
}

func TestWithFlushID(t *testing.T) {
	ctx := WithFlushID(context.Background(), "test-flush-id")

	if got := GetFlushID(ctx); got != "test-flush-id" {
		t.Errorf("Expected flush ID test-flush-id, got %s", got)
	}
}

func TestWithTransport(t *testing.T) {
	ctx := WithTransport(context.Background(), "http")

	if got := GetTransport(ctx); got != "http" {
		t.Errorf("Expected transport http, got %s", got)
	}
}

func TestWithSessionID(t *testing.T) {
	ctx := WithSessionID(context.Background(), "sid-1")

	if got := GetSessionID(ctx); got != "sid-1" {
		t.Errorf("Expected session id sid-1, got %s", got)
	}
}

func TestGettersEmpty(t *testing.T) {
	ctx := context.Background()

	if GetTraceID(ctx) != "" {
		t.Error("Expected empty trace ID")
	}
	if GetFlushID(ctx) != "" {
		t.Error("Expected empty flush ID")
	}
	if GetTransport(ctx) != "" {
		t.Error("Expected empty transport")
	}
	if GetSessionID(ctx) != "" {
		t.Error("Expected empty session id")
	}
}

func TestFromContext(t *testing.T) {
	ctx := context.Background()
	ctx = WithTraceID(ctx, "trace-1")
	ctx = WithFlushID(ctx, "flush-1")
	ctx = WithTransport(ctx, "websocket")
	ctx = WithSessionID(ctx, "sid-1")

	tc := FromContext(ctx)

	if tc.TraceID != "trace-1" {
		t.Errorf("Expected trace ID trace-1, got %s", tc.TraceID)
	}
	if tc.FlushID != "flush-1" {
		t.Errorf("Expected flush ID flush-1, got %s", tc.FlushID)
	}
	if tc.Transport != "websocket" {
		t.Errorf("Expected transport websocket, got %s", tc.Transport)
	}
	if tc.SessionID != "sid-1" {
		t.Errorf("Expected session id sid-1, got %s", tc.SessionID)
	}
}

func TestNewContextPartial(t *testing.T) {
	tc := &TraceContext{TraceID: "trace-2"}

	ctx := NewContext(context.Background(), tc)

	if GetTraceID(ctx) != "trace-2" {
		t.Error("Trace ID not set")
	}
	if GetFlushID(ctx) != "" {
		t.Error("Flush ID should be empty")
	}
}

func TestNewFlushContext(t *testing.T) {
	ctx := WithTraceID(context.Background(), "trace-3")

	flushCtx := NewFlushContext(ctx)

	if GetFlushID(flushCtx) == "" {
		t.Error("Flush ID not generated")
	}
	if GetTraceID(flushCtx) != "trace-3" {
		t.Error("Trace ID not preserved")
	}
}
