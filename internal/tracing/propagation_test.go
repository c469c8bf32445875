package tracing

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestPropagateToLogger(t *testing.T) {
	ctx := context.Background()
	ctx = WithTraceID(ctx, "trace-123")
	ctx = WithFlushID(ctx, "flush-456")
	ctx = WithTransport(ctx, "http")
	ctx = WithSessionID(ctx, "sid-789")

	var buf bytes.Buffer
	logger := PropagateToLogger(ctx, zerolog.New(&buf))
	logger.Info().Msg("test message")

	output := buf.String()
	for _, want := range []string{"trace-123", "flush-456", `"transport":"http"`, "sid-789"} {
		if !strings.Contains(output, want) {
			t.Errorf("Expected %q in log output: %s", want, output)
		}
	}
}

func TestLoggerFromContextWithoutValues(t *testing.T) {
	var buf bytes.Buffer
	logger := LoggerFromContext(context.Background(), zerolog.New(&buf))
	logger.Info().Msg("test")

	if strings.Contains(buf.String(), "trace_id") {
		t.Error("Unexpected trace_id field in log output")
	}
}

func TestMergeContext(t *testing.T) {
	source := WithFlushID(WithTraceID(context.Background(), "trace-source"), "flush-source")
	target := context.Background()

	merged := MergeContext(target, source)

	if GetTraceID(merged) != "trace-source" {
		t.Error("Trace ID not merged")
	}
	if GetFlushID(merged) != "flush-source" {
		t.Error("Flush ID not merged")
	}
}

func TestMergeContextNoOverwrite(t *testing.T) {
	source := WithTraceID(context.Background(), "trace-source")
	target := WithTraceID(context.Background(), "trace-target")

	merged := MergeContext(target, source)

	if GetTraceID(merged) != "trace-target" {
		t.Error("Target trace ID was overwritten")
	}
}

func TestDetachOutlivesParent(t *testing.T) {
	parent, cancel := context.WithTimeout(context.Background(), time.Minute)
	parent = WithFlushID(parent, "flush-1")
	parent = WithTransport(parent, "noop")

	detached := Detach(parent)
	cancel()

	if parent.Err() == nil {
		t.Fatal("Parent context should be cancelled")
	}
	if detached.Err() != nil {
		t.Error("Detached context inherited cancellation")
	}
	if _, ok := detached.Deadline(); ok {
		t.Error("Detached context inherited deadline")
	}
	if GetFlushID(detached) != "flush-1" {
		t.Error("Flush ID not carried over")
	}
	if GetTransport(detached) != "noop" {
		t.Error("Transport not carried over")
	}
}

func TestStartSpanSetsTraceID(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	err := InitOpenTelemetry(ProviderOptions{
		ServiceName:    "pulse-test",
		ServiceVersion: "0.0.1",
		Environment:    "test",
		Exporter:       exporter,
	})
	if err != nil {
		t.Fatalf("InitOpenTelemetry failed: %v", err)
	}

	ctx, span := StartSpan(context.Background(), "pulse.test", "test.span")

	if GetTraceID(ctx) == "" {
		t.Error("Trace ID not propagated from span")
	}
	if GetTraceID(ctx) != span.SpanContext().TraceID().String() {
		t.Error("Trace ID does not match span")
	}

	FailSpan(span, errors.New("delivery failed"))
	FailSpan(span, nil)
	span.End()

	if err := ForceFlush(context.Background()); err != nil {
		t.Fatalf("ForceFlush failed: %v", err)
	}

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("Expected 1 exported span, got %d", len(spans))
	}
	got := spans[0]
	if got.Name != "test.span" {
		t.Errorf("Unexpected span name %q", got.Name)
	}
	if got.Status.Code != codes.Error {
		t.Errorf("Expected error status, got %v", got.Status.Code)
	}
	if len(got.Events) != 1 {
		t.Errorf("Expected one recorded error event, got %d", len(got.Events))
	}
}

func TestStartSpanKeepsExistingTraceID(t *testing.T) {
	ctx := WithTraceID(context.Background(), "existing")

	ctx, span := StartSpan(ctx, "pulse.test", "test.nested")
	defer span.End()

	if GetTraceID(ctx) != "existing" {
		t.Errorf("Trace ID overwritten: %s", GetTraceID(ctx))
	}
}
