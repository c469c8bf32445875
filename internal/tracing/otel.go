package tracing

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// ProviderOptions configures the process-wide tracer provider.
type ProviderOptions struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	// SampleRatio is the fraction of root spans kept. Zero or less keeps all.
	SampleRatio float64
	// Exporter receives finished spans in batches. Nil keeps spans in process,
	// which is enough for trace ids in logs and audit events.
	Exporter sdktrace.SpanExporter
}

var (
	providerOnce sync.Once
	providerMu   sync.RWMutex
	provider     *sdktrace.TracerProvider
	providerErr  error
)

// InitOpenTelemetry installs the global tracer provider. Only the first call
// has any effect; later calls return its result.
func InitOpenTelemetry(opts ProviderOptions) error {
	providerOnce.Do(func() {
		attrs := []attribute.KeyValue{semconv.ServiceName(opts.ServiceName)}
		if opts.ServiceVersion != "" {
			attrs = append(attrs, semconv.ServiceVersion(opts.ServiceVersion))
		}
		if opts.Environment != "" {
			attrs = append(attrs, semconv.DeploymentEnvironment(opts.Environment))
		}

		res, err := resource.New(context.Background(), resource.WithAttributes(attrs...))
		if err != nil {
			providerErr = err
			return
		}

		ratio := opts.SampleRatio
		if ratio <= 0 || ratio > 1 {
			ratio = 1
		}

		tpOpts := []sdktrace.TracerProviderOption{
			sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))),
			sdktrace.WithResource(res),
		}
		if opts.Exporter != nil {
			tpOpts = append(tpOpts, sdktrace.WithBatcher(opts.Exporter))
		}
		tp := sdktrace.NewTracerProvider(tpOpts...)

		providerMu.Lock()
		provider = tp
		providerMu.Unlock()

		otel.SetTracerProvider(tp)
	})

	return providerErr
}

// ForceFlush exports every span finished so far.
func ForceFlush(ctx context.Context) error {
	providerMu.RLock()
	tp := provider
	providerMu.RUnlock()
	if tp == nil {
		return nil
	}
	return tp.ForceFlush(ctx)
}

// ShutdownOpenTelemetry flushes and shuts down the global tracer provider.
func ShutdownOpenTelemetry(ctx context.Context) error {
	providerMu.RLock()
	tp := provider
	providerMu.RUnlock()
	if tp == nil {
		return nil
	}
	return tp.Shutdown(ctx)
}

// StartSpan starts a span and stores its trace id in ctx unless one is
// already there.
func StartSpan(ctx context.Context, tracerName, spanName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if ctx == nil {
		ctx = context.Background()
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, spanName, trace.WithAttributes(attrs...))

	if GetTraceID(ctx) == "" {
		if sc := span.SpanContext(); sc.IsValid() {
			ctx = WithTraceID(ctx, sc.TraceID().String())
		}
	}

	return ctx, span
}

// FailSpan records err on span and marks it failed.
func FailSpan(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
