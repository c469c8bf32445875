package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/coder/quartz"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"

	"github.com/harun/pulse/internal/observability"
	"github.com/harun/pulse/internal/tracing"
	"github.com/harun/pulse/pkg/envelope"
)

const (
	// EnvelopeContentType is sent with every envelope request.
	EnvelopeContentType = "application/x-sentry-envelope"
	// RequestIDHeader carries a per-delivery id, stable across retries.
	RequestIDHeader = "X-Request-ID"
	// SDKHeader reports the client name and version.
	SDKHeader = "X-Pulse-SDK"

	DefaultTimeout              = 10 * time.Second
	DefaultMaxRetries           = 3
	DefaultRetryInitialInterval = 500 * time.Millisecond
)

// HTTPOptions configures an HTTPTransport.
type HTTPOptions struct {
	URL                  string
	AuthToken            string
	Timeout              time.Duration // per attempt
	MaxRetries           int
	RetryInitialInterval time.Duration
	// Strict validates every payload against its wire schema before sending.
	Strict bool
	SDK    envelope.SDKInfo
	Client *http.Client
	Clock  quartz.Clock
	Logger *zerolog.Logger
}

// HTTPTransport posts envelopes to a collector endpoint. Retry and timeout
// policy live here, not in the flusher.
type HTTPTransport struct {
	endpoint string
	opts     HTTPOptions
	client   *http.Client
	logger   zerolog.Logger
	closed   atomic.Bool
}

// NewHTTP creates an HTTP transport.
func NewHTTP(opts HTTPOptions) (*HTTPTransport, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("transport url is required")
	}
	u, err := url.Parse(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid transport url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid transport url scheme: %s", u.Scheme)
	}

	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.RetryInitialInterval <= 0 {
		opts.RetryInitialInterval = DefaultRetryInitialInterval
	}
	if opts.SDK.Name == "" {
		opts.SDK = envelope.DefaultSDK()
	}
	if opts.Clock == nil {
		opts.Clock = quartz.NewReal()
	}

	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}

	logger := log.Logger
	if opts.Logger != nil {
		logger = *opts.Logger
	}

	return &HTTPTransport{
		endpoint: u.String(),
		opts:     opts,
		client:   client,
		logger:   logger.With().Str("transport", "http").Logger(),
	}, nil
}

func (t *HTTPTransport) Name() string { return "http" }

// SendAggregates posts one sessions envelope.
func (t *HTTPTransport) SendAggregates(ctx context.Context, payload envelope.Aggregates) error {
	if t.opts.Strict {
		if err := envelope.ValidateAggregates(payload); err != nil {
			return err
		}
	}

	env := envelope.New(t.opts.SDK, t.opts.Clock.Now())
	if err := env.AddAggregates(payload); err != nil {
		return err
	}
	return t.post(ctx, env)
}

// SendSession posts one session envelope.
func (t *HTTPTransport) SendSession(ctx context.Context, record envelope.SessionRecord) error {
	if t.opts.Strict {
		if err := envelope.ValidateSession(record); err != nil {
			return err
		}
	}

	env := envelope.New(t.opts.SDK, t.opts.Clock.Now())
	if err := env.AddSession(record); err != nil {
		return err
	}
	return t.post(ctx, env)
}

// Close rejects further sends and releases idle connections.
func (t *HTTPTransport) Close() error {
	if t.closed.Swap(true) {
		return nil
	}
	t.client.CloseIdleConnections()
	return nil
}

func (t *HTTPTransport) post(ctx context.Context, env *envelope.Envelope) error {
	if t.closed.Load() {
		return ErrClosed
	}

	body, err := env.Bytes()
	if err != nil {
		return err
	}

	requestID, err := gonanoid.New()
	if err != nil {
		return fmt.Errorf("failed to generate request id: %w", err)
	}

	ctx, span := tracing.StartSpan(
		ctx,
		"pulse.transport",
		"transport.http.send",
		attribute.String("request_id", requestID),
		attribute.Int("bytes", len(body)),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, t.logger).With().Str("request_id", requestID).Logger()

	attempt := 0
	operation := func() error {
		attempt++
		if attempt > 1 {
			observability.RecordTransportRetry(t.Name())
		}
		return t.attempt(ctx, requestID, body)
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = t.opts.RetryInitialInterval
	eb.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(t.opts.MaxRetries)), ctx)

	notify := func(err error, wait time.Duration) {
		logger.Warn().
			Err(err).
			Int("attempt", attempt).
			Dur("retry_in", wait).
			Msg("Envelope delivery failed, retrying")
	}

	if err := backoff.RetryNotify(operation, policy, notify); err != nil {
		tracing.FailSpan(span, err)
		return fmt.Errorf("failed to deliver envelope after %d attempt(s): %w", attempt, err)
	}

	logger.Debug().Int("attempts", attempt).Msg("Envelope delivered")
	return nil
}

func (t *HTTPTransport) attempt(ctx context.Context, requestID string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", EnvelopeContentType)
	req.Header.Set(RequestIDHeader, requestID)
	req.Header.Set(SDKHeader, t.opts.SDK.Name+"/"+t.opts.SDK.Version)
	if t.opts.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+t.opts.AuthToken)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fmt.Errorf("collector returned %s", resp.Status)
	default:
		return backoff.Permanent(fmt.Errorf("collector rejected envelope: %s", resp.Status))
	}
}
