package flusher

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/coder/quartz"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"

	"github.com/harun/pulse/internal/observability"
	"github.com/harun/pulse/internal/tracing"
	"github.com/harun/pulse/pkg/envelope"
	"github.com/harun/pulse/pkg/session"
	"github.com/harun/pulse/pkg/transport"
)

const (
	DefaultFlushInterval      = 60 * time.Second
	DefaultMaxItemsPerPayload = 100

	tickerTag = "flushLoop"
)

// Options configures a Flusher.
type Options struct {
	Transport transport.Transport
	// FlushInterval is the period of the background flush.
	FlushInterval time.Duration
	// MaxItemsPerPayload caps the buckets in one payload; larger groups are split.
	MaxItemsPerPayload int
	// Disabled discards every session and never contacts the transport.
	Disabled bool
	Clock    quartz.Clock
	Logger   *zerolog.Logger
}

// group holds the buckets of one attribute set.
type group struct {
	attrs   envelope.Attrs
	buckets map[time.Time]*envelope.Bucket
}

// Flusher owns the aggregation buffer for one transport.
type Flusher struct {
	transport transport.Transport
	interval  time.Duration
	maxItems  int
	disabled  bool
	clock     quartz.Clock
	logger    zerolog.Logger

	mu      sync.Mutex
	pending map[string]*group
	buckets int

	cancel    context.CancelFunc
	ticker    quartz.Waiter
	closeOnce sync.Once
	inflight  sync.WaitGroup
}

// New creates a flusher and starts its periodic flush.
func New(opts Options) *Flusher {
	observability.EnsureRegistered()

	if opts.Transport == nil {
		opts.Transport = transport.NewNoop()
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = DefaultFlushInterval
	}
	if opts.MaxItemsPerPayload <= 0 {
		opts.MaxItemsPerPayload = DefaultMaxItemsPerPayload
	}
	if opts.Clock == nil {
		opts.Clock = quartz.NewReal()
	}

	logger := log.Logger
	if opts.Logger != nil {
		logger = *opts.Logger
	}

	f := &Flusher{
		transport: opts.Transport,
		interval:  opts.FlushInterval,
		maxItems:  opts.MaxItemsPerPayload,
		disabled:  opts.Disabled,
		clock:     opts.Clock,
		logger:    logger.With().Str("component", "flusher").Str("transport", opts.Transport.Name()).Logger(),
		pending:   make(map[string]*group),
	}

	if f.disabled {
		f.logger.Info().Msg("Session flusher disabled")
		return f
	}

	ctx, cancel := context.WithCancel(context.Background())
	f.cancel = cancel
	f.ticker = f.clock.TickerFunc(ctx, f.interval, func() error {
		f.Flush()
		return nil
	}, tickerTag)

	f.logger.Info().
		Dur("interval", f.interval).
		Int("max_items_per_payload", f.maxItems).
		Msg("Session flusher started")

	return f
}

// AddSession folds the current state of s into the buffer. The flusher
// keeps no reference to s.
func (f *Flusher) AddSession(s *session.Session) {
	if s == nil {
		return
	}
	if f.disabled {
		observability.RecordSessionDiscarded()
		return
	}

	attrs := s.Attributes(false)
	key := attrs.Key()
	start := BucketStart(s.Started())
	outcome := Classify(s.Status(), s.Errors())

	f.mu.Lock()
	g, ok := f.pending[key]
	if !ok {
		g = &group{attrs: attrs, buckets: make(map[time.Time]*envelope.Bucket)}
		f.pending[key] = g
	}
	b, ok := g.buckets[start]
	if !ok {
		b = &envelope.Bucket{Started: envelope.FormatTime(start)}
		g.buckets[start] = b
		f.buckets++
	}
	b.Add(outcome)
	pending := f.buckets
	f.mu.Unlock()

	observability.RecordSessionAggregated(string(outcome), pending)
}

// Pending returns the number of buckets waiting for the next flush.
func (f *Flusher) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.buckets
}

// Flush drains the buffer and dispatches one payload per attribute set (more
// when a set exceeds MaxItemsPerPayload). Deliveries run in the background.
func (f *Flusher) Flush() {
	if f.disabled {
		return
	}

	f.mu.Lock()
	if len(f.pending) == 0 {
		f.mu.Unlock()
		observability.RecordFlush("empty", 0)
		f.logger.Debug().Msg("Nothing to flush")
		return
	}

	sender, ok := f.transport.(transport.AggregatesSender)
	if !ok {
		pending := f.buckets
		f.mu.Unlock()
		observability.RecordFlush("unsupported", 0)
		f.logger.Warn().
			Int("pending_buckets", pending).
			Msg("Transport cannot send session aggregates, keeping buffer")
		return
	}

	drained := f.pending
	f.pending = make(map[string]*group)
	f.buckets = 0
	observability.SetPendingBuckets(0)
	f.mu.Unlock()

	payloads := buildPayloads(drained, f.maxItems)
	observability.RecordFlush("dispatched", len(payloads))

	sessions := 0
	for _, p := range payloads {
		sessions += p.Total()
	}

	ctx := tracing.NewFlushContext(context.Background())
	ctx, span := tracing.StartSpan(
		ctx,
		"pulse.flusher",
		"flusher.flush",
		attribute.Int("payloads", len(payloads)),
		attribute.Int("sessions", sessions),
	)
	defer span.End()

	logger := tracing.LoggerFromContext(ctx, f.logger)
	logger.Debug().
		Int("payloads", len(payloads)).
		Int("sessions", sessions).
		Msg("Flushing session aggregates")

	for _, p := range payloads {
		f.dispatch(tracing.Detach(ctx), sender, p)
	}
}

func (f *Flusher) dispatch(ctx context.Context, sender transport.AggregatesSender, payload envelope.Aggregates) {
	f.inflight.Add(1)
	go func() {
		defer f.inflight.Done()

		name := f.transport.Name()
		start := time.Now()
		err := sender.SendAggregates(ctx, payload)
		observability.RecordDelivery(name, "aggregates", time.Since(start), err == nil)
		if err == nil {
			return
		}

		observability.RecordSessionsDropped(name, payload.Total())
		observability.RecordDeliveryAudit(ctx, name, "aggregates_dropped", "failure", map[string]interface{}{
			"release":     payload.Attrs.Release,
			"environment": payload.Attrs.Environment,
			"buckets":     len(payload.Aggregates),
			"sessions":    payload.Total(),
		})
		logger := tracing.LoggerFromContext(ctx, f.logger)
		logger.Error().
			Err(err).
			Int("buckets", len(payload.Aggregates)).
			Int("sessions", payload.Total()).
			Msg("Failed to deliver session aggregates, dropping")
	}()
}

// CaptureSession sends the current state of s on its own, bypassing
// aggregation, and clears its init flag. The send runs in the background.
func (f *Flusher) CaptureSession(s *session.Session) {
	if s == nil || f.disabled {
		return
	}

	sender, ok := f.transport.(transport.SessionSender)
	if !ok {
		f.logger.Warn().Str("sid", s.SID()).Msg("Transport cannot send single sessions, skipping")
		return
	}

	record := s.Serialize()
	s.MarkReported()

	ctx := tracing.WithSessionID(context.Background(), record.SID)

	f.inflight.Add(1)
	go func() {
		defer f.inflight.Done()

		name := f.transport.Name()
		start := time.Now()
		err := sender.SendSession(ctx, record)
		observability.RecordDelivery(name, "session", time.Since(start), err == nil)
		if err == nil {
			return
		}

		observability.RecordSessionsDropped(name, 1)
		observability.RecordDeliveryAudit(ctx, name, "session_dropped", "failure", map[string]interface{}{
			"status": record.Status,
		})
		logger := tracing.LoggerFromContext(ctx, f.logger)
		logger.Error().Err(err).Msg("Failed to deliver session update, dropping")
	}()
}

// Close stops the periodic flush, flushes what is left and waits for every
// delivery started so far. It is safe to call more than once; later calls
// only flush and wait.
func (f *Flusher) Close() {
	f.closeOnce.Do(func() {
		if f.cancel == nil {
			return
		}
		f.cancel()
		_ = f.ticker.Wait()
		f.logger.Info().Msg("Session flusher stopped")
		observability.RecordLifecycleAudit(context.Background(), "flusher", "closed", map[string]interface{}{
			"transport": f.transport.Name(),
		})
	})

	f.Flush()
	f.inflight.Wait()
}

// buildPayloads turns drained groups into payloads in a stable order:
// attribute key first, then bucket start.
func buildPayloads(drained map[string]*group, maxItems int) []envelope.Aggregates {
	keys := make([]string, 0, len(drained))
	for k := range drained {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var payloads []envelope.Aggregates
	for _, k := range keys {
		g := drained[k]

		starts := make([]time.Time, 0, len(g.buckets))
		for t := range g.buckets {
			starts = append(starts, t)
		}
		sort.Slice(starts, func(i, j int) bool { return starts[i].Before(starts[j]) })

		for lo := 0; lo < len(starts); lo += maxItems {
			hi := lo + maxItems
			if hi > len(starts) {
				hi = len(starts)
			}
			buckets := make([]envelope.Bucket, 0, hi-lo)
			for _, t := range starts[lo:hi] {
				buckets = append(buckets, *g.buckets[t])
			}
			payloads = append(payloads, envelope.Aggregates{Attrs: g.attrs, Aggregates: buckets})
		}
	}
	return payloads
}
