package transport

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/harun/pulse/pkg/envelope"
)

// ErrClosed is returned by sends attempted after the transport was closed.
var ErrClosed = errors.New("transport closed")

// Transport is the delivery collaborator handed to the flusher. Delivery
// operations are optional capabilities discovered through type assertion:
// a transport that implements neither is valid but delivers nothing.
type Transport interface {
	// Name identifies the transport in logs and metrics.
	Name() string
}

// AggregatesSender delivers aggregated session counts.
type AggregatesSender interface {
	SendAggregates(ctx context.Context, payload envelope.Aggregates) error
}

// SessionSender delivers a single, non-aggregated session update.
type SessionSender interface {
	SendSession(ctx context.Context, record envelope.SessionRecord) error
}

// Noop accepts every payload and drops it.
type Noop struct{}

// NewNoop creates a transport that discards everything.
func NewNoop() *Noop {
	return &Noop{}
}

func (*Noop) Name() string { return "noop" }

func (*Noop) SendAggregates(_ context.Context, payload envelope.Aggregates) error {
	log.Debug().
		Str("release", payload.Attrs.Release).
		Str("environment", payload.Attrs.Environment).
		Int("buckets", len(payload.Aggregates)).
		Msg("Dropping session aggregates")
	return nil
}

func (*Noop) SendSession(_ context.Context, record envelope.SessionRecord) error {
	log.Debug().Str("sid", record.SID).Msg("Dropping session update")
	return nil
}

func (*Noop) Close() error { return nil }
