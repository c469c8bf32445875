package transport

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/harun/pulse/pkg/envelope"
)

func TestNoop(t *testing.T) {
	var tr Transport = NewNoop()
	assert.Equal(t, "noop", tr.Name())

	agg, ok := tr.(AggregatesSender)
	assert.True(t, ok)
	assert.NoError(t, agg.SendAggregates(context.Background(), samplePayload()))

	single, ok := tr.(SessionSender)
	assert.True(t, ok)
	assert.NoError(t, single.SendSession(context.Background(), envelope.SessionRecord{SID: "abc"}))

	assert.NoError(t, NewNoop().Close())
}

func TestCapabilities(t *testing.T) {
	var tr Transport = &HTTPTransport{}
	_, ok := tr.(AggregatesSender)
	assert.True(t, ok)
	_, ok = tr.(SessionSender)
	assert.True(t, ok)

	tr = &WebSocketTransport{}
	_, ok = tr.(AggregatesSender)
	assert.True(t, ok)
	_, ok = tr.(SessionSender)
	assert.True(t, ok)
}
