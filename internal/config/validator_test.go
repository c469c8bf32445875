package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateTransportKind(t *testing.T) {
	v := NewValidator()

	for _, kind := range []string{TransportNoop, TransportHTTP, TransportWebSocket} {
		assert.NoError(t, v.ValidateTransportKind(kind), kind)
	}
	assert.Error(t, v.ValidateTransportKind(""))
	assert.Error(t, v.ValidateTransportKind("smtp"))
}

func TestValidateTransportURL(t *testing.T) {
	v := NewValidator()

	tests := []struct {
		name    string
		kind    string
		url     string
		wantErr bool
	}{
		{"noop ignores url", TransportNoop, "", false},
		{"https collector", TransportHTTP, "https://collector.example.com/envelope", false},
		{"plain http", TransportHTTP, "http://localhost:8080", false},
		{"http with ws scheme", TransportHTTP, "ws://localhost:8080", true},
		{"websocket relay", TransportWebSocket, "wss://relay.example.com/ingest", false},
		{"websocket with https scheme", TransportWebSocket, "https://relay.example.com", true},
		{"missing host", TransportHTTP, "https://", true},
		{"empty", TransportHTTP, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidateTransportURL(tt.kind, tt.url)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateInterval(t *testing.T) {
	v := NewValidator()

	assert.NoError(t, v.ValidateInterval(1))
	assert.Error(t, v.ValidateInterval(0))
	assert.Error(t, v.ValidateInterval(-5))
}

func TestValidateMaxItems(t *testing.T) {
	v := NewValidator()

	assert.NoError(t, v.ValidateMaxItems(100))
	assert.Error(t, v.ValidateMaxItems(0))
}

func TestValidateLogLevel(t *testing.T) {
	v := NewValidator()

	for _, level := range []string{"debug", "info", "warn", "error"} {
		assert.NoError(t, v.ValidateLogLevel(level), level)
	}
	assert.Error(t, v.ValidateLogLevel("trace"))
}

func TestValidateConfig(t *testing.T) {
	v := NewValidator()

	cfg := DefaultConfig()
	assert.Empty(t, v.ValidateConfig(cfg))

	cfg.Metrics.Enabled = true
	cfg.Metrics.Addr = ""
	cfg.Tracing.Enabled = true
	cfg.Tracing.ServiceName = ""
	cfg.Transport.MaxRetries = -1
	cfg.Intake.RateLimit = -5

	assert.Len(t, v.ValidateConfig(cfg), 4)
}

func TestValidateConfigSampleRatio(t *testing.T) {
	v := NewValidator()

	for _, ratio := range []float64{0, 0.25, 1} {
		cfg := DefaultConfig()
		cfg.Tracing.SampleRatio = ratio
		assert.Empty(t, v.ValidateConfig(cfg), "ratio %v", ratio)
	}

	for _, ratio := range []float64{-0.1, 1.5} {
		cfg := DefaultConfig()
		cfg.Tracing.SampleRatio = ratio
		assert.Len(t, v.ValidateConfig(cfg), 1, "ratio %v", ratio)
	}
}
