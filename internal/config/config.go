package config

import (
	"encoding/json"
	"errors"
	"time"
)

// Transport kinds
const (
	TransportNoop      = "noop"
	TransportHTTP      = "http"
	TransportWebSocket = "websocket"
)

// Config represents the pulse configuration
type Config struct {
	// Release and environment stamped on sessions that do not carry their own
	Release     string `json:"release" mapstructure:"release"`
	Environment string `json:"environment" mapstructure:"environment"`

	Flusher   FlusherConfig   `json:"flusher" mapstructure:"flusher"`
	Transport TransportConfig `json:"transport" mapstructure:"transport"`
	Intake    IntakeConfig    `json:"intake" mapstructure:"intake"`
	Logging   LoggingConfig   `json:"logging" mapstructure:"logging"`
	Metrics   MetricsConfig   `json:"metrics" mapstructure:"metrics"`
	Tracing   TracingConfig   `json:"tracing" mapstructure:"tracing"`
}

// FlusherConfig holds session aggregation settings
type FlusherConfig struct {
	Enabled            bool `json:"enabled" mapstructure:"enabled"`
	Interval           int  `json:"interval" mapstructure:"interval"` // seconds
	MaxItemsPerPayload int  `json:"max_items_per_payload" mapstructure:"max_items_per_payload"`
}

// TransportConfig selects and configures the delivery transport
type TransportConfig struct {
	Kind       string `json:"kind" mapstructure:"kind"` // noop, http, websocket
	URL        string `json:"url" mapstructure:"url"`
	AuthToken  string `json:"auth_token" mapstructure:"auth_token"`
	Timeout    int    `json:"timeout" mapstructure:"timeout"` // seconds
	MaxRetries int    `json:"max_retries" mapstructure:"max_retries"`
	Strict     bool   `json:"strict" mapstructure:"strict"`
}

// IntakeConfig configures the HTTP session intake used by `pulse serve`
type IntakeConfig struct {
	Addr              string `json:"addr" mapstructure:"addr"`
	Secret            string `json:"secret" mapstructure:"secret"`                             // HMAC secret; empty disables signatures
	RateLimit         int    `json:"rate_limit" mapstructure:"rate_limit"`                     // requests per minute per client
	MaxBodySize       int    `json:"max_body_size" mapstructure:"max_body_size"`               // KB
	TrustProxyHeaders bool   `json:"trust_proxy_headers" mapstructure:"trust_proxy_headers"`   // key clients on X-Forwarded-For
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	Console   bool   `json:"console" mapstructure:"console"`
	Pretty    bool   `json:"pretty" mapstructure:"pretty"`
	MaxSize   int    `json:"max_size" mapstructure:"max_size"` // MB
	MaxAge    int    `json:"max_age" mapstructure:"max_age"`   // days
	Compress  bool   `json:"compress" mapstructure:"compress"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
	AuditFile string `json:"audit_file" mapstructure:"audit_file"`
}

// MetricsConfig controls the prometheus endpoint
type MetricsConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Addr    string `json:"addr" mapstructure:"addr"`
}

// TracingConfig controls OpenTelemetry tracing
type TracingConfig struct {
	Enabled     bool    `json:"enabled" mapstructure:"enabled"`
	ServiceName string  `json:"service_name" mapstructure:"service_name"`
	SampleRatio float64 `json:"sample_ratio" mapstructure:"sample_ratio"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Flusher: FlusherConfig{
			Enabled:            true,
			Interval:           60,
			MaxItemsPerPayload: 100,
		},
		Transport: TransportConfig{
			Kind:       TransportNoop,
			Timeout:    10,
			MaxRetries: 3,
		},
		Intake: IntakeConfig{
			Addr:        "127.0.0.1:8610",
			RateLimit:   600,
			MaxBodySize: 4096,
		},
		Logging: LoggingConfig{
			Level:     "info",
			Console:   true,
			Pretty:    true,
			MaxSize:   100,
			MaxAge:    7,
			Compress:  true,
			Redaction: true,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    "127.0.0.1:9464",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "pulse",
			SampleRatio: 1,
		},
	}
}

// FlushInterval returns the flusher interval as a duration
func (c *Config) FlushInterval() time.Duration {
	return time.Duration(c.Flusher.Interval) * time.Second
}

// TransportTimeout returns the per-attempt transport timeout as a duration
func (c *Config) TransportTimeout() time.Duration {
	return time.Duration(c.Transport.Timeout) * time.Second
}

// IntakeMaxBodyBytes returns the intake request body limit in bytes
func (c *Config) IntakeMaxBodyBytes() int64 {
	return int64(c.Intake.MaxBodySize) * 1024
}

// String returns a JSON representation of the config with secrets masked
func (c *Config) String() string {
	masked := *c
	if masked.Transport.AuthToken != "" {
		masked.Transport.AuthToken = "********"
	}
	if masked.Intake.Secret != "" {
		masked.Intake.Secret = "********"
	}
	data, _ := json.MarshalIndent(masked, "", "  ")
	return string(data)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	return errors.Join(NewValidator().ValidateConfig(c)...)
}
