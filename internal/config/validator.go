package config

import (
	"fmt"
	"net/url"
	"strings"
)

// Validator validates configuration values
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateTransportKind validates a transport kind
func (v *Validator) ValidateTransportKind(kind string) error {
	validKinds := []string{TransportNoop, TransportHTTP, TransportWebSocket}
	for _, valid := range validKinds {
		if kind == valid {
			return nil
		}
	}
	return fmt.Errorf("invalid transport kind: %q (must be one of: %s)", kind, strings.Join(validKinds, ", "))
}

// ValidateTransportURL validates the endpoint URL for a transport kind
func (v *Validator) ValidateTransportURL(kind, raw string) error {
	if kind == TransportNoop {
		return nil
	}
	if raw == "" {
		return fmt.Errorf("transport.url is required for %s transport", kind)
	}

	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid transport.url: %w", err)
	}
	if u.Host == "" {
		return fmt.Errorf("invalid transport.url: missing host")
	}

	var schemes []string
	switch kind {
	case TransportHTTP:
		schemes = []string{"http", "https"}
	case TransportWebSocket:
		schemes = []string{"ws", "wss"}
	}
	for _, s := range schemes {
		if u.Scheme == s {
			return nil
		}
	}
	return fmt.Errorf("invalid transport.url scheme %q for %s transport (must be one of: %s)", u.Scheme, kind, strings.Join(schemes, ", "))
}

// ValidateInterval validates the flush interval in seconds
func (v *Validator) ValidateInterval(seconds int) error {
	if seconds <= 0 {
		return fmt.Errorf("flusher.interval must be positive, got %d", seconds)
	}
	return nil
}

// ValidateMaxItems validates the per-payload bucket limit
func (v *Validator) ValidateMaxItems(n int) error {
	if n <= 0 {
		return fmt.Errorf("flusher.max_items_per_payload must be positive, got %d", n)
	}
	return nil
}

// ValidateLogLevel validates log level
func (v *Validator) ValidateLogLevel(level string) error {
	validLevels := []string{"debug", "info", "warn", "error"}
	for _, valid := range validLevels {
		if level == valid {
			return nil
		}
	}
	return fmt.Errorf("invalid log level: %s (must be one of: %s)", level, strings.Join(validLevels, ", "))
}

// ValidateConfig performs comprehensive validation
func (v *Validator) ValidateConfig(cfg *Config) []error {
	var errs []error

	if cfg.Flusher.Enabled {
		if err := v.ValidateInterval(cfg.Flusher.Interval); err != nil {
			errs = append(errs, err)
		}
		if err := v.ValidateMaxItems(cfg.Flusher.MaxItemsPerPayload); err != nil {
			errs = append(errs, err)
		}
	}

	if err := v.ValidateTransportKind(cfg.Transport.Kind); err != nil {
		errs = append(errs, err)
	} else if err := v.ValidateTransportURL(cfg.Transport.Kind, cfg.Transport.URL); err != nil {
		errs = append(errs, err)
	}
	if cfg.Transport.Timeout < 0 {
		errs = append(errs, fmt.Errorf("transport.timeout must be >= 0"))
	}
	if cfg.Transport.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("transport.max_retries must be >= 0"))
	}

	if cfg.Intake.RateLimit < 0 {
		errs = append(errs, fmt.Errorf("intake.rate_limit must be >= 0"))
	}
	if cfg.Intake.MaxBodySize < 0 {
		errs = append(errs, fmt.Errorf("intake.max_body_size must be >= 0"))
	}

	if err := v.ValidateLogLevel(cfg.Logging.Level); err != nil {
		errs = append(errs, err)
	}

	if cfg.Metrics.Enabled && cfg.Metrics.Addr == "" {
		errs = append(errs, fmt.Errorf("metrics.addr is required when metrics are enabled"))
	}
	if cfg.Tracing.Enabled && cfg.Tracing.ServiceName == "" {
		errs = append(errs, fmt.Errorf("tracing.service_name is required when tracing is enabled"))
	}
	if cfg.Tracing.SampleRatio < 0 || cfg.Tracing.SampleRatio > 1 {
		errs = append(errs, fmt.Errorf("tracing.sample_ratio must be between 0 and 1"))
	}

	return errs
}
