package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/harun/pulse/internal/config"
	"github.com/harun/pulse/internal/logger"
	"github.com/harun/pulse/internal/observability"
	"github.com/harun/pulse/internal/tracing"
	"github.com/harun/pulse/pkg/flusher"
	"github.com/harun/pulse/pkg/session"
	"github.com/harun/pulse/pkg/transport"
)

// runtime is everything a command needs to aggregate and deliver sessions.
type runtime struct {
	cfg       *config.Config
	log       zerolog.Logger
	transport transport.Transport
	flusher   *flusher.Flusher

	closers   []func() error
	closeOnce sync.Once
	closeErr  error
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if cmd.Flags().Changed("log-level") {
		cfg.Logging.Level = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// newRuntime wires logging, audit, tracing, metrics, the transport and the
// flusher from configuration. Close tears them down in reverse order.
func newRuntime(cmd *cobra.Command) (*runtime, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	rt := &runtime{cfg: cfg}
	ok := false
	defer func() {
		if !ok {
			_ = rt.Close()
		}
	}()

	lg, err := logger.New(logger.Config{
		Level:     cfg.Logging.Level,
		File:      cfg.Logging.File,
		Console:   cfg.Logging.Console,
		Pretty:    cfg.Logging.Pretty,
		Redaction: cfg.Logging.Redaction,
		MaxSize:   cfg.Logging.MaxSize,
		MaxAge:    cfg.Logging.MaxAge,
		Compress:  cfg.Logging.Compress,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	rt.log = lg.Zerolog()
	rt.closers = append(rt.closers, lg.Close)

	if cfg.Logging.AuditFile != "" {
		if err := observability.InitAuditLogger(cfg.Logging.AuditFile); err != nil {
			return nil, fmt.Errorf("failed to open audit log: %w", err)
		}
		rt.closers = append(rt.closers, func() error { return observability.GetAuditLogger().Close() })
	}

	if cfg.Tracing.Enabled {
		err := tracing.InitOpenTelemetry(tracing.ProviderOptions{
			ServiceName:    cfg.Tracing.ServiceName,
			ServiceVersion: version,
			Environment:    cfg.Environment,
			SampleRatio:    cfg.Tracing.SampleRatio,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize tracing: %w", err)
		}
		rt.closers = append(rt.closers, func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return tracing.ShutdownOpenTelemetry(ctx)
		})
	}

	if cfg.Metrics.Enabled {
		shutdown, err := serveMetrics(cfg.Metrics.Addr, rt.log)
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, shutdown)
	}

	tr, err := newTransport(cfg, rt.log)
	if err != nil {
		return nil, err
	}
	rt.transport = tr
	if c, isCloser := tr.(io.Closer); isCloser {
		rt.closers = append(rt.closers, c.Close)
	}

	rt.flusher = flusher.New(flusher.Options{
		Transport:          tr,
		FlushInterval:      cfg.FlushInterval(),
		MaxItemsPerPayload: cfg.Flusher.MaxItemsPerPayload,
		Disabled:           !cfg.Flusher.Enabled,
		Logger:             &rt.log,
	})
	rt.closers = append(rt.closers, func() error {
		rt.flusher.Close()
		return nil
	})

	ok = true
	return rt, nil
}

// defaults returns the release and environment applied to sessions that
// carry none.
func (r *runtime) defaults() session.Context {
	var c session.Context
	if r.cfg.Release != "" {
		c.Release = session.Ptr(r.cfg.Release)
	}
	if r.cfg.Environment != "" {
		c.Environment = session.Ptr(r.cfg.Environment)
	}
	return c
}

// Close flushes pending sessions and releases every resource. Only the
// first call does any work.
func (r *runtime) Close() error {
	r.closeOnce.Do(func() {
		var errs []error
		for i := len(r.closers) - 1; i >= 0; i-- {
			if err := r.closers[i](); err != nil {
				errs = append(errs, err)
			}
		}
		r.closeErr = errors.Join(errs...)
	})
	return r.closeErr
}

func newTransport(cfg *config.Config, log zerolog.Logger) (transport.Transport, error) {
	switch cfg.Transport.Kind {
	case config.TransportHTTP:
		return transport.NewHTTP(transport.HTTPOptions{
			URL:        cfg.Transport.URL,
			AuthToken:  cfg.Transport.AuthToken,
			Timeout:    cfg.TransportTimeout(),
			MaxRetries: cfg.Transport.MaxRetries,
			Strict:     cfg.Transport.Strict,
			Logger:     &log,
		})
	case config.TransportWebSocket:
		return transport.NewWebSocket(transport.WebSocketOptions{
			URL:          cfg.Transport.URL,
			AuthToken:    cfg.Transport.AuthToken,
			WriteTimeout: cfg.TransportTimeout(),
			Logger:       &log,
		})
	case config.TransportNoop, "":
		return transport.NewNoop(), nil
	default:
		return nil, fmt.Errorf("unknown transport kind: %s", cfg.Transport.Kind)
	}
}

func serveMetrics(addr string, log zerolog.Logger) (func() error, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen for metrics on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.MetricsHandler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Metrics server stopped")
		}
	}()
	log.Info().Str("addr", ln.Addr().String()).Msg("Serving metrics")

	return func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(ctx)
	}, nil
}
