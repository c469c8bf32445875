package intake

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/coder/quartz"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"

	"github.com/harun/pulse/internal/observability"
	"github.com/harun/pulse/internal/tracing"
	"github.com/harun/pulse/pkg/session"
)

const (
	// SessionsPath accepts POSTed session updates.
	SessionsPath = "/api/sessions"
	// HealthPath reports liveness.
	HealthPath = "/health"

	DefaultAddr               = "127.0.0.1:8610"
	DefaultRateLimitPerMinute = 600
	DefaultMaxBodyBytes       = 4 * 1024 * 1024
	DefaultDrainTimeout       = 30 * time.Second
)

// Sink receives finished sessions.
type Sink interface {
	AddSession(s *session.Session)
}

// Options configures a Server.
type Options struct {
	Addr               string
	Secret             string
	SignatureHeader    string
	RateLimitPerMinute int
	MaxBodyBytes       int64
	// TrustProxyHeaders keys rate limiting on X-Forwarded-For or X-Real-IP
	// instead of the socket address. Enable only behind a proxy that sets them.
	TrustProxyHeaders bool
	// Defaults fills release and environment on records that carry none.
	Defaults session.Context
	Clock    quartz.Clock
	Logger   *zerolog.Logger
}

// Response is the JSON body returned for every sessions request.
type Response struct {
	Accepted int      `json:"accepted"`
	Skipped  int      `json:"skipped"`
	Errors   []string `json:"errors,omitempty"`
}

// Server is the session intake HTTP server.
type Server struct {
	opts    Options
	sink    Sink
	limiter *RateLimiter
	logger  zerolog.Logger
	started time.Time

	server       *http.Server
	shutdownMu   sync.RWMutex
	shuttingDown bool
	inflight     sync.WaitGroup
	stopOnce     sync.Once
}

// NewServer creates an intake server feeding sink.
func NewServer(opts Options, sink Sink) (*Server, error) {
	if sink == nil {
		return nil, fmt.Errorf("session sink is required")
	}
	if opts.Addr == "" {
		opts.Addr = DefaultAddr
	}
	if opts.SignatureHeader == "" {
		opts.SignatureHeader = DefaultSignatureHeader
	}
	if opts.RateLimitPerMinute <= 0 {
		opts.RateLimitPerMinute = DefaultRateLimitPerMinute
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if opts.Clock == nil {
		opts.Clock = quartz.NewReal()
	}

	logger := log.Logger
	if opts.Logger != nil {
		logger = *opts.Logger
	}

	s := &Server{
		opts:    opts,
		sink:    sink,
		limiter: NewRateLimiter(opts.Clock, opts.RateLimitPerMinute),
		logger:  logger.With().Str("component", "intake").Logger(),
		started: opts.Clock.Now(),
	}
	s.server = &http.Server{
		Addr:              opts.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

// Handler returns the server's routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(HealthPath, s.handleHealth)
	mux.HandleFunc(SessionsPath, s.handleSessions)
	return mux
}

// Start listens on the configured address and serves until Stop.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.opts.Addr, err)
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until Stop.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info().Str("addr", ln.Addr().String()).Msg("Starting session intake")
	if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("session intake failed: %w", err)
	}
	return nil
}

// Stop rejects new requests, waits up to DefaultDrainTimeout for in-flight
// ones and shuts the listener down. Later calls are no-ops.
func (s *Server) Stop(ctx context.Context) error {
	var err error
	s.stopOnce.Do(func() {
		s.shutdownMu.Lock()
		s.shuttingDown = true
		s.shutdownMu.Unlock()
		s.logger.Info().Msg("Shutting down session intake")

		done := make(chan struct{})
		go func() {
			s.inflight.Wait()
			close(done)
		}()

		select {
		case <-done:
		case <-ctx.Done():
			s.logger.Warn().Msg("Shutdown interrupted, in-flight requests abandoned")
		case <-time.After(DefaultDrainTimeout):
			s.logger.Warn().Msg("Shutdown timeout reached, forcing close")
		}

		s.limiter.Stop()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := s.server.Shutdown(shutdownCtx); shutdownErr != nil {
			err = fmt.Errorf("failed to shutdown session intake: %w", shutdownErr)
			return
		}
		s.logger.Info().Msg("Session intake stopped")
	})
	return err
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	status := "ok"
	if s.isShuttingDown() {
		status = "shutting_down"
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": status,
		"uptime": s.opts.Clock.Since(s.started).Seconds(),
	})
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		s.reject(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	// in-flight registration happens under the read lock so Stop never
	// waits on a counter that can still grow
	s.shutdownMu.RLock()
	if s.shuttingDown {
		s.shutdownMu.RUnlock()
		s.reject(w, http.StatusServiceUnavailable, "Server is shutting down")
		return
	}
	s.inflight.Add(1)
	s.shutdownMu.RUnlock()
	defer s.inflight.Done()

	ip := clientIP(r, s.opts.TrustProxyHeaders)
	ctx, span := tracing.StartSpan(r.Context(), "pulse.intake", "intake.sessions", attribute.String("client", ip))
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, s.logger).With().Str("client", ip).Logger()

	if !s.limiter.Allow(ip) {
		retryAfter := s.limiter.RetryAfter(ip)
		logger.Warn().Dur("retry_after", retryAfter).Msg("Rate limit exceeded")
		observability.RecordSecurityAudit(ctx, "intake", "rate_limited", map[string]interface{}{
			"client": ip,
		})
		w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter/time.Second)))
		s.reject(w, http.StatusTooManyRequests, "Too Many Requests")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.opts.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			logger.Warn().Int64("limit", tooLarge.Limit).Msg("Request body too large")
			s.reject(w, http.StatusRequestEntityTooLarge, "Request Entity Too Large")
			return
		}
		logger.Error().Err(err).Msg("Failed to read request body")
		s.reject(w, http.StatusBadRequest, "Bad Request")
		return
	}

	if s.opts.Secret != "" {
		signature := r.Header.Get(s.opts.SignatureHeader)
		if signature == "" || !VerifySignature(body, signature, s.opts.Secret) {
			logger.Warn().Bool("present", signature != "").Msg("Rejected request with bad signature")
			observability.RecordSecurityAudit(ctx, "intake", "signature_rejected", map[string]interface{}{
				"client":  ip,
				"present": signature != "",
			})
			s.reject(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
	}

	var resp Response
	bad, err := ReadSessions(bytes.NewReader(body), s.opts.Defaults, func(sess *session.Session) {
		s.sink.AddSession(sess)
		resp.Accepted++
	})
	if err != nil {
		tracing.FailSpan(span, err)
		logger.Error().Err(err).Msg("Failed to decode session updates")
	}
	resp.Skipped = len(bad)
	for _, le := range bad {
		resp.Errors = append(resp.Errors, le.Error())
	}

	status := http.StatusAccepted
	if resp.Accepted == 0 && (resp.Skipped > 0 || err != nil) {
		status = http.StatusBadRequest
	}

	span.SetAttributes(
		attribute.Int("accepted", resp.Accepted),
		attribute.Int("skipped", resp.Skipped),
	)
	observability.RecordIntakeRequest(status, resp.Accepted, resp.Skipped)
	logger.Debug().
		Int("accepted", resp.Accepted).
		Int("skipped", resp.Skipped).
		Int("status", status).
		Dur("duration", time.Since(start)).
		Msg("Session updates received")

	writeJSON(w, status, resp)
}

func (s *Server) isShuttingDown() bool {
	s.shutdownMu.RLock()
	defer s.shutdownMu.RUnlock()
	return s.shuttingDown
}

func (s *Server) reject(w http.ResponseWriter, status int, msg string) {
	observability.RecordIntakeRequest(status, 0, 0)
	http.Error(w, msg, status)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// clientIP returns the socket address host, or the proxy-reported client
// when trustProxy is set and a proxy header is present.
func clientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			return strings.TrimSpace(first)
		}
		if xri := r.Header.Get("X-Real-IP"); xri != "" {
			return xri
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
