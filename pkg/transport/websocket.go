package transport

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/coder/quartz"
	"github.com/gorilla/websocket"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/harun/pulse/pkg/envelope"
)

// WebSocketOptions configures a WebSocketTransport.
type WebSocketOptions struct {
	URL          string
	AuthToken    string
	WriteTimeout time.Duration
	SDK          envelope.SDKInfo
	Dialer       *websocket.Dialer
	Clock        quartz.Clock
	Logger       *zerolog.Logger
}

// WebSocketTransport streams envelopes over one long-lived connection to a
// relay. The connection is dialed lazily and redialed after a write failure.
type WebSocketTransport struct {
	endpoint string
	opts     WebSocketOptions
	dialer   *websocket.Dialer
	logger   zerolog.Logger

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
}

// NewWebSocket creates a WebSocket transport. No connection is made until
// the first send.
func NewWebSocket(opts WebSocketOptions) (*WebSocketTransport, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("transport url is required")
	}
	u, err := url.Parse(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid transport url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("invalid transport url scheme: %s", u.Scheme)
	}

	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultTimeout
	}
	if opts.SDK.Name == "" {
		opts.SDK = envelope.DefaultSDK()
	}
	if opts.Clock == nil {
		opts.Clock = quartz.NewReal()
	}

	dialer := opts.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	logger := log.Logger
	if opts.Logger != nil {
		logger = *opts.Logger
	}

	return &WebSocketTransport{
		endpoint: u.String(),
		opts:     opts,
		dialer:   dialer,
		logger:   logger.With().Str("transport", "websocket").Logger(),
	}, nil
}

func (t *WebSocketTransport) Name() string { return "websocket" }

// SendAggregates writes one sessions envelope as a text frame.
func (t *WebSocketTransport) SendAggregates(ctx context.Context, payload envelope.Aggregates) error {
	env := envelope.New(t.opts.SDK, t.opts.Clock.Now())
	if err := env.AddAggregates(payload); err != nil {
		return err
	}
	return t.write(ctx, env)
}

// SendSession writes one session envelope as a text frame.
func (t *WebSocketTransport) SendSession(ctx context.Context, record envelope.SessionRecord) error {
	env := envelope.New(t.opts.SDK, t.opts.Clock.Now())
	if err := env.AddSession(record); err != nil {
		return err
	}
	return t.write(ctx, env)
}

func (t *WebSocketTransport) write(ctx context.Context, env *envelope.Envelope) error {
	data, err := env.Bytes()
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return ErrClosed
	}

	if t.conn == nil {
		if err := t.dialLocked(ctx); err != nil {
			return err
		}
	}

	deadline := time.Now().Add(t.opts.WriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = t.conn.SetWriteDeadline(deadline)

	if err := t.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		_ = t.conn.Close()
		t.conn = nil
		return fmt.Errorf("failed to write envelope: %w", err)
	}

	return nil
}

func (t *WebSocketTransport) dialLocked(ctx context.Context) error {
	header := http.Header{}
	if id, err := gonanoid.New(); err == nil {
		header.Set(RequestIDHeader, id)
	}
	header.Set(SDKHeader, t.opts.SDK.Name+"/"+t.opts.SDK.Version)
	if t.opts.AuthToken != "" {
		header.Set("Authorization", "Bearer "+t.opts.AuthToken)
	}

	conn, resp, err := t.dialer.DialContext(ctx, t.endpoint, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return fmt.Errorf("failed to connect to relay: %w", err)
	}

	t.conn = conn
	t.logger.Debug().Str("url", t.endpoint).Msg("Relay connection established")
	return nil
}

// Close sends a close frame and tears the connection down.
func (t *WebSocketTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true

	if t.conn == nil {
		return nil
	}

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = t.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	err := t.conn.Close()
	t.conn = nil
	return err
}
