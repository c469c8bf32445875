package intake

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/pulse/pkg/session"
)

type fakeSink struct {
	mu       sync.Mutex
	sessions []*session.Session
}

func (f *fakeSink) AddSession(s *session.Session) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions = append(f.sessions, s)
}

func (f *fakeSink) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sessions)
}

func newTestServer(t *testing.T, opts Options) (*Server, *fakeSink) {
	t.Helper()
	if opts.Clock == nil {
		opts.Clock = quartz.NewMock(t)
	}
	if opts.Logger == nil {
		nop := zerolog.Nop()
		opts.Logger = &nop
	}
	sink := &fakeSink{}
	srv, err := NewServer(opts, sink)
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Stop(context.Background()) })
	return srv, sink
}

func post(t *testing.T, h http.Handler, body string, headers map[string]string) (*httptest.ResponseRecorder, Response) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, SessionsPath, strings.NewReader(body))
	req.RemoteAddr = "203.0.113.7:51234"
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var resp Response
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	}
	return rec, resp
}

func TestNewServer(t *testing.T) {
	t.Run("requires sink", func(t *testing.T) {
		_, err := NewServer(Options{}, nil)
		assert.Error(t, err)
	})

	t.Run("applies defaults", func(t *testing.T) {
		srv, _ := newTestServer(t, Options{})
		assert.Equal(t, DefaultAddr, srv.opts.Addr)
		assert.Equal(t, DefaultSignatureHeader, srv.opts.SignatureHeader)
		assert.Equal(t, DefaultRateLimitPerMinute, srv.opts.RateLimitPerMinute)
		assert.Equal(t, int64(DefaultMaxBodyBytes), srv.opts.MaxBodyBytes)
	})
}

func TestHandleSessions(t *testing.T) {
	t.Run("accepts valid lines and reports bad ones", func(t *testing.T) {
		srv, sink := newTestServer(t, Options{
			Defaults: session.Context{Release: session.Ptr("web@1.0.0")},
		})

		body := `{"did":"u1","status":"ok"}` + "\n" + `{oops` + "\n" + `{"did":"u2","status":"crashed"}` + "\n"
		rec, resp := post(t, srv.Handler(), body, nil)

		assert.Equal(t, http.StatusAccepted, rec.Code)
		assert.Equal(t, 2, resp.Accepted)
		assert.Equal(t, 1, resp.Skipped)
		require.Len(t, resp.Errors, 1)
		assert.Contains(t, resp.Errors[0], "line 2")

		require.Equal(t, 2, sink.count())
		assert.Equal(t, "web@1.0.0", sink.sessions[0].Release())
		assert.Equal(t, session.StatusExited, sink.sessions[0].Status())
		assert.Equal(t, session.StatusCrashed, sink.sessions[1].Status())
	})

	t.Run("nothing usable is a bad request", func(t *testing.T) {
		srv, sink := newTestServer(t, Options{})

		rec, resp := post(t, srv.Handler(), `{"status":"paused"}`, nil)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, 0, resp.Accepted)
		assert.Equal(t, 1, resp.Skipped)
		assert.Zero(t, sink.count())
	})

	t.Run("empty body is accepted", func(t *testing.T) {
		srv, _ := newTestServer(t, Options{})

		rec, resp := post(t, srv.Handler(), "", nil)

		assert.Equal(t, http.StatusAccepted, rec.Code)
		assert.Zero(t, resp.Accepted)
	})

	t.Run("only POST", func(t *testing.T) {
		srv, _ := newTestServer(t, Options{})

		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, SessionsPath, nil))

		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
		assert.Equal(t, http.MethodPost, rec.Header().Get("Allow"))
	})

	t.Run("body limit", func(t *testing.T) {
		srv, sink := newTestServer(t, Options{MaxBodyBytes: 16})

		rec, _ := post(t, srv.Handler(), `{"did":"a-rather-long-device-id","status":"ok"}`, nil)

		assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
		assert.Zero(t, sink.count())
	})
}

func TestHandleSessionsSignature(t *testing.T) {
	srv, sink := newTestServer(t, Options{Secret: "shared"})
	body := `{"did":"u1"}`

	rec, _ := post(t, srv.Handler(), body, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "missing signature")

	rec, _ = post(t, srv.Handler(), body, map[string]string{DefaultSignatureHeader: Sign([]byte(body), "other")})
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "wrong secret")

	rec, resp := post(t, srv.Handler(), body, map[string]string{DefaultSignatureHeader: Sign([]byte(body), "shared")})
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, 1, resp.Accepted)
	assert.Equal(t, 1, sink.count())
}

func TestHandleSessionsRateLimit(t *testing.T) {
	srv, _ := newTestServer(t, Options{RateLimitPerMinute: 2})

	for i := 0; i < 2; i++ {
		rec, _ := post(t, srv.Handler(), `{"did":"u1"}`, nil)
		require.Equal(t, http.StatusAccepted, rec.Code)
	}

	rec, _ := post(t, srv.Handler(), `{"did":"u1"}`, nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))

	// proxy headers are ignored unless trusted
	rec, _ = post(t, srv.Handler(), `{"did":"u1"}`, map[string]string{"X-Forwarded-For": "198.51.100.1"})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestHandleSessionsRateLimitTrustedProxy(t *testing.T) {
	srv, _ := newTestServer(t, Options{RateLimitPerMinute: 1, TrustProxyHeaders: true})

	rec, _ := post(t, srv.Handler(), `{"did":"u1"}`, map[string]string{"X-Forwarded-For": "198.51.100.1"})
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec, _ = post(t, srv.Handler(), `{"did":"u1"}`, map[string]string{"X-Forwarded-For": "198.51.100.1"})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	// a different forwarded client has its own window
	rec, _ = post(t, srv.Handler(), `{"did":"u1"}`, map[string]string{"X-Forwarded-For": "198.51.100.2"})
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestHandleHealth(t *testing.T) {
	mClock := quartz.NewMock(t)
	srv, _ := newTestServer(t, Options{Clock: mClock})
	mClock.Advance(3 * time.Second)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, HealthPath, nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, float64(3), body["uptime"])

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, HealthPath, nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestStopRejectsNewRequests(t *testing.T) {
	srv, sink := newTestServer(t, Options{})
	require.NoError(t, srv.Stop(context.Background()))
	require.NoError(t, srv.Stop(context.Background()), "second stop is a no-op")

	rec, _ := post(t, srv.Handler(), `{"did":"u1"}`, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Zero(t, sink.count())

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, HealthPath, nil))
	assert.Contains(t, rec.Body.String(), "shutting_down")
}

func TestServe(t *testing.T) {
	srv, sink := newTestServer(t, Options{Clock: quartz.NewReal()})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	served := make(chan error, 1)
	go func() { served <- srv.Serve(ln) }()

	resp, err := http.Post("http://"+ln.Addr().String()+SessionsPath, "application/x-ndjson", bytes.NewBufferString(`{"did":"u1"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, 1, sink.count())

	require.NoError(t, srv.Stop(context.Background()))
	select {
	case err := <-served:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after Stop")
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name    string
		trust   bool
		headers map[string]string
		remote  string
		want    string
	}{
		{name: "forwarded for", trust: true, headers: map[string]string{"X-Forwarded-For": "198.51.100.1, 10.0.0.1"}, remote: "10.0.0.1:80", want: "198.51.100.1"},
		{name: "real ip", trust: true, headers: map[string]string{"X-Real-IP": "198.51.100.2"}, remote: "10.0.0.1:80", want: "198.51.100.2"},
		{name: "untrusted forwarded for", headers: map[string]string{"X-Forwarded-For": "198.51.100.1"}, remote: "10.0.0.1:80", want: "10.0.0.1"},
		{name: "untrusted real ip", headers: map[string]string{"X-Real-IP": "198.51.100.2"}, remote: "10.0.0.1:80", want: "10.0.0.1"},
		{name: "remote addr", remote: "203.0.113.9:4000", want: "203.0.113.9"},
		{name: "trusted without headers", trust: true, remote: "203.0.113.9:4000", want: "203.0.113.9"},
		{name: "ipv6 remote addr", remote: "[2001:db8::1]:4000", want: "2001:db8::1"},
		{name: "bare remote addr", remote: "unix", want: "unix"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, SessionsPath, nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, clientIP(req, tt.trust))
		})
	}
}
