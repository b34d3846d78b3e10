package wsclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/leomancini/ai-phone-firmware/pkg/errors"
)

// testServer accepts websocket connections and records what clients send.
type testServer struct {
	*httptest.Server
	upgrader websocket.Upgrader

	mu       sync.Mutex
	conns    []*websocket.Conn
	received [][]byte
	accepts  atomic.Int32
	reject   atomic.Int32 // HTTP status to reject with, 0 accepts
	greeting []byte
}

func newTestServer(t *testing.T) *testServer {
	s := &testServer{}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.Close)
	return s
}

func (s *testServer) handle(w http.ResponseWriter, r *http.Request) {
	if status := s.reject.Load(); status != 0 {
		http.Error(w, "rejected", int(status))
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.accepts.Add(1)
	s.mu.Lock()
	s.conns = append(s.conns, conn)
	greeting := s.greeting
	s.mu.Unlock()
	if greeting != nil {
		_ = conn.WriteMessage(websocket.TextMessage, greeting)
	}
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		s.mu.Lock()
		s.received = append(s.received, data)
		s.mu.Unlock()
	}
}

func (s *testServer) url() string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

func (s *testServer) dropAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.conns {
		_ = c.Close()
	}
	s.conns = nil
}

func (s *testServer) messages() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.received))
	for i, m := range s.received {
		out[i] = string(m)
	}
	return out
}

func fastPolicy(attempts int) ReconnectPolicy {
	return ReconnectPolicy{
		InitialDelay: 10 * time.Millisecond,
		MaxDelay:     20 * time.Millisecond,
		Multiplier:   2,
		Jitter:       0,
		MaxAttempts:  attempts,
	}
}

func nextNotice(t *testing.T, c *Client) Notice {
	t.Helper()
	select {
	case n := <-c.Notices():
		return n
	case <-time.After(3 * time.Second):
		t.Fatal("no notice")
		return Notice{}
	}
}

func TestClient_SendAndReceive(t *testing.T) {
	srv := newTestServer(t)
	srv.mu.Lock()
	srv.greeting = []byte(`{"event":"hello"}`)
	srv.mu.Unlock()

	c := New(Config{Name: "test", URL: srv.url(), Reconnect: fastPolicy(3)})
	require.NoError(t, c.Open(context.Background()))
	defer c.Close()

	assert.Equal(t, Connected, nextNotice(t, c).Kind)
	msg := nextNotice(t, c)
	assert.Equal(t, Message, msg.Kind)
	assert.JSONEq(t, `{"event":"hello"}`, string(msg.Data))

	require.NoError(t, c.Send(map[string]string{"event": "led_on"}))
	require.Eventually(t, func() bool { return len(srv.messages()) == 1 }, time.Second, 5*time.Millisecond)
	assert.JSONEq(t, `{"event":"led_on"}`, srv.messages()[0])
}

func TestClient_ReconnectsAfterDrop(t *testing.T) {
	srv := newTestServer(t)
	c := New(Config{URL: srv.url(), Reconnect: fastPolicy(3)})
	require.NoError(t, c.Open(context.Background()))
	defer c.Close()
	assert.Equal(t, Connected, nextNotice(t, c).Kind)

	srv.dropAll()

	n := nextNotice(t, c)
	assert.Equal(t, Disconnected, n.Kind)
	assert.True(t, pkgerrors.IsKind(n.Err, pkgerrors.KindLink))
	assert.Equal(t, Connected, nextNotice(t, c).Kind)
	require.Eventually(t, func() bool { return srv.accepts.Load() == 2 }, time.Second, 5*time.Millisecond)
	assert.True(t, c.Connected())
}

func TestClient_GivesUpAfterMaxAttempts(t *testing.T) {
	srv := newTestServer(t)
	c := New(Config{URL: srv.url(), Reconnect: fastPolicy(2)})
	require.NoError(t, c.Open(context.Background()))
	defer c.Close()
	assert.Equal(t, Connected, nextNotice(t, c).Kind)

	srv.reject.Store(http.StatusServiceUnavailable)
	srv.dropAll()

	assert.Equal(t, Disconnected, nextNotice(t, c).Kind)
	n := nextNotice(t, c)
	assert.Equal(t, GaveUp, n.Kind)
	assert.ErrorIs(t, n.Err, ErrRetriesExhausted)
	assert.ErrorIs(t, c.Send("x"), ErrNotConnected)
}

func TestClient_OpenFailsWhenUnreachable(t *testing.T) {
	srv := newTestServer(t)
	srv.reject.Store(http.StatusBadGateway)

	c := New(Config{URL: srv.url(), Reconnect: fastPolicy(3)})
	err := c.Open(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRetriesExhausted)
	assert.True(t, pkgerrors.IsKind(err, pkgerrors.KindLink))
}

func TestClient_AuthRejectionIsNotRetried(t *testing.T) {
	srv := newTestServer(t)
	srv.reject.Store(http.StatusUnauthorized)

	c := New(Config{URL: srv.url(), Reconnect: fastPolicy(5)})
	start := time.Now()
	err := c.Open(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestClient_CloseStopsRedialAndAllowsReopen(t *testing.T) {
	srv := newTestServer(t)
	c := New(Config{URL: srv.url(), Reconnect: fastPolicy(3)})
	require.NoError(t, c.Open(context.Background()))
	assert.Equal(t, Connected, nextNotice(t, c).Kind)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	assert.False(t, c.Connected())
	assert.ErrorIs(t, c.Send("x"), ErrNotConnected)

	select {
	case n := <-c.Notices():
		t.Fatalf("unexpected notice after close: %v", n.Kind)
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, c.Open(context.Background()))
	defer c.Close()
	assert.Equal(t, Connected, nextNotice(t, c).Kind)
	require.Eventually(t, func() bool { return srv.accepts.Load() == 2 }, time.Second, 5*time.Millisecond)
}

func TestClient_OpenRespectsContext(t *testing.T) {
	srv := newTestServer(t)
	srv.reject.Store(http.StatusServiceUnavailable)

	c := New(Config{URL: srv.url(), Reconnect: ReconnectPolicy{
		InitialDelay: time.Second, MaxDelay: time.Second, Multiplier: 1, MaxAttempts: 10,
	}})
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	err := c.Open(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestReconnectPolicy_Defaults(t *testing.T) {
	p := ReconnectPolicy{}.withDefaults()
	d := DefaultReconnectPolicy()
	assert.Equal(t, d.InitialDelay, p.InitialDelay)
	assert.Equal(t, d.MaxDelay, p.MaxDelay)
	assert.Equal(t, d.MaxAttempts, p.MaxAttempts)
	assert.InDelta(t, d.Multiplier, p.Multiplier, 0)
	assert.Zero(t, p.Jitter, "zero jitter is a valid choice")
	assert.Equal(t, "gave_up", GaveUp.String())
}
