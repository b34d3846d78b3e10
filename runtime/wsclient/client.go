// Package wsclient provides the reconnecting websocket channel shared by
// the conversation and handset links. A Client dials with exponential
// backoff, delivers every inbound frame as a Notice, and redials
// transparently when the connection drops until its attempt budget runs out.
package wsclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"

	pkgerrors "github.com/leomancini/ai-phone-firmware/pkg/errors"
	"github.com/leomancini/ai-phone-firmware/runtime/logger"
)

const component = "wsclient"

// Connection defaults.
const (
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultWriteTimeout     = 10 * time.Second
	DefaultPingInterval     = 20 * time.Second
	DefaultReadLimit        = 16 * 1024 * 1024
	closeGracePeriod        = time.Second
	noticeBuffer            = 256
)

var (
	// ErrNotConnected is returned by Send while no connection is up.
	ErrNotConnected = errors.New("wsclient: not connected")
	// ErrRetriesExhausted wraps the last dial error once the reconnect
	// policy gives up.
	ErrRetriesExhausted = errors.New("wsclient: retries exhausted")
)

// ReconnectPolicy bounds dialing.
type ReconnectPolicy struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	// Jitter is the randomization factor applied to each delay (0 to 1).
	Jitter float64
	// MaxAttempts counts dials per connection attempt, the first included.
	MaxAttempts int
}

// DefaultReconnectPolicy returns the policy used by both links.
func DefaultReconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{
		InitialDelay: time.Second,
		MaxDelay:     10 * time.Second,
		Multiplier:   2,
		Jitter:       0.2,
		MaxAttempts:  5,
	}
}

func (p ReconnectPolicy) backOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialDelay
	b.MaxInterval = p.MaxDelay
	b.Multiplier = p.Multiplier
	b.RandomizationFactor = p.Jitter
	return b
}

func (p ReconnectPolicy) withDefaults() ReconnectPolicy {
	d := DefaultReconnectPolicy()
	if p.InitialDelay <= 0 {
		p.InitialDelay = d.InitialDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = d.MaxDelay
	}
	if p.Multiplier < 1 {
		p.Multiplier = d.Multiplier
	}
	if p.Jitter < 0 || p.Jitter > 1 {
		p.Jitter = d.Jitter
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	return p
}

// Config configures a Client.
type Config struct {
	// Name labels the client in logs ("conversation", "handset").
	Name             string
	URL              string
	Header           http.Header
	Reconnect        ReconnectPolicy
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	// PingInterval of zero disables keepalive pings.
	PingInterval time.Duration
	ReadLimit    int64
}

// NoticeKind tells what a Notice reports.
type NoticeKind int

// Notice kinds.
const (
	// Connected follows every successful dial, including the first.
	Connected NoticeKind = iota
	// Message carries one inbound frame.
	Message
	// Disconnected reports a dropped connection. A redial follows.
	Disconnected
	// GaveUp reports that redialing failed and the client stopped.
	GaveUp
)

func (k NoticeKind) String() string {
	switch k {
	case Connected:
		return "connected"
	case Message:
		return "message"
	case Disconnected:
		return "disconnected"
	case GaveUp:
		return "gave_up"
	default:
		return "unknown"
	}
}

// Notice is one thing that happened on the channel.
type Notice struct {
	Kind NoticeKind
	Data []byte
	Err  error
}

// Client is a reconnecting websocket client. It may be opened again after
// Close.
type Client struct {
	cfg    Config
	dialer websocket.Dialer

	notices chan Notice

	mu     sync.Mutex
	conn   *websocket.Conn
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Client. Nothing is dialed until Open.
func New(cfg Config) *Client {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.ReadLimit <= 0 {
		cfg.ReadLimit = DefaultReadLimit
	}
	if cfg.Name == "" {
		cfg.Name = component
	}
	cfg.Reconnect = cfg.Reconnect.withDefaults()
	return &Client{
		cfg:     cfg,
		dialer:  websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout, Proxy: http.ProxyFromEnvironment},
		notices: make(chan Notice, noticeBuffer),
	}
}

// Notices delivers everything that happens on the channel, in order. The
// channel is never closed.
func (c *Client) Notices() <-chan Notice { return c.notices }

// Open dials until connected or the reconnect policy gives up. ctx bounds
// only the dialing; the connection lives until Close.
func (c *Client) Open(ctx context.Context) error {
	c.mu.Lock()
	if c.cancel != nil {
		c.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.cancel = cancel
	c.mu.Unlock()

	dialCtx, dialCancel := context.WithCancel(ctx)
	stop := context.AfterFunc(runCtx, dialCancel)
	conn, err := c.dial(dialCtx)
	stop()
	dialCancel()
	if err != nil {
		c.mu.Lock()
		c.cancel = nil
		c.mu.Unlock()
		cancel()
		return err
	}
	if runCtx.Err() != nil {
		// Closed while dialing.
		c.mu.Lock()
		if c.conn == conn {
			c.conn = nil
		}
		c.mu.Unlock()
		_ = conn.Close()
		return runCtx.Err()
	}

	c.wg.Add(1)
	go c.run(runCtx, conn)
	return nil
}

// Send marshals v as JSON and writes it as one text frame.
func (c *Client) Send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return pkgerrors.New(component, "Send", fmt.Errorf("marshal: %w", err))
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return ErrNotConnected
	}
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout)); err != nil {
		return pkgerrors.New(component, "Send", err).WithKind(pkgerrors.KindLink)
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return pkgerrors.New(component, "Send", err).WithKind(pkgerrors.KindLink)
	}
	return nil
}

// Connected reports whether a connection is currently up.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Close stops redialing, closes the connection with a normal close frame
// and discards notices that were not consumed. It is safe to call when the
// client is not open.
func (c *Client) Close() error {
	c.mu.Lock()
	cancel := c.cancel
	conn := c.conn
	c.cancel = nil
	c.conn = nil
	c.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	var err error
	if conn != nil {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGracePeriod))
		err = conn.Close()
	}
	c.wg.Wait()

	for {
		select {
		case <-c.notices:
		default:
			return err
		}
	}
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	policy := c.cfg.Reconnect
	attempts := 0
	op := func() (*websocket.Conn, error) {
		attempts++
		conn, resp, err := c.dialer.DialContext(ctx, c.cfg.URL, c.cfg.Header)
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		if err != nil {
			if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
				return nil, backoff.Permanent(fmt.Errorf("handshake rejected with status %d: %w", resp.StatusCode, err))
			}
			return nil, err
		}
		return conn, nil
	}
	notify := func(err error, next time.Duration) {
		logger.Warn("websocket dial failed, retrying",
			"link", c.cfg.Name,
			"attempt", attempts,
			"max_attempts", policy.MaxAttempts,
			"retry_in", next,
			"error", logger.RedactSensitiveData(err.Error()))
	}

	logger.Debug("websocket dialing", "link", c.cfg.Name, "url", logger.RedactSensitiveData(c.cfg.URL))
	conn, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(policy.backOff()),
		backoff.WithMaxTries(uint(policy.MaxAttempts)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(notify),
	)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, pkgerrors.New(component, "Dial", fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, attempts, err)).
			WithKind(pkgerrors.KindLink).
			WithDetails(map[string]any{"link": c.cfg.Name})
	}

	conn.SetReadLimit(c.cfg.ReadLimit)
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	logger.Info("websocket connected", "link", c.cfg.Name, "attempts", attempts)
	c.emit(ctx, Notice{Kind: Connected})
	return conn, nil
}

func (c *Client) run(ctx context.Context, conn *websocket.Conn) {
	defer c.wg.Done()
	for {
		err := c.readLoop(ctx, conn)
		if ctx.Err() != nil {
			return
		}

		c.mu.Lock()
		if c.conn == conn {
			c.conn = nil
		}
		c.mu.Unlock()
		_ = conn.Close()

		logger.Warn("websocket disconnected", "link", c.cfg.Name, "error", err)
		c.emit(ctx, Notice{Kind: Disconnected, Err: pkgerrors.New(component, "Read", err).WithKind(pkgerrors.KindLink)})

		next, err := c.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error("websocket reconnect gave up", "link", c.cfg.Name, "error", err)
			c.emit(ctx, Notice{Kind: GaveUp, Err: err})
			return
		}
		conn = next
	}
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) error {
	done := make(chan struct{})
	defer close(done)
	if c.cfg.PingInterval > 0 {
		go c.heartbeat(conn, done)
	}

	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if kind != websocket.TextMessage && kind != websocket.BinaryMessage {
			continue
		}
		if !c.emit(ctx, Notice{Kind: Message, Data: data}) {
			return ctx.Err()
		}
	}
}

func (c *Client) heartbeat(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.cfg.WriteTimeout)); err != nil {
				logger.Debug("websocket ping failed", "link", c.cfg.Name, "error", err)
				return
			}
		}
	}
}

func (c *Client) emit(ctx context.Context, n Notice) bool {
	select {
	case c.notices <- n:
		return true
	case <-ctx.Done():
		return false
	}
}
