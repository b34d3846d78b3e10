package handset

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"

	pkgerrors "github.com/leomancini/ai-phone-firmware/pkg/errors"
	"github.com/leomancini/ai-phone-firmware/runtime/events"
	"github.com/leomancini/ai-phone-firmware/runtime/logger"
	"github.com/leomancini/ai-phone-firmware/runtime/wsclient"
)

const (
	component    = "handset"
	eventsBuffer = 64
)

// Defaults for the handset socket server.
const (
	DefaultURL         = "ws://localhost:8765"
	DefaultStatusRate  = 5
	DefaultStatusBurst = 10
)

// ErrRateLimited is returned when a status message is dropped by the rate
// limiter. Indicator and ringtone commands are never limited.
var ErrRateLimited = errors.New("handset: status message rate limited")

// Config configures a handset Link.
type Config struct {
	URL          string
	Reconnect    wsclient.ReconnectPolicy
	PingInterval time.Duration
	// StatusRate is status messages per second. Zero uses the default,
	// negative disables limiting.
	StatusRate  float64
	StatusBurst int
	Emitter     *events.Emitter
}

func (c Config) withDefaults() Config {
	if c.URL == "" {
		c.URL = DefaultURL
	}
	if c.StatusRate == 0 {
		c.StatusRate = DefaultStatusRate
	}
	if c.StatusBurst <= 0 {
		c.StatusBurst = DefaultStatusBurst
	}
	return c
}

// Link is the handset link over the socket server's JSON protocol.
type Link struct {
	cfg     Config
	client  *wsclient.Client
	limiter *rate.Limiter
	events  chan Event

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewLink creates a Link. Nothing is dialed until Open.
func NewLink(cfg Config) *Link {
	cfg = cfg.withDefaults()
	limit := rate.Limit(cfg.StatusRate)
	if cfg.StatusRate < 0 {
		limit = rate.Inf
	}
	return &Link{
		cfg: cfg,
		client: wsclient.New(wsclient.Config{
			Name:         events.LinkHandset,
			URL:          cfg.URL,
			Reconnect:    cfg.Reconnect,
			PingInterval: cfg.PingInterval,
		}),
		limiter: rate.NewLimiter(limit, cfg.StatusBurst),
		events:  make(chan Event, eventsBuffer),
	}
}

// Open connects to the socket server. The current presence arrives as the
// first PresenceChanged event.
func (l *Link) Open(ctx context.Context) error {
	l.mu.Lock()
	if l.cancel != nil {
		l.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	l.cancel = cancel
	l.wg.Add(1)
	go l.translate(runCtx)
	l.mu.Unlock()

	if err := l.client.Open(ctx); err != nil {
		_ = l.Close()
		return pkgerrors.New(component, "Open", err).WithKind(pkgerrors.KindLink)
	}
	return nil
}

// Events delivers decoded handset events in arrival order. The channel is
// never closed.
func (l *Link) Events() <-chan Event { return l.events }

// Send writes cmd to the socket server. Status messages beyond the rate
// limit are dropped with ErrRateLimited.
func (l *Link) Send(cmd Command) error {
	msg, err := encode(cmd)
	if err != nil {
		return pkgerrors.New(component, "Send", err)
	}
	if _, ok := cmd.(StatusMessage); ok && !l.limiter.Allow() {
		return ErrRateLimited
	}
	if err := l.client.Send(msg); err != nil {
		return pkgerrors.New(component, "Send", err).WithKind(pkgerrors.KindLink)
	}
	return nil
}

// Close disconnects. The link can be opened again afterwards.
func (l *Link) Close() error {
	l.mu.Lock()
	cancel := l.cancel
	l.cancel = nil
	l.mu.Unlock()
	if cancel == nil {
		return nil
	}

	cancel()
	l.wg.Wait()
	err := l.client.Close()
	for {
		select {
		case <-l.events:
		default:
			return err
		}
	}
}

func (l *Link) translate(ctx context.Context) {
	defer l.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case n := <-l.client.Notices():
			var ev Event
			switch n.Kind {
			case wsclient.Disconnected:
				ev = Closed{Err: n.Err}
			case wsclient.GaveUp:
				ev = Closed{Err: n.Err, Fatal: true}
			case wsclient.Message:
				decoded, err := decode(n.Data)
				if err != nil {
					malformed := pkgerrors.New(component, "Decode", err).WithKind(pkgerrors.KindMalformed)
					logger.Warn("dropping malformed handset event", "error", malformed)
					l.cfg.Emitter.LinkMalformed(events.LinkHandset, malformed)
					continue
				}
				ev = decoded
			}
			if ev == nil {
				continue
			}
			select {
			case l.events <- ev:
			case <-ctx.Done():
				return
			}
		}
	}
}
