// Package playback implements the playback pipe: an ordered, bounded queue
// of audio chunks written to the stdin of an external render process.
package playback

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	pkgerrors "github.com/leomancini/ai-phone-firmware/pkg/errors"
	"github.com/leomancini/ai-phone-firmware/runtime/audio"
	"github.com/leomancini/ai-phone-firmware/runtime/logger"
	"github.com/leomancini/ai-phone-firmware/runtime/process"
)

const component = "playback"

// Defaults match the reference deployment.
const (
	DefaultCommand       = "sox"
	DefaultCapacityBytes = 64 * 1024
	DefaultStallTimeout  = 3 * time.Second
	DefaultDrainTimeout  = 10 * time.Second

	// writeSliceBytes bounds a single stdin write so progress is observed
	// at a steady rate even for large deltas.
	writeSliceBytes = 4096
)

// DefaultArgs plays a WAV stream from stdin on the handset speaker.
var DefaultArgs = []string{
	"-q", "-t", "wav", "-", "-t", "alsa", "plughw:3,0",
	"rate", "24k", "norm", "-3", "vol", "5", "pad", "0.5", "0.5",
}

// ErrClosed is returned by Write once the handle is draining or stopped.
var ErrClosed = errors.New("playback: handle closed")

// Config configures a Pipe.
type Config struct {
	Command string
	Args    []string
	// StreamHeader writes a WAV header with a placeholder length before
	// the first chunk so the sink can parse its stdin.
	StreamHeader bool
	// CapacityBytes is the queue size above which Write reports
	// backpressure. Flow resumes once the queue falls to half of it.
	CapacityBytes int
	// StallTimeout fails the handle when pending data makes no progress.
	StallTimeout time.Duration
	// DrainTimeout bounds how long Drain may wait for the sink to finish.
	DrainTimeout time.Duration
	Ladder       process.Ladder
}

// DefaultConfig returns the reference sox configuration.
func DefaultConfig() Config {
	return Config{
		Command:       DefaultCommand,
		Args:          append([]string(nil), DefaultArgs...),
		StreamHeader:  true,
		CapacityBytes: DefaultCapacityBytes,
		StallTimeout:  DefaultStallTimeout,
		DrainTimeout:  DefaultDrainTimeout,
		Ladder:        process.DefaultLadder(),
	}
}

func (c Config) withDefaults() Config {
	if c.Command == "" {
		c.Command = DefaultCommand
	}
	if c.Args == nil {
		c.Args = DefaultArgs
	}
	if c.CapacityBytes <= 0 {
		c.CapacityBytes = DefaultCapacityBytes
	}
	if c.StallTimeout <= 0 {
		c.StallTimeout = DefaultStallTimeout
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = DefaultDrainTimeout
	}
	if len(c.Ladder.Steps) == 0 {
		c.Ladder = process.DefaultLadder()
	}
	return c
}

// WriteOutcome reports whether the caller may keep writing.
type WriteOutcome int

const (
	// Accepted means the chunk was queued and there is room for more.
	Accepted WriteOutcome = iota
	// Backpressured means the chunk was queued but the caller must hold
	// further chunks until Ready fires.
	Backpressured
)

func (o WriteOutcome) String() string {
	if o == Backpressured {
		return "backpressured"
	}
	return "accepted"
}

// Pipe starts playback handles.
type Pipe struct {
	cfg      Config
	launcher process.Launcher
}

// New creates a Pipe.
func New(cfg Config, launcher process.Launcher) *Pipe {
	return &Pipe{cfg: cfg.withDefaults(), launcher: launcher}
}

// Start spawns the sink. Every handle is a new ordered stream.
func (p *Pipe) Start(ctx context.Context) (*Handle, error) {
	spec := process.Spec{
		Name:  component,
		Path:  p.cfg.Command,
		Args:  p.cfg.Args,
		Stdin: true,
	}
	proc, err := p.launcher.Launch(ctx, spec)
	if err != nil {
		var ce *pkgerrors.ContextualError
		if errors.As(err, &ce) {
			return nil, err
		}
		return nil, pkgerrors.New(component, "Start", err).WithKind(pkgerrors.KindFatalDevice)
	}

	now := time.Now()
	h := &Handle{
		cfg:          p.cfg,
		proc:         proc,
		wake:         make(chan struct{}, 1),
		ready:        make(chan struct{}, 1),
		failed:       make(chan error, 1),
		stop:         make(chan struct{}),
		stopDone:     make(chan struct{}),
		writerDone:   make(chan struct{}),
		monitorDone:  make(chan struct{}),
		startedAt:    now,
		lastProgress: now,
	}
	logger.Debug("playback started", "pid", proc.Pid())

	go h.writeLoop()
	go h.monitor()
	return h, nil
}

// Stats summarizes a handle.
type Stats struct {
	// Queued is the number of chunks waiting behind the one being written.
	Queued        int
	Accepted      int
	Written       int
	Dropped       int
	BytesWritten  int64
	Backpressured int
}

// Handle is one playback stream.
type Handle struct {
	cfg  Config
	proc process.Process

	mu            sync.Mutex
	queue         [][]byte
	queued        int
	inflight      bool
	lastProgress  time.Time
	backpressured bool
	draining      bool
	drainStarted  time.Time
	inputClosed   bool
	stopped       bool
	finished      bool
	finalErr      error
	waiters       []chan error
	stats         Stats

	wake   chan struct{}
	ready  chan struct{}
	failed chan error

	startedAt time.Time

	failOnce    sync.Once
	stopOnce    sync.Once
	stop        chan struct{}
	stopDone    chan struct{}
	writerDone  chan struct{}
	monitorDone chan struct{}
}

// StartedAt is when the sink was spawned.
func (h *Handle) StartedAt() time.Time { return h.startedAt }

// Ready fires when a backpressured handle has room again.
func (h *Handle) Ready() <-chan struct{} { return h.ready }

// Failed receives at most one error: a stall, a write failure or an
// unexpected sink exit.
func (h *Handle) Failed() <-chan error { return h.failed }

// Stats returns a snapshot of the handle's counters.
func (h *Handle) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	s := h.stats
	s.Queued = len(h.queue)
	return s
}

// Write queues chunk behind every earlier chunk. The handle takes ownership
// of the chunk whatever the outcome.
func (h *Handle) Write(chunk audio.Chunk) (WriteOutcome, error) {
	h.mu.Lock()
	if h.stopped || h.finished || h.draining {
		h.mu.Unlock()
		return Accepted, ErrClosed
	}
	if len(h.queue) == 0 && !h.inflight {
		h.lastProgress = time.Now()
	}
	h.queue = append(h.queue, chunk.Bytes())
	h.queued += chunk.Len()
	h.stats.Accepted++
	if h.queued > h.cfg.CapacityBytes && !h.backpressured {
		h.backpressured = true
		h.stats.Backpressured++
	}
	outcome := Accepted
	if h.backpressured {
		outcome = Backpressured
	}
	h.mu.Unlock()

	h.poke()
	return outcome, nil
}

// Drain closes the input once every queued chunk is written and resolves
// when the sink has exited. The returned channel receives exactly one value.
func (h *Handle) Drain() <-chan error {
	ch := make(chan error, 1)
	h.mu.Lock()
	if h.finished {
		ch <- h.finalErr
		h.mu.Unlock()
		return ch
	}
	h.waiters = append(h.waiters, ch)
	if !h.draining {
		h.draining = true
		h.drainStarted = time.Now()
	}
	h.mu.Unlock()

	h.poke()
	return ch
}

// ForceStop terminates the sink and discards anything still queued. Pending
// Drain calls resolve with nil. It is safe to call more than once.
func (h *Handle) ForceStop() {
	h.stopOnce.Do(func() {
		h.mu.Lock()
		h.stopped = true
		dropped := len(h.queue)
		h.stats.Dropped += dropped
		h.queue = nil
		h.queued = 0
		h.mu.Unlock()

		close(h.stop)
		if err := process.Terminate(h.proc, h.cfg.Ladder); err != nil {
			logger.Error("playback process survived termination", "pid", h.proc.Pid(), "error", err)
		}
		if stdin := h.proc.Stdin(); stdin != nil {
			_ = stdin.Close()
		}
		<-h.writerDone
		<-h.monitorDone
		h.finish(nil)
		if dropped > 0 {
			logger.Debug("playback stopped, queue discarded", "dropped", dropped)
		}
		close(h.stopDone)
	})
	<-h.stopDone
}

func (h *Handle) poke() {
	select {
	case h.wake <- struct{}{}:
	default:
	}
}

func (h *Handle) stopping() bool {
	select {
	case <-h.stop:
		return true
	default:
		return false
	}
}

func (h *Handle) writeLoop() {
	defer close(h.writerDone)

	if h.cfg.StreamHeader {
		if !h.writeBytes(audio.Header(audio.StreamingDataLen)) {
			return
		}
	}

	for {
		h.mu.Lock()
		for len(h.queue) == 0 && !h.stopped && !h.draining {
			h.mu.Unlock()
			select {
			case <-h.wake:
			case <-h.stop:
				return
			}
			h.mu.Lock()
		}
		if h.stopped {
			h.mu.Unlock()
			return
		}
		if len(h.queue) == 0 {
			h.inputClosed = true
			h.mu.Unlock()
			if err := h.proc.Stdin().Close(); err != nil {
				logger.Debug("playback stdin close", "error", err)
			}
			return
		}
		next := h.queue[0]
		h.queue[0] = nil
		h.queue = h.queue[1:]
		h.inflight = true
		h.mu.Unlock()

		if !h.writeBytes(next) {
			return
		}

		h.mu.Lock()
		h.inflight = false
		h.queued -= len(next)
		h.stats.Written++
		release := h.backpressured && h.queued <= h.cfg.CapacityBytes/2
		if release {
			h.backpressured = false
		}
		h.mu.Unlock()

		if release {
			select {
			case h.ready <- struct{}{}:
			default:
			}
		}
	}
}

func (h *Handle) writeBytes(b []byte) bool {
	stdin := h.proc.Stdin()
	for len(b) > 0 {
		n := min(len(b), writeSliceBytes)
		if _, err := stdin.Write(b[:n]); err != nil {
			if !h.stopping() {
				h.fail(pkgerrors.New(component, "Write", err).
					WithKind(pkgerrors.KindFatalDevice).
					WithDetails(map[string]any{"stderr": h.proc.Stderr()}))
			}
			return false
		}
		h.mu.Lock()
		h.lastProgress = time.Now()
		h.stats.BytesWritten += int64(n)
		h.mu.Unlock()
		b = b[n:]
	}
	return true
}

func (h *Handle) monitor() {
	defer close(h.monitorDone)

	ticker := time.NewTicker(h.cfg.StallTimeout / 4)
	defer ticker.Stop()

	for {
		select {
		case <-h.stop:
			return
		case <-h.proc.Done():
			h.onExit()
			return
		case now := <-ticker.C:
			if h.checkStall(now) {
				return
			}
		}
	}
}

func (h *Handle) onExit() {
	h.mu.Lock()
	stopped, natural := h.stopped, h.inputClosed
	h.mu.Unlock()
	if stopped {
		return
	}

	if !natural {
		h.fail(pkgerrors.New(component, "Play", fmt.Errorf("sink exited unexpectedly: %v", h.proc.Err())).
			WithKind(pkgerrors.KindFatalDevice).
			WithDetails(map[string]any{"stderr": h.proc.Stderr()}))
		return
	}
	if err := h.proc.Err(); err != nil {
		h.finish(pkgerrors.New(component, "Drain", err).WithKind(pkgerrors.KindFatalDevice))
		return
	}
	logger.Debug("playback drained", "elapsed", time.Since(h.startedAt))
	h.finish(nil)
}

// checkStall fails the handle if it stopped making progress. It reports
// whether the handle failed.
func (h *Handle) checkStall(now time.Time) bool {
	h.mu.Lock()
	var reason string
	switch {
	case h.stopped || h.finished:
	case h.draining && now.Sub(h.drainStarted) > h.cfg.DrainTimeout:
		reason = "drain timeout"
	case (len(h.queue) > 0 || h.inflight) && now.Sub(h.lastProgress) > h.cfg.StallTimeout:
		reason = "no write progress"
	}
	details := map[string]any{"queued_bytes": h.queued, "since_progress": now.Sub(h.lastProgress)}
	h.mu.Unlock()

	if reason == "" {
		return false
	}
	h.fail(pkgerrors.New(component, "Play", errors.New("sink stalled: "+reason)).
		WithKind(pkgerrors.KindPlaybackStall).
		WithDetails(details))
	return true
}

func (h *Handle) fail(err error) {
	h.failOnce.Do(func() {
		logger.Warn("playback failed", "error", err)
		h.failed <- err
	})
	h.finish(err)
}

func (h *Handle) finish(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.finished {
		return
	}
	h.finished = true
	h.finalErr = err
	for _, w := range h.waiters {
		w <- err
	}
	h.waiters = nil
}
