// Package capture implements the recording pipe: an external capture program
// writes a growing buffer file and the pipe forwards each newly appended byte
// range as an audio chunk.
package capture

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	pkgerrors "github.com/leomancini/ai-phone-firmware/pkg/errors"
	"github.com/leomancini/ai-phone-firmware/runtime/audio"
	"github.com/leomancini/ai-phone-firmware/runtime/logger"
	"github.com/leomancini/ai-phone-firmware/runtime/process"
)

const component = "capture"

// Defaults match the reference deployment.
const (
	DefaultCommand      = "rec"
	DefaultPollInterval = 100 * time.Millisecond
	DefaultRestartDelay = time.Second
	DefaultMaxRestarts  = 3
)

// DefaultArgs records 24 kHz mono WAV from the default ALSA device into {file}.
var DefaultArgs = []string{"-q", "-t", "alsa", "default", "-t", "wav", "{file}", "rate", "24k", "channels", "1"}

// DefaultTransientPatterns are stderr fragments that mark an exit as a
// recoverable device hiccup rather than a fatal failure.
var DefaultTransientPatterns = []string{
	"can't set sample rate",
	"can not set sample rate",
	"resource busy",
	"resource temporarily unavailable",
	"overrun",
	"over-run",
}

// Config configures a Pipe.
type Config struct {
	Command string
	// Args may contain {file}, replaced with the capture buffer path.
	Args    []string
	TempDir string
	// HeaderBytes is skipped at the start of every buffer.
	HeaderBytes       int64
	PollInterval      time.Duration
	RestartDelay      time.Duration
	MaxRestarts       int
	TransientPatterns []string
	Ladder            process.Ladder
}

// DefaultConfig returns the reference rec configuration.
func DefaultConfig() Config {
	return Config{
		Command:           DefaultCommand,
		Args:              append([]string(nil), DefaultArgs...),
		HeaderBytes:       audio.HeaderSize,
		PollInterval:      DefaultPollInterval,
		RestartDelay:      DefaultRestartDelay,
		MaxRestarts:       DefaultMaxRestarts,
		TransientPatterns: append([]string(nil), DefaultTransientPatterns...),
		Ladder:            process.DefaultLadder(),
	}
}

func (c Config) withDefaults() Config {
	if c.Command == "" {
		c.Command = DefaultCommand
	}
	if c.Args == nil {
		c.Args = DefaultArgs
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.RestartDelay <= 0 {
		c.RestartDelay = DefaultRestartDelay
	}
	if c.MaxRestarts < 0 {
		c.MaxRestarts = 0
	}
	if c.TransientPatterns == nil {
		c.TransientPatterns = DefaultTransientPatterns
	}
	if len(c.Ladder.Steps) == 0 {
		c.Ladder = process.DefaultLadder()
	}
	return c
}

// RestartFunc is told about each transient restart before it happens.
type RestartFunc func(attempt int, cause error)

// Pipe owns at most one capture process at a time.
type Pipe struct {
	cfg      Config
	launcher process.Launcher

	// OnRestart, when set, is called from the pipe's goroutine.
	OnRestart RestartFunc

	mu     sync.Mutex
	active *Handle
}

// New creates a Pipe.
func New(cfg Config, launcher process.Launcher) *Pipe {
	return &Pipe{cfg: cfg.withDefaults(), launcher: launcher}
}

// Start spawns the capture process and begins polling. Calling Start while a
// handle is still running returns that handle without spawning again.
func (p *Pipe) Start(ctx context.Context) (*Handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.active != nil && !p.active.finished() {
		logger.Debug("capture already running, reusing handle")
		return p.active, nil
	}

	h := &Handle{
		pipe:   p,
		chunks: make(chan audio.Chunk),
		failed: make(chan error, 1),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	run, err := h.spawn(ctx)
	if err != nil {
		return nil, err
	}
	p.active = h

	go h.supervise(run)
	return h, nil
}

// Handle is one started recording.
type Handle struct {
	pipe *Pipe

	chunks chan audio.Chunk
	failed chan error

	seq      uint64
	restarts atomic.Int32

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// Chunks delivers captured audio in capture order. It is closed after Stop
// returns or after a failure has been reported.
func (h *Handle) Chunks() <-chan audio.Chunk { return h.chunks }

// Failed receives at most one fatal error.
func (h *Handle) Failed() <-chan error { return h.failed }

// Done is closed once the capture process is gone and the buffer deleted.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Restarts returns how many transient restarts this handle performed.
func (h *Handle) Restarts() int { return int(h.restarts.Load()) }

// Stop terminates the capture process, deletes the buffer and waits for
// both. It is safe to call more than once and after a failure.
func (h *Handle) Stop() {
	h.stopOnce.Do(func() { close(h.stop) })
	<-h.done
}

func (h *Handle) finished() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

type run struct {
	proc process.Process
	file string
}

func (h *Handle) spawn(ctx context.Context) (*run, error) {
	cfg := h.pipe.cfg
	f, err := os.CreateTemp(cfg.TempDir, "capture-*.wav")
	if err != nil {
		return nil, pkgerrors.New(component, "Start", fmt.Errorf("create buffer: %w", err)).
			WithKind(pkgerrors.KindFatalDevice)
	}
	path := f.Name()
	_ = f.Close()

	spec := process.Spec{
		Name: component,
		Path: cfg.Command,
		Args: process.ExpandArgs(cfg.Args, map[string]string{"file": path}),
	}
	proc, err := h.pipe.launcher.Launch(ctx, spec)
	if err != nil {
		_ = os.Remove(path)
		var ce *pkgerrors.ContextualError
		if errors.As(err, &ce) {
			return nil, err
		}
		return nil, pkgerrors.New(component, "Start", err).WithKind(pkgerrors.KindFatalDevice)
	}
	logger.Debug("capture started", "pid", proc.Pid(), "buffer", path)
	return &run{proc: proc, file: path}, nil
}

func (h *Handle) supervise(r *run) {
	defer close(h.done)
	defer close(h.chunks)
	cfg := h.pipe.cfg

	for {
		stopped, exitErr := h.pump(r)
		h.release(r)
		if stopped {
			return
		}

		cause := h.classify(r.proc, exitErr)
		if !pkgerrors.IsKind(cause, pkgerrors.KindTransientDevice) {
			h.fail(cause)
			return
		}
		if h.Restarts() >= cfg.MaxRestarts {
			h.fail(pkgerrors.New(component, "Record", fmt.Errorf("restarts exhausted: %w", cause)).
				WithKind(pkgerrors.KindFatalDevice))
			return
		}

		attempt := int(h.restarts.Add(1))
		logger.Warn("capture device hiccup, restarting",
			"attempt", attempt, "max", cfg.MaxRestarts, "delay", cfg.RestartDelay, "error", cause)
		if h.pipe.OnRestart != nil {
			h.pipe.OnRestart(attempt, cause)
		}

		timer := time.NewTimer(cfg.RestartDelay)
		select {
		case <-h.stop:
			timer.Stop()
			return
		case <-timer.C:
		}

		next, err := h.spawn(context.Background())
		if err != nil {
			h.fail(err)
			return
		}
		r = next
	}
}

// pump polls the buffer until the process exits or Stop is called. It
// reports whether the handle was stopped and the process exit error.
func (h *Handle) pump(r *run) (bool, error) {
	poller := NewPoller(r.file, h.pipe.cfg.HeaderBytes)
	ticker := time.NewTicker(h.pipe.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-h.stop:
			return true, nil
		case <-r.proc.Done():
			// Forward whatever the process wrote before exiting.
			if !h.poll(poller) {
				return true, nil
			}
			return false, r.proc.Err()
		case <-ticker.C:
			if !h.poll(poller) {
				return true, nil
			}
		}
	}
}

// poll emits one chunk with the newly appended bytes. It returns false if
// the handle was stopped while emitting.
func (h *Handle) poll(poller *Poller) bool {
	data, err := poller.Poll()
	if err != nil {
		logger.Warn("capture buffer read failed", "error", err)
		return true
	}
	if len(data) == 0 {
		return true
	}
	chunk := audio.WrapChunk(h.seq, data)
	select {
	case <-h.stop:
		return false
	case h.chunks <- chunk:
		h.seq++
		return true
	}
}

func (h *Handle) release(r *run) {
	if err := process.Terminate(r.proc, h.pipe.cfg.Ladder); err != nil {
		logger.Error("capture process survived termination", "pid", r.proc.Pid(), "error", err)
	}
	if err := os.Remove(r.file); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warn("capture buffer not removed", "buffer", r.file, "error", err)
	}
}

func (h *Handle) transient(proc process.Process) bool {
	stderr := strings.ToLower(proc.Stderr())
	if stderr == "" {
		return false
	}
	for _, pattern := range h.pipe.cfg.TransientPatterns {
		if pattern != "" && strings.Contains(stderr, strings.ToLower(pattern)) {
			return true
		}
	}
	return false
}

func (h *Handle) classify(proc process.Process, exitErr error) error {
	cause := exitErr
	if cause == nil {
		cause = errors.New("capture process exited")
	}
	kind := pkgerrors.KindFatalDevice
	if h.transient(proc) {
		kind = pkgerrors.KindTransientDevice
	}
	details := map[string]any{"restarts": h.Restarts()}
	if stderr := proc.Stderr(); stderr != "" {
		details["stderr"] = stderr
	}
	return pkgerrors.New(component, "Record", cause).WithKind(kind).WithDetails(details)
}

func (h *Handle) fail(err error) {
	logger.Error("capture failed", "error", err)
	h.failed <- err
}
