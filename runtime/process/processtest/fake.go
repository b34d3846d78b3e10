// Package processtest provides an in-memory process.Launcher for tests.
// Fake processes never touch the OS: their stdin is an io.Pipe the test can
// read, their lifetime is controlled by the test or by a Behavior, and every
// signal they receive is recorded.
package processtest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"syscall"

	"github.com/leomancini/ai-phone-firmware/runtime/process"
)

// Behavior runs in its own goroutine for each launched fake. It may write to
// files named in its process.Spec, read stdin, write stderr and call Exit.
type Behavior func(p *Process)

// Launcher is a fake process.Launcher.
type Launcher struct {
	mu       sync.Mutex
	behavior Behavior
	failures []error
	ignore   map[os.Signal]bool
	launched []*Process
	nextPid  int
}

// NewLauncher returns a Launcher whose processes run behavior. A nil behavior
// leaves processes running until signalled.
func NewLauncher(behavior Behavior) *Launcher {
	return &Launcher{behavior: behavior, ignore: map[os.Signal]bool{}, nextPid: 1000}
}

// SetBehavior replaces the behavior for subsequent launches.
func (l *Launcher) SetBehavior(b Behavior) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.behavior = b
}

// FailNext makes the next launches fail with the given errors, in order.
func (l *Launcher) FailNext(errs ...error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failures = append(l.failures, errs...)
}

// Ignore makes subsequently launched processes ignore sig.
func (l *Launcher) Ignore(sig os.Signal) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ignore[sig] = true
}

// Launch implements process.Launcher.
func (l *Launcher) Launch(ctx context.Context, spec process.Spec) (process.Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	if len(l.failures) > 0 {
		err := l.failures[0]
		l.failures = l.failures[1:]
		l.mu.Unlock()
		return nil, err
	}
	l.nextPid++
	ignore := make(map[os.Signal]bool, len(l.ignore))
	for k, v := range l.ignore {
		ignore[k] = v
	}
	p := newProcess(spec, l.nextPid, ignore)
	l.launched = append(l.launched, p)
	behavior := l.behavior
	l.mu.Unlock()

	if behavior != nil {
		go behavior(p)
	}
	return p, nil
}

// Launched returns every process started so far.
func (l *Launcher) Launched() []*Process {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*Process, len(l.launched))
	copy(out, l.launched)
	return out
}

// Count returns how many processes named name were started.
func (l *Launcher) Count(name string) int {
	n := 0
	for _, p := range l.Launched() {
		if p.Spec.Name == name {
			n++
		}
	}
	return n
}

// Live returns how many launched processes have not exited.
func (l *Launcher) Live() int {
	n := 0
	for _, p := range l.Launched() {
		if !process.Exited(p) {
			n++
		}
	}
	return n
}

// Last returns the most recent process named name, or nil.
func (l *Launcher) Last(name string) *Process {
	all := l.Launched()
	for i := len(all) - 1; i >= 0; i-- {
		if all[i].Spec.Name == name {
			return all[i]
		}
	}
	return nil
}

// Process is a fake child.
type Process struct {
	Spec process.Spec

	pid    int
	ignore map[os.Signal]bool
	stdinR *io.PipeReader
	stdinW *io.PipeWriter

	mu      sync.Mutex
	signals []os.Signal
	swept   bool
	stderr  strings.Builder
	err     error

	exitOnce sync.Once
	done     chan struct{}
}

func newProcess(spec process.Spec, pid int, ignore map[os.Signal]bool) *Process {
	p := &Process{Spec: spec, pid: pid, ignore: ignore, done: make(chan struct{})}
	if spec.Stdin {
		p.stdinR, p.stdinW = io.Pipe()
	}
	return p
}

// Pid implements process.Process.
func (p *Process) Pid() int { return p.pid }

// Stdin implements process.Process.
func (p *Process) Stdin() io.WriteCloser {
	if p.stdinW == nil {
		return nil
	}
	return p.stdinW
}

// StdinReader is the child's end of stdin.
func (p *Process) StdinReader() io.Reader { return p.stdinR }

// Done implements process.Process.
func (p *Process) Done() <-chan struct{} { return p.done }

// Err implements process.Process.
func (p *Process) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Stderr implements process.Process.
func (p *Process) Stderr() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stderr.String()
}

// WriteStderr appends a line to the fake's stderr.
func (p *Process) WriteStderr(line string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stderr.Len() > 0 {
		p.stderr.WriteByte('\n')
	}
	p.stderr.WriteString(line)
}

// Signal records sig and exits unless the signal is ignored.
func (p *Process) Signal(sig os.Signal) error {
	p.mu.Lock()
	p.signals = append(p.signals, sig)
	ignored := p.ignore[sig]
	p.mu.Unlock()
	if !ignored {
		p.Exit(fmt.Errorf("signal: %v", sig))
	}
	return nil
}

// KillGroup records the sweep and always exits.
func (p *Process) KillGroup() error {
	p.mu.Lock()
	p.swept = true
	p.mu.Unlock()
	p.Exit(errors.New("signal: killed"))
	return nil
}

// Signals returns the signals received so far.
func (p *Process) Signals() []os.Signal {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]os.Signal, len(p.signals))
	copy(out, p.signals)
	return out
}

// Swept reports whether KillGroup was called.
func (p *Process) Swept() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.swept
}

// Terminated reports whether the process received SIGTERM.
func (p *Process) Terminated() bool {
	for _, s := range p.Signals() {
		if s == syscall.SIGTERM {
			return true
		}
	}
	return false
}

// Exit ends the process with err. Later calls are ignored.
func (p *Process) Exit(err error) {
	p.exitOnce.Do(func() {
		p.mu.Lock()
		p.err = err
		p.mu.Unlock()
		if p.stdinR != nil {
			_ = p.stdinR.CloseWithError(io.ErrClosedPipe)
		}
		close(p.done)
	})
}

// Exited reports whether Exit has been called.
func (p *Process) Exited() bool { return process.Exited(p) }

// Arg returns the argument following flag, or "".
func (p *Process) Arg(flag string) string {
	for i, a := range p.Spec.Args {
		if a == flag && i+1 < len(p.Spec.Args) {
			return p.Spec.Args[i+1]
		}
	}
	return ""
}

// ReadStdin copies stdin into w until the writer side is closed, then exits
// with a nil error. It models a sink that plays everything and finishes.
func ReadStdin(w io.Writer) Behavior {
	return func(p *Process) {
		_, err := io.Copy(w, p.stdinR)
		if err != nil && !errors.Is(err, io.ErrClosedPipe) {
			p.Exit(err)
			return
		}
		p.Exit(nil)
	}
}

// Buffer is a goroutine-safe bytes buffer for ReadStdin.
type Buffer struct {
	mu     sync.Mutex
	data   []byte
	writes int
}

// Write implements io.Writer.
func (b *Buffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data = append(b.data, p...)
	b.writes++
	return len(p), nil
}

// Bytes returns a copy of the contents.
func (b *Buffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]byte, len(b.data))
	copy(out, b.data)
	return out
}

// Len returns the number of bytes written.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data)
}
