package process

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"

	pkgerrors "github.com/leomancini/ai-phone-firmware/pkg/errors"
	"github.com/leomancini/ai-phone-firmware/runtime/logger"
)

const defaultStderrLines = 20

// ExecLauncher starts real OS processes. Each child gets its own process
// group so KillGroup also reaps anything it forked.
type ExecLauncher struct {
	// StderrLines bounds how many stderr lines are kept for diagnostics.
	StderrLines int
}

// NewExecLauncher returns a launcher with default settings.
func NewExecLauncher() *ExecLauncher {
	return &ExecLauncher{StderrLines: defaultStderrLines}
}

// Launch starts spec. The context only bounds startup; the child's lifetime
// is controlled through Signal, KillGroup and Terminate.
func (l *ExecLauncher) Launch(ctx context.Context, spec Spec) (Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	//nolint:gosec // command lines come from operator configuration
	cmd := exec.Command(spec.Path, spec.Args...)
	cmd.Dir = spec.Dir
	if len(spec.Env) > 0 {
		cmd.Env = append(os.Environ(), spec.Env...)
	}
	setProcessGroup(cmd)

	p := &execProcess{
		name:   spec.Name,
		cmd:    cmd,
		stderr: newTail(l.stderrLines()),
		done:   make(chan struct{}),
	}

	var err error
	if spec.Stdin {
		if p.stdin, err = cmd.StdinPipe(); err != nil {
			return nil, pkgerrors.New("process", "Launch", fmt.Errorf("stdin pipe: %w", err)).
				WithKind(pkgerrors.KindFatalDevice)
		}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, pkgerrors.New("process", "Launch", fmt.Errorf("stderr pipe: %w", err)).
			WithKind(pkgerrors.KindFatalDevice)
	}

	if err := cmd.Start(); err != nil {
		return nil, pkgerrors.New("process", "Launch", err).
			WithKind(pkgerrors.KindFatalDevice).
			WithDetails(map[string]any{"command": spec.String()})
	}
	logger.Debug("process started", "name", spec.Name, "pid", cmd.Process.Pid, "command", spec.String())

	var readers sync.WaitGroup
	readers.Add(1)
	go func() {
		defer readers.Done()
		p.collectStderr(stderr)
	}()

	go func() {
		// Wait must not run before stderr has been fully read.
		readers.Wait()
		p.err = cmd.Wait()
		logger.Debug("process exited", "name", spec.Name, "pid", cmd.Process.Pid, "error", p.err)
		close(p.done)
	}()

	return p, nil
}

func (l *ExecLauncher) stderrLines() int {
	if l.StderrLines > 0 {
		return l.StderrLines
	}
	return defaultStderrLines
}

type execProcess struct {
	name   string
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stderr *tail
	done   chan struct{}
	err    error
}

func (p *execProcess) collectStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		p.stderr.add(line)
		logger.Debug("process stderr", "name", p.name, "output", line)
	}
}

func (p *execProcess) Pid() int              { return p.cmd.Process.Pid }
func (p *execProcess) Stdin() io.WriteCloser { return p.stdin }
func (p *execProcess) Done() <-chan struct{} { return p.done }
func (p *execProcess) Stderr() string        { return p.stderr.String() }

func (p *execProcess) Err() error {
	select {
	case <-p.done:
		return p.err
	default:
		return nil
	}
}

func (p *execProcess) Signal(sig os.Signal) error {
	err := p.cmd.Process.Signal(sig)
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}

func (p *execProcess) KillGroup() error {
	if Exited(p) {
		return nil
	}
	return killGroup(p.cmd)
}
