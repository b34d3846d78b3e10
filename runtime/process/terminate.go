package process

import (
	"errors"
	"os"
	"syscall"
	"time"

	pkgerrors "github.com/leomancini/ai-phone-firmware/pkg/errors"
	"github.com/leomancini/ai-phone-firmware/runtime/logger"
)

// ErrStillAlive is returned when a child survives the whole ladder.
var ErrStillAlive = errors.New("process still alive after escalation")

// Step sends Signal and waits up to Grace for the child to exit.
type Step struct {
	Signal os.Signal
	Grace  time.Duration
}

// Ladder is an escalating termination sequence. After the last step the
// child's process group is swept with a forced kill and given SweepGrace to go.
type Ladder struct {
	Steps      []Step
	SweepGrace time.Duration
}

// Default ladder timings.
const (
	DefaultTermGrace  = time.Second
	DefaultKillGrace  = time.Second
	DefaultSweepGrace = 500 * time.Millisecond
)

// DefaultLadder is SIGTERM, then SIGKILL, then a group sweep.
func DefaultLadder() Ladder {
	return Ladder{
		Steps: []Step{
			{Signal: syscall.SIGTERM, Grace: DefaultTermGrace},
			{Signal: syscall.SIGKILL, Grace: DefaultKillGrace},
		},
		SweepGrace: DefaultSweepGrace,
	}
}

// Bound is the longest Terminate can take with this ladder.
func (l Ladder) Bound() time.Duration {
	total := l.SweepGrace
	for _, s := range l.Steps {
		total += s.Grace
	}
	return total
}

// Terminate walks the ladder until p exits. It returns nil once the exit is
// confirmed, or ErrStillAlive if the ladder is exhausted first. Calling it on
// an exited process is a no-op.
func Terminate(p Process, ladder Ladder) error {
	if p == nil || Exited(p) {
		return nil
	}

	for _, step := range ladder.Steps {
		if err := p.Signal(step.Signal); err != nil {
			logger.Debug("signal failed", "pid", p.Pid(), "signal", step.Signal, "error", err)
		}
		if waitExit(p, step.Grace) {
			return nil
		}
		logger.Warn("process ignored signal, escalating", "pid", p.Pid(), "signal", step.Signal, "grace", step.Grace)
	}

	if err := p.KillGroup(); err != nil {
		logger.Warn("process group sweep failed", "pid", p.Pid(), "error", err)
	}
	if waitExit(p, ladder.SweepGrace) {
		return nil
	}

	return pkgerrors.New("process", "Terminate", ErrStillAlive).
		WithKind(pkgerrors.KindFatalDevice).
		WithDetails(map[string]any{"pid": p.Pid()})
}

func waitExit(p Process, grace time.Duration) bool {
	if grace <= 0 {
		return Exited(p)
	}
	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-p.Done():
		return true
	case <-timer.C:
		return false
	}
}
