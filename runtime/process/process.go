// Package process wraps the external capture and render programs the bridge
// drives. Launcher abstracts spawning so pipes and the session controller can
// be tested against processtest fakes, and Terminate implements the single
// escalating shutdown sequence used for every owned child.
package process

import (
	"context"
	"io"
	"os"
	"strings"
)

// Spec describes a child process.
type Spec struct {
	// Name labels the process in logs and metrics ("capture", "playback").
	Name string
	Path string
	Args []string
	Env  []string
	Dir  string
	// Stdin requests a writable pipe to the child's standard input.
	Stdin bool
}

// String renders the command line for logs.
func (s Spec) String() string {
	return strings.TrimSpace(s.Path + " " + strings.Join(s.Args, " "))
}

// Process is a running child.
type Process interface {
	Pid() int
	// Stdin is nil unless the Spec asked for it.
	Stdin() io.WriteCloser
	Signal(sig os.Signal) error
	// KillGroup force-kills the child's whole process group.
	KillGroup() error
	// Done is closed once the child has exited and been reaped.
	Done() <-chan struct{}
	// Err is the exit error. Only meaningful after Done is closed.
	Err() error
	// Stderr returns the most recent lines the child wrote to stderr.
	Stderr() string
}

// Launcher starts child processes.
type Launcher interface {
	Launch(ctx context.Context, spec Spec) (Process, error)
}

// Exited reports whether p has already exited.
func Exited(p Process) bool {
	select {
	case <-p.Done():
		return true
	default:
		return false
	}
}

// ExpandArgs replaces every {key} placeholder in args with vars[key].
func ExpandArgs(args []string, vars map[string]string) []string {
	out := make([]string, len(args))
	for i, a := range args {
		for k, v := range vars {
			a = strings.ReplaceAll(a, "{"+k+"}", v)
		}
		out[i] = a
	}
	return out
}
