// Package session runs one duplex voice session at a time. The Controller
// keeps capture and playback mutually exclusive and infers the end of each
// spoken turn from the remote service's audio.
package session

import (
	"context"
	"time"

	"github.com/leomancini/ai-phone-firmware/runtime/capture"
	"github.com/leomancini/ai-phone-firmware/runtime/conversation"
	"github.com/leomancini/ai-phone-firmware/runtime/events"
	"github.com/leomancini/ai-phone-firmware/runtime/handset"
	"github.com/leomancini/ai-phone-firmware/runtime/playback"
	"github.com/leomancini/ai-phone-firmware/runtime/process"
)

// State is the controller state.
type State int

// Controller states.
const (
	StateIdle State = iota
	StateConnecting
	StateActiveRecording
	StateActivePlaying
	StateDraining
	StateTerminating
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateActiveRecording:
		return "active_recording"
	case StateActivePlaying:
		return "active_playing"
	case StateDraining:
		return "draining"
	case StateTerminating:
		return "terminating"
	default:
		return "unknown"
	}
}

// ConversationLink is the remote conversation service.
type ConversationLink interface {
	Open(ctx context.Context) error
	Send(cmd conversation.Command) error
	Events() <-chan conversation.Event
	Close() error
}

// HandsetLink is the hardware presence channel.
type HandsetLink interface {
	Open(ctx context.Context) error
	Send(cmd handset.Command) error
	Events() <-chan handset.Event
	Close() error
}

// Recorder starts capture handles.
type Recorder interface {
	Start(ctx context.Context) (*capture.Handle, error)
}

// Player starts playback handles.
type Player interface {
	Start(ctx context.Context) (*playback.Handle, error)
}

// Defaults.
const (
	DefaultQuietInterval   = 500 * time.Millisecond
	DefaultMaxPipeRestarts = 3
	DefaultEndSessionGrace = 500 * time.Millisecond
)

// Config wires a Controller.
type Config struct {
	Conversation ConversationLink
	// Handset is optional. Without it the session starts at Run and lives
	// until the context is canceled.
	Handset  HandsetLink
	Recorder Recorder
	Player   Player

	Instructions  string
	InputFormat   string
	TurnDetection conversation.TurnDetectionConfig

	// QuietInterval is how long after turn-done no audio may arrive before
	// the turn's audio is considered complete. Too short truncates trailing
	// audio; too long delays the next recording.
	QuietInterval time.Duration
	// MaxPipeRestarts bounds how often a failed recording is replaced in a
	// row before the session is terminated. The count starts over once a
	// replacement forwards audio or a turn drains.
	MaxPipeRestarts int
	// EndSessionGrace is the pause between end-session and closing the link.
	EndSessionGrace time.Duration

	// StatusMessages forwards transcripts and remote errors to the handset.
	StatusMessages bool
	// RetainTurnAudio keeps each turn's PCM for turn.completed listeners.
	RetainTurnAudio bool

	Emitter *events.Emitter
}

func (c Config) withDefaults() Config {
	if c.QuietInterval <= 0 {
		c.QuietInterval = DefaultQuietInterval
	}
	if c.MaxPipeRestarts < 0 {
		c.MaxPipeRestarts = 0
	} else if c.MaxPipeRestarts == 0 {
		c.MaxPipeRestarts = DefaultMaxPipeRestarts
	}
	if c.EndSessionGrace < 0 {
		c.EndSessionGrace = 0
	} else if c.EndSessionGrace == 0 {
		c.EndSessionGrace = DefaultEndSessionGrace
	}
	if c.TurnDetection.Mode == "" {
		c.TurnDetection = conversation.DefaultTurnDetection()
	}
	return c
}

// Session is the one live conversation.
type Session struct {
	// ID is assigned by the conversation service; a local ID is used if the
	// service does not provide one.
	ID               string
	StartedAt        time.Time
	LastAudioDeltaAt time.Time
	TurnDetection    conversation.TurnDetectionConfig
	Turns            int
	PipeRestarts     int
}

// Snapshot is a consistent copy of the controller's externally visible
// state.
type Snapshot struct {
	State            State
	Presence         handset.Presence
	SessionID        string
	StartedAt        time.Time
	LastAudioDeltaAt time.Time
	Turns            int
	// Version increases with every state transition.
	Version uint64
}

// TerminationBound is the longest a teardown can take with the given
// ladders: each pipe's escalation plus the end-session grace.
func TerminationBound(captureLadder, playbackLadder process.Ladder, grace time.Duration) time.Duration {
	return captureLadder.Bound() + playbackLadder.Bound() + grace
}
