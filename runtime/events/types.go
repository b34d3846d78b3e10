package events

import "time"

// EventType identifies the type of event emitted by the bridge.
type EventType string

const (
	// EventStateChanged marks a session controller state transition.
	EventStateChanged EventType = "session.state_changed"
	// EventSessionStarted marks a conversation session becoming ready.
	EventSessionStarted EventType = "session.started"
	// EventSessionEnded marks a session being torn down.
	EventSessionEnded EventType = "session.ended"

	// EventTurnStarted marks the first audio of a response.
	EventTurnStarted EventType = "turn.started"
	// EventTurnCompleted marks a turn that finished or was cut short.
	EventTurnCompleted EventType = "turn.completed"

	// EventPipeStarted marks a capture or playback pipe starting.
	EventPipeStarted EventType = "pipe.started"
	// EventPipeStopped marks a pipe being stopped by the controller.
	EventPipeStopped EventType = "pipe.stopped"
	// EventPipeFailed marks a pipe reporting a fatal error.
	EventPipeFailed EventType = "pipe.failed"
	// EventPipeRestarted marks a transient device restart.
	EventPipeRestarted EventType = "pipe.restarted"
	// EventPlaybackBackpressure marks the playback queue filling up.
	EventPlaybackBackpressure EventType = "playback.backpressure"

	// EventLinkClosed marks a link disconnect.
	EventLinkClosed EventType = "link.closed"
	// EventLinkError marks an error reported by the remote service.
	EventLinkError EventType = "link.error"
	// EventLinkMalformed marks an inbound frame that could not be decoded.
	EventLinkMalformed EventType = "link.malformed"

	// EventHandsetPresence marks a handset up/down change.
	EventHandsetPresence EventType = "handset.presence_changed"
	// EventHandsetKey marks a keypad press.
	EventHandsetKey EventType = "handset.key_pressed"
)

// EventData is a marker interface for event payloads.
type EventData interface {
	eventData()
}

// Event represents a bridge event delivered to listeners.
type Event struct {
	Type      EventType
	Timestamp time.Time
	SessionID string
	TurnID    string
	Data      EventData
}

// baseEventData provides a shared marker implementation for all event payloads.
type baseEventData struct{}

func (baseEventData) eventData() {}

// StateChangedData describes one controller transition.
type StateChangedData struct {
	baseEventData
	From     string
	To       string
	Reason   string
	Presence string
	// Version increases by one with every transition.
	Version uint64
}

// SessionStartedData is published when the conversation session is ready.
type SessionStartedData struct {
	baseEventData
	RemoteSessionID string
}

// SessionEndedData is published after teardown.
type SessionEndedData struct {
	baseEventData
	Reason   string
	Turns    int
	Duration time.Duration
	Error    error
}

// TurnStartedData is published on the first audio of a response.
type TurnStartedData struct {
	baseEventData
	ResponseID string
}

// TurnCompletedData summarizes a turn.
type TurnCompletedData struct {
	baseEventData
	ResponseID string
	Transcript string
	Chunks     int
	Bytes      int64
	Duration   time.Duration
	// Aborted is set when the turn ended by force stop rather than drain.
	Aborted bool
	// Audio is the turn's PCM, only filled when turn audio is retained.
	Audio []byte
}

// Pipe names.
const (
	PipeCapture  = "capture"
	PipePlayback = "playback"
)

// PipeEventData is the payload for every pipe event. Fields that do not
// apply to an event are zero.
type PipeEventData struct {
	baseEventData
	Pipe    string
	Attempt int
	Dropped int
	Error   error
}

// BackpressureData is published when playback reports backpressure.
type BackpressureData struct {
	baseEventData
	QueuedChunks int
	HeldChunks   int
}

// Link names.
const (
	LinkConversation = "conversation"
	LinkHandset      = "handset"
)

// LinkEventData is the payload for every link event.
type LinkEventData struct {
	baseEventData
	Link    string
	Code    string
	Message string
	Fatal   bool
	Error   error
}

// HandsetPresenceData is published on presence changes.
type HandsetPresenceData struct {
	baseEventData
	Presence string
}

// KeyPressedData is published on keypad presses.
type KeyPressedData struct {
	baseEventData
	Key string
}
