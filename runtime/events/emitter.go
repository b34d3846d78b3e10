package events

import (
	"sync"
	"time"
)

// Emitter provides helpers for publishing bridge events with shared
// metadata. A nil Emitter is valid and drops everything.
type Emitter struct {
	bus *EventBus

	mu        sync.RWMutex
	sessionID string
	turnID    string
}

// NewEmitter creates a new event emitter.
func NewEmitter(bus *EventBus) *Emitter {
	return &Emitter{bus: bus}
}

// SetSessionID tags subsequent events with the session ID.
func (e *Emitter) SetSessionID(id string) {
	if e == nil {
		return
	}
	e.mu.Lock()
	e.sessionID = id
	e.mu.Unlock()
}

// SetTurnID tags subsequent events with the turn ID. Empty clears it.
func (e *Emitter) SetTurnID(id string) {
	if e == nil {
		return
	}
	e.mu.Lock()
	e.turnID = id
	e.mu.Unlock()
}

// emit publishes an event with shared context fields.
func (e *Emitter) emit(eventType EventType, data EventData) {
	if e == nil || e.bus == nil {
		return
	}

	e.mu.RLock()
	event := &Event{
		Type:      eventType,
		Timestamp: time.Now(),
		SessionID: e.sessionID,
		TurnID:    e.turnID,
		Data:      data,
	}
	e.mu.RUnlock()

	e.bus.Publish(event)
}

// StateChanged emits the session.state_changed event.
func (e *Emitter) StateChanged(from, to, reason, presence string, version uint64) {
	e.emit(EventStateChanged, StateChangedData{
		From:     from,
		To:       to,
		Reason:   reason,
		Presence: presence,
		Version:  version,
	})
}

// SessionStarted emits the session.started event.
func (e *Emitter) SessionStarted(remoteSessionID string) {
	e.emit(EventSessionStarted, SessionStartedData{RemoteSessionID: remoteSessionID})
}

// SessionEnded emits the session.ended event.
func (e *Emitter) SessionEnded(reason string, turns int, duration time.Duration, err error) {
	e.emit(EventSessionEnded, SessionEndedData{
		Reason:   reason,
		Turns:    turns,
		Duration: duration,
		Error:    err,
	})
}

// TurnStarted emits the turn.started event.
func (e *Emitter) TurnStarted(responseID string) {
	e.emit(EventTurnStarted, TurnStartedData{ResponseID: responseID})
}

// TurnCompleted emits the turn.completed event.
func (e *Emitter) TurnCompleted(data TurnCompletedData) {
	e.emit(EventTurnCompleted, data)
}

// PipeStarted emits the pipe.started event.
func (e *Emitter) PipeStarted(pipe string) {
	e.emit(EventPipeStarted, PipeEventData{Pipe: pipe})
}

// PipeStopped emits the pipe.stopped event.
func (e *Emitter) PipeStopped(pipe string, dropped int) {
	e.emit(EventPipeStopped, PipeEventData{Pipe: pipe, Dropped: dropped})
}

// PipeFailed emits the pipe.failed event.
func (e *Emitter) PipeFailed(pipe string, err error) {
	e.emit(EventPipeFailed, PipeEventData{Pipe: pipe, Error: err})
}

// PipeRestarted emits the pipe.restarted event.
func (e *Emitter) PipeRestarted(pipe string, attempt int, err error) {
	e.emit(EventPipeRestarted, PipeEventData{Pipe: pipe, Attempt: attempt, Error: err})
}

// PlaybackBackpressure emits the playback.backpressure event.
func (e *Emitter) PlaybackBackpressure(queued, held int) {
	e.emit(EventPlaybackBackpressure, BackpressureData{QueuedChunks: queued, HeldChunks: held})
}

// LinkClosed emits the link.closed event.
func (e *Emitter) LinkClosed(link string, err error, fatal bool) {
	e.emit(EventLinkClosed, LinkEventData{Link: link, Error: err, Fatal: fatal})
}

// LinkError emits the link.error event.
func (e *Emitter) LinkError(link, code, message string) {
	e.emit(EventLinkError, LinkEventData{Link: link, Code: code, Message: message})
}

// LinkMalformed emits the link.malformed event.
func (e *Emitter) LinkMalformed(link string, err error) {
	e.emit(EventLinkMalformed, LinkEventData{Link: link, Error: err})
}

// HandsetPresence emits the handset.presence_changed event.
func (e *Emitter) HandsetPresence(presence string) {
	e.emit(EventHandsetPresence, HandsetPresenceData{Presence: presence})
}

// KeyPressed emits the handset.key_pressed event.
func (e *Emitter) KeyPressed(key string) {
	e.emit(EventHandsetKey, KeyPressedData{Key: key})
}
