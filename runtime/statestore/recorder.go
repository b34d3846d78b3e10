package statestore

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/leomancini/ai-phone-firmware/runtime/events"
	"github.com/leomancini/ai-phone-firmware/runtime/logger"
)

const defaultWriteTimeout = 2 * time.Second

// Recorder keeps a Store in step with the event bus. It is meant to be
// registered with EventBus.SubscribeAll; the bus delivers in order, so the
// record is only touched from the dispatcher goroutine.
type Recorder struct {
	store   Store
	timeout time.Duration

	mu      sync.Mutex
	current *SessionRecord
}

// NewRecorder creates a Recorder writing to store.
func NewRecorder(store Store) *Recorder {
	return &Recorder{store: store, timeout: defaultWriteTimeout}
}

// Current returns a copy of the live session record, or nil between
// sessions.
func (r *Recorder) Current() *SessionRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return deepCopyRecord(r.current)
}

// OnEvent updates the record for evt.
func (r *Recorder) OnEvent(evt *events.Event) {
	//nolint:exhaustive // Only handling events that change the record
	switch evt.Type {
	case events.EventSessionStarted:
		r.sessionStarted(evt)
	case events.EventStateChanged:
		r.stateChanged(evt)
	case events.EventTurnCompleted:
		r.turnCompleted(evt)
	case events.EventPipeRestarted:
		r.update(evt, func(rec *SessionRecord) { rec.PipeRestarts++ })
	case events.EventSessionEnded:
		r.sessionEnded(evt)
	}
}

func (r *Recorder) sessionStarted(evt *events.Event) {
	data, _ := evt.Data.(events.SessionStartedData)

	r.mu.Lock()
	if r.current != nil && r.current.ID == evt.SessionID {
		r.current.RemoteID = data.RemoteSessionID
		rec := deepCopyRecord(r.current)
		r.mu.Unlock()
		r.save(rec)
		return
	}
	r.current = &SessionRecord{
		ID:        evt.SessionID,
		RemoteID:  data.RemoteSessionID,
		State:     "connecting",
		StartedAt: evt.Timestamp,
	}
	rec := deepCopyRecord(r.current)
	r.mu.Unlock()
	r.save(rec)
}

func (r *Recorder) stateChanged(evt *events.Event) {
	data, ok := evt.Data.(events.StateChangedData)
	if !ok {
		return
	}
	r.update(evt, func(rec *SessionRecord) {
		rec.State = data.To
		rec.Presence = data.Presence
		rec.Version = data.Version
	})
}

func (r *Recorder) turnCompleted(evt *events.Event) {
	data, ok := evt.Data.(events.TurnCompletedData)
	if !ok {
		return
	}
	turn := TurnRecord{
		ID:          evt.TurnID,
		ResponseID:  data.ResponseID,
		Transcript:  data.Transcript,
		Chunks:      data.Chunks,
		Bytes:       data.Bytes,
		Duration:    data.Duration,
		Aborted:     data.Aborted,
		CompletedAt: evt.Timestamp,
	}

	r.mu.Lock()
	if r.current == nil || r.current.ID != evt.SessionID {
		r.mu.Unlock()
		return
	}
	r.current.Turns = append(r.current.Turns, turn)
	rec := deepCopyRecord(r.current)
	r.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	if appender, ok := r.store.(TurnAppender); ok {
		err := appender.AppendTurn(ctx, rec.ID, turn)
		if err == nil {
			return
		}
		if !errors.Is(err, ErrNotFound) {
			logger.Warn("session turn not stored", "session_id", rec.ID, "error", err)
			return
		}
	}
	r.saveWith(ctx, rec)
}

func (r *Recorder) sessionEnded(evt *events.Event) {
	data, _ := evt.Data.(events.SessionEndedData)
	r.update(evt, func(rec *SessionRecord) {
		rec.State = "idle"
		rec.EndedAt = evt.Timestamp
		rec.EndReason = data.Reason
		if data.Error != nil {
			rec.Error = data.Error.Error()
		}
	})

	r.mu.Lock()
	if r.current != nil && r.current.ID == evt.SessionID {
		r.current = nil
	}
	r.mu.Unlock()
}

// update applies fn to the live record of evt's session and saves it.
func (r *Recorder) update(evt *events.Event, fn func(*SessionRecord)) {
	r.mu.Lock()
	if r.current == nil || evt.SessionID == "" || r.current.ID != evt.SessionID {
		r.mu.Unlock()
		return
	}
	fn(r.current)
	rec := deepCopyRecord(r.current)
	r.mu.Unlock()
	r.save(rec)
}

func (r *Recorder) save(rec *SessionRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	r.saveWith(ctx, rec)
}

func (r *Recorder) saveWith(ctx context.Context, rec *SessionRecord) {
	if err := r.store.Save(ctx, rec); err != nil {
		logger.Warn("session record not stored", "session_id", rec.ID, "error", err)
	}
}
