package prometheus

import (
	"github.com/leomancini/ai-phone-firmware/runtime/events"
)

// Label values.
const (
	statusCompleted = "completed"
	statusAborted   = "aborted"

	pipeStarted   = "started"
	pipeStopped   = "stopped"
	pipeFailed    = "failed"
	pipeRestarted = "restarted"

	linkClosed    = "closed"
	linkGaveUp    = "gave_up"
	linkError     = "error"
	linkMalformed = "malformed"

	presenceUp = "up"
)

// MetricsListener records bridge events as Prometheus metrics.
// It implements the events.Listener signature and should be registered
// with an EventBus using SubscribeAll.
type MetricsListener struct{}

// NewMetricsListener creates a new MetricsListener.
func NewMetricsListener() *MetricsListener {
	return &MetricsListener{}
}

// Handle processes an event and records relevant metrics.
func (l *MetricsListener) Handle(event *events.Event) {
	//exhaustive:ignore
	switch event.Type {
	case events.EventStateChanged:
		if data, ok := event.Data.(events.StateChangedData); ok {
			RecordStateTransition(data.From, data.To)
		}
	case events.EventSessionStarted:
		RecordSessionStart()
	case events.EventSessionEnded:
		if data, ok := event.Data.(events.SessionEndedData); ok {
			RecordSessionEnd(data.Reason, data.Duration.Seconds())
		}
	case events.EventTurnCompleted:
		l.handleTurnCompleted(event)
	case events.EventPipeStarted, events.EventPipeStopped, events.EventPipeFailed, events.EventPipeRestarted:
		l.handlePipe(event)
	case events.EventPlaybackBackpressure:
		RecordBackpressure()
	case events.EventLinkClosed, events.EventLinkError, events.EventLinkMalformed:
		l.handleLink(event)
	case events.EventHandsetPresence:
		if data, ok := event.Data.(events.HandsetPresenceData); ok {
			RecordHandsetPresence(data.Presence == presenceUp)
		}
	case events.EventHandsetKey:
		RecordKeyPress()
	default:
	}
}

func (l *MetricsListener) handleTurnCompleted(event *events.Event) {
	data, ok := event.Data.(events.TurnCompletedData)
	if !ok {
		return
	}
	status := statusCompleted
	if data.Aborted {
		status = statusAborted
	}
	RecordTurn(status, data.Duration.Seconds(), data.Bytes)
}

func (l *MetricsListener) handlePipe(event *events.Event) {
	data, ok := event.Data.(events.PipeEventData)
	if !ok {
		return
	}
	//exhaustive:ignore
	switch event.Type {
	case events.EventPipeStarted:
		RecordPipeEvent(data.Pipe, pipeStarted)
	case events.EventPipeStopped:
		RecordPipeEvent(data.Pipe, pipeStopped)
		RecordPlaybackDropped(data.Dropped)
	case events.EventPipeFailed:
		RecordPipeEvent(data.Pipe, pipeFailed)
	case events.EventPipeRestarted:
		RecordPipeEvent(data.Pipe, pipeRestarted)
	}
}

func (l *MetricsListener) handleLink(event *events.Event) {
	data, ok := event.Data.(events.LinkEventData)
	if !ok {
		return
	}
	//exhaustive:ignore
	switch event.Type {
	case events.EventLinkClosed:
		if data.Fatal {
			RecordLinkEvent(data.Link, linkGaveUp)
			return
		}
		RecordLinkEvent(data.Link, linkClosed)
	case events.EventLinkError:
		RecordLinkEvent(data.Link, linkError)
	case events.EventLinkMalformed:
		RecordLinkEvent(data.Link, linkMalformed)
	}
}

// Listener returns an events.Listener function that can be registered with an EventBus.
func (l *MetricsListener) Listener() events.Listener {
	return l.Handle
}
