package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/leomancini/ai-phone-firmware/runtime/events"
)

// Span names.
const (
	SpanSession = "voicebridge.session"
	SpanTurn    = "voicebridge.turn"
)

// spanEntry tracks an in-flight span and its context.
type spanEntry struct {
	span trace.Span
	ctx  context.Context //nolint:containedctx // needed to parent child spans
}

// OTelEventListener converts bridge events into OTel spans in real time:
// one root span per session, one child span per assistant turn, and span
// events for pipe and link incidents. It is safe for concurrent use.
type OTelEventListener struct {
	tracer trace.Tracer
	parent context.Context //nolint:containedctx // parent of every session span

	mu       sync.Mutex
	sessions map[string]*spanEntry // sessionID → root span
	turns    map[string]*spanEntry // turnID → turn span
}

// NewOTelEventListener creates a listener that creates OTel spans from
// bridge events.
func NewOTelEventListener(tracer trace.Tracer) *OTelEventListener {
	return &OTelEventListener{
		tracer:   tracer,
		parent:   context.Background(),
		sessions: make(map[string]*spanEntry),
		turns:    make(map[string]*spanEntry),
	}
}

// WithParent parents session spans under the span in ctx.
func (l *OTelEventListener) WithParent(ctx context.Context) *OTelEventListener {
	l.parent = ctx
	return l
}

// OnEvent handles a single event. It can be passed to EventBus.SubscribeAll.
func (l *OTelEventListener) OnEvent(evt *events.Event) {
	//nolint:exhaustive // Only handling span-producing events
	switch evt.Type {
	case events.EventSessionStarted:
		l.startSession(evt)
	case events.EventSessionEnded:
		l.endSession(evt)
	case events.EventTurnStarted:
		l.startTurn(evt)
	case events.EventTurnCompleted:
		l.endTurn(evt)
	case events.EventPipeFailed, events.EventPipeRestarted:
		l.pipeEvent(evt)
	case events.EventLinkClosed, events.EventLinkError, events.EventLinkMalformed:
		l.linkEvent(evt)
	case events.EventPlaybackBackpressure:
		l.addEvent(evt, "playback.backpressure")
	case events.EventHandsetKey:
		if data, ok := evt.Data.(events.KeyPressedData); ok {
			l.addEvent(evt, "handset.key_pressed", attribute.String("handset.key", data.Key))
		}
	}
}

// Close ends every span still open, marking them unfinished.
func (l *OTelEventListener) Close() {
	l.mu.Lock()
	turns, sessions := l.turns, l.sessions
	l.turns = make(map[string]*spanEntry)
	l.sessions = make(map[string]*spanEntry)
	l.mu.Unlock()

	for _, e := range turns {
		e.span.SetStatus(codes.Error, "unfinished")
		e.span.End()
	}
	for _, e := range sessions {
		e.span.SetStatus(codes.Error, "unfinished")
		e.span.End()
	}
}

// --- Session ---

func (l *OTelEventListener) startSession(evt *events.Event) {
	data, _ := evt.Data.(events.SessionStartedData)

	l.mu.Lock()
	existing, ok := l.sessions[evt.SessionID]
	l.mu.Unlock()
	if ok {
		existing.span.AddEvent("session.resumed", trace.WithTimestamp(evt.Timestamp),
			trace.WithAttributes(attribute.String("session.remote_id", data.RemoteSessionID)))
		return
	}

	ctx, span := l.tracer.Start(l.parent, SpanSession,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithTimestamp(evt.Timestamp),
		trace.WithAttributes(
			attribute.String("session.id", evt.SessionID),
			attribute.String("session.remote_id", data.RemoteSessionID),
		),
	)
	l.mu.Lock()
	l.sessions[evt.SessionID] = &spanEntry{span: span, ctx: ctx}
	l.mu.Unlock()
}

func (l *OTelEventListener) endSession(evt *events.Event) {
	l.mu.Lock()
	entry, ok := l.sessions[evt.SessionID]
	delete(l.sessions, evt.SessionID)
	l.mu.Unlock()
	if !ok {
		return
	}

	if data, ok := evt.Data.(events.SessionEndedData); ok {
		entry.span.SetAttributes(
			attribute.String("session.end_reason", data.Reason),
			attribute.Int("session.turns", data.Turns),
			attribute.Int64("session.duration_ms", data.Duration.Milliseconds()),
		)
		if data.Error != nil {
			entry.span.RecordError(data.Error)
			entry.span.SetStatus(codes.Error, data.Error.Error())
		} else {
			entry.span.SetStatus(codes.Ok, "")
		}
	}
	entry.span.End(trace.WithTimestamp(evt.Timestamp))
}

func (l *OTelEventListener) sessionCtx(sessionID string) context.Context {
	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok := l.sessions[sessionID]; ok {
		return e.ctx
	}
	return l.parent
}

// --- Turn ---

func (l *OTelEventListener) startTurn(evt *events.Event) {
	if evt.TurnID == "" {
		return
	}
	data, _ := evt.Data.(events.TurnStartedData)
	ctx, span := l.tracer.Start(l.sessionCtx(evt.SessionID), SpanTurn,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithTimestamp(evt.Timestamp),
		trace.WithAttributes(
			attribute.String("turn.id", evt.TurnID),
			attribute.String("turn.response_id", data.ResponseID),
		),
	)
	l.mu.Lock()
	l.turns[evt.TurnID] = &spanEntry{span: span, ctx: ctx}
	l.mu.Unlock()
}

func (l *OTelEventListener) endTurn(evt *events.Event) {
	l.mu.Lock()
	entry, ok := l.turns[evt.TurnID]
	delete(l.turns, evt.TurnID)
	l.mu.Unlock()
	if !ok {
		return
	}

	if data, ok := evt.Data.(events.TurnCompletedData); ok {
		entry.span.SetAttributes(
			attribute.Int("turn.chunks", data.Chunks),
			attribute.Int64("turn.audio_bytes", data.Bytes),
			attribute.Bool("turn.aborted", data.Aborted),
			attribute.Int("turn.transcript_length", len(data.Transcript)),
		)
	}
	entry.span.SetStatus(codes.Ok, "")
	entry.span.End(trace.WithTimestamp(evt.Timestamp))
}

// --- Incidents ---

func (l *OTelEventListener) pipeEvent(evt *events.Event) {
	data, ok := evt.Data.(events.PipeEventData)
	if !ok {
		return
	}
	attrs := []attribute.KeyValue{attribute.String("pipe.name", data.Pipe)}
	if data.Attempt > 0 {
		attrs = append(attrs, attribute.Int("pipe.attempt", data.Attempt))
	}
	if data.Error != nil {
		attrs = append(attrs, attribute.String("error.message", data.Error.Error()))
	}
	l.addEvent(evt, string(evt.Type), attrs...)
}

func (l *OTelEventListener) linkEvent(evt *events.Event) {
	data, ok := evt.Data.(events.LinkEventData)
	if !ok {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("link.name", data.Link),
		attribute.Bool("link.fatal", data.Fatal),
	}
	if data.Code != "" {
		attrs = append(attrs, attribute.String("link.error_code", data.Code))
	}
	if data.Message != "" {
		attrs = append(attrs, attribute.String("link.error_message", data.Message))
	}
	if data.Error != nil {
		attrs = append(attrs, attribute.String("error.message", data.Error.Error()))
	}
	l.addEvent(evt, string(evt.Type), attrs...)
}

// addEvent attaches a span event to the open turn span, or to the session
// span outside a turn. Events with neither open are dropped.
func (l *OTelEventListener) addEvent(evt *events.Event, name string, attrs ...attribute.KeyValue) {
	l.mu.Lock()
	target, ok := l.turns[evt.TurnID]
	if !ok || evt.TurnID == "" {
		target, ok = l.sessions[evt.SessionID]
	}
	l.mu.Unlock()
	if !ok {
		return
	}
	target.span.AddEvent(name, trace.WithTimestamp(evt.Timestamp), trace.WithAttributes(attrs...))
}
