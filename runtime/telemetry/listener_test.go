package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/leomancini/ai-phone-firmware/runtime/events"
)

// newTestListener returns a listener, in-memory exporter, and TracerProvider for tests.
func newTestListener(t *testing.T) (*OTelEventListener, *tracetest.InMemoryExporter, *sdktrace.TracerProvider) {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	listener := NewOTelEventListener(tp.Tracer(InstrumentationName))
	return listener, exp, tp
}

// flushAndGetSpans forces span export and returns spans. InMemoryExporter
// resets on Shutdown, so spans are read first.
func flushAndGetSpans(t *testing.T, tp *sdktrace.TracerProvider, exp *tracetest.InMemoryExporter) tracetest.SpanStubs {
	t.Helper()
	if err := tp.ForceFlush(context.Background()); err != nil {
		t.Fatalf("flush: %v", err)
	}
	spans := exp.GetSpans()
	if err := tp.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	return spans
}

func findSpan(t *testing.T, spans tracetest.SpanStubs, name string) tracetest.SpanStub {
	t.Helper()
	for _, s := range spans {
		if s.Name == name {
			return s
		}
	}
	t.Fatalf("span %q not found in %d spans", name, len(spans))
	return tracetest.SpanStub{}
}

func attr(span tracetest.SpanStub, key string) (attribute.Value, bool) {
	for _, a := range span.Attributes {
		if string(a.Key) == key {
			return a.Value, true
		}
	}
	return attribute.Value{}, false
}

func event(typ events.EventType, sessionID, turnID string, data events.EventData) *events.Event {
	return &events.Event{Type: typ, Timestamp: time.Now(), SessionID: sessionID, TurnID: turnID, Data: data}
}

func TestOTelEventListener_SessionWithTurn(t *testing.T) {
	listener, exp, tp := newTestListener(t)

	listener.OnEvent(event(events.EventSessionStarted, "sess-1", "", events.SessionStartedData{RemoteSessionID: "sess-1"}))
	listener.OnEvent(event(events.EventTurnStarted, "sess-1", "turn-1", events.TurnStartedData{ResponseID: "resp_1"}))
	listener.OnEvent(event(events.EventPlaybackBackpressure, "sess-1", "turn-1", events.BackpressureData{QueuedChunks: 9}))
	listener.OnEvent(event(events.EventTurnCompleted, "sess-1", "turn-1", events.TurnCompletedData{
		ResponseID: "resp_1", Chunks: 5, Bytes: 16000, Transcript: "Hello!",
	}))
	listener.OnEvent(event(events.EventSessionEnded, "sess-1", "", events.SessionEndedData{Reason: "handset_down", Turns: 1}))

	spans := flushAndGetSpans(t, tp, exp)
	if len(spans) != 2 {
		t.Fatalf("expected 2 spans, got %d", len(spans))
	}
	session := findSpan(t, spans, SpanSession)
	turn := findSpan(t, spans, SpanTurn)

	if turn.Parent.SpanID() != session.SpanContext.SpanID() {
		t.Error("turn span is not a child of the session span")
	}
	if v, _ := attr(turn, "turn.audio_bytes"); v.AsInt64() != 16000 {
		t.Errorf("expected 16000 audio bytes, got %v", v.AsInt64())
	}
	if v, _ := attr(turn, "turn.response_id"); v.AsString() != "resp_1" {
		t.Errorf("expected response id, got %q", v.AsString())
	}
	if len(turn.Events) != 1 || turn.Events[0].Name != "playback.backpressure" {
		t.Errorf("expected backpressure event on the turn span, got %v", turn.Events)
	}
	if v, _ := attr(session, "session.end_reason"); v.AsString() != "handset_down" {
		t.Errorf("expected end reason, got %q", v.AsString())
	}
	if session.Status.Code != codes.Ok {
		t.Errorf("expected ok status, got %v", session.Status.Code)
	}
}

func TestOTelEventListener_FailedSession(t *testing.T) {
	listener, exp, tp := newTestListener(t)

	listener.OnEvent(event(events.EventSessionStarted, "sess-2", "", events.SessionStartedData{}))
	listener.OnEvent(event(events.EventLinkClosed, "sess-2", "", events.LinkEventData{
		Link: events.LinkConversation, Fatal: true, Error: errors.New("retries exhausted"),
	}))
	listener.OnEvent(event(events.EventSessionEnded, "sess-2", "", events.SessionEndedData{
		Reason: "link_failed", Error: errors.New("retries exhausted"),
	}))

	spans := flushAndGetSpans(t, tp, exp)
	session := findSpan(t, spans, SpanSession)
	if session.Status.Code != codes.Error {
		t.Errorf("expected error status, got %v", session.Status.Code)
	}
	names := map[string]bool{}
	for _, e := range session.Events {
		names[e.Name] = true
	}
	if !names["link.closed"] {
		t.Errorf("expected link.closed span event, got %v", session.Events)
	}
	if !names["exception"] {
		t.Error("expected the error to be recorded")
	}
}

func TestOTelEventListener_ResumedSessionKeepsOneSpan(t *testing.T) {
	listener, exp, tp := newTestListener(t)

	listener.OnEvent(event(events.EventSessionStarted, "sess-3", "", events.SessionStartedData{RemoteSessionID: "a"}))
	listener.OnEvent(event(events.EventSessionStarted, "sess-3", "", events.SessionStartedData{RemoteSessionID: "b"}))
	listener.OnEvent(event(events.EventSessionEnded, "sess-3", "", events.SessionEndedData{}))

	spans := flushAndGetSpans(t, tp, exp)
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if len(spans[0].Events) != 1 || spans[0].Events[0].Name != "session.resumed" {
		t.Errorf("expected session.resumed event, got %v", spans[0].Events)
	}
}

func TestOTelEventListener_CloseEndsOpenSpans(t *testing.T) {
	listener, exp, tp := newTestListener(t)

	listener.OnEvent(event(events.EventSessionStarted, "sess-4", "", events.SessionStartedData{}))
	listener.OnEvent(event(events.EventTurnStarted, "sess-4", "turn-1", events.TurnStartedData{}))
	listener.Close()

	spans := flushAndGetSpans(t, tp, exp)
	if len(spans) != 2 {
		t.Fatalf("expected 2 spans, got %d", len(spans))
	}
	for _, s := range spans {
		if s.Status.Code != codes.Error {
			t.Errorf("span %s: expected unfinished error status", s.Name)
		}
	}
}

func TestOTelEventListener_IgnoresStrayEvents(t *testing.T) {
	listener, exp, tp := newTestListener(t)

	listener.OnEvent(event(events.EventTurnCompleted, "nope", "nope", events.TurnCompletedData{}))
	listener.OnEvent(event(events.EventSessionEnded, "nope", "", events.SessionEndedData{}))
	listener.OnEvent(event(events.EventPipeFailed, "nope", "", events.PipeEventData{Pipe: events.PipeCapture}))
	listener.OnEvent(event(events.EventStateChanged, "nope", "", events.StateChangedData{}))

	if spans := flushAndGetSpans(t, tp, exp); len(spans) != 0 {
		t.Errorf("expected no spans, got %d", len(spans))
	}
}

func TestOTelEventListener_FromBus(t *testing.T) {
	listener, exp, tp := newTestListener(t)
	bus := events.NewEventBus()
	bus.SubscribeAll(listener.OnEvent)

	emitter := events.NewEmitter(bus)
	emitter.SetSessionID("sess-5")
	emitter.SessionStarted("sess-5")
	emitter.PipeRestarted(events.PipeCapture, 1, errors.New("overrun"))
	emitter.SessionEnded("shutdown", 0, time.Second, nil)
	bus.Close()

	spans := flushAndGetSpans(t, tp, exp)
	session := findSpan(t, spans, SpanSession)
	if len(session.Events) != 1 || session.Events[0].Name != "pipe.restarted" {
		t.Errorf("expected pipe.restarted event, got %v", session.Events)
	}
}
