package prometheus

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/leomancini/ai-phone-firmware/runtime/events"
)

func resetAll() {
	sessionsActive.Set(0)
	sessionsTotal.Reset()
	stateTransitionsTotal.Reset()
	turnsTotal.Reset()
	pipeEventsTotal.Reset()
	linkEventsTotal.Reset()
	handsetUp.Set(0)
}

func TestRecordSessionStartEnd(t *testing.T) {
	resetAll()

	RecordSessionStart()
	if active := testutil.ToFloat64(sessionsActive); active != 1 {
		t.Errorf("Expected 1 active session, got %f", active)
	}

	RecordSessionEnd("handset_down", 42)
	if active := testutil.ToFloat64(sessionsActive); active != 0 {
		t.Errorf("Expected 0 active sessions after end, got %f", active)
	}
	if ended := testutil.ToFloat64(sessionsTotal.WithLabelValues("handset_down")); ended != 1 {
		t.Errorf("Expected 1 ended session, got %f", ended)
	}
	if count := testutil.CollectAndCount(sessionDuration); count == 0 {
		t.Error("Expected session duration observations")
	}
}

func TestRecordTurn(t *testing.T) {
	resetAll()
	before := testutil.ToFloat64(turnAudioBytesTotal)

	RecordTurn("completed", 2.5, 16000)
	RecordTurn("completed", 1.0, 3200)
	RecordTurn("aborted", 0.4, 0)

	if n := testutil.ToFloat64(turnsTotal.WithLabelValues("completed")); n != 2 {
		t.Errorf("Expected 2 completed turns, got %f", n)
	}
	if n := testutil.ToFloat64(turnsTotal.WithLabelValues("aborted")); n != 1 {
		t.Errorf("Expected 1 aborted turn, got %f", n)
	}
	if got := testutil.ToFloat64(turnAudioBytesTotal) - before; got != 19200 {
		t.Errorf("Expected 19200 audio bytes, got %f", got)
	}
}

func TestRecordPlaybackDroppedIgnoresZero(t *testing.T) {
	before := testutil.ToFloat64(playbackDroppedChunksTotal)
	RecordPlaybackDropped(0)
	RecordPlaybackDropped(-1)
	RecordPlaybackDropped(4)
	if got := testutil.ToFloat64(playbackDroppedChunksTotal) - before; got != 4 {
		t.Errorf("Expected 4 dropped chunks, got %f", got)
	}
}

func TestRecordHandsetPresence(t *testing.T) {
	RecordHandsetPresence(true)
	if up := testutil.ToFloat64(handsetUp); up != 1 {
		t.Errorf("Expected handset up, got %f", up)
	}
	RecordHandsetPresence(false)
	if up := testutil.ToFloat64(handsetUp); up != 0 {
		t.Errorf("Expected handset down, got %f", up)
	}
}

func TestNewExporter(t *testing.T) {
	exporter := NewExporter(":9091")
	if exporter.Registry() == nil {
		t.Fatal("Expected registry to be set")
	}

	RecordStateTransition("idle", "connecting")
	families, err := exporter.Registry().Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
	found := false
	for _, f := range families {
		if f.GetName() == "voicebridge_state_transitions_total" {
			found = true
		}
	}
	if !found {
		t.Error("Expected bridge metrics to be registered")
	}
}

func TestExporterHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "test_counter",
		Help: "Test counter",
	})
	reg.MustRegister(counter)
	counter.Inc()

	exporter := NewExporterWithRegistry(":9093", reg)
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	exporter.Handler().ServeHTTP(rec, req)

	resp := rec.Result()
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "test_counter") {
		t.Error("Expected response to contain test_counter metric")
	}
}

func TestExporterHealth(t *testing.T) {
	exporter := NewExporterWithRegistry(":0", prometheus.NewRegistry())

	rec := httptest.NewRecorder()
	exporter.serveHealth(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("Expected 200 without a health check, got %d", rec.Code)
	}

	exporter.SetHealthCheck(func() error { return errors.New("conversation link down") })
	rec = httptest.NewRecorder()
	exporter.serveHealth(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "conversation link down") {
		t.Errorf("Expected error text in body, got %q", rec.Body.String())
	}
}

func TestExporterRegister(t *testing.T) {
	exporter := NewExporterWithRegistry(":9094", prometheus.NewRegistry())
	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "custom_counter",
		Help: "Custom counter",
	})

	if err := exporter.Register(counter); err != nil {
		t.Errorf("Expected no error registering counter, got %v", err)
	}
	if err := exporter.Register(counter); err == nil {
		t.Error("Expected error when registering duplicate counter")
	}
}

func TestExporterStartShutdown(t *testing.T) {
	exporter := NewExporterWithRegistry(":0", prometheus.NewRegistry())

	errCh := make(chan error, 1)
	go func() {
		errCh <- exporter.Start()
	}()

	time.Sleep(100 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := exporter.Shutdown(ctx); err != nil {
		t.Errorf("Expected no error on shutdown, got %v", err)
	}

	select {
	case err := <-errCh:
		if err != http.ErrServerClosed {
			t.Errorf("Expected ErrServerClosed, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Error("Timeout waiting for server to stop")
	}
}

func TestMetricsListener(t *testing.T) {
	resetAll()
	listener := NewMetricsListener()

	listener.Handle(&events.Event{
		Type: events.EventStateChanged,
		Data: events.StateChangedData{From: "idle", To: "connecting"},
	})
	if n := testutil.ToFloat64(stateTransitionsTotal.WithLabelValues("idle", "connecting")); n != 1 {
		t.Errorf("Expected 1 transition, got %f", n)
	}

	listener.Handle(&events.Event{Type: events.EventSessionStarted, Data: events.SessionStartedData{}})
	if active := testutil.ToFloat64(sessionsActive); active != 1 {
		t.Errorf("Expected active session, got %f", active)
	}

	listener.Handle(&events.Event{
		Type: events.EventTurnCompleted,
		Data: events.TurnCompletedData{Bytes: 3200, Duration: time.Second, Aborted: true},
	})
	if n := testutil.ToFloat64(turnsTotal.WithLabelValues("aborted")); n != 1 {
		t.Errorf("Expected 1 aborted turn, got %f", n)
	}

	listener.Handle(&events.Event{
		Type: events.EventPipeRestarted,
		Data: events.PipeEventData{Pipe: events.PipeCapture, Attempt: 1},
	})
	if n := testutil.ToFloat64(pipeEventsTotal.WithLabelValues("capture", "restarted")); n != 1 {
		t.Errorf("Expected 1 capture restart, got %f", n)
	}

	listener.Handle(&events.Event{
		Type: events.EventLinkClosed,
		Data: events.LinkEventData{Link: events.LinkConversation, Fatal: true},
	})
	if n := testutil.ToFloat64(linkEventsTotal.WithLabelValues("conversation", "gave_up")); n != 1 {
		t.Errorf("Expected 1 gave_up, got %f", n)
	}

	listener.Handle(&events.Event{
		Type: events.EventHandsetPresence,
		Data: events.HandsetPresenceData{Presence: "up"},
	})
	if up := testutil.ToFloat64(handsetUp); up != 1 {
		t.Errorf("Expected handset up, got %f", up)
	}

	listener.Handle(&events.Event{
		Type: events.EventSessionEnded,
		Data: events.SessionEndedData{Reason: "handset_down", Duration: time.Minute},
	})
	if n := testutil.ToFloat64(sessionsTotal.WithLabelValues("handset_down")); n != 1 {
		t.Errorf("Expected 1 ended session, got %f", n)
	}
}

func TestMetricsListenerFromBus(t *testing.T) {
	resetAll()
	bus := events.NewEventBus()
	defer bus.Close()
	bus.SubscribeAll(NewMetricsListener().Listener())

	emitter := events.NewEmitter(bus)
	emitter.PipeStarted(events.PipePlayback)
	emitter.PipeStopped(events.PipePlayback, 3)
	emitter.LinkMalformed(events.LinkHandset, errors.New("bad frame"))
	bus.Flush()

	if n := testutil.ToFloat64(pipeEventsTotal.WithLabelValues("playback", "stopped")); n != 1 {
		t.Errorf("Expected 1 playback stop, got %f", n)
	}
	if n := testutil.ToFloat64(linkEventsTotal.WithLabelValues("handset", "malformed")); n != 1 {
		t.Errorf("Expected 1 malformed frame, got %f", n)
	}
}

func TestMetricsListenerNilData(t *testing.T) {
	listener := NewMetricsListener()

	// These should not panic even with nil data
	listener.Handle(&events.Event{Type: events.EventSessionEnded})
	listener.Handle(&events.Event{Type: events.EventTurnCompleted})
	listener.Handle(&events.Event{Type: events.EventPipeFailed})
	listener.Handle(&events.Event{Type: events.EventLinkError})
}

func TestExporterShutdownBeforeStart(t *testing.T) {
	exporter := NewExporterWithRegistry(":0", prometheus.NewRegistry())
	if err := exporter.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if err := exporter.Start(); err != http.ErrServerClosed {
		t.Errorf("Expected ErrServerClosed after shutdown, got %v", err)
	}
}
