package main

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leomancini/ai-phone-firmware/runtime/events"
	"github.com/leomancini/ai-phone-firmware/runtime/recording"
)

func writeJournal(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	store, err := events.NewFileEventStore(dir)
	require.NoError(t, err)

	bus := events.NewEventBus()
	bus.SubscribeAll(store.Listener(func(err error) { t.Errorf("journal write: %v", err) }))
	emitter := events.NewEmitter(bus)
	emitter.SetSessionID("sess-export")
	emitter.SessionStarted("remote-9")
	emitter.SetTurnID("turn-1")
	emitter.TurnStarted("resp_1")
	emitter.TurnCompleted(events.TurnCompletedData{
		ResponseID: "resp_1", Transcript: "Good morning.", Chunks: 3, Bytes: 9600,
		Duration: 300 * time.Millisecond,
	})
	emitter.SetTurnID("")
	emitter.SessionEnded("handset_down", 1, 10*time.Second, nil)
	bus.Close()
	require.NoError(t, store.Close())
	return dir
}

func TestExportCommand(t *testing.T) {
	dir := writeJournal(t)
	out := filepath.Join(t.TempDir(), "session.jsonl")

	stdout, err := execute(t, "export", "sess-export", "--journal-dir", dir, "--format", "jsonl", "--out", out)
	require.NoError(t, err)
	assert.Contains(t, stdout, "turns=1")
	assert.Contains(t, stdout, "Good morning.")
	assert.Contains(t, stdout, "Wrote "+out)

	rec, err := recording.Load(out)
	require.NoError(t, err)
	assert.Equal(t, "sess-export", rec.Metadata.SessionID)
	assert.Equal(t, "handset_down", rec.Metadata.EndReason)
}

func TestExportCommandUnknownSession(t *testing.T) {
	dir := writeJournal(t)
	_, err := execute(t, "export", "nope", "--journal-dir", dir)
	require.Error(t, err)
}

func TestExportCommandRejectsFormat(t *testing.T) {
	_, err := execute(t, "export", "sess-export", "--format", "xml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown format")
}
