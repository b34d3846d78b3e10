package recording

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leomancini/ai-phone-firmware/runtime/events"
)

// journalSession writes a short session to a FileEventStore.
func journalSession(t *testing.T) (*events.FileEventStore, string) {
	t.Helper()
	dir := t.TempDir()
	store, err := events.NewFileEventStore(dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	bus := events.NewEventBus()
	bus.SubscribeAll(store.Listener(func(err error) { t.Errorf("journal write: %v", err) }))
	emitter := events.NewEmitter(bus)

	emitter.SetSessionID("sess-1")
	emitter.SessionStarted("remote-1")
	emitter.StateChanged("connecting", "active_recording", "session_ready", "up", 2)
	emitter.SetTurnID("turn-1")
	emitter.TurnStarted("resp_1")
	emitter.TurnCompleted(events.TurnCompletedData{
		ResponseID: "resp_1", Transcript: "Hello!", Chunks: 5, Bytes: 16000,
		Duration: 700 * time.Millisecond, Audio: make([]byte, 16000),
	})
	emitter.SetTurnID("turn-2")
	emitter.TurnCompleted(events.TurnCompletedData{ResponseID: "resp_2", Chunks: 1, Bytes: 3200, Aborted: true})
	emitter.SetTurnID("")
	emitter.SessionEnded("handset_down", 2, time.Minute, errors.New("device gone"))
	bus.Close()

	return store, filepath.Join(dir, "sess-1.jsonl")
}

func TestExport(t *testing.T) {
	store, _ := journalSession(t)

	rec, err := Export(context.Background(), store, "sess-1")
	require.NoError(t, err)

	assert.Equal(t, "sess-1", rec.Metadata.SessionID)
	assert.Equal(t, "remote-1", rec.Metadata.RemoteSessionID)
	assert.Equal(t, 6, rec.Metadata.EventCount)
	assert.Equal(t, 2, rec.Metadata.TurnCount)
	assert.Equal(t, "handset_down", rec.Metadata.EndReason)
	assert.Equal(t, recordingVersion, rec.Metadata.Version)
	assert.Equal(t, time.Duration(0), rec.Events[0].Offset)
	assert.Equal(t, "device gone", rec.Events[len(rec.Events)-1].Error)
	assert.Contains(t, rec.String(), "turns=2")

	turns, err := rec.Turns()
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, TurnSummary{
		TurnID: "turn-1", ResponseID: "resp_1", Offset: turns[0].Offset,
		Transcript: "Hello!", Chunks: 5, Bytes: 16000, Duration: 700 * time.Millisecond,
	}, turns[0])
	assert.True(t, turns[1].Aborted)
}

func TestExport_UnknownSession(t *testing.T) {
	store, _ := journalSession(t)

	_, err := Export(context.Background(), store, "nope")
	assert.Error(t, err)
}

func TestSaveAndLoad(t *testing.T) {
	store, _ := journalSession(t)
	rec, err := Export(context.Background(), store, "sess-1")
	require.NoError(t, err)

	for _, format := range []Format{FormatJSON, FormatJSONLines} {
		t.Run(string(format), func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "session."+string(format))
			require.NoError(t, rec.SaveTo(path, format))

			loaded, err := Load(path)
			require.NoError(t, err)
			assert.Equal(t, rec.Metadata.SessionID, loaded.Metadata.SessionID)
			assert.Equal(t, rec.Metadata.TurnCount, loaded.Metadata.TurnCount)
			require.Len(t, loaded.Events, len(rec.Events))
			assert.Equal(t, rec.Events[2].Type, loaded.Events[2].Type)
		})
	}
}

func TestSaveTo_UnsupportedFormat(t *testing.T) {
	rec := &SessionRecording{}
	assert.Error(t, rec.SaveTo(filepath.Join(t.TempDir(), "x"), Format("xml")))
}

func TestLoad_RawJournal(t *testing.T) {
	_, journal := journalSession(t)

	rec, err := Load(journal)
	require.NoError(t, err)
	assert.Equal(t, "sess-1", rec.Metadata.SessionID)
	assert.Equal(t, 2, rec.Metadata.TurnCount)
	assert.Equal(t, "remote-1", rec.Metadata.RemoteSessionID)

	turns, err := rec.Turns()
	require.NoError(t, err)
	assert.Equal(t, "Hello!", turns[0].Transcript)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}
