package recording

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leomancini/ai-phone-firmware/runtime/audio"
	"github.com/leomancini/ai-phone-firmware/runtime/events"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestTurnArchive_SaveWritesWAV(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "saved_audio")
	archive, err := NewTurnArchive(dir)
	require.NoError(t, err)
	archive.now = fixedClock(time.Date(2024, 3, 5, 14, 7, 9, 123_000_000, time.UTC))

	pcm := make([]byte, 3200)
	for i := range pcm {
		pcm[i] = byte(i)
	}
	path, err := archive.Save(pcm)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "response_2024-03-05T14-07-09-123Z.wav"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Len(t, data, audio.HeaderSize+len(pcm))
	info, err := audio.ParseHeader(data)
	require.NoError(t, err)
	assert.Equal(t, uint32(len(pcm)), info.DataLen)
	assert.Equal(t, pcm, data[audio.HeaderSize:])
}

func TestTurnArchive_SameInstantGetsSuffix(t *testing.T) {
	archive, err := NewTurnArchive(t.TempDir())
	require.NoError(t, err)
	archive.now = fixedClock(time.Date(2024, 3, 5, 14, 7, 9, 0, time.UTC))

	first, err := archive.Save([]byte{1, 2})
	require.NoError(t, err)
	second, err := archive.Save([]byte{3, 4})
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
	assert.Equal(t, "response_2024-03-05T14-07-09-000Z_1.wav", filepath.Base(second))
	n, last := archive.Saved()
	assert.Equal(t, 2, n)
	assert.Equal(t, second, last)
}

func TestTurnArchive_RejectsEmptyAudio(t *testing.T) {
	archive, err := NewTurnArchive(t.TempDir())
	require.NoError(t, err)

	_, err = archive.Save(nil)
	assert.Error(t, err)
}

func TestTurnArchive_OnEventFromBus(t *testing.T) {
	archive, err := NewTurnArchive(t.TempDir())
	require.NoError(t, err)

	bus := events.NewEventBus()
	defer bus.Close()
	bus.Subscribe(events.EventTurnCompleted, archive.OnEvent)

	emitter := events.NewEmitter(bus)
	emitter.SetSessionID("sess-1")
	emitter.TurnCompleted(events.TurnCompletedData{ResponseID: "resp_1", Bytes: 4, Audio: []byte{1, 2, 3, 4}})
	// Nothing to archive when audio was not retained.
	emitter.TurnCompleted(events.TurnCompletedData{ResponseID: "resp_2", Bytes: 3200})
	bus.Flush()

	n, last := archive.Saved()
	assert.Equal(t, 1, n)
	entries, err := os.ReadDir(archive.Dir())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, filepath.Base(last), entries[0].Name())
}
