package recording

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/leomancini/ai-phone-firmware/runtime/audio"
	"github.com/leomancini/ai-phone-firmware/runtime/events"
	"github.com/leomancini/ai-phone-firmware/runtime/logger"
)

const (
	// DefaultArchiveDir is where turn audio lands when no directory is set.
	DefaultArchiveDir = "./saved_audio"

	dirPermissions = 0750
	// archiveTimeLayout mirrors an ISO timestamp with ':' and '.' replaced
	// by '-' so file names stay portable.
	archiveTimeLayout = "2006-01-02T15-04-05-000Z"
)

// TurnArchive saves the audio of every completed turn as a standalone WAV
// file named response_<timestamp>.wav. The controller must retain turn
// audio for there to be anything to save.
type TurnArchive struct {
	dir string
	now func() time.Time

	mu    sync.Mutex
	last  string
	saved int
}

// NewTurnArchive creates the archive directory if needed.
func NewTurnArchive(dir string) (*TurnArchive, error) {
	if dir == "" {
		dir = DefaultArchiveDir
	}
	if err := os.MkdirAll(dir, dirPermissions); err != nil {
		return nil, fmt.Errorf("create archive directory: %w", err)
	}
	return &TurnArchive{dir: dir, now: time.Now}, nil
}

// Dir returns the archive directory.
func (a *TurnArchive) Dir() string { return a.dir }

// Save writes pcm as a WAV file and returns its path.
func (a *TurnArchive) Save(pcm []byte) (string, error) {
	if len(pcm) == 0 {
		return "", fmt.Errorf("empty turn audio")
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	path := a.pathFor(a.now().UTC())
	if err := os.WriteFile(path, audio.WrapPCM(pcm), filePermissions); err != nil {
		return "", fmt.Errorf("write turn audio: %w", err)
	}
	a.last = path
	a.saved++
	return path, nil
}

// pathFor names the file for t, adding a suffix when two turns complete
// within the same millisecond. Caller must hold a.mu.
func (a *TurnArchive) pathFor(t time.Time) string {
	base := filepath.Join(a.dir, "response_"+t.Format(archiveTimeLayout))
	path := base + ".wav"
	for n := 1; ; n++ {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return path
		}
		path = fmt.Sprintf("%s_%d.wav", base, n)
	}
}

// Saved returns how many files were written and the last path.
func (a *TurnArchive) Saved() (int, string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.saved, a.last
}

// OnEvent archives the audio of completed turns. Register it with
// events.EventBus.Subscribe for events.EventTurnCompleted.
func (a *TurnArchive) OnEvent(evt *events.Event) {
	data, ok := evt.Data.(events.TurnCompletedData)
	if !ok || len(data.Audio) == 0 {
		return
	}
	path, err := a.Save(data.Audio)
	if err != nil {
		logger.Warn("turn audio not archived", "session_id", evt.SessionID, "turn_id", evt.TurnID, "error", err)
		return
	}
	logger.Info("turn audio archived", "session_id", evt.SessionID, "turn_id", evt.TurnID,
		"path", path, "bytes", len(data.Audio))
}
