package events

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"
)

// File system constants.
const (
	dirPermissions  = 0750
	filePermissions = 0600
	scannerBufSize  = 1024 * 1024
)

// EventStore persists events for later analysis.
type EventStore interface {
	// Append adds an event to the store.
	Append(ctx context.Context, event *Event) error

	// Query returns events matching the filter.
	Query(ctx context.Context, filter *EventFilter) ([]*StoredEvent, error)

	// Close releases any resources held by the store.
	Close() error
}

// EventFilter specifies criteria for querying events.
type EventFilter struct {
	SessionID string
	TurnID    string
	Types     []EventType
	Since     time.Time
	Until     time.Time
	Limit     int
}

// StoredEvent is one journal line.
type StoredEvent struct {
	Sequence  int64           `json:"seq"`
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	SessionID string          `json:"session_id"`
	TurnID    string          `json:"turn_id,omitempty"`
	DataType  string          `json:"data_type,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     string          `json:"error,omitempty"`
}

func toStored(seq int64, e *Event) (*StoredEvent, error) {
	se := &StoredEvent{
		Sequence:  seq,
		Type:      e.Type,
		Timestamp: e.Timestamp,
		SessionID: e.SessionID,
		TurnID:    e.TurnID,
	}
	if e.Data == nil {
		return se, nil
	}
	data := e.Data
	// Turn audio belongs in the turn archive, not the journal.
	if tc, ok := data.(TurnCompletedData); ok {
		tc.Audio = nil
		data = tc
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	se.DataType = fmt.Sprintf("%T", e.Data)
	se.Data = raw
	if err := eventError(e.Data); err != nil {
		se.Error = err.Error()
	}
	return se, nil
}

// eventError extracts the error carried by a payload. Errors do not
// marshal, so the journal keeps their text.
func eventError(data EventData) error {
	switch d := data.(type) {
	case SessionEndedData:
		return d.Error
	case PipeEventData:
		return d.Error
	case LinkEventData:
		return d.Error
	default:
		return nil
	}
}

// FileEventStore implements EventStore using JSON Lines files, one file per
// session.
type FileEventStore struct {
	dir      string
	mu       sync.Mutex
	files    map[string]*os.File
	sequence atomic.Int64
}

// NewFileEventStore creates a file-based event store rooted at dir.
func NewFileEventStore(dir string) (*FileEventStore, error) {
	if err := os.MkdirAll(dir, dirPermissions); err != nil {
		return nil, fmt.Errorf("create event store directory: %w", err)
	}
	return &FileEventStore{
		dir:   dir,
		files: make(map[string]*os.File),
	}, nil
}

// Append adds an event to the store. Events without a session are ignored.
func (s *FileEventStore) Append(_ context.Context, event *Event) error {
	if event.SessionID == "" {
		return nil
	}

	stored, err := toStored(s.sequence.Add(1), event)
	if err != nil {
		return fmt.Errorf("serialize event: %w", err)
	}
	data, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.getOrCreateFile(event.SessionID)
	if err != nil {
		return err
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	return nil
}

// Query returns events matching the filter.
func (s *FileEventStore) Query(ctx context.Context, filter *EventFilter) ([]*StoredEvent, error) {
	if filter.SessionID == "" {
		return nil, fmt.Errorf("session ID required for query")
	}

	f, err := os.Open(s.sessionPath(filter.SessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open session file: %w", err)
	}
	defer f.Close()

	var out []*StoredEvent
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, scannerBufSize), scannerBufSize)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return out, err
		}

		var stored StoredEvent
		if err := json.Unmarshal(scanner.Bytes(), &stored); err != nil {
			continue // Skip malformed lines
		}
		if filter.matches(&stored) {
			out = append(out, &stored)
			if filter.Limit > 0 && len(out) >= filter.Limit {
				break
			}
		}
	}
	return out, scanner.Err()
}

// Listener returns a bus listener that appends every event. Write errors
// are passed to onError when it is non-nil.
func (s *FileEventStore) Listener(onError func(error)) Listener {
	return func(e *Event) {
		if err := s.Append(context.Background(), e); err != nil && onError != nil {
			onError(err)
		}
	}
}

// Close syncs and closes every open file.
func (s *FileEventStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	for _, f := range s.files {
		errs = append(errs, f.Sync(), f.Close())
	}
	s.files = make(map[string]*os.File)
	return errors.Join(errs...)
}

func (s *FileEventStore) sessionPath(sessionID string) string {
	return filepath.Join(s.dir, filepath.Base(sessionID)+".jsonl")
}

// getOrCreateFile returns the file for a session, creating it if needed.
// Caller must hold s.mu.
func (s *FileEventStore) getOrCreateFile(sessionID string) (*os.File, error) {
	if f, ok := s.files[sessionID]; ok {
		return f, nil
	}
	f, err := os.OpenFile(s.sessionPath(sessionID), os.O_CREATE|os.O_APPEND|os.O_WRONLY, filePermissions)
	if err != nil {
		return nil, fmt.Errorf("create session file: %w", err)
	}
	s.files[sessionID] = f
	return f, nil
}

func (f *EventFilter) matches(e *StoredEvent) bool {
	if f.TurnID != "" && e.TurnID != f.TurnID {
		return false
	}
	if !f.Since.IsZero() && e.Timestamp.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && e.Timestamp.After(f.Until) {
		return false
	}
	if len(f.Types) == 0 {
		return true
	}
	for _, t := range f.Types {
		if e.Type == t {
			return true
		}
	}
	return false
}

var _ EventStore = (*FileEventStore)(nil)
