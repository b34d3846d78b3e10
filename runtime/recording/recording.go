// Package recording turns what a bridge session leaves behind into
// artifacts: a self-contained session recording exported from the event
// journal, and an archive of each turn's response audio as WAV files.
package recording

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/leomancini/ai-phone-firmware/runtime/events"
)

// Format specifies the recording file format.
type Format string

const (
	// FormatJSON uses JSON encoding (human-readable, larger files).
	FormatJSON Format = "json"
	// FormatJSONLines uses JSON Lines encoding (streamable, one event per line).
	FormatJSONLines Format = "jsonl"
)

// filePermissions for recording files.
const filePermissions = 0600

// SessionRecording is a self-contained artifact for analysis. It carries
// everything needed to review a session without access to the journal.
type SessionRecording struct {
	Metadata Metadata        `json:"metadata"`
	Events   []RecordedEvent `json:"events"`
}

// Metadata contains session-level information.
type Metadata struct {
	SessionID       string        `json:"session_id"`
	RemoteSessionID string        `json:"remote_session_id,omitempty"`
	StartTime       time.Time     `json:"start_time"`
	EndTime         time.Time     `json:"end_time"`
	Duration        time.Duration `json:"duration"`
	EventCount      int           `json:"event_count"`
	TurnCount       int           `json:"turn_count"`
	EndReason       string        `json:"end_reason,omitempty"`

	// Version is the recording format version.
	Version   string    `json:"version"`
	CreatedAt time.Time `json:"created_at"`

	// Custom allows arbitrary metadata to be attached.
	Custom map[string]any `json:"custom,omitempty"`
}

// RecordedEvent is one journal entry positioned relative to session start.
type RecordedEvent struct {
	Sequence  int64            `json:"seq"`
	Type      events.EventType `json:"type"`
	Timestamp time.Time        `json:"timestamp"`
	Offset    time.Duration    `json:"offset"`
	TurnID    string           `json:"turn_id,omitempty"`
	DataType  string           `json:"data_type,omitempty"`
	Data      json.RawMessage  `json:"data,omitempty"`
	Error     string           `json:"error,omitempty"`
}

// TurnSummary describes one turn found in a recording.
type TurnSummary struct {
	TurnID     string        `json:"turn_id"`
	ResponseID string        `json:"response_id,omitempty"`
	Offset     time.Duration `json:"offset"`
	Transcript string        `json:"transcript,omitempty"`
	Chunks     int           `json:"chunks"`
	Bytes      int64         `json:"bytes"`
	Duration   time.Duration `json:"duration"`
	Aborted    bool          `json:"aborted,omitempty"`
}

// recordingVersion is the current format version.
const recordingVersion = "1.0"

// Journal payloads decoded by the recording. Error fields are carried
// separately as text, so these mirror only the marshalable fields.
type (
	sessionStartedPayload struct {
		RemoteSessionID string
	}
	sessionEndedPayload struct {
		Reason string
		Turns  int
	}
	turnCompletedPayload struct {
		ResponseID string
		Transcript string
		Chunks     int
		Bytes      int64
		Duration   time.Duration
		Aborted    bool
	}
)

// Export creates a SessionRecording from the journal of one session.
func Export(ctx context.Context, store events.EventStore, sessionID string) (*SessionRecording, error) {
	stored, err := store.Query(ctx, &events.EventFilter{SessionID: sessionID})
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	if len(stored) == 0 {
		return nil, fmt.Errorf("no events found for session %s", sessionID)
	}

	rec := &SessionRecording{
		Metadata: Metadata{SessionID: sessionID},
		Events:   make([]RecordedEvent, len(stored)),
	}
	for i, se := range stored {
		rec.Events[i] = RecordedEvent{
			Sequence:  se.Sequence,
			Type:      se.Type,
			Timestamp: se.Timestamp,
			TurnID:    se.TurnID,
			DataType:  se.DataType,
			Data:      se.Data,
			Error:     se.Error,
		}
	}
	rec.finalize()
	return rec, nil
}

// finalize orders events and derives the metadata from them.
func (r *SessionRecording) finalize() {
	sort.SliceStable(r.Events, func(i, j int) bool {
		return r.Events[i].Timestamp.Before(r.Events[j].Timestamp)
	})

	start := r.Events[0].Timestamp
	end := r.Events[len(r.Events)-1].Timestamp
	r.Metadata.StartTime = start
	r.Metadata.EndTime = end
	r.Metadata.Duration = end.Sub(start)
	r.Metadata.EventCount = len(r.Events)
	r.Metadata.Version = recordingVersion
	r.Metadata.CreatedAt = time.Now()

	for i := range r.Events {
		e := &r.Events[i]
		e.Offset = e.Timestamp.Sub(start)

		//nolint:exhaustive // Only events that feed the metadata
		switch e.Type {
		case events.EventSessionStarted:
			var p sessionStartedPayload
			if json.Unmarshal(e.Data, &p) == nil && p.RemoteSessionID != "" {
				r.Metadata.RemoteSessionID = p.RemoteSessionID
			}
		case events.EventTurnCompleted:
			r.Metadata.TurnCount++
		case events.EventSessionEnded:
			var p sessionEndedPayload
			if json.Unmarshal(e.Data, &p) == nil {
				r.Metadata.EndReason = p.Reason
			}
		}
	}
}

// Turns summarizes every completed turn in the recording, in order.
func (r *SessionRecording) Turns() ([]TurnSummary, error) {
	var turns []TurnSummary
	for i := range r.Events {
		e := &r.Events[i]
		if e.Type != events.EventTurnCompleted {
			continue
		}
		var p turnCompletedPayload
		if err := json.Unmarshal(e.Data, &p); err != nil {
			return nil, fmt.Errorf("decode turn %d: %w", e.Sequence, err)
		}
		turns = append(turns, TurnSummary{
			TurnID:     e.TurnID,
			ResponseID: p.ResponseID,
			Offset:     e.Offset,
			Transcript: p.Transcript,
			Chunks:     p.Chunks,
			Bytes:      p.Bytes,
			Duration:   p.Duration,
			Aborted:    p.Aborted,
		})
	}
	return turns, nil
}

// SaveTo writes the recording to a file.
func (r *SessionRecording) SaveTo(path string, format Format) error {
	var data []byte
	var err error

	switch format {
	case FormatJSON:
		data, err = json.MarshalIndent(r, "", "  ")
	case FormatJSONLines:
		data, err = r.marshalJSONLines()
	default:
		return fmt.Errorf("unsupported format: %s", format)
	}

	if err != nil {
		return fmt.Errorf("marshal recording: %w", err)
	}

	if err := os.WriteFile(path, data, filePermissions); err != nil {
		return fmt.Errorf("write file: %w", err)
	}

	return nil
}

// marshalJSONLines creates JSONL output with metadata on first line.
func (r *SessionRecording) marshalJSONLines() ([]byte, error) {
	metaLine, err := json.Marshal(map[string]any{
		"type":     "metadata",
		"metadata": r.Metadata,
	})
	if err != nil {
		return nil, err
	}

	var result []byte
	result = append(result, metaLine...)
	result = append(result, '\n')

	for i := range r.Events {
		eventLine, err := json.Marshal(map[string]any{
			"type":  "event",
			"event": r.Events[i],
		})
		if err != nil {
			return nil, err
		}
		result = append(result, eventLine...)
		result = append(result, '\n')
	}

	return result, nil
}

// Load reads a recording from a file. It accepts the JSON and JSONL forms
// written by SaveTo, and a raw session journal written by
// events.FileEventStore.
func Load(path string) (*SessionRecording, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is user-provided
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	var rec SessionRecording
	if err := json.Unmarshal(data, &rec); err == nil && rec.Metadata.Version != "" {
		return &rec, nil
	}

	return loadJSONLines(data)
}

// loadJSONLines detects between the recording and journal line formats.
func loadJSONLines(data []byte) (*SessionRecording, error) {
	lines := splitLines(data)
	for _, line := range lines {
		if len(line) == 0 {
			continue
		}
		var probe struct {
			Type string `json:"type"`
			Seq  int64  `json:"seq"`
		}
		if err := json.Unmarshal(line, &probe); err != nil {
			return nil, fmt.Errorf("parse line: %w", err)
		}
		if probe.Seq > 0 {
			return loadJournal(lines)
		}
		return loadRecordingLines(lines)
	}
	return nil, fmt.Errorf("empty recording file")
}

func loadRecordingLines(lines [][]byte) (*SessionRecording, error) {
	rec := &SessionRecording{}

	for i, line := range lines {
		if len(line) == 0 {
			continue
		}

		var wrapper struct {
			Type     string        `json:"type"`
			Metadata Metadata      `json:"metadata"`
			Event    RecordedEvent `json:"event"`
		}
		if err := json.Unmarshal(line, &wrapper); err != nil {
			return nil, fmt.Errorf("parse line %d: %w", i+1, err)
		}

		switch wrapper.Type {
		case "metadata":
			rec.Metadata = wrapper.Metadata
		case "event":
			rec.Events = append(rec.Events, wrapper.Event)
		}
	}

	if rec.Metadata.Version == "" {
		return nil, fmt.Errorf("invalid recording: missing metadata")
	}
	return rec, nil
}

func loadJournal(lines [][]byte) (*SessionRecording, error) {
	rec := &SessionRecording{}

	for i, line := range lines {
		if len(line) == 0 {
			continue
		}
		var stored events.StoredEvent
		if err := json.Unmarshal(line, &stored); err != nil {
			return nil, fmt.Errorf("parse line %d: %w", i+1, err)
		}
		if rec.Metadata.SessionID == "" {
			rec.Metadata.SessionID = stored.SessionID
		}
		rec.Events = append(rec.Events, RecordedEvent{
			Sequence:  stored.Sequence,
			Type:      stored.Type,
			Timestamp: stored.Timestamp,
			TurnID:    stored.TurnID,
			DataType:  stored.DataType,
			Data:      stored.Data,
			Error:     stored.Error,
		})
	}

	if len(rec.Events) == 0 {
		return nil, fmt.Errorf("no events found in recording")
	}
	rec.finalize()
	return rec, nil
}

// splitLines splits data into lines without using bufio.Scanner.
func splitLines(data []byte) [][]byte {
	var lines [][]byte
	start := 0
	for i, b := range data {
		if b == '\n' {
			lines = append(lines, data[start:i])
			start = i + 1
		}
	}
	if start < len(data) {
		lines = append(lines, data[start:])
	}
	return lines
}

// String returns a human-readable summary of the recording.
func (r *SessionRecording) String() string {
	return fmt.Sprintf("SessionRecording{session=%s, events=%d, turns=%d, duration=%v}",
		r.Metadata.SessionID, r.Metadata.EventCount, r.Metadata.TurnCount, r.Metadata.Duration)
}
