package statestore

import (
	"time"
)

// Sort field constants for ListOptions.SortBy.
const (
	SortByStartedAt = "started_at"
	SortByUpdatedAt = "updated_at"
)

// defaultTTLHours is the default TTL for session records (7 days).
const defaultTTLHours = 24 * 7

// defaultListLimit applies when ListOptions.Limit is zero.
const defaultListLimit = 100

// SessionRecord is the persisted view of one voice session.
type SessionRecord struct {
	ID           string       `json:"id"`
	RemoteID     string       `json:"remote_id,omitempty"`
	State        string       `json:"state"`
	Presence     string       `json:"presence,omitempty"`
	Version      uint64       `json:"version"`
	StartedAt    time.Time    `json:"started_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
	EndedAt      time.Time    `json:"ended_at,omitzero"`
	EndReason    string       `json:"end_reason,omitempty"`
	Error        string       `json:"error,omitempty"`
	PipeRestarts int          `json:"pipe_restarts"`
	Turns        []TurnRecord `json:"turns,omitempty"`
}

// Ended reports whether the session has been torn down.
func (r *SessionRecord) Ended() bool { return !r.EndedAt.IsZero() }

// TurnRecord summarizes one assistant turn.
type TurnRecord struct {
	ID          string        `json:"id"`
	ResponseID  string        `json:"response_id,omitempty"`
	Transcript  string        `json:"transcript,omitempty"`
	Chunks      int           `json:"chunks"`
	Bytes       int64         `json:"bytes"`
	Duration    time.Duration `json:"duration"`
	Aborted     bool          `json:"aborted,omitempty"`
	CompletedAt time.Time     `json:"completed_at"`
}
