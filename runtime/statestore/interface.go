// Package statestore persists session records: the controller's state,
// each turn's summary and how the session ended.
package statestore

import (
	"context"
	"errors"
)

// Store defines the interface for persistent session storage.
type Store interface {
	// Load retrieves a session record by ID
	Load(ctx context.Context, id string) (*SessionRecord, error)

	// Save persists a session record, replacing any previous version
	Save(ctx context.Context, record *SessionRecord) error

	// Delete removes a session record. Returns ErrNotFound if it doesn't exist.
	Delete(ctx context.Context, id string) error

	// List returns session IDs matching opts
	List(ctx context.Context, opts ListOptions) ([]string, error)
}

// ListOptions provides pagination and ordering for List.
type ListOptions struct {
	// Limit is the maximum number of IDs to return. Zero means 100.
	Limit int

	// Offset is the number of sessions to skip.
	Offset int

	// SortBy is SortByStartedAt or SortByUpdatedAt. Empty means started_at.
	SortBy string

	// SortOrder is "asc" or "desc". Empty means "desc" (newest first).
	SortOrder string
}

// TurnAppender allows adding a turn without a full load+replace+save cycle.
// This is an optional interface; the Recorder type-asserts for it and falls
// back to Load and Save when unavailable.
type TurnAppender interface {
	// AppendTurn adds turn to the session's history.
	// Returns ErrNotFound if the session doesn't exist.
	AppendTurn(ctx context.Context, id string, turn TurnRecord) error
}

// ErrNotFound is returned when a session doesn't exist in the store.
var ErrNotFound = errors.New("session not found")

// ErrInvalidID is returned when an invalid session ID is provided.
var ErrInvalidID = errors.New("invalid session ID")

// ErrInvalidRecord is returned when a session record is invalid.
var ErrInvalidRecord = errors.New("invalid session record")
