package statestore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore provides an in-memory implementation of the Store interface.
// It is thread-safe and suitable for development, testing, and a single
// bridge without Redis.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*SessionRecord
}

// NewMemoryStore creates a new in-memory state store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*SessionRecord)}
}

// Load retrieves a session record by ID.
// Returns a deep copy to prevent external mutations.
func (s *MemoryStore) Load(_ context.Context, id string) (*SessionRecord, error) {
	if id == "" {
		return nil, ErrInvalidID
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	record, exists := s.records[id]
	if !exists {
		return nil, ErrNotFound
	}
	return deepCopyRecord(record), nil
}

// Save persists a session record. If it already exists, it will be updated.
func (s *MemoryStore) Save(_ context.Context, record *SessionRecord) error {
	if record == nil {
		return ErrInvalidRecord
	}
	if record.ID == "" {
		return ErrInvalidID
	}

	stored := deepCopyRecord(record)
	stored.UpdatedAt = time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[record.ID] = stored
	return nil
}

// AppendTurn adds a turn to a stored session.
func (s *MemoryStore) AppendTurn(_ context.Context, id string, turn TurnRecord) error {
	if id == "" {
		return ErrInvalidID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	record, exists := s.records[id]
	if !exists {
		return ErrNotFound
	}
	record.Turns = append(record.Turns, turn)
	record.UpdatedAt = time.Now()
	return nil
}

// Delete removes a session record by ID.
func (s *MemoryStore) Delete(_ context.Context, id string) error {
	if id == "" {
		return ErrInvalidID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[id]; !exists {
		return ErrNotFound
	}
	delete(s.records, id)
	return nil
}

// List returns session IDs ordered per opts.
func (s *MemoryStore) List(_ context.Context, opts ListOptions) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := make([]*SessionRecord, 0, len(s.records))
	for _, r := range s.records {
		records = append(records, r)
	}
	sortRecords(records, opts.SortBy, opts.SortOrder)

	ids := make([]string, len(records))
	for i, r := range records {
		ids[i] = r.ID
	}
	return paginate(ids, opts.Offset, opts.Limit), nil
}

// sortRecords orders records by the requested timestamp, newest first
// unless sortOrder is "asc". Ties break on ID.
func sortRecords(records []*SessionRecord, sortBy, sortOrder string) {
	ascending := strings.EqualFold(sortOrder, "asc")
	key := func(r *SessionRecord) time.Time {
		if sortBy == SortByUpdatedAt {
			return r.UpdatedAt
		}
		return r.StartedAt
	}
	sort.SliceStable(records, func(i, j int) bool {
		ti, tj := key(records[i]), key(records[j])
		if ti.Equal(tj) {
			return records[i].ID < records[j].ID
		}
		if ascending {
			return ti.Before(tj)
		}
		return ti.After(tj)
	})
}

func paginate(ids []string, offset, limit int) []string {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if offset >= len(ids) {
		return []string{}
	}
	end := min(offset+limit, len(ids))
	return ids[offset:end]
}

// deepCopyRecord copies a record including its turn slice.
func deepCopyRecord(record *SessionRecord) *SessionRecord {
	if record == nil {
		return nil
	}
	c := *record
	c.Turns = append([]TurnRecord(nil), record.Turns...)
	return &c
}
