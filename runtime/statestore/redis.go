package statestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore provides a Redis-backed implementation of the Store interface.
// A session is a JSON document plus a list of turns, and a sorted set
// indexes sessions by start time. Keys expire after the TTL.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithTTL sets the time-to-live for session records.
// Default is 7 days. Set to 0 for no expiration.
func WithTTL(ttl time.Duration) RedisOption {
	return func(s *RedisStore) {
		s.ttl = ttl
	}
}

// WithPrefix sets the key prefix for Redis keys.
// Default is "voicebridge".
func WithPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		s.prefix = prefix
	}
}

// NewRedisStore creates a new Redis-backed state store.
//
// Example:
//
//	store := NewRedisStore(
//	    redis.NewClient(&redis.Options{Addr: "localhost:6379"}),
//	    WithTTL(24 * time.Hour),
//	    WithPrefix("phone"),
//	)
func NewRedisStore(client *redis.Client, opts ...RedisOption) *RedisStore {
	store := &RedisStore{
		client: client,
		ttl:    defaultTTLHours * time.Hour,
		prefix: "voicebridge",
	}

	for _, opt := range opts {
		opt(store)
	}

	return store
}

// Ping checks connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Load retrieves a session record with its turns.
func (s *RedisStore) Load(ctx context.Context, id string) (*SessionRecord, error) {
	if id == "" {
		return nil, ErrInvalidID
	}

	pipe := s.client.Pipeline()
	getCmd := pipe.Get(ctx, s.sessionKey(id))
	turnsCmd := pipe.LRange(ctx, s.turnsKey(id), 0, -1)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis pipeline failed: %w", err)
	}

	data, err := getCmd.Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var record SessionRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	for _, raw := range turnsCmd.Val() {
		var turn TurnRecord
		if err := json.Unmarshal([]byte(raw), &turn); err != nil {
			return nil, fmt.Errorf("failed to unmarshal turn: %w", err)
		}
		record.Turns = append(record.Turns, turn)
	}
	return &record, nil
}

// Save persists a session record with TTL. Turns on the record replace the
// stored turn list.
func (s *RedisStore) Save(ctx context.Context, record *SessionRecord) error {
	if record == nil {
		return ErrInvalidRecord
	}
	if record.ID == "" {
		return ErrInvalidID
	}

	record.UpdatedAt = time.Now()
	doc := *record
	doc.Turns = nil
	data, err := json.Marshal(&doc)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	turns, err := marshalTurns(record.Turns)
	if err != nil {
		return err
	}

	key := s.sessionKey(record.ID)
	turnsKey := s.turnsKey(record.ID)
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, key, data, s.ttl)
	pipe.Del(ctx, turnsKey)
	if len(turns) > 0 {
		pipe.RPush(ctx, turnsKey, turns...)
		s.expire(ctx, pipe, turnsKey)
	}
	pipe.ZAdd(ctx, s.indexKey(), redis.Z{Score: float64(record.StartedAt.UnixNano()), Member: record.ID})
	s.expire(ctx, pipe, s.indexKey())

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline failed: %w", err)
	}
	return nil
}

// AppendTurn pushes one turn onto the session's list.
func (s *RedisStore) AppendTurn(ctx context.Context, id string, turn TurnRecord) error {
	if id == "" {
		return ErrInvalidID
	}

	n, err := s.client.Exists(ctx, s.sessionKey(id)).Result()
	if err != nil {
		return fmt.Errorf("redis exists failed: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}

	data, err := json.Marshal(turn)
	if err != nil {
		return fmt.Errorf("failed to marshal turn: %w", err)
	}
	key := s.turnsKey(id)
	pipe := s.client.Pipeline()
	pipe.RPush(ctx, key, data)
	s.expire(ctx, pipe, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline failed: %w", err)
	}
	return nil
}

// Delete removes a session and its turns.
func (s *RedisStore) Delete(ctx context.Context, id string) error {
	if id == "" {
		return ErrInvalidID
	}

	pipe := s.client.TxPipeline()
	delCmd := pipe.Del(ctx, s.sessionKey(id))
	pipe.Del(ctx, s.turnsKey(id))
	pipe.ZRem(ctx, s.indexKey(), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline failed: %w", err)
	}

	if delCmd.Val() == 0 {
		return ErrNotFound
	}
	return nil
}

// List returns session IDs. Index entries whose session has expired are
// pruned on the way.
func (s *RedisStore) List(ctx context.Context, opts ListOptions) ([]string, error) {
	ids, err := s.client.ZRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis zrange failed: %w", err)
	}
	if len(ids) == 0 {
		return []string{}, nil
	}

	records, err := s.pipelinedLoad(ctx, ids)
	if err != nil {
		return nil, err
	}
	sortRecords(records, opts.SortBy, opts.SortOrder)

	live := make([]string, len(records))
	for i, r := range records {
		live[i] = r.ID
	}
	return paginate(live, opts.Offset, opts.Limit), nil
}

// pipelinedLoad fetches session documents in one round-trip. Turns are not
// loaded.
func (s *RedisStore) pipelinedLoad(ctx context.Context, ids []string) ([]*SessionRecord, error) {
	pipe := s.client.Pipeline()
	cmds := make([]*redis.StringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.Get(ctx, s.sessionKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis pipeline failed: %w", err)
	}

	records := make([]*SessionRecord, 0, len(ids))
	var stale []any
	for i, cmd := range cmds {
		data, err := cmd.Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				stale = append(stale, ids[i])
				continue
			}
			return nil, fmt.Errorf("redis get failed: %w", err)
		}
		var record SessionRecord
		if err := json.Unmarshal(data, &record); err != nil {
			return nil, fmt.Errorf("failed to unmarshal session: %w", err)
		}
		records = append(records, &record)
	}
	if len(stale) > 0 {
		if err := s.client.ZRem(ctx, s.indexKey(), stale...).Err(); err != nil {
			return nil, fmt.Errorf("redis zrem failed: %w", err)
		}
	}
	return records, nil
}

func (s *RedisStore) expire(ctx context.Context, pipe redis.Pipeliner, key string) {
	if s.ttl > 0 {
		pipe.Expire(ctx, key, s.ttl)
	}
}

func marshalTurns(turns []TurnRecord) ([]any, error) {
	out := make([]any, 0, len(turns))
	for _, t := range turns {
		data, err := json.Marshal(t)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal turn: %w", err)
		}
		out = append(out, data)
	}
	return out, nil
}

// sessionKey generates the Redis key for a session document.
func (s *RedisStore) sessionKey(id string) string {
	return fmt.Sprintf("%s:session:%s", s.prefix, id)
}

// turnsKey generates the Redis key for a session's turn list.
func (s *RedisStore) turnsKey(id string) string {
	return fmt.Sprintf("%s:session:%s:turns", s.prefix, id)
}

// indexKey generates the Redis key for the start-time index.
func (s *RedisStore) indexKey() string {
	return s.prefix + ":sessions"
}
