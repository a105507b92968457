package call

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNotFound is returned by Store.Get for an unknown call.
var ErrNotFound = errors.New("call not found")

// Record is the persisted view of a call.
type Record struct {
	CallID    string    `json:"call_id"`
	From      string    `json:"from,omitempty"`
	To        string    `json:"to,omitempty"`
	Status    Status    `json:"status"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store persists call records.
type Store interface {
	Save(ctx context.Context, rec Record) error
	Get(ctx context.Context, callID string) (Record, error)
}

// MemoryStore keeps records in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

func (m *MemoryStore) Save(_ context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[rec.CallID] = rec
	return nil
}

func (m *MemoryStore) Get(_ context.Context, callID string) (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[callID]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

// RedisStore keeps records as JSON under "call:status:<id>".
type RedisStore struct {
	redis *redis.Client
	ttl   time.Duration
}

// NewRedisStore creates a store. A zero ttl keeps records forever.
func NewRedisStore(r *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{redis: r, ttl: ttl}
}

func statusKey(callID string) string {
	return "call:status:" + callID
}

func (s *RedisStore) Save(ctx context.Context, rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, statusKey(rec.CallID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save call %s: %w", rec.CallID, err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, callID string) (Record, error) {
	data, err := s.redis.Get(ctx, statusKey(callID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("failed to load call %s: %w", callID, err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, fmt.Errorf("corrupt record for call %s: %w", callID, err)
	}
	return rec, nil
}

// Ping verifies the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.redis.Ping(ctx).Err()
}
