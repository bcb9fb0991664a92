package ratelimit

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis keys for rate limit state storage.
const (
	RedisKeyRemaining      = "gallery:rate_limit:remaining"
	RedisKeyLimit          = "gallery:rate_limit:limit"
	RedisKeyResetTimestamp = "gallery:rate_limit:reset_timestamp"
	RedisKeyLastUpdate     = "gallery:rate_limit:last_update"
)

// Store persists the rate limit window. Load returns (nil, nil) when no
// state has been recorded yet.
type Store interface {
	Load(ctx context.Context) (*State, error)
	Save(ctx context.Context, state *State) error
}

// MemoryStore keeps the window in process memory.
type MemoryStore struct {
	mu    sync.RWMutex
	state *State
}

// NewMemoryStore creates an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Load returns a copy of the stored state.
func (m *MemoryStore) Load(_ context.Context) (*State, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.state == nil {
		return nil, nil
	}
	s := *m.state
	return &s, nil
}

// Save replaces the stored state.
func (m *MemoryStore) Save(_ context.Context, state *State) error {
	if state == nil {
		return fmt.Errorf("state cannot be nil")
	}
	s := *state

	m.mu.Lock()
	m.state = &s
	m.mu.Unlock()
	return nil
}

// RedisStore shares the window between server replicas that use the same
// API key or egress IP.
type RedisStore struct {
	redis *redis.Client
}

// NewRedisStore creates a Redis-backed store.
func NewRedisStore(redisClient *redis.Client) *RedisStore {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	return &RedisStore{redis: redisClient}
}

// Load reads the window from Redis.
func (r *RedisStore) Load(ctx context.Context) (*State, error) {
	remaining, err := r.redis.Get(ctx, RedisKeyRemaining).Int()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get remaining: %w", err)
	}

	limit, err := r.redis.Get(ctx, RedisKeyLimit).Int()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("get limit: %w", err)
	}

	resetTimestamp, err := r.redis.Get(ctx, RedisKeyResetTimestamp).Int64()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("get reset timestamp: %w", err)
	}

	lastUpdateStr, err := r.redis.Get(ctx, RedisKeyLastUpdate).Result()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("get last update: %w", err)
	}

	var lastUpdate time.Time
	if lastUpdateStr != "" {
		if err := json.Unmarshal([]byte(lastUpdateStr), &lastUpdate); err != nil {
			return nil, fmt.Errorf("parse last update: %w", err)
		}
	}

	state := &State{
		Remaining:  remaining,
		Limit:      limit,
		ResetAt:    time.Unix(resetTimestamp, 0),
		LastUpdate: lastUpdate,
	}
	state.UpdateHealth()
	return state, nil
}

// Save writes the window to Redis atomically. Keys expire with the window.
func (r *RedisStore) Save(ctx context.Context, state *State) error {
	if state == nil {
		return fmt.Errorf("state cannot be nil")
	}

	lastUpdateJSON, err := json.Marshal(state.LastUpdate)
	if err != nil {
		return fmt.Errorf("marshal last update: %w", err)
	}

	// Keep the keys a little past the reset so a stale window is never read back
	ttl := state.TimeUntilReset() + time.Minute

	pipe := r.redis.TxPipeline()
	pipe.Set(ctx, RedisKeyRemaining, state.Remaining, ttl)
	pipe.Set(ctx, RedisKeyLimit, state.Limit, ttl)
	pipe.Set(ctx, RedisKeyResetTimestamp, state.ResetAt.Unix(), ttl)
	pipe.Set(ctx, RedisKeyLastUpdate, lastUpdateJSON, ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store rate limit state in redis: %w", err)
	}
	return nil
}
