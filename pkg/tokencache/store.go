package tokencache

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store persists cached tokens by key. ttl is the time left until the token
// expires, measured on the cache's clock. Implementations must be safe for
// concurrent use.
type Store interface {
	Get(ctx context.Context, key string) (CachedToken, bool, error)
	Set(ctx context.Context, key string, tok CachedToken, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
}

type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]CachedToken
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]CachedToken)}
}

func (s *MemoryStore) Get(_ context.Context, key string) (CachedToken, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tok, ok := s.entries[key]
	return tok, ok, nil
}

func (s *MemoryStore) Set(_ context.Context, key string, tok CachedToken, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = tok
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

func (s *MemoryStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]CachedToken)
	return nil
}

const redisKeyPrefix = "tokencache:"

// RedisStore shares cached tokens between API instances. Keys expire in
// redis together with the token they hold.
type RedisStore struct {
	rdb *redis.Client
}

func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func (s *RedisStore) Get(ctx context.Context, key string) (CachedToken, bool, error) {
	data, err := s.rdb.Get(ctx, redisKeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return CachedToken{}, false, nil
	}
	if err != nil {
		return CachedToken{}, false, err
	}
	var tok CachedToken
	if err := json.Unmarshal(data, &tok); err != nil {
		return CachedToken{}, false, err
	}
	return tok, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, tok CachedToken, ttl time.Duration) error {
	if ttl <= 0 {
		return s.Delete(ctx, key)
	}
	data, err := json.Marshal(tok)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, redisKeyPrefix+key, data, ttl).Err()
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, redisKeyPrefix+key).Err()
}

func (s *RedisStore) Clear(ctx context.Context) error {
	var keys []string
	iter := s.rdb.Scan(ctx, 0, redisKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return s.rdb.Del(ctx, keys...).Err()
}
