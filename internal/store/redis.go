// redis.go -- go-redis client and the short-lived OAuth flow state store.
//
// Every key is written with a TTL; Redis expiry is the only cleanup for abandoned flows.
// The store is shared across server processes, so nothing here keeps in-process state.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// NewRedisClient parses redisURL, connects, and pings before returning.
// Call once at startup from main.go...the returned client is safe for concurrent use.
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, err
	}
	return rdb, nil
}

// RedisStateStore is a TTL key/value store over Redis.
// Values are opaque bytes; the caller owns encoding.
type RedisStateStore struct {
	rdb *redis.Client
}

// NewRedisStateStore wraps an existing client. The caller owns rdb and closes it.
func NewRedisStateStore(rdb *redis.Client) *RedisStateStore {
	return &RedisStateStore{rdb: rdb}
}

// Put writes value under key with ttl (SET key value EX ttl).
// A non-positive ttl is rejected; flow state must always expire.
func (s *RedisStateStore) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("putting %s: ttl must be positive, got %s", key, ttl)
	}
	if err := s.rdb.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("putting %s: %w", key, err)
	}
	return nil
}

// Replace overwrites key with value and a new ttl only if key still exists (SET XX),
// returning ErrCacheMiss otherwise. Used to update flow state without resurrecting a
// key another request already deleted.
func (s *RedisStateStore) Replace(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("replacing %s: ttl must be positive, got %s", key, ttl)
	}
	ok, err := s.rdb.SetXX(ctx, key, value, ttl).Result()
	if err != nil {
		return fmt.Errorf("replacing %s: %w", key, err)
	}
	if !ok {
		return ErrCacheMiss
	}
	return nil
}

// Get returns the value at key, or ErrCacheMiss.
func (s *RedisStateStore) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := s.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("getting %s: %w", key, err)
	}
	return b, nil
}

// Take atomically reads and deletes key (GETDEL), or returns ErrCacheMiss.
// Two concurrent Takes of the same key cannot both see the value.
func (s *RedisStateStore) Take(ctx context.Context, key string) ([]byte, error) {
	b, err := s.rdb.GetDel(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("taking %s: %w", key, err)
	}
	return b, nil
}

// Delete removes keys. Missing keys are not an error.
func (s *RedisStateStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := s.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("deleting %d keys: %w", len(keys), err)
	}
	return nil
}

// CheckHealth pings Redis. Used by the /health handler.
func (s *RedisStateStore) CheckHealth(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}
