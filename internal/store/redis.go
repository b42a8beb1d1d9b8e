package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var acquireLeaseScript = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if (not cur) or cur == ARGV[1] then
	redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
	return 1
end
return 0
`)

var releaseLeaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

// RedisKV stores keys in Redis.
type RedisKV struct {
	redis *redis.Client
}

func NewRedisKV(redisClient *redis.Client) *RedisKV {
	return &RedisKV{redis: redisClient}
}

func (s *RedisKV) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.redis.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	return data, nil
}

func (s *RedisKV) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.redis.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (s *RedisKV) Delete(ctx context.Context, key string) error {
	return s.redis.Del(ctx, key).Err()
}

func (s *RedisKV) Keys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	iter := s.redis.Scan(ctx, 0, prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan %s: %w", prefix, err)
	}
	return keys, nil
}

func (s *RedisKV) AcquireLease(ctx context.Context, name, owner string, ttl time.Duration) (bool, error) {
	n, err := acquireLeaseScript.Run(ctx, s.redis, []string{name}, owner, ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("redis acquire lease %s: %w", name, err)
	}
	return n == 1, nil
}

func (s *RedisKV) ReleaseLease(ctx context.Context, name, owner string) error {
	return releaseLeaseScript.Run(ctx, s.redis, []string{name}, owner).Err()
}

func (s *RedisKV) Incr(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	count, err := s.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, 0, err
	}

	// Set expiration on first request
	if count == 1 {
		s.redis.Expire(ctx, key, window)
	}

	ttl, err := s.redis.TTL(ctx, key).Result()
	if err != nil {
		return count, window, nil
	}
	return count, ttl, nil
}

// Close is a no-op; the redis client is owned by the caller.
func (s *RedisKV) Close() error { return nil }
