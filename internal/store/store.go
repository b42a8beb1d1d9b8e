// Package store is the session-scoped key/value boundary behind orchestrator
// snapshots, named leases and rate-limit counters. Values are opaque bytes;
// every backend expires keys by TTL so nothing outlives a session for long.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get when the key does not exist or has expired.
var ErrNotFound = errors.New("store: key not found")

// KV is implemented by RedisKV (server), SQLiteKV (CLI) and MemoryKV.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	// Set writes value atomically. A zero ttl keeps the key until deleted.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	// Keys lists live keys starting with prefix.
	Keys(ctx context.Context, prefix string) ([]string, error)

	// AcquireLease takes name for owner, or extends it when owner already
	// holds it. It reports false when someone else holds a live lease.
	AcquireLease(ctx context.Context, name, owner string, ttl time.Duration) (bool, error)
	// ReleaseLease drops name only if owner holds it.
	ReleaseLease(ctx context.Context, name, owner string) error

	// Incr bumps a counter that expires window after its first increment.
	Incr(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error)

	Close() error
}
