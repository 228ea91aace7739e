// Package cache is a small string key-value cache with a Redis adapter and an
// in-process fallback.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrMiss reports that a key is absent.
var ErrMiss = errors.New("cache: miss")

// Cache is safe for concurrent use.
type Cache interface {
	// Get returns ErrMiss for absent keys.
	Get(ctx context.Context, key string) (string, error)
	// Set stores value; a ttl <= 0 means no expiration.
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) (int64, error)
	Ping(ctx context.Context) error
	Close() error
}
