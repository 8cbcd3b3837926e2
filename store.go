package memocache

import (
	"context"
	"time"
)

// DefaultTTL is a reserved ttl value to delegate expiration to backend configuration.
const DefaultTTL = time.Duration(0)

// SkipWriteTTL is a ttl value to indicate that value must not be stored.
const SkipWriteTTL = time.Duration(-1)

// Reader reads from cache.
type Reader interface {
	// Read returns cached value and/or error.
	// If ErrExpired is returned, expired cache value must be returned as well.
	Read(ctx context.Context, key string) (interface{}, error)
}

// Writer writes to cache.
type Writer interface {
	// Write stores value in cache with a given key under expiration options.
	Write(ctx context.Context, key string, value interface{}, opt Options) error
}

// Deleter removes values from cache.
type Deleter interface {
	Delete(ctx context.Context, key string) error
}

// ReadWriter reads from and writes to cache.
type ReadWriter interface {
	Reader
	Writer
}

// Store is a cache backend usable by Coordinator.
//
// Delete is required to retract pending entries of failed computations and to
// serve token-triggered invalidation.
type Store interface {
	Reader
	Writer
	Deleter
}

// Entry is a cache entry.
type Entry interface {
	Value() interface{}
}

// Expirable exposes entry deadline.
type Expirable interface {
	ExpireAt() time.Time
}

// Walker calls function for every entry in cache and fails on first error returned by that function.
//
// Count of processed entries is returned.
type Walker interface {
	Walk(func(key string, e Entry) error) (int, error)
}
