package memocache

import (
	"context"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

var (
	_ Store  = &XSyncMap{}
	_ Walker = &XSyncMap{}
)

// XSyncMap is an in-memory cache backend on top of a concurrent map with
// lock-free reads.
//
// Please use NewXSyncMap to create instance.
type XSyncMap struct {
	data *xsync.Map

	*trait
}

// NewXSyncMap creates an instance of concurrent map backed cache with
// optional configuration.
func NewXSyncMap(cfg ...MemoryConfig) *XSyncMap {
	c := &XSyncMap{
		data: xsync.NewMap(),
	}

	c.trait = newTrait(c, cfg...)

	return c
}

// Read gets value.
func (c *XSyncMap) Read(ctx context.Context, key string) (interface{}, error) {
	if SkipRead(ctx) {
		return nil, ErrNotFound
	}

	var cacheEntry entry

	v, found := c.data.Load(key)
	if found {
		cacheEntry = v.(entry)
	}

	val, err := c.prepareRead(ctx, key, cacheEntry, found)

	if err == nil && cacheEntry.Slide != 0 {
		// Best effort touch, a concurrent write wins over deadline extension.
		cacheEntry.Exp = cacheEntry.slide(time.Now())
		c.data.Store(key, cacheEntry)
	}

	return val, err
}

// Write sets value under expiration options.
func (c *XSyncMap) Write(ctx context.Context, key string, v interface{}, opt Options) error {
	cacheEntry, store := c.newEntry(ctx, v, opt)
	if !store {
		return nil
	}

	c.data.Store(key, cacheEntry)

	c.registerTokens(c, key, cacheEntry.Tokens)
	RecordDependency(ctx, cacheEntry.Tokens...)

	if c.log != nil {
		c.log.Debug(ctx, "wrote to cache",
			"name", c.config.Name,
			"key", key,
			"value", v,
			"expire_at", cacheEntry.Exp)
	}

	if c.stat != nil {
		c.stat.Add(ctx, MetricWrite, 1, "name", c.config.Name)
	}

	return nil
}

// Delete removes entry.
func (c *XSyncMap) Delete(ctx context.Context, key string) error {
	_, found := c.data.LoadAndDelete(key)
	if !found {
		return ErrNotFound
	}

	if c.log != nil {
		c.log.Debug(ctx, "deleted cache entry", "name", c.config.Name, "key", key)
	}

	if c.stat != nil {
		c.stat.Add(ctx, MetricDelete, 1, "name", c.config.Name)
	}

	return nil
}

// ExpireAll marks all entries as expired, they can still serve stale values.
func (c *XSyncMap) ExpireAll() {
	now := time.Now()

	c.data.Range(func(key string, v interface{}) bool {
		cacheEntry := v.(entry)
		cacheEntry.Exp = now
		cacheEntry.Hard = now
		c.data.Store(key, cacheEntry)

		return true
	})
}

// DeleteAll erases all entries.
func (c *XSyncMap) DeleteAll() {
	c.data.Clear()
}

// Close stops background jobs of cache instance.
// Must be called no more than once.
func (c *XSyncMap) Close() {
	close(c.closed)
}

func (c *XSyncMap) deleteExpiredBefore(expirationBoundary time.Time) {
	c.data.Range(func(key string, v interface{}) bool {
		cacheEntry := v.(entry)
		if !cacheEntry.Exp.IsZero() && cacheEntry.Exp.Before(expirationBoundary) {
			c.data.Delete(key)
		}

		return true
	})
}

// Len returns number of elements in cache.
func (c *XSyncMap) Len() int {
	return c.data.Size()
}

// Walk walks cached entries.
func (c *XSyncMap) Walk(walkFn func(key string, e Entry) error) (int, error) {
	n := 0

	var lastErr error

	c.data.Range(func(key string, v interface{}) bool {
		if err := walkFn(key, v.(entry)); err != nil {
			lastErr = err

			return false
		}

		n++

		return true
	})

	return n, lastErr
}
