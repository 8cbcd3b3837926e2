package memocache

import (
	"context"
	"sync"
	"time"

	"github.com/bool64/ctxd"
	"github.com/bool64/stats"
)

var (
	_ Store  = &Memory{}
	_ Walker = &Memory{}
)

// MemoryConfig controls in-memory cache instance.
type MemoryConfig struct {
	// Logger is an instance of contextualized logger, can be nil.
	Logger ctxd.Logger

	// Stats is metrics collector, can be nil.
	Stats stats.Tracker

	// Name is cache instance name, used in stats and logging.
	Name string

	// TimeToLive is fallback expiration delay for writes with an empty
	// expiration policy, default 5m.
	TimeToLive time.Duration

	// DeleteExpiredAfter is delay before expired entry is deleted from cache, default 24h.
	DeleteExpiredAfter time.Duration

	// DeleteExpiredJobInterval is delay between two consecutive cleanups, default 1h.
	DeleteExpiredJobInterval time.Duration

	// ItemsCountReportInterval is items count metric report interval, default 1m.
	ItemsCountReportInterval time.Duration

	// ExpirationJitter is a fraction of fallback ttl to randomize, default 0.1.
	// Use -1 to disable.
	// If enabled, entry ttl will be randomly altered in bounds of ±(ExpirationJitter * ttl / 2).
	ExpirationJitter float64

	// HeapInUseSoftLimit sets heap in use threshold when eviction of least
	// important and most expired items will be performed.
	//
	// Eviction runs at most once per delete expired job and removes entries
	// up to EvictFraction.
	HeapInUseSoftLimit uint64

	// CountSoftLimit sets entries count threshold when eviction will be performed.
	CountSoftLimit int

	// EvictFraction is a fraction of total count of items to be evicted (0, 1], default 0.1.
	EvictFraction float64
}

// Memory is an in-memory cache backend with full expiration policy support.
//
// Please use NewMemory to create instance.
type Memory struct {
	sync.RWMutex
	data map[string]entry

	*trait
}

// NewMemory creates an instance of in-memory cache with optional configuration.
func NewMemory(cfg ...MemoryConfig) *Memory {
	c := &Memory{
		data: map[string]entry{},
	}

	c.trait = newTrait(c, cfg...)

	return c
}

// Read gets value.
func (c *Memory) Read(ctx context.Context, key string) (interface{}, error) {
	if SkipRead(ctx) {
		return nil, ErrNotFound
	}

	c.RLock()
	closed := c.data == nil
	cacheEntry, found := c.data[key]
	c.RUnlock()

	if closed {
		return nil, ErrClosed
	}

	v, err := c.prepareRead(ctx, key, cacheEntry, found)

	if err == nil && cacheEntry.Slide != 0 {
		c.touch(key, cacheEntry)
	}

	return v, err
}

// touch extends deadline of entry read within sliding window.
func (c *Memory) touch(key string, read entry) {
	exp := read.slide(time.Now())

	c.Lock()
	defer c.Unlock()

	cur, found := c.data[key]
	if !found || !cur.Exp.Equal(read.Exp) {
		// Entry was replaced or touched concurrently, their deadline wins.
		return
	}

	cur.Exp = exp
	c.data[key] = cur
}

// Write sets value under expiration options.
func (c *Memory) Write(ctx context.Context, key string, v interface{}, opt Options) error {
	cacheEntry, store := c.newEntry(ctx, v, opt)
	if !store {
		return nil
	}

	c.Lock()

	if c.data == nil {
		c.Unlock()

		if c.log != nil {
			c.log.Debug(ctx, "writing to a closed cache", "name", c.config.Name, "key", key)
		}

		return ErrClosed
	}

	c.data[key] = cacheEntry
	cnt := len(c.data)
	c.Unlock()

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

	if c.config.CountSoftLimit > 0 && cnt > c.config.CountSoftLimit {
		c.evictOldest()
	}

	return nil
}

// Delete removes entry.
func (c *Memory) Delete(ctx context.Context, key string) error {
	c.Lock()
	_, found := c.data[key]
	delete(c.data, key)
	c.Unlock()

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
func (c *Memory) ExpireAll() {
	now := time.Now()

	c.Lock()
	for k, v := range c.data {
		v.Exp = now
		v.Hard = now
		c.data[k] = v
	}
	c.Unlock()
}

// DeleteAll erases all entries.
func (c *Memory) DeleteAll() {
	c.Lock()
	c.data = make(map[string]entry)
	c.Unlock()
}

// Close deactivates cache instance and stops its background jobs.
// Must be called no more than once.
func (c *Memory) Close() {
	c.Lock()
	c.data = nil
	c.Unlock()

	close(c.closed)
}

func (c *Memory) deleteExpiredBefore(expirationBoundary time.Time) {
	c.Lock()
	for k, v := range c.data {
		if !v.Exp.IsZero() && v.Exp.Before(expirationBoundary) {
			delete(c.data, k)
		}
	}
	cnt := len(c.data)
	c.Unlock()

	if c.heapInUseOverflow() || (c.config.CountSoftLimit > 0 && cnt > c.config.CountSoftLimit) {
		c.evictOldest()
	}
}

// Len returns number of elements in cache.
func (c *Memory) Len() int {
	c.RLock()
	cnt := len(c.data)
	c.RUnlock()

	return cnt
}

// Walk walks cached entries.
func (c *Memory) Walk(walkFn func(key string, e Entry) error) (int, error) {
	c.RLock()
	defer c.RUnlock()

	n := 0

	for k, v := range c.data {
		c.RUnlock()

		err := walkFn(k, v)

		c.RLock()

		if err != nil {
			return n, err
		}

		n++
	}

	return n, nil
}
