package memocache

import (
	"context"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

var (
	_ Store  = &TTLCache{}
	_ Walker = &TTLCache{}
)

// TTLCache is a cache backend delegating storage and expired entry cleanup to
// github.com/jellydator/ttlcache.
//
// Unlike Memory it does not serve stale values, an expired entry reads as
// missing.
//
// Please use NewTTLCache to create instance.
type TTLCache struct {
	cache *ttlcache.Cache[string, entry]

	*trait
}

// NewTTLCache creates an instance of ttlcache backed cache with optional
// configuration.
func NewTTLCache(cfg ...MemoryConfig) *TTLCache {
	c := &TTLCache{}

	c.trait = newTrait(c, cfg...)

	c.cache = ttlcache.New[string, entry](
		ttlcache.WithTTL[string, entry](c.config.TimeToLive),
		ttlcache.WithDisableTouchOnHit[string, entry](),
	)

	go c.cache.Start()

	return c
}

// Read gets value.
func (c *TTLCache) Read(ctx context.Context, key string) (interface{}, error) {
	if SkipRead(ctx) {
		return nil, ErrNotFound
	}

	var cacheEntry entry

	item := c.cache.Get(key)
	found := item != nil

	if found {
		cacheEntry = item.Value()
	}

	v, err := c.prepareRead(ctx, key, cacheEntry, found)

	if err == nil && cacheEntry.Slide != 0 {
		exp := cacheEntry.slide(time.Now())
		cacheEntry.Exp = exp
		c.cache.Set(key, cacheEntry, time.Until(exp))
	}

	return v, err
}

// Write sets value under expiration options.
func (c *TTLCache) Write(ctx context.Context, key string, v interface{}, opt Options) error {
	cacheEntry, store := c.newEntry(ctx, v, opt)
	if !store {
		return nil
	}

	ttl := ttlcache.DefaultTTL
	if !cacheEntry.Exp.IsZero() {
		ttl = time.Until(cacheEntry.Exp)
	}

	c.cache.Set(key, cacheEntry, ttl)

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
func (c *TTLCache) Delete(ctx context.Context, key string) error {
	if !c.cache.Has(key) {
		return ErrNotFound
	}

	c.cache.Delete(key)

	if c.log != nil {
		c.log.Debug(ctx, "deleted cache entry", "name", c.config.Name, "key", key)
	}

	if c.stat != nil {
		c.stat.Add(ctx, MetricDelete, 1, "name", c.config.Name)
	}

	return nil
}

// DeleteAll erases all entries.
func (c *TTLCache) DeleteAll() {
	c.cache.DeleteAll()
}

// Close stops the underlying cache and background jobs of this instance.
// Must be called no more than once.
func (c *TTLCache) Close() {
	c.cache.Stop()
	close(c.closed)
}

// Expired entries are removed by the underlying cache on their own deadline,
// the boundary delay is not supported.
func (c *TTLCache) deleteExpiredBefore(time.Time) {
	c.cache.DeleteExpired()
}

// Len returns number of elements in cache.
func (c *TTLCache) Len() int {
	return c.cache.Len()
}

// Walk walks cached entries.
func (c *TTLCache) Walk(walkFn func(key string, e Entry) error) (int, error) {
	n := 0

	for k, item := range c.cache.Items() {
		if err := walkFn(k, item.Value()); err != nil {
			return n, err
		}

		n++
	}

	return n, nil
}
