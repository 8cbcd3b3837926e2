package memocache

import (
	"context"
	"runtime"
	"sort"
	"time"
)

func (c *Memory) heapInUseOverflow() bool {
	if c.config.HeapInUseSoftLimit == 0 {
		return false
	}

	runtime.GC()

	m := runtime.MemStats{}
	runtime.ReadMemStats(&m)

	return m.HeapInuse >= c.config.HeapInUseSoftLimit
}

// evictOldest removes least important and most expired entries.
// PriorityNeverRemove entries are kept.
func (c *Memory) evictOldest() {
	evictFraction := c.config.EvictFraction
	if evictFraction == 0 {
		evictFraction = 0.1
	}

	type en struct {
		key      string
		expireAt time.Time
		prio     Priority
	}

	// Collect evictable keys with priorities and expirations.
	c.RLock()
	entries := make([]en, 0, len(c.data))

	for k, v := range c.data {
		if v.Prio == PriorityNeverRemove {
			continue
		}

		entries = append(entries, en{key: k, expireAt: v.Exp, prio: v.Prio})
	}
	c.RUnlock()

	// Sort entries to put least important and most expired in head.
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].prio != entries[j].prio {
			return entries[i].prio < entries[j].prio
		}

		return entries[i].expireAt.Before(entries[j].expireAt)
	})

	evictItems := int(float64(len(entries)) * evictFraction)

	if c.stat != nil {
		c.stat.Add(context.Background(), MetricEvict, float64(evictItems), "name", c.config.Name)
	}

	c.Lock()
	for i := 0; i < evictItems; i++ {
		delete(c.data, entries[i].key)
	}
	c.Unlock()
}
