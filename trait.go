package memocache

import (
	"context"
	"math/rand"
	"time"

	"github.com/bool64/ctxd"
	"github.com/bool64/stats"
)

// entry is a stored cache entry.
type entry struct {
	Val    interface{}
	Exp    time.Time     // Current deadline, zero for no expiration.
	Hard   time.Time     // Absolute cap for sliding extension, zero for none.
	Slide  time.Duration // Sliding window, zero disables deadline extension on read.
	Prio   Priority
	Tokens []*Token
}

func (e entry) Value() interface{} {
	return e.Val
}

func (e entry) ExpireAt() time.Time {
	return e.Exp
}

// backend is implemented by stores sharing the trait.
type backend interface {
	Len() int
	deleteExpiredBefore(expirationBoundary time.Time)
}

// trait carries common backend plumbing: configuration defaults, cleanup and
// stats reporting jobs, read bookkeeping.
type trait struct {
	closed chan struct{}

	config MemoryConfig
	log    ctxd.Logger
	stat   stats.Tracker
}

func newTrait(b backend, cfg ...MemoryConfig) *trait {
	config := MemoryConfig{}

	if len(cfg) >= 1 {
		config = cfg[0]
	}

	if config.DeleteExpiredAfter == 0 {
		config.DeleteExpiredAfter = 24 * time.Hour
	}

	if config.DeleteExpiredJobInterval == 0 {
		config.DeleteExpiredJobInterval = time.Hour
	}

	if config.ItemsCountReportInterval == 0 {
		config.ItemsCountReportInterval = time.Minute
	}

	if config.ExpirationJitter == 0 {
		config.ExpirationJitter = 0.1
	}

	if config.TimeToLive == 0 {
		config.TimeToLive = 5 * time.Minute
	}

	t := &trait{
		config: config,
		log:    config.Logger,
		stat:   config.Stats,
		closed: make(chan struct{}),
	}

	if t.stat != nil {
		go t.reportItemsCount(b)
	}

	go t.cleaner(b)

	return t
}

// prepareRead handles bookkeeping of a read result and links tokens of the
// touched entry to the recording scope in context.
func (t *trait) prepareRead(ctx context.Context, key string, e entry, found bool) (interface{}, error) {
	if !found {
		if t.log != nil {
			t.log.Debug(ctx, "cache miss",
				"name", t.config.Name,
				"key", key)
		}

		if t.stat != nil {
			t.stat.Add(ctx, MetricMiss, 1, "name", t.config.Name)
		}

		return nil, ErrNotFound
	}

	if !e.Exp.IsZero() && e.Exp.Before(time.Now()) {
		if t.log != nil {
			t.log.Debug(ctx, "cache key expired",
				"name", t.config.Name,
				"key", key)
		}

		if t.stat != nil {
			t.stat.Add(ctx, MetricExpired, 1, "name", t.config.Name)
		}

		return e.Val, errExpired{entry: e}
	}

	RecordDependency(ctx, e.Tokens...)

	if t.stat != nil {
		t.stat.Add(ctx, MetricHit, 1, "name", t.config.Name)
	}

	if t.log != nil {
		t.log.Debug(ctx, "cache hit",
			"name", t.config.Name,
			"key", key,
			"entry", e)
	}

	return e.Val, nil
}

// newEntry computes stored entry state from captured options, falling back to
// context and backend ttl for an empty policy. Returns false if value must
// not be stored.
func (t *trait) newEntry(ctx context.Context, v interface{}, opt Options) (entry, bool) {
	now := time.Now()
	opt = opt.capture(now)

	e := entry{
		Val:    v,
		Hard:   opt.AbsoluteExpiration,
		Slide:  opt.SlidingExpiration,
		Prio:   opt.Priority,
		Tokens: opt.Tokens,
	}

	switch {
	case opt.SlidingExpiration != 0:
		e.Exp = now.Add(opt.SlidingExpiration)
		if !e.Hard.IsZero() && e.Hard.Before(e.Exp) {
			e.Exp = e.Hard
		}
	case !opt.AbsoluteExpiration.IsZero():
		e.Exp = opt.AbsoluteExpiration
	default:
		ttl := TTL(ctx)
		if ttl == SkipWriteTTL {
			return e, false
		}

		if ttl == DefaultTTL {
			ttl = t.config.TimeToLive
		}

		if t.config.ExpirationJitter > 0 {
			ttl += time.Duration(float64(ttl) * t.config.ExpirationJitter * (rand.Float64() - 0.5))
		}

		e.Exp = now.Add(ttl)
	}

	return e, true
}

// slide extends deadline of an entry read within its sliding window.
func (e entry) slide(now time.Time) time.Time {
	exp := now.Add(e.Slide)
	if !e.Hard.IsZero() && e.Hard.Before(exp) {
		exp = e.Hard
	}

	return exp
}

// registerTokens arms token-triggered eviction for the key.
//
// Cancelling a token after the key was overwritten under an unrelated policy
// also drops the newer entry, tokens are not meant to be shared across
// unrelated writes of one key.
func (t *trait) registerTokens(d Deleter, key string, tokens []*Token) {
	for _, tok := range tokens {
		tok.OnCancel(func() {
			_ = d.Delete(context.Background(), key)
		})
	}
}

func (t *trait) cleaner(b backend) {
	for {
		select {
		case <-time.After(t.config.DeleteExpiredJobInterval):
			b.deleteExpiredBefore(time.Now().Add(-t.config.DeleteExpiredAfter))
		case <-t.closed:
			return
		}
	}
}

func (t *trait) reportItemsCount(b backend) {
	for {
		select {
		case <-time.After(t.config.ItemsCountReportInterval):
			count := b.Len()

			if t.log != nil {
				t.log.Debug(context.Background(), "cache items count",
					"name", t.config.Name,
					"count", count,
				)
			}

			t.stat.Set(context.Background(), MetricItems, float64(count), "name", t.config.Name)
		case <-t.closed:
			return
		}
	}
}
