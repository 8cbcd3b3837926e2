package memocache

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/bool64/ctxd"
	"github.com/bool64/stats"
)

// Producer computes a value to cache. It may fail, failure is not cached.
type Producer func(ctx context.Context) (interface{}, error)

// CoordinatorConfig is optional configuration for NewCoordinator.
type CoordinatorConfig struct {
	// Name is added to logs and stats.
	Name string

	// Store is a cache backend, in-memory created by default.
	Store Store

	// StoreConfig is a configuration for in-memory cache instance if Store is not provided.
	StoreConfig MemoryConfig

	// Logger collects messages with context.
	Logger ctxd.Logger

	// Stats tracks stats.
	Stats stats.Tracker
}

// Coordinator deduplicates concurrent computations of cacheable values.
//
// For every key at most one producer runs at a time, racing callers await the
// in-flight computation and share its result, later callers are served from
// the store. Please use NewCoordinator to create instance.
type Coordinator struct {
	store Store
	lock  sync.Mutex // Guards the check-then-claim sequence.

	config CoordinatorConfig
	log    ctxd.Logger
	stat   stats.Tracker
}

// placeholder is a pending entry shared by racing callers.
//
// It is stored under the key for the duration of one computation and resolves
// to the produced payload or, when the owning attempt fails, to a retry
// signal that sends waiters back to the store.
type placeholder struct {
	done   chan struct{}
	val    interface{}
	tokens []*Token
	ok     bool

	once sync.Once
}

// resolve publishes the payload and the final token set to waiters.
func (p *placeholder) resolve(v interface{}, tokens []*Token) {
	p.once.Do(func() {
		p.val = v
		p.tokens = tokens
		p.ok = true
		close(p.done)
	})
}

// release wakes waiters with a retry signal, no-op after resolve.
func (p *placeholder) release() {
	p.once.Do(func() {
		close(p.done)
	})
}

// dead reports a placeholder released without a value, its key is up for grabs.
func (p *placeholder) dead() bool {
	select {
	case <-p.done:
		return !p.ok
	default:
		return false
	}
}

// NewCoordinator creates a Coordinator instance.
//
// Optional configuration can be provided with CoordinatorConfig (only first
// argument is used).
func NewCoordinator(cfg ...CoordinatorConfig) *Coordinator {
	config := CoordinatorConfig{}

	if len(cfg) >= 1 {
		config = cfg[0]
	}

	c := &Coordinator{}
	c.config = config

	c.log = config.Logger
	if c.log == nil {
		c.log = ctxd.NoOpLogger{}
	}

	c.stat = config.Stats
	if c.stat == nil {
		c.stat = stats.NoOp{}
	}

	c.store = config.Store

	if c.store == nil {
		config.StoreConfig.Name = config.Name
		config.StoreConfig.Logger = config.Logger
		config.StoreConfig.Stats = config.Stats
		c.store = NewMemory(config.StoreConfig)
	}

	return c
}

// Store returns the backend values are cached in.
func (c *Coordinator) Store() Store {
	return c.store
}

// GetOrCreate returns the value cached under the key, invoking produce at
// most once per key to fill a miss regardless of the number of concurrent
// and sequential callers.
//
// Expiration options are captured before produce is invoked, production
// latency does not extend entry lifetime. Entries read or written through
// this coordinator inside produce become dependencies of the produced entry,
// their invalidation also invalidates this entry.
//
// When produce fails, the error is returned to the caller owning the attempt,
// nothing is cached and callers awaiting the value re-enter the race, exactly
// one of them starting a fresh attempt.
func (c *Coordinator) GetOrCreate(ctx context.Context, key string, opt Options, produce Producer) (interface{}, error) {
	for {
		v, err := c.store.Read(ctx, key)

		switch {
		case err == nil:
			if p, pending := v.(*placeholder); pending {
				v, retry, aerr := c.await(ctx, key, p)
				if aerr != nil {
					return nil, aerr
				}

				if retry {
					continue
				}

				return v, nil
			}

			return v, nil
		case errors.Is(err, ErrNotFound) || errors.Is(err, ErrExpired):
			// Expired values are recomputed, the key is up for claiming.
		default:
			return nil, err
		}

		p, owner, t, captured, err := c.claim(ctx, key, opt)
		if err != nil {
			return nil, err
		}

		if owner {
			return c.build(ctx, key, p, t, captured, produce)
		}

		if p == nil {
			// Key was resolved between the read and the claim.
			continue
		}

		v, retry, err := c.await(ctx, key, p)
		if err != nil {
			return nil, err
		}

		if retry {
			continue
		}

		return v, nil
	}
}

// claim either inserts a pending placeholder under the key, making the caller
// the owner of the computation, or reports an existing one to await. The
// check-then-act pair runs in a critical section, so two placeholders for one
// key cannot coexist.
func (c *Coordinator) claim(ctx context.Context, key string, opt Options) (p *placeholder, owner bool, t *Token, captured Options, err error) {
	c.lock.Lock()
	defer c.lock.Unlock()

	v, rerr := c.store.Read(ctx, key)

	switch {
	case rerr == nil:
		ph, pending := v.(*placeholder)
		if pending && !ph.dead() {
			return ph, false, nil, Options{}, nil
		}

		if !pending {
			return nil, false, nil, Options{}, nil
		}

		// A dead placeholder left by an unwound attempt, take the key over.
	case errors.Is(rerr, ErrNotFound) || errors.Is(rerr, ErrExpired):
	default:
		return nil, false, nil, Options{}, rerr
	}

	t = NewToken()

	// Options are captured before production, wall-clock expiration is not
	// skewed by production latency. The token travels with the placeholder
	// and into the resolved entry, cancelling it evicts either.
	captured = opt.capture(time.Now()).withToken(t)
	p = &placeholder{done: make(chan struct{})}

	if werr := c.store.Write(ctx, key, p, captured); werr != nil {
		return nil, false, nil, Options{}, werr
	}

	c.log.Debug(ctx, "claimed pending computation", "name", c.config.Name, "key", key)

	return p, true, t, captured, nil
}

// build runs the producer owning the pending placeholder.
func (c *Coordinator) build(ctx context.Context, key string, p *placeholder, t *Token, captured Options, produce Producer) (v interface{}, err error) {
	published := false

	// The unwind runs unconditionally, also on panic: an unpublished attempt
	// retracts its placeholder and the release sends waiters back to the
	// store to race for a fresh attempt. After a successful resolve the
	// release is a no-op.
	defer func() {
		if !published {
			t.Cancel()
			c.stat.Add(ctx, MetricFailed, 1, "name", c.config.Name)
		}

		p.release()
	}()

	c.stat.Add(ctx, MetricBuild, 1, "name", c.config.Name)
	c.log.Debug(ctx, "producing cache value", "name", c.config.Name, "key", key)

	scopeCtx, scope := newScope(ctx)

	v, err = produce(scopeCtx)
	if err != nil {
		c.log.Warn(ctx, "failed to produce cache value",
			"error", err,
			"name", c.config.Name,
			"key", key)

		return nil, err
	}

	// Entries touched during production invalidate this entry too.
	captured.Tokens = mergeTokens(captured.Tokens, scope.Tokens())

	if werr := c.store.Write(scopeCtx, key, v, captured); werr != nil {
		return nil, ctxd.WrapError(ctx, werr, "failed to store produced value")
	}

	// Resolving strictly after the value is published, a caller woken up here
	// finds the value in the shared cell, and one woken up by the unwind
	// re-checks the store.
	published = true
	p.resolve(v, captured.Tokens)

	return v, nil
}

// await blocks until the in-flight computation owned by another caller
// settles.
func (c *Coordinator) await(ctx context.Context, key string, p *placeholder) (v interface{}, retry bool, err error) {
	c.stat.Add(ctx, MetricWait, 1, "name", c.config.Name)
	c.log.Debug(ctx, "waiting for cache value", "name", c.config.Name, "key", key)

	select {
	case <-p.done:
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}

	if p.ok {
		// The entry may carry dependencies collected during production that
		// the pending placeholder did not have yet.
		RecordDependency(ctx, p.tokens...)

		return p.val, false, nil
	}

	c.stat.Add(ctx, MetricRetry, 1, "name", c.config.Name)

	return nil, true, nil
}
