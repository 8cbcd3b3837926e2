package memocache_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bool64/stats"
	"github.com/seangwright/memocache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// unreachable returns a producer that must never be invoked.
func unreachable(t *testing.T) memocache.Producer {
	t.Helper()

	return func(ctx context.Context) (interface{}, error) {
		t.Error("producer invoked unexpectedly")

		return nil, nil
	}
}

func TestCoordinator_GetOrCreate(t *testing.T) {
	c := memocache.NewCoordinator()
	ctx := context.Background()

	var invocations int32

	// First invocation returns "v1", any subsequent would return "v2".
	produce := func(ctx context.Context) (interface{}, error) {
		n := atomic.AddInt32(&invocations, 1)
		time.Sleep(50 * time.Millisecond)

		return fmt.Sprintf("v%d", n), nil
	}

	start := make(chan struct{})
	results := make([]interface{}, 2)

	wg := sync.WaitGroup{}
	wg.Add(2)

	for i := 0; i < 2; i++ {
		i := i

		go func() {
			defer wg.Done()

			<-start

			v, err := c.GetOrCreate(ctx, "k1", memocache.Options{}, produce)
			assert.NoError(t, err)

			results[i] = v
		}()
	}

	close(start)
	wg.Wait()

	assert.Equal(t, "v1", results[0])
	assert.Equal(t, "v1", results[1])
	assert.Equal(t, int32(1), atomic.LoadInt32(&invocations))
}

func TestCoordinator_GetOrCreate_concurrent(t *testing.T) {
	st := &stats.TrackerMock{}
	c := memocache.NewCoordinator(memocache.CoordinatorConfig{
		Name:  "test",
		Stats: st,
	})
	ctx := context.Background()

	var invocations int32

	produce := func(ctx context.Context) (interface{}, error) {
		atomic.AddInt32(&invocations, 1)
		time.Sleep(20 * time.Millisecond)

		return 123, nil
	}

	n := 50

	wg := sync.WaitGroup{}
	wg.Add(n)

	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()

			v, err := c.GetOrCreate(ctx, "key", memocache.Options{}, produce)
			assert.NoError(t, err)
			assert.Equal(t, 123, v)
		}()
	}

	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&invocations))
	assert.Equal(t, 1, st.Int(memocache.MetricBuild))
	assert.Equal(t, 0, st.Int(memocache.MetricFailed))
}

func TestCoordinator_GetOrCreate_cached(t *testing.T) {
	c := memocache.NewCoordinator()
	ctx := context.Background()

	v, err := c.GetOrCreate(ctx, "key", memocache.Options{}, func(ctx context.Context) (interface{}, error) {
		return "v1", nil
	})
	require.NoError(t, err)
	require.Equal(t, "v1", v)

	// Value is served from cache, producer of the second call is not invoked.
	v, err = c.GetOrCreate(ctx, "key", memocache.Options{}, unreachable(t))
	require.NoError(t, err)
	assert.Equal(t, "v1", v)
}

func TestCoordinator_GetOrCreate_failure(t *testing.T) {
	st := &stats.TrackerMock{}
	c := memocache.NewCoordinator(memocache.CoordinatorConfig{
		Name:  "test",
		Stats: st,
	})
	ctx := context.Background()

	errProduce := errors.New("producer failed")

	var invocations int32

	produce := func(ctx context.Context) (interface{}, error) {
		atomic.AddInt32(&invocations, 1)
		time.Sleep(20 * time.Millisecond)

		return nil, errProduce
	}

	n := 5

	wg := sync.WaitGroup{}
	wg.Add(n)

	// Nobody hangs on a failed attempt: every caller is released and owns a
	// fresh failing attempt of its own.
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()

			v, err := c.GetOrCreate(ctx, "key", memocache.Options{}, produce)
			assert.Nil(t, v)
			assert.ErrorIs(t, err, errProduce)
		}()
	}

	wg.Wait()

	assert.Equal(t, int32(n), atomic.LoadInt32(&invocations))
	assert.Equal(t, n, st.Int(memocache.MetricFailed))
}

func TestCoordinator_GetOrCreate_failureReleasesWaiters(t *testing.T) {
	c := memocache.NewCoordinator()
	ctx := context.Background()

	errProduce := errors.New("producer failed")

	var invocations int32

	started := make(chan struct{})
	release := make(chan struct{})

	produce := func(ctx context.Context) (interface{}, error) {
		if atomic.AddInt32(&invocations, 1) == 1 {
			close(started)
			<-release

			return nil, errProduce
		}

		return "v2", nil
	}

	ownerErr := make(chan error, 1)

	go func() {
		_, err := c.GetOrCreate(ctx, "key", memocache.Options{}, produce)
		ownerErr <- err
	}()

	<-started

	waiters := 3

	wg := sync.WaitGroup{}
	wg.Add(waiters)

	for i := 0; i < waiters; i++ {
		go func() {
			defer wg.Done()

			v, err := c.GetOrCreate(ctx, "key", memocache.Options{}, produce)
			assert.NoError(t, err)
			assert.Equal(t, "v2", v)
		}()
	}

	// Give waiters a moment to attach to the pending placeholder.
	time.Sleep(20 * time.Millisecond)
	close(release)

	wg.Wait()

	assert.ErrorIs(t, <-ownerErr, errProduce)
	// One failed attempt, one successful retry shared by all waiters.
	assert.Equal(t, int32(2), atomic.LoadInt32(&invocations))
}

func TestCoordinator_GetOrCreate_expirationExcludesProductionLatency(t *testing.T) {
	store := memocache.NewMemory()
	c := memocache.NewCoordinator(memocache.CoordinatorConfig{Store: store})
	ctx := context.Background()

	claimedAt := time.Now()

	v, err := c.GetOrCreate(ctx, "key", memocache.Options{TimeToLive: time.Hour}, func(ctx context.Context) (interface{}, error) {
		time.Sleep(100 * time.Millisecond)

		return "v1", nil
	})
	completedAt := time.Now()

	require.NoError(t, err)
	require.Equal(t, "v1", v)

	var expireAt time.Time

	n, err := store.Walk(func(key string, e memocache.Entry) error {
		expireAt = e.(memocache.Expirable).ExpireAt()

		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 1, n)

	// Deadline is claim time + ttl, production latency is excluded.
	assert.WithinDuration(t, claimedAt.Add(time.Hour), expireAt, 50*time.Millisecond)
	assert.True(t, expireAt.Before(completedAt.Add(time.Hour)))
}

func TestCoordinator_GetOrCreate_dependencyPropagation(t *testing.T) {
	c := memocache.NewCoordinator()
	ctx := context.Background()

	dep := memocache.NewToken()

	vb, err := c.GetOrCreate(ctx, "b", memocache.Options{Tokens: []*memocache.Token{dep}}, func(ctx context.Context) (interface{}, error) {
		return "bv", nil
	})
	require.NoError(t, err)
	require.Equal(t, "bv", vb)

	// Producing "a" reads "b" through the coordinator, linking their lifetimes.
	va, err := c.GetOrCreate(ctx, "a", memocache.Options{}, func(ctx context.Context) (interface{}, error) {
		vb, err := c.GetOrCreate(ctx, "b", memocache.Options{}, unreachable(t))
		if err != nil {
			return nil, err
		}

		return "a+" + vb.(string), nil
	})
	require.NoError(t, err)
	require.Equal(t, "a+bv", va)

	dep.Cancel()

	// Both the dependency and the dependent entry are gone.
	var invalidatedA, invalidatedB bool

	_, err = c.GetOrCreate(ctx, "b", memocache.Options{}, func(ctx context.Context) (interface{}, error) {
		invalidatedB = true

		return "bv2", nil
	})
	require.NoError(t, err)

	_, err = c.GetOrCreate(ctx, "a", memocache.Options{}, func(ctx context.Context) (interface{}, error) {
		invalidatedA = true

		return "av2", nil
	})
	require.NoError(t, err)

	assert.True(t, invalidatedB)
	assert.True(t, invalidatedA)
}

func TestCoordinator_GetOrCreate_nestedProduction(t *testing.T) {
	c := memocache.NewCoordinator()
	ctx := context.Background()

	dep := memocache.NewToken()

	// Producing "a" produces "b" on the way, the dependency link must survive
	// the slow path of the inner computation as well.
	va, err := c.GetOrCreate(ctx, "a", memocache.Options{}, func(ctx context.Context) (interface{}, error) {
		vb, err := c.GetOrCreate(ctx, "b", memocache.Options{Tokens: []*memocache.Token{dep}}, func(ctx context.Context) (interface{}, error) {
			return "bv", nil
		})
		if err != nil {
			return nil, err
		}

		return "a+" + vb.(string), nil
	})
	require.NoError(t, err)
	require.Equal(t, "a+bv", va)

	dep.Cancel()

	recomputed := false

	_, err = c.GetOrCreate(ctx, "a", memocache.Options{}, func(ctx context.Context) (interface{}, error) {
		recomputed = true

		return "av2", nil
	})
	require.NoError(t, err)
	assert.True(t, recomputed)
}

func TestCoordinator_GetOrCreate_storeClosed(t *testing.T) {
	store := memocache.NewMemory()
	store.Close()

	c := memocache.NewCoordinator(memocache.CoordinatorConfig{Store: store})

	v, err := c.GetOrCreate(context.Background(), "key", memocache.Options{}, unreachable(t))
	assert.Nil(t, v)
	assert.ErrorIs(t, err, memocache.ErrClosed)
}

func TestCoordinator_GetOrCreate_contextCancelled(t *testing.T) {
	c := memocache.NewCoordinator()
	ctx := context.Background()

	started := make(chan struct{})
	release := make(chan struct{})

	go func() {
		_, _ = c.GetOrCreate(ctx, "key", memocache.Options{}, func(ctx context.Context) (interface{}, error) {
			close(started)
			<-release

			return "v1", nil
		})
	}()

	<-started

	waitCtx, cancel := context.WithCancel(ctx)

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := c.GetOrCreate(waitCtx, "key", memocache.Options{}, unreachable(t))
	assert.ErrorIs(t, err, context.Canceled)

	close(release)
}

func TestCoordinator_GetOrCreate_skipRead(t *testing.T) {
	c := memocache.NewCoordinator()
	ctx := context.Background()

	v, err := c.GetOrCreate(ctx, "key", memocache.Options{}, func(ctx context.Context) (interface{}, error) {
		return "v1", nil
	})
	require.NoError(t, err)
	require.Equal(t, "v1", v)

	// Skipping cache read forces a fresh computation replacing the entry.
	v, err = c.GetOrCreate(memocache.WithSkipRead(ctx), "key", memocache.Options{}, func(ctx context.Context) (interface{}, error) {
		return "v2", nil
	})
	require.NoError(t, err)
	require.Equal(t, "v2", v)

	v, err = c.GetOrCreate(ctx, "key", memocache.Options{}, unreachable(t))
	require.NoError(t, err)
	assert.Equal(t, "v2", v)
}

func TestCoordinator_Store(t *testing.T) {
	store := memocache.NewXSyncMap()
	c := memocache.NewCoordinator(memocache.CoordinatorConfig{Store: store})

	assert.Equal(t, memocache.Store(store), c.Store())

	v, err := c.GetOrCreate(context.Background(), "key", memocache.Options{}, func(ctx context.Context) (interface{}, error) {
		return "v1", nil
	})
	require.NoError(t, err)
	require.Equal(t, "v1", v)

	// The produced value is observable through the backend directly.
	v, err = store.Read(context.Background(), "key")
	require.NoError(t, err)
	assert.Equal(t, "v1", v)
}
