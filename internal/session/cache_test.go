package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/reporoute/internal/repository"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestCache(t *testing.T, clock *fakeClock, metrics *Metrics) *Cache {
	t.Helper()

	c := NewCache(CacheOptions{}, nil, metrics)
	c.now = clock.Now

	return c
}

// countingBuilder returns a BuildFunc that counts invocations.
func countingBuilder(calls *atomic.Int32) BuildFunc {
	return func(context.Context) (*Config, error) {
		n := calls.Add(1)
		return &Config{ID: string(rune('a' + n - 1)), Kind: repository.AuthSharePointOnline}, nil
	}
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()

	var m dto.Metric
	require.NoError(t, c.Write(&m))

	return m.GetCounter().GetValue()
}

func TestCache_HitWithinTTL(t *testing.T) {
	clock := newFakeClock()
	metrics := NewMetrics(nil)
	c := newTestCache(t, clock, metrics)
	key := KeyFor("contoso", "alice", "pw")

	var calls atomic.Int32

	first, err := c.GetOrCreate(context.Background(), key, countingBuilder(&calls))
	require.NoError(t, err)

	clock.Advance(59 * time.Minute)

	second, err := c.GetOrCreate(context.Background(), key, countingBuilder(&calls))
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, clock.Now().Add(-59*time.Minute), first.CreatedAt)
	assert.InDelta(t, 1, counterValue(t, metrics.HitsTotal), 0)
	assert.InDelta(t, 1, counterValue(t, metrics.MissesTotal), 0)
}

func TestCache_RebuildAfterTTL(t *testing.T) {
	clock := newFakeClock()
	metrics := NewMetrics(nil)
	c := newTestCache(t, clock, metrics)
	key := KeyFor("contoso", "alice", "pw")

	var calls atomic.Int32

	first, err := c.GetOrCreate(context.Background(), key, countingBuilder(&calls))
	require.NoError(t, err)

	clock.Advance(time.Hour)

	second, err := c.GetOrCreate(context.Background(), key, countingBuilder(&calls))
	require.NoError(t, err)
	assert.NotSame(t, first, second)
	assert.Equal(t, int32(2), calls.Load(), "exactly one rebuild")

	third, err := c.GetOrCreate(context.Background(), key, countingBuilder(&calls))
	require.NoError(t, err)
	assert.Same(t, second, third)
	assert.Equal(t, int32(2), calls.Load())
	assert.InDelta(t, 1, counterValue(t, metrics.ExpiredTotal), 0)
}

func TestCache_ConcurrentCallersShareOneBuild(t *testing.T) {
	c := newTestCache(t, newFakeClock(), nil)
	key := KeyFor("contoso", "alice", "pw")

	var calls atomic.Int32

	release := make(chan struct{})
	build := func(context.Context) (*Config, error) {
		calls.Add(1)
		<-release

		return &Config{ID: "shared"}, nil
	}

	const callers = 32

	var (
		wg      sync.WaitGroup
		results = make([]*Config, callers)
		started sync.WaitGroup
	)

	started.Add(callers)

	for i := 0; i < callers; i++ {
		i := i

		wg.Add(1)

		go func() {
			defer wg.Done()

			started.Done()

			cfg, err := c.GetOrCreate(context.Background(), key, build)
			assert.NoError(t, err)

			results[i] = cfg
		}()
	}

	started.Wait()
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())

	for _, r := range results {
		assert.Same(t, results[0], r)
	}
}

func TestCache_DistinctKeysBuildInParallel(t *testing.T) {
	c := newTestCache(t, newFakeClock(), nil)

	var inFlight atomic.Int32

	both := make(chan struct{})
	build := func(context.Context) (*Config, error) {
		if inFlight.Add(1) == 2 {
			close(both)
		}

		select {
		case <-both:
			return &Config{}, nil
		case <-time.After(5 * time.Second):
			return nil, errors.New("builds were serialized")
		}
	}

	var wg sync.WaitGroup

	for _, user := range []string{"alice", "bob"} {
		user := user

		wg.Add(1)

		go func() {
			defer wg.Done()

			_, err := c.GetOrCreate(context.Background(), KeyFor("d", user, "pw"), build)
			assert.NoError(t, err)
		}()
	}

	wg.Wait()
	assert.Equal(t, 2, c.Len())
}

func TestCache_Invalidate(t *testing.T) {
	metrics := NewMetrics(nil)
	c := newTestCache(t, newFakeClock(), metrics)
	key := KeyFor("contoso", "alice", "pw")

	var calls atomic.Int32

	first, err := c.GetOrCreate(context.Background(), key, countingBuilder(&calls))
	require.NoError(t, err)

	c.Invalidate(key)
	assert.Equal(t, 0, c.Len())

	second, err := c.GetOrCreate(context.Background(), key, countingBuilder(&calls))
	require.NoError(t, err)
	assert.NotSame(t, first, second)
	assert.Equal(t, int32(2), calls.Load())
	assert.InDelta(t, 1, counterValue(t, metrics.InvalidationsTotal), 0)
}

func TestCache_BuildErrorNotCached(t *testing.T) {
	c := newTestCache(t, newFakeClock(), nil)
	key := KeyFor("contoso", "alice", "pw")
	boom := errors.New("boom")

	_, err := c.GetOrCreate(context.Background(), key, func(context.Context) (*Config, error) {
		return nil, boom
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 0, c.Len())

	var calls atomic.Int32

	_, err = c.GetOrCreate(context.Background(), key, countingBuilder(&calls))
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestCache_CallerTimeoutKeepsBuildResult(t *testing.T) {
	c := newTestCache(t, newFakeClock(), nil)
	key := KeyFor("contoso", "alice", "pw")

	release := make(chan struct{})
	done := make(chan struct{})

	build := func(ctx context.Context) (*Config, error) {
		defer close(done)

		<-release
		// The build context survives the caller's cancellation.
		assert.NoError(t, ctx.Err())

		return &Config{ID: "late"}, nil
	}

	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)

	go func() {
		_, err := c.GetOrCreate(ctx, key, build)
		errCh <- err
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()
	require.ErrorIs(t, <-errCh, context.Canceled)

	close(release)
	<-done

	require.Eventually(t, func() bool { return c.Len() == 1 }, time.Second, 5*time.Millisecond)

	var calls atomic.Int32

	cfg, err := c.GetOrCreate(context.Background(), key, countingBuilder(&calls))
	require.NoError(t, err)
	assert.Equal(t, "late", cfg.ID)
	assert.Equal(t, int32(0), calls.Load())
}

func TestCache_InvalidateDuringBuildJoinsInFlight(t *testing.T) {
	c := newTestCache(t, newFakeClock(), nil)
	key := KeyFor("contoso", "alice", "pw")

	var (
		calls    atomic.Int32
		inFlight atomic.Int32
		maxSeen  atomic.Int32
	)

	entered := make(chan struct{}, 2)
	release := make(chan struct{})

	build := func(context.Context) (*Config, error) {
		calls.Add(1)

		n := inFlight.Add(1)
		defer inFlight.Add(-1)

		if n > maxSeen.Load() {
			maxSeen.Store(n)
		}

		entered <- struct{}{}
		<-release

		return &Config{ID: "fresh"}, nil
	}

	resCh := make(chan *Config, 2)

	get := func() {
		cfg, err := c.GetOrCreate(context.Background(), key, build)
		assert.NoError(t, err)

		resCh <- cfg
	}

	go get()
	<-entered

	c.Invalidate(key)

	go get()
	time.Sleep(20 * time.Millisecond)
	close(release)

	first, second := <-resCh, <-resCh
	assert.Same(t, first, second)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, int32(1), maxSeen.Load())
	assert.Equal(t, 1, c.Len(), "the shared build is cached")
}

func TestCache_ConcurrentRefreshSharesOneBuild(t *testing.T) {
	c := newTestCache(t, newFakeClock(), nil)
	key := KeyFor("contoso", "alice", "pw")

	stale, err := c.GetOrCreate(context.Background(), key, func(context.Context) (*Config, error) {
		return &Config{ID: "rejected"}, nil
	})
	require.NoError(t, err)

	var calls atomic.Int32

	release := make(chan struct{})
	build := func(context.Context) (*Config, error) {
		calls.Add(1)
		<-release

		return &Config{ID: "renewed"}, nil
	}

	const callers = 8

	var wg sync.WaitGroup

	results := make([]*Config, callers)

	for i := 0; i < callers; i++ {
		i := i

		wg.Add(1)

		go func() {
			defer wg.Done()

			cfg, err := c.Refresh(context.Background(), key, stale, build)
			assert.NoError(t, err)

			results[i] = cfg
		}()
	}

	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())

	for _, r := range results {
		require.NotNil(t, r)
		assert.Equal(t, "renewed", r.ID)
	}
}

func TestCache_RefreshKeepsNewerSession(t *testing.T) {
	c := newTestCache(t, newFakeClock(), nil)
	key := KeyFor("contoso", "alice", "pw")

	var calls atomic.Int32

	stale, err := c.GetOrCreate(context.Background(), key, countingBuilder(&calls))
	require.NoError(t, err)

	renewed, err := c.Refresh(context.Background(), key, stale, countingBuilder(&calls))
	require.NoError(t, err)
	assert.NotEqual(t, stale.ID, renewed.ID)

	// A late caller still holding the old session gets the replacement.
	late, err := c.Refresh(context.Background(), key, stale, countingBuilder(&calls))
	require.NoError(t, err)
	assert.Same(t, renewed, late)
	assert.Equal(t, int32(2), calls.Load())

	// Without a stale session the entry is always replaced.
	forced, err := c.Refresh(context.Background(), key, nil, countingBuilder(&calls))
	require.NoError(t, err)
	assert.NotSame(t, renewed, forced)
	assert.Equal(t, int32(3), calls.Load())
}

func TestKeyFor(t *testing.T) {
	assert.Equal(t, KeyFor("a", "b", "c"), KeyFor("a", "b", "c"))
	assert.NotEqual(t, KeyFor("ab", "", "c"), KeyFor("a", "b", "c"))
	assert.NotEqual(t, KeyFor("a", "b", "c"), KeyFor("a", "b", "d"))
	assert.Len(t, string(KeyFor("", "", "")), 64)
	assert.NotContains(t, string(KeyFor("d", "u", "hunter2")), "hunter2")
}
