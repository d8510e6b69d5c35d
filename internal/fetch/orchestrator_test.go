package fetch

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentiq/sentiq/internal/cache"
	"github.com/sentiq/sentiq/internal/ratelimit"
)

func newTestOrchestrator() *Orchestrator {
	return New(cache.NewStore(), ratelimit.New(zerolog.Nop()), zerolog.Nop())
}

func TestCacheHitSkipsFetch(t *testing.T) {
	o := newTestOrchestrator()

	calls := 0
	fn := func() (any, error) {
		calls++
		return "fetched", nil
	}

	res, err := o.GetOrFetch("k", "r", fn, Options{TTL: time.Minute})
	require.NoError(t, err)
	assert.Equal(t, SourceFresh, res.Source)
	assert.Equal(t, 1, calls)

	res, err = o.GetOrFetch("k", "r", fn, Options{TTL: time.Minute})
	require.NoError(t, err)
	assert.Equal(t, SourceCache, res.Source)
	assert.Equal(t, "fetched", res.Value)
	assert.Equal(t, 1, calls)
}

func TestCacheHitDoesNotConsumeRateLimit(t *testing.T) {
	o := newTestOrchestrator()
	o.Limiter().Register("r", 1, time.Minute)

	fn := func() (any, error) { return "v", nil }

	_, err := o.GetOrFetch("k", "r", fn, Options{TTL: time.Minute})
	require.NoError(t, err)

	// Repeated hits must not touch the window.
	for i := 0; i < 10; i++ {
		res, err := o.GetOrFetch("k", "r", fn, Options{TTL: time.Minute})
		require.NoError(t, err)
		assert.Equal(t, SourceCache, res.Source)
	}

	info := o.Limiter().GetInfo("r")
	assert.False(t, info.Limited)
}

func TestForceRefreshBypassesCache(t *testing.T) {
	o := newTestOrchestrator()

	calls := 0
	fn := func() (any, error) {
		calls++
		return calls, nil
	}

	_, err := o.GetOrFetch("k", "r", fn, Options{TTL: time.Minute})
	require.NoError(t, err)

	res, err := o.GetOrFetch("k", "r", fn, Options{TTL: time.Minute, ForceRefresh: true})
	require.NoError(t, err)
	assert.Equal(t, SourceFresh, res.Source)
	assert.Equal(t, 2, calls)
}

func TestCoalescingSingleFetch(t *testing.T) {
	o := newTestOrchestrator()

	var calls atomic.Int64
	release := make(chan struct{})
	fn := func() (any, error) {
		calls.Add(1)
		<-release
		return "shared", nil
	}

	const waiters = 20
	results := make([]*Result, waiters)
	errs := make([]error, waiters)
	var wg sync.WaitGroup
	for i := 0; i < waiters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = o.GetOrFetch("k", "r", fn, Options{TTL: time.Minute})
		}(i)
	}

	// Let the goroutines pile onto the pending call before releasing it.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int64(1), calls.Load())
	for i, res := range results {
		require.NoError(t, errs[i])
		assert.Equal(t, "shared", res.Value)
	}
}

func TestCoalescedWaitersShareError(t *testing.T) {
	o := newTestOrchestrator()

	upstream := errors.New("upstream exploded")
	release := make(chan struct{})
	fn := func() (any, error) {
		<-release
		return nil, upstream
	}

	const waiters = 5
	errs := make([]error, waiters)
	var wg sync.WaitGroup
	for i := 0; i < waiters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = o.GetOrFetch("k", "r", fn, Options{TTL: time.Minute})
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	for _, err := range errs {
		assert.ErrorIs(t, err, upstream)
	}
}

func TestPendingClearedAfterFailure(t *testing.T) {
	o := newTestOrchestrator()

	_, err := o.GetOrFetch("k", "r", func() (any, error) {
		return nil, errors.New("boom")
	}, Options{TTL: time.Minute})
	require.Error(t, err)
	assert.Equal(t, 0, o.InFlight())

	// A later call runs a fresh fetch rather than joining a dead one.
	res, err := o.GetOrFetch("k", "r", func() (any, error) {
		return "recovered", nil
	}, Options{TTL: time.Minute})
	require.NoError(t, err)
	assert.Equal(t, "recovered", res.Value)
}

func TestStaleFallbackOnFetchFailure(t *testing.T) {
	o := newTestOrchestrator()
	clock := time.Now()
	o.Store().SetClock(func() time.Time { return clock })

	_, err := o.GetOrFetch("k", "r", func() (any, error) {
		return "old", nil
	}, Options{TTL: time.Second})
	require.NoError(t, err)

	// Entry is now logically expired but still present.
	clock = clock.Add(2 * time.Second)

	res, err := o.GetOrFetch("k", "r", func() (any, error) {
		return nil, errors.New("provider down")
	}, Options{TTL: time.Second})
	require.NoError(t, err)
	assert.Equal(t, SourceStale, res.Source)
	assert.True(t, res.Stale)
	assert.Equal(t, "old", res.Value)
}

func TestFirstMissPropagatesError(t *testing.T) {
	o := newTestOrchestrator()

	upstream := errors.New("no fallback")
	_, err := o.GetOrFetch("never-cached", "r", func() (any, error) {
		return nil, upstream
	}, Options{TTL: time.Minute})
	assert.ErrorIs(t, err, upstream)
}

func TestRateLimitedServesStale(t *testing.T) {
	o := newTestOrchestrator()
	o.Limiter().Register("r", 1, time.Minute)

	_, err := o.GetOrFetch("k", "r", func() (any, error) {
		return "cached", nil
	}, Options{TTL: time.Minute})
	require.NoError(t, err)

	// Window exhausted; ForceRefresh pushes past the cache hit.
	res, err := o.GetOrFetch("k", "r", func() (any, error) {
		t.Fatal("fetch must not run while limited")
		return nil, nil
	}, Options{TTL: time.Minute, ForceRefresh: true})
	require.NoError(t, err)
	assert.Equal(t, SourceStale, res.Source)
	assert.Equal(t, "cached", res.Value)
}

func TestRateLimitedWithoutFallbackFails(t *testing.T) {
	o := newTestOrchestrator()
	o.Limiter().Register("r", 1, time.Minute)

	_, err := o.GetOrFetch("a", "r", func() (any, error) {
		return "v", nil
	}, Options{TTL: time.Minute})
	require.NoError(t, err)

	// Different key, same exhausted resource, nothing cached.
	_, err = o.GetOrFetch("b", "r", func() (any, error) {
		return "v", nil
	}, Options{TTL: time.Minute})

	var rle *RateLimitedError
	require.ErrorAs(t, err, &rle)
	assert.Equal(t, "r", rle.Resource)
	assert.False(t, rle.NextAllowedAt.IsZero())
}
