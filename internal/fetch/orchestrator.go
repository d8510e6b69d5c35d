// Package fetch composes the TTL cache, the sliding-window rate limiter
// and per-key request coalescing into a single get-or-fetch contract.
//
// Every data-type service goes through GetOrFetch instead of calling its
// upstream directly, which gives all of them the same behavior: cache
// first, admission control per resource, one in-flight fetch per key, and
// stale data over hard failure whenever possible.
package fetch

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/sentiq/sentiq/internal/cache"
	"github.com/sentiq/sentiq/internal/ratelimit"
)

// Source identifies where a result came from.
type Source string

const (
	// SourceCache means the value was served fresh from the cache.
	SourceCache Source = "cache"
	// SourceFresh means the value came from a completed upstream fetch.
	SourceFresh Source = "fresh"
	// SourceStale means a logically expired cached value was served
	// because a fresh fetch was throttled or failed.
	SourceStale Source = "stale"
)

// FetchFunc performs the actual upstream call. It is responsible for its
// own timeout; the orchestrator applies none.
type FetchFunc func() (any, error)

// Options controls a single GetOrFetch call.
type Options struct {
	TTL          time.Duration
	ForceRefresh bool
}

// Result is a settled fetch outcome.
type Result struct {
	Value  any    `json:"value"`
	Source Source `json:"source"`
	Stale  bool   `json:"stale"`
}

// call is one in-flight fetch shared by all concurrent callers of a key.
type call struct {
	wg     sync.WaitGroup
	result *Result
	err    error
}

// Orchestrator owns the cache, limiter and pending-call map as explicit
// state so independent instances can exist per process or per test.
type Orchestrator struct {
	store   *cache.Store
	limiter *ratelimit.Limiter

	mu      sync.Mutex
	pending map[string]*call

	log zerolog.Logger
}

// New creates an orchestrator around the given cache store and limiter.
func New(store *cache.Store, limiter *ratelimit.Limiter, log zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		store:   store,
		limiter: limiter,
		pending: make(map[string]*call),
		log:     log.With().Str("component", "fetch").Logger(),
	}
}

// Store returns the underlying cache store.
func (o *Orchestrator) Store() *cache.Store {
	return o.store
}

// Limiter returns the underlying rate limiter.
func (o *Orchestrator) Limiter() *ratelimit.Limiter {
	return o.limiter
}

// GetOrFetch returns the cached value for key, or executes fn to produce
// one. resource names the rate-limit bucket the fetch counts against.
//
// Behavior, in order:
//  1. Unless ForceRefresh, a fresh cache entry is returned as-is. A cache
//     hit never touches the limiter.
//  2. If the resource is limited, a still-present (possibly expired) cached
//     value is served stale; with no fallback a RateLimitedError is
//     returned.
//  3. Concurrent callers for the same key share one fn execution and
//     observe the same settled result or error.
//  4. On fetch failure a cached value is again preferred over the error;
//     only the very first fetch for a key can surface the raw error.
func (o *Orchestrator) GetOrFetch(key, resource string, fn FetchFunc, opts Options) (*Result, error) {
	if !opts.ForceRefresh {
		if v, fresh, ok := o.store.Peek(key); ok && fresh {
			return &Result{Value: v, Source: SourceCache}, nil
		}
	}

	// Admission control happens before coalescing, so every caller that
	// attempts a fetch consumes a window slot - the window measures
	// demand on the upstream, not completed requests.
	if !o.limiter.Allow(resource) {
		if v, _, ok := o.store.Peek(key); ok {
			o.log.Warn().
				Str("key", key).
				Str("resource", resource).
				Msg("Rate limited, serving stale cached value")
			return &Result{Value: v, Source: SourceStale, Stale: true}, nil
		}
		return nil, &RateLimitedError{
			Resource:      resource,
			NextAllowedAt: o.limiter.GetInfo(resource).NextAllowedAt,
		}
	}

	o.mu.Lock()
	if c, ok := o.pending[key]; ok {
		o.mu.Unlock()
		c.wg.Wait()
		return c.result, c.err
	}

	c := &call{}
	c.wg.Add(1)
	o.pending[key] = c
	o.mu.Unlock()

	c.result, c.err = o.execute(key, fn, opts.TTL)

	o.mu.Lock()
	delete(o.pending, key)
	o.mu.Unlock()
	c.wg.Done()

	return c.result, c.err
}

// execute runs the fetch and settles the outcome, falling back to a stale
// cached value when the upstream fails.
func (o *Orchestrator) execute(key string, fn FetchFunc, ttl time.Duration) (*Result, error) {
	value, err := fn()
	if err != nil {
		if v, _, ok := o.store.Peek(key); ok {
			o.log.Warn().
				Err(err).
				Str("key", key).
				Msg("Fetch failed, serving stale cached value")
			return &Result{Value: v, Source: SourceStale, Stale: true}, nil
		}
		o.log.Error().Err(err).Str("key", key).Msg("Fetch failed with no cached fallback")
		return nil, err
	}

	o.store.Set(key, value, ttl)
	return &Result{Value: value, Source: SourceFresh}, nil
}

// InFlight returns the number of keys with an active fetch. Used by the
// stats endpoint.
func (o *Orchestrator) InFlight() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.pending)
}
