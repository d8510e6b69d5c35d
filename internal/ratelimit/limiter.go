// Package ratelimit provides per-resource sliding-window admission control.
//
// A resource is coarser than a cache key: one bucket ("sec-insider",
// "reddit") covers every ticker fetched from that upstream, so the window
// reflects aggregate load on the provider rather than per-item traffic.
package ratelimit

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// window holds the grant timestamps for one registered resource.
type window struct {
	limit    int
	duration time.Duration
	grants   []time.Time // ordered, oldest first
}

// Limiter tracks request grants per resource within a trailing time window.
type Limiter struct {
	mu      sync.Mutex
	windows map[string]*window
	clock   func() time.Time
	log     zerolog.Logger
}

// Info describes the current state of a resource's window.
type Info struct {
	Registered    bool      `json:"registered"`
	Limited       bool      `json:"limited"`
	Remaining     int       `json:"remaining"`
	ResetAt       time.Time `json:"reset_at"`
	NextAllowedAt time.Time `json:"next_allowed_at"`
}

// New creates a Limiter with no registered resources.
func New(log zerolog.Logger) *Limiter {
	return &Limiter{
		windows: make(map[string]*window),
		clock:   time.Now,
		log:     log.With().Str("component", "ratelimit").Logger(),
	}
}

// SetClock overrides the time source. Used in tests.
func (l *Limiter) SetClock(clock func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.clock = clock
}

// Register creates (or replaces) the window for a resource.
func (l *Limiter) Register(resource string, limit int, windowDuration time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.windows[resource] = &window{
		limit:    limit,
		duration: windowDuration,
	}
	l.log.Debug().
		Str("resource", resource).
		Int("limit", limit).
		Dur("window", windowDuration).
		Msg("Registered rate limit")
}

// Allow reports whether a request for resource may proceed, recording a
// grant when it may. When the window is full no grant is recorded, so a
// burst of denied requests does not push the reset point further out.
// Unregistered resources are never limited.
func (l *Limiter) Allow(resource string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[resource]
	if !ok {
		return true
	}

	now := l.clock()
	w.trim(now)

	if len(w.grants) >= w.limit {
		l.log.Warn().
			Str("resource", resource).
			Int("limit", w.limit).
			Time("next_allowed_at", w.grants[0].Add(w.duration)).
			Msg("Rate limit reached")
		return false
	}

	w.grants = append(w.grants, now)
	return true
}

// GetInfo returns the state of a resource's window without recording a
// grant.
func (l *Limiter) GetInfo(resource string) Info {
	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[resource]
	if !ok {
		return Info{}
	}

	now := l.clock()
	w.trim(now)

	info := Info{
		Registered: true,
		Remaining:  w.limit - len(w.grants),
	}
	if len(w.grants) > 0 {
		// The window fully resets once the newest grant ages out.
		info.ResetAt = w.grants[len(w.grants)-1].Add(w.duration)
	}
	if len(w.grants) >= w.limit {
		info.Limited = true
		info.Remaining = 0
		// The next slot opens when the oldest grant falls out of the window.
		info.NextAllowedAt = w.grants[0].Add(w.duration)
	}
	return info
}

// Resources returns the names of all registered resources.
func (l *Limiter) Resources() []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	names := make([]string, 0, len(l.windows))
	for name := range l.windows {
		names = append(names, name)
	}
	return names
}

// trim drops grants that have fallen out of the trailing window.
func (w *window) trim(now time.Time) {
	cutoff := now.Add(-w.duration)
	i := 0
	for i < len(w.grants) && !w.grants[i].After(cutoff) {
		i++
	}
	if i > 0 {
		w.grants = append(w.grants[:0], w.grants[i:]...)
	}
}
