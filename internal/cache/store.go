// Package cache provides an in-memory TTL cache for external API responses.
// Entries are evicted lazily on access; a periodic sweep removes anything
// that expired without ever being read again.
package cache

import (
	"strings"
	"sync"
	"time"
)

type entry struct {
	value     any
	expiresAt time.Time
}

// Store is a mutex-guarded key→value map with per-entry expiry.
type Store struct {
	mu      sync.Mutex
	entries map[string]entry
	clock   func() time.Time

	hits   uint64
	misses uint64
}

// NewStore creates an empty cache store.
func NewStore() *Store {
	return &Store{
		entries: make(map[string]entry),
		clock:   time.Now,
	}
}

// SetClock overrides the time source. Used in tests.
func (s *Store) SetClock(clock func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clock = clock
}

// Get returns the value for key if present and unexpired.
// An expired entry is treated as absent and removed on access.
func (s *Store) Get(key string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		s.misses++
		return nil, false
	}
	if s.clock().After(e.expiresAt) {
		delete(s.entries, key)
		s.misses++
		return nil, false
	}
	s.hits++
	return e.value, true
}

// Peek returns the value for key regardless of expiration, without
// evicting or touching hit/miss counters. fresh reports whether the entry
// is still within its TTL. Callers use this for stale-on-error fallback,
// where an expired value is better than no value.
func (s *Store) Peek(key string) (value any, fresh bool, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, found := s.entries[key]
	if !found {
		return nil, false, false
	}
	return e.value, !s.clock().After(e.expiresAt), true
}

// Set stores value under key with the given TTL.
func (s *Store) Set(key string, value any, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[key] = entry{
		value:     value,
		expiresAt: s.clock().Add(ttl),
	}
}

// Has reports whether key holds an unexpired value.
// Like Get, an expired entry is removed on access.
func (s *Store) Has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return false
	}
	if s.clock().After(e.expiresAt) {
		delete(s.entries, key)
		return false
	}
	return true
}

// Delete removes key. Returns true if an entry was present.
func (s *Store) Delete(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.entries[key]
	delete(s.entries, key)
	return ok
}

// ClearByPrefix removes all entries whose key starts with prefix.
// Returns the number of entries removed.
func (s *Store) ClearByPrefix(prefix string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for k := range s.entries {
		if strings.HasPrefix(k, prefix) {
			delete(s.entries, k)
			removed++
		}
	}
	return removed
}

// Clear removes every entry. Returns the number of entries removed.
func (s *Store) Clear() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := len(s.entries)
	s.entries = make(map[string]entry)
	return removed
}

// Keys returns the keys of all unexpired entries.
func (s *Store) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	keys := make([]string, 0, len(s.entries))
	for k, e := range s.entries {
		if !now.After(e.expiresAt) {
			keys = append(keys, k)
		}
	}
	return keys
}

// Sweep removes all expired entries and returns the number removed.
// Scheduled periodically so entries that are never read again do not
// accumulate.
func (s *Store) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	removed := 0
	for k, e := range s.entries {
		if now.After(e.expiresAt) {
			delete(s.entries, k)
			removed++
		}
	}
	return removed
}

// Len returns the number of entries currently held, expired or not.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Stats describes cache usage.
type Stats struct {
	Entries int     `json:"entries"`
	Expired int     `json:"expired"`
	Hits    uint64  `json:"hits"`
	Misses  uint64  `json:"misses"`
	HitRate float64 `json:"hit_rate"`
}

// GetStats returns a snapshot of cache statistics.
func (s *Store) GetStats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	expired := 0
	for _, e := range s.entries {
		if now.After(e.expiresAt) {
			expired++
		}
	}

	stats := Stats{
		Entries: len(s.entries),
		Expired: expired,
		Hits:    s.hits,
		Misses:  s.misses,
	}
	if total := s.hits + s.misses; total > 0 {
		stats.HitRate = float64(s.hits) / float64(total)
	}
	return stats
}

// HealthCheck performs a set/get/delete round-trip to verify the store
// is operational.
func (s *Store) HealthCheck() bool {
	const probe = "health:check"
	s.Set(probe, true, time.Minute)
	v, ok := s.Get(probe)
	s.Delete(probe)
	b, isBool := v.(bool)
	return ok && isBool && b
}
