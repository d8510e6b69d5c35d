package cache

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// snapshotEntry is the on-disk form of a cache entry.
type snapshotEntry struct {
	Value     any   `msgpack:"value"`
	ExpiresAt int64 `msgpack:"expires_at"` // unix seconds
}

// WriteSnapshot persists all unexpired entries to path so the cache can be
// warmed on the next start. The file is written atomically via a temp file
// in the same directory.
func (s *Store) WriteSnapshot(path string) error {
	s.mu.Lock()
	now := s.clock()
	out := make(map[string]snapshotEntry, len(s.entries))
	for k, e := range s.entries {
		if now.After(e.expiresAt) {
			continue
		}
		out[k] = snapshotEntry{Value: e.value, ExpiresAt: e.expiresAt.Unix()}
	}
	s.mu.Unlock()

	data, err := msgpack.Marshal(out)
	if err != nil {
		return fmt.Errorf("failed to encode cache snapshot: %w", err)
	}

	tmp := filepath.Join(filepath.Dir(path), "."+filepath.Base(path)+".tmp")
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write cache snapshot: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to finalize cache snapshot: %w", err)
	}
	return nil
}

// LoadSnapshot restores entries from a snapshot file, skipping anything
// that expired since it was written. Returns the number of entries loaded.
// A missing file is not an error - there is simply nothing to warm from.
func (s *Store) LoadSnapshot(path string) (int, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read cache snapshot: %w", err)
	}

	var in map[string]snapshotEntry
	if err := msgpack.Unmarshal(data, &in); err != nil {
		return 0, fmt.Errorf("failed to decode cache snapshot: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	loaded := 0
	for k, e := range in {
		expiresAt := time.Unix(e.ExpiresAt, 0)
		if now.After(expiresAt) {
			continue
		}
		s.entries[k] = entry{value: e.Value, expiresAt: expiresAt}
		loaded++
	}
	return loaded, nil
}
