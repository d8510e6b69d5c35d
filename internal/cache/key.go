package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// Key builds a deterministic cache key for a query against a data source.
// The same tickers and options always produce the same key regardless of
// order, so callers do not need to canonicalize inputs themselves.
//
// The key has the form "<source>:<16 hex chars>" so ClearByPrefix can drop
// everything cached for one source at once.
func Key(source string, tickers []string, timeRange string, options map[string]any) string {
	sortedTickers := append([]string(nil), tickers...)
	sort.Strings(sortedTickers)

	// json.Marshal sorts map keys, which makes the digest deterministic
	// for the options map as well.
	payload, _ := json.Marshal(struct {
		Tickers   []string       `json:"tickers"`
		TimeRange string         `json:"time_range"`
		Options   map[string]any `json:"options,omitempty"`
	}{sortedTickers, timeRange, options})

	sum := sha256.Sum256(payload)
	return fmt.Sprintf("%s:%s", source, hex.EncodeToString(sum[:])[:16])
}
