package providers

import (
	"encoding/json"
	"time"
)

// PlaceholderProvider terminates a chain with a minimal, clearly marked
// payload so metered callers get a well-formed response instead of an
// error when every real source is down. It never fails and never returns
// empty.
type PlaceholderProvider struct{}

// NewPlaceholderProvider creates the terminal fallback provider.
func NewPlaceholderProvider() *PlaceholderProvider {
	return &PlaceholderProvider{}
}

// Name returns "placeholder".
func (p *PlaceholderProvider) Name() string {
	return "placeholder"
}

// Fetch returns an empty result set marked as placeholder data.
func (p *PlaceholderProvider) Fetch(params Params) (json.RawMessage, error) {
	payload, _ := json.Marshal(map[string]any{
		"query_type":   params.QueryType,
		"tickers":      params.Tickers,
		"time_range":   params.TimeRange,
		"items":        []any{},
		"placeholder":  true,
		"generated_at": time.Now().UTC().Format(time.RFC3339),
	})
	return payload, nil
}
