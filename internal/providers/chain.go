// Package providers models upstream data sources as an ordered fallback
// chain. Each provider exposes the same narrow fetch contract; the chain
// tries them in sequence until one yields non-empty data, logging every
// attempt's outcome.
package providers

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/sentiq/sentiq/internal/progress"
)

// ErrNoData is returned when every provider in the chain came back empty
// or failed.
var ErrNoData = errors.New("no provider returned data")

// Params describes one fetch request.
type Params struct {
	QueryType string
	Tickers   []string
	TimeRange string
	Options   map[string]any

	// ForceRefresh tells any caching layer between the caller and the
	// chain to bypass its stored copy. Providers themselves ignore it.
	ForceRefresh bool

	// Reporter receives progress while the provider works. May be nil.
	Reporter *progress.Reporter
}

// Provider is a single upstream data source.
type Provider interface {
	Name() string
	// Fetch returns the raw payload for p. An empty payload (nil, "null",
	// "{}" or "[]") means the source had nothing, not that it failed.
	Fetch(p Params) (json.RawMessage, error)
}

// Chain tries providers in registration order.
type Chain struct {
	providers []Provider
	log       zerolog.Logger
}

// NewChain creates a chain over the given providers.
func NewChain(log zerolog.Logger, providers ...Provider) *Chain {
	return &Chain{
		providers: providers,
		log:       log.With().Str("component", "providers").Logger(),
	}
}

// Fetch returns the first non-empty payload along with the name of the
// provider that produced it. When every provider fails or comes back
// empty, the last error (if any) is wrapped under ErrNoData.
func (c *Chain) Fetch(p Params) (json.RawMessage, string, error) {
	var lastErr error

	for _, provider := range c.providers {
		payload, err := provider.Fetch(p)
		if err != nil {
			c.log.Warn().
				Err(err).
				Str("provider", provider.Name()).
				Str("query_type", p.QueryType).
				Msg("Provider fetch failed, trying next")
			lastErr = err
			continue
		}
		if isEmpty(payload) {
			c.log.Debug().
				Str("provider", provider.Name()).
				Str("query_type", p.QueryType).
				Msg("Provider returned no data, trying next")
			continue
		}

		c.log.Debug().
			Str("provider", provider.Name()).
			Str("query_type", p.QueryType).
			Int("bytes", len(payload)).
			Msg("Provider returned data")
		return payload, provider.Name(), nil
	}

	if lastErr != nil {
		return nil, "", fmt.Errorf("%w: %w", ErrNoData, lastErr)
	}
	return nil, "", ErrNoData
}

// isEmpty reports whether a payload carries no usable data.
func isEmpty(payload json.RawMessage) bool {
	trimmed := bytes.TrimSpace(payload)
	switch string(trimmed) {
	case "", "null", "{}", "[]":
		return true
	}
	return false
}
