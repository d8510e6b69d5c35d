package research

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/sentiq/sentiq/internal/cache"
	"github.com/sentiq/sentiq/internal/fetch"
	"github.com/sentiq/sentiq/internal/providers"
	"github.com/sentiq/sentiq/internal/ttlpolicy"
)

// fetchedPayload is what the orchestrator caches for a query: the payload
// plus the provider that produced it, so cache hits can still attribute
// their source.
type fetchedPayload struct {
	Payload  json.RawMessage
	Provider string
}

// OrchestratedFetcher routes upstream fetches through the fetch
// orchestrator so concurrent identical queries coalesce, responses are
// cached in memory, and the shared API rate limit is enforced.
type OrchestratedFetcher struct {
	inner    Fetcher
	orch     *fetch.Orchestrator
	resource string
	clock    func() time.Time
}

// NewOrchestratedFetcher wraps inner with the orchestrator. resource names
// the rate-limit bucket every query draws from.
func NewOrchestratedFetcher(inner Fetcher, orch *fetch.Orchestrator, resource string) *OrchestratedFetcher {
	return &OrchestratedFetcher{
		inner:    inner,
		orch:     orch,
		resource: resource,
		clock:    time.Now,
	}
}

// Fetch implements Fetcher.
func (f *OrchestratedFetcher) Fetch(p providers.Params) (json.RawMessage, string, error) {
	key := cache.Key(p.QueryType, p.Tickers, p.TimeRange, p.Options)

	// The in-memory layer is shared across tiers, so the shortest tier
	// TTL applies; per-user records get their own tier-scaled expiry.
	ttl := ttlpolicy.ComputeTTL(p.QueryType, ttlpolicy.Context{
		MarketOpen: ttlpolicy.IsMarketOpen(f.clock()),
		Tier:       ttlpolicy.TierPremium,
	})

	result, err := f.orch.GetOrFetch(key, f.resource, func() (any, error) {
		payload, provider, err := f.inner.Fetch(p)
		if err != nil {
			return nil, err
		}
		return fetchedPayload{Payload: payload, Provider: provider}, nil
	}, fetch.Options{TTL: ttl, ForceRefresh: p.ForceRefresh})
	if err != nil {
		return nil, "", err
	}

	fp, ok := result.Value.(fetchedPayload)
	if !ok {
		return nil, "", fmt.Errorf("unexpected cache value type %T for %s", result.Value, key)
	}
	return fp.Payload, fp.Provider, nil
}
