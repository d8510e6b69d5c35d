package research

import (
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentiq/sentiq/internal/cache"
	"github.com/sentiq/sentiq/internal/events"
	"github.com/sentiq/sentiq/internal/fetch"
	"github.com/sentiq/sentiq/internal/providers"
	"github.com/sentiq/sentiq/internal/ratelimit"
	"github.com/sentiq/sentiq/internal/ttlpolicy"
)

func TestOrchestratedFetcherCachesUpstreamCalls(t *testing.T) {
	stub := &stubFetcher{payload: json.RawMessage(`{"items":[]}`)}
	orch := fetch.New(cache.NewStore(), ratelimit.New(zerolog.Nop()), zerolog.Nop())
	f := NewOrchestratedFetcher(stub, orch, "sentiment_api")

	p := providers.Params{QueryType: "reddit_tickers", Tickers: []string{"AAPL"}, TimeRange: "1w"}

	payload, provider, err := f.Fetch(p)
	require.NoError(t, err)
	assert.JSONEq(t, `{"items":[]}`, string(payload))
	assert.Equal(t, "stub", provider)
	assert.Equal(t, 1, stub.calls)

	// Identical query is served from the memory cache with provider
	// attribution intact.
	payload, provider, err = f.Fetch(p)
	require.NoError(t, err)
	assert.JSONEq(t, `{"items":[]}`, string(payload))
	assert.Equal(t, "stub", provider)
	assert.Equal(t, 1, stub.calls)

	// Different tickers miss the cache.
	_, _, err = f.Fetch(providers.Params{QueryType: "reddit_tickers", Tickers: []string{"TSLA"}, TimeRange: "1w"})
	require.NoError(t, err)
	assert.Equal(t, 2, stub.calls)
}

func TestOrchestratedFetcherForceRefreshReachesUpstream(t *testing.T) {
	stub := &stubFetcher{payload: json.RawMessage(`{"items":[]}`)}
	orch := fetch.New(cache.NewStore(), ratelimit.New(zerolog.Nop()), zerolog.Nop())
	f := NewOrchestratedFetcher(stub, orch, "sentiment_api")

	p := providers.Params{QueryType: "reddit_tickers", Tickers: []string{"AAPL"}, TimeRange: "1w"}
	_, _, err := f.Fetch(p)
	require.NoError(t, err)
	require.Equal(t, 1, stub.calls)

	p.ForceRefresh = true
	_, _, err = f.Fetch(p)
	require.NoError(t, err)
	assert.Equal(t, 2, stub.calls)
}

func TestForceRefreshChargesOnlyForRealUpstreamCalls(t *testing.T) {
	env := setupService(t)
	require.NoError(t, env.ledger.Grant("42", ttlpolicy.TierFree, 10, "signup_bonus"))

	orch := fetch.New(cache.NewStore(), ratelimit.New(zerolog.Nop()), zerolog.Nop())
	svc := NewService(env.sessions, env.data, env.ledger,
		NewOrchestratedFetcher(env.fetcher, orch, "sentiment_api"),
		events.NewBus(zerolog.Nop()), zerolog.Nop())
	svc.SetClock(env.clock)

	_, err := svc.GetDataForUser(Request{
		UserID: "42", Component: "sentiment", QueryType: "reddit_tickers", TimeRange: "1w",
	})
	require.NoError(t, err)
	require.Equal(t, 1, env.fetcher.calls)

	// A paid force-refresh must bypass the shared memory layer and reach
	// the upstream it is charging for.
	resp, err := svc.GetDataForUser(Request{
		UserID: "42", Component: "sentiment", QueryType: "reddit_tickers", TimeRange: "1w",
		ForceRefresh: true,
	})
	require.NoError(t, err)
	assert.Equal(t, fetch.SourceFresh, resp.Source)
	assert.Equal(t, 1, resp.CreditsConsumed)
	assert.Equal(t, 2, env.fetcher.calls)
}
