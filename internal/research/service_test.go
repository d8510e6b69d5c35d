package research

import (
	"database/sql"
	"encoding/json"
	"errors"
	"testing"
	"time"

	_ "modernc.org/sqlite"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentiq/sentiq/internal/credits"
	"github.com/sentiq/sentiq/internal/events"
	"github.com/sentiq/sentiq/internal/fetch"
	"github.com/sentiq/sentiq/internal/providers"
	"github.com/sentiq/sentiq/internal/ttlpolicy"
)

const researchSchema = `
CREATE TABLE research_sessions (
	session_id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	component TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'active',
	created_at INTEGER NOT NULL,
	expires_at INTEGER NOT NULL
);
CREATE TABLE sentiment_research_data (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id TEXT NOT NULL,
	session_id TEXT NOT NULL,
	query_type TEXT NOT NULL,
	tickers TEXT NOT NULL,
	time_range TEXT NOT NULL,
	sentiment_data TEXT NOT NULL,
	api_metadata TEXT,
	fetched_at INTEGER NOT NULL,
	expires_at INTEGER NOT NULL,
	fetch_duration_ms INTEGER NOT NULL DEFAULT 0,
	credits_consumed INTEGER NOT NULL DEFAULT 0
);
`

const creditsSchema = `
CREATE TABLE user_credits (
	user_id TEXT PRIMARY KEY,
	tier TEXT NOT NULL DEFAULT 'free',
	credits_remaining INTEGER NOT NULL DEFAULT 0,
	updated_at INTEGER NOT NULL
);
CREATE TABLE credit_transactions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id TEXT NOT NULL,
	action TEXT NOT NULL,
	credits_used INTEGER NOT NULL,
	credits_remaining INTEGER NOT NULL,
	metadata TEXT,
	created_at INTEGER NOT NULL
);
`

// stubFetcher returns a fixed payload or error and counts calls.
type stubFetcher struct {
	payload json.RawMessage
	err     error
	calls   int
}

func (f *stubFetcher) Fetch(providers.Params) (json.RawMessage, string, error) {
	f.calls++
	if f.err != nil {
		return nil, "", f.err
	}
	return f.payload, "stub", nil
}

// testEnv bundles the service with everything a test needs to poke at.
type testEnv struct {
	service   *Service
	sessions  *SessionRepository
	data      *DataRepository
	ledger    *credits.Ledger
	fetcher   *stubFetcher
	bus       *events.Bus
	creditsDB *sql.DB
	clock     func() time.Time
	advance   func(time.Duration)
}

func setupService(t *testing.T) *testEnv {
	researchDB, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { researchDB.Close() })
	_, err = researchDB.Exec(researchSchema)
	require.NoError(t, err)

	creditsDB, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { creditsDB.Close() })
	_, err = creditsDB.Exec(creditsSchema)
	require.NoError(t, err)

	now := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	sessions := NewSessionRepository(researchDB, zerolog.Nop())
	sessions.SetClock(clock)
	data := NewDataRepository(researchDB, zerolog.Nop())
	data.SetClock(clock)
	ledger := credits.NewLedger(creditsDB, zerolog.Nop())
	ledger.SetClock(clock)

	fetcher := &stubFetcher{payload: json.RawMessage(`{"items":[{"ticker":"AAPL","score":0.8}]}`)}

	bus := events.NewBus(zerolog.Nop())
	service := NewService(sessions, data, ledger, fetcher, bus, zerolog.Nop())
	service.SetClock(clock)

	return &testEnv{
		service:   service,
		sessions:  sessions,
		data:      data,
		ledger:    ledger,
		fetcher:   fetcher,
		bus:       bus,
		creditsDB: creditsDB,
		clock:     clock,
		advance:   func(d time.Duration) { now = now.Add(d) },
	}
}

func countTxRows(t *testing.T, db *sql.DB, action string) int {
	var n int
	err := db.QueryRow("SELECT COUNT(*) FROM credit_transactions WHERE action = ?", action).Scan(&n)
	require.NoError(t, err)
	return n
}

func TestFreshFetchDebitsAndPersists(t *testing.T) {
	env := setupService(t)
	require.NoError(t, env.ledger.Grant("42", ttlpolicy.TierFree, 10, "signup_bonus"))

	resp, err := env.service.GetDataForUser(Request{
		UserID:    "42",
		Component: "sentiment",
		QueryType: "reddit_tickers",
		Tickers:   []string{"AAPL"},
		TimeRange: "1w",
	})
	require.NoError(t, err)

	assert.Equal(t, fetch.SourceFresh, resp.Source)
	assert.Equal(t, 1, resp.CreditsConsumed)
	assert.Equal(t, 9, resp.CreditsRemaining)
	assert.NotEmpty(t, resp.SessionID)
	assert.Equal(t, 1, env.fetcher.calls)
	assert.Equal(t, 1, countTxRows(t, env.creditsDB, "reddit_tickers"))

	// The persisted record binds to the session and carries the summary.
	rec, err := env.data.GetFresh("42", "reddit_tickers", "1w")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, resp.SessionID, rec.SessionID)
	assert.Equal(t, 1, rec.CreditsConsumed)
	assert.Contains(t, string(rec.APIMetadata), `"provider":"stub"`)
	assert.Contains(t, string(rec.APIMetadata), `"summary"`)
}

func TestCacheHitCostsNothingAndSkipsFetch(t *testing.T) {
	env := setupService(t)
	require.NoError(t, env.ledger.Grant("42", ttlpolicy.TierFree, 10, "signup_bonus"))

	_, err := env.service.GetDataForUser(Request{
		UserID: "42", Component: "sentiment", QueryType: "reddit_tickers", TimeRange: "1w",
	})
	require.NoError(t, err)

	resp, err := env.service.GetDataForUser(Request{
		UserID: "42", Component: "sentiment", QueryType: "reddit_tickers", TimeRange: "1w",
	})
	require.NoError(t, err)

	assert.Equal(t, fetch.SourceCache, resp.Source)
	assert.Equal(t, 0, resp.CreditsConsumed)
	assert.Equal(t, 9, resp.CreditsRemaining)
	assert.Equal(t, 1, env.fetcher.calls)
}

func TestForceRefreshFetchesAndChargesAgain(t *testing.T) {
	env := setupService(t)
	require.NoError(t, env.ledger.Grant("42", ttlpolicy.TierFree, 10, "signup_bonus"))

	_, err := env.service.GetDataForUser(Request{
		UserID: "42", Component: "sentiment", QueryType: "reddit_tickers", TimeRange: "1w",
	})
	require.NoError(t, err)

	resp, err := env.service.GetDataForUser(Request{
		UserID: "42", Component: "sentiment", QueryType: "reddit_tickers", TimeRange: "1w",
		ForceRefresh: true,
	})
	require.NoError(t, err)

	assert.Equal(t, fetch.SourceFresh, resp.Source)
	assert.Equal(t, 1, resp.CreditsConsumed)
	assert.Equal(t, 2, env.fetcher.calls)
}

func TestInsufficientCreditsNoSideEffects(t *testing.T) {
	env := setupService(t)

	// Seed the balance directly so the ledger holds zero transaction rows.
	_, err := env.creditsDB.Exec(
		"INSERT INTO user_credits (user_id, tier, credits_remaining, updated_at) VALUES ('42', 'free', 2, 0)")
	require.NoError(t, err)

	_, err = env.service.GetDataForUser(Request{
		UserID: "42", Component: "sentiment", QueryType: "ai_ticker_analysis", TimeRange: "1w",
	})

	var ice *credits.InsufficientCreditsError
	require.ErrorAs(t, err, &ice)
	assert.Equal(t, 3, ice.Required)
	assert.Equal(t, 2, ice.Available)

	// No fetch, no debit, no ledger rows.
	assert.Equal(t, 0, env.fetcher.calls)
	var n int
	require.NoError(t, env.creditsDB.QueryRow("SELECT COUNT(*) FROM credit_transactions").Scan(&n))
	assert.Equal(t, 0, n)
}

func TestFetchFailureServesStaleWithoutCharge(t *testing.T) {
	env := setupService(t)
	require.NoError(t, env.ledger.Grant("42", ttlpolicy.TierFree, 10, "signup_bonus"))

	_, err := env.service.GetDataForUser(Request{
		UserID: "42", Component: "sentiment", QueryType: "reddit_tickers", TimeRange: "1w",
	})
	require.NoError(t, err)

	// Push past the record's TTL, then break the upstream.
	env.advance(24 * time.Hour)
	env.fetcher.err = errors.New("provider down")

	resp, err := env.service.GetDataForUser(Request{
		UserID: "42", Component: "sentiment", QueryType: "reddit_tickers", TimeRange: "1w",
	})
	require.NoError(t, err)

	assert.Equal(t, fetch.SourceStale, resp.Source)
	assert.True(t, resp.Stale)
	assert.Equal(t, 0, resp.CreditsConsumed)
	assert.NotEmpty(t, resp.Data)

	// Only the first fetch was charged.
	assert.Equal(t, 1, countTxRows(t, env.creditsDB, "reddit_tickers"))
}

func TestFetchFailureWithoutFallbackPropagates(t *testing.T) {
	env := setupService(t)
	require.NoError(t, env.ledger.Grant("42", ttlpolicy.TierFree, 10, "signup_bonus"))

	upstream := errors.New("provider down")
	env.fetcher.err = upstream

	_, err := env.service.GetDataForUser(Request{
		UserID: "42", Component: "sentiment", QueryType: "reddit_tickers", TimeRange: "1w",
	})
	require.ErrorIs(t, err, upstream)

	// The failed fetch cost nothing.
	assert.Equal(t, 0, countTxRows(t, env.creditsDB, "reddit_tickers"))
}

func TestSessionReusedWithinLifetime(t *testing.T) {
	env := setupService(t)
	require.NoError(t, env.ledger.Grant("42", ttlpolicy.TierFree, 10, "signup_bonus"))

	first, err := env.service.GetDataForUser(Request{
		UserID: "42", Component: "sentiment", QueryType: "reddit_tickers", TimeRange: "1w",
	})
	require.NoError(t, err)

	env.advance(10 * time.Minute)
	second, err := env.service.GetDataForUser(Request{
		UserID: "42", Component: "sentiment", QueryType: "news_sentiment", TimeRange: "1w",
	})
	require.NoError(t, err)

	assert.Equal(t, first.SessionID, second.SessionID)
}

func TestExpiredSessionSuperseded(t *testing.T) {
	env := setupService(t)
	require.NoError(t, env.ledger.Grant("42", ttlpolicy.TierFree, 10, "signup_bonus"))

	first, err := env.service.GetDataForUser(Request{
		UserID: "42", Component: "sentiment", QueryType: "reddit_tickers", TimeRange: "1w",
	})
	require.NoError(t, err)

	// Free-tier sessions last 30 minutes.
	env.advance(31 * time.Minute)

	second, err := env.service.GetDataForUser(Request{
		UserID: "42", Component: "sentiment", QueryType: "reddit_tickers", TimeRange: "1w",
		ForceRefresh: true,
	})
	require.NoError(t, err)
	assert.NotEqual(t, first.SessionID, second.SessionID)

	// The old session row was flipped, not deleted.
	var status string
	row := env.sessions.db.QueryRow(
		"SELECT status FROM research_sessions WHERE session_id = ?", first.SessionID)
	require.NoError(t, row.Scan(&status))
	assert.Equal(t, StatusExpired, status)
}

func TestRecordExpiryCappedAtSessionEnd(t *testing.T) {
	env := setupService(t)
	require.NoError(t, env.ledger.Grant("42", ttlpolicy.TierFree, 10, "signup_bonus"))

	// filing_details carries a 24h TTL, far beyond the 30m free session.
	resp, err := env.service.GetDataForUser(Request{
		UserID: "42", Component: "filings", QueryType: "filing_details", TimeRange: "1d",
	})
	require.NoError(t, err)

	rec, err := env.data.GetFresh("42", "filing_details", "1d")
	require.NoError(t, err)
	require.NotNil(t, rec)

	session, err := env.sessions.GetActive("42", "filings")
	require.NoError(t, err)
	require.NotNil(t, session)
	require.Equal(t, resp.SessionID, session.SessionID)
	assert.Equal(t, session.ExpiresAt.Unix(), rec.ExpiresAt.Unix())
}

func TestFetchLifecycleEventsPublished(t *testing.T) {
	env := setupService(t)
	require.NoError(t, env.ledger.Grant("42", ttlpolicy.TierFree, 10, "signup_bonus"))

	var completed, failed []*events.Event
	env.bus.Subscribe(events.FetchCompleted, func(e *events.Event) { completed = append(completed, e) })
	env.bus.Subscribe(events.FetchFailed, func(e *events.Event) { failed = append(failed, e) })

	_, err := env.service.GetDataForUser(Request{
		UserID: "42", Component: "sentiment", QueryType: "reddit_tickers", TimeRange: "1w",
	})
	require.NoError(t, err)

	require.Len(t, completed, 1)
	done, ok := completed[0].Data.(*events.FetchCompletedData)
	require.True(t, ok)
	assert.Equal(t, "stub", done.Provider)
	assert.Equal(t, "reddit_tickers", done.QueryType)
	assert.Empty(t, failed)

	// A failed refresh settles as FetchFailed even when stale data covers
	// the response.
	env.fetcher.err = errors.New("provider down")
	_, err = env.service.GetDataForUser(Request{
		UserID: "42", Component: "sentiment", QueryType: "reddit_tickers", TimeRange: "1w",
		ForceRefresh: true,
	})
	require.NoError(t, err)

	require.Len(t, failed, 1)
	assert.Len(t, completed, 1)
}

func TestSessionExpiredEventPublished(t *testing.T) {
	env := setupService(t)
	require.NoError(t, env.ledger.Grant("42", ttlpolicy.TierFree, 10, "signup_bonus"))

	first, err := env.service.GetDataForUser(Request{
		UserID: "42", Component: "sentiment", QueryType: "reddit_tickers", TimeRange: "1w",
	})
	require.NoError(t, err)

	var expired []*events.Event
	env.bus.Subscribe(events.SessionExpired, func(e *events.Event) { expired = append(expired, e) })

	env.advance(31 * time.Minute)
	_, err = env.service.GetDataForUser(Request{
		UserID: "42", Component: "sentiment", QueryType: "news_sentiment", TimeRange: "1w",
	})
	require.NoError(t, err)

	require.Len(t, expired, 1)
	gone, ok := expired[0].Data.(*events.SessionExpiredData)
	require.True(t, ok)
	assert.Equal(t, first.SessionID, gone.SessionID)
	assert.Equal(t, "42", gone.UserID)
}

func TestTierAffectsCostAndSessionLength(t *testing.T) {
	env := setupService(t)
	require.NoError(t, env.ledger.Grant("77", ttlpolicy.TierPro, 10, "signup_bonus"))

	resp, err := env.service.GetDataForUser(Request{
		UserID: "77", Component: "sentiment", QueryType: "ai_ticker_analysis", TimeRange: "1w",
	})
	require.NoError(t, err)

	// Pro pays 2 instead of 3.
	assert.Equal(t, 2, resp.CreditsConsumed)

	session, err := env.sessions.GetActive("77", "sentiment")
	require.NoError(t, err)
	require.NotNil(t, session)
	assert.Equal(t, 2*time.Hour, session.ExpiresAt.Sub(session.CreatedAt))
}
