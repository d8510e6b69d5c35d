package research

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/sentiq/sentiq/internal/credits"
	"github.com/sentiq/sentiq/internal/events"
	"github.com/sentiq/sentiq/internal/fetch"
	"github.com/sentiq/sentiq/internal/progress"
	"github.com/sentiq/sentiq/internal/providers"
	"github.com/sentiq/sentiq/internal/sentiment"
	"github.com/sentiq/sentiq/internal/ttlpolicy"
)

// Session lifetimes per tier. Paid tiers keep their research scope (and
// the fetches it paid for) alive longer.
var sessionDurations = map[ttlpolicy.Tier]time.Duration{
	ttlpolicy.TierFree:    30 * time.Minute,
	ttlpolicy.TierPro:     2 * time.Hour,
	ttlpolicy.TierPremium: 4 * time.Hour,
}

// SessionDuration returns the session lifetime for tier. Unknown tiers
// get the free lifetime.
func SessionDuration(tier ttlpolicy.Tier) time.Duration {
	if d, ok := sessionDurations[tier]; ok {
		return d
	}
	return sessionDurations[ttlpolicy.TierFree]
}

// Fetcher produces a payload for a research query. providers.Chain is the
// production implementation.
type Fetcher interface {
	Fetch(p providers.Params) (json.RawMessage, string, error)
}

// Request describes one call to GetDataForUser.
type Request struct {
	UserID       string
	Component    string
	QueryType    string
	Tickers      []string
	TimeRange    string
	ForceRefresh bool
	Options      map[string]any

	// Sink receives progress while a fresh fetch runs. May be nil.
	Sink progress.Sink
}

// Response is the settled outcome of GetDataForUser. CreditsConsumed and
// CreditsRemaining are always populated so clients can reconcile quota
// usage even on degraded responses.
type Response struct {
	Source           fetch.Source    `json:"source"`
	Stale            bool            `json:"stale,omitempty"`
	Data             json.RawMessage `json:"data"`
	APIMetadata      json.RawMessage `json:"api_metadata,omitempty"`
	SessionID        string          `json:"session_id"`
	CreditsConsumed  int             `json:"credits_consumed"`
	CreditsRemaining int             `json:"credits_remaining"`
	FetchDurationMs  int64           `json:"fetch_duration_ms,omitempty"`
	Warning          string          `json:"warning,omitempty"`
}

// Service is the session-scoped, credit-gated cache over the fetch layer.
type Service struct {
	sessions *SessionRepository
	data     *DataRepository
	ledger   *credits.Ledger
	fetcher  Fetcher
	bus      *events.Bus
	log      zerolog.Logger
	clock    func() time.Time
}

// NewService wires the session cache.
func NewService(
	sessions *SessionRepository,
	data *DataRepository,
	ledger *credits.Ledger,
	fetcher Fetcher,
	bus *events.Bus,
	log zerolog.Logger,
) *Service {
	return &Service{
		sessions: sessions,
		data:     data,
		ledger:   ledger,
		fetcher:  fetcher,
		bus:      bus,
		log:      log.With().Str("component", "research").Logger(),
		clock:    time.Now,
	}
}

// SetClock overrides the time source. Used in tests.
func (s *Service) SetClock(clock func() time.Time) {
	s.clock = clock
}

// GetDataForUser returns cached research data for the request, fetching
// and charging for fresh data when the cache cannot serve it.
//
// The credit policy is debit-after-success: the balance is verified before
// the fetch (failing fast with InsufficientCreditsError and zero side
// effects), and the debit plus its ledger row commit atomically only once
// the fetch has succeeded. A failed fetch therefore never costs credits.
func (s *Service) GetDataForUser(req Request) (*Response, error) {
	balance, err := s.ledger.GetBalance(req.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to read credit balance: %w", err)
	}
	tier := balance.Tier

	session, err := s.ensureSession(req.UserID, req.Component, tier)
	if err != nil {
		return nil, err
	}

	if !req.ForceRefresh {
		rec, err := s.data.GetFresh(req.UserID, req.QueryType, req.TimeRange)
		if err != nil {
			return nil, err
		}
		if rec != nil {
			return &Response{
				Source:           fetch.SourceCache,
				Data:             rec.Payload,
				APIMetadata:      rec.APIMetadata,
				SessionID:        session.SessionID,
				CreditsConsumed:  0,
				CreditsRemaining: balance.Remaining,
			}, nil
		}
	}

	cost := credits.Cost(req.QueryType, tier)
	if balance.Remaining < cost {
		return nil, &credits.InsufficientCreditsError{
			Required:  cost,
			Available: balance.Remaining,
		}
	}

	reporter := progress.NewReporter(req.Sink, req.QueryType)
	start := s.clock()
	payload, providerName, fetchErr := s.fetcher.Fetch(providers.Params{
		QueryType:    req.QueryType,
		Tickers:      req.Tickers,
		TimeRange:    req.TimeRange,
		Options:      req.Options,
		ForceRefresh: req.ForceRefresh,
		Reporter:     reporter,
	})
	durationMs := s.clock().Sub(start).Milliseconds()

	if fetchErr != nil {
		s.bus.PublishData(&events.FetchFailedData{
			UserID:    req.UserID,
			QueryType: req.QueryType,
			Error:     fetchErr.Error(),
		})

		// Degrade to a stale record when one exists; the user pays
		// nothing for degraded data.
		stale, lookupErr := s.data.GetAny(req.UserID, req.QueryType, req.TimeRange)
		if lookupErr == nil && stale != nil {
			s.log.Warn().
				Err(fetchErr).
				Str("user_id", req.UserID).
				Str("query_type", req.QueryType).
				Msg("Fetch failed, serving stale research data")
			return &Response{
				Source:           fetch.SourceStale,
				Stale:            true,
				Data:             stale.Payload,
				APIMetadata:      stale.APIMetadata,
				SessionID:        session.SessionID,
				CreditsRemaining: balance.Remaining,
			}, nil
		}
		return nil, fmt.Errorf("upstream fetch failed: %w", fetchErr)
	}

	s.bus.PublishData(&events.FetchCompletedData{
		UserID:     req.UserID,
		QueryType:  req.QueryType,
		Provider:   providerName,
		DurationMs: durationMs,
	})

	remaining, err := s.ledger.Debit(req.UserID, cost, req.QueryType, map[string]any{
		"tickers":    req.Tickers,
		"time_range": req.TimeRange,
		"provider":   providerName,
	})
	if err != nil {
		// A concurrent debit may have drained the balance between the
		// precheck and here. Credit failures always propagate.
		return nil, err
	}
	s.bus.PublishData(&events.CreditsDebitedData{
		UserID:           req.UserID,
		Action:           req.QueryType,
		CreditsUsed:      cost,
		CreditsRemaining: remaining,
	})

	now := s.clock()
	ttl := ttlpolicy.ComputeTTL(req.QueryType, ttlpolicy.Context{
		MarketOpen: ttlpolicy.IsMarketOpen(now),
		Tier:       tier,
	})
	expiresAt := now.Add(ttl)
	// A record must not outlive the session that paid for it.
	if expiresAt.After(session.ExpiresAt) {
		expiresAt = session.ExpiresAt
	}

	rec := &Record{
		UserID:          req.UserID,
		SessionID:       session.SessionID,
		QueryType:       req.QueryType,
		Tickers:         req.Tickers,
		TimeRange:       req.TimeRange,
		Payload:         payload,
		APIMetadata:     buildMetadata(providerName, payload),
		FetchedAt:       now,
		ExpiresAt:       expiresAt,
		FetchDurationMs: durationMs,
		CreditsConsumed: cost,
	}

	resp := &Response{
		Source:           fetch.SourceFresh,
		Data:             payload,
		APIMetadata:      rec.APIMetadata,
		SessionID:        session.SessionID,
		CreditsConsumed:  cost,
		CreditsRemaining: remaining,
		FetchDurationMs:  durationMs,
	}

	if err := s.data.Store(rec); err != nil {
		// The user already paid and has the data; losing the cache row
		// must not fail the request.
		s.log.Error().
			Err(err).
			Str("user_id", req.UserID).
			Str("query_type", req.QueryType).
			Msg("Failed to persist research data")
		resp.Warning = "result could not be cached; a repeat request will fetch again"
	}

	reporter.Complete()
	return resp, nil
}

// ensureSession returns the active session for (user, component),
// creating one when none exists. Overdue sessions are flipped to expired
// first so a new session supersedes rather than overlaps them.
func (s *Service) ensureSession(userID, component string, tier ttlpolicy.Tier) (*Session, error) {
	session, err := s.sessions.GetActive(userID, component)
	if err != nil {
		return nil, err
	}
	if session != nil {
		return session, nil
	}

	expired, err := s.sessions.ExpireStale()
	if err != nil {
		return nil, err
	}
	for i := range expired {
		s.bus.PublishData(&events.SessionExpiredData{
			SessionID: expired[i].SessionID,
			UserID:    expired[i].UserID,
			Component: expired[i].Component,
		})
	}
	if len(expired) > 0 {
		s.log.Debug().Int("expired", len(expired)).Msg("Expired overdue sessions")
	}

	session, err = s.sessions.Create(userID, component, SessionDuration(tier))
	if err != nil {
		return nil, err
	}
	s.bus.PublishData(&events.SessionCreatedData{
		SessionID: session.SessionID,
		UserID:    userID,
		Component: component,
		ExpiresAt: session.ExpiresAt.Unix(),
	})
	return session, nil
}

// buildMetadata assembles the api_metadata blob stored with a record.
func buildMetadata(providerName string, payload json.RawMessage) json.RawMessage {
	meta := map[string]any{"provider": providerName}
	if scores := sentiment.ExtractScores(payload); len(scores) > 0 {
		meta["summary"] = sentiment.Summarize(scores)
	}
	b, _ := json.Marshal(meta)
	return b
}
