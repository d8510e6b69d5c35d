package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sentiq/sentiq/internal/credits"
	"github.com/sentiq/sentiq/internal/fetch"
	"github.com/sentiq/sentiq/internal/progress"
	"github.com/sentiq/sentiq/internal/research"
	"github.com/sentiq/sentiq/internal/ttlpolicy"
)

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "healthy"
	checks := map[string]string{}

	for name, db := range map[string]interface {
		QuickCheck(ctx context.Context) error
	}{
		"credits_db":  s.creditsDB,
		"research_db": s.researchDB,
	} {
		if err := db.QuickCheck(ctx); err != nil {
			status = "degraded"
			checks[name] = err.Error()
		} else {
			checks[name] = "ok"
		}
	}

	if s.orchestrator.Store().HealthCheck() {
		checks["cache"] = "ok"
	} else {
		status = "degraded"
		checks["cache"] = "round-trip failed"
	}

	code := http.StatusOK
	if status != "healthy" {
		code = http.StatusServiceUnavailable
	}

	s.writeJSON(w, code, map[string]any{
		"status":  status,
		"service": "sentiq",
		"checks":  checks,
	})
}

// writeJSON writes a JSON response
func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, code, message string) {
	s.writeJSON(w, status, map[string]any{
		"success": false,
		"error":   code,
		"message": message,
	})
}

// researchDataRequest is the body of POST /api/research/data.
type researchDataRequest struct {
	UserID       string         `json:"user_id"`
	Component    string         `json:"component"`
	QueryType    string         `json:"query_type"`
	Tickers      []string       `json:"tickers"`
	TimeRange    string         `json:"time_range"`
	Options      map[string]any `json:"options,omitempty"`
	ForceRefresh bool           `json:"force_refresh,omitempty"`
}

// handleResearchData handles POST /api/research/data
func (s *Server) handleResearchData(w http.ResponseWriter, r *http.Request) {
	var req researchDataRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "malformed request body")
		return
	}

	if req.UserID == "" || req.QueryType == "" {
		s.writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "user_id and query_type are required")
		return
	}
	if req.Component == "" {
		req.Component = "sentiment"
	}

	resp, err := s.service.GetDataForUser(research.Request{
		UserID:       req.UserID,
		Component:    req.Component,
		QueryType:    req.QueryType,
		Tickers:      req.Tickers,
		TimeRange:    req.TimeRange,
		Options:      req.Options,
		ForceRefresh: req.ForceRefresh,
		// Progress goes onto the event bus so the SSE/WebSocket streams
		// can show the fetch advancing.
		Sink: progress.NewBusSink(s.eventBus),
	})
	if err != nil {
		var insufficient *credits.InsufficientCreditsError
		if errors.As(err, &insufficient) {
			s.writeJSON(w, http.StatusPaymentRequired, map[string]any{
				"success":           false,
				"error":             "INSUFFICIENT_CREDITS",
				"credits_required":  insufficient.Required,
				"credits_available": insufficient.Available,
			})
			return
		}

		var limited *fetch.RateLimitedError
		if errors.As(err, &limited) {
			w.Header().Set("Retry-After",
				strconv.Itoa(int(time.Until(limited.NextAllowedAt).Seconds())+1))
			s.writeJSON(w, http.StatusTooManyRequests, map[string]any{
				"success":         false,
				"error":           "RATE_LIMITED",
				"resource":        limited.Resource,
				"next_allowed_at": limited.NextAllowedAt.UTC().Format(time.RFC3339),
			})
			return
		}

		s.log.Error().Err(err).Str("query_type", req.QueryType).Msg("Research fetch failed")
		s.writeError(w, http.StatusBadGateway, "FETCH_FAILED", err.Error())
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"result":  resp,
	})
}

// handleCreditsBalance handles GET /api/credits/{userID}
func (s *Server) handleCreditsBalance(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	balance, err := s.ledger.GetBalance(userID)
	if err != nil {
		s.log.Error().Err(err).Str("user_id", userID).Msg("Failed to get balance")
		s.writeError(w, http.StatusInternalServerError, "INTERNAL", "failed to read balance")
		return
	}

	s.writeJSON(w, http.StatusOK, balance)
}

// handleCreditsTransactions handles GET /api/credits/{userID}/transactions
func (s *Server) handleCreditsTransactions(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	transactions, err := s.ledger.Transactions(userID, limit)
	if err != nil {
		s.log.Error().Err(err).Str("user_id", userID).Msg("Failed to list transactions")
		s.writeError(w, http.StatusInternalServerError, "INTERNAL", "failed to read transactions")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"user_id":      userID,
		"transactions": transactions,
	})
}

// handleCreditsGrant handles POST /api/credits/{userID}/grant
func (s *Server) handleCreditsGrant(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	var req struct {
		Amount int    `json:"amount"`
		Tier   string `json:"tier"`
		Action string `json:"action"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "malformed request body")
		return
	}
	if req.Amount <= 0 {
		s.writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "amount must be positive")
		return
	}

	tier := ttlpolicy.Tier(req.Tier)
	if tier == "" {
		tier = ttlpolicy.TierFree
	}
	action := req.Action
	if action == "" {
		action = "manual_grant"
	}

	if err := s.ledger.Grant(userID, tier, req.Amount, action); err != nil {
		s.log.Error().Err(err).Str("user_id", userID).Msg("Failed to grant credits")
		s.writeError(w, http.StatusInternalServerError, "INTERNAL", "failed to grant credits")
		return
	}

	balance, err := s.ledger.GetBalance(userID)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "INTERNAL", "failed to read balance")
		return
	}

	s.writeJSON(w, http.StatusOK, balance)
}

// handleCacheStats handles GET /api/cache/stats
func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.orchestrator.Store().GetStats())
}

// handleCacheKeys handles GET /api/cache/keys
func (s *Server) handleCacheKeys(w http.ResponseWriter, r *http.Request) {
	keys := s.orchestrator.Store().Keys()
	s.writeJSON(w, http.StatusOK, map[string]any{
		"count": len(keys),
		"keys":  keys,
	})
}

// handleCacheClear handles POST /api/cache/clear
func (s *Server) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	prefix := r.URL.Query().Get("prefix")

	var removed int
	if prefix == "" {
		removed = s.orchestrator.Store().Clear()
	} else {
		removed = s.orchestrator.Store().ClearByPrefix(prefix)
	}

	s.log.Info().Str("prefix", prefix).Int("removed", removed).Msg("Cache cleared")
	s.writeJSON(w, http.StatusOK, map[string]any{
		"removed": removed,
	})
}

// handleRateLimitInfo handles GET /api/ratelimit/{resource}
func (s *Server) handleRateLimitInfo(w http.ResponseWriter, r *http.Request) {
	resource := chi.URLParam(r, "resource")
	info := s.orchestrator.Limiter().GetInfo(resource)

	if !info.Registered {
		s.writeError(w, http.StatusNotFound, "UNKNOWN_RESOURCE", "no rate limit registered for resource")
		return
	}

	s.writeJSON(w, http.StatusOK, info)
}
