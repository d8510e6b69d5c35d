package providers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// analyzeRequest is the wire format of the sentiment service's POST
// /analyze endpoint.
type analyzeRequest struct {
	QueryType string         `json:"query_type"`
	Tickers   []string       `json:"tickers"`
	TimeRange string         `json:"time_range"`
	Options   map[string]any `json:"options,omitempty"`
}

// HTTPProvider fetches payloads from an HTTP JSON sentiment service.
// Timeouts are the provider's responsibility - the orchestrator above it
// applies none.
type HTTPProvider struct {
	name       string
	baseURL    string
	httpClient *http.Client
	log        zerolog.Logger
}

// NewHTTPProvider creates a provider named name against baseURL. A
// non-positive timeout falls back to 30 seconds.
func NewHTTPProvider(name, baseURL string, timeout time.Duration, log zerolog.Logger) *HTTPProvider {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPProvider{
		name:       name,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		log:        log.With().Str("provider", name).Logger(),
	}
}

// Name returns the provider name used in logs and api_metadata.
func (p *HTTPProvider) Name() string {
	return p.name
}

// Fetch posts the query to the service's /analyze endpoint and returns the
// raw JSON response.
func (p *HTTPProvider) Fetch(params Params) (json.RawMessage, error) {
	if params.Reporter != nil {
		params.Reporter.Stage(p.name)
	}

	body, err := json.Marshal(analyzeRequest{
		QueryType: params.QueryType,
		Tickers:   params.Tickers,
		TimeRange: params.TimeRange,
		Options:   params.Options,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	requestURL := p.baseURL + "/analyze"
	req, err := http.NewRequest(http.MethodPost, requestURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		bodyStr := string(payload)
		if len(bodyStr) > 500 {
			bodyStr = bodyStr[:500] + "..."
		}
		p.log.Error().
			Int("status_code", resp.StatusCode).
			Str("response_body", bodyStr).
			Str("url", requestURL).
			Msg("Provider returned non-200 status")
		return nil, fmt.Errorf("provider %s returned status %d", p.name, resp.StatusCode)
	}

	if !json.Valid(payload) {
		return nil, fmt.Errorf("provider %s returned invalid JSON", p.name)
	}

	return payload, nil
}
