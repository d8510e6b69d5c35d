// Package ttlpolicy computes adaptive cache lifetimes from business
// context: what kind of data is cached, whether US markets are open, and
// the requesting user's subscription tier.
package ttlpolicy

import "time"

// Tier is a user's subscription level.
type Tier string

const (
	TierFree    Tier = "free"
	TierPro     Tier = "pro"
	TierPremium Tier = "premium"
)

// basePair holds the TTL for a data type during and outside market hours.
// Filings and trades change less when markets are closed, so the
// after-hours TTL is always at least the market-hours TTL.
type basePair struct {
	open   time.Duration
	closed time.Duration
}

var baseTTLs = map[string]basePair{
	"reddit_sentiment": {10 * time.Minute, 30 * time.Minute},
	"news_sentiment":   {10 * time.Minute, 30 * time.Minute},
	"insider_trades":   {15 * time.Minute, 45 * time.Minute},
	"earnings":         {30 * time.Minute, time.Hour},
	"sec_filings":      {30 * time.Minute, 90 * time.Minute},
	"analyst_ratings":  {time.Hour, 3 * time.Hour},

	// Filings are immutable once published; market state is irrelevant.
	"filing_details": {24 * time.Hour, 24 * time.Hour},
}

// defaultTTL applies to unknown data types.
const defaultTTL = 30 * time.Minute

// Paid tiers get fresher data: their cached values expire sooner.
var tierMultipliers = map[Tier]float64{
	TierFree:    1.0,
	TierPro:     0.7,
	TierPremium: 0.5,
}

// minTTL keeps tier scaling from producing churn-inducing lifetimes.
const minTTL = time.Minute

// Context carries the inputs the policy depends on.
type Context struct {
	MarketOpen bool
	Tier       Tier
}

// ComputeTTL returns the cache lifetime for dataType under ctx.
// An unknown tier scales like free.
func ComputeTTL(dataType string, ctx Context) time.Duration {
	pair, ok := baseTTLs[dataType]
	if !ok {
		pair = basePair{defaultTTL, defaultTTL}
	}

	ttl := pair.closed
	if ctx.MarketOpen {
		ttl = pair.open
	}

	multiplier, ok := tierMultipliers[ctx.Tier]
	if !ok {
		multiplier = 1.0
	}

	scaled := time.Duration(float64(ttl) * multiplier)
	if scaled < minTTL {
		scaled = minTTL
	}
	return scaled
}
