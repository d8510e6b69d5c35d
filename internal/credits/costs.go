package credits

import "github.com/sentiq/sentiq/internal/ttlpolicy"

// costs maps query types to their credit price per tier. Prices pay for
// the expensive part of a request - the fresh upstream fetch - so cache
// hits are always free.
var costs = map[string]map[ttlpolicy.Tier]int{
	"reddit_tickers": {
		ttlpolicy.TierFree:    1,
		ttlpolicy.TierPro:     1,
		ttlpolicy.TierPremium: 1,
	},
	"news_sentiment": {
		ttlpolicy.TierFree:    1,
		ttlpolicy.TierPro:     1,
		ttlpolicy.TierPremium: 1,
	},
	"combined_sentiment": {
		ttlpolicy.TierFree:    2,
		ttlpolicy.TierPro:     2,
		ttlpolicy.TierPremium: 1,
	},
	"ai_ticker_analysis": {
		ttlpolicy.TierFree:    3,
		ttlpolicy.TierPro:     2,
		ttlpolicy.TierPremium: 2,
	},
}

// defaultCost applies to query types without an explicit price.
const defaultCost = 1

// Cost returns the credit price of a fresh fetch for queryType at tier.
// Unknown tiers pay the free price.
func Cost(queryType string, tier ttlpolicy.Tier) int {
	byTier, ok := costs[queryType]
	if !ok {
		return defaultCost
	}
	if c, ok := byTier[tier]; ok {
		return c
	}
	return byTier[ttlpolicy.TierFree]
}
