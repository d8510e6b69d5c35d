package ttlpolicy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestComputeTTLMarketHours(t *testing.T) {
	assert.Equal(t, 900*time.Second, ComputeTTL("insider_trades", Context{MarketOpen: true}))
	assert.Equal(t, 2700*time.Second, ComputeTTL("insider_trades", Context{MarketOpen: false}))
}

func TestComputeTTLTierScaling(t *testing.T) {
	free := ComputeTTL("reddit_sentiment", Context{MarketOpen: true, Tier: TierFree})
	pro := ComputeTTL("reddit_sentiment", Context{MarketOpen: true, Tier: TierPro})
	premium := ComputeTTL("reddit_sentiment", Context{MarketOpen: true, Tier: TierPremium})

	assert.Equal(t, 10*time.Minute, free)
	assert.Equal(t, 7*time.Minute, pro)
	assert.Equal(t, 5*time.Minute, premium)
}

func TestComputeTTLAfterHoursNeverShorter(t *testing.T) {
	for dataType := range baseTTLs {
		open := ComputeTTL(dataType, Context{MarketOpen: true})
		closed := ComputeTTL(dataType, Context{MarketOpen: false})
		assert.GreaterOrEqual(t, closed, open, "data type %s", dataType)
	}
}

func TestComputeTTLFilingDetailsFlat(t *testing.T) {
	open := ComputeTTL("filing_details", Context{MarketOpen: true})
	closed := ComputeTTL("filing_details", Context{MarketOpen: false})
	assert.Equal(t, 24*time.Hour, open)
	assert.Equal(t, open, closed)
}

func TestComputeTTLUnknownTypeUsesDefault(t *testing.T) {
	assert.Equal(t, 30*time.Minute, ComputeTTL("crystal_ball", Context{MarketOpen: true}))
	assert.Equal(t, 30*time.Minute, ComputeTTL("crystal_ball", Context{MarketOpen: false}))
}

func TestComputeTTLUnknownTierScalesLikeFree(t *testing.T) {
	known := ComputeTTL("earnings", Context{MarketOpen: true, Tier: TierFree})
	unknown := ComputeTTL("earnings", Context{MarketOpen: true, Tier: Tier("enterprise")})
	assert.Equal(t, known, unknown)
}

func TestIsMarketOpen(t *testing.T) {
	// 2025-06-02 is a Monday.
	midday := time.Date(2025, 6, 2, 12, 0, 0, 0, exchangeTZ)
	assert.True(t, IsMarketOpen(midday))

	beforeOpen := time.Date(2025, 6, 2, 9, 29, 0, 0, exchangeTZ)
	assert.False(t, IsMarketOpen(beforeOpen))

	atOpen := time.Date(2025, 6, 2, 9, 30, 0, 0, exchangeTZ)
	assert.True(t, IsMarketOpen(atOpen))

	atClose := time.Date(2025, 6, 2, 16, 0, 0, 0, exchangeTZ)
	assert.False(t, IsMarketOpen(atClose))

	saturday := time.Date(2025, 6, 7, 12, 0, 0, 0, exchangeTZ)
	assert.False(t, IsMarketOpen(saturday))
}

func TestIsMarketOpenConvertsTimezone(t *testing.T) {
	// 17:00 UTC on a weekday is 13:00 in New York (EDT).
	utcAfternoon := time.Date(2025, 6, 2, 17, 0, 0, 0, time.UTC)
	assert.True(t, IsMarketOpen(utcAfternoon))

	// 02:00 UTC is the previous evening in New York.
	utcNight := time.Date(2025, 6, 3, 2, 0, 0, 0, time.UTC)
	assert.False(t, IsMarketOpen(utcNight))
}
