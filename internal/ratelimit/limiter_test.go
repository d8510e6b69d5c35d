package ratelimit

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLimiter() (*Limiter, func(d time.Duration)) {
	l := New(zerolog.Nop())
	now := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)
	l.SetClock(func() time.Time { return now })
	return l, func(d time.Duration) { now = now.Add(d) }
}

func TestAllowWithinLimit(t *testing.T) {
	l, _ := newTestLimiter()
	l.Register("sec-insider", 30, time.Minute)

	for i := 0; i < 30; i++ {
		assert.True(t, l.Allow("sec-insider"), "call %d should be allowed", i+1)
	}

	// The 31st call within the window is limited.
	assert.False(t, l.Allow("sec-insider"))

	info := l.GetInfo("sec-insider")
	assert.True(t, info.Limited)
	assert.Equal(t, 0, info.Remaining)
}

func TestWindowSlides(t *testing.T) {
	l, advance := newTestLimiter()
	l.Register("reddit", 2, time.Minute)

	require.True(t, l.Allow("reddit"))
	advance(30 * time.Second)
	require.True(t, l.Allow("reddit"))
	assert.False(t, l.Allow("reddit"))

	// After the first grant ages out, one slot opens.
	advance(31 * time.Second)
	assert.True(t, l.Allow("reddit"))
	assert.False(t, l.Allow("reddit"))
}

func TestDeniedCallDoesNotRecordGrant(t *testing.T) {
	l, advance := newTestLimiter()
	l.Register("news", 1, time.Minute)

	require.True(t, l.Allow("news"))

	// Hammering a full window must not extend it.
	for i := 0; i < 10; i++ {
		assert.False(t, l.Allow("news"))
	}

	advance(61 * time.Second)
	assert.True(t, l.Allow("news"))
}

func TestGetInfoNextAllowedAt(t *testing.T) {
	l, advance := newTestLimiter()
	l.Register("sec", 1, time.Minute)

	start := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)
	require.True(t, l.Allow("sec"))
	advance(10 * time.Second)

	info := l.GetInfo("sec")
	require.True(t, info.Limited)
	assert.Equal(t, start.Add(time.Minute), info.NextAllowedAt)
	assert.Equal(t, start.Add(time.Minute), info.ResetAt)
}

func TestGetInfoDoesNotConsume(t *testing.T) {
	l, _ := newTestLimiter()
	l.Register("sec", 1, time.Minute)

	for i := 0; i < 5; i++ {
		info := l.GetInfo("sec")
		assert.False(t, info.Limited)
		assert.Equal(t, 1, info.Remaining)
	}
	assert.True(t, l.Allow("sec"))
}

func TestUnregisteredResourceNeverLimited(t *testing.T) {
	l, _ := newTestLimiter()

	for i := 0; i < 100; i++ {
		assert.True(t, l.Allow("unknown"))
	}
	info := l.GetInfo("unknown")
	assert.False(t, info.Registered)
	assert.False(t, info.Limited)
}

func TestRegisterReplacesWindow(t *testing.T) {
	l, _ := newTestLimiter()
	l.Register("sec", 1, time.Minute)
	require.True(t, l.Allow("sec"))
	require.False(t, l.Allow("sec"))

	l.Register("sec", 2, time.Minute)
	assert.True(t, l.Allow("sec"))
	assert.True(t, l.Allow("sec"))
	assert.False(t, l.Allow("sec"))
}
