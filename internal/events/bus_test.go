package events

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishDeliversToSubscribers(t *testing.T) {
	bus := NewBus(zerolog.Nop())

	var got []*Event
	bus.Subscribe(SessionCreated, func(e *Event) { got = append(got, e) })
	bus.Subscribe(SessionCreated, func(e *Event) { got = append(got, e) })

	data := &SessionCreatedData{SessionID: "s1", UserID: "u1", Component: "sentiment"}
	bus.Publish(SessionCreated, data)

	require.Len(t, got, 2)
	assert.Equal(t, SessionCreated, got[0].Type)
	assert.Equal(t, data, got[0].Data)
	assert.False(t, got[0].Timestamp.IsZero())
}

func TestPublishIgnoresOtherTypes(t *testing.T) {
	bus := NewBus(zerolog.Nop())

	calls := 0
	bus.Subscribe(CacheSwept, func(*Event) { calls++ })

	bus.Publish(SessionCreated, &SessionCreatedData{SessionID: "s1"})
	assert.Equal(t, 0, calls)

	bus.Publish(CacheSwept, &CacheSweptData{Removed: 3})
	assert.Equal(t, 1, calls)
}

func TestPublishDataRoutesByPayloadType(t *testing.T) {
	bus := NewBus(zerolog.Nop())

	var got *Event
	bus.Subscribe(FetchFailed, func(e *Event) { got = e })

	bus.PublishData(&FetchFailedData{UserID: "u1", QueryType: "news_sentiment", Error: "down"})

	require.NotNil(t, got)
	assert.Equal(t, FetchFailed, got.Type)
	data, ok := got.Data.(*FetchFailedData)
	require.True(t, ok)
	assert.Equal(t, "u1", data.UserID)
}

func TestPublishWithNoSubscribers(t *testing.T) {
	bus := NewBus(zerolog.Nop())
	// Must not panic.
	bus.Publish(FetchProgress, nil)
}
