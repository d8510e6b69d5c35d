// Package events provides the in-process publish/subscribe bus that
// decouples long-running operations from the transports observing them.
package events

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// EventType identifies a class of system event.
type EventType string

const (
	FetchProgress   EventType = "FetchProgress"
	FetchCompleted  EventType = "FetchCompleted"
	FetchFailed     EventType = "FetchFailed"
	SessionCreated  EventType = "SessionCreated"
	SessionExpired  EventType = "SessionExpired"
	CreditsDebited  EventType = "CreditsDebited"
	CacheSwept      EventType = "CacheSwept"
	BackupCompleted EventType = "BackupCompleted"
)

// Event is a published occurrence with its payload.
type Event struct {
	Type      EventType `json:"type"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// Handler receives published events. Handlers run synchronously on the
// publisher's goroutine and must not block; transports buffer internally.
type Handler func(*Event)

// Bus fans events out to subscribed handlers.
type Bus struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
	log      zerolog.Logger
}

// NewBus creates an empty event bus.
func NewBus(log zerolog.Logger) *Bus {
	return &Bus{
		handlers: make(map[EventType][]Handler),
		log:      log.With().Str("component", "events").Logger(),
	}
}

// Subscribe registers a handler for one event type.
func (b *Bus) Subscribe(t EventType, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[t] = append(b.handlers[t], h)
}

// PublishData publishes a typed payload under the event type it declares,
// so a payload can never travel under the wrong type.
func (b *Bus) PublishData(d EventData) {
	b.Publish(d.EventType(), d)
}

// Publish delivers an event to every handler subscribed to its type.
func (b *Bus) Publish(t EventType, data any) {
	event := &Event{Type: t, Data: data, Timestamp: time.Now()}

	b.mu.RLock()
	handlers := b.handlers[t]
	b.mu.RUnlock()

	for _, h := range handlers {
		h(event)
	}

	b.log.Trace().Str("event_type", string(t)).Int("handlers", len(handlers)).Msg("Published event")
}
