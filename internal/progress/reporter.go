// Package progress provides transport-agnostic progress reporting for
// long-running fetches. Producers write to a Reporter; any transport (SSE,
// WebSocket, a test recorder) subscribes through the Sink interface.
package progress

import (
	"sync"
	"time"

	"github.com/sentiq/sentiq/internal/events"
)

// Event is one progress emission. Progress is 0-100; Current/Total count
// discrete work items when the operation has them. The final emission of
// an operation carries Completed=true.
type Event struct {
	Stage     string `json:"stage"`
	Progress  int    `json:"progress"`
	Current   int    `json:"current,omitempty"`
	Total     int    `json:"total,omitempty"`
	Completed bool   `json:"completed,omitempty"`
}

// Sink receives progress events. Implementations must be safe for
// concurrent use.
type Sink interface {
	Emit(Event)
}

// Throttle interval for intermediate progress events (avoid spam).
const throttleInterval = 100 * time.Millisecond

// Reporter emits throttled progress events to a sink. A nil Reporter or a
// Reporter with a nil sink discards everything, so callers never need to
// guard their reporting.
type Reporter struct {
	sink  Sink
	stage string

	mu         sync.Mutex
	lastReport time.Time
}

// NewReporter creates a reporter for one named operation stage.
func NewReporter(sink Sink, stage string) *Reporter {
	return &Reporter{sink: sink, stage: stage}
}

// Report emits numeric progress. Intermediate reports are throttled.
func (r *Reporter) Report(current, total int) {
	if r == nil || r.sink == nil {
		return
	}

	r.mu.Lock()
	if time.Since(r.lastReport) < throttleInterval {
		r.mu.Unlock()
		return
	}
	r.lastReport = time.Now()
	r.mu.Unlock()

	r.sink.Emit(Event{
		Stage:    r.stage,
		Progress: percent(current, total),
		Current:  current,
		Total:    total,
	})
}

// Stage emits a stage transition. Stage changes always go through, only
// repeated numeric updates are throttled.
func (r *Reporter) Stage(stage string) {
	if r == nil || r.sink == nil {
		return
	}
	r.mu.Lock()
	r.stage = stage
	r.lastReport = time.Now()
	r.mu.Unlock()

	r.sink.Emit(Event{Stage: stage})
}

// Complete emits the terminal event. It is never throttled.
func (r *Reporter) Complete() {
	if r == nil || r.sink == nil {
		return
	}
	r.mu.Lock()
	stage := r.stage
	r.mu.Unlock()

	r.sink.Emit(Event{Stage: stage, Progress: 100, Completed: true})
}

func percent(current, total int) int {
	if total <= 0 {
		return 0
	}
	p := current * 100 / total
	if p > 100 {
		p = 100
	}
	return p
}

// EventType marks progress events as FetchProgress on the system bus.
func (e Event) EventType() events.EventType { return events.FetchProgress }

// BusSink forwards progress events onto the system event bus, where the
// streaming transports pick them up.
type BusSink struct {
	bus *events.Bus
}

// NewBusSink creates a sink publishing to bus.
func NewBusSink(bus *events.Bus) *BusSink {
	return &BusSink{bus: bus}
}

// Emit publishes the event as FetchProgress.
func (s *BusSink) Emit(e Event) {
	s.bus.PublishData(e)
}
