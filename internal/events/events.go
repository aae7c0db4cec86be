// Package events provides the in-process availability-changed event stream
// consumed by the matching dispatcher and, optionally, external sinks.
package events

import (
	"encoding/json"
	"sync"
	"time"
)

// Cause says why capacity on a resource changed.
type Cause string

const (
	CauseCancelled     Cause = "CANCELLED"
	CauseModified      Cause = "MODIFIED"
	CauseCapacityAdded Cause = "CAPACITY_ADDED"
)

// AvailabilityChanged announces that an interval on a resource was freed.
type AvailabilityChanged struct {
	TenantID   string    `json:"tenant_id"`
	ResourceID string    `json:"resource_id"`
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
	Cause      Cause     `json:"cause"`
	At         time.Time `json:"at"`
}

// Handler reacts to an availability change.
type Handler func(AvailabilityChanged)

// Bus is a minimal in-process pub/sub for availability events.
type Bus struct {
	mu       sync.RWMutex
	handlers []Handler
	sinks    []Sink
}

// Sink receives the JSON encoding of every published event, for external
// consumers such as analytics. Sink failures are the sink's problem.
type Sink interface {
	Write(payload []byte) error
}

// NewBus constructs an empty bus.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers a handler. Handlers run synchronously in publish
// order; the caller decides its own concurrency model.
func (b *Bus) Subscribe(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, h)
}

// AddSink registers an external JSON sink.
func (b *Bus) AddSink(s Sink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sinks = append(b.sinks, s)
}

// Publish notifies all handlers and sinks of the event.
func (b *Bus) Publish(ev AvailabilityChanged) {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}

	b.mu.RLock()
	handlers := append([]Handler(nil), b.handlers...)
	sinks := append([]Sink(nil), b.sinks...)
	b.mu.RUnlock()

	for _, h := range handlers {
		h(ev)
	}

	if len(sinks) > 0 {
		payload, err := json.Marshal(ev)
		if err != nil {
			return
		}
		for _, s := range sinks {
			_ = s.Write(payload)
		}
	}
}
