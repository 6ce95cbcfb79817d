// Package events carries verification progress events from the engine to
// whatever presentation layer is listening. The engine only ever talks to the
// Sink interface; transports live outside the core.
package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event types published by the verification engine.
const (
	TypeVerificationStarted  = "verification-started"
	TypeManifestLoaded       = "manifest-loaded"
	TypeVerificationProgress = "verification-progress"
	TypeVerificationComplete = "verification-complete"
	TypeVerificationFailed   = "verification-failed"
	TypeRoutingGateway       = "routing-gateway"
)

// Event is a single progress notification.
type Event struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	Identifier string    `json:"identifier"`
	ContentID  string    `json:"content_id,omitempty"`
	Origin     string    `json:"origin,omitempty"`
	Current    int       `json:"current,omitempty"`
	Total      int       `json:"total,omitempty"`
	Error      string    `json:"error,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// New builds an event with a fresh id and timestamp.
func New(eventType, identifier string) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		Identifier: identifier,
		Timestamp:  time.Now().UTC(),
	}
}

// Sink receives events. Publish must not block on slow consumers.
type Sink interface {
	Publish(event Event)
}

// Nop discards all events.
type Nop struct{}

// Publish implements Sink.
func (Nop) Publish(Event) {}

// Bus is an in-memory fan-out Sink. Subscribers are invoked synchronously in
// subscription order; they must be fast or hand off to their own goroutine.
type Bus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]func(Event)
}

// NewBus creates an empty Bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]func(Event))}
}

// Subscribe registers a callback and returns an unsubscribe function.
func (b *Bus) Subscribe(fn func(Event)) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = fn
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}

// Publish implements Sink.
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	callbacks := make([]func(Event), 0, len(b.subs))
	for _, fn := range b.subs {
		callbacks = append(callbacks, fn)
	}
	b.mu.RUnlock()

	for _, fn := range callbacks {
		fn(event)
	}
}

// Multi fans out to several sinks.
type Multi []Sink

// Publish implements Sink.
func (m Multi) Publish(event Event) {
	for _, s := range m {
		s.Publish(event)
	}
}
