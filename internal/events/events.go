// ABOUTME: In-process event bus with synchronous fan-out to subscribers
// ABOUTME: Defines the immutable Envelope published at state transitions

package events

import (
	"sync"
	"time"
)

// Privacy classifications for published envelopes.
const (
	PrivacyNormal            = "normal"
	PrivacyPrivateMonitoring = "private_monitoring"
)

// Notify policy hints for downstream UX.
const (
	NotifyExplicit      = "explicit"
	NotifyImplicitLight = "implicit_light"
	NotifyNone          = "none"
)

// TopicPrefix namespaces every topic published by the hub.
const TopicPrefix = "hub."

// Topic returns the bus topic for a domain event type, e.g.
// Topic("message.stored") == "hub.message.stored".
func Topic(eventType string) string {
	return TopicPrefix + eventType
}

// Envelope is an immutable published fact describing a state
// transition. Envelopes are delivered, never stored: there is no
// persistence and no delivery guarantee across restarts.
type Envelope struct {
	EventID        string
	TraceID        string
	OccurredAt     time.Time
	Producer       string
	Type           string
	Version        int
	Privacy        string
	NotifyPolicy   string
	Payload        map[string]any
	IdempotencyKey string
}

// Handler receives published envelopes for a topic.
type Handler func(topic string, env Envelope)

// Bus is a fire-and-forget in-process publisher. Publishing delivers
// synchronously to every subscriber of the topic in registration
// order; subscriber behavior is an external-collaborator concern, not
// isolated here.
type Bus struct {
	mu   sync.RWMutex
	subs map[string][]Handler
}

// NewBus returns an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[string][]Handler)}
}

// Subscribe registers fn for envelopes published on topic.
func (b *Bus) Subscribe(topic string, fn Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[topic] = append(b.subs[topic], fn)
}

// Publish delivers env to every subscriber of topic and returns once
// all have been invoked.
func (b *Bus) Publish(topic string, env Envelope) {
	b.mu.RLock()
	handlers := b.subs[topic]
	b.mu.RUnlock()

	for _, fn := range handlers {
		fn(topic, env)
	}
}
