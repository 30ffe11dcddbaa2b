package bus

import (
	"fmt"
	"strings"
	"sync"
)

// Handler consumes a published message.
type Handler func(Message)

type subscription struct {
	id      int
	pattern string
	handler Handler
}

// Bus is a synchronous topic-based message bus. Publishing invokes every
// matching subscriber inline, in subscription order, on the caller's
// goroutine. That keeps event delivery deterministic in a backtest; live
// sessions put a Queue in front of it instead of publishing concurrently.
//
// Patterns match exact topics, or a prefix when they end with '*'
// (e.g. "events.order*" matches "events.order.SIM").
type Bus struct {
	mu        sync.RWMutex
	nextID    int
	subs      []subscription
	endpoints map[string]Handler
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{endpoints: make(map[string]Handler)}
}

// Subscribe registers a handler for a topic pattern and returns a
// subscription id for Unsubscribe.
func (b *Bus) Subscribe(pattern string, h Handler) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	b.subs = append(b.subs, subscription{id: b.nextID, pattern: pattern, handler: h})
	return b.nextID
}

// Unsubscribe removes a subscription by id.
func (b *Bus) Unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s.id == id {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			return
		}
	}
}

// Publish delivers the message to all matching subscribers in
// subscription order.
func (b *Bus) Publish(topic string, payload any) {
	b.mu.RLock()
	matched := make([]Handler, 0, 4)
	for _, s := range b.subs {
		if topicMatches(s.pattern, topic) {
			matched = append(matched, s.handler)
		}
	}
	b.mu.RUnlock()

	m := Message{Topic: topic, Payload: payload}
	for _, h := range matched {
		h(m)
	}
}

// Register binds a named point-to-point endpoint (e.g. "RiskEngine.execute").
func (b *Bus) Register(endpoint string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.endpoints[endpoint]; exists {
		panic(fmt.Sprintf("BUS_ENDPOINT_ALREADY_REGISTERED: %s", endpoint))
	}
	b.endpoints[endpoint] = h
}

// Deregister removes a named endpoint.
func (b *Bus) Deregister(endpoint string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.endpoints, endpoint)
}

// Send delivers a message to a single named endpoint. Unknown endpoints
// are an error: commands must never be dropped silently.
func (b *Bus) Send(endpoint string, payload any) error {
	b.mu.RLock()
	h, ok := b.endpoints[endpoint]
	b.mu.RUnlock()
	if !ok {
		return fmt.Errorf("bus: no endpoint registered for %q", endpoint)
	}
	h(Message{Topic: endpoint, Payload: payload})
	return nil
}

func topicMatches(pattern, topic string) bool {
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(topic, pattern[:len(pattern)-1])
	}
	return pattern == topic
}
