package bus

import (
	"context"
	"errors"
	"sync/atomic"
)

var (
	ErrQueueFull   = errors.New("message queue full")
	ErrQueueClosed = errors.New("message queue closed")
)

// Message is the unit passed through the in-memory bus: a dotted topic
// (e.g. "events.order.SIM") and an arbitrary payload.
type Message struct {
	Topic   string
	Payload any
}

// Queue is a bounded, non-blocking message queue. Live components feed
// it from I/O goroutines; the engine drains it on its own thread.
type Queue struct {
	ch     chan Message
	closed uint32
}

// NewQueue allocates a queue with the given capacity.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue{ch: make(chan Message, capacity)}
}

// TryPublish enqueues a message without blocking.
func (q *Queue) TryPublish(m Message) error {
	if atomic.LoadUint32(&q.closed) != 0 {
		return ErrQueueClosed
	}
	select {
	case q.ch <- m:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close stops the queue from accepting new messages.
func (q *Queue) Close() {
	if atomic.CompareAndSwapUint32(&q.closed, 0, 1) {
		close(q.ch)
	}
}

// Len returns the number of queued messages.
func (q *Queue) Len() int { return len(q.ch) }

// Run consumes messages until the context is done or the queue is closed.
func (q *Queue) Run(ctx context.Context, handler func(Message)) {
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-q.ch:
			if !ok {
				return
			}
			handler(m)
		}
	}
}
