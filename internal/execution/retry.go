package execution

import (
	"context"
	"log/slog"
	"time"

	"quant_go/internal/domain"
)

// RetryManager runs one venue call with bounded exponential backoff.
// Only errors marked retriable are retried; everything else returns
// immediately.
type RetryManager struct {
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
	log        *slog.Logger
}

// Run executes fn, retrying retriable failures up to maxRetries times.
func (m *RetryManager) Run(ctx context.Context, op string, fn func() error) error {
	delay := m.baseDelay
	var err error
	for attempt := 0; ; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if !domain.IsRetriable(err) || attempt >= m.maxRetries {
			return err
		}
		m.log.Warn("retrying venue call", "op", op, "attempt", attempt+1, "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > m.maxDelay {
			delay = m.maxDelay
		}
	}
}

// RetryManagerPool bounds how many venue calls can be in flight at once.
// Acquire blocks when the pool is exhausted, applying natural
// backpressure to command bursts.
type RetryManagerPool struct {
	managers chan *RetryManager
}

// NewRetryManagerPool creates a pool of size managers.
func NewRetryManagerPool(size, maxRetries int, baseDelay, maxDelay time.Duration, log *slog.Logger) *RetryManagerPool {
	if size <= 0 {
		size = 1
	}
	p := &RetryManagerPool{managers: make(chan *RetryManager, size)}
	for i := 0; i < size; i++ {
		p.managers <- &RetryManager{
			maxRetries: maxRetries,
			baseDelay:  baseDelay,
			maxDelay:   maxDelay,
			log:        log.With("component", "retry"),
		}
	}
	return p
}

// Acquire blocks until a manager is free or the context is done.
func (p *RetryManagerPool) Acquire(ctx context.Context) (*RetryManager, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case m := <-p.managers:
		return m, nil
	}
}

// Release returns a manager to the pool.
func (p *RetryManagerPool) Release(m *RetryManager) {
	p.managers <- m
}

// Do acquires a manager, runs fn with retries, and releases the manager.
func (p *RetryManagerPool) Do(ctx context.Context, op string, fn func() error) error {
	m, err := p.Acquire(ctx)
	if err != nil {
		return err
	}
	defer p.Release(m)
	return m.Run(ctx, op, fn)
}
