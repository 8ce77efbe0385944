// Package bus implements the in-process typed event bus all other
// components communicate through.
//
// There is no dispatcher goroutine: publishers enqueue onto each subscriber's
// bounded channel synchronously, on the publisher's own goroutine. A
// non-blocking publish drops for any subscriber whose buffer is full,
// incrementing a per-(eventType, subscriber) metric; a blocking publish
// enqueues with cooperative cancellation and is reserved for system-status
// events. Per-subscriber FIFO is guaranteed for a single event type; there is
// no cross-publisher or cross-type ordering guarantee.
package bus

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"tradecore/internal/metrics"
	"tradecore/pkg/types"
)

// ErrClosed is returned by Subscribe once the bus has been closed.
var ErrClosed = errors.New("bus: closed")

// ErrCancelled is returned by PublishBlocking when ctx is cancelled before
// every subscriber has accepted the event.
var ErrCancelled = errors.New("bus: publish cancelled")

const defaultBufferSize = 256

// subscription is one subscriber's bounded mailbox for one event type.
type subscription struct {
	ch      chan types.Event
	dropped atomic.Int64
}

// Bus is the typed pub/sub event bus. Safe for concurrent use.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[types.EventType][]*subscription
	bufferSize  int
	closed      bool
	logger      *slog.Logger
}

// Option configures a Bus at construction time.
type Option func(*Bus)

// WithBufferSize overrides the default per-subscriber buffer size (256).
func WithBufferSize(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.bufferSize = n
		}
	}
}

// New creates an event bus. Buffer size applies uniformly to every
// subscriber and is fixed for the bus's lifetime.
func New(logger *slog.Logger, opts ...Option) *Bus {
	b := &Bus{
		subscribers: make(map[types.EventType][]*subscription),
		bufferSize:  defaultBufferSize,
		logger:      logger.With("component", "bus"),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers a new subscriber for eventType and returns a read-only
// channel of events. Fails with ErrClosed once the bus has been closed.
func (b *Bus) Subscribe(eventType types.EventType) (<-chan types.Event, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrClosed
	}

	sub := &subscription{ch: make(chan types.Event, b.bufferSize)}
	b.subscribers[eventType] = append(b.subscribers[eventType], sub)
	return sub.ch, nil
}

// Unsubscribe removes a previously subscribed channel. It is a no-op if the
// channel is not found (already unsubscribed, or bus closed).
func (b *Bus) Unsubscribe(eventType types.EventType, ch <-chan types.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subscribers[eventType]
	for i, sub := range subs {
		if sub.ch == ch {
			b.subscribers[eventType] = append(subs[:i], subs[i+1:]...)
			return
		}
	}
}

// Publish delivers event to every subscriber of event.Type() without
// blocking. A subscriber whose buffer is full is skipped — at-most-once
// delivery per subscriber, never a stalled publisher.
func (b *Bus) Publish(ctx context.Context, event types.Event) {
	b.mu.RLock()
	subs := b.subscribers[event.Type()]
	b.mu.RUnlock()

	for _, sub := range subs {
		select {
		case sub.ch <- event:
		default:
			sub.dropped.Add(1)
			metrics.BusDropped.WithLabelValues(string(event.Type())).Inc()
			b.logger.Warn("subscriber buffer full, dropping event",
				"event_type", event.Type())
		}
	}
}

// PublishBlocking delivers event to every subscriber, waiting for buffer
// space if necessary. It honours ctx cancellation: if ctx is cancelled
// before every subscriber has accepted the event, it returns ErrCancelled
// and any subscribers not yet reached do not receive the event. Intended
// only for system-status events per spec.
func (b *Bus) PublishBlocking(ctx context.Context, event types.Event) error {
	b.mu.RLock()
	subs := b.subscribers[event.Type()]
	b.mu.RUnlock()

	for _, sub := range subs {
		select {
		case sub.ch <- event:
		case <-ctx.Done():
			return ErrCancelled
		}
	}
	return nil
}

// Close closes the bus. Subsequent Subscribe calls fail with ErrClosed.
// Existing subscriber channels are left open so in-flight consumers can
// drain them; it is the caller's responsibility to stop reading.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
}

// DroppedCount returns the number of events dropped for a given event type,
// summed across all of that type's subscribers. Exposed for tests and
// diagnostics.
func (b *Bus) DroppedCount(eventType types.EventType) int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var total int64
	for _, sub := range b.subscribers[eventType] {
		total += sub.dropped.Load()
	}
	return total
}

// SubscriberCount returns how many subscribers are currently registered for
// eventType.
func (b *Bus) SubscriberCount(eventType types.EventType) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[eventType])
}
