// Package messaging implements the in-process event bus that carries
// progression and achievement events to subscribers (Redis fan-out, logs).
package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/inkquest/inkquest/internal/domain/shared"
)

var (
	ErrBusClosed    = errors.New("event bus is closed")
	ErrHandlerPanic = errors.New("event handler panicked")
	errNilHandler   = errors.New("event handler is nil")
)

// Options configures a Bus.
type Options struct {
	// Workers bounds how many handlers run at once. Zero means 10.
	Workers int

	// Sync delivers on the publishing goroutine. Tests use it.
	Sync bool

	Logger *slog.Logger
}

// subscription is one registered handler; an empty topic matches every event.
type subscription struct {
	topic   shared.EventType
	handler shared.EventHandler
}

func (s subscription) matches(t shared.EventType) bool {
	return s.topic == "" || s.topic == t
}

// Bus implements shared.EventBus for a single process. Handler errors and
// panics are logged and counted; they never reach the publisher.
type Bus struct {
	inline bool
	slots  *semaphore.Weighted
	logger *slog.Logger

	mu     sync.RWMutex
	subs   []subscription
	closed bool

	inflight  sync.WaitGroup
	published atomic.Int64
	failed    atomic.Int64
}

var _ shared.EventBus = (*Bus)(nil)

// NewBus creates a bus.
func NewBus(opts Options) *Bus {
	if opts.Workers <= 0 {
		opts.Workers = 10
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Bus{
		inline: opts.Sync,
		slots:  semaphore.NewWeighted(int64(opts.Workers)),
		logger: opts.Logger.With("component", "event_bus"),
	}
}

// Subscribe registers handler for one event type.
func (b *Bus) Subscribe(eventType shared.EventType, handler shared.EventHandler) error {
	return b.add(subscription{topic: eventType, handler: handler})
}

// SubscribeAll registers handler for every event.
func (b *Bus) SubscribeAll(handler shared.EventHandler) error {
	return b.add(subscription{handler: handler})
}

func (b *Bus) add(sub subscription) error {
	if sub.handler == nil {
		return errNilHandler
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBusClosed
	}
	b.subs = append(b.subs, sub)
	return nil
}

// Publish hands event to every matching subscriber. In async mode it
// returns before the handlers run.
func (b *Bus) Publish(event shared.Event) error {
	if event == nil {
		return errors.New("event is nil")
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrBusClosed
	}
	var targets []shared.EventHandler
	for _, sub := range b.subs {
		if sub.matches(event.EventType()) {
			targets = append(targets, sub.handler)
		}
	}
	// Added under the read lock so Close waits for these deliveries.
	if !b.inline {
		b.inflight.Add(len(targets))
	}
	b.mu.RUnlock()

	b.published.Add(1)

	for _, h := range targets {
		if b.inline {
			b.deliver(event, h)
			continue
		}
		go func() {
			defer b.inflight.Done()
			// Background never cancels, so Acquire only fails on a bug.
			if err := b.slots.Acquire(context.Background(), 1); err != nil {
				return
			}
			defer b.slots.Release(1)
			b.deliver(event, h)
		}()
	}
	return nil
}

func (b *Bus) deliver(event shared.Event, h shared.EventHandler) {
	start := time.Now()
	err := call(event, h)
	if err == nil {
		b.logger.Debug("event handled", "event_type", event.EventType(), "duration", time.Since(start))
		return
	}
	b.failed.Add(1)
	b.logger.Error("event handler failed",
		"event_type", event.EventType(),
		"aggregate_id", event.AggregateID(),
		"duration", time.Since(start),
		"error", err,
	)
}

// call runs h and converts a panic into ErrHandlerPanic.
func call(event shared.Event, h shared.EventHandler) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrHandlerPanic, r)
		}
	}()
	return h(event)
}

// Close rejects new events and waits for deliveries already accepted.
// Calling it twice is safe.
func (b *Bus) Close() error {
	b.mu.Lock()
	already := b.closed
	b.closed = true
	b.mu.Unlock()
	if already {
		return nil
	}

	b.inflight.Wait()
	b.logger.Info("event bus closed",
		"published", b.published.Load(),
		"handler_failures", b.failed.Load(),
	)
	return nil
}

// Stats returns the number of published events and failed handler runs.
func (b *Bus) Stats() (published, failed int64) {
	return b.published.Load(), b.failed.Load()
}
