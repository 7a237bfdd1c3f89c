package redis

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/inkquest/inkquest/internal/domain/shared"
	"github.com/inkquest/inkquest/pkg/retry"
)

// EventFanout republishes domain events as JSON envelopes on
// inkquest:events:<type> for out-of-process consumers (notification
// workers, the UI feed). Register Handle on the in-process bus with
// SubscribeAll.
type EventFanout struct {
	cache   *Cache
	timeout time.Duration
	policy  retry.Policy
	logger  *slog.Logger
}

// NewEventFanout creates a fan-out publisher.
func NewEventFanout(c *Cache, logger *slog.Logger) *EventFanout {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventFanout{
		cache:   c,
		timeout: 2 * time.Second,
		policy:  retry.Redis(),
		logger:  logger.With("component", "event_fanout"),
	}
}

// Handle implements shared.EventHandler.
func (f *EventFanout) Handle(event shared.Event) error {
	env, err := shared.NewEnvelope(uuid.NewString(), event)
	if err != nil {
		return fmt.Errorf("failed to build envelope for %s: %w", event.EventType(), err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
	defer cancel()

	channel := EventChannel(string(env.Type))
	err = f.policy.Do(ctx, func(ctx context.Context) error {
		return f.cache.Publish(ctx, channel, env)
	})
	if err != nil {
		f.logger.Warn("event fan-out failed",
			"event_type", env.Type,
			"aggregate_id", env.AggregateID,
			"error", err,
		)
		return err
	}
	return nil
}
