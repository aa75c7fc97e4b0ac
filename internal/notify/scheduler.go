package notify

import (
	"context"
	"encoding/json"

	"github.com/kasira-dev/fees-engine/internal/events"
	"github.com/kasira-dev/fees-engine/internal/queue"
)

// Scheduler turns recalculation events into queued refresh tasks. It
// implements events.DeliveryScheduler so the bus can hand events over right
// after they are persisted.
type Scheduler struct {
	Queue       queue.Enqueuer
	MaxAttempts int
	Enabled     bool
}

// Schedule enqueues a refresh delivery for recalculation events. Other topics
// are ignored.
func (s Scheduler) Schedule(ctx context.Context, event events.Event) error {
	if !s.Enabled || s.Queue.R == nil {
		return nil
	}
	if event.Topic != events.TopicFeesRecalculated {
		return nil
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	maxAttempts := s.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 6
	}
	return s.Queue.Enqueue(ctx, queue.Task{
		Kind:           queue.KindNotifyRefresh,
		Payload:        payload,
		IdempotencyKey: event.ID.String(),
		MaxAttempts:    maxAttempts,
	})
}
