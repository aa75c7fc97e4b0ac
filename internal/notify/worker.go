package notify

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/kasira-dev/fees-engine/internal/events"
	"github.com/kasira-dev/fees-engine/internal/lock"
)

// RefreshWorker executes queued refresh deliveries under a distributed lock so
// concurrent workers never double-send the same event.
type RefreshWorker struct {
	Sender  *Sender
	Locker  lock.Locker
	LockTTL time.Duration
}

// Handle decodes the queued event and delivers the refresh ping.
func (w RefreshWorker) Handle(ctx context.Context, payload []byte) error {
	if w.Sender == nil {
		return errors.New("notify: refresh worker sender not configured")
	}
	var event events.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return err
	}
	ttl := w.LockTTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	key := "lock:refresh:" + event.ID.String()
	return w.Locker.WithLock(ctx, key, ttl, func(ctx context.Context) error {
		return w.Sender.Send(ctx, event)
	})
}
