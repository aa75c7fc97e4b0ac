package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/kasira-dev/fees-engine/internal/common"
	"github.com/kasira-dev/fees-engine/internal/queue"
)

// RecalcTaskPayload is the body of a fees:recalc task.
type RecalcTaskPayload struct {
	SessionID uuid.UUID `json:"sessionId"`
	Force     bool      `json:"force"`
}

// Dispatcher fans a bulk recalculation out to the background worker, one
// task per active session. Tasks are deduplicated per session within the
// enqueuer's dedup window, so overlapping sweeps do not stack work.
type Dispatcher struct {
	Store     Store
	Queue     queue.Enqueuer
	BatchSize int
}

// EnqueueActiveSessions pages through active sessions and enqueues a forced
// recalculation for each. It returns how many tasks were offered to the
// queue; deduplicated offers count too.
func (d Dispatcher) EnqueueActiveSessions(ctx context.Context) (int, error) {
	if d.Store == nil {
		return 0, errors.New("dispatcher store not configured")
	}
	batch := d.BatchSize
	if batch <= 0 {
		batch = 200
	}
	total := 0
	for offset := 0; ; offset += batch {
		ids, err := d.Store.ListActiveSessionIDs(ctx, batch, offset)
		if err != nil {
			return total, fmt.Errorf("list active sessions: %w", err)
		}
		for _, id := range ids {
			payload, err := json.Marshal(RecalcTaskPayload{SessionID: id, Force: true})
			if err != nil {
				return total, err
			}
			if err := d.Queue.Enqueue(ctx, queue.Task{
				Kind:           queue.KindFeesRecalc,
				Payload:        payload,
				IdempotencyKey: id.String(),
			}); err != nil {
				return total, fmt.Errorf("enqueue session %s: %w", id, err)
			}
			total++
		}
		if len(ids) < batch {
			return total, nil
		}
	}
}

// AdminHandler exposes the bulk recalculation endpoint.
type AdminHandler struct {
	Dispatcher *Dispatcher
}

// BulkRecalculate handles POST /admin/recalculate. The sweep runs inline;
// the recalculations themselves happen on the worker.
func (h *AdminHandler) BulkRecalculate(w http.ResponseWriter, r *http.Request) {
	if h.Dispatcher == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "dispatcher not configured", nil)
		return
	}
	enqueued, err := h.Dispatcher.EnqueueActiveSessions(r.Context())
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "bulk recalculation failed", nil)
		return
	}
	common.JSON(w, http.StatusAccepted, map[string]any{
		"data": map[string]any{"enqueued": enqueued},
	})
}

// RecalcWorker adapts the checkout service to the queue handler contract.
type RecalcWorker struct {
	Svc *Service
	Log zerolog.Logger
}

// Handle processes one fees:recalc task. A missing session is dropped, not
// retried: the session ended between enqueue and delivery.
func (rw RecalcWorker) Handle(ctx context.Context, t queue.Task) error {
	if rw.Svc == nil {
		return errors.New("recalc worker service not configured")
	}
	var p RecalcTaskPayload
	if err := json.Unmarshal(t.Payload, &p); err != nil {
		return fmt.Errorf("decode recalc task: %w", err)
	}
	if p.SessionID == uuid.Nil {
		return errors.New("recalc task: session id is required")
	}
	pass, err := rw.Svc.Recalculate(ctx, p.SessionID, p.Force)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			rw.Log.Info().Str("session_id", p.SessionID.String()).Msg("session gone, dropping recalc task")
			return nil
		}
		return err
	}
	rw.Log.Debug().
		Str("session_id", p.SessionID.String()).
		Str("reason", string(pass.Reason)).
		Bool("skipped", pass.Skipped).
		Uint64("ledger_version", pass.State.Version).
		Int("attempt", t.Attempt).
		Msg("recalc task processed")
	return nil
}
