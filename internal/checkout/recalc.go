package checkout

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kasira-dev/fees-engine/internal/cache"
	"github.com/kasira-dev/fees-engine/internal/events"
	"github.com/kasira-dev/fees-engine/internal/fees"
	"github.com/kasira-dev/fees-engine/internal/lock"
	"github.com/kasira-dev/fees-engine/internal/obs"
)

// Recalculate runs one gated recalculation pass for the session. Passes for
// the same session are serialized twice over: an in-process mutex keeps
// goroutines of this instance apart and the Redis lock keeps instances
// apart. force persists the force flag before the pass so a failed pass
// leaves the intent durable and the next trigger retries.
//
// The returned pass reports whether the gate skipped and which reason opened
// it. A rule failure aborts the pass, keeps the previous state current and
// returns the error; callers on the trigger path treat that as non-fatal.
func (s *Service) Recalculate(ctx context.Context, sessionID uuid.UUID, force bool) (fees.Pass, error) {
	if err := s.configured(); err != nil {
		return fees.Pass{}, err
	}
	if sessionID == uuid.Nil {
		return fees.Pass{}, fmt.Errorf("%w: session id is required", ErrInvalidInput)
	}

	mu := s.sessionMu(sessionID)
	mu.Lock()
	defer mu.Unlock()

	if s.Locker == nil {
		return s.recalcLocked(ctx, sessionID, force)
	}
	var pass fees.Pass
	err := s.Locker.WithLock(ctx, lock.RecalcKey(sessionID), s.LockTTL, func(ctx context.Context) error {
		var runErr error
		pass, runErr = s.recalcLocked(ctx, sessionID, force)
		return runErr
	})
	return pass, err
}

func (s *Service) recalcLocked(ctx context.Context, sessionID uuid.UUID, force bool) (fees.Pass, error) {
	start := time.Now()

	sess, err := s.Store.GetSession(ctx, sessionID)
	if err != nil {
		return fees.Pass{}, s.mapStoreErr(err, "session")
	}
	if force {
		if err := s.Store.SetForceRecalc(ctx, sessionID, true); err != nil {
			return fees.Pass{}, fmt.Errorf("persist force flag: %w", err)
		}
	}
	snap, items, err := s.buildSnapshot(ctx, sess)
	if err != nil {
		return fees.Pass{}, err
	}
	prev, err := s.Store.GetFeeState(ctx, sessionID)
	if err != nil {
		return fees.Pass{}, fmt.Errorf("load fee state: %w", err)
	}
	if force {
		prev.Baseline.Force = true
	}

	if len(items) == 0 {
		return s.clearEmptyCart(ctx, sessionID, snap, prev, start)
	}

	pass, err := s.Pipeline.Run(snap, prev)
	if err != nil {
		_, reason := fees.ShouldRecompute(snap, prev, s.Pipeline.Rules)
		observePass(reason, "error", start)
		s.emitRecalcFailed(ctx, sessionID, err)
		return fees.Pass{}, fmt.Errorf("recalculation pass: %w", err)
	}
	if pass.Skipped {
		observeSkip()
		return pass, nil
	}
	if err := s.commit(ctx, sessionID, pass, start); err != nil {
		return fees.Pass{}, err
	}
	return pass, nil
}

// clearEmptyCart replaces the fee state with an empty ledger once the cart
// has no lines. The fingerprint of the empty snapshot is kept so repeated
// triggers on an already cleared session skip instead of spinning versions.
func (s *Service) clearEmptyCart(ctx context.Context, sessionID uuid.UUID, snap fees.Snapshot, prev fees.State, start time.Time) (fees.Pass, error) {
	fp := fees.Fingerprint(snap, 0)
	if !prev.Baseline.Force && prev.Ledger.Len() == 0 && prev.Baseline.Fingerprint == fp {
		observeSkip()
		return fees.Pass{State: prev, Reason: fees.ReasonUnchanged, Skipped: true}, nil
	}
	reason := fees.ReasonBaselineChanged
	if prev.Baseline.Force {
		reason = fees.ReasonForced
	}
	pass := fees.Pass{
		State: fees.State{
			Ledger:     fees.Ledger{},
			Baseline:   fees.Baseline{Fingerprint: fp},
			Version:    prev.Version + 1,
			ComputedAt: s.now().UTC(),
		},
		Reason: reason,
	}
	if err := s.commit(ctx, sessionID, pass, start); err != nil {
		return fees.Pass{}, err
	}
	return pass, nil
}

// commit persists the replacement state as a whole, then invalidates the
// cached ledger view and announces the pass. Cache and event failures are
// logged, never unwound; the store is the source of truth.
func (s *Service) commit(ctx context.Context, sessionID uuid.UUID, pass fees.Pass, start time.Time) error {
	if err := s.Store.SaveFeeState(ctx, sessionID, pass.State); err != nil {
		observePass(pass.Reason, "error", start)
		return fmt.Errorf("commit fee state: %w", err)
	}

	observePass(pass.Reason, "success", start)
	if n := len(pass.Warnings); n > 0 {
		if obs.RecalcWarningsTotal != nil {
			obs.RecalcWarningsTotal.Add(float64(n))
		}
		for _, w := range pass.Warnings {
			s.Log.Warn().Str("session_id", sessionID.String()).Msg(w)
		}
	}

	if s.Cache != nil {
		if err := s.Cache.Delete(ctx, cache.KeyLedgerView(sessionID)); err != nil {
			s.Log.Warn().Err(err).Str("session_id", sessionID.String()).Msg("invalidate cached ledger view")
		}
	}
	if s.Bus != nil {
		payload := map[string]any{
			"sessionId":      sessionID.String(),
			"ledgerVersion":  pass.State.Version,
			"computedAt":     pass.State.ComputedAt,
			"reason":         string(pass.Reason),
			"discountTotal":  pass.State.Ledger.DiscountTotal(),
			"surchargeTotal": pass.State.Ledger.SurchargeTotal(),
			"feeTotal":       pass.State.Ledger.Total(),
		}
		if _, err := s.Bus.Emit(ctx, events.TopicFeesRecalculated, sessionID, payload); err != nil {
			s.Log.Warn().Err(err).Str("session_id", sessionID.String()).Msg("emit fees recalculated")
		}
	}

	s.Log.Info().
		Str("session_id", sessionID.String()).
		Uint64("ledger_version", pass.State.Version).
		Str("reason", string(pass.Reason)).
		Int64("fee_total", int64(pass.State.Ledger.Total())).
		Msg("fee state recalculated")
	return nil
}

func (s *Service) emitRecalcFailed(ctx context.Context, sessionID uuid.UUID, cause error) {
	if s.Bus == nil {
		return
	}
	payload := map[string]any{
		"sessionId": sessionID.String(),
		"error":     cause.Error(),
	}
	if _, err := s.Bus.Emit(ctx, events.TopicFeesRecalcFailed, sessionID, payload); err != nil {
		s.Log.Warn().Err(err).Str("session_id", sessionID.String()).Msg("emit fees recalc failed")
	}
}

// Collectors are nil until main registers them; tests run without.
func observePass(reason fees.Reason, result string, start time.Time) {
	if obs.RecalcPassTotal != nil {
		obs.RecalcPassTotal.WithLabelValues(string(reason), result).Inc()
	}
	if obs.RecalcPassDuration != nil {
		obs.RecalcPassDuration.WithLabelValues(result).Observe(obs.DurationMillis(time.Since(start)))
	}
}

func observeSkip() {
	if obs.RecalcSkipTotal != nil {
		obs.RecalcSkipTotal.Inc()
	}
}
