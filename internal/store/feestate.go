package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/kasira-dev/fees-engine/internal/fees"
)

// GetFeeState loads the persisted fee state of a session. A session that has
// never committed a pass yields the zero state, which the gate treats as
// changed, so the first pass always runs.
func (s *Store) GetFeeState(ctx context.Context, sessionID uuid.UUID) (fees.State, error) {
	if s == nil || s.pool == nil {
		return fees.State{}, ErrUnavailable
	}
	var (
		entries     []byte
		fingerprint string
		force       bool
		version     int64
		computedAt  *time.Time
	)
	err := s.pool.QueryRow(ctx, `SELECT entries, fingerprint, force_recalc, version, computed_at
FROM fee_states WHERE session_id = $1`, sessionID).
		Scan(&entries, &fingerprint, &force, &version, &computedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return fees.State{}, nil
	}
	if err != nil {
		return fees.State{}, err
	}

	var ledger fees.Ledger
	if len(entries) > 0 {
		if err := json.Unmarshal(entries, &ledger); err != nil {
			return fees.State{}, fmt.Errorf("decode fee entries: %w", err)
		}
	}
	st := fees.State{
		Ledger:   ledger,
		Baseline: fees.Baseline{Fingerprint: fingerprint, Force: force},
		Version:  uint64(version),
	}
	if computedAt != nil {
		st.ComputedAt = computedAt.UTC()
	}
	return st, nil
}

// SaveFeeState commits a pass result wholesale: ledger, baseline, version and
// timestamp land in one upsert so a reader never observes a half-written
// state.
func (s *Store) SaveFeeState(ctx context.Context, sessionID uuid.UUID, st fees.State) error {
	if s == nil || s.pool == nil {
		return ErrUnavailable
	}
	entries, err := json.Marshal(st.Ledger)
	if err != nil {
		return fmt.Errorf("encode fee entries: %w", err)
	}
	var computedAt any
	if !st.ComputedAt.IsZero() {
		computedAt = st.ComputedAt.UTC()
	}
	_, err = s.pool.Exec(ctx, `INSERT INTO fee_states (session_id, entries, fingerprint, force_recalc, version, computed_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, now())
ON CONFLICT (session_id) DO UPDATE
SET entries = EXCLUDED.entries,
    fingerprint = EXCLUDED.fingerprint,
    force_recalc = EXCLUDED.force_recalc,
    version = EXCLUDED.version,
    computed_at = EXCLUDED.computed_at,
    updated_at = now()`,
		sessionID, entries, st.Baseline.Fingerprint, st.Baseline.Force, int64(st.Version), computedAt)
	return err
}

// SetForceRecalc flags the session for an unconditional pass on the next
// trigger. The row is created on demand so forcing works before any pass has
// committed.
func (s *Store) SetForceRecalc(ctx context.Context, sessionID uuid.UUID, force bool) error {
	if s == nil || s.pool == nil {
		return ErrUnavailable
	}
	_, err := s.pool.Exec(ctx, `INSERT INTO fee_states (session_id, force_recalc)
VALUES ($1, $2)
ON CONFLICT (session_id) DO UPDATE
SET force_recalc = EXCLUDED.force_recalc, updated_at = now()`, sessionID, force)
	return err
}
