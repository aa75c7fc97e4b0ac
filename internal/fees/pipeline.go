package fees

import (
	"fmt"
	"time"
)

// Pass is the outcome of one pipeline run. When Skipped is true the gate
// declined the pass and State is the unchanged previous state; otherwise
// State is the freshly computed replacement the caller must commit as a
// whole. Warnings carry non-fatal observations such as a clamped surcharge
// base.
type Pass struct {
	State    State
	Reason   Reason
	Skipped  bool
	Warnings []string
}

// Pipeline runs the two rule groups against a snapshot and assembles the
// next session state. It holds no per-session data and is safe for
// concurrent use; serializing commits of the resulting state is the
// caller's job.
type Pipeline struct {
	Rules RuleSet
	// Now stamps ComputedAt on successful passes, defaulting to time.Now.
	Now func() time.Time
}

// NewPipeline validates the rule set and returns a ready pipeline.
func NewPipeline(rules RuleSet) (*Pipeline, error) {
	if err := rules.Validate(); err != nil {
		return nil, err
	}
	return &Pipeline{Rules: rules}, nil
}

// Run gates and, when warranted, recomputes the fee state for the snapshot.
// The previous state is never mutated: a failed rule aborts the pass with an
// error and the caller keeps the previous state current, force flag
// included, so the next trigger retries. A successful pass yields a complete
// replacement state with the force flag consumed, the fingerprint rebuilt,
// the version advanced and ComputedAt stamped.
func (p *Pipeline) Run(snap Snapshot, prev State) (Pass, error) {
	run, reason := ShouldRecompute(snap, prev, p.Rules)
	if !run {
		return Pass{State: prev, Reason: reason, Skipped: true}, nil
	}

	next := prev.Ledger.Clone()
	next.Remove(p.Rules.OwnedNames()...)

	for _, r := range p.Rules.Discounts {
		entries, err := r.Apply(snap)
		if err != nil {
			return Pass{}, fmt.Errorf("discount rule %q: %w", r.Name(), err)
		}
		if err := putRuleEntries(&next, r.Name(), r.Owns(), KindDiscount, entries); err != nil {
			return Pass{}, err
		}
	}

	// The surcharge base is derived once per pass so every surcharge rule
	// sees the same figure and the clamp happens in a single place.
	var warnings []string
	base := snap.Subtotal + snap.ShippingTotal + next.DiscountTotal()
	if base < 0 {
		warnings = append(warnings, fmt.Sprintf("surcharge base %d clamped to zero", base))
		base = 0
	}

	for _, r := range p.Rules.Surcharges {
		entries, err := r.Apply(snap, base)
		if err != nil {
			return Pass{}, fmt.Errorf("surcharge rule %q: %w", r.Name(), err)
		}
		if err := putRuleEntries(&next, r.Name(), r.Owns(), KindSurcharge, entries); err != nil {
			return Pass{}, err
		}
	}

	now := time.Now()
	if p.Now != nil {
		now = p.Now()
	}
	return Pass{
		State: State{
			Ledger:     next,
			Baseline:   Baseline{Fingerprint: Fingerprint(snap, next.DiscountTotal())},
			Version:    prev.Version + 1,
			ComputedAt: now.UTC(),
		},
		Reason:   reason,
		Warnings: warnings,
	}, nil
}

func putRuleEntries(l *Ledger, rule string, owned []string, kind Kind, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	ownedSet := make(map[string]struct{}, len(owned))
	for _, n := range owned {
		ownedSet[n] = struct{}{}
	}
	for _, e := range entries {
		if err := e.Validate(); err != nil {
			return fmt.Errorf("rule %q: %w", rule, err)
		}
		if e.Kind != kind {
			return fmt.Errorf("rule %q: entry %q kind %q outside rule group", rule, e.Name, e.Kind)
		}
		if _, ok := ownedSet[e.Name]; !ok {
			return fmt.Errorf("rule %q: entry %q not declared as owned", rule, e.Name)
		}
		l.Put(e)
	}
	return nil
}
