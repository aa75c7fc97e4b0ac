package fees

import (
	"errors"
	"fmt"

	"github.com/kasira-dev/fees-engine/internal/money"
)

// ErrNoRules is returned when a pipeline is built without any rules.
var ErrNoRules = errors.New("fee rule set is empty")

// DiscountRule produces discount entries from the cart snapshot alone.
// Discount rules run first and must not depend on each other's output.
type DiscountRule interface {
	// Name identifies the rule in logs and errors.
	Name() string
	// Owns lists every ledger entry name the rule may produce. The pipeline
	// removes these names from the previous ledger before the rule runs, so
	// entries the rule no longer produces disappear instead of going stale.
	Owns() []string
	// Apply returns the entries for this pass. No entry means the rule does
	// not apply; rules never return zero-amount entries.
	Apply(snap Snapshot) ([]Entry, error)
}

// SurchargeRule produces surcharge entries. Surcharge rules run strictly
// after the discount group and receive the surcharge base, which the
// pipeline derives once from subtotal, shipping and the discount total of
// the same pass, clamped at zero.
type SurchargeRule interface {
	Name() string
	Owns() []string
	// Required lists the entry names that must exist in the ledger for the
	// given snapshot. The gate treats a missing required entry as grounds
	// for a pass even when the fingerprint is unchanged.
	Required(snap Snapshot) []string
	Apply(snap Snapshot, base money.Money) ([]Entry, error)
}

// RuleSet is the ordered rule configuration for a pipeline. Group membership
// fixes evaluation phase; order within a group fixes entry order.
type RuleSet struct {
	Discounts  []DiscountRule
	Surcharges []SurchargeRule
}

// OwnedNames returns every entry name any configured rule may produce.
func (rs RuleSet) OwnedNames() []string {
	var names []string
	for _, r := range rs.Discounts {
		names = append(names, r.Owns()...)
	}
	for _, r := range rs.Surcharges {
		names = append(names, r.Owns()...)
	}
	return names
}

// Empty reports whether the rule set has no rules at all.
func (rs RuleSet) Empty() bool {
	return len(rs.Discounts) == 0 && len(rs.Surcharges) == 0
}

// Validate rejects an empty rule set and overlapping entry ownership, which
// would let one rule silently replace another rule's entry.
func (rs RuleSet) Validate() error {
	if rs.Empty() {
		return ErrNoRules
	}
	seen := make(map[string]string)
	check := func(rule string, owns []string) error {
		for _, n := range owns {
			if prev, ok := seen[n]; ok {
				return fmt.Errorf("entry name %q owned by both %q and %q", n, prev, rule)
			}
			seen[n] = rule
		}
		return nil
	}
	for _, r := range rs.Discounts {
		if err := check(r.Name(), r.Owns()); err != nil {
			return err
		}
	}
	for _, r := range rs.Surcharges {
		if err := check(r.Name(), r.Owns()); err != nil {
			return err
		}
	}
	return nil
}
