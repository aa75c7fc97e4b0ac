package fees

import (
	"errors"
	"fmt"
	"sort"

	"github.com/kasira-dev/fees-engine/internal/money"
)

var (
	// ErrNoTiers is returned when a tiered discount is built without tiers.
	ErrNoTiers = errors.New("tiered discount requires at least one tier")
	// ErrDuplicateTier is returned when two tiers share an entry name.
	ErrDuplicateTier = errors.New("duplicate tier entry name")
)

// Tier is one rung of a tiered spend discount. A customer qualifies for the
// highest tier whose MinSpend their lifetime spend reaches.
type Tier struct {
	// EntryName is the ledger entry name for the tier, unique per tier so a
	// tier change replaces the previous tier's entry rather than updating it.
	EntryName string
	MinSpend  money.Money
	RateBps   int64
}

// TieredSpendDiscount grants a percentage of the cart subtotal based on the
// customer's lifetime spend. When the spend figure is unknown the rule
// produces nothing.
type TieredSpendDiscount struct {
	tiers []Tier
}

// NewTieredSpendDiscount validates the tiers and orders them by ascending
// MinSpend.
func NewTieredSpendDiscount(tiers []Tier) (*TieredSpendDiscount, error) {
	if len(tiers) == 0 {
		return nil, ErrNoTiers
	}
	seen := make(map[string]struct{}, len(tiers))
	for _, t := range tiers {
		if t.EntryName == "" {
			return nil, fmt.Errorf("tier at spend %d: %w", t.MinSpend, ErrEmptyName)
		}
		if t.RateBps <= 0 || t.RateBps > 10000 {
			return nil, fmt.Errorf("tier %q: rate %d bps outside (0, 10000]", t.EntryName, t.RateBps)
		}
		if _, dup := seen[t.EntryName]; dup {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateTier, t.EntryName)
		}
		seen[t.EntryName] = struct{}{}
	}
	ordered := make([]Tier, len(tiers))
	copy(ordered, tiers)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].MinSpend < ordered[j].MinSpend
	})
	return &TieredSpendDiscount{tiers: ordered}, nil
}

// Name implements DiscountRule.
func (d *TieredSpendDiscount) Name() string { return "tiered_spend_discount" }

// Owns implements DiscountRule. Every tier name is owned so a tier switch
// drops the old tier's entry.
func (d *TieredSpendDiscount) Owns() []string {
	names := make([]string, len(d.tiers))
	for i, t := range d.tiers {
		names[i] = t.EntryName
	}
	return names
}

// Apply implements DiscountRule.
func (d *TieredSpendDiscount) Apply(snap Snapshot) ([]Entry, error) {
	if !snap.LifetimeSpendKnown || snap.Subtotal <= 0 {
		return nil, nil
	}
	var matched *Tier
	for i := range d.tiers {
		if snap.LifetimeSpend >= d.tiers[i].MinSpend {
			matched = &d.tiers[i]
		}
	}
	if matched == nil {
		return nil, nil
	}
	amount := money.RoundBps(snap.Subtotal, matched.RateBps)
	if amount <= 0 {
		return nil, nil
	}
	return []Entry{{
		Name:   matched.EntryName,
		Kind:   KindDiscount,
		Amount: -amount,
	}}, nil
}

// PerItemDiscount grants a fixed amount per unit of quantity in the cart once
// the total quantity reaches MinQty. The discount never exceeds the subtotal.
type PerItemDiscount struct {
	EntryName string
	PerUnit   money.Money
	MinQty    int
}

// Name implements DiscountRule.
func (d PerItemDiscount) Name() string { return "per_item_discount" }

// Owns implements DiscountRule.
func (d PerItemDiscount) Owns() []string { return []string{d.EntryName} }

// Apply implements DiscountRule.
func (d PerItemDiscount) Apply(snap Snapshot) ([]Entry, error) {
	if d.PerUnit <= 0 {
		return nil, nil
	}
	var qty int
	for _, it := range snap.Items {
		if it.Qty > 0 {
			qty += it.Qty
		}
	}
	if qty == 0 || qty < d.MinQty {
		return nil, nil
	}
	amount := money.Money(qty) * d.PerUnit
	if amount > snap.Subtotal {
		amount = snap.Subtotal
	}
	if amount <= 0 {
		return nil, nil
	}
	return []Entry{{
		Name:   d.EntryName,
		Kind:   KindDiscount,
		Amount: -amount,
	}}, nil
}
