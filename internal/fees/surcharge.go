package fees

import (
	"strings"

	"github.com/kasira-dev/fees-engine/internal/money"
)

// MethodSurcharge adds a percentage fee when the session pays with a specific
// payment method. For any other method the rule produces nothing, so the fee
// is absent from the ledger rather than present at zero.
type MethodSurcharge struct {
	EntryName string
	Method    string
	RateBps   int64
	Taxable   bool
}

// Name implements SurchargeRule.
func (s MethodSurcharge) Name() string { return "method_surcharge_" + strings.ToLower(s.Method) }

// Owns implements SurchargeRule.
func (s MethodSurcharge) Owns() []string { return []string{s.EntryName} }

// Required implements SurchargeRule. The entry must exist whenever the
// session's payment method matches.
func (s MethodSurcharge) Required(snap Snapshot) []string {
	if !s.matches(snap) {
		return nil
	}
	return []string{s.EntryName}
}

// Apply implements SurchargeRule. The base arrives from the pipeline already
// clamped at zero; the rate is applied and rounded exactly once. A matching
// method always yields the entry, even at a zero base, to stay consistent
// with Required.
func (s MethodSurcharge) Apply(snap Snapshot, base money.Money) ([]Entry, error) {
	if !s.matches(snap) {
		return nil, nil
	}
	amount := money.RoundBps(base, s.RateBps)
	return []Entry{{
		Name:    s.EntryName,
		Kind:    KindSurcharge,
		Amount:  amount,
		Taxable: s.Taxable,
	}}, nil
}

func (s MethodSurcharge) matches(snap Snapshot) bool {
	return strings.EqualFold(snap.PaymentMethod, s.Method)
}
