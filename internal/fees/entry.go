package fees

import (
	"errors"
	"fmt"

	"github.com/kasira-dev/fees-engine/internal/money"
)

var (
	// ErrEmptyName is returned when a fee entry carries no name.
	ErrEmptyName = errors.New("fee entry name required")
	// ErrUnknownKind is returned when a fee entry kind is neither discount nor surcharge.
	ErrUnknownKind = errors.New("unknown fee entry kind")
	// ErrAmountSign is returned when the entry amount sign contradicts its kind.
	ErrAmountSign = errors.New("fee entry amount sign does not match kind")
)

// Kind classifies a fee entry. Discounts carry negative amounts,
// surcharges positive ones.
type Kind string

const (
	KindDiscount  Kind = "discount"
	KindSurcharge Kind = "surcharge"
)

// Valid reports whether the kind is one of the supported values.
func (k Kind) Valid() bool {
	return k == KindDiscount || k == KindSurcharge
}

// Entry is a single named fee line in the ledger. Amount is signed and in
// minor units; Taxable marks whether downstream tax calculation includes it.
type Entry struct {
	Name    string      `json:"name"`
	Kind    Kind        `json:"kind"`
	Amount  money.Money `json:"amount"`
	Taxable bool        `json:"taxable"`
}

// Validate checks the structural invariants of the entry.
func (e Entry) Validate() error {
	if e.Name == "" {
		return ErrEmptyName
	}
	if !e.Kind.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownKind, e.Kind)
	}
	if e.Kind == KindDiscount && e.Amount > 0 {
		return fmt.Errorf("%w: discount %q has positive amount", ErrAmountSign, e.Name)
	}
	if e.Kind == KindSurcharge && e.Amount < 0 {
		return fmt.Errorf("%w: surcharge %q has negative amount", ErrAmountSign, e.Name)
	}
	return nil
}
