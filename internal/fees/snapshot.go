package fees

import (
	"github.com/google/uuid"

	"github.com/kasira-dev/fees-engine/internal/money"
)

// Item is a cart line as seen by the fee rules.
type Item struct {
	ProductID uuid.UUID
	Qty       int
	UnitPrice money.Money
	Subtotal  money.Money
}

// Snapshot is the immutable cart view handed to a single recalculation pass.
// The caller resolves every derived input up front; rules never reach back
// into session storage. LifetimeSpendKnown is false when the customer spend
// figure could not be resolved, in which case spend-gated rules treat the
// customer as not qualifying instead of failing the pass.
type Snapshot struct {
	SessionID          uuid.UUID
	CustomerID         uuid.UUID
	Subtotal           money.Money
	ShippingTotal      money.Money
	PaymentMethod      string
	LifetimeSpend      money.Money
	LifetimeSpendKnown bool
	Items              []Item
}
