package checkout

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kasira-dev/fees-engine/internal/fees"
	"github.com/kasira-dev/fees-engine/internal/money"
	"github.com/kasira-dev/fees-engine/internal/store"
)

// ItemView is one cart line as rendered to clients. Amounts are integer
// minor units.
type ItemView struct {
	ID        uuid.UUID   `json:"id"`
	ProductID uuid.UUID   `json:"productId"`
	Title     string      `json:"title"`
	Qty       int32       `json:"qty"`
	UnitPrice money.Money `json:"unitPrice"`
	Subtotal  money.Money `json:"subtotal"`
}

// EntryView is one ledger entry with a display rendering of its amount.
type EntryView struct {
	Name      string      `json:"name"`
	Kind      fees.Kind   `json:"kind"`
	Amount    money.Money `json:"amount"`
	Formatted string      `json:"formatted"`
	Taxable   bool        `json:"taxable"`
}

// TotalsView aggregates the session figures. GrandTotal folds the fee total
// into subtotal plus shipping.
type TotalsView struct {
	Subtotal            money.Money `json:"subtotal"`
	ShippingTotal       money.Money `json:"shippingTotal"`
	DiscountTotal       money.Money `json:"discountTotal"`
	SurchargeTotal      money.Money `json:"surchargeTotal"`
	FeeTotal            money.Money `json:"feeTotal"`
	GrandTotal          money.Money `json:"grandTotal"`
	GrandTotalFormatted string      `json:"grandTotalFormatted"`
}

// LedgerView is the display pull side of the engine: entries in evaluation
// order, totals and the staleness signal. It is the payload cached per
// session and invalidated on every committed pass.
type LedgerView struct {
	SessionID  uuid.UUID   `json:"sessionId"`
	Entries    []EntryView `json:"entries"`
	Totals     TotalsView  `json:"totals"`
	Signal     fees.Signal `json:"signal"`
	ComputedAt time.Time   `json:"computedAt"`
}

// SessionView is the full session rendering returned by session endpoints.
type SessionView struct {
	ID            uuid.UUID  `json:"id"`
	CustomerID    *uuid.UUID `json:"customerId,omitempty"`
	PaymentMethod string     `json:"paymentMethod"`
	Status        string     `json:"status"`
	Items         []ItemView `json:"items"`
	Ledger        LedgerView `json:"ledger"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
	ExpiresAt     *time.Time `json:"expiresAt,omitempty"`
}

func buildLedgerView(sess store.Session, items []store.SessionItem, st fees.State) LedgerView {
	var subtotal money.Money
	for _, it := range items {
		subtotal += it.Subtotal
	}
	entries := st.Ledger.Entries()
	views := make([]EntryView, 0, len(entries))
	for _, e := range entries {
		views = append(views, EntryView{
			Name:      e.Name,
			Kind:      e.Kind,
			Amount:    e.Amount,
			Formatted: money.Format(e.Amount),
			Taxable:   e.Taxable,
		})
	}
	feeTotal := st.Ledger.Total()
	grand := subtotal + sess.ShippingTotal + feeTotal
	return LedgerView{
		SessionID: sess.ID,
		Entries:   views,
		Totals: TotalsView{
			Subtotal:            subtotal,
			ShippingTotal:       sess.ShippingTotal,
			DiscountTotal:       st.Ledger.DiscountTotal(),
			SurchargeTotal:      st.Ledger.SurchargeTotal(),
			FeeTotal:            feeTotal,
			GrandTotal:          grand,
			GrandTotalFormatted: money.Format(grand),
		},
		Signal:     st.Signal(),
		ComputedAt: st.ComputedAt,
	}
}

// assembleView builds the full session view from the store.
func (s *Service) assembleView(ctx context.Context, sess store.Session) (SessionView, error) {
	items, err := s.Store.ListItems(ctx, sess.ID)
	if err != nil {
		return SessionView{}, fmt.Errorf("list items: %w", err)
	}
	st, err := s.Store.GetFeeState(ctx, sess.ID)
	if err != nil {
		return SessionView{}, fmt.Errorf("load fee state: %w", err)
	}
	itemViews := make([]ItemView, 0, len(items))
	for _, it := range items {
		itemViews = append(itemViews, ItemView{
			ID:        it.ID,
			ProductID: it.ProductID,
			Title:     it.Title,
			Qty:       it.Qty,
			UnitPrice: it.UnitPrice,
			Subtotal:  it.Subtotal,
		})
	}
	return SessionView{
		ID:            sess.ID,
		CustomerID:    sess.CustomerID,
		PaymentMethod: sess.PaymentMethod,
		Status:        sess.Status,
		Items:         itemViews,
		Ledger:        buildLedgerView(sess, items, st),
		CreatedAt:     sess.CreatedAt,
		UpdatedAt:     sess.UpdatedAt,
		ExpiresAt:     sess.ExpiresAt,
	}, nil
}
