package fees

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/kasira-dev/fees-engine/internal/money"
)

// Baseline records the inputs of the last committed pass. Fingerprint covers
// subtotal, shipping total, discount total and payment method; Force requests
// an unconditional recalculation and is cleared by the pass that honors it.
type Baseline struct {
	Fingerprint string
	Force       bool
}

// State is the engine-owned slice of a checkout session: the fee ledger, the
// baseline that gates the next pass, and the staleness signal fields. Callers
// load it, hand it to the pipeline, and persist the replacement wholesale.
// The engine keeps no session state of its own.
type State struct {
	Ledger     Ledger
	Baseline   Baseline
	Version    uint64
	ComputedAt time.Time
}

// Signal is the pull-side staleness marker for cached fee displays. A display
// layer compares LedgerVersion against the version it rendered.
type Signal struct {
	LedgerVersion uint64    `json:"ledgerVersion"`
	ComputedAt    time.Time `json:"computedAt"`
}

// Signal returns the staleness signal for the state.
func (s State) Signal() Signal {
	return Signal{LedgerVersion: s.Version, ComputedAt: s.ComputedAt}
}

// Fingerprint derives the baseline fingerprint from pass inputs. The payment
// method is folded to lower case so casing differences do not force passes.
func Fingerprint(snap Snapshot, discountTotal money.Money) string {
	canonical := fmt.Sprintf("%d|%d|%d|%s",
		snap.Subtotal, snap.ShippingTotal, discountTotal,
		strings.ToLower(snap.PaymentMethod))
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])
}
