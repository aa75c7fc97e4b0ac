package fees

// Reason explains a gate decision.
type Reason string

const (
	// ReasonForced means the baseline force flag requested the pass.
	ReasonForced Reason = "forced"
	// ReasonBaselineChanged means the snapshot no longer matches the
	// fingerprint of the last committed pass.
	ReasonBaselineChanged Reason = "baseline_changed"
	// ReasonSurchargeMissing means a surcharge required for the current
	// payment method is absent from the ledger.
	ReasonSurchargeMissing Reason = "surcharge_missing"
	// ReasonUnchanged means nothing warrants a pass.
	ReasonUnchanged Reason = "unchanged"
)

// ShouldRecompute decides whether a recalculation pass is warranted. The
// checks are ordered by strength: an explicit force wins, then a fingerprint
// mismatch, then a required surcharge missing from the ledger. A fresh state
// always fingerprints as changed, so the first pass of a session runs
// unconditionally.
func ShouldRecompute(snap Snapshot, st State, rules RuleSet) (bool, Reason) {
	if st.Baseline.Force {
		return true, ReasonForced
	}
	if Fingerprint(snap, st.Ledger.DiscountTotal()) != st.Baseline.Fingerprint {
		return true, ReasonBaselineChanged
	}
	for _, r := range rules.Surcharges {
		for _, name := range r.Required(snap) {
			if !st.Ledger.Has(name) {
				return true, ReasonSurchargeMissing
			}
		}
	}
	return false, ReasonUnchanged
}
