package fees

import (
	"encoding/json"

	"github.com/kasira-dev/fees-engine/internal/money"
)

// Ledger holds the fee entries of a session in insertion order with at most
// one entry per name. Put removes any existing entry with the same name
// before appending, so the uniqueness invariant is structural rather than
// checked after the fact.
type Ledger struct {
	entries []Entry
}

// NewLedger builds a ledger from entries in order. Duplicate names collapse
// to the last occurrence, which heals externally injected duplicates when
// persisted state is loaded back.
func NewLedger(entries []Entry) Ledger {
	var l Ledger
	for _, e := range entries {
		l.Put(e)
	}
	return l
}

// Put inserts the entry, replacing any previous entry with the same name.
// The replacement is appended at the end rather than updated in place.
func (l *Ledger) Put(e Entry) {
	l.Remove(e.Name)
	l.entries = append(l.entries, e)
}

// Remove deletes the entries with the given names, preserving the order of
// the remainder. Unknown names are ignored.
func (l *Ledger) Remove(names ...string) {
	if len(l.entries) == 0 || len(names) == 0 {
		return
	}
	drop := make(map[string]struct{}, len(names))
	for _, n := range names {
		drop[n] = struct{}{}
	}
	kept := l.entries[:0]
	for _, e := range l.entries {
		if _, ok := drop[e.Name]; !ok {
			kept = append(kept, e)
		}
	}
	l.entries = kept
}

// Get returns the entry with the given name.
func (l Ledger) Get(name string) (Entry, bool) {
	for _, e := range l.entries {
		if e.Name == name {
			return e, true
		}
	}
	return Entry{}, false
}

// Has reports whether an entry with the given name exists.
func (l Ledger) Has(name string) bool {
	_, ok := l.Get(name)
	return ok
}

// Len returns the number of entries.
func (l Ledger) Len() int {
	return len(l.entries)
}

// Entries returns a copy of the entries in ledger order.
func (l Ledger) Entries() []Entry {
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Clone returns an independent copy of the ledger.
func (l Ledger) Clone() Ledger {
	return Ledger{entries: l.Entries()}
}

// DiscountTotal sums the discount entries. The result is signed and never
// positive for a well-formed ledger.
func (l Ledger) DiscountTotal() money.Money {
	var total money.Money
	for _, e := range l.entries {
		if e.Kind == KindDiscount {
			total += e.Amount
		}
	}
	return total
}

// SurchargeTotal sums the surcharge entries.
func (l Ledger) SurchargeTotal() money.Money {
	var total money.Money
	for _, e := range l.entries {
		if e.Kind == KindSurcharge {
			total += e.Amount
		}
	}
	return total
}

// Total sums all entries.
func (l Ledger) Total() money.Money {
	var total money.Money
	for _, e := range l.entries {
		total += e.Amount
	}
	return total
}

// MarshalJSON encodes the ledger as its ordered entry array.
func (l Ledger) MarshalJSON() ([]byte, error) {
	if l.entries == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(l.entries)
}

// UnmarshalJSON decodes an entry array, healing duplicate names through Put.
func (l *Ledger) UnmarshalJSON(data []byte) error {
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return err
	}
	*l = NewLedger(entries)
	return nil
}
