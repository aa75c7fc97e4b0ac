package money

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Money represents a monetary value stored in minor units.
type Money = int64

// RoundBps applies a basis-point rate to an amount and rounds the result to
// the nearest minor unit, half away from zero. Fee amounts are rounded here
// and nowhere else; intermediate sums stay exact.
func RoundBps(amount Money, bps int64) Money {
	n := amount * bps
	q := n / 10000
	switch r := n % 10000; {
	case r >= 5000:
		q++
	case r <= -5000:
		q--
	}
	return q
}

// ParseRate converts a decimal rate string such as "0.03" into basis points.
func ParseRate(raw string) (int64, error) {
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return 0, fmt.Errorf("parse rate %q: %w", raw, err)
	}
	bps := d.Mul(decimal.NewFromInt(10000))
	if !bps.IsInteger() {
		return 0, fmt.Errorf("rate %q is finer than basis points", raw)
	}
	v := bps.IntPart()
	if v < 0 || v > 10000 {
		return 0, fmt.Errorf("rate %q outside [0, 1]", raw)
	}
	return v, nil
}

// ParseAmount converts a decimal amount string such as "545.00" into minor units.
func ParseAmount(raw string) (Money, error) {
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", raw, err)
	}
	minor := d.Mul(decimal.NewFromInt(100))
	if !minor.IsInteger() {
		return 0, fmt.Errorf("amount %q is finer than minor units", raw)
	}
	return minor.IntPart(), nil
}

// Format renders minor units as a fixed two-decimal string, 1564 -> "15.64".
func Format(m Money) string {
	return decimal.New(m, -2).StringFixed(2)
}
