package money

import "testing"

func TestRoundBps(t *testing.T) {
	cases := []struct {
		name   string
		amount Money
		bps    int64
		want   Money
	}{
		{"three percent of 521.26", 52_126, 300, 1_564},
		{"three percent of 571.26", 57_126, 300, 1_714},
		{"exact half rounds away", 5, 1000, 1},
		{"below half rounds down", 4, 1000, 0},
		{"negative half rounds away", -5, 1000, -1},
		{"zero amount", 0, 300, 0},
		{"full rate", 52_126, 10_000, 52_126},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := RoundBps(tc.amount, tc.bps); got != tc.want {
				t.Fatalf("RoundBps(%d, %d) = %d, want %d", tc.amount, tc.bps, got, tc.want)
			}
		})
	}
}

func TestParseRate(t *testing.T) {
	got, err := ParseRate("0.03")
	if err != nil {
		t.Fatalf("parse rate: %v", err)
	}
	if got != 300 {
		t.Fatalf("expected 300 bps, got %d", got)
	}
	if _, err := ParseRate("0.00001"); err == nil {
		t.Fatal("expected error for sub-bps rate")
	}
	if _, err := ParseRate("1.5"); err == nil {
		t.Fatal("expected error for rate above 1")
	}
	if _, err := ParseRate("-0.01"); err == nil {
		t.Fatal("expected error for negative rate")
	}
}

func TestParseAmount(t *testing.T) {
	got, err := ParseAmount("545.00")
	if err != nil {
		t.Fatalf("parse amount: %v", err)
	}
	if got != 54_500 {
		t.Fatalf("expected 54500 minor units, got %d", got)
	}
	got, err = ParseAmount("26.26")
	if err != nil {
		t.Fatalf("parse amount: %v", err)
	}
	if got != 2_626 {
		t.Fatalf("expected 2626 minor units, got %d", got)
	}
	if _, err := ParseAmount("1.005"); err == nil {
		t.Fatal("expected error for sub-minor amount")
	}
}

func TestFormat(t *testing.T) {
	if got := Format(1_564); got != "15.64" {
		t.Fatalf("expected 15.64, got %s", got)
	}
	if got := Format(-5_000); got != "-50.00" {
		t.Fatalf("expected -50.00, got %s", got)
	}
	if got := Format(0); got != "0.00" {
		t.Fatalf("expected 0.00, got %s", got)
	}
}
