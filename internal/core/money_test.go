package core

import "testing"

func TestParseAmountToCents(t *testing.T) {
	cases := []struct {
		in  string
		out int64
		ok  bool
	}{
		{"1", 100, true},
		{"1.0", 100, true},
		{"1.23", 123, true},
		{"1,23", 123, true},
		{"0.01", 1, true},
		{"1.005", 101, true}, // half-up rounding
		{" 2.50 ", 250, true},
		{"$1,234.50", 123450, true},
		{"1,234", 123400, true},
		{"1,234,567", 123456700, true},
		{"-1", 0, false},
		{"0", 0, false},
		{"abc", 0, false},
		{"1.2.3", 0, false},
		{"", 0, false},
		{"$", 0, false},
	}
	for _, tc := range cases {
		got, err := ParseAmountToCents(tc.in)
		if tc.ok {
			if err != nil || got != tc.out {
				t.Fatalf("%q expected %d, got %d (err=%v)", tc.in, tc.out, got, err)
			}
		} else {
			if err == nil {
				t.Fatalf("%q expected error", tc.in)
			}
		}
	}
}

func TestParseAmount(t *testing.T) {
	got, err := ParseAmount("1500.255")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 1500.26 {
		t.Fatalf("expected 1500.26, got %v", got)
	}
}

func TestRoundCents(t *testing.T) {
	if got := RoundCents(25000.0 * 0.25); got != 6250 {
		t.Fatalf("expected 6250, got %v", got)
	}
	if got := RoundCents(0.125); got != 0.13 {
		t.Fatalf("expected 0.13, got %v", got)
	}
}
