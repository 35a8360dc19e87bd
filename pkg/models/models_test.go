package models

import "testing"

func TestPairKey(t *testing.T) {
	tests := []struct {
		a, b   string
		lo, hi string
	}{
		{"a", "b", "a", "b"},
		{"b", "a", "a", "b"},
		{"u100", "u099", "u099", "u100"},
		{"same", "same", "same", "same"},
	}
	for _, tt := range tests {
		lo, hi := PairKey(tt.a, tt.b)
		if lo != tt.lo || hi != tt.hi {
			t.Errorf("PairKey(%q, %q) = (%q, %q), want (%q, %q)", tt.a, tt.b, lo, hi, tt.lo, tt.hi)
		}
	}
}

func TestPairKeyCommutative(t *testing.T) {
	lo1, hi1 := PairKey("x", "y")
	lo2, hi2 := PairKey("y", "x")
	if lo1 != lo2 || hi1 != hi2 {
		t.Errorf("PairKey not symmetric: (%q,%q) vs (%q,%q)", lo1, hi1, lo2, hi2)
	}
}
