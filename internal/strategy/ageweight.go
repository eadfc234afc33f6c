package strategy

import "time"

// ageFactor implements the piecewise SL/TP width multiplier from spec §4.E
// rule 1. Bounds are half-open at the lower edge: age exactly 1h maps to the
// [1h,2h) bucket (factor 2.5), exactly 2h to [2h,12h) (factor 2.0), and so
// on — tested explicitly in the boundary-behaviour suite (spec §8).
func ageFactor(age time.Duration) float64 {
	switch {
	case age < time.Hour:
		return 3.0
	case age < 2*time.Hour:
		return 2.5
	case age < 12*time.Hour:
		return 2.0
	case age < 24*time.Hour:
		return 1.5
	default:
		return 1.0
	}
}
