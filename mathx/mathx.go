// Package mathx provides rounding helpers for numeric readouts
package mathx

import "math"

// Round rounds a float to the nearest "unit" (0.1 for tenth, 0.01 for hundredth, and so on).
// NaN and infinities are returned unchanged.
func Round(x, unit float64) float64 {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return x
	}
	return math.Round(x/unit) * unit
}
