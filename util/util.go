// Package util contains misc internal utilities.
package util

import (
	"math"
	"sort"
	"time"
)

// Clamp limits x to the closed interval [low, high]
func Clamp(x, low, high float64) float64 {
	if x < low {
		return low
	}
	if x > high {
		return high
	}
	return x
}

// ClampInt is Clamp for ints
func ClampInt(x, low, high int) int {
	if x < low {
		return low
	}
	if x > high {
		return high
	}
	return x
}

// UpperMedian returns the element at index len/2 of the sorted input,
// which is the upper of the two middle values for even lengths.
// The input is not modified.  Zero is returned for an empty slice.
func UpperMedian(is []int) int {
	if len(is) == 0 {
		return 0
	}
	cpy := make([]int, len(is))
	copy(cpy, is)
	sort.Ints(cpy)
	return cpy[len(cpy)/2]
}

// Mean returns the arithmetic mean of fs, or zero if it is empty
func Mean(fs []float64) float64 {
	if len(fs) == 0 {
		return 0
	}
	var sum float64
	for _, f := range fs {
		sum += f
	}
	return sum / float64(len(fs))
}

// MinMax returns the smallest and largest element of fs.
// For an empty slice, min is +Inf and max is -Inf.
func MinMax(fs []float64) (min, max float64) {
	min, max = math.Inf(1), math.Inf(-1)
	for _, f := range fs {
		if f < min {
			min = f
		}
		if f > max {
			max = f
		}
	}
	return min, max
}

// SecsToDuration converts a float in seconds to a time.Duration
func SecsToDuration(secs float64) time.Duration {
	return time.Duration(math.Round(secs * float64(time.Second)))
}
