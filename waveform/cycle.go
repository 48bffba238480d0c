// Package waveform turns raw captures into display buffers and normalized traces.
//
// The pipeline is cycle extraction or trigger alignment, then buffer filling,
// then scaling and resampling to screen-agnostic points.  Every stage is a pure
// function of its inputs; the only carried state is the previous Scale held by
// a Renderer and the point history held by a Persistence.
package waveform

import "github.jpl.nasa.gov/bdube/wavescope/util"

// MinPeriod is the shortest period, in samples, the cycle detector will accept
const MinPeriod = 10

// Cycle is a half-open index range [Start, End) covering one period
type Cycle struct {
	Start, End int

	// Period is the median crossing spacing the cycle was cut from
	Period int
}

// Len is the number of samples in the cycle
func (c Cycle) Len() int {
	return c.End - c.Start
}

// RisingCrossings returns every index i with ac[i-1] < 0 and ac[i] >= 0
func RisingCrossings(ac []float64) []int {
	var out []int
	for i := 1; i < len(ac); i++ {
		if ac[i-1] < 0 && ac[i] >= 0 {
			out = append(out, i)
		}
	}
	return out
}

// FindCycle locates one period in DC-centered data.
//
// The period is the median spacing of rising zero crossings.  The cycle starts
// at the first crossing and ends at the crossing nearest one period later.
// ok is false with fewer than two crossings or a period under MinPeriod.
func FindCycle(ac []float64) (c Cycle, ok bool) {
	cross := RisingCrossings(ac)
	period := medianSpacing(cross)
	if period == 0 {
		return Cycle{}, false
	}

	start := cross[0]
	want := start + period
	end := cross[1]
	for _, x := range cross[1:] {
		if abs(x-want) < abs(end-want) {
			end = x
		}
	}
	if end <= start {
		return Cycle{}, false
	}
	return Cycle{Start: start, End: end, Period: period}, true
}

// MedianPeriod returns the median rising crossing spacing of ac, or 0 if
// there are fewer than two crossings or the spacing is under MinPeriod
func MedianPeriod(ac []float64) int {
	return medianSpacing(RisingCrossings(ac))
}

func medianSpacing(cross []int) int {
	if len(cross) < 2 {
		return 0
	}
	spacing := make([]int, len(cross)-1)
	for i := range spacing {
		spacing[i] = cross[i+1] - cross[i]
	}
	p := util.UpperMedian(spacing)
	if p < MinPeriod {
		return 0
	}
	return p
}

func abs(i int) int {
	if i < 0 {
		return -i
	}
	return i
}
