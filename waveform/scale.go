package waveform

import (
	"math"

	"github.jpl.nasa.gov/bdube/wavescope/adc"
	"github.jpl.nasa.gov/bdube/wavescope/util"
)

// Margin is the fraction of the signal range added above and below when autoscaling
const Margin = 0.1

// Scale maps voltages to the vertical axis
type Scale struct {
	// DCOffset is the mean subtracted from each channel, zero when DC coupled
	DCOffset [2]float64 `json:"dcOffset"`

	// Min and Max bound the axis in volts, after the offset is removed
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// DefaultScale is the full range of the converter, centered on zero when AC coupled
func DefaultScale(ac bool) Scale {
	if ac {
		return Scale{Min: -adc.VRef / 2, Max: adc.VRef / 2}
	}
	return Scale{Min: 0, Max: adc.VRef}
}

// Span returns Max-Min
func (s Scale) Span() float64 {
	return s.Max - s.Min
}

// Normalize maps v onto [0, 1] of the axis, clamped.  A degenerate axis maps to 0.5.
func (s Scale) Normalize(v float64) float64 {
	span := s.Span()
	if !(span > 0) {
		return 0.5
	}
	return util.Clamp((v-s.Min)/span, 0, 1)
}

// AxisRange applies the autoscale margin to the range [lo, hi].
// AC ranges are made symmetric about zero; DC ranges are clamped to [0, VRef].
// ok is false for a degenerate range.
func AxisRange(lo, hi float64, ac bool) (min, max float64, ok bool) {
	if !(hi > lo) || math.IsInf(lo, 0) || math.IsInf(hi, 0) {
		return 0, 0, false
	}
	m := Margin * (hi - lo)
	if ac {
		ext := math.Max(math.Abs(lo-m), math.Abs(hi+m))
		return -ext, ext, true
	}
	return math.Max(0, lo-m), math.Min(adc.VRef, hi+m), true
}

// ComputeScale finds the offsets and vertical range for up to two buffers.
// With auto off the fixed DefaultScale range is used.  With auto on the range
// is the joint extent of every valid, offset-removed sample plus Margin.
// When there is nothing to scale on, the offsets are still computed and the
// range of prev is kept.
func ComputeScale(prev Scale, bufs []Buffer, ac, auto bool) Scale {
	var s Scale
	if ac {
		for i := 0; i < len(bufs) && i < 2; i++ {
			s.DCOffset[i] = util.Mean(bufs[i].Samples())
		}
	}
	if !auto {
		d := DefaultScale(ac)
		s.Min, s.Max = d.Min, d.Max
		return s
	}
	lo, hi := math.Inf(1), math.Inf(-1)
	for i := 0; i < len(bufs) && i < 2; i++ {
		for _, v := range bufs[i].Samples() {
			v -= s.DCOffset[i]
			if v < lo {
				lo = v
			}
			if v > hi {
				hi = v
			}
		}
	}
	min, max, ok := AxisRange(lo, hi, ac)
	if !ok {
		s.Min, s.Max = prev.Min, prev.Max
		return s
	}
	s.Min, s.Max = min, max
	return s
}
