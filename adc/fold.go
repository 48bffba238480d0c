package adc

import (
	"math"
	"time"
)

// minPeriodSamples is the shortest period Fold will accept, shorter spacing
// between crossings is treated as noise
const minPeriodSamples = 10

// Fold reconstructs one averaged period of frame with targetPoints samples.
//
// The period is estimated from the linearly interpolated rising crossings of the
// mean-removed data.  Every sample inside the span of whole cycles is then placed
// in a phase bin and the bins are averaged.  ErrNoPeriod is returned if fewer than
// two crossings exist or the mean spacing is under ten samples.  Bins that no
// sample fell in, as happens when the period is a whole number of samples, are
// linearly interpolated from their neighbors.
func Fold(frame RawFrame, targetPoints int) (Coherent, error) {
	return foldWith(frame, frame, targetPoints)
}

// FoldDual folds two interleaved frames using the period found in a
func FoldDual(a, b RawFrame, targetPoints int) (Coherent, Coherent, error) {
	ca, err := foldWith(a, a, targetPoints)
	if err != nil {
		return Coherent{}, Coherent{}, err
	}
	cb, err := foldWith(a, b, targetPoints)
	if err != nil {
		return Coherent{}, Coherent{}, err
	}
	return ca, cb, nil
}

// foldWith folds the samples of data using the period found in ref
func foldWith(ref, data RawFrame, targetPoints int) (Coherent, error) {
	if targetPoints < 2 || len(ref.Samples) < 2 {
		return Coherent{}, ErrNoPeriod
	}
	first, period, cycles, ok := interpolatedPeriod(ref.Samples)
	if !ok {
		return Coherent{}, ErrNoPeriod
	}
	n := len(data.Samples)
	if n > len(ref.Samples) {
		n = len(ref.Samples)
	}
	sums := make([]float64, targetPoints)
	counts := make([]int, targetPoints)
	end := first + float64(cycles)*period
	for i := int(math.Ceil(first)); i < n && float64(i) < end; i++ {
		phase := (float64(i) - first) / period
		phase -= math.Floor(phase)
		bin := int(phase * float64(targetPoints))
		if bin >= targetPoints {
			bin = targetPoints - 1
		}
		sums[bin] += float64(data.Samples[i])
		counts[bin]++
	}
	avg, ok := fillBins(sums, counts)
	if !ok {
		return Coherent{}, ErrNoPeriod
	}
	out := make([]Sample, targetPoints)
	for i, v := range avg {
		out[i] = Sample(math.Round(v))
	}
	c := Coherent{Channel: data.Channel, Samples: out, Cycles: cycles}
	if rate := ref.SampleRate(); rate > 0 {
		secs := period / rate
		c.Period = time.Duration(secs * float64(time.Second))
		c.Frequency = 1 / secs
	}
	return c, nil
}

// interpolatedPeriod finds the fractional index of the first rising crossing,
// the mean spacing between crossings, and the number of whole cycles between
// the first and last crossing
func interpolatedPeriod(raw []Sample) (first, period float64, cycles int, ok bool) {
	var mean float64
	lo, hi := raw[0], raw[0]
	for _, v := range raw {
		mean += float64(v)
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	mean /= float64(len(raw))
	// a crossing only counts after the signal has been clearly negative,
	// so noise riding on a zero crossing does not produce a burst of them
	hyst := 0.05 * float64(hi-lo)

	var crossings []float64
	armed := false
	for i := 1; i < len(raw); i++ {
		prev := float64(raw[i-1]) - mean
		curr := float64(raw[i]) - mean
		if prev < -hyst {
			armed = true
		}
		if armed && prev < 0 && curr >= 0 {
			crossings = append(crossings, float64(i-1)+(-prev)/(curr-prev))
			armed = false
		}
	}
	if len(crossings) < 2 {
		return 0, 0, 0, false
	}
	first = crossings[0]
	last := crossings[len(crossings)-1]
	cycles = len(crossings) - 1
	period = (last - first) / float64(cycles)
	if period < minPeriodSamples {
		return 0, 0, 0, false
	}
	return first, period, cycles, true
}

// fillBins averages each bin and interpolates empty bins circularly from the
// nearest filled bins on either side.  ok is false with fewer than two filled bins.
func fillBins(sums []float64, counts []int) (avg []float64, ok bool) {
	n := len(sums)
	avg = make([]float64, n)
	var filled []int
	for i := range sums {
		if counts[i] > 0 {
			avg[i] = sums[i] / float64(counts[i])
			filled = append(filled, i)
		}
	}
	if len(filled) < 2 {
		return nil, false
	}
	for k, lo := range filled {
		hi := filled[(k+1)%len(filled)]
		gap := hi - lo
		if gap <= 0 {
			gap += n
		}
		for j := 1; j < gap; j++ {
			t := float64(j) / float64(gap)
			avg[(lo+j)%n] = avg[lo]*(1-t) + avg[hi]*t
		}
	}
	return avg, true
}
