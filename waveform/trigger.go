package waveform

// DefaultTriggerLevel sits just above zero so sampling noise around the
// baseline does not fire the trigger
const DefaultTriggerLevel = 0.1

// Trigger is an edge trigger on the primary channel
type Trigger struct {
	Enabled bool `json:"enabled" koanf:"enabled"`

	// Level is the threshold in volts, relative to the DC reference passed to Align
	Level float64 `json:"level" koanf:"level"`

	// Falling selects the falling edge instead of the rising edge
	Falling bool `json:"falling" koanf:"falling"`
}

// DefaultTrigger is a rising trigger at DefaultTriggerLevel
func DefaultTrigger() Trigger {
	return Trigger{Enabled: true, Level: DefaultTriggerLevel}
}

// Align finds the first edge in volts that leaves at least capacity samples
// after it.  ref is subtracted from every sample before the comparison, pass
// the frame mean when AC coupled and zero otherwise.
//
// start is the index of the last sample before the crossing and frac, in [0, 1),
// is how far past start the crossing lies, by linear interpolation.  When the
// trigger is disabled, the input is not longer than capacity, or no edge is
// found, start and frac are zero and found is false.
func (t Trigger) Align(volts []float64, ref float64, capacity int) (start int, frac float64, found bool) {
	if !t.Enabled || len(volts) <= capacity {
		return 0, 0, false
	}
	for i := 1; i < len(volts)-capacity; i++ {
		prev := volts[i-1] - ref
		curr := volts[i] - ref
		var hit bool
		var num, den float64
		if t.Falling {
			hit = prev > t.Level && curr <= t.Level
			num, den = prev-t.Level, prev-curr
		} else {
			hit = prev < t.Level && curr >= t.Level
			num, den = t.Level-prev, curr-prev
		}
		if !hit {
			continue
		}
		if den == 0 {
			return i - 1, 0, true
		}
		frac = num / den
		if frac >= 1 {
			// the crossing lands on curr itself
			return i, 0, true
		}
		return i - 1, frac, true
	}
	return 0, 0, false
}
