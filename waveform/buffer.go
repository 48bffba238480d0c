package waveform

// Capacity is the default number of samples held per channel
const Capacity = 6000

// CoherentRepeats is the number of times a coherent period is tiled
const CoherentRepeats = 3

// Buffer is a fixed capacity display buffer for one channel.
// Only Data[:Valid] is meaningful; anything past Valid is padding or stale.
type Buffer struct {
	Data  []float64
	Valid int
}

// NewBuffer returns an empty buffer with the given capacity
func NewBuffer(capacity int) Buffer {
	return Buffer{Data: make([]float64, capacity)}
}

// Samples returns the valid portion of the buffer
func (b Buffer) Samples() []float64 {
	return b.Data[:b.Valid]
}

// Builder fills fresh buffers from voltage arrays, one per channel.
// The primary channel is index 0; secondaries are cut at the same indices.
type Builder struct {
	// Capacity of each buffer, Capacity when zero
	Capacity int
}

func (b Builder) capacity() int {
	if b.Capacity <= 0 {
		return Capacity
	}
	return b.Capacity
}

// Empty returns zero filled buffers with nothing valid
func (b Builder) Empty(channels int) []Buffer {
	out := make([]Buffer, channels)
	for i := range out {
		out[i] = NewBuffer(b.capacity())
	}
	return out
}

// Window copies up to Capacity samples of each channel starting at start
func (b Builder) Window(volts [][]float64, start int) []Buffer {
	out := b.Empty(len(volts))
	for i, v := range volts {
		if start >= len(v) {
			continue
		}
		out[i].Valid = copy(out[i].Data, v[start:])
	}
	return out
}

// Cycle copies the samples of c from each channel and right-pads the rest of
// each buffer with its first extracted sample.  A cycle longer than the
// capacity is truncated.
func (b Builder) Cycle(volts [][]float64, c Cycle) []Buffer {
	out := b.Empty(len(volts))
	for i, v := range volts {
		end := c.End
		if end > len(v) {
			end = len(v)
		}
		if c.Start >= end {
			continue
		}
		n := copy(out[i].Data, v[c.Start:end])
		out[i].Valid = n
		fill := out[i].Data[0]
		for j := n; j < len(out[i].Data); j++ {
			out[i].Data[j] = fill
		}
	}
	return out
}

// Coherent tiles each single period CoherentRepeats times.
// Valid becomes min(capacity, len(period)*CoherentRepeats).
func (b Builder) Coherent(periods [][]float64) []Buffer {
	out := b.Empty(len(periods))
	for i, p := range periods {
		if len(p) == 0 {
			continue
		}
		data := out[i].Data
		n := len(p) * CoherentRepeats
		if n > len(data) {
			n = len(data)
		}
		for j := 0; j < n; j++ {
			data[j] = p[j%len(p)]
		}
		out[i].Valid = n
	}
	return out
}
