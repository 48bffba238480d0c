package waveform

import (
	"math"
	"sync"
	"time"

	"github.jpl.nasa.gov/bdube/wavescope/adc"
	"github.jpl.nasa.gov/bdube/wavescope/util"
)

const (
	// InterpolateBelow is the displayed sample count under which traces are
	// drawn through Catmull-Rom splines instead of one point per sample
	InterpolateBelow = 100

	// DefaultZoom is the percentage of a continuous window that is displayed
	DefaultZoom = 75

	// DefaultWidth is the number of interpolated points per trace
	DefaultWidth = 800
)

// Point is a normalized screen coordinate.  X runs left to right over [0, 1)
// and may be slightly negative after the trigger shift; Y runs top to bottom
// over [0, 1].
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Display holds the settings that affect rendering but not acquisition
type Display struct {
	// AC removes the mean of each channel before scaling
	AC bool `json:"ac" koanf:"ac"`

	// Auto fits the vertical range to the signal
	Auto bool `json:"auto" koanf:"auto"`

	// Zoom is the percentage of a continuous window shown, 1-100
	Zoom int `json:"zoom" koanf:"zoom"`

	// Width is the number of output points for interpolated traces
	Width int `json:"width" koanf:"width"`
}

// DefaultDisplay is AC coupled, autoscaled, at DefaultZoom
func DefaultDisplay() Display {
	return Display{AC: true, Auto: true, Zoom: DefaultZoom, Width: DefaultWidth}
}

// Trace is one channel's rendered line strip
type Trace struct {
	Channel adc.Channel `json:"channel"`
	Points  []Point     `json:"points"`

	// Vpp is the peak to peak of the displayed values, volts
	Vpp float64 `json:"vpp"`

	// DCOffset is the mean removed before display, volts
	DCOffset float64 `json:"dcOffset"`
}

// Rendered is a frame resampled for display
type Rendered struct {
	Seq    uint64 `json:"seq"`
	Mode   Mode   `json:"mode"`
	Source Source `json:"source"`

	Traces []Trace `json:"traces"`
	Scale  Scale   `json:"scale"`

	// DisplaySamples is the number of buffer samples the traces span
	DisplaySamples int `json:"displaySamples"`

	// Interpolated is true when the traces were drawn through splines
	Interpolated bool `json:"interpolated"`

	Triggered       bool      `json:"triggered"`
	TriggerFraction float64   `json:"triggerFraction"`
	Frequency       float64   `json:"frequency"`
	Cycles          int       `json:"cycles,omitempty"`
	SampleRate      float64   `json:"sampleRate"`
	Time            time.Time `json:"time"`
}

// CatmullRom evaluates the Catmull-Rom spline through y at fractional index fi.
// Neighbor indices are clamped to the ends of y, which must not be empty.
func CatmullRom(y []float64, fi float64) float64 {
	n := len(y)
	last := n - 1
	i1 := int(math.Floor(fi))
	if i1 < 0 {
		i1 = 0
	}
	if i1 > last {
		i1 = last
	}
	t := fi - float64(i1)
	i0, i2, i3 := i1-1, i1+1, i1+2
	if i0 < 0 {
		i0 = 0
	}
	if i2 > last {
		i2 = last
	}
	if i3 > last {
		i3 = last
	}
	y0, y1, y2, y3 := y[i0], y[i1], y[i2], y[i3]
	a := -0.5*y0 + 1.5*y1 - 1.5*y2 + 0.5*y3
	b := y0 - 2.5*y1 + 2*y2 - 0.5*y3
	c := -0.5*y0 + 0.5*y2
	return ((a*t+b)*t+c)*t + y1
}

// DisplaySamples returns how many samples of a buffer with valid samples are
// shown.  Interval frames show everything; continuous frames show zoom percent,
// at least 2 and at most valid.
func DisplaySamples(mode Mode, valid, zoom int) int {
	if mode == Interval {
		return valid
	}
	return util.ClampInt(valid*zoom/100, 2, valid)
}

// Renderer resamples frames to normalized traces, carrying the vertical scale
// from frame to frame.  It is safe for concurrent use.
type Renderer struct {
	mu     sync.Mutex
	prev   Scale
	prevAC bool
	init   bool
}

// Reset forgets the carried scale
func (r *Renderer) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.init = false
}

// Render scales and resamples f.  A nil frame or one with fewer than two
// valid samples renders with no points.
func (r *Renderer) Render(f *Frame, d Display) Rendered {
	if d.Width <= 0 {
		d.Width = DefaultWidth
	}
	if d.Zoom <= 0 {
		d.Zoom = DefaultZoom
	}
	if f == nil {
		f = EmptyFrame(Continuous, nil, 0)
	}
	r.mu.Lock()
	if !r.init || r.prevAC != d.AC {
		r.prev = DefaultScale(d.AC)
		r.prevAC = d.AC
		r.init = true
	}
	sc := ComputeScale(r.prev, f.Buffers, d.AC, d.Auto)
	r.prev = sc
	r.mu.Unlock()

	out := Rendered{
		Seq:             f.Seq,
		Mode:            f.Mode,
		Source:          f.Source,
		Scale:           sc,
		Triggered:       f.Triggered,
		TriggerFraction: f.TriggerFraction,
		Frequency:       f.Frequency,
		Cycles:          f.Cycles,
		SampleRate:      f.SampleRate,
		Time:            f.Time,
		Traces:          make([]Trace, len(f.Buffers))}

	valid := f.Valid()
	if valid < 2 {
		for i := range out.Traces {
			out.Traces[i] = Trace{Channel: channelAt(f, i), Points: []Point{}, DCOffset: offsetAt(sc, i)}
		}
		return out
	}
	ds := DisplaySamples(f.Mode, valid, d.Zoom)
	out.DisplaySamples = ds
	out.Interpolated = ds < InterpolateBelow
	var shift float64
	if f.Mode == Continuous && f.Triggered {
		shift = f.TriggerFraction / float64(ds)
	}
	for i, b := range f.Buffers {
		n := ds
		if b.Valid < n {
			n = b.Valid
		}
		dc := offsetAt(sc, i)
		tr := Trace{Channel: channelAt(f, i), DCOffset: dc}
		if n < 2 {
			tr.Points = []Point{}
			out.Traces[i] = tr
			continue
		}
		vals := make([]float64, n)
		for j := range vals {
			vals[j] = b.Data[j] - dc
		}
		lo, hi := math.Inf(1), math.Inf(-1)
		emit := func(x, v float64) {
			if v < lo {
				lo = v
			}
			if v > hi {
				hi = v
			}
			tr.Points = append(tr.Points, Point{X: x - shift, Y: 1 - sc.Normalize(v)})
		}
		if out.Interpolated {
			tr.Points = make([]Point, 0, d.Width)
			for s := 0; s < d.Width; s++ {
				fi := float64(s) / float64(d.Width) * float64(n-1)
				emit(float64(s)/float64(d.Width), CatmullRom(vals, fi))
			}
		} else {
			tr.Points = make([]Point, 0, n)
			for j, v := range vals {
				emit(float64(j)/float64(n), v)
			}
		}
		tr.Vpp = hi - lo
		out.Traces[i] = tr
	}
	return out
}

func channelAt(f *Frame, i int) adc.Channel {
	if i < len(f.Channels) {
		return f.Channels[i]
	}
	return adc.Channel(i)
}

func offsetAt(s Scale, i int) float64 {
	if i < len(s.DCOffset) {
		return s.DCOffset[i]
	}
	return 0
}
