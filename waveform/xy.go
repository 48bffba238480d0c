package waveform

import (
	"sync"
	"time"

	"github.jpl.nasa.gov/bdube/wavescope/util"
)

// Axis is the offset and range of one X-Y axis
type Axis struct {
	DCOffset float64 `json:"dcOffset"`
	Min      float64 `json:"min"`
	Max      float64 `json:"max"`
}

func (a Axis) scale() Scale {
	return Scale{Min: a.Min, Max: a.Max}
}

// XYRendered is a frame drawn with the primary channel on X and the secondary on Y
type XYRendered struct {
	Seq    uint64 `json:"seq"`
	Source Source `json:"source"`

	// Points of this frame, in sample order
	Points []Point `json:"points"`

	// History holds the persisted points of earlier frames and this one,
	// oldest first.  Empty when persistence is off.
	History []Point `json:"history,omitempty"`

	X Axis `json:"x"`
	Y Axis `json:"y"`

	Frequency float64   `json:"frequency"`
	Time      time.Time `json:"time"`
}

// XYRenderer draws two channel frames as a Lissajous figure, optionally
// accumulating points across frames.  It is safe for concurrent use.
type XYRenderer struct {
	mu      sync.Mutex
	persist *Persistence
	on      bool
	prevX   Axis
	prevY   Axis
	prevAC  bool
	init    bool

	// lastSeq is the frame last added to persist, valid when added is set
	lastSeq uint64
	added   bool
}

// NewXYRenderer returns a renderer that keeps at most maxPersist points of history
func NewXYRenderer(maxPersist int) *XYRenderer {
	return &XYRenderer{persist: NewPersistence(maxPersist)}
}

// SetPersistence turns accumulation on or off.  Any change clears the history.
func (r *XYRenderer) SetPersistence(on bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if on != r.on {
		r.persist.Clear()
		r.added = false
	}
	r.on = on
}

// Persistence reports whether points accumulate across frames
func (r *XYRenderer) Persistence() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.on
}

// Clear drops the accumulated history
func (r *XYRenderer) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.persist.Clear()
	r.added = false
}

// xySpan returns the sample range of the frame drawn as X-Y.  Raw interval
// windows are cut to one cycle of the X channel when one can be found.
func xySpan(f *Frame, x []float64) (start, end int) {
	if f.Mode == Interval && f.Source == SourceWindow {
		ac := make([]float64, len(x))
		m := util.Mean(x)
		for i, v := range x {
			ac[i] = v - m
		}
		if c, ok := FindCycle(ac); ok {
			return c.Start, c.End
		}
	}
	return 0, len(x)
}

// Render draws f, which needs two channels to produce points.  The zoom and
// width of d are ignored.  A frame is added to the history once however many
// times it is rendered.
func (r *XYRenderer) Render(f *Frame, d Display) XYRendered {
	out := XYRendered{Points: []Point{}}
	if f != nil {
		out.Seq, out.Source, out.Frequency, out.Time = f.Seq, f.Source, f.Frequency, f.Time
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.init || r.prevAC != d.AC {
		def := DefaultScale(d.AC)
		r.prevX = Axis{Min: def.Min, Max: def.Max}
		r.prevY = r.prevX
		r.prevAC = d.AC
		r.init = true
	}
	out.X, out.Y = r.prevX, r.prevY
	if f == nil || len(f.Buffers) < 2 {
		if r.on {
			out.History = r.persist.Points()
		}
		return out
	}
	n := f.Buffers[0].Valid
	if f.Buffers[1].Valid < n {
		n = f.Buffers[1].Valid
	}
	xs, ys := f.Buffers[0].Data[:n], f.Buffers[1].Data[:n]
	start, end := xySpan(f, xs)
	xs, ys = xs[start:end], ys[start:end]

	out.X = r.axis(r.prevX, xs, d)
	out.Y = r.axis(r.prevY, ys, d)
	r.prevX, r.prevY = out.X, out.Y

	xsc, ysc := out.X.scale(), out.Y.scale()
	out.Points = make([]Point, len(xs))
	for i := range xs {
		out.Points[i] = Point{
			X: xsc.Normalize(xs[i] - out.X.DCOffset),
			Y: 1 - ysc.Normalize(ys[i]-out.Y.DCOffset)}
	}
	if r.on {
		if !r.added || r.lastSeq != f.Seq {
			r.persist.Add(out.Points...)
			r.lastSeq, r.added = f.Seq, true
		}
		out.History = r.persist.Points()
	}
	return out
}

// axis computes the offset and range of one axis, keeping prev's range when
// the data is degenerate
func (r *XYRenderer) axis(prev Axis, v []float64, d Display) Axis {
	var a Axis
	if d.AC {
		a.DCOffset = util.Mean(v)
	}
	def := DefaultScale(d.AC)
	a.Min, a.Max = def.Min, def.Max
	if !d.Auto {
		return a
	}
	lo, hi := util.MinMax(v)
	min, max, ok := AxisRange(lo-a.DCOffset, hi-a.DCOffset, d.AC)
	if !ok {
		a.Min, a.Max = prev.Min, prev.Max
		return a
	}
	a.Min, a.Max = min, max
	return a
}
