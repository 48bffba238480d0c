package waveform_test

import (
	"context"
	"math"
	"math/rand"
	"testing"

	"github.jpl.nasa.gov/bdube/wavescope/adc"
	"github.jpl.nasa.gov/bdube/wavescope/util"
	"github.jpl.nasa.gov/bdube/wavescope/waveform"
)

func TestCatmullRomHitsSamples(t *testing.T) {
	y := []float64{0.3, -1.2, 2.5, 0.01, 7, -3}
	for i, v := range y {
		if got := waveform.CatmullRom(y, float64(i)); math.Abs(got-v) > 1e-9 {
			t.Errorf("expected %f at index %d, got %f", v, i, got)
		}
	}
}

func TestCatmullRomLinearIsExact(t *testing.T) {
	y := []float64{0, 1, 2, 3, 4}
	if got := waveform.CatmullRom(y, 1.5); math.Abs(got-1.5) > 1e-12 {
		t.Errorf("expected 1.5 between linear samples, got %f", got)
	}
}

func TestScaleInvariant(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	for k := 0; k < 500; k++ {
		n := 2 + rng.Intn(300)
		buf := waveform.NewBuffer(n)
		buf.Valid = n
		for i := range buf.Data {
			buf.Data[i] = rng.Float64() * adc.VRef
		}
		for _, ac := range []bool{true, false} {
			sc := waveform.ComputeScale(waveform.DefaultScale(ac), []waveform.Buffer{buf}, ac, true)
			m := util.Mean(buf.Samples()) - sc.DCOffset[0]
			if m < sc.Min || m > sc.Max {
				t.Fatalf("ac %v: mean %f outside [%f, %f]", ac, m, sc.Min, sc.Max)
			}
			if ac && sc.Min != -sc.Max {
				t.Fatalf("expected symmetric AC scale, got [%f, %f]", sc.Min, sc.Max)
			}
			if !ac && (sc.Min < 0 || sc.Max > adc.VRef) {
				t.Fatalf("expected DC scale within the converter range, got [%f, %f]", sc.Min, sc.Max)
			}
		}
	}
}

func TestScaleFixed(t *testing.T) {
	buf := waveform.NewBuffer(3)
	buf.Data = []float64{1, 2, 3}
	buf.Valid = 3
	sc := waveform.ComputeScale(waveform.Scale{}, []waveform.Buffer{buf}, true, false)
	if sc.Min != -1.65 || sc.Max != 1.65 || sc.DCOffset[0] != 2 {
		t.Errorf("expected fixed AC scale about 2 V, got %+v", sc)
	}
	sc = waveform.ComputeScale(waveform.Scale{}, []waveform.Buffer{buf}, false, false)
	if sc.Min != 0 || sc.Max != adc.VRef || sc.DCOffset[0] != 0 {
		t.Errorf("expected fixed DC scale, got %+v", sc)
	}
}

func TestScaleDegenerateKeepsPreviousRange(t *testing.T) {
	prev := waveform.Scale{DCOffset: [2]float64{0.2, 0}, Min: -0.4, Max: 0.4}
	flat := waveform.NewBuffer(10)
	flat.Valid = 10
	for i := range flat.Data {
		flat.Data[i] = 1.5
	}
	want := waveform.Scale{DCOffset: [2]float64{1.5, 0}, Min: -0.4, Max: 0.4}
	if sc := waveform.ComputeScale(prev, []waveform.Buffer{flat}, true, true); sc != want {
		t.Errorf("expected a fresh offset with the previous range for flat input, got %+v", sc)
	}
	want.DCOffset[0] = 0
	if sc := waveform.ComputeScale(prev, []waveform.Buffer{waveform.NewBuffer(10)}, true, true); sc != want {
		t.Errorf("expected the previous range for empty input, got %+v", sc)
	}
}

func TestRenderFlatACIsCentered(t *testing.T) {
	var r waveform.Renderer
	buf := waveform.NewBuffer(200)
	buf.Valid = 200
	for i := range buf.Data {
		buf.Data[i] = 1.5
	}
	f := &waveform.Frame{
		Mode:     waveform.Interval,
		Channels: []adc.Channel{3},
		Buffers:  []waveform.Buffer{buf}}
	out := r.Render(f, waveform.DefaultDisplay())
	if out.Scale.DCOffset[0] != 1.5 {
		t.Errorf("expected a 1.5 V offset, got %v", out.Scale.DCOffset[0])
	}
	pts := out.Traces[0].Points
	if len(pts) == 0 || math.Abs(pts[0].Y-0.5) > 1e-9 {
		t.Errorf("expected a flat AC trace on the center line, got %+v", pts[:1])
	}
}

func TestRenderEmptyFrame(t *testing.T) {
	var r waveform.Renderer
	out := r.Render(waveform.EmptyFrame(waveform.Continuous, []adc.Channel{3, 2}, 0), waveform.DefaultDisplay())
	if len(out.Traces) != 2 || len(out.Traces[0].Points) != 0 {
		t.Errorf("expected two empty traces, got %+v", out.Traces)
	}
	out = r.Render(nil, waveform.DefaultDisplay())
	if len(out.Traces) != 0 {
		t.Errorf("expected no traces for a nil frame, got %d", len(out.Traces))
	}
}

func TestRenderInterpolatesShortCycles(t *testing.T) {
	v := sine(40, 40e3, 1e3, 0.5, 1.65, 0)
	f := &waveform.Frame{
		Mode:     waveform.Interval,
		Channels: []adc.Channel{3},
		Buffers:  waveform.Builder{}.Window([][]float64{v}, 0)}
	var r waveform.Renderer
	d := waveform.DefaultDisplay()
	d.Width = 320
	out := r.Render(f, d)
	if !out.Interpolated || out.DisplaySamples != 40 {
		t.Fatalf("expected 40 interpolated samples, got %d (interpolated %v)", out.DisplaySamples, out.Interpolated)
	}
	pts := out.Traces[0].Points
	if len(pts) != 320 {
		t.Fatalf("expected 320 points, got %d", len(pts))
	}
	for i, p := range pts {
		if p.X < 0 || p.X >= 1 || p.Y < 0 || p.Y > 1 {
			t.Fatalf("point %d out of the unit square: %+v", i, p)
		}
	}
	if vpp := out.Traces[0].Vpp; math.Abs(vpp-1) > 0.05 {
		t.Errorf("expected Vpp near 1, got %f", vpp)
	}
}

func TestRenderShiftsByTriggerFraction(t *testing.T) {
	v := sine(1000, 100e3, 1e3, 0.5, 1.65, 0)
	f := &waveform.Frame{
		Mode:            waveform.Continuous,
		Buffers:         waveform.Builder{}.Window([][]float64{v}, 0),
		Triggered:       true,
		TriggerFraction: 0.5}
	var r waveform.Renderer
	d := waveform.DefaultDisplay()
	d.Zoom = 100
	out := r.Render(f, d)
	if out.Interpolated {
		t.Fatal("expected direct mapping for 1000 samples")
	}
	if x := out.Traces[0].Points[0].X; math.Abs(x+0.5/1000) > 1e-12 {
		t.Errorf("expected first x at -0.0005, got %g", x)
	}
}

// the worked example: a 1 kHz sine of 1.5 Vpp about 1.5 V, sampled at 100 kHz
func TestContinuousEndToEnd(t *testing.T) {
	s := adc.NewSynth(100e3, 1)
	s.SetTone(0, adc.Tone{Frequency: 1e3, Amplitude: 0.75, DC: 1.5})
	raw, err := s.CaptureRaw(context.Background(), 0, 10000)
	if err != nil {
		t.Fatal(err)
	}
	volts := adc.Voltages(raw.Samples)
	start, frac, found := waveform.DefaultTrigger().Align(volts, util.Mean(volts), waveform.Capacity)
	if !found {
		t.Fatal("expected a trigger edge")
	}
	f := &waveform.Frame{
		Mode:            waveform.Continuous,
		Channels:        []adc.Channel{0},
		Buffers:         waveform.Builder{}.Window([][]float64{volts}, start),
		Triggered:       found,
		TriggerFraction: frac}
	if f.Valid() != waveform.Capacity {
		t.Errorf("expected a full buffer, got %d", f.Valid())
	}
	var r waveform.Renderer
	out := r.Render(f, waveform.DefaultDisplay())
	sc := out.Scale
	if math.Abs(sc.DCOffset[0]-1.5) > 0.01 {
		t.Errorf("expected dc offset 1.5, got %f", sc.DCOffset[0])
	}
	if sc.Max < 0.8 || sc.Max > 0.95 || sc.Min != -sc.Max {
		t.Errorf("expected symmetric scale near 0.9, got [%f, %f]", sc.Min, sc.Max)
	}
	if vpp := out.Traces[0].Vpp; math.Abs(vpp-1.5) > 0.075 {
		t.Errorf("expected displayed Vpp 1.5 +/- 5%%, got %f", vpp)
	}
	if out.DisplaySamples != waveform.Capacity*waveform.DefaultZoom/100 {
		t.Errorf("expected zoomed sample count, got %d", out.DisplaySamples)
	}
}

func TestCoherentEndToEnd(t *testing.T) {
	s := adc.NewSynth(100e3, 1)
	s.SetTone(0, adc.Tone{Frequency: 1e3, Amplitude: 0.75, DC: 1.5})
	c, err := s.CaptureCoherent(context.Background(), 0, 2000, 10000)
	if err != nil {
		t.Fatal(err)
	}
	bufs := waveform.Builder{}.Coherent([][]float64{adc.Voltages(c.Samples)})
	if bufs[0].Valid != 6000 {
		t.Errorf("expected 6000 valid, got %d", bufs[0].Valid)
	}
	f := &waveform.Frame{Mode: waveform.Interval, Buffers: bufs, Frequency: c.Frequency}
	var r waveform.Renderer
	out := r.Render(f, waveform.DefaultDisplay())
	if vpp := out.Traces[0].Vpp; math.Abs(vpp-1.5) > 0.075 {
		t.Errorf("expected coherent Vpp 1.5 +/- 5%%, got %f", vpp)
	}
}

func TestDisplaySamplesBounds(t *testing.T) {
	cases := []struct {
		mode        waveform.Mode
		valid, zoom int
		want        int
	}{
		{waveform.Continuous, 1000, 75, 750},
		{waveform.Continuous, 1000, 150, 1000},
		{waveform.Continuous, 10, 1, 2},
		{waveform.Interval, 1000, 10, 1000},
	}
	for _, c := range cases {
		if got := waveform.DisplaySamples(c.mode, c.valid, c.zoom); got != c.want {
			t.Errorf("DisplaySamples(%s, %d, %d) = %d, want %d", c.mode, c.valid, c.zoom, got, c.want)
		}
	}
}
