package waveform_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.jpl.nasa.gov/bdube/wavescope/waveform"
)

func TestWindowCopiesSameStart(t *testing.T) {
	a := []float64{0, 1, 2, 3, 4, 5}
	b := []float64{10, 11, 12, 13, 14, 15}
	bufs := waveform.Builder{Capacity: 4}.Window([][]float64{a, b}, 3)
	if diff := cmp.Diff([]float64{3, 4, 5}, bufs[0].Samples()); diff != "" {
		t.Errorf("primary mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]float64{13, 14, 15}, bufs[1].Samples()); diff != "" {
		t.Errorf("secondary mismatch (-want +got):\n%s", diff)
	}
	if len(bufs[0].Data) != 4 {
		t.Errorf("expected capacity 4, got %d", len(bufs[0].Data))
	}
}

func TestCycleFlatFills(t *testing.T) {
	a := []float64{9, 9, 1, 2, 3, 9}
	b := []float64{8, 8, 4, 5, 6, 8}
	bufs := waveform.Builder{Capacity: 6}.Cycle([][]float64{a, b}, waveform.Cycle{Start: 2, End: 5})
	if bufs[0].Valid != 3 || bufs[1].Valid != 3 {
		t.Errorf("expected 3 valid, got %d and %d", bufs[0].Valid, bufs[1].Valid)
	}
	if diff := cmp.Diff([]float64{1, 2, 3, 1, 1, 1}, bufs[0].Data); diff != "" {
		t.Errorf("primary mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]float64{4, 5, 6, 4, 4, 4}, bufs[1].Data); diff != "" {
		t.Errorf("secondary mismatch (-want +got):\n%s", diff)
	}
}

func TestCoherentTiles(t *testing.T) {
	p := []float64{1, 2, 3}
	bufs := waveform.Builder{Capacity: 20}.Coherent([][]float64{p})
	if diff := cmp.Diff([]float64{1, 2, 3, 1, 2, 3, 1, 2, 3}, bufs[0].Samples()); diff != "" {
		t.Errorf("tile mismatch (-want +got):\n%s", diff)
	}
}

func TestCoherentValidCount(t *testing.T) {
	for _, n := range []int{500, 1999, 2000, 2500} {
		bufs := waveform.Builder{}.Coherent([][]float64{make([]float64, n)})
		expected := n * 3
		if expected > waveform.Capacity {
			expected = waveform.Capacity
		}
		if bufs[0].Valid != expected {
			t.Errorf("period %d: expected valid %d, got %d", n, expected, bufs[0].Valid)
		}
	}
}

func TestEmptyFrame(t *testing.T) {
	f := waveform.EmptyFrame(waveform.Interval, nil, 0)
	if f.Valid() != 0 || f.Source != waveform.SourceEmpty {
		t.Errorf("expected an empty frame, got valid %d source %s", f.Valid(), f.Source)
	}
}

func TestParseMode(t *testing.T) {
	m, err := waveform.ParseMode("Interval")
	if err != nil || m != waveform.Interval {
		t.Errorf("expected Interval, got %v (%v)", m, err)
	}
	if _, err := waveform.ParseMode("roll"); err == nil {
		t.Error("expected an error for an unknown mode")
	}
}
