package scope

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/cenkalti/backoff"
	"golang.org/x/time/rate"

	"github.jpl.nasa.gov/bdube/wavescope/adc"
	"github.jpl.nasa.gov/bdube/wavescope/util"
	"github.jpl.nasa.gov/bdube/wavescope/waveform"
)

// worker is the acquisition loop of one session.  Its config is fixed for the
// session; display and trigger settings are read live from the scope.
type worker struct {
	s    *Scope
	smp  adc.Sampler
	cfg  Config
	gen  uint64
	kick chan struct{}

	// freq is the smoothed continuous frequency estimate, zero when unknown
	freq float64
}

func (w *worker) run(ctx context.Context) {
	switch w.cfg.Mode {
	case waveform.Continuous:
		w.continuous(ctx)
	case waveform.Interval:
		w.interval(ctx)
	}
}

// retry runs op until it succeeds, waiting delay between attempts.  It only
// returns an error once ctx is done.
func (w *worker) retry(ctx context.Context, delay time.Duration, what string, op func() error) error {
	b := backoff.WithContext(backoff.NewConstantBackOff(delay), ctx)
	notify := func(err error, d time.Duration) {
		log.Printf("scope: %s failed, retrying in %v, %q\n", what, d, err)
	}
	return backoff.RetryNotify(func() error {
		err := op()
		if err != nil && ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		return err
	}, b, notify)
}

// capture takes n samples, or n pairs in dual channel operation
func (w *worker) capture(ctx context.Context, n int) ([]adc.RawFrame, error) {
	if w.cfg.Secondary == adc.Off {
		f, err := w.smp.CaptureRaw(ctx, w.cfg.Primary, n)
		if err != nil {
			return nil, err
		}
		return []adc.RawFrame{f}, nil
	}
	a, b, err := w.smp.CaptureRawDual(ctx, w.cfg.Primary, w.cfg.Secondary, n)
	if err != nil {
		return nil, err
	}
	return []adc.RawFrame{a, b}, nil
}

// newFrame fills the fields common to raw captures
func (w *worker) newFrame(mode waveform.Mode, raw []adc.RawFrame) (*waveform.Frame, [][]float64) {
	f := &waveform.Frame{
		Mode:       mode,
		Channels:   w.cfg.Channels(),
		Raw:        make([][]adc.Sample, len(raw)),
		SampleRate: raw[0].SampleRate(),
		Elapsed:    raw[0].Elapsed}
	volts := make([][]float64, len(raw))
	for i, r := range raw {
		f.Raw[i] = r.Samples
		volts[i] = adc.Voltages(r.Samples)
	}
	return f, volts
}

func centered(v []float64) []float64 {
	m := util.Mean(v)
	out := make([]float64, len(v))
	for i := range v {
		out[i] = v[i] - m
	}
	return out
}

func (w *worker) continuous(ctx context.Context) {
	lim := rate.NewLimiter(rate.Inf, 1)
	if w.cfg.MaxFrameRate > 0 {
		lim = rate.NewLimiter(rate.Limit(w.cfg.MaxFrameRate), 1)
	}
	for {
		if err := lim.Wait(ctx); err != nil {
			return
		}
		var raw []adc.RawFrame
		err := w.retry(ctx, w.cfg.ContinuousRetry, "continuous capture", func() (err error) {
			raw, err = w.capture(ctx, w.cfg.RawSamples)
			return err
		})
		if err != nil {
			return
		}
		w.s.publish(w.gen, w.continuousFrame(raw))
	}
}

// continuousFrame aligns a window on the trigger and estimates the frequency
func (w *worker) continuousFrame(raw []adc.RawFrame) *waveform.Frame {
	f, volts := w.newFrame(waveform.Continuous, raw)
	d, trig := w.s.Display(), w.s.Trigger()
	var ref float64
	if d.AC {
		ref = util.Mean(volts[0])
	}
	start, frac, found := trig.Align(volts[0], ref, w.cfg.Capacity)
	f.Buffers = waveform.Builder{Capacity: w.cfg.Capacity}.Window(volts, start)
	f.Triggered, f.TriggerFraction = found, frac
	f.Source = waveform.SourceFreeRun
	if found {
		f.Source = waveform.SourceTriggered
	}
	if p := waveform.MedianPeriod(centered(volts[0])); p > 0 && f.SampleRate > 0 {
		est := f.SampleRate / float64(p)
		if w.freq == 0 {
			w.freq = est
		} else {
			w.freq = smoothing*w.freq + (1-smoothing)*est
		}
	}
	f.Frequency = w.freq
	return f
}

func (w *worker) interval(ctx context.Context) {
	for {
		var f *waveform.Frame
		err := w.retry(ctx, w.cfg.IntervalRetry, "interval capture", func() (err error) {
			f, err = w.sample(ctx)
			return err
		})
		if err != nil {
			return
		}
		if w.s.publish(w.gen, f) {
			w.s.save(f)
		}
		if !w.wait(ctx) {
			return
		}
	}
}

// sample takes one interval frame, falling back from the coherent path to a
// single detected cycle to the raw window
func (w *worker) sample(ctx context.Context) (*waveform.Frame, error) {
	if cs, ok := w.smp.(adc.CoherentSampler); ok && w.cfg.CoherentPoints > 0 {
		f, err := w.coherent(ctx, cs)
		if err == nil {
			return f, nil
		}
		if !errors.Is(err, adc.ErrNoPeriod) {
			return nil, err
		}
	}
	raw, err := w.capture(ctx, w.cfg.RawSamples)
	if err != nil {
		return nil, err
	}
	f, volts := w.newFrame(waveform.Interval, raw)
	b := waveform.Builder{Capacity: w.cfg.Capacity}
	if c, ok := waveform.FindCycle(centered(volts[0])); ok {
		f.Source = waveform.SourceCycle
		f.Buffers = b.Cycle(volts, c)
		if f.SampleRate > 0 {
			f.Frequency = f.SampleRate / float64(c.Len())
		}
		return f, nil
	}
	f.Source = waveform.SourceWindow
	f.Buffers = b.Window(volts, 0)
	return f, nil
}

// coherent takes a period averaged capture and tiles it
func (w *worker) coherent(ctx context.Context, cs adc.CoherentSampler) (*waveform.Frame, error) {
	var periods []adc.Coherent
	if w.cfg.Secondary == adc.Off {
		a, err := cs.CaptureCoherent(ctx, w.cfg.Primary, w.cfg.CoherentPoints, w.cfg.CoherentBudget)
		if err != nil {
			return nil, err
		}
		periods = []adc.Coherent{a}
	} else {
		a, b, err := cs.CaptureCoherentDual(ctx, w.cfg.Primary, w.cfg.Secondary, w.cfg.CoherentPoints, w.cfg.CoherentBudget)
		if err != nil {
			return nil, err
		}
		periods = []adc.Coherent{a, b}
	}
	ref := periods[0]
	f := &waveform.Frame{
		Mode:      waveform.Interval,
		Source:    waveform.SourceCoherent,
		Channels:  w.cfg.Channels(),
		Frequency: ref.Frequency,
		Cycles:    ref.Cycles,
		Elapsed:   ref.Period,
		Raw:       make([][]adc.Sample, len(periods))}
	if ref.Period > 0 {
		f.SampleRate = float64(len(ref.Samples)) / ref.Period.Seconds()
	}
	volts := make([][]float64, len(periods))
	for i, p := range periods {
		f.Raw[i] = p.Samples
		volts[i] = adc.Voltages(p.Samples)
	}
	f.Buffers = waveform.Builder{Capacity: w.cfg.Capacity}.Coherent(volts)
	return f, nil
}

// wait blocks for one interval, or while paused.  It returns early when kicked
// and false once ctx is done.
func (w *worker) wait(ctx context.Context) bool {
	timer := time.NewTimer(w.cfg.Interval)
	defer timer.Stop()
	for {
		if w.s.paused.Load() {
			select {
			case <-ctx.Done():
				return false
			case <-w.kick:
				return true
			case <-time.After(PausePoll):
			}
			continue
		}
		select {
		case <-ctx.Done():
			return false
		case <-w.kick:
			return true
		case <-timer.C:
			if !w.s.paused.Load() {
				return true
			}
		}
	}
}
