package adc

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"
)

// Tone describes a synthetic sinusoid on one channel
type Tone struct {
	// Frequency in Hz
	Frequency float64

	// Amplitude is the peak amplitude in volts
	Amplitude float64

	// DC is the offset of the tone in volts
	DC float64

	// Phase in radians
	Phase float64

	// Noise is the standard deviation of additive gaussian noise, in volts
	Noise float64
}

// Synth is a Sampler that produces tones from a virtual clock, for use without hardware.
// Channels without a tone read mid-scale.  It is safe for concurrent use.
type Synth struct {
	// Rate is the sample rate in Hz
	Rate float64

	// Realtime makes captures take as long as the samples they return
	Realtime bool

	mu    sync.Mutex
	tones map[Channel]Tone
	t     float64
	rng   *rand.Rand
	open  bool
}

// NewSynth creates a new synthetic sampler at rate samples per second
func NewSynth(rate float64, seed int64) *Synth {
	return &Synth{
		Rate:  rate,
		tones: make(map[Channel]Tone),
		rng:   rand.New(rand.NewSource(seed)),
		open:  true}
}

// SetTone configures the signal seen on a channel
func (s *Synth) SetTone(ch Channel, t Tone) error {
	if err := ch.Valid(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tones[ch] = t
	return nil
}

// Close marks the sampler closed; further captures return ErrNotInitialized
func (s *Synth) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.open = false
	return nil
}

// code computes the raw value of ch at time t.  s.mu must be held.
func (s *Synth) code(ch Channel, t float64) Sample {
	v := VRef / 2
	if tone, ok := s.tones[ch]; ok {
		v = tone.DC + tone.Amplitude*math.Sin(2*math.Pi*tone.Frequency*t+tone.Phase)
		if tone.Noise > 0 {
			v += s.rng.NormFloat64() * tone.Noise
		}
	}
	c := math.Round(v / VRef * MaxCode)
	if c < 0 {
		c = 0
	} else if c > MaxCode {
		c = MaxCode
	}
	return Sample(c)
}

func (s *Synth) wait(ctx context.Context, d time.Duration) error {
	if !s.Realtime {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// CaptureRaw takes n consecutive samples from one channel
func (s *Synth) CaptureRaw(ctx context.Context, ch Channel, n int) (RawFrame, error) {
	if err := ch.Valid(); err != nil {
		return RawFrame{}, err
	}
	s.mu.Lock()
	if !s.open {
		s.mu.Unlock()
		return RawFrame{}, ErrNotInitialized
	}
	dt := 1 / s.Rate
	out := make([]Sample, n)
	for i := range out {
		out[i] = s.code(ch, s.t)
		s.t += dt
	}
	s.mu.Unlock()
	elapsed := time.Duration(float64(n) * dt * float64(time.Second))
	if err := s.wait(ctx, elapsed); err != nil {
		return RawFrame{}, err
	}
	return RawFrame{Channel: ch, Samples: out, Elapsed: elapsed}, nil
}

// CaptureRawDual takes n sample pairs from two channels.  The second channel of
// each pair is read half a sample period after the first, as on real hardware.
func (s *Synth) CaptureRawDual(ctx context.Context, a, b Channel, n int) (RawFrame, RawFrame, error) {
	if err := a.Valid(); err != nil {
		return RawFrame{}, RawFrame{}, err
	}
	if err := b.Valid(); err != nil {
		return RawFrame{}, RawFrame{}, err
	}
	s.mu.Lock()
	if !s.open {
		s.mu.Unlock()
		return RawFrame{}, RawFrame{}, ErrNotInitialized
	}
	dt := 1 / s.Rate
	outA := make([]Sample, n)
	outB := make([]Sample, n)
	for i := 0; i < n; i++ {
		outA[i] = s.code(a, s.t)
		outB[i] = s.code(b, s.t+dt/2)
		s.t += dt
	}
	s.mu.Unlock()
	elapsed := time.Duration(float64(n) * dt * float64(time.Second))
	if err := s.wait(ctx, elapsed); err != nil {
		return RawFrame{}, RawFrame{}, err
	}
	return RawFrame{Channel: a, Samples: outA, Elapsed: elapsed},
		RawFrame{Channel: b, Samples: outB, Elapsed: elapsed}, nil
}

// CaptureCoherent captures rawBudget samples and folds them into one period
func (s *Synth) CaptureCoherent(ctx context.Context, ch Channel, targetPoints, rawBudget int) (Coherent, error) {
	f, err := s.CaptureRaw(ctx, ch, rawBudget)
	if err != nil {
		return Coherent{}, err
	}
	return Fold(f, targetPoints)
}

// CaptureCoherentDual captures rawBudget sample pairs and folds both on the period of a
func (s *Synth) CaptureCoherentDual(ctx context.Context, a, b Channel, targetPoints, rawBudget int) (Coherent, Coherent, error) {
	fa, fb, err := s.CaptureRawDual(ctx, a, b, rawBudget)
	if err != nil {
		return Coherent{}, Coherent{}, err
	}
	return FoldDual(fa, fb, targetPoints)
}
