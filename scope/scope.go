/*Package scope sequences acquisition for the waveform display.

A Scope owns one worker goroutine while running.  The worker captures from a
shared sampler, builds a waveform.Frame and publishes it through an atomic
pointer; the display side reads the latest frame whenever it likes and renders
it with the current display settings.

Two modes exist.  Continuous mode captures back to back windows and aligns
each on a trigger edge.  Interval mode takes one sample every 1, 5, 10 or 20
seconds, preferring a coherent (period averaged) capture, then a single cycle
cut from a raw window, then the raw window itself.  Interval mode may be paused.

Transient capture errors are retried forever at a constant delay without
leaving the running state.  Only failure to acquire the sampler is returned
from Start.
*/
package scope

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.jpl.nasa.gov/bdube/wavescope/adc"
	"github.jpl.nasa.gov/bdube/wavescope/oscilloscope"
	"github.jpl.nasa.gov/bdube/wavescope/recorder"
	"github.jpl.nasa.gov/bdube/wavescope/waveform"
)

const (
	// ContinuousRetry is the delay between failed continuous captures
	ContinuousRetry = 500 * time.Millisecond

	// IntervalRetry is the delay between failed interval captures
	IntervalRetry = 1 * time.Second

	// PausePoll is how often a paused interval worker checks for cancellation
	PausePoll = 100 * time.Millisecond

	// DefaultRawSamples is the size of a continuous or raw interval window
	DefaultRawSamples = 10000

	// DefaultCoherentPoints is the number of points in a coherent period
	DefaultCoherentPoints = 2000

	// DefaultCoherentBudget is the number of raw samples folded into a coherent period
	DefaultCoherentBudget = 20000

	// smoothing is the weight of the previous frequency estimate
	smoothing = 0.7
)

var (
	// ErrRunning is generated when Start is called on a running scope
	ErrRunning = errors.New("scope is already running")

	// ErrNotRunning is generated when Stop or Pause is called on a stopped scope
	ErrNotRunning = errors.New("scope is not running")

	// ErrNotInterval is generated when Pause or Resume is used outside interval mode
	ErrNotInterval = errors.New("pause and resume are only available in interval mode")

	// ErrInterval is generated by an interval other than 1, 5, 10 or 20 seconds
	ErrInterval = errors.New("interval must be 1, 5, 10, or 20 seconds")

	// ErrSameChannel is generated when the secondary channel equals the primary
	ErrSameChannel = errors.New("secondary channel must differ from the primary")

	// ErrZoom is generated by a zoom outside 1-100 percent
	ErrZoom = errors.New("zoom must be between 1 and 100 percent")
)

// Intervals are the allowed interval mode periods
var Intervals = []time.Duration{1 * time.Second, 5 * time.Second, 10 * time.Second, 20 * time.Second}

// ValidInterval returns ErrInterval unless d is one of Intervals
func ValidInterval(d time.Duration) error {
	for _, v := range Intervals {
		if d == v {
			return nil
		}
	}
	return ErrInterval
}

// Config holds the acquisition settings of a Scope
type Config struct {
	// Primary is the channel triggered on and drawn on X in X-Y
	Primary adc.Channel

	// Secondary is the second channel, or adc.Off
	Secondary adc.Channel

	Mode waveform.Mode

	// Interval between interval mode samples
	Interval time.Duration

	// RawSamples is the size of a continuous window and of a raw interval window
	RawSamples int

	// CoherentPoints is the length of a coherent period, zero disables the coherent path
	CoherentPoints int

	// CoherentBudget is the number of raw samples averaged into a coherent period
	CoherentBudget int

	// Capacity of each display buffer
	Capacity int

	// MaxFrameRate caps continuous captures per second, zero is unlimited
	MaxFrameRate float64

	// ContinuousRetry and IntervalRetry override the package retry delays when nonzero
	ContinuousRetry time.Duration
	IntervalRetry   time.Duration
}

// DefaultConfig is single channel 3 in interval mode every 5 seconds
func DefaultConfig() Config {
	return Config{
		Primary:        3,
		Secondary:      adc.Off,
		Mode:           waveform.Interval,
		Interval:       5 * time.Second,
		RawSamples:     DefaultRawSamples,
		CoherentPoints: DefaultCoherentPoints,
		CoherentBudget: DefaultCoherentBudget,
		Capacity:       waveform.Capacity}
}

// Channels returns the active channels, primary first
func (c Config) Channels() []adc.Channel {
	if c.Secondary == adc.Off {
		return []adc.Channel{c.Primary}
	}
	return []adc.Channel{c.Primary, c.Secondary}
}

// Validate checks the channels and interval
func (c Config) Validate() error {
	if err := c.Primary.Valid(); err != nil {
		return err
	}
	if c.Secondary != adc.Off {
		if err := c.Secondary.Valid(); err != nil {
			return err
		}
		if c.Secondary == c.Primary {
			return ErrSameChannel
		}
	}
	if c.Mode != waveform.Continuous && c.Mode != waveform.Interval {
		return fmt.Errorf("unknown mode %d", int(c.Mode))
	}
	return ValidInterval(c.Interval)
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.RawSamples <= 0 {
		c.RawSamples = d.RawSamples
	}
	if c.CoherentBudget <= 0 {
		c.CoherentBudget = d.CoherentBudget
	}
	if c.Capacity <= 0 {
		c.Capacity = d.Capacity
	}
	if c.ContinuousRetry <= 0 {
		c.ContinuousRetry = ContinuousRetry
	}
	if c.IntervalRetry <= 0 {
		c.IntervalRetry = IntervalRetry
	}
	return c
}

// Status is a snapshot of a Scope's state
type Status struct {
	Running     bool             `json:"running"`
	Paused      bool             `json:"paused"`
	Mode        waveform.Mode    `json:"mode"`
	Interval    float64          `json:"interval"`
	Channels    []adc.Channel    `json:"channels"`
	Seq         uint64           `json:"seq"`
	Frequency   float64          `json:"frequency"`
	Source      waveform.Source  `json:"source"`
	Display     waveform.Display `json:"display"`
	Trigger     waveform.Trigger `json:"trigger"`
	Persistence bool             `json:"persistence"`
}

// Scope is the acquisition state machine.  It must be created with New.
// All methods are safe for concurrent use.
type Scope struct {
	shared *adc.Shared

	// mu guards the session state below.  The worker never takes it, so it
	// may be held while joining the worker.
	mu      sync.Mutex
	cfg     Config
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
	kick    chan struct{}
	paused  atomic.Bool

	// pubMu orders publication against Stop so that no frame from an old
	// session is published after Stop returns
	pubMu sync.Mutex
	gen   uint64

	latest atomic.Pointer[waveform.Frame]
	seq    atomic.Uint64

	lmu     sync.RWMutex
	display waveform.Display
	trigger waveform.Trigger

	renderer waveform.Renderer
	xy       *waveform.XYRenderer

	recMu    sync.Mutex
	rec      *recorder.Recorder
	autosave bool
}

// New returns a stopped Scope which captures from shared
func New(shared *adc.Shared, cfg Config) (*Scope, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Scope{
		shared:  shared,
		cfg:     cfg,
		display: waveform.DefaultDisplay(),
		trigger: waveform.DefaultTrigger(),
		xy:      waveform.NewXYRenderer(waveform.MaxPersist)}
	s.latest.Store(waveform.EmptyFrame(cfg.Mode, cfg.Channels(), cfg.Capacity))
	return s, nil
}

// Start acquires the sampler and starts the worker
func (s *Scope) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrRunning
	}
	return s.start()
}

// start launches a session.  s.mu must be held.
func (s *Scope) start() error {
	h, err := s.shared.Acquire()
	if err != nil {
		return fmt.Errorf("acquiring sampler: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.pubMu.Lock()
	s.gen++
	gen := s.gen
	s.pubMu.Unlock()
	s.cancel = cancel
	s.done = make(chan struct{})
	s.kick = make(chan struct{}, 1)
	s.paused.Store(false)
	s.running = true
	s.publishEmpty()
	w := &worker{
		s:    s,
		smp:  h,
		cfg:  s.cfg,
		gen:  gen,
		kick: s.kick}
	go func(done chan struct{}) {
		defer close(done)
		defer h.Release()
		w.run(ctx)
	}(s.done)
	log.Printf("scope: started %s acquisition on channels %v\n", s.cfg.Mode, s.cfg.Channels())
	return nil
}

// Stop cancels the worker and waits for it to exit.  Frames in flight are
// dropped and the display buffers are emptied; the raw data of the last
// frame is kept for export.
func (s *Scope) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return ErrNotRunning
	}
	s.stop()
	return nil
}

// stop signals and joins the worker.  s.mu must be held.
func (s *Scope) stop() {
	s.pubMu.Lock()
	s.gen++
	s.pubMu.Unlock()
	s.cancel()
	<-s.done
	s.running = false
	s.paused.Store(false)
	s.publishStopped()
	log.Println("scope: stopped")
}

// restart applies mutate to the config, stopping and restarting the worker if
// it is running.  An empty frame is published in between.
func (s *Scope) restart(mutate func(*Config)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.cfg
	mutate(&next)
	if err := next.Validate(); err != nil {
		return err
	}
	was := s.running
	if was {
		s.stop()
	}
	s.cfg = next
	s.publishEmpty()
	if was {
		return s.start()
	}
	return nil
}

// SetMode switches acquisition mode, restarting a running scope
func (s *Scope) SetMode(m waveform.Mode) error {
	return s.restart(func(c *Config) { c.Mode = m })
}

// SetChannels changes the primary and secondary channels, restarting a running
// scope.  Pass adc.Off as secondary for single channel operation.
func (s *Scope) SetChannels(primary, secondary adc.Channel) error {
	err := s.restart(func(c *Config) {
		c.Primary = primary
		c.Secondary = secondary
	})
	if err == nil {
		s.renderer.Reset()
		s.xy.Clear()
	}
	return err
}

// SetInterval changes the interval mode period.  A paused scope is resumed
// and the next sample is taken immediately.
func (s *Scope) SetInterval(d time.Duration) error {
	if err := ValidInterval(d); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cfg.Interval == d {
		return nil
	}
	if s.running && s.cfg.Mode == waveform.Interval {
		s.stop()
		s.cfg.Interval = d
		return s.start()
	}
	s.cfg.Interval = d
	return nil
}

// Pause suspends interval sampling
func (s *Scope) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return ErrNotRunning
	}
	if s.cfg.Mode != waveform.Interval {
		return ErrNotInterval
	}
	s.paused.Store(true)
	return nil
}

// Resume continues interval sampling, taking the next sample immediately
func (s *Scope) Resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return ErrNotRunning
	}
	if s.cfg.Mode != waveform.Interval {
		return ErrNotInterval
	}
	if s.paused.Swap(false) {
		select {
		case s.kick <- struct{}{}:
		default:
		}
	}
	return nil
}

// Config returns the acquisition settings
func (s *Scope) Config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Running reports whether the worker is active
func (s *Scope) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Paused reports whether interval sampling is paused
func (s *Scope) Paused() bool {
	return s.paused.Load()
}

// Display returns the display settings
func (s *Scope) Display() waveform.Display {
	s.lmu.RLock()
	defer s.lmu.RUnlock()
	return s.display
}

// SetDisplay replaces the display settings.  They take effect on the next
// render; AC coupling also moves the continuous trigger reference.
func (s *Scope) SetDisplay(d waveform.Display) error {
	if d.Zoom < 1 || d.Zoom > 100 {
		return ErrZoom
	}
	if d.Width <= 0 {
		d.Width = waveform.DefaultWidth
	}
	s.lmu.Lock()
	defer s.lmu.Unlock()
	s.display = d
	return nil
}

// UpdateDisplay applies fn to a copy of the display settings and stores the result
func (s *Scope) UpdateDisplay(fn func(*waveform.Display)) error {
	d := s.Display()
	fn(&d)
	return s.SetDisplay(d)
}

// Trigger returns the trigger settings
func (s *Scope) Trigger() waveform.Trigger {
	s.lmu.RLock()
	defer s.lmu.RUnlock()
	return s.trigger
}

// SetTrigger replaces the trigger settings, used from the next continuous capture
func (s *Scope) SetTrigger(t waveform.Trigger) {
	s.lmu.Lock()
	defer s.lmu.Unlock()
	s.trigger = t
}

// SetPersistence turns X-Y point accumulation on or off, clearing the history
func (s *Scope) SetPersistence(on bool) {
	s.xy.SetPersistence(on)
}

// SetRecorder installs a recorder.  When autosave is true every interval
// frame is saved as it is published.
func (s *Scope) SetRecorder(r *recorder.Recorder, autosave bool) {
	s.recMu.Lock()
	defer s.recMu.Unlock()
	s.rec = r
	s.autosave = autosave && r != nil
}

// Recorder returns the installed recorder and whether autosave is on
func (s *Scope) Recorder() (*recorder.Recorder, bool) {
	s.recMu.Lock()
	defer s.recMu.Unlock()
	return s.rec, s.autosave
}

// Latest returns the most recently published frame, never nil
func (s *Scope) Latest() *waveform.Frame {
	return s.latest.Load()
}

// Render resamples the latest frame with the current display settings
func (s *Scope) Render() waveform.Rendered {
	return s.RenderFrame(s.Latest())
}

// RenderFrame resamples f, a frame taken from Latest or Watch
func (s *Scope) RenderFrame(f *waveform.Frame) waveform.Rendered {
	return s.renderer.Render(f, s.Display())
}

// RenderXY draws the latest frame as an X-Y figure
func (s *Scope) RenderXY() waveform.XYRendered {
	return s.RenderXYFrame(s.Latest())
}

// RenderXYFrame draws f as an X-Y figure
func (s *Scope) RenderXYFrame(f *waveform.Frame) waveform.XYRendered {
	return s.xy.Render(f, s.Display())
}

// LastCapture returns the raw data behind the latest frame
func (s *Scope) LastCapture() oscilloscope.Capture {
	return captureOf(s.Latest())
}

func captureOf(f *waveform.Frame) oscilloscope.Capture {
	return oscilloscope.Capture{
		Channels:   f.Channels,
		Raw:        f.Raw,
		SampleRate: f.SampleRate,
		Elapsed:    f.Elapsed,
		Time:       f.Time}
}

// Watch calls fn with each newly published frame until ctx is done, checking
// every poll.  Frames published between checks are skipped.
func (s *Scope) Watch(ctx context.Context, poll time.Duration, fn func(*waveform.Frame)) error {
	tick := time.NewTicker(poll)
	defer tick.Stop()
	var last *waveform.Frame
	for {
		if f := s.Latest(); f != last {
			last = f
			fn(f)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick.C:
		}
	}
}

// Status returns a snapshot of the scope
func (s *Scope) Status() Status {
	s.mu.Lock()
	cfg, running := s.cfg, s.running
	s.mu.Unlock()
	f := s.Latest()
	return Status{
		Running:     running,
		Paused:      s.paused.Load(),
		Mode:        cfg.Mode,
		Interval:    cfg.Interval.Seconds(),
		Channels:    cfg.Channels(),
		Seq:         f.Seq,
		Frequency:   f.Frequency,
		Display:     s.Display(),
		Trigger:     s.Trigger(),
		Persistence: s.xy.Persistence(),
		Source:      f.Source}
}

// publishEmpty stores an empty frame for the current config.  s.mu must be held.
func (s *Scope) publishEmpty() {
	f := waveform.EmptyFrame(s.cfg.Mode, s.cfg.Channels(), s.cfg.Capacity)
	f.Seq = s.seq.Add(1)
	s.latest.Store(f)
}

// publishStopped replaces the latest frame with an empty one that still
// carries the raw capture of the frame it replaces
func (s *Scope) publishStopped() {
	prev := s.Latest()
	f := waveform.EmptyFrame(s.cfg.Mode, s.cfg.Channels(), s.cfg.Capacity)
	if prev != nil {
		f.Raw, f.SampleRate, f.Elapsed, f.Time = prev.Raw, prev.SampleRate, prev.Elapsed, prev.Time
	}
	f.Seq = s.seq.Add(1)
	s.latest.Store(f)
}

// publish stores f if gen is still the current session.  It reports whether f was published.
func (s *Scope) publish(gen uint64, f *waveform.Frame) bool {
	s.pubMu.Lock()
	defer s.pubMu.Unlock()
	if gen != s.gen {
		return false
	}
	f.Seq = s.seq.Add(1)
	f.Time = time.Now()
	s.latest.Store(f)
	return true
}

// save writes f with the recorder when autosave is on
func (s *Scope) save(f *waveform.Frame) {
	rec, on := s.Recorder()
	if !on || len(f.Raw) == 0 {
		return
	}
	fn, err := rec.Save(captureOf(f))
	if err != nil {
		log.Printf("scope: autosave failed, %q\n", err)
		return
	}
	log.Printf("scope: saved frame %d to %s\n", f.Seq, fn)
}
