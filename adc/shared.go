package adc

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrClosed is returned by Acquire after a Shared has been closed
var ErrClosed = errors.New("shared sampler closed")

// OpenFunc is a function which opens a new Device.
// A closure should be used to encapsulate the bus parameters.
type OpenFunc func() (Device, error)

// Shared holds a single Device used by any number of consumers.
// The device is opened on the first Acquire and closed once every Handle has
// been released and the linger time has elapsed.  It is concurrent safe.
// Shared must be created with NewShared.
type Shared struct {
	open   OpenFunc
	linger time.Duration

	mu     sync.Mutex
	dev    Device
	leased int
	timer  *time.Timer // reclaim timer, nil when not reclaiming
	closed bool
}

// NewShared returns a Shared which opens its device with open
func NewShared(open OpenFunc, linger time.Duration) *Shared {
	return &Shared{open: open, linger: linger}
}

// Acquire returns a Handle to the shared device, opening it if needed.
// If the error is nil, the handle must be given back with Release.
func (s *Shared) Acquire() (*Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if s.dev == nil {
		dev, err := s.open()
		if err != nil {
			return nil, err
		}
		s.dev = dev
	}
	s.leased++
	return &Handle{s: s, dev: s.dev}, nil
}

// Count returns the number of handles currently given out
func (s *Shared) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.leased
}

// IsOpen returns true if the device is currently open
func (s *Shared) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dev != nil
}

// Close closes the device immediately, regardless of outstanding handles.
// Handles still held return ErrNotInitialized from their captures.
func (s *Shared) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return s.reclaim()
}

func (s *Shared) release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.leased--
	if s.leased > 0 || s.dev == nil {
		return
	}
	if s.linger <= 0 {
		s.reclaim()
		return
	}
	s.timer = time.AfterFunc(s.linger, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.leased == 0 {
			s.reclaim()
		}
	})
}

// reclaim closes the device.  s.mu must be held.
func (s *Shared) reclaim() error {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if s.dev == nil {
		return nil
	}
	err := s.dev.Close()
	s.dev = nil
	return err
}

// Handle is one consumer's lease on a Shared device.  It implements Sampler,
// and CoherentSampler when the device does.
type Handle struct {
	s    *Shared
	dev  Device
	once sync.Once
	done bool
	mu   sync.RWMutex
}

// Release gives the handle back.  Calling it more than once is harmless.
func (h *Handle) Release() {
	h.once.Do(func() {
		h.mu.Lock()
		h.done = true
		h.mu.Unlock()
		h.s.release()
	})
}

func (h *Handle) device() (Device, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.done {
		return nil, ErrNotInitialized
	}
	return h.dev, nil
}

// CaptureRaw satisfies Sampler
func (h *Handle) CaptureRaw(ctx context.Context, ch Channel, n int) (RawFrame, error) {
	d, err := h.device()
	if err != nil {
		return RawFrame{}, err
	}
	return d.CaptureRaw(ctx, ch, n)
}

// CaptureRawDual satisfies Sampler
func (h *Handle) CaptureRawDual(ctx context.Context, a, b Channel, n int) (RawFrame, RawFrame, error) {
	d, err := h.device()
	if err != nil {
		return RawFrame{}, RawFrame{}, err
	}
	return d.CaptureRawDual(ctx, a, b, n)
}

// CaptureCoherent satisfies CoherentSampler.  Devices without native support
// are folded in software.
func (h *Handle) CaptureCoherent(ctx context.Context, ch Channel, targetPoints, rawBudget int) (Coherent, error) {
	d, err := h.device()
	if err != nil {
		return Coherent{}, err
	}
	if cs, ok := d.(CoherentSampler); ok {
		return cs.CaptureCoherent(ctx, ch, targetPoints, rawBudget)
	}
	f, err := d.CaptureRaw(ctx, ch, rawBudget)
	if err != nil {
		return Coherent{}, err
	}
	return Fold(f, targetPoints)
}

// CaptureCoherentDual satisfies CoherentSampler
func (h *Handle) CaptureCoherentDual(ctx context.Context, a, b Channel, targetPoints, rawBudget int) (Coherent, Coherent, error) {
	d, err := h.device()
	if err != nil {
		return Coherent{}, Coherent{}, err
	}
	if cs, ok := d.(CoherentSampler); ok {
		return cs.CaptureCoherentDual(ctx, a, b, targetPoints, rawBudget)
	}
	fa, fb, err := d.CaptureRawDual(ctx, a, b, rawBudget)
	if err != nil {
		return Coherent{}, Coherent{}, err
	}
	return FoldDual(fa, fb, targetPoints)
}
