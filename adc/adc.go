// Package adc provides type and interface definitions for 12-bit analog to digital converters
// and the samplers that read them.
package adc

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const (
	// VRef is the reference voltage of the converter, in volts
	VRef = 3.3

	// MaxCode is the largest code a 12-bit converter can produce
	MaxCode = 4095

	// NumChannels is the number of single-ended inputs on the converter
	NumChannels = 8
)

var (
	// ErrNotInitialized is generated when a sampler is used before it is opened or after it is closed
	ErrNotInitialized = errors.New("sampler not initialized")

	// ErrNoPeriod is generated by a coherent capture when no period can be found in the raw data
	ErrNoPeriod = errors.New("no period detected in capture")
)

// ErrChannel is generated when a channel is outside 0..NumChannels-1
type ErrChannel struct {
	Channel Channel
}

func (e ErrChannel) Error() string {
	return fmt.Sprintf("channel %d out of range, must be 0-%d", int(e.Channel), NumChannels-1)
}

// Sample is a single conversion result in [0, MaxCode]
type Sample = uint16

// Channel is an input index on the converter
type Channel int

// Off is used in place of a secondary channel to run single-channel
const Off Channel = -1

// Valid returns nil if the channel exists on the converter
func (c Channel) Valid() error {
	if c < 0 || c >= NumChannels {
		return ErrChannel{Channel: c}
	}
	return nil
}

// Voltage converts a raw code to volts
func Voltage(raw Sample) float64 {
	return float64(raw) * VRef / MaxCode
}

// Voltages converts a slice of raw codes to volts
func Voltages(raw []Sample) []float64 {
	out := make([]float64, len(raw))
	for i, v := range raw {
		out[i] = Voltage(v)
	}
	return out
}

// RawFrame is a block of samples from one channel captured together.
// It must not be modified after it is returned by a Sampler.
type RawFrame struct {
	// Channel is the input the samples were taken from
	Channel Channel

	// Samples holds the raw codes, oldest first
	Samples []Sample

	// Elapsed is the wall clock duration of the capture.  Best effort.
	Elapsed time.Duration
}

// SampleRate returns the average number of samples per second in the frame,
// or zero if the elapsed time is unknown
func (f RawFrame) SampleRate() float64 {
	if f.Elapsed <= 0 || len(f.Samples) == 0 {
		return 0
	}
	return float64(len(f.Samples)) / f.Elapsed.Seconds()
}

// Coherent is a single period reconstructed by averaging many raw periods in phase
type Coherent struct {
	// Channel is the input the samples were taken from
	Channel Channel

	// Samples holds one period of averaged codes
	Samples []Sample

	// Period is the duration of one period of the signal
	Period time.Duration

	// Frequency is the dominant frequency, Hz
	Frequency float64

	// Cycles is the number of raw periods folded into Samples
	Cycles int
}

// Sampler captures blocks of raw samples
type Sampler interface {
	// CaptureRaw takes n consecutive samples from one channel
	CaptureRaw(ctx context.Context, ch Channel, n int) (RawFrame, error)

	// CaptureRawDual takes n interleaved sample pairs from two channels.
	// No phase relationship is guaranteed beyond the interleaving order.
	CaptureRawDual(ctx context.Context, a, b Channel, n int) (RawFrame, RawFrame, error)
}

// CoherentSampler can produce pre-averaged single periods.
// Both methods return ErrNoPeriod when the period of the signal cannot be found.
type CoherentSampler interface {
	Sampler

	// CaptureCoherent averages rawBudget samples into one period of targetPoints samples
	CaptureCoherent(ctx context.Context, ch Channel, targetPoints, rawBudget int) (Coherent, error)

	// CaptureCoherentDual is CaptureCoherent for two channels, with the period,
	// frequency and cycle count taken from channel a and shared by both results
	CaptureCoherentDual(ctx context.Context, a, b Channel, targetPoints, rawBudget int) (Coherent, Coherent, error)
}

// Device is a Sampler which holds a resource that must be released
type Device interface {
	Sampler
	Close() error
}
