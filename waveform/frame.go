package waveform

import (
	"fmt"
	"strings"
	"time"

	"github.jpl.nasa.gov/bdube/wavescope/adc"
)

// Mode is an acquisition mode
type Mode int

const (
	// Continuous captures back to back windows and triggers on each
	Continuous Mode = iota

	// Interval captures one cycle every few seconds
	Interval
)

func (m Mode) String() string {
	switch m {
	case Continuous:
		return "continuous"
	case Interval:
		return "interval"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ParseMode is the inverse of Mode.String, case insensitive
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(s) {
	case "continuous":
		return Continuous, nil
	case "interval":
		return Interval, nil
	default:
		return 0, fmt.Errorf("unknown mode %q, must be continuous or interval", s)
	}
}

// MarshalText satisfies encoding.TextMarshaler
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText satisfies encoding.TextUnmarshaler
func (m *Mode) UnmarshalText(b []byte) error {
	v, err := ParseMode(string(b))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// Source records which path filled a frame's buffers
type Source string

const (
	// SourceEmpty is a placeholder frame published on start or channel change
	SourceEmpty Source = "empty"

	// SourceTriggered is a continuous window aligned on a trigger edge
	SourceTriggered Source = "triggered"

	// SourceFreeRun is a continuous window with no trigger edge
	SourceFreeRun Source = "free-run"

	// SourceCoherent is a tiled coherent period
	SourceCoherent Source = "coherent"

	// SourceCycle is one period cut out by the cycle detector
	SourceCycle Source = "cycle"

	// SourceWindow is a raw window shown when no period could be found
	SourceWindow Source = "window"
)

// Frame is one published acquisition.  It is never modified after publication.
type Frame struct {
	// Seq increases by one for each frame a scope publishes
	Seq uint64

	Mode   Mode
	Source Source

	// Channels lists the inputs in buffer order, primary first
	Channels []adc.Channel

	// Buffers holds one display buffer per channel
	Buffers []Buffer

	// Triggered is true when a trigger edge was found
	Triggered bool

	// TriggerFraction is the sub-sample position of the edge past the first sample, [0, 1)
	TriggerFraction float64

	// Frequency is the smoothed dominant frequency in Hz, zero when unknown
	Frequency float64

	// Cycles is the number of periods averaged into a coherent frame
	Cycles int

	// SampleRate of the capture in samples per second, zero when unknown
	SampleRate float64

	// Raw holds the codes the frame was built from, one slice per channel
	Raw [][]adc.Sample

	// Elapsed is the duration of the capture
	Elapsed time.Duration

	// Time is when the frame was published
	Time time.Time
}

// Valid returns the valid sample count of the primary buffer
func (f *Frame) Valid() int {
	if f == nil || len(f.Buffers) == 0 {
		return 0
	}
	return f.Buffers[0].Valid
}

// EmptyFrame returns a frame with zero filled, zero valid buffers
func EmptyFrame(mode Mode, channels []adc.Channel, capacity int) *Frame {
	return &Frame{
		Mode:     mode,
		Source:   SourceEmpty,
		Channels: channels,
		Buffers:  Builder{Capacity: capacity}.Empty(len(channels)),
		Time:     time.Now()}
}
