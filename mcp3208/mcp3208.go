// Package mcp3208 enables reading the Microchip MCP3208 8-channel 12-bit ADC over SPI.
//
// The device is read one conversion per SPI transaction.  On a Raspberry Pi
// with the bus at 1 MHz this yields on the order of 20-30 kS/s; the achieved rate
// is measured per capture and reported through adc.RawFrame.Elapsed.
package mcp3208

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"

	"github.jpl.nasa.gov/bdube/wavescope/adc"
)

const (
	// DefaultBus is the SPI port the scope hat is wired to
	DefaultBus = "SPI1.0"

	// DefaultSpeed is the SPI clock used when none is given
	DefaultSpeed = 1 * physic.MegaHertz

	// ctxCheckEvery is how many conversions are taken between context checks
	ctxCheckEvery = 256
)

// Txer is the subset of spi.Conn used by the driver
type Txer interface {
	Tx(w, r []byte) error
}

// ADC is an MCP3208 attached to an SPI port.  It is safe for concurrent use;
// transactions are serialized.
type ADC struct {
	mu     sync.Mutex
	conn   Txer
	closer func() error
	w, r   [3]byte
}

// New wraps an already connected SPI conn.  The conn must be in mode 0, 8 bits per word.
func New(conn Txer) *ADC {
	return &ADC{conn: conn}
}

// Open initializes the host drivers and connects to the converter on bus at speed.
// An empty bus uses DefaultBus and a zero speed DefaultSpeed.  Opening is retried
// with exponential backoff for a few seconds, since the SPI device node may not
// exist yet right after boot.
func Open(bus string, speed physic.Frequency) (*ADC, error) {
	if bus == "" {
		bus = DefaultBus
	}
	if speed == 0 {
		speed = DefaultSpeed
	}
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("mcp3208: host init: %w", err)
	}
	var (
		port spi.PortCloser
		conn spi.Conn
	)
	op := func() error {
		var err error
		port, err = spireg.Open(bus)
		if err != nil {
			return err
		}
		conn, err = port.Connect(speed, spi.Mode0, 8)
		if err != nil {
			port.Close()
			// a bad speed or mode will not fix itself
			return backoff.Permanent(err)
		}
		return nil
	}
	err := backoff.Retry(op, &backoff.ExponentialBackOff{
		InitialInterval:     25 * time.Millisecond,
		RandomizationFactor: 0.,
		Multiplier:          2.,
		MaxInterval:         1 * time.Second,
		MaxElapsedTime:      3 * time.Second,
		Clock:               backoff.SystemClock})
	if err != nil {
		return nil, fmt.Errorf("mcp3208: open %s: %w", bus, err)
	}
	return &ADC{conn: conn, closer: port.Close}, nil
}

// Close releases the SPI port.  Further reads return adc.ErrNotInitialized.
func (a *ADC) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.conn = nil
	if a.closer != nil {
		err := a.closer()
		a.closer = nil
		return err
	}
	return nil
}

// read performs one conversion.  a.mu must be held.
func (a *ADC) read(ch adc.Channel) (adc.Sample, error) {
	a.w[0] = 0x06 | byte((ch&4)>>2)
	a.w[1] = byte((ch & 3) << 6)
	a.w[2] = 0
	if err := a.conn.Tx(a.w[:], a.r[:]); err != nil {
		return 0, err
	}
	return adc.Sample(a.r[1]&0x0F)<<8 | adc.Sample(a.r[2]), nil
}

// Read performs a single conversion on ch
func (a *ADC) Read(ch adc.Channel) (adc.Sample, error) {
	if err := ch.Valid(); err != nil {
		return 0, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.conn == nil {
		return 0, adc.ErrNotInitialized
	}
	return a.read(ch)
}

// CaptureRaw takes n back to back conversions from ch
func (a *ADC) CaptureRaw(ctx context.Context, ch adc.Channel, n int) (adc.RawFrame, error) {
	if err := ch.Valid(); err != nil {
		return adc.RawFrame{}, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.conn == nil {
		return adc.RawFrame{}, adc.ErrNotInitialized
	}
	out := make([]adc.Sample, n)
	start := time.Now()
	for i := range out {
		if i%ctxCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return adc.RawFrame{}, err
			}
		}
		v, err := a.read(ch)
		if err != nil {
			return adc.RawFrame{}, fmt.Errorf("mcp3208: read channel %d: %w", ch, err)
		}
		out[i] = v
	}
	return adc.RawFrame{Channel: ch, Samples: out, Elapsed: time.Since(start)}, nil
}

// CaptureRawDual takes n interleaved conversions of channels a and b
func (a *ADC) CaptureRawDual(ctx context.Context, chA, chB adc.Channel, n int) (adc.RawFrame, adc.RawFrame, error) {
	if err := chA.Valid(); err != nil {
		return adc.RawFrame{}, adc.RawFrame{}, err
	}
	if err := chB.Valid(); err != nil {
		return adc.RawFrame{}, adc.RawFrame{}, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.conn == nil {
		return adc.RawFrame{}, adc.RawFrame{}, adc.ErrNotInitialized
	}
	outA := make([]adc.Sample, n)
	outB := make([]adc.Sample, n)
	start := time.Now()
	for i := 0; i < n; i++ {
		if i%ctxCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return adc.RawFrame{}, adc.RawFrame{}, err
			}
		}
		va, err := a.read(chA)
		if err != nil {
			return adc.RawFrame{}, adc.RawFrame{}, fmt.Errorf("mcp3208: read channel %d: %w", chA, err)
		}
		vb, err := a.read(chB)
		if err != nil {
			return adc.RawFrame{}, adc.RawFrame{}, fmt.Errorf("mcp3208: read channel %d: %w", chB, err)
		}
		outA[i], outB[i] = va, vb
	}
	el := time.Since(start)
	return adc.RawFrame{Channel: chA, Samples: outA, Elapsed: el},
		adc.RawFrame{Channel: chB, Samples: outB, Elapsed: el}, nil
}

// CaptureCoherent captures rawBudget conversions and folds them into one period
func (a *ADC) CaptureCoherent(ctx context.Context, ch adc.Channel, targetPoints, rawBudget int) (adc.Coherent, error) {
	f, err := a.CaptureRaw(ctx, ch, rawBudget)
	if err != nil {
		return adc.Coherent{}, err
	}
	return adc.Fold(f, targetPoints)
}

// CaptureCoherentDual captures rawBudget interleaved pairs and folds both on the period of chA
func (a *ADC) CaptureCoherentDual(ctx context.Context, chA, chB adc.Channel, targetPoints, rawBudget int) (adc.Coherent, adc.Coherent, error) {
	fa, fb, err := a.CaptureRawDual(ctx, chA, chB, rawBudget)
	if err != nil {
		return adc.Coherent{}, adc.Coherent{}, err
	}
	return adc.FoldDual(fa, fb, targetPoints)
}
