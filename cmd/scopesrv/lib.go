package main

import (
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"periph.io/x/conn/v3/physic"

	"github.jpl.nasa.gov/bdube/wavescope/adc"
	"github.jpl.nasa.gov/bdube/wavescope/generichttp"
	scopehttp "github.jpl.nasa.gov/bdube/wavescope/generichttp/scope"
	"github.jpl.nasa.gov/bdube/wavescope/mcp3208"
	"github.jpl.nasa.gov/bdube/wavescope/recorder"
	"github.jpl.nasa.gov/bdube/wavescope/scope"
	"github.jpl.nasa.gov/bdube/wavescope/server/middleware/locker"
	"github.jpl.nasa.gov/bdube/wavescope/util"
	"github.jpl.nasa.gov/bdube/wavescope/waveform"
)

// SPI holds the bus the MCP3208 is attached to
type SPI struct {
	// Bus is a periph SPI port name, e.g. SPI1.0 or /dev/spidev1.0
	Bus string `koanf:"bus" yaml:"bus"`

	// Speed is the clock rate in Hz
	Speed int64 `koanf:"speed" yaml:"speed"`
}

// Mock configures the synthetic sampler used instead of the hardware.  The
// primary channel gets a sine, the secondary the same sine a quarter cycle later.
type Mock struct {
	Enabled bool `koanf:"enabled" yaml:"enabled"`

	// Rate is the sample rate, Hz
	Rate float64 `koanf:"rate" yaml:"rate"`

	// Frequency of the tone, Hz
	Frequency float64 `koanf:"frequency" yaml:"frequency"`

	// Amplitude is the peak of the tone, volts
	Amplitude float64 `koanf:"amplitude" yaml:"amplitude"`

	// Noise is the standard deviation of additive noise, volts
	Noise float64 `koanf:"noise" yaml:"noise"`
}

// Record configures saving of captures to disk
type Record struct {
	// Root is the folder captures are saved under, empty disables the recorder
	Root string `koanf:"root" yaml:"root"`

	Prefix string `koanf:"prefix" yaml:"prefix"`

	// Format is csv or fits
	Format string `koanf:"format" yaml:"format"`

	// Autosave writes every interval frame as it is taken
	Autosave bool `koanf:"autosave" yaml:"autosave"`
}

// Config is the server configuration.  It is populated by koanf from the
// defaults, the yaml file and SCOPESRV_ environment variables in that order.
type Config struct {
	// Addr is the address to listen at
	Addr string `koanf:"addr" yaml:"addr"`

	// Linger is how long the ADC stays open after the last user, seconds
	Linger float64 `koanf:"linger" yaml:"linger"`

	SPI  SPI  `koanf:"spi" yaml:"spi"`
	Mock Mock `koanf:"mock" yaml:"mock"`

	// Primary and Secondary are the channels, secondary -1 is off
	Primary   int `koanf:"primary" yaml:"primary"`
	Secondary int `koanf:"secondary" yaml:"secondary"`

	// Mode is continuous or interval
	Mode string `koanf:"mode" yaml:"mode"`

	// Interval is the interval mode period, 1, 5, 10 or 20 seconds
	Interval float64 `koanf:"interval" yaml:"interval"`

	RawSamples     int `koanf:"rawsamples" yaml:"rawsamples"`
	CoherentPoints int `koanf:"coherentpoints" yaml:"coherentpoints"`
	CoherentBudget int `koanf:"coherentbudget" yaml:"coherentbudget"`

	// MaxFrameRate caps continuous captures per second, 0 is unlimited
	MaxFrameRate float64 `koanf:"maxframerate" yaml:"maxframerate"`

	// StreamRate caps Server-Sent Events per second per client
	StreamRate float64 `koanf:"streamrate" yaml:"streamrate"`

	Display     waveform.Display `koanf:"display" yaml:"display"`
	Trigger     waveform.Trigger `koanf:"trigger" yaml:"trigger"`
	Persistence bool             `koanf:"persistence" yaml:"persistence"`

	Record Record `koanf:"record" yaml:"record"`
}

// DefaultConfig is a single channel interval scope on the hardware
func DefaultConfig() Config {
	sc := scope.DefaultConfig()
	return Config{
		Addr:   ":8000",
		Linger: 2,
		SPI:    SPI{Bus: mcp3208.DefaultBus, Speed: int64(mcp3208.DefaultSpeed / physic.Hertz)},
		Mock: Mock{
			Rate:      100e3,
			Frequency: 1e3,
			Amplitude: 0.75,
			Noise:     0.005},
		Primary:        int(sc.Primary),
		Secondary:      int(sc.Secondary),
		Mode:           sc.Mode.String(),
		Interval:       sc.Interval.Seconds(),
		RawSamples:     sc.RawSamples,
		CoherentPoints: sc.CoherentPoints,
		CoherentBudget: sc.CoherentBudget,
		MaxFrameRate:   30,
		StreamRate:     scopehttp.DefaultStreamRate,
		Display:        waveform.DefaultDisplay(),
		Trigger:        waveform.DefaultTrigger(),
		Record:         Record{Prefix: "scope", Format: string(recorder.CSV)}}
}

// ScopeConfig converts the acquisition settings to a scope.Config
func (c Config) ScopeConfig() (scope.Config, error) {
	m, err := waveform.ParseMode(c.Mode)
	if err != nil {
		return scope.Config{}, err
	}
	sc := scope.Config{
		Primary:        adc.Channel(c.Primary),
		Secondary:      adc.Channel(c.Secondary),
		Mode:           m,
		Interval:       util.SecsToDuration(c.Interval),
		RawSamples:     c.RawSamples,
		CoherentPoints: c.CoherentPoints,
		CoherentBudget: c.CoherentBudget,
		MaxFrameRate:   c.MaxFrameRate}
	if sc.Secondary < 0 {
		sc.Secondary = adc.Off
	}
	return sc, sc.Validate()
}

// OpenFunc returns the function that opens the sampler, either the MCP3208 or
// the synthetic source
func (c Config) OpenFunc() adc.OpenFunc {
	if c.Mock.Enabled {
		m := c.Mock
		primary, secondary := adc.Channel(c.Primary), adc.Channel(c.Secondary)
		return func() (adc.Device, error) {
			s := adc.NewSynth(m.Rate, time.Now().UnixNano())
			s.Realtime = true
			tone := adc.Tone{Frequency: m.Frequency, Amplitude: m.Amplitude, DC: adc.VRef / 2, Noise: m.Noise}
			if err := s.SetTone(primary, tone); err != nil {
				return nil, err
			}
			if secondary != adc.Off {
				tone.Phase = math.Pi / 2
				if err := s.SetTone(secondary, tone); err != nil {
					return nil, err
				}
			}
			return s, nil
		}
	}
	bus, speed := c.SPI.Bus, physic.Frequency(c.SPI.Speed)*physic.Hertz
	return func() (adc.Device, error) {
		return mcp3208.Open(bus, speed)
	}
}

// NewScope builds the sampler, the scope and its recorder from c
func NewScope(c Config) (*scope.Scope, error) {
	sc, err := c.ScopeConfig()
	if err != nil {
		return nil, err
	}
	shared := adc.NewShared(c.OpenFunc(), util.SecsToDuration(c.Linger))
	s, err := scope.New(shared, sc)
	if err != nil {
		return nil, err
	}
	if err = ApplyDisplay(s, c); err != nil {
		return nil, err
	}
	if c.Record.Root != "" {
		f, err := recorder.ParseFormat(c.Record.Format)
		if err != nil {
			return nil, err
		}
		s.SetRecorder(recorder.New(c.Record.Root, c.Record.Prefix, f), c.Record.Autosave)
	}
	return s, nil
}

// ApplyDisplay pushes the display, trigger and persistence settings of c to s
func ApplyDisplay(s *scope.Scope, c Config) error {
	if err := s.SetDisplay(c.Display); err != nil {
		return err
	}
	s.SetTrigger(c.Trigger)
	s.SetPersistence(c.Persistence)
	return nil
}

// BuildMux mounts the scope routes under /scope behind a locker.
// The mux serves a special route, route-list, which returns an
// array of strings containing all routes as JSON.
func BuildMux(s *scope.Scope, c Config) chi.Router {
	root := chi.NewRouter()
	root.Use(middleware.Logger)

	h := scopehttp.NewHTTPScope(s)
	h.StreamRate = c.StreamRate
	l := locker.New()
	locker.Inject(h, l)

	sub := chi.NewRouter()
	sub.Use(l.Check)
	h.RT().Bind(sub)
	stem := "/scope"
	root.Mount(stem, sub)

	routes := routeList(stem, h)
	root.Get("/route-list", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(routes); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
	return root
}

func routeList(stem string, h generichttp.HTTPer) map[string][]string {
	eps := h.RT().Endpoints()
	for i, ep := range eps {
		eps[i] = stem + "/" + strings.TrimPrefix(ep, "/")
	}
	return map[string][]string{stem: eps}
}

// describe renders a one line summary of the acquisition settings
func describe(c Config) string {
	src := fmt.Sprintf("MCP3208 on %s at %v", c.SPI.Bus, physic.Frequency(c.SPI.Speed)*physic.Hertz)
	if c.Mock.Enabled {
		src = fmt.Sprintf("synthetic %v Hz tone", c.Mock.Frequency)
	}
	return fmt.Sprintf("%s, %s mode, primary channel %d, secondary %d", src, c.Mode, c.Primary, c.Secondary)
}
