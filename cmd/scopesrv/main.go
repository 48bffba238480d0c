package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/theckman/yacspin"

	yml "gopkg.in/yaml.v2"

	"github.jpl.nasa.gov/bdube/wavescope/render"
	"github.jpl.nasa.gov/bdube/wavescope/scope"
	"github.jpl.nasa.gov/bdube/wavescope/waveform"
)

var (
	// Version is the version number.  Typically injected via ldflags with git build
	Version = "1"

	// ConfigFileName is what it sounds like
	ConfigFileName = "scopesrv.yml"

	// EnvPrefix marks environment variables that override the file,
	// SCOPESRV_DISPLAY_ZOOM=50 sets display.zoom
	EnvPrefix = "SCOPESRV_"

	k = koanf.New(".")
)

// captureTimeout bounds how long capture waits for a frame
const captureTimeout = 30 * time.Second

func envKey(s string) string {
	return strings.Replace(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "_", ".", -1)
}

// loadConfig layers the defaults, the file and the environment into ko
func loadConfig(ko *koanf.Koanf) error {
	ko.Load(structs.Provider(DefaultConfig(), "koanf"), nil)
	if err := ko.Load(file.Provider(ConfigFileName), yaml.Parser()); err != nil {
		if !errors.Is(err, os.ErrNotExist) { // file missing, who cares
			return err
		}
	}
	return ko.Load(env.Provider(EnvPrefix, ".", envKey), nil)
}

func setupconfig() {
	if err := loadConfig(k); err != nil {
		log.Fatalf("error loading config: %v", err)
	}
}

func unmarshal() Config {
	c := Config{}
	if err := k.Unmarshal("", &c); err != nil {
		log.Fatal(err)
	}
	return c
}

func root() {
	str := `scopesrv samples an MCP3208 ADC on a Raspberry Pi and serves the
reconstructed waveforms over HTTP, as JSON, PNG and Server-Sent Events.

Usage:
	scopesrv <command>

Commands:
	run
	capture <file.csv|file.fits|file.png>
	help
	mkconf
	conf
	version`
	fmt.Println(str)
}

func help() {
	str := `scopesrv is amenable to configuration via its .yml file, scopesrv.yml in the
working directory.  For a primer on YAML, see https://yaml.org/start.html

"scopesrv mkconf" writes the defaults to the file.  Every key may be overridden
by an environment variable, for example SCOPESRV_MODE=continuous or
SCOPESRV_DISPLAY_ZOOM=50.  While running, edits to the display, trigger and
persistence keys of the file are applied without a restart.

Channels are 0-7.  A secondary channel of -1 is single channel operation.
The interval is 1, 5, 10 or 20 seconds.  Set mock.enabled to run without
hardware against a synthetic tone.

The routes are served under /scope; GET /route-list lists them.  POST /scope/lock
with {"bool": true} rejects changes with 423 until unlocked.`
	fmt.Println(str)
}

func mkconf() {
	c := unmarshal()
	f, err := os.Create(ConfigFileName)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()
	err = yml.NewEncoder(f).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func printconf() {
	c := unmarshal()
	err := yml.NewEncoder(os.Stdout).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func pversion() {
	fmt.Printf("scopesrv version %v\n", Version)
}

// watch re-applies the display settings when the config file changes
func watch(s *scope.Scope) {
	f := file.Provider(ConfigFileName)
	err := f.Watch(func(event interface{}, err error) {
		if err != nil {
			log.Printf("config watch error, %q\n", err)
			return
		}
		ko := koanf.New(".")
		if err := loadConfig(ko); err != nil {
			log.Printf("error reloading config, %q\n", err)
			return
		}
		c := Config{}
		if err := ko.Unmarshal("", &c); err != nil {
			log.Printf("error reloading config, %q\n", err)
			return
		}
		if err := ApplyDisplay(s, c); err != nil {
			log.Printf("config reload rejected, %q\n", err)
			return
		}
		log.Println("display settings reloaded from", ConfigFileName)
	})
	if err != nil {
		log.Printf("not watching %s, %q\n", ConfigFileName, err)
	}
}

func run() {
	c := unmarshal()
	s, err := NewScope(c)
	if err != nil {
		log.Fatal(err)
	}
	watch(s)
	log.Println(describe(c))
	if err = s.Start(); err != nil {
		// the ADC may be attached later; /scope/start retries
		log.Printf("scope not started, %q\n", err)
	}
	mux := BuildMux(s, c)
	log.Println("now listening for requests at ", c.Addr)
	log.Fatal(http.ListenAndServe(c.Addr, mux))
}

// capture takes one interval frame and writes it to fn, the type chosen by
// the extension
func capture(fn string) {
	ext := strings.ToLower(filepath.Ext(fn))
	switch ext {
	case ".csv", ".fits", ".fit", ".png":
	default:
		log.Fatalf("unknown file type %q, must be .csv, .fits or .png", ext)
	}
	c := unmarshal()
	c.Mode = waveform.Interval.String()
	c.Record.Root = ""
	s, err := NewScope(c)
	if err != nil {
		log.Fatal(err)
	}

	spinner, err := yacspin.New(yacspin.Config{
		Frequency:         100 * time.Millisecond,
		CharSet:           yacspin.CharSets[14],
		Suffix:            " ",
		Message:           "opening ADC",
		StopCharacter:     "✓",
		StopColors:        []string{"fgGreen"},
		StopFailCharacter: "✗",
		StopFailColors:    []string{"fgRed"}})
	if err != nil {
		log.Fatal(err)
	}
	spinner.Start()
	fail := func(err error) {
		spinner.StopFailMessage(err.Error())
		spinner.StopFail()
		os.Exit(1)
	}

	if err = s.Start(); err != nil {
		fail(err)
	}
	spinner.Message("waiting for a frame")
	ctx, cancel := context.WithTimeout(context.Background(), captureTimeout)
	var frame *waveform.Frame
	s.Watch(ctx, 10*time.Millisecond, func(f *waveform.Frame) {
		if f.Valid() > 0 {
			frame = f
			cancel()
		}
	})
	cancel()
	s.Stop()
	if frame == nil {
		fail(fmt.Errorf("no frame within %v", captureTimeout))
	}

	spinner.Message("writing " + fn)
	if err = write(s, frame, fn, ext); err != nil {
		fail(err)
	}
	spinner.StopMessage(fmt.Sprintf("%s, %s frame, f=%s", fn, frame.Source, render.FormatFrequency(frame.Frequency)))
	spinner.Stop()
}

// write saves frame, already taken off the stopped scope s
func write(s *scope.Scope, frame *waveform.Frame, fn, ext string) error {
	f, err := os.Create(fn)
	if err != nil {
		return err
	}
	defer f.Close()
	switch ext {
	case ".png":
		var r waveform.Renderer
		err = render.PNG(f, render.YT(r.Render(frame, s.Display()), render.DefaultWidth, render.DefaultHeight))
	case ".fits", ".fit":
		err = s.LastCapture().EncodeFITS(f)
	default:
		err = s.LastCapture().EncodeCSV(f)
	}
	if err != nil {
		return err
	}
	return f.Close()
}

func main() {
	var cmd string
	args := os.Args
	if len(args) == 1 {
		root()
		return
	}
	setupconfig()
	cmd = args[1]
	cmd = strings.ToLower(cmd)
	switch cmd {
	case "help":
		help()
		return
	case "mkconf":
		mkconf()
		return
	case "conf":
		printconf()
		return
	case "run":
		run()
		return
	case "capture":
		if len(args) < 3 {
			log.Fatal("capture needs an output file, e.g. scopesrv capture wave.csv")
		}
		capture(args[2])
		return
	case "version":
		pversion()
		return
	default:
		log.Fatal("unknown command")
	}
}
