package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/knadh/koanf"

	"github.jpl.nasa.gov/bdube/wavescope/adc"
	"github.jpl.nasa.gov/bdube/wavescope/waveform"
)

func TestEnvKey(t *testing.T) {
	if got := envKey("SCOPESRV_DISPLAY_ZOOM"); got != "display.zoom" {
		t.Errorf("expected display.zoom, got %s", got)
	}
}

func TestDefaultConfigIsValid(t *testing.T) {
	sc, err := DefaultConfig().ScopeConfig()
	if err != nil {
		t.Fatal(err)
	}
	if sc.Primary != 3 || sc.Secondary != adc.Off || sc.Mode != waveform.Interval {
		t.Errorf("unexpected defaults %+v", sc)
	}
}

func TestLoadConfigLayers(t *testing.T) {
	old := ConfigFileName
	t.Cleanup(func() { ConfigFileName = old })
	ConfigFileName = filepath.Join(t.TempDir(), "scopesrv.yml")
	yml := "mode: continuous\nsecondary: 2\ndisplay:\n  zoom: 40\n"
	if err := os.WriteFile(ConfigFileName, []byte(yml), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("SCOPESRV_DISPLAY_ZOOM", "60")

	ko := koanf.New(".")
	if err := loadConfig(ko); err != nil {
		t.Fatal(err)
	}
	c := Config{}
	if err := ko.Unmarshal("", &c); err != nil {
		t.Fatal(err)
	}
	if c.Mode != "continuous" || c.Secondary != 2 || c.Primary != 3 {
		t.Errorf("expected the file over the defaults, got mode %s channels %d,%d", c.Mode, c.Primary, c.Secondary)
	}
	if c.Display.Zoom != 60 {
		t.Errorf("expected the environment over the file, got zoom %d", c.Display.Zoom)
	}
	if !c.Display.AC || c.Display.Width != waveform.DefaultWidth {
		t.Errorf("expected untouched display keys to keep their defaults, got %+v", c.Display)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	old := ConfigFileName
	t.Cleanup(func() { ConfigFileName = old })
	ConfigFileName = filepath.Join(t.TempDir(), "absent.yml")
	ko := koanf.New(".")
	if err := loadConfig(ko); err != nil {
		t.Fatalf("expected a missing file to be ignored, got %v", err)
	}
}

func TestBuildMuxMock(t *testing.T) {
	c := DefaultConfig()
	c.Mock.Enabled = true
	c.Linger = 0
	s, err := NewScope(c)
	if err != nil {
		t.Fatal(err)
	}
	mux := BuildMux(s, c)

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/route-list", nil))
	var routes map[string][]string
	if err := json.NewDecoder(w.Body).Decode(&routes); err != nil {
		t.Fatal(err)
	}
	found := false
	for _, r := range routes["/scope"] {
		if r == "/scope/frame.png" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected /scope/frame.png in %v", routes)
	}

	w = httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/scope/zoom", nil))
	if diff := cmp.Diff("{\"int\":75}\n", w.Body.String()); diff != "" {
		t.Errorf("zoom mismatch (-want +got):\n%s", diff)
	}
}
