package scope

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image/png"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi"
	"github.com/google/go-cmp/cmp"

	"github.jpl.nasa.gov/bdube/wavescope/adc"
	"github.jpl.nasa.gov/bdube/wavescope/generichttp"
	"github.jpl.nasa.gov/bdube/wavescope/recorder"
	"github.jpl.nasa.gov/bdube/wavescope/scope"
	"github.jpl.nasa.gov/bdube/wavescope/waveform"
)

func newScope(t *testing.T) *scope.Scope {
	t.Helper()
	sh := adc.NewShared(func() (adc.Device, error) {
		s := adc.NewSynth(100e3, 1)
		s.SetTone(3, adc.Tone{Frequency: 1e3, Amplitude: 0.75, DC: 1.5})
		s.SetTone(2, adc.Tone{Frequency: 1e3, Amplitude: 0.5, DC: 1.65})
		return s, nil
	}, 0)
	cfg := scope.DefaultConfig()
	cfg.Interval = 20 * time.Second
	cfg.IntervalRetry = 5 * time.Millisecond
	s, err := scope.New(sh, cfg)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Stop() })
	return s
}

func router(h generichttp.HTTPer) http.Handler {
	r := chi.NewRouter()
	h.RT().Bind(r)
	return r
}

func do(t *testing.T, hdl http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	w := httptest.NewRecorder()
	hdl.ServeHTTP(w, req)
	return w
}

func expectCode(t *testing.T, w *httptest.ResponseRecorder, code int, what string) {
	t.Helper()
	if w.Code != code {
		t.Errorf("%s: expected %d, got %d (%s)", what, code, w.Code, strings.TrimSpace(w.Body.String()))
	}
}

func waitForData(t *testing.T, s *scope.Scope) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if s.Latest().Valid() > 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("timed out waiting for a frame")
}

func TestLifecycleCodes(t *testing.T) {
	s := newScope(t)
	hdl := router(NewHTTPScope(s))
	expectCode(t, do(t, hdl, http.MethodPost, "/pause", ""), http.StatusConflict, "pause while stopped")
	expectCode(t, do(t, hdl, http.MethodPost, "/start", ""), http.StatusOK, "start")
	expectCode(t, do(t, hdl, http.MethodPost, "/start", ""), http.StatusConflict, "second start")
	expectCode(t, do(t, hdl, http.MethodPost, "/pause", ""), http.StatusOK, "pause")

	w := do(t, hdl, http.MethodGet, "/status", "")
	var st scope.Status
	if err := json.NewDecoder(w.Body).Decode(&st); err != nil {
		t.Fatal(err)
	}
	if !st.Running || !st.Paused || st.Mode != waveform.Interval || st.Interval != 20 {
		t.Errorf("unexpected status %+v", st)
	}

	expectCode(t, do(t, hdl, http.MethodPost, "/resume", ""), http.StatusOK, "resume")
	expectCode(t, do(t, hdl, http.MethodPost, "/mode", `{"str":"continuous"}`), http.StatusOK, "mode")
	expectCode(t, do(t, hdl, http.MethodPost, "/pause", ""), http.StatusConflict, "pause in continuous")
	expectCode(t, do(t, hdl, http.MethodPost, "/stop", ""), http.StatusOK, "stop")
	expectCode(t, do(t, hdl, http.MethodPost, "/stop", ""), http.StatusConflict, "second stop")
}

func TestSettings(t *testing.T) {
	s := newScope(t)
	hdl := router(NewHTTPScope(s))

	expectCode(t, do(t, hdl, http.MethodPost, "/interval", `{"f64":3}`), http.StatusBadRequest, "interval 3")
	expectCode(t, do(t, hdl, http.MethodPost, "/interval", `{"f64":10}`), http.StatusOK, "interval 10")
	var f generichttp.FloatT
	json.NewDecoder(do(t, hdl, http.MethodGet, "/interval", "").Body).Decode(&f)
	if f.F64 != 10 {
		t.Errorf("expected interval 10, got %v", f.F64)
	}

	expectCode(t, do(t, hdl, http.MethodPost, "/mode", `{"str":"sideways"}`), http.StatusBadRequest, "bad mode")
	expectCode(t, do(t, hdl, http.MethodPost, "/mode", `not json`), http.StatusBadRequest, "bad body")
	expectCode(t, do(t, hdl, http.MethodPost, "/zoom", `{"int":0}`), http.StatusBadRequest, "zoom 0")
	expectCode(t, do(t, hdl, http.MethodPost, "/zoom", `{"int":40}`), http.StatusOK, "zoom 40")
	if z := s.Display().Zoom; z != 40 {
		t.Errorf("expected zoom 40, got %d", z)
	}

	expectCode(t, do(t, hdl, http.MethodPost, "/ac-coupling", `{"bool":false}`), http.StatusOK, "ac")
	expectCode(t, do(t, hdl, http.MethodPost, "/auto-scale", `{"bool":false}`), http.StatusOK, "auto")
	expectCode(t, do(t, hdl, http.MethodPost, "/trigger-level", `{"f64":0.2504}`), http.StatusOK, "level")
	expectCode(t, do(t, hdl, http.MethodPost, "/trigger-falling", `{"bool":true}`), http.StatusOK, "falling")
	expectCode(t, do(t, hdl, http.MethodPost, "/trigger", `{"bool":false}`), http.StatusOK, "trigger")
	expectCode(t, do(t, hdl, http.MethodPost, "/persistence", `{"bool":true}`), http.StatusOK, "persistence")
	d, trig := s.Display(), s.Trigger()
	if d.AC || d.Auto {
		t.Errorf("expected AC and auto off, got %+v", d)
	}
	if diff := cmp.Diff(waveform.Trigger{Enabled: false, Level: 0.25, Falling: true}, trig); diff != "" {
		t.Errorf("trigger mismatch (-want +got):\n%s", diff)
	}
	var b generichttp.BoolT
	json.NewDecoder(do(t, hdl, http.MethodGet, "/persistence", "").Body).Decode(&b)
	if !b.Bool {
		t.Error("expected persistence on")
	}
}

func TestChannels(t *testing.T) {
	s := newScope(t)
	hdl := router(NewHTTPScope(s))
	expectCode(t, do(t, hdl, http.MethodPost, "/channels", `{"primary":3,"secondary":3}`), http.StatusBadRequest, "same channel")
	expectCode(t, do(t, hdl, http.MethodPost, "/channels", `{"primary":9}`), http.StatusBadRequest, "channel 9")
	expectCode(t, do(t, hdl, http.MethodPost, "/channels", `{"primary":3,"secondary":2}`), http.StatusOK, "dual")

	var c Channels
	json.NewDecoder(do(t, hdl, http.MethodGet, "/channels", "").Body).Decode(&c)
	if diff := cmp.Diff(Channels{Primary: 3, Secondary: 2}, c); diff != "" {
		t.Errorf("channels mismatch (-want +got):\n%s", diff)
	}

	expectCode(t, do(t, hdl, http.MethodPost, "/channels", `{"primary":1}`), http.StatusOK, "single")
	if sec := s.Config().Secondary; sec != adc.Off {
		t.Errorf("expected an omitted secondary to be off, got %d", sec)
	}
}

func TestFrameViews(t *testing.T) {
	s := newScope(t)
	hdl := router(NewHTTPScope(s))
	if err := s.SetChannels(3, 2); err != nil {
		t.Fatal(err)
	}
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	waitForData(t, s)

	w := do(t, hdl, http.MethodGet, "/frame", "")
	expectCode(t, w, http.StatusOK, "frame")
	var yt waveform.Rendered
	if err := json.NewDecoder(w.Body).Decode(&yt); err != nil {
		t.Fatal(err)
	}
	if len(yt.Traces) != 2 || yt.Source != waveform.SourceCoherent {
		t.Errorf("expected two coherent traces, got %d from %q", len(yt.Traces), yt.Source)
	}

	w = do(t, hdl, http.MethodGet, "/frame?view=xy", "")
	expectCode(t, w, http.StatusOK, "xy frame")
	var xy waveform.XYRendered
	if err := json.NewDecoder(w.Body).Decode(&xy); err != nil {
		t.Fatal(err)
	}
	if len(xy.Points) == 0 {
		t.Error("expected X-Y points")
	}

	expectCode(t, do(t, hdl, http.MethodGet, "/frame?view=polar", ""), http.StatusBadRequest, "bad view")
}

func TestFramePNG(t *testing.T) {
	s := newScope(t)
	hdl := router(NewHTTPScope(s))
	w := do(t, hdl, http.MethodGet, "/frame.png?width=320&height=200", "")
	expectCode(t, w, http.StatusOK, "png")
	if ct := w.Header().Get("Content-Type"); ct != "image/png" {
		t.Errorf("expected image/png, got %s", ct)
	}
	img, err := png.Decode(w.Body)
	if err != nil {
		t.Fatal(err)
	}
	if b := img.Bounds(); b.Dx() != 320 || b.Dy() != 200 {
		t.Errorf("expected 320x200, got %v", b)
	}
	expectCode(t, do(t, hdl, http.MethodGet, "/frame.png?width=0", ""), http.StatusBadRequest, "width 0")
}

// brokenWriter accepts headers and fails every write
type brokenWriter struct {
	hdr  http.Header
	code int
}

func (b *brokenWriter) Header() http.Header         { return b.hdr }
func (b *brokenWriter) WriteHeader(code int)        { b.code = code }
func (b *brokenWriter) Write(p []byte) (int, error) { return 0, errors.New("connection reset") }

func TestFramePNGLogsWriteError(t *testing.T) {
	var logs bytes.Buffer
	log.SetOutput(&logs)
	t.Cleanup(func() { log.SetOutput(os.Stderr) })

	h := NewHTTPScope(newScope(t))
	w := &brokenWriter{hdr: http.Header{}}
	h.FramePNG(w, httptest.NewRequest(http.MethodGet, "/frame.png", nil))
	if !strings.Contains(logs.String(), "connection reset") {
		t.Errorf("expected the write error logged, got %q", logs.String())
	}
}

func TestExport(t *testing.T) {
	s := newScope(t)
	hdl := router(NewHTTPScope(s))
	expectCode(t, do(t, hdl, http.MethodGet, "/export", ""), http.StatusConflict, "export before data")
	expectCode(t, do(t, hdl, http.MethodGet, "/export?fmt=png", ""), http.StatusBadRequest, "export png")

	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	waitForData(t, s)
	w := do(t, hdl, http.MethodGet, "/export?fmt=csv", "")
	expectCode(t, w, http.StatusOK, "csv")
	c := s.LastCapture()
	if crc := w.Header().Get("X-Capture-CRC"); crc != fmt.Sprintf("%08x", c.Checksum()) {
		t.Errorf("expected crc %08x, got %s", c.Checksum(), crc)
	}
	lines := strings.Split(strings.TrimSpace(w.Body.String()), "\n")
	if lines[0] != "index,ch1_raw,ch1_voltage" {
		t.Errorf("unexpected header %q", lines[0])
	}
	if len(lines) != c.Len()+1 {
		t.Errorf("expected %d rows, got %d", c.Len()+1, len(lines))
	}

	w = do(t, hdl, http.MethodGet, "/export?fmt=fits", "")
	expectCode(t, w, http.StatusOK, "fits")
	if !bytes.HasPrefix(w.Body.Bytes(), []byte("SIMPLE  =")) {
		t.Error("expected a FITS primary header")
	}
}

func TestStream(t *testing.T) {
	s := newScope(t)
	hdl := router(NewHTTPScope(s))
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/stream", nil).WithContext(ctx)
	w := httptest.NewRecorder()
	hdl.ServeHTTP(w, req)
	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("expected text/event-stream, got %s", ct)
	}
	body := w.Body.String()
	if !strings.Contains(body, "event: frame\n") || !strings.Contains(body, "data: {") {
		t.Errorf("expected a frame event, got %q", body)
	}
	expectCode(t, do(t, hdl, http.MethodGet, "/stream?fps=-1", ""), http.StatusBadRequest, "negative fps")
}

func TestStreamIDMatchesData(t *testing.T) {
	s := newScope(t)
	if err := s.SetMode(waveform.Continuous); err != nil {
		t.Fatal(err)
	}
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	hdl := router(NewHTTPScope(s))
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/stream?fps=1000", nil).WithContext(ctx)
	w := httptest.NewRecorder()
	hdl.ServeHTTP(w, req)

	events := 0
	for _, ev := range strings.Split(w.Body.String(), "\n\n") {
		var id uint64
		var data string
		for _, line := range strings.Split(ev, "\n") {
			switch {
			case strings.HasPrefix(line, "id: "):
				fmt.Sscanf(line, "id: %d", &id)
			case strings.HasPrefix(line, "data: "):
				data = strings.TrimPrefix(line, "data: ")
			}
		}
		if data == "" {
			continue
		}
		var rendered struct {
			Seq uint64 `json:"seq"`
		}
		if err := json.Unmarshal([]byte(data), &rendered); err != nil {
			t.Fatal(err)
		}
		if rendered.Seq != id {
			t.Errorf("event id %d carries frame %d", id, rendered.Seq)
		}
		events++
	}
	if events == 0 {
		t.Error("expected at least one event")
	}
}

func TestRecorderRoutes(t *testing.T) {
	s := newScope(t)
	root := t.TempDir()
	s.SetRecorder(recorder.New(root, "wave", recorder.CSV), false)
	hdl := router(NewHTTPScope(s))

	expectCode(t, do(t, hdl, http.MethodPost, "/save", ""), http.StatusConflict, "save before data")
	expectCode(t, do(t, hdl, http.MethodPost, "/autowrite/format", `{"str":"png"}`), http.StatusBadRequest, "png format")
	expectCode(t, do(t, hdl, http.MethodPost, "/autowrite/format", `{"str":"fits"}`), http.StatusOK, "fits format")
	expectCode(t, do(t, hdl, http.MethodPost, "/autowrite/enabled", `{"bool":true}`), http.StatusOK, "enable")
	if _, on := s.Recorder(); !on {
		t.Error("expected autosave on")
	}

	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	waitForData(t, s)
	w := do(t, hdl, http.MethodPost, "/save", "")
	expectCode(t, w, http.StatusOK, "save")
	var str generichttp.StrT
	json.NewDecoder(w.Body).Decode(&str)
	if !strings.HasPrefix(str.Str, root) || !strings.HasSuffix(str.Str, ".fits") {
		t.Errorf("unexpected saved path %q", str.Str)
	}
	if _, err := os.Stat(str.Str); err != nil {
		t.Error(err)
	}
}
