/*Package scope exposes a waveform scope over HTTP.

Settings follow the generichttp conventions: GET returns {"f64"|"int"|"str"|"bool": value}
and POST takes the same body.  Lifecycle routes take no body.  The data routes are

	GET /frame?view=yt|xy           rendered frame as JSON
	GET /frame.png?view=yt|xy       rendered frame as a PNG, width and height optional
	GET /stream?view=yt|xy&fps=20   rendered frames as Server-Sent Events
	GET /export?fmt=csv|fits        raw codes of the latest frame

Bad input is answered with 400, requests that conflict with the acquisition
state with 409, and anything else that fails with 500.
*/
package scope

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"go/types"
	"image"
	"log"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.jpl.nasa.gov/bdube/wavescope/adc"
	"github.jpl.nasa.gov/bdube/wavescope/generichttp"
	"github.jpl.nasa.gov/bdube/wavescope/mathx"
	"github.jpl.nasa.gov/bdube/wavescope/oscilloscope"
	"github.jpl.nasa.gov/bdube/wavescope/recorder"
	"github.jpl.nasa.gov/bdube/wavescope/render"
	"github.jpl.nasa.gov/bdube/wavescope/scope"
	"github.jpl.nasa.gov/bdube/wavescope/util"
	"github.jpl.nasa.gov/bdube/wavescope/waveform"
)

const (
	// DefaultStreamRate is the default cap on Server-Sent Events per second
	DefaultStreamRate = 20

	// streamPoll is how often a stream checks for a new frame
	streamPoll = 10 * time.Millisecond

	// maxImageSize bounds the width and height of /frame.png
	maxImageSize = 4096

	// levelResolution is the step trigger levels are rounded to, volts
	levelResolution = 1e-3
)

// ErrView is generated by a view other than yt or xy
var ErrView = errors.New("view must be yt or xy")

// Channels is the JSON body of the /channels route.  Secondary -1 is single channel.
type Channels struct {
	Primary   adc.Channel `json:"primary"`
	Secondary adc.Channel `json:"secondary"`
}

// HTTPScope wraps a Scope in a route table
type HTTPScope struct {
	Scope *scope.Scope

	// StreamRate caps events per second on /stream when the request does not
	StreamRate float64

	RouteTable generichttp.RouteTable
}

// NewHTTPScope returns a new HTTP wrapper with the route table populated.  If
// the scope has a recorder, its routes are injected too.
func NewHTTPScope(s *scope.Scope) HTTPScope {
	h := HTTPScope{Scope: s, StreamRate: DefaultStreamRate}
	rt := generichttp.RouteTable{
		// lifecycle
		{Method: http.MethodPost, Path: "/start"}:  h.action(s.Start),
		{Method: http.MethodPost, Path: "/stop"}:   h.action(s.Stop),
		{Method: http.MethodPost, Path: "/pause"}:  h.action(s.Pause),
		{Method: http.MethodPost, Path: "/resume"}: h.action(s.Resume),
		{Method: http.MethodGet, Path: "/status"}:  h.Status,

		// acquisition
		{Method: http.MethodGet, Path: "/mode"}:      generichttp.GetString(h.mode),
		{Method: http.MethodPost, Path: "/mode"}:     generichttp.SetString(h.setMode),
		{Method: http.MethodGet, Path: "/interval"}:  generichttp.GetFloat(h.interval),
		{Method: http.MethodPost, Path: "/interval"}: generichttp.SetFloat(h.setInterval),
		{Method: http.MethodGet, Path: "/channels"}:  h.GetChannels,
		{Method: http.MethodPost, Path: "/channels"}: h.SetChannels,

		// display
		{Method: http.MethodGet, Path: "/ac-coupling"}:      generichttp.GetBool(h.ac),
		{Method: http.MethodPost, Path: "/ac-coupling"}:     generichttp.SetBool(h.setAC),
		{Method: http.MethodGet, Path: "/auto-scale"}:       generichttp.GetBool(h.auto),
		{Method: http.MethodPost, Path: "/auto-scale"}:      generichttp.SetBool(h.setAuto),
		{Method: http.MethodGet, Path: "/zoom"}:             generichttp.GetInt(h.zoom),
		{Method: http.MethodPost, Path: "/zoom"}:            generichttp.SetInt(h.setZoom),
		{Method: http.MethodGet, Path: "/trigger"}:          generichttp.GetBool(h.trigger),
		{Method: http.MethodPost, Path: "/trigger"}:         generichttp.SetBool(h.setTrigger),
		{Method: http.MethodGet, Path: "/trigger-level"}:    generichttp.GetFloat(h.triggerLevel),
		{Method: http.MethodPost, Path: "/trigger-level"}:   generichttp.SetFloat(h.setTriggerLevel),
		{Method: http.MethodGet, Path: "/trigger-falling"}:  generichttp.GetBool(h.triggerFalling),
		{Method: http.MethodPost, Path: "/trigger-falling"}: generichttp.SetBool(h.setTriggerFalling),
		{Method: http.MethodGet, Path: "/persistence"}:      generichttp.GetBool(h.persistence),
		{Method: http.MethodPost, Path: "/persistence"}:     generichttp.SetBool(h.setPersistence),

		// data
		{Method: http.MethodGet, Path: "/frame"}:     h.Frame,
		{Method: http.MethodGet, Path: "/frame.png"}: h.FramePNG,
		{Method: http.MethodGet, Path: "/stream"}:    h.Stream,
		{Method: http.MethodGet, Path: "/export"}:    h.Export,
	}
	h.RouteTable = rt
	if rec, _ := s.Recorder(); rec != nil {
		rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/autowrite/enabled"}] = generichttp.GetBool(h.autosave)
		rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/autowrite/enabled"}] = generichttp.SetBool(h.setAutosave)
		rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/save"}] = h.Save
		recorder.NewHTTPWrapper(rec).Inject(h)
	}
	return h
}

// RT satisfies generichttp.HTTPer
func (h HTTPScope) RT() generichttp.RouteTable {
	return h.RouteTable
}

// classify attaches a status code to errors from the scope
func classify(err error) error {
	var ec adc.ErrChannel
	switch {
	case err == nil:
		return nil
	case errors.Is(err, scope.ErrRunning),
		errors.Is(err, scope.ErrNotRunning),
		errors.Is(err, scope.ErrNotInterval),
		errors.Is(err, oscilloscope.ErrEmpty):
		return generichttp.WithStatus(http.StatusConflict, err)
	case errors.Is(err, scope.ErrInterval),
		errors.Is(err, scope.ErrSameChannel),
		errors.Is(err, scope.ErrZoom),
		errors.Is(err, ErrView),
		errors.As(err, &ec):
		return generichttp.WithStatus(http.StatusBadRequest, err)
	}
	return err
}

func (h HTTPScope) action(fcn func() error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := classify(fcn()); err != nil {
			generichttp.WriteError(w, err)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

// Status returns the scope.Status as JSON
func (h HTTPScope) Status(w http.ResponseWriter, r *http.Request) {
	generichttp.RespondJSON(w, h.Scope.Status())
}

func (h HTTPScope) mode() (string, error) {
	return h.Scope.Config().Mode.String(), nil
}

func (h HTTPScope) setMode(s string) error {
	m, err := waveform.ParseMode(s)
	if err != nil {
		return generichttp.WithStatus(http.StatusBadRequest, err)
	}
	return classify(h.Scope.SetMode(m))
}

func (h HTTPScope) interval() (float64, error) {
	return h.Scope.Config().Interval.Seconds(), nil
}

func (h HTTPScope) setInterval(secs float64) error {
	return classify(h.Scope.SetInterval(util.SecsToDuration(secs)))
}

// GetChannels returns the primary and secondary channels as JSON
func (h HTTPScope) GetChannels(w http.ResponseWriter, r *http.Request) {
	cfg := h.Scope.Config()
	generichttp.RespondJSON(w, Channels{Primary: cfg.Primary, Secondary: cfg.Secondary})
}

// SetChannels changes the channels from a JSON body {"primary": 3, "secondary": -1}.
// An omitted secondary is single channel.
func (h HTTPScope) SetChannels(w http.ResponseWriter, r *http.Request) {
	c := Channels{Secondary: adc.Off}
	err := json.NewDecoder(r.Body).Decode(&c)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err = classify(h.Scope.SetChannels(c.Primary, c.Secondary)); err != nil {
		generichttp.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h HTTPScope) ac() (bool, error) {
	return h.Scope.Display().AC, nil
}

func (h HTTPScope) setAC(b bool) error {
	return classify(h.Scope.UpdateDisplay(func(d *waveform.Display) { d.AC = b }))
}

func (h HTTPScope) auto() (bool, error) {
	return h.Scope.Display().Auto, nil
}

func (h HTTPScope) setAuto(b bool) error {
	return classify(h.Scope.UpdateDisplay(func(d *waveform.Display) { d.Auto = b }))
}

func (h HTTPScope) zoom() (int, error) {
	return h.Scope.Display().Zoom, nil
}

func (h HTTPScope) setZoom(z int) error {
	return classify(h.Scope.UpdateDisplay(func(d *waveform.Display) { d.Zoom = z }))
}

func (h HTTPScope) trigger() (bool, error) {
	return h.Scope.Trigger().Enabled, nil
}

func (h HTTPScope) setTrigger(b bool) error {
	t := h.Scope.Trigger()
	t.Enabled = b
	h.Scope.SetTrigger(t)
	return nil
}

func (h HTTPScope) triggerLevel() (float64, error) {
	return h.Scope.Trigger().Level, nil
}

func (h HTTPScope) setTriggerLevel(f float64) error {
	t := h.Scope.Trigger()
	t.Level = mathx.Round(f, levelResolution)
	h.Scope.SetTrigger(t)
	return nil
}

func (h HTTPScope) triggerFalling() (bool, error) {
	return h.Scope.Trigger().Falling, nil
}

func (h HTTPScope) setTriggerFalling(b bool) error {
	t := h.Scope.Trigger()
	t.Falling = b
	h.Scope.SetTrigger(t)
	return nil
}

func (h HTTPScope) persistence() (bool, error) {
	return h.Scope.Status().Persistence, nil
}

func (h HTTPScope) setPersistence(b bool) error {
	h.Scope.SetPersistence(b)
	return nil
}

func (h HTTPScope) autosave() (bool, error) {
	_, on := h.Scope.Recorder()
	return on, nil
}

func (h HTTPScope) setAutosave(b bool) error {
	rec, _ := h.Scope.Recorder()
	h.Scope.SetRecorder(rec, b)
	return nil
}

func checkView(view string) error {
	switch view {
	case "", "yt", "xy":
		return nil
	default:
		return ErrView
	}
}

// render returns f rendered for view
func (h HTTPScope) render(view string, f *waveform.Frame) (interface{}, error) {
	switch view {
	case "", "yt":
		return h.Scope.RenderFrame(f), nil
	case "xy":
		return h.Scope.RenderXYFrame(f), nil
	default:
		return nil, ErrView
	}
}

// Frame returns the latest frame rendered as JSON.  The view query parameter
// selects yt (default) or xy.
func (h HTTPScope) Frame(w http.ResponseWriter, r *http.Request) {
	v, err := h.render(r.URL.Query().Get("view"), h.Scope.Latest())
	if err != nil {
		generichttp.WriteError(w, classify(err))
		return
	}
	generichttp.RespondJSON(w, v)
}

func dimension(q string, def int) (int, error) {
	if q == "" {
		return def, nil
	}
	n, err := strconv.Atoi(q)
	if err != nil {
		return 0, err
	}
	if n < 1 || n > maxImageSize {
		return 0, fmt.Errorf("image dimension %d must be between 1 and %d", n, maxImageSize)
	}
	return n, nil
}

// FramePNG returns the latest frame drawn as a PNG.  The view, width and
// height query parameters are optional.
func (h HTTPScope) FramePNG(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	width, err := dimension(q.Get("width"), render.DefaultWidth)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	height, err := dimension(q.Get("height"), render.DefaultHeight)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	v, err := h.render(q.Get("view"), h.Scope.Latest())
	if err != nil {
		generichttp.WriteError(w, classify(err))
		return
	}
	var img image.Image
	switch t := v.(type) {
	case waveform.Rendered:
		img = render.YT(t, width, height)
	case waveform.XYRendered:
		img = render.XY(t, width, height)
	}
	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	if err = render.PNG(w, img); err != nil {
		log.Printf("error encoding frame to png %q\n", err)
	}
}

// Stream sends rendered frames as Server-Sent Events until the client goes
// away.  Each event is named frame, carries the frame sequence number as its
// id, and holds the same JSON as /frame.  The fps query parameter caps the
// event rate; frames published faster are skipped.
func (h HTTPScope) Stream(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	view := q.Get("view")
	if err := checkView(view); err != nil {
		generichttp.WriteError(w, classify(err))
		return
	}
	fps := h.StreamRate
	if str := q.Get("fps"); str != "" {
		f, err := strconv.ParseFloat(str, 64)
		if err != nil || f <= 0 {
			http.Error(w, "fps must be a positive number", http.StatusBadRequest)
			return
		}
		fps = f
	}
	lim := rate.NewLimiter(rate.Inf, 1)
	if fps > 0 {
		lim = rate.NewLimiter(rate.Limit(fps), 1)
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	hdr := w.Header()
	hdr.Set("Content-Type", "text/event-stream")
	hdr.Set("Cache-Control", "no-cache")
	hdr.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()
	h.Scope.Watch(ctx, streamPoll, func(f *waveform.Frame) {
		if err := lim.Wait(ctx); err != nil {
			return
		}
		v, _ := h.render(view, f)
		b, err := json.Marshal(v)
		if err != nil {
			fmt.Fprintf(w, "event: error\ndata: %q\n\n", err.Error())
		} else {
			fmt.Fprintf(w, "id: %d\nevent: frame\ndata: %s\n\n", f.Seq, b)
		}
		flusher.Flush()
	})
}

// Export returns the raw codes of the latest frame as CSV (default) or FITS.
// The X-Capture-CRC header holds the CRC-32 of the codes in hex.
func (h HTTPScope) Export(w http.ResponseWriter, r *http.Request) {
	fmtS := r.URL.Query().Get("fmt")
	if fmtS == "" {
		fmtS = "csv"
	}
	format, err := recorder.ParseFormat(fmtS)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	c := h.Scope.LastCapture()
	if c.Len() == 0 {
		generichttp.WriteError(w, classify(oscilloscope.ErrEmpty))
		return
	}
	// encode before writing the header so that errors can still be reported
	buf := &bytes.Buffer{}
	hdr := w.Header()
	switch format {
	case recorder.FITS:
		err = c.EncodeFITS(buf)
		hdr.Set("Content-Type", "image/fits")
		hdr.Set("Content-Disposition", "attachment; filename=capture.fits")
	default:
		err = c.EncodeCSV(buf)
		hdr.Set("Content-Type", "text/csv")
		hdr.Set("Content-Disposition", "attachment; filename=capture.csv")
	}
	if err != nil {
		hdr.Del("Content-Disposition")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	hdr.Set("X-Capture-CRC", fmt.Sprintf("%08x", c.Checksum()))
	w.WriteHeader(http.StatusOK)
	buf.WriteTo(w)
}

// Save writes the latest capture with the scope's recorder and returns the
// path as {"str": path}
func (h HTTPScope) Save(w http.ResponseWriter, r *http.Request) {
	rec, _ := h.Scope.Recorder()
	fn, err := rec.Save(h.Scope.LastCapture())
	if err != nil {
		generichttp.WriteError(w, classify(err))
		return
	}
	hp := generichttp.HumanPayload{T: types.String, String: fn}
	hp.EncodeAndRespond(w, r)
}
