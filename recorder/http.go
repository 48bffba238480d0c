package recorder

import (
	"net/http"

	"github.jpl.nasa.gov/bdube/wavescope/generichttp"
)

// HTTPWrapper is an HTTP wrapper around a recorder that allows the folder,
// prefix and format to be changed on the fly
//
// it does not implement generichttp.HTTPer, offering an Inject method allowing
// it to be injected into another HTTPer
type HTTPWrapper struct {
	*Recorder
}

// NewHTTPWrapper returns an HTTP wrapper around a recorder
func NewHTTPWrapper(r *Recorder) HTTPWrapper {
	return HTTPWrapper{r}
}

func (h HTTPWrapper) root() (string, error) {
	root, _, _ := h.Settings()
	return root, nil
}

func (h HTTPWrapper) prefix() (string, error) {
	_, prefix, _ := h.Settings()
	return prefix, nil
}

func (h HTTPWrapper) format() (string, error) {
	_, _, f := h.Settings()
	return string(f), nil
}

func (h HTTPWrapper) setRoot(s string) error {
	return generichttp.WithStatus(http.StatusBadRequest, h.SetRoot(s))
}

func (h HTTPWrapper) setPrefix(s string) error {
	h.SetPrefix(s)
	return nil
}

func (h HTTPWrapper) setFormat(s string) error {
	f, err := ParseFormat(s)
	if err != nil {
		return generichttp.WithStatus(http.StatusBadRequest, err)
	}
	h.SetFormat(f)
	return nil
}

// Inject adds GET and POST routes for /autowrite/root, /autowrite/prefix and
// /autowrite/format to the HTTPer which manipulate this wrapper's recorder
func (h HTTPWrapper) Inject(other generichttp.HTTPer) {
	rt := other.RT()
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/autowrite/root"}] = generichttp.SetString(h.setRoot)
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/autowrite/root"}] = generichttp.GetString(h.root)
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/autowrite/prefix"}] = generichttp.SetString(h.setPrefix)
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/autowrite/prefix"}] = generichttp.GetString(h.prefix)
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/autowrite/format"}] = generichttp.SetString(h.setFormat)
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/autowrite/format"}] = generichttp.GetString(h.format)
}
