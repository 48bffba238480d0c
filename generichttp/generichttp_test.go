package generichttp

import (
	"errors"
	"fmt"
	"go/types"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi"
	"github.com/google/go-cmp/cmp"
)

type table struct {
	rt RouteTable
}

func (t table) RT() RouteTable {
	return t.rt
}

func ExampleRouteTable_Endpoints() {
	rt := RouteTable{
		{Method: http.MethodGet, Path: "/zoom"}:  nil,
		{Method: http.MethodPost, Path: "/zoom"}: nil,
		{Method: http.MethodGet, Path: "/frame"}: nil,
	}
	fmt.Println(rt.Endpoints())
	// Output: [/frame /zoom]
}

func TestEncodeAndRespond(t *testing.T) {
	cases := []struct {
		hp       HumanPayload
		expected string
	}{
		{HumanPayload{T: types.Float64, Float: 1.5}, `{"f64":1.5}`},
		{HumanPayload{T: types.Int, Int: 7}, `{"int":7}`},
		{HumanPayload{T: types.String, String: "yt"}, `{"str":"yt"}`},
		{HumanPayload{T: types.Bool, Bool: true}, `{"bool":true}`},
	}
	for _, c := range cases {
		w := httptest.NewRecorder()
		c.hp.EncodeAndRespond(w, httptest.NewRequest(http.MethodGet, "/", nil))
		if got := strings.TrimSpace(w.Body.String()); got != c.expected {
			t.Errorf("expected %s, got %s", c.expected, got)
		}
	}
}

func TestSetterStatus(t *testing.T) {
	var got float64
	hdl := SetFloat(func(f float64) error {
		got = f
		if f < 0 {
			return WithStatus(http.StatusBadRequest, errors.New("negative"))
		}
		if f > 100 {
			return errors.New("hardware fault")
		}
		return nil
	})
	cases := []struct {
		body string
		code int
	}{
		{`{"f64":2}`, http.StatusOK},
		{`{"f64":-1}`, http.StatusBadRequest},
		{`{"f64":101}`, http.StatusInternalServerError},
		{`{"f64":`, http.StatusBadRequest},
	}
	for _, c := range cases {
		w := httptest.NewRecorder()
		hdl(w, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(c.body)))
		if w.Code != c.code {
			t.Errorf("%s: expected %d, got %d", c.body, c.code, w.Code)
		}
	}
	if got != 101 {
		t.Errorf("expected the last valid body to reach the setter, got %v", got)
	}
}

func TestBind(t *testing.T) {
	on := false
	tbl := table{rt: RouteTable{}}
	tbl.rt[MethodPath{Method: http.MethodGet, Path: "/on"}] = GetBool(func() (bool, error) { return on, nil })
	tbl.rt[MethodPath{Method: http.MethodPost, Path: "/on"}] = SetBool(func(b bool) error { on = b; return nil })
	r := chi.NewRouter()
	var h HTTPer = tbl
	h.RT().Bind(r)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/on", strings.NewReader(`{"bool":true}`)))
	if w.Code != http.StatusOK || !on {
		t.Fatalf("expected the POST route to set the value, code %d", w.Code)
	}
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/on", nil))
	if diff := cmp.Diff(`{"bool":true}`, strings.TrimSpace(w.Body.String())); diff != "" {
		t.Errorf("GET mismatch (-want +got):\n%s", diff)
	}
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/on", nil))
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405 for an unbound method, got %d", w.Code)
	}
}
