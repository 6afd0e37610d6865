package generichttp_test

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi"
	"github.com/stretchr/testify/assert"

	"github.jpl.nasa.gov/bdube/xpad/generichttp"
)

type badArg struct{}

func (badArg) Error() string         { return "bad argument" }
func (badArg) InvalidArgument() bool { return true }

func TestSubMuxSanitize(t *testing.T) {
	for _, in := range []string{"xpad", "/xpad", "/xpad/", "xpad/*"} {
		assert.Equal(t, "/xpad", generichttp.SubMuxSanitize(in), in)
	}
}

func TestErrorStatus(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, generichttp.ErrorStatus(fmt.Errorf("wrapped: %w", badArg{})))
	assert.Equal(t, http.StatusInternalServerError, generichttp.ErrorStatus(errors.New("boom")))
}

func TestEndpointsAreSorted(t *testing.T) {
	rt := generichttp.RouteTable{
		{Method: http.MethodPost, Path: "/b"}: nil,
		{Method: http.MethodGet, Path: "/b"}:  nil,
		{Method: http.MethodGet, Path: "/a"}:  nil,
	}
	assert.Equal(t, []string{"GET /a", "GET /b", "POST /b"}, rt.Endpoints())
}

func TestBoundHandlers(t *testing.T) {
	var stored int
	rt := generichttp.RouteTable{
		{Method: http.MethodGet, Path: "/value"}: generichttp.GetInt(func() (int, error) { return stored, nil }),
		{Method: http.MethodPost, Path: "/value"}: generichttp.SetInt(func(i int) error {
			if i < 0 {
				return badArg{}
			}
			stored = i
			return nil
		}),
		{Method: http.MethodPost, Path: "/fail"}: generichttp.Trigger(func() error { return errors.New("no") }),
	}
	r := chi.NewRouter()
	rt.Bind(r)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/value", strings.NewReader(`{"int":7}`)))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/value", nil))
	assert.JSONEq(t, `{"int":7}`, rec.Body.String())

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/value", strings.NewReader(`{"int":-1}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/value", strings.NewReader(`not json`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/fail", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/endpoints", nil))
	assert.JSONEq(t, `{"strs":["POST /fail","GET /value","POST /value"]}`, rec.Body.String())
}
