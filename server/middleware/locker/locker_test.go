package locker_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi"
	"github.com/stretchr/testify/assert"

	"github.jpl.nasa.gov/bdube/xpad/generichttp"
	"github.jpl.nasa.gov/bdube/xpad/server/middleware/locker"
)

type table generichttp.RouteTable

func (t table) RT() generichttp.RouteTable { return generichttp.RouteTable(t) }

func newLockedMux(t *testing.T) (http.Handler, *locker.Locker, *int) {
	t.Helper()
	hits := new(int)
	rt := table{
		generichttp.MethodPath{Method: http.MethodPost, Path: "/ithl/increase"}: func(w http.ResponseWriter, r *http.Request) {
			*hits++
		},
	}
	l := locker.New()
	locker.Inject(rt, l)
	r := chi.NewRouter()
	r.Use(l.Check)
	rt.RT().Bind(r)
	return r, l, hits
}

func TestLockedRouteReturns423(t *testing.T) {
	mux, l, hits := newLockedMux(t)
	l.Lock()

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/ithl/increase", nil))
	assert.Equal(t, http.StatusLocked, rec.Code)
	assert.Equal(t, 0, *hits)
}

func TestLockRouteIsNeverProtected(t *testing.T) {
	mux, l, hits := newLockedMux(t)
	l.Lock()

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/lock", strings.NewReader(`{"bool":false}`)))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, l.Locked())

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/ithl/increase", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, *hits)
}

func TestLockStateOverHTTP(t *testing.T) {
	mux, l, _ := newLockedMux(t)
	l.Lock()

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/lock", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"bool":true}`, rec.Body.String())
}
