package detector_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.jpl.nasa.gov/bdube/xpad/cfgstore"
	"github.jpl.nasa.gov/bdube/xpad/detector"
	"github.jpl.nasa.gov/bdube/xpad/imxpad"
)

func newMux(t *testing.T) (http.Handler, *imxpad.MockCamera) {
	t.Helper()
	cam := imxpad.NewMockCamera(imxpad.S140)
	dev := detector.New(cam, cfgstore.New(t.TempDir()), 0)
	require.NoError(t, dev.Init())
	r := chi.NewRouter()
	detector.NewHTTPDetector(dev).RT().Bind(r)
	return r, cam
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHTTPReady(t *testing.T) {
	mux, _ := newMux(t)
	rec := do(t, mux, http.MethodGet, "/ready", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"bool":true}`, rec.Body.String())

	rec = do(t, mux, http.MethodGet, "/module-mask", "")
	assert.JSONEq(t, `{"uint":3}`, rec.Body.String())
}

func TestHTTPConfigRoundTrip(t *testing.T) {
	mux, cam := newMux(t)
	rec := do(t, mux, http.MethodGet, "/config-name", "")
	assert.JSONEq(t, `{"str":"MEMORY"}`, rec.Body.String())

	require.NoError(t, cam.LoadConfigG(imxpad.ITHL, 44))
	rec = do(t, mux, http.MethodPost, "/config/save", `{"str":"beam"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, mux, http.MethodGet, "/attr-values/config_name", "")
	assert.JSONEq(t, `{"strs":["beam"]}`, rec.Body.String())

	rec = do(t, mux, http.MethodPost, "/config-g/defaults", "")
	require.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, mux, http.MethodGet, "/config-g/register/62", "")
	assert.Contains(t, rec.Body.String(), "25")

	// calibrating forgets the name, so setting it again reloads the files
	rec = do(t, mux, http.MethodPost, "/calibration/otn", `{"int":0}`)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, mux, http.MethodPost, "/config-name", `{"str":"beam"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	vals, err := cam.ReadConfigG(imxpad.ITHL)
	require.NoError(t, err)
	assert.Equal(t, 44, vals[0])
}

func TestHTTPBadConfigName(t *testing.T) {
	mux, _ := newMux(t)
	rec := do(t, mux, http.MethodPost, "/config/load", `{"str":"../../etc/passwd"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, mux, http.MethodPost, "/config/load", `{"str":""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = do(t, mux, http.MethodPost, "/config-name", `{"str":""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, mux, http.MethodPost, "/config/load", `{"str":"missing"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestHTTPAttributes(t *testing.T) {
	mux, cam := newMux(t)
	rec := do(t, mux, http.MethodGet, "/attr/Acquisition_Mode", "")
	assert.JSONEq(t, `{"str":"STANDARD"}`, rec.Body.String())

	rec = do(t, mux, http.MethodPost, "/attr/Acquisition_Mode", `{"str":"DETECTORBURST"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, imxpad.DetectorBurst, cam.Parameters().AcquisitionMode)

	rec = do(t, mux, http.MethodPost, "/attr/Acquisition_Mode", `{"str":"WARP"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, mux, http.MethodGet, "/attr-values/Image_File_Format", "")
	assert.JSONEq(t, `{"strs":["Ascii","Binary"]}`, rec.Body.String())

	rec = do(t, mux, http.MethodPost, "/overflow-time", `{"int":1234}`)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, mux, http.MethodGet, "/overflow-time", "")
	assert.JSONEq(t, `{"int":1234}`, rec.Body.String())
}

func TestHTTPITHLOffset(t *testing.T) {
	mux, cam := newMux(t)
	rec := do(t, mux, http.MethodPost, "/ithl-offset", `{"int":3}`)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, mux, http.MethodGet, "/ithl-offset", "")
	assert.JSONEq(t, `{"int":3}`, rec.Body.String())

	vals, err := cam.ReadConfigG(imxpad.ITHL)
	require.NoError(t, err)
	assert.Equal(t, 28, vals[0])

	rec = do(t, mux, http.MethodPost, "/ithl/decrease", "")
	require.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, mux, http.MethodGet, "/ithl-offset", "")
	assert.JSONEq(t, `{"int":2}`, rec.Body.String())
}

func TestHTTPLoadConfigG(t *testing.T) {
	mux, cam := newMux(t)
	rec := do(t, mux, http.MethodPost, "/config-g/register", `{"strs":["IMFP","51"]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = do(t, mux, http.MethodPost, "/config-g/register", `{"ints":[60,41]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	vals, _ := cam.ReadConfigG(imxpad.IMFP)
	assert.Equal(t, 51, vals[0])
	vals, _ = cam.ReadConfigG(imxpad.IOTA)
	assert.Equal(t, 41, vals[0])

	rec = do(t, mux, http.MethodPost, "/config-g/register", `{"ints":[60]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHTTPCalibrationBEAM(t *testing.T) {
	mux, cam := newMux(t)
	rec := do(t, mux, http.MethodPost, "/calibration/beam", `{"ints":[10,70,0]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	vals, _ := cam.ReadConfigG(imxpad.ITHL)
	assert.Equal(t, 70, vals[0])

	rec = do(t, mux, http.MethodPost, "/calibration/beam", `{"ints":[10]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHTTPExposeAndInfo(t *testing.T) {
	mux, cam := newMux(t)
	rec := do(t, mux, http.MethodPost, "/expose-parameters", `{"images":4,"exposure":0.5,"trigger":1}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 1, cam.Exposures)
	assert.Equal(t, imxpad.ExtGate, cam.Parameters().TriggerMode)

	rec = do(t, mux, http.MethodGet, "/detector-info", "")
	var info imxpad.Info
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&info))
	assert.Equal(t, "XPAD_S140", info.Model)
	assert.Equal(t, 240, info.Height)

	rec = do(t, mux, http.MethodGet, "/status", "")
	assert.JSONEq(t, `{"str":"Idle"}`, rec.Body.String())
}

func TestHTTPEndpointsListed(t *testing.T) {
	mux, _ := newMux(t)
	rec := do(t, mux, http.MethodGet, "/endpoints", "")
	assert.Contains(t, rec.Body.String(), "POST /ithl/increase")
	assert.Contains(t, rec.Body.String(), "GET /detector-info")
}
