package detector

import (
	"encoding/json"
	"go/types"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi"

	"github.jpl.nasa.gov/bdube/xpad/generichttp"
	"github.jpl.nasa.gov/bdube/xpad/server"
)

// HTTPDetector provides HTTP bindings over a Device
type HTTPDetector struct {
	// Dev is the underlying device
	Dev *Device

	// RouteTable maps routes to handlers
	RouteTable generichttp.RouteTable
}

// NewHTTPDetector returns a new HTTP wrapper with the route table pre-configured
func NewHTTPDetector(d *Device) HTTPDetector {
	h := HTTPDetector{Dev: d}
	rt := generichttp.RouteTable{
		{Method: http.MethodGet, Path: "/attr-values/{attr}"}: h.AttrStringValueList,
		{Method: http.MethodGet, Path: "/attr/{attr}"}:        h.GetAttr,
		{Method: http.MethodPost, Path: "/attr/{attr}"}:       h.SetAttr,

		{Method: http.MethodGet, Path: "/usb-device-list"}:         generichttp.GetString(d.GetUSBDeviceList),
		{Method: http.MethodPost, Path: "/usb-device"}:             generichttp.SetInt(d.SetUSBDevice),
		{Method: http.MethodPost, Path: "/detector-model"}:         generichttp.SetInt(d.DefineDetectorModel),
		{Method: http.MethodPost, Path: "/xpad-init"}:              generichttp.Trigger(d.XpadInit),
		{Method: http.MethodGet, Path: "/ready"}:                   generichttp.GetBool(d.AskReady),
		{Method: http.MethodGet, Path: "/module-mask"}:             generichttp.GetUint(d.GetModuleMask),
		{Method: http.MethodPost, Path: "/digital-test"}:           generichttp.SetInt(d.DigitalTest),
		{Method: http.MethodPost, Path: "/config-g/save"}:          generichttp.SetString(d.SaveConfigGToFile),
		{Method: http.MethodPost, Path: "/config-l/save"}:          generichttp.SetString(d.SaveConfigLToFile),
		{Method: http.MethodPost, Path: "/config-g/load"}:          generichttp.SetString(d.LoadConfigGFromFile),
		{Method: http.MethodPost, Path: "/config-l/load"}:          generichttp.SetString(d.LoadConfigLFromFile),
		{Method: http.MethodPost, Path: "/config/save"}:            generichttp.SetString(d.SaveConfig),
		{Method: http.MethodPost, Path: "/config/load"}:            generichttp.SetString(d.LoadConfig),
		{Method: http.MethodPost, Path: "/calibration/otn"}:        generichttp.SetInt(d.CalibrationOTN),
		{Method: http.MethodPost, Path: "/calibration/otn-pulse"}:  generichttp.SetInt(d.CalibrationOTNPulse),
		{Method: http.MethodPost, Path: "/calibration/beam"}:       generichttp.SetInts(d.CalibrationBEAM),
		{Method: http.MethodPost, Path: "/config-g/register"}:      h.LoadConfigG,
		{Method: http.MethodGet, Path: "/config-g/register/{reg}"}: h.ReadConfigG,
		{Method: http.MethodPost, Path: "/config-g/defaults"}:      generichttp.Trigger(d.LoadDefaultConfigGValues),
		{Method: http.MethodPost, Path: "/config-l/flat"}:          generichttp.SetInt(d.LoadFlatConfigL),
		{Method: http.MethodPost, Path: "/ithl/increase"}:          generichttp.Trigger(d.ITHLIncrease),
		{Method: http.MethodPost, Path: "/ithl/decrease"}:          generichttp.Trigger(d.ITHLDecrease),
		{Method: http.MethodPost, Path: "/reset-modules"}:          generichttp.Trigger(d.ResetModules),
		{Method: http.MethodPost, Path: "/abort"}:                  generichttp.Trigger(d.Abort),
		{Method: http.MethodPost, Path: "/exit"}:                   generichttp.Trigger(d.Exit),

		{Method: http.MethodGet, Path: "/config-name"}:  h.GetConfigName,
		{Method: http.MethodPost, Path: "/config-name"}: generichttp.SetString(d.SetConfigName),
		{Method: http.MethodGet, Path: "/ithl-offset"}:  h.GetITHLOffset,
		{Method: http.MethodPost, Path: "/ithl-offset"}: h.SetITHLOffset,
		{Method: http.MethodGet, Path: "/overflow-time"}: generichttp.GetInt(func() (int, error) {
			return d.OverflowTime(), nil
		}),
		{Method: http.MethodPost, Path: "/overflow-time"}: generichttp.SetInt(d.SetOverflowTime),

		{Method: http.MethodGet, Path: "/status"}:             generichttp.GetString(d.Status),
		{Method: http.MethodPost, Path: "/expose-parameters"}: h.ExposeParameters,
		{Method: http.MethodGet, Path: "/detector-info"}:      h.DetectorInfo,
	}
	h.RouteTable = rt
	return h
}

// RT satisfies generichttp.HTTPer
func (h HTTPDetector) RT() generichttp.RouteTable {
	return h.RouteTable
}

// AttrStringValueList returns the values the attribute in the URL may take
// as json {'strs': [values]}
func (h HTTPDetector) AttrStringValueList(w http.ResponseWriter, r *http.Request) {
	ss, err := h.Dev.GetAttrStringValueList(chi.URLParam(r, "attr"))
	if err != nil {
		generichttp.Error(w, err)
		return
	}
	hp := server.HumanPayload{Strings: ss}
	hp.EncodeAndRespond(w, r)
}

// GetAttr returns the enumerated attribute in the URL as json {'str': value}
func (h HTTPDetector) GetAttr(w http.ResponseWriter, r *http.Request) {
	s, err := h.Dev.Attribute(chi.URLParam(r, "attr"))
	if err != nil {
		generichttp.Error(w, err)
		return
	}
	hp := server.HumanPayload{T: types.String, String: s}
	hp.EncodeAndRespond(w, r)
}

// SetAttr sets the enumerated attribute in the URL from json {'str': value}
func (h HTTPDetector) SetAttr(w http.ResponseWriter, r *http.Request) {
	attr := chi.URLParam(r, "attr")
	generichttp.SetString(func(s string) error {
		return h.Dev.SetAttribute(attr, s)
	})(w, r)
}

// registerArgs accepts the register and value as numbers or as strings
type registerArgs struct {
	Ints []int    `json:"ints"`
	Strs []string `json:"strs"`
}

// LoadConfigG writes a global register from json {'strs': [reg, value]}
// or {'ints': [reg, value]}
func (h HTTPDetector) LoadConfigG(w http.ResponseWriter, r *http.Request) {
	args := registerArgs{}
	err := json.NewDecoder(r.Body).Decode(&args)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	strs := args.Strs
	if strs == nil {
		for _, i := range args.Ints {
			strs = append(strs, strconv.Itoa(i))
		}
	}
	if err := h.Dev.LoadConfigG(strs); err != nil {
		generichttp.Error(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// ReadConfigG returns the register in the URL as json {'ints': [values]}
func (h HTTPDetector) ReadConfigG(w http.ResponseWriter, r *http.Request) {
	reg, err := strconv.Atoi(chi.URLParam(r, "reg"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	generichttp.GetInts(func() ([]int, error) {
		return h.Dev.ReadConfigG(reg)
	})(w, r)
}

// GetConfigName returns the configuration name as json {'str': name}
func (h HTTPDetector) GetConfigName(w http.ResponseWriter, r *http.Request) {
	hp := server.HumanPayload{T: types.String, String: h.Dev.ConfigName()}
	hp.EncodeAndRespond(w, r)
}

// GetITHLOffset returns the ITHL offset as json {'int': offset}
func (h HTTPDetector) GetITHLOffset(w http.ResponseWriter, r *http.Request) {
	hp := server.HumanPayload{T: types.Int, Int: h.Dev.ITHLOffset()}
	hp.EncodeAndRespond(w, r)
}

// SetITHLOffset steps ITHL to the offset in json {'int': offset}.  A client
// that hangs up stops the stepping.
func (h HTTPDetector) SetITHLOffset(w http.ResponseWriter, r *http.Request) {
	generichttp.SetInt(func(i int) error {
		return h.Dev.SetITHLOffset(r.Context(), i)
	})(w, r)
}

// ExposureRequest is the body of the expose-parameters route
type ExposureRequest struct {
	// Images is the number of images to take
	Images int `json:"images"`

	// Exposure is the exposure time, in seconds
	Exposure float64 `json:"exposure"`

	// Trigger is the trigger mode, 0..3
	Trigger int `json:"trigger"`
}

// ExposeParameters sends the exposure parameters in the request body
func (h HTTPDetector) ExposeParameters(w http.ResponseWriter, r *http.Request) {
	req := ExposureRequest{Images: 1}
	err := json.NewDecoder(r.Body).Decode(&req)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	exp := time.Duration(req.Exposure * float64(time.Second))
	if err := h.Dev.ExposeParameters(req.Images, exp, req.Trigger); err != nil {
		generichttp.Error(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// DetectorInfo returns the detector geometry as JSON
func (h HTTPDetector) DetectorInfo(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	err := json.NewEncoder(w).Encode(h.Dev.DetectorInfo())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
