/*Package detector is the remote control surface of an imXPAD detector.

Device forwards each command to the camera almost verbatim.  The only state
it keeps is the name of the configuration last loaded or saved and the
number of ITHL steps taken since then.  Both are reset by a calibration or a
reload.
*/
package detector

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.jpl.nasa.gov/bdube/xpad/cfgstore"
	"github.jpl.nasa.gov/bdube/xpad/imxpad"
	"github.jpl.nasa.gov/bdube/xpad/logging"
)

const (
	// Memory is the configuration name reported when the configuration in
	// the detector did not come from a file
	Memory = "MEMORY"

	// DigitalTestValue is the count injected by the digital test
	DigitalTestValue = 40
)

// ArgumentError is returned when a command is given malformed arguments.
// Nothing is sent to the camera.
type ArgumentError struct {
	Cmd    string
	Reason string
}

func (e ArgumentError) Error() string {
	return fmt.Sprintf("%s: %s", e.Cmd, e.Reason)
}

// InvalidArgument marks the error as the caller's fault
func (e ArgumentError) InvalidArgument() bool { return true }

// Camera is the detector driver the Device forwards to.  *imxpad.Camera and
// *imxpad.MockCamera satisfy it.
type Camera interface {
	Init() error
	Info() imxpad.Info

	GetUSBDeviceList() (string, error)
	SetUSBDevice(dev int) error
	DefineDetectorModel(m imxpad.Model) error
	AskReady() (int, error)
	DigitalTest(value int, mode imxpad.DigitalTestMode) error
	XpadInit() error
	ResetModules() error
	GetModuleMask() (uint, error)
	GetStatus() (imxpad.State, error)
	Exit() error
	Raw(cmd string) (string, error)

	LoadConfigG(reg imxpad.Register, value int) error
	ReadConfigG(reg imxpad.Register) ([]int, error)
	LoadDefaultConfigGValues() error
	ITHLIncrease() error
	ITHLDecrease() error
	LoadFlatConfigL(value int) error

	CalibrationOTN(mode int) error
	CalibrationOTNPulse(mode int) error
	CalibrationBEAM(t, ithlMax, config int) error

	LoadConfigGFromFile(path string) error
	LoadConfigLFromFile(path string) error
	SaveConfigGToFile(path string) error
	SaveConfigLToFile(path string) error

	Parameters() imxpad.Parameters
	SetParameters(p imxpad.Parameters) error
	SetExposureParameters(images int, exposure time.Duration) error
}

// Device is an imXPAD detector exposed for remote control
type Device struct {
	cam   Camera
	store *cfgstore.Store
	step  *rate.Limiter
	log   zerolog.Logger

	mu         sync.Mutex
	configName string // empty when the configuration is not from a file
	ithlOffset int

	// pmu serializes read-modify-write of the camera parameters
	pmu sync.Mutex
}

// New returns a Device that controls cam and keeps configurations in store.
// stepsPerSecond paces the ITHL steps of SetITHLOffset; <= 0 does not pace them.
func New(cam Camera, store *cfgstore.Store, stepsPerSecond float64) *Device {
	lim := rate.NewLimiter(rate.Inf, 1)
	if stepsPerSecond > 0 {
		lim = rate.NewLimiter(rate.Limit(stepsPerSecond), 1)
	}
	return &Device{
		cam:   cam,
		store: store,
		step:  lim,
		log:   logging.WithComponent("detector"),
	}
}

// Init resets the device state, initializes the camera and writes the
// default acquisition settings.  Failures are logged and returned, but the
// device remains usable.
func (d *Device) Init() error {
	d.mu.Lock()
	d.configName = ""
	d.ithlOffset = 0
	d.mu.Unlock()

	var errs []error
	if err := d.cam.Init(); err != nil {
		d.log.Error().Err(err).Msg("camera initialization failed")
		errs = append(errs, err)
	}
	d.pmu.Lock()
	defer d.pmu.Unlock()
	p := d.cam.Parameters()
	p.AcquisitionMode = imxpad.Standard
	p.FlatFieldCorrection = true
	p.GeometricalCorrection = true
	p.ImageFileFormat = imxpad.Binary
	p.OutputSignal = imxpad.BusyUpdateOverflow
	if err := d.cam.SetParameters(p); err != nil {
		d.log.Error().Err(err).Msg("writing default settings failed")
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// forget clears the configuration name and ITHL offset; d.mu must be held
func (d *Device) forget() {
	d.configName = ""
	d.ithlOffset = 0
}

// GetAttrStringValueList returns the values an attribute may take.
// config_name lists the configurations in the store.
func (d *Device) GetAttrStringValueList(attr string) ([]string, error) {
	if strings.HasPrefix(attr, "config_name") {
		return d.store.Names()
	}
	if a, ok := enumAttrs[attr]; ok {
		return a.names(), nil
	}
	return []string{}, nil
}

// GetUSBDeviceList describes the attached USB devices
func (d *Device) GetUSBDeviceList() (string, error) {
	return d.cam.GetUSBDeviceList()
}

// SetUSBDevice selects a USB device
func (d *Device) SetUSBDevice(dev int) error {
	return d.cam.SetUSBDevice(dev)
}

// DefineDetectorModel selects the detector model by number
func (d *Device) DefineDetectorModel(model int) error {
	return d.cam.DefineDetectorModel(imxpad.Model(model))
}

// XpadInit reinitializes the detector modules
func (d *Device) XpadInit() error {
	return d.cam.XpadInit()
}

// AskReady is true if the detector is ready to work
func (d *Device) AskReady() (bool, error) {
	code, err := d.cam.AskReady()
	if err != nil {
		return false, err
	}
	return code == 0, nil
}

// GetModuleMask returns the mask of detected modules
func (d *Device) GetModuleMask() (uint, error) {
	return d.cam.GetModuleMask()
}

// DigitalTest runs a digital test with the given pattern
func (d *Device) DigitalTest(mode int) error {
	if mode < int(imxpad.TestFlat) || mode > int(imxpad.TestGradient) {
		return ArgumentError{Cmd: "digitalTest", Reason: "mode must be 0 (flat), 1 (strips) or 2 (gradient)"}
	}
	return d.cam.DigitalTest(DigitalTestValue, imxpad.DigitalTestMode(mode))
}

// SaveConfigGToFile saves the global configuration as prefix.cfg
func (d *Device) SaveConfigGToFile(prefix string) error {
	path, err := d.store.GlobalPath(prefix)
	if err != nil {
		return err
	}
	return d.cam.SaveConfigGToFile(path)
}

// SaveConfigLToFile saves the local configuration as prefix.cfl
func (d *Device) SaveConfigLToFile(prefix string) error {
	path, err := d.store.LocalPath(prefix)
	if err != nil {
		return err
	}
	return d.cam.SaveConfigLToFile(path)
}

// LoadConfigGFromFile loads the global configuration from prefix.cfg
func (d *Device) LoadConfigGFromFile(prefix string) error {
	path, err := d.store.GlobalPath(prefix)
	if err != nil {
		return err
	}
	return d.cam.LoadConfigGFromFile(path)
}

// LoadConfigLFromFile loads the local configuration from prefix.cfl
func (d *Device) LoadConfigLFromFile(prefix string) error {
	path, err := d.store.LocalPath(prefix)
	if err != nil {
		return err
	}
	return d.cam.LoadConfigLFromFile(path)
}

// SaveConfig saves the global then the local configuration under prefix,
// which becomes the configuration name
func (d *Device) SaveConfig(prefix string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.SaveConfigGToFile(prefix); err != nil {
		return err
	}
	if err := d.SaveConfigLToFile(prefix); err != nil {
		return err
	}
	d.configName = prefix
	d.ithlOffset = 0
	return nil
}

// LoadConfig loads the global then the local configuration saved under
// prefix.  Loading the current configuration again does nothing.
func (d *Device) LoadConfig(prefix string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.loadConfig(prefix)
}

func (d *Device) loadConfig(prefix string) error {
	if _, err := d.store.GlobalPath(prefix); err != nil {
		return err
	}
	if prefix == d.configName {
		return nil
	}
	if err := d.LoadConfigGFromFile(prefix); err != nil {
		return err
	}
	if err := d.LoadConfigLFromFile(prefix); err != nil {
		return err
	}
	d.configName = prefix
	d.ithlOffset = 0
	d.log.Info().Str("config", prefix).Msg("configuration loaded")
	return nil
}

// ConfigName is the name of the configuration in the detector, or Memory
func (d *Device) ConfigName() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.configName == "" {
		return Memory
	}
	return d.configName
}

// SetConfigName loads the named configuration.  Memory does nothing.
func (d *Device) SetConfigName(name string) error {
	if name == Memory {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.loadConfig(name)
}

// ITHLOffset is the number of ITHL steps since the configuration was loaded
func (d *Device) ITHLOffset() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ithlOffset
}

// SetITHLOffset steps ITHL one unit at a time until the offset is target.
// If a step fails the offset reflects the steps taken.
func (d *Device) SetITHLOffset(ctx context.Context, target int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for d.ithlOffset != target {
		if err := d.step.Wait(ctx); err != nil {
			return err
		}
		if d.ithlOffset < target {
			if err := d.cam.ITHLIncrease(); err != nil {
				return err
			}
			d.ithlOffset++
		} else {
			if err := d.cam.ITHLDecrease(); err != nil {
				return err
			}
			d.ithlOffset--
		}
	}
	return nil
}

// ITHLIncrease raises ITHL by one step
func (d *Device) ITHLIncrease() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.cam.ITHLIncrease(); err != nil {
		return err
	}
	d.ithlOffset++
	return nil
}

// ITHLDecrease lowers ITHL by one step
func (d *Device) ITHLDecrease() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.cam.ITHLDecrease(); err != nil {
		return err
	}
	d.ithlOffset--
	return nil
}

// CalibrationOTN runs the over-the-noise calibration
func (d *Device) CalibrationOTN(mode int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.cam.CalibrationOTN(mode); err != nil {
		return err
	}
	d.forget()
	return nil
}

// CalibrationOTNPulse runs the over-the-noise calibration with test pulses
func (d *Device) CalibrationOTNPulse(mode int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.cam.CalibrationOTNPulse(mode); err != nil {
		return err
	}
	d.forget()
	return nil
}

// CalibrationBEAM runs a calibration under beam.  values is
// [time, ITHL max, configuration].
func (d *Device) CalibrationBEAM(values []int) error {
	if len(values) < 3 {
		return ArgumentError{Cmd: "calibrationBEAM", Reason: "needs [time, ITHLmax, config]"}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.cam.CalibrationBEAM(values[0], values[1], values[2]); err != nil {
		return err
	}
	d.forget()
	return nil
}

// LoadConfigG writes a global register.  args is [register, value]; the
// register may be a name or a number.
func (d *Device) LoadConfigG(args []string) error {
	if len(args) < 2 {
		return ArgumentError{Cmd: "loadConfigG", Reason: "needs [register, value]"}
	}
	reg, err := imxpad.ParseRegister(args[0])
	if err != nil {
		return err
	}
	value, err := strconv.Atoi(strings.TrimSpace(args[1]))
	if err != nil {
		return ArgumentError{Cmd: "loadConfigG", Reason: fmt.Sprintf("value %q is not an integer", args[1])}
	}
	return d.cam.LoadConfigG(reg, value)
}

// ReadConfigG reads a global register of every chip
func (d *Device) ReadConfigG(reg int) ([]int, error) {
	r, err := imxpad.ParseRegister(strconv.Itoa(reg))
	if err != nil {
		return nil, err
	}
	return d.cam.ReadConfigG(r)
}

// LoadDefaultConfigGValues writes the factory global registers
func (d *Device) LoadDefaultConfigGValues() error {
	return d.cam.LoadDefaultConfigGValues()
}

// LoadFlatConfigL writes the same local configuration to every pixel
func (d *Device) LoadFlatConfigL(value int) error {
	return d.cam.LoadFlatConfigL(value)
}

// ResetModules resets the detector modules
func (d *Device) ResetModules() error {
	return d.cam.ResetModules()
}

// Abort does nothing; the server has no command to interrupt a calibration
func (d *Device) Abort() error {
	d.log.Info().Msg("abort requested, nothing to do")
	return nil
}

// Exit stops the XPAD server
func (d *Device) Exit() error {
	return d.cam.Exit()
}

// Attribute returns the name of the current value of an enumerated attribute
func (d *Device) Attribute(attr string) (string, error) {
	a, ok := enumAttrs[attr]
	if !ok {
		return "", ArgumentError{Cmd: "read " + attr, Reason: "no such attribute"}
	}
	return a.name(a.get(d.cam.Parameters())), nil
}

// SetAttribute sets an enumerated attribute by name.  Unknown names are
// refused without contacting the camera.
func (d *Device) SetAttribute(attr, name string) error {
	a, ok := enumAttrs[attr]
	if !ok {
		return ArgumentError{Cmd: "write " + attr, Reason: "no such attribute"}
	}
	v, ok := a.lookup(name)
	if !ok {
		return ArgumentError{Cmd: "write " + attr, Reason: fmt.Sprintf("%q is not one of %s", name, strings.Join(a.names(), ", "))}
	}
	d.pmu.Lock()
	defer d.pmu.Unlock()
	p := d.cam.Parameters()
	a.set(&p, v)
	return d.cam.SetParameters(p)
}

// OverflowTime is the overflow counter readout period, in microseconds
func (d *Device) OverflowTime() int {
	return int(d.cam.Parameters().OverflowTime)
}

// SetOverflowTime sets the overflow counter readout period, in microseconds
func (d *Device) SetOverflowTime(us int) error {
	if us < math.MinInt16 || us > math.MaxInt16 {
		return ArgumentError{Cmd: "write Over_Flow_Time", Reason: "out of range for a 16-bit integer"}
	}
	d.pmu.Lock()
	defer d.pmu.Unlock()
	p := d.cam.Parameters()
	p.OverflowTime = int16(us)
	return d.cam.SetParameters(p)
}

// Status is the state of the detector
func (d *Device) Status() (string, error) {
	st, err := d.cam.GetStatus()
	return string(st), err
}

// ExposeParameters sends the number of images, exposure time and trigger
// mode together with the cached acquisition settings
func (d *Device) ExposeParameters(images int, exposure time.Duration, trigger int) error {
	if trigger < int(imxpad.IntTrig) || trigger > int(imxpad.ExtTrigMult) {
		return ArgumentError{Cmd: "exposeParameters", Reason: "trigger mode must be 0..3"}
	}
	d.pmu.Lock()
	defer d.pmu.Unlock()
	p := d.cam.Parameters()
	p.TriggerMode = imxpad.TriggerMode(trigger)
	if err := d.cam.SetParameters(p); err != nil {
		return err
	}
	return d.cam.SetExposureParameters(images, exposure)
}

// Raw sends a single-line command to the XPAD server and returns the reply
func (d *Device) Raw(cmd string) (string, error) {
	cmd = strings.TrimSpace(cmd)
	if cmd == "" || strings.ContainsAny(cmd, "\r\n") {
		return "", ArgumentError{Cmd: "raw", Reason: "command must be a single non-empty line"}
	}
	d.log.Debug().Str("cmd", cmd).Msg("raw command")
	return d.cam.Raw(cmd)
}

// DetectorInfo describes the detector geometry
func (d *Device) DetectorInfo() imxpad.Info {
	return d.cam.Info()
}
