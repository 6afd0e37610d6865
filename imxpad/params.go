package imxpad

import (
	"fmt"
	"strings"
)

// ErrUnknownValue is returned when a name or number does not belong to an
// enumeration
type ErrUnknownValue struct {
	Kind  string
	Value string
}

func (e ErrUnknownValue) Error() string {
	return fmt.Sprintf("imxpad: %q is not a valid %s", e.Value, e.Kind)
}

// InvalidArgument marks the error as the caller's fault
func (e ErrUnknownValue) InvalidArgument() bool { return true }

// Register is a global configuration register of the detector chips
type Register int

const (
	AMPTP Register = 31
	IMFP  Register = 59
	IOTA  Register = 60
	IPRE  Register = 61
	ITHL  Register = 62
	ITUNE Register = 63
	IBUFF Register = 64
)

// GlobalRegisters is the order registers are saved to and read from a .cfg file
var GlobalRegisters = [...]Register{AMPTP, IMFP, IOTA, IPRE, ITHL, ITUNE, IBUFF}

// DefaultConfigG is the factory value of each global register
var DefaultConfigG = map[Register]int{
	AMPTP: 0,
	IMFP:  50,
	IOTA:  40,
	IPRE:  60,
	ITHL:  25,
	ITUNE: 100,
	IBUFF: 0,
}

var registerNames = map[Register]string{
	AMPTP: "AMPTP",
	IMFP:  "IMFP",
	IOTA:  "IOTA",
	IPRE:  "IPRE",
	ITHL:  "ITHL",
	ITUNE: "ITUNE",
	IBUFF: "IBUFF",
}

func (r Register) String() string {
	if s, ok := registerNames[r]; ok {
		return s
	}
	return fmt.Sprintf("Register(%d)", int(r))
}

// ParseRegister accepts a register name (e.g. "ITHL") or number (e.g. "62")
func ParseRegister(s string) (Register, error) {
	s = strings.TrimSpace(s)
	for k, v := range registerNames {
		if strings.EqualFold(v, s) {
			return k, nil
		}
	}
	var n int
	if _, err := fmt.Sscanf(s, "%d", &n); err == nil {
		if _, ok := registerNames[Register(n)]; ok {
			return Register(n), nil
		}
	}
	return 0, ErrUnknownValue{Kind: "register", Value: s}
}

// Model is a detector model, numbered as the server expects them
type Model int

const (
	S10 Model = iota
	C10
	A10
	S70
	S70C
	S140
	S340
	S540
	S540V
	S1400
)

type geometry struct {
	name    string
	modules int
	chips   int
}

var models = [...]geometry{
	S10:   {"XPAD_S10", 1, 1},
	C10:   {"XPAD_C10", 1, 1},
	A10:   {"XPAD_A10", 1, 1},
	S70:   {"XPAD_S70", 1, 7},
	S70C:  {"XPAD_S70C", 1, 7},
	S140:  {"XPAD_S140", 2, 7},
	S340:  {"XPAD_S340", 5, 7},
	S540:  {"XPAD_S540", 8, 7},
	S540V: {"XPAD_S540V", 8, 7},
	S1400: {"XPAD_S1400", 20, 7},
}

const (
	// ChipWidth is the number of pixel columns of one chip
	ChipWidth = 80

	// ModuleHeight is the number of pixel rows of one module
	ModuleHeight = 120

	// PixelSize is the pitch of a pixel, in meters
	PixelSize = 130e-6

	// DetectorType is the detector family reported to clients
	DetectorType = "XPAD"
)

func (m Model) valid() bool {
	return m >= S10 && m <= S1400
}

func (m Model) String() string {
	if !m.valid() {
		return fmt.Sprintf("Model(%d)", int(m))
	}
	return models[m].name
}

// Modules is the number of modules in the detector
func (m Model) Modules() int {
	if !m.valid() {
		return 0
	}
	return models[m].modules
}

// Chips is the number of chips per module
func (m Model) Chips() int {
	if !m.valid() {
		return 0
	}
	return models[m].chips
}

// ModuleMask has one bit set per module
func (m Model) ModuleMask() uint {
	return (1 << uint(m.Modules())) - 1
}

// ImageSize is the width and height of a frame, in pixels
func (m Model) ImageSize() (w, h int) {
	return m.Chips() * ChipWidth, m.Modules() * ModuleHeight
}

// ParseModel accepts "XPAD_S70", "S70", or case variants of either
func ParseModel(s string) (Model, error) {
	key := strings.TrimPrefix(strings.ToUpper(strings.TrimSpace(s)), "XPAD_")
	for i, g := range models {
		if strings.TrimPrefix(g.name, "XPAD_") == key {
			return Model(i), nil
		}
	}
	return 0, ErrUnknownValue{Kind: "detector model", Value: s}
}

// AcquisitionMode selects how frames are moved off the detector
type AcquisitionMode int

const (
	Standard AcquisitionMode = iota
	ComputerBurst
	DetectorBurst
)

// OutputSignal selects what the busy output of the detector reports
type OutputSignal int

const (
	ExposureBusy OutputSignal = iota
	ShutterBusy
	BusyUpdateOverflow
	PixelCounterEnabled
	ExternalGate
	ExposureReadDone
	DataTransfer
	RAMReadyImageBusy
	XPADToLocalDDR
	LocalDDRToPC
)

// ImageFileFormat is the encoding of images written by the server
type ImageFileFormat int

const (
	Ascii ImageFileFormat = iota
	Binary
)

// TriggerMode is the trigger source of an exposure
type TriggerMode int

const (
	IntTrig TriggerMode = iota
	ExtGate
	ExtTrigSingle
	ExtTrigMult
)

// PixelDepth is the number of bits per pixel in images
type PixelDepth int

const (
	Bpp16 PixelDepth = 16
	Bpp32 PixelDepth = 32
)

// DigitalTestMode is the pattern injected by DigitalTest
type DigitalTestMode int

const (
	TestFlat DigitalTestMode = iota
	TestStrips
	TestGradient
)

// State is the coarse state reported by GetStatus
type State string

const (
	Idle                    State = "Idle"
	Acquiring               State = "Acquiring"
	CalibrationManipulation State = "CalibrationManipulation"
	Calibrating             State = "Calibrating"
	DigitalTest             State = "DigitalTest"
	Resetting               State = "Resetting"
)

var serverStates = map[string]State{
	"Idle":                       Idle,
	"Acquiring":                  Acquiring,
	"Loading/Saving_calibration": CalibrationManipulation,
	"CalibrationManipulation":    CalibrationManipulation,
	"Calibrating":                Calibrating,
	"Digital_Test":               DigitalTest,
	"DigitalTest":                DigitalTest,
	"Resetting":                  Resetting,
}

// parseState reads the reply of GetStatus, "<State>:<detail>".  Anything
// unrecognized is treated as acquiring.
func parseState(reply string) State {
	head := reply
	if i := strings.IndexByte(reply, ':'); i >= 0 {
		head = reply[:i]
	}
	if s, ok := serverStates[strings.TrimSpace(head)]; ok {
		return s
	}
	return Acquiring
}

// Parameters are the acquisition settings the server has no query for.
// The camera keeps the last values written and sends them with every
// SetExposureParameters.
type Parameters struct {
	AcquisitionMode       AcquisitionMode
	OutputSignal          OutputSignal
	FlatFieldCorrection   bool
	GeometricalCorrection bool
	ImageTransfer         bool
	OverflowTime          int16
	ImageFileFormat       ImageFileFormat
	TriggerMode           TriggerMode
	PixelDepth            PixelDepth
}

// DefaultParameters are the settings the detector powers on with
func DefaultParameters() Parameters {
	return Parameters{
		AcquisitionMode:       Standard,
		OutputSignal:          ExposureBusy,
		FlatFieldCorrection:   false,
		GeometricalCorrection: false,
		ImageTransfer:         true,
		OverflowTime:          4000,
		ImageFileFormat:       Binary,
		TriggerMode:           IntTrig,
		PixelDepth:            Bpp32,
	}
}

// Info describes the detector geometry
type Info struct {
	Type      string  `json:"type"`
	Model     string  `json:"model"`
	Width     int     `json:"width"`
	Height    int     `json:"height"`
	PixelSize float64 `json:"pixelSize"`
	Modules   int     `json:"modules"`
	Chips     int     `json:"chips"`
}

// InfoFor is the Info of a model
func InfoFor(m Model) Info {
	w, h := m.ImageSize()
	return Info{
		Type:      DetectorType,
		Model:     m.String(),
		Width:     w,
		Height:    h,
		PixelSize: PixelSize,
		Modules:   m.Modules(),
		Chips:     m.Chips(),
	}
}

func b2i(b bool) int {
	if b {
		return 1
	}
	return 0
}
