package imxpad

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/renameio/v2"
)

// MockCamera is an in-memory detector with the same methods as Camera
type MockCamera struct {
	mu sync.Mutex

	model     Model
	usb       int
	ready     bool
	state     State
	registers map[Register][]int
	local     []byte
	params    Parameters

	// Exposures counts calls to SetExposureParameters
	Exposures int
}

// NewMockCamera returns a mock of the given model with factory settings
func NewMockCamera(model Model) *MockCamera {
	m := &MockCamera{model: model, state: Idle, params: DefaultParameters()}
	m.loadDefaults()
	m.flat(0)
	return m
}

func (m *MockCamera) chips() int {
	return m.model.Modules() * m.model.Chips()
}

func (m *MockCamera) loadDefaults() {
	m.registers = make(map[Register][]int, len(GlobalRegisters))
	for _, reg := range GlobalRegisters {
		vals := make([]int, m.chips())
		for i := range vals {
			vals[i] = DefaultConfigG[reg]
		}
		m.registers[reg] = vals
	}
}

func (m *MockCamera) flat(value int) {
	w, h := m.model.ImageSize()
	m.local = bytes.Repeat([]byte{byte(value*8 + 1)}, w*h)
}

// Model returns the detector model
func (m *MockCamera) Model() Model { return m.model }

// Info returns the detector geometry
func (m *MockCamera) Info() Info { return InfoFor(m.model) }

// Init marks the detector ready
func (m *MockCamera) Init() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ready = true
	return nil
}

// Close does nothing
func (m *MockCamera) Close() error { return nil }

// Raw accepts any command and answers 0
func (m *MockCamera) Raw(cmd string) (string, error) { return "0", nil }

// GetUSBDeviceList lists a single device
func (m *MockCamera) GetUSBDeviceList() (string, error) {
	return "0: XPAD mock", nil
}

// SetUSBDevice accepts device 0 only
func (m *MockCamera) SetUSBDevice(dev int) error {
	if dev != 0 {
		return &ServerError{Cmd: "SetUSBDevice", Msg: "no such device " + strconv.Itoa(dev)}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.usb = dev
	return nil
}

// DefineDetectorModel changes the model and resets the registers
func (m *MockCamera) DefineDetectorModel(model Model) error {
	if !model.valid() {
		return ErrUnknownValue{Kind: "detector model", Value: strconv.Itoa(int(model))}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.model = model
	m.loadDefaults()
	m.flat(0)
	return nil
}

// AskReady returns 0 once Init was called
func (m *MockCamera) AskReady() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ready {
		return 0, nil
	}
	return 1, nil
}

// DigitalTest does nothing
func (m *MockCamera) DigitalTest(value int, mode DigitalTestMode) error {
	if mode < TestFlat || mode > TestGradient {
		return ErrUnknownValue{Kind: "digital test mode", Value: strconv.Itoa(int(mode))}
	}
	return nil
}

// XpadInit marks the detector ready
func (m *MockCamera) XpadInit() error {
	return m.Init()
}

// ResetModules returns the mock to factory settings
func (m *MockCamera) ResetModules() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loadDefaults()
	m.flat(0)
	m.state = Idle
	return nil
}

// GetModuleMask returns the mask of the model
func (m *MockCamera) GetModuleMask() (uint, error) {
	return m.model.ModuleMask(), nil
}

// GetStatus returns the state
func (m *MockCamera) GetStatus() (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state, nil
}

// Exit marks the detector not ready
func (m *MockCamera) Exit() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ready = false
	return nil
}

// LoadConfigG sets a register on every chip
func (m *MockCamera) LoadConfigG(reg Register, value int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	vals, ok := m.registers[reg]
	if !ok {
		return ErrUnknownValue{Kind: "register", Value: strconv.Itoa(int(reg))}
	}
	for i := range vals {
		vals[i] = value
	}
	return nil
}

// ReadConfigG returns a register for every chip
func (m *MockCamera) ReadConfigG(reg Register) ([]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	vals, ok := m.registers[reg]
	if !ok {
		return nil, ErrUnknownValue{Kind: "register", Value: strconv.Itoa(int(reg))}
	}
	return append([]int(nil), vals...), nil
}

// LoadDefaultConfigGValues restores the factory register values
func (m *MockCamera) LoadDefaultConfigGValues() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loadDefaults()
	return nil
}

func (m *MockCamera) stepITHL(delta int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	vals := m.registers[ITHL]
	for _, v := range vals {
		if v+delta < 0 {
			return &ServerError{Cmd: "ITHLDecrease", Msg: "ITHL already at 0"}
		}
	}
	for i := range vals {
		vals[i] += delta
	}
	return nil
}

// ITHLIncrease raises ITHL on every chip
func (m *MockCamera) ITHLIncrease() error { return m.stepITHL(1) }

// ITHLDecrease lowers ITHL on every chip
func (m *MockCamera) ITHLDecrease() error { return m.stepITHL(-1) }

// LoadFlatConfigL sets every pixel's local configuration
func (m *MockCamera) LoadFlatConfigL(value int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flat(value)
	return nil
}

func (m *MockCamera) calibrated() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = Idle
	return nil
}

// CalibrationOTN does nothing
func (m *MockCamera) CalibrationOTN(mode int) error { return m.calibrated() }

// CalibrationOTNPulse does nothing
func (m *MockCamera) CalibrationOTNPulse(mode int) error { return m.calibrated() }

// CalibrationBEAM sets ITHL to ithlMax
func (m *MockCamera) CalibrationBEAM(t, ithlMax, config int) error {
	if err := m.LoadConfigG(ITHL, ithlMax); err != nil {
		return err
	}
	return m.calibrated()
}

// LoadConfigGFromFile reads a file written by SaveConfigGToFile
func (m *MockCamera) LoadConfigGFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	regs := make(map[Register][]int, len(GlobalRegisters))
	sc := bufio.NewScanner(bytes.NewReader(data))
	i := 0
	for sc.Scan() {
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		if i >= len(GlobalRegisters) {
			return &ServerError{Cmd: "LoadConfigGFromFile", Msg: "too many lines"}
		}
		vals, err := parseInts(text)
		if err != nil || len(vals) < 2 {
			return &ServerError{Cmd: "LoadConfigGFromFile", Msg: fmt.Sprintf("bad line %q", text)}
		}
		regs[GlobalRegisters[i]] = vals[1:]
		i++
	}
	if i != len(GlobalRegisters) {
		return &ServerError{Cmd: "LoadConfigGFromFile", Msg: fmt.Sprintf("%d of %d registers", i, len(GlobalRegisters))}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.registers = regs
	return nil
}

// SaveConfigGToFile writes the registers in the server's format
func (m *MockCamera) SaveConfigGToFile(path string) error {
	m.mu.Lock()
	var buf bytes.Buffer
	for _, reg := range GlobalRegisters {
		strs := make([]string, len(m.registers[reg]))
		for i, v := range m.registers[reg] {
			strs[i] = strconv.Itoa(v)
		}
		fmt.Fprintf(&buf, "%d %s \n", m.model.ModuleMask(), strings.Join(strs, " "))
	}
	m.mu.Unlock()
	return renameio.WriteFile(path, buf.Bytes(), 0o644)
}

// LoadConfigLFromFile keeps the contents of path as the local configuration
func (m *MockCamera) LoadConfigLFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.local = data
	return nil
}

// SaveConfigLToFile writes the local configuration to path
func (m *MockCamera) SaveConfigLToFile(path string) error {
	m.mu.Lock()
	data := append([]byte(nil), m.local...)
	m.mu.Unlock()
	return renameio.WriteFile(path, data, 0o644)
}

// Parameters returns the acquisition settings
func (m *MockCamera) Parameters() Parameters {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.params
}

// SetParameters replaces the acquisition settings
func (m *MockCamera) SetParameters(p Parameters) error {
	if p.PixelDepth != Bpp16 && p.PixelDepth != Bpp32 {
		return ErrUnknownValue{Kind: "pixel depth", Value: strconv.Itoa(int(p.PixelDepth))}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.params = p
	return nil
}

// SetExposureParameters counts the call
func (m *MockCamera) SetExposureParameters(images int, exposure time.Duration) error {
	if images < 1 {
		return ErrUnknownValue{Kind: "number of images", Value: strconv.Itoa(images)}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Exposures++
	return nil
}
