/*Package imxpad provides a client for the imXPAD hybrid pixel X-ray detector.

The detector is driven through the XPAD server, which accepts one text
command per line over TCP and answers with tagged lines.  Camera wraps
each server command in a method.  Settings the server cannot be queried for
are cached by Camera and sent together by SetExposureParameters.

MockCamera implements the same methods in memory for use without hardware.
*/
package imxpad

import (
	"bytes"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/renameio/v2"
	"github.com/rs/zerolog"

	"github.jpl.nasa.gov/bdube/xpad/logging"
)

const (
	readyToReceive = "SERVER: Ready to receive data"
	serverOK       = "SERVER: OK"
	readyToSend    = "SERVER: Ready to send data"
	clientReady    = "CLIENT: Ready to receive dataSize"
	waitingAnswer  = "Waiting for answer"
)

// Camera is an imXPAD detector behind an XPAD server
type Camera struct {
	// CalibrationTimeout bounds calibration commands, which may run for
	// many minutes.  <= 0 uses the client's timeout.
	CalibrationTimeout time.Duration

	cli *Client
	log zerolog.Logger

	mu     sync.Mutex
	model  Model
	params Parameters
}

// NewCamera returns a Camera of the given model that uses cli
func NewCamera(cli *Client, model Model) *Camera {
	return &Camera{
		CalibrationTimeout: time.Hour,
		cli:                cli,
		model:              model,
		log:                logging.WithComponent("camera").With().Stringer("model", model).Logger(),
		params:             DefaultParameters(),
	}
}

// Model returns the detector model
func (c *Camera) Model() Model {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.model
}

// Info returns the detector geometry
func (c *Camera) Info() Info {
	return InfoFor(c.Model())
}

// Init selects the first USB device, defines the detector model and checks
// that the detector is ready
func (c *Camera) Init() error {
	list, err := c.GetUSBDeviceList()
	if err != nil {
		return err
	}
	c.log.Info().Str("devices", list).Msg("USB devices")
	if err := c.SetUSBDevice(0); err != nil {
		return err
	}
	if err := c.DefineDetectorModel(c.Model()); err != nil {
		return err
	}
	code, err := c.AskReady()
	if err != nil {
		return err
	}
	if code != 0 {
		return &ServerError{Cmd: "AskReady", Msg: "detector not ready, code " + strconv.Itoa(code)}
	}
	return nil
}

// Close hangs up on the server
func (c *Camera) Close() error {
	return c.cli.Close()
}

// Raw sends a command outside the typed API and returns its reply as text
func (c *Camera) Raw(cmd string) (string, error) {
	return c.cli.Raw(cmd)
}

// GetUSBDeviceList returns the server's description of the attached USB devices
func (c *Camera) GetUSBDeviceList() (string, error) {
	return c.cli.SendWaitString("GetUSBDeviceList")
}

// SetUSBDevice connects the server to the USB device with index dev
func (c *Camera) SetUSBDevice(dev int) error {
	return c.cli.sendCheck(0, fmt.Sprintf("SetUSBDevice %d", dev))
}

// DefineDetectorModel tells the server which detector is attached
func (c *Camera) DefineDetectorModel(m Model) error {
	if !m.valid() {
		return ErrUnknownValue{Kind: "detector model", Value: strconv.Itoa(int(m))}
	}
	if err := c.cli.sendCheck(0, fmt.Sprintf("DefineDetectorModel %d", int(m))); err != nil {
		return err
	}
	c.mu.Lock()
	c.model = m
	c.mu.Unlock()
	return nil
}

// AskReady returns the readiness code of the detector, 0 if it is ready
func (c *Camera) AskReady() (int, error) {
	return c.cli.SendWaitInt("AskReady")
}

// DigitalTest injects value into every pixel counter with the given pattern
func (c *Camera) DigitalTest(value int, mode DigitalTestMode) error {
	return c.cli.sendCheck(c.CalibrationTimeout, fmt.Sprintf("DigitalTest %d %d", value, int(mode)))
}

// XpadInit reinitializes the detector modules
func (c *Camera) XpadInit() error {
	return c.cli.sendCheck(0, "XpadInit")
}

// ResetModules resets the detector modules
func (c *Camera) ResetModules() error {
	return c.cli.sendCheck(0, "ResetModules")
}

// GetModuleMask returns the mask of modules the server found
func (c *Camera) GetModuleMask() (uint, error) {
	mask, err := c.cli.SendWaitInt("GetModuleMask")
	if err != nil {
		return 0, err
	}
	return uint(mask), nil
}

// GetStatus returns the state of the detector
func (c *Camera) GetStatus() (State, error) {
	reply, err := c.cli.SendWaitString("GetStatus")
	if err != nil {
		return "", err
	}
	return parseState(reply), nil
}

// Exit stops the server.  The session is hung up afterwards.
func (c *Camera) Exit() error {
	if err := c.cli.SendNoWait("Exit"); err != nil {
		return err
	}
	return c.cli.Close()
}

// LoadConfigG writes value to a global register of every chip
func (c *Camera) LoadConfigG(reg Register, value int) error {
	_, err := c.cli.SendWaitString(fmt.Sprintf("LoadConfigG %d %d", int(reg), value))
	return err
}

// ReadConfigG returns the value of a global register for each chip
func (c *Camera) ReadConfigG(reg Register) ([]int, error) {
	reply, err := c.cli.SendWaitString(fmt.Sprintf("ReadConfigG %d", int(reg)))
	if err != nil {
		return nil, err
	}
	return parseInts(reply)
}

// parseInts splits a reply on spaces, commas, and periods
func parseInts(s string) ([]int, error) {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ' ' || r == ',' || r == '.' || r == '\t'
	})
	out := make([]int, 0, len(fields))
	for _, f := range fields {
		v, err := strconv.Atoi(f)
		if err != nil {
			return nil, fmt.Errorf("%w: %q in %q", ErrUnexpectedReply, f, s)
		}
		out = append(out, v)
	}
	return out, nil
}

// LoadDefaultConfigGValues writes the factory value of every global register
func (c *Camera) LoadDefaultConfigGValues() error {
	for _, reg := range GlobalRegisters {
		if err := c.LoadConfigG(reg, DefaultConfigG[reg]); err != nil {
			return fmt.Errorf("loading default %s: %w", reg, err)
		}
	}
	return nil
}

// ITHLIncrease raises the ITHL threshold by one unit
func (c *Camera) ITHLIncrease() error {
	return c.cli.sendCheck(0, "ITHLIncrease")
}

// ITHLDecrease lowers the ITHL threshold by one unit
func (c *Camera) ITHLDecrease() error {
	return c.cli.sendCheck(0, "ITHLDecrease")
}

// LoadFlatConfigL writes the same local configuration value to every pixel
func (c *Camera) LoadFlatConfigL(value int) error {
	return c.cli.sendCheck(0, fmt.Sprintf("LoadFlatConfigL %d", value*8+1))
}

// CalibrationOTN runs the over-the-noise calibration
func (c *Camera) CalibrationOTN(mode int) error {
	return c.cli.sendCheck(c.CalibrationTimeout, fmt.Sprintf("CalibrationOTN %d", mode))
}

// CalibrationOTNPulse runs the over-the-noise calibration with test pulses
func (c *Camera) CalibrationOTNPulse(mode int) error {
	return c.cli.sendCheck(c.CalibrationTimeout, fmt.Sprintf("CalibrationOTNPulse %d", mode))
}

// CalibrationBEAM runs a calibration under beam, exposing for t, scanning
// ITHL up to ithlMax, with the given configuration
func (c *Camera) CalibrationBEAM(t, ithlMax, config int) error {
	return c.cli.sendCheck(c.CalibrationTimeout, fmt.Sprintf("CalibrationBEAM %d %d %d", t, ithlMax, config))
}

// upload sends a file to the server with the transfer handshake.  A non-empty
// okAck is the reply to OK the server must give before the contents are sent.
func (c *Camera) upload(cmd, okAck string, data []byte) error {
	start := time.Now()
	err := c.cli.Do(0, func(tx *Tx) error {
		ack, err := tx.SendWaitString(cmd)
		if err != nil {
			return err
		}
		if ack != readyToReceive {
			return &ServerError{Cmd: cmd, Msg: ack}
		}
		size, err := tx.SendWaitInt(strconv.Itoa(len(data)))
		if err != nil {
			return err
		}
		if size != len(data) {
			tx.SendWaitInt("ERROR")
			return &ServerError{Cmd: cmd, Msg: fmt.Sprintf("server expects %d bytes, file has %d", size, len(data))}
		}
		ack, err = tx.SendWaitString("OK")
		if err != nil {
			return err
		}
		if okAck != "" && ack != okAck {
			return &ServerError{Cmd: cmd, Msg: ack}
		}
		if _, err := tx.SendWaitString(string(data)); err != nil {
			return err
		}
		ret, err := tx.SendWaitInt(waitingAnswer)
		if err != nil {
			return err
		}
		if ret != 0 {
			return &ServerError{Cmd: cmd, Msg: "return code " + strconv.Itoa(ret)}
		}
		return nil
	})
	observe(cmd, start, err)
	return err
}

// LoadConfigGFromFile uploads a global configuration (.cfg) file
func (c *Camera) LoadConfigGFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return c.upload("LoadConfigGFromFile", "", data)
}

// LoadConfigLFromFile uploads a local configuration (.cfl) file
func (c *Camera) LoadConfigLFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return c.upload("LoadConfigLFromFile", serverOK, data)
}

// SaveConfigGToFile reads every global register and writes them to path,
// one line per register prefixed with the module mask
func (c *Camera) SaveConfigGToFile(path string) error {
	mask := c.Model().ModuleMask()
	var buf bytes.Buffer
	for _, reg := range GlobalRegisters {
		reply, err := c.cli.SendWaitString(fmt.Sprintf("ReadConfigG %d", int(reg)))
		if err != nil {
			return fmt.Errorf("reading %s: %w", reg, err)
		}
		fmt.Fprintf(&buf, "%d %s \n", mask, reply)
	}
	return renameio.WriteFile(path, buf.Bytes(), 0o644)
}

// SaveConfigLToFile downloads the local configuration of every pixel and
// writes it to path
func (c *Camera) SaveConfigLToFile(path string) error {
	const cmd = "ReadConfigL"
	var data []byte
	start := time.Now()
	err := c.cli.Do(0, func(tx *Tx) error {
		ack, err := tx.SendWaitString(cmd)
		if err != nil {
			return err
		}
		if ack != readyToSend {
			return &ServerError{Cmd: cmd, Msg: ack}
		}
		size, err := tx.SendWaitInt(clientReady)
		if err != nil {
			return err
		}
		ret, err := tx.SendWaitInt(strconv.Itoa(size))
		if err != nil {
			return err
		}
		if ret != 0 {
			return &ServerError{Cmd: cmd, Msg: "return code " + strconv.Itoa(ret)}
		}
		if err := tx.SendNoWait("OK"); err != nil {
			return err
		}
		data, err = tx.ReadRaw(size)
		return err
	})
	observe(cmd, start, err)
	if err != nil {
		return err
	}
	return renameio.WriteFile(path, data, 0o644)
}

// Parameters returns the cached acquisition settings
func (c *Camera) Parameters() Parameters {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.params
}

// SetParameters replaces the cached acquisition settings.  They are sent
// to the server by the next SetExposureParameters.
func (c *Camera) SetParameters(p Parameters) error {
	if p.PixelDepth != Bpp16 && p.PixelDepth != Bpp32 {
		return ErrUnknownValue{Kind: "pixel depth", Value: strconv.Itoa(int(p.PixelDepth))}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.params = p
	return nil
}

// SetExposureParameters sends the number of images, the exposure time and
// every cached setting to the server
func (c *Camera) SetExposureParameters(images int, exposure time.Duration) error {
	if images < 1 {
		return ErrUnknownValue{Kind: "number of images", Value: strconv.Itoa(images)}
	}
	return c.cli.sendCheck(0, exposeCommand(images, exposure, c.Parameters()))
}

func exposeCommand(images int, exposure time.Duration, p Parameters) string {
	format := 1
	if p.PixelDepth == Bpp16 {
		format = 0
	}
	return fmt.Sprintf("SetExposeParameters %d %d %d %d %d %d %d %d %d %d %d",
		images,
		exposure.Microseconds(),
		p.OverflowTime,
		int(p.TriggerMode),
		int(p.OutputSignal),
		format,
		b2i(p.GeometricalCorrection),
		b2i(p.FlatFieldCorrection),
		b2i(p.ImageTransfer),
		int(p.ImageFileFormat),
		int(p.AcquisitionMode))
}
