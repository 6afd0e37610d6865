package detector

import (
	"sort"

	"github.jpl.nasa.gov/bdube/xpad/imxpad"
)

// Attribute names of the enumerated acquisition settings
const (
	AcquisitionMode           = "Acquisition_Mode"
	OutputSignal              = "Output_Signal"
	FlatFieldCorrectionFlag   = "Flat_Field_Correction_Flag"
	GeometricalCorrectionFlag = "Geometrical_Correction_Flag"
	ImageTransferFlag         = "Image_Transfer_Flag"
	ImageFileFormat           = "Image_File_Format"
)

type enumValue struct {
	name  string
	value int
}

// enumAttr maps the names of an attribute to a field of imxpad.Parameters
type enumAttr struct {
	values []enumValue
	get    func(p imxpad.Parameters) int
	set    func(p *imxpad.Parameters, v int)
}

func (a enumAttr) names() []string {
	out := make([]string, len(a.values))
	for i, v := range a.values {
		out[i] = v.name
	}
	return out
}

func (a enumAttr) lookup(name string) (int, bool) {
	for _, v := range a.values {
		if v.name == name {
			return v.value, true
		}
	}
	return 0, false
}

func (a enumAttr) name(value int) string {
	for _, v := range a.values {
		if v.value == value {
			return v.name
		}
	}
	return ""
}

func flag(get func(p imxpad.Parameters) bool, set func(p *imxpad.Parameters, b bool)) enumAttr {
	return enumAttr{
		values: []enumValue{{"ON", 1}, {"OFF", 0}},
		get: func(p imxpad.Parameters) int {
			if get(p) {
				return 1
			}
			return 0
		},
		set: func(p *imxpad.Parameters, v int) { set(p, v == 1) },
	}
}

var enumAttrs = map[string]enumAttr{
	AcquisitionMode: {
		values: []enumValue{
			{"STANDARD", int(imxpad.Standard)},
			{"COMPUTERBURST", int(imxpad.ComputerBurst)},
			{"DETECTORBURST", int(imxpad.DetectorBurst)},
		},
		get: func(p imxpad.Parameters) int { return int(p.AcquisitionMode) },
		set: func(p *imxpad.Parameters, v int) { p.AcquisitionMode = imxpad.AcquisitionMode(v) },
	},
	OutputSignal: {
		values: []enumValue{
			{"ExposureBusy", int(imxpad.ExposureBusy)},
			{"ShutterBusy", int(imxpad.ShutterBusy)},
			{"BusyUpdateOverflow", int(imxpad.BusyUpdateOverflow)},
			{"PixelCounterEnabled", int(imxpad.PixelCounterEnabled)},
			{"ExternalGate", int(imxpad.ExternalGate)},
			{"ExposureReadDone", int(imxpad.ExposureReadDone)},
			{"DataTransfer", int(imxpad.DataTransfer)},
			{"RAMReadyImageBusy", int(imxpad.RAMReadyImageBusy)},
			{"XPADToLocalDDR", int(imxpad.XPADToLocalDDR)},
			{"LocalDDRToPC", int(imxpad.LocalDDRToPC)},
		},
		get: func(p imxpad.Parameters) int { return int(p.OutputSignal) },
		set: func(p *imxpad.Parameters, v int) { p.OutputSignal = imxpad.OutputSignal(v) },
	},
	FlatFieldCorrectionFlag: flag(
		func(p imxpad.Parameters) bool { return p.FlatFieldCorrection },
		func(p *imxpad.Parameters, b bool) { p.FlatFieldCorrection = b }),
	GeometricalCorrectionFlag: flag(
		func(p imxpad.Parameters) bool { return p.GeometricalCorrection },
		func(p *imxpad.Parameters, b bool) { p.GeometricalCorrection = b }),
	ImageTransferFlag: flag(
		func(p imxpad.Parameters) bool { return p.ImageTransfer },
		func(p *imxpad.Parameters, b bool) { p.ImageTransfer = b }),
	ImageFileFormat: {
		values: []enumValue{
			{"Ascii", int(imxpad.Ascii)},
			{"Binary", int(imxpad.Binary)},
		},
		get: func(p imxpad.Parameters) int { return int(p.ImageFileFormat) },
		set: func(p *imxpad.Parameters, v int) { p.ImageFileFormat = imxpad.ImageFileFormat(v) },
	},
}

// EnumAttributes lists the enumerated attributes, sorted
func EnumAttributes() []string {
	out := make([]string, 0, len(enumAttrs))
	for k := range enumAttrs {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
