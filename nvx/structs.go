package nvx

import "fmt"

// Version holds the firmware and software versions of one device.
type Version struct {
	DLL     uint64
	Driver  uint64
	Cypress uint64
	McFPGA  uint64 // media converter FPGA
	MSP430  uint64
	CbFPGA  uint64 // carrier board FPGA
}

// Mode selects what the amplifier acquires.
type Mode int

// Acquisition modes.
const (
	ModeNormal       Mode = iota // normal data acquisition
	ModeActiveShield             // data acquisition with ActiveShield
	ModeImpedance                // impedance measurement
	ModeTest                     // test signal (square wave 200 uV, 1 Hz)
	ModeGnd                      // all electrodes connected to gnd
	ModeImpGnd                   // impedance measurement, all electrodes connected to gnd
)

var modeNames = []string{"normal", "activeshield", "impedance", "test", "gnd", "impgnd"}

func (m Mode) String() string {
	if m >= 0 && int(m) < len(modeNames) {
		return modeNames[m]
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// Rate is the physical sampling rate setting.
type Rate int

// Physical sample rates.
const (
	Rate10kHz  Rate = iota // all channels (default)
	Rate50kHz              // all channels
	Rate100kHz             // max 64 channels
)

// Hz returns the sampling frequency of r, or 0 for an unknown setting.
func (r Rate) Hz() uint32 {
	switch r {
	case Rate10kHz:
		return 10000
	case Rate50kHz:
		return 50000
	case Rate100kHz:
		return 100000
	}
	return 0
}

// RateFromHz finds the Rate setting with the given frequency.
func RateFromHz(hz uint32) (Rate, error) {
	for _, r := range []Rate{Rate10kHz, Rate50kHz, Rate100kHz} {
		if r.Hz() == hz {
			return r, nil
		}
	}
	return 0, fmt.Errorf("no NVX sample rate of %d Hz (want 10000, 50000 or 100000): %w",
		hz, &StatusError{Op: "RateFromHz", Status: StatusInvalidParam})
}

// Decimation is the on-device ADC decimation factor. Zero means none.
type Decimation int

// Decimation factors supported by the firmware.
const (
	Decimation0  Decimation = 0
	Decimation2  Decimation = 2
	Decimation5  Decimation = 5
	Decimation10 Decimation = 10
	Decimation20 Decimation = 20
	Decimation40 Decimation = 40
)

// Factor returns the divisor applied to the physical rate (1 when disabled).
func (d Decimation) Factor() uint32 {
	if d <= 0 {
		return 1
	}
	return uint32(d)
}

// Settings are the acquisition settings of a device.
type Settings struct {
	Mode       Mode
	Rate       Rate
	Decimation Decimation
}

// Property describes the channel layout and scaling of a device.
type Property struct {
	CountEEG      uint32
	CountAux      uint32
	TriggersIn    uint32
	TriggersOut   uint32
	Rate          float32 // sampling rate, Hz
	ResolutionEEG float32 // V/bit
	ResolutionAux float32 // V/bit
	RangeEEG      float32 // peak-peak, V
	RangeAux      float32 // peak-peak, V
}

// SampleSize is the byte length of one raw sample from a device with these properties.
func (p Property) SampleSize() int {
	return SampleSize(int(p.CountEEG), int(p.CountAux))
}

// DataStatus summarizes the data flow of a running acquisition.
type DataStatus struct {
	Samples uint32  // total samples
	Errors  uint32  // total errors
	Rate    float32 // data rate, Hz
	Speed   float32 // data speed, MB/s
}

// ErrorStatus counts the transfer errors seen during acquisition.
type ErrorStatus struct {
	Samples uint32 // total samples
	CRC     uint32 // crc errors on data samples
	Counter uint32 // counter errors on data samples
	Devices [DevicesCountMax]uint32
}
