package nvx

import (
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/davecgh/go-spew/spew"
)

// EmulatorConfig describes the single simulated amplifier offered by an Emulator.
type EmulatorConfig struct {
	EEG          int    // number of EEG channels
	Aux          int    // number of AUX channels
	Rate         Rate   // physical sample rate
	FirstCounter uint32 // sequence counter of the first sample after Start
	DropEvery    int    // if > 0, silently skip one counter value every DropEvery samples
}

// DefaultEmulatorConfig is a 32+8 channel amplifier at 10 kHz.
func DefaultEmulatorConfig() EmulatorConfig {
	return EmulatorConfig{EEG: 32, Aux: 8, Rate: Rate10kHz}
}

// Emulator is a drop-in replacement for the vendor driver that requires no
// hardware. It offers exactly one device, which produces samples paced by the
// wall clock at the configured rate. It implements both Driver and Device.
type Emulator struct {
	config    EmulatorConfig
	now       func() time.Time
	settings  Settings
	isOpen    bool
	isStarted bool
	startTime time.Time
	produced  uint64 // samples handed out since Start
	counter   uint32
	dropped   uint32
	sync.Mutex
}

// NewEmulator generates and returns a new Emulator. It is an error to ask for
// no EEG channels or negative counts.
func NewEmulator(config EmulatorConfig) (*Emulator, error) {
	if config.EEG <= 0 || config.Aux < 0 {
		return nil, fmt.Errorf("NewEmulator: need EEG > 0 and Aux >= 0, have %d and %d", config.EEG, config.Aux)
	}
	if config.Rate.Hz() == 0 {
		return nil, fmt.Errorf("NewEmulator: unknown rate setting %d", config.Rate)
	}
	return &Emulator{
		config:   config,
		now:      time.Now,
		settings: Settings{Mode: ModeNormal, Rate: config.Rate},
	}, nil
}

// Count returns 1: the emulator always offers one device.
func (e *Emulator) Count() int {
	return 1
}

// Open errors unless index is 0 and the device is not already open.
func (e *Emulator) Open(index int) (Device, error) {
	e.Lock()
	defer e.Unlock()
	if index != 0 {
		return nil, &StatusError{Op: fmt.Sprintf("Open(%d)", index), Status: StatusInvalidParam}
	}
	if e.isOpen {
		return nil, &StatusError{Op: "Open(0): already open", Status: StatusFail}
	}
	e.isOpen = true
	return e, nil
}

// Close errors if already closed. A running emulator is stopped first.
func (e *Emulator) Close() error {
	e.Lock()
	defer e.Unlock()
	if !e.isOpen {
		return &StatusError{Op: "Close", Status: StatusInvalidHandle}
	}
	e.isStarted = false
	e.isOpen = false
	return nil
}

// Start errors if the device is closed; starting twice is allowed, as in the driver.
func (e *Emulator) Start() error {
	e.Lock()
	defer e.Unlock()
	if !e.isOpen {
		return &StatusError{Op: "Start", Status: StatusInvalidHandle}
	}
	if !e.isStarted {
		e.isStarted = true
		e.startTime = e.now()
		e.produced = 0
		e.dropped = 0
		e.counter = e.config.FirstCounter
	}
	return nil
}

// Stop errors if the device is closed.
func (e *Emulator) Stop() error {
	e.Lock()
	defer e.Unlock()
	if !e.isOpen {
		return &StatusError{Op: "Stop", Status: StatusInvalidHandle}
	}
	e.isStarted = false
	return nil
}

// Settings returns the current acquisition settings.
func (e *Emulator) Settings() (Settings, error) {
	e.Lock()
	defer e.Unlock()
	if !e.isOpen {
		return Settings{}, &StatusError{Op: "Settings", Status: StatusInvalidHandle}
	}
	return e.settings, nil
}

// SetSettings changes the settings; refused while acquiring.
func (e *Emulator) SetSettings(s Settings) error {
	e.Lock()
	defer e.Unlock()
	switch {
	case !e.isOpen:
		return &StatusError{Op: "SetSettings", Status: StatusInvalidHandle}
	case e.isStarted:
		return &StatusError{Op: "SetSettings while started", Status: StatusFail}
	case s.Rate.Hz() == 0 || s.Mode < ModeNormal || s.Mode > ModeImpGnd:
		return &StatusError{Op: "SetSettings", Status: StatusInvalidParam}
	case s.Rate == Rate100kHz && e.config.EEG > 64:
		return &StatusError{Op: "SetSettings: 100 kHz allows max 64 channels", Status: StatusInvalidParam}
	}
	e.settings = s
	return nil
}

func (e *Emulator) sampleRate() uint32 {
	return e.settings.Rate.Hz() / e.settings.Decimation.Factor()
}

// Properties returns the channel layout and the effective (decimated) rate.
func (e *Emulator) Properties() (Property, error) {
	e.Lock()
	defer e.Unlock()
	if !e.isOpen {
		return Property{}, &StatusError{Op: "Properties", Status: StatusInvalidHandle}
	}
	return Property{
		CountEEG:      uint32(e.config.EEG),
		CountAux:      uint32(e.config.Aux),
		TriggersIn:    8,
		TriggersOut:   8,
		Rate:          float32(e.sampleRate()),
		ResolutionEEG: 0.0715e-6,
		ResolutionAux: 0.0715e-6,
		RangeEEG:      0.341,
		RangeAux:      0.341,
	}, nil
}

// NextSample writes the next sample into buf if the wall clock says one is due.
func (e *Emulator) NextSample(buf []byte) (int, error) {
	e.Lock()
	defer e.Unlock()
	size := SampleSize(e.config.EEG, e.config.Aux)
	switch {
	case !e.isOpen:
		return 0, &StatusError{Op: "NextSample", Status: StatusInvalidHandle}
	case !e.isStarted:
		return 0, &StatusError{Op: "NextSample: not started", Status: StatusFail}
	case len(buf) < size:
		return 0, &StatusError{Op: fmt.Sprintf("NextSample: buffer %d bytes, need %d", len(buf), size),
			Status: StatusInvalidParam}
	}
	due := uint64(e.now().Sub(e.startTime).Seconds() * float64(e.sampleRate()))
	if e.produced >= due {
		return 0, nil
	}
	if e.config.DropEvery > 0 && e.produced > 0 && e.produced%uint64(e.config.DropEvery) == 0 {
		e.counter++
		e.dropped++
	}
	e.produced++
	e.fill(buf[:size])
	e.counter++
	return size, nil
}

// fill encodes one sample with the current counter: a ramp on EEG channels, a
// slower ramp on AUX channels, and trigger 0 toggling once per second.
func (e *Emulator) fill(buf []byte) {
	c := e.counter
	off := 0
	for i := 0; i < e.config.EEG; i++ {
		v := int32(c%1000) + int32(i)
		if e.settings.Mode == ModeTest {
			v = 200
			if (c/(e.sampleRate()/2))%2 == 1 {
				v = -200
			}
		}
		binary.LittleEndian.PutUint32(buf[off:], uint32(v))
		off += 4
	}
	for i := 0; i < e.config.Aux; i++ {
		binary.LittleEndian.PutUint32(buf[off:], uint32(int32(c/10)+int32(i)))
		off += 4
	}
	var status uint32
	if (c/e.sampleRate())%2 == 1 {
		status = 1 | 1<<8
	}
	binary.LittleEndian.PutUint32(buf[off:], status)
	binary.LittleEndian.PutUint32(buf[off+4:], c)
}

// DataStatus reports how many samples have been produced so far.
func (e *Emulator) DataStatus() (DataStatus, error) {
	e.Lock()
	defer e.Unlock()
	if !e.isOpen {
		return DataStatus{}, &StatusError{Op: "DataStatus", Status: StatusInvalidHandle}
	}
	rate := float32(0)
	if e.isStarted {
		rate = float32(e.sampleRate())
	}
	size := SampleSize(e.config.EEG, e.config.Aux)
	return DataStatus{
		Samples: uint32(e.produced),
		Rate:    rate,
		Speed:   rate * float32(size) / 1e6,
	}, nil
}

// ErrorStatus reports simulated counter errors (see EmulatorConfig.DropEvery).
func (e *Emulator) ErrorStatus() (ErrorStatus, error) {
	e.Lock()
	defer e.Unlock()
	if !e.isOpen {
		return ErrorStatus{}, &StatusError{Op: "ErrorStatus", Status: StatusInvalidHandle}
	}
	return ErrorStatus{Samples: uint32(e.produced), Counter: e.dropped}, nil
}

// Version returns a fixed version block that identifies the emulator.
func (e *Emulator) Version() (Version, error) {
	return Version{DLL: 0x0100000000000000}, nil
}

// Inspect returns a dump of the emulator's internal state.
func (e *Emulator) Inspect() string {
	e.Lock()
	defer e.Unlock()
	return spew.Sdump(e.config, e.settings, e.isOpen, e.isStarted, e.produced, e.counter)
}
