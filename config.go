package nvxinlet

import (
	"fmt"
	"math"
	"time"

	"github.com/spf13/viper"
	"github.com/usnistgov/nvxinlet/nvx"
)

// ConfigKey is the top-level key under which LoadConfig finds the Config.
const ConfigKey = "inlet"

// EmulatorConfig selects the shape of the simulated amplifier used when
// Config.Emulation is set.
type EmulatorConfig struct {
	EEG  int    `mapstructure:"eeg"`
	AUX  int    `mapstructure:"aux"`
	Rate uint32 `mapstructure:"rate"` // physical rate, Hz: 10000, 50000 or 100000
}

// Config holds everything an Inlet needs to know before it opens a device.
type Config struct {
	DeviceIndex    int            `mapstructure:"deviceindex"`
	TargetRate     uint32         `mapstructure:"targetrate"`     // output rate, Hz
	BufferTime     time.Duration  `mapstructure:"buffertime"`     // ring holds this much output data
	DelayTolerance time.Duration  `mapstructure:"delaytolerance"` // sleep when no sample is pending
	Emulation      bool           `mapstructure:"emulation"`      // use nvx.Emulator instead of hardware
	Emulator       EmulatorConfig `mapstructure:"emulator"`
}

// DefaultDelayTolerance is the idle sleep of the acquisition loop.
const DefaultDelayTolerance = 10 * time.Millisecond

// DefaultConfig returns a Config for device 0 at 1 kHz with a 10 s buffer.
func DefaultConfig() Config {
	return Config{
		DeviceIndex:    0,
		TargetRate:     1000,
		BufferTime:     10 * time.Second,
		DelayTolerance: DefaultDelayTolerance,
		Emulator:       EmulatorConfig{EEG: 32, AUX: 8, Rate: 10000},
	}
}

// SetDefaults registers DefaultConfig values with v, so that a partial config
// file still yields a complete Config.
func SetDefaults(v *viper.Viper) {
	d := DefaultConfig()
	v.SetDefault(ConfigKey+".deviceindex", d.DeviceIndex)
	v.SetDefault(ConfigKey+".targetrate", d.TargetRate)
	v.SetDefault(ConfigKey+".buffertime", d.BufferTime)
	v.SetDefault(ConfigKey+".delaytolerance", d.DelayTolerance)
	v.SetDefault(ConfigKey+".emulation", d.Emulation)
	v.SetDefault(ConfigKey+".emulator.eeg", d.Emulator.EEG)
	v.SetDefault(ConfigKey+".emulator.aux", d.Emulator.AUX)
	v.SetDefault(ConfigKey+".emulator.rate", d.Emulator.Rate)
}

// LoadConfig reads the Config stored under ConfigKey in v and validates it.
func LoadConfig(v *viper.Viper) (Config, error) {
	SetDefaults(v)
	// Unmarshal the whole tree, not just ConfigKey, so that defaults fill in
	// keys a partial config file leaves out.
	var all struct {
		Inlet Config `mapstructure:"inlet"`
	}
	if err := v.Unmarshal(&all); err != nil {
		return Config{}, fmt.Errorf("reading %q config: %v: %w", ConfigKey, err, ErrConfiguration)
	}
	if err := all.Inlet.Validate(); err != nil {
		return Config{}, err
	}
	return all.Inlet, nil
}

// Validate checks every field that can be checked without touching hardware.
// Whether TargetRate exceeds the source rate is only known after the device
// is queried, at Start.
func (c Config) Validate() error {
	if c.DeviceIndex < 0 {
		return fmt.Errorf("device index %d: %w", c.DeviceIndex, ErrConfiguration)
	}
	if err := validateRate(c.TargetRate); err != nil {
		return err
	}
	if err := validateBufferTime(c.BufferTime); err != nil {
		return err
	}
	if err := validateDelayTolerance(c.DelayTolerance); err != nil {
		return err
	}
	if c.Emulation {
		if _, err := c.Emulator.nvxConfig(); err != nil {
			return err
		}
	}
	return nil
}

func validateRate(rate uint32) error {
	if rate == 0 {
		return fmt.Errorf("target rate must be at least 1 Hz: %w", ErrConfiguration)
	}
	return nil
}

func validateBufferTime(d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("buffer time %v must be positive: %w", d, ErrConfiguration)
	}
	return nil
}

func validateDelayTolerance(d time.Duration) error {
	if d < 0 {
		return fmt.Errorf("delay tolerance %v must not be negative: %w", d, ErrConfiguration)
	}
	return nil
}

// ringCapacity is ceil(rate * bufferTime), at least 1.
func ringCapacity(rate uint32, bufferTime time.Duration) (int, error) {
	c := math.Ceil(float64(rate) * bufferTime.Seconds())
	if c > math.MaxInt32 {
		return 0, fmt.Errorf("buffer of %v at %d Hz is too large: %w", bufferTime, rate, ErrConfiguration)
	}
	return max(int(c), 1), nil
}

func (e EmulatorConfig) nvxConfig() (nvx.EmulatorConfig, error) {
	rate, err := nvx.RateFromHz(e.Rate)
	if err != nil {
		return nvx.EmulatorConfig{}, fmt.Errorf("emulator: %v: %w", err, ErrConfiguration)
	}
	if e.EEG <= 0 || e.AUX < 0 {
		return nvx.EmulatorConfig{}, fmt.Errorf("emulator needs EEG > 0 and AUX >= 0, have %d and %d: %w",
			e.EEG, e.AUX, ErrConfiguration)
	}
	return nvx.EmulatorConfig{EEG: e.EEG, Aux: e.AUX, Rate: rate}, nil
}

// NewDriver returns the driver this Config asks for: an emulator when
// Emulation is set, else hw, which may be nil only when emulating.
func (c Config) NewDriver(hw nvx.Driver) (nvx.Driver, error) {
	if !c.Emulation {
		if hw == nil {
			return nil, fmt.Errorf("no hardware driver available and emulation is off: %w", ErrConfiguration)
		}
		return hw, nil
	}
	ec, err := c.Emulator.nvxConfig()
	if err != nil {
		return nil, err
	}
	emu, err := nvx.NewEmulator(ec)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, ErrConfiguration)
	}
	return emu, nil
}
