// Package nvx describes the call surface of the NVX amplifier driver:
// opening a device, starting and stopping acquisition, reading settings and
// properties, and fetching one raw sample at a time.
//
// The vendor DLL itself is not wrapped here. Anything that satisfies Driver
// and Device can feed the acquisition core; Emulator is the software stand-in
// used when no amplifier is attached.
package nvx

// Driver enumerates and opens amplifiers.
type Driver interface {
	Count() int
	Open(index int) (Device, error)
}

// Device is an open amplifier handle. NextSample copies at most one sample into
// buf and returns the number of bytes written; zero bytes means no sample is
// pending yet, which is not an error.
type Device interface {
	Close() error
	Start() error
	Stop() error
	Settings() (Settings, error)
	SetSettings(Settings) error
	Properties() (Property, error)
	NextSample(buf []byte) (int, error)
	DataStatus() (DataStatus, error)
	ErrorStatus() (ErrorStatus, error)
	Version() (Version, error)
}

// DevicesCountMax is the largest number of amplifier modules one media
// converter can chain.
const DevicesCountMax = 3

// SampleSize returns the byte length of one raw sample with the given channel
// counts: eeg and aux int32 values, a status word and a sequence counter.
func SampleSize(eeg, aux int) int {
	return 4*eeg + 4*aux + 8
}
