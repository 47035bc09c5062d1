package nvxinlet

import (
	"encoding/binary"
	"fmt"

	"github.com/usnistgov/nvxinlet/nvx"
)

// Layout gives the channel counts that fix the size and shape of every raw
// sample from one device. It is captured once when acquisition starts.
type Layout struct {
	EEGCount int
	AuxCount int
}

// LayoutFromProperty extracts the channel counts from device properties.
func LayoutFromProperty(p nvx.Property) Layout {
	return Layout{EEGCount: int(p.CountEEG), AuxCount: int(p.CountAux)}
}

// SampleSize is the byte length of one raw sample with this layout.
func (l Layout) SampleSize() int {
	return nvx.SampleSize(l.EEGCount, l.AuxCount)
}

// Channels is the number of analog channels, EEG plus AUX.
func (l Layout) Channels() int {
	return l.EEGCount + l.AuxCount
}

func (l Layout) String() string {
	return fmt.Sprintf("%d EEG + %d AUX", l.EEGCount, l.AuxCount)
}

// Sample is a read-only view of one raw sample: EEG values, AUX values, a
// status word and a sequence counter, each a little-endian 32-bit word.
//
// A Sample does not copy its bytes. Whoever builds it must keep raw unchanged
// for as long as the Sample is in use. Samples returned by Inlet.PullChunk
// each own their backing array, so the caller may keep them indefinitely.
type Sample struct {
	raw    []byte
	layout Layout
}

// NewSample wraps raw as a Sample. It fails with ErrBounds unless raw is exactly
// layout.SampleSize() bytes long.
func NewSample(raw []byte, layout Layout) (Sample, error) {
	if len(raw) != layout.SampleSize() {
		return Sample{}, fmt.Errorf("raw sample of %d bytes, layout %v needs %d: %w",
			len(raw), layout, layout.SampleSize(), ErrBounds)
	}
	return Sample{raw: raw, layout: layout}, nil
}

func (s Sample) word(i int) uint32 {
	return binary.LittleEndian.Uint32(s.raw[4*i:])
}

// Layout returns the channel counts this sample was decoded with.
func (s Sample) Layout() Layout {
	return s.layout
}

// Bytes returns the raw bytes underlying the sample. Do not modify them.
func (s Sample) Bytes() []byte {
	return s.raw
}

// EEG returns EEG channel i.
func (s Sample) EEG(i int) (int32, error) {
	if i < 0 || i >= s.layout.EEGCount {
		return 0, fmt.Errorf("EEG channel %d of %d: %w", i, s.layout.EEGCount, ErrBounds)
	}
	return int32(s.word(i)), nil
}

// Aux returns AUX channel i.
func (s Sample) Aux(i int) (int32, error) {
	if i < 0 || i >= s.layout.AuxCount {
		return 0, fmt.Errorf("AUX channel %d of %d: %w", i, s.layout.AuxCount, ErrBounds)
	}
	return int32(s.word(s.layout.EEGCount + i)), nil
}

// Channel returns analog channel i, counting EEG channels first and AUX after.
func (s Sample) Channel(i int) (int32, error) {
	if i < 0 || i >= s.layout.Channels() {
		return 0, fmt.Errorf("channel %d of %d: %w", i, s.layout.Channels(), ErrBounds)
	}
	return int32(s.word(i)), nil
}

// ChannelByName returns the value of a named channel such as "Cz" or "AUX1".
// Unknown names fail with ErrUnknownChannel; names whose index this layout
// does not have fail with ErrBounds.
func (s Sample) ChannelByName(name string) (int32, error) {
	ref, err := LookupChannel(name)
	if err != nil {
		return 0, err
	}
	if ref.Kind == AuxChannel {
		return s.Aux(ref.Index)
	}
	return s.EEG(ref.Index)
}

// Status returns the status word.
func (s Sample) Status() StatusWord {
	return StatusWord(s.word(s.layout.Channels()))
}

// InputTrigger reports input trigger line i, for i in [0,8).
func (s Sample) InputTrigger(i int) (bool, error) {
	if i < 0 || i >= NumTriggers {
		return false, fmt.Errorf("input trigger %d: %w", i, ErrBounds)
	}
	return s.Status().InputTrigger(uint(i)), nil
}

// OutputTrigger reports output trigger line i, for i in [0,8).
func (s Sample) OutputTrigger(i int) (bool, error) {
	if i < 0 || i >= NumTriggers {
		return false, fmt.Errorf("output trigger %d: %w", i, ErrBounds)
	}
	return s.Status().OutputTrigger(uint(i)), nil
}

// Counter returns the hardware sequence counter, which wraps at 2^32.
func (s Sample) Counter() uint32 {
	return s.word(s.layout.Channels() + 1)
}

// EncodeSample builds the raw bytes of a sample. It is the inverse of the
// Sample accessors and is used by emulation, tests and the wire decoder.
func EncodeSample(eeg, aux []int32, status StatusWord, counter uint32) []byte {
	raw := make([]byte, nvx.SampleSize(len(eeg), len(aux)))
	off := 0
	for _, v := range eeg {
		binary.LittleEndian.PutUint32(raw[off:], uint32(v))
		off += 4
	}
	for _, v := range aux {
		binary.LittleEndian.PutUint32(raw[off:], uint32(v))
		off += 4
	}
	binary.LittleEndian.PutUint32(raw[off:], uint32(status))
	binary.LittleEndian.PutUint32(raw[off+4:], counter)
	return raw
}
