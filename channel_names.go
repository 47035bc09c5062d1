package nvxinlet

import "fmt"

// ChannelKind says whether a named channel is an EEG or an AUX input.
type ChannelKind int

// Kinds of named channel.
const (
	EEGChannel ChannelKind = iota
	AuxChannel
)

func (k ChannelKind) String() string {
	if k == AuxChannel {
		return "AUX"
	}
	return "EEG"
}

// ChannelRef locates a named channel within a sample.
type ChannelRef struct {
	Kind  ChannelKind
	Index int
}

// eegNames are the 10-20 positions of the standard 32-channel actiCAP, in
// amplifier input order.
var eegNames = []string{
	"Fp1", "Fz", "F3", "F7", "FT9", "FC5", "FC1", "C3",
	"T7", "TP9", "CP5", "CP1", "Pz", "P3", "P7", "O1",
	"Oz", "O2", "P4", "P8", "TP10", "CP6", "CP2", "Cz",
	"C4", "T8", "FT10", "FC6", "FC2", "F4", "F8", "Fp2",
}

const numAuxNames = 8

// channelTable is built once by init and never modified afterwards.
var channelTable map[string]ChannelRef

func init() {
	channelTable = make(map[string]ChannelRef, len(eegNames)+numAuxNames)
	for i, name := range eegNames {
		channelTable[name] = ChannelRef{Kind: EEGChannel, Index: i}
	}
	for i := 0; i < numAuxNames; i++ {
		channelTable[fmt.Sprintf("AUX%d", i+1)] = ChannelRef{Kind: AuxChannel, Index: i}
	}
}

// LookupChannel resolves a channel name such as "Cz" or "AUX3". Names are case sensitive.
func LookupChannel(name string) (ChannelRef, error) {
	ref, ok := channelTable[name]
	if !ok {
		return ChannelRef{}, fmt.Errorf("%q: %w", name, ErrUnknownChannel)
	}
	return ref, nil
}

// ChannelNames returns the names of the channels present in layout, EEG then
// AUX. Channels beyond the named table get generic names like "EEG33".
func ChannelNames(layout Layout) []string {
	names := make([]string, 0, layout.EEGCount+layout.AuxCount)
	for i := 0; i < layout.EEGCount; i++ {
		if i < len(eegNames) {
			names = append(names, eegNames[i])
		} else {
			names = append(names, fmt.Sprintf("EEG%d", i+1))
		}
	}
	for i := 0; i < layout.AuxCount; i++ {
		names = append(names, fmt.Sprintf("AUX%d", i+1))
	}
	return names
}
