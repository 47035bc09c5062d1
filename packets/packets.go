// Package packets defines the wire format used to ship pulled chunks of NVX
// samples to other processes: a big-endian header, a few type-length-value
// (TLV) items, then the raw little-endian samples exactly as the amplifier
// produced them.
package packets

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/usnistgov/nvxinlet"
)

// Packet is one chunk of samples plus the metadata needed to decode it.
type Packet struct {
	version        uint8
	headerLength   uint8
	sourceID       uint32
	sequenceNumber uint32
	payloadLength  uint32
	timestamp      HeadTimestamp
	firstCounter   HeadCounter
	layout         HeadLayout
	payload        []byte
}

// PACKETMAGIC is the packet header's magic number.
const PACKETMAGIC uint32 = 0x4e565849 // "NVXI"

// VERSION is the only header version this package writes and reads.
const VERSION uint8 = 1

// Sizes in bytes of the fixed header and of the TLVs written by Bytes.
const (
	fixedHeaderLength = 24
	tlvTimestampSize  = 16
	tlvCounterSize    = 8
	tlvLayoutSize     = 8
	headerLength      = fixedHeaderLength + tlvTimestampSize + tlvCounterSize + tlvLayoutSize
)

// TLV type codes.
const (
	tlvNull      = 0x00
	tlvTimestamp = 0x11
	tlvCounter   = 0x12
	tlvLayout    = 0x24
)

// ErrBadHeader is wrapped by every header decoding failure.
var ErrBadHeader = errors.New("bad packet header")

// HeadTimestamp is the time a chunk was pulled, in nanoseconds since the Unix epoch.
type HeadTimestamp uint64

// Time converts the timestamp to a time.Time.
func (ts HeadTimestamp) Time() time.Time {
	return time.Unix(0, int64(ts))
}

// HeadCounter represents a counter found in a packet header
type HeadCounter struct {
	ID    int16
	Count uint32
}

// HeadLayout holds the channel counts of the samples in the payload.
type HeadLayout struct {
	EEG uint16
	AUX uint16
}

// NewPacket wraps chunk for transmission. sourceID identifies the amplifier
// and seq counts chunks from that amplifier.
func NewPacket(chunk nvxinlet.Chunk, layout nvxinlet.Layout, sourceID, seq uint32, t time.Time) (*Packet, error) {
	if layout.EEGCount > 0xffff || layout.AuxCount > 0xffff || layout.EEGCount < 0 || layout.AuxCount < 0 {
		return nil, fmt.Errorf("layout %v does not fit a packet header: %w", layout, ErrBadHeader)
	}
	if chunk.Len() > 0 && chunk.Layout() != layout {
		return nil, fmt.Errorf("chunk layout %v, packet layout %v: %w", chunk.Layout(), layout, nvxinlet.ErrConfiguration)
	}
	p := &Packet{
		version:        VERSION,
		headerLength:   headerLength,
		sourceID:       sourceID,
		sequenceNumber: seq,
		timestamp:      HeadTimestamp(t.UnixNano()),
		layout:         HeadLayout{EEG: uint16(layout.EEGCount), AUX: uint16(layout.AuxCount)},
		payload:        chunk.Bytes(),
	}
	p.payloadLength = uint32(len(p.payload))
	if chunk.Len() > 0 {
		p.firstCounter = HeadCounter{ID: 0, Count: chunk[0].Counter()}
	}
	return p, nil
}

// String returns a short summary of the packet header.
func (p *Packet) String() string {
	return fmt.Sprintf("Packet v%d source %d seq %d: %d samples of %d EEG + %d AUX starting at counter %d",
		p.version, p.sourceID, p.sequenceNumber, p.Frames(), p.layout.EEG, p.layout.AUX, p.firstCounter.Count)
}

// SourceID returns the amplifier index that produced the packet.
func (p *Packet) SourceID() uint32 { return p.sourceID }

// SequenceNumber returns the chunk count from that amplifier.
func (p *Packet) SequenceNumber() uint32 { return p.sequenceNumber }

// Timestamp returns when the chunk was pulled.
func (p *Packet) Timestamp() HeadTimestamp { return p.timestamp }

// FirstCounter returns the hardware counter of the first sample, or 0 for an empty packet.
func (p *Packet) FirstCounter() uint32 { return p.firstCounter.Count }

// Layout returns the channel counts of the payload samples.
func (p *Packet) Layout() nvxinlet.Layout {
	return nvxinlet.Layout{EEGCount: int(p.layout.EEG), AuxCount: int(p.layout.AUX)}
}

// Frames returns the number of samples in the payload.
func (p *Packet) Frames() int {
	return int(p.payloadLength) / p.Layout().SampleSize()
}

// Chunk decodes the payload into samples, which alias the packet's payload.
func (p *Packet) Chunk() (nvxinlet.Chunk, error) {
	return nvxinlet.ChunkFromBytes(p.payload, p.Layout())
}

// Length returns the length of the entire packet, in bytes
func (p *Packet) Length() int {
	return int(p.headerLength) + int(p.payloadLength)
}

// Bytes converts the Packet p to a []byte slice for transport.
func (p *Packet) Bytes() []byte {
	buf := new(bytes.Buffer)
	buf.Grow(p.Length())
	hdr := []any{
		p.version, p.headerLength, uint16(0), PACKETMAGIC,
		p.sourceID, p.sequenceNumber, p.payloadLength, uint32(0),
		// timestamp TLV
		uint8(tlvTimestamp), uint8(tlvTimestampSize / 8), [6]byte{}, uint64(p.timestamp),
		// counter TLV
		uint8(tlvCounter), uint8(tlvCounterSize / 8), p.firstCounter.ID, p.firstCounter.Count,
		// layout TLV
		uint8(tlvLayout), uint8(tlvLayoutSize / 8), p.layout.EEG, p.layout.AUX, uint16(0),
	}
	for _, v := range hdr {
		binary.Write(buf, binary.BigEndian, v)
	}
	buf.Write(p.payload)
	return buf.Bytes()
}

// Header returns a Packet with header fields read from an io.Reader and no payload.
func Header(data io.Reader) (*Packet, error) {
	p := new(Packet)
	var reserved16 uint16
	var magic, reserved32 uint32
	fields := []any{&p.version, &p.headerLength, &reserved16, &magic,
		&p.sourceID, &p.sequenceNumber, &p.payloadLength, &reserved32}
	for _, f := range fields {
		if err := binary.Read(data, binary.BigEndian, f); err != nil {
			return nil, err
		}
	}
	if magic != PACKETMAGIC {
		return nil, fmt.Errorf("magic was 0x%x, want 0x%x: %w", magic, PACKETMAGIC, ErrBadHeader)
	}
	if p.version != VERSION {
		return nil, fmt.Errorf("header version is %d, want %d: %w", p.version, VERSION, ErrBadHeader)
	}
	if p.headerLength < fixedHeaderLength || p.headerLength%8 != 0 {
		return nil, fmt.Errorf("header length is %d, expect a multiple of 8 and at least %d: %w",
			p.headerLength, fixedHeaderLength, ErrBadHeader)
	}
	tlvs, err := readTLV(data, int(p.headerLength)-fixedHeaderLength)
	if err != nil {
		return nil, err
	}
	for _, tlv := range tlvs {
		switch v := tlv.(type) {
		case HeadTimestamp:
			p.timestamp = v
		case HeadCounter:
			p.firstCounter = v
		case HeadLayout:
			p.layout = v
		}
	}
	if size := p.Layout().SampleSize(); p.payloadLength%uint32(size) != 0 {
		return nil, fmt.Errorf("payload length %d is not a multiple of the %d-byte sample: %w",
			p.payloadLength, size, ErrBadHeader)
	}
	return p, nil
}

// ReadPacket returns a Packet read from an io.Reader
func ReadPacket(data io.Reader) (*Packet, error) {
	p, err := Header(data)
	if err != nil {
		return nil, err
	}
	p.payload = make([]byte, p.payloadLength)
	if _, err := io.ReadFull(data, p.payload); err != nil {
		return nil, fmt.Errorf("reading %d-byte payload: %w", p.payloadLength, err)
	}
	return p, nil
}

// readTLV reads data for size bytes, generating a list of all TLV objects
func readTLV(data io.Reader, size int) (result []any, err error) {
	var t uint8
	var tlvsize uint8
	for size > 0 {
		if size < 8 {
			return result, fmt.Errorf("readTLV needs to read multiples of 8 bytes: %w", ErrBadHeader)
		}
		if err = binary.Read(data, binary.BigEndian, &t); err != nil {
			return result, err
		}
		if err = binary.Read(data, binary.BigEndian, &tlvsize); err != nil {
			return result, err
		}
		if tlvsize == 0 || 8*int(tlvsize) > size {
			return result, fmt.Errorf("TLV type %d has len 8*%d, but remaining hdr size is %d: %w",
				t, tlvsize, size, ErrBadHeader)
		}
		body := make([]byte, 8*int(tlvsize)-2)
		if _, err = io.ReadFull(data, body); err != nil {
			return result, err
		}
		switch t {
		case tlvNull:
			// do nothing

		case tlvTimestamp:
			if tlvsize != 2 {
				return result, fmt.Errorf("TLV timestamp size %d, must be 2: %w", tlvsize, ErrBadHeader)
			}
			result = append(result, HeadTimestamp(binary.BigEndian.Uint64(body[6:])))

		case tlvCounter:
			if tlvsize != 1 {
				return result, fmt.Errorf("TLV counter size %d, must be size 1 (32 bits) as currently implemented: %w",
					tlvsize, ErrBadHeader)
			}
			result = append(result, HeadCounter{
				ID:    int16(binary.BigEndian.Uint16(body)),
				Count: binary.BigEndian.Uint32(body[2:]),
			})

		case tlvLayout:
			result = append(result, HeadLayout{
				EEG: binary.BigEndian.Uint16(body),
				AUX: binary.BigEndian.Uint16(body[2:]),
			})

		default:
			return result, fmt.Errorf("unknown TLV type %d: %w", t, ErrBadHeader)
		}

		size -= 8 * int(tlvsize)
	}
	return
}
