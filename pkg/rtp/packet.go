package rtp

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

const (
	// HeaderSize is the fixed RTP header length in bytes.
	HeaderSize = 12

	// PayloadTypeMJPEG is the static payload type for Motion-JPEG video.
	PayloadTypeMJPEG = 26

	// Version is the RTP protocol version this stack emits.
	Version = 2
)

// ErrSequenceOverflow is returned by Encode when the sequence number does
// not fit the 16-bit wire field.
var ErrSequenceOverflow = errors.New("rtp: sequence number exceeds 16 bits")

// ErrPacketTooShort is returned by Decode for datagrams shorter than the
// fixed header.
var ErrPacketTooShort = errors.New("rtp: packet shorter than header")

// Header describes the fields packed into the 12-byte RTP header.
//
// Field widths follow the wire layout: Version 2 bits, Padding/Extension/
// Marker 1 bit each, CSRCCount 4 bits, PayloadType 7 bits. Values wider than
// the declared field are masked at encode time; passing them is a programming
// error, not a checked condition.
type Header struct {
	Version     uint8
	Padding     uint8
	Extension   uint8
	CSRCCount   uint8
	Marker      uint8
	PayloadType uint8
	SequenceNum int
	SSRC        uint32
}

// Encode packs hdr and payload into a wire-format RTP packet. The timestamp
// field is stamped with the current POSIX second (a deliberate deviation from
// the RFC 3550 media clock, kept for compatibility with the peer decoder).
func Encode(hdr Header, payload []byte) ([]byte, error) {
	if hdr.SequenceNum >= 1<<16 || hdr.SequenceNum < 0 {
		return nil, fmt.Errorf("%w: %d", ErrSequenceOverflow, hdr.SequenceNum)
	}

	buf := make([]byte, HeaderSize+len(payload))

	buf[0] = hdr.Version<<6 | (hdr.Padding&0x1)<<5 | (hdr.Extension&0x1)<<4 | hdr.CSRCCount&0x0f
	buf[1] = (hdr.Marker&0x1)<<7 | hdr.PayloadType&0x7f
	binary.BigEndian.PutUint16(buf[2:4], uint16(hdr.SequenceNum))
	binary.BigEndian.PutUint32(buf[4:8], uint32(time.Now().Unix()))
	binary.BigEndian.PutUint32(buf[8:12], hdr.SSRC)

	copy(buf[HeaderSize:], payload)
	return buf, nil
}

// Packet is a decoded RTP datagram, as returned by Decode. The zero value
// holds no header and is not usable.
type Packet struct {
	header  []byte
	payload []byte
}

// Decode splits a received datagram into header and payload.
func Decode(data []byte) (*Packet, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrPacketTooShort, len(data))
	}
	return &Packet{
		header:  data[:HeaderSize],
		payload: data[HeaderSize:],
	}, nil
}

// Version returns the RTP version field.
func (p *Packet) Version() uint8 {
	return p.header[0] >> 6
}

// SequenceNumber returns the 16-bit sequence number. In this stack the
// sender sets it to the source frame number.
func (p *Packet) SequenceNumber() int {
	return int(binary.BigEndian.Uint16(p.header[2:4]))
}

// Timestamp returns the sender's POSIX-second timestamp.
func (p *Packet) Timestamp() uint32 {
	return binary.BigEndian.Uint32(p.header[4:8])
}

// PayloadType returns the low 7 bits of the second header byte.
func (p *Packet) PayloadType() uint8 {
	return p.header[1] & 0x7f
}

// SSRC returns the synchronization source identifier.
func (p *Packet) SSRC() uint32 {
	return binary.BigEndian.Uint32(p.header[8:12])
}

// Payload returns the opaque payload bytes following the header.
func (p *Packet) Payload() []byte {
	return p.payload
}
