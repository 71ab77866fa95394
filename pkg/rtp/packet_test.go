package rtp

import (
	"bytes"
	"math/rand"
	"testing"
	"time"

	pionrtp "github.com/pion/rtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeByte0(t *testing.T) {
	tests := []struct {
		name string
		hdr  Header
		want byte
	}{
		{"all zero", Header{}, 0x00},
		{"padding", Header{Padding: 1}, 0b00100000},
		{"version 2", Header{Version: 2}, 0b10000000},
		{"extension", Header{Extension: 1}, 0b00010000},
		{"csrc count max", Header{CSRCCount: 15}, 0b00001111},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf, err := Encode(tt.hdr, make([]byte, 5))
			require.NoError(t, err)
			assert.Equal(t, tt.want, buf[0])
		})
	}
}

func TestEncodeByte1(t *testing.T) {
	tests := []struct {
		name string
		hdr  Header
		want byte
	}{
		{"all zero", Header{}, 0x00},
		{"marker", Header{Marker: 1}, 0b10000000},
		{"mjpeg payload type", Header{PayloadType: PayloadTypeMJPEG}, 0b00011010},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf, err := Encode(tt.hdr, make([]byte, 5))
			require.NoError(t, err)
			assert.Equal(t, tt.want, buf[1])
		})
	}
}

func TestEncodeSequenceNumber(t *testing.T) {
	tests := []struct {
		seq   int
		want2 byte
		want3 byte
	}{
		{0, 0x00, 0x00},
		{50000, 0b11000011, 0b01010000},
		{65535, 0xff, 0xff},
	}

	for _, tt := range tests {
		buf, err := Encode(Header{Version: 2, PayloadType: PayloadTypeMJPEG, SequenceNum: tt.seq}, make([]byte, 5))
		require.NoError(t, err)
		assert.Equal(t, tt.want2, buf[2])
		assert.Equal(t, tt.want3, buf[3])
	}
}

func TestEncodeSequenceOverflow(t *testing.T) {
	_, err := Encode(Header{SequenceNum: 1 << 16}, nil)
	require.ErrorIs(t, err, ErrSequenceOverflow)

	_, err = Encode(Header{SequenceNum: -1}, nil)
	require.ErrorIs(t, err, ErrSequenceOverflow)
}

func TestEncodeTimestamp(t *testing.T) {
	before := time.Now().Unix()
	buf, err := Encode(Header{Version: 2}, nil)
	after := time.Now().Unix()
	require.NoError(t, err)

	pkt, err := Decode(buf)
	require.NoError(t, err)

	ts := int64(pkt.Timestamp())
	assert.GreaterOrEqual(t, ts, before)
	assert.LessOrEqual(t, ts, after)
}

func TestEncodeSSRC(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 10; i++ {
		ssrc := rng.Uint32()
		buf, err := Encode(Header{Version: 2, SSRC: ssrc}, make([]byte, 5))
		require.NoError(t, err)

		pkt, err := Decode(buf)
		require.NoError(t, err)
		assert.Equal(t, ssrc, pkt.SSRC())
	}
}

func TestRoundTrip(t *testing.T) {
	payload := make([]byte, 200)
	rand.New(rand.NewSource(2)).Read(payload)

	hdr := Header{
		Version:     2,
		Marker:      1,
		PayloadType: PayloadTypeMJPEG,
		SequenceNum: 4211,
		SSRC:        0xdeadbeef,
	}

	buf, err := Encode(hdr, payload)
	require.NoError(t, err)
	require.Len(t, buf, HeaderSize+len(payload))

	pkt, err := Decode(buf)
	require.NoError(t, err)
	assert.Equal(t, uint8(2), pkt.Version())
	assert.Equal(t, 4211, pkt.SequenceNumber())
	assert.Equal(t, uint8(PayloadTypeMJPEG), pkt.PayloadType())
	assert.Equal(t, uint32(0xdeadbeef), pkt.SSRC())
	assert.True(t, bytes.Equal(payload, pkt.Payload()))
}

func TestDecodeTooShort(t *testing.T) {
	_, err := Decode(make([]byte, HeaderSize-1))
	require.ErrorIs(t, err, ErrPacketTooShort)
}

// The header layout must be readable by a standards-based decoder, not just
// our own. pion/rtp is the independent reference here.
func TestInteropWithPion(t *testing.T) {
	payload := []byte{0xff, 0xd8, 0x01, 0x02, 0xff, 0xd9}
	buf, err := Encode(Header{
		Version:     2,
		PayloadType: PayloadTypeMJPEG,
		SequenceNum: 31337,
		SSRC:        7,
	}, payload)
	require.NoError(t, err)

	var pkt pionrtp.Packet
	require.NoError(t, pkt.Unmarshal(buf))

	assert.Equal(t, uint8(2), pkt.Version)
	assert.Equal(t, uint8(PayloadTypeMJPEG), pkt.PayloadType)
	assert.Equal(t, uint16(31337), pkt.SequenceNumber)
	assert.Equal(t, uint32(7), pkt.SSRC)
	assert.Equal(t, payload, pkt.Payload)
	assert.False(t, pkt.Marker)
}

func TestSentinel(t *testing.T) {
	assert.True(t, IsSentinel(Sentinel()))
	assert.False(t, IsSentinel([]byte{0, 0, 0, 0}))
	assert.False(t, IsSentinel([]byte{0, 0, 0, 0, 1}))
	assert.False(t, IsSentinel([]byte("hello!")))
}
