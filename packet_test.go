package astimpeg

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestPacket(t *testing.T, p *Packet) []byte {
	buf, w := newTestBitsWriter()
	var bb [8]byte
	n, err := p.write(w, &bb, MpegTsPacketSize)
	require.NoError(t, err)
	require.Equal(t, MpegTsPacketSize, n)
	require.Equal(t, MpegTsPacketSize, buf.Len())
	return buf.Bytes()
}

func TestPacket(t *testing.T) {
	payload := bytes.Repeat([]byte{0xab}, 100)
	p := &Packet{
		AdaptationField: &PacketAdaptationField{
			HasPCR:                true,
			PCR:                   newClockReference(1<<32+5, 299),
			RandomAccessIndicator: true,
		},
		Header: PacketHeader{
			ContinuityCounter:         7,
			HasAdaptationField:        true,
			HasPayload:                true,
			PayloadUnitStartIndicator: true,
			PID:                       0x100,
		},
		Payload: payload,
	}
	p.AdaptationField.StuffingLength = uint8(mpegTsPayloadSize - p.AdaptationField.size() - len(payload))
	bs := writeTestPacket(t, p)
	assert.Equal(t, []byte{syncByte, 0x41, 0x00, 0x37}, bs[:4])

	var q Packet
	require.NoError(t, q.parse(bs))
	assert.Equal(t, p.Header, q.Header)
	assert.Equal(t, payload, q.Payload)
	require.NotNil(t, q.AdaptationField)
	assert.True(t, q.AdaptationField.HasPCR)
	assert.True(t, q.AdaptationField.RandomAccessIndicator)
	assert.Equal(t, p.AdaptationField.PCR, q.AdaptationField.PCR)
	assert.Equal(t, p.AdaptationField.StuffingLength, q.AdaptationField.StuffingLength)
}

func TestPacketAdaptationExtensionField(t *testing.T) {
	p := &Packet{
		AdaptationField: &PacketAdaptationField{
			AdaptationExtensionField: &PacketAdaptationExtensionField{
				DTSNextAccessUnit:      90000,
				HasLegalTimeWindow:     true,
				HasPiecewiseRate:       true,
				HasSeamlessSplice:      true,
				LegalTimeWindowIsValid: true,
				LegalTimeWindowOffset:  0x1234,
				PiecewiseRate:          0x123456,
				SpliceType:             0x2,
			},
			HasAdaptationExtensionField: true,
		},
		Header: PacketHeader{HasAdaptationField: true, PID: 0x100},
	}
	p.AdaptationField.StuffingLength = uint8(mpegTsPayloadSize - p.AdaptationField.size())
	bs := writeTestPacket(t, p)

	var q Packet
	require.NoError(t, q.parse(bs))
	assert.Empty(t, q.Payload)
	e := q.AdaptationField.AdaptationExtensionField
	require.NotNil(t, e)
	assert.Equal(t, uint8(11), e.Length)
	assert.True(t, e.LegalTimeWindowIsValid)
	assert.Equal(t, uint16(0x1234), e.LegalTimeWindowOffset)
	assert.Equal(t, uint32(0x123456), e.PiecewiseRate)
	assert.Equal(t, uint8(0x2), e.SpliceType)
	assert.Equal(t, int64(90000), e.DTSNextAccessUnit)
}

func TestPacketStuffing(t *testing.T) {
	for _, n := range []int{1, 2, 10} {
		af := newStuffingAdaptationField(n)
		assert.Equal(t, n, af.size())

		p := &Packet{
			AdaptationField: af,
			Header:          PacketHeader{HasAdaptationField: true, HasPayload: true, PID: 0x100},
			Payload:         bytes.Repeat([]byte{0xab}, mpegTsPayloadSize-n),
		}
		var q Packet
		require.NoError(t, q.parse(writeTestPacket(t, p)))
		assert.Equal(t, p.Payload, q.Payload)
	}
}

func TestPacketParseErrors(t *testing.T) {
	var p Packet
	bs := make([]byte, MpegTsPacketSize)
	assert.ErrorIs(t, p.parse(bs), ErrPacketMustStartWithASyncByte)
	bs[0] = syncByte
	assert.ErrorIs(t, p.parse(bs[:100]), ErrPacketMustStartWithASyncByte)

	// Adaptation field longer than the packet
	bs[3] = 0x30
	bs[4] = 184
	assert.ErrorIs(t, p.parse(bs), ErrInvalidData)
}
