package astimpeg

import (
	"testing"

	"github.com/asticode/go-astikit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPackHeader(t *testing.T) {
	h := &PackHeader{
		ProgramMuxRate: defaultProgramMuxRate,
		SCR:            newClockReference(123456789, 42),
		StuffingLength: 2,
	}
	buf, w := newTestBitsWriter()
	n, err := h.write(w)
	require.NoError(t, err)
	assert.Equal(t, 16, n)
	assert.Equal(t, 16, buf.Len())

	var p PackHeader
	n, err = p.parse(newCursor(buf.Bytes(), nil))
	require.NoError(t, err)
	assert.Equal(t, 16, n)
	assert.Equal(t, *h, p)

	// Truncated
	_, err = p.parse(newCursor(buf.Bytes()[:10], nil))
	assert.ErrorIs(t, err, ErrNeedMoreData)

	// Not a pack
	_, err = p.parse(newCursor([]byte{0x00, 0x00, 0x01, 0xbb, 0x00}, nil))
	assert.ErrorIs(t, err, ErrInvalidStartCode)
}

func TestPackHeaderMPEG1(t *testing.T) {
	const scr = int64(1<<32 + 12345)
	buf, w := newTestBitsWriter()
	b := astikit.NewBitsWriterBatch(w)
	b.Write(uint32(0x100 | startCodePack))
	b.WriteN(uint8(0b0010), 4)
	b.WriteN(uint8(scr>>30), 3)
	b.Write(true)
	b.WriteN(uint16(scr>>15&0x7fff), 15)
	b.Write(true)
	b.WriteN(uint16(scr&0x7fff), 15)
	b.Write(true)
	b.Write(true)
	b.WriteN(uint32(2800), 22)
	b.Write(true)
	require.NoError(t, b.Err())
	require.Equal(t, packHeaderLengthMPEG1, buf.Len())

	var h PackHeader
	n, err := h.parse(newCursor(buf.Bytes(), nil))
	require.NoError(t, err)
	assert.Equal(t, packHeaderLengthMPEG1, n)
	assert.True(t, h.MPEG1)
	assert.Equal(t, scr, h.SCR.Base)
	assert.Equal(t, uint32(2800), h.ProgramMuxRate)
}

func TestSystemHeader(t *testing.T) {
	h := &SystemHeader{
		AudioBound:          1,
		CSPSFlag:            true,
		RateBound:           defaultRateBound,
		SystemAudioLockFlag: true,
		SystemVideoLockFlag: true,
		Streams: []*SystemHeaderStream{
			{PSTDBufferBoundScale: 1, PSTDBufferSizeBound: 232, StreamID: StreamIDVideo},
			{PSTDBufferSizeBound: 32, StreamID: StreamIDAudio},
		},
		VideoBound: 1,
	}
	buf, w := newTestBitsWriter()
	n, err := h.write(w)
	require.NoError(t, err)
	assert.Equal(t, 18, n)
	assert.Equal(t, 18, buf.Len())

	var p SystemHeader
	n, err = p.parse(newCursor(buf.Bytes(), nil))
	require.NoError(t, err)
	assert.Equal(t, 18, n)
	assert.Equal(t, *h, p)

	_, err = p.parse(newCursor(buf.Bytes()[:15], nil))
	assert.ErrorIs(t, err, ErrNeedMoreData)
}

func TestProgramStreamDirectory(t *testing.T) {
	buf, w := newTestBitsWriter()
	b := astikit.NewBitsWriterBatch(w)
	writeOffset45 := func(v uint64) {
		b.WriteN(uint16(v>>30&0x7fff), 15)
		b.Write(true)
		b.WriteN(uint16(v>>15&0x7fff), 15)
		b.Write(true)
		b.WriteN(uint16(v&0x7fff), 15)
		b.Write(true)
	}
	const pts = int64(900000)

	b.Write(uint32(0x100 | StreamIDProgramStreamDirectory))
	b.Write(uint16(14 + psdAccessUnitLength))
	b.WriteN(uint16(1), 15)
	b.Write(true)
	writeOffset45(1000)
	writeOffset45(1 << 40)

	b.Write(uint8(StreamIDVideo))
	b.Write(true) // negative
	b.WriteN(uint16(0), 14)
	b.Write(true)
	b.WriteN(uint16(0), 15)
	b.Write(true)
	b.WriteN(uint16(500), 15)
	b.Write(true)
	b.Write(uint16(2))
	b.Write(true)
	b.WriteN(uint8(0x7), 3)
	b.WriteN(uint8(pts>>30), 3)
	b.Write(true)
	b.WriteN(uint16(pts>>15&0x7fff), 15)
	b.Write(true)
	b.WriteN(uint16(pts&0x7fff), 15)
	b.Write(true)
	b.WriteN(uint16(1234>>8), 15)
	b.Write(true)
	b.Write(uint8(1234 & 0xff))
	b.Write(true)
	b.Write(true) // intra coded
	b.WriteN(uint8(2), 2)
	b.WriteN(uint8(0xf), 4)
	require.NoError(t, b.Err())

	var d ProgramStreamDirectory
	n, err := d.parse(newCursor(buf.Bytes(), nil))
	require.NoError(t, err)
	assert.Equal(t, buf.Len(), n)
	assert.Equal(t, uint64(1000), d.PreviousDirectoryOffset)
	assert.Equal(t, uint64(1<<40), d.NextDirectoryOffset)
	require.Len(t, d.AccessUnits, 1)
	assert.Equal(t, PSDAccessUnit{
		BytesToRead:               1234,
		CodingParametersIndicator: 2,
		IntraCodedIndicator:       true,
		PacketStreamID:            StreamIDVideo,
		PESHeaderPositionOffset:   -500,
		PTS:                       pts,
		ReferenceOffset:           2,
	}, *d.AccessUnits[0])
}

func TestPackHeadersInvalidMarkerBits(t *testing.T) {
	buf, w := newTestBitsWriter()
	_, err := (&PackHeader{ProgramMuxRate: defaultProgramMuxRate, SCR: newClockReference(3600, 0)}).write(w)
	require.NoError(t, err)
	bs := buf.Bytes()
	bs[4] &^= 0x04

	var ph PackHeader
	n, err := ph.parse(newCursor(bs, nil))
	require.NoError(t, err)
	assert.Equal(t, packHeaderLengthMPEG2, n)
	assert.True(t, ph.InvalidMarkerBits)
	assert.Equal(t, int64(3600), ph.SCR.Base)

	buf, w = newTestBitsWriter()
	_, err = (&SystemHeader{RateBound: defaultRateBound, Streams: []*SystemHeaderStream{{StreamID: StreamIDAudio}}}).write(w)
	require.NoError(t, err)
	bs = buf.Bytes()

	var sh SystemHeader
	_, err = sh.parse(newCursor(bs, nil))
	require.NoError(t, err)
	assert.False(t, sh.InvalidMarkerBits)

	bs[6] &^= 0x80
	_, err = sh.parse(newCursor(bs, nil))
	require.NoError(t, err)
	assert.True(t, sh.InvalidMarkerBits)
	assert.Equal(t, uint32(defaultRateBound), sh.RateBound)
}
