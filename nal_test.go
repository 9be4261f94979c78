package astimpeg

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

var (
	testH264IDR    = []byte{0x00, 0x00, 0x00, 0x01, 0x65, 0xab, 0xab}
	testH264PFrame = []byte{0x00, 0x00, 0x00, 0x01, 0x41, 0xab}
)

func concat(bss ...[]byte) (o []byte) {
	for _, bs := range bss {
		o = append(o, bs...)
	}
	return
}

func TestAccessUnitDelimiter(t *testing.T) {
	for _, st := range []StreamType{StreamTypeH264Video, StreamTypeH265Video, StreamTypeH266Video} {
		aud := AccessUnitDelimiter(st)
		assert.True(t, IsAccessUnitDelimiter(st, aud), st.String())
		assert.False(t, IsKeyframe(st, aud), st.String())
		assert.Equal(t, 1, FindNALUnit(aud))
	}
	assert.Nil(t, AccessUnitDelimiter(StreamTypeAACAudio))
	assert.False(t, IsAccessUnitDelimiter(StreamTypeAACAudio, h264AccessUnitDelimiter))
	assert.False(t, IsAccessUnitDelimiter(StreamTypeH264Video, testH264IDR))
	assert.True(t, IsAccessUnitDelimiter(StreamTypeH264Video, h264AccessUnitDelimiter[1:]))
}

func TestIsKeyframe(t *testing.T) {
	assert.True(t, IsKeyframe(StreamTypeH264Video, concat(h264AccessUnitDelimiter, testH264IDR)))
	assert.False(t, IsKeyframe(StreamTypeH264Video, concat(h264AccessUnitDelimiter, testH264PFrame)))
	assert.True(t, IsKeyframe(StreamTypeH265Video, []byte{0x00, 0x00, 0x01, 0x26, 0x01, 0xab}))  // IDR_W_RADL
	assert.False(t, IsKeyframe(StreamTypeH265Video, []byte{0x00, 0x00, 0x01, 0x02, 0x01, 0xab})) // TRAIL_R
	assert.True(t, IsKeyframe(StreamTypeH266Video, []byte{0x00, 0x00, 0x01, 0x00, 0x39, 0xab}))  // IDR_W_RADL
	assert.False(t, IsKeyframe(StreamTypeAACAudio, testH264IDR))
	assert.False(t, IsKeyframe(StreamTypeH264Video, []byte{0x00, 0x00, 0x01}))
}

func TestTrimAccessUnitDelimiter(t *testing.T) {
	assert.Equal(t, testH264IDR, TrimAccessUnitDelimiter(StreamTypeH264Video, concat(h264AccessUnitDelimiter, testH264IDR)))
	assert.Equal(t, testH264IDR, TrimAccessUnitDelimiter(StreamTypeH264Video, testH264IDR))
	assert.Empty(t, TrimAccessUnitDelimiter(StreamTypeH264Video, h264AccessUnitDelimiter))
}

func TestAccessUnitBoundaries(t *testing.T) {
	bs := concat(h264AccessUnitDelimiter, testH264IDR, h264AccessUnitDelimiter, testH264PFrame)
	assert.Equal(t, []int{13}, accessUnitBoundaries(StreamTypeH264Video, bs, nil))
	assert.Empty(t, accessUnitBoundaries(StreamTypeH264Video, testH264IDR, nil))

	// 3 bytes start codes
	bs = concat(testH264IDR, []byte{0xab, 0x00, 0x00, 0x01, 0x09, 0xf0}, testH264PFrame)
	assert.Equal(t, []int{8}, accessUnitBoundaries(StreamTypeH264Video, bs, nil))
	assert.Equal(t, 0, FindNALUnit(bs[8:]))
	assert.Equal(t, -1, FindNALUnit([]byte{0xab, 0x00, 0x00}))
}
