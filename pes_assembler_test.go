package astimpeg

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// auRecorder keeps a copy of every access unit it's handed
type auRecorder struct {
	aus []AccessUnit
}

func (r *auRecorder) handle(au *AccessUnit) error {
	c := *au
	c.Data = append([]byte(nil), au.Data...)
	r.aus = append(r.aus, c)
	return nil
}

func TestPESAssemblerAudio(t *testing.T) {
	r := &auRecorder{}
	a := newPESAssembler(r.handle, 1, 0x101, StreamTypeAACAudio)

	require.NoError(t, a.start(1000, PTSNoValue, true, []byte{0x01, 0x02}))
	a.append([]byte{0x03})
	assert.Empty(t, r.aus)

	// A PES without PTS continues the access unit
	require.NoError(t, a.start(PTSNoValue, PTSNoValue, false, []byte{0x04}))
	assert.Empty(t, r.aus)

	require.NoError(t, a.start(2000, 1900, false, []byte{0x05}))
	require.Len(t, r.aus, 1)
	assert.Equal(t, AccessUnit{
		Data:       []byte{0x01, 0x02, 0x03, 0x04},
		DTS:        1000,
		Flags:      FlagKeyframe,
		PID:        0x101,
		PTS:        1000,
		Program:    1,
		StreamType: StreamTypeAACAudio,
	}, r.aus[0])

	a.markCorrupt()
	require.NoError(t, a.flush())
	require.Len(t, r.aus, 2)
	assert.Equal(t, []byte{0x05}, r.aus[1].Data)
	assert.Equal(t, int64(2000), r.aus[1].PTS)
	assert.Equal(t, int64(1900), r.aus[1].DTS)
	assert.Equal(t, FlagCorrupt, r.aus[1].Flags)

	// Nothing left
	require.NoError(t, a.flush())
	assert.Len(t, r.aus, 2)

	// Data appended before any start is dropped
	a.append([]byte{0x06})
	require.NoError(t, a.flush())
	assert.Len(t, r.aus, 2)
}

func TestPESAssemblerVideo(t *testing.T) {
	r := &auRecorder{}
	a := newPESAssembler(r.handle, 1, 0x100, StreamTypeH264Video)

	// Same PTS without a leading AUD continues the access unit
	require.NoError(t, a.start(3000, PTSNoValue, false, concat(h264AccessUnitDelimiter, testH264IDR[:5])))
	require.NoError(t, a.start(3000, PTSNoValue, false, testH264IDR[5:]))
	assert.Empty(t, r.aus)

	// Same PTS with a leading AUD starts a new one
	require.NoError(t, a.start(3000, PTSNoValue, false, concat(h264AccessUnitDelimiter, testH264PFrame)))
	require.Len(t, r.aus, 1)
	assert.Equal(t, concat(h264AccessUnitDelimiter, testH264IDR), r.aus[0].Data)
	assert.Equal(t, FlagKeyframe|FlagAUD, r.aus[0].Flags)
	assert.True(t, r.aus[0].IsKeyframe())

	require.NoError(t, a.flush())
	require.Len(t, r.aus, 2)
	assert.Equal(t, FlagAUD, r.aus[1].Flags)
	assert.False(t, r.aus[1].IsKeyframe())
}

func TestPESAssemblerSplit(t *testing.T) {
	r := &auRecorder{}
	a := newPESAssembler(r.handle, 1, 0x100, StreamTypeH264Video)

	require.NoError(t, a.start(3000, 0, false, concat(h264AccessUnitDelimiter, testH264IDR, h264AccessUnitDelimiter, testH264PFrame)))
	require.NoError(t, a.flush())
	require.Len(t, r.aus, 2)
	assert.Equal(t, concat(h264AccessUnitDelimiter, testH264IDR), r.aus[0].Data)
	assert.Equal(t, int64(3000), r.aus[0].PTS)
	assert.Equal(t, int64(0), r.aus[0].DTS)
	assert.Equal(t, FlagKeyframe|FlagAUD, r.aus[0].Flags)
	assert.Equal(t, concat(h264AccessUnitDelimiter, testH264PFrame), r.aus[1].Data)
	assert.Equal(t, PTSNoValue, r.aus[1].PTS)
	assert.Equal(t, PTSNoValue, r.aus[1].DTS)
	assert.Equal(t, FlagAUD, r.aus[1].Flags)
}

func TestPESAssemblerHandlerError(t *testing.T) {
	errTest := errors.New("test")
	a := newPESAssembler(func(au *AccessUnit) error { return errTest }, 1, 0x101, StreamTypeAACAudio)
	require.NoError(t, a.start(1000, PTSNoValue, false, []byte{0x01}))
	assert.ErrorIs(t, a.start(2000, PTSNoValue, false, []byte{0x02}), errTest)
	assert.ErrorIs(t, a.flush(), errTest)

	// Reset drops the buffered access unit
	require.NoError(t, a.start(3000, PTSNoValue, false, []byte{0x03}))
	a.reset()
	assert.NoError(t, a.flush())
}
