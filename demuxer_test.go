package astimpeg

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log"
	"testing"
	"testing/iotest"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseContainerFormat(t *testing.T) {
	for s, f := range map[string]ContainerFormat{
		"ts":   FormatTS,
		"m2ts": FormatTS,
		"ps":   FormatPS,
		"mpg":  FormatPS,
		"vob":  FormatPS,
	} {
		v, err := ParseContainerFormat(s)
		require.NoError(t, err, s)
		assert.Equal(t, f, v, s)
	}
	_, err := ParseContainerFormat("mp4")
	assert.ErrorIs(t, err, ErrUnknownFormat)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	assert.Equal(t, "ts", FormatTS.String())
	assert.Equal(t, "ps", FormatPS.String())
	assert.Equal(t, "unknown(7)", ContainerFormat(7).String())
}

func TestDetectContainerFormat(t *testing.T) {
	for _, c := range []struct {
		bs     []byte
		format ContainerFormat
		ok     bool
	}{
		{bs: []byte{0x00, 0x00, 0x01, 0xba, 0x44}, format: FormatPS, ok: true},
		{bs: []byte{0x47, 0x40, 0x00, 0x10}, format: FormatTS, ok: true},
		{bs: []byte{0x00, 0x00, 0x00, 0x00, 0x47, 0x40}, format: FormatTS, ok: true},
		{bs: []byte{0x00, 0x00, 0x01, 0xb3}},
		{bs: nil},
	} {
		f, ok := DetectContainerFormat(c.bs)
		assert.Equal(t, c.ok, ok, "%x", c.bs)
		if c.ok {
			assert.Equal(t, c.format, f, "%x", c.bs)
		}
	}
}

func TestMuxDemux(t *testing.T) {
	l := log.New(io.Discard, "", 0)
	for _, f := range []ContainerFormat{FormatTS, FormatPS} {
		t.Run(f.String(), func(t *testing.T) {
			buf := &bytes.Buffer{}
			m, err := NewMuxer(f, buf, l)
			require.NoError(t, err)
			video, err := m.AddStream(StreamTypeH265Video, nil)
			require.NoError(t, err)
			audio, err := m.AddStream(StreamTypeAACAudio, nil)
			require.NoError(t, err)

			idr := []byte{0x00, 0x00, 0x00, 0x01, 0x26, 0x01, 0xab, 0xab, 0xab}
			require.NoError(t, m.Write(video, 0, 3600, 0, idr))
			require.NoError(t, m.Write(audio, 0, 0, PTSNoValue, []byte{0xab, 0xcd}))
			require.NoError(t, m.Write(video, 0, 7200, 3600, []byte{0x00, 0x00, 0x01, 0x02, 0x01, 0xab}))
			require.NoError(t, m.Write(audio, 0, 1920, PTSNoValue, []byte{0xef}))
			m.Reset()
			require.NoError(t, m.Write(audio, 0, 3840, PTSNoValue, []byte{0x12}))

			detected, ok := DetectContainerFormat(buf.Bytes())
			require.True(t, ok)
			assert.Equal(t, f, detected)

			r := &auRecorder{}
			d, err := NewDemuxer(f, r.handle, l)
			require.NoError(t, err)
			require.NoError(t, DemuxFrom(context.Background(), d, iotest.HalfReader(bytes.NewReader(buf.Bytes()))))

			var videos, audios []AccessUnit
			for _, au := range r.aus {
				if au.StreamType == StreamTypeH265Video {
					videos = append(videos, au)
				} else {
					audios = append(audios, au)
				}
			}
			require.Len(t, videos, 2)
			assert.Equal(t, concat(h265AccessUnitDelimiter, idr), videos[0].Data)
			assert.Equal(t, int64(3600), videos[0].PTS)
			assert.Equal(t, int64(0), videos[0].DTS)
			assert.True(t, videos[0].IsKeyframe())
			assert.Equal(t, int64(7200), videos[1].PTS)
			assert.False(t, videos[1].IsKeyframe())
			assert.Equal(t, uint16(video), videos[0].PID)

			require.Len(t, audios, 3)
			assert.Empty(t, cmp.Diff([][]byte{{0xab, 0xcd}, {0xef}, {0x12}}, [][]byte{audios[0].Data, audios[1].Data, audios[2].Data}))
			assert.Equal(t, []int64{0, 1920, 3840}, []int64{audios[0].PTS, audios[1].PTS, audios[2].PTS})
			assert.Equal(t, uint16(audio), audios[0].PID)
		})
	}
}

func TestNewUnknownFormat(t *testing.T) {
	_, err := NewMuxer(ContainerFormat(9), &bytes.Buffer{}, nil)
	assert.ErrorIs(t, err, ErrUnknownFormat)
	_, err = NewDemuxer(ContainerFormat(9), nil, nil)
	assert.ErrorIs(t, err, ErrUnknownFormat)
}

type flushRecorder struct {
	flushed bool
	in      int
}

func (r *flushRecorder) Input(bs []byte) (int, error) {
	r.in += len(bs)
	return len(bs), nil
}

func (r *flushRecorder) Flush() error {
	r.flushed = true
	return nil
}

func TestDemuxFrom(t *testing.T) {
	t.Run("eof", func(t *testing.T) {
		r := &flushRecorder{}
		require.NoError(t, DemuxFrom(context.Background(), r, bytes.NewReader(make([]byte, 3*demuxReadSize+5))))
		assert.Equal(t, 3*demuxReadSize+5, r.in)
		assert.True(t, r.flushed)
	})

	t.Run("canceled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		r := &flushRecorder{}
		err := DemuxFrom(ctx, r, bytes.NewReader(make([]byte, 10)))
		assert.ErrorIs(t, err, context.Canceled)
		assert.Zero(t, r.in)
		assert.False(t, r.flushed)
	})

	t.Run("read error", func(t *testing.T) {
		errRead := errors.New("read failed")
		r := &flushRecorder{}
		err := DemuxFrom(context.Background(), r, iotest.ErrReader(errRead))
		assert.ErrorIs(t, err, errRead)
		assert.False(t, r.flushed)
	})

	t.Run("demux error", func(t *testing.T) {
		errHandler := errors.New("handler failed")
		buf := &bytes.Buffer{}
		m := NewTSMuxer(buf)
		pid, err := m.AddStream(StreamTypeAACAudio, nil)
		require.NoError(t, err)
		require.NoError(t, m.Write(pid, 0, 0, 0, []byte{0xab}))
		d := NewTSDemuxer(func(*AccessUnit) error { return errHandler })
		assert.ErrorIs(t, DemuxFrom(context.Background(), d, buf), errHandler)
	})
}
