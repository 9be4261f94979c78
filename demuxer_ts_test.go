package astimpeg

import (
	"bytes"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testAccessUnit struct {
	flags int
	pts   int64
	dts   int64
	data  []byte
}

func muxTestTS(t *testing.T, st StreamType, aus []testAccessUnit, opts ...func(*TSMuxer)) (int, []byte) {
	buf := &bytes.Buffer{}
	m := NewTSMuxer(buf, opts...)
	pid, err := m.AddStream(st, nil)
	require.NoError(t, err)
	for _, au := range aus {
		require.NoError(t, m.Write(pid, au.flags, au.pts, au.dts, au.data))
	}
	return pid, buf.Bytes()
}

func demuxTestTS(t *testing.T, bs []byte, chunk int, opts ...func(*TSDemuxer)) (*TSDemuxer, []AccessUnit) {
	r := &auRecorder{}
	d := NewTSDemuxer(r.handle, opts...)
	if chunk <= 0 {
		chunk = len(bs)
	}
	for len(bs) > 0 {
		n := chunk
		if n > len(bs) {
			n = len(bs)
		}
		consumed, err := d.Input(bs[:n])
		require.NoError(t, err)
		require.Equal(t, n, consumed)
		bs = bs[n:]
	}
	require.NoError(t, d.Flush())
	return d, r.aus
}

func TestTSDemuxerH264(t *testing.T) {
	idr, p := testVideoFrame(0x65, 5000), testVideoFrame(0x41, 500)
	pid, bs := muxTestTS(t, StreamTypeH264Video, []testAccessUnit{
		{pts: 90000, dts: 90000, data: idr},
		{pts: 93600, dts: 93600, data: p},
	})

	d, aus := demuxTestTS(t, bs, 0)
	assert.Equal(t, MpegTsPacketSize, d.PacketSize())
	require.Empty(t, cmp.Diff([]AccessUnit{
		{
			Data:       concat(h264AccessUnitDelimiter, idr),
			DTS:        90000,
			Flags:      FlagKeyframe | FlagAUD,
			PID:        uint16(pid),
			PTS:        90000,
			Program:    1,
			StreamType: StreamTypeH264Video,
		},
		{
			Data:       concat(h264AccessUnitDelimiter, p),
			DTS:        93600,
			Flags:      FlagAUD,
			PID:        uint16(pid),
			PTS:        93600,
			Program:    1,
			StreamType: StreamTypeH264Video,
		},
	}, aus))
	assert.True(t, aus[0].IsKeyframe())
	assert.False(t, aus[1].IsKeyframe())

	// Programs
	pgs := d.Programs()
	require.Len(t, pgs, 1)
	pg := pgs[0]
	assert.Equal(t, uint16(1), pg.Number)
	assert.Equal(t, uint16(pmtStartPID), pg.PMTPID)
	assert.Equal(t, uint16(pid), pg.PCRPID)
	assert.True(t, pg.HasPMT)
	assert.True(t, pg.HasPCR)
	assert.Equal(t, int64(93600), pg.PCR.Base)
	require.Len(t, pg.Streams, 1)
	assert.Equal(t, uint16(pid), pg.Streams[0].PID)
	assert.Equal(t, StreamTypeH264Video, pg.Streams[0].StreamType)
	assert.Equal(t, "program 1 (PMT 0x1000, PCR 0x100, 1 streams)", pg.String())

	// Services
	ss := d.Services()
	require.Len(t, ss, 1)
	assert.Equal(t, uint16(1), ss[0].ServiceID)
	require.NotNil(t, ss[0].Service())
	assert.Equal(t, []byte(defaultServiceName), ss[0].Service().Name)
	assert.Equal(t, []byte(defaultServiceProvider), ss[0].Service().Provider)
}

func TestTSDemuxerCodecs(t *testing.T) {
	for _, c := range []struct {
		name   string
		st     StreamType
		aus    []testAccessUnit
		expect []AccessUnit
	}{
		{
			name: "h265",
			st:   StreamTypeH265Video,
			aus: []testAccessUnit{
				{pts: 0, dts: PTSNoValue, data: []byte{0x00, 0x00, 0x00, 0x01, 0x26, 0x01, 0xab, 0xab}},
				{pts: 7200, dts: 3600, data: []byte{0x00, 0x00, 0x00, 0x01, 0x02, 0x01, 0xab}},
			},
			expect: []AccessUnit{
				{Data: concat(h265AccessUnitDelimiter, []byte{0x00, 0x00, 0x00, 0x01, 0x26, 0x01, 0xab, 0xab}), Flags: FlagKeyframe | FlagAUD},
				{Data: concat(h265AccessUnitDelimiter, []byte{0x00, 0x00, 0x00, 0x01, 0x02, 0x01, 0xab}), DTS: 3600, PTS: 7200, Flags: FlagAUD},
			},
		},
		{
			name: "h266 with delimiter",
			st:   StreamTypeH266Video,
			aus: []testAccessUnit{
				{pts: 0, dts: PTSNoValue, data: concat(h266AccessUnitDelimiter, []byte{0x00, 0x00, 0x01, 0x00, 0x39, 0xab})},
			},
			expect: []AccessUnit{
				{Data: concat(h266AccessUnitDelimiter, []byte{0x00, 0x00, 0x01, 0x00, 0x39, 0xab}), Flags: FlagKeyframe | FlagAUD},
			},
		},
		{
			name: "aac",
			st:   StreamTypeAACAudio,
			aus: []testAccessUnit{
				{flags: FlagKeyframe, pts: 0, dts: PTSNoValue, data: bytes.Repeat([]byte{0xab}, 400)},
				{pts: 1920, dts: PTSNoValue, data: bytes.Repeat([]byte{0xcd}, 10)},
			},
			expect: []AccessUnit{
				{Data: bytes.Repeat([]byte{0xab}, 400), Flags: FlagKeyframe},
				{Data: bytes.Repeat([]byte{0xcd}, 10), DTS: 1920, PTS: 1920},
			},
		},
		{
			name: "mp3",
			st:   StreamTypeMPEG1Audio,
			aus: []testAccessUnit{
				{pts: 100, dts: 100, data: []byte{0xff, 0xfb, 0x90, 0x64}},
			},
			expect: []AccessUnit{
				{Data: []byte{0xff, 0xfb, 0x90, 0x64}, DTS: 100, PTS: 100},
			},
		},
		{
			name: "ac3",
			st:   StreamTypeAC3Audio,
			aus: []testAccessUnit{
				{flags: FlagKeyframe, pts: 100, dts: 100, data: []byte{0x0b, 0x77, 0xab}},
			},
			expect: []AccessUnit{
				{Data: []byte{0x0b, 0x77, 0xab}, DTS: 100, PTS: 100, Flags: FlagKeyframe},
			},
		},
		{
			name: "opus",
			st:   StreamTypeOpusAudio,
			aus: []testAccessUnit{
				{pts: 5, dts: 5, data: []byte{0x7f, 0xe0, 0x00, 0x02}},
			},
			expect: []AccessUnit{
				{Data: []byte{0x7f, 0xe0, 0x00, 0x02}, DTS: 5, PTS: 5},
			},
		},
		{
			name: "mpeg2 video",
			st:   StreamTypeMPEG2Video,
			aus: []testAccessUnit{
				{flags: FlagKeyframe, pts: 3600, dts: 0, data: []byte{0x00, 0x00, 0x01, 0xb3, 0xab}},
				{pts: 7200, dts: 3600, data: []byte{0x00, 0x00, 0x01, 0x00, 0xab}},
			},
			expect: []AccessUnit{
				{Data: []byte{0x00, 0x00, 0x01, 0xb3, 0xab}, DTS: 0, PTS: 3600, Flags: FlagKeyframe},
				{Data: []byte{0x00, 0x00, 0x01, 0x00, 0xab}, DTS: 3600, PTS: 7200},
			},
		},
		{
			name: "private data",
			st:   StreamTypePrivateData,
			aus: []testAccessUnit{
				{pts: 1 << 32, dts: PTSNoValue, data: []byte("private")},
			},
			expect: []AccessUnit{
				{Data: []byte("private"), DTS: 1 << 32, PTS: 1 << 32},
			},
		},
	} {
		t.Run(c.name, func(t *testing.T) {
			pid, bs := muxTestTS(t, c.st, c.aus)
			_, aus := demuxTestTS(t, bs, 0)
			for idx := range c.expect {
				c.expect[idx].PID = uint16(pid)
				c.expect[idx].Program = 1
				c.expect[idx].StreamType = c.st
			}
			require.Empty(t, cmp.Diff(c.expect, aus))
		})
	}
}

func TestTSDemuxerChunks(t *testing.T) {
	buf := &bytes.Buffer{}
	m := NewTSMuxer(buf, TSMuxerOptPSICycle(4))
	video, err := m.AddStream(StreamTypeH264Video, nil)
	require.NoError(t, err)
	audio, err := m.AddStream(StreamTypeAACAudio, nil)
	require.NoError(t, err)
	for i := 0; i < 12; i++ {
		ts := int64(i) * 3000
		nal := byte(0x41)
		if i%6 == 0 {
			nal = 0x65
		}
		require.NoError(t, m.Write(video, 0, ts+3000, ts, testVideoFrame(nal, 700+i*113)))
		require.NoError(t, m.Write(audio, FlagKeyframe, ts, PTSNoValue, bytes.Repeat([]byte{byte(i)}, 200+i)))
	}

	_, whole := demuxTestTS(t, buf.Bytes(), 0)
	require.Len(t, whole, 24)
	for _, chunk := range []int{1, 7, MpegTsPacketSize, 1000} {
		_, aus := demuxTestTS(t, buf.Bytes(), chunk)
		assert.Empty(t, cmp.Diff(whole, aus), "chunk %d", chunk)
	}
}

func TestTSDemuxerPacketSizes(t *testing.T) {
	pid, bs := muxTestTS(t, StreamTypeAACAudio, []testAccessUnit{
		{pts: 0, dts: PTSNoValue, data: bytes.Repeat([]byte{0xab}, 1000)},
		{pts: 1920, dts: PTSNoValue, data: bytes.Repeat([]byte{0xab}, 1000)},
	})
	_, expected := demuxTestTS(t, bs, 0)
	require.Len(t, expected, 2)
	assert.Equal(t, uint16(pid), expected[0].PID)

	var m2ts, fec []byte
	for i := 0; i < len(bs); i += MpegTsPacketSize {
		m2ts = append(m2ts, 0x00, 0x00, 0x00, 0x00)
		m2ts = append(m2ts, bs[i:i+MpegTsPacketSize]...)
		fec = append(fec, bs[i:i+MpegTsPacketSize]...)
		fec = append(fec, make([]byte, FECTsPacketSize-MpegTsPacketSize)...)
	}

	for _, c := range []struct {
		bs   []byte
		size int
	}{
		{bs: m2ts, size: M2TsPacketSize},
		{bs: fec, size: FECTsPacketSize},
	} {
		d, aus := demuxTestTS(t, c.bs, 0)
		assert.Equal(t, c.size, d.PacketSize())
		assert.Empty(t, cmp.Diff(expected, aus))

		d, aus = demuxTestTS(t, c.bs, 13)
		assert.Equal(t, c.size, d.PacketSize())
		assert.Empty(t, cmp.Diff(expected, aus))

		d, aus = demuxTestTS(t, c.bs, 0, TSDemuxerOptPacketSize(c.size))
		assert.Equal(t, c.size, d.PacketSize())
		assert.Empty(t, cmp.Diff(expected, aus))
	}

	// Unknown sizes are ignored
	d := NewTSDemuxer(nil, TSDemuxerOptPacketSize(200))
	assert.Zero(t, d.PacketSize())
}

func TestTSDemuxerResync(t *testing.T) {
	_, bs := muxTestTS(t, StreamTypeAACAudio, []testAccessUnit{
		{pts: 0, dts: PTSNoValue, data: bytes.Repeat([]byte{0xab}, 500)},
	})
	_, expected := demuxTestTS(t, bs, 0)
	require.Len(t, expected, 1)

	_, aus := demuxTestTS(t, append(make([]byte, 50), bs...), 0)
	assert.Empty(t, cmp.Diff(expected, aus))
}

func TestTSDemuxerCorruption(t *testing.T) {
	idr, p := testVideoFrame(0x65, 5000), testVideoFrame(0x41, 500)
	_, bs := muxTestTS(t, StreamTypeH264Video, []testAccessUnit{
		{pts: 90000, dts: 90000, data: idr},
		{pts: 93600, dts: 93600, data: p},
	})

	t.Run("lost packet", func(t *testing.T) {
		const lost = 10
		in := append([]byte(nil), bs[:lost*MpegTsPacketSize]...)
		in = append(in, bs[(lost+1)*MpegTsPacketSize:]...)
		_, aus := demuxTestTS(t, in, 0)
		require.Len(t, aus, 2)
		assert.Equal(t, FlagKeyframe|FlagAUD|FlagCorrupt, aus[0].Flags)
		assert.Len(t, aus[0].Data, len(h264AccessUnitDelimiter)+len(idr)-mpegTsPayloadSize)
		assert.Equal(t, FlagAUD, aus[1].Flags)
		assert.Equal(t, concat(h264AccessUnitDelimiter, p), aus[1].Data)
	})

	t.Run("duplicate packet", func(t *testing.T) {
		const dup = 10
		in := append([]byte(nil), bs[:(dup+1)*MpegTsPacketSize]...)
		in = append(in, bs[dup*MpegTsPacketSize:]...)
		_, expected := demuxTestTS(t, bs, 0)
		_, aus := demuxTestTS(t, in, 0)
		assert.Empty(t, cmp.Diff(expected, aus))
	})

	t.Run("transport error", func(t *testing.T) {
		const bad = 10
		in := append([]byte(nil), bs...)
		in[bad*MpegTsPacketSize+1] |= 0x80
		_, aus := demuxTestTS(t, in, 0)
		require.Len(t, aus, 2)
		assert.True(t, aus[0].Flags&FlagCorrupt > 0)
		assert.Zero(t, aus[1].Flags&FlagCorrupt)
	})

	t.Run("corrupted PAT", func(t *testing.T) {
		in := append([]byte(nil), bs...)
		in[10] ^= 0xff
		_, aus := demuxTestTS(t, in, 0)
		assert.Empty(t, aus)
	})
}

func TestTSDemuxerUnboundedPES(t *testing.T) {
	idr, p := testVideoFrame(0x65, 70000), testVideoFrame(0x41, 100)

	// An unbounded PES waits for the flush
	_, bs := muxTestTS(t, StreamTypeH264Video, []testAccessUnit{{pts: 0, dts: PTSNoValue, data: idr}})
	r := &auRecorder{}
	d := NewTSDemuxer(r.handle)
	_, err := d.Input(bs)
	require.NoError(t, err)
	assert.Empty(t, r.aus)
	require.NoError(t, d.Flush())
	require.Len(t, r.aus, 1)
	assert.Equal(t, concat(h264AccessUnitDelimiter, idr), r.aus[0].Data)
	assert.Equal(t, FlagKeyframe|FlagAUD, r.aus[0].Flags)

	// Or for the next PES with another PTS
	pid, bs := muxTestTS(t, StreamTypeH264Video, []testAccessUnit{
		{pts: 0, dts: PTSNoValue, data: idr},
		{pts: 3600, dts: PTSNoValue, data: p},
	})
	r = &auRecorder{}
	d = NewTSDemuxer(r.handle)
	_, err = d.Input(bs)
	require.NoError(t, err)
	require.Len(t, r.aus, 1)
	assert.Equal(t, concat(h264AccessUnitDelimiter, idr), r.aus[0].Data)
	assert.Equal(t, uint16(pid), r.aus[0].PID)
	require.NoError(t, d.Flush())
	require.Len(t, r.aus, 2)
	assert.Equal(t, concat(h264AccessUnitDelimiter, p), r.aus[1].Data)
	assert.Equal(t, int64(3600), r.aus[1].PTS)
	assert.Zero(t, r.aus[1].Flags&FlagCorrupt)
}

func TestTSDemuxerSplitAccessUnit(t *testing.T) {
	first, second := testVideoFrame(0x65, 300), bytes.Repeat([]byte{0xcd}, 200)
	p := testVideoFrame(0x41, 50)
	aus := []testAccessUnit{
		{pts: 90000, dts: PTSNoValue, data: first},
		{flags: FlagAUD, pts: 90000, dts: PTSNoValue, data: second},
		{pts: 93600, dts: PTSNoValue, data: p},
	}
	expected := [][]byte{concat(h264AccessUnitDelimiter, first, second), concat(h264AccessUnitDelimiter, p)}

	// Bounded PES sharing a PTS without a leading delimiter belong to the same access unit
	_, bs := muxTestTS(t, StreamTypeH264Video, aus)
	r := &auRecorder{}
	d := NewTSDemuxer(r.handle)
	_, err := d.Input(bs)
	require.NoError(t, err)
	require.Len(t, r.aus, 1)
	require.NoError(t, d.Flush())
	require.Len(t, r.aus, 2)
	assert.Equal(t, expected, [][]byte{r.aus[0].Data, r.aus[1].Data})
	assert.Equal(t, FlagKeyframe|FlagAUD, r.aus[0].Flags)
	assert.Equal(t, int64(90000), r.aus[0].PTS)
	assert.Equal(t, FlagAUD, r.aus[1].Flags)

	// Program streams reassemble it the same way
	buf := &bytes.Buffer{}
	m := NewPSMuxer(buf)
	id, err := m.AddStream(StreamTypeH264Video, nil)
	require.NoError(t, err)
	for _, au := range aus {
		require.NoError(t, m.Write(id, au.flags, au.pts, au.dts, au.data))
	}
	_, psAUs := demuxTestPS(t, buf.Bytes(), 0)
	require.Len(t, psAUs, 2)
	assert.Equal(t, expected, [][]byte{psAUs[0].Data, psAUs[1].Data})
	assert.Equal(t, r.aus[0].Flags, psAUs[0].Flags)
}

func TestTSDemuxerPrograms(t *testing.T) {
	buf := &bytes.Buffer{}
	m := NewTSMuxer(buf)
	require.NoError(t, m.AddProgram(1, nil))
	require.NoError(t, m.AddProgram(2, nil))
	video, err := m.AddProgramStream(1, StreamTypeH264Video, nil)
	require.NoError(t, err)
	audio, err := m.AddProgramStream(2, StreamTypeAACAudio, []byte{0x0a, 0x04, 'e', 'n', 'g', 0x00})
	require.NoError(t, err)
	require.NoError(t, m.Write(video, 0, 0, 0, testVideoFrame(0x65, 300)))
	require.NoError(t, m.Write(audio, 0, 0, 0, []byte{0xab}))

	// Video access units wait for the next PES or the flush
	d, aus := demuxTestTS(t, buf.Bytes(), 0)
	require.Len(t, aus, 2)
	assert.Equal(t, uint16(2), aus[0].Program)
	assert.Equal(t, uint16(audio), aus[0].PID)
	assert.Equal(t, []byte{0xab}, aus[0].Data)
	assert.Equal(t, uint16(1), aus[1].Program)
	assert.Equal(t, uint16(video), aus[1].PID)

	pgs := d.Programs()
	require.Len(t, pgs, 2)
	assert.Equal(t, uint16(pmtStartPID+1), pgs[1].PMTPID)
	require.Len(t, pgs[1].Streams, 1)
	assert.Equal(t, []byte{0x0a, 0x04, 'e', 'n', 'g', 0x00}, pgs[1].Streams[0].ESInfo)
	require.Len(t, pgs[1].Streams[0].Descriptors, 1)
	assert.Equal(t, DescriptorTagISO639LanguageAndAudioType, pgs[1].Streams[0].Descriptors[0].DescriptorTag())

	ss := d.Services()
	require.Len(t, ss, 2)
	assert.Equal(t, uint16(2), ss[1].ServiceID)
}

func TestTSDemuxerHandlerError(t *testing.T) {
	_, bs := muxTestTS(t, StreamTypeAACAudio, []testAccessUnit{
		{pts: 0, dts: PTSNoValue, data: []byte{0xab}},
		{pts: 1920, dts: PTSNoValue, data: []byte{0xab}},
	})

	errHandler := errors.New("handler failed")
	var calls int
	d := NewTSDemuxer(func(*AccessUnit) error {
		calls++
		return errHandler
	})
	_, err := d.Input(bs)
	assert.ErrorIs(t, err, errHandler)
	assert.Equal(t, 1, calls)
}

func TestDetectPacketSize(t *testing.T) {
	bs := make([]byte, 3*FECTsPacketSize)
	assert.Zero(t, detectPacketSize(bs[:10], false))
	assert.Equal(t, MpegTsPacketSize, detectPacketSize(bs[:10], true))
	assert.Equal(t, MpegTsPacketSize, detectPacketSize(make([]byte, packetSizeDetectionWindow), false))

	bs[0], bs[M2TsPacketSize], bs[2*M2TsPacketSize] = syncByte, syncByte, syncByte
	assert.Equal(t, M2TsPacketSize, detectPacketSize(bs, false))
	assert.Zero(t, detectPacketSize(bs[:2*M2TsPacketSize], false))
}
