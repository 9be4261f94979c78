package astimpeg

import (
	"bytes"
	"fmt"
	"io"

	"github.com/asticode/go-astikit"
)

const (
	maxPSVideoStreams = 16
	maxPSAudioStreams = 32
	scrOffset         = 3600 // SCR runs 40 ms ahead of DTS
)

// PSMuxer writes access units as an MPEG program stream. It isn't safe for concurrent use.
type PSMuxer struct {
	bb  [8]byte
	buf *bytes.Buffer
	bw  *astikit.BitsWriter
	l   astikit.CompleteLogger
	w   io.Writer

	optMuxRate  uint32
	optPSMCycle int

	audio          int
	changed        bool
	private        bool
	psmVersion     wrappingCounter
	streams        []*psMuxerStream
	video          int
	writesSincePSM int
}

type psMuxerStream struct {
	extra      []byte
	streamID   uint8
	streamType StreamType
}

// NewPSMuxer creates a new program stream muxer writing to w
func NewPSMuxer(w io.Writer, opts ...func(*PSMuxer)) *PSMuxer {
	m := &PSMuxer{
		buf:         &bytes.Buffer{},
		l:           astikit.AdaptStdLogger(nil),
		optMuxRate:  defaultProgramMuxRate,
		optPSMCycle: defaultPSICycle,
		psmVersion:  newWrappingCounter(maxVersionNumber),
		w:           w,
	}
	m.psmVersion.inc()
	m.bw = astikit.NewBitsWriter(astikit.BitsWriterOptions{Writer: m.buf})

	// Apply options
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// PSMuxerOptLogger returns the option to set the logger
func PSMuxerOptLogger(l astikit.StdLogger) func(*PSMuxer) {
	return func(m *PSMuxer) {
		m.l = astikit.AdaptStdLogger(l)
	}
}

// PSMuxerOptMuxRate returns the option to set the program mux rate written in pack headers, in units of 50 bytes/s
func PSMuxerOptMuxRate(rate uint32) func(*PSMuxer) {
	return func(m *PSMuxer) {
		if rate > 0 && rate < 1<<22 {
			m.optMuxRate = rate
		}
	}
}

// PSMuxerOptPSMCycle returns the option to set the number of writes between two system header and PSM
func PSMuxerOptPSMCycle(writes int) func(*PSMuxer) {
	return func(m *PSMuxer) {
		if writes > 0 {
			m.optPSMCycle = writes
		}
	}
}

func (m *PSMuxer) stream(streamID int) *psMuxerStream {
	for _, s := range m.streams {
		if int(s.streamID) == streamID {
			return s
		}
	}
	return nil
}

// AddStream adds a stream and returns its PES stream id. extra holds the descriptors announced in the PSM.
func (m *PSMuxer) AddStream(t StreamType, extra []byte) (int, error) {
	s := &psMuxerStream{extra: extra, streamType: t}
	switch {
	case t.IsVideo():
		if m.video >= maxPSVideoStreams {
			return 0, fmt.Errorf("astimpeg: no video stream id left: %w", ErrCapacityExceeded)
		}
		s.streamID = StreamIDVideo + uint8(m.video)
		m.video++
	case t.IsAudio():
		if m.audio >= maxPSAudioStreams {
			return 0, fmt.Errorf("astimpeg: no audio stream id left: %w", ErrCapacityExceeded)
		}
		s.streamID = StreamIDAudio + uint8(m.audio)
		m.audio++
	default:
		if m.private {
			return 0, fmt.Errorf("astimpeg: private stream id is taken: %w", ErrCapacityExceeded)
		}
		s.streamID = StreamIDPrivateStream1
		m.private = true
	}

	m.streams = append(m.streams, s)
	m.psmVersion.inc()
	m.changed = true
	m.l.Debugf("astimpeg: %s stream added with stream id %#x", t, s.streamID)
	return int(s.streamID), nil
}

// Reset forces the next write to carry a system header and a PSM
func (m *PSMuxer) Reset() {
	m.changed = true
	m.writesSincePSM = 0
}

func (m *PSMuxer) systemHeader() *SystemHeader {
	h := &SystemHeader{
		AudioBound:          uint8(m.audio),
		RateBound:           defaultRateBound,
		SystemAudioLockFlag: true,
		SystemVideoLockFlag: true,
		VideoBound:          uint8(m.video),
	}
	if m.optMuxRate > h.RateBound {
		h.RateBound = m.optMuxRate
	}
	for _, s := range m.streams {
		e := &SystemHeaderStream{
			PSTDBufferBoundScale: PSTDBufferScale128Bytes,
			PSTDBufferSizeBound:  32,
			StreamID:             s.streamID,
		}
		if s.streamType.IsVideo() {
			e.PSTDBufferBoundScale = PSTDBufferScale1024Bytes
			e.PSTDBufferSizeBound = 400
		}
		h.Streams = append(h.Streams, e)
	}
	return h
}

func (m *PSMuxer) programStreamMap() *ProgramStreamMap {
	psm := &ProgramStreamMap{
		CurrentNextIndicator: true,
		Version:              uint8(m.psmVersion.get()),
	}
	for _, s := range m.streams {
		psm.ElementaryStreams = append(psm.ElementaryStreams, &PSMElementaryStream{
			ElementaryStreamID: s.streamID,
			Info:               s.extra,
			StreamType:         s.streamType,
		})
	}
	return psm
}

// Write writes one access unit of the stream. pts and dts are 90 kHz timestamps, dts may be PTSNoValue.
func (m *PSMuxer) Write(streamID int, flags int, pts, dts int64, data []byte) (err error) {
	s := m.stream(streamID)
	if s == nil {
		return fmt.Errorf("astimpeg: stream id %d: %w", streamID, ErrStreamNotFound)
	}
	if dts == PTSNoValue {
		dts = pts
	}
	keyframe := flags&FlagKeyframe > 0 || IsKeyframe(s.streamType, data)
	m.buf.Reset()

	// Pack header
	scr := int64(0)
	if dts != PTSNoValue && dts > scrOffset {
		scr = dts - scrOffset
	}
	ph := &PackHeader{ProgramMuxRate: m.optMuxRate, SCR: newClockReferenceFromTimestamp(scr)}
	if _, err = ph.write(m.bw); err != nil {
		return
	}

	// System header and PSM
	if m.changed || m.writesSincePSM >= m.optPSMCycle || (s.streamType.IsVideo() && keyframe) {
		if _, err = m.systemHeader().write(m.bw); err != nil {
			return
		}
		if _, err = m.programStreamMap().write(m.bw); err != nil {
			return
		}
		m.changed = false
		m.writesSincePSM = 0
		m.l.Debugf("astimpeg: announcing system header and PSM version %d", m.psmVersion.get())
	}
	m.writesSincePSM++

	// Access unit delimiter
	var aud []byte
	if s.streamType.hasAccessUnitDelimiter() && flags&FlagAUD == 0 && !IsAccessUnitDelimiter(s.streamType, data) {
		aud = AccessUnitDelimiter(s.streamType)
	}

	// PES packets, only the first one carries timestamps
	h := newPESHeader(s.streamID, pts, dts, keyframe)
	for first := true; first || len(aud)+len(data) > 0; first = false {
		if !first {
			h = newPESHeader(s.streamID, PTSNoValue, PTSNoValue, false)
		}
		capacity := maxPESPacketLength - (h.size() - pesHeaderLength)
		n := len(aud) + len(data)
		if n > capacity {
			n = capacity
		}
		h.PacketLength = uint16(h.size() - pesHeaderLength + n)
		if _, err = h.write(m.bw, &m.bb); err != nil {
			return fmt.Errorf("astimpeg: writing PES header failed: %w", err)
		}

		if len(aud) > 0 {
			c := len(aud)
			if c > n {
				c = n
			}
			if err = m.bw.Write(aud[:c]); err != nil {
				return fmt.Errorf("astimpeg: writing access unit delimiter failed: %w", err)
			}
			aud = aud[c:]
			n -= c
		}
		if err = m.bw.Write(data[:n]); err != nil {
			return fmt.Errorf("astimpeg: writing payload failed: %w", err)
		}
		data = data[n:]
	}

	if _, err = m.w.Write(m.buf.Bytes()); err != nil {
		return fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}
	return nil
}

// Close writes the program end code
func (m *PSMuxer) Close() error {
	if _, err := m.w.Write([]byte{0, 0, 1, startCodeEnd}); err != nil {
		return fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}
	return nil
}
