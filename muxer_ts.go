package astimpeg

import (
	"bytes"
	"fmt"
	"io"

	"github.com/asticode/go-astikit"
)

// PIDs allocated by the transport stream muxer
const (
	pmtStartPID    = 0x1000
	streamStartPID = 0x100
	maxStreamPID   = 0x1ffe
)

const (
	defaultPSICycle          = 30    // In access units
	defaultPSIInterval       = 36000 // 400 ms, in 90 kHz ticks
	defaultServiceProvider   = "astimpeg"
	defaultServiceName       = "Service01"
	defaultTransportStreamID = 1
	defaultOriginalNetworkID = 1
	maxContinuityCounter     = 15
	maxVersionNumber         = 31
	pcrAdaptationFieldSize   = 2 + pcrBytesSize
	raiAdaptationFieldSize   = 2
)

// TSMuxer writes access units as an MPEG transport stream. It isn't safe for concurrent use.
// https://en.wikipedia.org/wiki/MPEG_transport_stream
type TSMuxer struct {
	alloc Allocator
	bb    [8]byte
	ccs   map[uint16]*wrappingCounter
	l     astikit.CompleteLogger
	w     io.Writer

	optOriginalNetworkID uint16
	optPSICycle          int
	optPSIInterval       int64
	optSDT               bool
	optServiceName       []byte
	optServiceProvider   []byte
	optTransportStreamID uint16

	announced      bool
	lastAnnounce   int64
	patVersion     wrappingCounter
	programs       []*tsMuxerProgram
	sdtSent        bool
	streams        map[uint16]*tsMuxerStream
	writesSincePSI int

	psiBuf    *bytes.Buffer
	psiWriter *astikit.BitsWriter
}

type tsMuxerProgram struct {
	info    []byte
	lastPCR int64
	number  uint16
	pcrPID  uint16
	pmtPID  uint16
	streams []*tsMuxerStream
	version wrappingCounter
}

type tsMuxerStream struct {
	extra      []byte
	pid        uint16
	program    *tsMuxerProgram
	streamID   uint8
	streamType StreamType
}

type psiAnnouncement struct {
	pid     uint16
	section []byte
}

// NewTSMuxer creates a new transport stream muxer writing to w
func NewTSMuxer(w io.Writer, opts ...func(*TSMuxer)) *TSMuxer {
	m := &TSMuxer{
		alloc:                poolOfPayload,
		ccs:                  make(map[uint16]*wrappingCounter),
		l:                    astikit.AdaptStdLogger(nil),
		w:                    w,
		lastAnnounce:         PTSNoValue,
		optOriginalNetworkID: defaultOriginalNetworkID,
		optPSICycle:          defaultPSICycle,
		optPSIInterval:       defaultPSIInterval,
		optSDT:               true,
		optServiceName:       []byte(defaultServiceName),
		optServiceProvider:   []byte(defaultServiceProvider),
		optTransportStreamID: defaultTransportStreamID,
		patVersion:           newWrappingCounter(maxVersionNumber),
		psiBuf:               &bytes.Buffer{},
		streams:              make(map[uint16]*tsMuxerStream),
	}
	m.patVersion.inc()
	m.psiWriter = astikit.NewBitsWriter(astikit.BitsWriterOptions{Writer: m.psiBuf})

	// Apply options
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// TSMuxerOptAllocator returns the option to set the allocator packets are serialized into
func TSMuxerOptAllocator(a Allocator) func(*TSMuxer) {
	return func(m *TSMuxer) {
		if a != nil {
			m.alloc = a
		}
	}
}

// TSMuxerOptLogger returns the option to set the logger
func TSMuxerOptLogger(l astikit.StdLogger) func(*TSMuxer) {
	return func(m *TSMuxer) {
		m.l = astikit.AdaptStdLogger(l)
	}
}

// TSMuxerOptTransportStreamID returns the option to set the transport stream id announced in the PAT and SDT
func TSMuxerOptTransportStreamID(id uint16) func(*TSMuxer) {
	return func(m *TSMuxer) {
		m.optTransportStreamID = id
	}
}

// TSMuxerOptPSICycle returns the option to set the number of writes between two PSI announcements
func TSMuxerOptPSICycle(writes int) func(*TSMuxer) {
	return func(m *TSMuxer) {
		if writes > 0 {
			m.optPSICycle = writes
		}
	}
}

// TSMuxerOptPSIInterval returns the option to set the maximum 90 kHz ticks between two PSI announcements
func TSMuxerOptPSIInterval(ticks int64) func(*TSMuxer) {
	return func(m *TSMuxer) {
		if ticks > 0 {
			m.optPSIInterval = ticks
		}
	}
}

// TSMuxerOptService returns the option to set the service provider and name announced in the SDT
func TSMuxerOptService(provider, name string) func(*TSMuxer) {
	return func(m *TSMuxer) {
		m.optSDT = true
		m.optServiceProvider = []byte(provider)
		m.optServiceName = []byte(name)
	}
}

// TSMuxerOptNoSDT returns the option to never announce an SDT
func TSMuxerOptNoSDT() func(*TSMuxer) {
	return func(m *TSMuxer) {
		m.optSDT = false
	}
}

func (m *TSMuxer) program(number uint16) *tsMuxerProgram {
	for _, p := range m.programs {
		if p.number == number {
			return p
		}
	}
	return nil
}

// AddProgram adds a program. info holds the program descriptors announced in its PMT.
func (m *TSMuxer) AddProgram(number uint16, info []byte) error {
	if number == 0 {
		return fmt.Errorf("astimpeg: program number 0 is reserved: %w", ErrInvalidArgument)
	}
	if m.program(number) != nil {
		return fmt.Errorf("astimpeg: program %d: %w", number, ErrProgramExists)
	}
	if psiSyntaxSize+crc32Size+patSectionEntryBytesSize*(len(m.programs)+1) > maxSectionLength {
		return fmt.Errorf("astimpeg: PAT can't hold %d programs: %w", len(m.programs)+1, ErrCapacityExceeded)
	}
	if psiSyntaxSize+crc32Size+4+len(info) > maxSectionLength {
		return fmt.Errorf("astimpeg: program info is %d bytes long: %w", len(info), ErrCapacityExceeded)
	}

	p := &tsMuxerProgram{
		info:    info,
		lastPCR: PTSNoValue,
		number:  number,
		pcrPID:  PIDNull,
		pmtPID:  pmtStartPID + uint16(len(m.programs)),
		version: newWrappingCounter(maxVersionNumber),
	}
	p.version.inc()
	m.programs = append(m.programs, p)

	m.patVersion.inc()
	m.announced = false
	m.l.Debugf("astimpeg: program %d added with PMT PID %#x", number, p.pmtPID)
	return nil
}

// AddStream adds a stream to program 1, created on demand, and returns its PID
func (m *TSMuxer) AddStream(t StreamType, extra []byte) (int, error) {
	if m.program(1) == nil {
		if err := m.AddProgram(1, nil); err != nil {
			return 0, err
		}
	}
	return m.AddProgramStream(1, t, extra)
}

// AddProgramStream adds a stream to a program and returns its PID. extra holds the stream descriptors announced
// in the PMT.
func (m *TSMuxer) AddProgramStream(number uint16, t StreamType, extra []byte) (int, error) {
	p := m.program(number)
	if p == nil {
		return 0, fmt.Errorf("astimpeg: program %d: %w", number, ErrProgramNotFound)
	}

	pid := streamStartPID + len(m.streams)
	if pid > maxStreamPID || pid >= pmtStartPID && pid < pmtStartPID+len(m.programs) {
		return 0, fmt.Errorf("astimpeg: no PID left: %w", ErrCapacityExceeded)
	}
	length := psiSyntaxSize + crc32Size + 4 + len(p.info) + 5 + len(extra)
	for _, s := range p.streams {
		length += 5 + len(s.extra)
	}
	if length > maxSectionLength {
		return 0, fmt.Errorf("astimpeg: PMT of program %d can't hold another stream: %w", number, ErrCapacityExceeded)
	}

	s := &tsMuxerStream{
		extra:      extra,
		pid:        uint16(pid),
		program:    p,
		streamID:   t.PESStreamID(),
		streamType: t,
	}
	p.streams = append(p.streams, s)
	m.streams[s.pid] = s
	if p.pcrPID == PIDNull {
		p.pcrPID = s.pid
	}

	p.version.inc()
	m.announced = false
	m.l.Debugf("astimpeg: %s stream added to program %d with PID %#x", t, number, pid)
	return pid, nil
}

// Reset restarts the PSI announcement cycle and the PCR tracking. Streams and continuity counters are kept.
func (m *TSMuxer) Reset() {
	m.announced = false
	m.sdtSent = false
	m.writesSincePSI = 0
	m.lastAnnounce = PTSNoValue
	for _, p := range m.programs {
		p.lastPCR = PTSNoValue
	}
}

func (m *TSMuxer) cc(pid uint16) uint8 {
	c, ok := m.ccs[pid]
	if !ok {
		v := newWrappingCounter(maxContinuityCounter)
		c = &v
		m.ccs[pid] = c
	}
	return uint8(c.inc())
}

// Write writes one access unit of the stream. pts and dts are 90 kHz timestamps, dts may be PTSNoValue.
func (m *TSMuxer) Write(stream int, flags int, pts, dts int64, data []byte) (err error) {
	if stream < 0 || stream > maxStreamPID {
		return fmt.Errorf("astimpeg: PID %d: %w", stream, ErrStreamNotFound)
	}
	s, ok := m.streams[uint16(stream)]
	if !ok {
		return fmt.Errorf("astimpeg: PID %d: %w", stream, ErrStreamNotFound)
	}
	p := s.program
	if dts == PTSNoValue {
		dts = pts
	}
	keyframe := flags&FlagKeyframe > 0 || IsKeyframe(s.streamType, data)
	video := s.streamType.IsVideo()

	// PCR moves to the first video stream writing a keyframe
	if video && keyframe && p.pcrPID != s.pid {
		if pcr, ok := m.streams[p.pcrPID]; !ok || !pcr.streamType.IsVideo() {
			p.pcrPID = s.pid
			p.version.inc()
			m.announced = false
			m.l.Debugf("astimpeg: PCR of program %d moved to PID %#x", p.number, s.pid)
		}
	}

	// Access unit delimiter
	var aud []byte
	if s.streamType.hasAccessUnitDelimiter() && flags&FlagAUD == 0 && !IsAccessUnitDelimiter(s.streamType, data) {
		aud = AccessUnitDelimiter(s.streamType)
	}

	// PES header
	h := newPESHeader(s.streamID, pts, dts, keyframe)
	payloadLength := len(aud) + len(data)
	if pesLength := h.size() - pesHeaderLength + payloadLength; pesLength <= maxPESPacketLength {
		h.PacketLength = uint16(pesLength)
	} else if !video {
		return fmt.Errorf("astimpeg: %s access unit of %d bytes doesn't fit a PES packet: %w", s.streamType, len(data), ErrInvalidArgument)
	}

	// Adaptation field of the first packet
	var af *PacketAdaptationField
	if s.pid == p.pcrPID && dts != PTSNoValue {
		pcr := dts
		if p.lastPCR != PTSNoValue && pcr < p.lastPCR {
			pcr = p.lastPCR
		}
		p.lastPCR = pcr
		af = &PacketAdaptationField{
			HasPCR:                true,
			PCR:                   newClockReferenceFromTimestamp(pcr),
			RandomAccessIndicator: keyframe,
		}
	} else if keyframe {
		af = &PacketAdaptationField{RandomAccessIndicator: true}
	}

	// PSI
	var psi []psiAnnouncement
	if m.shouldAnnounce(dts, video && keyframe) {
		if psi, err = m.buildPSI(); err != nil {
			return
		}
		m.announced = true
		m.writesSincePSI = 0
		m.lastAnnounce = dts
	}
	m.writesSincePSI++

	// Count packets
	count := 0
	for _, a := range psi {
		count += (1 + len(a.section) + mpegTsPayloadSize - 1) / mpegTsPayloadSize
	}
	firstCapacity := mpegTsPayloadSize - h.size()
	if af != nil {
		firstCapacity -= af.size()
	}
	pesPackets := 1
	if payloadLength > firstCapacity {
		pesPackets += (payloadLength - firstCapacity + mpegTsPayloadSize - 1) / mpegTsPayloadSize
	}
	count += pesPackets

	// Serialize
	size := count * MpegTsPacketSize
	buf := m.alloc.Alloc(size)
	if buf == nil {
		return fmt.Errorf("astimpeg: allocating %d bytes failed: %w", size, ErrOutOfMemory)
	}
	defer m.alloc.Free(buf)

	out := bytes.NewBuffer(buf[:0])
	w := astikit.NewBitsWriter(astikit.BitsWriterOptions{Writer: out})
	for _, a := range psi {
		if err = m.writePSIPackets(w, a); err != nil {
			return
		}
	}
	if err = m.writePESPackets(w, s, h, af, aud, data); err != nil {
		return
	}

	if _, err = m.w.Write(out.Bytes()); err != nil {
		return fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}
	return nil
}

func (m *TSMuxer) shouldAnnounce(ts int64, videoKeyframe bool) bool {
	return !m.announced ||
		videoKeyframe ||
		m.writesSincePSI >= m.optPSICycle ||
		(ts != PTSNoValue && m.lastAnnounce != PTSNoValue && ts-m.lastAnnounce >= m.optPSIInterval)
}

// buildPSI serializes the PAT, every PMT and, once, the SDT
func (m *TSMuxer) buildPSI() (as []psiAnnouncement, err error) {
	m.psiBuf.Reset()
	var ends []int

	// PAT
	pat := &PATData{TransportStreamID: m.optTransportStreamID}
	for _, p := range m.programs {
		pat.Programs = append(pat.Programs, &PATProgram{ProgramMapID: p.pmtPID, ProgramNumber: p.number})
	}
	s := newPSISection(PSITableIDPAT, m.optTransportStreamID, uint8(m.patVersion.get()), &PSISectionSyntaxData{PAT: pat})
	if _, err = s.writePSISection(m.psiWriter); err != nil {
		err = fmt.Errorf("astimpeg: writing PAT failed: %w", err)
		return
	}
	as = append(as, psiAnnouncement{pid: PIDPAT})
	ends = append(ends, m.psiBuf.Len())

	// PMTs
	for _, p := range m.programs {
		pmt := &PMTData{PCRPID: p.pcrPID, ProgramInfo: p.info, ProgramNumber: p.number}
		for _, st := range p.streams {
			pmt.ElementaryStreams = append(pmt.ElementaryStreams, &PMTElementaryStream{
				ElementaryPID: st.pid,
				ESInfo:        st.extra,
				StreamType:    st.streamType,
			})
		}
		s = newPSISection(PSITableIDPMT, p.number, uint8(p.version.get()), &PSISectionSyntaxData{PMT: pmt})
		if _, err = s.writePSISection(m.psiWriter); err != nil {
			err = fmt.Errorf("astimpeg: writing PMT of program %d failed: %w", p.number, err)
			return
		}
		as = append(as, psiAnnouncement{pid: p.pmtPID})
		ends = append(ends, m.psiBuf.Len())
	}

	// SDT
	if m.optSDT && !m.sdtSent {
		sdt := &SDTData{OriginalNetworkID: m.optOriginalNetworkID, TransportStreamID: m.optTransportStreamID}
		for _, p := range m.programs {
			sdt.Services = append(sdt.Services, &SDTService{
				Descriptors: []Descriptor{&DescriptorService{
					DescriptorHeader: DescriptorHeader{Tag: DescriptorTagService},
					Name:             m.optServiceName,
					Provider:         m.optServiceProvider,
					Type:             ServiceTypeDigitalTelevisionService,
				}},
				RunningStatus: RunningStatusRunning,
				ServiceID:     p.number,
			})
		}
		s = newPSISection(PSITableIDSDTVariant1, m.optTransportStreamID, 0, &PSISectionSyntaxData{SDT: sdt})
		if _, err = s.writePSISection(m.psiWriter); err != nil {
			err = fmt.Errorf("astimpeg: writing SDT failed: %w", err)
			return
		}
		as = append(as, psiAnnouncement{pid: PIDSDT})
		ends = append(ends, m.psiBuf.Len())
		m.sdtSent = true
	}

	bs, start := m.psiBuf.Bytes(), 0
	for idx := range as {
		as[idx].section = bs[start:ends[idx]]
		start = ends[idx]
	}
	m.l.Debugf("astimpeg: announcing PAT and %d PMT(s)", len(m.programs))
	return
}

// writePSIPackets splits a section prefixed with a zero pointer field over TS packets padded with 0xff
func (m *TSMuxer) writePSIPackets(w *astikit.BitsWriter, a psiAnnouncement) error {
	section := a.section
	for first := true; first || len(section) > 0; first = false {
		p := Packet{Header: PacketHeader{
			ContinuityCounter:         m.cc(a.pid),
			HasPayload:                true,
			PayloadUnitStartIndicator: first,
			PID:                       a.pid,
		}}

		n := mpegTsPayloadSize
		if first {
			n--
		}
		if n > len(section) {
			n = len(section)
		}

		if !first {
			p.Payload = section[:n]
			if _, err := p.write(w, &m.bb, MpegTsPacketSize); err != nil {
				return fmt.Errorf("astimpeg: writing PSI packet failed: %w", err)
			}
			section = section[n:]
			continue
		}

		if _, err := p.Header.write(w, &m.bb); err != nil {
			return fmt.Errorf("astimpeg: writing PSI packet header failed: %w", err)
		}
		if err := w.Write(uint8(0)); err != nil {
			return fmt.Errorf("astimpeg: writing pointer field failed: %w", err)
		}
		if err := w.Write(section[:n]); err != nil {
			return fmt.Errorf("astimpeg: writing PSI payload failed: %w", err)
		}
		if _, err := writeStuffing(w, &m.bb, mpegTsPayloadSize-1-n); err != nil {
			return fmt.Errorf("astimpeg: writing PSI stuffing failed: %w", err)
		}
		section = section[n:]
	}
	return nil
}

// writePESPackets splits the PES over TS packets. Adaptation field stuffing fills the last one.
func (m *TSMuxer) writePESPackets(w *astikit.BitsWriter, s *tsMuxerStream, h *PESHeader, af *PacketAdaptationField, aud, data []byte) error {
	first := true
	left := len(aud) + len(data)
	for first || left > 0 {
		p := Packet{
			AdaptationField: af,
			Header: PacketHeader{
				ContinuityCounter:         m.cc(s.pid),
				HasPayload:                true,
				PayloadUnitStartIndicator: first,
				PID:                       s.pid,
			},
		}

		capacity := mpegTsPayloadSize
		if first {
			capacity -= h.size()
		}
		if p.AdaptationField != nil {
			capacity -= p.AdaptationField.size()
		}

		// Stuff the last packet
		if left < capacity {
			stuffing := capacity - left
			if p.AdaptationField != nil {
				p.AdaptationField.StuffingLength += uint8(stuffing)
			} else {
				p.AdaptationField = newStuffingAdaptationField(stuffing)
			}
			capacity = left
		}
		p.Header.HasAdaptationField = p.AdaptationField != nil

		if _, err := p.Header.write(w, &m.bb); err != nil {
			return fmt.Errorf("astimpeg: writing packet header failed: %w", err)
		}
		if p.Header.HasAdaptationField {
			if _, err := p.AdaptationField.write(w, &m.bb); err != nil {
				return fmt.Errorf("astimpeg: writing adaptation field failed: %w", err)
			}
		}
		if first {
			if _, err := h.write(w, &m.bb); err != nil {
				return fmt.Errorf("astimpeg: writing PES header failed: %w", err)
			}
		}

		// Payload comes from the delimiter first, then from the data
		n := capacity
		if len(aud) > 0 {
			c := n
			if c > len(aud) {
				c = len(aud)
			}
			if err := w.Write(aud[:c]); err != nil {
				return fmt.Errorf("astimpeg: writing access unit delimiter failed: %w", err)
			}
			aud = aud[c:]
			n -= c
		}
		if n > 0 {
			if err := w.Write(data[:n]); err != nil {
				return fmt.Errorf("astimpeg: writing payload failed: %w", err)
			}
			data = data[n:]
		}
		left -= capacity

		af = nil
		first = false
	}
	return nil
}
