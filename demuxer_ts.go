package astimpeg

import (
	"errors"
	"fmt"

	"github.com/asticode/go-astikit"
)

const (
	// Bytes inspected before falling back to 188 bytes packets when no packet size could be detected
	packetSizeDetectionWindow = 4 * FECTsPacketSize
	maxPESHeaderLength        = pesHeaderLength + pesOptionalHeaderLength + 0xff
)

// Program represents a program announced in the PAT and described by its PMT
type Program struct {
	Descriptors []Descriptor
	HasPCR      bool
	HasPMT      bool
	Info        []byte
	Number      uint16
	PCR         ClockReference // Last PCR read on PCRPID
	PCRPID      uint16
	PMTPID      uint16
	Streams     []*ProgramStream
	Version     uint8
}

// ProgramStream represents an elementary stream of a program
type ProgramStream struct {
	Descriptors []Descriptor
	ESInfo      []byte
	PID         uint16
	StreamType  StreamType
}

// tsStream is the reassembly state of an elementary stream PID
type tsStream struct {
	asm           *pesAssembler
	bounded       bool
	header        []byte // beginning of a PES header split across packets
	headerPending bool
	inPES         bool
	left          int // bytes left in a bounded PES
	random        bool
	ps            *ProgramStream
}

// TSDemuxer demuxes an MPEG transport stream pushed in arbitrary chunks into access units. It isn't safe for
// concurrent use.
// https://en.wikipedia.org/wiki/MPEG_transport_stream
type TSDemuxer struct {
	buf        []byte
	h          AccessUnitHandler
	l          astikit.CompleteLogger
	onSection  func(section []byte)
	p          Packet
	packetSize int
	pool       *packetPool
	programs   []*Program
	resyncing  bool
	sectionPID uint16
	services   []*SDTService
}

// NewTSDemuxer creates a new transport stream demuxer delivering access units to h
func NewTSDemuxer(h AccessUnitHandler, opts ...func(*TSDemuxer)) *TSDemuxer {
	d := &TSDemuxer{
		h:    h,
		l:    astikit.AdaptStdLogger(nil),
		pool: newPacketPool(),
	}
	d.onSection = d.handleSection
	d.pool.get(PIDPAT).psi = &psiBuffer{}
	d.pool.get(PIDSDT).psi = &psiBuffer{}

	// Apply options
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// TSDemuxerOptLogger returns the option to set the logger
func TSDemuxerOptLogger(l astikit.StdLogger) func(*TSDemuxer) {
	return func(d *TSDemuxer) {
		d.l = astikit.AdaptStdLogger(l)
	}
}

// TSDemuxerOptPacketSize returns the option to set the packet size. By default it is detected.
func TSDemuxerOptPacketSize(packetSize int) func(*TSDemuxer) {
	return func(d *TSDemuxer) {
		switch packetSize {
		case MpegTsPacketSize, M2TsPacketSize, FECTsPacketSize:
			d.packetSize = packetSize
		}
	}
}

// Programs returns the programs of the last valid PAT, in PAT order
func (d *TSDemuxer) Programs() []*Program {
	return append([]*Program(nil), d.programs...)
}

// Services returns the services of the last valid SDT
func (d *TSDemuxer) Services() []*SDTService {
	return append([]*SDTService(nil), d.services...)
}

// PacketSize returns the packet size in use, 0 until it has been detected
func (d *TSDemuxer) PacketSize() int {
	return d.packetSize
}

// detectPacketSize looks for 3 sync bytes at a regular spacing. It returns 0 while more bytes are needed, final
// forces a decision.
func detectPacketSize(bs []byte, final bool) int {
	for i := 0; i < len(bs) && i < packetSizeDetectionWindow; i++ {
		if bs[i] != syncByte {
			continue
		}
		for _, s := range []int{MpegTsPacketSize, M2TsPacketSize, FECTsPacketSize} {
			if i+2*s >= len(bs) {
				if final {
					continue
				}
				return 0
			}
			if bs[i+s] == syncByte && bs[i+2*s] == syncByte {
				return s
			}
		}
	}
	if final || len(bs) >= packetSizeDetectionWindow {
		return MpegTsPacketSize
	}
	return 0
}

func syncOffset(packetSize int) int {
	if packetSize == M2TsPacketSize {
		return M2TsPacketSize - MpegTsPacketSize
	}
	return 0
}

// Input demuxes bs. Bytes that don't make a full packet yet are kept for the next call, so the whole of bs is
// always consumed. Access units are delivered to the handler before Input returns.
func (d *TSDemuxer) Input(bs []byte) (int, error) {
	return len(bs), d.input(bs, false)
}

func (d *TSDemuxer) input(bs []byte, final bool) (err error) {
	data := bs
	if len(d.buf) > 0 {
		d.buf = append(d.buf, bs...)
		data = d.buf
	}

	if d.packetSize == 0 {
		if d.packetSize = detectPacketSize(data, final); d.packetSize == 0 {
			d.buf = append(d.buf[:0], data...)
			return
		}
		d.l.Debugf("astimpeg: packet size is %d", d.packetSize)
	}

	off, so := 0, syncOffset(d.packetSize)
	for len(data)-off >= d.packetSize {
		if data[off+so] != syncByte {
			if !d.resyncing {
				d.l.Errorf("astimpeg: lost sync at %d bytes before the end of the buffer", len(data)-off)
				d.resyncing = true
			}
			off++
			continue
		}
		d.resyncing = false

		pkt := data[off+so : off+so+MpegTsPacketSize]
		off += d.packetSize
		if err = d.processPacket(pkt); err != nil {
			break
		}
	}

	// Stash what's left
	d.buf = append(d.buf[:0], data[off:]...)
	return
}

func (d *TSDemuxer) processPacket(bs []byte) error {
	if err := d.p.parse(bs); err != nil {
		d.l.Errorf("astimpeg: parsing packet failed: %v", err)
		return nil
	}
	p := &d.p
	if p.Header.TransportErrorIndicator || p.Header.PID == PIDNull {
		return nil
	}

	acc := d.pool.lookup(p.Header.PID)
	if acc == nil {
		return nil
	}

	duplicate, lost := acc.add(p)
	if duplicate {
		return nil
	}
	if lost {
		d.l.Errorf("astimpeg: continuity counter discontinuity on PID %#x", p.Header.PID)
		if acc.stream != nil {
			acc.stream.asm.markCorrupt()
		}
		if acc.psi != nil && !p.Header.PayloadUnitStartIndicator {
			acc.psi.reset()
		}
	}

	// PCR
	if p.Header.HasAdaptationField && p.AdaptationField.HasPCR {
		for _, pg := range d.programs {
			if pg.PCRPID == p.Header.PID {
				pg.PCR = p.AdaptationField.PCR
				pg.HasPCR = true
			}
		}
	}

	if len(p.Payload) == 0 {
		return nil
	}

	switch {
	case acc.psi != nil:
		d.sectionPID = p.Header.PID
		if err := acc.psi.push(p.Payload, p.Header.PayloadUnitStartIndicator, d.onSection); err != nil {
			d.l.Errorf("astimpeg: reassembling section on PID %#x failed: %v", p.Header.PID, err)
		}
	case acc.stream != nil:
		return d.processPES(acc.stream, p)
	}
	return nil
}

func (d *TSDemuxer) processPES(s *tsStream, p *Packet) (err error) {
	payload := p.Payload
	if p.Header.PayloadUnitStartIndicator {
		if s.inPES {
			// A bounded PES cut short lost data
			if s.bounded && s.left > 0 {
				s.asm.markCorrupt()
			}
			if s.bounded {
				err = s.asm.flush()
			}
		}
		s.inPES = false
		s.headerPending = true
		s.header = s.header[:0]
		s.random = p.Header.HasAdaptationField && p.AdaptationField.RandomAccessIndicator
	}

	if s.headerPending {
		var h PESHeader
		n, errParse := h.parse(newCursor(s.header, payload))
		if errors.Is(errParse, ErrNeedMoreData) {
			if s.header = append(s.header, payload...); len(s.header) > maxPESHeaderLength {
				d.l.Errorf("astimpeg: PES header on PID %#x is too long", s.ps.PID)
				s.headerPending = false
			}
			return
		}
		s.headerPending = false
		if errParse != nil {
			d.l.Errorf("astimpeg: parsing PES header on PID %#x failed: %v", s.ps.PID, errParse)
			return
		}
		if h.InvalidMarkerBits {
			d.l.Errorf("astimpeg: PES header on PID %#x has invalid marker bits", s.ps.PID)
		}
		if n < len(s.header) || n-len(s.header) > len(payload) {
			return
		}
		body := payload[n-len(s.header):]
		s.header = s.header[:0]

		pts, dts := PTSNoValue, PTSNoValue
		if h.OptionalHeader != nil {
			pts, dts = h.OptionalHeader.PTS, h.OptionalHeader.DTS
			s.random = s.random || h.OptionalHeader.DataAlignmentIndicator
		}

		s.bounded = h.PacketLength > 0
		s.left = pesHeaderLength + int(h.PacketLength) - n
		if s.bounded && len(body) > s.left {
			body = body[:s.left]
		}
		if errStart := s.asm.start(pts, dts, s.random, body); errStart != nil && err == nil {
			err = errStart
		}
		s.inPES = true
		s.left -= len(body)
	} else if s.inPES {
		if s.bounded && len(payload) > s.left {
			payload = payload[:s.left]
		}
		s.asm.append(payload)
		s.left -= len(payload)
	}

	if s.inPES && s.bounded && s.left <= 0 {
		s.inPES = false
		// H.26x access units may span several PES packets sharing a PTS, the next PES start flushes them
		if s.asm.streamType.hasAccessUnitDelimiter() {
			return
		}
		if errFlush := s.asm.flush(); errFlush != nil && err == nil {
			err = errFlush
		}
	}
	return
}

// Flush processes the bytes kept by Input and emits every buffered access unit
func (d *TSDemuxer) Flush() (err error) {
	if len(d.buf) > 0 && d.packetSize == 0 {
		err = d.input(nil, true)
	}
	d.buf = d.buf[:0]

	for _, s := range d.pool.streams() {
		if s.inPES && s.bounded && s.left > 0 {
			s.asm.markCorrupt()
		}
		s.inPES = false
		s.headerPending = false
		if errFlush := s.asm.flush(); errFlush != nil && err == nil {
			err = errFlush
		}
	}
	return
}

func (d *TSDemuxer) handleSection(section []byte) {
	s, err := ParsePSISection(section)
	if err != nil {
		d.l.Errorf("astimpeg: parsing section on PID %#x failed: %v", d.sectionPID, err)
		return
	}
	if s.Syntax == nil || s.Syntax.Data == nil || !s.Syntax.Header.CurrentNextIndicator {
		return
	}

	switch {
	case s.Syntax.Data.PAT != nil && d.sectionPID == PIDPAT:
		d.handlePAT(s.Syntax.Data.PAT)
	case s.Syntax.Data.PMT != nil:
		d.handlePMT(s.Syntax.Data.PMT, s.Syntax.Header.VersionNumber)
	case s.Syntax.Data.SDT != nil && d.sectionPID == PIDSDT && s.Header.TableID == PSITableIDSDTVariant1:
		d.services = s.Syntax.Data.SDT.Services
	}
}

func (d *TSDemuxer) programByPMTPID(pid uint16) *Program {
	for _, pg := range d.programs {
		if pg.PMTPID == pid {
			return pg
		}
	}
	return nil
}

func (d *TSDemuxer) handlePAT(pat *PATData) {
	var programs []*Program
	for _, e := range pat.Programs {
		// Program number 0 is reserved to NIT
		if e.ProgramNumber == 0 {
			continue
		}
		var pg *Program
		for _, v := range d.programs {
			if v.Number == e.ProgramNumber && v.PMTPID == e.ProgramMapID {
				pg = v
				break
			}
		}
		if pg == nil {
			pg = &Program{Number: e.ProgramNumber, PMTPID: e.ProgramMapID, PCRPID: PIDNull}
			d.l.Infof("astimpeg: program %d added with PMT PID %#x", pg.Number, pg.PMTPID)
		}
		programs = append(programs, pg)
	}

	// Removed programs
	for _, v := range d.programs {
		var kept bool
		for _, pg := range programs {
			if pg == v {
				kept = true
				break
			}
		}
		if kept {
			continue
		}
		d.l.Infof("astimpeg: program %d removed", v.Number)
		for _, ps := range v.Streams {
			d.removeStream(ps.PID)
		}
		d.pool.delete(v.PMTPID)
	}

	d.programs = programs
	for _, pg := range d.programs {
		if acc := d.pool.get(pg.PMTPID); acc.psi == nil {
			acc.psi = &psiBuffer{}
		}
	}
}

func (d *TSDemuxer) removeStream(pid uint16) {
	acc := d.pool.lookup(pid)
	if acc == nil || acc.stream == nil {
		return
	}
	if err := acc.stream.asm.flush(); err != nil {
		d.l.Errorf("astimpeg: flushing stream on PID %#x failed: %v", pid, err)
	}
	d.pool.delete(pid)
}

func (d *TSDemuxer) handlePMT(pmt *PMTData, version uint8) {
	pg := d.programByPMTPID(d.sectionPID)
	if pg == nil || pg.Number != pmt.ProgramNumber {
		return
	}
	if pg.HasPMT && pg.Version == version {
		return
	}

	var streams []*ProgramStream
	for _, es := range pmt.ElementaryStreams {
		ps := &ProgramStream{
			Descriptors: es.Descriptors,
			ESInfo:      es.ESInfo,
			PID:         es.ElementaryPID,
			StreamType:  es.StreamType,
		}
		streams = append(streams, ps)

		// Unchanged streams keep their state
		if acc := d.pool.lookup(ps.PID); acc != nil && acc.stream != nil {
			if acc.stream.ps.StreamType == ps.StreamType {
				acc.stream.ps = ps
				continue
			}
			d.removeStream(ps.PID)
		}
		acc := d.pool.get(ps.PID)
		if acc.psi != nil {
			continue
		}
		acc.stream = &tsStream{
			asm: newPESAssembler(d.h, pg.Number, ps.PID, ps.StreamType),
			ps:  ps,
		}
		d.l.Debugf("astimpeg: %s stream on PID %#x added to program %d", ps.StreamType, ps.PID, pg.Number)
	}

	// Removed streams
	for _, old := range pg.Streams {
		var kept bool
		for _, ps := range streams {
			if ps.PID == old.PID {
				kept = true
				break
			}
		}
		if !kept {
			d.removeStream(old.PID)
		}
	}

	pg.Descriptors = pmt.ProgramDescriptors
	pg.HasPMT = true
	pg.Info = pmt.ProgramInfo
	pg.PCRPID = pmt.PCRPID
	pg.Streams = streams
	pg.Version = version
	d.l.Infof("astimpeg: program %d now has %d stream(s), version %d", pg.Number, len(streams), version)
}

// String returns a short description of the program
func (p *Program) String() string {
	return fmt.Sprintf("program %d (PMT %#x, PCR %#x, %d streams)", p.Number, p.PMTPID, p.PCRPID, len(p.Streams))
}
