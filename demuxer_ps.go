package astimpeg

import (
	"encoding/binary"
	"errors"

	"github.com/asticode/go-astikit"
)

// PSDemuxer demuxes an MPEG program stream pushed in arbitrary chunks into access units. It isn't safe for
// concurrent use.
type PSDemuxer struct {
	buf     []byte
	h       AccessUnitHandler
	l       astikit.CompleteLogger
	pack    *PackHeader
	psd     *ProgramStreamDirectory
	psm     *ProgramStreamMap
	streams map[uint8]*pesAssembler
	order   []uint8
	system  *SystemHeader

	optGuessStreamTypes bool
}

// NewPSDemuxer creates a new program stream demuxer delivering access units to h
func NewPSDemuxer(h AccessUnitHandler, opts ...func(*PSDemuxer)) *PSDemuxer {
	d := &PSDemuxer{
		h:       h,
		l:       astikit.AdaptStdLogger(nil),
		streams: make(map[uint8]*pesAssembler),
	}

	// Apply options
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// PSDemuxerOptLogger returns the option to set the logger
func PSDemuxerOptLogger(l astikit.StdLogger) func(*PSDemuxer) {
	return func(d *PSDemuxer) {
		d.l = astikit.AdaptStdLogger(l)
	}
}

// PSDemuxerOptGuessStreamTypes returns the option to demux streams missing from the PSM: video stream ids are
// assumed to carry H.264 and audio stream ids AAC
func PSDemuxerOptGuessStreamTypes() func(*PSDemuxer) {
	return func(d *PSDemuxer) {
		d.optGuessStreamTypes = true
	}
}

// PackHeader returns the last pack header read
func (d *PSDemuxer) PackHeader() *PackHeader {
	return d.pack
}

// SystemHeader returns the last system header read
func (d *PSDemuxer) SystemHeader() *SystemHeader {
	return d.system
}

// ProgramStreamMap returns the last valid PSM read
func (d *PSDemuxer) ProgramStreamMap() *ProgramStreamMap {
	return d.psm
}

// ProgramStreamDirectory returns the last directory read
func (d *PSDemuxer) ProgramStreamDirectory() *ProgramStreamDirectory {
	return d.psd
}

// Input demuxes bs. Incomplete packets are kept for the next call, so the whole of bs is always consumed.
// Processing stops after a program end code, the bytes following it are demuxed by the next call.
func (d *PSDemuxer) Input(bs []byte) (int, error) {
	d.buf = append(d.buf, bs...)
	_, err := d.process()
	return len(bs), err
}

// process demuxes the buffered bytes and drops the consumed ones
func (d *PSDemuxer) process() (consumed int, err error) {
	off := 0
	defer func() {
		consumed = off
		if off > 0 {
			d.buf = append(d.buf[:0], d.buf[off:]...)
		}
	}()

	for {
		i := nextStartCode(d.buf, off)
		if i < 0 {
			// Keep what could be the beginning of a start code
			if l := len(d.buf) - 2; l > off {
				off = l
			}
			return
		}
		off = i
		if i+4 > len(d.buf) {
			return
		}

		code := d.buf[i+3]
		switch {
		case code == startCodeEnd:
			off = i + 4
			d.l.Debugf("astimpeg: program end code")
			return
		case code == startCodePack:
			h := &PackHeader{}
			n, errParse := h.parse(newCursor(d.buf[i:], nil))
			if errors.Is(errParse, ErrNeedMoreData) {
				return
			}
			if errParse != nil {
				d.l.Errorf("astimpeg: parsing pack header failed: %v", errParse)
				off = i + 4
				continue
			}
			if h.InvalidMarkerBits {
				d.l.Errorf("astimpeg: pack header has invalid marker bits")
			}
			d.pack = h
			off = i + n
		case code == startCodeSystemHeader:
			h := &SystemHeader{}
			n, errParse := h.parse(newCursor(d.buf[i:], nil))
			if errors.Is(errParse, ErrNeedMoreData) {
				return
			}
			if errParse != nil {
				d.l.Errorf("astimpeg: parsing system header failed: %v", errParse)
				off = i + 4
				continue
			}
			if h.InvalidMarkerBits {
				d.l.Errorf("astimpeg: system header has invalid marker bits")
			}
			d.system = h
			off = i + n
		case code < startCodeEnd:
			// Not a system start code
			off = i + 3
		default:
			if i+pesHeaderLength > len(d.buf) {
				return
			}
			end := i + pesHeaderLength + int(binary.BigEndian.Uint16(d.buf[i+4:]))
			if end > len(d.buf) {
				return
			}
			if err = d.processPacket(code, d.buf[i:end]); err != nil {
				off = end
				return
			}
			off = end
		}
	}
}

func (d *PSDemuxer) processPacket(streamID uint8, pkt []byte) error {
	switch {
	case streamID == StreamIDProgramStreamMap:
		psm, err := parseProgramStreamMap(pkt)
		if err != nil {
			d.l.Errorf("astimpeg: parsing PSM failed: %v", err)
			return nil
		}
		if d.psm == nil || d.psm.Version != psm.Version {
			d.l.Debugf("astimpeg: PSM version %d with %d stream(s)", psm.Version, len(psm.ElementaryStreams))
		}
		d.psm = psm
	case streamID == StreamIDProgramStreamDirectory:
		psd := &ProgramStreamDirectory{}
		if _, err := psd.parse(newCursor(pkt, nil)); err != nil {
			d.l.Errorf("astimpeg: parsing program stream directory failed: %v", err)
			return nil
		}
		d.psd = psd
	case streamID == StreamIDPrivateStream1,
		streamID >= StreamIDAudio && streamID < StreamIDECM:
		return d.processPES(streamID, pkt)
	}
	return nil
}

func (d *PSDemuxer) streamType(streamID uint8) (StreamType, bool) {
	if d.psm != nil {
		if t, ok := d.psm.StreamType(streamID); ok {
			return t, true
		}
	}
	if d.optGuessStreamTypes {
		switch {
		case streamID >= StreamIDVideo && streamID < StreamIDECM:
			return StreamTypeH264Video, true
		case streamID >= StreamIDAudio && streamID < StreamIDVideo:
			return StreamTypeAACAudio, true
		}
	}
	return 0, false
}

func (d *PSDemuxer) processPES(streamID uint8, pkt []byte) (err error) {
	t, ok := d.streamType(streamID)
	if !ok {
		return
	}

	var h PESHeader
	n, errParse := h.parse(newCursor(pkt, nil))
	if errParse != nil {
		d.l.Errorf("astimpeg: parsing PES header of stream %#x failed: %v", streamID, errParse)
		return
	}
	if h.InvalidMarkerBits {
		d.l.Errorf("astimpeg: PES header of stream %#x has invalid marker bits", streamID)
	}

	a, ok := d.streams[streamID]
	if ok && a.streamType != t {
		err = a.flush()
		ok = false
	}
	if !ok {
		a = newPESAssembler(d.h, 0, uint16(streamID), t)
		if _, exists := d.streams[streamID]; !exists {
			d.order = append(d.order, streamID)
		}
		d.streams[streamID] = a
		d.l.Debugf("astimpeg: %s stream with stream id %#x", t, streamID)
	}

	pts, dts, random := PTSNoValue, PTSNoValue, false
	if h.OptionalHeader != nil {
		pts, dts = h.OptionalHeader.PTS, h.OptionalHeader.DTS
		random = h.OptionalHeader.DataAlignmentIndicator
	}
	if errStart := a.start(pts, dts, random, pkt[n:]); errStart != nil && err == nil {
		err = errStart
	}
	return
}

// Flush demuxes the buffered bytes and emits every buffered access unit
func (d *PSDemuxer) Flush() (err error) {
	for len(d.buf) > 0 {
		n, errProcess := d.process()
		if errProcess != nil && err == nil {
			err = errProcess
		}
		if n == 0 {
			break
		}
	}
	d.buf = d.buf[:0]

	for _, id := range d.order {
		if errFlush := d.streams[id].flush(); errFlush != nil && err == nil {
			err = errFlush
		}
	}
	return
}
