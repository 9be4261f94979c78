package astimpeg

import (
	"encoding/binary"
	"fmt"

	"github.com/asticode/go-astikit"
)

// P-STD buffer scales
const (
	PSTDBufferScale128Bytes  = 0
	PSTDBufferScale1024Bytes = 1
)

// PTS DTS indicator
const (
	PTSDTSIndicatorBothPresent = 3
	PTSDTSIndicatorIsForbidden = 1
	PTSDTSIndicatorNoPTSOrDTS  = 0
	PTSDTSIndicatorOnlyPTS     = 2
)

// Stream IDs
const (
	StreamIDProgramStreamMap       = 0xbc
	StreamIDPrivateStream1         = 0xbd
	StreamIDPaddingStream          = 0xbe
	StreamIDPrivateStream2         = 0xbf
	StreamIDAudio                  = 0xc0 // 32 ids, 0xc0 to 0xdf
	StreamIDVideo                  = 0xe0 // 16 ids, 0xe0 to 0xef
	StreamIDECM                    = 0xf0
	StreamIDEMM                    = 0xf1
	StreamIDDSMCC                  = 0xf2
	StreamIDH2221TypeE             = 0xf8
	StreamIDMetadata               = 0xfc
	StreamIDExtended               = 0xfd
	StreamIDProgramStreamDirectory = 0xff
)

// Trick mode controls
const (
	TrickModeControlFastForward = 0
	TrickModeControlFastReverse = 3
	TrickModeControlFreezeFrame = 2
	TrickModeControlSlowMotion  = 1
	TrickModeControlSlowReverse = 4
)

const (
	pesHeaderLength         = 6
	pesOptionalHeaderLength = 3
	ptsOrDTSByteLength      = 5
	escrLength              = 6
	dsmTrickModeLength      = 1
	maxPESPacketLength      = 0xffff
)

// PESHeader represents a packet PES header
// https://en.wikipedia.org/wiki/Packetized_elementary_stream
// http://dvd.sourceforge.net/dvdinfo/pes-hdr.html
type PESHeader struct {
	OptionalHeader *PESOptionalHeader
	PacketLength   uint16 // Number of bytes remaining in the packet after this field. Zero means unbounded, which only video carried in a transport stream may use.
	StreamID       uint8  // Examples: Audio streams (0xC0-0xDF), Video streams (0xE0-0xEF)
	MPEG1          bool   // Set when the optional header follows the ISO/IEC 11172-1 layout

	InvalidMarkerBits bool // Set when at least one marker bit read as 0
}

// PESOptionalHeader represents a PES optional header
type PESOptionalHeader struct {
	DSMTrickMode           *DSMTrickMode
	Extension              *PESOptionalHeaderExtension
	PTS                    int64 // PTSNoValue when absent
	DTS                    int64 // PTSNoValue when absent
	ESCR                   ClockReference
	ESRate                 uint32
	CRC                    uint16
	AdditionalCopyInfo     uint8
	DataAlignmentIndicator bool // True indicates that the PES packet header is immediately followed by the video start code or audio syncword
	HasAdditionalCopyInfo  bool
	HasCRC                 bool
	HasDSMTrickMode        bool
	HasESCR                bool
	HasESRate              bool
	HasExtension           bool
	HeaderLength           uint8
	IsCopyrighted          bool
	IsOriginal             bool
	MarkerBits             uint8
	Priority               bool
	PTSDTSIndicator        uint8
	ScramblingControl      uint8

	// MPEG-1 only
	HasSTDBuffer   bool
	STDBufferScale uint8
	STDBufferSize  uint16
}

// PESOptionalHeaderExtension represents a PES optional header extension
type PESOptionalHeaderExtension struct {
	PrivateData                     []byte
	PackHeader                      []byte // Raw pack header embedded in the PES header
	Extension2Data                  []byte
	HasPrivateData                  bool
	HasPackHeaderField              bool
	HasProgramPacketSequenceCounter bool
	HasPSTDBuffer                   bool
	HasExtension2                   bool
	PacketSequenceCounter           uint8
	MPEG1OrMPEG2ID                  uint8
	OriginalStuffingLength          uint8
	PSTDBufferScale                 uint8
	PSTDBufferSize                  uint16
}

// DSMTrickMode represents a DSM trick mode
type DSMTrickMode struct {
	FieldID             uint8
	FrequencyTruncation uint8
	IntraSliceRefresh   uint8
	RepeatControl       uint8
	TrickModeControl    uint8
}

// hasPESOptionalHeader checks whether the data has a PES optional header
func hasPESOptionalHeader(streamID uint8) bool {
	switch streamID {
	case StreamIDProgramStreamMap, StreamIDPaddingStream, StreamIDPrivateStream2, StreamIDECM, StreamIDEMM,
		StreamIDDSMCC, StreamIDH2221TypeE, StreamIDProgramStreamDirectory:
		return false
	}
	return true
}

// newPESHeader builds an MPEG-2 PES header carrying pts and, when it differs, dts
func newPESHeader(streamID uint8, pts, dts int64, dataAlignment bool) *PESHeader {
	oh := &PESOptionalHeader{
		DataAlignmentIndicator: dataAlignment,
		MarkerBits:             0b10,
		PTS:                    pts,
		DTS:                    dts,
	}
	switch {
	case pts == PTSNoValue:
		oh.PTSDTSIndicator = PTSDTSIndicatorNoPTSOrDTS
	case dts == PTSNoValue || dts == pts:
		oh.PTSDTSIndicator = PTSDTSIndicatorOnlyPTS
	default:
		oh.PTSDTSIndicator = PTSDTSIndicatorBothPresent
	}
	return &PESHeader{
		OptionalHeader: oh,
		StreamID:       streamID,
	}
}

// parse parses a PES header starting with its start code prefix. dataStart is the number of bytes the header
// takes. ErrNeedMoreData is returned when c ends inside the header.
func (h *PESHeader) parse(c *cursor) (dataStart int, err error) {
	start, markers := c.offset(), c.markers
	prefix := c.readUint24()
	h.StreamID = c.readUint8()
	h.PacketLength = c.readUint16()
	if err = c.err(); err != nil {
		return
	}
	if prefix != 1 {
		err = ErrInvalidStartCode
		return
	}

	h.MPEG1 = false
	h.OptionalHeader = nil
	if hasPESOptionalHeader(h.StreamID) {
		b := c.peekUint8()
		if err = c.err(); err != nil {
			return
		}
		h.OptionalHeader = &PESOptionalHeader{}
		if b>>6 == 0b10 {
			err = h.OptionalHeader.parse(c)
		} else {
			h.MPEG1 = true
			err = h.OptionalHeader.parseMPEG1(c)
		}
		if err != nil {
			return
		}
	}

	dataStart = c.offset() - start
	h.InvalidMarkerBits = c.markers > markers
	if h.PacketLength > 0 && dataStart-pesHeaderLength > int(h.PacketLength) {
		err = ErrInvalidPESLength
	}
	return
}

// parse parses an MPEG-2 PES optional header
func (h *PESOptionalHeader) parse(c *cursor) (err error) {
	b := c.readUint8()
	h.MarkerBits = b >> 6
	h.ScramblingControl = b >> 4 & 0x3
	h.Priority = b&0x8 > 0
	h.DataAlignmentIndicator = b&0x4 > 0
	h.IsCopyrighted = b&0x2 > 0
	h.IsOriginal = b&0x1 > 0
	b = c.readUint8()
	h.PTSDTSIndicator = b >> 6 & 0x3
	h.HasESCR = b&0x20 > 0
	h.HasESRate = b&0x10 > 0
	h.HasDSMTrickMode = b&0x8 > 0
	h.HasAdditionalCopyInfo = b&0x4 > 0
	h.HasCRC = b&0x2 > 0
	h.HasExtension = b&0x1 > 0
	h.HeaderLength = c.readUint8()
	if err = c.err(); err != nil {
		return
	}

	// The whole header must be available before its fields are trusted
	dataStart := c.offset() + int(h.HeaderLength)
	if dataStart > c.len() {
		return ErrNeedMoreData
	}

	h.PTS, h.DTS = PTSNoValue, PTSNoValue
	switch h.PTSDTSIndicator {
	case PTSDTSIndicatorOnlyPTS:
		c.readBits(4)
		h.PTS = c.readTimestamp()
	case PTSDTSIndicatorBothPresent:
		c.readBits(4)
		h.PTS = c.readTimestamp()
		c.readBits(4)
		h.DTS = c.readTimestamp()
	}

	if h.HasESCR {
		c.readBits(2)
		h.ESCR.Base = c.readTimestamp()
		h.ESCR.Extension = int64(c.readBits(9))
		c.marker()
	}

	if h.HasESRate {
		c.marker()
		h.ESRate = uint32(c.readBits(22))
		c.marker()
	}

	if h.HasDSMTrickMode {
		h.DSMTrickMode = parseDSMTrickMode(c.readUint8())
	}

	if h.HasAdditionalCopyInfo {
		h.AdditionalCopyInfo = c.readUint8() & 0x7f
	}

	if h.HasCRC {
		h.CRC = c.readUint16()
	}

	if h.HasExtension {
		h.Extension = &PESOptionalHeaderExtension{}
		h.Extension.parse(c)
	}

	if err = c.err(); err != nil {
		return
	}
	if c.offset() > dataStart {
		return fmt.Errorf("astimpeg: PES optional fields overflow header length %d: %w", h.HeaderLength, ErrInvalidData)
	}

	// Stuffing bytes
	c.seek(dataStart)
	return
}

// parseMPEG1 parses the ISO/IEC 11172-1 packet header fields following the packet length
func (h *PESOptionalHeader) parseMPEG1(c *cursor) error {
	h.PTS, h.DTS = PTSNoValue, PTSNoValue

	// Stuffing bytes
	for n := 0; c.peekUint8() == 0xff; n++ {
		if n == 16 {
			return fmt.Errorf("astimpeg: too many MPEG-1 stuffing bytes: %w", ErrInvalidData)
		}
		c.skip(1)
	}

	if c.peekUint8()>>6 == 0b01 {
		c.readBits(2)
		h.HasSTDBuffer = true
		h.STDBufferScale = uint8(c.readBits(1))
		h.STDBufferSize = uint16(c.readBits(13))
	}

	switch c.peekUint8() >> 4 {
	case 0b0010:
		c.readBits(4)
		h.PTSDTSIndicator = PTSDTSIndicatorOnlyPTS
		h.PTS = c.readTimestamp()
	case 0b0011:
		c.readBits(4)
		h.PTSDTSIndicator = PTSDTSIndicatorBothPresent
		h.PTS = c.readTimestamp()
		c.readBits(4)
		h.DTS = c.readTimestamp()
	default:
		if b := c.readUint8(); b != 0x0f && c.err() == nil {
			return fmt.Errorf("astimpeg: invalid MPEG-1 packet header byte %#x: %w", b, ErrInvalidData)
		}
	}
	return c.err()
}

func (h *PESOptionalHeaderExtension) parse(c *cursor) {
	b := c.readUint8()
	h.HasPrivateData = b&0x80 > 0
	h.HasPackHeaderField = b&0x40 > 0
	h.HasProgramPacketSequenceCounter = b&0x20 > 0
	h.HasPSTDBuffer = b&0x10 > 0
	h.HasExtension2 = b&0x1 > 0

	if h.HasPrivateData {
		h.PrivateData = c.readBytes(16)
	}

	if h.HasPackHeaderField {
		h.PackHeader = c.readBytes(int(c.readUint8()))
	}

	if h.HasProgramPacketSequenceCounter {
		c.marker()
		h.PacketSequenceCounter = uint8(c.readBits(7))
		c.marker()
		h.MPEG1OrMPEG2ID = uint8(c.readBits(1))
		h.OriginalStuffingLength = uint8(c.readBits(6))
	}

	if h.HasPSTDBuffer {
		c.readBits(2)
		h.PSTDBufferScale = uint8(c.readBits(1))
		h.PSTDBufferSize = uint16(c.readBits(13))
	}

	if h.HasExtension2 {
		c.marker()
		h.Extension2Data = c.readBytes(int(c.readBits(7)))
	}
}

// parseDSMTrickMode parses a DSM trick mode
func parseDSMTrickMode(i byte) (m *DSMTrickMode) {
	m = &DSMTrickMode{}
	m.TrickModeControl = i >> 5
	switch m.TrickModeControl {
	case TrickModeControlFastForward, TrickModeControlFastReverse:
		m.FieldID = i >> 3 & 0x3
		m.IntraSliceRefresh = i >> 2 & 0x1
		m.FrequencyTruncation = i & 0x3
	case TrickModeControlFreezeFrame:
		m.FieldID = i >> 3 & 0x3
	case TrickModeControlSlowMotion, TrickModeControlSlowReverse:
		m.RepeatControl = i & 0x1f
	}
	return
}

// parsePTSOrDTS parses a 5 bytes PTS or DTS
func parsePTSOrDTS(bs []byte) int64 {
	return int64(uint64(bs[0])>>1&0x7<<30 | uint64(bs[1])<<22 | uint64(bs[2])>>1&0x7f<<15 | uint64(bs[3])<<7 | uint64(bs[4])>>1&0x7f)
}

// size returns the number of bytes write produces
func (h *PESHeader) size() int {
	if !hasPESOptionalHeader(h.StreamID) {
		return pesHeaderLength
	}
	return pesHeaderLength + int(h.OptionalHeader.calcLength())
}

// write writes an MPEG-2 PES header. PacketLength is written as is.
func (h *PESHeader) write(w *astikit.BitsWriter, bb *[8]byte) (int, error) {
	binary.BigEndian.PutUint32(bb[:], uint32(h.StreamID)|0x1<<8)
	binary.BigEndian.PutUint16(bb[4:], h.PacketLength)
	if err := w.Write(bb[:6]); err != nil {
		return 0, err
	}
	bytesWritten := pesHeaderLength

	if hasPESOptionalHeader(h.StreamID) {
		n, err := h.OptionalHeader.write(w, bb)
		if err != nil {
			return 0, err
		}
		bytesWritten += n
	}
	return bytesWritten, nil
}

func (h *PESOptionalHeader) calcLength() uint8 {
	if h == nil {
		return 0
	}
	return pesOptionalHeaderLength + h.calcDataLength()
}

func (h *PESOptionalHeader) calcDataLength() (length uint8) {
	switch h.PTSDTSIndicator {
	case PTSDTSIndicatorOnlyPTS:
		length += ptsOrDTSByteLength
	case PTSDTSIndicatorBothPresent:
		length += 2 * ptsOrDTSByteLength
	}

	length += escrLength * b2u(h.HasESCR)
	length += 3 * b2u(h.HasESRate)
	length += dsmTrickModeLength * b2u(h.HasDSMTrickMode)
	length += b2u(h.HasAdditionalCopyInfo)
	length += 2 * b2u(h.HasCRC)

	if h.HasExtension {
		length += h.Extension.calcDataLength()
	}
	return
}

func (h *PESOptionalHeaderExtension) calcDataLength() (length uint8) {
	length++
	length += 16 * b2u(h.HasPrivateData)
	length += (1 + uint8(len(h.PackHeader))) * b2u(h.HasPackHeaderField)
	length += 2 * b2u(h.HasProgramPacketSequenceCounter)
	length += 2 * b2u(h.HasPSTDBuffer)
	length += (1 + uint8(len(h.Extension2Data))) * b2u(h.HasExtension2)
	return
}

func (h *PESOptionalHeader) write(w *astikit.BitsWriter, bb *[8]byte) (int, error) {
	if h == nil {
		return 0, nil
	}

	b := uint8(0b10) << 6
	b |= h.ScramblingControl << 4
	b |= b2u(h.Priority) << 3
	b |= b2u(h.DataAlignmentIndicator) << 2
	b |= b2u(h.IsCopyrighted) << 1
	b |= b2u(h.IsOriginal)
	bb[0] = b
	b = h.PTSDTSIndicator << 6
	b |= b2u(h.HasESCR) << 5
	b |= b2u(h.HasESRate) << 4
	b |= b2u(h.HasDSMTrickMode) << 3
	b |= b2u(h.HasAdditionalCopyInfo) << 2
	b |= b2u(h.HasCRC) << 1
	b |= b2u(h.HasExtension)
	bb[1] = b
	bb[2] = h.calcDataLength()

	if err := w.Write(bb[:3]); err != nil {
		return 0, err
	}
	bytesWritten := pesOptionalHeaderLength

	var n int
	var err error
	switch h.PTSDTSIndicator {
	case PTSDTSIndicatorOnlyPTS:
		if n, err = writePTSOrDTS(w, bb, 0b0010, h.PTS); err != nil {
			return 0, err
		}
		bytesWritten += n
	case PTSDTSIndicatorBothPresent:
		if n, err = writePTSOrDTS(w, bb, 0b0011, h.PTS); err != nil {
			return 0, err
		}
		bytesWritten += n
		if n, err = writePTSOrDTS(w, bb, 0b0001, h.DTS); err != nil {
			return 0, err
		}
		bytesWritten += n
	}

	if h.HasESCR {
		if n, err = h.ESCR.writeESCR(w, bb); err != nil {
			return 0, err
		}
		bytesWritten += n
	}

	if h.HasESRate {
		bb[0] = 0x80 | uint8(h.ESRate>>15)
		bb[1] = uint8(h.ESRate >> 7)
		bb[2] = uint8(h.ESRate<<1) | 0x1
		if err = w.Write(bb[:3]); err != nil {
			return 0, err
		}
		bytesWritten += 3
	}

	if h.HasDSMTrickMode {
		if n, err = h.DSMTrickMode.write(w, bb); err != nil {
			return 0, err
		}
		bytesWritten += n
	}

	if h.HasAdditionalCopyInfo {
		bb[0] = 0x80 | h.AdditionalCopyInfo
		if err = w.Write(bb[:1]); err != nil {
			return 0, err
		}
		bytesWritten++
	}

	if h.HasCRC {
		binary.BigEndian.PutUint16(bb[:], h.CRC)
		if err = w.Write(bb[:2]); err != nil {
			return 0, err
		}
		bytesWritten += 2
	}

	if h.HasExtension {
		if n, err = h.Extension.write(w, bb); err != nil {
			return 0, err
		}
		bytesWritten += n
	}
	return bytesWritten, nil
}

func (h *PESOptionalHeaderExtension) write(w *astikit.BitsWriter, bb *[8]byte) (bytesWritten int, err error) {
	bb[0] = b2u(h.HasPrivateData) << 7
	bb[0] |= b2u(h.HasPackHeaderField) << 6
	bb[0] |= b2u(h.HasProgramPacketSequenceCounter) << 5
	bb[0] |= b2u(h.HasPSTDBuffer) << 4
	bb[0] |= 0xe
	bb[0] |= b2u(h.HasExtension2)
	if err = w.Write(bb[:1]); err != nil {
		return 0, err
	}
	bytesWritten++

	if h.HasPrivateData {
		if err = w.WriteBytesN(h.PrivateData, 16, 0); err != nil {
			return 0, err
		}
		bytesWritten += 16
	}

	if h.HasPackHeaderField {
		bb[0] = uint8(len(h.PackHeader))
		if err = w.Write(bb[:1]); err != nil {
			return 0, err
		}
		if err = w.Write(h.PackHeader); err != nil {
			return 0, err
		}
		bytesWritten += 1 + len(h.PackHeader)
	}

	if h.HasProgramPacketSequenceCounter {
		bb[0] = 0x80 | h.PacketSequenceCounter
		bb[1] = 0x80 | h.MPEG1OrMPEG2ID<<6 | h.OriginalStuffingLength
		if err = w.Write(bb[:2]); err != nil {
			return 0, err
		}
		bytesWritten += 2
	}

	if h.HasPSTDBuffer {
		bb[0] = 0x40 | h.PSTDBufferScale<<5 | uint8(h.PSTDBufferSize>>8)
		bb[1] = uint8(h.PSTDBufferSize)
		if err = w.Write(bb[:2]); err != nil {
			return 0, err
		}
		bytesWritten += 2
	}

	if h.HasExtension2 {
		bb[0] = 0x80 | uint8(len(h.Extension2Data))
		if err = w.Write(bb[:1]); err != nil {
			return 0, err
		}
		if err = w.Write(h.Extension2Data); err != nil {
			return 0, err
		}
		bytesWritten += 1 + len(h.Extension2Data)
	}
	return
}

func (m *DSMTrickMode) write(w *astikit.BitsWriter, bb *[8]byte) (int, error) {
	bb[0] = m.TrickModeControl << 5

	switch m.TrickModeControl {
	case TrickModeControlFastForward, TrickModeControlFastReverse:
		bb[0] |= m.FieldID<<3 | m.IntraSliceRefresh<<2 | m.FrequencyTruncation
	case TrickModeControlFreezeFrame:
		bb[0] |= m.FieldID<<3 | 7
	case TrickModeControlSlowMotion, TrickModeControlSlowReverse:
		bb[0] |= m.RepeatControl
	default:
		bb[0] |= 0x1f
	}

	return dsmTrickModeLength, w.Write(bb[:1])
}

func (cr *ClockReference) writeESCR(w *astikit.BitsWriter, bb *[8]byte) (int, error) {
	base, ext := cr.Base&timestampMask, cr.Extension&0x1ff
	bb[0] = 0xc0 | uint8((base>>27)&0x38) | 0x04 | uint8((base>>28)&0x03)
	bb[1] = uint8(base >> 20)
	bb[2] = uint8((base>>13)&0x3) | 0x4 | uint8((base>>12)&0xf8)
	bb[3] = uint8(base >> 5)
	bb[4] = uint8(ext>>7) | 0x4 | uint8(base<<3)
	bb[5] = uint8(ext<<1) | 0x1

	return escrLength, w.Write(bb[:6])
}

// writePTSOrDTS writes a 33 bits timestamp prefixed with the 4 bits flag
func writePTSOrDTS(w *astikit.BitsWriter, bb *[8]byte, flag uint8, ts int64) (int, error) {
	ts &= timestampMask
	bb[0] = flag<<4 | uint8(ts>>29)&0x0e | 1
	bb[1] = uint8(ts >> 22)
	bb[2] = uint8(ts>>14) | 1
	bb[3] = uint8(ts >> 7)
	bb[4] = uint8(ts<<1) | 1

	return ptsOrDTSByteLength, w.Write(bb[:5])
}
