package astimpeg

import (
	"encoding/binary"
	"fmt"

	"github.com/asticode/go-astikit"
)

// Scrambling Controls
const (
	ScramblingControlNotScrambled         = 0
	ScramblingControlReservedForFutureUse = 1
	ScramblingControlScrambledWithEvenKey = 2
	ScramblingControlScrambledWithOddKey  = 3
)

// Packet sizes
const (
	MpegTsPacketSize = 188
	M2TsPacketSize   = 192 // 4 bytes timecode prefix
	FECTsPacketSize  = 204 // 16 bytes Reed-Solomon suffix
)

const (
	syncByte                 byte = '\x47'
	mpegTsPacketHeaderSize        = 4
	mpegTsPayloadSize             = MpegTsPacketSize - mpegTsPacketHeaderSize
	pcrBytesSize                  = 6
	maxAdaptationFieldLength      = mpegTsPayloadSize - 1
)

// Packet represents a packet
// https://en.wikipedia.org/wiki/MPEG_transport_stream
type Packet struct {
	Header          PacketHeader
	AdaptationField *PacketAdaptationField
	Payload         []byte // This is only the payload content

	af PacketAdaptationField
}

// PacketHeader represents a packet header
type PacketHeader struct {
	ContinuityCounter          uint8 // Sequence number of payload packets (0x00 to 0x0F) within each stream (except PID 8191)
	HasAdaptationField         bool
	HasPayload                 bool
	PayloadUnitStartIndicator  bool   // Set when a PES or PSI begins immediately following the header.
	PID                        uint16 // Packet Identifier, describing the payload data.
	TransportErrorIndicator    bool   // Set when a demodulator can't correct errors from FEC data; indicating the packet is corrupt.
	TransportPriority          bool   // Set when the current packet has a higher priority than other packets with the same PID.
	TransportScramblingControl uint8
}

// PacketAdaptationField represents a packet adaptation field
type PacketAdaptationField struct {
	AdaptationExtensionField          *PacketAdaptationExtensionField
	OPCR                              ClockReference // Original Program clock reference. Helps when one TS is copied into another
	PCR                               ClockReference // Program clock reference
	TransportPrivateData              []byte
	Length                            uint8
	StuffingLength                    uint8 // Requests stuffing on write, reports it on read
	SpliceCountdown                   uint8 // Indicates how many TS packets from this one a splicing point occurs (Two's complement signed; may be negative)
	IsOneByteStuffing                 bool  // Written as a single zero length byte. Not part of TS format
	DiscontinuityIndicator            bool  // Set if current TS packet is in a discontinuity state with respect to either the continuity counter or the program clock reference
	RandomAccessIndicator             bool  // Set when the stream may be decoded without errors from this point
	ElementaryStreamPriorityIndicator bool  // Set when this stream should be considered "high priority"
	HasPCR                            bool
	HasOPCR                           bool
	HasSplicingCountdown              bool
	HasTransportPrivateData           bool
	HasAdaptationExtensionField       bool
}

// PacketAdaptationExtensionField represents a packet adaptation extension field
type PacketAdaptationExtensionField struct {
	DTSNextAccessUnit      int64  // The PES DTS of the splice point
	PiecewiseRate          uint32 // The rate of the stream, measured in 188-byte packets, to define the end-time of the LTW.
	LegalTimeWindowOffset  uint16 // Extra information for rebroadcasters to determine the state of buffers when packets may be missing.
	LegalTimeWindowIsValid bool
	HasLegalTimeWindow     bool
	HasPiecewiseRate       bool
	HasSeamlessSplice      bool
	Length                 uint8
	SpliceType             uint8 // Indicates the parameters of the H.262 splice.
}

// parse parses a 188 bytes packet. Payload and transport private data point into bs.
func (p *Packet) parse(bs []byte) (err error) {
	if len(bs) < MpegTsPacketSize || bs[0] != syncByte {
		return ErrPacketMustStartWithASyncByte
	}
	bs = bs[:MpegTsPacketSize]
	i := astikit.NewBytesIterator(bs)
	i.Skip(1)

	// Parse header
	if err = p.Header.parse(i); err != nil {
		return fmt.Errorf("astimpeg: parsing packet header failed: %w", err)
	}

	// Parse adaptation field
	p.AdaptationField = nil
	if p.Header.HasAdaptationField {
		p.af = PacketAdaptationField{}
		p.AdaptationField = &p.af
		if err = p.AdaptationField.parse(i); err != nil {
			return fmt.Errorf("astimpeg: parsing packet adaptation field failed: %w", err)
		}
	}

	// Build payload
	p.Payload = nil
	if offset := p.payloadOffset(); p.Header.HasPayload && offset < len(bs) {
		p.Payload = bs[offset:]
	}
	return
}

// payloadOffset returns the payload offset
func (p *Packet) payloadOffset() (offset int) {
	offset = mpegTsPacketHeaderSize
	if p.Header.HasAdaptationField {
		offset += 1 + int(p.AdaptationField.Length)
	}
	return
}

// parse parses the packet header, sync byte excluded
func (ph *PacketHeader) parse(i *astikit.BytesIterator) (err error) {
	var bs []byte
	if bs, err = i.NextBytesNoCopy(3); err != nil || len(bs) < 3 {
		err = fmt.Errorf("astimpeg: fetching next bytes failed: %w", ErrNeedMoreData)
		return
	}

	b := bs[2]
	ph.TransportScramblingControl = b >> 6 & 0x3
	ph.HasAdaptationField = b&0x20 > 0
	ph.HasPayload = b&0x10 > 0
	ph.ContinuityCounter = b & 0xf
	b = bs[0]
	ph.TransportErrorIndicator = b&0x80 > 0
	ph.PayloadUnitStartIndicator = b&0x40 > 0
	ph.TransportPriority = b&0x20 > 0
	ph.PID = binary.BigEndian.Uint16(bs[:2]) & 0x1fff
	return
}

// parse parses the packet adaptation field
func (af *PacketAdaptationField) parse(i *astikit.BytesIterator) (err error) {
	var b byte
	if af.Length, err = i.NextByte(); err != nil {
		err = fmt.Errorf("astimpeg: fetching next byte failed: %w", err)
		return
	}
	if af.Length > maxAdaptationFieldLength {
		err = fmt.Errorf("astimpeg: adaptation field length %d is too big: %w", af.Length, ErrInvalidData)
		return
	}

	afStartOffset := i.Offset()

	if af.Length > 0 {
		if b, err = i.NextByte(); err != nil {
			err = fmt.Errorf("astimpeg: fetching next byte failed: %w", err)
			return
		}

		// Flags
		af.DiscontinuityIndicator = b&0x80 > 0
		af.RandomAccessIndicator = b&0x40 > 0
		af.ElementaryStreamPriorityIndicator = b&0x20 > 0
		af.HasPCR = b&0x10 > 0
		af.HasOPCR = b&0x08 > 0
		af.HasSplicingCountdown = b&0x04 > 0
		af.HasTransportPrivateData = b&0x02 > 0
		af.HasAdaptationExtensionField = b&0x01 > 0

		if af.HasPCR {
			if err = af.PCR.parsePCR(i); err != nil {
				err = fmt.Errorf("astimpeg: parsing PCR failed: %w", err)
				return
			}
		}

		if af.HasOPCR {
			if err = af.OPCR.parsePCR(i); err != nil {
				err = fmt.Errorf("astimpeg: parsing OPCR failed: %w", err)
				return
			}
		}

		if af.HasSplicingCountdown {
			if af.SpliceCountdown, err = i.NextByte(); err != nil {
				err = fmt.Errorf("astimpeg: fetching next byte failed: %w", err)
				return
			}
		}

		if af.HasTransportPrivateData {
			if b, err = i.NextByte(); err != nil {
				err = fmt.Errorf("astimpeg: fetching next byte failed: %w", err)
				return
			}
			if b > 0 {
				if af.TransportPrivateData, err = i.NextBytesNoCopy(int(b)); err != nil {
					err = fmt.Errorf("astimpeg: fetching next bytes failed: %w", err)
					return
				}
			}
		}

		if af.HasAdaptationExtensionField {
			af.AdaptationExtensionField = &PacketAdaptationExtensionField{}
			if err = af.AdaptationExtensionField.parse(i); err != nil {
				err = fmt.Errorf("astimpeg: parsing extension field failed: %w", err)
				return
			}
		}
	}

	consumed := i.Offset() - afStartOffset
	if consumed > int(af.Length) {
		err = fmt.Errorf("astimpeg: adaptation field content overflows its length: %w", ErrInvalidData)
		return
	}
	af.StuffingLength = af.Length - uint8(consumed)
	return
}

func (afe *PacketAdaptationExtensionField) parse(i *astikit.BytesIterator) (err error) {
	if afe.Length, err = i.NextByte(); err != nil {
		err = fmt.Errorf("astimpeg: fetching next byte failed: %w", err)
		return
	}
	if afe.Length == 0 {
		return
	}
	offsetEnd := i.Offset() + int(afe.Length)

	var b byte
	if b, err = i.NextByte(); err != nil {
		err = fmt.Errorf("astimpeg: fetching next byte failed: %w", err)
		return
	}
	afe.HasLegalTimeWindow = b&0x80 > 0
	afe.HasPiecewiseRate = b&0x40 > 0
	afe.HasSeamlessSplice = b&0x20 > 0

	var bs []byte
	if afe.HasLegalTimeWindow {
		if bs, err = i.NextBytesNoCopy(2); err != nil || len(bs) < 2 {
			err = fmt.Errorf("astimpeg: fetching next bytes failed: %w", ErrNeedMoreData)
			return
		}
		afe.LegalTimeWindowIsValid = bs[0]&0x80 > 0
		afe.LegalTimeWindowOffset = binary.BigEndian.Uint16(bs) & 0x7fff
	}

	if afe.HasPiecewiseRate {
		if bs, err = i.NextBytesNoCopy(3); err != nil || len(bs) < 3 {
			err = fmt.Errorf("astimpeg: fetching next bytes failed: %w", ErrNeedMoreData)
			return
		}
		afe.PiecewiseRate = uint32(bs[0]&0x3f)<<16 | uint32(bs[1])<<8 | uint32(bs[2])
	}

	if afe.HasSeamlessSplice {
		if bs, err = i.NextBytesNoCopy(ptsOrDTSByteLength); err != nil || len(bs) < ptsOrDTSByteLength {
			err = fmt.Errorf("astimpeg: fetching next bytes failed: %w", ErrNeedMoreData)
			return
		}
		// The splice type shares its byte with the DTS next access unit
		afe.SpliceType = bs[0] >> 4
		afe.DTSNextAccessUnit = parsePTSOrDTS(bs)
	}

	// Reserved bytes
	if i.Offset() < offsetEnd {
		i.Seek(offsetEnd)
	}
	return
}

// parsePCR parses a Program Clock Reference
// Program clock reference, stored as 33 bits base, 6 bits reserved, 9 bits extension.
func (cr *ClockReference) parsePCR(i *astikit.BytesIterator) (err error) {
	var bs []byte
	if bs, err = i.NextBytesNoCopy(pcrBytesSize); err != nil || len(bs) < pcrBytesSize {
		err = fmt.Errorf("astimpeg: fetching next bytes failed: %w", ErrNeedMoreData)
		return
	}
	pcr := uint64(binary.BigEndian.Uint32(bs[:4]))<<16 | uint64(binary.BigEndian.Uint32(bs[2:]))
	*cr = newClockReference(int64(pcr>>15), int64(pcr&0x1ff))
	return
}

// write writes the header, the adaptation field and the payload, then pads the packet with 0xff up to
// targetPacketSize
func (p *Packet) write(w *astikit.BitsWriter, bb *[8]byte, targetPacketSize int) (written int, err error) {
	if written, err = p.Header.write(w, bb); err != nil {
		return
	}

	if p.Header.HasAdaptationField {
		var n int
		if n, err = p.AdaptationField.write(w, bb); err != nil {
			return
		}
		written += n
	}

	if targetPacketSize-written < len(p.Payload) {
		return 0, fmt.Errorf("astimpeg: can't write %d bytes of payload, only %d are available: %w",
			len(p.Payload), targetPacketSize-written, ErrInvalidArgument)
	}

	if p.Header.HasPayload {
		if err = w.Write(p.Payload); err != nil {
			return
		}
		written += len(p.Payload)
	}

	if written < targetPacketSize {
		var n int
		if n, err = writeStuffing(w, bb, targetPacketSize-written); err != nil {
			return
		}
		written += n
	}
	return
}

func (ph *PacketHeader) write(w *astikit.BitsWriter, bb *[8]byte) (int, error) {
	var val uint32
	val |= uint32(syncByte) << 24
	val |= uint32(b2u(ph.TransportErrorIndicator)) << 23
	val |= uint32(b2u(ph.PayloadUnitStartIndicator)) << 22
	val |= uint32(b2u(ph.TransportPriority)) << 21
	val |= uint32(ph.PID&0x1fff) << 8
	val |= uint32(ph.TransportScramblingControl&0x3) << 6
	val |= uint32(b2u(ph.HasAdaptationField)) << 5
	val |= uint32(b2u(ph.HasPayload)) << 4
	val |= uint32(ph.ContinuityCounter & 0xf)
	binary.BigEndian.PutUint32(bb[:], val)

	return mpegTsPacketHeaderSize, w.Write(bb[:4])
}

func (cr *ClockReference) writePCR(w *astikit.BitsWriter, bb *[8]byte) (int, error) {
	binary.BigEndian.PutUint64(bb[:], uint64(cr.Extension&0x1ff)|uint64(cr.Base&timestampMask)<<15|0x7e<<8)
	return pcrBytesSize, w.Write(bb[2:])
}

// calcLength returns the value of the adaptation_field_length field
func (af *PacketAdaptationField) calcLength() (length uint8) {
	if af.IsOneByteStuffing {
		return 0
	}
	length++
	length += pcrBytesSize * b2u(af.HasPCR)
	length += pcrBytesSize * b2u(af.HasOPCR)
	length += b2u(af.HasSplicingCountdown)
	length += (1 + uint8(len(af.TransportPrivateData))) * b2u(af.HasTransportPrivateData)
	if af.HasAdaptationExtensionField {
		length += 1 + af.AdaptationExtensionField.calcLength()
	}
	length += af.StuffingLength
	return
}

// size returns the number of bytes the adaptation field takes in a packet
func (af *PacketAdaptationField) size() int {
	return 1 + int(af.calcLength())
}

func (af *PacketAdaptationField) write(w *astikit.BitsWriter, bb *[8]byte) (bytesWritten int, err error) {
	if af.IsOneByteStuffing {
		bb[0] = 0
		return 1, w.Write(bb[:1])
	}

	var val uint16
	val = uint16(af.calcLength()) << 8
	val |= uint16(b2u(af.DiscontinuityIndicator)) << 7
	val |= uint16(b2u(af.RandomAccessIndicator)) << 6
	val |= uint16(b2u(af.ElementaryStreamPriorityIndicator)) << 5
	val |= uint16(b2u(af.HasPCR)) << 4
	val |= uint16(b2u(af.HasOPCR)) << 3
	val |= uint16(b2u(af.HasSplicingCountdown)) << 2
	val |= uint16(b2u(af.HasTransportPrivateData)) << 1
	val |= uint16(b2u(af.HasAdaptationExtensionField))
	binary.BigEndian.PutUint16(bb[:], val)
	if err = w.Write(bb[:2]); err != nil {
		return 0, err
	}
	bytesWritten += 2

	var n int
	if af.HasPCR {
		if n, err = af.PCR.writePCR(w, bb); err != nil {
			return 0, err
		}
		bytesWritten += n
	}

	if af.HasOPCR {
		if n, err = af.OPCR.writePCR(w, bb); err != nil {
			return 0, err
		}
		bytesWritten += n
	}

	if af.HasSplicingCountdown {
		bb[0] = af.SpliceCountdown
		if err = w.Write(bb[:1]); err != nil {
			return 0, err
		}
		bytesWritten++
	}

	if af.HasTransportPrivateData {
		bb[0] = uint8(len(af.TransportPrivateData))
		if err = w.Write(bb[:1]); err != nil {
			return 0, err
		}
		if err = w.Write(af.TransportPrivateData); err != nil {
			return 0, err
		}
		bytesWritten += 1 + len(af.TransportPrivateData)
	}

	if af.HasAdaptationExtensionField {
		if n, err = af.AdaptationExtensionField.write(w, bb); err != nil {
			return 0, err
		}
		bytesWritten += n
	}

	if af.StuffingLength > 0 {
		if n, err = writeStuffing(w, bb, int(af.StuffingLength)); err != nil {
			return 0, err
		}
		bytesWritten += n
	}
	return
}

func (afe *PacketAdaptationExtensionField) calcLength() (length uint8) {
	length++
	length += 2 * b2u(afe.HasLegalTimeWindow)
	length += 3 * b2u(afe.HasPiecewiseRate)
	length += ptsOrDTSByteLength * b2u(afe.HasSeamlessSplice)
	return length
}

func (afe *PacketAdaptationExtensionField) write(w *astikit.BitsWriter, bb *[8]byte) (bytesWritten int, err error) {
	bb[0] = afe.calcLength()
	bb[1] = b2u(afe.HasLegalTimeWindow) << 7
	bb[1] |= b2u(afe.HasPiecewiseRate) << 6
	bb[1] |= b2u(afe.HasSeamlessSplice) << 5
	bb[1] |= 0x1f
	bytesWritten += 2

	if afe.HasLegalTimeWindow {
		i := bytesWritten
		bb[i] = b2u(afe.LegalTimeWindowIsValid) << 7
		bb[i] |= uint8(afe.LegalTimeWindowOffset >> 8)
		bb[i+1] = uint8(afe.LegalTimeWindowOffset)
		bytesWritten += 2
	}

	if afe.HasPiecewiseRate {
		i := bytesWritten
		bb[i] = 0xc0
		bb[i] |= uint8(afe.PiecewiseRate >> 16)
		bb[i+1] = uint8(afe.PiecewiseRate >> 8)
		bb[i+2] = uint8(afe.PiecewiseRate)
		bytesWritten += 3
	}

	if err = w.Write(bb[:bytesWritten]); err != nil {
		return 0, err
	}

	if afe.HasSeamlessSplice {
		var n int
		if n, err = writePTSOrDTS(w, bb, afe.SpliceType, afe.DTSNextAccessUnit); err != nil {
			return 0, err
		}
		bytesWritten += n
	}
	return
}

// newStuffingAdaptationField returns an adaptation field that takes exactly bytesToStuff bytes
func newStuffingAdaptationField(bytesToStuff int) *PacketAdaptationField {
	if bytesToStuff == 1 {
		return &PacketAdaptationField{
			IsOneByteStuffing: true,
		}
	}

	return &PacketAdaptationField{
		// one byte for length and one for flags
		StuffingLength: uint8(bytesToStuff - 2),
	}
}

// writeStuffing writes n 0xff bytes
func writeStuffing(w *astikit.BitsWriter, bb *[8]byte, n int) (int, error) {
	binary.LittleEndian.PutUint64(bb[:], ^uint64(0))
	for left := n; left > 0; left -= 8 {
		c := left
		if c > 8 {
			c = 8
		}
		if err := w.Write(bb[:c]); err != nil {
			return 0, err
		}
	}
	return n, nil
}

func b2u(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}
