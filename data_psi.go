package astimpeg

import (
	"encoding/binary"
	"fmt"

	"github.com/asticode/go-astikit"
)

// PSI table types
const (
	PSITableTypeNull    = "Null"
	PSITableTypePAT     = "PAT"
	PSITableTypePMT     = "PMT"
	PSITableTypeSDT     = "SDT"
	PSITableTypeUnknown = "Unknown"
)

type PSITableID uint8

const (
	PSITableIDPAT PSITableID = 0x00
	PSITableIDPMT PSITableID = 0x02

	PSITableIDSDTVariant1 PSITableID = 0x42 // actual transport stream
	PSITableIDSDTVariant2 PSITableID = 0x46 // other transport stream

	PSITableIDNull PSITableID = 0xff
)

const (
	// maxSectionLength is the largest section_length allowed for PAT, PMT and SDT sections
	maxSectionLength = 1021
	psiHeaderSize    = 3
	psiSyntaxSize    = 5
	crc32Size        = 4
)

// PSISection represents a PSI section
// https://en.wikipedia.org/wiki/Program-specific_information
type PSISection struct {
	Syntax *PSISectionSyntax
	CRC32  uint32 // A checksum of the entire table excluding the pointer field, pointer filler bytes and the trailing CRC32.
	Header PSISectionHeader
}

// PSISectionHeader represents a PSI section header
type PSISectionHeader struct {
	SectionLength          uint16     // The number of bytes that follow for the syntax section (with CRC value) and/or table data. These bytes must not exceed a value of 1021.
	TableID                PSITableID // Table Identifier, that defines the structure of the syntax section and other contained data.
	SectionSyntaxIndicator bool       // A flag that indicates if the syntax section follows the section length. The PAT, PMT, and SDT all set this to 1.
	PrivateBit             bool       // The PAT and PMT set this to 0. The SDT sets this to 1.
}

// PSISectionSyntax represents a PSI section syntax
type PSISectionSyntax struct {
	Data   *PSISectionSyntaxData
	Header PSISectionSyntaxHeader
}

// PSISectionSyntaxHeader represents a PSI section syntax header
type PSISectionSyntaxHeader struct {
	CurrentNextIndicator bool   // Indicates if data is current in effect or is for future use. If the bit is flagged on, then the data is to be used at the present moment.
	LastSectionNumber    uint8  // This indicates which table is the last table in the sequence of tables.
	SectionNumber        uint8  // This is an index indicating which table this is in a related sequence of tables. The first table starts from 0.
	VersionNumber        uint8  // Syntax version number. Incremented when data is changed and wrapped around on overflow for values greater than 32.
	TableIDExtension     uint16 // Informational only identifier. The PAT uses this for the transport stream identifier and the PMT uses this for the Program number.
}

// PSISectionSyntaxData represents a PSI section syntax data
type PSISectionSyntaxData struct {
	PAT *PATData
	PMT *PMTData
	SDT *SDTData
}

// ParsePSISection parses exactly one section, table_id first. The CRC is checked before the content is decoded.
func ParsePSISection(bs []byte) (s *PSISection, err error) {
	s = &PSISection{}
	i := astikit.NewBytesIterator(bs)

	// Parse header
	if err = s.Header.parsePSISectionHeader(i); err != nil {
		err = fmt.Errorf("astimpeg: parsing PSI section header failed: %w", err)
		return
	}
	if s.Header.TableID == PSITableIDNull {
		return
	}

	if s.Header.SectionLength > maxSectionLength {
		err = fmt.Errorf("astimpeg: section length %d: %w", s.Header.SectionLength, ErrSectionTooLong)
		return
	}
	offsetEnd := psiHeaderSize + int(s.Header.SectionLength)
	if offsetEnd > len(bs) {
		err = fmt.Errorf("astimpeg: section needs %d bytes, got %d: %w", offsetEnd, len(bs), ErrNeedMoreData)
		return
	}
	if !s.Header.SectionSyntaxIndicator {
		return
	}
	if s.Header.SectionLength < psiSyntaxSize+crc32Size {
		err = fmt.Errorf("astimpeg: section length %d is too short: %w", s.Header.SectionLength, ErrInvalidData)
		return
	}

	// Check CRC32 first, nothing from a corrupted section may be trusted
	offsetSectionsEnd := offsetEnd - crc32Size
	s.CRC32 = binary.BigEndian.Uint32(bs[offsetSectionsEnd:])
	if crc32 := computeCRC32(bs[:offsetSectionsEnd]); crc32 != s.CRC32 {
		err = fmt.Errorf("astimpeg: table CRC32 %x != computed CRC32 %x: %w", s.CRC32, crc32, ErrCRC32Mismatch)
		return
	}

	// Parse syntax
	if s.Syntax, err = parsePSISectionSyntax(i, &s.Header, offsetSectionsEnd); err != nil {
		err = fmt.Errorf("astimpeg: parsing PSI section syntax failed: %w", err)
		return
	}
	return
}

// parsePSISectionHeader parses a PSI section header
func (h *PSISectionHeader) parsePSISectionHeader(i *astikit.BytesIterator) (err error) {
	// Get next byte
	var b byte
	if b, err = i.NextByte(); err != nil {
		err = fmt.Errorf("astimpeg: fetching next byte failed: %w", err)
		return
	}

	// Table ID
	h.TableID = PSITableID(b)

	// Stuffing
	if h.TableID == PSITableIDNull {
		return
	}

	// Get next bytes
	var bs []byte
	if bs, err = nextBytes(i, 2); err != nil {
		return
	}

	val := binary.BigEndian.Uint16(bs)
	h.SectionSyntaxIndicator = val&0x8000 > 0
	h.PrivateBit = val&0x4000 > 0
	h.SectionLength = val & 0xfff
	return
}

// Type returns the psi table type based on the table id
func (t PSITableID) Type() string {
	switch t {
	case PSITableIDNull:
		return PSITableTypeNull
	case PSITableIDPAT:
		return PSITableTypePAT
	case PSITableIDPMT:
		return PSITableTypePMT
	case PSITableIDSDTVariant1, PSITableIDSDTVariant2:
		return PSITableTypeSDT
	default:
		return PSITableTypeUnknown
	}
}

// parsePSISectionSyntax parses a PSI section syntax
func parsePSISectionSyntax(i *astikit.BytesIterator, h *PSISectionHeader, offsetSectionsEnd int) (s *PSISectionSyntax, err error) {
	s = &PSISectionSyntax{}

	if err = s.Header.parsePSISectionSyntaxHeader(i); err != nil {
		err = fmt.Errorf("astimpeg: parsing PSI section syntax header failed: %w", err)
		return
	}

	if s.Data, err = parsePSISectionSyntaxData(i, h, &s.Header, offsetSectionsEnd); err != nil {
		err = fmt.Errorf("astimpeg: parsing PSI section syntax data failed: %w", err)
		return
	}
	return
}

// parsePSISectionSyntaxHeader parses a PSI section syntax header
func (h *PSISectionSyntaxHeader) parsePSISectionSyntaxHeader(i *astikit.BytesIterator) (err error) {
	var bs []byte
	if bs, err = nextBytes(i, psiSyntaxSize); err != nil {
		return
	}

	h.TableIDExtension = binary.BigEndian.Uint16(bs)
	h.VersionNumber = bs[2] & 0x3f >> 1
	h.CurrentNextIndicator = bs[2]&0x1 > 0
	h.SectionNumber = bs[3]
	h.LastSectionNumber = bs[4]
	return
}

// parsePSISectionSyntaxData parses a PSI section data
func parsePSISectionSyntaxData(i *astikit.BytesIterator, h *PSISectionHeader, sh *PSISectionSyntaxHeader, offsetSectionsEnd int) (d *PSISectionSyntaxData, err error) {
	d = &PSISectionSyntaxData{}

	switch h.TableID {
	case PSITableIDPAT:
		if d.PAT, err = parsePATSection(i, offsetSectionsEnd, sh.TableIDExtension); err != nil {
			err = fmt.Errorf("astimpeg: parsing PAT section failed: %w", err)
			return
		}
	case PSITableIDPMT:
		if d.PMT, err = parsePMTSection(i, offsetSectionsEnd, sh.TableIDExtension); err != nil {
			err = fmt.Errorf("astimpeg: parsing PMT section failed: %w", err)
			return
		}
	case PSITableIDSDTVariant1, PSITableIDSDTVariant2:
		if d.SDT, err = parseSDTSection(i, offsetSectionsEnd, sh.TableIDExtension); err != nil {
			err = fmt.Errorf("astimpeg: parsing SDT section failed: %w", err)
			return
		}
	}
	return
}

func (s *PSISection) calcPSISectionLength() (ret int) {
	ret = psiSyntaxSize + crc32Size
	switch s.Header.TableID {
	case PSITableIDPAT:
		ret += s.Syntax.Data.PAT.calcPATSectionLength()
	case PSITableIDPMT:
		ret += s.Syntax.Data.PMT.calcPMTSectionLength()
	case PSITableIDSDTVariant1, PSITableIDSDTVariant2:
		ret += s.Syntax.Data.SDT.calcSDTSectionLength()
	}
	return
}

// writePSISection writes the section followed by its CRC32
func (s *PSISection) writePSISection(w *astikit.BitsWriter) (int, error) {
	switch s.Header.TableID {
	case PSITableIDPAT, PSITableIDPMT, PSITableIDSDTVariant1, PSITableIDSDTVariant2:
	default:
		return 0, fmt.Errorf("astimpeg: writing table %s is not implemented: %w", s.Header.TableID.Type(), ErrInvalidArgument)
	}

	sectionLength := s.calcPSISectionLength()
	if sectionLength > maxSectionLength {
		return 0, fmt.Errorf("astimpeg: %s section length %d: %w", s.Header.TableID.Type(), sectionLength, ErrCapacityExceeded)
	}

	b := astikit.NewBitsWriterBatch(w)

	sectionCRC32 := crc32Seed
	w.SetWriteCallback(func(bs []byte) {
		sectionCRC32 = updateCRC32(sectionCRC32, bs)
	})
	defer w.SetWriteCallback(nil)

	b.Write(uint8(s.Header.TableID))
	b.Write(s.Header.SectionSyntaxIndicator)
	b.Write(s.Header.PrivateBit)
	b.WriteN(uint8(0xff), 2)
	b.WriteN(uint16(sectionLength), 12)
	if err := b.Err(); err != nil {
		return 0, err
	}

	if _, err := s.Syntax.Header.writePSISectionSyntaxHeader(w); err != nil {
		return 0, err
	}

	var err error
	switch s.Header.TableID {
	case PSITableIDPAT:
		_, err = s.Syntax.Data.PAT.writePATSection(w)
	case PSITableIDPMT:
		_, err = s.Syntax.Data.PMT.writePMTSection(w)
	default:
		_, err = s.Syntax.Data.SDT.writeSDTSection(w)
	}
	if err != nil {
		return 0, err
	}

	// The callback must not see the CRC itself
	w.SetWriteCallback(nil)
	b.Write(sectionCRC32)

	return psiHeaderSize + sectionLength, b.Err()
}

func (h *PSISectionSyntaxHeader) writePSISectionSyntaxHeader(w *astikit.BitsWriter) (int, error) {
	b := astikit.NewBitsWriterBatch(w)

	b.Write(h.TableIDExtension)
	b.WriteN(uint8(0xff), 2)
	b.WriteN(h.VersionNumber, 5)
	b.Write(h.CurrentNextIndicator)
	b.Write(h.SectionNumber)
	b.Write(h.LastSectionNumber)

	return psiSyntaxSize, b.Err()
}

// newPSISection wraps table data into a single current section
func newPSISection(tableID PSITableID, tableIDExtension uint16, version uint8, d *PSISectionSyntaxData) *PSISection {
	return &PSISection{
		Header: PSISectionHeader{
			TableID:                tableID,
			SectionSyntaxIndicator: true,
			PrivateBit:             tableID == PSITableIDSDTVariant1 || tableID == PSITableIDSDTVariant2,
		},
		Syntax: &PSISectionSyntax{
			Header: PSISectionSyntaxHeader{
				CurrentNextIndicator: true,
				TableIDExtension:     tableIDExtension,
				VersionNumber:        version & 0x1f,
			},
			Data: d,
		},
	}
}

// psiBuffer reassembles sections carried by the TS packets of one PID
type psiBuffer struct {
	buf     []byte
	started bool
}

// push appends a TS payload and calls fn for every complete section, table_id first
func (b *psiBuffer) push(payload []byte, payloadUnitStart bool, fn func(section []byte)) error {
	if !payloadUnitStart {
		if !b.started {
			return nil
		}
		b.buf = append(b.buf, payload...)
		return b.drain(fn)
	}

	if len(payload) == 0 {
		b.reset()
		return fmt.Errorf("astimpeg: pointer field is missing: %w", ErrInvalidData)
	}
	pointer := int(payload[0])
	if 1+pointer > len(payload) {
		b.reset()
		return fmt.Errorf("astimpeg: pointer field %d overflows payload: %w", pointer, ErrInvalidData)
	}

	// Bytes before the pointer target end the previous section
	var err error
	if b.started && pointer > 0 {
		b.buf = append(b.buf, payload[1:1+pointer]...)
		err = b.drain(fn)
	}

	b.buf = append(b.buf[:0], payload[1+pointer:]...)
	b.started = true
	if errDrain := b.drain(fn); errDrain != nil {
		err = errDrain
	}
	return err
}

func (b *psiBuffer) drain(fn func(section []byte)) (err error) {
	n := 0
	for b.started && len(b.buf)-n > 0 {
		bs := b.buf[n:]
		if PSITableID(bs[0]) == PSITableIDNull {
			b.reset()
			return
		}
		if len(bs) < psiHeaderSize {
			break
		}
		sectionLength := int(binary.BigEndian.Uint16(bs[1:]) & 0xfff)
		if sectionLength > maxSectionLength {
			b.reset()
			return fmt.Errorf("astimpeg: section length %d: %w", sectionLength, ErrSectionTooLong)
		}
		if len(bs) < psiHeaderSize+sectionLength {
			break
		}
		fn(bs[:psiHeaderSize+sectionLength])
		n += psiHeaderSize + sectionLength
	}
	if n > 0 && b.started {
		b.buf = append(b.buf[:0], b.buf[n:]...)
	}
	return
}

func (b *psiBuffer) reset() {
	b.buf = b.buf[:0]
	b.started = false
}
