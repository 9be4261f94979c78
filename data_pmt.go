package astimpeg

import (
	"encoding/binary"
	"fmt"

	"github.com/asticode/go-astikit"
)

// PMTData represents a PMT data
// https://en.wikipedia.org/wiki/Program-specific_information
type PMTData struct {
	ElementaryStreams  []*PMTElementaryStream
	PCRPID             uint16       // The packet identifier that contains the program clock reference used to improve the random access accuracy of the stream's timing that is derived from the program timestamp. If this is unused. then it is set to 0x1FFF (all bits on).
	ProgramDescriptors []Descriptor // Program descriptors, decoded from ProgramInfo
	ProgramInfo        []byte       // Raw program descriptors
	ProgramNumber      uint16
}

// PMTElementaryStream represents a PMT elementary stream
type PMTElementaryStream struct {
	Descriptors   []Descriptor // Elementary stream descriptors, decoded from ESInfo
	ElementaryPID uint16       // The packet identifier that contains the stream type data.
	ESInfo        []byte       // Raw elementary stream descriptors
	StreamType    StreamType   // This defines the structure of the data contained within the elementary packet identifier.
}

// parsePMTSection parses a PMT section
func parsePMTSection(i *astikit.BytesIterator, offsetSectionsEnd int, tableIDExtension uint16) (d *PMTData, err error) {
	d = &PMTData{ProgramNumber: tableIDExtension}

	var bs []byte
	if bs, err = nextBytes(i, 4); err != nil {
		return
	}
	d.PCRPID = binary.BigEndian.Uint16(bs) & 0x1fff

	// Program descriptors
	programInfoLength := int(binary.BigEndian.Uint16(bs[2:]) & 0xfff)
	if i.Offset()+programInfoLength > offsetSectionsEnd {
		err = fmt.Errorf("astimpeg: program info length %d overflows section: %w", programInfoLength, ErrInvalidData)
		return
	}
	if d.ProgramInfo, err = i.NextBytes(programInfoLength); err != nil {
		err = fmt.Errorf("astimpeg: fetching next bytes failed: %w", err)
		return
	}
	// Malformed descriptors don't invalidate the table, raw bytes stay available
	d.ProgramDescriptors, _ = ParseDescriptors(d.ProgramInfo)

	// Loop until end of section data is reached
	for i.Offset() < offsetSectionsEnd {
		if bs, err = nextBytes(i, 5); err != nil {
			return
		}
		e := &PMTElementaryStream{
			StreamType:    StreamType(bs[0]),
			ElementaryPID: binary.BigEndian.Uint16(bs[1:]) & 0x1fff,
		}

		esInfoLength := int(binary.BigEndian.Uint16(bs[3:]) & 0xfff)
		if i.Offset()+esInfoLength > offsetSectionsEnd {
			err = fmt.Errorf("astimpeg: ES info length %d overflows section: %w", esInfoLength, ErrInvalidData)
			return
		}
		if e.ESInfo, err = i.NextBytes(esInfoLength); err != nil {
			err = fmt.Errorf("astimpeg: fetching next bytes failed: %w", err)
			return
		}
		e.Descriptors, _ = ParseDescriptors(e.ESInfo)

		d.ElementaryStreams = append(d.ElementaryStreams, e)
	}
	return
}

func (d *PMTData) calcPMTSectionLength() (ret int) {
	ret = 4 + len(d.ProgramInfo)
	for _, es := range d.ElementaryStreams {
		ret += 5 + len(es.ESInfo)
	}
	return
}

func (d *PMTData) writePMTSection(w *astikit.BitsWriter) (int, error) {
	b := astikit.NewBitsWriterBatch(w)

	b.WriteN(uint8(0xff), 3)
	b.WriteN(d.PCRPID, 13)
	b.WriteN(uint8(0xff), 4)
	b.WriteN(uint16(len(d.ProgramInfo)), 12)
	b.Write(d.ProgramInfo)

	for _, es := range d.ElementaryStreams {
		b.Write(uint8(es.StreamType))
		b.WriteN(uint8(0xff), 3)
		b.WriteN(es.ElementaryPID, 13)
		b.WriteN(uint8(0xff), 4)
		b.WriteN(uint16(len(es.ESInfo)), 12)
		b.Write(es.ESInfo)
	}

	if err := b.Err(); err != nil {
		return 0, fmt.Errorf("astimpeg: writing PMT section failed: %w", err)
	}
	return d.calcPMTSectionLength(), nil
}
