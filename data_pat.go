package astimpeg

import (
	"encoding/binary"
	"fmt"

	"github.com/asticode/go-astikit"
)

const patSectionEntryBytesSize = 4 // 16 bits + 3 reserved + 13 bits = 32 bits

// PATData represents a PAT data
// https://en.wikipedia.org/wiki/Program-specific_information
type PATData struct {
	Programs          []*PATProgram
	TransportStreamID uint16
}

// PATProgram represents a PAT program
type PATProgram struct {
	ProgramMapID  uint16 // The packet identifier that contains the associated PMT
	ProgramNumber uint16 // Relates to the Table ID extension in the associated PMT. A value of 0 is reserved for a NIT packet identifier.
}

// parsePATSection parses a PAT section
func parsePATSection(i *astikit.BytesIterator, offsetSectionsEnd int, tableIDExtension uint16) (d *PATData, err error) {
	d = &PATData{TransportStreamID: tableIDExtension}

	for i.Offset() < offsetSectionsEnd {
		var bs []byte
		if bs, err = nextBytes(i, patSectionEntryBytesSize); err != nil {
			return
		}
		d.Programs = append(d.Programs, &PATProgram{
			ProgramMapID:  binary.BigEndian.Uint16(bs[2:]) & 0x1fff,
			ProgramNumber: binary.BigEndian.Uint16(bs),
		})
	}
	return
}

func (d *PATData) calcPATSectionLength() int {
	return patSectionEntryBytesSize * len(d.Programs)
}

func (d *PATData) writePATSection(w *astikit.BitsWriter) (int, error) {
	b := astikit.NewBitsWriterBatch(w)

	for _, p := range d.Programs {
		b.Write(p.ProgramNumber)
		b.WriteN(uint8(0xff), 3)
		b.WriteN(p.ProgramMapID, 13)
	}

	if err := b.Err(); err != nil {
		return 0, fmt.Errorf("astimpeg: writing PAT section failed: %w", err)
	}
	return d.calcPATSectionLength(), nil
}
