package astimpeg

import (
	"encoding/binary"
	"fmt"

	"github.com/asticode/go-astikit"
)

// ProgramStreamMap represents a program stream map
// Chapter: 2.5.4 | ISO/IEC 13818-1
type ProgramStreamMap struct {
	CRC32                    uint32
	CurrentNextIndicator     bool
	ElementaryStreams        []*PSMElementaryStream
	ProgramStreamDescriptors []Descriptor
	ProgramStreamInfo        []byte
	SingleExtensionStream    bool
	Version                  uint8
}

// PSMElementaryStream represents an elementary stream entry of a program stream map
type PSMElementaryStream struct {
	Descriptors        []Descriptor
	ElementaryStreamID uint8
	Info               []byte
	StreamType         StreamType
}

// StreamType returns the stream type mapped to the stream id
func (m *ProgramStreamMap) StreamType(streamID uint8) (StreamType, bool) {
	for _, es := range m.ElementaryStreams {
		if es.ElementaryStreamID == streamID {
			return es.StreamType, true
		}
	}
	return 0, false
}

// parseProgramStreamMap parses a whole PSM packet, start code included. The CRC covers every byte before it.
func parseProgramStreamMap(bs []byte) (m *ProgramStreamMap, err error) {
	if len(bs) < pesHeaderLength+10 {
		err = fmt.Errorf("astimpeg: PSM packet is %d bytes long: %w", len(bs), ErrInvalidData)
		return
	}
	if packetLength := int(binary.BigEndian.Uint16(bs[4:])); packetLength+pesHeaderLength != len(bs) {
		err = fmt.Errorf("astimpeg: PSM packet length %d doesn't match %d bytes: %w", packetLength, len(bs), ErrInvalidData)
		return
	}

	m = &ProgramStreamMap{CRC32: binary.BigEndian.Uint32(bs[len(bs)-crc32Size:])}
	if crc32 := computeCRC32(bs[:len(bs)-crc32Size]); crc32 != m.CRC32 {
		err = fmt.Errorf("astimpeg: PSM CRC32 %x != computed CRC32 %x: %w", m.CRC32, crc32, ErrCRC32Mismatch)
		return
	}

	offsetEnd := len(bs) - crc32Size
	i := astikit.NewBytesIterator(bs)
	i.Seek(pesHeaderLength)

	var b []byte
	if b, err = nextBytes(i, 4); err != nil {
		return
	}
	m.CurrentNextIndicator = b[0]&0x80 > 0
	m.SingleExtensionStream = b[0]&0x40 > 0
	m.Version = b[0] & 0x1f

	infoLength := int(binary.BigEndian.Uint16(b[2:]))
	if i.Offset()+infoLength+2 > offsetEnd {
		err = fmt.Errorf("astimpeg: PSM info length %d overflows packet: %w", infoLength, ErrInvalidData)
		return
	}
	if m.ProgramStreamInfo, err = i.NextBytes(infoLength); err != nil {
		err = fmt.Errorf("astimpeg: fetching next bytes failed: %w", err)
		return
	}
	m.ProgramStreamDescriptors, _ = ParseDescriptors(m.ProgramStreamInfo)

	if b, err = nextBytes(i, 2); err != nil {
		return
	}
	mapEnd := i.Offset() + int(binary.BigEndian.Uint16(b))
	if mapEnd > offsetEnd {
		err = fmt.Errorf("astimpeg: PSM elementary stream map overflows packet: %w", ErrInvalidData)
		return
	}

	for i.Offset()+4 <= mapEnd {
		if b, err = nextBytes(i, 4); err != nil {
			return
		}
		es := &PSMElementaryStream{
			StreamType:         StreamType(b[0]),
			ElementaryStreamID: b[1],
		}
		esInfoLength := int(binary.BigEndian.Uint16(b[2:]))
		if i.Offset()+esInfoLength > mapEnd {
			err = fmt.Errorf("astimpeg: PSM ES info length %d overflows map: %w", esInfoLength, ErrInvalidData)
			return
		}
		if es.Info, err = i.NextBytes(esInfoLength); err != nil {
			err = fmt.Errorf("astimpeg: fetching next bytes failed: %w", err)
			return
		}
		es.Descriptors, _ = ParseDescriptors(es.Info)
		m.ElementaryStreams = append(m.ElementaryStreams, es)
	}
	return
}

func (m *ProgramStreamMap) elementaryStreamMapLength() (l int) {
	for _, es := range m.ElementaryStreams {
		l += 4 + len(es.Info)
	}
	return
}

// size returns the number of bytes write produces
func (m *ProgramStreamMap) size() int {
	return pesHeaderLength + 6 + len(m.ProgramStreamInfo) + m.elementaryStreamMapLength() + crc32Size
}

// write writes the PSM packet followed by its CRC32
func (m *ProgramStreamMap) write(w *astikit.BitsWriter) (int, error) {
	size := m.size()
	if size-pesHeaderLength > maxPESPacketLength {
		return 0, fmt.Errorf("astimpeg: PSM is %d bytes long: %w", size, ErrCapacityExceeded)
	}

	crc32 := crc32Seed
	w.SetWriteCallback(func(bs []byte) {
		crc32 = updateCRC32(crc32, bs)
	})
	defer w.SetWriteCallback(nil)

	b := astikit.NewBitsWriterBatch(w)
	b.Write(uint32(0x100 | StreamIDProgramStreamMap))
	b.Write(uint16(size - pesHeaderLength))
	b.Write(m.CurrentNextIndicator)
	b.Write(m.SingleExtensionStream)
	b.Write(true)
	b.WriteN(m.Version, 5)
	b.WriteN(uint8(0x7f), 7)
	b.Write(true)
	b.Write(uint16(len(m.ProgramStreamInfo)))
	b.Write(m.ProgramStreamInfo)
	b.Write(uint16(m.elementaryStreamMapLength()))
	for _, es := range m.ElementaryStreams {
		b.Write(uint8(es.StreamType))
		b.Write(es.ElementaryStreamID)
		b.Write(uint16(len(es.Info)))
		b.Write(es.Info)
	}
	if err := b.Err(); err != nil {
		return 0, fmt.Errorf("astimpeg: writing PSM failed: %w", err)
	}

	w.SetWriteCallback(nil)
	b.Write(crc32)
	if err := b.Err(); err != nil {
		return 0, fmt.Errorf("astimpeg: writing PSM CRC32 failed: %w", err)
	}
	return size, nil
}
