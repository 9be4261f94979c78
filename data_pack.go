package astimpeg

import (
	"fmt"

	"github.com/asticode/go-astikit"
)

// Start codes
const (
	startCodeEnd          = 0xb9
	startCodePack         = 0xba
	startCodeSystemHeader = 0xbb
)

const (
	packHeaderLengthMPEG1 = 12
	packHeaderLengthMPEG2 = 14
	systemHeaderLength    = 12 // without streams
	maxPackStuffingLength = 7
)

// Defaults used by the program stream muxer
const (
	defaultProgramMuxRate = 6106  // In units of 50 bytes/s
	defaultRateBound      = 26234 // In units of 50 bytes/s
)

// PackHeader represents a program stream pack header
// Chapter: 2.5.3.3 | ISO/IEC 13818-1
type PackHeader struct {
	MPEG1          bool           // Set when the pack header follows the ISO/IEC 11172-1 layout
	ProgramMuxRate uint32         // In units of 50 bytes/s
	SCR            ClockReference // System clock reference, the extension is always 0 for MPEG-1
	StuffingLength uint8

	InvalidMarkerBits bool // Set when at least one marker bit read as 0
}

// parse parses a pack header starting at its start code and returns the number of bytes it takes
func (h *PackHeader) parse(c *cursor) (n int, err error) {
	start, markers := c.offset(), c.markers
	if code := c.readUint32(); code != 0x100|startCodePack {
		if err = c.err(); err == nil {
			err = ErrInvalidStartCode
		}
		return
	}

	// MPEG-1 packs start with '0010', MPEG-2 ones with '01'
	h.MPEG1 = c.peekUint8()>>6 != 0b01
	if h.MPEG1 {
		c.readBits(4)
		h.SCR = newClockReference(c.readTimestamp(), 0)
		c.marker()
		h.ProgramMuxRate = uint32(c.readBits(22))
		c.marker()
		h.StuffingLength = 0
	} else {
		c.readBits(2)
		base := c.readTimestamp()
		h.SCR = newClockReference(base, int64(c.readBits(9)))
		c.marker()
		h.ProgramMuxRate = uint32(c.readBits(22))
		c.marker()
		c.marker()
		c.readBits(5)
		h.StuffingLength = uint8(c.readBits(3))
		c.skip(int(h.StuffingLength))
	}
	if err = c.err(); err != nil {
		return
	}
	h.InvalidMarkerBits = c.markers > markers
	n = c.offset() - start
	return
}

// size returns the number of bytes write produces
func (h *PackHeader) size() int {
	return packHeaderLengthMPEG2 + int(h.StuffingLength&maxPackStuffingLength)
}

// write writes an MPEG-2 pack header
func (h *PackHeader) write(w *astikit.BitsWriter) (int, error) {
	b := astikit.NewBitsWriterBatch(w)

	base := uint64(h.SCR.Base) & timestampMask
	b.Write(uint32(0x100 | startCodePack))
	b.WriteN(uint8(0b01), 2)
	b.WriteN(uint8(base>>30), 3)
	b.Write(true)
	b.WriteN(uint16(base>>15&0x7fff), 15)
	b.Write(true)
	b.WriteN(uint16(base&0x7fff), 15)
	b.Write(true)
	b.WriteN(uint16(h.SCR.Extension&0x1ff), 9)
	b.Write(true)
	b.WriteN(h.ProgramMuxRate, 22)
	b.Write(true)
	b.Write(true)
	b.WriteN(uint8(0x1f), 5)
	b.WriteN(h.StuffingLength&maxPackStuffingLength, 3)
	for i := uint8(0); i < h.StuffingLength&maxPackStuffingLength; i++ {
		b.Write(uint8(0xff))
	}

	if err := b.Err(); err != nil {
		return 0, fmt.Errorf("astimpeg: writing pack header failed: %w", err)
	}
	return h.size(), nil
}

// SystemHeader represents a program stream system header
// Chapter: 2.5.3.5 | ISO/IEC 13818-1
type SystemHeader struct {
	AudioBound                uint8
	CSPSFlag                  bool
	FixedFlag                 bool
	PacketRateRestrictionFlag bool
	RateBound                 uint32 // In units of 50 bytes/s
	Streams                   []*SystemHeaderStream
	SystemAudioLockFlag       bool
	SystemVideoLockFlag       bool
	VideoBound                uint8

	InvalidMarkerBits bool // Set when at least one marker bit read as 0
}

// SystemHeaderStream represents a stream entry of a system header
type SystemHeaderStream struct {
	PSTDBufferBoundScale uint8  // 0 means units of 128 bytes, 1 units of 1024 bytes
	PSTDBufferSizeBound  uint16 // In units of PSTDBufferBoundScale
	StreamID             uint8
}

// parse parses a system header starting at its start code and returns the number of bytes it takes
func (h *SystemHeader) parse(c *cursor) (n int, err error) {
	start, markers := c.offset(), c.markers
	if code := c.readUint32(); code != 0x100|startCodeSystemHeader {
		if err = c.err(); err == nil {
			err = ErrInvalidStartCode
		}
		return
	}
	headerLength := int(c.readUint16())
	end := c.offset() + headerLength

	c.marker()
	h.RateBound = uint32(c.readBits(22))
	c.marker()
	h.AudioBound = uint8(c.readBits(6))
	h.FixedFlag = c.readBit()
	h.CSPSFlag = c.readBit()
	h.SystemAudioLockFlag = c.readBit()
	h.SystemVideoLockFlag = c.readBit()
	c.marker()
	h.VideoBound = uint8(c.readBits(5))
	h.PacketRateRestrictionFlag = c.readBit()
	c.readBits(7)

	h.Streams = h.Streams[:0]
	for c.err() == nil && c.offset()+3 <= end && c.peekUint8()&0x80 > 0 {
		s := &SystemHeaderStream{StreamID: c.readUint8()}
		c.readBits(2)
		s.PSTDBufferBoundScale = uint8(c.readBits(1))
		s.PSTDBufferSizeBound = uint16(c.readBits(13))
		h.Streams = append(h.Streams, s)
	}
	if err = c.err(); err != nil {
		return
	}

	// Stream extension entries aren't decoded
	c.seek(end)
	if err = c.err(); err != nil {
		return
	}
	h.InvalidMarkerBits = c.markers > markers
	n = c.offset() - start
	return
}

func (h *SystemHeader) size() int {
	return systemHeaderLength + 3*len(h.Streams)
}

func (h *SystemHeader) write(w *astikit.BitsWriter) (int, error) {
	b := astikit.NewBitsWriterBatch(w)

	b.Write(uint32(0x100 | startCodeSystemHeader))
	b.Write(uint16(h.size() - pesHeaderLength))
	b.Write(true)
	b.WriteN(h.RateBound, 22)
	b.Write(true)
	b.WriteN(h.AudioBound, 6)
	b.Write(h.FixedFlag)
	b.Write(h.CSPSFlag)
	b.Write(h.SystemAudioLockFlag)
	b.Write(h.SystemVideoLockFlag)
	b.Write(true)
	b.WriteN(h.VideoBound, 5)
	b.Write(h.PacketRateRestrictionFlag)
	b.WriteN(uint8(0x7f), 7)

	for _, s := range h.Streams {
		b.Write(s.StreamID)
		b.WriteN(uint8(0b11), 2)
		b.WriteN(s.PSTDBufferBoundScale, 1)
		b.WriteN(s.PSTDBufferSizeBound, 13)
	}

	if err := b.Err(); err != nil {
		return 0, fmt.Errorf("astimpeg: writing system header failed: %w", err)
	}
	return h.size(), nil
}
