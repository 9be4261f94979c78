package astimpeg

const psdAccessUnitLength = 18

// ProgramStreamDirectory represents a program stream directory
// Chapter: 2.5.5 | ISO/IEC 13818-1
type ProgramStreamDirectory struct {
	AccessUnits             []*PSDAccessUnit
	NextDirectoryOffset     uint64
	PreviousDirectoryOffset uint64
}

// PSDAccessUnit represents an access unit entry of a program stream directory
type PSDAccessUnit struct {
	BytesToRead               uint32
	CodingParametersIndicator uint8
	IntraCodedIndicator       bool
	PacketStreamID            uint8
	PESHeaderPositionOffset   int64 // Relative to the directory packet
	PTS                       int64
	ReferenceOffset           uint16
}

// readOffset45 reads a 45 bits offset split in three 15 bits parts each followed by a marker bit
func readOffset45(c *cursor) (v uint64) {
	for i := 0; i < 3; i++ {
		v = v<<15 | c.readBits(15)
		c.marker()
	}
	return
}

// parse parses a directory packet starting at its start code
func (d *ProgramStreamDirectory) parse(c *cursor) (n int, err error) {
	start := c.offset()
	var h PESHeader
	if _, err = h.parse(c); err != nil {
		return
	}
	end := c.offset() + int(h.PacketLength)

	count := int(c.readBits(15))
	c.marker()
	d.PreviousDirectoryOffset = readOffset45(c)
	d.NextDirectoryOffset = readOffset45(c)

	d.AccessUnits = d.AccessUnits[:0]
	for i := 0; i < count && c.err() == nil && c.offset()+psdAccessUnitLength <= end; i++ {
		au := &PSDAccessUnit{PacketStreamID: c.readUint8()}

		negative := c.readBit()
		v := c.readBits(14)
		c.marker()
		v = v<<15 | c.readBits(15)
		c.marker()
		v = v<<15 | c.readBits(15)
		c.marker()
		au.PESHeaderPositionOffset = int64(v)
		if negative {
			au.PESHeaderPositionOffset = -au.PESHeaderPositionOffset
		}

		au.ReferenceOffset = uint16(c.readBits(16))
		c.marker()
		c.readBits(3)
		au.PTS = c.readTimestamp()

		btr := uint32(c.readBits(15))
		c.marker()
		au.BytesToRead = btr<<8 | uint32(c.readBits(8))
		c.marker()
		au.IntraCodedIndicator = c.readBit()
		au.CodingParametersIndicator = uint8(c.readBits(2))
		c.readBits(4)

		d.AccessUnits = append(d.AccessUnits, au)
	}
	if err = c.err(); err != nil {
		return
	}

	c.seek(end)
	if err = c.err(); err != nil {
		return
	}
	n = c.offset() - start
	return
}
