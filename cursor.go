package astimpeg

// cursor reads bytes and bits out of one or two discontiguous byte ranges addressed as a single sequence.
// The first read past the end records ErrNeedMoreData and every later read returns zero values.
type cursor struct {
	a, b    []byte
	off     int
	bit     uint8 // bits already consumed in the byte at off
	lastErr error
	markers int // marker bits that read as 0
	strict  bool
}

func newCursor(a, b []byte) *cursor {
	return &cursor{a: a, b: b}
}

func (c *cursor) len() int {
	return len(c.a) + len(c.b)
}

func (c *cursor) offset() int {
	return c.off
}

func (c *cursor) remaining() int {
	return c.len() - c.off
}

// err returns ErrNeedMoreData after a short read, and ErrInvalidMarkerBit when a strict cursor met a cleared
// marker bit
func (c *cursor) err() error {
	if c.lastErr != nil {
		return c.lastErr
	}
	if c.strict && c.markers > 0 {
		return ErrInvalidMarkerBit
	}
	return nil
}

func (c *cursor) at(i int) byte {
	if i < len(c.a) {
		return c.a[i]
	}
	return c.b[i-len(c.a)]
}

func (c *cursor) ensure(n int) bool {
	if c.lastErr != nil {
		return false
	}
	if n < 0 || c.off+n > c.len() {
		c.lastErr = ErrNeedMoreData
		return false
	}
	return true
}

// align drops the unread bits of a partially consumed byte
func (c *cursor) align() {
	if c.bit > 0 {
		c.bit = 0
		c.off++
	}
}

func (c *cursor) peekUint8() uint8 {
	c.align()
	if !c.ensure(1) {
		return 0
	}
	return c.at(c.off)
}

func (c *cursor) readUint8() uint8 {
	c.align()
	if !c.ensure(1) {
		return 0
	}
	v := c.at(c.off)
	c.off++
	return v
}

func (c *cursor) readUint16() uint16 {
	c.align()
	if !c.ensure(2) {
		return 0
	}
	v := uint16(c.at(c.off))<<8 | uint16(c.at(c.off+1))
	c.off += 2
	return v
}

func (c *cursor) readUint24() uint32 {
	c.align()
	if !c.ensure(3) {
		return 0
	}
	v := uint32(c.at(c.off))<<16 | uint32(c.at(c.off+1))<<8 | uint32(c.at(c.off+2))
	c.off += 3
	return v
}

func (c *cursor) readUint32() uint32 {
	c.align()
	if !c.ensure(4) {
		return 0
	}
	v := uint32(c.at(c.off))<<24 | uint32(c.at(c.off+1))<<16 | uint32(c.at(c.off+2))<<8 | uint32(c.at(c.off+3))
	c.off += 4
	return v
}

// readBytes doesn't copy unless the requested range straddles both slices
func (c *cursor) readBytes(n int) []byte {
	c.align()
	if !c.ensure(n) {
		return nil
	}
	start := c.off
	c.off += n
	switch {
	case start+n <= len(c.a):
		return c.a[start : start+n]
	case start >= len(c.a):
		return c.b[start-len(c.a) : start-len(c.a)+n]
	}
	bs := make([]byte, 0, n)
	bs = append(bs, c.a[start:]...)
	return append(bs, c.b[:start+n-len(c.a)]...)
}

func (c *cursor) skip(n int) {
	c.align()
	if !c.ensure(n) {
		return
	}
	c.off += n
}

func (c *cursor) seek(offset int) {
	c.bit = 0
	if offset < 0 || offset > c.len() {
		if c.lastErr == nil {
			c.lastErr = ErrNeedMoreData
		}
		return
	}
	c.off = offset
}

// readBits reads n bits, MSB first, n <= 64
func (c *cursor) readBits(n int) (v uint64) {
	for n > 0 {
		if c.lastErr != nil {
			return 0
		}
		if c.off >= c.len() {
			c.lastErr = ErrNeedMoreData
			return 0
		}
		avail := 8 - int(c.bit)
		take := avail
		if n < take {
			take = n
		}
		b := c.at(c.off)
		v = v<<uint(take) | uint64(b>>uint(avail-take))&(1<<uint(take)-1)
		c.bit += uint8(take)
		n -= take
		if c.bit == 8 {
			c.bit = 0
			c.off++
		}
	}
	return
}

func (c *cursor) readBit() bool {
	return c.readBits(1) == 1
}

func (c *cursor) marker() {
	if c.readBits(1) == 0 && c.lastErr == nil {
		c.markers++
	}
}

// readTimestamp reads a 33 bits value split as 3, 15 and 15 bits, each part followed by a marker bit
func (c *cursor) readTimestamp() int64 {
	v := c.readBits(3) << 30
	c.marker()
	v |= c.readBits(15) << 15
	c.marker()
	v |= c.readBits(15)
	c.marker()
	return int64(v)
}
