package astimpeg

const crc32Seed = uint32(0xffffffff)

var crc32Table = newCRC32Table(0x04c11db7)

func newCRC32Table(poly uint32) (t [256]uint32) {
	for i := range t {
		c := uint32(i) << 24
		for j := 0; j < 8; j++ {
			if c&0x80000000 > 0 {
				c = c<<1 ^ poly
			} else {
				c <<= 1
			}
		}
		t[i] = c
	}
	return
}

// CRC32 updates the MPEG-2 CRC (polynomial 0x04C11DB7, MSB first, no final xor) seeded with seed.
// PSI sections and program stream maps are checked with a 0xffffffff seed, and a section followed by its own CRC
// yields 0.
func CRC32(seed uint32, bs []byte) uint32 {
	return updateCRC32(seed, bs)
}

// computeCRC32 computes a CRC32
func computeCRC32(bs []byte) uint32 {
	return updateCRC32(crc32Seed, bs)
}

func updateCRC32(crc32 uint32, bs []byte) uint32 {
	for _, b := range bs {
		crc32 = crc32<<8 ^ crc32Table[byte(crc32>>24)^b]
	}
	return crc32
}
