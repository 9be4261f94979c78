package astimpeg

import "bytes"

// NAL unit types
const (
	h264NALUnitTypeIDR = 5
	h264NALUnitTypeAUD = 9

	h265NALUnitTypeIRAPStart = 16
	h265NALUnitTypeIRAPEnd   = 23
	h265NALUnitTypeAUD       = 35

	h266NALUnitTypeIRAPStart = 7 // IDR_W_RADL
	h266NALUnitTypeIRAPEnd   = 9 // CRA
	h266NALUnitTypeAUD       = 20
)

var startCode = []byte{0, 0, 1}

// Access unit delimiters prefixed with a 4 bytes start code
var (
	h264AccessUnitDelimiter = []byte{0, 0, 0, 1, 0x09, 0xf0}
	h265AccessUnitDelimiter = []byte{0, 0, 0, 1, 0x46, 0x01, 0x50}
	h266AccessUnitDelimiter = []byte{0, 0, 0, 1, 0x00, 0xa1, 0x28}
)

// AccessUnitDelimiter returns the AUD NAL unit, start code included, the muxers insert for the stream type. It
// returns nil for stream types without access unit delimiters. The returned slice must not be modified.
func AccessUnitDelimiter(t StreamType) []byte {
	switch t {
	case StreamTypeH264Video:
		return h264AccessUnitDelimiter
	case StreamTypeH265Video:
		return h265AccessUnitDelimiter
	case StreamTypeH266Video:
		return h266AccessUnitDelimiter
	}
	return nil
}

// FindNALUnit returns the offset of the first 00 00 01 start code in bs, or -1
func FindNALUnit(bs []byte) int {
	return bytes.Index(bs, startCode)
}

// nextStartCode returns the offset of the first 00 00 01 start code in bs at or after from, or -1
func nextStartCode(bs []byte, from int) int {
	if from >= len(bs) {
		return -1
	}
	i := bytes.Index(bs[from:], startCode)
	if i < 0 {
		return -1
	}
	return from + i
}

// nalUnitType returns the type of the NAL unit whose header starts nal
func nalUnitType(t StreamType, nal []byte) (int, bool) {
	switch t {
	case StreamTypeH264Video:
		if len(nal) < 1 {
			return 0, false
		}
		return int(nal[0] & 0x1f), true
	case StreamTypeH265Video:
		if len(nal) < 2 {
			return 0, false
		}
		return int(nal[0] >> 1 & 0x3f), true
	case StreamTypeH266Video:
		if len(nal) < 2 {
			return 0, false
		}
		return int(nal[1] >> 3 & 0x1f), true
	}
	return 0, false
}

func isAccessUnitDelimiterType(t StreamType, nalType int) bool {
	switch t {
	case StreamTypeH264Video:
		return nalType == h264NALUnitTypeAUD
	case StreamTypeH265Video:
		return nalType == h265NALUnitTypeAUD
	case StreamTypeH266Video:
		return nalType == h266NALUnitTypeAUD
	}
	return false
}

func isKeyframeType(t StreamType, nalType int) bool {
	switch t {
	case StreamTypeH264Video:
		return nalType == h264NALUnitTypeIDR
	case StreamTypeH265Video:
		return nalType >= h265NALUnitTypeIRAPStart && nalType <= h265NALUnitTypeIRAPEnd
	case StreamTypeH266Video:
		return nalType >= h266NALUnitTypeIRAPStart && nalType <= h266NALUnitTypeIRAPEnd
	}
	return false
}

// leadingStartCode returns the length of the 3 or 4 bytes start code bs begins with, or 0
func leadingStartCode(bs []byte) int {
	switch {
	case len(bs) >= 3 && bs[0] == 0 && bs[1] == 0 && bs[2] == 1:
		return 3
	case len(bs) >= 4 && bs[0] == 0 && bs[1] == 0 && bs[2] == 0 && bs[3] == 1:
		return 4
	}
	return 0
}

// IsAccessUnitDelimiter checks whether bs begins with an access unit delimiter NAL unit
func IsAccessUnitDelimiter(t StreamType, bs []byte) bool {
	n := leadingStartCode(bs)
	if n == 0 {
		return false
	}
	nt, ok := nalUnitType(t, bs[n:])
	return ok && isAccessUnitDelimiterType(t, nt)
}

// IsKeyframe checks whether bs holds an H.264 IDR or an H.265/H.266 IRAP NAL unit
func IsKeyframe(t StreamType, bs []byte) bool {
	if !t.hasAccessUnitDelimiter() {
		return false
	}
	for i := nextStartCode(bs, 0); i >= 0; i = nextStartCode(bs, i+3) {
		if nt, ok := nalUnitType(t, bs[i+3:]); ok && isKeyframeType(t, nt) {
			return true
		}
	}
	return false
}

// TrimAccessUnitDelimiter drops the access unit delimiter bs may begin with
func TrimAccessUnitDelimiter(t StreamType, bs []byte) []byte {
	if !IsAccessUnitDelimiter(t, bs) {
		return bs
	}
	next := nextStartCode(bs, leadingStartCode(bs))
	if next < 0 {
		return bs[len(bs):]
	}
	if next > 0 && bs[next-1] == 0 {
		next--
	}
	return bs[next:]
}

// accessUnitBoundaries appends to dst the offsets of the access unit delimiters found in bs after its first byte.
// Offsets include the leading zero of 4 bytes start codes.
func accessUnitBoundaries(t StreamType, bs []byte, dst []int) []int {
	for i := nextStartCode(bs, 1); i >= 0; i = nextStartCode(bs, i+3) {
		nt, ok := nalUnitType(t, bs[i+3:])
		if !ok || !isAccessUnitDelimiterType(t, nt) {
			continue
		}
		o := i
		if bs[i-1] == 0 {
			o--
		}
		if o > 0 {
			dst = append(dst, o)
		}
	}
	return dst
}
