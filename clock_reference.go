package astimpeg

import (
	"math"
	"time"
)

// PTSNoValue marks an absent PTS or DTS
const PTSNoValue int64 = math.MinInt64

const (
	timestampMask      = 0x1ffffffff // PTS, DTS and clock reference bases are 33 bits
	timestampFrequency = 90000
)

// ClockReference represents a clock reference
// Base is based on a 90 kHz clock and extension is based on a 27 MHz clock
type ClockReference struct {
	Base, Extension int64
}

// newClockReference builds a new clock reference
func newClockReference(base, extension int64) ClockReference {
	return ClockReference{
		Base:      base,
		Extension: extension,
	}
}

// newClockReferenceFromTimestamp builds a clock reference out of a 90 kHz timestamp
func newClockReferenceFromTimestamp(ts int64) ClockReference {
	return newClockReference(ts&timestampMask, 0)
}

// Duration converts the clock reference into duration
func (cr ClockReference) Duration() time.Duration {
	return time.Duration(cr.Base*1e9/timestampFrequency) + time.Duration(cr.Extension*1e9/27000000)
}

// Time converts the clock reference into time
func (cr ClockReference) Time() time.Time {
	return time.Unix(0, cr.Duration().Nanoseconds())
}

// Value returns the clock reference on a 27 MHz clock
func (cr ClockReference) Value() int64 {
	return cr.Base*300 + cr.Extension
}

// TimestampDuration converts a 90 kHz PTS or DTS into a duration. PTSNoValue yields 0.
func TimestampDuration(ts int64) time.Duration {
	if ts == PTSNoValue {
		return 0
	}
	return time.Duration(ts) * time.Second / timestampFrequency
}
