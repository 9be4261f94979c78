package astimpeg

import (
	"fmt"
	"io"

	"github.com/asticode/go-astikit"
)

// Muxer represents a muxer writing access units to an io.Writer
type Muxer interface {
	AddStream(t StreamType, extra []byte) (int, error)
	Write(stream int, flags int, pts, dts int64, data []byte) error
	Reset()
}

// NewMuxer creates a muxer for f writing to w
func NewMuxer(f ContainerFormat, w io.Writer, l astikit.StdLogger) (Muxer, error) {
	switch f {
	case FormatTS:
		return NewTSMuxer(w, TSMuxerOptLogger(l)), nil
	case FormatPS:
		return NewPSMuxer(w, PSMuxerOptLogger(l)), nil
	}
	return nil, fmt.Errorf("astimpeg: creating muxer for %s failed: %w", f, ErrUnknownFormat)
}
