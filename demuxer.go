package astimpeg

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/asticode/go-astikit"
)

const demuxReadSize = 64 * 1024

// ContainerFormat represents a container format
type ContainerFormat int

// Container formats
const (
	FormatTS ContainerFormat = iota
	FormatPS
)

func (f ContainerFormat) String() string {
	switch f {
	case FormatTS:
		return "ts"
	case FormatPS:
		return "ps"
	}
	return fmt.Sprintf("unknown(%d)", int(f))
}

// ParseContainerFormat parses "ts" or "ps"
func ParseContainerFormat(s string) (ContainerFormat, error) {
	switch s {
	case "ts", "m2ts":
		return FormatTS, nil
	case "ps", "mpg", "vob":
		return FormatPS, nil
	}
	return 0, fmt.Errorf("astimpeg: %q: %w", s, ErrUnknownFormat)
}

// Demuxer represents a demuxer fed with chunks of a container
// https://en.wikipedia.org/wiki/MPEG_transport_stream
// https://en.wikipedia.org/wiki/MPEG_program_stream
type Demuxer interface {
	Input(bs []byte) (int, error)
	Flush() error
}

// NewDemuxer creates a demuxer for f delivering access units to h
func NewDemuxer(f ContainerFormat, h AccessUnitHandler, l astikit.StdLogger) (Demuxer, error) {
	switch f {
	case FormatTS:
		return NewTSDemuxer(h, TSDemuxerOptLogger(l)), nil
	case FormatPS:
		return NewPSDemuxer(h, PSDemuxerOptLogger(l)), nil
	}
	return nil, fmt.Errorf("astimpeg: creating demuxer for %s failed: %w", f, ErrUnknownFormat)
}

// DetectContainerFormat guesses the container format from the first bytes of a stream
func DetectContainerFormat(bs []byte) (ContainerFormat, bool) {
	switch {
	case len(bs) >= 4 && bs[0] == 0 && bs[1] == 0 && bs[2] == 1 && bs[3] == startCodePack:
		return FormatPS, true
	case len(bs) > 0 && bs[0] == syncByte:
		return FormatTS, true
	case len(bs) > M2TsPacketSize-MpegTsPacketSize && bs[M2TsPacketSize-MpegTsPacketSize] == syncByte:
		return FormatTS, true
	}
	return 0, false
}

// DemuxFrom reads r until EOF and pushes what it reads into d. ctx is checked between reads. d is flushed once
// r is exhausted.
func DemuxFrom(ctx context.Context, d Demuxer, r io.Reader) (err error) {
	buf := make([]byte, demuxReadSize)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		n, errRead := r.Read(buf)
		if n > 0 {
			if _, err = d.Input(buf[:n]); err != nil {
				return fmt.Errorf("astimpeg: demuxing failed: %w", err)
			}
		}
		if errRead != nil {
			if !errors.Is(errRead, io.EOF) {
				return fmt.Errorf("astimpeg: reading failed: %w", errRead)
			}
			break
		}
	}

	if err = d.Flush(); err != nil {
		err = fmt.Errorf("astimpeg: flushing demuxer failed: %w", err)
	}
	return
}
