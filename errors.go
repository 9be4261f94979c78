package astimpeg

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned by this package wraps one of them.
var (
	ErrOutOfMemory     = errors.New("astimpeg: out of memory")
	ErrInvalidArgument = errors.New("astimpeg: invalid argument")
	ErrInvalidData     = errors.New("astimpeg: invalid data")
	ErrWriteFailed     = errors.New("astimpeg: write failed")
)

var (
	ErrCapacityExceeded = fmt.Errorf("%w: capacity exceeded", ErrInvalidArgument)
	ErrProgramExists    = fmt.Errorf("%w: program already exists", ErrInvalidArgument)
	ErrProgramNotFound  = fmt.Errorf("%w: program not found", ErrInvalidArgument)
	ErrStreamNotFound   = fmt.Errorf("%w: stream not found", ErrInvalidArgument)
	ErrUnknownFormat    = fmt.Errorf("%w: unknown container format", ErrInvalidArgument)

	ErrCRC32Mismatch                = fmt.Errorf("%w: CRC32 mismatch", ErrInvalidData)
	ErrInvalidMarkerBit             = fmt.Errorf("%w: marker bit is not set", ErrInvalidData)
	ErrInvalidPESLength             = fmt.Errorf("%w: PES packet length is invalid", ErrInvalidData)
	ErrInvalidStartCode             = fmt.Errorf("%w: start code prefix is missing", ErrInvalidData)
	ErrPacketMustStartWithASyncByte = fmt.Errorf("%w: packet must start with a sync byte", ErrInvalidData)
	ErrSectionTooLong               = fmt.Errorf("%w: section length exceeds 1021 bytes", ErrInvalidData)

	// ErrNeedMoreData is returned by decoders when the buffer ends before the structure does
	ErrNeedMoreData = errors.New("astimpeg: need more data")
)
