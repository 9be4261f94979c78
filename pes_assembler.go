package astimpeg

// pesAssembler turns the PES packets of one elementary stream into access units
type pesAssembler struct {
	au         AccessUnit
	bounds     []int
	buf        []byte
	corrupt    bool
	dts        int64
	h          AccessUnitHandler
	pending    bool // buf holds an access unit
	pid        uint16
	program    uint16
	pts        int64
	random     bool // random access or data alignment was signaled
	streamType StreamType
}

func newPESAssembler(h AccessUnitHandler, program, pid uint16, t StreamType) *pesAssembler {
	return &pesAssembler{
		dts:        PTSNoValue,
		h:          h,
		pid:        pid,
		program:    program,
		pts:        PTSNoValue,
		streamType: t,
	}
}

// continues checks whether a PES starting with first belongs to the buffered access unit
func (a *pesAssembler) continues(pts int64, first []byte) bool {
	if !a.pending {
		return false
	}
	if pts == PTSNoValue {
		return true
	}
	return a.streamType.hasAccessUnitDelimiter() && pts == a.pts && !IsAccessUnitDelimiter(a.streamType, first)
}

// start handles a new PES packet. first is the beginning of its payload, possibly empty.
func (a *pesAssembler) start(pts, dts int64, random bool, first []byte) (err error) {
	if a.continues(pts, first) {
		a.random = a.random || random
		a.buf = append(a.buf, first...)
		return
	}

	err = a.flush()

	if dts == PTSNoValue {
		dts = pts
	}
	a.pts, a.dts = pts, dts
	a.random = random
	a.buf = append(a.buf[:0], first...)
	a.pending = true
	return
}

func (a *pesAssembler) append(bs []byte) {
	if a.pending {
		a.buf = append(a.buf, bs...)
	}
}

// markCorrupt flags the buffered access unit after lost input
func (a *pesAssembler) markCorrupt() {
	a.corrupt = true
}

// flush emits the buffered access units, split on access unit delimiters for H.26x streams
func (a *pesAssembler) flush() (err error) {
	if !a.pending {
		return
	}
	a.pending = false
	corrupt := a.corrupt
	a.corrupt = false
	if len(a.buf) == 0 {
		return
	}

	if !a.streamType.hasAccessUnitDelimiter() {
		return a.emit(a.buf, a.pts, a.dts, a.random, corrupt)
	}

	a.bounds = accessUnitBoundaries(a.streamType, a.buf, a.bounds[:0])
	pts, dts, start := a.pts, a.dts, 0
	for _, end := range append(a.bounds, len(a.buf)) {
		if errEmit := a.emit(a.buf[start:end], pts, dts, false, corrupt); errEmit != nil && err == nil {
			err = errEmit
		}
		pts, dts, start = PTSNoValue, PTSNoValue, end
	}
	return
}

func (a *pesAssembler) emit(data []byte, pts, dts int64, random, corrupt bool) error {
	var flags int
	if a.streamType.hasAccessUnitDelimiter() {
		if IsKeyframe(a.streamType, data) {
			flags |= FlagKeyframe
		}
		if IsAccessUnitDelimiter(a.streamType, data) {
			flags |= FlagAUD
		}
	} else if random {
		flags |= FlagKeyframe
	}
	if corrupt {
		flags |= FlagCorrupt
	}

	a.au = AccessUnit{
		Data:       data,
		DTS:        dts,
		Flags:      flags,
		PID:        a.pid,
		PTS:        pts,
		Program:    a.program,
		StreamType: a.streamType,
	}
	if a.h == nil {
		return nil
	}
	return a.h(&a.au)
}

// reset drops the buffered access unit
func (a *pesAssembler) reset() {
	a.buf = a.buf[:0]
	a.pending = false
	a.corrupt = false
	a.pts, a.dts = PTSNoValue, PTSNoValue
}
