package astimpeg

import "sort"

// packetAccumulator keeps the continuity state and the reassembly buffer of a single PID
type packetAccumulator struct {
	last    PacketHeader
	pid     uint16
	psi     *psiBuffer // PSI PIDs only
	started bool
	stream  *tsStream // PES PIDs only
}

// newPacketAccumulator creates a new accumulator for a single PID
func newPacketAccumulator(pid uint16) *packetAccumulator {
	return &packetAccumulator{pid: pid}
}

// add checks the packet against the previous one of the PID. Duplicates must be dropped, lost reports
// that packets went missing in between.
func (b *packetAccumulator) add(p *Packet) (duplicate, lost bool) {
	if b.started {
		if isSameAsPrevious(&b.last, p) {
			duplicate = true
			return
		}
		// A signaled discontinuity restarts the counter without any loss
		lost = hasDiscontinuity(&b.last, p) &&
			!(p.Header.HasAdaptationField && p.AdaptationField.DiscontinuityIndicator)
	}
	b.last = p.Header
	b.started = true
	return
}

// packetPool represents the accumulators of every PID in the stream
type packetPool struct {
	b map[uint16]*packetAccumulator // Indexed by PID
}

// newPacketPool creates a new packet pool
func newPacketPool() *packetPool {
	return &packetPool{
		b: make(map[uint16]*packetAccumulator),
	}
}

// get returns the accumulator of the PID, creating it when needed
func (b *packetPool) get(pid uint16) *packetAccumulator {
	acc, ok := b.b[pid]
	if !ok {
		acc = newPacketAccumulator(pid)
		b.b[pid] = acc
	}
	return acc
}

// lookup returns the accumulator of the PID if any
func (b *packetPool) lookup(pid uint16) *packetAccumulator {
	return b.b[pid]
}

func (b *packetPool) delete(pid uint16) {
	delete(b.b, pid)
}

// streams returns the elementary streams in PID order
func (b *packetPool) streams() (ss []*tsStream) {
	var keys []int
	for k, acc := range b.b {
		if acc.stream != nil {
			keys = append(keys, int(k))
		}
	}
	sort.Ints(keys)
	for _, k := range keys {
		ss = append(ss, b.b[uint16(k)].stream)
	}
	return
}

// hasDiscontinuity checks whether a packet is discontinuous with the previous one
func hasDiscontinuity(prev *PacketHeader, p *Packet) bool {
	cc := wrappingCounter{value: int(prev.ContinuityCounter), wrapAt: maxContinuityCounter}
	return (p.Header.HasAdaptationField && p.AdaptationField.DiscontinuityIndicator) || ((p.Header.HasPayload && !cc.follows(int(p.Header.ContinuityCounter))) ||
		(!p.Header.HasPayload && p.Header.ContinuityCounter != prev.ContinuityCounter))
}

// isSameAsPrevious checks whether a packet is a duplicate of the previous one
func isSameAsPrevious(prev *PacketHeader, p *Packet) bool {
	return p.Header.HasPayload && prev.HasPayload && p.Header.ContinuityCounter == prev.ContinuityCounter
}
