package astimpeg

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHasDiscontinuity(t *testing.T) {
	prev := &PacketHeader{ContinuityCounter: 15}
	assert.False(t, hasDiscontinuity(prev, &Packet{Header: PacketHeader{ContinuityCounter: 0, HasPayload: true}}))
	assert.False(t, hasDiscontinuity(prev, &Packet{Header: PacketHeader{ContinuityCounter: 15}}))
	assert.True(t, hasDiscontinuity(prev, &Packet{AdaptationField: &PacketAdaptationField{DiscontinuityIndicator: true}, Header: PacketHeader{ContinuityCounter: 0, HasAdaptationField: true, HasPayload: true}}))
	assert.True(t, hasDiscontinuity(prev, &Packet{Header: PacketHeader{ContinuityCounter: 1, HasPayload: true}}))
	assert.True(t, hasDiscontinuity(prev, &Packet{Header: PacketHeader{ContinuityCounter: 0}}))
}

func TestIsSameAsPrevious(t *testing.T) {
	prev := &PacketHeader{ContinuityCounter: 1, HasPayload: true}
	assert.False(t, isSameAsPrevious(prev, &Packet{Header: PacketHeader{ContinuityCounter: 1}}))
	assert.False(t, isSameAsPrevious(prev, &Packet{Header: PacketHeader{ContinuityCounter: 2, HasPayload: true}}))
	assert.True(t, isSameAsPrevious(prev, &Packet{Header: PacketHeader{ContinuityCounter: 1, HasPayload: true}}))
}

func TestPacketAccumulator(t *testing.T) {
	b := newPacketPool()
	acc := b.get(256)
	assert.Same(t, acc, b.get(256))
	assert.Nil(t, b.lookup(257))

	duplicate, lost := acc.add(&Packet{Header: PacketHeader{ContinuityCounter: 3, HasPayload: true, PID: 256}})
	assert.False(t, duplicate)
	assert.False(t, lost)

	duplicate, lost = acc.add(&Packet{Header: PacketHeader{ContinuityCounter: 3, HasPayload: true, PID: 256}})
	assert.True(t, duplicate)
	assert.False(t, lost)

	duplicate, lost = acc.add(&Packet{Header: PacketHeader{ContinuityCounter: 4, HasPayload: true, PID: 256}})
	assert.False(t, duplicate)
	assert.False(t, lost)

	// Adaptation field only packets don't increment the counter
	duplicate, lost = acc.add(&Packet{Header: PacketHeader{ContinuityCounter: 4, HasAdaptationField: true, PID: 256}, AdaptationField: &PacketAdaptationField{}})
	assert.False(t, duplicate)
	assert.False(t, lost)

	duplicate, lost = acc.add(&Packet{Header: PacketHeader{ContinuityCounter: 7, HasPayload: true, PID: 256}})
	assert.False(t, duplicate)
	assert.True(t, lost)

	// Signaled discontinuity
	duplicate, lost = acc.add(&Packet{Header: PacketHeader{ContinuityCounter: 12, HasAdaptationField: true, HasPayload: true, PID: 256}, AdaptationField: &PacketAdaptationField{DiscontinuityIndicator: true}})
	assert.False(t, duplicate)
	assert.False(t, lost)

	b.delete(256)
	assert.Nil(t, b.lookup(256))
}
