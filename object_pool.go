package astimpeg

import "sync"

// Allocator hands out the buffers a muxer serializes packets into. A muxer calls Alloc once per Write and Free
// once the buffer has been written out. Alloc returning nil makes the Write fail with ErrOutOfMemory.
type Allocator interface {
	Alloc(size int) []byte
	Free(b []byte)
}

// poolOfPayload is the default allocator shared by muxers
var poolOfPayload = &payloadPool{
	sp: sync.Pool{
		New: func() interface{} {
			// Prepare the slice of somewhat sensible initial size to minimize calls to runtime.growslice
			return &payload{
				s: make([]byte, 0, 1<<13),
			}
		},
	},
}

// payload is an object containing payload slice
type payload struct {
	s []byte
}

// payloadPool is a sync.Pool backed Allocator
type payloadPool struct {
	sp sync.Pool
}

// Alloc returns a byte slice of a 'size' length
func (pp *payloadPool) Alloc(size int) []byte {
	p, _ := pp.sp.Get().(*payload)
	if cap(p.s) < size {
		// TODO make pool buckets
		pp.sp.Put(p)
		return make([]byte, size)
	}
	s := p.s[:size]
	p.s = nil
	payloadHolders.Put(p)
	return s
}

// Free returns the byte slice to the pool
// Don't use the slice after a call to Free
func (pp *payloadPool) Free(b []byte) {
	if cap(b) == 0 {
		return
	}
	p, _ := payloadHolders.Get().(*payload)
	p.s = b[:0]
	pp.sp.Put(p)
}

// payloadHolders recycles the empty holders so that Alloc and Free don't allocate
var payloadHolders = sync.Pool{
	New: func() interface{} { return &payload{} },
}
