package pool

// ScratchBufferSize is the size of the per-direction splice buffer a
// Session borrows for each forwarder (spec: "~8 KiB scratch buffer").
const ScratchBufferSize = 8 * 1024

type scratchBuffer struct {
	Bytes []byte
}

func (b *scratchBuffer) Reset() {
	// Keep the backing array; only the length matters to callers, and it is
	// restored to full capacity on every Put, before the buffer goes back
	// into the pool.
	b.Bytes = b.Bytes[:cap(b.Bytes)]
}

var scratchBuffers = NewLitePool(func() *scratchBuffer {
	return &scratchBuffer{Bytes: make([]byte, ScratchBufferSize)}
})

// GetScratchBuffer borrows an 8 KiB buffer for one splice forwarder.
func GetScratchBuffer() []byte {
	return scratchBuffers.Get().Bytes
}

// PutScratchBuffer returns a buffer obtained from GetScratchBuffer.
func PutScratchBuffer(buf []byte) {
	scratchBuffers.Put(&scratchBuffer{Bytes: buf})
}
