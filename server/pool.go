package server

// BufferPool hands out fixed-size frame buffers for stream pushes.
//
// Pool design: a buffered channel as a FIFO free list. Get never blocks; an empty
// pool allocates. Put drops buffers that grew past the block size or do not fit.
type BufferPool struct {
	size int
	free chan []byte
}

// NewBufferPool keeps up to blocks buffers of size bytes each.
func NewBufferPool(size, blocks int) *BufferPool {
	return &BufferPool{size: size, free: make(chan []byte, blocks)}
}

// Get returns an empty buffer with at least the block size of capacity.
func (p *BufferPool) Get() []byte {
	select {
	case b := <-p.free:
		return b[:0]
	default:
		return make([]byte, 0, p.size)
	}
}

// Put returns b to the pool. b must not be used afterwards.
func (p *BufferPool) Put(b []byte) {
	if cap(b) != p.size {
		return
	}
	select {
	case p.free <- b[:0]:
	default:
	}
}

// Len is the number of idle buffers.
func (p *BufferPool) Len() int { return len(p.free) }
