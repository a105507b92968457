package audio

// RingBuffer is a fixed-capacity byte FIFO. It is not safe for concurrent use;
// each noise gate owns its buffers.
type RingBuffer struct {
	buf   []byte
	start int // index of the oldest byte
	n     int // buffered bytes
}

// NewRingBuffer creates a buffer holding up to capacity bytes.
func NewRingBuffer(capacity int) *RingBuffer {
	if capacity < 1 {
		capacity = 1
	}
	return &RingBuffer{buf: make([]byte, capacity)}
}

// Write appends as much of p as fits and returns the number of bytes taken.
func (rb *RingBuffer) Write(p []byte) int {
	if free := rb.Free(); len(p) > free {
		p = p[:free]
	}
	end := (rb.start + rb.n) % len(rb.buf)
	c := copy(rb.buf[end:], p)
	copy(rb.buf, p[c:])
	rb.n += len(p)
	return len(p)
}

// Read moves up to len(p) of the oldest bytes into p.
func (rb *RingBuffer) Read(p []byte) int {
	if len(p) > rb.n {
		p = p[:rb.n]
	}
	c := copy(p, rb.buf[rb.start:min(rb.start+len(p), len(rb.buf))])
	copy(p[c:], rb.buf)
	rb.start = (rb.start + len(p)) % len(rb.buf)
	rb.n -= len(p)
	return len(p)
}

// ReadFull fills p, or leaves the buffer untouched and reports false when fewer
// than len(p) bytes are buffered.
func (rb *RingBuffer) ReadFull(p []byte) bool {
	if rb.n < len(p) {
		return false
	}
	rb.Read(p)
	return true
}

// Len returns the number of buffered bytes.
func (rb *RingBuffer) Len() int { return rb.n }

// Free returns the number of bytes that can still be written.
func (rb *RingBuffer) Free() int { return len(rb.buf) - rb.n }

// Cap returns the buffer capacity.
func (rb *RingBuffer) Cap() int { return len(rb.buf) }

// Grow raises the capacity to at least n, keeping the buffered bytes in order.
func (rb *RingBuffer) Grow(n int) {
	if n <= len(rb.buf) {
		return
	}
	buf := make([]byte, n)
	k := rb.Read(buf[:rb.n])
	rb.buf, rb.start, rb.n = buf, 0, k
}

// Reset discards buffered data.
func (rb *RingBuffer) Reset() {
	rb.start, rb.n = 0, 0
}
