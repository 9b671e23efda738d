package audio

import (
	"errors"
	"sync/atomic"
)

var (
	// ErrInsufficientSpace is returned when a write does not fit in the free space.
	ErrInsufficientSpace = errors.New("ring buffer: insufficient free space")
	// ErrInsufficientData is returned when a read asks for more bytes than are buffered.
	ErrInsufficientData = errors.New("ring buffer: insufficient buffered data")
)

// RingBuffer is a fixed-size circular byte buffer for exactly one writer
// goroutine and one reader goroutine.
//
// One slot of the backing storage is always left empty so a full buffer
// can be told apart from an empty one. head moves only on Write and tail
// only on Read, so the two roles never store to the same cursor and no
// mutex is needed. Calling Write (or Read/Peek) from more than one
// goroutine at a time is not supported.
type RingBuffer struct {
	size int
	buf  []byte
	head atomic.Int64
	tail atomic.Int64
}

// NewRingBuffer creates a buffer able to hold capacity bytes. It returns
// nil when capacity is not positive.
func NewRingBuffer(capacity int) *RingBuffer {
	if capacity <= 0 {
		return nil
	}
	return &RingBuffer{
		size: capacity + 1,
		buf:  make([]byte, capacity+1),
	}
}

// Cap returns the number of bytes the buffer can hold when full.
func (r *RingBuffer) Cap() int {
	return r.size - 1
}

// Len returns the number of buffered bytes.
func (r *RingBuffer) Len() int {
	head := int(r.head.Load())
	tail := int(r.tail.Load())
	return (head + r.size - tail) % r.size
}

// Free returns the number of bytes that can be written without failing.
func (r *RingBuffer) Free() int {
	return r.size - r.Len() - 1
}

// Write copies all of p into the buffer. If p does not fit it writes
// nothing and returns ErrInsufficientSpace.
func (r *RingBuffer) Write(p []byte) (int, error) {
	n := len(p)
	if n > r.Free() {
		return 0, ErrInsufficientSpace
	}
	if n == 0 {
		return 0, nil
	}
	head := int(r.head.Load())
	first := copy(r.buf[head:], p)
	if first < n {
		copy(r.buf, p[first:])
	}
	r.head.Store(int64((head + n) % r.size))
	return n, nil
}

// Read fills p completely from the buffer and advances the read cursor.
// If fewer than len(p) bytes are buffered it reads nothing and returns
// ErrInsufficientData.
func (r *RingBuffer) Read(p []byte) (int, error) {
	n, err := r.Peek(p)
	if err != nil {
		return 0, err
	}
	tail := int(r.tail.Load())
	r.tail.Store(int64((tail + n) % r.size))
	return n, nil
}

// Peek behaves like Read but leaves the read cursor where it is.
func (r *RingBuffer) Peek(p []byte) (int, error) {
	n := len(p)
	if n > r.Len() {
		return 0, ErrInsufficientData
	}
	if n == 0 {
		return 0, nil
	}
	tail := int(r.tail.Load())
	first := copy(p, r.buf[tail:])
	if first < n {
		copy(p[first:], r.buf)
	}
	return n, nil
}

// Clear drops all buffered bytes. Storage is not zeroed. It must not run
// concurrently with Write or Read.
func (r *RingBuffer) Clear() {
	r.head.Store(0)
	r.tail.Store(0)
}
