package media

import "sync/atomic"

/*
A SharedBuffer is a byte buffer on loan from a pool, e.g. a codec's input or
output buffer. Whoever holds it calls Release() when done, and the buffer
returns to its owner once every hold is released.

	buf := pool.Get()          // hold count 1
	buf.Hold()                 // handed to a second reader
	go consume(buf)            // consume calls buf.Release()
	buf.Release()              // back to the pool once consume is done

Bytes must not be used after the caller's final Release.
*/
type SharedBuffer struct {
	data []byte

	count   int32
	release func()
}

func NewSharedBuffer(data []byte, release func()) *SharedBuffer {
	return &SharedBuffer{data, 1, release}
}

// Bytes returns the underlying byte buffer.
func (buf *SharedBuffer) Bytes() []byte {
	return buf.data
}

// SetLen resizes the visible window of the buffer within its capacity.
func (buf *SharedBuffer) SetLen(n int) {
	buf.data = buf.data[:n]
}

// Cap returns the buffer's capacity.
func (buf *SharedBuffer) Cap() int {
	return cap(buf.data)
}

// Increments the hold count.
func (buf *SharedBuffer) Hold() {
	atomic.AddInt32(&buf.count, 1)
}

// Decrements the hold count. When the hold count reaches zero, the underlying
// byte buffer will be released.
func (buf *SharedBuffer) Release() {
	if buf == nil {
		return
	}
	newCount := atomic.AddInt32(&buf.count, -1)
	if newCount == 0 && buf.release != nil {
		buf.release()
	}
}

// Reset re-arms a released buffer with a hold count of one.
func (buf *SharedBuffer) Reset() {
	atomic.StoreInt32(&buf.count, 1)
}
