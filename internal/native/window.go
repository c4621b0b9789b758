// Package native models the platform's producer/consumer surfaces: windows
// that a producer renders or copies buffers into and that a consumer
// acquires buffers from.
package native

import (
	"fmt"
	"sync"

	"github.com/lanikai/alohavideo/internal/logging"
	"github.com/pkg/errors"
)

var log = logging.DefaultLogger.WithTag("native")

var ErrClosed = errors.New("window closed")

type PixelFormat int

const (
	FormatRGBA8888 PixelFormat = iota + 1
	FormatYUYV
)

func (f PixelFormat) BytesPerPixel() int {
	switch f {
	case FormatRGBA8888:
		return 4
	case FormatYUYV:
		return 2
	}
	return 0
}

func (f PixelFormat) String() string {
	switch f {
	case FormatRGBA8888:
		return "RGBA_8888"
	case FormatYUYV:
		return "YUYV"
	}
	return fmt.Sprintf("PixelFormat(%d)", int(f))
}

// Buffer is one image in a window's queue. Rows are stored top-down.
type Buffer struct {
	Width, Height int
	Stride        int
	Format        PixelFormat
	Pixels        []byte

	// Presentation time on the platform monotonic clock.
	TimestampNs int64
}

// Window is the producer side of a surface.
type Window interface {
	Size() (width, height int)
	SetSize(width, height int)
	Format() PixelFormat

	// RequestBuffer returns a buffer of the current size to fill.
	RequestBuffer() (*Buffer, error)

	// FlushBuffer queues a filled buffer for the consumer.
	FlushBuffer(b *Buffer) error
}

// BufferQueue is a Window whose flushed buffers are held in a bounded FIFO
// for a consumer. When the FIFO is full the oldest buffer is dropped.
type BufferQueue struct {
	mu            sync.Mutex
	width, height int
	format        PixelFormat
	capacity      int
	queue         []*Buffer
	free          []*Buffer
	dropped       uint64
	flushed       uint64
	onAvailable   func()
	closed        bool
}

func NewBufferQueue(width, height, capacity int, format PixelFormat) *BufferQueue {
	return &BufferQueue{
		width:    width,
		height:   height,
		format:   format,
		capacity: max(capacity, 1),
	}
}

func (q *BufferQueue) Size() (int, int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.width, q.height
}

// SetSize changes the size of buffers requested from now on.
func (q *BufferQueue) SetSize(width, height int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if width != q.width || height != q.height {
		q.width, q.height = width, height
		q.free = nil
	}
}

func (q *BufferQueue) Format() PixelFormat { return q.format }

// SetOnBufferAvailable registers the consumer callback, invoked after each
// flush outside the queue lock.
func (q *BufferQueue) SetOnBufferAvailable(fn func()) {
	q.mu.Lock()
	q.onAvailable = fn
	q.mu.Unlock()
}

func (q *BufferQueue) RequestBuffer() (*Buffer, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil, ErrClosed
	}
	if n := len(q.free); n > 0 {
		b := q.free[n-1]
		q.free = q.free[:n-1]
		b.TimestampNs = 0
		return b, nil
	}
	stride := q.width * q.format.BytesPerPixel()
	return &Buffer{
		Width:  q.width,
		Height: q.height,
		Stride: stride,
		Format: q.format,
		Pixels: make([]byte, stride*q.height),
	}, nil
}

func (q *BufferQueue) FlushBuffer(b *Buffer) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	q.queue = append(q.queue, b)
	q.flushed++
	if len(q.queue) > q.capacity {
		q.recycleLocked(q.queue[0])
		q.queue = q.queue[1:]
		q.dropped++
		log.Trace(4, "BufferQueue dropped a buffer (%d total)", q.dropped)
	}
	fn := q.onAvailable
	q.mu.Unlock()

	if fn != nil {
		fn()
	}
	return nil
}

// Acquire removes and returns the oldest queued buffer, or nil.
func (q *BufferQueue) Acquire() *Buffer {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.queue) == 0 {
		return nil
	}
	b := q.queue[0]
	q.queue = q.queue[1:]
	return b
}

// AcquireLatest returns the newest queued buffer and recycles the rest.
func (q *BufferQueue) AcquireLatest() *Buffer {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.queue)
	if n == 0 {
		return nil
	}
	for _, b := range q.queue[:n-1] {
		q.recycleLocked(b)
	}
	b := q.queue[n-1]
	q.queue = nil
	return b
}

// Release returns an acquired buffer for reuse.
func (q *BufferQueue) Release(b *Buffer) {
	q.mu.Lock()
	q.recycleLocked(b)
	q.mu.Unlock()
}

func (q *BufferQueue) recycleLocked(b *Buffer) {
	if b != nil && b.Width == q.width && b.Height == q.height && b.Format == q.format && len(q.free) < q.capacity+2 {
		q.free = append(q.free, b)
	}
}

// Pending returns the number of queued buffers.
func (q *BufferQueue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queue)
}

// Stats returns the number of flushed and dropped buffers.
func (q *BufferQueue) Stats() (flushed, dropped uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.flushed, q.dropped
}

// Close rejects further buffers and discards queued ones.
func (q *BufferQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.queue = nil
	q.free = nil
	q.onAvailable = nil
	q.mu.Unlock()
}
