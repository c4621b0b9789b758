package gles

import (
	"sync"

	"github.com/lanikai/alohavideo/internal/native"
	"github.com/pkg/errors"
)

// NativeImage couples a producer window with an external OES texture, the
// role a SurfaceTexture plays on devices. Producers fill buffers through
// Window; the owning thread latches the newest one into the texture with
// UpdateSurfaceImage.
type NativeImage struct {
	gl      GL
	texture uint32
	queue   *native.BufferQueue

	mu          sync.Mutex
	timestampNs int64
	width       int
	height      int
	latched     bool
	onAvailable func()
	released    bool
	scratch     []byte
}

// NewNativeImage wraps texture, which must be an external texture of the
// calling context.
func NewNativeImage(gl GL, texture uint32, width, height int) *NativeImage {
	n := &NativeImage{
		gl:      gl,
		texture: texture,
		queue:   native.NewBufferQueue(width, height, 3, native.FormatRGBA8888),
	}
	n.queue.SetOnBufferAvailable(n.bufferAvailable)
	return n
}

func (n *NativeImage) bufferAvailable() {
	n.mu.Lock()
	fn := n.onAvailable
	released := n.released
	n.mu.Unlock()
	if fn != nil && !released {
		fn()
	}
}

// Window is the producer handle.
func (n *NativeImage) Window() native.Window { return n.queue }

// Queue exposes the producer queue, e.g. for statistics.
func (n *NativeImage) Queue() *native.BufferQueue { return n.queue }

func (n *NativeImage) Texture() uint32 { return n.texture }

// SetOnFrameAvailable registers fn, called on the producer's goroutine for
// every queued buffer.
func (n *NativeImage) SetOnFrameAvailable(fn func()) {
	n.mu.Lock()
	n.onAvailable = fn
	n.mu.Unlock()
}

// SetDefaultBufferSize changes the size of buffers handed to the producer.
func (n *NativeImage) SetDefaultBufferSize(width, height int) {
	n.queue.SetSize(width, height)
}

// UpdateSurfaceImage latches the newest queued buffer into the texture. It
// reports false if no buffer was pending. It must run on the owning
// context's thread.
func (n *NativeImage) UpdateSurfaceImage() (bool, error) {
	n.mu.Lock()
	released := n.released
	n.mu.Unlock()
	if released {
		return false, errors.New("native image released")
	}

	b := n.queue.AcquireLatest()
	if b == nil {
		return false, nil
	}
	defer n.queue.Release(b)
	if b.Format != native.FormatRGBA8888 {
		return false, errors.Errorf("unsupported buffer format %v", b.Format)
	}

	pixels := b.Pixels
	if rowLen := b.Width * 4; b.Stride != rowLen {
		if cap(n.scratch) < rowLen*b.Height {
			n.scratch = make([]byte, rowLen*b.Height)
		}
		pixels = n.scratch[:rowLen*b.Height]
		for y := 0; y < b.Height; y++ {
			copy(pixels[y*rowLen:(y+1)*rowLen], b.Pixels[y*b.Stride:])
		}
	}

	n.gl.BindTexture(TEXTURE_EXTERNAL_OES, n.texture)
	n.gl.PixelStorei(UNPACK_ALIGNMENT, 4)
	n.gl.TexImage2D(TEXTURE_EXTERNAL_OES, 0, RGBA, int32(b.Width), int32(b.Height), RGBA, UNSIGNED_BYTE, pixels)
	n.gl.BindTexture(TEXTURE_EXTERNAL_OES, 0)
	if err := CheckError(n.gl, "latch surface image"); err != nil {
		return false, err
	}

	n.mu.Lock()
	n.timestampNs = b.TimestampNs
	n.width, n.height = b.Width, b.Height
	n.latched = true
	n.mu.Unlock()
	return true, nil
}

// TransformMatrix returns the column-major texture transform for the
// latched image. Buffers are stored top-down, so the transform flips y.
func (n *NativeImage) TransformMatrix() [16]float32 {
	return [16]float32{
		1, 0, 0, 0,
		0, -1, 0, 0,
		0, 0, 1, 0,
		0, 1, 0, 1,
	}
}

// Timestamp returns the platform timestamp of the latched image.
func (n *NativeImage) Timestamp() int64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.timestampNs
}

// Size returns the dimensions of the latched image.
func (n *NativeImage) Size() (int, int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.width, n.height
}

// Release detaches the producer. Further buffers are rejected.
func (n *NativeImage) Release() {
	n.mu.Lock()
	n.released = true
	n.onAvailable = nil
	n.mu.Unlock()
	n.queue.Close()
}
