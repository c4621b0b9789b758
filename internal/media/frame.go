package media

import (
	"fmt"
	"sync/atomic"
)

// Rotation is a clockwise rotation in degrees that must be applied to a
// frame's buffer for correct display.
type Rotation int

const (
	Rotation0   Rotation = 0
	Rotation90  Rotation = 90
	Rotation180 Rotation = 180
	Rotation270 Rotation = 270
)

// ParseRotation normalizes degrees to one of the four rotations.
func ParseRotation(degrees int) (Rotation, error) {
	switch r := Rotation(((degrees % 360) + 360) % 360); r {
	case Rotation0, Rotation90, Rotation180, Rotation270:
		return r, nil
	default:
		return 0, fmt.Errorf("invalid rotation %d", degrees)
	}
}

// Transposes reports whether the rotation swaps width and height.
func (r Rotation) Transposes() bool {
	return r == Rotation90 || r == Rotation270
}

// Add composes two rotations.
func (r Rotation) Add(o Rotation) Rotation {
	return (r + o) % 360
}

type BufferType int

const (
	BufferTypeI420 BufferType = iota
	BufferTypeTexture
)

func (t BufferType) String() string {
	switch t {
	case BufferTypeI420:
		return "I420"
	case BufferTypeTexture:
		return "Texture"
	}
	return fmt.Sprintf("BufferType(%d)", int(t))
}

// FrameBuffer is either texture-backed or I420-backed.
type FrameBuffer interface {
	Type() BufferType
	Width() int
	Height() int

	// ToI420 returns the buffer's pixels as I420, or nil if they are no
	// longer available.
	ToI420() *I420Buffer

	// CropAndScale returns a buffer showing the crop rectangle scaled to
	// scaledWidth x scaledHeight.
	CropAndScale(cropX, cropY, cropWidth, cropHeight, scaledWidth, scaledHeight int) FrameBuffer
}

// RotatableBuffer is implemented by buffers that can apply a rotation
// without the caller converting them to I420 first.
type RotatableBuffer interface {
	FrameBuffer
	Rotate(r Rotation) FrameBuffer
}

// AdaptableBuffer is implemented by buffers that express crop and scale by
// composing their transform instead of resampling.
type AdaptableBuffer interface {
	FrameBuffer
	Adapt(cropX, cropY, cropWidth, cropHeight, scaledWidth, scaledHeight int) FrameBuffer
}

// RefCountedBuffer is implemented by buffers whose producer reuses the
// storage once every reference is gone. A sink that keeps such a frame
// after OnFrame returns must Retain it and Release it when done.
type RefCountedBuffer interface {
	FrameBuffer
	Retain()
	Release()
}

// VideoFrame is a buffer plus its timing and orientation.
type VideoFrame struct {
	Buffer   FrameBuffer
	Rotation Rotation

	// Capture time on the monotonic clock, in microseconds.
	TimestampUs int64

	// 90 kHz RTP timestamp.
	RTPTimestamp uint32

	// NTP time in milliseconds, zero if unknown.
	NTPTimeMs int64

	ID uint16
}

var nextFrameID atomic.Uint32

// NewVideoFrame returns a frame with a fresh ID and an RTP timestamp derived
// from timestampUs.
func NewVideoFrame(buffer FrameBuffer, rotation Rotation, timestampUs int64) *VideoFrame {
	return &VideoFrame{
		Buffer:       buffer,
		Rotation:     rotation,
		TimestampUs:  timestampUs,
		RTPTimestamp: uint32(timestampUs * 90 / 1000),
		ID:           uint16(nextFrameID.Add(1)),
	}
}

func (f *VideoFrame) Width() int  { return f.Buffer.Width() }
func (f *VideoFrame) Height() int { return f.Buffer.Height() }

// RotatedWidth is the display width after applying Rotation.
func (f *VideoFrame) RotatedWidth() int {
	if f.Rotation.Transposes() {
		return f.Height()
	}
	return f.Width()
}

func (f *VideoFrame) RotatedHeight() int {
	if f.Rotation.Transposes() {
		return f.Width()
	}
	return f.Height()
}

// Retain takes a reference on the buffer if it is reference counted.
func (f *VideoFrame) Retain() {
	if b, ok := f.Buffer.(RefCountedBuffer); ok {
		b.Retain()
	}
}

// Release drops a reference taken with Retain.
func (f *VideoFrame) Release() {
	if b, ok := f.Buffer.(RefCountedBuffer); ok {
		b.Release()
	}
}

// WithBuffer returns a copy of the frame carrying a different buffer.
func (f *VideoFrame) WithBuffer(b FrameBuffer) *VideoFrame {
	c := *f
	c.Buffer = b
	return &c
}

// ApplyRotation returns an equivalent frame with rotation 0.
func (f *VideoFrame) ApplyRotation() *VideoFrame {
	if f.Rotation == Rotation0 {
		return f
	}
	var b FrameBuffer
	if r, ok := f.Buffer.(RotatableBuffer); ok {
		b = r.Rotate(f.Rotation)
	} else if i420 := f.Buffer.ToI420(); i420 != nil {
		b = i420.Rotate(f.Rotation)
	} else {
		return nil
	}
	c := f.WithBuffer(b)
	c.Rotation = Rotation0
	return c
}
