package media

import (
	"github.com/lanikai/alohavideo/internal/color"
)

// I420Buffer is a CPU frame buffer in planar 4:2:0. It is immutable once
// handed to a VideoFrame.
type I420Buffer struct {
	p *color.Planar
}

// NewI420Buffer allocates a tightly packed buffer.
func NewI420Buffer(width, height int) *I420Buffer {
	return &I420Buffer{color.NewPlanar(width, height)}
}

// NewI420BufferWithStride allocates a buffer whose three planes share one
// backing slice, laid out with the given strides.
func NewI420BufferWithStride(width, height, strideY, strideU, strideV int) *I420Buffer {
	ch := (height + 1) / 2
	sizeY, sizeU := strideY*height, strideU*ch
	data := make([]byte, sizeY+sizeU+strideV*ch)
	return WrapI420(&color.Planar{
		Width: width, Height: height,
		Y: data[:sizeY], U: data[sizeY : sizeY+sizeU], V: data[sizeY+sizeU:],
		StrideY: strideY, StrideU: strideU, StrideV: strideV,
	})
}

// WrapI420 takes ownership of p.
func WrapI420(p *color.Planar) *I420Buffer {
	return &I420Buffer{p}
}

func (b *I420Buffer) Type() BufferType { return BufferTypeI420 }
func (b *I420Buffer) Width() int       { return b.p.Width }
func (b *I420Buffer) Height() int      { return b.p.Height }

func (b *I420Buffer) ChromaWidth() int  { return b.p.ChromaWidth() }
func (b *I420Buffer) ChromaHeight() int { return b.p.ChromaHeight() }

func (b *I420Buffer) StrideY() int  { return b.p.StrideY }
func (b *I420Buffer) StrideU() int  { return b.p.StrideU }
func (b *I420Buffer) StrideV() int  { return b.p.StrideV }
func (b *I420Buffer) DataY() []byte { return b.p.Y }
func (b *I420Buffer) DataU() []byte { return b.p.U }
func (b *I420Buffer) DataV() []byte { return b.p.V }

// Planar exposes the planes for the converters in package color.
func (b *I420Buffer) Planar() *color.Planar { return b.p }

func (b *I420Buffer) ToI420() *I420Buffer { return b }

// CropAndScale crops to an even-aligned rectangle and resamples on the CPU.
func (b *I420Buffer) CropAndScale(cropX, cropY, cropWidth, cropHeight, scaledWidth, scaledHeight int) FrameBuffer {
	if cropX == 0 && cropY == 0 && cropWidth == b.Width() && cropHeight == b.Height() &&
		scaledWidth == cropWidth && scaledHeight == cropHeight {
		return b
	}
	cropX, cropY = cropX&^1, cropY&^1
	src := &color.Planar{
		Width:   cropWidth,
		Height:  cropHeight,
		Y:       b.p.Y[cropY*b.p.StrideY+cropX:],
		U:       b.p.U[cropY/2*b.p.StrideU+cropX/2:],
		V:       b.p.V[cropY/2*b.p.StrideV+cropX/2:],
		StrideY: b.p.StrideY,
		StrideU: b.p.StrideU,
		StrideV: b.p.StrideV,
	}
	dst := NewI420Buffer(scaledWidth, scaledHeight)
	color.ScaleI420(dst.p, src)
	return dst
}

// Rotate returns a rotated copy.
func (b *I420Buffer) Rotate(r Rotation) FrameBuffer {
	if r == Rotation0 {
		return b
	}
	w, h := b.Width(), b.Height()
	if r.Transposes() {
		w, h = h, w
	}
	dst := NewI420Buffer(w, h)
	color.RotateI420(dst.p, b.p, int(r))
	return dst
}

// Copy returns a tightly packed deep copy.
func (b *I420Buffer) Copy() *I420Buffer {
	dst := NewI420Buffer(b.Width(), b.Height())
	color.CopyI420(dst.p, b.p)
	return dst
}
