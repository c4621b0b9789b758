package color

import (
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestYUYVToI420(t *testing.T) {
	r := image.Rect(0, 0, 1280, 720)

	yuyv := NewYUYV(r)
	dst := NewPlanar(1280, 720)

	// Write some sample data
	for i := 0; i < 2*1280*720; i++ {
		yuyv.Packed[i] = byte(i)
	}

	YUYVToI420(dst, yuyv)

	// Verify luma
	for i := 0; i < 1280*720; i++ {
		if dst.Y[i] != byte(2*i) {
			t.FailNow()
		}
	}

	// Verify chroma
	for row := 0; row < 720/2; row++ {
		for col := 0; col < 1280/2; col++ {
			if dst.U[1280/2*row+col] != byte(4*1280*row+4*col+1) {
				t.FailNow()
			}
			if dst.V[1280/2*row+col] != byte(4*1280*row+4*col+3) {
				t.FailNow()
			}
		}
	}
}

func filledPlanar(w, h int) *Planar {
	p := NewPlanar(w, h)
	for i := range p.Y {
		p.Y[i] = byte(i * 7)
	}
	for i := range p.U {
		p.U[i] = byte(i * 3)
		p.V[i] = byte(255 - i)
	}
	return p
}

func TestSemiPlanarRoundTrip(t *testing.T) {
	src := filledPlanar(10, 7)
	cw, ch := src.ChromaWidth(), src.ChromaHeight()

	y := make([]byte, 16*7)
	uv := make([]byte, 16*ch)
	I420ToNV12(y, 16, uv, 16, src)
	assert.Equal(t, src.U[0], uv[0])
	assert.Equal(t, src.V[0], uv[1])

	out := NewPlanar(10, 7)
	NV12ToI420(out, y, 16, uv, 16)
	assert.Equal(t, src, out)

	I420ToNV21(y, 16, uv, 16, src)
	assert.Equal(t, src.V[cw-1], uv[2*(cw-1)])
	out = NewPlanar(10, 7)
	NV21ToI420(out, y, 16, uv, 16)
	assert.Equal(t, src, out)
}

func TestRGBARoundTrip(t *testing.T) {
	const w, h = 8, 4
	rgba := make([]byte, w*h*4)
	for i := 0; i < w*h; i++ {
		rgba[4*i], rgba[4*i+1], rgba[4*i+2], rgba[4*i+3] = 200, 100, 50, 255
	}
	p := NewPlanar(w, h)
	RGBAToI420(p, rgba, w*4)

	out := make([]byte, len(rgba))
	I420ToRGBA(out, w*4, p)
	for i := 0; i < len(out); i += 4 {
		assert.InDelta(t, 200, int(out[i]), 3)
		assert.InDelta(t, 100, int(out[i+1]), 3)
		assert.InDelta(t, 50, int(out[i+2]), 3)
		assert.EqualValues(t, 255, out[i+3])
	}
}

func TestLimitedRange(t *testing.T) {
	p := NewPlanar(2, 2)
	RGBAToI420(p, make([]byte, 16), 8)
	assert.EqualValues(t, 16, p.Y[0])
	assert.EqualValues(t, 128, p.U[0])

	white := []byte{255, 255, 255, 255, 255, 255, 255, 255, 255, 255, 255, 255, 255, 255, 255, 255}
	RGBAToI420(p, white, 8)
	assert.EqualValues(t, 235, p.Y[0])
}

func TestRotatePlane(t *testing.T) {
	// 3x2:
	// 1 2 3
	// 4 5 6
	src := []byte{1, 2, 3, 4, 5, 6}

	dst := make([]byte, 6)
	RotatePlane(dst, 2, src, 3, 3, 2, 90)
	assert.Equal(t, []byte{4, 1, 5, 2, 6, 3}, dst)

	RotatePlane(dst, 3, src, 3, 3, 2, 180)
	assert.Equal(t, []byte{6, 5, 4, 3, 2, 1}, dst)

	RotatePlane(dst, 2, src, 3, 3, 2, 270)
	assert.Equal(t, []byte{3, 6, 2, 5, 1, 4}, dst)
}

func TestScaleI420(t *testing.T) {
	src := NewPlanar(64, 48)
	for i := range src.Y {
		src.Y[i] = 90
	}
	for i := range src.U {
		src.U[i], src.V[i] = 60, 200
	}
	dst := NewPlanar(48, 36)
	ScaleI420(dst, src)
	require.Len(t, dst.Y, 48*36)
	for _, v := range dst.Y {
		assert.InDelta(t, 90, int(v), 1)
	}
	assert.InDelta(t, 60, int(dst.U[10]), 1)
	assert.InDelta(t, 200, int(dst.V[10]), 1)
}

func BenchmarkYUYVToI420At720P(b *testing.B) {
	r := image.Rect(0, 0, 1280, 720)
	yuyv := NewYUYV(r)
	dst := NewPlanar(1280, 720)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		YUYVToI420(dst, yuyv)
	}
}
