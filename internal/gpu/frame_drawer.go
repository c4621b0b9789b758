package gpu

import (
	"github.com/lanikai/alohavideo/internal/gles"
	"github.com/lanikai/alohavideo/internal/media"
	"github.com/pkg/errors"
)

// yuvUploader keeps three luminance textures for drawing I420 frames.
type yuvUploader struct {
	gl       gles.GL
	textures [3]uint32
	scratch  []byte
}

func (u *yuvUploader) upload(b *media.I420Buffer) [3]uint32 {
	gl := u.gl
	if u.textures[0] == 0 {
		for i := range u.textures {
			t := gl.GenTexture()
			gl.BindTexture(gles.TEXTURE_2D, t)
			gl.TexParameteri(gles.TEXTURE_2D, gles.TEXTURE_MIN_FILTER, gles.LINEAR)
			gl.TexParameteri(gles.TEXTURE_2D, gles.TEXTURE_MAG_FILTER, gles.LINEAR)
			gl.TexParameteri(gles.TEXTURE_2D, gles.TEXTURE_WRAP_S, gles.CLAMP_TO_EDGE)
			gl.TexParameteri(gles.TEXTURE_2D, gles.TEXTURE_WRAP_T, gles.CLAMP_TO_EDGE)
			u.textures[i] = t
		}
	}

	planes := [3]struct {
		data   []byte
		stride int
		w, h   int
	}{
		{b.DataY(), b.StrideY(), b.Width(), b.Height()},
		{b.DataU(), b.StrideU(), b.ChromaWidth(), b.ChromaHeight()},
		{b.DataV(), b.StrideV(), b.ChromaWidth(), b.ChromaHeight()},
	}
	gl.PixelStorei(gles.UNPACK_ALIGNMENT, 1)
	for i, p := range planes {
		data := p.data
		if p.stride != p.w {
			if cap(u.scratch) < p.w*p.h {
				u.scratch = make([]byte, p.w*p.h)
			}
			data = u.scratch[:p.w*p.h]
			for y := 0; y < p.h; y++ {
				copy(data[y*p.w:(y+1)*p.w], p.data[y*p.stride:])
			}
		}
		gl.ActiveTexture(gles.TEXTURE0 + uint32(i))
		gl.BindTexture(gles.TEXTURE_2D, u.textures[i])
		gl.TexImage2D(gles.TEXTURE_2D, 0, gles.LUMINANCE, int32(p.w), int32(p.h), gles.LUMINANCE, gles.UNSIGNED_BYTE, data)
	}
	gl.ActiveTexture(gles.TEXTURE0)
	return u.textures
}

func (u *yuvUploader) release() {
	for i, t := range u.textures {
		if t != 0 {
			u.gl.DeleteTexture(t)
			u.textures[i] = 0
		}
	}
}

// FrameDrawer draws video frames of any buffer type with a GenericDrawer,
// applying the frame rotation and an extra render matrix.
type FrameDrawer struct {
	gl       gles.GL
	uploader yuvUploader
}

func NewFrameDrawer(gl gles.GL) *FrameDrawer {
	return &FrameDrawer{gl: gl, uploader: yuvUploader{gl: gl}}
}

// RenderMatrix is the matrix a frame of the given kind is drawn with before
// composing its buffer transform: I420 uploads are flipped to bottom-up,
// then the frame is rotated and extra is applied.
func RenderMatrix(rotation media.Rotation, isI420 bool, extra media.Matrix) media.Matrix {
	m := media.Identity().PreTranslate(0.5, 0.5)
	if isI420 {
		m = m.PreScale(1, -1)
	}
	m = m.PreRotate(float32(rotation))
	m = m.PreTranslate(-0.5, -0.5)
	return m.PreConcat(extra)
}

// DrawFrame draws f into the viewport. Texture buffers are locked for the
// duration of the draw; ErrReleased is returned if their owner is gone.
func (fd *FrameDrawer) DrawFrame(f *media.VideoFrame, drawer *GenericDrawer, extra media.Matrix, viewportX, viewportY, viewportWidth, viewportHeight int) error {
	width, height := f.RotatedWidth(), f.RotatedHeight()

	if tb, ok := f.Buffer.(*TextureBuffer); ok {
		render := RenderMatrix(f.Rotation, false, extra)
		if !tb.Lock() {
			return ErrReleased
		}
		defer tb.Unlock()
		m := tb.TransformMatrix().PreConcat(render)
		return drawer.Draw(tb, m, width, height, viewportX, viewportY, viewportWidth, viewportHeight)
	}

	i420 := f.Buffer.ToI420()
	if i420 == nil {
		return errors.Errorf("%v buffer has no pixels", f.Buffer.Type())
	}
	textures := fd.uploader.upload(i420)
	render := RenderMatrix(f.Rotation, true, extra)
	return drawer.DrawYUV(textures, render, width, height, viewportX, viewportY, viewportWidth, viewportHeight)
}

func (fd *FrameDrawer) Release() {
	fd.uploader.release()
}
