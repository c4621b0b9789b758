package gpu

import (
	"testing"
	"time"

	"github.com/lanikai/alohavideo/internal/color"
	"github.com/lanikai/alohavideo/internal/gles"
	"github.com/lanikai/alohavideo/internal/gles/softgl"
	"github.com/lanikai/alohavideo/internal/media"
	"github.com/lanikai/alohavideo/internal/native"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// producer owns a GL thread and an OES texture fed by a native image, the
// way capture adapters and decoders do.
type producer struct {
	thread *gles.Thread
	env    *gles.Env
	image  *gles.NativeImage
	data   *TextureData
	pixels []byte
}

func newProducer(t *testing.T, width, height int) *producer {
	p := &producer{thread: gles.NewThread("producer")}
	t.Cleanup(p.thread.Stop)

	platform, err := gles.OpenPlatform(softgl.PlatformName)
	require.NoError(t, err)
	require.NoError(t, p.thread.Invoke(func() error {
		env, err := gles.NewEnv(platform, nil, gles.ConfigPixelBuffer)
		if err != nil {
			return err
		}
		if err := env.CreatePbufferSurface(1, 1); err != nil {
			return err
		}
		if err := env.MakeCurrent(); err != nil {
			return err
		}
		gl := env.GL()
		tex := gl.GenTexture()
		p.env = env
		p.image = gles.NewNativeImage(gl, tex, width, height)
		p.data = NewTextureData(p.thread, gl, TextureOES, tex)
		return nil
	}))
	return p
}

// produce renders one generator frame into the texture and returns a
// buffer over it plus the RGBA pixels, top row first.
func (p *producer) produce(t *testing.T, frame int) *TextureBuffer {
	win := p.image.Window()
	b, err := win.RequestBuffer()
	require.NoError(t, err)
	native.Fill(b, frame)
	p.pixels = append(p.pixels[:0], b.Pixels...)
	require.NoError(t, win.FlushBuffer(b))

	var buf *TextureBuffer
	require.NoError(t, p.thread.Invoke(func() error {
		ok, err := p.image.UpdateSurfaceImage()
		if err != nil {
			return err
		}
		if !ok {
			return errors.New("no frame latched")
		}
		w, h := win.Size()
		buf = p.data.NewBuffer(w, h, media.MatrixFromGL(p.image.TransformMatrix()))
		return nil
	}))
	return buf
}

func planeAt(data []byte, stride, x, y int) int {
	return int(data[y*stride+x])
}

func TestToI420Layout(t *testing.T) {
	for _, size := range [][2]int{{64, 48}, {30, 21}, {7, 3}} {
		w, h := size[0], size[1]
		p := newProducer(t, w, h)
		buf := p.produce(t, 1)

		i420 := buf.ToI420()
		require.NotNil(t, i420, "%dx%d", w, h)
		stride := (w + 7) / 8 * 8
		assert.Equal(t, stride, i420.StrideY())
		assert.Equal(t, stride, i420.StrideU())
		assert.Equal(t, stride, i420.StrideV())
		assert.Equal(t, w, i420.Width())
		assert.Equal(t, h, i420.Height())

		all := i420.DataY()[:cap(i420.DataY())]
		assert.Same(t, &all[stride*h], &i420.DataU()[0])
		assert.Same(t, &all[stride*h+stride/2], &i420.DataV()[0])
		assert.Len(t, all, stride*(h+(h+1)/2))
	}
}

func TestToI420MatchesCPUConversion(t *testing.T) {
	const w, h = 64, 48
	p := newProducer(t, w, h)
	buf := p.produce(t, 3)
	got := buf.ToI420()
	require.NotNil(t, got)

	want := color.NewPlanar(w, h)
	color.RGBAToI420(want, p.pixels, 4*w)

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			require.InDelta(t, planeAt(want.Y, want.StrideY, x, y), planeAt(got.DataY(), got.StrideY(), x, y), 1, "Y(%d,%d)", x, y)
		}
	}
	for y := 0; y < h/2; y++ {
		for x := 0; x < w/2; x++ {
			require.InDelta(t, planeAt(want.U, want.StrideU, x, y), planeAt(got.DataU(), got.StrideU(), x, y), 2, "U(%d,%d)", x, y)
			require.InDelta(t, planeAt(want.V, want.StrideV, x, y), planeAt(got.DataV(), got.StrideV(), x, y), 2, "V(%d,%d)", x, y)
		}
	}
	// The frame stamp is grey.
	assert.InDelta(t, 128, planeAt(got.DataU(), got.StrideU(), 0, 0), 1)
}

func TestReleasedOwnerFailsReadback(t *testing.T) {
	p := newProducer(t, 16, 16)
	buf := p.produce(t, 0)
	require.NotNil(t, buf.ToI420())

	p.data.Release()
	assert.Nil(t, buf.ToI420())
	assert.False(t, buf.Lock())
	assert.Nil(t, buf.Data())

	// Release is idempotent and later buffers fail the same way.
	p.data.Release()
	assert.Nil(t, p.data.NewBuffer(16, 16, media.Identity()).ToI420())
}

func TestReadbackAfterThreadStopped(t *testing.T) {
	p := newProducer(t, 16, 16)
	buf := p.produce(t, 0)
	p.thread.Stop()
	assert.Nil(t, buf.ToI420())
}

func TestTextureLock(t *testing.T) {
	p := newProducer(t, 8, 8)
	d := p.data

	// Re-entrant on the owner thread.
	require.NoError(t, p.thread.Invoke(func() error {
		d.Lock()
		d.Lock()
		assert.True(t, d.TryLock())
		d.Unlock()
		d.Unlock()
		d.Unlock()
		return nil
	}))

	d.Lock()
	acquired := make(chan struct{})
	go func() {
		d.Lock()
		close(acquired)
		d.Unlock()
	}()
	select {
	case <-acquired:
		t.Fatal("lock not exclusive")
	case <-time.After(20 * time.Millisecond):
	}
	var got bool
	require.NoError(t, p.thread.Invoke(func() error {
		if got = d.TryLock(); got {
			d.Unlock()
		}
		return nil
	}))
	assert.False(t, got, "owner thread must not get a held lock")
	d.Unlock()
	<-acquired
}

func TestBufferTransforms(t *testing.T) {
	p := newProducer(t, 8, 8)
	buf := p.data.NewBuffer(640, 480, media.Identity())

	assert.Same(t, buf, buf.CropAndScale(0, 0, 320, 240, 160, 120))

	adapted := buf.Adapt(0, 0, 320, 240, 160, 120).(*TextureBuffer)
	assert.Equal(t, 160, adapted.Width())
	assert.Equal(t, 120, adapted.Height())
	// The top-left quarter of the buffer, in bottom-left texture space.
	x, y := adapted.TransformMatrix().MapPoint(0, 0)
	assert.InDelta(t, 0, x, 1e-6)
	assert.InDelta(t, 0.5, y, 1e-6)
	x, y = adapted.TransformMatrix().MapPoint(1, 1)
	assert.InDelta(t, 0.5, x, 1e-6)
	assert.InDelta(t, 1, y, 1e-6)

	rotated := buf.Rotate(media.Rotation90).(*TextureBuffer)
	assert.Equal(t, 480, rotated.Width())
	assert.Equal(t, 640, rotated.Height())
	x, y = rotated.TransformMatrix().MapPoint(0, 1)
	assert.InDelta(t, 0, x, 1e-6)
	assert.InDelta(t, 0, y, 1e-6)
}

func TestFrameBufferReferences(t *testing.T) {
	p := newProducer(t, 8, 8)
	freed := 0
	buf := p.data.NewFrameBuffer(8, 8, media.Identity(), func() { freed++ })

	// Derived buffers share the count.
	adapted := buf.Adapt(0, 0, 4, 4, 4, 4).(*TextureBuffer)
	adapted.Retain()
	frame := media.NewVideoFrame(buf.Rotate(media.Rotation90), media.Rotation0, 0)
	frame.Retain()

	buf.Release()
	adapted.Release()
	assert.Zero(t, freed)
	frame.Release()
	assert.Equal(t, 1, freed)
	assert.Panics(t, buf.Release)

	// Plain buffers are not counted.
	plain := p.data.NewBuffer(8, 8, media.Identity())
	plain.Retain()
	plain.Release()
	plain.Release()
}

func TestFrameDrawerRoundTrip(t *testing.T) {
	const w, h = 32, 16
	p := newProducer(t, w, h)

	rgba := make([]byte, 4*w*h)
	b := &native.Buffer{Width: w, Height: h, Stride: 4 * w, Format: native.FormatRGBA8888, Pixels: rgba}
	native.Fill(b, 2)
	src := media.NewI420Buffer(w, h)
	color.RGBAToI420(src.Planar(), rgba, 4*w)
	frame := media.NewVideoFrame(src, media.Rotation0, 1000)

	var rgb *TextureData
	require.NoError(t, p.thread.Invoke(func() error {
		gl := p.env.GL()
		tex := gl.GenTexture()
		gl.BindTexture(gles.TEXTURE_2D, tex)
		gl.TexImage2D(gles.TEXTURE_2D, 0, gles.RGBA, w, h, gles.RGBA, gles.UNSIGNED_BYTE, nil)
		fb := gl.GenFramebuffer()
		gl.BindFramebuffer(gles.FRAMEBUFFER, fb)
		gl.FramebufferTexture2D(gles.FRAMEBUFFER, gles.COLOR_ATTACHMENT0, gles.TEXTURE_2D, tex, 0)

		drawer := NewRectDrawer(gl)
		defer drawer.Release()
		fd := NewFrameDrawer(gl)
		defer fd.Release()
		if err := fd.DrawFrame(frame, drawer, media.Identity(), 0, 0, w, h); err != nil {
			return err
		}
		gl.BindFramebuffer(gles.FRAMEBUFFER, 0)
		gl.DeleteFramebuffer(fb)
		rgb = NewTextureData(p.thread, gl, TextureRGB, tex)
		return nil
	}))

	out := rgb.NewBuffer(w, h, media.Identity()).ToI420()
	require.NotNil(t, out)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			require.InDelta(t, planeAt(src.DataY(), src.StrideY(), x, y), planeAt(out.DataY(), out.StrideY(), x, y), 3, "Y(%d,%d)", x, y)
		}
	}
}

func TestDrawerCachesPrograms(t *testing.T) {
	p := newProducer(t, 8, 8)
	require.NoError(t, p.thread.Invoke(func() error {
		gl := p.env.GL()
		d := NewRectDrawer(gl)
		defer d.Release()
		tex := gl.GenTexture()
		gl.BindTexture(gles.TEXTURE_2D, tex)
		gl.TexImage2D(gles.TEXTURE_2D, 0, gles.RGBA, 1, 1, gles.RGBA, gles.UNSIGNED_BYTE, []byte{1, 2, 3, 4})

		for _, typ := range []TextureType{TextureRGB, TextureYUV, TextureRGB} {
			var err error
			if typ == TextureYUV {
				err = d.DrawYUV([3]uint32{tex, tex, tex}, media.Identity(), 1, 1, 0, 0, 1, 1)
			} else {
				err = d.DrawRGB(tex, media.Identity(), 1, 1, 0, 0, 1, 1)
			}
			if err != nil {
				return err
			}
		}
		assert.Equal(t, 2, d.programs.Len())
		return nil
	}))
}
