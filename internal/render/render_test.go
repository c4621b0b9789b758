package render

import (
	"testing"
	"time"

	_ "github.com/lanikai/alohavideo/internal/gles/softgl"
	"github.com/lanikai/alohavideo/internal/media"
	"github.com/lanikai/alohavideo/internal/native"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// splitFrame is dark on the left half and bright on the right.
func splitFrame(w, h int, tsUs int64) *media.VideoFrame {
	b := media.NewI420Buffer(w, h)
	p := b.Planar()
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := byte(40)
			if x >= w/2 {
				v = 200
			}
			p.Y[y*p.StrideY+x] = v
		}
	}
	for i := range p.U {
		p.U[i] = 128
		p.V[i] = 128
	}
	return media.NewVideoFrame(b, media.Rotation0, tsUs)
}

func grayFrame(w, h int, tsUs int64) *media.VideoFrame {
	b := media.NewI420Buffer(w, h)
	p := b.Planar()
	for i := range p.Y {
		p.Y[i] = 128
	}
	for i := range p.U {
		p.U[i] = 128
		p.V[i] = 128
	}
	return media.NewVideoFrame(b, media.Rotation0, tsUs)
}

func red(b *native.Buffer, x, y int) int {
	return int(b.Pixels[y*b.Stride+4*x])
}

func newRenderer(t *testing.T, win native.Window, opts Options) *WindowRenderer {
	t.Helper()
	r, err := NewWindowRenderer("test-render", win, opts)
	require.NoError(t, err)
	t.Cleanup(r.Release)
	return r
}

func renderOne(t *testing.T, r *WindowRenderer, win *native.BufferQueue, frame *media.VideoFrame) *native.Buffer {
	t.Helper()
	want := r.Stats().Rendered + 1
	r.OnFrame(frame)
	require.Eventually(t, func() bool { return r.Stats().Rendered == want }, 5*time.Second, time.Millisecond)
	buf := win.AcquireLatest()
	require.NotNil(t, buf)
	return buf
}

func TestComputeLayout(t *testing.T) {
	tests := []struct {
		mode   ScalingMode
		fw, fh int
		want   Layout
	}{
		{ScaleFill, 16, 16, Layout{0, 0, 32, 16, 1, 1}},
		{ScaleAspectFit, 16, 16, Layout{8, 0, 16, 16, 1, 1}},
		{ScaleAspectFit, 64, 16, Layout{0, 4, 32, 8, 1, 1}},
		{ScaleAspectFill, 16, 16, Layout{0, 0, 32, 16, 1, 0.5}},
		{ScaleAspectFill, 64, 16, Layout{0, 0, 32, 16, 0.5, 1}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ComputeLayout(tt.mode, tt.fw, tt.fh, 32, 16), "%v %dx%d", tt.mode, tt.fw, tt.fh)
	}
	assert.Equal(t, Layout{Width: 32, Height: 16, ScaleX: 1, ScaleY: 1}, ComputeLayout(ScaleAspectFit, 0, 0, 32, 16))
}

func TestScalingModeText(t *testing.T) {
	for _, s := range []string{"ASPECT_FIT", "aspect-fit"} {
		m, err := ParseScalingMode(s)
		require.NoError(t, err)
		assert.Equal(t, ScaleAspectFit, m)
	}
	var m ScalingMode
	require.NoError(t, m.UnmarshalText([]byte("aspect_fill")))
	assert.Equal(t, ScaleAspectFill, m)
	text, err := ScaleFill.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "fill", string(text))
	_, err = ParseScalingMode("zoom")
	assert.Error(t, err)
}

func TestDrawMatrix(t *testing.T) {
	m := DrawMatrix(Layout{ScaleX: 1, ScaleY: 1}, true, false)
	x, y := m.MapPoint(0, 0.25)
	assert.InDelta(t, 1, x, 1e-6)
	assert.InDelta(t, 0.25, y, 1e-6)

	m = DrawMatrix(Layout{ScaleX: 0.5, ScaleY: 1}, false, false)
	x, _ = m.MapPoint(0, 0)
	assert.InDelta(t, 0.25, x, 1e-6)
}

func TestRendererAspectFit(t *testing.T) {
	win := native.NewBufferQueue(32, 16, 4, native.FormatRGBA8888)
	r := newRenderer(t, win, Options{ScalingMode: ScaleAspectFit})
	assert.False(t, r.Raster())

	buf := renderOne(t, r, win, grayFrame(16, 16, 1000))
	assert.EqualValues(t, 1000*1000, buf.TimestampNs)
	assert.Less(t, red(buf, 2, 8), 10)
	assert.Less(t, red(buf, 29, 8), 10)
	assert.InDelta(t, 130, red(buf, 16, 8), 4)

	stats := r.Stats()
	assert.Equal(t, 1, stats.Received)
	assert.Equal(t, 0, stats.Dropped)
	assert.EqualValues(t, 1000, stats.LastTimestampUs)
}

func TestRendererMirror(t *testing.T) {
	win := native.NewBufferQueue(16, 16, 4, native.FormatRGBA8888)
	r := newRenderer(t, win, Options{})

	buf := renderOne(t, r, win, splitFrame(16, 16, 0))
	assert.Less(t, red(buf, 2, 8), 100)
	assert.Greater(t, red(buf, 13, 8), 150)

	r.SetMirror(true, false)
	buf = renderOne(t, r, win, splitFrame(16, 16, 33333))
	assert.Greater(t, red(buf, 2, 8), 150)
	assert.Less(t, red(buf, 13, 8), 100)
}

func TestRendererRaster(t *testing.T) {
	win := native.NewBufferQueue(32, 16, 4, native.FormatRGBA8888)
	r := newRenderer(t, win, Options{Raster: true, ScalingMode: ScaleAspectFit})
	require.True(t, r.Raster())

	buf := renderOne(t, r, win, grayFrame(16, 16, 2000))
	assert.EqualValues(t, 2000*1000, buf.TimestampNs)
	assert.Equal(t, 0, red(buf, 2, 8))
	assert.Equal(t, 130, red(buf, 16, 8))
	assert.Equal(t, 0xff, int(buf.Pixels[8*buf.Stride+4*16+3]))

	// Stretched to the whole window.
	r.SetScalingMode(ScaleFill)
	buf = renderOne(t, r, win, grayFrame(16, 16, 3000))
	assert.Equal(t, 130, red(buf, 0, 0))
	assert.Equal(t, 130, red(buf, 31, 15))

	_, err := NewWindowRenderer("yuyv", native.NewBufferQueue(16, 16, 1, native.FormatYUYV), Options{Raster: true})
	assert.Error(t, err)
}

func TestRendererDropsPendingFrames(t *testing.T) {
	win := native.NewBufferQueue(16, 16, 4, native.FormatRGBA8888)
	r := newRenderer(t, win, Options{})

	block := make(chan struct{})
	require.True(t, r.thread.Post(func() { <-block }))
	for i := 0; i < 3; i++ {
		r.OnFrame(grayFrame(16, 16, int64(i)*1000))
	}
	close(block)
	require.Eventually(t, func() bool { return r.Stats().Rendered == 1 }, 5*time.Second, time.Millisecond)

	stats := r.Stats()
	assert.Equal(t, 3, stats.Received)
	assert.Equal(t, 2, stats.Dropped)
	assert.EqualValues(t, 2000, stats.LastTimestampUs)

	r.Release()
	r.OnFrame(grayFrame(16, 16, 5000))
	assert.Equal(t, 3, r.Stats().Received)
}
