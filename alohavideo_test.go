package alohavideo

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lanikai/alohavideo/internal/capture"
	"github.com/lanikai/alohavideo/internal/media"
	"github.com/lanikai/alohavideo/internal/media/h264"
	"github.com/lanikai/alohavideo/internal/native"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func grayFrame(w, h int, luma byte, tsUs int64) *VideoFrame {
	buf := media.NewI420Buffer(w, h)
	p := buf.Planar()
	for i := range p.Y {
		p.Y[i] = luma
	}
	for i := range p.U {
		p.U[i] = 128
	}
	for i := range p.V {
		p.V[i] = 128
	}
	return media.NewVideoFrame(buf, media.Rotation0, tsUs)
}

// Camera surface, hardware encoder and decoder, texture frames into a
// window renderer.
func TestLoopbackCameraToRenderer(t *testing.T) {
	for _, tc := range []struct {
		name          string
		width, height int
	}{
		{"small", 64, 48},
		{"vga", 640, 480},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if tc.width >= 640 && testing.Short() {
				t.Skip("full-size software rendering")
			}
			cfg := DefaultConfig()
			cfg.DequeueTimeout = 100 * time.Millisecond
			useConfig(t, cfg)

			const fps = 30
			st, err := RunLoopback(context.Background(), LoopbackOptions{
				Width: tc.width, Height: tc.height, FPS: fps, Frames: 30,
			})
			require.NoError(t, err)

			assert.Equal(t, 30, st.Produced)
			assert.True(t, st.EncoderHardware)
			assert.True(t, st.DecoderHardware)
			assert.Equal(t, 1, st.ConfigBlobs)
			assert.NotZero(t, st.Encoded)
			assert.Zero(t, st.EncodeFailures)
			assert.Equal(t, st.EncodedRTP, st.DecodedRTP)
			assert.NotZero(t, st.Render.Rendered)

			interval := int64(time.Second/fps) / 1000
			assert.InDelta(t, st.LastCapturedUs, st.Render.LastTimestampUs, float64(interval))
		})
	}
}

func TestLoopbackScreenBuffer(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DequeueTimeout = 100 * time.Millisecond
	useConfig(t, cfg)

	st, err := RunLoopback(context.Background(), LoopbackOptions{
		Width: 48, Height: 32, FPS: 30, Frames: 10, Mode: ScreenBuffer,
	})
	require.NoError(t, err)
	assert.Equal(t, 10, st.Produced)
	assert.Equal(t, st.EncodedRTP, st.DecodedRTP)
	assert.NotZero(t, st.Render.Rendered)
}

// A slow encoder behind a buffer-mode capture with a one-buffer queue sees
// a bounded queue and drops the surplus frames.
func TestScreenCaptureSlowConsumer(t *testing.T) {
	if testing.Short() {
		t.Skip("timing test")
	}
	const (
		fps   = 15
		delay = 200 * time.Millisecond
		run   = 2 * time.Second
	)
	screen := NewScreenCapture(ScreenBuffer)
	defer screen.Release()
	require.NoError(t, screen.Init(120, 256))
	win, ok := native.LookupWindow(screen.SurfaceID())
	require.True(t, ok)

	enc, err := NewSoftwareEncoderFactory().CreateEncoder(H264Format("42e01f"))
	require.NoError(t, err)
	defer enc.Release()
	require.Equal(t, media.StatusOK, enc.InitEncode(&media.VideoCodecSettings{
		CodecType: media.CodecH264, Width: 120, Height: 256, MaxBitrateBps: 2_000_000, MaxFramerate: fps,
	}))
	var encoded atomic.Int64
	enc.RegisterEncodeCompleteCallback(media.EncodedImageCallbackFunc(func(*EncodedImage) { encoded.Add(1) }))

	consumed := make(chan struct{}, 100)
	screen.AddOrUpdateSink(media.VideoSinkFunc(func(f *VideoFrame) {
		enc.Encode(f, nil)
		time.Sleep(delay)
		consumed <- struct{}{}
	}), SinkWants{})
	require.NoError(t, screen.Start())

	ctx, cancel := context.WithTimeout(context.Background(), run)
	defer cancel()
	gen := native.NewGenerator(win, fps, capture.MonotonicNs)
	var g errgroup.Group
	g.Go(func() error {
		if err := gen.Run(ctx, 0); errors.Cause(err) != context.DeadlineExceeded {
			return err
		}
		return nil
	})
	require.NoError(t, g.Wait())
	require.NoError(t, screen.Stop())

	produced := gen.Frames()
	got := len(consumed)
	st := screen.Stats()
	assert.LessOrEqual(t, st.MaxQueueDepth, 1)

	want := float64(fps-int(time.Second/delay)) / fps
	dropRate := float64(produced-got) / float64(produced)
	assert.InDelta(t, want, dropRate, 0.2, "produced %d, consumed %d", produced, got)
	assert.GreaterOrEqual(t, int(encoded.Load()), got)
}

func TestHardwareBlocklistSelectsSoftware(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HardwareBlocklist = []string{"42e01f"}
	useConfig(t, cfg)

	f, err := NewEncoderFactory(nil, false)
	require.NoError(t, err)
	enc, err := f.CreateEncoder(H264Format("42e01f"))
	require.NoError(t, err)
	defer enc.Release()
	require.Equal(t, media.StatusOK, enc.InitEncode(&media.VideoCodecSettings{
		CodecType: media.CodecH264, Width: 32, Height: 16, MaxBitrateBps: 500_000,
	}))
	assert.False(t, IsHardwareAccelerated(enc))
}

func TestH264VideoTrack(t *testing.T) {
	settings := EncoderSettings(32, 16, 30, 500_000)
	settings.KeyFrameInterval = 100
	track, err := NewH264VideoTrack(NewSoftwareEncoderFactory(), H264Format("42e01f"), settings, "video", "stream")
	require.NoError(t, err)
	defer track.Close()
	assert.Equal(t, "video", track.ID())
	assert.Equal(t, "stream", track.StreamID())

	var images []*EncodedImage
	track.OnEncodedImage(func(img *EncodedImage) { images = append(images, img) })

	for i := 0; i < 3; i++ {
		if i == 2 {
			track.RequestKeyFrame()
		}
		track.OnFrame(grayFrame(32, 16, 100, int64(i)*33_000))
	}
	require.Len(t, images, 3)
	assert.True(t, images[0].IsKey())
	assert.False(t, images[1].IsKey())
	assert.True(t, images[2].IsKey())

	enc, fail := track.Stats()
	assert.EqualValues(t, 3, enc)
	assert.Zero(t, fail)

	pic, err := h264.NewDecoder().Decode(images[2].Data)
	require.NoError(t, err)
	require.NotNil(t, pic)
	assert.Equal(t, byte(100), pic.Y[0])
}

func TestH264VideoTrackSampleDuration(t *testing.T) {
	settings := EncoderSettings(32, 16, 15, 500_000)
	track, err := NewH264VideoTrack(NewSoftwareEncoderFactory(), H264Format("42e01f"), settings, "video", "stream")
	require.NoError(t, err)
	defer track.Close()

	// Uneven capture gaps do not change the written duration.
	assert.Equal(t, time.Second/15, track.SampleDuration())
	track.OnFrame(grayFrame(32, 16, 100, 0))
	track.OnFrame(grayFrame(32, 16, 100, 90_000))
	assert.Equal(t, time.Second/15, track.SampleDuration())

	track.SetRates(300_000, 25)
	assert.Equal(t, 40*time.Millisecond, track.SampleDuration())
	track.SetRates(300_000, 0)
	assert.Equal(t, 40*time.Millisecond, track.SampleDuration())
}

func TestRendererHandle(t *testing.T) {
	r := NewRenderer()
	err := r.Init(1<<60, nil)
	assert.Equal(t, errNoSurface, errors.Cause(err))

	win := native.NewBufferQueue(16, 16, 1, native.FormatRGBA8888)
	id := RegisterSurface(win)
	defer UnregisterSurface(id)

	r.SetScalingMode(ScaleFill)
	r.SetMirrorHorizontally(true)
	require.NoError(t, r.Init(id, nil))
	assert.Error(t, r.Init(id, nil))

	remote := NewRemoteVideoTrack("remote")
	defer remote.Close()
	r.SetVideoTrack(remote)

	remote.OnDecoded(grayFrame(8, 8, 128, 1_000))
	require.Eventually(t, func() bool { return r.Stats().Rendered == 1 }, 5*time.Second, time.Millisecond)
	assert.EqualValues(t, 1_000, r.Stats().LastTimestampUs)

	r.SetVideoTrack(nil)
	remote.OnDecoded(grayFrame(8, 8, 128, 2_000))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, r.Stats().Received)

	r.Release()
	r.Release()
	assert.Equal(t, errReleased, errors.Cause(r.Init(id, nil)))
	assert.Equal(t, RenderStats{}, r.Stats())
}

func TestOpenSource(t *testing.T) {
	assert.Contains(t, SourceTypes(), "pattern")
	assert.Contains(t, SourceTypes(), "screen")

	src, err := OpenSource("pattern:32x16@30")
	require.NoError(t, err)
	defer src.Release()

	frames := make(chan *VideoFrame, 10)
	src.AddOrUpdateSink(media.VideoSinkFunc(func(f *VideoFrame) {
		select {
		case frames <- f:
		default:
		}
	}), SinkWants{})
	require.NoError(t, src.Init(0, 0))
	require.NoError(t, src.Start())
	defer src.Stop()

	select {
	case f := <-frames:
		assert.Equal(t, 32, f.Width())
		assert.Equal(t, 16, f.Height())
	case <-time.After(5 * time.Second):
		t.Fatal("no frame from pattern source")
	}
}
