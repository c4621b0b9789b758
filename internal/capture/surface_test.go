package capture

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/lanikai/alohavideo/internal/media"
	"github.com/lanikai/alohavideo/internal/native"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// gateSink blocks in OnFrame until opened, and counts frames delivered
// after stopped is set.
type gateSink struct {
	entered chan struct{}
	gate    chan struct{}
	stopped atomic.Bool
	late    atomic.Int32
	total   atomic.Int32
}

func newGateSink() *gateSink {
	return &gateSink{entered: make(chan struct{}, 100), gate: make(chan struct{})}
}

func (s *gateSink) OnFrame(f *media.VideoFrame) {
	if s.stopped.Load() {
		s.late.Add(1)
	}
	s.total.Add(1)
	s.entered <- struct{}{}
	<-s.gate
}

func TestNoFramesAfterStop(t *testing.T) {
	for _, tc := range []struct {
		name string
		src  Capturer
	}{
		{"camera", NewCamera(Options{Name: "stop-camera", SinkQueueSize: 2})},
		{"screen-buffer", NewScreen(ScreenOptions{Options: Options{Name: "stop-screen", SinkQueueSize: 2}, Mode: ScreenBuffer})},
	} {
		t.Run(tc.name, func(t *testing.T) {
			src := tc.src
			defer src.Release()
			require.NoError(t, src.Init(32, 32))
			win := src.Window()
			require.NotNil(t, win)

			sink := newGateSink()
			src.AddOrUpdateSink(sink, media.SinkWants{})
			require.NoError(t, src.Start())

			base := MonotonicNs()
			fill(t, win, 0, base)
			select {
			case <-sink.entered:
			case <-time.After(5 * time.Second):
				t.Fatal("first frame not delivered")
			}
			fill(t, win, 1, base+int64(33*time.Millisecond))
			time.Sleep(20 * time.Millisecond)

			stopped := make(chan error)
			go func() { stopped <- src.Stop() }()
			select {
			case <-stopped:
				t.Fatal("Stop returned while a sink was inside OnFrame")
			case <-time.After(20 * time.Millisecond):
			}
			close(sink.gate)
			require.NoError(t, <-stopped)
			sink.stopped.Store(true)

			fill(t, win, 2, base+int64(66*time.Millisecond))
			time.Sleep(50 * time.Millisecond)
			assert.Zero(t, sink.late.Load())
			assert.EqualValues(t, 1, sink.total.Load())
		})
	}
}

func TestNoFramesAfterRelease(t *testing.T) {
	cam := NewCamera(Options{Name: "release-camera", SinkQueueSize: 4})
	require.NoError(t, cam.Init(32, 32))
	win := cam.Window()
	sink := newGateSink()
	cam.AddOrUpdateSink(sink, media.SinkWants{})
	require.NoError(t, cam.Start())

	fill(t, win, 0, MonotonicNs())
	<-sink.entered
	released := make(chan error)
	go func() { released <- cam.Release() }()
	time.Sleep(20 * time.Millisecond)
	close(sink.gate)
	require.NoError(t, <-released)
	sink.stopped.Store(true)

	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, sink.late.Load())
	assert.Equal(t, StateReleased, cam.State())
}

func TestHeldTextureFrameKeepsImage(t *testing.T) {
	cam := NewCamera(Options{Name: "held-camera"})
	defer cam.Release()
	require.NoError(t, cam.Init(32, 32))
	win, ok := native.LookupWindow(cam.SurfaceID())
	require.True(t, ok)

	sink := newFrameSink(0)
	sink.retain = true
	cam.AddOrUpdateSink(sink, media.SinkWants{})
	require.NoError(t, cam.Start())

	base := MonotonicNs()
	fill(t, win, 2, base)
	held := sink.next(t)

	// The newer image waits until the held frame is released.
	fill(t, win, 5, base+int64(33*time.Millisecond))
	sink.expectNone(t, 50*time.Millisecond)
	i420 := held.Buffer.ToI420()
	require.NotNil(t, i420)
	assert.InDelta(t, stampLuma(2), int(i420.DataY()[0]), 2)

	held.Release()
	next := sink.next(t)
	defer next.Release()
	i420 = next.Buffer.ToI420()
	require.NotNil(t, i420)
	assert.InDelta(t, stampLuma(5), int(i420.DataY()[0]), 2)
	assert.Greater(t, next.TimestampUs, held.TimestampUs)
}
