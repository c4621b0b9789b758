package media

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindScaleSequence(t *testing.T) {
	const in = 1280 * 720
	assert.Equal(t, fraction{1, 1}, findScale(in, in, in))
	assert.Equal(t, fraction{3, 4}, findScale(in, in*9/16, in))
	assert.Equal(t, fraction{1, 2}, findScale(in, in/4, in))
	assert.Equal(t, fraction{3, 8}, findScale(in, in*9/64, in))
}

func TestAdaptResolution(t *testing.T) {
	a := NewVideoAdapter(2)
	a.OnSinkWants(SinkWants{MaxPixelCount: 640 * 360})

	cw, ch, ow, oh, ok := a.AdaptFrameResolution(1280, 720, 0)
	require.True(t, ok)
	assert.Equal(t, 1280, cw)
	assert.Equal(t, 720, ch)
	assert.Equal(t, 640, ow)
	assert.Equal(t, 360, oh)
	assert.LessOrEqual(t, ow*oh, 640*360)
}

func TestAdaptNoWants(t *testing.T) {
	a := NewVideoAdapter(1)
	cw, ch, ow, oh, ok := a.AdaptFrameResolution(1201, 2593, 0)
	require.True(t, ok)
	assert.Equal(t, [4]int{1201, 2593, 1201, 2593}, [4]int{cw, ch, ow, oh})
}

func TestFramerateLimit(t *testing.T) {
	a := NewVideoAdapter(1)
	a.OnSinkWants(SinkWants{MaxFramerateFps: 15})

	kept := 0
	interval := int64(time.Second / 30)
	for i := int64(0); i < 60; i++ {
		if _, _, _, _, ok := a.AdaptFrameResolution(640, 480, i*interval); ok {
			kept++
		}
	}
	assert.InDelta(t, 30, kept, 1)
	in, dropped := a.Stats()
	assert.Equal(t, 60, in)
	assert.Equal(t, 60-kept, dropped)
}

func TestAdaptedSourceScalesI420(t *testing.T) {
	s := NewAdaptedSource(1, 1)
	sink := newRecordingSink()
	s.AddOrUpdateSink(sink, SinkWants{MaxPixelCount: 320 * 240})

	require.True(t, s.Deliver(NewVideoFrame(NewI420Buffer(640, 480), Rotation0, 0)))
	<-sink.got
	s.Close()

	f := sink.frames[0]
	assert.Equal(t, 320, f.Width())
	assert.Equal(t, 240, f.Height())
}
