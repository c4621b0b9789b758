package media

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu     sync.Mutex
	frames []*VideoFrame
	delay  time.Duration
	got    chan struct{}
}

func newRecordingSink() *recordingSink {
	return &recordingSink{got: make(chan struct{}, 1000)}
}

func (s *recordingSink) OnFrame(f *VideoFrame) {
	time.Sleep(s.delay)
	s.mu.Lock()
	s.frames = append(s.frames, f)
	s.mu.Unlock()
	s.got <- struct{}{}
}

func (s *recordingSink) timestamps() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ts []int64
	for _, f := range s.frames {
		ts = append(ts, f.TimestampUs)
	}
	return ts
}

func testFrame(ts int64) *VideoFrame {
	return NewVideoFrame(NewI420Buffer(4, 4), Rotation0, ts)
}

func TestBroadcastToManySinks(t *testing.T) {
	b := NewVideoBroadcaster(1)

	var wg sync.WaitGroup

	// Hundred sinks
	for i := 0; i < 100; i++ {
		wg.Add(1)
		var once sync.Once
		b.AddOrUpdateSink(VideoSinkFunc(func(f *VideoFrame) {
			once.Do(wg.Done)
		}), SinkWants{})
	}

	// Write frames until every sink has received one
	done := make(chan struct{})
	go func() {
		for ts := int64(0); ; ts++ {
			select {
			case <-done:
				return
			default:
				b.OnFrame(testFrame(ts))
			}
		}
	}()

	wg.Wait()
	close(done)
	b.Close()
	assert.Equal(t, 0, b.NumSinks())
}

func TestOrderPreservedPerSink(t *testing.T) {
	b := NewVideoBroadcaster(100)
	sink := newRecordingSink()
	b.AddOrUpdateSink(sink, SinkWants{})

	for ts := int64(0); ts < 50; ts++ {
		b.OnFrame(testFrame(ts))
	}
	// Out-of-order frame is dropped.
	b.OnFrame(testFrame(10))

	for i := 0; i < 50; i++ {
		<-sink.got
	}
	b.RemoveSink(sink)

	ts := sink.timestamps()
	require.Len(t, ts, 50)
	for i := range ts {
		assert.EqualValues(t, i, ts[i])
	}
}

func TestSlowSinkDropsOldest(t *testing.T) {
	b := NewVideoBroadcaster(1)
	slow := newRecordingSink()
	slow.delay = 20 * time.Millisecond
	fast := newRecordingSink()
	b.AddOrUpdateSink(slow, SinkWants{})
	b.AddOrUpdateSink(fast, SinkWants{})

	for ts := int64(0); ts < 20; ts++ {
		b.OnFrame(testFrame(ts))
		time.Sleep(time.Millisecond)
	}

	settled := func(sink VideoSink) func() bool {
		return func() bool {
			stats, ok := b.Stats(sink)
			return ok && stats.Delivered+stats.Dropped == 20
		}
	}
	require.Eventually(t, settled(slow), 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, settled(fast), 2*time.Second, 5*time.Millisecond)

	stats, _ := b.Stats(slow)
	assert.NotZero(t, stats.Dropped)
	b.Close()

	// Both sinks saw the newest frame last.
	for _, sink := range []*recordingSink{slow, fast} {
		ts := sink.timestamps()
		require.NotEmpty(t, ts)
		assert.EqualValues(t, 19, ts[len(ts)-1])
	}
}

func TestNoFramesAfterRemove(t *testing.T) {
	b := NewVideoBroadcaster(4)
	sink := newRecordingSink()
	sink.delay = 5 * time.Millisecond
	b.AddOrUpdateSink(sink, SinkWants{})
	for ts := int64(0); ts < 4; ts++ {
		b.OnFrame(testFrame(ts))
	}
	b.RemoveSink(sink)
	n := len(sink.timestamps())

	b.OnFrame(testFrame(100))
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, sink.timestamps(), n)
}

func TestAggregatedWants(t *testing.T) {
	b := NewVideoBroadcaster(1)
	var observed []SinkWants
	b.SetWantsObserver(func(w SinkWants) { observed = append(observed, w) })

	s1, s2 := newRecordingSink(), newRecordingSink()
	b.AddOrUpdateSink(s1, SinkWants{MaxPixelCount: 640 * 480, MaxFramerateFps: 30, ResolutionAlignment: 2})
	b.AddOrUpdateSink(s2, SinkWants{MaxPixelCount: 320 * 240, RotationApplied: true, ResolutionAlignment: 3})

	w := b.Wants()
	assert.Equal(t, 320*240, w.MaxPixelCount)
	assert.Equal(t, 30, w.MaxFramerateFps)
	assert.True(t, w.RotationApplied)
	assert.Equal(t, 6, w.ResolutionAlignment)

	b.RemoveSink(s2)
	assert.Equal(t, 640*480, b.Wants().MaxPixelCount)
	assert.Equal(t, b.Wants(), observed[len(observed)-1])
	b.Close()
}

func TestRotationApplied(t *testing.T) {
	b := NewVideoBroadcaster(1)
	rotated, raw := newRecordingSink(), newRecordingSink()
	b.AddOrUpdateSink(rotated, SinkWants{RotationApplied: true})
	b.AddOrUpdateSink(raw, SinkWants{})

	f := NewVideoFrame(NewI420Buffer(8, 4), Rotation90, 1)
	b.OnFrame(f)
	<-rotated.got
	<-raw.got
	b.Close()

	assert.Equal(t, Rotation0, rotated.frames[0].Rotation)
	assert.Equal(t, 4, rotated.frames[0].Width())
	assert.Equal(t, 8, rotated.frames[0].Height())
	assert.Same(t, f, raw.frames[0])
}

func TestFlushWaitsForDelivery(t *testing.T) {
	b := NewVideoBroadcaster(2)
	entered := make(chan struct{}, 1)
	unblock := make(chan struct{})
	sink := newRecordingSink()
	blocking := &blockingSink{sink, entered, unblock}
	b.AddOrUpdateSink(blocking, SinkWants{})

	b.OnFrame(testFrame(1))
	<-entered
	b.OnFrame(testFrame(2))

	flushed := make(chan struct{})
	go func() {
		b.Flush()
		close(flushed)
	}()
	select {
	case <-flushed:
		t.Fatal("flush returned during OnFrame")
	case <-time.After(20 * time.Millisecond):
	}
	close(unblock)
	<-flushed

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, []int64{1}, sink.timestamps())
	stats, _ := b.Stats(blocking)
	assert.EqualValues(t, 1, stats.Dropped)

	// Frames after the flush are delivered.
	b.OnFrame(testFrame(3))
	require.Eventually(t, func() bool { return len(sink.timestamps()) == 2 }, time.Second, time.Millisecond)
	b.Close()
}

type blockingSink struct {
	*recordingSink
	entered chan struct{}
	unblock chan struct{}
}

func (s *blockingSink) OnFrame(f *VideoFrame) {
	select {
	case s.entered <- struct{}{}:
	default:
	}
	<-s.unblock
	s.recordingSink.OnFrame(f)
}

type countedBuffer struct {
	*I420Buffer
	refs *atomic.Int32
}

func (b countedBuffer) Retain()  { b.refs.Add(1) }
func (b countedBuffer) Release() { b.refs.Add(-1) }

func TestQueuedFramesHoldReference(t *testing.T) {
	var refs atomic.Int32
	b := NewVideoBroadcaster(1)
	slow := newRecordingSink()
	slow.delay = 10 * time.Millisecond
	b.AddOrUpdateSink(slow, SinkWants{})
	b.AddOrUpdateSink(newRecordingSink(), SinkWants{})

	for ts := int64(0); ts < 10; ts++ {
		b.OnFrame(NewVideoFrame(countedBuffer{NewI420Buffer(4, 4), &refs}, Rotation0, ts))
		assert.Positive(t, refs.Load())
	}
	b.Close()
	assert.Zero(t, refs.Load())
}
