//////////////////////////////////////////////////////////////////////////////
//
// Broadcast video frames from one producer to multiple sinks.
//
// Each sink has its own queue and delivery goroutine, so a slow sink never
// blocks the producer or other sinks. Once a sink's queue is full, the
// oldest frame is dropped for each new frame. Frames are shallow copies:
// buffers are shared between sinks and must not be modified.
//
// Copyright 2019 Lanikai Labs LLC. All rights reserved.
//
//////////////////////////////////////////////////////////////////////////////

package media

import (
	"reflect"
	"sync"
	"sync/atomic"
)

// SinkStats counts a sink's frames.
type SinkStats struct {
	Delivered uint64
	Dropped   uint64
}

// queuedFrame remembers the flush generation it was queued in.
type queuedFrame struct {
	frame *VideoFrame
	gen   uint64
}

type sinkPipe struct {
	sink   VideoSink
	wants  SinkWants
	frames chan queuedFrame
	quit   chan struct{}
	done   chan struct{}

	// Held across sink.OnFrame.
	busy sync.Mutex

	delivered atomic.Uint64
	dropped   atomic.Uint64
}

func (p *sinkPipe) run(gen *atomic.Uint64) {
	defer close(p.done)
	for {
		select {
		case <-p.quit:
			return
		case q := <-p.frames:
			p.busy.Lock()
			// Removal wins over a frame that raced with it, and a flush
			// discards everything queued before it.
			select {
			case <-p.quit:
				p.busy.Unlock()
				q.frame.Release()
				return
			default:
			}
			if q.gen != gen.Load() {
				p.busy.Unlock()
				q.frame.Release()
				p.dropped.Add(1)
				continue
			}
			p.sink.OnFrame(q.frame)
			p.busy.Unlock()
			q.frame.Release()
			p.delivered.Add(1)
		}
	}
}

// drain releases every queued frame and reports how many there were.
func (p *sinkPipe) drain() int {
	n := 0
	for {
		select {
		case q := <-p.frames:
			q.frame.Release()
			n++
		default:
			return n
		}
	}
}

// VideoBroadcaster implements VideoSource and VideoSink.
type VideoBroadcaster struct {
	queueSize int

	mu            sync.Mutex
	sinks         []*sinkPipe
	wants         SinkWants
	wantsObserver func(SinkWants)
	lastTimestamp int64
	haveFrame     bool

	// Bumped by Flush.
	gen atomic.Uint64
}

// NewVideoBroadcaster buffers up to queueSize frames per sink.
func NewVideoBroadcaster(queueSize int) *VideoBroadcaster {
	if queueSize < 1 {
		panic("media.VideoBroadcaster: queue size must be nonzero")
	}
	return &VideoBroadcaster{queueSize: queueSize}
}

// SetWantsObserver registers fn to be called with the aggregated wants
// whenever a sink is added, updated or removed.
func (b *VideoBroadcaster) SetWantsObserver(fn func(SinkWants)) {
	b.mu.Lock()
	b.wantsObserver = fn
	wants := b.wants
	b.mu.Unlock()
	if fn != nil {
		fn(wants)
	}
}

// sameSink reports whether a and b are the same sink. Uncomparable sinks,
// such as a VideoSinkFunc, never match and can only be removed by Close.
func sameSink(a, b VideoSink) bool {
	ta := reflect.TypeOf(a)
	if ta == nil || ta != reflect.TypeOf(b) || !ta.Comparable() {
		return false
	}
	return a == b
}

func (b *VideoBroadcaster) find(sink VideoSink) int {
	for i, p := range b.sinks {
		if sameSink(p.sink, sink) {
			return i
		}
	}
	return -1
}

func (b *VideoBroadcaster) AddOrUpdateSink(sink VideoSink, wants SinkWants) {
	b.mu.Lock()
	if i := b.find(sink); i >= 0 {
		b.sinks[i].wants = wants
	} else {
		p := &sinkPipe{
			sink:   sink,
			wants:  wants,
			frames: make(chan queuedFrame, b.queueSize),
			quit:   make(chan struct{}),
			done:   make(chan struct{}),
		}
		b.sinks = append(b.sinks, p)
		go p.run(&b.gen)
	}
	b.updateWantsLocked()
}

// RemoveSink stops delivery to sink. When it returns, no OnFrame call to the
// sink is in progress and none will follow. It must not be called from the
// sink's own OnFrame.
func (b *VideoBroadcaster) RemoveSink(sink VideoSink) {
	b.mu.Lock()
	i := b.find(sink)
	if i < 0 {
		b.mu.Unlock()
		return
	}
	b.removeLocked(i)
}

// removeLocked unregisters the i'th sink, unlocks b and waits for the
// sink's goroutine to exit.
func (b *VideoBroadcaster) removeLocked(i int) {
	p := b.sinks[i]
	b.sinks = append(b.sinks[:i], b.sinks[i+1:]...)
	close(p.quit)
	b.updateWantsLocked()

	<-p.done
	p.drain()
}

// Flush discards queued frames and waits for OnFrame calls in progress.
// When it returns, no frame passed to OnFrame before the call reaches a
// sink. It must not be called from a sink's OnFrame.
func (b *VideoBroadcaster) Flush() {
	b.mu.Lock()
	b.gen.Add(1)
	sinks := append([]*sinkPipe(nil), b.sinks...)
	b.mu.Unlock()

	for _, p := range sinks {
		p.dropped.Add(uint64(p.drain()))
		p.busy.Lock()
		p.busy.Unlock()
	}
}

// updateWantsLocked recomputes the aggregated wants, then unlocks b and
// notifies the observer if they changed.
func (b *VideoBroadcaster) updateWantsLocked() {
	var w SinkWants
	for _, p := range b.sinks {
		w = combineWants(w, p.wants)
	}
	changed := w != b.wants
	b.wants = w
	observer := b.wantsObserver
	b.mu.Unlock()

	if changed && observer != nil {
		observer(w)
	}
}

func minPositive(a, b int) int {
	switch {
	case a <= 0:
		return b
	case b <= 0:
		return a
	}
	return min(a, b)
}

func lcm(a, b int) int {
	a, b = max(a, 1), max(b, 1)
	x, y := a, b
	for y != 0 {
		x, y = y, x%y
	}
	return a / x * b
}

func combineWants(a, b SinkWants) SinkWants {
	return SinkWants{
		RotationApplied:     a.RotationApplied || b.RotationApplied,
		MaxPixelCount:       minPositive(a.MaxPixelCount, b.MaxPixelCount),
		TargetPixelCount:    minPositive(a.TargetPixelCount, b.TargetPixelCount),
		MaxFramerateFps:     minPositive(a.MaxFramerateFps, b.MaxFramerateFps),
		ResolutionAlignment: lcm(a.ResolutionAlignment, b.ResolutionAlignment),
	}
}

// Wants returns the aggregate of all sinks' wants.
func (b *VideoBroadcaster) Wants() SinkWants {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.wants
}

func (b *VideoBroadcaster) NumSinks() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.sinks)
}

// Stats returns the counters for sink, or false if it is not registered.
func (b *VideoBroadcaster) Stats(sink VideoSink) (SinkStats, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	i := b.find(sink)
	if i < 0 {
		return SinkStats{}, false
	}
	p := b.sinks[i]
	return SinkStats{Delivered: p.delivered.Load(), Dropped: p.dropped.Load()}, true
}

// OnFrame queues frame for every sink. Frames older than the previous one
// are dropped so that each sink sees non-decreasing timestamps.
func (b *VideoBroadcaster) OnFrame(frame *VideoFrame) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.haveFrame && frame.TimestampUs < b.lastTimestamp {
		log.Warn("Dropping out-of-order frame: %d < %d", frame.TimestampUs, b.lastTimestamp)
		return
	}
	b.lastTimestamp, b.haveFrame = frame.TimestampUs, true

	gen := b.gen.Load()
	var rotated *VideoFrame
	for _, p := range b.sinks {
		f := frame
		if p.wants.RotationApplied && frame.Rotation != Rotation0 {
			if rotated == nil {
				rotated = frame.ApplyRotation()
			}
			if rotated == nil {
				p.dropped.Add(1)
				continue
			}
			f = rotated
		}

		q := queuedFrame{f, gen}
		f.Retain()
		select {
		case p.frames <- q:
		default:
			// Drop oldest frame, add newest
			select {
			case old := <-p.frames:
				old.frame.Release()
				p.dropped.Add(1)
			default:
			}
			select {
			case p.frames <- q:
			default:
				f.Release()
				p.dropped.Add(1)
			}
		}
	}
}

// Close removes all sinks.
func (b *VideoBroadcaster) Close() error {
	for {
		b.mu.Lock()
		if len(b.sinks) == 0 {
			b.mu.Unlock()
			return nil
		}
		b.removeLocked(len(b.sinks) - 1)
	}
}
