package capture

import (
	"image"
	"sync"
	"sync/atomic"

	"github.com/lanikai/alohavideo/internal/color"
	"github.com/lanikai/alohavideo/internal/media"
	"github.com/lanikai/alohavideo/internal/native"
	"github.com/pkg/errors"
)

// Capturer is the surface-backed source API shared by the capture modes.
type Capturer interface {
	media.Source

	State() State
	SurfaceID() uint64
	Window() native.Window
	SetRotation(r media.Rotation)
	Stats() Stats
	LastTimestampUs() int64
}

type ScreenMode int

const (
	// Frames are latched into an external texture, as for a camera.
	ScreenTexture ScreenMode = iota

	// Frames stay in CPU memory and are delivered as I420.
	ScreenBuffer
)

func (m ScreenMode) String() string {
	if m == ScreenBuffer {
		return "buffer"
	}
	return "texture"
}

type ScreenOptions struct {
	Options

	Mode ScreenMode

	// Buffers held for the delivery goroutine in buffer mode. When the
	// queue is full the oldest buffer is overwritten.
	QueueSize int
}

// Screen is a screen-capture source.
type Screen struct {
	Capturer
	mode ScreenMode
}

func NewScreen(opts ScreenOptions) *Screen {
	opts.setDefaults("screen")
	if opts.Mode == ScreenBuffer {
		return &Screen{newBufferSource(opts.Options, opts.QueueSize, native.FormatRGBA8888), ScreenBuffer}
	}
	return &Screen{newSurfaceSource(opts.Options), ScreenTexture}
}

func (s *Screen) Mode() ScreenMode { return s.mode }

// bufferSource receives RGBA buffers through a bounded queue and delivers
// them as I420 frames from its own goroutine.
type bufferSource struct {
	*media.AdaptedSource

	opts      Options
	queueSize int
	format    native.PixelFormat
	clock     *ClockConverter

	// Serializes lifecycle calls; held while waiting for the loop.
	lifecycle sync.Mutex

	mu        sync.Mutex
	state     State
	rotation  media.Rotation
	queue     *native.BufferQueue
	surfaceID uint64
	loop      *media.Loop

	available chan struct{}
	captured  atomic.Uint64
	rejected  atomic.Uint64
	maxDepth  atomic.Int64
	lastUs    atomic.Int64
}

func newBufferSource(opts Options, queueSize int, format native.PixelFormat) *bufferSource {
	s := &bufferSource{
		AdaptedSource: media.NewAdaptedSource(opts.SinkQueueSize, opts.Alignment),
		opts:          opts,
		queueSize:     max(queueSize, 1),
		format:        format,
		clock:         NewClockConverter(),
		rotation:      opts.Rotation,
		available:     make(chan struct{}, 1),
	}
	s.loop = media.NewLoop(opts.Name, s.deliverLoop)
	return s
}

func (s *bufferSource) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *bufferSource) SurfaceID() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.surfaceID
}

func (s *bufferSource) Window() native.Window {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.queue == nil {
		return nil
	}
	return s.queue
}

func (s *bufferSource) SetRotation(r media.Rotation) {
	s.mu.Lock()
	s.rotation = r
	s.mu.Unlock()
}

func (s *bufferSource) Init(width, height int) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateUninit:
	case StateReleased:
		return ErrReleased
	default:
		return errors.Errorf("%s: already initialized", s.opts.Name)
	}
	if width <= 0 || height <= 0 {
		return errors.Errorf("%s: invalid size %dx%d", s.opts.Name, width, height)
	}

	s.queue = native.NewBufferQueue(width, height, s.queueSize, s.format)
	s.queue.SetOnBufferAvailable(s.bufferAvailable)
	s.surfaceID = native.RegisterWindow(s.queue)
	s.state = StateInit
	log.Debug("%s: initialized %dx%d %v buffer capture, queue size %d", s.opts.Name, width, height, s.format, s.queueSize)
	return nil
}

// bufferAvailable runs on the producer's goroutine.
func (s *bufferSource) bufferAvailable() {
	depth := int64(s.queue.Pending())
	for {
		cur := s.maxDepth.Load()
		if depth <= cur || s.maxDepth.CompareAndSwap(cur, depth) {
			break
		}
	}
	select {
	case s.available <- struct{}{}:
	default:
	}
}

func (s *bufferSource) Start() error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	s.mu.Lock()
	switch s.state {
	case StateUninit:
		s.mu.Unlock()
		return ErrNotInitialized
	case StateReleased:
		s.mu.Unlock()
		return ErrReleased
	case StateRunning:
		s.mu.Unlock()
		return nil
	}
	// Buffers queued while stopped are stale.
	for b := s.queue.Acquire(); b != nil; b = s.queue.Acquire() {
		s.queue.Release(b)
	}
	s.clock.Reset()
	s.state = StateRunning
	s.mu.Unlock()

	s.loop.Start()
	return nil
}

func (s *bufferSource) Stop() error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	s.mu.Lock()
	switch s.state {
	case StateUninit:
		s.mu.Unlock()
		return ErrNotInitialized
	case StateReleased:
		s.mu.Unlock()
		return ErrReleased
	case StateRunning:
		s.state = StateStopped
		s.mu.Unlock()
		// Stop returns after the delivery goroutine; Flush covers frames
		// it already handed to the sinks.
		s.loop.Stop()
		s.Flush()
		return nil
	}
	s.mu.Unlock()
	return nil
}

func (s *bufferSource) Release() error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	s.mu.Lock()
	if s.state == StateReleased {
		s.mu.Unlock()
		return nil
	}
	running := s.state == StateRunning
	s.state = StateReleased
	queue, id := s.queue, s.surfaceID
	s.mu.Unlock()

	if running {
		s.loop.Stop()
	}
	s.Flush()
	if queue != nil {
		queue.Close()
		native.UnregisterWindow(id)
	}
	s.AdaptedSource.Close()
	log.Debug("%s: released", s.opts.Name)
	return nil
}

func (s *bufferSource) deliverLoop(quit <-chan struct{}) {
	for {
		select {
		case <-quit:
			return
		case <-s.available:
		}
		for {
			select {
			case <-quit:
				return
			default:
			}
			b := s.queue.Acquire()
			if b == nil {
				break
			}
			s.deliver(b)
			s.queue.Release(b)
		}
	}
}

func (s *bufferSource) deliver(b *native.Buffer) {
	i420, err := BufferToI420(b)
	if err != nil {
		log.Warn("%s: %v", s.opts.Name, err)
		s.rejected.Add(1)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateRunning {
		return
	}
	frame := media.NewVideoFrame(i420, s.rotation, s.clock.ToRTCTimeUs(b.TimestampNs))
	s.captured.Add(1)
	s.lastUs.Store(frame.TimestampUs)
	if !s.Deliver(frame) {
		s.rejected.Add(1)
	}
}

func (s *bufferSource) LastTimestampUs() int64 { return s.lastUs.Load() }

func (s *bufferSource) Stats() Stats {
	st := Stats{
		Captured:      s.captured.Load(),
		Dropped:       s.rejected.Load(),
		MaxQueueDepth: int(s.maxDepth.Load()),
	}
	s.mu.Lock()
	queue := s.queue
	s.mu.Unlock()
	if queue != nil {
		_, dropped := queue.Stats()
		st.Dropped += dropped
	}
	return st
}

// BufferToI420 converts a native buffer to a tightly packed I420 buffer.
func BufferToI420(b *native.Buffer) (*media.I420Buffer, error) {
	out := media.NewI420Buffer(b.Width, b.Height)
	switch b.Format {
	case native.FormatRGBA8888:
		color.RGBAToI420(out.Planar(), b.Pixels, b.Stride)
	case native.FormatYUYV:
		color.YUYVToI420(out.Planar(), &color.YUYV{
			Packed: b.Pixels,
			Rect:   image.Rect(0, 0, b.Width, b.Height),
			Stride: b.Stride,
		})
	default:
		return nil, errors.Errorf("unsupported buffer format %v", b.Format)
	}
	return out, nil
}
