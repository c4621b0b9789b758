// Package capture turns platform producers (a camera, a screen recorder)
// that render into a native surface into streams of video frames.
package capture

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/lanikai/alohavideo/internal/gles"
	"github.com/lanikai/alohavideo/internal/gpu"
	"github.com/lanikai/alohavideo/internal/logging"
	"github.com/lanikai/alohavideo/internal/media"
	"github.com/lanikai/alohavideo/internal/native"
	"github.com/pkg/errors"
)

var log = logging.DefaultLogger.WithTag("capture")

// Delay before retrying a surface update that found the texture locked by
// a reader.
const updateRetryDelay = time.Millisecond

type Options struct {
	// Name of the GL worker thread.
	Name string

	// Frames buffered per sink before the oldest is dropped.
	SinkQueueSize int

	// Delivered dimensions are multiples of this.
	Alignment int

	// Rotation attached to every frame.
	Rotation media.Rotation
}

func (o *Options) setDefaults(name string) {
	if o.Name == "" {
		o.Name = name
	}
	if o.SinkQueueSize <= 0 {
		o.SinkQueueSize = 1
	}
	if o.Alignment <= 0 {
		o.Alignment = 1
	}
}

// surfaceSource receives frames through an external texture. The producer
// renders into the image's window, and every frame latched on the GL
// thread is delivered as a texture buffer.
type surfaceSource struct {
	*media.AdaptedSource

	opts  Options
	clock *ClockConverter

	mu       sync.Mutex
	state    State
	rotation media.Rotation

	thread    *gles.Thread
	env       *gles.Env
	image     *gles.NativeImage
	data      *gpu.TextureData
	surfaceID uint64

	// Owned by the GL thread: the latched image is still referenced.
	inUse bool

	updatePending atomic.Bool
	captured      atomic.Uint64
	latched       atomic.Uint64
	rejected      atomic.Uint64
	lastUs        atomic.Int64
}

func newSurfaceSource(opts Options) *surfaceSource {
	return &surfaceSource{
		AdaptedSource: media.NewAdaptedSource(opts.SinkQueueSize, opts.Alignment),
		opts:          opts,
		clock:         NewClockConverter(),
		rotation:      opts.Rotation,
	}
}

func (s *surfaceSource) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SurfaceID identifies the producer window in the native registry. It is
// zero before Init.
func (s *surfaceSource) SurfaceID() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.surfaceID
}

// Window is the producer handle, nil before Init.
func (s *surfaceSource) Window() native.Window {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.image == nil {
		return nil
	}
	return s.image.Window()
}

func (s *surfaceSource) SetRotation(r media.Rotation) {
	s.mu.Lock()
	s.rotation = r
	s.mu.Unlock()
}

func (s *surfaceSource) Init(width, height int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateUninit:
	case StateReleased:
		return ErrReleased
	default:
		return errors.Errorf("%s: already initialized", s.opts.Name)
	}

	t := gles.NewThread(s.opts.Name)
	err := t.Invoke(func() error {
		env, err := gles.NewSharedEnv(gles.ConfigPixelBuffer)
		if err != nil {
			return err
		}
		if err := env.CreatePbufferSurface(1, 1); err != nil {
			env.Release()
			return err
		}
		if err := env.MakeCurrent(); err != nil {
			env.Release()
			return err
		}
		gl := env.GL()
		tex := gl.GenTexture()
		gl.BindTexture(gles.TEXTURE_EXTERNAL_OES, tex)
		gl.TexParameteri(gles.TEXTURE_EXTERNAL_OES, gles.TEXTURE_MIN_FILTER, gles.LINEAR)
		gl.TexParameteri(gles.TEXTURE_EXTERNAL_OES, gles.TEXTURE_MAG_FILTER, gles.LINEAR)
		gl.TexParameteri(gles.TEXTURE_EXTERNAL_OES, gles.TEXTURE_WRAP_S, gles.CLAMP_TO_EDGE)
		gl.TexParameteri(gles.TEXTURE_EXTERNAL_OES, gles.TEXTURE_WRAP_T, gles.CLAMP_TO_EDGE)
		gl.BindTexture(gles.TEXTURE_EXTERNAL_OES, 0)
		if err := gles.CheckError(gl, "create capture texture"); err != nil {
			gl.DeleteTexture(tex)
			env.Release()
			return err
		}

		s.env = env
		s.image = gles.NewNativeImage(gl, tex, width, height)
		s.data = gpu.NewTextureData(t, gl, gpu.TextureOES, tex)
		return nil
	})
	if err != nil {
		t.Stop()
		s.state = StateReleased
		return errors.Wrapf(err, "%s: init", s.opts.Name)
	}

	s.thread = t
	s.image.SetOnFrameAvailable(s.frameAvailable)
	s.surfaceID = native.RegisterWindow(s.image.Window())
	s.state = StateInit
	log.Debug("%s: initialized %dx%d, surface %d", s.opts.Name, width, height, s.surfaceID)
	return nil
}

func (s *surfaceSource) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateUninit:
		return ErrNotInitialized
	case StateReleased:
		return ErrReleased
	case StateInit, StateStopped:
		s.clock.Reset()
		s.state = StateRunning
	}
	return nil
}

// Stop pauses delivery. When it returns, no sink receives another frame
// until Start.
func (s *surfaceSource) Stop() error {
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
	}
	s.mu.Unlock()
	s.Flush()
	return nil
}

// Release tears down the surface and GL thread. Buffers still held by
// sinks report ToI420 failure. When Release returns, no sink receives
// another frame.
func (s *surfaceSource) Release() error {
	s.mu.Lock()
	if s.state == StateReleased {
		s.mu.Unlock()
		return nil
	}
	initialized := s.state != StateUninit
	s.state = StateReleased
	s.mu.Unlock()
	s.Flush()

	if initialized {
		s.image.Release()
		native.UnregisterWindow(s.surfaceID)
		// Waits for readers holding the texture lock.
		s.data.Release()
		s.thread.Invoke(func() error {
			s.env.Release()
			return nil
		})
		s.thread.Stop()
	}
	s.AdaptedSource.Close()
	log.Debug("%s: released", s.opts.Name)
	return nil
}

// frameAvailable runs on the producer's goroutine. Updates are coalesced:
// the GL thread latches only the newest buffer.
func (s *surfaceSource) frameAvailable() {
	if s.updatePending.Swap(true) {
		return
	}
	s.postUpdate()
}

func (s *surfaceSource) postUpdate() {
	s.mu.Lock()
	t := s.thread
	s.mu.Unlock()
	if t == nil || !t.Post(s.update) {
		s.updatePending.Store(false)
	}
}

func (s *surfaceSource) update() {
	if s.inUse {
		// frameReleased retries.
		return
	}
	if !s.data.TryLock() {
		// A reader holds the texture; blocking here could deadlock with a
		// readback waiting on this thread.
		time.AfterFunc(updateRetryDelay, s.postUpdate)
		return
	}
	s.updatePending.Store(false)
	ok, err := s.image.UpdateSurfaceImage()
	s.data.Unlock()
	if err != nil {
		if s.State() != StateReleased {
			log.Warn("%s: update surface image: %v", s.opts.Name, err)
		}
		return
	}
	if !ok {
		return
	}
	s.latched.Add(1)

	width, height := s.image.Size()
	tsNs := s.image.Timestamp()
	transform := media.MatrixFromGL(s.image.TransformMatrix())

	s.mu.Lock()
	if s.state != StateRunning {
		s.mu.Unlock()
		return
	}
	s.inUse = true
	buf := s.data.NewFrameBuffer(width, height, transform, s.frameReleased)
	frame := media.NewVideoFrame(buf, s.rotation, s.clock.ToRTCTimeUs(tsNs))
	s.captured.Add(1)
	s.lastUs.Store(frame.TimestampUs)
	if !s.Deliver(frame) {
		s.rejected.Add(1)
	}
	s.mu.Unlock()
	buf.Release()
}

// frameReleased runs when the last reference to the latched image is
// dropped, on whichever goroutine dropped it.
func (s *surfaceSource) frameReleased() {
	// thread is set before the first frame and never changes; s.mu may be
	// held by the caller.
	s.thread.Post(func() {
		s.inUse = false
		if s.updatePending.Load() {
			s.update()
		}
	})
}

// LastTimestampUs returns the timestamp of the newest captured frame.
func (s *surfaceSource) LastTimestampUs() int64 { return s.lastUs.Load() }

func (s *surfaceSource) Stats() Stats {
	st := Stats{
		Captured: s.captured.Load(),
		Dropped:  s.rejected.Load(),
	}
	s.mu.Lock()
	image := s.image
	s.mu.Unlock()
	if image != nil {
		q := image.Queue()
		flushed, dropped := q.Stats()
		// Buffers skipped by latching only the newest one.
		if skipped := int64(flushed) - int64(dropped) - int64(s.latched.Load()) - int64(q.Pending()); skipped > 0 {
			st.Dropped += uint64(skipped)
		}
		st.Dropped += dropped
	}
	return st
}
