//////////////////////////////////////////////////////////////////////////////
//
// Window renderer
//
// A WindowRenderer is a video sink that draws the latest frame into a
// native window on its own GL thread. Frames arriving while one is pending
// replace it. Without a GL context the renderer converts frames on the CPU
// and writes them into the window's buffers directly.
//
// Copyright 2019 Lanikai Labs LLC. All rights reserved.
//
//////////////////////////////////////////////////////////////////////////////

package render

import (
	"sync"

	"github.com/lanikai/alohavideo/internal/gles"
	"github.com/lanikai/alohavideo/internal/gpu"
	"github.com/lanikai/alohavideo/internal/logging"
	"github.com/lanikai/alohavideo/internal/media"
	"github.com/lanikai/alohavideo/internal/native"
	"github.com/pkg/errors"
)

var log = logging.DefaultLogger.WithTag("render")

var ErrReleased = errors.New("renderer released")

type Stats struct {
	Received int
	Rendered int

	// Frames replaced before they were drawn, or that failed to draw.
	Dropped int

	// TimestampUs of the last frame drawn.
	LastTimestampUs int64
}

type Options struct {
	// Parent of the renderer's GL context. Defaults to the process-wide
	// default environment.
	SharedContext *gles.Env

	// Render on the CPU even when a GL context is available.
	Raster bool

	ScalingMode        ScalingMode
	MirrorHorizontally bool
	MirrorVertically   bool
}

type WindowRenderer struct {
	name   string
	win    native.Window
	thread *gles.Thread

	// GL path. env is nil when rendering on the CPU.
	env         *gles.Env
	drawer      *gpu.GenericDrawer
	frameDrawer *gpu.FrameDrawer
	raster      *rasterizer

	mu       sync.Mutex
	mode     ScalingMode
	mirrorH  bool
	mirrorV  bool
	pending  *media.VideoFrame
	stats    Stats
	released bool
}

// NewWindowRenderer starts a renderer drawing into win. If a GL context
// cannot be created for the window it falls back to CPU rendering.
func NewWindowRenderer(name string, win native.Window, opts Options) (*WindowRenderer, error) {
	if win == nil {
		return nil, errors.New("nil window")
	}
	r := &WindowRenderer{
		name:    name,
		win:     win,
		thread:  gles.NewThread(name),
		mode:    opts.ScalingMode,
		mirrorH: opts.MirrorHorizontally,
		mirrorV: opts.MirrorVertically,
	}
	if !opts.Raster {
		err := r.thread.Invoke(func() error { return r.initGL(opts.SharedContext) })
		if err == nil {
			return r, nil
		}
		log.Warn("%s: no GL rendering, using raster fallback: %v", name, err)
	}
	if win.Format() != native.FormatRGBA8888 {
		r.thread.Stop()
		return nil, errors.Errorf("%s: raster rendering needs an RGBA window, have %v", name, win.Format())
	}
	r.raster = &rasterizer{}
	return r, nil
}

func (r *WindowRenderer) initGL(shared *gles.Env) error {
	var env *gles.Env
	var err error
	if shared == nil {
		env, err = gles.NewSharedEnv(gles.ConfigPlain)
	} else {
		env, err = gles.NewEnv(shared.Platform(), shared, gles.ConfigPlain)
	}
	if err != nil {
		return err
	}
	if err := env.CreateWindowSurface(r.win); err != nil {
		env.Release()
		return err
	}
	if err := env.MakeCurrent(); err != nil {
		env.Release()
		return err
	}
	r.env = env
	r.drawer = gpu.NewRectDrawer(env.GL())
	r.frameDrawer = gpu.NewFrameDrawer(env.GL())
	return nil
}

// Raster reports whether frames are rendered on the CPU.
func (r *WindowRenderer) Raster() bool { return r.raster != nil }

func (r *WindowRenderer) SetScalingMode(mode ScalingMode) {
	r.mu.Lock()
	r.mode = mode
	r.mu.Unlock()
}

func (r *WindowRenderer) SetMirror(horizontally, vertically bool) {
	r.mu.Lock()
	r.mirrorH, r.mirrorV = horizontally, vertically
	r.mu.Unlock()
}

func (r *WindowRenderer) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

// OnFrame queues frame for drawing, replacing any frame still pending.
// The pending frame is retained until it is drawn or replaced.
func (r *WindowRenderer) OnFrame(frame *media.VideoFrame) {
	r.mu.Lock()
	if r.released {
		r.mu.Unlock()
		return
	}
	r.stats.Received++
	frame.Retain()
	replaced := r.pending
	if replaced != nil {
		r.stats.Dropped++
	}
	r.pending = frame
	r.mu.Unlock()

	if replaced != nil {
		replaced.Release()
	} else if !r.thread.Post(r.renderPending) {
		r.dropPending()
	}
}

func (r *WindowRenderer) dropPending() {
	r.mu.Lock()
	frame := r.pending
	r.pending = nil
	r.mu.Unlock()
	if frame != nil {
		frame.Release()
	}
}

func (r *WindowRenderer) renderPending() {
	r.mu.Lock()
	frame := r.pending
	r.pending = nil
	mode, mirrorH, mirrorV := r.mode, r.mirrorH, r.mirrorV
	released := r.released
	r.mu.Unlock()
	if frame == nil {
		return
	}
	defer frame.Release()
	if released {
		return
	}

	var err error
	if r.raster != nil {
		err = r.raster.render(r.win, frame, mode)
	} else {
		err = r.renderGL(frame, mode, mirrorH, mirrorV)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		log.Warn("%s: render frame %d: %v", r.name, frame.TimestampUs, err)
		r.stats.Dropped++
		return
	}
	r.stats.Rendered++
	r.stats.LastTimestampUs = frame.TimestampUs
}

func (r *WindowRenderer) renderGL(frame *media.VideoFrame, mode ScalingMode, mirrorH, mirrorV bool) error {
	w, h := r.env.SurfaceSize()
	if w <= 0 || h <= 0 {
		return errors.New("window has no size")
	}
	l := ComputeLayout(mode, frame.RotatedWidth(), frame.RotatedHeight(), w, h)
	gl := r.env.GL()
	gl.ClearColor(0, 0, 0, 1)
	gl.Clear(gles.COLOR_BUFFER_BIT)
	if err := r.frameDrawer.DrawFrame(frame, r.drawer, DrawMatrix(l, mirrorH, mirrorV), l.X, l.Y, l.Width, l.Height); err != nil {
		return err
	}
	return r.env.SwapBuffers(frame.TimestampUs * 1000)
}

// Release stops rendering. Pending frames are discarded and later frames
// ignored.
func (r *WindowRenderer) Release() {
	r.mu.Lock()
	if r.released {
		r.mu.Unlock()
		return
	}
	r.released = true
	r.mu.Unlock()
	r.dropPending()

	if r.env != nil {
		r.thread.Invoke(func() error {
			r.frameDrawer.Release()
			r.drawer.Release()
			r.env.Release()
			return nil
		})
	}
	r.thread.Stop()
	log.Debug("%s: released, %+v", r.name, r.Stats())
}
