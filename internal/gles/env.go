package gles

import (
	"sync"

	"github.com/lanikai/alohavideo/internal/native"
	"github.com/pkg/errors"
)

var ErrNoSurface = errors.New("no surface")

// Env is a GL context plus at most one surface. An Env is used from the
// Thread it was made current on.
type Env struct {
	platform Platform
	config   Config
	ctx      Context
	surface  Surface
	gl       GL
	current  bool
}

// NewEnv creates a context sharing textures with shared (nil for none).
func NewEnv(p Platform, shared *Env, config Config) (*Env, error) {
	var share Context
	if shared != nil {
		if shared.platform != p {
			return nil, errors.New("shared context belongs to another platform")
		}
		share = shared.ctx
	}
	ctx, err := p.CreateContext(share, config)
	if err != nil {
		return nil, errors.Wrap(err, "create context")
	}
	return &Env{platform: p, config: config, ctx: ctx, gl: p.GL(ctx)}, nil
}

// NewSharedEnv creates a context sharing with the default environment.
func NewSharedEnv(config Config) (*Env, error) {
	shared, err := DefaultEnv()
	if err != nil {
		return nil, err
	}
	return NewEnv(shared.platform, shared, config)
}

func (e *Env) Platform() Platform { return e.platform }
func (e *Env) Context() Context   { return e.ctx }
func (e *Env) GL() GL             { return e.gl }

func (e *Env) CreatePbufferSurface(width, height int) error {
	if e.surface != nil {
		return errors.New("surface already created")
	}
	s, err := e.platform.CreatePbufferSurface(e.ctx, width, height)
	if err != nil {
		return errors.Wrapf(err, "create %dx%d pbuffer", width, height)
	}
	e.surface = s
	return nil
}

func (e *Env) CreateWindowSurface(win native.Window) error {
	if e.surface != nil {
		return errors.New("surface already created")
	}
	s, err := e.platform.CreateWindowSurface(e.ctx, win)
	if err != nil {
		return errors.Wrap(err, "create window surface")
	}
	e.surface = s
	return nil
}

func (e *Env) HasSurface() bool { return e.surface != nil }

// SurfaceSize returns the size of the surface, zero without one.
func (e *Env) SurfaceSize() (int, int) {
	if e.surface == nil {
		return 0, 0
	}
	return e.platform.SurfaceSize(e.surface)
}

// MakeCurrent binds the context and surface to the calling thread.
func (e *Env) MakeCurrent() error {
	if err := e.platform.MakeCurrent(e.ctx, e.surface); err != nil {
		return errors.Wrap(err, "make current")
	}
	e.current = true
	return nil
}

func (e *Env) DetachCurrent() error {
	if !e.current {
		return nil
	}
	e.current = false
	return e.platform.DetachCurrent(e.ctx)
}

// SwapBuffers presents the surface. presentationNs is attached to the
// queued image unless it is NoPresentationTime.
func (e *Env) SwapBuffers(presentationNs int64) error {
	if e.surface == nil {
		return ErrNoSurface
	}
	return e.platform.SwapBuffers(e.ctx, e.surface, presentationNs)
}

// ReleaseSurface destroys the surface, keeping the context.
func (e *Env) ReleaseSurface() {
	if e.surface != nil {
		if e.current {
			e.platform.MakeCurrent(e.ctx, nil)
		}
		e.platform.DestroySurface(e.surface)
		e.surface = nil
	}
}

// Release destroys the surface and context.
func (e *Env) Release() {
	e.ReleaseSurface()
	e.DetachCurrent()
	if e.ctx != nil {
		e.platform.DestroyContext(e.ctx)
		e.ctx = nil
	}
}

// The process-wide default environment is the share parent of every other
// context. It lives on its own thread.
var (
	defaultMu       sync.Mutex
	defaultPlatform = "soft"
	defaultEnv      *Env
	defaultThread   *Thread
	defaultOwned    bool
)

// SetDefaultPlatform selects the backend DefaultEnv opens.
func SetDefaultPlatform(name string) {
	defaultMu.Lock()
	defaultPlatform = name
	defaultMu.Unlock()
}

// DefaultEnv returns the shared parent environment, creating it on first
// use with a 1x1 pbuffer surface.
func DefaultEnv() (*Env, error) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultEnv != nil {
		return defaultEnv, nil
	}

	p, err := OpenPlatform(defaultPlatform)
	if err != nil {
		return nil, err
	}
	t := NewThread("gl-default")
	var env *Env
	err = t.Invoke(func() error {
		e, err := NewEnv(p, nil, ConfigPixelBuffer)
		if err != nil {
			return err
		}
		if err := e.CreatePbufferSurface(1, 1); err != nil {
			e.Release()
			return err
		}
		if err := e.MakeCurrent(); err != nil {
			e.Release()
			return err
		}
		env = e
		return nil
	})
	if err != nil {
		t.Stop()
		return nil, errors.Wrap(err, "default GL environment")
	}
	log.Debug("Created default GL environment on %s", p.Name())
	defaultEnv, defaultThread, defaultOwned = env, t, true
	return defaultEnv, nil
}

// SetDefaultEnv substitutes an application-provided shared environment.
// The caller keeps ownership of env.
func SetDefaultEnv(env *Env) {
	ReleaseDefaultEnv()
	defaultMu.Lock()
	defaultEnv, defaultThread, defaultOwned = env, nil, false
	defaultMu.Unlock()
}

// ReleaseDefaultEnv tears down the default environment. Contexts created
// from it remain valid.
func ReleaseDefaultEnv() {
	defaultMu.Lock()
	env, t, owned := defaultEnv, defaultThread, defaultOwned
	defaultEnv, defaultThread, defaultOwned = nil, nil, false
	defaultMu.Unlock()

	if owned && t != nil {
		t.Invoke(func() error {
			env.Release()
			return nil
		})
		t.Stop()
	}
}
