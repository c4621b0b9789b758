package gles

import (
	"sort"
	"sync"

	"github.com/lanikai/alohavideo/internal/native"
	"github.com/pkg/errors"
)

// Context and Surface are backend handles.
type (
	Context interface{}
	Surface interface{}
)

// Config selects the kind of framebuffer configuration a context uses.
type Config int

const (
	ConfigPlain Config = iota
	ConfigPixelBuffer
	// ConfigRecordable is required for surfaces feeding a video encoder.
	ConfigRecordable
)

// NoPresentationTime tells SwapBuffers to leave the timestamp unset.
const NoPresentationTime = -1

// Platform creates contexts and surfaces, the role EGL plays on devices.
type Platform interface {
	Name() string

	// CreateContext creates a context. Textures of share (if non-nil) are
	// visible in the new context and vice versa.
	CreateContext(share Context, config Config) (Context, error)
	DestroyContext(ctx Context)

	CreatePbufferSurface(ctx Context, width, height int) (Surface, error)
	// CreateWindowSurface renders into win; SwapBuffers queues the
	// rendered image to it.
	CreateWindowSurface(ctx Context, win native.Window) (Surface, error)
	DestroySurface(s Surface)
	SurfaceSize(s Surface) (width, height int)

	// MakeCurrent binds ctx and s to the calling OS thread.
	MakeCurrent(ctx Context, s Surface) error
	DetachCurrent(ctx Context) error
	SwapBuffers(ctx Context, s Surface, presentationNs int64) error

	// GL returns the function table of ctx.
	GL(ctx Context) GL
}

var (
	ErrPlatformNotFound = errors.New("GL platform not registered")

	platformMu    sync.Mutex
	platformOpen  = map[string]func() (Platform, error){}
	platformCache = map[string]Platform{}
)

// RegisterPlatform makes a backend available under name. Backends call it
// from init.
func RegisterPlatform(name string, open func() (Platform, error)) {
	platformMu.Lock()
	platformOpen[name] = open
	platformMu.Unlock()
}

// OpenPlatform returns the named backend, opening it on first use.
func OpenPlatform(name string) (Platform, error) {
	platformMu.Lock()
	defer platformMu.Unlock()
	if p, ok := platformCache[name]; ok {
		return p, nil
	}
	open, ok := platformOpen[name]
	if !ok {
		return nil, errors.Wrapf(ErrPlatformNotFound, "%q (have %v)", name, platformNamesLocked())
	}
	p, err := open()
	if err != nil {
		return nil, errors.Wrapf(err, "open GL platform %q", name)
	}
	platformCache[name] = p
	return p, nil
}

// Platforms lists registered backend names.
func Platforms() []string {
	platformMu.Lock()
	defer platformMu.Unlock()
	return platformNamesLocked()
}

func platformNamesLocked() []string {
	var names []string
	for n := range platformOpen {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
