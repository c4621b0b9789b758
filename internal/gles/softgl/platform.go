// Package softgl is a software implementation of the gles platform: share
// groups, textures, framebuffer objects and a triangle rasterizer that runs
// the Go stages of each program. It needs no display or GPU and is the
// default platform.
package softgl

import (
	"sync"
	"sync/atomic"

	"github.com/lanikai/alohavideo/internal/gles"
	"github.com/lanikai/alohavideo/internal/logging"
	"github.com/lanikai/alohavideo/internal/native"
	"github.com/pkg/errors"
)

var log = logging.DefaultLogger.WithTag("softgl")

const PlatformName = "soft"

func init() {
	gles.RegisterPlatform(PlatformName, func() (gles.Platform, error) {
		return New(), nil
	})
}

type Platform struct {
	nextContext atomic.Uint64
}

func New() *Platform {
	return &Platform{}
}

func (p *Platform) Name() string { return PlatformName }

// shareGroup is the object namespace shared by contexts created with a
// share parent.
type shareGroup struct {
	mu       sync.Mutex
	next     uint32
	textures map[uint32]*texture
	programs map[uint32]*program
}

func newShareGroup() *shareGroup {
	return &shareGroup{
		textures: make(map[uint32]*texture),
		programs: make(map[uint32]*program),
	}
}

func (g *shareGroup) texture(id uint32, create bool) *texture {
	if id == 0 {
		return nil
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	t := g.textures[id]
	if t == nil && create {
		t = &texture{minFilter: gles.LINEAR, magFilter: gles.LINEAR}
		g.textures[id] = t
		g.next = max(g.next, id)
	}
	return t
}

func (g *shareGroup) program(id uint32) *program {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.programs[id]
}

func (g *shareGroup) genID() uint32 {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.next++
	return g.next
}

type surface struct {
	mu     sync.Mutex
	width  int
	height int
	// RGBA, row 0 at the bottom.
	color []byte
	win   native.Window
}

func newSurface(w, h int, win native.Window) *surface {
	return &surface{width: w, height: h, color: make([]byte, 4*w*h), win: win}
}

// syncWindowSize follows a window resize.
func (s *surface) syncWindowSize() {
	if s.win == nil {
		return
	}
	w, h := s.win.Size()
	s.mu.Lock()
	if w > 0 && h > 0 && (w != s.width || h != s.height) {
		s.width, s.height = w, h
		s.color = make([]byte, 4*w*h)
	}
	s.mu.Unlock()
}

func (p *Platform) CreateContext(share gles.Context, config gles.Config) (gles.Context, error) {
	var group *shareGroup
	if share != nil {
		parent, ok := share.(*context)
		if !ok {
			return nil, errors.Errorf("softgl: foreign share context %T", share)
		}
		group = parent.group
	} else {
		group = newShareGroup()
	}
	c := newContext(p.nextContext.Add(1), group, config)
	log.Trace(3, "Created context %d", c.id)
	return c, nil
}

func (p *Platform) DestroyContext(ctx gles.Context) {
	if c, ok := ctx.(*context); ok {
		c.destroyed = true
		c.surface = nil
	}
}

func (p *Platform) CreatePbufferSurface(ctx gles.Context, width, height int) (gles.Surface, error) {
	if width <= 0 || height <= 0 {
		return nil, errors.Errorf("softgl: invalid pbuffer size %dx%d", width, height)
	}
	return newSurface(width, height, nil), nil
}

func (p *Platform) CreateWindowSurface(ctx gles.Context, win native.Window) (gles.Surface, error) {
	if win == nil {
		return nil, errors.New("softgl: nil window")
	}
	if win.Format() != native.FormatRGBA8888 {
		return nil, errors.Errorf("softgl: window format %v not renderable", win.Format())
	}
	w, h := win.Size()
	if w <= 0 || h <= 0 {
		return nil, errors.Errorf("softgl: window has no size (%dx%d)", w, h)
	}
	return newSurface(w, h, win), nil
}

func (p *Platform) DestroySurface(s gles.Surface) {}

func (p *Platform) SurfaceSize(s gles.Surface) (int, int) {
	sf, ok := s.(*surface)
	if !ok || sf == nil {
		return 0, 0
	}
	sf.syncWindowSize()
	sf.mu.Lock()
	defer sf.mu.Unlock()
	return sf.width, sf.height
}

func (p *Platform) MakeCurrent(ctx gles.Context, s gles.Surface) error {
	c, ok := ctx.(*context)
	if !ok || c.destroyed {
		return errors.New("softgl: invalid context")
	}
	c.surface = nil
	if s != nil {
		sf, ok := s.(*surface)
		if !ok {
			return errors.Errorf("softgl: foreign surface %T", s)
		}
		sf.syncWindowSize()
		c.surface = sf
		if !c.viewportSet {
			c.viewport = [4]int32{0, 0, int32(sf.width), int32(sf.height)}
			c.viewportSet = true
		}
	}
	return nil
}

func (p *Platform) DetachCurrent(ctx gles.Context) error {
	if c, ok := ctx.(*context); ok {
		c.surface = nil
	}
	return nil
}

// SwapBuffers copies the surface into a window buffer, top row first, and
// queues it with the presentation time.
func (p *Platform) SwapBuffers(ctx gles.Context, s gles.Surface, presentationNs int64) error {
	sf, ok := s.(*surface)
	if !ok {
		return errors.Errorf("softgl: foreign surface %T", s)
	}
	if sf.win == nil {
		return nil
	}
	buf, err := sf.win.RequestBuffer()
	if err != nil {
		return errors.Wrap(err, "softgl: request window buffer")
	}

	sf.mu.Lock()
	rows := min(sf.height, buf.Height)
	rowLen := 4 * min(sf.width, buf.Width)
	for y := 0; y < rows; y++ {
		src := sf.color[(sf.height-1-y)*sf.width*4:]
		copy(buf.Pixels[y*buf.Stride:y*buf.Stride+rowLen], src[:rowLen])
	}
	sf.mu.Unlock()

	if presentationNs != gles.NoPresentationTime {
		buf.TimestampNs = presentationNs
	}
	if err := sf.win.FlushBuffer(buf); err != nil {
		return errors.Wrap(err, "softgl: queue window buffer")
	}
	sf.syncWindowSize()
	return nil
}

func (p *Platform) GL(ctx gles.Context) gles.GL {
	c, _ := ctx.(*context)
	return c
}
