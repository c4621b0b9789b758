//go:build gles2

// Package gles2 runs the gles platform on a real OpenGL ES 2 driver,
// creating contexts through GLFW's EGL backend. Surfaces are framebuffer
// objects; window surfaces read back on swap and queue the image to their
// native window.
//
// Build with -tags gles2.
package gles2

import (
	"sync"

	gl "github.com/go-gl/gl/v3.1/gles2"
	"github.com/go-gl/glfw/v3.3/glfw"
	"github.com/lanikai/alohavideo/internal/gles"
	"github.com/lanikai/alohavideo/internal/logging"
	"github.com/lanikai/alohavideo/internal/native"
	"github.com/pkg/errors"
)

var log = logging.DefaultLogger.WithTag("gles2")

const PlatformName = "gles2"

func init() {
	gles.RegisterPlatform(PlatformName, Open)
}

// GLFW window management is not thread-safe.
var glfwMu sync.Mutex

type Platform struct {
	loadOnce sync.Once
	loadErr  error
}

// Open initializes GLFW.
func Open() (gles.Platform, error) {
	glfwMu.Lock()
	defer glfwMu.Unlock()
	if err := glfw.Init(); err != nil {
		return nil, errors.Wrap(err, "glfw init")
	}
	return &Platform{}, nil
}

func (p *Platform) Name() string { return PlatformName }

type context struct {
	win     *glfw.Window
	config  gles.Config
	surface *surface
	funcs   *funcs
}

type surface struct {
	owner  *context
	width  int
	height int
	fbo    uint32
	tex    uint32
	win    native.Window
	pixels []byte
}

func (p *Platform) CreateContext(share gles.Context, config gles.Config) (gles.Context, error) {
	var parent *glfw.Window
	if share != nil {
		c, ok := share.(*context)
		if !ok {
			return nil, errors.Errorf("gles2: foreign share context %T", share)
		}
		parent = c.win
	}

	glfwMu.Lock()
	glfw.DefaultWindowHints()
	glfw.WindowHint(glfw.ClientAPI, glfw.OpenGLESAPI)
	glfw.WindowHint(glfw.ContextCreationAPI, glfw.EGLContextAPI)
	glfw.WindowHint(glfw.ContextVersionMajor, 2)
	glfw.WindowHint(glfw.ContextVersionMinor, 0)
	glfw.WindowHint(glfw.Visible, glfw.False)
	win, err := glfw.CreateWindow(1, 1, "alohavideo", nil, parent)
	glfwMu.Unlock()
	if err != nil {
		return nil, errors.Wrap(err, "gles2: create context")
	}

	c := &context{win: win, config: config}
	c.funcs = newFuncs(c)
	return c, nil
}

func (p *Platform) DestroyContext(ctx gles.Context) {
	c, ok := ctx.(*context)
	if !ok || c.win == nil {
		return
	}
	c.funcs.release()
	glfwMu.Lock()
	c.win.Destroy()
	glfwMu.Unlock()
	c.win = nil
}

func (p *Platform) newSurface(ctx gles.Context, w, h int, win native.Window) (*surface, error) {
	c, ok := ctx.(*context)
	if !ok || c.win == nil {
		return nil, errors.New("gles2: invalid context")
	}
	if w <= 0 || h <= 0 {
		return nil, errors.Errorf("gles2: invalid surface size %dx%d", w, h)
	}
	return &surface{owner: c, width: w, height: h, win: win}, nil
}

func (p *Platform) CreatePbufferSurface(ctx gles.Context, width, height int) (gles.Surface, error) {
	return p.newSurface(ctx, width, height, nil)
}

func (p *Platform) CreateWindowSurface(ctx gles.Context, win native.Window) (gles.Surface, error) {
	if win == nil {
		return nil, errors.New("gles2: nil window")
	}
	if win.Format() != native.FormatRGBA8888 {
		return nil, errors.Errorf("gles2: window format %v not renderable", win.Format())
	}
	w, h := win.Size()
	return p.newSurface(ctx, w, h, win)
}

// DestroySurface frees the framebuffer. The owning context must be current.
func (p *Platform) DestroySurface(s gles.Surface) {
	sf, ok := s.(*surface)
	if !ok || sf.fbo == 0 {
		return
	}
	gl.DeleteFramebuffers(1, &sf.fbo)
	gl.DeleteTextures(1, &sf.tex)
	sf.fbo, sf.tex = 0, 0
}

func (p *Platform) SurfaceSize(s gles.Surface) (int, int) {
	sf, ok := s.(*surface)
	if !ok {
		return 0, 0
	}
	if sf.win != nil {
		return sf.win.Size()
	}
	return sf.width, sf.height
}

// allocate (re)creates the framebuffer at the current size.
func (sf *surface) allocate() error {
	if sf.win != nil {
		if w, h := sf.win.Size(); w > 0 && h > 0 && (w != sf.width || h != sf.height) {
			sf.width, sf.height = w, h
			if sf.fbo != 0 {
				gl.DeleteFramebuffers(1, &sf.fbo)
				gl.DeleteTextures(1, &sf.tex)
				sf.fbo, sf.tex = 0, 0
			}
		}
	}
	if sf.fbo != 0 {
		return nil
	}
	gl.GenTextures(1, &sf.tex)
	gl.BindTexture(gl.TEXTURE_2D, sf.tex)
	gl.TexImage2D(gl.TEXTURE_2D, 0, gl.RGBA, int32(sf.width), int32(sf.height), 0, gl.RGBA, gl.UNSIGNED_BYTE, nil)
	gl.BindTexture(gl.TEXTURE_2D, 0)
	gl.GenFramebuffers(1, &sf.fbo)
	gl.BindFramebuffer(gl.FRAMEBUFFER, sf.fbo)
	gl.FramebufferTexture2D(gl.FRAMEBUFFER, gl.COLOR_ATTACHMENT0, gl.TEXTURE_2D, sf.tex, 0)
	status := gl.CheckFramebufferStatus(gl.FRAMEBUFFER)
	if status != gl.FRAMEBUFFER_COMPLETE {
		return errors.Errorf("gles2: surface framebuffer incomplete (0x%x)", status)
	}
	gl.Viewport(0, 0, int32(sf.width), int32(sf.height))
	return nil
}

func (p *Platform) MakeCurrent(ctx gles.Context, s gles.Surface) error {
	c, ok := ctx.(*context)
	if !ok || c.win == nil {
		return errors.New("gles2: invalid context")
	}
	c.win.MakeContextCurrent()
	p.loadOnce.Do(func() {
		p.loadErr = gl.Init()
		if p.loadErr == nil {
			log.Info("OpenGL ES %s (%s)", gl.GoStr(gl.GetString(gl.VERSION)), gl.GoStr(gl.GetString(gl.RENDERER)))
		}
	})
	if p.loadErr != nil {
		return errors.Wrap(p.loadErr, "gles2: load functions")
	}

	c.surface = nil
	if s == nil {
		gl.BindFramebuffer(gl.FRAMEBUFFER, 0)
		return nil
	}
	sf, ok := s.(*surface)
	if !ok || sf.owner != c {
		return errors.New("gles2: surface belongs to another context")
	}
	if err := sf.allocate(); err != nil {
		return err
	}
	c.surface = sf
	gl.BindFramebuffer(gl.FRAMEBUFFER, sf.fbo)
	return nil
}

func (p *Platform) DetachCurrent(ctx gles.Context) error {
	if c, ok := ctx.(*context); ok {
		c.surface = nil
	}
	glfw.DetachCurrentContext()
	return nil
}

// SwapBuffers reads the surface back and queues it top row first.
func (p *Platform) SwapBuffers(ctx gles.Context, s gles.Surface, presentationNs int64) error {
	sf, ok := s.(*surface)
	if !ok {
		return errors.Errorf("gles2: foreign surface %T", s)
	}
	if sf.win == nil {
		return nil
	}
	n := 4 * sf.width * sf.height
	if cap(sf.pixels) < n {
		sf.pixels = make([]byte, n)
	}
	px := sf.pixels[:n]

	gl.BindFramebuffer(gl.FRAMEBUFFER, sf.fbo)
	gl.PixelStorei(gl.PACK_ALIGNMENT, 4)
	gl.ReadPixels(0, 0, int32(sf.width), int32(sf.height), gl.RGBA, gl.UNSIGNED_BYTE, gl.Ptr(px))
	if code := gl.GetError(); code != gl.NO_ERROR {
		return errors.Errorf("gles2: read back surface: 0x%04x", code)
	}

	buf, err := sf.win.RequestBuffer()
	if err != nil {
		return errors.Wrap(err, "gles2: request window buffer")
	}
	rows := min(sf.height, buf.Height)
	rowLen := 4 * min(sf.width, buf.Width)
	for y := 0; y < rows; y++ {
		src := px[(sf.height-1-y)*sf.width*4:]
		copy(buf.Pixels[y*buf.Stride:y*buf.Stride+rowLen], src[:rowLen])
	}
	if presentationNs != gles.NoPresentationTime {
		buf.TimestampNs = presentationNs
	}
	if err := sf.win.FlushBuffer(buf); err != nil {
		return errors.Wrap(err, "gles2: queue window buffer")
	}
	return sf.allocate()
}

func (p *Platform) GL(ctx gles.Context) gles.GL {
	if c, ok := ctx.(*context); ok {
		return c.funcs
	}
	return nil
}
