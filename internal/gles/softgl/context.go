package softgl

import (
	"sync"

	"github.com/lanikai/alohavideo/internal/gles"
	"github.com/pkg/errors"
)

const (
	maxTextureUnits = 8
	maxAttribs      = 8
)

type texture struct {
	mu     sync.RWMutex
	target uint32
	width  int
	height int
	// RGBA, row 0 at t = 0.
	pix []byte

	minFilter int32
	magFilter int32
}

// snapshot returns the current storage. Uploads replace the slice, so a
// snapshot stays consistent while another thread uploads.
func (t *texture) snapshot() (pix []byte, w, h int, linear bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.pix, t.width, t.height, t.magFilter == gles.LINEAR
}

type program struct {
	src      *gles.ProgramSource
	attribs  map[string]int32
	uniforms map[string]int32
	values   [][]float32
}

type framebuffer struct {
	texture uint32
}

type attribState struct {
	enabled bool
	size    int
	data    []float32
}

// context implements gles.GL.
type context struct {
	id        uint64
	group     *shareGroup
	config    gles.Config
	destroyed bool
	surface   *surface

	framebuffers map[uint32]*framebuffer
	nextFB       uint32
	boundFB      uint32

	activeUnit  int
	units       [maxTextureUnits]uint32
	program     uint32
	viewport    [4]int32
	viewportSet bool
	clearColor  [4]float32
	attribs     [maxAttribs]attribState
	unpackAlign int
	packAlign   int
	err         uint32
}

func newContext(id uint64, group *shareGroup, config gles.Config) *context {
	return &context{
		id:           id,
		group:        group,
		config:       config,
		framebuffers: make(map[uint32]*framebuffer),
		unpackAlign:  4,
		packAlign:    4,
	}
}

func (c *context) setError(code uint32) {
	if c.err == gles.NO_ERROR {
		c.err = code
	}
}

func (c *context) GetError() uint32 {
	e := c.err
	c.err = gles.NO_ERROR
	return e
}

func (c *context) Finish() {}

func (c *context) HasExtension(name string) bool {
	return name == gles.ExtensionOESImageExternal
}

func (c *context) GenTexture() uint32 {
	id := c.group.genID()
	c.group.texture(id, true)
	return id
}

func (c *context) DeleteTexture(id uint32) {
	c.group.mu.Lock()
	delete(c.group.textures, id)
	c.group.mu.Unlock()
	for i := range c.units {
		if c.units[i] == id {
			c.units[i] = 0
		}
	}
}

func (c *context) ActiveTexture(unit uint32) {
	i := int(unit) - gles.TEXTURE0
	if i < 0 || i >= maxTextureUnits {
		c.setError(gles.INVALID_ENUM)
		return
	}
	c.activeUnit = i
}

func validTarget(target uint32) bool {
	return target == gles.TEXTURE_2D || target == gles.TEXTURE_EXTERNAL_OES
}

func (c *context) BindTexture(target, id uint32) {
	if !validTarget(target) {
		c.setError(gles.INVALID_ENUM)
		return
	}
	if t := c.group.texture(id, true); t != nil {
		t.mu.Lock()
		if t.target == 0 {
			t.target = target
		}
		mismatch := t.target != target
		t.mu.Unlock()
		if mismatch {
			c.setError(gles.INVALID_OPERATION)
			return
		}
	}
	c.units[c.activeUnit] = id
}

func (c *context) boundTexture(target uint32) *texture {
	if !validTarget(target) {
		c.setError(gles.INVALID_ENUM)
		return nil
	}
	t := c.group.texture(c.units[c.activeUnit], false)
	if t == nil {
		c.setError(gles.INVALID_OPERATION)
	}
	return t
}

func (c *context) TexParameteri(target, pname uint32, param int32) {
	t := c.boundTexture(target)
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	switch pname {
	case gles.TEXTURE_MIN_FILTER:
		t.minFilter = param
	case gles.TEXTURE_MAG_FILTER:
		t.magFilter = param
	case gles.TEXTURE_WRAP_S, gles.TEXTURE_WRAP_T:
		// Only clamp-to-edge is implemented.
	default:
		c.setError(gles.INVALID_ENUM)
	}
}

func alignUp(n, a int) int {
	return (n + a - 1) / a * a
}

func (c *context) TexImage2D(target uint32, level int32, internalFormat uint32, width, height int32, format, xtype uint32, pixels []byte) {
	t := c.boundTexture(target)
	if t == nil {
		return
	}
	if level != 0 || xtype != gles.UNSIGNED_BYTE || internalFormat != format {
		c.setError(gles.INVALID_OPERATION)
		return
	}
	var bpp int
	switch format {
	case gles.RGBA:
		bpp = 4
	case gles.LUMINANCE:
		bpp = 1
	default:
		c.setError(gles.INVALID_ENUM)
		return
	}
	w, h := int(width), int(height)
	if w < 0 || h < 0 {
		c.setError(gles.INVALID_VALUE)
		return
	}
	stride := alignUp(w*bpp, c.unpackAlign)
	if pixels != nil && len(pixels) < stride*(h-1)+w*bpp {
		c.setError(gles.INVALID_OPERATION)
		return
	}

	pix := make([]byte, 4*w*h)
	if pixels != nil {
		for y := 0; y < h; y++ {
			src := pixels[y*stride:]
			dst := pix[4*w*y:]
			if bpp == 4 {
				copy(dst[:4*w], src[:4*w])
				continue
			}
			for x := 0; x < w; x++ {
				l := src[x]
				dst[4*x], dst[4*x+1], dst[4*x+2], dst[4*x+3] = l, l, l, 0xff
			}
		}
	}

	t.mu.Lock()
	t.width, t.height, t.pix = w, h, pix
	t.mu.Unlock()
}

func (c *context) GenFramebuffer() uint32 {
	c.nextFB++
	c.framebuffers[c.nextFB] = &framebuffer{}
	return c.nextFB
}

func (c *context) DeleteFramebuffer(fb uint32) {
	delete(c.framebuffers, fb)
	if c.boundFB == fb {
		c.boundFB = 0
	}
}

func (c *context) BindFramebuffer(target, fb uint32) {
	if target != gles.FRAMEBUFFER {
		c.setError(gles.INVALID_ENUM)
		return
	}
	if fb != 0 && c.framebuffers[fb] == nil {
		c.setError(gles.INVALID_OPERATION)
		return
	}
	c.boundFB = fb
}

func (c *context) FramebufferTexture2D(target, attachment, texTarget, id uint32, level int32) {
	fb := c.framebuffers[c.boundFB]
	if target != gles.FRAMEBUFFER || attachment != gles.COLOR_ATTACHMENT0 || fb == nil {
		c.setError(gles.INVALID_OPERATION)
		return
	}
	fb.texture = id
}

func (c *context) CheckFramebufferStatus(target uint32) uint32 {
	if c.boundFB == 0 {
		if c.surface == nil {
			return gles.FRAMEBUFFER_UNSUPPORTED
		}
		return gles.FRAMEBUFFER_COMPLETE
	}
	fb := c.framebuffers[c.boundFB]
	t := c.group.texture(fb.texture, false)
	if t == nil {
		return gles.FRAMEBUFFER_INCOMPLETE_ATTACH
	}
	if _, w, h, _ := t.snapshot(); w == 0 || h == 0 {
		return gles.FRAMEBUFFER_INCOMPLETE_ATTACH
	}
	return gles.FRAMEBUFFER_COMPLETE
}

func (c *context) CreateProgram(src *gles.ProgramSource) (uint32, error) {
	if src.VertexStage == nil || src.FragmentStage == nil {
		return 0, errors.New("softgl: program has no software stages")
	}
	p := &program{
		src:      src,
		attribs:  make(map[string]int32),
		uniforms: make(map[string]int32),
	}
	for _, d := range src.Declarations() {
		switch d.Qualifier {
		case "attribute":
			p.attribs[d.Name] = int32(len(p.attribs))
		case "uniform":
			p.uniforms[d.Name] = int32(len(p.values))
			p.values = append(p.values, nil)
		}
	}
	if len(p.attribs) > maxAttribs {
		return 0, errors.Errorf("softgl: %d attributes exceed limit", len(p.attribs))
	}
	id := c.group.genID()
	c.group.mu.Lock()
	c.group.programs[id] = p
	c.group.mu.Unlock()
	return id, nil
}

func (c *context) DeleteProgram(id uint32) {
	c.group.mu.Lock()
	delete(c.group.programs, id)
	c.group.mu.Unlock()
	if c.program == id {
		c.program = 0
	}
}

func (c *context) UseProgram(id uint32) {
	if id != 0 && c.group.program(id) == nil {
		c.setError(gles.INVALID_VALUE)
		return
	}
	c.program = id
}

func (c *context) GetAttribLocation(id uint32, name string) int32 {
	p := c.group.program(id)
	if p == nil {
		c.setError(gles.INVALID_VALUE)
		return -1
	}
	if loc, ok := p.attribs[name]; ok {
		return loc
	}
	return -1
}

func (c *context) GetUniformLocation(id uint32, name string) int32 {
	p := c.group.program(id)
	if p == nil {
		c.setError(gles.INVALID_VALUE)
		return -1
	}
	if loc, ok := p.uniforms[name]; ok {
		return loc
	}
	return -1
}

func (c *context) EnableVertexAttribArray(index uint32) {
	if index >= maxAttribs {
		c.setError(gles.INVALID_VALUE)
		return
	}
	c.attribs[index].enabled = true
}

func (c *context) DisableVertexAttribArray(index uint32) {
	if index >= maxAttribs {
		c.setError(gles.INVALID_VALUE)
		return
	}
	c.attribs[index].enabled = false
}

func (c *context) VertexAttribPointer(index uint32, size int32, data []float32) {
	if index >= maxAttribs || size < 1 || size > 4 {
		c.setError(gles.INVALID_VALUE)
		return
	}
	c.attribs[index].size = int(size)
	c.attribs[index].data = append(c.attribs[index].data[:0], data...)
}

func (c *context) setUniform(loc int32, v []float32) {
	if loc < 0 {
		return
	}
	p := c.group.program(c.program)
	if p == nil || int(loc) >= len(p.values) {
		c.setError(gles.INVALID_OPERATION)
		return
	}
	p.values[loc] = v
}

func (c *context) Uniform1i(loc int32, v int32) {
	c.setUniform(loc, []float32{float32(v)})
}

func (c *context) Uniform2fv(loc int32, v []float32) {
	c.setUniform(loc, append([]float32(nil), v[:2]...))
}

func (c *context) Uniform4fv(loc int32, v []float32) {
	c.setUniform(loc, append([]float32(nil), v[:4]...))
}

func (c *context) UniformMatrix4fv(loc int32, m [16]float32) {
	c.setUniform(loc, m[:])
}

func (c *context) Viewport(x, y, width, height int32) {
	if width < 0 || height < 0 {
		c.setError(gles.INVALID_VALUE)
		return
	}
	c.viewport = [4]int32{x, y, width, height}
	c.viewportSet = true
}

func (c *context) ClearColor(r, g, b, a float32) {
	c.clearColor = [4]float32{r, g, b, a}
}

func (c *context) PixelStorei(pname uint32, param int32) {
	switch param {
	case 1, 2, 4, 8:
	default:
		c.setError(gles.INVALID_VALUE)
		return
	}
	switch pname {
	case gles.UNPACK_ALIGNMENT:
		c.unpackAlign = int(param)
	case gles.PACK_ALIGNMENT:
		c.packAlign = int(param)
	default:
		c.setError(gles.INVALID_ENUM)
	}
}
