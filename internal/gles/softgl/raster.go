package softgl

import (
	"math"

	"github.com/lanikai/alohavideo/internal/gles"
)

// shaderInputs resolves uniforms and samplers against the current
// context state for one draw.
type shaderInputs struct {
	c *context
	p *program
}

func (in shaderInputs) Uniform(name string) []float32 {
	loc, ok := in.p.uniforms[name]
	if !ok {
		return nil
	}
	return in.p.values[loc]
}

func (in shaderInputs) Sampler(name string) gles.Sampler {
	var unit int
	if v := in.Uniform(name); len(v) > 0 {
		unit = int(v[0])
	}
	if unit < 0 || unit >= maxTextureUnits {
		return sampler{}
	}
	t := in.c.group.texture(in.c.units[unit], false)
	if t == nil {
		return sampler{}
	}
	pix, w, h, linear := t.snapshot()
	return sampler{pix: pix, width: w, height: h, linear: linear}
}

// sampler reads RGBA texels with clamp-to-edge wrapping. An incomplete
// texture samples as opaque black.
type sampler struct {
	pix    []byte
	width  int
	height int
	linear bool
}

func (s sampler) texel(x, y int) [4]float32 {
	x = min(max(x, 0), s.width-1)
	y = min(max(y, 0), s.height-1)
	i := 4 * (y*s.width + x)
	p := s.pix[i : i+4 : i+4]
	return [4]float32{float32(p[0]) / 255, float32(p[1]) / 255, float32(p[2]) / 255, float32(p[3]) / 255}
}

func (s sampler) Sample(u, v float32) [4]float32 {
	if s.width == 0 || s.height == 0 || len(s.pix) < 4*s.width*s.height {
		return [4]float32{0, 0, 0, 1}
	}
	fx := u * float32(s.width)
	fy := v * float32(s.height)
	if !s.linear {
		return s.texel(int(floor(fx)), int(floor(fy)))
	}
	fx -= 0.5
	fy -= 0.5
	x0, y0 := floor(fx), floor(fy)
	ax, ay := fx-x0, fy-y0
	ix, iy := int(x0), int(y0)
	t00 := s.texel(ix, iy)
	t10 := s.texel(ix+1, iy)
	t01 := s.texel(ix, iy+1)
	t11 := s.texel(ix+1, iy+1)
	var out [4]float32
	for i := range out {
		top := t00[i] + (t10[i]-t00[i])*ax
		bottom := t01[i] + (t11[i]-t01[i])*ax
		out[i] = top + (bottom-top)*ay
	}
	return out
}

func floor(f float32) float32 {
	return float32(math.Floor(float64(f)))
}

// renderTarget is the color buffer draws and reads go to. release must be
// called when done.
type renderTarget struct {
	pix     []byte
	width   int
	height  int
	release func()
}

func (c *context) renderTarget() (renderTarget, bool) {
	if c.boundFB == 0 {
		s := c.surface
		if s == nil {
			return renderTarget{}, false
		}
		s.mu.Lock()
		return renderTarget{s.color, s.width, s.height, s.mu.Unlock}, true
	}
	fb := c.framebuffers[c.boundFB]
	t := c.group.texture(fb.texture, false)
	if t == nil {
		return renderTarget{}, false
	}
	t.mu.Lock()
	if t.width == 0 || t.height == 0 {
		t.mu.Unlock()
		return renderTarget{}, false
	}
	return renderTarget{t.pix, t.width, t.height, t.mu.Unlock}, true
}

func toByte(f float32) byte {
	if f <= 0 {
		return 0
	}
	if f >= 1 {
		return 255
	}
	return byte(f*255 + 0.5)
}

func (c *context) Clear(mask uint32) {
	if mask&gles.COLOR_BUFFER_BIT == 0 {
		return
	}
	rt, ok := c.renderTarget()
	if !ok {
		c.setError(gles.INVALID_FRAMEBUFFER_OPERATION)
		return
	}
	defer rt.release()
	px := [4]byte{toByte(c.clearColor[0]), toByte(c.clearColor[1]), toByte(c.clearColor[2]), toByte(c.clearColor[3])}
	for i := 0; i+4 <= len(rt.pix); i += 4 {
		copy(rt.pix[i:i+4], px[:])
	}
}

// vertex is a processed vertex in window coordinates.
type vertex struct {
	x, y     float32
	varyings []float32
}

func (c *context) DrawArrays(mode uint32, first, count int32) {
	if mode != gles.TRIANGLE_STRIP && mode != gles.TRIANGLES {
		c.setError(gles.INVALID_ENUM)
		return
	}
	if first < 0 || count < 0 {
		c.setError(gles.INVALID_VALUE)
		return
	}
	p := c.group.program(c.program)
	if p == nil {
		c.setError(gles.INVALID_OPERATION)
		return
	}
	in := shaderInputs{c: c, p: p}

	verts := make([]vertex, 0, count)
	vp := c.viewport
	for i := int(first); i < int(first+count); i++ {
		attrib := func(name string) [4]float32 {
			out := [4]float32{0, 0, 0, 1}
			loc, ok := p.attribs[name]
			if !ok {
				return out
			}
			a := c.attribs[loc]
			if !a.enabled || a.size == 0 || (i+1)*a.size > len(a.data) {
				return out
			}
			copy(out[:a.size], a.data[i*a.size:])
			return out
		}
		pos, varyings := p.src.VertexStage(in, attrib)
		w := pos[3]
		if w == 0 {
			w = 1
		}
		verts = append(verts, vertex{
			x:        float32(vp[0]) + (pos[0]/w+1)/2*float32(vp[2]),
			y:        float32(vp[1]) + (pos[1]/w+1)/2*float32(vp[3]),
			varyings: varyings,
		})
	}

	// Samplers are resolved before the target is locked.
	shade := p.src.FragmentStage(in)

	rt, ok := c.renderTarget()
	if !ok {
		c.setError(gles.INVALID_FRAMEBUFFER_OPERATION)
		return
	}
	defer rt.release()

	clip := [4]int{
		max(int(vp[0]), 0),
		max(int(vp[1]), 0),
		min(int(vp[0]+vp[2]), rt.width),
		min(int(vp[1]+vp[3]), rt.height),
	}
	switch mode {
	case gles.TRIANGLE_STRIP:
		for i := 0; i+2 < len(verts); i++ {
			rasterize(rt, clip, &verts[i], &verts[i+1], &verts[i+2], shade)
		}
	case gles.TRIANGLES:
		for i := 0; i+2 < len(verts); i += 3 {
			rasterize(rt, clip, &verts[i], &verts[i+1], &verts[i+2], shade)
		}
	}
}

func edge(ax, ay, bx, by, px, py float32) float32 {
	return (bx-ax)*(py-ay) - (by-ay)*(px-ax)
}

// rasterize fills the pixels whose centers lie inside the triangle,
// interpolating varyings linearly in window space.
func rasterize(rt renderTarget, clip [4]int, a, b, v *vertex, shade func([]float32) [4]float32) {
	area := edge(a.x, a.y, b.x, b.y, v.x, v.y)
	if area == 0 {
		return
	}
	x0 := max(int(floor(min(a.x, b.x, v.x))), clip[0])
	y0 := max(int(floor(min(a.y, b.y, v.y))), clip[1])
	x1 := min(int(math.Ceil(float64(max(a.x, b.x, v.x)))), clip[2])
	y1 := min(int(math.Ceil(float64(max(a.y, b.y, v.y)))), clip[3])

	n := min(len(a.varyings), len(b.varyings), len(v.varyings))
	varyings := make([]float32, n)
	for y := y0; y < y1; y++ {
		py := float32(y) + 0.5
		for x := x0; x < x1; x++ {
			px := float32(x) + 0.5
			wa := edge(b.x, b.y, v.x, v.y, px, py) / area
			wb := edge(v.x, v.y, a.x, a.y, px, py) / area
			wc := edge(a.x, a.y, b.x, b.y, px, py) / area
			if wa < 0 || wb < 0 || wc < 0 {
				continue
			}
			for i := range varyings {
				varyings[i] = wa*a.varyings[i] + wb*b.varyings[i] + wc*v.varyings[i]
			}
			col := shade(varyings)
			o := 4 * (y*rt.width + x)
			rt.pix[o] = toByte(col[0])
			rt.pix[o+1] = toByte(col[1])
			rt.pix[o+2] = toByte(col[2])
			rt.pix[o+3] = toByte(col[3])
		}
	}
}

func (c *context) ReadPixels(x, y, width, height int32, format, xtype uint32, dst []byte) {
	if format != gles.RGBA || xtype != gles.UNSIGNED_BYTE {
		c.setError(gles.INVALID_ENUM)
		return
	}
	if width < 0 || height < 0 {
		c.setError(gles.INVALID_VALUE)
		return
	}
	stride := alignUp(4*int(width), c.packAlign)
	if height > 0 && len(dst) < stride*(int(height)-1)+4*int(width) {
		c.setError(gles.INVALID_OPERATION)
		return
	}
	rt, ok := c.renderTarget()
	if !ok {
		c.setError(gles.INVALID_FRAMEBUFFER_OPERATION)
		return
	}
	defer rt.release()
	for row := 0; row < int(height); row++ {
		sy := int(y) + row
		out := dst[row*stride : row*stride+4*int(width)]
		for col := 0; col < int(width); col++ {
			sx := int(x) + col
			if sx < 0 || sy < 0 || sx >= rt.width || sy >= rt.height {
				continue
			}
			o := 4 * (sy*rt.width + sx)
			copy(out[4*col:4*col+4], rt.pix[o:o+4])
		}
	}
}
