package gpu

import (
	"github.com/golang/groupcache/lru"
	"github.com/lanikai/alohavideo/internal/gles"
	"github.com/lanikai/alohavideo/internal/media"
	"github.com/pkg/errors"
)

const (
	inputPosition     = "in_pos"
	inputTextureCoord = "in_tc"
	textureMatrix     = "tex_mat"
)

const vertexShader = `
varying vec2 tc;
attribute vec4 in_pos;
attribute vec4 in_tc;
uniform mat4 tex_mat;

void main() {
  gl_Position = in_pos;
  tc = (tex_mat * in_tc).xy;
}
`

// Full-screen quad and its texture coordinates, drawn as a triangle strip.
var (
	fullRectangle         = []float32{-1, -1, 1, -1, -1, 1, 1, 1}
	fullRectangleTexCoord = []float32{0, 0, 1, 0, 0, 1, 1, 1}
)

// FragmentShader is the body of a fragment shader written against a
// sample(vec2) function, which the drawer defines for each texture type.
type FragmentShader struct {
	// GLSL declarations and main(). Reads the varying tc.
	Source string

	// Stage is the same shader for software rasterizers: given the
	// sampling function, it returns the color at texture coordinate (s, t).
	Stage func(in gles.ShaderInputs, sample func(s, t float32) [4]float32) func(s, t float32) [4]float32
}

// RectFragment draws the texture unchanged.
var RectFragment = FragmentShader{
	Source: `
void main() {
  gl_FragColor = sample(tc);
}
`,
	Stage: func(in gles.ShaderInputs, sample func(s, t float32) [4]float32) func(s, t float32) [4]float32 {
		return sample
	},
}

// ShaderCallbacks lets a drawer's user bind its own uniforms.
type ShaderCallbacks interface {
	// OnNewShader runs after a program is compiled or becomes current
	// again, to resolve uniform locations.
	OnNewShader(gl gles.GL, program uint32)

	// OnPrepareShader runs before every draw with the program in use.
	OnPrepareShader(gl gles.GL, program uint32, texMatrix media.Matrix, frameWidth, frameHeight, viewportWidth, viewportHeight int)
}

func samplerPrelude(typ TextureType) string {
	switch typ {
	case TextureOES:
		return `#extension GL_OES_EGL_image_external : require
precision mediump float;
varying vec2 tc;
uniform samplerExternalOES tex;
#define sample(pos) texture2D(tex, pos)
`
	case TextureRGB:
		return `precision mediump float;
varying vec2 tc;
uniform sampler2D tex;
#define sample(pos) texture2D(tex, pos)
`
	}
	return `precision mediump float;
varying vec2 tc;
uniform sampler2D y_tex;
uniform sampler2D u_tex;
uniform sampler2D v_tex;

vec4 sample(vec2 p) {
  float y = texture2D(y_tex, p).r * 1.16438;
  float u = texture2D(u_tex, p).r;
  float v = texture2D(v_tex, p).r;
  return vec4(y + 1.59603 * v - 0.874202,
              y - 0.391762 * u - 0.812968 * v + 0.531668,
              y + 2.01723 * u - 1.08563,
              1);
}
`
}

// samplerStage is the software equivalent of samplerPrelude.
func samplerStage(typ TextureType, in gles.ShaderInputs) func(s, t float32) [4]float32 {
	if typ != TextureYUV {
		return in.Sampler("tex").Sample
	}
	ys, us, vs := in.Sampler("y_tex"), in.Sampler("u_tex"), in.Sampler("v_tex")
	return func(s, t float32) [4]float32 {
		y := ys.Sample(s, t)[0] * 1.16438
		u := us.Sample(s, t)[0]
		v := vs.Sample(s, t)[0]
		return [4]float32{
			y + 1.59603*v - 0.874202,
			y - 0.391762*u - 0.812968*v + 0.531668,
			y + 2.01723*u - 1.08563,
			1,
		}
	}
}

func vertexStage(in gles.ShaderInputs, attrib func(string) [4]float32) ([4]float32, []float32) {
	pos, tc := attrib(inputPosition), attrib(inputTextureCoord)
	m := in.Uniform(textureMatrix)
	if len(m) < 16 {
		return pos, []float32{tc[0], tc[1]}
	}
	return pos, []float32{
		m[0]*tc[0] + m[4]*tc[1] + m[8]*tc[2] + m[12]*tc[3],
		m[1]*tc[0] + m[5]*tc[1] + m[9]*tc[2] + m[13]*tc[3],
	}
}

// ProgramFor assembles the program drawing frag over a texture of typ.
func ProgramFor(typ TextureType, frag FragmentShader) *gles.ProgramSource {
	return &gles.ProgramSource{
		Vertex:      vertexShader,
		Fragment:    samplerPrelude(typ) + frag.Source,
		VertexStage: vertexStage,
		FragmentStage: func(in gles.ShaderInputs) func([]float32) [4]float32 {
			shade := frag.Stage(in, samplerStage(typ, in))
			return func(v []float32) [4]float32 { return shade(v[0], v[1]) }
		},
	}
}

type shader struct {
	program     uint32
	posLocation int32
	tcLocation  int32
	texMatLoc   int32
}

// GenericDrawer draws a textured quad through a 4x4 texture matrix, with a
// program per texture type. It must be used on one GL thread, with the
// context that created it current.
type GenericDrawer struct {
	gl        gles.GL
	fragment  FragmentShader
	callbacks ShaderCallbacks

	// Compiled programs by texture type. Evicted programs are deleted.
	programs *lru.Cache
	current  TextureType
	active   *shader
}

// NewGenericDrawer creates a drawer. callbacks may be nil.
func NewGenericDrawer(gl gles.GL, fragment FragmentShader, callbacks ShaderCallbacks) *GenericDrawer {
	d := &GenericDrawer{
		gl:        gl,
		fragment:  fragment,
		callbacks: callbacks,
		programs:  lru.New(3),
	}
	d.programs.OnEvicted = func(key lru.Key, value interface{}) {
		s := value.(*shader)
		gl.DeleteProgram(s.program)
		if d.active == s {
			d.active = nil
		}
	}
	return d
}

// NewRectDrawer draws textures unchanged.
func NewRectDrawer(gl gles.GL) *GenericDrawer {
	return NewGenericDrawer(gl, RectFragment, nil)
}

// DrawOES draws an external texture.
func (d *GenericDrawer) DrawOES(texture uint32, texMatrix media.Matrix, frameWidth, frameHeight, viewportX, viewportY, viewportWidth, viewportHeight int) error {
	if err := d.prepare(TextureOES, texMatrix, frameWidth, frameHeight, viewportWidth, viewportHeight); err != nil {
		return err
	}
	d.gl.ActiveTexture(gles.TEXTURE0)
	d.gl.BindTexture(gles.TEXTURE_EXTERNAL_OES, texture)
	d.draw(viewportX, viewportY, viewportWidth, viewportHeight)
	d.gl.BindTexture(gles.TEXTURE_EXTERNAL_OES, 0)
	return gles.CheckError(d.gl, "draw OES")
}

// DrawRGB draws a 2D RGBA texture.
func (d *GenericDrawer) DrawRGB(texture uint32, texMatrix media.Matrix, frameWidth, frameHeight, viewportX, viewportY, viewportWidth, viewportHeight int) error {
	if err := d.prepare(TextureRGB, texMatrix, frameWidth, frameHeight, viewportWidth, viewportHeight); err != nil {
		return err
	}
	d.gl.ActiveTexture(gles.TEXTURE0)
	d.gl.BindTexture(gles.TEXTURE_2D, texture)
	d.draw(viewportX, viewportY, viewportWidth, viewportHeight)
	d.gl.BindTexture(gles.TEXTURE_2D, 0)
	return gles.CheckError(d.gl, "draw RGB")
}

// DrawYUV draws three luminance textures holding Y, U and V planes.
func (d *GenericDrawer) DrawYUV(yuv [3]uint32, texMatrix media.Matrix, frameWidth, frameHeight, viewportX, viewportY, viewportWidth, viewportHeight int) error {
	if err := d.prepare(TextureYUV, texMatrix, frameWidth, frameHeight, viewportWidth, viewportHeight); err != nil {
		return err
	}
	for i, t := range yuv {
		d.gl.ActiveTexture(gles.TEXTURE0 + uint32(i))
		d.gl.BindTexture(gles.TEXTURE_2D, t)
	}
	d.draw(viewportX, viewportY, viewportWidth, viewportHeight)
	for i := range yuv {
		d.gl.ActiveTexture(gles.TEXTURE0 + uint32(i))
		d.gl.BindTexture(gles.TEXTURE_2D, 0)
	}
	d.gl.ActiveTexture(gles.TEXTURE0)
	return gles.CheckError(d.gl, "draw YUV")
}

// Draw dispatches on the buffer's texture type. The caller holds the
// buffer's lock.
func (d *GenericDrawer) Draw(b *TextureBuffer, texMatrix media.Matrix, frameWidth, frameHeight, viewportX, viewportY, viewportWidth, viewportHeight int) error {
	switch b.TextureType() {
	case TextureOES:
		return d.DrawOES(b.TextureID(), texMatrix, frameWidth, frameHeight, viewportX, viewportY, viewportWidth, viewportHeight)
	case TextureRGB:
		return d.DrawRGB(b.TextureID(), texMatrix, frameWidth, frameHeight, viewportX, viewportY, viewportWidth, viewportHeight)
	default:
		return d.DrawYUV(b.YUVTextures(), texMatrix, frameWidth, frameHeight, viewportX, viewportY, viewportWidth, viewportHeight)
	}
}

func (d *GenericDrawer) compile(typ TextureType) (*shader, error) {
	src := ProgramFor(typ, d.fragment)
	prog, err := d.gl.CreateProgram(src)
	if err != nil {
		return nil, errors.Wrapf(err, "compile %v shader", typ)
	}
	return &shader{program: prog}, nil
}

func (d *GenericDrawer) prepare(typ TextureType, texMatrix media.Matrix, frameWidth, frameHeight, viewportWidth, viewportHeight int) error {
	gl := d.gl
	if d.active == nil || d.current != typ {
		var s *shader
		if v, ok := d.programs.Get(typ); ok {
			s = v.(*shader)
		} else {
			var err error
			if s, err = d.compile(typ); err != nil {
				return err
			}
			d.programs.Add(typ, s)
		}
		gl.UseProgram(s.program)

		// Locations are resolved again on every switch of shader type.
		s.posLocation = gl.GetAttribLocation(s.program, inputPosition)
		s.tcLocation = gl.GetAttribLocation(s.program, inputTextureCoord)
		s.texMatLoc = gl.GetUniformLocation(s.program, textureMatrix)
		if s.posLocation < 0 || s.tcLocation < 0 {
			return errors.Errorf("%v shader lacks vertex attributes", typ)
		}
		if typ == TextureYUV {
			gl.Uniform1i(gl.GetUniformLocation(s.program, "y_tex"), 0)
			gl.Uniform1i(gl.GetUniformLocation(s.program, "u_tex"), 1)
			gl.Uniform1i(gl.GetUniformLocation(s.program, "v_tex"), 2)
		} else {
			gl.Uniform1i(gl.GetUniformLocation(s.program, "tex"), 0)
		}
		if err := gles.CheckError(gl, "prepare shader"); err != nil {
			return err
		}
		if d.callbacks != nil {
			d.callbacks.OnNewShader(gl, s.program)
		}
		d.current, d.active = typ, s
	} else {
		gl.UseProgram(d.active.program)
	}
	s := d.active

	gl.EnableVertexAttribArray(uint32(s.posLocation))
	gl.VertexAttribPointer(uint32(s.posLocation), 2, fullRectangle)
	gl.EnableVertexAttribArray(uint32(s.tcLocation))
	gl.VertexAttribPointer(uint32(s.tcLocation), 2, fullRectangleTexCoord)
	gl.UniformMatrix4fv(s.texMatLoc, texMatrix.ToGL())

	if d.callbacks != nil {
		d.callbacks.OnPrepareShader(gl, s.program, texMatrix, frameWidth, frameHeight, viewportWidth, viewportHeight)
	}
	return gles.CheckError(gl, "prepare shader")
}

func (d *GenericDrawer) draw(x, y, w, h int) {
	d.gl.Viewport(int32(x), int32(y), int32(w), int32(h))
	d.gl.DrawArrays(gles.TRIANGLE_STRIP, 0, 4)
	d.gl.DisableVertexAttribArray(uint32(d.active.posLocation))
	d.gl.DisableVertexAttribArray(uint32(d.active.tcLocation))
}

// Release deletes the compiled programs.
func (d *GenericDrawer) Release() {
	d.programs.Clear()
	d.active = nil
}
