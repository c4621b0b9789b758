//go:build gles2

package gles2

import (
	"strings"

	gl "github.com/go-gl/gl/v3.1/gles2"
	"github.com/lanikai/alohavideo/internal/gles"
	"github.com/pkg/errors"
)

const maxAttribs = 8

// funcs implements gles.GL on the driver. External images are plain 2D
// textures here, so the OES target is mapped to TEXTURE_2D and shaders are
// rewritten to sampler2D.
type funcs struct {
	ctx  *context
	vbos [maxAttribs]uint32
	exts string
}

func newFuncs(c *context) *funcs {
	return &funcs{ctx: c}
}

func (f *funcs) release() {
	for i, b := range f.vbos {
		if b != 0 {
			gl.DeleteBuffers(1, &f.vbos[i])
		}
	}
}

func target(t uint32) uint32 {
	if t == gles.TEXTURE_EXTERNAL_OES {
		return gl.TEXTURE_2D
	}
	return t
}

func (f *funcs) GenTexture() uint32 {
	var t uint32
	gl.GenTextures(1, &t)
	return t
}

func (f *funcs) DeleteTexture(t uint32) { gl.DeleteTextures(1, &t) }

func (f *funcs) ActiveTexture(unit uint32) { gl.ActiveTexture(unit) }

func (f *funcs) BindTexture(t, texture uint32) { gl.BindTexture(target(t), texture) }

func (f *funcs) TexParameteri(t, pname uint32, param int32) {
	gl.TexParameteri(target(t), pname, param)
}

func (f *funcs) TexImage2D(t uint32, level int32, internalFormat uint32, width, height int32, format, xtype uint32, pixels []byte) {
	var ptr = gl.Ptr(nil)
	if len(pixels) > 0 {
		ptr = gl.Ptr(pixels)
	}
	gl.TexImage2D(target(t), level, int32(internalFormat), width, height, 0, format, xtype, ptr)
}

func (f *funcs) GenFramebuffer() uint32 {
	var fb uint32
	gl.GenFramebuffers(1, &fb)
	return fb
}

func (f *funcs) DeleteFramebuffer(fb uint32) { gl.DeleteFramebuffers(1, &fb) }

// BindFramebuffer maps the default framebuffer to the current surface.
func (f *funcs) BindFramebuffer(t, fb uint32) {
	if fb == 0 && f.ctx.surface != nil {
		fb = f.ctx.surface.fbo
	}
	gl.BindFramebuffer(t, fb)
}

func (f *funcs) FramebufferTexture2D(t, attachment, texTarget, texture uint32, level int32) {
	gl.FramebufferTexture2D(t, attachment, target(texTarget), texture, level)
}

func (f *funcs) CheckFramebufferStatus(t uint32) uint32 { return gl.CheckFramebufferStatus(t) }

func compileShader(kind uint32, src string) (uint32, error) {
	shader := gl.CreateShader(kind)
	cstr, free := gl.Strs(src + "\x00")
	gl.ShaderSource(shader, 1, cstr, nil)
	free()
	gl.CompileShader(shader)

	var status int32
	gl.GetShaderiv(shader, gl.COMPILE_STATUS, &status)
	if status == gl.FALSE {
		var n int32
		gl.GetShaderiv(shader, gl.INFO_LOG_LENGTH, &n)
		msg := strings.Repeat("\x00", int(n+1))
		gl.GetShaderInfoLog(shader, n, nil, gl.Str(msg))
		gl.DeleteShader(shader)
		return 0, errors.Errorf("compile shader: %s", strings.TrimRight(msg, "\x00"))
	}
	return shader, nil
}

func (f *funcs) CreateProgram(src *gles.ProgramSource) (uint32, error) {
	vs, err := compileShader(gl.VERTEX_SHADER, src.Vertex)
	if err != nil {
		return 0, err
	}
	defer gl.DeleteShader(vs)
	fs, err := compileShader(gl.FRAGMENT_SHADER, gles.WithoutExternalImages(src.Fragment))
	if err != nil {
		return 0, err
	}
	defer gl.DeleteShader(fs)

	prog := gl.CreateProgram()
	gl.AttachShader(prog, vs)
	gl.AttachShader(prog, fs)
	gl.LinkProgram(prog)
	var status int32
	gl.GetProgramiv(prog, gl.LINK_STATUS, &status)
	if status == gl.FALSE {
		var n int32
		gl.GetProgramiv(prog, gl.INFO_LOG_LENGTH, &n)
		msg := strings.Repeat("\x00", int(n+1))
		gl.GetProgramInfoLog(prog, n, nil, gl.Str(msg))
		gl.DeleteProgram(prog)
		return 0, errors.Errorf("link program: %s", strings.TrimRight(msg, "\x00"))
	}
	return prog, nil
}

func (f *funcs) DeleteProgram(p uint32) { gl.DeleteProgram(p) }
func (f *funcs) UseProgram(p uint32)    { gl.UseProgram(p) }

func (f *funcs) GetAttribLocation(p uint32, name string) int32 {
	return gl.GetAttribLocation(p, gl.Str(name+"\x00"))
}

func (f *funcs) GetUniformLocation(p uint32, name string) int32 {
	return gl.GetUniformLocation(p, gl.Str(name+"\x00"))
}

func (f *funcs) EnableVertexAttribArray(i uint32)  { gl.EnableVertexAttribArray(i) }
func (f *funcs) DisableVertexAttribArray(i uint32) { gl.DisableVertexAttribArray(i) }

// VertexAttribPointer streams data through a per-index buffer object;
// client-side arrays cannot outlive the cgo call.
func (f *funcs) VertexAttribPointer(index uint32, size int32, data []float32) {
	if index >= maxAttribs || len(data) == 0 {
		gl.VertexAttribPointer(index, size, gl.FLOAT, false, 0, nil)
		return
	}
	if f.vbos[index] == 0 {
		gl.GenBuffers(1, &f.vbos[index])
	}
	gl.BindBuffer(gl.ARRAY_BUFFER, f.vbos[index])
	gl.BufferData(gl.ARRAY_BUFFER, 4*len(data), gl.Ptr(data), gl.STREAM_DRAW)
	gl.VertexAttribPointer(index, size, gl.FLOAT, false, 0, gl.PtrOffset(0))
	gl.BindBuffer(gl.ARRAY_BUFFER, 0)
}

func (f *funcs) Uniform1i(loc int32, v int32) { gl.Uniform1i(loc, v) }

func (f *funcs) Uniform2fv(loc int32, v []float32) { gl.Uniform2fv(loc, 1, &v[0]) }

func (f *funcs) Uniform4fv(loc int32, v []float32) { gl.Uniform4fv(loc, 1, &v[0]) }

func (f *funcs) UniformMatrix4fv(loc int32, m [16]float32) {
	gl.UniformMatrix4fv(loc, 1, false, &m[0])
}

func (f *funcs) Viewport(x, y, w, h int32)     { gl.Viewport(x, y, w, h) }
func (f *funcs) ClearColor(r, g, b, a float32) { gl.ClearColor(r, g, b, a) }
func (f *funcs) Clear(mask uint32)             { gl.Clear(mask) }

func (f *funcs) DrawArrays(mode uint32, first, count int32) {
	gl.DrawArrays(mode, first, count)
}

func (f *funcs) ReadPixels(x, y, w, h int32, format, xtype uint32, dst []byte) {
	gl.ReadPixels(x, y, w, h, format, xtype, gl.Ptr(dst))
}

func (f *funcs) PixelStorei(pname uint32, param int32) { gl.PixelStorei(pname, param) }
func (f *funcs) GetError() uint32                      { return gl.GetError() }
func (f *funcs) Finish()                               { gl.Finish() }

// HasExtension never reports external images, which this backend emulates.
func (f *funcs) HasExtension(name string) bool {
	if name == gles.ExtensionOESImageExternal {
		return false
	}
	if f.exts == "" {
		f.exts = gl.GoStr(gl.GetString(gl.EXTENSIONS))
	}
	for _, e := range strings.Fields(f.exts) {
		if e == name {
			return true
		}
	}
	return false
}
