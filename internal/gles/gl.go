// Package gles abstracts the GL context platform (an EGL analog) and the
// GLES2 subset the video pipeline draws with. Backends live in
// sub-packages and register themselves by name.
package gles

import (
	"fmt"

	"github.com/lanikai/alohavideo/internal/logging"
)

var log = logging.DefaultLogger.WithTag("gles")

// GLES2 enums used by the pipeline.
const (
	NO_ERROR                      = 0
	INVALID_ENUM                  = 0x0500
	INVALID_VALUE                 = 0x0501
	INVALID_OPERATION             = 0x0502
	INVALID_FRAMEBUFFER_OPERATION = 0x0506

	TRIANGLES        = 0x0004
	TRIANGLE_STRIP   = 0x0005
	COLOR_BUFFER_BIT = 0x4000

	TEXTURE_2D           = 0x0DE1
	TEXTURE_EXTERNAL_OES = 0x8D65
	TEXTURE0             = 0x84C0
	TEXTURE_MAG_FILTER   = 0x2800
	TEXTURE_MIN_FILTER   = 0x2801
	TEXTURE_WRAP_S       = 0x2802
	TEXTURE_WRAP_T       = 0x2803
	NEAREST              = 0x2600
	LINEAR               = 0x2601
	CLAMP_TO_EDGE        = 0x812F

	UNSIGNED_BYTE = 0x1401
	FLOAT         = 0x1406
	RGBA          = 0x1908
	LUMINANCE     = 0x1909

	UNPACK_ALIGNMENT = 0x0CF5
	PACK_ALIGNMENT   = 0x0D05

	FRAMEBUFFER                   = 0x8D40
	COLOR_ATTACHMENT0             = 0x8CE0
	FRAMEBUFFER_COMPLETE          = 0x8CD5
	FRAMEBUFFER_INCOMPLETE_ATTACH = 0x8CD6
	FRAMEBUFFER_UNSUPPORTED       = 0x8CDD
)

const ExtensionOESImageExternal = "GL_OES_EGL_image_external"

// GL is the GLES2 subset used by the pipeline. Methods must be called on
// the thread where the owning context is current.
type GL interface {
	GenTexture() uint32
	DeleteTexture(texture uint32)
	ActiveTexture(unit uint32)
	BindTexture(target, texture uint32)
	TexParameteri(target, pname uint32, param int32)
	// TexImage2D uploads pixels (nil allocates uninitialized storage).
	TexImage2D(target uint32, level int32, internalFormat uint32, width, height int32, format, xtype uint32, pixels []byte)

	GenFramebuffer() uint32
	DeleteFramebuffer(fb uint32)
	BindFramebuffer(target, fb uint32)
	FramebufferTexture2D(target, attachment, texTarget, texture uint32, level int32)
	CheckFramebufferStatus(target uint32) uint32

	// CreateProgram compiles and links src.
	CreateProgram(src *ProgramSource) (uint32, error)
	DeleteProgram(program uint32)
	UseProgram(program uint32)
	GetAttribLocation(program uint32, name string) int32
	GetUniformLocation(program uint32, name string) int32

	EnableVertexAttribArray(index uint32)
	DisableVertexAttribArray(index uint32)
	// VertexAttribPointer sources a float attribute of the given component
	// count from data, which the implementation may copy.
	VertexAttribPointer(index uint32, size int32, data []float32)

	Uniform1i(location int32, v int32)
	Uniform2fv(location int32, v []float32)
	Uniform4fv(location int32, v []float32)
	UniformMatrix4fv(location int32, m [16]float32)

	Viewport(x, y, width, height int32)
	ClearColor(r, g, b, a float32)
	Clear(mask uint32)
	DrawArrays(mode uint32, first, count int32)
	ReadPixels(x, y, width, height int32, format, xtype uint32, dst []byte)
	PixelStorei(pname uint32, param int32)

	GetError() uint32
	Finish()
	HasExtension(name string) bool
}

// CheckError returns a non-nil error if GL recorded one.
func CheckError(gl GL, op string) error {
	if code := gl.GetError(); code != NO_ERROR {
		return fmt.Errorf("%s: GL error 0x%04x", op, code)
	}
	return nil
}
