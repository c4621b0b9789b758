package softgl

import (
	"testing"

	"github.com/lanikai/alohavideo/internal/gles"
	"github.com/lanikai/alohavideo/internal/native"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var copyProgram = &gles.ProgramSource{
	Vertex: `
attribute vec2 in_pos;
attribute vec2 in_tc;
varying vec2 tc;
void main() {
  gl_Position = vec4(in_pos, 0.0, 1.0);
  tc = in_tc;
}`,
	Fragment: `
precision mediump float;
varying vec2 tc;
uniform sampler2D tex;
void main() {
  gl_FragColor = texture2D(tex, tc);
}`,
	VertexStage: func(in gles.ShaderInputs, attrib func(string) [4]float32) ([4]float32, []float32) {
		p, t := attrib("in_pos"), attrib("in_tc")
		return [4]float32{p[0], p[1], 0, 1}, []float32{t[0], t[1]}
	},
	FragmentStage: func(in gles.ShaderInputs) func([]float32) [4]float32 {
		s := in.Sampler("tex")
		return func(v []float32) [4]float32 { return s.Sample(v[0], v[1]) }
	},
}

var (
	quadPositions = []float32{-1, -1, 1, -1, -1, 1, 1, 1}
	quadTexCoords = []float32{0, 0, 1, 0, 0, 1, 1, 1}
)

func newCurrentContext(t *testing.T, p *Platform, share gles.Context, w, h int) *context {
	ctx, err := p.CreateContext(share, gles.ConfigPixelBuffer)
	require.NoError(t, err)
	s, err := p.CreatePbufferSurface(ctx, w, h)
	require.NoError(t, err)
	require.NoError(t, p.MakeCurrent(ctx, s))
	return p.GL(ctx).(*context)
}

func uploadTexture(gl gles.GL, w, h int, format uint32, pix []byte) uint32 {
	tex := gl.GenTexture()
	gl.BindTexture(gles.TEXTURE_2D, tex)
	gl.TexParameteri(gles.TEXTURE_2D, gles.TEXTURE_MIN_FILTER, gles.NEAREST)
	gl.TexParameteri(gles.TEXTURE_2D, gles.TEXTURE_MAG_FILTER, gles.NEAREST)
	gl.TexImage2D(gles.TEXTURE_2D, 0, format, int32(w), int32(h), format, gles.UNSIGNED_BYTE, pix)
	return tex
}

func drawQuad(t *testing.T, gl gles.GL, tex uint32) {
	prog, err := gl.CreateProgram(copyProgram)
	require.NoError(t, err)
	gl.UseProgram(prog)
	gl.ActiveTexture(gles.TEXTURE0)
	gl.BindTexture(gles.TEXTURE_2D, tex)
	gl.Uniform1i(gl.GetUniformLocation(prog, "tex"), 0)

	pos := uint32(gl.GetAttribLocation(prog, "in_pos"))
	tc := uint32(gl.GetAttribLocation(prog, "in_tc"))
	gl.EnableVertexAttribArray(pos)
	gl.VertexAttribPointer(pos, 2, quadPositions)
	gl.EnableVertexAttribArray(tc)
	gl.VertexAttribPointer(tc, 2, quadTexCoords)
	gl.DrawArrays(gles.TRIANGLE_STRIP, 0, 4)
	require.NoError(t, gles.CheckError(gl, "draw"))
}

func TestClearAndReadPixels(t *testing.T) {
	gl := newCurrentContext(t, New(), nil, 3, 2)
	gl.ClearColor(1, 0.5, 0, 1)
	gl.Clear(gles.COLOR_BUFFER_BIT)

	out := make([]byte, 3*2*4)
	gl.ReadPixels(0, 0, 3, 2, gles.RGBA, gles.UNSIGNED_BYTE, out)
	require.NoError(t, gles.CheckError(gl, "read"))
	for i := 0; i < len(out); i += 4 {
		assert.Equal(t, []byte{255, 128, 0, 255}, out[i:i+4])
	}
}

func TestDrawTextureToFramebuffer(t *testing.T) {
	gl := newCurrentContext(t, New(), nil, 1, 1)

	src := []byte{
		10, 20, 30, 255, 40, 50, 60, 255,
		70, 80, 90, 255, 100, 110, 120, 255,
	}
	tex := uploadTexture(gl, 2, 2, gles.RGBA, src)

	target := uploadTexture(gl, 2, 2, gles.RGBA, nil)
	fb := gl.GenFramebuffer()
	gl.BindFramebuffer(gles.FRAMEBUFFER, fb)
	gl.FramebufferTexture2D(gles.FRAMEBUFFER, gles.COLOR_ATTACHMENT0, gles.TEXTURE_2D, target, 0)
	require.EqualValues(t, gles.FRAMEBUFFER_COMPLETE, gl.CheckFramebufferStatus(gles.FRAMEBUFFER))
	gl.Viewport(0, 0, 2, 2)

	drawQuad(t, gl, tex)

	out := make([]byte, len(src))
	gl.ReadPixels(0, 0, 2, 2, gles.RGBA, gles.UNSIGNED_BYTE, out)
	assert.Equal(t, src, out)
}

func TestLinearFilterInterpolates(t *testing.T) {
	gl := newCurrentContext(t, New(), nil, 4, 1)
	tex := uploadTexture(gl, 2, 1, gles.RGBA, []byte{0, 0, 0, 255, 200, 200, 200, 255})
	gl.TexParameteri(gles.TEXTURE_2D, gles.TEXTURE_MAG_FILTER, gles.LINEAR)

	drawQuad(t, gl, tex)
	out := make([]byte, 16)
	gl.ReadPixels(0, 0, 4, 1, gles.RGBA, gles.UNSIGNED_BYTE, out)
	// Centers at s = 1/8 and 7/8 clamp to the edge texels.
	assert.Equal(t, []byte{0, 50, 150, 200}, []byte{out[0], out[4], out[8], out[12]})
}

func TestLuminanceUpload(t *testing.T) {
	gl := newCurrentContext(t, New(), nil, 3, 2)
	gl.PixelStorei(gles.UNPACK_ALIGNMENT, 1)
	tex := uploadTexture(gl, 3, 2, gles.LUMINANCE, []byte{1, 2, 3, 4, 5, 6})
	require.NoError(t, gles.CheckError(gl, "upload"))

	drawQuad(t, gl, tex)
	out := make([]byte, 3*2*4)
	gl.ReadPixels(0, 0, 3, 2, gles.RGBA, gles.UNSIGNED_BYTE, out)
	for i, l := range []byte{1, 2, 3, 4, 5, 6} {
		assert.Equal(t, []byte{l, l, l, 255}, out[4*i:4*i+4])
	}
}

func TestSharedTextures(t *testing.T) {
	p := New()
	parent := newCurrentContext(t, p, nil, 1, 1)
	tex := uploadTexture(parent, 1, 1, gles.RGBA, []byte{9, 8, 7, 255})

	child := newCurrentContext(t, p, parent, 1, 1)
	drawQuad(t, child, tex)
	out := make([]byte, 4)
	child.ReadPixels(0, 0, 1, 1, gles.RGBA, gles.UNSIGNED_BYTE, out)
	assert.Equal(t, []byte{9, 8, 7, 255}, out)

	// An unrelated context sees an empty texture under the same name.
	other := newCurrentContext(t, p, nil, 1, 1)
	drawQuad(t, other, tex)
	other.ReadPixels(0, 0, 1, 1, gles.RGBA, gles.UNSIGNED_BYTE, out)
	assert.Equal(t, []byte{0, 0, 0, 255}, out)
}

func TestWindowSurfaceSwapFlipsRows(t *testing.T) {
	p := New()
	win := native.NewBufferQueue(1, 2, 2, native.FormatRGBA8888)
	ctx, err := p.CreateContext(nil, gles.ConfigRecordable)
	require.NoError(t, err)
	s, err := p.CreateWindowSurface(ctx, win)
	require.NoError(t, err)
	require.NoError(t, p.MakeCurrent(ctx, s))
	gl := p.GL(ctx)

	// Texture row 0 is the bottom of the rendered image.
	tex := uploadTexture(gl, 1, 2, gles.RGBA, []byte{255, 0, 0, 255, 0, 0, 255, 255})
	drawQuad(t, gl, tex)
	require.NoError(t, p.SwapBuffers(ctx, s, 1234))

	b := win.Acquire()
	require.NotNil(t, b)
	defer win.Release(b)
	assert.EqualValues(t, 1234, b.TimestampNs)
	assert.Equal(t, []byte{0, 0, 255, 255}, b.Pixels[0:4])
	assert.Equal(t, []byte{255, 0, 0, 255}, b.Pixels[b.Stride:b.Stride+4])
}

func TestErrors(t *testing.T) {
	p := New()
	gl := newCurrentContext(t, p, nil, 1, 1)

	gl.ActiveTexture(gles.TEXTURE0 + maxTextureUnits)
	assert.EqualValues(t, gles.INVALID_ENUM, gl.GetError())
	assert.EqualValues(t, gles.NO_ERROR, gl.GetError())

	tex := gl.GenTexture()
	gl.BindTexture(gles.TEXTURE_EXTERNAL_OES, tex)
	gl.BindTexture(gles.TEXTURE_2D, tex)
	assert.EqualValues(t, gles.INVALID_OPERATION, gl.GetError())

	gl.DrawArrays(gles.TRIANGLE_STRIP, 0, 4)
	assert.EqualValues(t, gles.INVALID_OPERATION, gl.GetError(), "no program")

	_, err := gl.CreateProgram(&gles.ProgramSource{Vertex: "", Fragment: ""})
	assert.Error(t, err)

	assert.True(t, gl.HasExtension(gles.ExtensionOESImageExternal))

	_, err = p.CreateWindowSurface(gl, native.NewBufferQueue(2, 2, 1, native.FormatYUYV))
	assert.Error(t, err)

	p.DestroyContext(gl)
	assert.Error(t, p.MakeCurrent(gl, nil))
}
