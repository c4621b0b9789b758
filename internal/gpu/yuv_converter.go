package gpu

import (
	"github.com/lanikai/alohavideo/internal/color"
	"github.com/lanikai/alohavideo/internal/gles"
	"github.com/lanikai/alohavideo/internal/media"
	"github.com/pkg/errors"
)

// The converter packs four output bytes into each RGBA pixel, sampling
// the source at four points xUnit apart.
var converterFragment = FragmentShader{
	Source: `
uniform vec2 xUnit;
// Color conversion coefficients, including constant term
uniform vec4 coeffs;

void main() {
  gl_FragColor.r = coeffs.a + dot(coeffs.rgb, sample(tc - 1.5 * xUnit).rgb);
  gl_FragColor.g = coeffs.a + dot(coeffs.rgb, sample(tc - 0.5 * xUnit).rgb);
  gl_FragColor.b = coeffs.a + dot(coeffs.rgb, sample(tc + 0.5 * xUnit).rgb);
  gl_FragColor.a = coeffs.a + dot(coeffs.rgb, sample(tc + 1.5 * xUnit).rgb);
}
`,
	Stage: func(in gles.ShaderInputs, sample func(s, t float32) [4]float32) func(s, t float32) [4]float32 {
		xUnit, coeffs := in.Uniform("xUnit"), in.Uniform("coeffs")
		if len(xUnit) < 2 || len(coeffs) < 4 {
			return func(s, t float32) [4]float32 { return [4]float32{} }
		}
		return func(s, t float32) [4]float32 {
			var out [4]float32
			for i, k := range [4]float32{-1.5, -0.5, 0.5, 1.5} {
				p := sample(s+k*xUnit[0], t+k*xUnit[1])
				out[i] = coeffs[3] + coeffs[0]*p[0] + coeffs[1]*p[1] + coeffs[2]*p[2]
			}
			return out
		}
	},
}

// BT.601 limited-range RGB to YUV coefficients with the constant term in
// the fourth component.
var (
	yCoeffs = []float32{0.256788, 0.504129, 0.0979059, 0.0627451}
	uCoeffs = []float32{-0.148223, -0.290993, 0.439216, 0.501961}
	vCoeffs = []float32{0.439216, -0.367788, -0.0714274, 0.501961}
)

// converterShader feeds xUnit and coeffs to the converter's drawer.
type converterShader struct {
	xUnitLoc  int32
	coeffsLoc int32

	coeffs   []float32
	stepSize float32
}

func (c *converterShader) setPass(coeffs []float32, stepSize float32) {
	c.coeffs, c.stepSize = coeffs, stepSize
}

func (c *converterShader) OnNewShader(gl gles.GL, program uint32) {
	c.xUnitLoc = gl.GetUniformLocation(program, "xUnit")
	c.coeffsLoc = gl.GetUniformLocation(program, "coeffs")
}

func (c *converterShader) OnPrepareShader(gl gles.GL, program uint32, m media.Matrix, frameWidth, frameHeight, viewportWidth, viewportHeight int) {
	gl.Uniform4fv(c.coeffsLoc, c.coeffs)
	// One step along the texture's x axis, in texture coordinates.
	gl.Uniform2fv(c.xUnitLoc, []float32{
		c.stepSize * m[0] / float32(frameWidth),
		c.stepSize * m[3] / float32(frameWidth),
	})
}

// YuvConverter reads texture buffers back as I420 by rendering them into
// an RGBA framebuffer laid out as the three planes. It must be used on
// one GL thread where the source textures are visible.
type YuvConverter struct {
	gl     gles.GL
	shader *converterShader
	drawer *GenericDrawer

	fbo     uint32
	texture uint32
	fbW     int
	fbH     int
}

func NewYuvConverter(gl gles.GL) *YuvConverter {
	s := &converterShader{}
	return &YuvConverter{
		gl:     gl,
		shader: s,
		drawer: NewGenericDrawer(gl, converterFragment, s),
	}
}

// Stride returns the byte stride of every plane of a converted frame of
// the given width.
func Stride(width int) int {
	return (width + 7) / 8 * 8
}

// ensureFramebuffer (re)allocates the target when its size changes.
func (c *YuvConverter) ensureFramebuffer(width, height int) error {
	if c.fbo != 0 && c.fbW == width && c.fbH == height {
		return nil
	}
	c.Invalidate()
	gl := c.gl
	c.texture = gl.GenTexture()
	gl.ActiveTexture(gles.TEXTURE0)
	gl.BindTexture(gles.TEXTURE_2D, c.texture)
	gl.TexParameteri(gles.TEXTURE_2D, gles.TEXTURE_MIN_FILTER, gles.NEAREST)
	gl.TexParameteri(gles.TEXTURE_2D, gles.TEXTURE_MAG_FILTER, gles.NEAREST)
	gl.TexParameteri(gles.TEXTURE_2D, gles.TEXTURE_WRAP_S, gles.CLAMP_TO_EDGE)
	gl.TexParameteri(gles.TEXTURE_2D, gles.TEXTURE_WRAP_T, gles.CLAMP_TO_EDGE)
	gl.TexImage2D(gles.TEXTURE_2D, 0, gles.RGBA, int32(width), int32(height), gles.RGBA, gles.UNSIGNED_BYTE, nil)
	gl.BindTexture(gles.TEXTURE_2D, 0)

	c.fbo = gl.GenFramebuffer()
	gl.BindFramebuffer(gles.FRAMEBUFFER, c.fbo)
	gl.FramebufferTexture2D(gles.FRAMEBUFFER, gles.COLOR_ATTACHMENT0, gles.TEXTURE_2D, c.texture, 0)
	status := gl.CheckFramebufferStatus(gles.FRAMEBUFFER)
	gl.BindFramebuffer(gles.FRAMEBUFFER, 0)
	if status != gles.FRAMEBUFFER_COMPLETE {
		c.Invalidate()
		return errors.Errorf("converter framebuffer incomplete (0x%x)", status)
	}
	c.fbW, c.fbH = width, height
	log.Trace(4, "Converter framebuffer %dx%d", width, height)
	return gles.CheckError(gl, "allocate converter framebuffer")
}

// Convert reads b back as I420. All planes share one allocation and the
// stride Stride(width): Y occupies the first height rows; each following
// row holds a U row in its left half and a V row in its right half.
func (c *YuvConverter) Convert(b *TextureBuffer) (*media.I420Buffer, error) {
	width, height := b.Width(), b.Height()
	if width <= 0 || height <= 0 {
		return nil, errors.Errorf("cannot convert %dx%d buffer", width, height)
	}
	stride := Stride(width)
	uvHeight := (height + 1) / 2
	totalHeight := height + uvHeight
	// Four bytes per RGBA pixel.
	viewportWidth := stride / 4

	if err := c.ensureFramebuffer(viewportWidth, totalHeight); err != nil {
		return nil, err
	}
	gl := c.gl
	gl.BindFramebuffer(gles.FRAMEBUFFER, c.fbo)
	defer gl.BindFramebuffer(gles.FRAMEBUFFER, 0)

	// Row 0 of the framebuffer holds the top of the image.
	m := b.TransformMatrix().PreConcat(media.FlipVertical())

	passes := []struct {
		coeffs     []float32
		step       float32
		x, y, w, h int
	}{
		{yCoeffs, 1, 0, 0, viewportWidth, height},
		{uCoeffs, 2, 0, height, viewportWidth / 2, uvHeight},
		{vCoeffs, 2, viewportWidth / 2, height, viewportWidth / 2, uvHeight},
	}
	for _, p := range passes {
		c.shader.setPass(p.coeffs, p.step)
		if err := c.drawer.Draw(b, m, width, height, p.x, p.y, p.w, p.h); err != nil {
			return nil, errors.Wrap(err, "convert")
		}
	}

	data := make([]byte, stride*totalHeight)
	gl.PixelStorei(gles.PACK_ALIGNMENT, 4)
	gl.ReadPixels(0, 0, int32(viewportWidth), int32(totalHeight), gles.RGBA, gles.UNSIGNED_BYTE, data)
	if err := gles.CheckError(gl, "read back I420"); err != nil {
		return nil, err
	}

	uPos := stride * height
	vPos := uPos + stride/2
	return media.WrapI420(&color.Planar{
		Width:   width,
		Height:  height,
		Y:       data[:uPos],
		U:       data[uPos : len(data)-stride/2],
		V:       data[vPos:],
		StrideY: stride,
		StrideU: stride,
		StrideV: stride,
	}), nil
}

// Invalidate drops the cached framebuffer; the next conversion allocates
// a new one.
func (c *YuvConverter) Invalidate() {
	if c.fbo != 0 {
		c.gl.DeleteFramebuffer(c.fbo)
		c.fbo = 0
	}
	if c.texture != 0 {
		c.gl.DeleteTexture(c.texture)
		c.texture = 0
	}
	c.fbW, c.fbH = 0, 0
}

func (c *YuvConverter) Release() {
	c.Invalidate()
	c.drawer.Release()
}
