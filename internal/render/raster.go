package render

import (
	"image"
	stdcolor "image/color"

	"github.com/lanikai/alohavideo/internal/color"
	"github.com/lanikai/alohavideo/internal/media"
	"github.com/lanikai/alohavideo/internal/native"
	"github.com/pkg/errors"
	"golang.org/x/image/draw"
)

// rasterizer renders I420 on the CPU. Rotation and mirroring are not
// applied.
type rasterizer struct {
	rgba []byte
}

var black = image.NewUniform(stdcolor.RGBA{0, 0, 0, 0xff})

func (rs *rasterizer) render(win native.Window, frame *media.VideoFrame, mode ScalingMode) error {
	i420 := frame.Buffer.ToI420()
	if i420 == nil {
		return errors.Errorf("%v buffer has no pixels", frame.Buffer.Type())
	}
	src := i420.Planar()
	stride := 4 * src.Width
	if n := stride * src.Height; cap(rs.rgba) < n {
		rs.rgba = make([]byte, n)
	} else {
		rs.rgba = rs.rgba[:n]
	}
	color.I420ToRGBA(rs.rgba, stride, src)
	frameImg := &image.RGBA{Pix: rs.rgba, Stride: stride, Rect: image.Rect(0, 0, src.Width, src.Height)}

	buf, err := win.RequestBuffer()
	if err != nil {
		return err
	}
	dst := &image.RGBA{Pix: buf.Pixels, Stride: buf.Stride, Rect: image.Rect(0, 0, buf.Width, buf.Height)}

	l := ComputeLayout(mode, src.Width, src.Height, buf.Width, buf.Height)
	target := image.Rect(l.X, l.Y, l.X+l.Width, l.Y+l.Height)
	if target != dst.Rect {
		draw.Draw(dst, dst.Rect, black, image.Point{}, draw.Src)
	}
	// Centered crop for ScaleAspectFill.
	cw := int(float32(src.Width)*l.ScaleX + 0.5)
	ch := int(float32(src.Height)*l.ScaleY + 0.5)
	x0, y0 := (src.Width-cw)/2, (src.Height-ch)/2
	crop := image.Rect(x0, y0, x0+cw, y0+ch)
	if crop.Size() == target.Size() {
		draw.Copy(dst, target.Min, frameImg, crop, draw.Src, nil)
	} else {
		draw.ApproxBiLinear.Scale(dst, target, frameImg, crop, draw.Src, nil)
	}

	buf.TimestampNs = frame.TimestampUs * 1000
	return win.FlushBuffer(buf)
}
