package color

import (
	"image"

	"golang.org/x/image/draw"
)

func grayPlane(pix []byte, stride, w, h int) *image.Gray {
	return &image.Gray{Pix: pix, Stride: stride, Rect: image.Rect(0, 0, w, h)}
}

// ScalePlane resamples a single 8-bit plane with bilinear filtering.
func ScalePlane(dst []byte, dstStride, dw, dh int, src []byte, srcStride, sw, sh int) {
	if dw == sw && dh == sh {
		CopyPlane(dst, dstStride, src, srcStride, sw, sh)
		return
	}
	d := grayPlane(dst, dstStride, dw, dh)
	s := grayPlane(src, srcStride, sw, sh)
	draw.BiLinear.Scale(d, d.Rect, s, s.Rect, draw.Src, nil)
}

// ScaleI420 resamples src into dst, whose size determines the output.
func ScaleI420(dst, src *Planar) {
	ScalePlane(dst.Y, dst.StrideY, dst.Width, dst.Height, src.Y, src.StrideY, src.Width, src.Height)
	ScalePlane(dst.U, dst.StrideU, dst.ChromaWidth(), dst.ChromaHeight(), src.U, src.StrideU, src.ChromaWidth(), src.ChromaHeight())
	ScalePlane(dst.V, dst.StrideV, dst.ChromaWidth(), dst.ChromaHeight(), src.V, src.StrideV, src.ChromaWidth(), src.ChromaHeight())
}

// ScaleRGBA resamples an RGBA image into a w x h destination.
func ScaleRGBA(dst []byte, dstStride, dw, dh int, src []byte, srcStride, sw, sh int) {
	d := &image.RGBA{Pix: dst, Stride: dstStride, Rect: image.Rect(0, 0, dw, dh)}
	s := &image.RGBA{Pix: src, Stride: srcStride, Rect: image.Rect(0, 0, sw, sh)}
	draw.ApproxBiLinear.Scale(d, d.Rect, s, s.Rect, draw.Src, nil)
}

// RotatePlane rotates a w x h plane clockwise by degrees (0, 90, 180 or
// 270). For 90 and 270 the destination is h x w.
func RotatePlane(dst []byte, dstStride int, src []byte, srcStride int, w, h, degrees int) {
	switch degrees {
	case 90:
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				dst[x*dstStride+h-1-y] = src[y*srcStride+x]
			}
		}
	case 180:
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				dst[(h-1-y)*dstStride+w-1-x] = src[y*srcStride+x]
			}
		}
	case 270:
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				dst[(w-1-x)*dstStride+y] = src[y*srcStride+x]
			}
		}
	default:
		CopyPlane(dst, dstStride, src, srcStride, w, h)
	}
}

// RotateI420 rotates src into dst, which must already have the rotated
// dimensions.
func RotateI420(dst, src *Planar, degrees int) {
	RotatePlane(dst.Y, dst.StrideY, src.Y, src.StrideY, src.Width, src.Height, degrees)
	RotatePlane(dst.U, dst.StrideU, src.U, src.StrideU, src.ChromaWidth(), src.ChromaHeight(), degrees)
	RotatePlane(dst.V, dst.StrideV, src.V, src.StrideV, src.ChromaWidth(), src.ChromaHeight(), degrees)
}
