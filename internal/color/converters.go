// Copyright 2019 Lanikai Labs. All rights reserved.

// Package color converts between the CPU pixel formats used by codecs,
// capture buffers and the raster renderer. All YUV formats are 8-bit BT.601
// limited range with 4:2:0 subsampling and (w+1)/2 x (h+1)/2 chroma.
package color

import (
	"image"
)

// Planar holds a 4:2:0 image as three planes.
type Planar struct {
	Width, Height int

	Y, U, V                   []byte
	StrideY, StrideU, StrideV int
}

func (p *Planar) ChromaWidth() int  { return (p.Width + 1) / 2 }
func (p *Planar) ChromaHeight() int { return (p.Height + 1) / 2 }

// NewPlanar allocates a tightly packed planar image.
func NewPlanar(w, h int) *Planar {
	cw, ch := (w+1)/2, (h+1)/2
	return &Planar{
		Width:   w,
		Height:  h,
		Y:       make([]byte, w*h),
		U:       make([]byte, cw*ch),
		V:       make([]byte, cw*ch),
		StrideY: w,
		StrideU: cw,
		StrideV: cw,
	}
}

type YUYV struct {
	Packed []uint8
	Rect   image.Rectangle
	Stride int
}

// NewYUYV allocates and returns a YUYV image
func NewYUYV(r image.Rectangle) *YUYV {
	return &YUYV{
		Packed: make([]byte, 2*r.Dx()*r.Dy()),
		Rect:   r,
		Stride: 2 * r.Dx(),
	}
}

// YUYVToI420 converts YUYV (i.e. YUY2) packed to planar. Chroma is taken
// from even rows.
func YUYVToI420(dst *Planar, src *YUYV) {
	w, h := src.Rect.Dx(), src.Rect.Dy()
	for y := 0; y < h; y++ {
		row := src.Packed[y*src.Stride:]
		dy := dst.Y[y*dst.StrideY:]
		for x := 0; x < w; x++ {
			dy[x] = row[2*x]
		}
		if y%2 != 0 {
			continue
		}
		du := dst.U[(y/2)*dst.StrideU:]
		dv := dst.V[(y/2)*dst.StrideV:]
		for x := 0; x < (w+1)/2; x++ {
			du[x] = row[4*x+1]
			dv[x] = row[4*x+3]
		}
	}
}

// CopyPlane copies a w x h plane between buffers of different strides.
func CopyPlane(dst []byte, dstStride int, src []byte, srcStride int, w, h int) {
	if dstStride == w && srcStride == w {
		copy(dst[:w*h], src[:w*h])
		return
	}
	for y := 0; y < h; y++ {
		copy(dst[y*dstStride:y*dstStride+w], src[y*srcStride:y*srcStride+w])
	}
}

// CopyI420 copies src into dst. Both must have the same dimensions.
func CopyI420(dst, src *Planar) {
	cw, ch := src.ChromaWidth(), src.ChromaHeight()
	CopyPlane(dst.Y, dst.StrideY, src.Y, src.StrideY, src.Width, src.Height)
	CopyPlane(dst.U, dst.StrideU, src.U, src.StrideU, cw, ch)
	CopyPlane(dst.V, dst.StrideV, src.V, src.StrideV, cw, ch)
}

// I420ToNV12 interleaves U and V into uv (U first).
func I420ToNV12(y []byte, strideY int, uv []byte, strideUV int, src *Planar) {
	i420ToSemiPlanar(y, strideY, uv, strideUV, src, false)
}

// I420ToNV21 interleaves U and V into vu (V first).
func I420ToNV21(y []byte, strideY int, vu []byte, strideVU int, src *Planar) {
	i420ToSemiPlanar(y, strideY, vu, strideVU, src, true)
}

func i420ToSemiPlanar(y []byte, strideY int, uv []byte, strideUV int, src *Planar, swap bool) {
	CopyPlane(y, strideY, src.Y, src.StrideY, src.Width, src.Height)
	cw, ch := src.ChromaWidth(), src.ChromaHeight()
	for j := 0; j < ch; j++ {
		row := uv[j*strideUV:]
		u := src.U[j*src.StrideU:]
		v := src.V[j*src.StrideV:]
		for i := 0; i < cw; i++ {
			if swap {
				row[2*i], row[2*i+1] = v[i], u[i]
			} else {
				row[2*i], row[2*i+1] = u[i], v[i]
			}
		}
	}
}

// NV12ToI420 splits an interleaved UV plane.
func NV12ToI420(dst *Planar, y []byte, strideY int, uv []byte, strideUV int) {
	semiPlanarToI420(dst, y, strideY, uv, strideUV, false)
}

// NV21ToI420 splits an interleaved VU plane.
func NV21ToI420(dst *Planar, y []byte, strideY int, vu []byte, strideVU int) {
	semiPlanarToI420(dst, y, strideY, vu, strideVU, true)
}

func semiPlanarToI420(dst *Planar, y []byte, strideY int, uv []byte, strideUV int, swap bool) {
	CopyPlane(dst.Y, dst.StrideY, y, strideY, dst.Width, dst.Height)
	cw, ch := dst.ChromaWidth(), dst.ChromaHeight()
	for j := 0; j < ch; j++ {
		row := uv[j*strideUV:]
		u := dst.U[j*dst.StrideU:]
		v := dst.V[j*dst.StrideV:]
		for i := 0; i < cw; i++ {
			if swap {
				v[i], u[i] = row[2*i], row[2*i+1]
			} else {
				u[i], v[i] = row[2*i], row[2*i+1]
			}
		}
	}
}

func clamp8(v int32) byte {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return byte(v)
}

func rgbToY(r, g, b int32) byte {
	return clamp8((66*r+129*g+25*b+128)>>8 + 16)
}

func rgbToU(r, g, b int32) byte {
	return clamp8((112*b - 74*g - 38*r + 0x8080) >> 8)
}

func rgbToV(r, g, b int32) byte {
	return clamp8((112*r - 94*g - 18*b + 0x8080) >> 8)
}

// RGBAToI420 converts RGBA bytes (R first) to planar, averaging each 2x2
// block for chroma.
func RGBAToI420(dst *Planar, rgba []byte, stride int) {
	w, h := dst.Width, dst.Height
	for y := 0; y < h; y++ {
		row := rgba[y*stride:]
		dy := dst.Y[y*dst.StrideY:]
		for x := 0; x < w; x++ {
			p := row[4*x:]
			dy[x] = rgbToY(int32(p[0]), int32(p[1]), int32(p[2]))
		}
	}
	for j := 0; j < dst.ChromaHeight(); j++ {
		y0, y1 := 2*j, min(2*j+1, h-1)
		for i := 0; i < dst.ChromaWidth(); i++ {
			x0, x1 := 2*i, min(2*i+1, w-1)
			var r, g, b int32
			for _, o := range [4]int{y0*stride + 4*x0, y0*stride + 4*x1, y1*stride + 4*x0, y1*stride + 4*x1} {
				r += int32(rgba[o])
				g += int32(rgba[o+1])
				b += int32(rgba[o+2])
			}
			r, g, b = (r+2)/4, (g+2)/4, (b+2)/4
			dst.U[j*dst.StrideU+i] = rgbToU(r, g, b)
			dst.V[j*dst.StrideV+i] = rgbToV(r, g, b)
		}
	}
}

// I420ToRGBA converts planar to RGBA bytes (R first, alpha 255). This is
// the byte order of an RGBA_8888 window buffer.
func I420ToRGBA(rgba []byte, stride int, src *Planar) {
	for y := 0; y < src.Height; y++ {
		row := rgba[y*stride:]
		sy := src.Y[y*src.StrideY:]
		su := src.U[(y/2)*src.StrideU:]
		sv := src.V[(y/2)*src.StrideV:]
		for x := 0; x < src.Width; x++ {
			c := 298 * (int32(sy[x]) - 16)
			d := int32(su[x/2]) - 128
			e := int32(sv[x/2]) - 128
			p := row[4*x : 4*x+4]
			p[0] = clamp8((c + 409*e + 128) >> 8)
			p[1] = clamp8((c - 100*d - 208*e + 128) >> 8)
			p[2] = clamp8((c + 516*d + 128) >> 8)
			p[3] = 0xff
		}
	}
}
