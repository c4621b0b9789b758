package avcodec

import (
	"github.com/lanikai/alohavideo/internal/color"
	"github.com/pkg/errors"
)

// ChromaStride returns the row stride of the chroma plane(s).
func (f Format) ChromaStride() int {
	f = f.Layout()
	if f.PixelFormat == PixelFormatI420 {
		return (f.Stride + 1) / 2
	}
	return f.Stride
}

// Planes splits a raw frame laid out as f describes. Semi-planar formats
// return the interleaved chroma plane as u; RGBA returns everything as y.
func (f Format) Planes(data []byte) (y, u, v []byte, err error) {
	f = f.Layout()
	if need := f.PixelFormat.FrameSize(f.Stride, f.SliceHeight); len(data) < need {
		return nil, nil, nil, errors.Errorf("%v frame needs %d bytes, have %d", f.PixelFormat, need, len(data))
	}
	ySize := f.Stride * f.SliceHeight
	cSize := ((f.Stride + 1) / 2) * ((f.SliceHeight + 1) / 2)
	switch f.PixelFormat {
	case PixelFormatI420:
		return data[:ySize], data[ySize : ySize+cSize], data[ySize+cSize : ySize+2*cSize], nil
	case PixelFormatNV12, PixelFormatNV21:
		return data[:ySize], data[ySize : ySize+2*cSize], nil, nil
	case PixelFormatRGBA:
		return data[:ySize], nil, nil, nil
	}
	return nil, nil, nil, errors.Wrapf(ErrNotSupported, "raw frames in %v", f.PixelFormat)
}

// ReadFrame converts a raw frame in f's layout to dst, which must be
// f.Width x f.Height.
func ReadFrame(dst *color.Planar, f Format, data []byte) error {
	y, u, v, err := f.Planes(data)
	if err != nil {
		return err
	}
	f = f.Layout()
	switch f.PixelFormat {
	case PixelFormatI420:
		cs := f.ChromaStride()
		color.CopyI420(dst, &color.Planar{
			Width: f.Width, Height: f.Height,
			Y: y, U: u, V: v,
			StrideY: f.Stride, StrideU: cs, StrideV: cs,
		})
	case PixelFormatNV12:
		color.NV12ToI420(dst, y, f.Stride, u, f.Stride)
	case PixelFormatNV21:
		color.NV21ToI420(dst, y, f.Stride, u, f.Stride)
	case PixelFormatRGBA:
		color.RGBAToI420(dst, y, f.Stride)
	}
	return nil
}

// WriteFrame converts src into data in f's layout.
func WriteFrame(data []byte, f Format, src *color.Planar) error {
	y, u, v, err := f.Planes(data)
	if err != nil {
		return err
	}
	f = f.Layout()
	switch f.PixelFormat {
	case PixelFormatI420:
		cs := f.ChromaStride()
		color.CopyI420(&color.Planar{
			Width: f.Width, Height: f.Height,
			Y: y, U: u, V: v,
			StrideY: f.Stride, StrideU: cs, StrideV: cs,
		}, src)
	case PixelFormatNV12:
		color.I420ToNV12(y, f.Stride, u, f.Stride, src)
	case PixelFormatNV21:
		color.I420ToNV21(y, f.Stride, u, f.Stride, src)
	case PixelFormatRGBA:
		color.I420ToRGBA(y, f.Stride, src)
	}
	return nil
}
