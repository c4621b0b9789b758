package emulator

import (
	"github.com/lanikai/alohavideo/internal/avcodec"
	"github.com/lanikai/alohavideo/internal/color"
	"github.com/lanikai/alohavideo/internal/media/h264"
	"github.com/lanikai/alohavideo/internal/native"
	"github.com/pkg/errors"
	"golang.org/x/xerrors"
)

// keyInterval returns the frames between periodic IDR pictures, or 0.
func (c *Codec) keyInterval() int {
	f := c.Format()
	if f.KeyFrameIntervalMs <= 0 || f.FrameRate <= 0 {
		return 0
	}
	return max(1, int(float64(f.KeyFrameIntervalMs)*f.FrameRate/1000))
}

func (c *Codec) encodeInput(data []byte, attr avcodec.BufferAttr) {
	if len(data) == 0 {
		return
	}
	c.mu.Lock()
	layout := c.input
	c.mu.Unlock()

	pic := h264.NewPicture(layout.Width, layout.Height)
	if err := avcodec.ReadFrame(planar(pic), layout, data); err != nil {
		c.fail(errors.Wrap(err, "read input frame"))
		return
	}
	c.encodePicture(pic, attr.PTS)
}

func (c *Codec) encodePicture(pic *h264.Picture, pts int64) {
	c.mu.Lock()
	sendConfig := !c.codecDataSent
	c.codecDataSent = true
	idr := c.requestIFrame
	c.requestIFrame = false
	c.mu.Unlock()

	if sendConfig {
		c.emit(c.enc.ParameterSets(), avcodec.BufferAttr{PTS: pts, Flags: avcodec.FlagCodecData}, nil)
	}
	if n := c.keyInterval(); n > 0 && c.sinceKey >= n {
		idr = true
	}

	slice, err := c.enc.EncodePicture(pic, idr)
	if err != nil {
		c.fail(errors.Wrap(err, "encode"))
		return
	}
	var flags avcodec.Flags
	if h264.ContainsIDR(slice) {
		flags |= avcodec.FlagSyncFrame
		c.sinceKey = 0
	}
	c.sinceKey++
	c.emit(slice, avcodec.BufferAttr{PTS: pts, Flags: flags}, nil)
}

// drainSurface encodes every buffer queued on the input surface.
func (c *Codec) drainSurface() {
	c.mu.Lock()
	q := c.surface
	w, h := c.format.Width, c.format.Height
	c.mu.Unlock()
	if q == nil {
		return
	}
	for b := q.Acquire(); b != nil; b = q.Acquire() {
		pic := h264.NewPicture(w, h)
		dst := planar(pic)
		if b.Width == w && b.Height == h {
			color.RGBAToI420(dst, b.Pixels, b.Stride)
		} else {
			tmp := color.NewPlanar(b.Width, b.Height)
			color.RGBAToI420(tmp, b.Pixels, b.Stride)
			color.ScaleI420(dst, tmp)
		}
		pts := b.TimestampNs / 1000
		q.Release(b)
		if !c.Running() {
			continue
		}
		c.encodePicture(pic, pts)
	}
}

func (c *Codec) decodeInput(data []byte, attr avcodec.BufferAttr) {
	if len(data) == 0 {
		return
	}
	pic, err := c.dec.Decode(data)
	if xerrors.Is(err, h264.ErrNoParameterSets) {
		log.Warn("Dropping access unit at %d: no parameter sets yet", attr.PTS)
		return
	} else if err != nil {
		c.fail(errors.Wrap(err, "decode"))
		return
	}
	if pic == nil {
		return
	}

	c.mu.Lock()
	changed := pic.Width != c.output.Width || pic.Height != c.output.Height
	if changed {
		c.output.Width, c.output.Height = pic.Width, pic.Height
		c.output = rawLayout(c.output)
	}
	out := c.output
	cb := c.cb
	c.mu.Unlock()
	if changed {
		log.Debug("Output changed to %dx%d", out.Width, out.Height)
		cb.OnStreamChanged(out)
	}

	var flags avcodec.Flags
	if pic.IDR {
		flags |= avcodec.FlagSyncFrame
	}
	outAttr := avcodec.BufferAttr{PTS: attr.PTS, Flags: flags}
	if out.PixelFormat == avcodec.PixelFormatSurface {
		c.emit(nil, outAttr, pic)
		return
	}
	data = make([]byte, out.PixelFormat.FrameSize(out.Stride, out.SliceHeight))
	if err := avcodec.WriteFrame(data, out, planar(pic)); err != nil {
		c.fail(errors.Wrap(err, "write output frame"))
		return
	}
	c.emit(data, outAttr, nil)
}

// renderPicture copies a decoded picture into win.
func renderPicture(win native.Window, pic *h264.Picture, pts int64) error {
	win.SetSize(pic.Width, pic.Height)
	b, err := win.RequestBuffer()
	if err != nil {
		return errors.Wrap(err, "render")
	}
	color.I420ToRGBA(b.Pixels, b.Stride, planar(pic))
	b.TimestampNs = pts * 1000
	return win.FlushBuffer(b)
}
