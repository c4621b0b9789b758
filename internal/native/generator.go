package native

import (
	"context"
	"time"
)

// Generator renders a deterministic test pattern into a Window at a fixed
// frame interval, standing in for a camera or screen producer.
type Generator struct {
	win      Window
	interval time.Duration
	clock    func() int64

	frames  int
	startNs int64
}

// NewGenerator produces fps frames per second. clock returns the platform
// monotonic time in nanoseconds.
func NewGenerator(win Window, fps int, clock func() int64) *Generator {
	return &Generator{
		win:      win,
		interval: time.Second / time.Duration(max(fps, 1)),
		clock:    clock,
	}
}

func (g *Generator) Interval() time.Duration { return g.interval }

// Frames returns the number of frames produced.
func (g *Generator) Frames() int { return g.frames }

// Next renders and flushes one frame. Timestamps advance by exactly one
// interval per frame.
func (g *Generator) Next() error {
	if g.frames == 0 {
		g.startNs = g.clock()
	}
	b, err := g.win.RequestBuffer()
	if err != nil {
		return err
	}
	Fill(b, g.frames)
	b.TimestampNs = g.startNs + int64(g.frames)*int64(g.interval)
	g.frames++
	return g.win.FlushBuffer(b)
}

// Run produces frames on a ticker until ctx is done or n frames have been
// produced (n <= 0 means unlimited).
func (g *Generator) Run(ctx context.Context, n int) error {
	t := time.NewTicker(g.interval)
	defer t.Stop()
	for n <= 0 || g.frames < n {
		if err := g.Next(); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
	return nil
}

// Fill paints a horizontal red ramp, a vertical green ramp and constant
// blue. The top-left 16x16 block is a grey stamp of frame*8 so frames can
// be told apart after conversion.
func Fill(b *Buffer, frame int) {
	stamp := byte(frame * 8)
	for y := 0; y < b.Height; y++ {
		row := b.Pixels[y*b.Stride:]
		for x := 0; x < b.Width; x++ {
			if x < 16 && y < 16 {
				fillPixel(b.Format, row, x, stamp, stamp, stamp)
				continue
			}
			fillPixel(b.Format, row, x, byte(x*255/max(b.Width-1, 1)), byte(y*255/max(b.Height-1, 1)), 128)
		}
	}
}

func fillPixel(f PixelFormat, row []byte, x int, r, g, b byte) {
	switch f {
	case FormatRGBA8888:
		p := row[4*x : 4*x+4]
		p[0], p[1], p[2], p[3] = r, g, b, 0xff
	case FormatYUYV:
		// Grey-level luma only; chroma neutral.
		row[2*x] = byte((int(r)*66+int(g)*129+int(b)*25+128)>>8 + 16)
		row[2*x+1] = 128
	}
}
