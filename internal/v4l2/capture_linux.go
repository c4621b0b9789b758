//go:build linux

package v4l2

import (
	"context"

	"github.com/lanikai/alohavideo/internal/native"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// Poll interval while waiting for a frame, so cancellation is noticed.
const pollTimeoutMs = 100

// Capture opens the device at path and copies its frames into win until
// ctx is done. win must take YUYV buffers; it is resized if the driver
// picks a different geometry. Frame timestamps are the driver's, on the
// monotonic clock.
func Capture(ctx context.Context, path string, cfg Config, win native.Window) error {
	if win.Format() != native.FormatYUYV {
		return errors.Errorf("v4l2: window format %v, want YUYV", win.Format())
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		cfg.Width, cfg.Height = win.Size()
	}
	if cfg.Buffers <= 0 {
		cfg.Buffers = 2
	}

	dev, err := openDevice(path)
	if err != nil {
		return err
	}
	defer dev.Close()

	if err := dev.setFormat(cfg.Width, cfg.Height); err != nil {
		return err
	}
	if dev.width != cfg.Width || dev.height != cfg.Height {
		log.Info("%s: driver chose %dx%d instead of %dx%d", path, dev.width, dev.height, cfg.Width, cfg.Height)
		win.SetSize(dev.width, dev.height)
	}
	if cfg.HFlip || cfg.VFlip {
		if err := dev.setFlip(cfg.HFlip, cfg.VFlip); err != nil {
			return err
		}
	}
	if err := dev.Start(cfg.Buffers); err != nil {
		return err
	}
	log.Debug("%s: capturing %dx%d YUYV, stride %d", path, dev.width, dev.height, dev.stride)

	for ctx.Err() == nil {
		ready, err := dev.wait(pollTimeoutMs)
		if err != nil {
			return errors.Wrapf(err, "%s: poll", path)
		}
		if !ready {
			continue
		}
		index, data, ts, err := dev.dequeue()
		if err == unix.EAGAIN {
			continue
		}
		if err != nil {
			return errors.Wrapf(err, "%s: dequeue", path)
		}
		err = copyFrame(win, dev, data, ts)
		if qerr := dev.enqueue(index); qerr != nil {
			return errors.Wrapf(qerr, "%s: enqueue", path)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func copyFrame(win native.Window, dev *device, data []byte, timestampNs int64) error {
	b, err := win.RequestBuffer()
	if err != nil {
		return err
	}
	if b.Width != dev.width || b.Height != dev.height {
		return errors.Errorf("v4l2: window buffer %dx%d, frame %dx%d", b.Width, b.Height, dev.width, dev.height)
	}
	row := 2 * dev.width
	for y := 0; y < dev.height; y++ {
		src := y * dev.stride
		if src+row > len(data) {
			break
		}
		copy(b.Pixels[y*b.Stride:y*b.Stride+row], data[src:src+row])
	}
	b.TimestampNs = timestampNs
	return win.FlushBuffer(b)
}
