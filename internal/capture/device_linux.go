//go:build linux

package capture

import (
	"context"
	"strings"

	"github.com/lanikai/alohavideo/internal/media"
	"github.com/lanikai/alohavideo/internal/native"
	"github.com/lanikai/alohavideo/internal/v4l2"
)

func init() {
	media.RegisterSourceType("camera", openDevice)
}

// DeviceProducer captures from a V4L2 device at the window's size.
func DeviceProducer(path string, cfg v4l2.Config) Producer {
	return func(ctx context.Context, win native.Window) error {
		return v4l2.Capture(ctx, path, cfg, win)
	}
}

// NewDeviceCamera returns a camera source fed by the V4L2 device at path.
// Frames arrive as YUYV buffers and are delivered as I420.
func NewDeviceCamera(path string, opts Options, cfg v4l2.Config) *DrivenSource {
	opts.setDefaults("camera")
	src := newBufferSource(opts, 2, native.FormatYUYV)
	return NewDrivenSource(opts.Name, src, DeviceProducer(path, cfg))
}

// openDevice opens "camera:/dev/videoN@WxH", defaulting to /dev/video0 at
// 640x480.
func openDevice(path string) (media.Source, error) {
	dev, geometry, _ := strings.Cut(path, "@")
	if dev == "" {
		dev = "/dev/video0"
	}
	w, h, _, err := parseGeometry(geometry, 640, 480, 30)
	if err != nil {
		return nil, err
	}
	d := NewDeviceCamera(dev, Options{}, v4l2.Config{})
	d.Width, d.Height = w, h
	return d, nil
}
