package alohavideo

import (
	"github.com/lanikai/alohavideo/internal/capture"
	"github.com/lanikai/alohavideo/internal/media"
	"github.com/lanikai/alohavideo/internal/native"
)

type (
	Camera        = capture.Camera
	ScreenCapture = capture.Screen
	ScreenMode    = capture.ScreenMode
	CaptureStats  = capture.Stats

	Window = native.Window
)

const (
	ScreenTexture = capture.ScreenTexture
	ScreenBuffer  = capture.ScreenBuffer
)

// NewCamera returns a camera source. After Init, the camera renders into
// the window identified by SurfaceID.
func NewCamera(rotation media.Rotation) *Camera {
	cfg := CurrentConfig()
	return capture.NewCamera(capture.Options{
		SinkQueueSize: cfg.SinkQueueSize,
		Rotation:      rotation,
	})
}

// NewScreenCapture returns a screen-capture source. In buffer mode frames
// stay on the CPU and the capture queue holds CaptureQueueSize buffers.
func NewScreenCapture(mode ScreenMode) *ScreenCapture {
	cfg := CurrentConfig()
	return capture.NewScreen(capture.ScreenOptions{
		Options:   capture.Options{SinkQueueSize: cfg.SinkQueueSize},
		Mode:      mode,
		QueueSize: cfg.CaptureQueueSize,
	})
}

// OpenSource opens a registered source from a spec such as
// "pattern:640x480@30" or "screen:1200x2592@15".
func OpenSource(spec string) (VideoSource, error) {
	return media.OpenSource(spec)
}

// SourceTypes lists the tags OpenSource accepts.
func SourceTypes() []string {
	return media.SourceTypes()
}

// RegisterSurface makes win available to renderers by id.
func RegisterSurface(win Window) uint64 { return native.RegisterWindow(win) }
func UnregisterSurface(id uint64)       { native.UnregisterWindow(id) }
