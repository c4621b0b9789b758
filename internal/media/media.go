// Package media holds the frame data model shared by capture, codecs and
// renderers, together with the fan-out and adaptation machinery between them.
package media

import (
	"github.com/lanikai/alohavideo/internal/logging"
)

var log = logging.DefaultLogger.WithTag("media")

// VideoSink consumes frames. OnFrame is called from a single goroutine per
// sink, in timestamp order.
type VideoSink interface {
	OnFrame(frame *VideoFrame)
}

// VideoSinkFunc adapts a function to VideoSink.
type VideoSinkFunc func(frame *VideoFrame)

func (f VideoSinkFunc) OnFrame(frame *VideoFrame) { f(frame) }

// SinkWants are a sink's preferences about the frames it receives.
type SinkWants struct {
	// Deliver frames with rotation 0, rotating pixels if needed.
	RotationApplied bool

	// Upper bound on width*height. Zero means unbounded.
	MaxPixelCount int

	// Preferred width*height. Zero means no preference.
	TargetPixelCount int

	// Upper bound on frame rate. Zero means unbounded.
	MaxFramerateFps int

	// Output dimensions must be multiples of this. Zero or one means any.
	ResolutionAlignment int
}

// VideoSource fans frames out to sinks.
type VideoSource interface {
	AddOrUpdateSink(sink VideoSink, wants SinkWants)
	RemoveSink(sink VideoSink)
}

// Source is a capture source with an explicit lifecycle. Start and Stop are
// idempotent. After Release, no further frames are delivered.
type Source interface {
	VideoSource

	Init(width, height int) error
	Start() error
	Stop() error
	Release() error
}
