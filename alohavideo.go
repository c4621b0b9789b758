//////////////////////////////////////////////////////////////////////////////
//
// Package alohavideo is the video pipeline behind an RTC stack: capture
// sources, hardware and software H.264 codecs with their factories, and
// window renderers, all sharing one GL context tree.
//
// Copyright 2019 Lanikai Labs LLC. All rights reserved.
//
//////////////////////////////////////////////////////////////////////////////

package alohavideo

import (
	"github.com/lanikai/alohavideo/internal/codec"
	"github.com/lanikai/alohavideo/internal/gles"
	"github.com/lanikai/alohavideo/internal/logging"
	"github.com/lanikai/alohavideo/internal/media"
	"github.com/lanikai/alohavideo/internal/render"

	// Built-in GL platform and codec provider.
	_ "github.com/lanikai/alohavideo/internal/avcodec/emulator"
	_ "github.com/lanikai/alohavideo/internal/gles/softgl"
)

var log = logging.DefaultLogger.WithTag("alohavideo")

type (
	VideoFrame   = media.VideoFrame
	VideoSink    = media.VideoSink
	SinkWants    = media.SinkWants
	VideoSource  = media.Source
	EncodedImage = media.EncodedImage

	VideoEncoder = media.VideoEncoder
	VideoDecoder = media.VideoDecoder

	// SDP video format.
	Format = codec.Format

	EncoderFactory = codec.EncoderFactory
	DecoderFactory = codec.DecoderFactory

	// SharedContext is a GL environment other contexts share textures
	// with.
	SharedContext = gles.Env

	ScalingMode = render.ScalingMode
)

const (
	ScaleFill       = render.ScaleFill
	ScaleAspectFill = render.ScaleAspectFill
	ScaleAspectFit  = render.ScaleAspectFit
)

// DefaultSharedContext returns the process-wide GL environment, creating it
// on first use.
func DefaultSharedContext() (*SharedContext, error) {
	return gles.DefaultEnv()
}

// Shutdown releases the process-wide GL environment.
func Shutdown() {
	gles.ReleaseDefaultEnv()
}

// ParseScalingMode accepts "fill", "aspect-fill" or "aspect-fit".
func ParseScalingMode(s string) (ScalingMode, error) {
	return render.ParseScalingMode(s)
}
