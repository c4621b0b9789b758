//////////////////////////////////////////////////////////////////////////////
//
// Video encoder and decoder interfaces
//
// Copyright 2019 Lanikai Labs LLC. All rights reserved.
//
//////////////////////////////////////////////////////////////////////////////

package media

import "fmt"

// Status is the result code returned to the RTC stack by encoders and
// decoders.
type Status int

const (
	StatusOK               Status = 0
	StatusNoOutput         Status = 1
	StatusError            Status = -1
	StatusErrParameter     Status = -4
	StatusUninitialized    Status = -7
	StatusFallbackSoftware Status = -13
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusNoOutput:
		return "NO_OUTPUT"
	case StatusError:
		return "ERROR"
	case StatusErrParameter:
		return "ERR_PARAMETER"
	case StatusUninitialized:
		return "UNINITIALIZED"
	case StatusFallbackSoftware:
		return "FALLBACK_SOFTWARE"
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// VideoCodecSettings configure an encoder.
type VideoCodecSettings struct {
	CodecType CodecType
	Width     int
	Height    int

	StartBitrateBps int
	MinBitrateBps   int
	MaxBitrateBps   int
	MaxFramerate    int

	// Frames between forced key frames. Zero lets the codec decide.
	KeyFrameInterval int

	ExpectEncodeFromTexture bool
}

// RateControlParameters are the encoder targets requested by the RTC stack.
type RateControlParameters struct {
	TargetBitrateBps int
	FramerateFps     float64
}

// ScalingSettings are QP thresholds the source uses to adapt resolution.
type ScalingSettings struct {
	Enabled bool
	LowQP   int
	HighQP  int
}

// H264 QP thresholds.
const (
	H264LowQPThreshold  = 24
	H264HighQPThreshold = 37
)

type EncoderInfo struct {
	ImplementationName    string
	IsHardwareAccelerated bool
	SupportsNativeHandle  bool
	ScalingSettings       ScalingSettings

	// Input dimensions must be multiples of this.
	ResolutionAlignment int
}

type EncodedImageCallback interface {
	OnEncodedImage(image *EncodedImage)
}

// EncodedImageCallbackFunc adapts a function to EncodedImageCallback.
type EncodedImageCallbackFunc func(image *EncodedImage)

func (f EncodedImageCallbackFunc) OnEncodedImage(image *EncodedImage) { f(image) }

// VideoEncoder is the encoder contract expected by the RTC stack.
type VideoEncoder interface {
	InitEncode(settings *VideoCodecSettings) Status
	RegisterEncodeCompleteCallback(cb EncodedImageCallback) Status
	Encode(frame *VideoFrame, frameTypes []FrameType) Status
	SetRates(params RateControlParameters)
	GetEncoderInfo() EncoderInfo
	Release() Status
}

type DecoderSettings struct {
	CodecType CodecType
	Width     int
	Height    int
}

type DecodedImageCallback interface {
	OnDecoded(frame *VideoFrame)
}

// DecodedImageCallbackFunc adapts a function to DecodedImageCallback.
type DecodedImageCallbackFunc func(frame *VideoFrame)

func (f DecodedImageCallbackFunc) OnDecoded(frame *VideoFrame) { f(frame) }

type DecoderInfo struct {
	ImplementationName    string
	IsHardwareAccelerated bool
}

// VideoDecoder is the decoder contract expected by the RTC stack.
type VideoDecoder interface {
	Configure(settings *DecoderSettings) bool
	Decode(image *EncodedImage, missingFrames bool, renderTimeMs int64) Status
	RegisterDecodeCompleteCallback(cb DecodedImageCallback) Status
	GetDecoderInfo() DecoderInfo
	Release() Status
}
