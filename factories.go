package alohavideo

import (
	"github.com/lanikai/alohavideo/internal/codec"
	"github.com/lanikai/alohavideo/internal/media"
)

func hardwareOptions(cfg *Config, shared *SharedContext, enableH264HighProfile bool) codec.HardwareOptions {
	return codec.HardwareOptions{
		ProviderName:          cfg.Provider,
		SharedContext:         shared,
		EnableH264HighProfile: enableH264HighProfile || cfg.H264HighProfile,
		Blocklist:             cfg.HardwareBlocklist,
		EncoderPixelFormat:    cfg.EncoderInput,
		DecoderPixelFormat:    cfg.DecoderOutput,
		DequeueTimeout:        cfg.DequeueTimeout,
	}
}

// NewEncoderFactory returns a factory creating hardware encoders that fall
// back to software. Hardware encoder contexts share with shared, or with
// the default shared context when it is nil.
func NewEncoderFactory(shared *SharedContext, enableH264HighProfile bool) (EncoderFactory, error) {
	hw, err := codec.NewHardwareEncoderFactory(hardwareOptions(CurrentConfig(), shared, enableH264HighProfile))
	if err != nil {
		return nil, err
	}
	return codec.NewDefaultEncoderFactory(hw, codec.SoftwareEncoderFactory{}), nil
}

// NewDecoderFactory returns a factory creating hardware decoders that fall
// back to software.
func NewDecoderFactory(shared *SharedContext) (DecoderFactory, error) {
	hw, err := codec.NewHardwareDecoderFactory(hardwareOptions(CurrentConfig(), shared, false))
	if err != nil {
		return nil, err
	}
	return codec.NewDefaultDecoderFactory(hw, codec.SoftwareDecoderFactory{}), nil
}

func NewSoftwareEncoderFactory() EncoderFactory { return codec.SoftwareEncoderFactory{} }
func NewSoftwareDecoderFactory() DecoderFactory { return codec.SoftwareDecoderFactory{} }

// H264Format returns the packetization-mode 1 H.264 format for a
// profile-level-id.
func H264Format(profileLevelID string) Format {
	return codec.H264Format(profileLevelID)
}

// IsHardwareAccelerated reports whether enc currently encodes in hardware.
func IsHardwareAccelerated(enc VideoEncoder) bool {
	return enc.GetEncoderInfo().IsHardwareAccelerated
}

// EncoderSettings returns baseline settings for an H.264 session.
func EncoderSettings(width, height, maxFramerate, maxBitrateBps int) media.VideoCodecSettings {
	return media.VideoCodecSettings{
		CodecType:       media.CodecH264,
		Width:           width,
		Height:          height,
		StartBitrateBps: maxBitrateBps / 2,
		MaxBitrateBps:   maxBitrateBps,
		MaxFramerate:    maxFramerate,
	}
}
