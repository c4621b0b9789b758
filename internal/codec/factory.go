//////////////////////////////////////////////////////////////////////////////
//
// Codec factories
//
// Hardware factories advertise what the platform codec provider supports;
// software factories advertise the built-in H.264 codec. The default
// factories offer the union and wrap hardware codecs so that they fall back
// to software.
//
// Copyright 2019 Lanikai Labs LLC. All rights reserved.
//
//////////////////////////////////////////////////////////////////////////////

package codec

import (
	"time"

	"github.com/lanikai/alohavideo/internal/avcodec"
	"github.com/lanikai/alohavideo/internal/gles"
	"github.com/lanikai/alohavideo/internal/hwcodec"
	"github.com/lanikai/alohavideo/internal/logging"
	"github.com/lanikai/alohavideo/internal/media"
	"github.com/lanikai/alohavideo/internal/swcodec"
	"github.com/pkg/errors"
)

var log = logging.DefaultLogger.WithTag("codec")

var errNotSupported = errors.New("format not supported")

type EncoderFactory interface {
	SupportedFormats() []Format
	CreateEncoder(f Format) (media.VideoEncoder, error)
}

type DecoderFactory interface {
	SupportedFormats() []Format
	CreateDecoder(f Format) (media.VideoDecoder, error)
}

type HardwareOptions struct {
	// Platform codec provider. Defaults to the registered provider named
	// ProviderName, or "emulator".
	Provider     avcodec.Provider
	ProviderName string

	// Parent of every codec GL context. Defaults to the process-wide
	// default environment.
	SharedContext *gles.Env

	// Offer high-profile formats the hardware supports.
	EnableH264HighProfile bool

	// Profile-level-ids never offered or created in hardware.
	Blocklist []string

	// Encoder byte input and decoder output format. PixelFormatSurface
	// makes decoders produce texture frames.
	EncoderPixelFormat avcodec.PixelFormat
	DecoderPixelFormat avcodec.PixelFormat

	KeyFrameIntervalMs int
	DequeueTimeout     time.Duration
}

func (o *HardwareOptions) provider() (avcodec.Provider, error) {
	if o.Provider != nil {
		return o.Provider, nil
	}
	name := o.ProviderName
	if name == "" {
		name = "emulator"
	}
	return avcodec.OpenProvider(name)
}

func (o *HardwareOptions) blocked(id string) bool {
	for _, b := range o.Blocklist {
		if b == id {
			return true
		}
	}
	return false
}

// formats lists the provider's H.264 formats for kind, minus blocked and,
// unless enabled, high-profile ones.
func (o *HardwareOptions) formats(p avcodec.Provider, kind avcodec.Kind) []Format {
	caps, err := p.Capabilities(avcodec.MimeH264, kind)
	if err != nil {
		log.Debug("no hardware %s: %v", kind, err)
		return nil
	}
	var formats []Format
	for _, id := range caps.ProfileLevelIDs {
		f := H264Format(id)
		if o.blocked(id) {
			continue
		}
		if IsHighProfile(f) && !o.EnableH264HighProfile {
			continue
		}
		if !ContainsFormat(formats, f) {
			formats = append(formats, f)
		}
	}
	return formats
}

// match returns the advertised format equivalent to f.
func match(formats []Format, f Format) (Format, bool) {
	for _, g := range formats {
		if SameFormat(f, g) {
			return g, true
		}
	}
	return Format{}, false
}

type HardwareEncoderFactory struct {
	opts     HardwareOptions
	provider avcodec.Provider
}

func NewHardwareEncoderFactory(opts HardwareOptions) (*HardwareEncoderFactory, error) {
	p, err := opts.provider()
	if err != nil {
		return nil, err
	}
	return &HardwareEncoderFactory{opts: opts, provider: p}, nil
}

func (hf *HardwareEncoderFactory) SupportedFormats() []Format {
	return hf.opts.formats(hf.provider, avcodec.Encoder)
}

func (hf *HardwareEncoderFactory) CreateEncoder(f Format) (media.VideoEncoder, error) {
	supported, ok := match(hf.SupportedFormats(), f)
	if !ok {
		return nil, errors.Wrapf(errNotSupported, "hardware encoder: %s %s", f.MimeType, f.SDPFmtpLine)
	}
	enc, err := hwcodec.NewEncoder(hwcodec.Options{
		Provider:           hf.provider,
		SharedContext:      hf.opts.SharedContext,
		PixelFormat:        hf.opts.EncoderPixelFormat,
		ProfileLevelID:     ProfileLevelID(supported),
		KeyFrameIntervalMs: hf.opts.KeyFrameIntervalMs,
		DequeueTimeout:     hf.opts.DequeueTimeout,
	})
	if err != nil {
		return nil, err
	}
	return enc, nil
}

type HardwareDecoderFactory struct {
	opts     HardwareOptions
	provider avcodec.Provider
}

func NewHardwareDecoderFactory(opts HardwareOptions) (*HardwareDecoderFactory, error) {
	p, err := opts.provider()
	if err != nil {
		return nil, err
	}
	return &HardwareDecoderFactory{opts: opts, provider: p}, nil
}

func (hf *HardwareDecoderFactory) SupportedFormats() []Format {
	return hf.opts.formats(hf.provider, avcodec.Decoder)
}

func (hf *HardwareDecoderFactory) CreateDecoder(f Format) (media.VideoDecoder, error) {
	if _, ok := match(hf.SupportedFormats(), f); !ok {
		return nil, errors.Wrapf(errNotSupported, "hardware decoder: %s %s", f.MimeType, f.SDPFmtpLine)
	}
	dec, err := hwcodec.NewDecoder(hwcodec.Options{
		Provider:       hf.provider,
		SharedContext:  hf.opts.SharedContext,
		PixelFormat:    hf.opts.DecoderPixelFormat,
		DequeueTimeout: hf.opts.DequeueTimeout,
	})
	if err != nil {
		return nil, err
	}
	return dec, nil
}

type SoftwareEncoderFactory struct{}

func (SoftwareEncoderFactory) SupportedFormats() []Format {
	return []Format{H264Format(swcodec.ProfileLevelID)}
}

func (sf SoftwareEncoderFactory) CreateEncoder(f Format) (media.VideoEncoder, error) {
	if !ContainsFormat(sf.SupportedFormats(), f) {
		return nil, errors.Wrapf(errNotSupported, "software encoder: %s %s", f.MimeType, f.SDPFmtpLine)
	}
	return swcodec.NewEncoder(), nil
}

type SoftwareDecoderFactory struct{}

func (SoftwareDecoderFactory) SupportedFormats() []Format {
	return []Format{H264Format(swcodec.ProfileLevelID)}
}

func (sf SoftwareDecoderFactory) CreateDecoder(f Format) (media.VideoDecoder, error) {
	if !ContainsFormat(sf.SupportedFormats(), f) {
		return nil, errors.Wrapf(errNotSupported, "software decoder: %s %s", f.MimeType, f.SDPFmtpLine)
	}
	return swcodec.NewDecoder(), nil
}

// DefaultEncoderFactory creates hardware encoders where possible. When
// both factories support a format the hardware encoder is wrapped in a
// FallbackEncoder.
type DefaultEncoderFactory struct {
	hardware EncoderFactory
	software EncoderFactory
}

func NewDefaultEncoderFactory(hardware, software EncoderFactory) *DefaultEncoderFactory {
	return &DefaultEncoderFactory{hardware: hardware, software: software}
}

func (df *DefaultEncoderFactory) SupportedFormats() []Format {
	return UnionFormats(df.hardware.SupportedFormats(), df.software.SupportedFormats())
}

func (df *DefaultEncoderFactory) CreateEncoder(f Format) (media.VideoEncoder, error) {
	var hw, sw media.VideoEncoder
	if ContainsFormat(df.hardware.SupportedFormats(), f) {
		enc, err := df.hardware.CreateEncoder(f)
		if err != nil {
			log.Warn("hardware encoder for %s: %v", f.SDPFmtpLine, err)
		} else {
			hw = enc
		}
	}
	if ContainsFormat(df.software.SupportedFormats(), f) {
		enc, err := df.software.CreateEncoder(f)
		if err != nil {
			log.Warn("software encoder for %s: %v", f.SDPFmtpLine, err)
		} else {
			sw = enc
		}
	}
	switch {
	case hw != nil && sw != nil:
		return NewFallbackEncoder(hw, sw), nil
	case hw != nil:
		return hw, nil
	case sw != nil:
		return sw, nil
	}
	return nil, errors.Wrapf(errNotSupported, "encoder: %s %s", f.MimeType, f.SDPFmtpLine)
}

// DefaultDecoderFactory is the decoding counterpart of
// DefaultEncoderFactory.
type DefaultDecoderFactory struct {
	hardware DecoderFactory
	software DecoderFactory
}

func NewDefaultDecoderFactory(hardware, software DecoderFactory) *DefaultDecoderFactory {
	return &DefaultDecoderFactory{hardware: hardware, software: software}
}

func (df *DefaultDecoderFactory) SupportedFormats() []Format {
	return UnionFormats(df.hardware.SupportedFormats(), df.software.SupportedFormats())
}

func (df *DefaultDecoderFactory) CreateDecoder(f Format) (media.VideoDecoder, error) {
	var hw, sw media.VideoDecoder
	if ContainsFormat(df.hardware.SupportedFormats(), f) {
		dec, err := df.hardware.CreateDecoder(f)
		if err != nil {
			log.Warn("hardware decoder for %s: %v", f.SDPFmtpLine, err)
		} else {
			hw = dec
		}
	}
	if ContainsFormat(df.software.SupportedFormats(), f) {
		dec, err := df.software.CreateDecoder(f)
		if err != nil {
			log.Warn("software decoder for %s: %v", f.SDPFmtpLine, err)
		} else {
			sw = dec
		}
	}
	switch {
	case hw != nil && sw != nil:
		return NewFallbackDecoder(hw, sw), nil
	case hw != nil:
		return hw, nil
	case sw != nil:
		return sw, nil
	}
	return nil, errors.Wrapf(errNotSupported, "decoder: %s %s", f.MimeType, f.SDPFmtpLine)
}

// IsNotSupported reports whether err means no codec handles the format.
func IsNotSupported(err error) bool {
	return errors.Cause(err) == errNotSupported
}
