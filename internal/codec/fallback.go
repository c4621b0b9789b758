package codec

import (
	"sync"

	"github.com/lanikai/alohavideo/internal/media"
)

// needsFallback reports whether a primary's status ends its session.
func needsFallback(s media.Status) bool {
	switch s {
	case media.StatusUninitialized, media.StatusFallbackSoftware:
		return true
	}
	// StatusError is transient (e.g. no input buffer within the dequeue
	// timeout) and fails only the current frame. A codec that dies reports
	// StatusUninitialized from then on.
	return false
}

// FallbackEncoder encodes with primary until it fails to initialize or its
// session ends, then with secondary for the rest of the session. A
// new InitEncode starts a new session on the primary.
type FallbackEncoder struct {
	primary   media.VideoEncoder
	secondary media.VideoEncoder

	mu          sync.Mutex
	active      media.VideoEncoder
	settings    *media.VideoCodecSettings
	callback    media.EncodedImageCallback
	rates       *media.RateControlParameters
	fallbacks   int
	initialized bool
}

func NewFallbackEncoder(primary, secondary media.VideoEncoder) *FallbackEncoder {
	return &FallbackEncoder{
		primary:   primary,
		secondary: secondary,
		active:    primary,
	}
}

func (f *FallbackEncoder) InitEncode(settings *media.VideoCodecSettings) media.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	if settings == nil {
		return media.StatusErrParameter
	}
	s := *settings
	f.settings = &s
	f.rates = nil
	f.initialized = false
	if f.active == f.secondary {
		f.secondary.Release()
	}
	f.active = f.primary

	status := f.primary.InitEncode(settings)
	if status == media.StatusOK {
		if f.callback != nil {
			f.primary.RegisterEncodeCompleteCallback(f.callback)
		}
		f.initialized = true
		return status
	}
	log.Warn("primary encoder %s failed to initialize (%v), using %s",
		f.primary.GetEncoderInfo().ImplementationName, status,
		f.secondary.GetEncoderInfo().ImplementationName)
	return f.switchLocked()
}

// switchLocked releases the primary and brings up the secondary with the
// session's settings, callback and rates.
func (f *FallbackEncoder) switchLocked() media.Status {
	f.primary.Release()
	f.active = f.secondary
	f.fallbacks++
	status := f.secondary.InitEncode(f.settings)
	if status != media.StatusOK {
		log.Error("fallback encoder failed to initialize: %v", status)
		f.initialized = false
		return status
	}
	if f.callback != nil {
		f.secondary.RegisterEncodeCompleteCallback(f.callback)
	}
	if f.rates != nil {
		f.secondary.SetRates(*f.rates)
	}
	f.initialized = true
	return media.StatusOK
}

func (f *FallbackEncoder) RegisterEncodeCompleteCallback(cb media.EncodedImageCallback) media.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.callback = cb
	return f.active.RegisterEncodeCompleteCallback(cb)
}

// Encode resubmits frame to the secondary, as a key frame, when the
// primary fails it.
func (f *FallbackEncoder) Encode(frame *media.VideoFrame, frameTypes []media.FrameType) media.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.initialized {
		return media.StatusUninitialized
	}
	status := f.active.Encode(frame, frameTypes)
	if f.active == f.secondary || !needsFallback(status) {
		return status
	}
	log.Warn("primary encoder failed (%v), switching to %s", status,
		f.secondary.GetEncoderInfo().ImplementationName)
	if s := f.switchLocked(); s != media.StatusOK {
		return s
	}
	return f.secondary.Encode(frame, []media.FrameType{media.FrameTypeKey})
}

func (f *FallbackEncoder) SetRates(params media.RateControlParameters) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rates = &params
	f.active.SetRates(params)
}

func (f *FallbackEncoder) GetEncoderInfo() media.EncoderInfo {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active.GetEncoderInfo()
}

// UsingFallback reports whether calls go to the secondary.
func (f *FallbackEncoder) UsingFallback() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active == f.secondary
}

// Active returns the encoder currently receiving calls.
func (f *FallbackEncoder) Active() media.VideoEncoder {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active
}

func (f *FallbackEncoder) Release() media.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.initialized = false
	f.primary.Release()
	return f.secondary.Release()
}

// FallbackDecoder decodes with primary until it fails to configure or its
// session ends, then with secondary for the rest of the session.
type FallbackDecoder struct {
	primary   media.VideoDecoder
	secondary media.VideoDecoder

	mu         sync.Mutex
	active     media.VideoDecoder
	settings   *media.DecoderSettings
	callback   media.DecodedImageCallback
	configured bool
}

func NewFallbackDecoder(primary, secondary media.VideoDecoder) *FallbackDecoder {
	return &FallbackDecoder{
		primary:   primary,
		secondary: secondary,
		active:    primary,
	}
}

func (f *FallbackDecoder) Configure(settings *media.DecoderSettings) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if settings == nil {
		return false
	}
	s := *settings
	f.settings = &s
	if f.active == f.secondary {
		f.secondary.Release()
	}
	f.active = f.primary
	if f.primary.Configure(settings) {
		if f.callback != nil {
			f.primary.RegisterDecodeCompleteCallback(f.callback)
		}
		f.configured = true
		return true
	}
	log.Warn("primary decoder %s failed to configure, using %s",
		f.primary.GetDecoderInfo().ImplementationName,
		f.secondary.GetDecoderInfo().ImplementationName)
	f.configured = f.switchLocked()
	return f.configured
}

func (f *FallbackDecoder) switchLocked() bool {
	f.primary.Release()
	f.active = f.secondary
	if !f.secondary.Configure(f.settings) {
		log.Error("fallback decoder failed to configure")
		return false
	}
	if f.callback != nil {
		f.secondary.RegisterDecodeCompleteCallback(f.callback)
	}
	return true
}

func (f *FallbackDecoder) RegisterDecodeCompleteCallback(cb media.DecodedImageCallback) media.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.callback = cb
	return f.active.RegisterDecodeCompleteCallback(cb)
}

// Decode hands image to the secondary when the primary fails it. The
// secondary reports an error until it sees a key frame.
func (f *FallbackDecoder) Decode(image *media.EncodedImage, missingFrames bool, renderTimeMs int64) media.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.configured {
		return media.StatusUninitialized
	}
	status := f.active.Decode(image, missingFrames, renderTimeMs)
	if f.active == f.secondary || !needsFallback(status) {
		return status
	}
	log.Warn("primary decoder failed (%v), switching to %s", status,
		f.secondary.GetDecoderInfo().ImplementationName)
	if f.configured = f.switchLocked(); !f.configured {
		return media.StatusUninitialized
	}
	return f.secondary.Decode(image, missingFrames, renderTimeMs)
}

func (f *FallbackDecoder) GetDecoderInfo() media.DecoderInfo {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active.GetDecoderInfo()
}

func (f *FallbackDecoder) UsingFallback() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active == f.secondary
}

func (f *FallbackDecoder) Active() media.VideoDecoder {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active
}

func (f *FallbackDecoder) Release() media.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.configured = false
	f.primary.Release()
	return f.secondary.Release()
}
