// Package swcodec implements the media encoder and decoder contracts in
// software, over the I_PCM H.264 codec in media/h264. Frames are encoded
// and decoded synchronously on the calling goroutine.
package swcodec

import (
	"sync"

	"github.com/lanikai/alohavideo/internal/color"
	"github.com/lanikai/alohavideo/internal/logging"
	"github.com/lanikai/alohavideo/internal/media"
	"github.com/lanikai/alohavideo/internal/media/h264"
)

var log = logging.DefaultLogger.WithTag("swcodec")

// ProfileLevelID is the only profile the software codec produces.
const ProfileLevelID = "42e01f"

const (
	defaultFramerate = 30
	encoderName      = "alohavideo-h264-pcm"
)

type Encoder struct {
	mu       sync.Mutex
	settings media.VideoCodecSettings
	enc      *h264.Encoder
	callback media.EncodedImageCallback

	bitrate   int
	framerate float64
	sinceKey  int
	encoded   int
}

func NewEncoder() *Encoder {
	return &Encoder{}
}

func (e *Encoder) InitEncode(settings *media.VideoCodecSettings) media.Status {
	if settings == nil || settings.CodecType != media.CodecH264 {
		return media.StatusErrParameter
	}
	if settings.MaxBitrateBps > 0 && settings.MinBitrateBps > settings.MaxBitrateBps {
		return media.StatusErrParameter
	}
	enc, err := h264.NewEncoder(settings.Width, settings.Height)
	if err != nil {
		log.Warn("InitEncode: %v", err)
		return media.StatusErrParameter
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.settings = *settings
	e.enc = enc
	e.sinceKey = 0
	e.encoded = 0
	e.bitrate = e.clampBitrate(settings.StartBitrateBps)
	e.framerate = defaultFramerate
	if settings.MaxFramerate > 0 {
		e.framerate = float64(settings.MaxFramerate)
	}
	log.Info("software encoder %dx%d, %d bps, %.1f fps", settings.Width, settings.Height, e.bitrate, e.framerate)
	return media.StatusOK
}

func (e *Encoder) clampBitrate(bps int) int {
	if min := e.settings.MinBitrateBps; min > 0 && bps < min {
		bps = min
	}
	if max := e.settings.MaxBitrateBps; max > 0 && bps > max {
		bps = max
	}
	return bps
}

func (e *Encoder) RegisterEncodeCompleteCallback(cb media.EncodedImageCallback) media.Status {
	e.mu.Lock()
	e.callback = cb
	e.mu.Unlock()
	return media.StatusOK
}

// Encode converts frame to I420, scales it to the configured size and
// delivers one access unit to the callback before returning. Key frames
// carry the SPS and PPS in front of the IDR slice.
func (e *Encoder) Encode(frame *media.VideoFrame, frameTypes []media.FrameType) media.Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.enc == nil {
		return media.StatusUninitialized
	}
	if e.callback == nil {
		return media.StatusUninitialized
	}

	i420 := frame.Buffer.ToI420()
	if i420 == nil {
		log.Warn("Encode: %v buffer has no pixels", frame.Buffer.Type())
		return media.StatusError
	}
	pic := h264.NewPicture(e.enc.Width(), e.enc.Height())
	dst := planar(pic)
	src := i420.Planar()
	if src.Width == dst.Width && src.Height == dst.Height {
		color.CopyI420(dst, src)
	} else {
		color.ScaleI420(dst, src)
	}

	idr := media.HasKeyFrame(frameTypes)
	if n := e.settings.KeyFrameInterval; n > 0 && e.sinceKey >= n {
		idr = true
	}
	au, key, err := e.enc.Encode(pic, idr)
	if err != nil {
		log.Error("Encode: %v", err)
		return media.StatusError
	}
	if key {
		e.sinceKey = 1
	} else {
		e.sinceKey++
	}
	e.encoded++

	img := &media.EncodedImage{
		Data:          au,
		EncodedWidth:  pic.Width,
		EncodedHeight: pic.Height,
		TimestampUs:   frame.TimestampUs,
		RTPTimestamp:  frame.RTPTimestamp,
		NTPTimeMs:     frame.NTPTimeMs,
		Rotation:      frame.Rotation,
		FrameType:     media.FrameTypeDelta,
		QP:            -1,
	}
	if key {
		img.FrameType = media.FrameTypeKey
	}
	log.Debug("encoded %d bytes, key=%v, ts=%d", len(au), key, frame.TimestampUs)
	e.callback.OnEncodedImage(img)
	return media.StatusOK
}

// SetRates records the targets. The I_PCM bitstream has a fixed size per
// picture, so rate control has no effect on the output.
func (e *Encoder) SetRates(params media.RateControlParameters) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.enc == nil {
		return
	}
	if params.TargetBitrateBps > 0 {
		e.bitrate = e.clampBitrate(params.TargetBitrateBps)
	}
	if params.FramerateFps > 0 {
		e.framerate = params.FramerateFps
		if max := e.settings.MaxFramerate; max > 0 && e.framerate > float64(max) {
			e.framerate = float64(max)
		}
	}
}

// Rates returns the applied bitrate and framerate.
func (e *Encoder) Rates() (int, float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.bitrate, e.framerate
}

// Encoded returns the number of frames encoded since InitEncode.
func (e *Encoder) Encoded() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.encoded
}

func (e *Encoder) GetEncoderInfo() media.EncoderInfo {
	return media.EncoderInfo{
		ImplementationName:    encoderName,
		IsHardwareAccelerated: false,
		SupportsNativeHandle:  false,
		ScalingSettings: media.ScalingSettings{
			Enabled: true,
			LowQP:   media.H264LowQPThreshold,
			HighQP:  media.H264HighQPThreshold,
		},
		ResolutionAlignment: 2,
	}
}

func (e *Encoder) Release() media.Status {
	e.mu.Lock()
	e.enc = nil
	e.mu.Unlock()
	return media.StatusOK
}

func planar(p *h264.Picture) *color.Planar {
	return &color.Planar{
		Width:   p.Width,
		Height:  p.Height,
		Y:       p.Y,
		U:       p.Cb,
		V:       p.Cr,
		StrideY: p.StrideY,
		StrideU: p.StrideC,
		StrideV: p.StrideC,
	}
}
