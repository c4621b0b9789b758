package swcodec

import (
	"sync"

	"github.com/lanikai/alohavideo/internal/media"
	"github.com/lanikai/alohavideo/internal/media/h264"
	"golang.org/x/xerrors"
)

const decoderName = "alohavideo-h264-pcm"

type Decoder struct {
	mu       sync.Mutex
	settings media.DecoderSettings
	dec      *h264.Decoder
	callback media.DecodedImageCallback

	width, height int
	decoded       int
}

func NewDecoder() *Decoder {
	return &Decoder{}
}

func (d *Decoder) Configure(settings *media.DecoderSettings) bool {
	if settings == nil || settings.CodecType != media.CodecH264 {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.settings = *settings
	d.dec = h264.NewDecoder()
	d.width, d.height = settings.Width, settings.Height
	d.decoded = 0
	return true
}

func (d *Decoder) RegisterDecodeCompleteCallback(cb media.DecodedImageCallback) media.Status {
	d.mu.Lock()
	d.callback = cb
	d.mu.Unlock()
	return media.StatusOK
}

// Decode delivers the picture in image to the callback before returning.
// Units without a picture return NoOutput. A slice that arrives before any
// parameter sets is an error, so the caller asks for a key frame.
func (d *Decoder) Decode(image *media.EncodedImage, missingFrames bool, renderTimeMs int64) media.Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.dec == nil || d.callback == nil {
		return media.StatusUninitialized
	}
	if image == nil || len(image.Data) == 0 {
		return media.StatusErrParameter
	}

	pic, err := d.dec.Decode(image.Data)
	if err != nil {
		if xerrors.Is(err, h264.ErrNoParameterSets) {
			log.Debug("Decode: waiting for a key frame")
		} else {
			log.Warn("Decode: %v", err)
		}
		return media.StatusError
	}
	if pic == nil {
		return media.StatusNoOutput
	}
	if pic.Width != d.width || pic.Height != d.height {
		log.Info("stream changed: %dx%d -> %dx%d", d.width, d.height, pic.Width, pic.Height)
		d.width, d.height = pic.Width, pic.Height
	}
	d.decoded++

	frame := &media.VideoFrame{
		Buffer:       media.WrapI420(planar(pic)),
		Rotation:     image.Rotation,
		TimestampUs:  image.TimestampUs,
		RTPTimestamp: image.RTPTimestamp,
		NTPTimeMs:    image.NTPTimeMs,
	}
	d.callback.OnDecoded(frame)
	return media.StatusOK
}

// Size returns the dimensions of the last decoded picture.
func (d *Decoder) Size() (int, int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.width, d.height
}

// Decoded returns the number of pictures delivered since Configure.
func (d *Decoder) Decoded() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.decoded
}

func (d *Decoder) GetDecoderInfo() media.DecoderInfo {
	return media.DecoderInfo{
		ImplementationName:    decoderName,
		IsHardwareAccelerated: false,
	}
}

func (d *Decoder) Release() media.Status {
	d.mu.Lock()
	d.dec = nil
	d.mu.Unlock()
	return media.StatusOK
}
