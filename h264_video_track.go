//////////////////////////////////////////////////////////////////////////////
//
// H264VideoTrack encodes a video track into H.264 samples
//
// Copyright 2019 Lanikai Labs. All rights reserved.
//
//////////////////////////////////////////////////////////////////////////////

package alohavideo

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/lanikai/alohavideo/internal/media"
	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"
	"github.com/pkg/errors"
)

// Sample duration when the settings name no frame rate.
const defaultSampleDuration = time.Second / 30

// H264VideoTrack is a sink that encodes the frames it receives and writes
// the resulting access units as samples of a local WebRTC track.
type H264VideoTrack struct {
	*webrtc.TrackLocalStaticSample

	encoder VideoEncoder

	mu         sync.Mutex
	onImage    func(image *EncodedImage)
	keyPending atomic.Bool

	// Advances the RTP timestamp after each sample, in nanoseconds.
	interval atomic.Int64

	encoded  atomic.Uint64
	failures atomic.Uint64
}

// NewH264VideoTrack creates an encoder for format from factory and
// configures it with settings.
func NewH264VideoTrack(factory EncoderFactory, format Format, settings media.VideoCodecSettings, id, streamID string) (*H264VideoTrack, error) {
	local, err := webrtc.NewTrackLocalStaticSample(format, id, streamID)
	if err != nil {
		return nil, errors.Wrap(err, "h264 track")
	}
	enc, err := factory.CreateEncoder(format)
	if err != nil {
		return nil, errors.Wrap(err, "h264 track")
	}
	if status := enc.InitEncode(&settings); status != media.StatusOK {
		enc.Release()
		return nil, errors.Errorf("h264 track: init encoder: %v", status)
	}
	t := &H264VideoTrack{TrackLocalStaticSample: local, encoder: enc}
	t.interval.Store(int64(defaultSampleDuration))
	t.setFramerate(float64(settings.MaxFramerate))
	enc.RegisterEncodeCompleteCallback(media.EncodedImageCallbackFunc(t.writeImage))
	return t, nil
}

// Encoder is the track's encoder.
func (t *H264VideoTrack) Encoder() VideoEncoder { return t.encoder }

// OnEncodedImage registers fn to observe every image written to the track.
func (t *H264VideoTrack) OnEncodedImage(fn func(image *EncodedImage)) {
	t.mu.Lock()
	t.onImage = fn
	t.mu.Unlock()
}

// RequestKeyFrame makes the next frame a key frame.
func (t *H264VideoTrack) RequestKeyFrame() { t.keyPending.Store(true) }

// SetRates updates the encoder's targets. The frame rate also sets the
// duration of the samples written from now on.
func (t *H264VideoTrack) SetRates(bitrateBps int, framerateFps float64) {
	t.encoder.SetRates(media.RateControlParameters{
		TargetBitrateBps: bitrateBps,
		FramerateFps:     framerateFps,
	})
	t.setFramerate(framerateFps)
}

func (t *H264VideoTrack) setFramerate(fps float64) {
	if fps > 0 {
		t.interval.Store(int64(float64(time.Second) / fps))
	}
}

// SampleDuration is the duration written with each sample. pion advances
// the track's RTP timestamp by it after the sample, so it is the nominal
// frame interval rather than the gap to the previous frame.
func (t *H264VideoTrack) SampleDuration() time.Duration {
	return time.Duration(t.interval.Load())
}

// OnFrame encodes frame. Failures are counted and logged, and the frame is
// dropped.
func (t *H264VideoTrack) OnFrame(frame *VideoFrame) {
	types := []media.FrameType{media.FrameTypeDelta}
	if t.keyPending.Swap(false) {
		types[0] = media.FrameTypeKey
	}
	if status := t.encoder.Encode(frame, types); status != media.StatusOK {
		t.failures.Add(1)
		log.Debug("track %s: encode frame %d: %v", t.ID(), frame.TimestampUs, status)
		if types[0] == media.FrameTypeKey {
			t.keyPending.Store(true)
		}
	}
}

func (t *H264VideoTrack) writeImage(image *EncodedImage) {
	t.mu.Lock()
	fn := t.onImage
	t.mu.Unlock()

	t.encoded.Add(1)
	if err := t.WriteSample(pionmedia.Sample{Data: image.Data, Duration: t.SampleDuration()}); err != nil {
		log.Warn("track %s: write sample: %v", t.ID(), err)
	}
	if fn != nil {
		fn(image)
	}
}

// Stats returns the number of images written and frames that failed to
// encode.
func (t *H264VideoTrack) Stats() (encoded, failures uint64) {
	return t.encoded.Load(), t.failures.Load()
}

// Close releases the encoder.
func (t *H264VideoTrack) Close() error {
	if status := t.encoder.Release(); status != media.StatusOK {
		return errors.Errorf("h264 track: release encoder: %v", status)
	}
	return nil
}
