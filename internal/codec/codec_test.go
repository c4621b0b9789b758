package codec

import (
	"testing"

	"github.com/lanikai/alohavideo/internal/avcodec"
	"github.com/lanikai/alohavideo/internal/avcodec/emulator"
	"github.com/lanikai/alohavideo/internal/hwcodec"
	"github.com/lanikai/alohavideo/internal/media"
	"github.com/lanikai/alohavideo/internal/swcodec"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEncoder struct {
	name     string
	initErr  media.Status
	failAt   int
	failWith media.Status
	settings *media.VideoCodecSettings
	callback media.EncodedImageCallback
	rates    []media.RateControlParameters
	frames   [][]media.FrameType
	released int
}

func (e *fakeEncoder) InitEncode(settings *media.VideoCodecSettings) media.Status {
	e.settings = settings
	return e.initErr
}

func (e *fakeEncoder) RegisterEncodeCompleteCallback(cb media.EncodedImageCallback) media.Status {
	e.callback = cb
	return media.StatusOK
}

func (e *fakeEncoder) Encode(frame *media.VideoFrame, types []media.FrameType) media.Status {
	e.frames = append(e.frames, types)
	if e.failAt > 0 && len(e.frames) >= e.failAt {
		if e.failWith != media.StatusOK {
			return e.failWith
		}
		return media.StatusFallbackSoftware
	}
	if e.callback != nil {
		e.callback.OnEncodedImage(&media.EncodedImage{RTPTimestamp: frame.RTPTimestamp})
	}
	return media.StatusOK
}

func (e *fakeEncoder) SetRates(params media.RateControlParameters) {
	e.rates = append(e.rates, params)
}

func (e *fakeEncoder) GetEncoderInfo() media.EncoderInfo {
	return media.EncoderInfo{ImplementationName: e.name, IsHardwareAccelerated: e.name == "hw"}
}

func (e *fakeEncoder) Release() media.Status {
	e.released++
	return media.StatusOK
}

type fakeDecoder struct {
	name       string
	configFail bool
	fail       bool
	callback   media.DecodedImageCallback
	decoded    int
	released   int
}

func (d *fakeDecoder) Configure(settings *media.DecoderSettings) bool { return !d.configFail }

func (d *fakeDecoder) Decode(image *media.EncodedImage, missing bool, renderTimeMs int64) media.Status {
	if d.fail {
		return media.StatusUninitialized
	}
	d.decoded++
	if d.callback != nil {
		d.callback.OnDecoded(&media.VideoFrame{RTPTimestamp: image.RTPTimestamp})
	}
	return media.StatusOK
}

func (d *fakeDecoder) RegisterDecodeCompleteCallback(cb media.DecodedImageCallback) media.Status {
	d.callback = cb
	return media.StatusOK
}

func (d *fakeDecoder) GetDecoderInfo() media.DecoderInfo {
	return media.DecoderInfo{ImplementationName: d.name, IsHardwareAccelerated: d.name == "hw"}
}

func (d *fakeDecoder) Release() media.Status {
	d.released++
	return media.StatusOK
}

func grayFrame(w, h int, tsUs int64) *media.VideoFrame {
	b := media.NewI420Buffer(w, h)
	p := b.Planar()
	for i := range p.Y {
		p.Y[i] = 100
	}
	for i := range p.U {
		p.U[i] = 128
		p.V[i] = 128
	}
	return media.NewVideoFrame(b, media.Rotation0, tsUs)
}

func TestParseProfile(t *testing.T) {
	tests := []struct {
		id      string
		profile Profile
	}{
		{"42e01f", ProfileConstrainedBaseline},
		{"42C01F", ProfileConstrainedBaseline},
		{"42001f", ProfileBaseline},
		{"4d001f", ProfileMain},
		{"4d801f", ProfileConstrainedBaseline},
		{"640c1f", ProfileConstrainedHigh},
		{"64001f", ProfileHigh},
	}
	for _, tt := range tests {
		p, err := ParseProfile(tt.id)
		require.NoError(t, err, tt.id)
		assert.Equal(t, tt.profile, p, tt.id)
	}
	for _, bad := range []string{"", "42e0", "zz001f", "f4001f"} {
		_, err := ParseProfile(bad)
		assert.Error(t, err, bad)
	}
}

func TestFormats(t *testing.T) {
	f := H264Format("42e01f")
	assert.Equal(t, webrtc.MimeTypeH264, f.MimeType)
	assert.EqualValues(t, 90000, f.ClockRate)
	assert.Equal(t, "42e01f", ProfileLevelID(f))
	assert.Equal(t, "1", ParseFmtp(f.SDPFmtpLine)["packetization-mode"])

	// Levels may differ.
	assert.True(t, SameFormat(f, H264Format("42e034")))
	assert.False(t, SameFormat(f, H264Format("42001f")))
	assert.False(t, SameFormat(f, Format{MimeType: webrtc.MimeTypeH264, SDPFmtpLine: "profile-level-id=42e01f"}))
	assert.False(t, SameFormat(f, Format{MimeType: webrtc.MimeTypeVP8}))
	assert.Equal(t, "42001f", ProfileLevelID(Format{MimeType: webrtc.MimeTypeH264}))
	assert.True(t, IsHighProfile(H264Format("640c1f")))

	union := UnionFormats([]Format{f}, []Format{H264Format("42e034"), H264Format("42001f")})
	require.Len(t, union, 2)
	assert.Equal(t, "42001f", ProfileLevelID(union[1]))
}

func TestHardwareFormats(t *testing.T) {
	p := emulator.New(emulator.Options{ProfileLevelIDs: []string{"42e01f", "42001f", "640c1f"}})
	hf, err := NewHardwareEncoderFactory(HardwareOptions{Provider: p})
	require.NoError(t, err)
	assert.Len(t, hf.SupportedFormats(), 2)

	hf, err = NewHardwareEncoderFactory(HardwareOptions{Provider: p, EnableH264HighProfile: true, Blocklist: []string{"42001f"}})
	require.NoError(t, err)
	formats := hf.SupportedFormats()
	require.Len(t, formats, 2)
	assert.Equal(t, "42e01f", ProfileLevelID(formats[0]))
	assert.Equal(t, "640c1f", ProfileLevelID(formats[1]))

	_, err = hf.CreateEncoder(H264Format("42001f"))
	assert.True(t, IsNotSupported(err))
}

func TestRefusedProfileUsesSoftware(t *testing.T) {
	for _, opts := range []HardwareOptions{
		{Provider: emulator.New(emulator.Options{Refuse: []string{"42e01f"}})},
		{Provider: emulator.New(emulator.Options{}), Blocklist: []string{"42e01f"}},
	} {
		hw, err := NewHardwareEncoderFactory(opts)
		require.NoError(t, err)
		factory := NewDefaultEncoderFactory(hw, SoftwareEncoderFactory{})
		assert.True(t, ContainsFormat(factory.SupportedFormats(), H264Format("42e01f")))
		assert.True(t, ContainsFormat(factory.SupportedFormats(), H264Format("42001f")))

		enc, err := factory.CreateEncoder(H264Format("42e01f"))
		require.NoError(t, err)
		require.IsType(t, &swcodec.Encoder{}, enc)
		require.Equal(t, media.StatusOK, enc.InitEncode(&media.VideoCodecSettings{CodecType: media.CodecH264, Width: 16, Height: 16}))
		assert.False(t, enc.GetEncoderInfo().IsHardwareAccelerated)
		enc.Release()

		// Only the hardware path has baseline.
		enc, err = factory.CreateEncoder(H264Format("42001f"))
		require.NoError(t, err)
		assert.IsType(t, &hwcodec.Encoder{}, enc)
	}
}

func TestDefaultFactoryWrapsHardware(t *testing.T) {
	// A codec without raw input formats cannot initialize.
	p := emulator.New(emulator.Options{EncoderPixelFormats: []avcodec.PixelFormat{}})
	hw, err := NewHardwareEncoderFactory(HardwareOptions{Provider: p})
	require.NoError(t, err)
	factory := NewDefaultEncoderFactory(hw, SoftwareEncoderFactory{})

	enc, err := factory.CreateEncoder(H264Format("42e01f"))
	require.NoError(t, err)
	fb, ok := enc.(*FallbackEncoder)
	require.True(t, ok)

	var images []*media.EncodedImage
	fb.RegisterEncodeCompleteCallback(media.EncodedImageCallbackFunc(func(img *media.EncodedImage) {
		images = append(images, img)
	}))
	require.Equal(t, media.StatusOK, fb.InitEncode(&media.VideoCodecSettings{CodecType: media.CodecH264, Width: 16, Height: 16}))
	assert.True(t, fb.UsingFallback())
	assert.False(t, fb.GetEncoderInfo().IsHardwareAccelerated)

	require.Equal(t, media.StatusOK, fb.Encode(grayFrame(16, 16, 1000), nil))
	require.Len(t, images, 1)
	assert.True(t, images[0].IsKey())
	fb.Release()

	_, err = factory.CreateEncoder(Format{MimeType: webrtc.MimeTypeVP8})
	assert.True(t, IsNotSupported(err))
}

func TestFallbackEncoderOnEncodeError(t *testing.T) {
	hw := &fakeEncoder{name: "hw", failAt: 2}
	sw := &fakeEncoder{name: "sw"}
	fb := NewFallbackEncoder(hw, sw)

	var images []*media.EncodedImage
	cb := media.EncodedImageCallbackFunc(func(img *media.EncodedImage) { images = append(images, img) })
	settings := &media.VideoCodecSettings{CodecType: media.CodecH264, Width: 16, Height: 16}
	require.Equal(t, media.StatusOK, fb.InitEncode(settings))
	fb.RegisterEncodeCompleteCallback(cb)
	fb.SetRates(media.RateControlParameters{TargetBitrateBps: 300000, FramerateFps: 20})
	assert.True(t, fb.GetEncoderInfo().IsHardwareAccelerated)

	require.Equal(t, media.StatusOK, fb.Encode(grayFrame(16, 16, 0), nil))
	assert.False(t, fb.UsingFallback())

	// The failing frame is resubmitted to the secondary as a key frame.
	require.Equal(t, media.StatusOK, fb.Encode(grayFrame(16, 16, 33333), nil))
	assert.True(t, fb.UsingFallback())
	assert.Equal(t, 1, hw.released)
	require.NotNil(t, sw.settings)
	assert.Equal(t, 16, sw.settings.Width)
	assert.Equal(t, []media.RateControlParameters{{TargetBitrateBps: 300000, FramerateFps: 20}}, sw.rates)
	require.Len(t, sw.frames, 1)
	assert.Equal(t, []media.FrameType{media.FrameTypeKey}, sw.frames[0])
	assert.Len(t, images, 2)
	assert.False(t, fb.GetEncoderInfo().IsHardwareAccelerated)

	// The rest of the session stays on the secondary.
	require.Equal(t, media.StatusOK, fb.Encode(grayFrame(16, 16, 66666), nil))
	assert.Len(t, hw.frames, 2)
	assert.Len(t, sw.frames, 2)

	// A new session starts on the primary again.
	hw.failAt = 0
	require.Equal(t, media.StatusOK, fb.InitEncode(settings))
	assert.False(t, fb.UsingFallback())
	assert.Equal(t, 1, sw.released)

	fb.Release()
	assert.Equal(t, 2, hw.released)
	assert.Equal(t, 2, sw.released)
	assert.Equal(t, media.StatusUninitialized, fb.Encode(grayFrame(16, 16, 0), nil))
}

func TestFallbackEncoderInitFailure(t *testing.T) {
	hw := &fakeEncoder{name: "hw", initErr: media.StatusError}
	sw := &fakeEncoder{name: "sw", initErr: media.StatusError}
	fb := NewFallbackEncoder(hw, sw)
	assert.Equal(t, media.StatusError, fb.InitEncode(&media.VideoCodecSettings{CodecType: media.CodecH264}))
	assert.Equal(t, media.StatusUninitialized, fb.Encode(grayFrame(16, 16, 0), nil))
	assert.Equal(t, media.StatusErrParameter, fb.InitEncode(nil))
}

func TestFallbackEncoderTransientError(t *testing.T) {
	hw := &fakeEncoder{name: "hw", failAt: 1, failWith: media.StatusError}
	sw := &fakeEncoder{name: "sw"}
	fb := NewFallbackEncoder(hw, sw)
	require.Equal(t, media.StatusOK, fb.InitEncode(&media.VideoCodecSettings{CodecType: media.CodecH264}))
	assert.Equal(t, media.StatusError, fb.Encode(grayFrame(16, 16, 0), nil))
	assert.False(t, fb.UsingFallback())
	assert.Empty(t, sw.frames)

	hw.failWith = media.StatusUninitialized
	assert.Equal(t, media.StatusOK, fb.Encode(grayFrame(16, 16, 33333), nil))
	assert.True(t, fb.UsingFallback())
}

func TestFallbackDecoder(t *testing.T) {
	hw := &fakeDecoder{name: "hw"}
	sw := &fakeDecoder{name: "sw"}
	fb := NewFallbackDecoder(hw, sw)
	var frames []*media.VideoFrame
	fb.RegisterDecodeCompleteCallback(media.DecodedImageCallbackFunc(func(f *media.VideoFrame) {
		frames = append(frames, f)
	}))
	require.True(t, fb.Configure(&media.DecoderSettings{CodecType: media.CodecH264}))
	assert.True(t, fb.GetDecoderInfo().IsHardwareAccelerated)

	require.Equal(t, media.StatusOK, fb.Decode(&media.EncodedImage{RTPTimestamp: 1}, false, 0))
	hw.fail = true
	require.Equal(t, media.StatusOK, fb.Decode(&media.EncodedImage{RTPTimestamp: 2}, false, 0))
	assert.True(t, fb.UsingFallback())
	assert.Equal(t, 1, hw.released)
	assert.Equal(t, 1, sw.decoded)
	require.Len(t, frames, 2)
	assert.EqualValues(t, 2, frames[1].RTPTimestamp)
	assert.Equal(t, "sw", fb.GetDecoderInfo().ImplementationName)

	fb.Release()
	assert.Equal(t, media.StatusUninitialized, fb.Decode(&media.EncodedImage{}, false, 0))

	hw = &fakeDecoder{name: "hw", configFail: true}
	fb = NewFallbackDecoder(hw, &fakeDecoder{name: "sw"})
	require.True(t, fb.Configure(&media.DecoderSettings{CodecType: media.CodecH264}))
	assert.True(t, fb.UsingFallback())
	assert.False(t, fb.Configure(nil))
}

func TestDefaultDecoderFactory(t *testing.T) {
	hw, err := NewHardwareDecoderFactory(HardwareOptions{Provider: emulator.New(emulator.Options{})})
	require.NoError(t, err)
	factory := NewDefaultDecoderFactory(hw, SoftwareDecoderFactory{})
	assert.Len(t, factory.SupportedFormats(), 2)

	dec, err := factory.CreateDecoder(H264Format("42e01f"))
	require.NoError(t, err)
	assert.IsType(t, &FallbackDecoder{}, dec)
	dec, err = factory.CreateDecoder(H264Format("42001f"))
	require.NoError(t, err)
	assert.IsType(t, &hwcodec.Decoder{}, dec)
	_, err = factory.CreateDecoder(H264Format("640c1f"))
	assert.True(t, IsNotSupported(err))
}
