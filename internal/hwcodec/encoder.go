package hwcodec

import (
	"sync"

	"github.com/lanikai/alohavideo/internal/avcodec"
	"github.com/lanikai/alohavideo/internal/color"
	"github.com/lanikai/alohavideo/internal/gles"
	"github.com/lanikai/alohavideo/internal/gpu"
	"github.com/lanikai/alohavideo/internal/media"
	"github.com/pkg/errors"
)

// Encoder drives a platform H.264 encoder, either through its input
// surface (texture frames are drawn into it) or through raw input buffers.
type Encoder struct {
	opts Options

	mu       sync.Mutex
	state    State
	settings media.VideoCodecSettings
	caps     *avcodec.Capabilities
	codec    avcodec.Codec
	layout   avcodec.Format
	surface  bool
	callback media.EncodedImageCallback
	inputs   *inputQueue
	extra    media.ExtraInfoQueue

	// Rates last applied to the codec.
	bitrate   int
	framerate float64

	// Codec-config blob prepended to every sync frame.
	config      []byte
	configCount int
	emitted     int

	// Surface input, owned by thread.
	thread      *gles.Thread
	env         *gles.Env
	drawer      *gpu.GenericDrawer
	frameDrawer *gpu.FrameDrawer
}

func NewEncoder(opts Options) (*Encoder, error) {
	if err := opts.setDefaults(); err != nil {
		return nil, err
	}
	return &Encoder{opts: opts}, nil
}

func (e *Encoder) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Codec returns the platform codec, nil before InitEncode.
func (e *Encoder) Codec() avcodec.Codec {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.codec
}

// Capabilities returns the platform codec's capabilities for H.264.
func (e *Encoder) Capabilities() (*avcodec.Capabilities, error) {
	return e.opts.Provider.Capabilities(avcodec.MimeH264, avcodec.Encoder)
}

func (e *Encoder) InitEncode(settings *media.VideoCodecSettings) media.Status {
	e.mu.Lock()
	state := e.state
	e.mu.Unlock()
	switch state {
	case StateConfigured, StateRunning, StateStopped:
		e.teardown()
	}
	if settings == nil || settings.CodecType != media.CodecH264 || settings.Width <= 0 || settings.Height <= 0 {
		return media.StatusErrParameter
	}

	if err := e.init(settings); err != nil {
		log.Error("Encoder init failed: %v", err)
		e.teardown()
		e.mu.Lock()
		e.state = StateReleased
		e.mu.Unlock()
		return media.StatusError
	}
	return media.StatusOK
}

func (e *Encoder) init(settings *media.VideoCodecSettings) error {
	caps, err := e.Capabilities()
	if err != nil {
		return err
	}
	pf := e.opts.PixelFormat
	if settings.ExpectEncodeFromTexture && caps.SupportsPixelFormat(avcodec.PixelFormatSurface) {
		pf = avcodec.PixelFormatSurface
	}
	if pf != avcodec.PixelFormatSurface {
		if pf, err = pickPixelFormat(caps, pf); err != nil {
			return err
		}
	}

	bitrate := settings.StartBitrateBps
	if bitrate <= 0 {
		bitrate = settings.MaxBitrateBps
	}
	bitrate = caps.BitrateRange.Clamp(bitrate)
	framerate := float64(settings.MaxFramerate)
	if framerate <= 0 {
		framerate = 30
	}
	framerate = min(framerate, float64(caps.FramerateRange.Max))

	codec, err := e.opts.Provider.Create(avcodec.MimeH264, avcodec.Encoder)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.codec = codec
	e.caps = caps
	e.settings = *settings
	e.surface = pf == avcodec.PixelFormatSurface
	e.inputs = newInputQueue()
	e.extra.Clear()
	e.config = nil
	e.bitrate, e.framerate = bitrate, framerate
	e.mu.Unlock()

	keyIntervalMs := e.opts.KeyFrameIntervalMs
	if keyIntervalMs <= 0 && settings.KeyFrameInterval > 0 {
		keyIntervalMs = int(float64(settings.KeyFrameInterval) * 1000 / framerate)
	}
	format := avcodec.Format{
		Width:              settings.Width,
		Height:             settings.Height,
		PixelFormat:        pf,
		Bitrate:            bitrate,
		FrameRate:          framerate,
		KeyFrameIntervalMs: keyIntervalMs,
		ProfileLevelID:     e.opts.ProfileLevelID,
	}
	if err := codec.Configure(format); err != nil {
		return errors.Wrap(err, "configure encoder")
	}
	if err := codec.SetCallback((*encoderCallback)(e)); err != nil {
		return err
	}
	e.mu.Lock()
	e.state = StateConfigured
	e.mu.Unlock()

	if pf == avcodec.PixelFormatSurface {
		if err := e.initSurface(codec); err != nil {
			return err
		}
	}
	if err := codec.Prepare(); err != nil {
		return errors.Wrap(err, "prepare encoder")
	}
	layout, err := codec.InputDescription()
	if err != nil {
		return err
	}
	if err := codec.Start(); err != nil {
		return errors.Wrap(err, "start encoder")
	}

	e.mu.Lock()
	e.layout = layout
	e.state = StateRunning
	e.mu.Unlock()
	log.Info("Encoder %s running: %dx%d %v, %d bps, %g fps",
		caps.Name, settings.Width, settings.Height, pf, bitrate, framerate)
	return nil
}

// initSurface binds a GL context to the codec's input surface.
func (e *Encoder) initSurface(codec avcodec.Codec) error {
	win, err := codec.CreateInputSurface()
	if err != nil {
		return errors.Wrap(err, "create input surface")
	}
	t := gles.NewThread("hw-encoder")
	err = t.Invoke(func() error {
		env, err := newGLEnv(e.opts.SharedContext, gles.ConfigRecordable)
		if err != nil {
			return err
		}
		if err := env.CreateWindowSurface(win); err != nil {
			env.Release()
			return err
		}
		if err := env.MakeCurrent(); err != nil {
			env.Release()
			return err
		}
		e.env = env
		e.drawer = gpu.NewRectDrawer(env.GL())
		e.frameDrawer = gpu.NewFrameDrawer(env.GL())
		return nil
	})
	if err != nil {
		t.Stop()
		return errors.Wrap(err, "encoder GL environment")
	}
	e.mu.Lock()
	e.thread = t
	e.mu.Unlock()
	return nil
}

func (e *Encoder) RegisterEncodeCompleteCallback(cb media.EncodedImageCallback) media.Status {
	e.mu.Lock()
	e.callback = cb
	e.mu.Unlock()
	return media.StatusOK
}

func (e *Encoder) Encode(frame *media.VideoFrame, frameTypes []media.FrameType) media.Status {
	e.mu.Lock()
	state, codec, surface, inputs := e.state, e.codec, e.surface, e.inputs
	e.mu.Unlock()
	if state != StateRunning {
		return media.StatusUninitialized
	}
	if frame == nil || frame.Buffer == nil {
		return media.StatusErrParameter
	}

	if media.HasKeyFrame(frameTypes) {
		if err := codec.SetParameter(avcodec.Parameters{RequestIFrame: true}); err != nil {
			log.Warn("Request key frame: %v", err)
		}
	}

	info := media.FrameExtraInfo{
		PTS:          frame.TimestampUs,
		TimestampUs:  frame.TimestampUs,
		RTPTimestamp: frame.RTPTimestamp,
		NTPTimeMs:    frame.NTPTimeMs,
		Rotation:     frame.Rotation,
	}
	if surface {
		e.extra.Push(info)
		if err := e.drawFrame(frame); err != nil {
			log.Warn("Encode from surface at %d: %v", frame.TimestampUs, err)
			return media.StatusError
		}
		return media.StatusOK
	}

	slot, err := inputs.take(e.opts.DequeueTimeout)
	if err != nil {
		log.Warn("Encode at %d: %v", frame.TimestampUs, err)
		if err == errStopped {
			return media.StatusUninitialized
		}
		return media.StatusError
	}
	size, err := e.fillInput(slot.buf, frame)
	if err != nil {
		inputs.unget(slot)
		log.Warn("Encode at %d: %v", frame.TimestampUs, err)
		return media.StatusError
	}
	e.extra.Push(info)
	if err := codec.PushInputData(slot.index, avcodec.BufferAttr{PTS: info.PTS, Size: size}); err != nil {
		log.Warn("Submit frame at %d: %v", frame.TimestampUs, err)
		return media.StatusError
	}
	return media.StatusOK
}

// drawFrame renders frame, unrotated, into the input surface and queues it
// with its timestamp.
func (e *Encoder) drawFrame(frame *media.VideoFrame) error {
	e.mu.Lock()
	t := e.thread
	e.mu.Unlock()
	if t == nil {
		return errStopped
	}
	unrotated := *frame
	unrotated.Rotation = media.Rotation0
	return t.Invoke(func() error {
		w, h := e.env.SurfaceSize()
		gl := e.env.GL()
		gl.ClearColor(0, 0, 0, 1)
		gl.Clear(gles.COLOR_BUFFER_BIT)
		if err := e.frameDrawer.DrawFrame(&unrotated, e.drawer, media.Identity(), 0, 0, w, h); err != nil {
			return err
		}
		return e.env.SwapBuffers(frame.TimestampUs * 1000)
	})
}

// fillInput converts frame into an input buffer in the codec's layout and
// returns the byte count written.
func (e *Encoder) fillInput(buf *media.SharedBuffer, frame *media.VideoFrame) (int, error) {
	e.mu.Lock()
	layout := e.layout
	e.mu.Unlock()

	i420 := frame.Buffer.ToI420()
	if i420 == nil {
		return 0, errors.Errorf("%v buffer has no pixels", frame.Buffer.Type())
	}
	src := i420.Planar()
	if src.Width != layout.Width || src.Height != layout.Height {
		scaled := color.NewPlanar(layout.Width, layout.Height)
		color.ScaleI420(scaled, src)
		src = scaled
	}
	l := layout.Layout()
	size := l.PixelFormat.FrameSize(l.Stride, l.SliceHeight)
	if size > buf.Cap() {
		return 0, errors.Errorf("frame needs %d bytes, input buffer has %d", size, buf.Cap())
	}
	buf.SetLen(size)
	if err := avcodec.WriteFrame(buf.Bytes(), layout, src); err != nil {
		return 0, err
	}
	return size, nil
}

// SetRates clamps the requested rates to what the codec supports and
// applies those that changed. Failures are logged.
func (e *Encoder) SetRates(params media.RateControlParameters) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateRunning {
		log.Debug("SetRates in state %v ignored", e.state)
		return
	}

	var p avcodec.Parameters
	if params.TargetBitrateBps > 0 {
		if bitrate := e.caps.BitrateRange.Clamp(params.TargetBitrateBps); bitrate != e.bitrate {
			p.Bitrate = bitrate
		}
	}
	if params.FramerateFps > 0 {
		maxFps := float64(e.caps.FramerateRange.Max)
		if e.settings.MaxFramerate > 0 {
			maxFps = min(maxFps, float64(e.settings.MaxFramerate))
		}
		if fps := min(params.FramerateFps, maxFps); fps != e.framerate {
			p.FrameRate = fps
		}
	}
	if p == (avcodec.Parameters{}) {
		return
	}
	if err := e.codec.SetParameter(p); err != nil {
		log.Warn("SetRates(%d bps, %g fps): %v", params.TargetBitrateBps, params.FramerateFps, err)
		return
	}
	if p.Bitrate > 0 {
		e.bitrate = p.Bitrate
	}
	if p.FrameRate > 0 {
		e.framerate = p.FrameRate
	}
	log.Debug("Rates now %d bps, %g fps", e.bitrate, e.framerate)
}

// Rates returns the bitrate and frame rate last applied.
func (e *Encoder) Rates() (int, float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.bitrate, e.framerate
}

func (e *Encoder) GetEncoderInfo() media.EncoderInfo {
	e.mu.Lock()
	defer e.mu.Unlock()
	info := media.EncoderInfo{
		ImplementationName:   "hwcodec",
		SupportsNativeHandle: e.surface,
		ScalingSettings: media.ScalingSettings{
			Enabled: true,
			LowQP:   media.H264LowQPThreshold,
			HighQP:  media.H264HighQPThreshold,
		},
		ResolutionAlignment: 1,
	}
	if e.caps != nil {
		info.ImplementationName = e.caps.Name
		info.IsHardwareAccelerated = e.caps.Hardware
		info.ResolutionAlignment = max(e.caps.Alignment, 1)
	}
	return info
}

// Stats returns the number of encoded images and codec-config blobs
// emitted by the codec.
func (e *Encoder) Stats() (images, configBlobs int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.emitted, e.configCount
}

func (e *Encoder) Release() media.Status {
	e.teardown()
	e.mu.Lock()
	e.state = StateReleased
	e.callback = nil
	e.mu.Unlock()
	return media.StatusOK
}

// teardown stops and releases the codec and the GL environment. The
// encoder returns to IDLE.
func (e *Encoder) teardown() {
	e.mu.Lock()
	codec, inputs, t := e.codec, e.inputs, e.thread
	e.codec, e.inputs, e.thread = nil, nil, nil
	if e.state != StateReleased {
		e.state = StateIdle
	}
	e.mu.Unlock()

	if inputs != nil {
		inputs.close()
	}
	if codec != nil {
		if err := codec.Stop(); err != nil {
			log.Debug("Stop encoder: %v", err)
		}
		codec.Release()
	}
	if t != nil {
		t.Invoke(func() error {
			e.frameDrawer.Release()
			e.drawer.Release()
			e.env.Release()
			return nil
		})
		t.Stop()
		e.env, e.drawer, e.frameDrawer = nil, nil, nil
	}
	e.extra.Clear()
}

// encoderCallback receives the codec's asynchronous events.
type encoderCallback Encoder

func (c *encoderCallback) encoder() *Encoder { return (*Encoder)(c) }

func (c *encoderCallback) OnError(err error) {
	e := c.encoder()
	e.mu.Lock()
	if e.state == StateRunning {
		e.state = StateStopped
	}
	inputs := e.inputs
	e.mu.Unlock()
	if inputs != nil {
		inputs.close()
	}
	log.Error("Encoder failed: %v", err)
}

func (c *encoderCallback) OnStreamChanged(format avcodec.Format) {
	log.Debug("Encoder output changed: %dx%d", format.Width, format.Height)
}

func (c *encoderCallback) OnNeedInputData(index uint32, buf *media.SharedBuffer) {
	e := c.encoder()
	e.mu.Lock()
	inputs := e.inputs
	e.mu.Unlock()
	if inputs != nil {
		inputs.put(inputSlot{index, buf})
	}
}

func (c *encoderCallback) OnNewOutputData(index uint32, buf *media.SharedBuffer, attr avcodec.BufferAttr) {
	e := c.encoder()
	e.mu.Lock()
	codec := e.codec
	e.mu.Unlock()
	if codec == nil {
		return
	}
	defer codec.FreeOutputData(index)

	if attr.Flags&avcodec.FlagEOS != 0 || buf == nil {
		return
	}
	data := buf.Bytes()[attr.Offset : attr.Offset+attr.Size]

	if attr.Flags&avcodec.FlagCodecData != 0 {
		e.mu.Lock()
		e.config = append([]byte(nil), data...)
		e.configCount++
		e.mu.Unlock()
		log.Debug("Encoder config data: %d bytes", len(data))
		return
	}

	info, ok := e.extra.Match(attr.PTS)
	if !ok {
		log.Warn("No frame info for encoder output at pts %d", attr.PTS)
		info = media.FrameExtraInfo{
			PTS:          attr.PTS,
			TimestampUs:  attr.PTS,
			RTPTimestamp: uint32(attr.PTS * 90 / 1000),
		}
	}

	e.mu.Lock()
	key := attr.Flags&avcodec.FlagSyncFrame != 0
	var payload []byte
	if key {
		payload = make([]byte, 0, len(e.config)+len(data))
		payload = append(payload, e.config...)
	}
	payload = append(payload, data...)
	img := &media.EncodedImage{
		Data:          payload,
		EncodedWidth:  e.settings.Width,
		EncodedHeight: e.settings.Height,
		TimestampUs:   info.TimestampUs,
		RTPTimestamp:  info.RTPTimestamp,
		NTPTimeMs:     info.NTPTimeMs,
		Rotation:      info.Rotation,
		FrameType:     media.FrameTypeDelta,
		QP:            -1,
	}
	if key {
		img.FrameType = media.FrameTypeKey
	}
	e.emitted++
	cb := e.callback
	e.mu.Unlock()

	log.Trace(4, "Encoded %v frame at %d: %d bytes", img.FrameType, img.TimestampUs, len(img.Data))
	if cb != nil {
		cb.OnEncodedImage(img)
	}
}
