package hwcodec

import (
	"sync"
	"time"

	"github.com/lanikai/alohavideo/internal/avcodec"
	"github.com/lanikai/alohavideo/internal/gpu"
	"github.com/lanikai/alohavideo/internal/media"
	"github.com/lanikai/alohavideo/internal/media/h264"
	"github.com/pkg/errors"
)

// DefaultRenderTimeout bounds the wait for every reference to the previous
// texture frame to be released before the next one is rendered over it.
const DefaultRenderTimeout = 200 * time.Millisecond

// Decoder drives a platform H.264 decoder. With texture output the codec
// renders into a VideoFrameReceiver and frames carry texture buffers;
// otherwise decoded frames are copied out of the codec as I420.
type Decoder struct {
	opts Options

	mu       sync.Mutex
	state    State
	settings media.DecoderSettings
	caps     *avcodec.Capabilities
	codec    avcodec.Codec
	output   avcodec.Format
	callback media.DecodedImageCallback
	inputs   *inputQueue
	extra    media.ExtraInfoQueue
	receiver *VideoFrameReceiver

	decoded      int
	streamChange int

	// Taken while a rendered frame is in flight to the receiver or still
	// referenced by a consumer.
	renderToken chan struct{}
}

func NewDecoder(opts Options) (*Decoder, error) {
	if err := opts.setDefaults(); err != nil {
		return nil, err
	}
	return &Decoder{opts: opts}, nil
}

func (d *Decoder) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

func (d *Decoder) Codec() avcodec.Codec {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.codec
}

// Receiver returns the texture receiver, nil for byte-buffer output.
func (d *Decoder) Receiver() *VideoFrameReceiver {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.receiver
}

// OutputFormat returns the codec's current output description.
func (d *Decoder) OutputFormat() avcodec.Format {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.output
}

func (d *Decoder) Capabilities() (*avcodec.Capabilities, error) {
	return d.opts.Provider.Capabilities(avcodec.MimeH264, avcodec.Decoder)
}

func (d *Decoder) Configure(settings *media.DecoderSettings) bool {
	d.mu.Lock()
	state := d.state
	d.mu.Unlock()
	switch state {
	case StateConfigured, StateRunning, StateStopped:
		d.teardown()
	}
	if settings == nil || settings.CodecType != media.CodecH264 {
		return false
	}
	if err := d.init(settings); err != nil {
		log.Error("Decoder init failed: %v", err)
		d.teardown()
		d.mu.Lock()
		d.state = StateReleased
		d.mu.Unlock()
		return false
	}
	return true
}

func (d *Decoder) init(settings *media.DecoderSettings) error {
	caps, err := d.Capabilities()
	if err != nil {
		return err
	}
	pf := d.opts.PixelFormat
	if pf != avcodec.PixelFormatSurface || !caps.SupportsPixelFormat(pf) {
		if pf, err = pickPixelFormat(caps, pf); err != nil {
			return err
		}
	}
	width, height := settings.Width, settings.Height
	if width <= 0 || height <= 0 {
		width, height = 640, 480
	}

	codec, err := d.opts.Provider.Create(avcodec.MimeH264, avcodec.Decoder)
	if err != nil {
		return err
	}
	d.mu.Lock()
	d.codec = codec
	d.caps = caps
	d.settings = *settings
	d.inputs = newInputQueue()
	d.extra.Clear()
	d.renderToken = make(chan struct{}, 1)
	d.renderToken <- struct{}{}
	d.mu.Unlock()

	if err := codec.Configure(avcodec.Format{Width: width, Height: height, PixelFormat: pf}); err != nil {
		return errors.Wrap(err, "configure decoder")
	}
	if err := codec.SetCallback((*decoderCallback)(d)); err != nil {
		return err
	}
	d.mu.Lock()
	d.state = StateConfigured
	d.mu.Unlock()

	if pf == avcodec.PixelFormatSurface {
		r, err := NewVideoFrameReceiver("hw-decoder", d.opts.SharedContext, width, height)
		if err != nil {
			return err
		}
		d.mu.Lock()
		d.receiver = r
		d.mu.Unlock()
		r.SetListener(d.onTextureFrame, d.returnRenderToken)
		if err := codec.SetOutputSurface(r.Window()); err != nil {
			return errors.Wrap(err, "set output surface")
		}
	}
	if err := codec.Prepare(); err != nil {
		return errors.Wrap(err, "prepare decoder")
	}
	output, err := codec.OutputDescription()
	if err != nil {
		return err
	}
	if err := codec.Start(); err != nil {
		return errors.Wrap(err, "start decoder")
	}

	d.mu.Lock()
	d.output = output
	d.state = StateRunning
	d.mu.Unlock()
	log.Info("Decoder %s running: %dx%d %v", caps.Name, width, height, pf)
	return nil
}

func (d *Decoder) RegisterDecodeCompleteCallback(cb media.DecodedImageCallback) media.Status {
	d.mu.Lock()
	d.callback = cb
	d.mu.Unlock()
	return media.StatusOK
}

func (d *Decoder) Decode(image *media.EncodedImage, missingFrames bool, renderTimeMs int64) media.Status {
	d.mu.Lock()
	state, codec, inputs := d.state, d.codec, d.inputs
	d.mu.Unlock()
	if state != StateRunning {
		return media.StatusUninitialized
	}
	if image == nil || len(image.Data) == 0 {
		return media.StatusErrParameter
	}
	if missingFrames {
		log.Debug("Decoding at rtp %d after missing frames", image.RTPTimestamp)
	}

	slot, err := inputs.take(d.opts.DequeueTimeout)
	if err != nil {
		log.Warn("Decode at rtp %d: %v", image.RTPTimestamp, err)
		if err == errStopped {
			return media.StatusUninitialized
		}
		return media.StatusError
	}
	if len(image.Data) > slot.buf.Cap() {
		inputs.unget(slot)
		log.Warn("Encoded image of %d bytes exceeds input buffer of %d", len(image.Data), slot.buf.Cap())
		return media.StatusErrParameter
	}
	slot.buf.SetLen(len(image.Data))
	copy(slot.buf.Bytes(), image.Data)

	pts := int64(image.RTPTimestamp) / 90 * 1000
	var flags avcodec.Flags
	if image.IsKey() || (image.FrameType == media.FrameTypeEmpty && h264.ContainsIDR(image.Data)) {
		flags |= avcodec.FlagSyncFrame
	}
	d.extra.Push(media.FrameExtraInfo{
		PTS:          pts,
		TimestampUs:  image.TimestampUs,
		RTPTimestamp: image.RTPTimestamp,
		NTPTimeMs:    image.NTPTimeMs,
		Rotation:     image.Rotation,
	})
	if err := codec.PushInputData(slot.index, avcodec.BufferAttr{PTS: pts, Size: len(image.Data), Flags: flags}); err != nil {
		log.Warn("Submit encoded image at rtp %d: %v", image.RTPTimestamp, err)
		return media.StatusError
	}
	return media.StatusOK
}

func (d *Decoder) GetDecoderInfo() media.DecoderInfo {
	d.mu.Lock()
	defer d.mu.Unlock()
	info := media.DecoderInfo{ImplementationName: "hwcodec"}
	if d.caps != nil {
		info.ImplementationName = d.caps.Name
		info.IsHardwareAccelerated = d.caps.Hardware
	}
	return info
}

// Stats returns the number of decoded frames delivered and stream changes
// seen.
func (d *Decoder) Stats() (decoded, streamChanges int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.decoded, d.streamChange
}

func (d *Decoder) Release() media.Status {
	d.teardown()
	d.mu.Lock()
	d.state = StateReleased
	d.callback = nil
	d.mu.Unlock()
	return media.StatusOK
}

func (d *Decoder) teardown() {
	d.mu.Lock()
	codec, inputs, r := d.codec, d.inputs, d.receiver
	d.codec, d.inputs, d.receiver = nil, nil, nil
	if d.state != StateReleased {
		d.state = StateIdle
	}
	d.mu.Unlock()

	if inputs != nil {
		inputs.close()
	}
	if codec != nil {
		if err := codec.Stop(); err != nil {
			log.Debug("Stop decoder: %v", err)
		}
		codec.Release()
	}
	if r != nil {
		r.Release()
	}
	d.extra.Clear()
}

// deliver hands a decoded frame to the registered callback, restoring the
// timing of the encoded image with the same PTS.
func (d *Decoder) deliver(buf media.FrameBuffer, pts int64) {
	info, ok := d.extra.Match(pts)
	if !ok {
		log.Warn("No frame info for decoder output at pts %d", pts)
		info = media.FrameExtraInfo{PTS: pts, TimestampUs: pts, RTPTimestamp: uint32(pts / 1000 * 90)}
	}
	frame := &media.VideoFrame{
		Buffer:       buf,
		Rotation:     info.Rotation,
		TimestampUs:  info.TimestampUs,
		RTPTimestamp: info.RTPTimestamp,
		NTPTimeMs:    info.NTPTimeMs,
	}

	d.mu.Lock()
	cb := d.callback
	running := d.state == StateRunning
	if running {
		d.decoded++
	}
	d.mu.Unlock()
	log.Trace(4, "Decoded frame at rtp %d", frame.RTPTimestamp)
	if cb != nil && running {
		cb.OnDecoded(frame)
	}
}

// onTextureFrame runs on the receiver's thread. Consumers that keep the
// frame past their callback retain its buffer, which holds back the next
// render.
func (d *Decoder) onTextureFrame(buf *gpu.TextureBuffer, timestampNs int64) {
	d.deliver(buf, timestampNs/1000)
}

func (d *Decoder) returnRenderToken() {
	d.mu.Lock()
	token := d.renderToken
	d.mu.Unlock()
	select {
	case token <- struct{}{}:
	default:
	}
}

// decoderCallback receives the codec's asynchronous events.
type decoderCallback Decoder

func (c *decoderCallback) decoder() *Decoder { return (*Decoder)(c) }

func (c *decoderCallback) OnError(err error) {
	d := c.decoder()
	d.mu.Lock()
	if d.state == StateRunning {
		d.state = StateStopped
	}
	inputs := d.inputs
	d.mu.Unlock()
	if inputs != nil {
		inputs.close()
	}
	log.Error("Decoder failed: %v", err)
}

// OnStreamChanged re-reads the output layout and drops the receiver's
// cached conversion target.
func (c *decoderCallback) OnStreamChanged(format avcodec.Format) {
	d := c.decoder()
	d.mu.Lock()
	codec, r := d.codec, d.receiver
	d.mu.Unlock()
	if codec == nil {
		return
	}
	output, err := codec.OutputDescription()
	if err != nil {
		log.Warn("Decoder output changed, description unavailable: %v", err)
		output = format
	}
	d.mu.Lock()
	d.output = output
	d.streamChange++
	d.mu.Unlock()
	if r != nil {
		r.Data().InvalidateConverter()
	}
	log.Debug("Decoder output now %dx%d, stride %d, slice height %d",
		output.Width, output.Height, output.Stride, output.SliceHeight)
}

func (c *decoderCallback) OnNeedInputData(index uint32, buf *media.SharedBuffer) {
	d := c.decoder()
	d.mu.Lock()
	inputs := d.inputs
	d.mu.Unlock()
	if inputs != nil {
		inputs.put(inputSlot{index, buf})
	}
}

func (c *decoderCallback) OnNewOutputData(index uint32, buf *media.SharedBuffer, attr avcodec.BufferAttr) {
	d := c.decoder()
	d.mu.Lock()
	codec, r, output, token := d.codec, d.receiver, d.output, d.renderToken
	d.mu.Unlock()
	if codec == nil {
		return
	}
	if attr.Flags&avcodec.FlagEOS != 0 {
		codec.FreeOutputData(index)
		return
	}

	if r != nil {
		select {
		case <-token:
		case <-time.After(d.opts.RenderTimeout):
			log.Warn("Receiver busy, dropping decoded frame at pts %d", attr.PTS)
			codec.FreeOutputData(index)
			return
		}
		if err := codec.RenderOutputData(index); err != nil {
			log.Warn("Render decoded frame at pts %d: %v", attr.PTS, err)
			token <- struct{}{}
		}
		return
	}

	defer codec.FreeOutputData(index)
	if buf == nil {
		log.Warn("Decoder output %d has no data", index)
		return
	}
	i420 := media.NewI420Buffer(output.Width, output.Height)
	if err := avcodec.ReadFrame(i420.Planar(), output, buf.Bytes()[attr.Offset:attr.Offset+attr.Size]); err != nil {
		log.Warn("Read decoded frame at pts %d: %v", attr.PTS, err)
		return
	}
	d.deliver(i420, attr.PTS)
}
