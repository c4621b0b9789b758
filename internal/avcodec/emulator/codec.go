package emulator

import (
	"fmt"
	"sync"

	"github.com/lanikai/alohavideo/internal/avcodec"
	"github.com/lanikai/alohavideo/internal/color"
	"github.com/lanikai/alohavideo/internal/media"
	"github.com/lanikai/alohavideo/internal/media/h264"
	"github.com/lanikai/alohavideo/internal/native"
	"github.com/pkg/errors"
)

type state int

const (
	stateInitial state = iota
	stateConfigured
	statePrepared
	stateRunning
	stateError
	stateReleased
)

func (s state) String() string {
	switch s {
	case stateInitial:
		return "INITIAL"
	case stateConfigured:
		return "CONFIGURED"
	case statePrepared:
		return "PREPARED"
	case stateRunning:
		return "RUNNING"
	case stateError:
		return "ERROR"
	case stateReleased:
		return "RELEASED"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

type inputBuffer struct {
	buf  *media.SharedBuffer
	lent bool
}

type pushedInput struct {
	index uint32
	attr  avcodec.BufferAttr
}

type pendingOutput struct {
	attr avcodec.BufferAttr

	// Decoded picture awaiting RenderOutputData.
	pic *h264.Picture
}

// Codec is an emulated platform codec. All callbacks are made from one
// worker goroutine per running codec. Stop and Release must not be called
// from a callback.
type Codec struct {
	provider *Provider
	kind     avcodec.Kind
	caps     *avcodec.Capabilities

	mu         sync.Mutex
	state      state
	format     avcodec.Format
	input      avcodec.Format
	output     avcodec.Format
	cb         avcodec.Callback
	surface    *native.BufferQueue
	outSurface native.Window
	inputs     []*inputBuffer
	outputs    map[uint32]*pendingOutput
	nextOutput uint32

	starved bool
	held    []uint32

	applied       []avcodec.Parameters
	requestIFrame bool
	codecDataSent bool
	sinceKey      int
	codecData     int
	emitted       int

	// Owned by the worker.
	enc *h264.Encoder
	dec *h264.Decoder

	pushed       chan pushedInput
	events       chan func()
	surfaceReady chan struct{}
	quit         chan struct{}
	done         chan struct{}
}

func newCodec(p *Provider, kind avcodec.Kind, caps *avcodec.Capabilities) *Codec {
	return &Codec{
		provider:     p,
		kind:         kind,
		caps:         caps,
		outputs:      map[uint32]*pendingOutput{},
		surfaceReady: make(chan struct{}, 1),
	}
}

func (c *Codec) Name() string       { return c.caps.Name }
func (c *Codec) Kind() avcodec.Kind { return c.kind }

func align16(v int) int { return (v + 15) &^ 15 }

// rawLayout pads raw frames to macroblock multiples, as codec hardware
// usually does.
func rawLayout(f avcodec.Format) avcodec.Format {
	switch f.PixelFormat {
	case avcodec.PixelFormatSurface, avcodec.PixelFormatNone:
		f.Stride, f.SliceHeight = 0, 0
		return f
	case avcodec.PixelFormatRGBA:
		f.Stride = 4 * align16(f.Width)
	default:
		f.Stride = align16(f.Width)
	}
	f.SliceHeight = align16(f.Height)
	return f
}

func (c *Codec) Configure(f avcodec.Format) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != stateInitial && c.state != stateConfigured {
		return errors.Wrapf(avcodec.ErrInvalidState, "configure in state %v", c.state)
	}
	if !c.caps.WidthRange.Contains(f.Width) || !c.caps.HeightRange.Contains(f.Height) {
		return errors.Wrapf(avcodec.ErrNotSupported, "size %dx%d", f.Width, f.Height)
	}
	if !c.caps.SupportsPixelFormat(f.PixelFormat) {
		return errors.Wrapf(avcodec.ErrNotSupported, "pixel format %v", f.PixelFormat)
	}
	if f.ProfileLevelID == "" && c.kind == avcodec.Encoder && len(c.caps.ProfileLevelIDs) > 0 {
		f.ProfileLevelID = c.caps.ProfileLevelIDs[0]
	}
	if f.ProfileLevelID != "" && (c.provider.refused(f.ProfileLevelID) || !c.caps.SupportsProfile(f.ProfileLevelID)) {
		return errors.Wrapf(avcodec.ErrNotSupported, "profile-level-id %s", f.ProfileLevelID)
	}

	if c.kind == avcodec.Encoder {
		if f.Bitrate > 0 {
			f.Bitrate = c.caps.BitrateRange.Clamp(f.Bitrate)
		}
		if f.FrameRate <= 0 {
			f.FrameRate = 30
		}
		c.input = rawLayout(f)
		if f.PixelFormat != avcodec.PixelFormatSurface {
			c.input.MaxInputSize = f.PixelFormat.FrameSize(c.input.Stride, c.input.SliceHeight)
		}
		c.output = avcodec.Format{Width: f.Width, Height: f.Height, ProfileLevelID: f.ProfileLevelID}
	} else {
		c.input = avcodec.Format{Width: f.Width, Height: f.Height, MaxInputSize: f.MaxInputSize}
		if c.input.MaxInputSize <= 0 {
			// I_PCM costs 384 bytes per macroblock.
			c.input.MaxInputSize = 2*align16(f.Width)*align16(f.Height) + 4096
		}
		c.output = rawLayout(f)
	}
	c.format = f
	c.state = stateConfigured
	log.Debug("%s %s configured: %dx%d %v", c.caps.Name, c.kind, f.Width, f.Height, f.PixelFormat)
	return nil
}

func (c *Codec) SetCallback(cb avcodec.Callback) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state > statePrepared {
		return errors.Wrapf(avcodec.ErrInvalidState, "set callback in state %v", c.state)
	}
	c.cb = cb
	return nil
}

func (c *Codec) CreateInputSurface() (native.Window, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.kind != avcodec.Encoder || c.format.PixelFormat != avcodec.PixelFormatSurface {
		return nil, errors.Wrap(avcodec.ErrNotSupported, "input surface")
	}
	if c.state != stateConfigured || c.surface != nil {
		return nil, errors.Wrapf(avcodec.ErrInvalidState, "create input surface in state %v", c.state)
	}
	c.surface = native.NewBufferQueue(c.format.Width, c.format.Height, 4, native.FormatRGBA8888)
	c.surface.SetOnBufferAvailable(func() {
		select {
		case c.surfaceReady <- struct{}{}:
		default:
		}
	})
	return c.surface, nil
}

func (c *Codec) SetOutputSurface(win native.Window) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.kind != avcodec.Decoder || c.format.PixelFormat != avcodec.PixelFormatSurface {
		return errors.Wrap(avcodec.ErrNotSupported, "output surface")
	}
	if c.state == stateInitial || c.state == stateReleased {
		return errors.Wrapf(avcodec.ErrInvalidState, "set output surface in state %v", c.state)
	}
	if win != nil && win.Format() != native.FormatRGBA8888 {
		return errors.Wrapf(avcodec.ErrNotSupported, "output surface format %v", win.Format())
	}
	c.outSurface = win
	return nil
}

func (c *Codec) Prepare() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != stateConfigured {
		return errors.Wrapf(avcodec.ErrInvalidState, "prepare in state %v", c.state)
	}
	if c.cb == nil {
		return errors.Wrap(avcodec.ErrInvalidState, "prepare without callback")
	}
	if c.kind == avcodec.Encoder && c.format.PixelFormat == avcodec.PixelFormatSurface && c.surface == nil {
		return errors.Wrap(avcodec.ErrInvalidState, "prepare without input surface")
	}
	if c.input.MaxInputSize > 0 {
		c.inputs = make([]*inputBuffer, c.provider.opts.InputBuffers)
		for i := range c.inputs {
			c.inputs[i] = &inputBuffer{buf: media.NewSharedBuffer(make([]byte, c.input.MaxInputSize), nil)}
		}
	}
	c.state = statePrepared
	return nil
}

func (c *Codec) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != statePrepared {
		return errors.Wrapf(avcodec.ErrInvalidState, "start in state %v", c.state)
	}
	if c.kind == avcodec.Encoder {
		enc, err := h264.NewEncoder(c.format.Width, c.format.Height)
		if err != nil {
			return errors.Wrap(err, "start encoder")
		}
		c.enc = enc
		c.codecDataSent = false
		c.sinceKey = 0
	} else {
		c.dec = h264.NewDecoder()
	}
	c.startLocked()
	return nil
}

func (c *Codec) startLocked() {
	c.pushed = make(chan pushedInput, len(c.inputs))
	c.events = make(chan func(), 16)
	c.quit = make(chan struct{})
	c.done = make(chan struct{})
	c.state = stateRunning
	go c.run(c.quit, c.done)
}

// stopWorker stops the worker and reclaims every lent buffer. It reports
// false if the codec was not running.
func (c *Codec) stopWorker() bool {
	c.mu.Lock()
	if c.state != stateRunning && c.state != stateError {
		c.mu.Unlock()
		return false
	}
	quit, done := c.quit, c.done
	c.state = statePrepared
	c.mu.Unlock()

	close(quit)
	<-done

	c.mu.Lock()
	for _, in := range c.inputs {
		in.lent = false
	}
	c.outputs = map[uint32]*pendingOutput{}
	c.held = nil
	if c.surface != nil {
		for b := c.surface.Acquire(); b != nil; b = c.surface.Acquire() {
			c.surface.Release(b)
		}
	}
	c.mu.Unlock()
	return true
}

func (c *Codec) Stop() error {
	if c.stopWorker() {
		log.Debug("%s %s stopped", c.caps.Name, c.kind)
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == statePrepared {
		return nil
	}
	return errors.Wrapf(avcodec.ErrInvalidState, "stop in state %v", c.state)
}

// Flush discards queued work and lends every input buffer again.
func (c *Codec) Flush() error {
	c.mu.Lock()
	running := c.state == stateRunning
	c.mu.Unlock()
	if !running || !c.stopWorker() {
		return errors.Wrap(avcodec.ErrInvalidState, "flush")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.startLocked()
	return nil
}

func (c *Codec) Release() error {
	c.stopWorker()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == stateReleased {
		return nil
	}
	c.state = stateReleased
	if c.surface != nil {
		c.surface.Close()
	}
	c.outSurface = nil
	c.cb = nil
	log.Debug("%s %s released", c.caps.Name, c.kind)
	return nil
}

func (c *Codec) PushInputData(index uint32, attr avcodec.BufferAttr) error {
	c.mu.Lock()
	if c.state != stateRunning {
		c.mu.Unlock()
		return errors.Wrapf(avcodec.ErrInvalidState, "push input in state %v", c.state)
	}
	if int(index) >= len(c.inputs) || !c.inputs[index].lent {
		c.mu.Unlock()
		return errors.Wrapf(avcodec.ErrInvalidIndex, "input %d", index)
	}
	if attr.Offset < 0 || attr.Size < 0 || attr.Offset+attr.Size > c.inputs[index].buf.Cap() {
		c.mu.Unlock()
		return errors.Errorf("input %d: range [%d, %d) exceeds %d bytes",
			index, attr.Offset, attr.Offset+attr.Size, c.inputs[index].buf.Cap())
	}
	c.inputs[index].lent = false
	pushed, quit := c.pushed, c.quit
	c.mu.Unlock()

	select {
	case pushed <- pushedInput{index, attr}:
		return nil
	case <-quit:
		return errors.Wrap(avcodec.ErrInvalidState, "codec stopped")
	}
}

func (c *Codec) FreeOutputData(index uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.outputs[index]; !ok {
		return errors.Wrapf(avcodec.ErrInvalidIndex, "output %d", index)
	}
	delete(c.outputs, index)
	return nil
}

func (c *Codec) RenderOutputData(index uint32) error {
	c.mu.Lock()
	out, ok := c.outputs[index]
	delete(c.outputs, index)
	win := c.outSurface
	c.mu.Unlock()
	if !ok {
		return errors.Wrapf(avcodec.ErrInvalidIndex, "output %d", index)
	}
	if out.pic == nil || win == nil {
		return errors.Wrap(avcodec.ErrNotSupported, "render without output surface")
	}
	return renderPicture(win, out.pic, out.attr.PTS)
}

func (c *Codec) SetParameter(p avcodec.Parameters) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.kind != avcodec.Encoder {
		return errors.Wrap(avcodec.ErrNotSupported, "decoder parameters")
	}
	if c.state < stateConfigured || c.state > stateRunning {
		return errors.Wrapf(avcodec.ErrInvalidState, "set parameter in state %v", c.state)
	}
	if p.Bitrate != 0 && !c.caps.BitrateRange.Contains(p.Bitrate) {
		return errors.Wrapf(avcodec.ErrNotSupported, "bitrate %d outside [%d, %d]",
			p.Bitrate, c.caps.BitrateRange.Min, c.caps.BitrateRange.Max)
	}
	if p.FrameRate != 0 && (p.FrameRate < 0 || p.FrameRate > float64(c.caps.FramerateRange.Max)) {
		return errors.Wrapf(avcodec.ErrNotSupported, "frame rate %g", p.FrameRate)
	}
	c.applied = append(c.applied, p)
	if p.Bitrate > 0 {
		c.format.Bitrate = p.Bitrate
	}
	if p.FrameRate > 0 {
		c.format.FrameRate = p.FrameRate
	}
	if p.RequestIFrame {
		c.requestIFrame = true
	}
	return nil
}

// NotifyEndOfStream ends surface input: frames already queued are
// encoded, then an EOS output is emitted.
func (c *Codec) NotifyEndOfStream() error {
	c.mu.Lock()
	surface := c.surface != nil
	c.mu.Unlock()
	if !surface {
		return errors.Wrap(avcodec.ErrNotSupported, "end of stream without input surface")
	}
	if !c.post(func() {
		c.drainSurface()
		c.emit(nil, avcodec.BufferAttr{Flags: avcodec.FlagEOS}, nil)
	}) {
		return errors.Wrap(avcodec.ErrInvalidState, "end of stream")
	}
	return nil
}

func (c *Codec) InputDescription() (avcodec.Format, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == stateInitial || c.state == stateReleased {
		return avcodec.Format{}, errors.Wrapf(avcodec.ErrInvalidState, "input description in state %v", c.state)
	}
	return c.input, nil
}

func (c *Codec) OutputDescription() (avcodec.Format, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == stateInitial || c.state == stateReleased {
		return avcodec.Format{}, errors.Wrapf(avcodec.ErrInvalidState, "output description in state %v", c.state)
	}
	return c.output, nil
}

// post runs fn on the worker. It reports false if the codec is not
// running.
func (c *Codec) post(fn func()) bool {
	c.mu.Lock()
	if c.state != stateRunning {
		c.mu.Unlock()
		return false
	}
	events, quit := c.events, c.quit
	c.mu.Unlock()
	select {
	case events <- fn:
		return true
	case <-quit:
		return false
	}
}

func (c *Codec) run(quit <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	for i := range c.inputs {
		c.announce(uint32(i))
	}
	for {
		select {
		case <-quit:
			return
		case in := <-c.pushed:
			c.process(in)
		case <-c.surfaceReady:
			c.drainSurface()
		case fn := <-c.events:
			fn()
		}
	}
}

// announce lends input buffer index to the client, or holds it back while
// the codec is starved.
func (c *Codec) announce(index uint32) {
	c.mu.Lock()
	if c.state != stateRunning {
		c.mu.Unlock()
		return
	}
	if c.starved {
		c.held = append(c.held, index)
		c.mu.Unlock()
		return
	}
	in := c.inputs[index]
	in.lent = true
	in.buf.SetLen(in.buf.Cap())
	cb := c.cb
	c.mu.Unlock()
	cb.OnNeedInputData(index, in.buf)
}

func (c *Codec) process(in pushedInput) {
	c.mu.Lock()
	running := c.state == stateRunning
	buf := c.inputs[in.index].buf
	c.mu.Unlock()

	if running {
		data := buf.Bytes()[:buf.Cap()][in.attr.Offset : in.attr.Offset+in.attr.Size]
		if c.kind == avcodec.Encoder {
			c.encodeInput(data, in.attr)
		} else {
			c.decodeInput(data, in.attr)
		}
		if in.attr.Flags&avcodec.FlagEOS != 0 {
			c.emit(nil, avcodec.BufferAttr{PTS: in.attr.PTS, Flags: avcodec.FlagEOS}, nil)
		}
	}
	c.announce(in.index)
}

// emit hands an output to the client.
func (c *Codec) emit(data []byte, attr avcodec.BufferAttr, pic *h264.Picture) {
	attr.Size = len(data)
	c.mu.Lock()
	if c.state != stateRunning {
		c.mu.Unlock()
		return
	}
	index := c.nextOutput
	c.nextOutput++
	c.outputs[index] = &pendingOutput{attr: attr, pic: pic}
	c.emitted++
	if attr.Flags&avcodec.FlagCodecData != 0 {
		c.codecData++
	}
	cb := c.cb
	c.mu.Unlock()

	var buf *media.SharedBuffer
	if data != nil {
		buf = media.NewSharedBuffer(data, nil)
	}
	log.Trace(4, "%s output %d: pts %d, %d bytes, %v", c.kind, index, attr.PTS, attr.Size, attr.Flags)
	cb.OnNewOutputData(index, buf, attr)
}

// fail moves the codec to the error state and reports err.
func (c *Codec) fail(err error) {
	c.mu.Lock()
	if c.state != stateRunning {
		c.mu.Unlock()
		return
	}
	c.state = stateError
	cb := c.cb
	c.mu.Unlock()
	log.Warn("%s %s failed: %v", c.caps.Name, c.kind, err)
	cb.OnError(err)
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

// Test hooks.

// InjectError makes the codec report err as an asynchronous failure.
func (c *Codec) InjectError(err error) bool {
	return c.post(func() { c.fail(err) })
}

// Starve stops lending input buffers until called with false.
func (c *Codec) Starve(on bool) {
	c.mu.Lock()
	c.starved = on
	held := c.held
	if !on {
		c.held = nil
	}
	c.mu.Unlock()
	if !on && len(held) > 0 {
		c.post(func() {
			for _, index := range held {
				c.announce(index)
			}
		})
	}
}

// AppliedParameters returns every accepted SetParameter call.
func (c *Codec) AppliedParameters() []avcodec.Parameters {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]avcodec.Parameters(nil), c.applied...)
}

func (c *Codec) Format() avcodec.Format {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.format
}

func (c *Codec) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == stateRunning
}

func (c *Codec) Released() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == stateReleased
}

// PendingOutputs counts outputs the client has not freed or rendered.
func (c *Codec) PendingOutputs() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.outputs)
}

// CodecDataCount counts emitted codec-config outputs.
func (c *Codec) CodecDataCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.codecData
}
