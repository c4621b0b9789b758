package emulator

import (
	"testing"
	"time"

	"github.com/lanikai/alohavideo/internal/avcodec"
	"github.com/lanikai/alohavideo/internal/color"
	"github.com/lanikai/alohavideo/internal/media"
	"github.com/lanikai/alohavideo/internal/media/h264"
	"github.com/lanikai/alohavideo/internal/native"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type lent struct {
	index uint32
	buf   *media.SharedBuffer
}

type output struct {
	index uint32
	data  []byte
	attr  avcodec.BufferAttr
}

// recorder forwards codec callbacks to channels.
type recorder struct {
	inputs  chan lent
	outputs chan output
	errs    chan error
	changes chan avcodec.Format
}

func newRecorder() *recorder {
	return &recorder{
		inputs:  make(chan lent, 16),
		outputs: make(chan output, 64),
		errs:    make(chan error, 4),
		changes: make(chan avcodec.Format, 4),
	}
}

func (r *recorder) OnError(err error)                     { r.errs <- err }
func (r *recorder) OnStreamChanged(format avcodec.Format) { r.changes <- format }

func (r *recorder) OnNeedInputData(index uint32, buf *media.SharedBuffer) {
	r.inputs <- lent{index, buf}
}

func (r *recorder) OnNewOutputData(index uint32, buf *media.SharedBuffer, attr avcodec.BufferAttr) {
	o := output{index: index, attr: attr}
	if buf != nil {
		o.data = append([]byte(nil), buf.Bytes()[attr.Offset:attr.Offset+attr.Size]...)
	}
	r.outputs <- o
}

func (r *recorder) input(t *testing.T) lent {
	t.Helper()
	select {
	case in := <-r.inputs:
		return in
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for input buffer")
		return lent{}
	}
}

func (r *recorder) output(t *testing.T) output {
	t.Helper()
	select {
	case o := <-r.outputs:
		return o
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for output")
		return output{}
	}
}

func testPattern(w, h, seed int) *color.Planar {
	p := color.NewPlanar(w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			p.Y[y*p.StrideY+x] = byte(16 + (x*7+y*3+seed*11)%200)
		}
	}
	for i := range p.U {
		p.U[i] = byte(100 + seed)
		p.V[i] = byte(150 - seed)
	}
	return p
}

func startCodec(t *testing.T, p *Provider, kind avcodec.Kind, f avcodec.Format) (*Codec, *recorder) {
	t.Helper()
	c, err := p.Create(avcodec.MimeH264, kind)
	require.NoError(t, err)
	rec := newRecorder()
	require.NoError(t, c.Configure(f))
	require.NoError(t, c.SetCallback(rec))
	require.NoError(t, c.Prepare())
	require.NoError(t, c.Start())
	t.Cleanup(func() { c.Release() })
	return c.(*Codec), rec
}

func pushFrame(t *testing.T, c *Codec, rec *recorder, src *color.Planar, pts int64) {
	t.Helper()
	in := rec.input(t)
	layout, err := c.InputDescription()
	require.NoError(t, err)
	require.NoError(t, avcodec.WriteFrame(in.buf.Bytes(), layout, src))
	size := layout.PixelFormat.FrameSize(layout.Stride, layout.SliceHeight)
	require.NoError(t, c.PushInputData(in.index, avcodec.BufferAttr{PTS: pts, Size: size}))
}

func TestEncoderByteInput(t *testing.T) {
	p := New(Options{})
	c, rec := startCodec(t, p, avcodec.Encoder, avcodec.Format{
		Width: 32, Height: 32, PixelFormat: avcodec.PixelFormatNV12, Bitrate: 500_000,
	})
	assert.Equal(t, "42e01f", c.Format().ProfileLevelID)
	assert.Equal(t, 30.0, c.Format().FrameRate)

	src := testPattern(32, 32, 1)
	pushFrame(t, c, rec, src, 1000)

	config := rec.output(t)
	assert.Equal(t, avcodec.FlagCodecData, config.attr.Flags)
	assert.Equal(t, int64(1000), config.attr.PTS)
	first := rec.output(t)
	assert.Equal(t, avcodec.FlagSyncFrame, first.attr.Flags)
	require.NoError(t, c.FreeOutputData(config.index))
	require.NoError(t, c.FreeOutputData(first.index))
	assert.Equal(t, 0, c.PendingOutputs())

	dec := h264.NewDecoder()
	pic, err := dec.Decode(append(config.data, first.data...))
	require.NoError(t, err)
	require.NotNil(t, pic)
	assert.Equal(t, src.Y[5*src.StrideY+9], pic.Y[5*pic.StrideY+9])
	assert.Equal(t, src.U[0], pic.Cb[0])

	pushFrame(t, c, rec, testPattern(32, 32, 2), 2000)
	second := rec.output(t)
	assert.Equal(t, avcodec.Flags(0), second.attr.Flags)
	assert.Equal(t, int64(2000), second.attr.PTS)

	require.NoError(t, c.SetParameter(avcodec.Parameters{RequestIFrame: true}))
	pushFrame(t, c, rec, testPattern(32, 32, 3), 3000)
	third := rec.output(t)
	assert.Equal(t, avcodec.FlagSyncFrame, third.attr.Flags)
	assert.Equal(t, 1, c.CodecDataCount())
	assert.Error(t, c.FreeOutputData(first.index))
}

func TestEncoderKeyFrameInterval(t *testing.T) {
	p := New(Options{})
	c, rec := startCodec(t, p, avcodec.Encoder, avcodec.Format{
		Width: 16, Height: 16, PixelFormat: avcodec.PixelFormatI420,
		FrameRate: 30, KeyFrameIntervalMs: 100,
	})
	var sync []int
	for i := 0; i < 7; i++ {
		pushFrame(t, c, rec, testPattern(16, 16, i), int64(i))
		o := rec.output(t)
		if o.attr.Flags&avcodec.FlagCodecData != 0 {
			o = rec.output(t)
		}
		if o.attr.Flags&avcodec.FlagSyncFrame != 0 {
			sync = append(sync, i)
		}
	}
	assert.Equal(t, []int{0, 3, 6}, sync)
}

func TestEncoderSurfaceInput(t *testing.T) {
	p := New(Options{})
	ci, err := p.Create(avcodec.MimeH264, avcodec.Encoder)
	require.NoError(t, err)
	c := ci.(*Codec)
	defer c.Release()
	rec := newRecorder()

	require.NoError(t, c.Configure(avcodec.Format{Width: 32, Height: 16, PixelFormat: avcodec.PixelFormatSurface}))
	require.NoError(t, c.SetCallback(rec))
	assert.True(t, errors.Is(c.Prepare(), avcodec.ErrInvalidState))
	win, err := c.CreateInputSurface()
	require.NoError(t, err)
	require.NoError(t, c.Prepare())
	require.NoError(t, c.Start())

	b, err := win.RequestBuffer()
	require.NoError(t, err)
	native.Fill(b, 4)
	b.TimestampNs = 5_000_000
	require.NoError(t, win.FlushBuffer(b))

	config := rec.output(t)
	assert.Equal(t, avcodec.FlagCodecData, config.attr.Flags)
	frame := rec.output(t)
	assert.Equal(t, int64(5000), frame.attr.PTS)
	assert.Equal(t, avcodec.FlagSyncFrame, frame.attr.Flags)

	require.NoError(t, c.NotifyEndOfStream())
	eos := rec.output(t)
	assert.Equal(t, avcodec.FlagEOS, eos.attr.Flags)
	assert.Len(t, rec.inputs, 0)
}

func TestSetParameterRange(t *testing.T) {
	p := New(Options{BitrateRange: avcodec.Range{Min: 200_000, Max: 1_000_000}})
	c, _ := startCodec(t, p, avcodec.Encoder, avcodec.Format{
		Width: 16, Height: 16, PixelFormat: avcodec.PixelFormatI420, Bitrate: 5_000_000,
	})
	assert.Equal(t, 1_000_000, c.Format().Bitrate)

	err := c.SetParameter(avcodec.Parameters{Bitrate: 50_000})
	assert.True(t, errors.Is(err, avcodec.ErrNotSupported))
	err = c.SetParameter(avcodec.Parameters{FrameRate: 120})
	assert.True(t, errors.Is(err, avcodec.ErrNotSupported))

	require.NoError(t, c.SetParameter(avcodec.Parameters{Bitrate: 300_000, FrameRate: 15}))
	assert.Equal(t, []avcodec.Parameters{{Bitrate: 300_000, FrameRate: 15}}, c.AppliedParameters())
	assert.Equal(t, 15.0, c.Format().FrameRate)
}

func TestInjectedError(t *testing.T) {
	p := New(Options{})
	c, rec := startCodec(t, p, avcodec.Encoder, avcodec.Format{
		Width: 16, Height: 16, PixelFormat: avcodec.PixelFormatI420,
	})
	in := rec.input(t)
	boom := errors.New("boom")
	require.True(t, c.InjectError(boom))
	select {
	case err := <-rec.errs:
		assert.Equal(t, boom, err)
	case <-time.After(5 * time.Second):
		t.Fatal("no error reported")
	}
	assert.False(t, c.Running())
	err := c.PushInputData(in.index, avcodec.BufferAttr{})
	assert.True(t, errors.Is(err, avcodec.ErrInvalidState))
	require.NoError(t, c.Stop())
	require.NoError(t, c.Release())
	assert.True(t, c.Released())
}

func TestStarvation(t *testing.T) {
	p := New(Options{InputBuffers: 2})
	c, err := p.Create(avcodec.MimeH264, avcodec.Encoder)
	require.NoError(t, err)
	defer c.Release()
	rec := newRecorder()
	require.NoError(t, c.Configure(avcodec.Format{Width: 16, Height: 16, PixelFormat: avcodec.PixelFormatI420}))
	require.NoError(t, c.SetCallback(rec))
	require.NoError(t, c.Prepare())

	c.(*Codec).Starve(true)
	require.NoError(t, c.Start())
	select {
	case <-rec.inputs:
		t.Fatal("starved codec lent an input buffer")
	case <-time.After(50 * time.Millisecond):
	}
	c.(*Codec).Starve(false)
	a, b := rec.input(t), rec.input(t)
	assert.ElementsMatch(t, []uint32{0, 1}, []uint32{a.index, b.index})
	assert.True(t, errors.Is(c.PushInputData(7, avcodec.BufferAttr{}), avcodec.ErrInvalidIndex))
}

func TestRefusedProfile(t *testing.T) {
	p := New(Options{Refuse: []string{"42e01f"}})
	caps, err := p.Capabilities(avcodec.MimeH264, avcodec.Encoder)
	require.NoError(t, err)
	assert.Equal(t, []string{"42001f"}, caps.ProfileLevelIDs)

	c, err := p.Create(avcodec.MimeH264, avcodec.Encoder)
	require.NoError(t, err)
	err = c.Configure(avcodec.Format{Width: 16, Height: 16, PixelFormat: avcodec.PixelFormatI420, ProfileLevelID: "42e01f"})
	assert.True(t, errors.Is(err, avcodec.ErrNotSupported))
	assert.NoError(t, c.Configure(avcodec.Format{Width: 16, Height: 16, PixelFormat: avcodec.PixelFormatI420}))
	assert.Equal(t, "42001f", c.(*Codec).Format().ProfileLevelID)

	_, err = p.Capabilities("video/vp8", avcodec.Encoder)
	assert.True(t, errors.Is(err, avcodec.ErrNotSupported))
	assert.Same(t, c, p.Last(avcodec.Encoder))
	assert.Nil(t, p.Last(avcodec.Decoder))
}

func encodeStream(t *testing.T, w, h int, frames int) [][]byte {
	enc, err := h264.NewEncoder(w, h)
	require.NoError(t, err)
	var aus [][]byte
	for i := 0; i < frames; i++ {
		src := testPattern(w, h, i)
		pic := &h264.Picture{
			Width: w, Height: h, Y: src.Y, Cb: src.U, Cr: src.V,
			StrideY: src.StrideY, StrideC: src.StrideU,
		}
		au, _, err := enc.Encode(pic, i == 0)
		require.NoError(t, err)
		aus = append(aus, au)
	}
	return aus
}

func pushAU(t *testing.T, c *Codec, rec *recorder, au []byte, pts int64) {
	t.Helper()
	in := rec.input(t)
	n := copy(in.buf.Bytes(), au)
	require.Equal(t, len(au), n)
	require.NoError(t, c.PushInputData(in.index, avcodec.BufferAttr{PTS: pts, Size: n}))
}

func TestDecoderStreamChange(t *testing.T) {
	p := New(Options{})
	c, rec := startCodec(t, p, avcodec.Decoder, avcodec.Format{
		Width: 16, Height: 16, PixelFormat: avcodec.PixelFormatNV12,
	})
	out, err := c.OutputDescription()
	require.NoError(t, err)
	assert.Equal(t, 16, out.Stride)

	aus := encodeStream(t, 24, 20, 2)
	pushAU(t, c, rec, aus[0], 33)

	select {
	case f := <-rec.changes:
		assert.Equal(t, 24, f.Width)
		assert.Equal(t, 20, f.Height)
		assert.Equal(t, 32, f.Stride)
		assert.Equal(t, 32, f.SliceHeight)
	case <-time.After(5 * time.Second):
		t.Fatal("no stream change")
	}
	o := rec.output(t)
	assert.Equal(t, int64(33), o.attr.PTS)
	assert.Equal(t, avcodec.FlagSyncFrame, o.attr.Flags)

	out, err = c.OutputDescription()
	require.NoError(t, err)
	dst := color.NewPlanar(24, 20)
	require.NoError(t, avcodec.ReadFrame(dst, out, o.data))
	src := testPattern(24, 20, 0)
	assert.Equal(t, src.Y[3*src.StrideY+7], dst.Y[3*dst.StrideY+7])
	assert.Equal(t, src.V[2], dst.V[2])

	pushAU(t, c, rec, aus[1], 66)
	o = rec.output(t)
	assert.Equal(t, avcodec.Flags(0), o.attr.Flags)
	assert.Len(t, rec.changes, 0)
}

func TestDecoderDropsSliceWithoutParameterSets(t *testing.T) {
	p := New(Options{})
	c, rec := startCodec(t, p, avcodec.Decoder, avcodec.Format{
		Width: 16, Height: 16, PixelFormat: avcodec.PixelFormatI420,
	})
	aus := encodeStream(t, 16, 16, 2)
	pushAU(t, c, rec, aus[1], 1)
	pushAU(t, c, rec, aus[0], 2)
	o := rec.output(t)
	assert.Equal(t, int64(2), o.attr.PTS)
	assert.Len(t, rec.errs, 0)
}

func TestDecoderRendersToSurface(t *testing.T) {
	p := New(Options{})
	ci, err := p.Create(avcodec.MimeH264, avcodec.Decoder)
	require.NoError(t, err)
	c := ci.(*Codec)
	defer c.Release()
	rec := newRecorder()
	win := native.NewBufferQueue(1, 1, 2, native.FormatRGBA8888)

	require.NoError(t, c.Configure(avcodec.Format{Width: 16, Height: 16, PixelFormat: avcodec.PixelFormatSurface}))
	require.NoError(t, c.SetCallback(rec))
	require.NoError(t, c.SetOutputSurface(win))
	require.NoError(t, c.Prepare())
	require.NoError(t, c.Start())

	pushAU(t, c, rec, encodeStream(t, 16, 16, 1)[0], 40)
	o := rec.output(t)
	assert.Nil(t, o.data)
	require.NoError(t, c.RenderOutputData(o.index))
	assert.Error(t, c.RenderOutputData(o.index))

	b := win.Acquire()
	require.NotNil(t, b)
	assert.Equal(t, 16, b.Width)
	assert.Equal(t, int64(40_000), b.TimestampNs)
}

func TestLifecycle(t *testing.T) {
	p := New(Options{})
	c, err := p.Create(avcodec.MimeH264, avcodec.Encoder)
	require.NoError(t, err)
	assert.True(t, errors.Is(c.Start(), avcodec.ErrInvalidState))
	assert.True(t, errors.Is(c.Configure(avcodec.Format{Width: 1, Height: 16}), avcodec.ErrNotSupported))

	rec := newRecorder()
	require.NoError(t, c.Configure(avcodec.Format{Width: 16, Height: 16, PixelFormat: avcodec.PixelFormatI420}))
	assert.True(t, errors.Is(c.Prepare(), avcodec.ErrInvalidState))
	require.NoError(t, c.SetCallback(rec))
	require.NoError(t, c.Prepare())
	require.NoError(t, c.Start())
	rec.input(t)
	require.NoError(t, c.Flush())
	require.NoError(t, c.Stop())
	require.NoError(t, c.Stop())
	require.NoError(t, c.Start())
	require.NoError(t, c.Release())
	require.NoError(t, c.Release())
	assert.True(t, errors.Is(c.Start(), avcodec.ErrInvalidState))
}
