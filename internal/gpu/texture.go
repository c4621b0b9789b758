// Package gpu holds texture-backed frame buffers and the GL drawing they
// need: a generic textured-quad drawer, a frame drawer that also uploads
// I420 frames, and a GPU texture-to-I420 converter.
package gpu

import (
	"fmt"
	"sync"
	"sync/atomic"
	"weak"

	"github.com/lanikai/alohavideo/internal/gles"
	"github.com/lanikai/alohavideo/internal/logging"
	"github.com/lanikai/alohavideo/internal/media"
	"github.com/pkg/errors"
)

var log = logging.DefaultLogger.WithTag("gpu")

var ErrReleased = errors.New("texture released")

type TextureType int

const (
	TextureOES TextureType = iota
	TextureRGB
	TextureYUV
)

func (t TextureType) String() string {
	switch t {
	case TextureOES:
		return "OES"
	case TextureRGB:
		return "RGB"
	case TextureYUV:
		return "YUV"
	}
	return fmt.Sprintf("TextureType(%d)", int(t))
}

// Target is the GL texture target for the type.
func (t TextureType) Target() uint32 {
	if t == TextureOES {
		return gles.TEXTURE_EXTERNAL_OES
	}
	return gles.TEXTURE_2D
}

// textureLock is exclusive between threads and re-entrant on a GL Thread.
type textureLock struct {
	sema chan struct{}

	mu     sync.Mutex
	holder *gles.Thread
	depth  int
}

func newTextureLock() *textureLock {
	return &textureLock{sema: make(chan struct{}, 1)}
}

func (l *textureLock) reenter(t *gles.Thread) bool {
	if t == nil {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.holder == t {
		l.depth++
		return true
	}
	return false
}

func (l *textureLock) acquired(t *gles.Thread) {
	l.mu.Lock()
	l.holder, l.depth = t, 1
	l.mu.Unlock()
}

func (l *textureLock) Lock() {
	t := gles.CurrentThread()
	if l.reenter(t) {
		return
	}
	l.sema <- struct{}{}
	l.acquired(t)
}

func (l *textureLock) TryLock() bool {
	t := gles.CurrentThread()
	if l.reenter(t) {
		return true
	}
	select {
	case l.sema <- struct{}{}:
		l.acquired(t)
		return true
	default:
		return false
	}
}

func (l *textureLock) Unlock() {
	l.mu.Lock()
	l.depth--
	if l.depth > 0 {
		l.mu.Unlock()
		return
	}
	l.holder = nil
	l.mu.Unlock()
	<-l.sema
}

// TextureData is the producer-owned side of a texture: the GL names, the
// thread whose context owns them, and the converter used for readback.
// Texture buffers refer to it weakly.
type TextureData struct {
	thread   *gles.Thread
	gl       gles.GL
	typ      TextureType
	textures []uint32

	lock     *textureLock
	released atomic.Bool

	// Owned by thread.
	converter *YuvConverter
}

// NewTextureData wraps textures created by gl, whose context is current on
// thread. YUV data has three textures, the others one.
func NewTextureData(thread *gles.Thread, gl gles.GL, typ TextureType, textures ...uint32) *TextureData {
	want := 1
	if typ == TextureYUV {
		want = 3
	}
	if len(textures) != want {
		panic(fmt.Sprintf("gpu: %v texture data needs %d textures, got %d", typ, want, len(textures)))
	}
	return &TextureData{
		thread:   thread,
		gl:       gl,
		typ:      typ,
		textures: append([]uint32(nil), textures...),
		lock:     newTextureLock(),
	}
}

func (d *TextureData) Type() TextureType    { return d.typ }
func (d *TextureData) Textures() []uint32   { return d.textures }
func (d *TextureData) Thread() *gles.Thread { return d.thread }

// Lock is held while a reader touches the texture and while the owner
// updates its contents.
func (d *TextureData) Lock()   { d.lock.Lock() }
func (d *TextureData) Unlock() { d.lock.Unlock() }

// TryLock lets the owner skip an update instead of blocking its thread
// on a reader.
func (d *TextureData) TryLock() bool { return d.lock.TryLock() }

func (d *TextureData) Released() bool { return d.released.Load() }

// NewBuffer returns a width x height buffer showing the texture through
// transform.
func (d *TextureData) NewBuffer(width, height int, transform media.Matrix) *TextureBuffer {
	return &TextureBuffer{
		width:     width,
		height:    height,
		typ:       d.typ,
		textures:  d.textures,
		transform: transform,
		data:      weak.Make(d),
	}
}

// NewFrameBuffer is NewBuffer for a texture the owner overwrites on its next
// update. The buffer starts with one reference, held by the caller, and
// onFree runs once the last reference to it or to buffers derived from it
// is released.
func (d *TextureData) NewFrameBuffer(width, height int, transform media.Matrix, onFree func()) *TextureBuffer {
	b := d.NewBuffer(width, height, transform)
	b.ref = &frameRef{onFree: onFree}
	b.ref.refs.Store(1)
	return b
}

// InvalidateConverter drops the converter's cached framebuffer, e.g. after
// the producer's stream geometry changed.
func (d *TextureData) InvalidateConverter() {
	d.thread.Post(func() {
		if d.converter != nil {
			d.converter.Invalidate()
		}
	})
}

// toI420 converts on the owner thread. The caller's lock is held across
// the conversion, so the owner cannot update the texture mid-read.
func (d *TextureData) toI420(b *TextureBuffer) (*media.I420Buffer, error) {
	if d.Released() {
		return nil, ErrReleased
	}
	d.Lock()
	defer d.Unlock()
	if d.Released() {
		return nil, ErrReleased
	}

	var out *media.I420Buffer
	err := d.thread.Invoke(func() error {
		if d.converter == nil {
			d.converter = NewYuvConverter(d.gl)
		}
		var err error
		out, err = d.converter.Convert(b)
		return err
	})
	return out, err
}

// Release marks the data gone, waits for in-flight readers, then deletes
// the textures on the owner thread. It must not be called from the owner
// thread while a reader on another thread holds the lock.
func (d *TextureData) Release() {
	if d.released.Swap(true) {
		return
	}
	d.Lock()
	defer d.Unlock()
	err := d.thread.Invoke(func() error {
		if d.converter != nil {
			d.converter.Release()
			d.converter = nil
		}
		for _, t := range d.textures {
			d.gl.DeleteTexture(t)
		}
		return nil
	})
	if err != nil {
		log.Debug("Texture data released after its thread: %v", err)
	}
}

// frameRef counts the references to one latched image.
type frameRef struct {
	refs   atomic.Int32
	onFree func()
}

// TextureBuffer is a frame buffer viewing a producer's texture through a
// transform. It does not keep the texture alive. Buffers made by
// NewFrameBuffer also keep the producer from replacing the image until
// every reference is released.
type TextureBuffer struct {
	width     int
	height    int
	typ       TextureType
	textures  []uint32
	transform media.Matrix
	data      weak.Pointer[TextureData]
	ref       *frameRef
}

func (b *TextureBuffer) Type() media.BufferType        { return media.BufferTypeTexture }
func (b *TextureBuffer) Width() int                    { return b.width }
func (b *TextureBuffer) Height() int                   { return b.height }
func (b *TextureBuffer) TextureType() TextureType      { return b.typ }
func (b *TextureBuffer) TransformMatrix() media.Matrix { return b.transform }

// Retain takes a reference on the image b shows.
func (b *TextureBuffer) Retain() {
	if b.ref != nil {
		b.ref.refs.Add(1)
	}
}

// Release drops a reference. The producer may update the texture once the
// count reaches zero.
func (b *TextureBuffer) Release() {
	if b.ref == nil {
		return
	}
	switch n := b.ref.refs.Add(-1); {
	case n == 0:
		if b.ref.onFree != nil {
			b.ref.onFree()
		}
	case n < 0:
		panic("gpu: texture buffer released too many times")
	}
}

// TextureID returns the texture of an OES or RGB buffer.
func (b *TextureBuffer) TextureID() uint32 { return b.textures[0] }

// YUVTextures returns the Y, U and V textures of a YUV buffer.
func (b *TextureBuffer) YUVTextures() [3]uint32 {
	return [3]uint32{b.textures[0], b.textures[1], b.textures[2]}
}

// Data returns the owner's texture data, or nil once it has been released.
func (b *TextureBuffer) Data() *TextureData {
	d := b.data.Value()
	if d == nil || d.Released() {
		return nil
	}
	return d
}

// Lock locks the underlying texture. It reports false if the owner is gone.
func (b *TextureBuffer) Lock() bool {
	d := b.Data()
	if d == nil {
		return false
	}
	d.Lock()
	if d.Released() {
		d.Unlock()
		return false
	}
	return true
}

func (b *TextureBuffer) Unlock() {
	if d := b.data.Value(); d != nil {
		d.Unlock()
	}
}

// ToI420 reads the texture back through the owner's converter. It returns
// nil if the owner has been released.
func (b *TextureBuffer) ToI420() *media.I420Buffer {
	d := b.Data()
	if d == nil {
		return nil
	}
	out, err := d.toI420(b)
	if err != nil {
		if errors.Cause(err) != ErrReleased && errors.Cause(err) != gles.ErrThreadStopped {
			log.Warn("Texture readback failed: %v", err)
		}
		return nil
	}
	return out
}

// CropAndScale returns b. Crop is applied when the buffer is drawn, by
// composing the transform; see Adapt.
func (b *TextureBuffer) CropAndScale(cropX, cropY, cropWidth, cropHeight, scaledWidth, scaledHeight int) media.FrameBuffer {
	return b
}

// Adapt returns a buffer whose transform selects the crop rectangle and
// whose size is the scaled size.
func (b *TextureBuffer) Adapt(cropX, cropY, cropWidth, cropHeight, scaledWidth, scaledHeight int) media.FrameBuffer {
	c := *b
	c.transform = b.transform.PreConcat(media.CropMatrix(cropX, cropY, cropWidth, cropHeight, b.width, b.height))
	c.width, c.height = scaledWidth, scaledHeight
	return &c
}

// Rotate returns a buffer showing b rotated clockwise by r.
func (b *TextureBuffer) Rotate(r media.Rotation) media.FrameBuffer {
	c := *b
	c.transform = b.transform.PreConcat(media.RotationMatrix(r))
	if r.Transposes() {
		c.width, c.height = b.height, b.width
	}
	return &c
}

// WithTransform returns a copy of b drawn through transform instead.
func (b *TextureBuffer) WithTransform(transform media.Matrix) *TextureBuffer {
	c := *b
	c.transform = transform
	return &c
}
