package hwcodec

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/lanikai/alohavideo/internal/gles"
	"github.com/lanikai/alohavideo/internal/gpu"
	"github.com/lanikai/alohavideo/internal/media"
	"github.com/lanikai/alohavideo/internal/native"
	"github.com/pkg/errors"
)

const updateRetryDelay = time.Millisecond

// VideoFrameReceiver owns an external texture and the window a decoder
// renders into. Every image latched into the texture is handed to the
// listener as a texture buffer, on the receiver's GL thread.
type VideoFrameReceiver struct {
	name   string
	thread *gles.Thread
	env    *gles.Env
	image  *gles.NativeImage
	data   *gpu.TextureData

	mu       sync.Mutex
	listener func(buf *gpu.TextureBuffer, timestampNs int64)
	done     func()
	released bool

	updatePending atomic.Bool
}

// NewVideoFrameReceiver creates the receiver's GL thread and texture. The
// context shares with shared, or with the default environment when shared
// is nil.
func NewVideoFrameReceiver(name string, shared *gles.Env, width, height int) (*VideoFrameReceiver, error) {
	r := &VideoFrameReceiver{name: name}
	t := gles.NewThread(name)
	err := t.Invoke(func() error {
		env, err := newGLEnv(shared, gles.ConfigPixelBuffer)
		if err != nil {
			return err
		}
		if err := env.CreatePbufferSurface(1, 1); err != nil {
			env.Release()
			return err
		}
		if err := env.MakeCurrent(); err != nil {
			env.Release()
			return err
		}
		gl := env.GL()
		tex := gl.GenTexture()
		gl.BindTexture(gles.TEXTURE_EXTERNAL_OES, tex)
		gl.TexParameteri(gles.TEXTURE_EXTERNAL_OES, gles.TEXTURE_MIN_FILTER, gles.LINEAR)
		gl.TexParameteri(gles.TEXTURE_EXTERNAL_OES, gles.TEXTURE_MAG_FILTER, gles.LINEAR)
		gl.TexParameteri(gles.TEXTURE_EXTERNAL_OES, gles.TEXTURE_WRAP_S, gles.CLAMP_TO_EDGE)
		gl.TexParameteri(gles.TEXTURE_EXTERNAL_OES, gles.TEXTURE_WRAP_T, gles.CLAMP_TO_EDGE)
		gl.BindTexture(gles.TEXTURE_EXTERNAL_OES, 0)
		if err := gles.CheckError(gl, "create receiver texture"); err != nil {
			gl.DeleteTexture(tex)
			env.Release()
			return err
		}
		r.env = env
		r.image = gles.NewNativeImage(gl, tex, width, height)
		r.data = gpu.NewTextureData(t, gl, gpu.TextureOES, tex)
		return nil
	})
	if err != nil {
		t.Stop()
		return nil, errors.Wrapf(err, "%s: frame receiver", name)
	}
	r.thread = t
	r.image.SetOnFrameAvailable(r.frameAvailable)
	return r, nil
}

// Window is where the producer renders.
func (r *VideoFrameReceiver) Window() native.Window { return r.image.Window() }

// Data is the texture the listener's buffers refer to.
func (r *VideoFrameReceiver) Data() *gpu.TextureData { return r.data }

// SetListener registers fn for latched images. timestampNs is the
// timestamp the producer attached to the image. done runs once the
// receiver is finished with a rendered image: after the last reference to
// the buffers passed to fn is released, or right away when latching failed.
// The producer must not render again before then.
func (r *VideoFrameReceiver) SetListener(fn func(buf *gpu.TextureBuffer, timestampNs int64), done func()) {
	r.mu.Lock()
	r.listener, r.done = fn, done
	r.mu.Unlock()
}

func (r *VideoFrameReceiver) imageDone() {
	r.mu.Lock()
	done := r.done
	r.mu.Unlock()
	if done != nil {
		done()
	}
}

func (r *VideoFrameReceiver) frameAvailable() {
	if r.updatePending.Swap(true) {
		return
	}
	r.postUpdate()
}

func (r *VideoFrameReceiver) postUpdate() {
	if !r.thread.Post(r.update) {
		r.updatePending.Store(false)
	}
}

func (r *VideoFrameReceiver) update() {
	if !r.data.TryLock() {
		time.AfterFunc(updateRetryDelay, r.postUpdate)
		return
	}
	r.updatePending.Store(false)
	ok, err := r.image.UpdateSurfaceImage()
	r.data.Unlock()
	if err != nil || !ok {
		if err != nil && !r.isReleased() {
			log.Warn("%s: update surface image: %v", r.name, err)
		}
		r.imageDone()
		return
	}

	w, h := r.image.Size()
	buf := r.data.NewFrameBuffer(w, h, media.MatrixFromGL(r.image.TransformMatrix()), r.imageDone)
	r.mu.Lock()
	fn := r.listener
	if r.released {
		fn = nil
	}
	r.mu.Unlock()
	if fn != nil {
		fn(buf, r.image.Timestamp())
	}
	buf.Release()
}

func (r *VideoFrameReceiver) isReleased() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.released
}

// Release detaches the producer and deletes the texture. Outstanding
// buffers report ToI420 failure afterwards.
func (r *VideoFrameReceiver) Release() {
	r.mu.Lock()
	if r.released {
		r.mu.Unlock()
		return
	}
	r.released = true
	r.listener, r.done = nil, nil
	r.mu.Unlock()

	r.image.Release()
	r.data.Release()
	r.thread.Invoke(func() error {
		r.env.Release()
		return nil
	})
	r.thread.Stop()
}
