package alohavideo

import (
	"fmt"
	"sync"

	"github.com/lanikai/alohavideo/internal/native"
	"github.com/lanikai/alohavideo/internal/render"
	"github.com/pkg/errors"
)

type RenderStats = render.Stats

// Renderer draws a video track into a registered window surface. Settings
// may be changed before or after Init.
type Renderer struct {
	mu       sync.Mutex
	r        *render.WindowRenderer
	track    *VideoTrack
	mode     ScalingMode
	mirrorH  bool
	mirrorV  bool
	released bool
}

func NewRenderer() *Renderer {
	cfg := CurrentConfig()
	return &Renderer{
		mode:    cfg.Renderer.ScalingMode,
		mirrorH: cfg.Renderer.MirrorHorizontally,
		mirrorV: cfg.Renderer.MirrorVertically,
	}
}

// Init binds the renderer to the window registered as surfaceID. The
// renderer's context shares with shared, or with the default shared
// context when it is nil.
func (h *Renderer) Init(surfaceID uint64, shared *SharedContext) error {
	win, ok := native.LookupWindow(surfaceID)
	if !ok {
		return errors.Wrapf(errNoSurface, "renderer: surface %d", surfaceID)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		return errors.Wrap(errReleased, "renderer")
	}
	if h.r != nil {
		return errors.Errorf("renderer: already bound to a surface")
	}
	r, err := render.NewWindowRenderer(fmt.Sprintf("renderer-%d", surfaceID), win, render.Options{
		SharedContext:      shared,
		ScalingMode:        h.mode,
		MirrorHorizontally: h.mirrorH,
		MirrorVertically:   h.mirrorV,
	})
	if err != nil {
		return err
	}
	h.r = r
	if h.track != nil {
		h.track.AddOrUpdateSink(r, SinkWants{})
	}
	return nil
}

// SetVideoTrack detaches the current track and attaches track. A nil
// track leaves the renderer idle.
func (h *Renderer) SetVideoTrack(track *VideoTrack) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released || h.track == track {
		return
	}
	if h.track != nil && h.r != nil {
		h.track.RemoveSink(h.r)
	}
	h.track = track
	if track != nil && h.r != nil {
		track.AddOrUpdateSink(h.r, SinkWants{})
	}
}

func (h *Renderer) SetMirrorHorizontally(mirror bool) {
	h.mu.Lock()
	h.mirrorH = mirror
	h.applyMirrorLocked()
	h.mu.Unlock()
}

func (h *Renderer) SetMirrorVertically(mirror bool) {
	h.mu.Lock()
	h.mirrorV = mirror
	h.applyMirrorLocked()
	h.mu.Unlock()
}

func (h *Renderer) applyMirrorLocked() {
	if h.r != nil {
		h.r.SetMirror(h.mirrorH, h.mirrorV)
	}
}

func (h *Renderer) SetScalingMode(mode ScalingMode) {
	h.mu.Lock()
	h.mode = mode
	if h.r != nil {
		h.r.SetScalingMode(mode)
	}
	h.mu.Unlock()
}

// Stats is zero until Init.
func (h *Renderer) Stats() RenderStats {
	h.mu.Lock()
	r := h.r
	h.mu.Unlock()
	if r == nil {
		return RenderStats{}
	}
	return r.Stats()
}

// Release detaches the track and frees the renderer's GL resources. It is
// idempotent.
func (h *Renderer) Release() {
	h.mu.Lock()
	if h.released {
		h.mu.Unlock()
		return
	}
	h.released = true
	r, track := h.r, h.track
	h.r, h.track = nil, nil
	h.mu.Unlock()

	if r == nil {
		return
	}
	if track != nil {
		track.RemoveSink(r)
	}
	r.Release()
}
