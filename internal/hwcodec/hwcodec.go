//////////////////////////////////////////////////////////////////////////////
//
// Hardware video codecs
//
// Encoder and Decoder adapt a platform codec (internal/avcodec) to the
// encoder and decoder contracts of the RTC stack. Input buffers lent by the
// codec are queued until Encode or Decode claims one; outputs are matched
// back to their inputs by presentation timestamp.
//
// Copyright 2019 Lanikai Labs LLC. All rights reserved.
//
//////////////////////////////////////////////////////////////////////////////

package hwcodec

import (
	"fmt"
	"time"

	"github.com/lanikai/alohavideo/internal/avcodec"
	"github.com/lanikai/alohavideo/internal/gles"
	"github.com/lanikai/alohavideo/internal/logging"
	"github.com/pkg/errors"
)

var log = logging.DefaultLogger.WithTag("hwcodec")

// DefaultDequeueTimeout bounds the wait for a codec input buffer.
const DefaultDequeueTimeout = 10 * time.Millisecond

var (
	ErrTimeout = errors.New("timed out waiting for codec input buffer")
	errStopped = errors.New("codec stopped")
)

type State int

const (
	StateIdle State = iota
	StateConfigured
	StateRunning
	StateStopped
	StateReleased
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateConfigured:
		return "CONFIGURED"
	case StateRunning:
		return "RUNNING"
	case StateStopped:
		return "STOPPED"
	case StateReleased:
		return "RELEASED"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

type Options struct {
	// Platform codec provider. Defaults to the registered provider named
	// ProviderName.
	Provider     avcodec.Provider
	ProviderName string

	// Parent of the codec's GL context. Defaults to the process-wide
	// default environment.
	SharedContext *gles.Env

	// Raw pixel format for byte-buffer input or output. PixelFormatSurface
	// selects surface input (encoder) or texture output (decoder).
	PixelFormat avcodec.PixelFormat

	// Encoder profile-level-id, e.g. "42e01f".
	ProfileLevelID string

	KeyFrameIntervalMs int

	// Wait for a codec input buffer before failing the call.
	DequeueTimeout time.Duration

	// Wait for the previous texture frame to be released before dropping
	// a decoded frame.
	RenderTimeout time.Duration
}

func (o *Options) setDefaults() error {
	if o.Provider == nil {
		name := o.ProviderName
		if name == "" {
			name = "emulator"
		}
		p, err := avcodec.OpenProvider(name)
		if err != nil {
			return err
		}
		o.Provider = p
	}
	if o.DequeueTimeout <= 0 {
		o.DequeueTimeout = DefaultDequeueTimeout
	}
	if o.RenderTimeout <= 0 {
		o.RenderTimeout = DefaultRenderTimeout
	}
	return nil
}

// newGLEnv creates a context sharing with shared, or with the default
// environment when shared is nil.
func newGLEnv(shared *gles.Env, config gles.Config) (*gles.Env, error) {
	if shared == nil {
		return gles.NewSharedEnv(config)
	}
	return gles.NewEnv(shared.Platform(), shared, config)
}

// pickPixelFormat returns want if the codec supports it, else the first
// raw format it does.
func pickPixelFormat(caps *avcodec.Capabilities, want avcodec.PixelFormat) (avcodec.PixelFormat, error) {
	if want != avcodec.PixelFormatNone && caps.SupportsPixelFormat(want) {
		return want, nil
	}
	for _, f := range []avcodec.PixelFormat{
		avcodec.PixelFormatI420,
		avcodec.PixelFormatNV12,
		avcodec.PixelFormatNV21,
		avcodec.PixelFormatRGBA,
	} {
		if caps.SupportsPixelFormat(f) {
			return f, nil
		}
	}
	return avcodec.PixelFormatNone, errors.Wrapf(avcodec.ErrNotSupported, "%s: no raw pixel format", caps.Name)
}
