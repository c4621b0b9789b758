//////////////////////////////////////////////////////////////////////////////
//
// Platform video codec API
//
// A Codec is driven asynchronously, the way device codecs are: the codec
// lends input buffers through Callback.OnNeedInputData, the client fills
// and returns them with PushInputData, and coded (or decoded) data comes
// back through Callback.OnNewOutputData until the client frees it.
//
// Copyright 2019 Lanikai Labs LLC. All rights reserved.
//
//////////////////////////////////////////////////////////////////////////////

package avcodec

import (
	"fmt"
	"strings"

	"github.com/lanikai/alohavideo/internal/logging"
	"github.com/lanikai/alohavideo/internal/media"
	"github.com/lanikai/alohavideo/internal/native"
	"github.com/pkg/errors"
)

var log = logging.DefaultLogger.WithTag("avcodec")

const MimeH264 = "video/avc"

var (
	ErrInvalidState = errors.New("invalid codec state")
	ErrNotSupported = errors.New("not supported by codec")
	ErrInvalidIndex = errors.New("invalid buffer index")
	ErrNoProvider   = errors.New("codec provider not registered")
)

type Kind int

const (
	Encoder Kind = iota
	Decoder
)

func (k Kind) String() string {
	if k == Decoder {
		return "decoder"
	}
	return "encoder"
}

// Flags describe a codec buffer.
type Flags uint32

const (
	FlagSyncFrame Flags = 1 << iota
	FlagCodecData
	FlagEOS
	FlagPartialFrame
)

func (f Flags) String() string {
	s := ""
	for _, n := range []struct {
		flag Flags
		name string
	}{{FlagSyncFrame, "SYNC"}, {FlagCodecData, "CODEC_DATA"}, {FlagEOS, "EOS"}, {FlagPartialFrame, "PARTIAL"}} {
		if f&n.flag != 0 {
			if s != "" {
				s += "|"
			}
			s += n.name
		}
	}
	if s == "" {
		return "NONE"
	}
	return s
}

type PixelFormat int

const (
	PixelFormatNone PixelFormat = iota
	PixelFormatI420
	PixelFormatNV12
	PixelFormatNV21
	PixelFormatRGBA

	// Frames arrive through the input surface, or leave through the
	// output surface.
	PixelFormatSurface
)

func (f PixelFormat) String() string {
	switch f {
	case PixelFormatI420:
		return "I420"
	case PixelFormatNV12:
		return "NV12"
	case PixelFormatNV21:
		return "NV21"
	case PixelFormatRGBA:
		return "RGBA"
	case PixelFormatSurface:
		return "SURFACE"
	}
	return fmt.Sprintf("PixelFormat(%d)", int(f))
}

// ParsePixelFormat accepts the names String returns, in any case. The
// empty string is PixelFormatNone.
func ParsePixelFormat(s string) (PixelFormat, error) {
	if s == "" {
		return PixelFormatNone, nil
	}
	for _, f := range []PixelFormat{PixelFormatI420, PixelFormatNV12, PixelFormatNV21, PixelFormatRGBA, PixelFormatSurface} {
		if strings.EqualFold(s, f.String()) {
			return f, nil
		}
	}
	return PixelFormatNone, errors.Errorf("unknown pixel format %q", s)
}

func (f PixelFormat) MarshalText() ([]byte, error) {
	if f == PixelFormatNone {
		return nil, nil
	}
	return []byte(strings.ToLower(f.String())), nil
}

func (f *PixelFormat) UnmarshalText(text []byte) error {
	v, err := ParsePixelFormat(string(text))
	if err != nil {
		return err
	}
	*f = v
	return nil
}

// FrameSize returns the bytes needed for a frame with the given stride and
// slice height.
func (f PixelFormat) FrameSize(stride, sliceHeight int) int {
	switch f {
	case PixelFormatI420, PixelFormatNV12, PixelFormatNV21:
		return stride*sliceHeight + 2*((stride+1)/2)*((sliceHeight+1)/2)
	case PixelFormatRGBA:
		return stride * sliceHeight
	}
	return 0
}

// BufferAttr accompanies input and output data.
type BufferAttr struct {
	// Presentation time in microseconds.
	PTS    int64
	Offset int
	Size   int
	Flags  Flags
}

// Format configures a codec and describes its buffers.
type Format struct {
	Width  int
	Height int

	PixelFormat PixelFormat

	// Row stride in bytes (pixels for planar formats) and rows per plane of
	// raw frames. Zero means tightly packed.
	Stride      int
	SliceHeight int

	// Encoder targets.
	Bitrate            int
	FrameRate          float64
	KeyFrameIntervalMs int

	// H.264 profile-level-id, e.g. "42e01f".
	ProfileLevelID string

	// Upper bound on the size of one input buffer. Zero lets the codec
	// decide.
	MaxInputSize int
}

// Layout fills in stride and slice height defaults.
func (f Format) Layout() Format {
	if f.Stride <= 0 {
		f.Stride = f.Width
		if f.PixelFormat == PixelFormatRGBA {
			f.Stride = 4 * f.Width
		}
	}
	if f.SliceHeight <= 0 {
		f.SliceHeight = f.Height
	}
	return f
}

// Parameters change a running codec. Zero values leave a setting alone.
type Parameters struct {
	Bitrate       int
	FrameRate     float64
	RequestIFrame bool
}

// Callback receives a codec's asynchronous events. Calls come from the
// codec's own goroutine, one at a time.
type Callback interface {
	OnError(err error)

	// OnStreamChanged reports a new output description.
	OnStreamChanged(format Format)

	// OnNeedInputData lends buf to the client until it is returned with
	// PushInputData(index).
	OnNeedInputData(index uint32, buf *media.SharedBuffer)

	// OnNewOutputData lends buf to the client until FreeOutputData(index)
	// or RenderOutputData(index). buf is nil for surface output.
	OnNewOutputData(index uint32, buf *media.SharedBuffer, attr BufferAttr)
}

// Codec is a platform encoder or decoder.
//
// Lifecycle: Configure, SetCallback, optionally CreateInputSurface or
// SetOutputSurface, Prepare, Start. Stop returns to the prepared state and
// reclaims every lent buffer; Release is final.
type Codec interface {
	Name() string
	Kind() Kind

	Configure(format Format) error
	SetCallback(cb Callback) error
	Prepare() error
	Start() error
	Stop() error
	Flush() error
	Release() error

	// CreateInputSurface returns the window an encoder reads frames from.
	// Flushed buffers are encoded with PTS = TimestampNs / 1000.
	CreateInputSurface() (native.Window, error)

	// SetOutputSurface sets the window a decoder renders into.
	SetOutputSurface(win native.Window) error

	PushInputData(index uint32, attr BufferAttr) error
	FreeOutputData(index uint32) error

	// RenderOutputData renders a decoded frame to the output surface and
	// frees it.
	RenderOutputData(index uint32) error

	SetParameter(params Parameters) error
	NotifyEndOfStream() error

	// InputDescription is the layout of raw input buffers.
	InputDescription() (Format, error)

	// OutputDescription is the layout of raw output buffers.
	OutputDescription() (Format, error)
}

type Range struct {
	Min, Max int
}

// Clamp limits v to the range.
func (r Range) Clamp(v int) int {
	return min(max(v, r.Min), r.Max)
}

func (r Range) Contains(v int) bool {
	return v >= r.Min && v <= r.Max
}

// Capabilities describe what a provider's codec for a MIME type can do.
type Capabilities struct {
	Name     string
	Hardware bool

	BitrateRange   Range
	FramerateRange Range
	WidthRange     Range
	HeightRange    Range

	// Frame dimensions must be multiples of this.
	Alignment int

	ProfileLevelIDs []string
	PixelFormats    []PixelFormat
}

func (c *Capabilities) SupportsProfile(id string) bool {
	for _, p := range c.ProfileLevelIDs {
		if p == id {
			return true
		}
	}
	return false
}

func (c *Capabilities) SupportsPixelFormat(f PixelFormat) bool {
	for _, p := range c.PixelFormats {
		if p == f {
			return true
		}
	}
	return false
}

// Provider enumerates and creates codecs.
type Provider interface {
	Name() string

	// Capabilities returns ErrNotSupported when no codec handles mime.
	Capabilities(mime string, kind Kind) (*Capabilities, error)
	Create(mime string, kind Kind) (Codec, error)
}
