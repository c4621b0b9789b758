// Package emulator is an in-process codec provider. Its H.264 codecs run
// the software bitstream package behind the asynchronous platform codec
// API, so hardware code paths can run without codec hardware.
package emulator

import (
	"sync"

	"github.com/lanikai/alohavideo/internal/avcodec"
	"github.com/lanikai/alohavideo/internal/logging"
	"github.com/pkg/errors"
)

var log = logging.DefaultLogger.WithTag("emulator")

const ProviderName = "emulator"

func init() {
	avcodec.RegisterProvider(ProviderName, func() (avcodec.Provider, error) {
		return New(Options{}), nil
	})
}

type Options struct {
	// Codec name reported in capabilities.
	Name string

	// Report the codecs as software codecs.
	Software bool

	// Accepted bitrates; SetParameter rejects anything outside.
	BitrateRange avcodec.Range
	MaxFramerate int

	// Profiles advertised and accepted by Configure.
	ProfileLevelIDs []string

	// Profiles Configure refuses. They are not advertised.
	Refuse []string

	// Input buffers each codec lends out.
	InputBuffers int

	EncoderPixelFormats []avcodec.PixelFormat
	DecoderPixelFormats []avcodec.PixelFormat
}

func (o *Options) setDefaults() {
	if o.Name == "" {
		o.Name = "OMX.alohavideo.emulator.avc"
	}
	if o.BitrateRange == (avcodec.Range{}) {
		o.BitrateRange = avcodec.Range{Min: 100_000, Max: 4_000_000}
	}
	if o.MaxFramerate <= 0 {
		o.MaxFramerate = 60
	}
	if o.ProfileLevelIDs == nil {
		o.ProfileLevelIDs = []string{"42e01f", "42001f"}
	}
	if o.InputBuffers <= 0 {
		o.InputBuffers = 4
	}
	if o.EncoderPixelFormats == nil {
		o.EncoderPixelFormats = []avcodec.PixelFormat{
			avcodec.PixelFormatSurface,
			avcodec.PixelFormatI420,
			avcodec.PixelFormatNV12,
			avcodec.PixelFormatNV21,
			avcodec.PixelFormatRGBA,
		}
	}
	if o.DecoderPixelFormats == nil {
		o.DecoderPixelFormats = []avcodec.PixelFormat{
			avcodec.PixelFormatSurface,
			avcodec.PixelFormatI420,
			avcodec.PixelFormatNV12,
			avcodec.PixelFormatNV21,
			avcodec.PixelFormatRGBA,
		}
	}
}

type Provider struct {
	opts Options

	mu     sync.Mutex
	codecs []*Codec
}

func New(opts Options) *Provider {
	opts.setDefaults()
	return &Provider{opts: opts}
}

func (p *Provider) Name() string { return ProviderName }

func (p *Provider) refused(id string) bool {
	for _, r := range p.opts.Refuse {
		if r == id {
			return true
		}
	}
	return false
}

func (p *Provider) Capabilities(mime string, kind avcodec.Kind) (*avcodec.Capabilities, error) {
	if mime != avcodec.MimeH264 {
		return nil, errors.Wrapf(avcodec.ErrNotSupported, "%s %s", mime, kind)
	}
	caps := &avcodec.Capabilities{
		Name:           p.opts.Name,
		Hardware:       !p.opts.Software,
		BitrateRange:   p.opts.BitrateRange,
		FramerateRange: avcodec.Range{Min: 1, Max: p.opts.MaxFramerate},
		WidthRange:     avcodec.Range{Min: 2, Max: 4096},
		HeightRange:    avcodec.Range{Min: 2, Max: 4096},
		Alignment:      2,
	}
	for _, id := range p.opts.ProfileLevelIDs {
		if !p.refused(id) {
			caps.ProfileLevelIDs = append(caps.ProfileLevelIDs, id)
		}
	}
	if kind == avcodec.Decoder {
		caps.PixelFormats = append(caps.PixelFormats, p.opts.DecoderPixelFormats...)
	} else {
		caps.PixelFormats = append(caps.PixelFormats, p.opts.EncoderPixelFormats...)
	}
	return caps, nil
}

func (p *Provider) Create(mime string, kind avcodec.Kind) (avcodec.Codec, error) {
	caps, err := p.Capabilities(mime, kind)
	if err != nil {
		return nil, err
	}
	c := newCodec(p, kind, caps)
	p.mu.Lock()
	p.codecs = append(p.codecs, c)
	p.mu.Unlock()
	log.Debug("Created %s %s", caps.Name, kind)
	return c, nil
}

// Codecs returns every codec created so far, oldest first.
func (p *Provider) Codecs() []*Codec {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*Codec(nil), p.codecs...)
}

// Last returns the most recently created codec of kind, or nil.
func (p *Provider) Last(kind avcodec.Kind) *Codec {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := len(p.codecs) - 1; i >= 0; i-- {
		if p.codecs[i].kind == kind {
			return p.codecs[i]
		}
	}
	return nil
}
