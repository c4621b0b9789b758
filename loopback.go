package alohavideo

import (
	"context"
	"sync"
	"time"

	"github.com/lanikai/alohavideo/internal/capture"
	"github.com/lanikai/alohavideo/internal/media"
	"github.com/lanikai/alohavideo/internal/native"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// LoopbackOptions describe a capture, encode, decode and render loop run
// entirely in process.
type LoopbackOptions struct {
	Width, Height int
	FPS           int
	Frames        int
	BitrateBps    int

	// Capture through a camera surface (texture frames) or a buffer-mode
	// screen capture (I420 frames).
	Mode ScreenMode

	// Profile-level-id of the negotiated format.
	ProfileLevelID string

	// Parent of every context in the loop; nil selects the default shared
	// context.
	Shared *SharedContext

	// Rendered window size. Defaults to the capture size.
	WindowWidth, WindowHeight int

	// How long to wait for the loop to drain after the last frame.
	DrainTimeout time.Duration
}

func (o *LoopbackOptions) setDefaults() {
	if o.Width <= 0 || o.Height <= 0 {
		o.Width, o.Height = 640, 480
	}
	if o.FPS <= 0 {
		o.FPS = 30
	}
	if o.Frames <= 0 {
		o.Frames = 30
	}
	if o.BitrateBps <= 0 {
		o.BitrateBps = 1_000_000
	}
	if o.ProfileLevelID == "" {
		o.ProfileLevelID = "42e01f"
	}
	if o.WindowWidth <= 0 || o.WindowHeight <= 0 {
		o.WindowWidth, o.WindowHeight = o.Width, o.Height
	}
	if o.DrainTimeout <= 0 {
		o.DrainTimeout = 5 * time.Second
	}
}

type LoopbackStats struct {
	Produced int

	// Timestamp of the last captured frame.
	LastCapturedUs int64

	Capture CaptureStats
	Render  RenderStats

	Encoded        int
	EncodeFailures int
	ConfigBlobs    int
	Decoded        int

	EncoderImplementation string
	EncoderHardware       bool
	DecoderImplementation string
	DecoderHardware       bool

	// RTP timestamps in the order images left the encoder and frames left
	// the decoder.
	EncodedRTP []uint32
	DecodedRTP []uint32
}

// loopbackSource is the capture side of the loop.
type loopbackSource interface {
	VideoSource
	SurfaceID() uint64
	Stats() CaptureStats
	LastTimestampUs() int64
}

// RunLoopback runs opts.Frames frames from a test-pattern producer through
// the configured encoder and decoder factories into a window renderer.
func RunLoopback(ctx context.Context, opts LoopbackOptions) (*LoopbackStats, error) {
	opts.setDefaults()

	var src loopbackSource
	if opts.Mode == ScreenBuffer {
		src = NewScreenCapture(ScreenBuffer)
	} else {
		src = NewCamera(media.Rotation0)
	}
	defer src.Release()
	if err := src.Init(opts.Width, opts.Height); err != nil {
		return nil, errors.Wrap(err, "loopback: init source")
	}
	win, ok := native.LookupWindow(src.SurfaceID())
	if !ok {
		return nil, errors.Wrap(errNoSurface, "loopback: capture surface")
	}

	format := H264Format(opts.ProfileLevelID)
	encoders, err := NewEncoderFactory(opts.Shared, false)
	if err != nil {
		return nil, err
	}
	settings := EncoderSettings(opts.Width, opts.Height, opts.FPS, opts.BitrateBps)
	settings.ExpectEncodeFromTexture = opts.Mode == ScreenTexture
	track, err := NewH264VideoTrack(encoders, format, settings, "video", "alohavideo")
	if err != nil {
		return nil, err
	}
	defer track.Close()

	decoders, err := NewDecoderFactory(opts.Shared)
	if err != nil {
		return nil, err
	}
	dec, err := decoders.CreateDecoder(format)
	if err != nil {
		return nil, errors.Wrap(err, "loopback: create decoder")
	}
	defer dec.Release()
	if !dec.Configure(&media.DecoderSettings{CodecType: media.CodecH264, Width: opts.Width, Height: opts.Height}) {
		return nil, errors.New("loopback: configure decoder failed")
	}

	remote := NewRemoteVideoTrack("remote")
	defer remote.Close()

	stats := &LoopbackStats{}
	var mu sync.Mutex
	dec.RegisterDecodeCompleteCallback(media.DecodedImageCallbackFunc(func(frame *VideoFrame) {
		mu.Lock()
		stats.Decoded++
		stats.DecodedRTP = append(stats.DecodedRTP, frame.RTPTimestamp)
		mu.Unlock()
		remote.OnDecoded(frame)
	}))

	images := make(chan *EncodedImage, opts.Frames+1)
	track.OnEncodedImage(func(img *EncodedImage) {
		mu.Lock()
		stats.EncodedRTP = append(stats.EncodedRTP, img.RTPTimestamp)
		mu.Unlock()
		select {
		case images <- img:
		default:
			log.Warn("loopback: decoder backlog, dropping image at rtp %d", img.RTPTimestamp)
		}
	})

	outWin := native.NewBufferQueue(opts.WindowWidth, opts.WindowHeight, 1, native.FormatRGBA8888)
	outID := RegisterSurface(outWin)
	defer UnregisterSurface(outID)
	renderer := NewRenderer()
	defer renderer.Release()
	if err := renderer.Init(outID, opts.Shared); err != nil {
		return nil, err
	}
	renderer.SetVideoTrack(remote)

	local := NewVideoTrack("local", src)
	local.AddOrUpdateSink(track, SinkWants{})
	defer local.RemoveSink(track)
	if err := src.Start(); err != nil {
		return nil, errors.Wrap(err, "loopback: start source")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(images)
		gen := native.NewGenerator(win, opts.FPS, capture.MonotonicNs)
		err := gen.Run(gctx, opts.Frames)
		stats.Produced = gen.Frames()
		if err != nil {
			return err
		}
		return waitFor(gctx, opts.DrainTimeout, func() bool {
			encoded, failures := track.Stats()
			return int(encoded+failures) >= stats.Produced-int(src.Stats().Dropped)
		})
	})
	g.Go(func() error {
		for img := range images {
			if status := dec.Decode(img, false, img.TimestampUs/1000); status != media.StatusOK {
				log.Warn("loopback: decode rtp %d: %v", img.RTPTimestamp, status)
			}
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, errors.Wrap(err, "loopback")
	}

	// Let the last decoded frame reach the window.
	waitFor(ctx, opts.DrainTimeout, func() bool {
		mu.Lock()
		decoded, encoded := stats.Decoded, len(stats.EncodedRTP)
		mu.Unlock()
		r := renderer.Stats()
		return decoded >= encoded && r.Received >= decoded && r.Rendered+r.Dropped >= r.Received
	})
	src.Stop()

	encoded, failures := track.Stats()
	stats.Encoded, stats.EncodeFailures = int(encoded), int(failures)
	stats.Capture = src.Stats()
	stats.LastCapturedUs = src.LastTimestampUs()
	stats.Render = renderer.Stats()
	stats.ConfigBlobs = configBlobs(track.Encoder())
	info := track.Encoder().GetEncoderInfo()
	stats.EncoderImplementation, stats.EncoderHardware = info.ImplementationName, info.IsHardwareAccelerated
	dinfo := dec.GetDecoderInfo()
	stats.DecoderImplementation, stats.DecoderHardware = dinfo.ImplementationName, dinfo.IsHardwareAccelerated

	mu.Lock()
	defer mu.Unlock()
	out := *stats
	return &out, nil
}

// configBlobs counts the codec-config blobs a hardware encoder received,
// looking through fallback wrappers.
func configBlobs(enc VideoEncoder) int {
	for {
		if w, ok := enc.(interface{ Active() media.VideoEncoder }); ok {
			enc = w.Active()
			continue
		}
		break
	}
	if s, ok := enc.(interface{ Stats() (int, int) }); ok {
		_, blobs := s.Stats()
		return blobs
	}
	return 0
}

func waitFor(ctx context.Context, timeout time.Duration, done func() bool) error {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	tick := time.NewTicker(5 * time.Millisecond)
	defer tick.Stop()
	for !done() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			log.Debug("loopback: drain timed out")
			return nil
		case <-tick.C:
		}
	}
	return nil
}
