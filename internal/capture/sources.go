package capture

import (
	"context"
	"fmt"

	"github.com/lanikai/alohavideo/internal/media"
	"github.com/lanikai/alohavideo/internal/native"
	"github.com/pkg/errors"
)

func init() {
	media.RegisterSourceType("pattern", openPattern)
	media.RegisterSourceType("screen", openScreenPattern)
}

// A Producer renders frames into win until ctx is done, standing in for
// the platform camera or screen recorder.
type Producer func(ctx context.Context, win native.Window) error

// PatternProducer renders the native test pattern at fps, stamped with
// the platform monotonic clock.
func PatternProducer(fps int) Producer {
	return func(ctx context.Context, win native.Window) error {
		return native.NewGenerator(win, fps, MonotonicNs).Run(ctx, 0)
	}
}

// DrivenSource runs a producer into a capture source's surface while the
// source is started.
type DrivenSource struct {
	Capturer

	Width, Height int

	produce Producer
	loop    *media.Loop
}

// NewDrivenSource wraps src, whose surface is fed by produce between
// Start and Stop.
func NewDrivenSource(name string, src Capturer, produce Producer) *DrivenSource {
	d := &DrivenSource{Capturer: src, produce: produce}
	d.loop = media.NewLoop(name+"-producer", d.run)
	return d
}

func (d *DrivenSource) run(quit <-chan struct{}) {
	win := d.Window()
	if win == nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-quit
		cancel()
	}()
	defer cancel()
	if err := d.produce(ctx, win); err != nil && ctx.Err() == nil && errors.Cause(err) != native.ErrClosed {
		log.Warn("Producer stopped: %v", err)
	}
}

// Init uses the size parsed from the source spec when width or height is
// zero.
func (d *DrivenSource) Init(width, height int) error {
	if width <= 0 || height <= 0 {
		width, height = d.Width, d.Height
	}
	return d.Capturer.Init(width, height)
}

func (d *DrivenSource) Start() error {
	if err := d.Capturer.Start(); err != nil {
		return err
	}
	if !d.loop.Running() && d.loop.Start() {
		log.Debug("%s: run %d", d.loop.Name(), d.loop.Runs())
	}
	return nil
}

func (d *DrivenSource) Stop() error {
	if d.loop.Running() {
		d.loop.Stop()
	}
	return d.Capturer.Stop()
}

func (d *DrivenSource) Release() error {
	if d.loop.Running() {
		d.loop.Stop()
	}
	return d.Capturer.Release()
}

// parseGeometry parses "WxH@fps"; missing parts keep the defaults.
func parseGeometry(path string, width, height, fps int) (int, int, int, error) {
	if path == "" {
		return width, height, fps, nil
	}
	n, _ := fmt.Sscanf(path, "%dx%d@%d", &width, &height, &fps)
	if n < 2 || width <= 0 || height <= 0 || fps <= 0 {
		return 0, 0, 0, errors.Errorf("invalid geometry %q, want WxH[@fps]", path)
	}
	return width, height, fps, nil
}

// openPattern opens "pattern:WxH@fps", a camera fed by the test pattern.
func openPattern(path string) (media.Source, error) {
	w, h, fps, err := parseGeometry(path, 640, 480, 30)
	if err != nil {
		return nil, err
	}
	d := NewDrivenSource("pattern", NewCamera(Options{Name: "pattern"}), PatternProducer(fps))
	d.Width, d.Height = w, h
	return d, nil
}

// openScreenPattern opens "screen:WxH@fps", a buffer-mode screen capture
// fed by the test pattern.
func openScreenPattern(path string) (media.Source, error) {
	w, h, fps, err := parseGeometry(path, 1280, 720, 15)
	if err != nil {
		return nil, err
	}
	src := NewScreen(ScreenOptions{Options: Options{Name: "screen"}, Mode: ScreenBuffer, QueueSize: 1})
	d := NewDrivenSource("screen", src, PatternProducer(fps))
	d.Width, d.Height = w, h
	return d, nil
}
