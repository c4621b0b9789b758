package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lanikai/alohavideo"
	"github.com/lanikai/alohavideo/internal/logging"
	flag "github.com/spf13/pflag"
)

// Populated via -ldflags="-X ...".
var GitRevisionId string
var GitTag string

var log = logging.DefaultLogger.WithTag("alohavideod")

// version displays information and exits successfully (GNU convention)
func version() {
	fmt.Println("alohavideod", GitTag, GitRevisionId)
	fmt.Println("Copyright 2019 Lanikai Labs LLC. All rights reserved.")
}

func loadConfig() (*alohavideo.Config, error) {
	cfg := alohavideo.DefaultConfig()
	if flagConfig != "" {
		var err error
		if cfg, err = alohavideo.LoadConfig(flagConfig); err != nil {
			return nil, err
		}
	}
	if flagScaling != "" {
		mode, err := alohavideo.ParseScalingMode(flagScaling)
		if err != nil {
			return nil, err
		}
		cfg.Renderer.ScalingMode = mode
	}
	cfg.Renderer.MirrorHorizontally = cfg.Renderer.MirrorHorizontally || flagHorizontalFlip
	cfg.Renderer.MirrorVertically = cfg.Renderer.MirrorVertically || flagVerticalFlip
	return cfg, nil
}

func main() {
	flag.Parse()

	if flagHelp {
		help()
		os.Exit(0)
	}
	if flagVersion {
		version()
		os.Exit(0)
	}

	var mode alohavideo.ScreenMode
	switch flagMode {
	case "surface":
		mode = alohavideo.ScreenTexture
	case "buffer":
		mode = alohavideo.ScreenBuffer
	default:
		log.Fatalf("unknown capture mode %q", flagMode)
	}

	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("%v", err)
	}
	if err := alohavideo.Configure(cfg); err != nil {
		log.Fatalf("%v", err)
	}
	defer alohavideo.Shutdown()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	start := time.Now()
	st, err := alohavideo.RunLoopback(ctx, alohavideo.LoopbackOptions{
		Width:      flagWidth,
		Height:     flagHeight,
		FPS:        flagFPS,
		Frames:     flagFrames,
		BitrateBps: flagBitrate * 1000,
		Mode:       mode,
	})
	if err != nil {
		log.Fatalf("%v", err)
	}
	printStats(st, time.Since(start))
}

func printStats(st *alohavideo.LoopbackStats, elapsed time.Duration) {
	fmt.Printf("Ran %d frames in %v\n", st.Produced, elapsed.Round(time.Millisecond))
	fmt.Printf("  capture:  %d captured, %d dropped, max queue depth %d\n",
		st.Capture.Captured, st.Capture.Dropped, st.Capture.MaxQueueDepth)
	fmt.Printf("  encoder:  %s (hardware %v), %d images, %d failures, %d config blobs\n",
		st.EncoderImplementation, st.EncoderHardware, st.Encoded, st.EncodeFailures, st.ConfigBlobs)
	fmt.Printf("  decoder:  %s (hardware %v), %d frames\n",
		st.DecoderImplementation, st.DecoderHardware, st.Decoded)
	fmt.Printf("  renderer: %d received, %d rendered, %d dropped\n",
		st.Render.Received, st.Render.Rendered, st.Render.Dropped)
	fmt.Printf("  last captured %d us, last rendered %d us\n", st.LastCapturedUs, st.Render.LastTimestampUs)

	inOrder := len(st.EncodedRTP) == len(st.DecodedRTP)
	for i := 0; inOrder && i < len(st.EncodedRTP); i++ {
		inOrder = st.EncodedRTP[i] == st.DecodedRTP[i]
	}
	fmt.Printf("  decoded RTP timestamps match encoder: %v\n", inOrder)
}
