//////////////////////////////////////////////////////////////////////////////
//
// Config contains the process-wide settings of the video pipeline
//
// Copyright 2019 Lanikai Labs. All rights reserved.
//
//////////////////////////////////////////////////////////////////////////////

package alohavideo

import (
	"os"
	"sync"
	"time"

	"github.com/lanikai/alohavideo/internal/avcodec"
	"github.com/lanikai/alohavideo/internal/gles"
	"github.com/lanikai/alohavideo/internal/hwcodec"
	"github.com/lanikai/alohavideo/internal/render"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

type Config struct {
	// GL backend: "soft", or "gles2" in builds tagged gles2.
	Platform string `yaml:"platform"`

	// Platform codec provider.
	Provider string `yaml:"provider"`

	// Offer H.264 high profile from hardware encoders.
	H264HighProfile bool `yaml:"h264_high_profile"`

	// Profile-level-ids the hardware codecs must not be used for.
	HardwareBlocklist []string `yaml:"hardware_blocklist"`

	// Hardware encoder byte input and decoder output formats. "surface"
	// selects texture frames.
	EncoderInput  avcodec.PixelFormat `yaml:"encoder_input"`
	DecoderOutput avcodec.PixelFormat `yaml:"decoder_output"`

	// Wait for a codec input buffer.
	DequeueTimeout time.Duration `yaml:"dequeue_timeout"`

	// Buffers held by a buffer-mode screen capture.
	CaptureQueueSize int `yaml:"capture_queue_size"`

	// Frames queued per broadcaster sink.
	SinkQueueSize int `yaml:"sink_queue_size"`

	Renderer RendererConfig `yaml:"renderer"`
}

type RendererConfig struct {
	ScalingMode        render.ScalingMode `yaml:"scaling_mode"`
	MirrorHorizontally bool               `yaml:"mirror_horizontally"`
	MirrorVertically   bool               `yaml:"mirror_vertically"`
}

func DefaultConfig() *Config {
	return &Config{
		Platform:         "soft",
		Provider:         "emulator",
		DecoderOutput:    avcodec.PixelFormatSurface,
		DequeueTimeout:   hwcodec.DefaultDequeueTimeout,
		CaptureQueueSize: 1,
		SinkQueueSize:    1,
		Renderer: RendererConfig{
			ScalingMode: render.ScaleAspectFit,
		},
	}
}

// LoadConfig reads a YAML file over the defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read config")
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrapf(err, "parse config %s", path)
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrapf(err, "config %s", path)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if !contains(gles.Platforms(), c.Platform) {
		return errors.Errorf("unknown GL platform %q, have %v", c.Platform, gles.Platforms())
	}
	if !contains(avcodec.Providers(), c.Provider) {
		return errors.Errorf("unknown codec provider %q, have %v", c.Provider, avcodec.Providers())
	}
	if c.EncoderInput == avcodec.PixelFormatSurface {
		return errors.New("encoder_input: surface input is chosen per session, name a raw format")
	}
	if c.DequeueTimeout <= 0 {
		return errors.New("dequeue_timeout must be positive")
	}
	if c.CaptureQueueSize < 1 || c.SinkQueueSize < 1 {
		return errors.New("queue sizes must be at least 1")
	}
	return nil
}

var (
	configMu      sync.Mutex
	currentConfig = DefaultConfig()
)

// Configure validates cfg and makes it the configuration for factories,
// sources and renderers created afterwards. The GL platform only changes
// while the default shared context does not exist yet.
func Configure(cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	c := *cfg
	configMu.Lock()
	currentConfig = &c
	configMu.Unlock()
	gles.SetDefaultPlatform(c.Platform)
	log.Info("Configured: platform %s, provider %s", c.Platform, c.Provider)
	return nil
}

// CurrentConfig returns a copy of the active configuration.
func CurrentConfig() *Config {
	configMu.Lock()
	defer configMu.Unlock()
	c := *currentConfig
	return &c
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
