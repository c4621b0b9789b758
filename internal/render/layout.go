package render

import (
	"fmt"
	"strings"

	"github.com/lanikai/alohavideo/internal/media"
	"github.com/pkg/errors"
)

// ScalingMode decides how a frame whose aspect ratio differs from the
// window's is fitted.
type ScalingMode int

const (
	// Stretch to the whole window.
	ScaleFill ScalingMode = iota
	// Scale uniformly until the window is covered, cropping the frame.
	ScaleAspectFill
	// Scale uniformly until the frame is contained, letterboxing.
	ScaleAspectFit
)

var scalingModeNames = []string{"fill", "aspect-fill", "aspect-fit"}

func (m ScalingMode) String() string {
	if int(m) >= 0 && int(m) < len(scalingModeNames) {
		return scalingModeNames[m]
	}
	return fmt.Sprintf("ScalingMode(%d)", int(m))
}

func ParseScalingMode(s string) (ScalingMode, error) {
	s = strings.ReplaceAll(strings.ToLower(s), "_", "-")
	for i, name := range scalingModeNames {
		if s == name {
			return ScalingMode(i), nil
		}
	}
	return 0, errors.Errorf("unknown scaling mode %q", s)
}

func (m ScalingMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *ScalingMode) UnmarshalText(text []byte) error {
	v, err := ParseScalingMode(string(text))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// Layout is where and how a frame lands in a window.
type Layout struct {
	X, Y, Width, Height int

	// Visible fraction of the frame along each axis; below 1 when
	// ScaleAspectFill crops.
	ScaleX, ScaleY float32
}

// ComputeLayout fits a frameWidth x frameHeight frame into a window.
func ComputeLayout(mode ScalingMode, frameWidth, frameHeight, winWidth, winHeight int) Layout {
	l := Layout{Width: winWidth, Height: winHeight, ScaleX: 1, ScaleY: 1}
	if frameWidth <= 0 || frameHeight <= 0 || winWidth <= 0 || winHeight <= 0 {
		return l
	}
	frameAspect := float64(frameWidth) / float64(frameHeight)
	winAspect := float64(winWidth) / float64(winHeight)

	switch mode {
	case ScaleAspectFit:
		if frameAspect > winAspect {
			l.Height = int(float64(winWidth)/frameAspect + 0.5)
		} else {
			l.Width = int(float64(winHeight)*frameAspect + 0.5)
		}
		l.X = (winWidth - l.Width) / 2
		l.Y = (winHeight - l.Height) / 2
	case ScaleAspectFill:
		if frameAspect > winAspect {
			l.ScaleX = float32(winAspect / frameAspect)
		} else {
			l.ScaleY = float32(frameAspect / winAspect)
		}
	}
	return l
}

// DrawMatrix is the extra render matrix for a layout and mirror settings.
// It operates on the displayed frame, after rotation.
func DrawMatrix(l Layout, mirrorHorizontally, mirrorVertically bool) media.Matrix {
	sx, sy := l.ScaleX, l.ScaleY
	if mirrorHorizontally {
		sx = -sx
	}
	if mirrorVertically {
		sy = -sy
	}
	return media.Identity().
		PreTranslate(0.5, 0.5).
		PreScale(sx, sy).
		PreTranslate(-0.5, -0.5)
}
