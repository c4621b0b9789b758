package alohavideo

import "github.com/pkg/errors"

var (
	errReleased  = errors.New("released")          // handle used after Release
	errNoSurface = errors.New("surface not found") // unknown surface id
)
