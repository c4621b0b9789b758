//go:build !linux

package v4l2

import (
	"context"

	"github.com/lanikai/alohavideo/internal/native"
)

func Capture(ctx context.Context, path string, cfg Config, win native.Window) error {
	return errNotSupported
}
