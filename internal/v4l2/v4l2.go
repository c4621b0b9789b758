// Package v4l2 captures YUYV frames from a Video4Linux device into a native
// window.
package v4l2

import (
	"github.com/lanikai/alohavideo/internal/logging"
	"github.com/pkg/errors"
)

var log = logging.DefaultLogger.WithTag("v4l2")

var errNotSupported = errors.New("v4l2 not supported on this platform")
