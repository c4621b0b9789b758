//go:build gles2

package alohavideo

import _ "github.com/lanikai/alohavideo/internal/gles/gles2"
