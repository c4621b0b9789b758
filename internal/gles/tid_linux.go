//go:build linux

package gles

import "golang.org/x/sys/unix"

func currentThreadID() int {
	return unix.Gettid()
}
