//go:build !linux

package gles

func currentThreadID() int {
	return 0
}
