//go:build linux || darwin

package capture

import (
	"time"

	"golang.org/x/sys/unix"
)

// MonotonicNs reads CLOCK_MONOTONIC, the clock platform producers stamp
// buffers with.
func MonotonicNs() int64 {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts); err != nil {
		return fallbackMonotonicNs()
	}
	return ts.Nano()
}

var fallbackEpoch = time.Now()

func fallbackMonotonicNs() int64 {
	return time.Since(fallbackEpoch).Nanoseconds()
}
