//go:build !linux && !darwin

package capture

import "time"

var fallbackEpoch = time.Now()

// MonotonicNs falls back to Go's monotonic clock.
func MonotonicNs() int64 {
	return time.Since(fallbackEpoch).Nanoseconds()
}
