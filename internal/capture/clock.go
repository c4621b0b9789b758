package capture

import (
	"sync"
	"time"
)

// The RTC clock counts from process start on Go's monotonic clock.
var rtcEpoch = time.Now()

// RTCTimeUs returns the current RTC time in microseconds.
func RTCTimeUs() int64 {
	return time.Since(rtcEpoch).Microseconds()
}

// ClockConverter maps platform monotonic timestamps (as carried by native
// buffers) onto the RTC clock. Converted timestamps never decrease.
type ClockConverter struct {
	mu       sync.Mutex
	offsetNs int64
	lastUs   int64
}

func NewClockConverter() *ClockConverter {
	c := &ClockConverter{}
	c.Reset()
	return c
}

// Reset re-samples both clocks.
func (c *ClockConverter) Reset() {
	rtcNs := time.Since(rtcEpoch).Nanoseconds()
	platformNs := MonotonicNs()
	c.mu.Lock()
	c.offsetNs = rtcNs - platformNs
	c.lastUs = 0
	c.mu.Unlock()
}

// ToRTCTimeUs converts a platform timestamp in nanoseconds.
func (c *ClockConverter) ToRTCTimeUs(platformNs int64) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	us := (platformNs + c.offsetNs) / 1000
	if us < c.lastUs {
		us = c.lastUs
	}
	c.lastUs = us
	return us
}
