package media

import (
	"math"
	"sync"
)

// VideoAdapter decides, frame by frame, whether to drop a frame and what
// resolution to scale it to so that the sinks' wants are met.
type VideoAdapter struct {
	mu sync.Mutex

	sourceAlignment int
	alignment       int
	maxPixels       int
	targetPixels    int
	maxFps          int

	nextFrameTimestampNs int64
	haveNext             bool

	framesIn      int
	framesDropped int
}

// NewVideoAdapter returns an adapter whose output is always a multiple of
// alignment.
func NewVideoAdapter(alignment int) *VideoAdapter {
	alignment = max(alignment, 1)
	return &VideoAdapter{sourceAlignment: alignment, alignment: alignment}
}

// OnSinkWants updates the constraints from aggregated sink wants.
func (a *VideoAdapter) OnSinkWants(w SinkWants) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.maxPixels = w.MaxPixelCount
	a.targetPixels = w.TargetPixelCount
	if a.maxFps != w.MaxFramerateFps {
		a.haveNext = false
	}
	a.maxFps = w.MaxFramerateFps
	a.alignment = lcm(a.sourceAlignment, w.ResolutionAlignment)
}

// keepFrame implements the frame rate limit. A frame is kept once its
// timestamp reaches the next expected slot; the first slot after a reset is
// half an interval early to tolerate jitter.
func (a *VideoAdapter) keepFrame(tsNs int64) bool {
	if a.maxFps <= 0 {
		return true
	}
	interval := int64(math.Round(1e9 / float64(a.maxFps)))
	if a.haveNext {
		untilNext := a.nextFrameTimestampNs - tsNs
		if absInt64(untilNext) < 2*interval {
			if untilNext > 0 {
				return false
			}
			a.nextFrameTimestampNs += interval
			return true
		}
	}
	// First frame, or a timestamp far outside the expected range.
	a.nextFrameTimestampNs = tsNs + interval/2
	a.haveNext = true
	return true
}

func absInt64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

type fraction struct{ num, den int }

func (f fraction) scalePixels(pixels int) int {
	return pixels * f.num * f.num / (f.den * f.den)
}

// findScale walks the scale sequence 1, 3/4, 1/2, 3/8, 1/4, ... and
// returns the step closest to target that does not exceed max.
func findScale(inPixels, target, maxPixels int) fraction {
	if target >= inPixels {
		return fraction{1, 1}
	}
	best := fraction{1, 1}
	minDiff := math.MaxInt
	if inPixels <= maxPixels {
		minDiff = absInt(inPixels - target)
	}
	cur := fraction{1, 1}
	for cur.scalePixels(inPixels) > target {
		if cur.num%3 == 0 && cur.den%2 == 0 {
			// Multiply by 2/3.
			cur = fraction{cur.num / 3, cur.den / 2}
		} else {
			// Multiply by 3/4.
			cur = fraction{cur.num * 3, cur.den * 4}
		}
		out := cur.scalePixels(inPixels)
		if out <= maxPixels {
			if diff := absInt(target - out); diff < minDiff {
				minDiff = diff
				best = cur
			}
		}
		if out == 0 {
			break
		}
	}
	return best
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// AdaptFrameResolution returns the crop and output size for a frame, or
// ok false if the frame should be dropped.
func (a *VideoAdapter) AdaptFrameResolution(inWidth, inHeight int, timestampNs int64) (cropWidth, cropHeight, outWidth, outHeight int, ok bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.framesIn++
	if !a.keepFrame(timestampNs) {
		a.framesDropped++
		return 0, 0, 0, 0, false
	}

	maxPixels := a.maxPixels
	if maxPixels <= 0 {
		maxPixels = math.MaxInt
	}
	target := a.targetPixels
	if target <= 0 {
		target = maxPixels
	}
	target = min(target, maxPixels)

	s := findScale(inWidth*inHeight, target, maxPixels)

	// Crop so that the scaled size is an exact multiple of the alignment.
	step := s.den * a.alignment
	cropWidth = inWidth / step * step
	cropHeight = inHeight / step * step
	if cropWidth == 0 || cropHeight == 0 {
		cropWidth, cropHeight = inWidth, inHeight
		s = fraction{1, 1}
	}
	outWidth = cropWidth * s.num / s.den
	outHeight = cropHeight * s.num / s.den
	return cropWidth, cropHeight, outWidth, outHeight, true
}

// Stats returns the number of frames seen and dropped by the rate limiter.
func (a *VideoAdapter) Stats() (in, dropped int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.framesIn, a.framesDropped
}

// AdaptedSource is a VideoBroadcaster fed through a VideoAdapter. Capture
// sources embed it and call Deliver for every captured frame.
type AdaptedSource struct {
	*VideoBroadcaster
	adapter *VideoAdapter
}

func NewAdaptedSource(queueSize, alignment int) *AdaptedSource {
	s := &AdaptedSource{
		VideoBroadcaster: NewVideoBroadcaster(queueSize),
		adapter:          NewVideoAdapter(alignment),
	}
	s.SetWantsObserver(s.adapter.OnSinkWants)
	return s
}

func (s *AdaptedSource) Adapter() *VideoAdapter {
	return s.adapter
}

// Deliver adapts frame and broadcasts it. It reports whether the frame was
// forwarded.
func (s *AdaptedSource) Deliver(frame *VideoFrame) bool {
	w, h := frame.Width(), frame.Height()
	cropW, cropH, outW, outH, ok := s.adapter.AdaptFrameResolution(w, h, frame.TimestampUs*1000)
	if !ok {
		return false
	}
	if cropW != w || cropH != h || outW != w || outH != h {
		cropX, cropY := (w-cropW)/2, (h-cropH)/2
		var b FrameBuffer
		if ab, ok := frame.Buffer.(AdaptableBuffer); ok {
			b = ab.Adapt(cropX, cropY, cropW, cropH, outW, outH)
		} else {
			b = frame.Buffer.CropAndScale(cropX, cropY, cropW, cropH, outW, outH)
		}
		frame = frame.WithBuffer(b)
	}
	s.OnFrame(frame)
	return true
}
