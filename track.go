package alohavideo

import (
	"sync"

	"github.com/lanikai/alohavideo/internal/media"
)

// VideoTrack names a video source so renderers and encoders can attach to
// it. A remote track is fed by a decoder through OnDecoded.
type VideoTrack struct {
	id     string
	source media.VideoSource

	mu     sync.Mutex
	remote *media.VideoBroadcaster
}

func NewVideoTrack(id string, source media.VideoSource) *VideoTrack {
	return &VideoTrack{id: id, source: source}
}

// NewRemoteVideoTrack returns a track whose frames come from a decoder.
// Register the track as the decoder's completion callback.
func NewRemoteVideoTrack(id string) *VideoTrack {
	b := media.NewVideoBroadcaster(CurrentConfig().SinkQueueSize)
	return &VideoTrack{id: id, source: b, remote: b}
}

func (t *VideoTrack) ID() string                { return t.id }
func (t *VideoTrack) Source() media.VideoSource { return t.source }
func (t *VideoTrack) RemoveSink(sink VideoSink) { t.source.RemoveSink(sink) }

func (t *VideoTrack) AddOrUpdateSink(sink VideoSink, wants SinkWants) {
	t.source.AddOrUpdateSink(sink, wants)
}

// OnDecoded delivers a decoded frame to the track's sinks.
func (t *VideoTrack) OnDecoded(frame *VideoFrame) {
	t.mu.Lock()
	b := t.remote
	t.mu.Unlock()
	if b == nil {
		log.Warn("track %s: decoded frame on a local track", t.id)
		return
	}
	b.OnFrame(frame)
}

// Close stops delivery on a remote track. Local tracks do not own their
// source.
func (t *VideoTrack) Close() error {
	t.mu.Lock()
	b := t.remote
	t.remote = nil
	t.mu.Unlock()
	if b == nil {
		return nil
	}
	return b.Close()
}
