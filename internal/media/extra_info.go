package media

import "sync"

// FrameExtraInfo is the metadata of a frame submitted to a codec, recovered
// when the codec emits the matching output.
type FrameExtraInfo struct {
	// Presentation timestamp the codec echoes back, in microseconds.
	PTS int64

	TimestampUs  int64
	RTPTimestamp uint32
	NTPTimeMs    int64
	Rotation     Rotation
}

// ExtraInfoQueue pairs codec outputs with their inputs. Codecs may drop
// frames internally, so matching discards records older than the output.
type ExtraInfoQueue struct {
	mu    sync.Mutex
	items []FrameExtraInfo
}

func (q *ExtraInfoQueue) Push(info FrameExtraInfo) {
	q.mu.Lock()
	q.items = append(q.items, info)
	q.mu.Unlock()
}

// Match removes and returns the record for pts. Records with an earlier PTS
// are dropped. If no record matches, the queue is left holding only records
// later than pts and ok is false.
func (q *ExtraInfoQueue) Match(pts int64) (info FrameExtraInfo, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	i := 0
	for i < len(q.items) && q.items[i].PTS < pts {
		i++
	}
	if i > 0 {
		log.Debug("Dropping %d extra info records before pts %d", i, pts)
	}
	if i < len(q.items) && q.items[i].PTS == pts {
		info, ok = q.items[i], true
		i++
	}
	q.items = append(q.items[:0], q.items[i:]...)
	return info, ok
}

func (q *ExtraInfoQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *ExtraInfoQueue) Clear() {
	q.mu.Lock()
	q.items = nil
	q.mu.Unlock()
}
