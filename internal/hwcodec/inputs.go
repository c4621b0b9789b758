package hwcodec

import (
	"sync"
	"time"

	"github.com/lanikai/alohavideo/internal/media"
)

type inputSlot struct {
	index uint32
	buf   *media.SharedBuffer
}

// inputQueue holds the input buffers a codec has lent out, until Encode or
// Decode claims one.
type inputQueue struct {
	mu     sync.Mutex
	slots  []inputSlot
	closed bool

	// Signalled on every put.
	ready chan struct{}
	done  chan struct{}
}

func newInputQueue() *inputQueue {
	return &inputQueue{ready: make(chan struct{}, 1), done: make(chan struct{})}
}

func (q *inputQueue) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

func (q *inputQueue) put(slot inputSlot) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.slots = append(q.slots, slot)
	q.mu.Unlock()
	q.signal()
}

// take removes the oldest slot, waiting up to timeout for one to arrive.
func (q *inputQueue) take(timeout time.Duration) (inputSlot, error) {
	var timer <-chan time.Time
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return inputSlot{}, errStopped
		}
		if len(q.slots) > 0 {
			slot := q.slots[0]
			q.slots = q.slots[1:]
			more := len(q.slots) > 0
			q.mu.Unlock()
			if more {
				// Pass the wakeup on to the next waiter.
				q.signal()
			}
			return slot, nil
		}
		q.mu.Unlock()

		if timer == nil {
			t := time.NewTimer(timeout)
			defer t.Stop()
			timer = t.C
		}
		select {
		case <-q.ready:
		case <-q.done:
		case <-timer:
			return inputSlot{}, ErrTimeout
		}
	}
}

// unget returns a slot that was taken but not submitted.
func (q *inputQueue) unget(slot inputSlot) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.slots = append([]inputSlot{slot}, q.slots...)
	q.mu.Unlock()
	q.signal()
}

func (q *inputQueue) pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.slots)
}

// close wakes every waiter and drops the queued slots.
func (q *inputQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		q.slots = nil
		close(q.done)
	}
}
