package gles

import (
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
)

var ErrThreadStopped = errors.New("GL thread stopped")

// threads maps OS thread ids to running Threads.
var threads sync.Map

// Thread is a goroutine locked to one OS thread, the sole owner of a GL
// context. Work is submitted with Invoke or Post and runs in order.
type Thread struct {
	name   string
	tid    int
	exited atomic.Bool

	mu      sync.Mutex
	queue   []func()
	stopped bool
	wake    chan struct{}
	done    chan struct{}
}

// NewThread starts a worker thread.
func NewThread(name string) *Thread {
	t := &Thread{
		name: name,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	started := make(chan struct{})
	go t.run(started)
	<-started
	return t
}

func (t *Thread) run(started chan<- struct{}) {
	// Never unlocked: the OS thread exits with the goroutine, taking any
	// thread-local GL state with it.
	runtime.LockOSThread()
	defer close(t.done)
	defer t.exited.Store(true)

	t.tid = currentThreadID()
	if t.tid > 0 {
		threads.Store(t.tid, t)
		defer threads.Delete(t.tid)
	}
	close(started)
	log.Trace(2, "GL thread %s started", t.name)

	for {
		t.mu.Lock()
		if len(t.queue) == 0 {
			stopped := t.stopped
			t.mu.Unlock()
			if stopped {
				break
			}
			<-t.wake
			continue
		}
		task := t.queue[0]
		t.queue[0] = nil
		t.queue = t.queue[1:]
		t.mu.Unlock()
		task()
	}
	log.Trace(2, "GL thread %s exited", t.name)
}

func (t *Thread) Name() string { return t.name }

// CurrentThread returns the Thread the caller runs on, or nil if the caller
// is an ordinary goroutine.
func CurrentThread() *Thread {
	tid := currentThreadID()
	if tid <= 0 {
		return nil
	}
	v, ok := threads.Load(tid)
	if !ok {
		return nil
	}
	if t := v.(*Thread); t.IsCurrent() {
		return t
	}
	return nil
}

// IsCurrent reports whether the caller is running on t. It always reports
// false where thread ids are unavailable.
func (t *Thread) IsCurrent() bool {
	return t.tid > 0 && !t.exited.Load() && currentThreadID() == t.tid
}

func (t *Thread) submit(task func()) bool {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return false
	}
	t.queue = append(t.queue, task)
	t.mu.Unlock()
	t.signal()
	return true
}

func (t *Thread) signal() {
	select {
	case t.wake <- struct{}{}:
	default:
	}
}

// Invoke runs fn on the thread and returns its error. Called from the
// thread itself, fn runs inline.
func (t *Thread) Invoke(fn func() error) error {
	if t.IsCurrent() {
		return fn()
	}
	var err error
	finished := make(chan struct{})
	if !t.submit(func() {
		defer close(finished)
		err = fn()
	}) {
		return ErrThreadStopped
	}
	<-finished
	return err
}

// Post queues fn without waiting. It reports false if the thread has
// stopped.
func (t *Thread) Post(fn func()) bool {
	return t.submit(fn)
}

// Stop runs the tasks already queued, then exits the thread. It is
// idempotent; later Invoke calls return ErrThreadStopped.
func (t *Thread) Stop() {
	t.mu.Lock()
	t.stopped = true
	t.mu.Unlock()
	t.signal()
	if !t.IsCurrent() {
		<-t.done
	}
}
