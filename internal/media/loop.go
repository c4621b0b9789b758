package media

import (
	"sync"
)

// A LoopFunc is a long-running function, e.g. a delivery loop. It must
// return promptly once quit is closed.
type LoopFunc func(quit <-chan struct{})

// Loop runs a LoopFunc in at most one goroutine. Start and Stop are
// counted: the function starts on the first Start and is asked to quit
// once every Start has been matched by a Stop. A Stop without a matching
// Start is ignored.
type Loop struct {
	name string
	run  LoopFunc

	mu    sync.Mutex
	users int
	runs  int

	// Nil while the function is not running.
	quit chan struct{}
	done chan struct{}
}

func NewLoop(name string, run LoopFunc) *Loop {
	return &Loop{name: name, run: run}
}

func (l *Loop) Name() string { return l.name }

// Start reports whether the call started the function.
func (l *Loop) Start() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.users++
	if l.users > 1 {
		return false
	}

	quit, done := make(chan struct{}), make(chan struct{})
	l.quit, l.done = quit, done
	l.runs++
	log.Debug("Starting loop %s", l.name)
	go func() {
		defer close(done)
		l.run(quit)
	}()
	return true
}

// Stop reports whether the call stopped the function. In that case the
// function has returned by the time Stop does, so nothing it was doing is
// still in progress.
func (l *Loop) Stop() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.users == 0 {
		return false
	}
	l.users--
	if l.users > 0 {
		return false
	}

	log.Debug("Stopping loop %s", l.name)
	close(l.quit)
	<-l.done
	l.quit, l.done = nil, nil
	return true
}

// Running reports whether the function is running.
func (l *Loop) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.users > 0
}

// Runs returns how many times the function has been started.
func (l *Loop) Runs() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.runs
}
