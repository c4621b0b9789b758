package capture

import (
	"fmt"

	"github.com/pkg/errors"
)

// State is the lifecycle state of a capture source.
type State int

const (
	StateUninit State = iota
	StateInit
	StateRunning
	StateStopped
	StateReleased
)

func (s State) String() string {
	switch s {
	case StateUninit:
		return "UNINIT"
	case StateInit:
		return "INIT"
	case StateRunning:
		return "RUNNING"
	case StateStopped:
		return "STOPPED"
	case StateReleased:
		return "RELEASED"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

var (
	ErrNotInitialized = errors.New("capture source not initialized")
	ErrReleased       = errors.New("capture source released")
)

// Stats counts frames through a capture source.
type Stats struct {
	// Frames latched from the producer.
	Captured uint64

	// Frames lost before delivery: overwritten in the capture queue or
	// dropped by the adapter.
	Dropped uint64

	// Deepest the capture queue has been.
	MaxQueueDepth int
}
