// Package lifecycle implements the created → active → shutting-down →
// terminated state machine shared by handlers, the dispatcher and clients.
package lifecycle

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// State is a lifecycle stage.
type State int32

const (
	Created State = iota
	Active
	ShuttingDown
	Terminated
	// Failed marks an instance whose construction failed; it never activates.
	Failed
)

func (s State) String() string {
	switch s {
	case Created:
		return "created"
	case Active:
		return "active"
	case ShuttingDown:
		return "shutting-down"
	case Terminated:
		return "terminated"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Lifecycle holds a State and moves it forward with atomic transitions.
// The zero value is in the Created state.
type Lifecycle struct {
	state     atomic.Int32
	initOnce  sync.Once
	closeOnce sync.Once
	done      chan struct{}
}

// Current returns the current state.
func (l *Lifecycle) Current() State {
	return State(l.state.Load())
}

// IsActive reports whether the lifecycle is in the Active state.
func (l *Lifecycle) IsActive() bool {
	return l.Current() == Active
}

// Transition moves from one state to another atomically. It returns false,
// leaving the state untouched, when the current state is not from.
func (l *Lifecycle) Transition(from, to State) bool {
	if !l.state.CompareAndSwap(int32(from), int32(to)) {
		return false
	}
	if to == Terminated || to == Failed {
		l.closeOnce.Do(func() { close(l.doneCh()) })
	}
	return true
}

// Fail marks a Created lifecycle as Failed.
func (l *Lifecycle) Fail() bool {
	return l.Transition(Created, Failed)
}

// Activate moves Created → Active.
func (l *Lifecycle) Activate() bool {
	return l.Transition(Created, Active)
}

// BeginShutdown moves Active → ShuttingDown. Exactly one caller wins.
func (l *Lifecycle) BeginShutdown() bool {
	return l.Transition(Active, ShuttingDown)
}

// Finish moves ShuttingDown → Terminated.
func (l *Lifecycle) Finish() bool {
	return l.Transition(ShuttingDown, Terminated)
}

// Done returns a channel closed once the lifecycle reaches Terminated or Failed.
func (l *Lifecycle) Done() <-chan struct{} {
	return l.doneCh()
}

func (l *Lifecycle) doneCh() chan struct{} {
	l.initOnce.Do(func() { l.done = make(chan struct{}) })
	return l.done
}
