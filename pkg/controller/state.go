package controller

import "github.com/pkg/errors"

// State is the controller lifecycle state.
type State string

const (
	StateIdle         State = "idle"
	StateInitializing State = "initializing"
	StateRunning      State = "running"
	StatePaused       State = "paused"
	StateStopping     State = "stopping"
	StateStopped      State = "stopped"
	StateError        State = "error"
)

// ErrInvalidTransition is returned for lifecycle calls that are not legal in
// the current state. It is a structured failure result, never a panic.
var ErrInvalidTransition = errors.New("controller: invalid lifecycle transition")

// active reports whether the controller is in a state the loops run under.
func (s State) active() bool {
	return s == StateRunning || s == StatePaused
}

// terminal reports whether the session is over.
func (s State) terminal() bool {
	return s == StateStopped || s == StateError
}
