package robot

import (
	"fmt"
	"strings"
)

// State is the control mode of the robot. The zero value is StateStop.
type State int

const (
	StateStop State = iota
	StatePositionControl
	StateVelocityControl
)

var stateNames = [...]string{
	StateStop:            "stop",
	StatePositionControl: "position",
	StateVelocityControl: "velocity",
}

func (s State) String() string {
	if s.valid() {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

func (s State) valid() bool {
	return s >= StateStop && s <= StateVelocityControl
}

// ParseState accepts the names returned by String, case-insensitively.
func ParseState(name string) (State, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for i, n := range stateNames {
		if n == name {
			return State(i), nil
		}
	}
	return StateStop, fmt.Errorf("%w: unknown state %q", ErrInvalidState, name)
}

// StateMachine holds the current control state. It is not safe for concurrent
// use; the controller guards it with its own lock.
type StateMachine struct {
	state State
}

// Current returns the active state.
func (m *StateMachine) Current() State {
	return m.state
}

// Set moves to next and returns the previous state. Leaving velocity control
// for STOP calls halt exactly once before the state is written; the state
// becomes STOP even if halt fails, and halt's error is returned.
func (m *StateMachine) Set(next State, halt func() error) (State, error) {
	old := m.state
	if !next.valid() {
		return old, fmt.Errorf("%w: %v", ErrInvalidState, next)
	}

	var err error
	if old == StateVelocityControl && next == StateStop && halt != nil {
		err = halt()
	}
	m.state = next
	return old, err
}

// Require returns ErrInvalidState unless the active state is want.
func (m *StateMachine) Require(want State, op string) error {
	if m.state != want {
		return fmt.Errorf("%w: %s needs %s control, robot is in %s", ErrInvalidState, op, want, m.state)
	}
	return nil
}
