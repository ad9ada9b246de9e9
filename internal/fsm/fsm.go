// Package fsm implements a small deterministic automaton over named states
// and an event-keyed transition table.
//
// States are addressed by position. The last state is the unique terminal
// state; once reached, the machine ignores every further event.
package fsm

import (
	"errors"
	"fmt"
	"slices"
)

// ErrInvalidTransition is matched by every *TransitionError.
var ErrInvalidTransition = errors.New("invalid transition")

// Transitions maps a source state index to its outgoing edges
// (event name -> target state index).
type Transitions map[int]map[string]int

// TransitionError reports an event that is not an outgoing label of the
// current state.
type TransitionError struct {
	State string
	Event string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: event %q from state %q", ErrInvalidTransition, e.Event, e.State)
}

// Is lets errors.Is(err, ErrInvalidTransition) match.
func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// Machine is a deterministic automaton. Not goroutine-safe.
//
// INVARIANTS:
//   - index is always a valid position in states
//   - once index reaches the last position it never changes
type Machine struct {
	states      []string
	index       int
	transitions Transitions
}

// New builds a machine positioned at initial.
//
// The state list must be non-empty with distinct names, every transition
// source and target must be in range, and the terminal state must have no
// outgoing edges. The transition table is copied.
func New(initial string, states []string, transitions Transitions) (*Machine, error) {
	if len(states) == 0 {
		return nil, fmt.Errorf("fsm: at least one state is required")
	}

	seen := make(map[string]bool, len(states))
	for _, s := range states {
		if seen[s] {
			return nil, fmt.Errorf("fsm: duplicate state %q", s)
		}
		seen[s] = true
	}

	index := slices.Index(states, initial)
	if index < 0 {
		return nil, fmt.Errorf("fsm: initial state %q not in state list", initial)
	}

	terminal := len(states) - 1
	table := make(Transitions, len(transitions))
	for from, edges := range transitions {
		if from < 0 || from > terminal {
			return nil, fmt.Errorf("fsm: transition source %d out of range", from)
		}
		if from == terminal && len(edges) > 0 {
			return nil, fmt.Errorf("fsm: terminal state %q must not have transitions", states[terminal])
		}
		copied := make(map[string]int, len(edges))
		for event, to := range edges {
			if to < 0 || to > terminal {
				return nil, fmt.Errorf("fsm: transition %q from %q targets %d, out of range", event, states[from], to)
			}
			copied[event] = to
		}
		table[from] = copied
	}

	return &Machine{
		states:      slices.Clone(states),
		index:       index,
		transitions: table,
	}, nil
}

// Transit advances the machine along the edge labelled event.
//
// A finished machine ignores the call and returns nil. Otherwise an event
// that is not an outgoing label of the current state returns a
// *TransitionError and leaves the machine unchanged.
func (m *Machine) Transit(event string) error {
	if m.IsFinished() {
		return nil
	}
	to, ok := m.transitions[m.index][event]
	if !ok {
		return &TransitionError{State: m.states[m.index], Event: event}
	}
	m.index = to
	return nil
}

// IsNextValidEvent reports whether event is an outgoing label of the
// current state. No side effects.
func (m *Machine) IsNextValidEvent(event string) bool {
	_, ok := m.transitions[m.index][event]
	return ok
}

// IsFinished reports whether the machine sits on the terminal state.
func (m *Machine) IsFinished() bool {
	return m.index == len(m.states)-1
}

// CurrentState returns the name of the current state.
func (m *Machine) CurrentState() string {
	return m.states[m.index]
}

// Index returns the position of the current state.
func (m *Machine) Index() int {
	return m.index
}

// States returns a copy of the ordered state list.
func (m *Machine) States() []string {
	return slices.Clone(m.states)
}
