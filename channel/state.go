package channel

import "fmt"

// State is the channel lifecycle "State machine":
// Created -> Bootstrapped -> Running <-> Draining -> Drained -> Disposed.
// Writes are rejected outside Running.
type State int

const (
	Created State = iota
	Bootstrapped
	Running
	Draining
	Drained
	Disposed
)

func (s State) String() string {
	switch s {
		case Created:
		return "Created"
		case Bootstrapped:
		return "Bootstrapped"
		case Running:
		return "Running"
		case Draining:
		return "Draining"
		case Drained:
		return "Drained"
		case Disposed:
		return "Disposed"
		default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// validTransitions enumerates the edgesA's state machine
// allows; transition rejects anything else.
var validTransitions = map[State][]State{
	Created: {Bootstrapped},
	// Bootstrapped -> Drained is used by a dual-target orchestrator's
	// Reindex mode: the secondary is bootstrapped but never armed for
	// direct writes, so it is trivially drained once the primary's
	// drain/reindex has populated it.
	Bootstrapped: {Running, Drained},
	Running: {Draining},
	Draining: {Running, Drained},
	Drained: {Disposed},
}

func canTransition(from, to State) bool {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}
