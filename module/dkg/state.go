package dkg

import "fmt"

// State is the state of a DKG session.
type State uint8

const (
	Idle State = iota
	Proposing
	Acking
	Complete
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Proposing:
		return "Proposing"
	case Acking:
		return "Acking"
	case Complete:
		return "Complete"
	case Failed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// Done returns true for terminal states.
func (s State) Done() bool {
	return s == Complete || s == Failed
}

// canTransition lists the allowed state changes of a session.
func (s State) canTransition(to State) bool {
	switch s {
	case Idle:
		return to == Proposing
	case Proposing:
		return to == Acking || to == Complete || to == Failed
	case Acking:
		return to == Complete || to == Failed
	default:
		return false
	}
}

// InvalidStateTransitionError happens when an invalid DKG state transition is
// attempted.
type InvalidStateTransitionError struct {
	From State
	To   State
}

func (e InvalidStateTransitionError) Error() string {
	return fmt.Sprintf("Invalid DKG state transition from %s to %s", e.From, e.To)
}

// NewInvalidStateTransitionError creates a new InvalidStateTransitionError
// between the specified states.
func NewInvalidStateTransitionError(from State, to State) InvalidStateTransitionError {
	return InvalidStateTransitionError{
		From: from,
		To:   to,
	}
}
