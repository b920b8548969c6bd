package workflow

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidTransition is returned when a state transition is not allowed
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrInvalidState is returned when a state is not valid
	ErrInvalidState = errors.New("invalid state")

	// ErrGuardFailed is returned when a guard condition fails
	ErrGuardFailed = errors.New("guard condition failed")
)

// TransitionError identifies the state and trigger of a rejected transition.
// It matches ErrInvalidTransition, and ErrGuardFailed when a guard refused it.
type TransitionError struct {
	From    State
	Trigger Trigger
	Reason  string
	guarded bool
}

// NewTransitionError builds an error for a trigger that has no edge from the state
func NewTransitionError(from State, trigger Trigger) *TransitionError {
	return &TransitionError{From: from, Trigger: trigger}
}

// NewGuardError builds an error for a trigger whose guard refused the transition
func NewGuardError(from State, trigger Trigger, reason string) *TransitionError {
	return &TransitionError{From: from, Trigger: trigger, Reason: reason, guarded: true}
}

func (e *TransitionError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("cannot %s purchase order in status %s: %s", e.Trigger, e.From, e.Reason)
	}
	return fmt.Sprintf("cannot %s purchase order in status %s", e.Trigger, e.From)
}

func (e *TransitionError) Unwrap() []error {
	if e.guarded {
		return []error{ErrInvalidTransition, ErrGuardFailed}
	}
	return []error{ErrInvalidTransition}
}
