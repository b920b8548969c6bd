package workflow

import "context"

// StateMachine tracks the current state and validates transitions
type StateMachine interface {
	// State returns the current state
	State() State

	// CanFire reports whether the trigger is permitted now, guards included
	CanFire(ctx context.Context, trigger Trigger) bool

	// Fire executes the trigger, leaving the state unchanged on error
	Fire(ctx context.Context, trigger Trigger) error

	// PermittedTriggers returns the triggers configured for the current state, sorted.
	// Guards are not evaluated.
	PermittedTriggers() []Trigger
}
