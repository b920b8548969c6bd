package workflow

import (
	"context"
	"errors"
	"testing"
)

func TestState_IsTerminal(t *testing.T) {
	tests := []struct {
		state    State
		expected bool
	}{
		{StateOrderSent, false},
		{StateOrderAccepted, false},
		{StateOrderRejected, false},
		{StateOrderModified, false},
		{StateOrderPartiallyResponded, false},
		{StateReadyForDelivery, false},
		{StateDelivered, true},
		{StateCancelled, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.state), func(t *testing.T) {
			if got := tt.state.IsTerminal(); got != tt.expected {
				t.Errorf("State.IsTerminal() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestState_IsValid(t *testing.T) {
	tests := []struct {
		name     string
		state    State
		expected bool
	}{
		{"initial state", StateOrderSent, true},
		{"terminal state", StateDelivered, true},
		{"unknown state", State("shipped"), false},
		{"empty state", State(""), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.state.IsValid(); got != tt.expected {
				t.Errorf("State.IsValid() = %v, want %v", got, tt.expected)
			}
		})
	}

	for _, s := range AllStates() {
		if !s.IsValid() {
			t.Errorf("AllStates() contains invalid state %s", s)
		}
	}
}

func TestState_AwaitingSupplier(t *testing.T) {
	if !StateOrderSent.AwaitingSupplier() || !StateOrderModified.AwaitingSupplier() {
		t.Error("sent and modified orders should await the supplier")
	}
	if StateOrderAccepted.AwaitingSupplier() {
		t.Error("accepted orders should not await the supplier")
	}
}

func TestBuilder_ConfigureReturnsSameConfig(t *testing.T) {
	builder := NewBuilder()

	config := builder.Configure(StateOrderSent)
	if config == nil {
		t.Fatal("Configure() returned nil")
	}

	if config2 := builder.Configure(StateOrderSent); config != config2 {
		t.Error("Configure() should return same config for same state")
	}
}

func TestBuilder_PanicsOnInvalidStates(t *testing.T) {
	tests := []struct {
		name string
		fn   func(b StateMachineBuilder)
	}{
		{"configure", func(b StateMachineBuilder) { b.Configure(State("INVALID")) }},
		{"build", func(b StateMachineBuilder) { b.Build(State("INVALID")) }},
		{"permit target", func(b StateMachineBuilder) {
			b.Configure(StateOrderSent).Permit(TriggerAccept, State("INVALID"))
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defer func() {
				if r := recover(); r == nil {
					t.Errorf("%s should panic on invalid state", tt.name)
				}
			}()
			tt.fn(NewBuilder())
		})
	}
}

func TestStateMachine_Permit(t *testing.T) {
	builder := NewBuilder()
	builder.Configure(StateOrderSent).
		Permit(TriggerAccept, StateOrderAccepted)

	machine := builder.Build(StateOrderSent)

	if !machine.CanFire(context.Background(), TriggerAccept) {
		t.Error("CanFire() should return true for permitted trigger")
	}

	if err := machine.Fire(context.Background(), TriggerAccept); err != nil {
		t.Errorf("Fire() failed: %v", err)
	}

	if machine.State() != StateOrderAccepted {
		t.Errorf("State after Fire() = %v, want %v", machine.State(), StateOrderAccepted)
	}
}

func TestStateMachine_GuardFailsWithReason(t *testing.T) {
	builder := NewBuilder()
	builder.Configure(StateOrderRejected).
		PermitIf(TriggerRetry, StateOrderSent, func(ctx context.Context) error {
			return errors.New("retry limit reached")
		})

	machine := builder.Build(StateOrderRejected)

	if machine.CanFire(context.Background(), TriggerRetry) {
		t.Error("CanFire() should evaluate guards")
	}

	err := machine.Fire(context.Background(), TriggerRetry)
	if !errors.Is(err, ErrGuardFailed) || !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("Fire() error = %v, want guard failure", err)
	}

	var te *TransitionError
	if !errors.As(err, &te) {
		t.Fatalf("Fire() error should be a *TransitionError, got %T", err)
	}
	if te.From != StateOrderRejected || te.Trigger != TriggerRetry || te.Reason != "retry limit reached" {
		t.Errorf("unexpected transition error %+v", te)
	}

	if machine.State() != StateOrderRejected {
		t.Errorf("State should remain %v after failed Fire(), got %v", StateOrderRejected, machine.State())
	}
}

type modeKey struct{}

func TestStateMachine_FirstPassingGuardWins(t *testing.T) {
	builder := NewBuilder()
	builder.Configure(StateOrderModified).
		PermitIf(TriggerApproveModification, StateOrderAccepted, func(ctx context.Context) error {
			if ctx.Value(modeKey{}) == "commit" {
				return nil
			}
			return errors.New("not committing")
		}).
		Permit(TriggerApproveModification, StateOrderSent)

	m1 := builder.Build(StateOrderModified)
	if err := m1.Fire(context.WithValue(context.Background(), modeKey{}, "commit"), TriggerApproveModification); err != nil {
		t.Fatalf("Fire() failed: %v", err)
	}
	if m1.State() != StateOrderAccepted {
		t.Errorf("State = %v, want %v", m1.State(), StateOrderAccepted)
	}

	m2 := builder.Build(StateOrderModified)
	if err := m2.Fire(context.Background(), TriggerApproveModification); err != nil {
		t.Fatalf("Fire() failed: %v", err)
	}
	if m2.State() != StateOrderSent {
		t.Errorf("State = %v, want %v", m2.State(), StateOrderSent)
	}
}

func TestStateMachine_PermitReentry(t *testing.T) {
	builder := NewBuilder()
	builder.Configure(StateReadyForDelivery).
		PermitReentry(TriggerCreateMaterial, nil)

	machine := builder.Build(StateReadyForDelivery)
	if err := machine.Fire(context.Background(), TriggerCreateMaterial); err != nil {
		t.Fatalf("Fire() failed: %v", err)
	}
	if machine.State() != StateReadyForDelivery {
		t.Errorf("State = %v, want %v", machine.State(), StateReadyForDelivery)
	}
}

func TestStateMachine_Fire_InvalidTransition(t *testing.T) {
	builder := NewBuilder()
	builder.Configure(StateOrderSent).
		Permit(TriggerAccept, StateOrderAccepted)

	machine := builder.Build(StateOrderSent)

	err := machine.Fire(context.Background(), TriggerVerifyReceipt)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("Fire() error = %v, want %v", err, ErrInvalidTransition)
	}
	if errors.Is(err, ErrGuardFailed) {
		t.Error("missing edge should not report a guard failure")
	}
	if machine.State() != StateOrderSent {
		t.Errorf("State should remain %v after failed Fire(), got %v", StateOrderSent, machine.State())
	}
}

func TestStateMachine_Fire_NoConfiguration(t *testing.T) {
	machine := NewBuilder().Build(StateDelivered)

	err := machine.Fire(context.Background(), TriggerCancel)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Fire() error = %v, want %v", err, ErrInvalidTransition)
	}
	if got := machine.PermittedTriggers(); len(got) != 0 {
		t.Errorf("PermittedTriggers() = %v, want none", got)
	}
}

func TestStateMachine_PermittedTriggersSorted(t *testing.T) {
	builder := NewBuilder()
	builder.Configure(StateOrderSent).
		Permit(TriggerReject, StateOrderRejected).
		Permit(TriggerAccept, StateOrderAccepted).
		Permit(TriggerCancel, StateCancelled)

	machine := builder.Build(StateOrderSent)

	triggers := machine.PermittedTriggers()
	want := []Trigger{TriggerAccept, TriggerCancel, TriggerReject}
	if len(triggers) != len(want) {
		t.Fatalf("PermittedTriggers() = %v, want %v", triggers, want)
	}
	for i := range want {
		if triggers[i] != want[i] {
			t.Errorf("PermittedTriggers()[%d] = %v, want %v", i, triggers[i], want[i])
		}
	}
}

func TestStateMachine_Immutability(t *testing.T) {
	builder := NewBuilder()
	builder.Configure(StateOrderSent).
		Permit(TriggerAccept, StateOrderAccepted)

	machine1 := builder.Build(StateOrderSent)
	machine2 := builder.Build(StateOrderSent)

	if err := machine1.Fire(context.Background(), TriggerAccept); err != nil {
		t.Errorf("Fire() failed: %v", err)
	}

	if machine2.State() != StateOrderSent {
		t.Errorf("machine2 state = %v, want %v (machines should be independent)", machine2.State(), StateOrderSent)
	}

	// edges added after Build must not leak into built machines
	builder.Configure(StateOrderSent).Permit(TriggerCancel, StateCancelled)
	if machine2.CanFire(context.Background(), TriggerCancel) {
		t.Error("machine2 should not see edges configured after Build()")
	}
}

func TestTransitionError_Message(t *testing.T) {
	err := NewTransitionError(StateDelivered, TriggerCancel)
	if got := err.Error(); got != "cannot cancel purchase order in status delivered" {
		t.Errorf("Error() = %q", got)
	}

	guarded := NewGuardError(StateOrderRejected, TriggerRetry, "retry limit reached")
	if got := guarded.Error(); got != "cannot retry purchase order in status order_rejected: retry limit reached" {
		t.Errorf("Error() = %q", got)
	}
}
