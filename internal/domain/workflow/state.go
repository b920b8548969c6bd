package workflow

// State represents a purchase order status
type State string

const (
	StateOrderSent               State = "order_sent"
	StateOrderAccepted           State = "order_accepted"
	StateOrderRejected           State = "order_rejected"
	StateOrderModified           State = "order_modified"
	StateOrderPartiallyResponded State = "order_partially_responded"
	StateReadyForDelivery        State = "ready_for_delivery"
	StateDelivered               State = "delivered"
	StateCancelled               State = "cancelled"
)

var validStates = map[State]bool{
	StateOrderSent:               true,
	StateOrderAccepted:           true,
	StateOrderRejected:           true,
	StateOrderModified:           true,
	StateOrderPartiallyResponded: true,
	StateReadyForDelivery:        true,
	StateDelivered:               true,
	StateCancelled:               true,
}

var terminalStates = map[State]bool{
	StateDelivered: true,
	StateCancelled: true,
}

// AllStates lists every status in lifecycle order
func AllStates() []State {
	return []State{
		StateOrderSent,
		StateOrderAccepted,
		StateOrderRejected,
		StateOrderModified,
		StateOrderPartiallyResponded,
		StateReadyForDelivery,
		StateDelivered,
		StateCancelled,
	}
}

// IsTerminal returns true if no further transitions are allowed
func (s State) IsTerminal() bool {
	return terminalStates[s]
}

// AwaitingSupplier reports whether the supplier may still respond
func (s State) AwaitingSupplier() bool {
	return s == StateOrderSent || s == StateOrderModified
}

func (s State) String() string {
	return string(s)
}

// IsValid returns true if the state is a known status
func (s State) IsValid() bool {
	return validStates[s]
}
