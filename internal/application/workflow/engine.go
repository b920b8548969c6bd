package workflow

import (
	"context"

	"github.com/garyjia/po-workflow/internal/domain/entity"
	"github.com/garyjia/po-workflow/internal/domain/event"
	domainwf "github.com/garyjia/po-workflow/internal/domain/workflow"
)

// ApplyFunc mutates the loaded order inside the transition transaction.
// A returned error rolls the whole transition back.
type ApplyFunc func(ctx context.Context, po *entity.PurchaseOrder) error

// TransitionRequest describes one state change of an order
type TransitionRequest struct {
	OrderID int64
	Trigger domainwf.Trigger
	Actor   entity.Actor

	// Token is consumed in the same transaction as the state change
	Token        string
	TokenPurpose entity.TokenPurpose

	Apply ApplyFunc

	// Hold validates the trigger and persists Apply's changes without moving the status
	Hold bool

	// Authorized skips the permission check for follow-up steps of an already checked action
	Authorized bool

	ActionData map[string]interface{}

	// Events are emitted in addition to the defaults for the trigger
	Events []event.Type
}

// TransitionResult carries the order before and after the change
type TransitionResult struct {
	From   domainwf.State
	To     domainwf.State
	Before *entity.PurchaseOrder
	After  *entity.PurchaseOrder
}

// WorkflowEngine runs purchase order transitions
type WorkflowEngine interface {
	// Authorize checks that the actor may fire the trigger
	Authorize(ctx context.Context, actor entity.Actor, trigger domainwf.Trigger) error

	// Transition loads the order, fires the trigger and persists the result in one transaction
	Transition(ctx context.Context, req TransitionRequest) (*TransitionResult, error)

	// ResolveToken returns a usable token or the error describing why it cannot be used
	ResolveToken(ctx context.Context, token string, purpose entity.TokenPurpose) (*entity.ResponseToken, error)

	// AllowedActions lists what the role may do on the order now
	AllowedActions(ctx context.Context, po *entity.PurchaseOrder, role entity.Role) []domainwf.Trigger
}
