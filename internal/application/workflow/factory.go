package workflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/garyjia/po-workflow/internal/domain/entity"
	domainwf "github.com/garyjia/po-workflow/internal/domain/workflow"
)

// MaxRetries is how many times a rejected order may be re-sent
const MaxRetries = 3

type orderKey struct{}

// WithOrder makes the order visible to transition guards
func WithOrder(ctx context.Context, po *entity.PurchaseOrder) context.Context {
	return context.WithValue(ctx, orderKey{}, po)
}

// OrderFromContext returns the order set by WithOrder
func OrderFromContext(ctx context.Context) *entity.PurchaseOrder {
	po, _ := ctx.Value(orderKey{}).(*entity.PurchaseOrder)
	return po
}

var errNoOrder = errors.New("no purchase order in context")

func guard(check func(po *entity.PurchaseOrder) error) domainwf.GuardFunc {
	return func(ctx context.Context) error {
		po := OrderFromContext(ctx)
		if po == nil {
			return errNoOrder
		}
		return check(po)
	}
}

var (
	bulkOnly = guard(func(po *entity.PurchaseOrder) error {
		if !po.IsBulkOrder {
			return errors.New("per-material responses require a bulk order")
		}
		return nil
	})

	materialUnlinked = guard(func(po *entity.PurchaseOrder) error {
		if po.HasLinkedMaterial() {
			return errors.New("material entries were already created from this order")
		}
		return nil
	})

	noPendingModifications = guard(func(po *entity.PurchaseOrder) error {
		for _, r := range po.MaterialResponses {
			if r.Action == entity.ActionModify {
				return fmt.Errorf("material %s has a pending modification", r.MaterialRequestID)
			}
		}
		return nil
	})

	pendingModification = guard(func(po *entity.PurchaseOrder) error {
		if !hasResponse(po, entity.ActionModify) {
			return errors.New("no material has a modification pending review")
		}
		return nil
	})

	// approving settles the order only when nothing else was rejected
	pendingModificationNoRejects = guard(func(po *entity.PurchaseOrder) error {
		if !hasResponse(po, entity.ActionModify) {
			return errors.New("no material has a modification pending review")
		}
		if hasResponse(po, entity.ActionReject) {
			return errors.New("rejected materials remain on the order")
		}
		return nil
	})

	pendingModificationNoAccepts = guard(func(po *entity.PurchaseOrder) error {
		if !hasResponse(po, entity.ActionModify) {
			return errors.New("no material has a modification pending review")
		}
		if hasResponse(po, entity.ActionAccept) {
			return errors.New("accepted materials remain on the order")
		}
		return nil
	})

	retryAllowed = guard(func(po *entity.PurchaseOrder) error {
		if !po.IsRetryable {
			return fmt.Errorf("rejection reason %s is not retryable", po.RejectionReason)
		}
		if po.RetryCount >= MaxRetries {
			return fmt.Errorf("retry limit of %d reached", MaxRetries)
		}
		return nil
	})
)

func hasResponse(po *entity.PurchaseOrder, action entity.ResponseAction) bool {
	for _, r := range po.MaterialResponses {
		if r.Action == action {
			return true
		}
	}
	return false
}

// BuildPurchaseOrderStateMachine creates a state machine for the purchase order lifecycle.
// Guards read the order from the context passed to CanFire and Fire, see WithOrder.
func BuildPurchaseOrderStateMachine(initialState domainwf.State) domainwf.StateMachine {
	builder := domainwf.NewBuilder()

	// Supplier decisions, on a fresh order or on one re-sent after modification
	for _, s := range []domainwf.State{domainwf.StateOrderSent, domainwf.StateOrderModified} {
		builder.Configure(s).
			Permit(domainwf.TriggerAccept, domainwf.StateOrderAccepted).
			Permit(domainwf.TriggerReject, domainwf.StateOrderRejected).
			Permit(domainwf.TriggerModify, domainwf.StateOrderModified).
			PermitIf(domainwf.TriggerPartialResponse, domainwf.StateOrderPartiallyResponded, bulkOnly).
			Permit(domainwf.TriggerCancel, domainwf.StateCancelled)
	}

	// PM review of a proposed modification
	builder.Configure(domainwf.StateOrderModified).
		Permit(domainwf.TriggerApproveModification, domainwf.StateOrderAccepted).
		Permit(domainwf.TriggerApproveModificationResend, domainwf.StateOrderSent).
		Permit(domainwf.TriggerRejectModification, domainwf.StateOrderSent).
		Permit(domainwf.TriggerRejectModificationClose, domainwf.StateOrderRejected)

	builder.Configure(domainwf.StateOrderPartiallyResponded).
		PermitIf(domainwf.TriggerCommitPartial, domainwf.StateOrderAccepted, noPendingModifications).
		PermitIf(domainwf.TriggerRetry, domainwf.StateOrderSent, retryAllowed).
		PermitReentry(domainwf.TriggerSendAlternatives, nil).
		Permit(domainwf.TriggerCancel, domainwf.StateCancelled)

	// Modified lines of a mixed bulk response; the order settles once every line agrees
	builder.Configure(domainwf.StateOrderPartiallyResponded).
		PermitIf(domainwf.TriggerApproveModification, domainwf.StateOrderAccepted, pendingModificationNoRejects).
		PermitReentry(domainwf.TriggerApproveModification, pendingModification).
		PermitIf(domainwf.TriggerApproveModificationResend, domainwf.StateOrderSent, pendingModification).
		PermitIf(domainwf.TriggerRejectModification, domainwf.StateOrderSent, pendingModification).
		PermitIf(domainwf.TriggerRejectModificationClose, domainwf.StateOrderRejected, pendingModificationNoAccepts).
		PermitReentry(domainwf.TriggerRejectModificationClose, pendingModification)

	builder.Configure(domainwf.StateOrderRejected).
		PermitIf(domainwf.TriggerRetry, domainwf.StateOrderSent, retryAllowed).
		PermitReentry(domainwf.TriggerSendAlternatives, nil).
		Permit(domainwf.TriggerCancel, domainwf.StateCancelled)

	builder.Configure(domainwf.StateOrderAccepted).
		PermitIf(domainwf.TriggerFulfill, domainwf.StateReadyForDelivery, materialUnlinked).
		PermitIf(domainwf.TriggerConfirmDelivery, domainwf.StateDelivered, materialUnlinked).
		PermitReentry(domainwf.TriggerCreateMaterial, materialUnlinked).
		Permit(domainwf.TriggerCancel, domainwf.StateCancelled)

	builder.Configure(domainwf.StateReadyForDelivery).
		PermitIf(domainwf.TriggerConfirmDelivery, domainwf.StateDelivered, materialUnlinked).
		PermitReentry(domainwf.TriggerCreateMaterial, materialUnlinked).
		Permit(domainwf.TriggerVerifyReceipt, domainwf.StateDelivered).
		Permit(domainwf.TriggerCancel, domainwf.StateCancelled)

	// DELIVERED and CANCELLED are terminal states - no outgoing transitions

	return builder.Build(initialState)
}

// CheckTrigger reports why the trigger cannot fire on the order now, or nil
func CheckTrigger(ctx context.Context, po *entity.PurchaseOrder, trigger domainwf.Trigger) error {
	machine := BuildPurchaseOrderStateMachine(po.Status)
	return machine.Fire(WithOrder(ctx, po), trigger)
}
