package workflow

import (
	"context"
	"strings"

	"github.com/garyjia/po-workflow/internal/domain/entity"
	"github.com/garyjia/po-workflow/internal/domain/event"
	domainwf "github.com/garyjia/po-workflow/internal/domain/workflow"
)

// triggerPermissions maps each trigger to the permission it requires
var triggerPermissions = map[domainwf.Trigger]string{
	domainwf.TriggerAccept:                    entity.PermAcceptPurchaseOrder,
	domainwf.TriggerReject:                    entity.PermRejectPurchaseOrder,
	domainwf.TriggerModify:                    entity.PermModifyPurchaseOrder,
	domainwf.TriggerPartialResponse:           entity.PermModifyPurchaseOrder,
	domainwf.TriggerApproveModification:       entity.PermEditPurchaseOrder,
	domainwf.TriggerApproveModificationResend: entity.PermEditPurchaseOrder,
	domainwf.TriggerRejectModification:        entity.PermEditPurchaseOrder,
	domainwf.TriggerRejectModificationClose:   entity.PermEditPurchaseOrder,
	domainwf.TriggerCommitPartial:             entity.PermEditPurchaseOrder,
	domainwf.TriggerFulfill:                   entity.PermFulfillPurchaseOrder,
	domainwf.TriggerConfirmDelivery:           entity.PermConfirmDelivery,
	domainwf.TriggerCreateMaterial:            entity.PermCreateMaterialFromOrder,
	domainwf.TriggerVerifyReceipt:             entity.PermVerifyDelivery,
	domainwf.TriggerRetry:                     entity.PermEditPurchaseOrder,
	domainwf.TriggerSendAlternatives:          entity.PermCreatePurchaseOrder,
	domainwf.TriggerCancel:                    entity.PermCancelPurchaseOrder,
}

// rolePermissions grants permission patterns per role.
// A pattern is an exact name, "*", a prefix ending in "_*" or a suffix starting with "*_".
var rolePermissions = map[entity.Role][]string{
	entity.RoleOwner: {
		"view_*",
		"create_purchase_order",
		"edit_purchase_order",
		"cancel_purchase_order",
		"delete_purchase_order",
		"confirm_delivery",
		"create_material_from_order",
		"manage_*",
	},
	entity.RolePM: {
		"view_*",
		"create_purchase_order",
		"edit_purchase_order",
		"cancel_purchase_order",
		"confirm_delivery",
		"create_material_from_order",
		"manage_suppliers",
	},
	entity.RoleClerk: {
		"view_purchase_order",
		"verify_delivery",
	},
	entity.RoleSupplier: {
		"view_purchase_order",
		"accept_purchase_order",
		"reject_purchase_order",
		"modify_purchase_order",
		"fulfill_purchase_order",
	},
	entity.RoleSystem: {
		"view_*",
		"create_material_from_order",
		"cancel_purchase_order",
	},
}

// tokenTriggers are the actions a supplier may take through a response link
var tokenTriggers = map[domainwf.Trigger]bool{
	domainwf.TriggerAccept:          true,
	domainwf.TriggerReject:          true,
	domainwf.TriggerModify:          true,
	domainwf.TriggerPartialResponse: true,
	domainwf.TriggerFulfill:         true,
}

// transitionEvents lists the specific events emitted after a trigger, besides status_changed
var transitionEvents = map[domainwf.Trigger][]event.Type{
	domainwf.TriggerAccept:                    {event.TypeOrderAccepted},
	domainwf.TriggerReject:                    {event.TypeOrderRejected},
	domainwf.TriggerModify:                    {event.TypeOrderModified},
	domainwf.TriggerPartialResponse:           {event.TypeOrderPartiallyReplied},
	domainwf.TriggerApproveModification:       {event.TypeModificationReviewed, event.TypeOrderAccepted},
	domainwf.TriggerApproveModificationResend: {event.TypeModificationReviewed},
	domainwf.TriggerRejectModification:        {event.TypeModificationReviewed},
	domainwf.TriggerRejectModificationClose:   {event.TypeModificationReviewed, event.TypeOrderRejected},
	domainwf.TriggerCommitPartial:             {event.TypeOrderAccepted},
	domainwf.TriggerFulfill:                   {event.TypeReadyForDelivery},
	domainwf.TriggerConfirmDelivery:           {event.TypeOrderDelivered},
	domainwf.TriggerVerifyReceipt:             {event.TypeOrderDelivered},
	domainwf.TriggerRetry:                     {event.TypeOrderRetried},
	domainwf.TriggerCancel:                    {event.TypeOrderCancelled},
}

// settledEvents announce a status and are skipped when the order stayed where it was
var settledEvents = map[event.Type]bool{
	event.TypeOrderAccepted: true,
	event.TypeOrderRejected: true,
}

// PermissionFor returns the permission a trigger requires
func PermissionFor(trigger domainwf.Trigger) string {
	return triggerPermissions[trigger]
}

// MatchesPermission reports whether a granted pattern covers the required permission
func MatchesPermission(granted, required string) bool {
	if granted == required || granted == "*" {
		return true
	}
	if prefix, ok := strings.CutSuffix(granted, "*"); ok && strings.HasSuffix(prefix, "_") {
		return strings.HasPrefix(required, prefix)
	}
	if suffix, ok := strings.CutPrefix(granted, "*"); ok && strings.HasPrefix(suffix, "_") {
		return strings.HasSuffix(required, suffix)
	}
	return false
}

// RoleHasPermission checks the static role table
func RoleHasPermission(role entity.Role, permission string) bool {
	for _, granted := range rolePermissions[role] {
		if MatchesPermission(granted, permission) {
			return true
		}
	}
	return false
}

// RoleCanFire reports whether a role may perform a trigger at all
func RoleCanFire(role entity.Role, trigger domainwf.Trigger) bool {
	perm, ok := triggerPermissions[trigger]
	return ok && RoleHasPermission(role, perm)
}

// TokenCanFire reports whether a trigger may be performed through a response link
func TokenCanFire(trigger domainwf.Trigger) bool {
	return tokenTriggers[trigger]
}

// AllowedActions lists the triggers a role may fire on the order right now, guards included
func AllowedActions(ctx context.Context, po *entity.PurchaseOrder, role entity.Role) []domainwf.Trigger {
	if po == nil || po.IsDeleted() {
		return []domainwf.Trigger{}
	}

	machine := BuildPurchaseOrderStateMachine(po.Status)
	gctx := WithOrder(ctx, po)

	allowed := make([]domainwf.Trigger, 0)
	for _, trigger := range machine.PermittedTriggers() {
		if !RoleCanFire(role, trigger) {
			continue
		}
		if machine.CanFire(gctx, trigger) {
			allowed = append(allowed, trigger)
		}
	}
	return allowed
}
