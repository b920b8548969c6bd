package service

import (
	"github.com/garyjia/po-workflow/internal/application/dispatcher"
	"github.com/garyjia/po-workflow/internal/domain/event"
)

var auditedEvents = []event.Type{
	event.TypeStatusChanged,
	event.TypeOrderCreated,
	event.TypeOrderDeleted,
	event.TypeOrderReassigned,
	event.TypeMaterialCreated,
	event.TypeMaterialFailed,
}

var notifiedEvents = []event.Type{
	event.TypeOrderAccepted,
	event.TypeOrderRejected,
	event.TypeOrderModified,
	event.TypeOrderPartiallyReplied,
	event.TypeModificationReviewed,
	event.TypeReadyForDelivery,
	event.TypeOrderDelivered,
	event.TypeOrderCancelled,
	event.TypeMaterialFailed,
}

// RegisterHandlers subscribes the side-effect handlers
func RegisterHandlers(d dispatcher.Dispatcher, audit AuditService, notifications NotificationService) {
	for _, t := range auditedEvents {
		d.SubscribeNamed(t, "audit", audit.RecordEvent)
	}
	for _, t := range notifiedEvents {
		d.SubscribeNamed(t, "notify", notifications.NotifyOrderEvent)
	}
	d.SubscribeNamed(event.TypeTokenIssued, "supplier_link", notifications.SendSupplierLink)
	d.SubscribeNamed(event.TypeOrderRejected, "classify_rejection", notifications.ClassifyRejection)
	d.SubscribeNamed(event.TypeOrderPartiallyReplied, "classify_rejection", notifications.ClassifyRejection)
}
