package event

// Type identifies the type of domain event
type Type string

const (
	TypeOrderCreated          Type = "purchase_order.created"
	TypeStatusChanged         Type = "purchase_order.status_changed"
	TypeOrderAccepted         Type = "purchase_order.accepted"
	TypeOrderRejected         Type = "purchase_order.rejected"
	TypeOrderModified         Type = "purchase_order.modified"
	TypeOrderPartiallyReplied Type = "purchase_order.partially_responded"
	TypeModificationReviewed  Type = "purchase_order.modification_reviewed"
	TypeOrderRetried          Type = "purchase_order.retried"
	TypeOrderReassigned       Type = "purchase_order.reassigned"
	TypeReadyForDelivery      Type = "purchase_order.ready_for_delivery"
	TypeOrderDelivered        Type = "purchase_order.delivered"
	TypeOrderCancelled        Type = "purchase_order.cancelled"
	TypeOrderDeleted          Type = "purchase_order.deleted"
	TypeTokenIssued           Type = "response_token.issued"
	TypeMaterialCreated       Type = "material.created"
	TypeMaterialFailed        Type = "material.creation_failed"
)

var validTypes = map[Type]bool{
	TypeOrderCreated:          true,
	TypeStatusChanged:         true,
	TypeOrderAccepted:         true,
	TypeOrderRejected:         true,
	TypeOrderModified:         true,
	TypeOrderPartiallyReplied: true,
	TypeModificationReviewed:  true,
	TypeOrderRetried:          true,
	TypeOrderReassigned:       true,
	TypeReadyForDelivery:      true,
	TypeOrderDelivered:        true,
	TypeOrderCancelled:        true,
	TypeOrderDeleted:          true,
	TypeTokenIssued:           true,
	TypeMaterialCreated:       true,
	TypeMaterialFailed:        true,
}

func (t Type) String() string {
	return string(t)
}

// IsValid checks if the event type is one of the defined constants
func (t Type) IsValid() bool {
	return validTypes[t]
}
