package entity

import "time"

// Notification types
const (
	NotificationOrderSent             = "purchase_order_sent"
	NotificationOrderAccepted         = "purchase_order_accepted"
	NotificationOrderRejected         = "purchase_order_rejected"
	NotificationOrderModified         = "purchase_order_modified"
	NotificationOrderPartial          = "purchase_order_partially_responded"
	NotificationModificationReviewed  = "purchase_order_modification_reviewed"
	NotificationReadyForDelivery      = "purchase_order_ready_for_delivery"
	NotificationDelivered             = "purchase_order_delivered"
	NotificationCancelled             = "purchase_order_cancelled"
	NotificationMaterialCreationError = "material_creation_failed"
)

// Notification is an in-app message for an internal user
type Notification struct {
	ID           int64      `json:"id"`
	UserID       string     `json:"userId"`
	Type         string     `json:"type"`
	Title        string     `json:"title"`
	Message      string     `json:"message"`
	RelatedModel string     `json:"relatedModel"`
	RelatedID    string     `json:"relatedId"`
	ProjectID    string     `json:"projectId"`
	CreatedBy    string     `json:"createdBy"`
	ReadAt       *time.Time `json:"readAt,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
}
