package entity

import "time"

// StatusHistory is one step of an order's workflow trail
type StatusHistory struct {
	ID              int64     `json:"id"`
	PurchaseOrderID int64     `json:"purchaseOrderId"`
	ActorUserID     string    `json:"actorUserId"`
	ActorRole       Role      `json:"actorRole"`
	PreviousStatus  string    `json:"previousStatus"`
	NewStatus       string    `json:"newStatus"`
	ActionType      string    `json:"actionType"`
	ActionData      string    `json:"actionData,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}

// AuditChanges holds before/after snapshots
type AuditChanges struct {
	Before interface{} `json:"before"`
	After  interface{} `json:"after"`
}

// AuditLog records who changed what
type AuditLog struct {
	ID         int64        `json:"id"`
	UserID     string       `json:"userId"`
	Action     string       `json:"action"`
	EntityType string       `json:"entityType"`
	EntityID   string       `json:"entityId"`
	ProjectID  string       `json:"projectId"`
	Changes    AuditChanges `json:"changes"`
	CreatedAt  time.Time    `json:"createdAt"`
}
