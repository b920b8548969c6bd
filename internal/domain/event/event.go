package event

import (
	"time"

	"github.com/google/uuid"

	"github.com/garyjia/po-workflow/internal/domain/entity"
)

// Event is published after a purchase order changed
type Event struct {
	ID            string                 `json:"id"`
	Type          Type                   `json:"type"`
	OrderID       int64                  `json:"orderId"`
	Actor         entity.Actor           `json:"actor"`
	Before        *entity.PurchaseOrder  `json:"before,omitempty"`
	After         *entity.PurchaseOrder  `json:"after,omitempty"`
	Payload       map[string]interface{} `json:"payload,omitempty"`
	Timestamp     time.Time              `json:"timestamp"`
	CorrelationID string                 `json:"correlationId"`
}

// NewEvent creates an event with a generated ID and timestamp
func NewEvent(eventType Type, orderID int64, actor entity.Actor, payload map[string]interface{}) *Event {
	id := uuid.NewString()
	return &Event{
		ID:            id,
		Type:          eventType,
		OrderID:       orderID,
		Actor:         actor,
		Payload:       payload,
		Timestamp:     time.Now(),
		CorrelationID: id,
	}
}

// Derive creates a follow-up event sharing the correlation ID and snapshots
func (e *Event) Derive(eventType Type) *Event {
	next := NewEvent(eventType, e.OrderID, e.Actor, copyPayload(e.Payload))
	next.Before = e.Before
	next.After = e.After
	next.CorrelationID = e.CorrelationID
	return next
}

// WithSnapshots attaches before/after copies of the order
func (e *Event) WithSnapshots(before, after *entity.PurchaseOrder) *Event {
	e.Before = before.Clone()
	e.After = after.Clone()
	return e
}

// WithPayload returns a copy of the event with an added payload entry
func (e *Event) WithPayload(key string, value interface{}) *Event {
	cp := *e
	cp.Payload = copyPayload(e.Payload)
	cp.Payload[key] = value
	return &cp
}

// Order returns the after snapshot, falling back to before
func (e *Event) Order() *entity.PurchaseOrder {
	if e.After != nil {
		return e.After
	}
	return e.Before
}

// GetPayloadString retrieves a string value from the payload
func (e *Event) GetPayloadString(key string) string {
	if val, ok := e.Payload[key]; ok {
		if str, ok := val.(string); ok {
			return str
		}
	}
	return ""
}

// GetPayloadInt retrieves an int64 value from the payload
func (e *Event) GetPayloadInt(key string) int64 {
	switch v := e.Payload[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	}
	return 0
}

// GetPayloadBool retrieves a bool value from the payload
func (e *Event) GetPayloadBool(key string) bool {
	if b, ok := e.Payload[key].(bool); ok {
		return b
	}
	return false
}

func copyPayload(src map[string]interface{}) map[string]interface{} {
	dst := make(map[string]interface{}, len(src)+1)
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
