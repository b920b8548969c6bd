package entity

import "time"

// TokenPurpose distinguishes the public links a supplier receives
type TokenPurpose string

const (
	TokenPurposeResponse    TokenPurpose = "response"
	TokenPurposeFulfillment TokenPurpose = "fulfillment"
)

// ResponseToken is a single-use credential behind a public supplier link
type ResponseToken struct {
	Token           string       `json:"token"`
	PurchaseOrderID int64        `json:"purchaseOrderId"`
	Purpose         TokenPurpose `json:"purpose"`
	ExpiresAt       time.Time    `json:"expiresAt"`
	UsedAt          *time.Time   `json:"usedAt,omitempty"`
	UsedAction      string       `json:"usedAction,omitempty"`
	RevokedAt       *time.Time   `json:"revokedAt,omitempty"`
	CreatedAt       time.Time    `json:"createdAt"`
}

// IsUsed reports whether the token was consumed
func (t *ResponseToken) IsUsed() bool {
	return t.UsedAt != nil
}

// IsExpired reports whether the token can no longer be used at now.
// Revoked tokens count as expired.
func (t *ResponseToken) IsExpired(now time.Time) bool {
	return t.RevokedAt != nil || !now.Before(t.ExpiresAt)
}
