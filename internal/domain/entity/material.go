package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// MaterialEntry is the project material record created from a delivered order
type MaterialEntry struct {
	ID                string          `json:"id"`
	PurchaseOrderID   int64           `json:"purchaseOrderId"`
	MaterialRequestID string          `json:"materialRequestId"`
	ProjectID         string          `json:"projectId"`
	Name              string          `json:"name"`
	Unit              string          `json:"unit"`
	Quantity          decimal.Decimal `json:"quantity"`
	UnitCost          decimal.Decimal `json:"unitCost"`
	TotalCost         decimal.Decimal `json:"totalCost"`
	SupplierID        string          `json:"supplierId"`
	CreatedBy         string          `json:"createdBy"`
	IsAutomatic       bool            `json:"isAutomatic"`
	Notes             string          `json:"notes,omitempty"`
	CreatedAt         time.Time       `json:"createdAt"`
}

// ProjectBudget is the capital a project may commit to purchase orders
type ProjectBudget struct {
	ProjectID   string          `json:"projectId"`
	TotalBudget decimal.Decimal `json:"totalBudget"`
	UpdatedBy   string          `json:"updatedBy,omitempty"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}
