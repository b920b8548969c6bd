package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// SupplierStatus controls whether a supplier can receive orders
type SupplierStatus string

const (
	SupplierActive    SupplierStatus = "active"
	SupplierSuspended SupplierStatus = "suspended"
)

// Supplier is a vendor that receives purchase orders
type Supplier struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	Email         string         `json:"email"`
	Phone         string         `json:"phone,omitempty"`
	Categories    []string       `json:"categories,omitempty"`
	Status        SupplierStatus `json:"status"`
	SMSOptIn      bool           `json:"smsOptIn"`
	QualityRating float64        `json:"qualityRating"`
	CreatedAt     time.Time      `json:"createdAt"`
	UpdatedAt     time.Time      `json:"updatedAt"`
}

// IsActive reports whether the supplier can receive new orders
func (s *Supplier) IsActive() bool {
	return s.Status == SupplierActive
}

// Supplies reports whether the supplier lists the category. Suppliers without
// categories are treated as general suppliers.
func (s *Supplier) Supplies(category string) bool {
	if category == "" || len(s.Categories) == 0 {
		return true
	}
	for _, c := range s.Categories {
		if c == category {
			return true
		}
	}
	return false
}

// SupplierPerformance summarises a supplier's order history
type SupplierPerformance struct {
	SupplierID       string          `json:"supplierId"`
	TotalOrders      int             `json:"totalOrders"`
	AcceptedOrders   int             `json:"acceptedOrders"`
	RejectedOrders   int             `json:"rejectedOrders"`
	DeliveredOrders  int             `json:"deliveredOrders"`
	OnTimeDeliveries int             `json:"onTimeDeliveries"`
	AverageUnitCost  decimal.Decimal `json:"averageUnitCost"`
}

// AcceptanceRate is accepted / responded orders, 0 when there is no history
func (p *SupplierPerformance) AcceptanceRate() float64 {
	responded := p.AcceptedOrders + p.RejectedOrders
	if responded == 0 {
		return 0
	}
	return float64(p.AcceptedOrders) / float64(responded)
}

// OnTimeRate is on-time / delivered orders, 0 when nothing was delivered
func (p *SupplierPerformance) OnTimeRate() float64 {
	if p.DeliveredOrders == 0 {
		return 0
	}
	return float64(p.OnTimeDeliveries) / float64(p.DeliveredOrders)
}
