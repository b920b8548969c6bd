package entity

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"github.com/garyjia/po-workflow/internal/domain/workflow"
)

// FinancialStatus tracks capital commitment independently of the workflow status
type FinancialStatus string

const (
	FinancialNotCommitted FinancialStatus = "not_committed"
	FinancialCommitted    FinancialStatus = "committed"
	FinancialFulfilled    FinancialStatus = "fulfilled"
	FinancialCancelled    FinancialStatus = "cancelled"
)

var financialRank = map[FinancialStatus]int{
	FinancialNotCommitted: 0,
	FinancialCommitted:    1,
	FinancialFulfilled:    2,
}

// CanAdvanceTo reports whether moving to next keeps the status monotonic.
// Any non-cancelled status may move to cancelled.
func (f FinancialStatus) CanAdvanceTo(next FinancialStatus) bool {
	if f == FinancialCancelled {
		return false
	}
	if next == FinancialCancelled {
		return true
	}
	cur, ok := financialRank[f]
	if !ok {
		return false
	}
	nxt, ok := financialRank[next]
	return ok && nxt > cur
}

// ConfirmationMethod records who confirmed a delivery
type ConfirmationMethod string

const (
	ConfirmationSupplierFulfill ConfirmationMethod = "supplier_fulfill"
	ConfirmationOwnerPMManual   ConfirmationMethod = "owner_pm_manual"
)

// ResponseAction is a supplier decision on an order or on one material of a bulk order
type ResponseAction string

const (
	ActionAccept ResponseAction = "accept"
	ActionReject ResponseAction = "reject"
	ActionModify ResponseAction = "modify"
)

// IsValid reports whether the action is one of accept, reject or modify
func (a ResponseAction) IsValid() bool {
	return a == ActionAccept || a == ActionReject || a == ActionModify
}

// LineItem is one material on an order. Single orders carry exactly one.
type LineItem struct {
	MaterialRequestID string           `json:"materialRequestId"`
	MaterialName      string           `json:"materialName"`
	Category          string           `json:"category,omitempty"`
	Unit              string           `json:"unit"`
	Quantity          decimal.Decimal  `json:"quantity"`
	UnitCost          decimal.Decimal  `json:"unitCost"`
	TotalCost         decimal.Decimal  `json:"totalCost"`
	DeliveredQuantity *decimal.Decimal `json:"deliveredQuantity,omitempty"`
	DeliveredUnitCost *decimal.Decimal `json:"deliveredUnitCost,omitempty"`
	LinkedMaterialID  string           `json:"linkedMaterialId,omitempty"`
	Dropped           bool             `json:"dropped,omitempty"`

	// ReassignedQuantity is what alternative orders already took over from this line
	ReassignedQuantity decimal.Decimal `json:"reassignedQuantity"`
}

// Recalculate derives the line total from quantity and unit cost
func (li *LineItem) Recalculate() {
	li.TotalCost = li.Quantity.Mul(li.UnitCost)
}

// UnassignedQuantity is the part of the line no alternative order covers yet
func (li *LineItem) UnassignedQuantity() decimal.Decimal {
	return li.Quantity.Sub(li.ReassignedQuantity)
}

// Modifications holds supplier-proposed changes awaiting PM review
type Modifications struct {
	QuantityOrdered *decimal.Decimal `json:"quantityOrdered,omitempty"`
	UnitCost        *decimal.Decimal `json:"unitCost,omitempty"`
	DeliveryDate    *time.Time       `json:"deliveryDate,omitempty"`
	Notes           string           `json:"notes,omitempty"`
}

// IsEmpty reports whether no commercial field is proposed
func (m *Modifications) IsEmpty() bool {
	return m == nil || (m.QuantityOrdered == nil && m.UnitCost == nil && m.DeliveryDate == nil)
}

// MaterialResponse records the supplier decision for one material of a bulk order
type MaterialResponse struct {
	MaterialRequestID    string          `json:"materialRequestId"`
	Action               ResponseAction  `json:"action"`
	RejectionReason      RejectionReason `json:"rejectionReason,omitempty"`
	RejectionSubcategory string          `json:"rejectionSubcategory,omitempty"`
	IsRetryable          bool            `json:"isRetryable,omitempty"`
	Notes                string          `json:"notes,omitempty"`
	Modifications        *Modifications  `json:"modifications,omitempty"`
	RespondedAt          time.Time       `json:"respondedAt"`
}

// PurchaseOrder is a commitment to buy materials from a supplier
type PurchaseOrder struct {
	ID                  int64  `json:"id"`
	PurchaseOrderNumber string `json:"purchaseOrderNumber"`
	IsBulkOrder         bool   `json:"isBulkOrder"`
	MaterialRequestID   string `json:"materialRequestId"`
	ProjectID           string `json:"projectId"`
	CreatedBy           string `json:"createdBy"`
	ParentOrderID       *int64 `json:"parentOrderId,omitempty"`

	SupplierID    string `json:"supplierId"`
	SupplierName  string `json:"supplierName"`
	SupplierEmail string `json:"supplierEmail"`
	SupplierPhone string `json:"supplierPhone,omitempty"`

	Items             []LineItem         `json:"items"`
	MaterialResponses []MaterialResponse `json:"materialResponses,omitempty"`
	TotalCost         decimal.Decimal    `json:"totalCost"`
	DeliveryDate      time.Time          `json:"deliveryDate"`
	Terms             string             `json:"terms,omitempty"`
	Notes             string             `json:"notes,omitempty"`

	Status          workflow.State  `json:"status"`
	FinancialStatus FinancialStatus `json:"financialStatus"`

	SupplierResponse            ResponseAction `json:"supplierResponse,omitempty"`
	SupplierResponseDate        *time.Time     `json:"supplierResponseDate,omitempty"`
	SupplierNotes               string         `json:"supplierNotes,omitempty"`
	SupplierModifications       *Modifications `json:"supplierModifications,omitempty"`
	ModificationApproved        *bool          `json:"modificationApproved,omitempty"`
	ModificationApprovedBy      string         `json:"modificationApprovedBy,omitempty"`
	ModificationApprovedAt      *time.Time     `json:"modificationApprovedAt,omitempty"`
	ModificationRejectionReason string         `json:"modificationRejectionReason,omitempty"`

	RejectionReason      RejectionReason `json:"rejectionReason,omitempty"`
	RejectionSubcategory string          `json:"rejectionSubcategory,omitempty"`
	SuggestedReason      RejectionReason `json:"suggestedReason,omitempty"`
	IsRetryable          bool            `json:"isRetryable"`
	RetryRecommendation  string          `json:"retryRecommendation,omitempty"`
	RetryCount           int             `json:"retryCount"`
	NeedsReassignment    bool            `json:"needsReassignment"`

	DeliveryNoteFileURL        string             `json:"deliveryNoteFileUrl,omitempty"`
	ActualQuantityDelivered    *decimal.Decimal   `json:"actualQuantityDelivered,omitempty"`
	ActualUnitCost             *decimal.Decimal   `json:"actualUnitCost,omitempty"`
	DeliveryConfirmedBy        string             `json:"deliveryConfirmedBy,omitempty"`
	DeliveryConfirmedAt        *time.Time         `json:"deliveryConfirmedAt,omitempty"`
	DeliveryConfirmationMethod ConfirmationMethod `json:"deliveryConfirmationMethod,omitempty"`
	DeliveryNotes              string             `json:"deliveryNotes,omitempty"`
	LinkedMaterialID           string             `json:"linkedMaterialId,omitempty"`
	LinkedMaterials            []string           `json:"linkedMaterials,omitempty"`

	CreatedAt   time.Time  `json:"createdAt"`
	SentAt      *time.Time `json:"sentAt,omitempty"`
	CommittedAt *time.Time `json:"committedAt,omitempty"`
	FulfilledAt *time.Time `json:"fulfilledAt,omitempty"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	DeletedAt   *time.Time `json:"deletedAt,omitempty"`

	Version int64 `json:"version"`
}

// Recalculate derives every line total and the order total. Dropped lines do not count.
func (po *PurchaseOrder) Recalculate() {
	total := decimal.Zero
	for i := range po.Items {
		po.Items[i].Recalculate()
		if !po.Items[i].Dropped {
			total = total.Add(po.Items[i].TotalCost)
		}
	}
	po.TotalCost = total
}

// ActiveItems returns pointers to the lines that are still part of the order
func (po *PurchaseOrder) ActiveItems() []*LineItem {
	items := make([]*LineItem, 0, len(po.Items))
	for i := range po.Items {
		if !po.Items[i].Dropped {
			items = append(items, &po.Items[i])
		}
	}
	return items
}

// Item finds a line by material request id
func (po *PurchaseOrder) Item(materialRequestID string) *LineItem {
	for i := range po.Items {
		if po.Items[i].MaterialRequestID == materialRequestID {
			return &po.Items[i]
		}
	}
	return nil
}

func (po *PurchaseOrder) primary() *LineItem {
	if len(po.Items) == 0 {
		return nil
	}
	return &po.Items[0]
}

// QuantityOrdered is the quantity of a single order's line
func (po *PurchaseOrder) QuantityOrdered() decimal.Decimal {
	if li := po.primary(); li != nil {
		return li.Quantity
	}
	return decimal.Zero
}

// UnitCost is the unit cost of a single order's line
func (po *PurchaseOrder) UnitCost() decimal.Decimal {
	if li := po.primary(); li != nil {
		return li.UnitCost
	}
	return decimal.Zero
}

// Unit is the unit of measure of a single order's line
func (po *PurchaseOrder) Unit() string {
	if li := po.primary(); li != nil {
		return li.Unit
	}
	return ""
}

// HasLinkedMaterial reports whether a material entry was already created from this order
func (po *PurchaseOrder) HasLinkedMaterial() bool {
	if po.LinkedMaterialID != "" || len(po.LinkedMaterials) > 0 {
		return true
	}
	for _, li := range po.Items {
		if li.LinkedMaterialID != "" {
			return true
		}
	}
	return false
}

// HasDeliveryEvidence reports whether a delivery note has been recorded
func (po *PurchaseOrder) HasDeliveryEvidence() bool {
	return po.DeliveryNoteFileURL != "" && po.DeliveryConfirmedAt != nil
}

// IsDeleted reports whether the order was soft-deleted
func (po *PurchaseOrder) IsDeleted() bool {
	return po.DeletedAt != nil
}

// ResponseFor returns the recorded response for a material, if any
func (po *PurchaseOrder) ResponseFor(materialRequestID string) *MaterialResponse {
	for i := range po.MaterialResponses {
		if po.MaterialResponses[i].MaterialRequestID == materialRequestID {
			return &po.MaterialResponses[i]
		}
	}
	return nil
}

// RejectedItems returns active lines whose bulk response is reject, or the whole
// order's lines when a single order was rejected. Lines fully taken over by
// alternative orders are left out.
func (po *PurchaseOrder) RejectedItems() []*LineItem {
	var items []*LineItem
	for _, li := range po.ActiveItems() {
		if !li.UnassignedQuantity().IsPositive() {
			continue
		}
		if !po.IsBulkOrder {
			if po.Status == workflow.StateOrderRejected {
				items = append(items, li)
			}
			continue
		}
		if r := po.ResponseFor(li.MaterialRequestID); r != nil && r.Action == ActionReject {
			items = append(items, li)
		}
	}
	return items
}

// Clone returns a deep copy used for before/after snapshots
func (po *PurchaseOrder) Clone() *PurchaseOrder {
	if po == nil {
		return nil
	}
	data, err := json.Marshal(po)
	if err != nil {
		cp := *po
		return &cp
	}
	var cp PurchaseOrder
	if err := json.Unmarshal(data, &cp); err != nil {
		cp = *po
	}
	return &cp
}
