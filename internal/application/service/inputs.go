package service

import (
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/garyjia/po-workflow/internal/domain/apperr"
	"github.com/garyjia/po-workflow/internal/domain/entity"
)

// AcceptInput optionally overrides the commercial terms the supplier accepts at
type AcceptInput struct {
	UnitCost        *decimal.Decimal `json:"unitCost,omitempty"`
	QuantityOrdered *decimal.Decimal `json:"quantityOrdered,omitempty"`
	DeliveryDate    *time.Time       `json:"deliveryDate,omitempty"`
	SupplierNotes   string           `json:"supplierNotes,omitempty"`
}

// Validate checks the overrides
func (in AcceptInput) Validate() error {
	v := &apperr.ValidationError{}
	checkPositive(v, "quantityOrdered", in.QuantityOrdered)
	checkNonNegative(v, "unitCost", in.UnitCost)
	checkDate(v, "deliveryDate", in.DeliveryDate)
	return v.OrNil()
}

func (in AcceptInput) hasOverrides() bool {
	return in.UnitCost != nil || in.QuantityOrdered != nil
}

// RejectInput is a supplier rejection
type RejectInput struct {
	Reason        entity.RejectionReason `json:"reason"`
	Subcategory   string                 `json:"subcategory,omitempty"`
	SupplierNotes string                 `json:"supplierNotes"`
}

// Validate requires notes and a taxonomy reason
func (in RejectInput) Validate() error {
	v := &apperr.ValidationError{}
	checkReason(v, "", in.Reason, in.Subcategory, in.SupplierNotes)
	return v.OrNil()
}

// ModifyInput proposes new terms
type ModifyInput struct {
	QuantityOrdered *decimal.Decimal `json:"quantityOrdered,omitempty"`
	UnitCost        *decimal.Decimal `json:"unitCost,omitempty"`
	DeliveryDate    *time.Time       `json:"deliveryDate,omitempty"`
	Notes           string           `json:"notes,omitempty"`
}

// Validate requires at least one proposed field
func (in ModifyInput) Validate() error {
	v := &apperr.ValidationError{}
	if in.QuantityOrdered == nil && in.UnitCost == nil && in.DeliveryDate == nil {
		v.Add("", "at least one of quantityOrdered, unitCost or deliveryDate must be proposed")
	}
	checkPositive(v, "quantityOrdered", in.QuantityOrdered)
	checkNonNegative(v, "unitCost", in.UnitCost)
	checkDate(v, "deliveryDate", in.DeliveryDate)
	return v.OrNil()
}

func (in ModifyInput) modifications() *entity.Modifications {
	return &entity.Modifications{
		QuantityOrdered: in.QuantityOrdered,
		UnitCost:        in.UnitCost,
		DeliveryDate:    in.DeliveryDate,
		Notes:           strings.TrimSpace(in.Notes),
	}
}

// MaterialDecision is the supplier outcome for one material of a bulk order
type MaterialDecision struct {
	MaterialRequestID string                 `json:"materialRequestId"`
	Action            entity.ResponseAction  `json:"action"`
	Reason            entity.RejectionReason `json:"reason,omitempty"`
	Subcategory       string                 `json:"subcategory,omitempty"`
	Notes             string                 `json:"notes,omitempty"`
	QuantityOrdered   *decimal.Decimal       `json:"quantityOrdered,omitempty"`
	UnitCost          *decimal.Decimal       `json:"unitCost,omitempty"`
	DeliveryDate      *time.Time             `json:"deliveryDate,omitempty"`
}

// BulkResponseInput decides every material of a bulk order
type BulkResponseInput struct {
	Materials     []MaterialDecision `json:"materials"`
	SupplierNotes string             `json:"supplierNotes,omitempty"`
}

// Validate checks each decision in isolation. Coverage of the order's materials
// is checked against the loaded order.
func (in BulkResponseInput) Validate() error {
	v := &apperr.ValidationError{}
	if len(in.Materials) == 0 {
		v.Add("materials", "at least one material decision is required")
	}

	seen := make(map[string]bool, len(in.Materials))
	for i, d := range in.Materials {
		field := "materials[" + strconv.Itoa(i) + "]"
		if d.MaterialRequestID == "" {
			v.Add(field+".materialRequestId", "is required")
		} else if seen[d.MaterialRequestID] {
			v.Add(field+".materialRequestId", "material decided more than once")
		}
		seen[d.MaterialRequestID] = true

		switch d.Action {
		case entity.ActionAccept:
			checkPositive(v, field+".quantityOrdered", d.QuantityOrdered)
			checkNonNegative(v, field+".unitCost", d.UnitCost)
		case entity.ActionReject:
			checkReason(v, field+".", d.Reason, d.Subcategory, d.Notes)
		case entity.ActionModify:
			if d.QuantityOrdered == nil && d.UnitCost == nil && d.DeliveryDate == nil {
				v.Add(field, "a modification must propose quantityOrdered, unitCost or deliveryDate")
			}
			checkPositive(v, field+".quantityOrdered", d.QuantityOrdered)
			checkNonNegative(v, field+".unitCost", d.UnitCost)
			checkDate(v, field+".deliveryDate", d.DeliveryDate)
		default:
			v.Add(field+".action", "must be accept, reject or modify")
		}
	}
	return v.OrNil()
}

// outcome returns the single action shared by every decision, or "" when they differ
func (in BulkResponseInput) outcome() entity.ResponseAction {
	var action entity.ResponseAction
	for i, d := range in.Materials {
		if i == 0 {
			action = d.Action
			continue
		}
		if d.Action != action {
			return ""
		}
	}
	return action
}

// SupplierResponseInput is what the public response link submits
type SupplierResponseInput struct {
	Action entity.ResponseAction `json:"action,omitempty"`
	Accept *AcceptInput          `json:"accept,omitempty"`
	Reject *RejectInput          `json:"reject,omitempty"`
	Modify *ModifyInput          `json:"modify,omitempty"`
	Bulk   *BulkResponseInput    `json:"bulk,omitempty"`
}

// MaterialAdjustment changes one line of a bulk order on retry
type MaterialAdjustment struct {
	MaterialRequestID string           `json:"materialRequestId"`
	QuantityOrdered   *decimal.Decimal `json:"quantityOrdered,omitempty"`
	UnitCost          *decimal.Decimal `json:"unitCost,omitempty"`
}

// RetryInput adjusts a rejected order before re-sending it to the same supplier
type RetryInput struct {
	UnitCost        *decimal.Decimal     `json:"unitCost,omitempty"`
	QuantityOrdered *decimal.Decimal     `json:"quantityOrdered,omitempty"`
	DeliveryDate    *time.Time           `json:"deliveryDate,omitempty"`
	Terms           *string              `json:"terms,omitempty"`
	Notes           string               `json:"notes,omitempty"`
	Materials       []MaterialAdjustment `json:"materials,omitempty"`
}

// Validate requires at least one adjusted field
func (in RetryInput) Validate() error {
	v := &apperr.ValidationError{}
	if in.UnitCost == nil && in.QuantityOrdered == nil && in.DeliveryDate == nil && in.Terms == nil && len(in.Materials) == 0 {
		v.Add("", "retry requires an adjusted unit cost, quantity, delivery date or terms")
	}
	checkPositive(v, "quantityOrdered", in.QuantityOrdered)
	checkNonNegative(v, "unitCost", in.UnitCost)
	checkDate(v, "deliveryDate", in.DeliveryDate)
	for i, m := range in.Materials {
		field := "materials[" + strconv.Itoa(i) + "]"
		if m.MaterialRequestID == "" {
			v.Add(field+".materialRequestId", "is required")
		}
		checkPositive(v, field+".quantityOrdered", m.QuantityOrdered)
		checkNonNegative(v, field+".unitCost", m.UnitCost)
	}
	return v.OrNil()
}

// SupplierSplit sends part of a material to one supplier.
// A lone split with zero quantity takes the whole quantity.
type SupplierSplit struct {
	SupplierID string           `json:"supplierId"`
	Quantity   decimal.Decimal  `json:"quantity"`
	UnitCost   *decimal.Decimal `json:"unitCost,omitempty"`
}

// MaterialAssignment routes a rejected material to alternative suppliers
type MaterialAssignment struct {
	MaterialRequestID string          `json:"materialRequestId"`
	Splits            []SupplierSplit `json:"splits"`
}

// AlternativesInput reassigns rejected materials
type AlternativesInput struct {
	Assignments []MaterialAssignment `json:"assignments"`
	Notes       string               `json:"notes,omitempty"`
}

// Validate checks the shape of the assignments
func (in AlternativesInput) Validate() error {
	v := &apperr.ValidationError{}
	if len(in.Assignments) == 0 {
		v.Add("assignments", "at least one assignment is required")
	}
	seen := make(map[string]bool)
	for i, a := range in.Assignments {
		field := "assignments[" + strconv.Itoa(i) + "]"
		if a.MaterialRequestID == "" {
			v.Add(field+".materialRequestId", "is required")
		} else if seen[a.MaterialRequestID] {
			v.Add(field+".materialRequestId", "material assigned more than once")
		}
		seen[a.MaterialRequestID] = true

		if len(a.Splits) == 0 {
			v.Add(field+".splits", "at least one supplier is required")
		}
		suppliers := make(map[string]bool)
		for j, s := range a.Splits {
			sf := field + ".splits[" + strconv.Itoa(j) + "]"
			if s.SupplierID == "" {
				v.Add(sf+".supplierId", "is required")
			} else if suppliers[s.SupplierID] {
				v.Add(sf+".supplierId", "supplier listed twice for one material")
			}
			suppliers[s.SupplierID] = true

			if s.Quantity.IsNegative() || (s.Quantity.IsZero() && len(a.Splits) > 1) {
				v.Add(sf+".quantity", "must be greater than zero")
			}
			checkNonNegative(v, sf+".unitCost", s.UnitCost)
		}
	}
	return v.OrNil()
}

// DeliveryInput is the evidence of a delivery
type DeliveryInput struct {
	DeliveryNoteFileURL     string                     `json:"deliveryNoteFileUrl"`
	ActualQuantityDelivered *decimal.Decimal           `json:"actualQuantityDelivered,omitempty"`
	ActualUnitCost          *decimal.Decimal           `json:"actualUnitCost,omitempty"`
	MaterialQuantities      map[string]decimal.Decimal `json:"materialQuantities,omitempty"`
	MaterialUnitCosts       map[string]decimal.Decimal `json:"materialUnitCosts,omitempty"`
	Notes                   string                     `json:"notes,omitempty"`
}

// Validate checks the evidence before anything is written
func (in DeliveryInput) Validate() error {
	v := &apperr.ValidationError{}
	if strings.TrimSpace(in.DeliveryNoteFileURL) == "" {
		v.Add("deliveryNoteFileUrl", "a delivery note is required")
	}
	checkPositive(v, "actualQuantityDelivered", in.ActualQuantityDelivered)
	checkNonNegative(v, "actualUnitCost", in.ActualUnitCost)
	for id, q := range in.MaterialQuantities {
		if !q.IsPositive() {
			v.Add("materialQuantities."+id, "must be greater than zero")
		}
	}
	for id, c := range in.MaterialUnitCosts {
		if c.IsNegative() {
			v.Add("materialUnitCosts."+id, "must not be negative")
		}
	}
	return v.OrNil()
}

// LineItemInput is one material of a new order
type LineItemInput struct {
	MaterialRequestID string          `json:"materialRequestId"`
	MaterialName      string          `json:"materialName"`
	Category          string          `json:"category,omitempty"`
	Unit              string          `json:"unit"`
	Quantity          decimal.Decimal `json:"quantity"`
	UnitCost          decimal.Decimal `json:"unitCost"`
}

// CreateOrderInput creates an order from an approved material request
type CreateOrderInput struct {
	ProjectID         string          `json:"projectId"`
	MaterialRequestID string          `json:"materialRequestId"`
	SupplierID        string          `json:"supplierId"`
	Items             []LineItemInput `json:"items"`
	DeliveryDate      time.Time       `json:"deliveryDate"`
	Terms             string          `json:"terms,omitempty"`
	Notes             string          `json:"notes,omitempty"`
}

// Validate checks the order request
func (in CreateOrderInput) Validate() error {
	v := &apperr.ValidationError{}
	if in.ProjectID == "" {
		v.Add("projectId", "is required")
	}
	if in.SupplierID == "" {
		v.Add("supplierId", "is required")
	}
	if len(in.Items) == 0 {
		v.Add("items", "at least one material is required")
	}
	if in.DeliveryDate.IsZero() {
		v.Add("deliveryDate", "is required")
	}
	seen := make(map[string]bool)
	for i, it := range in.Items {
		field := "items[" + strconv.Itoa(i) + "]"
		if it.MaterialRequestID == "" {
			v.Add(field+".materialRequestId", "is required")
		} else if seen[it.MaterialRequestID] {
			v.Add(field+".materialRequestId", "duplicate material")
		}
		seen[it.MaterialRequestID] = true
		if strings.TrimSpace(it.MaterialName) == "" {
			v.Add(field+".materialName", "is required")
		}
		if !it.Quantity.IsPositive() {
			v.Add(field+".quantity", "must be greater than zero")
		}
		if it.UnitCost.IsNegative() {
			v.Add(field+".unitCost", "must not be negative")
		}
	}
	return v.OrNil()
}

// SupplierInput registers a supplier
type SupplierInput struct {
	Name          string   `json:"name"`
	Email         string   `json:"email"`
	Phone         string   `json:"phone,omitempty"`
	Categories    []string `json:"categories,omitempty"`
	SMSOptIn      bool     `json:"smsOptIn"`
	QualityRating float64  `json:"qualityRating"`
}

func checkPositive(v *apperr.ValidationError, field string, d *decimal.Decimal) {
	if d != nil && !d.IsPositive() {
		v.Add(field, "must be greater than zero")
	}
}

func checkNonNegative(v *apperr.ValidationError, field string, d *decimal.Decimal) {
	if d != nil && d.IsNegative() {
		v.Add(field, "must not be negative")
	}
}

func checkDate(v *apperr.ValidationError, field string, t *time.Time) {
	if t != nil && t.IsZero() {
		v.Add(field, "must be a valid date")
	}
}

func checkReason(v *apperr.ValidationError, prefix string, reason entity.RejectionReason, sub, notes string) {
	if strings.TrimSpace(notes) == "" {
		v.Add(prefix+"supplierNotes", "a rejection requires notes explaining the reason")
	}
	if !reason.IsValid() {
		v.Add(prefix+"reason", "must be one of the rejection taxonomy reasons")
		return
	}
	if !reason.AllowsSubcategory(sub) {
		v.Add(prefix+"subcategory", "is not a subcategory of "+string(reason))
	}
}
