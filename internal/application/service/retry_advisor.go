package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/garyjia/po-workflow/internal/application/dispatcher"
	"github.com/garyjia/po-workflow/internal/application/port"
	appwf "github.com/garyjia/po-workflow/internal/application/workflow"
	"github.com/garyjia/po-workflow/internal/domain/apperr"
	"github.com/garyjia/po-workflow/internal/domain/entity"
	"github.com/garyjia/po-workflow/internal/domain/event"
	domainwf "github.com/garyjia/po-workflow/internal/domain/workflow"
)

// AlternativeMode selects how alternative suppliers are listed
type AlternativeMode string

const (
	// ModeSimple lists active suppliers without ranking
	ModeSimple AlternativeMode = "simple"
	// ModeHybrid ranks the top suppliers and lists the rest unranked
	ModeHybrid AlternativeMode = "hybrid"
	// ModeSmart ranks every candidate
	ModeSmart AlternativeMode = "smart"
)

// SupplierRecommendation is one alternative supplier
type SupplierRecommendation struct {
	Supplier              *entity.Supplier `json:"supplier"`
	Priority              int              `json:"priority"`
	RecommendationReasons []string         `json:"recommendationReasons"`
}

// AlternativesResult lists suppliers that could take over rejected materials
type AlternativesResult struct {
	OrderID           int64                    `json:"orderId"`
	Mode              AlternativeMode          `json:"mode"`
	RejectedMaterials []string                 `json:"rejectedMaterials"`
	Recommended       []SupplierRecommendation `json:"recommended"`
	Others            []SupplierRecommendation `json:"others,omitempty"`
}

// RetryAdvisor decides what happens to rejected orders
type RetryAdvisor interface {
	// IsRetryable is the taxonomy verdict for a reason
	IsRetryable(reason entity.RejectionReason) bool
	Recommendation(reason entity.RejectionReason) string

	// Retry re-sends a rejected order to the same supplier with adjusted terms
	Retry(ctx context.Context, orderID int64, actor entity.Actor, in RetryInput) (*entity.PurchaseOrder, error)

	FindAlternatives(ctx context.Context, orderID int64, mode AlternativeMode, limit int) (*AlternativesResult, error)

	// SendToAlternatives creates one new order per alternative supplier
	SendToAlternatives(ctx context.Context, orderID int64, actor entity.Actor, in AlternativesInput) ([]*entity.PurchaseOrder, error)
}

type retryAdvisorImpl struct {
	runner
	orders    port.PurchaseOrderRepository
	suppliers port.SupplierRepository
	scorer    port.SupplierScorer
	issuer    *TokenIssuer
	settings  Settings
}

// NewRetryAdvisor creates a new RetryAdvisor
func NewRetryAdvisor(
	engine appwf.WorkflowEngine,
	orders port.PurchaseOrderRepository,
	suppliers port.SupplierRepository,
	users port.UserRepository,
	scorer port.SupplierScorer,
	issuer *TokenIssuer,
	d dispatcher.Dispatcher,
	settings Settings,
	logger Logger,
) RetryAdvisor {
	return &retryAdvisorImpl{
		runner:    runner{engine: engine, users: users, dispatcher: d, logger: logger},
		orders:    orders,
		suppliers: suppliers,
		scorer:    scorer,
		issuer:    issuer,
		settings:  settings,
	}
}

func (s *retryAdvisorImpl) IsRetryable(reason entity.RejectionReason) bool {
	return reason.IsRetryable()
}

func (s *retryAdvisorImpl) Recommendation(reason entity.RejectionReason) string {
	return reason.Policy().Recommendation
}

func (s *retryAdvisorImpl) Retry(ctx context.Context, orderID int64, actor entity.Actor, in RetryInput) (*entity.PurchaseOrder, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	req := appwf.TransitionRequest{
		OrderID: orderID,
		Trigger: domainwf.TriggerRetry,
		Actor:   actor,
	}

	po, _, err := s.run(ctx, req, func(ctx context.Context, po *entity.PurchaseOrder, out *outcome) error {
		changed, err := applyRetryAdjustments(po, in)
		if err != nil {
			return err
		}
		if !changed {
			return apperr.Validation("", "retry requires at least one adjustment that differs from the rejected order")
		}

		now := time.Now()
		po.RetryCount++
		clearSupplierResponse(po)
		if notes := strings.TrimSpace(in.Notes); notes != "" {
			po.Notes = notes
		}
		po.SentAt = &now

		tok, err := s.issuer.Reissue(ctx, po.ID)
		if err != nil {
			return err
		}
		out.issue(nil, tok)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Purchase order retried", "order_id", orderID, "retry_count", po.RetryCount)
	return po, nil
}

// applyRetryAdjustments reports whether any adjustment changed the order
func applyRetryAdjustments(po *entity.PurchaseOrder, in RetryInput) (bool, error) {
	changed := false

	if in.UnitCost != nil || in.QuantityOrdered != nil {
		if po.IsBulkOrder || len(po.Items) == 0 {
			return false, apperr.Validation("materials", "bulk orders are adjusted per material")
		}
		li := &po.Items[0]
		if in.UnitCost != nil && !in.UnitCost.Equal(li.UnitCost) {
			li.UnitCost = *in.UnitCost
			changed = true
		}
		if in.QuantityOrdered != nil && !in.QuantityOrdered.Equal(li.Quantity) {
			li.Quantity = *in.QuantityOrdered
			changed = true
		}
	}

	for _, m := range in.Materials {
		li := po.Item(m.MaterialRequestID)
		if li == nil || li.Dropped {
			return false, apperr.Validation("materials", "material "+m.MaterialRequestID+" is not part of this order")
		}
		if m.UnitCost != nil && !m.UnitCost.Equal(li.UnitCost) {
			li.UnitCost = *m.UnitCost
			changed = true
		}
		if m.QuantityOrdered != nil && !m.QuantityOrdered.Equal(li.Quantity) {
			li.Quantity = *m.QuantityOrdered
			changed = true
		}
	}

	if in.DeliveryDate != nil && !in.DeliveryDate.Equal(po.DeliveryDate) {
		po.DeliveryDate = *in.DeliveryDate
		changed = true
	}
	if in.Terms != nil && *in.Terms != po.Terms {
		po.Terms = *in.Terms
		changed = true
	}

	return changed, nil
}

func (s *retryAdvisorImpl) FindAlternatives(ctx context.Context, orderID int64, mode AlternativeMode, limit int) (*AlternativesResult, error) {
	if mode == "" {
		mode = ModeHybrid
	}
	if mode != ModeSimple && mode != ModeHybrid && mode != ModeSmart {
		return nil, apperr.Validation("mode", "must be simple, hybrid or smart")
	}

	po, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch purchase order: %w", err)
	}
	if po == nil || po.IsDeleted() {
		return nil, apperr.NotFound("purchase order", orderID)
	}
	if err := appwf.CheckTrigger(ctx, po, domainwf.TriggerSendAlternatives); err != nil {
		return nil, err
	}

	all, err := s.suppliers.List(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("failed to list suppliers: %w", err)
	}
	candidates := make([]*entity.Supplier, 0, len(all))
	for _, sup := range all {
		if sup.ID != po.SupplierID {
			candidates = append(candidates, sup)
		}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Name < candidates[j].Name })

	result := &AlternativesResult{
		OrderID:     orderID,
		Mode:        mode,
		Recommended: []SupplierRecommendation{},
	}
	for _, li := range po.RejectedItems() {
		result.RejectedMaterials = append(result.RejectedMaterials, li.MaterialRequestID)
	}

	if mode == ModeSimple {
		for _, sup := range candidates {
			result.Recommended = append(result.Recommended, SupplierRecommendation{
				Supplier:              sup,
				RecommendationReasons: []string{"Active supplier"},
			})
		}
		result.Recommended = truncate(result.Recommended, limit)
		return result, nil
	}

	scores, err := s.scorer.Score(ctx, po, candidates)
	if err != nil {
		return nil, fmt.Errorf("failed to rank suppliers: %w", err)
	}
	byID := make(map[string]*entity.Supplier, len(candidates))
	for _, sup := range candidates {
		byID[sup.ID] = sup
	}
	ranked := make([]SupplierRecommendation, 0, len(scores))
	for _, sc := range scores {
		if sup, ok := byID[sc.SupplierID]; ok {
			ranked = append(ranked, SupplierRecommendation{
				Supplier:              sup,
				Priority:              sc.Priority,
				RecommendationReasons: sc.Reasons,
			})
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Priority != ranked[j].Priority {
			return ranked[i].Priority > ranked[j].Priority
		}
		return ranked[i].Supplier.Name < ranked[j].Supplier.Name
	})

	if mode == ModeSmart {
		result.Recommended = truncate(ranked, limit)
		return result, nil
	}

	top := limit
	if top <= 0 {
		top = s.settings.HybridTopN
	}
	if top <= 0 {
		top = 3
	}
	result.Recommended = truncate(ranked, top)

	picked := make(map[string]bool, len(result.Recommended))
	for _, r := range result.Recommended {
		picked[r.Supplier.ID] = true
	}
	for _, sup := range candidates {
		if !picked[sup.ID] {
			result.Others = append(result.Others, SupplierRecommendation{
				Supplier:              sup,
				RecommendationReasons: []string{"Active supplier"},
			})
		}
	}
	return result, nil
}

func truncate(recs []SupplierRecommendation, limit int) []SupplierRecommendation {
	if limit > 0 && len(recs) > limit {
		return recs[:limit]
	}
	return recs
}

func (s *retryAdvisorImpl) SendToAlternatives(ctx context.Context, orderID int64, actor entity.Actor, in AlternativesInput) ([]*entity.PurchaseOrder, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	data := map[string]interface{}{}
	req := appwf.TransitionRequest{
		OrderID:    orderID,
		Trigger:    domainwf.TriggerSendAlternatives,
		Actor:      actor,
		ActionData: data,
		Events:     []event.Type{event.TypeOrderReassigned},
	}

	_, out, err := s.run(ctx, req, func(ctx context.Context, po *entity.PurchaseOrder, out *outcome) error {
		children, err := s.buildChildren(ctx, po, actor, in)
		if err != nil {
			return err
		}

		numbers := make([]string, 0, len(children))
		for _, child := range children {
			if err := s.orders.Create(ctx, child); err != nil {
				return fmt.Errorf("failed to create alternative order: %w", err)
			}
			tok, err := s.issuer.Issue(ctx, child.ID, entity.TokenPurposeResponse)
			if err != nil {
				return err
			}
			out.created = append(out.created, child)
			out.issue(child, tok)
			numbers = append(numbers, child.PurchaseOrderNumber)
		}

		data["created_orders"] = numbers
		po.NeedsReassignment = po.NeedsReassignment && len(po.RejectedItems()) > 0
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Rejected materials reassigned",
		"order_id", orderID,
		"new_orders", len(out.created),
	)
	return out.created, nil
}

// buildChildren groups the splits per supplier into new orders
func (s *retryAdvisorImpl) buildChildren(ctx context.Context, po *entity.PurchaseOrder, actor entity.Actor, in AlternativesInput) ([]*entity.PurchaseOrder, error) {
	eligible := make(map[string]*entity.LineItem)
	for _, li := range po.RejectedItems() {
		eligible[li.MaterialRequestID] = li
	}

	v := &apperr.ValidationError{}
	now := time.Now()
	suppliers := make(map[string]*entity.Supplier)
	children := make(map[string]*entity.PurchaseOrder)
	var order []string

	assigned := make(map[string]decimal.Decimal)

	for _, a := range in.Assignments {
		li, ok := eligible[a.MaterialRequestID]
		if !ok {
			if prev := po.Item(a.MaterialRequestID); prev != nil && !prev.ReassignedQuantity.IsZero() {
				v.Add("assignments", "material "+a.MaterialRequestID+" was already fully reassigned")
			} else {
				v.Add("assignments", "material "+a.MaterialRequestID+" was not rejected on this order")
			}
			continue
		}

		// a split without quantity takes whatever is left of the line
		remaining := li.UnassignedQuantity().Sub(assigned[li.MaterialRequestID])
		sum := decimal.Zero
		for _, sp := range a.Splits {
			if sp.Quantity.IsZero() {
				sum = sum.Add(remaining)
				continue
			}
			sum = sum.Add(sp.Quantity)
		}
		if sum.GreaterThan(remaining) {
			v.Add("assignments", fmt.Sprintf("split quantities for %s exceed the %s left to reassign", li.MaterialRequestID, remaining))
			continue
		}
		assigned[li.MaterialRequestID] = assigned[li.MaterialRequestID].Add(sum)

		for _, sp := range a.Splits {
			sup, err := s.supplier(ctx, suppliers, sp.SupplierID)
			if err != nil {
				return nil, err
			}
			switch {
			case sup == nil || !sup.IsActive():
				v.Add("assignments", "supplier "+sp.SupplierID+" is not an active supplier")
				continue
			case sup.ID == po.SupplierID:
				v.Add("assignments", "alternative supplier must differ from the original supplier")
				continue
			}

			qty := sp.Quantity
			if qty.IsZero() {
				qty = remaining
			}
			cost := li.UnitCost
			if sp.UnitCost != nil {
				cost = *sp.UnitCost
			}

			child, ok := children[sup.ID]
			if !ok {
				child = newChildOrder(po, sup, actor, in.Notes, now)
				children[sup.ID] = child
				order = append(order, sup.ID)
			}
			child.Items = append(child.Items, entity.LineItem{
				MaterialRequestID: li.MaterialRequestID,
				MaterialName:      li.MaterialName,
				Category:          li.Category,
				Unit:              li.Unit,
				Quantity:          qty,
				UnitCost:          cost,
			})
		}
	}
	if err := v.OrNil(); err != nil {
		return nil, err
	}

	for id, qty := range assigned {
		li := eligible[id]
		li.ReassignedQuantity = li.ReassignedQuantity.Add(qty)
	}

	result := make([]*entity.PurchaseOrder, 0, len(order))
	for _, id := range order {
		child := children[id]
		child.IsBulkOrder = len(child.Items) > 1
		if !child.IsBulkOrder {
			child.MaterialRequestID = child.Items[0].MaterialRequestID
		}
		child.Recalculate()
		result = append(result, child)
	}
	return result, nil
}

func (s *retryAdvisorImpl) supplier(ctx context.Context, cache map[string]*entity.Supplier, id string) (*entity.Supplier, error) {
	if sup, ok := cache[id]; ok {
		return sup, nil
	}
	sup, err := s.suppliers.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load supplier %s: %w", id, err)
	}
	cache[id] = sup
	return sup, nil
}

func newChildOrder(parent *entity.PurchaseOrder, sup *entity.Supplier, actor entity.Actor, notes string, now time.Time) *entity.PurchaseOrder {
	parentID := parent.ID
	if strings.TrimSpace(notes) == "" {
		notes = parent.Notes
	}
	return &entity.PurchaseOrder{
		PurchaseOrderNumber: newOrderNumber(now),
		MaterialRequestID:   parent.MaterialRequestID,
		ProjectID:           parent.ProjectID,
		CreatedBy:           actor.UserID,
		ParentOrderID:       &parentID,
		SupplierID:          sup.ID,
		SupplierName:        sup.Name,
		SupplierEmail:       sup.Email,
		SupplierPhone:       sup.Phone,
		DeliveryDate:        parent.DeliveryDate,
		Terms:               parent.Terms,
		Notes:               notes,
		Status:              domainwf.StateOrderSent,
		FinancialStatus:     entity.FinancialNotCommitted,
		CreatedAt:           now,
		SentAt:              &now,
		UpdatedAt:           now,
	}
}
