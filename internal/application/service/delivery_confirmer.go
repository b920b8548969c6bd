package service

import (
	"context"
	"fmt"
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

// DeliveryConfirmer records delivery evidence and turns delivered orders into material entries
type DeliveryConfirmer interface {
	// Fulfill is the supplier declaring the goods shipped, with a delivery note
	Fulfill(ctx context.Context, orderID int64, actor entity.Actor, in DeliveryInput) (*entity.PurchaseOrder, error)
	FulfillWithToken(ctx context.Context, token string, in DeliveryInput) (*entity.PurchaseOrder, error)

	// ConfirmDelivery is an owner or PM recording receipt directly
	ConfirmDelivery(ctx context.Context, orderID int64, actor entity.Actor, in DeliveryInput) (*entity.PurchaseOrder, error)

	// CreateMaterial retries material creation for an order whose evidence is already recorded
	CreateMaterial(ctx context.Context, orderID int64, actor entity.Actor) (*entity.PurchaseOrder, error)

	VerifyReceipt(ctx context.Context, orderID int64, actor entity.Actor, notes string) (*entity.PurchaseOrder, error)
}

type deliveryConfirmerImpl struct {
	runner
	orders    port.PurchaseOrderRepository
	materials port.MaterialCreator
	ledger    port.CapitalLedger
}

// NewDeliveryConfirmer creates a new DeliveryConfirmer
func NewDeliveryConfirmer(
	engine appwf.WorkflowEngine,
	orders port.PurchaseOrderRepository,
	users port.UserRepository,
	materials port.MaterialCreator,
	ledger port.CapitalLedger,
	d dispatcher.Dispatcher,
	logger Logger,
) DeliveryConfirmer {
	return &deliveryConfirmerImpl{
		runner:    runner{engine: engine, users: users, dispatcher: d, logger: logger},
		orders:    orders,
		materials: materials,
		ledger:    ledger,
	}
}

func (s *deliveryConfirmerImpl) Fulfill(ctx context.Context, orderID int64, actor entity.Actor, in DeliveryInput) (*entity.PurchaseOrder, error) {
	return s.confirm(ctx, orderID, actor, "", domainwf.TriggerFulfill, entity.ConfirmationSupplierFulfill, in)
}

func (s *deliveryConfirmerImpl) FulfillWithToken(ctx context.Context, token string, in DeliveryInput) (*entity.PurchaseOrder, error) {
	tok, err := s.engine.ResolveToken(ctx, token, entity.TokenPurposeFulfillment)
	if err != nil {
		return nil, err
	}
	po, err := s.orders.GetByID(ctx, tok.PurchaseOrderID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch purchase order: %w", err)
	}
	if po == nil || po.IsDeleted() {
		return nil, apperr.ErrTokenInvalid
	}

	actor := entity.SupplierTokenActor(po.SupplierID)
	return s.confirm(ctx, po.ID, actor, token, domainwf.TriggerFulfill, entity.ConfirmationSupplierFulfill, in)
}

func (s *deliveryConfirmerImpl) ConfirmDelivery(ctx context.Context, orderID int64, actor entity.Actor, in DeliveryInput) (*entity.PurchaseOrder, error) {
	return s.confirm(ctx, orderID, actor, "", domainwf.TriggerConfirmDelivery, entity.ConfirmationOwnerPMManual, in)
}

// confirm persists the evidence first, then creates materials, then moves the status.
// A material failure leaves the evidence recorded and the status unchanged.
func (s *deliveryConfirmerImpl) confirm(
	ctx context.Context,
	orderID int64,
	actor entity.Actor,
	token string,
	trigger domainwf.Trigger,
	method entity.ConfirmationMethod,
	in DeliveryInput,
) (*entity.PurchaseOrder, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	if err := s.engine.Authorize(ctx, actor, trigger); err != nil {
		return nil, err
	}

	recorded, _, err := s.run(ctx, appwf.TransitionRequest{
		OrderID:      orderID,
		Trigger:      trigger,
		Actor:        actor,
		Token:        token,
		TokenPurpose: entity.TokenPurposeFulfillment,
		Hold:         true,
		Authorized:   true,
		ActionData:   map[string]interface{}{"delivery_note": strings.TrimSpace(in.DeliveryNoteFileURL)},
	}, func(ctx context.Context, po *entity.PurchaseOrder, out *outcome) error {
		return recordEvidence(po, actor, method, in, time.Now())
	})
	if err != nil {
		return nil, err
	}

	return s.complete(ctx, recorded, actor, trigger)
}

// recordEvidence copies the delivery input onto the order
func recordEvidence(po *entity.PurchaseOrder, actor entity.Actor, method entity.ConfirmationMethod, in DeliveryInput, now time.Time) error {
	v := &apperr.ValidationError{}
	for id := range in.MaterialQuantities {
		if li := po.Item(id); li == nil || li.Dropped {
			v.Add("materialQuantities."+id, "is not a material of this order")
		}
	}
	for id := range in.MaterialUnitCosts {
		if li := po.Item(id); li == nil || li.Dropped {
			v.Add("materialUnitCosts."+id, "is not a material of this order")
		}
	}
	if err := v.OrNil(); err != nil {
		return err
	}

	for _, li := range po.ActiveItems() {
		if q, ok := in.MaterialQuantities[li.MaterialRequestID]; ok {
			li.DeliveredQuantity = &q
		}
		if c, ok := in.MaterialUnitCosts[li.MaterialRequestID]; ok {
			li.DeliveredUnitCost = &c
		}
	}

	po.DeliveryNoteFileURL = strings.TrimSpace(in.DeliveryNoteFileURL)
	po.ActualQuantityDelivered = in.ActualQuantityDelivered
	po.ActualUnitCost = in.ActualUnitCost
	po.DeliveryConfirmedBy = actor.UserID
	po.DeliveryConfirmedAt = &now
	po.DeliveryConfirmationMethod = method
	po.DeliveryNotes = strings.TrimSpace(in.Notes)
	return nil
}

// complete creates the material entries and fires the follow-up trigger
func (s *deliveryConfirmerImpl) complete(ctx context.Context, po *entity.PurchaseOrder, actor entity.Actor, trigger domainwf.Trigger) (*entity.PurchaseOrder, error) {
	req := port.MaterialCreationRequest{
		PurchaseOrderID:        po.ID,
		Creator:                actor,
		ActualQuantityReceived: po.ActualQuantityDelivered,
		ActualUnitCost:         po.ActualUnitCost,
		Notes:                  po.DeliveryNotes,
		IsAutomatic:            actor.Role == entity.RoleSystem || po.DeliveryConfirmationMethod == entity.ConfirmationSupplierFulfill,
	}
	if po.IsBulkOrder {
		req.MaterialQuantities = deliveredQuantities(po)
		req.MaterialUnitCosts = deliveredUnitCosts(po)
	}

	created, err := s.materials.CreateMaterialFromPurchaseOrder(ctx, req)
	if err != nil {
		failure := apperr.MaterialCreationFailed(po.ID, err)
		s.logger.Error("Material creation failed, delivery evidence kept",
			"order_id", po.ID,
			"status", po.Status,
			"error", err,
		)
		publish(ctx, s.dispatcher, event.NewEvent(event.TypeMaterialFailed, po.ID, actor, map[string]interface{}{
			"error": err.Error(),
		}).WithSnapshots(po, po))
		return nil, failure
	}

	after, _, err := s.run(ctx, appwf.TransitionRequest{
		OrderID:    po.ID,
		Trigger:    trigger,
		Actor:      actor,
		Authorized: true,
		ActionData: map[string]interface{}{"material_ids": created.MaterialIDs},
		Events:     []event.Type{event.TypeMaterialCreated},
	}, func(ctx context.Context, po *entity.PurchaseOrder, out *outcome) error {
		now := time.Now()
		linkMaterials(po, created)
		po.FinancialStatus = entity.FinancialFulfilled
		po.FulfilledAt = &now
		return s.ledger.Fulfil(ctx, po.ID)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Delivery confirmed",
		"order_id", after.ID,
		"status", after.Status,
		"materials", len(created.MaterialIDs),
	)
	return after, nil
}

func deliveredQuantities(po *entity.PurchaseOrder) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal)
	for _, li := range po.ActiveItems() {
		if li.DeliveredQuantity != nil {
			out[li.MaterialRequestID] = *li.DeliveredQuantity
		}
	}
	return out
}

func deliveredUnitCosts(po *entity.PurchaseOrder) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal)
	for _, li := range po.ActiveItems() {
		if li.DeliveredUnitCost != nil {
			out[li.MaterialRequestID] = *li.DeliveredUnitCost
		}
	}
	return out
}

func linkMaterials(po *entity.PurchaseOrder, created *port.MaterialCreationResult) {
	for _, m := range created.CreatedMaterials {
		if li := po.Item(m.MaterialRequestID); li != nil {
			li.LinkedMaterialID = m.ID
		}
	}
	po.LinkedMaterials = append([]string(nil), created.MaterialIDs...)
	if !po.IsBulkOrder && len(created.MaterialIDs) > 0 {
		po.LinkedMaterialID = created.MaterialIDs[0]
	}
}

func (s *deliveryConfirmerImpl) CreateMaterial(ctx context.Context, orderID int64, actor entity.Actor) (*entity.PurchaseOrder, error) {
	if err := s.engine.Authorize(ctx, actor, domainwf.TriggerCreateMaterial); err != nil {
		return nil, err
	}

	po, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch purchase order: %w", err)
	}
	if po == nil || po.IsDeleted() {
		return nil, apperr.NotFound("purchase order", orderID)
	}
	if err := appwf.CheckTrigger(ctx, po, domainwf.TriggerCreateMaterial); err != nil {
		return nil, err
	}
	if !po.HasDeliveryEvidence() {
		return nil, apperr.Validation("deliveryNoteFileUrl", "no delivery evidence has been recorded for this order")
	}

	follow := domainwf.TriggerConfirmDelivery
	switch {
	case po.Status == domainwf.StateReadyForDelivery:
		follow = domainwf.TriggerCreateMaterial
	case po.DeliveryConfirmationMethod == entity.ConfirmationSupplierFulfill:
		follow = domainwf.TriggerFulfill
	}
	return s.complete(ctx, po, actor, follow)
}

func (s *deliveryConfirmerImpl) VerifyReceipt(ctx context.Context, orderID int64, actor entity.Actor, notes string) (*entity.PurchaseOrder, error) {
	po, _, err := s.run(ctx, appwf.TransitionRequest{
		OrderID: orderID,
		Trigger: domainwf.TriggerVerifyReceipt,
		Actor:   actor,
	}, func(ctx context.Context, po *entity.PurchaseOrder, out *outcome) error {
		if notes = strings.TrimSpace(notes); notes != "" {
			if po.DeliveryNotes != "" {
				po.DeliveryNotes += "\n"
			}
			po.DeliveryNotes += notes
		}
		return nil
	})
	return po, err
}
