package service

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/garyjia/po-workflow/internal/application/dispatcher"
	"github.com/garyjia/po-workflow/internal/application/port"
	appwf "github.com/garyjia/po-workflow/internal/application/workflow"
	"github.com/garyjia/po-workflow/internal/domain/apperr"
	"github.com/garyjia/po-workflow/internal/domain/entity"
	domainwf "github.com/garyjia/po-workflow/internal/domain/workflow"
)

// ResponseProcessor applies supplier decisions and PM reviews to purchase orders
type ResponseProcessor interface {
	Accept(ctx context.Context, orderID int64, actor entity.Actor, in AcceptInput) (*entity.PurchaseOrder, error)
	Reject(ctx context.Context, orderID int64, actor entity.Actor, in RejectInput) (*entity.PurchaseOrder, error)
	Modify(ctx context.Context, orderID int64, actor entity.Actor, in ModifyInput) (*entity.PurchaseOrder, error)
	RespondBulk(ctx context.Context, orderID int64, actor entity.Actor, in BulkResponseInput) (*entity.PurchaseOrder, error)

	// RespondWithToken consumes a response link; a second submission fails with apperr.ErrTokenAlreadyUsed
	RespondWithToken(ctx context.Context, token string, in SupplierResponseInput) (*entity.PurchaseOrder, error)

	// ApproveModification applies the proposal. autoCommit nil uses the configured default.
	ApproveModification(ctx context.Context, orderID int64, actor entity.Actor, autoCommit *bool) (*entity.PurchaseOrder, error)
	RejectModification(ctx context.Context, orderID int64, actor entity.Actor, reason string, closeOrder bool) (*entity.PurchaseOrder, error)

	// CommitPartial accepts the accepted lines of a partially answered bulk order and drops the rest
	CommitPartial(ctx context.Context, orderID int64, actor entity.Actor) (*entity.PurchaseOrder, error)
}

type responseProcessorImpl struct {
	runner
	orders   port.PurchaseOrderRepository
	ledger   port.CapitalLedger
	issuer   *TokenIssuer
	settings Settings
}

// NewResponseProcessor creates a new ResponseProcessor
func NewResponseProcessor(
	engine appwf.WorkflowEngine,
	orders port.PurchaseOrderRepository,
	users port.UserRepository,
	ledger port.CapitalLedger,
	issuer *TokenIssuer,
	d dispatcher.Dispatcher,
	settings Settings,
	logger Logger,
) ResponseProcessor {
	return &responseProcessorImpl{
		runner:   runner{engine: engine, users: users, dispatcher: d, logger: logger},
		orders:   orders,
		ledger:   ledger,
		issuer:   issuer,
		settings: settings,
	}
}

func (s *responseProcessorImpl) transition(ctx context.Context, req appwf.TransitionRequest, apply applyFunc) (*entity.PurchaseOrder, error) {
	po, _, err := s.run(ctx, req, apply)
	return po, err
}

// commit reserves capital for the order total and moves the financial status to committed
func (s *responseProcessorImpl) commit(ctx context.Context, po *entity.PurchaseOrder, out *outcome, now time.Time) error {
	po.Recalculate()
	if err := s.ledger.Reserve(ctx, po.ProjectID, po.ID, po.TotalCost); err != nil {
		return err
	}
	po.FinancialStatus = entity.FinancialCommitted
	po.CommittedAt = &now

	tok, err := s.issuer.Issue(ctx, po.ID, entity.TokenPurposeFulfillment)
	if err != nil {
		return err
	}
	out.issue(nil, tok)
	return nil
}

func (s *responseProcessorImpl) resend(ctx context.Context, po *entity.PurchaseOrder, out *outcome, now time.Time) error {
	clearSupplierResponse(po)
	po.SentAt = &now

	tok, err := s.issuer.Reissue(ctx, po.ID)
	if err != nil {
		return err
	}
	out.issue(nil, tok)
	return nil
}

func (s *responseProcessorImpl) Accept(ctx context.Context, orderID int64, actor entity.Actor, in AcceptInput) (*entity.PurchaseOrder, error) {
	return s.accept(ctx, orderID, actor, "", in)
}

func (s *responseProcessorImpl) accept(ctx context.Context, orderID int64, actor entity.Actor, token string, in AcceptInput) (*entity.PurchaseOrder, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	req := appwf.TransitionRequest{
		OrderID:      orderID,
		Trigger:      domainwf.TriggerAccept,
		Actor:        actor,
		Token:        token,
		TokenPurpose: entity.TokenPurposeResponse,
	}

	return s.transition(ctx, req, func(ctx context.Context, po *entity.PurchaseOrder, out *outcome) error {
		now := time.Now()

		if po.IsBulkOrder {
			if in.hasOverrides() {
				return apperr.Validation("materials", "bulk orders take per-material overrides in a bulk response")
			}
			po.MaterialResponses = po.MaterialResponses[:0]
			for _, li := range po.ActiveItems() {
				po.MaterialResponses = append(po.MaterialResponses, entity.MaterialResponse{
					MaterialRequestID: li.MaterialRequestID,
					Action:            entity.ActionAccept,
					RespondedAt:       now,
				})
			}
		} else if len(po.Items) > 0 {
			if in.QuantityOrdered != nil {
				po.Items[0].Quantity = *in.QuantityOrdered
			}
			if in.UnitCost != nil {
				po.Items[0].UnitCost = *in.UnitCost
			}
		}
		if in.DeliveryDate != nil {
			po.DeliveryDate = *in.DeliveryDate
		}

		po.SupplierResponse = entity.ActionAccept
		po.SupplierResponseDate = &now
		po.SupplierNotes = strings.TrimSpace(in.SupplierNotes)
		po.SupplierModifications = nil

		return s.commit(ctx, po, out, now)
	})
}

func (s *responseProcessorImpl) Reject(ctx context.Context, orderID int64, actor entity.Actor, in RejectInput) (*entity.PurchaseOrder, error) {
	return s.reject(ctx, orderID, actor, "", in)
}

func (s *responseProcessorImpl) reject(ctx context.Context, orderID int64, actor entity.Actor, token string, in RejectInput) (*entity.PurchaseOrder, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	req := appwf.TransitionRequest{
		OrderID:      orderID,
		Trigger:      domainwf.TriggerReject,
		Actor:        actor,
		Token:        token,
		TokenPurpose: entity.TokenPurposeResponse,
		ActionData: map[string]interface{}{
			"rejection_reason":      string(in.Reason),
			"rejection_subcategory": in.Subcategory,
		},
	}

	return s.transition(ctx, req, func(ctx context.Context, po *entity.PurchaseOrder, out *outcome) error {
		now := time.Now()
		notes := strings.TrimSpace(in.SupplierNotes)

		if po.IsBulkOrder {
			po.MaterialResponses = po.MaterialResponses[:0]
			for _, li := range po.ActiveItems() {
				po.MaterialResponses = append(po.MaterialResponses, entity.MaterialResponse{
					MaterialRequestID:    li.MaterialRequestID,
					Action:               entity.ActionReject,
					RejectionReason:      in.Reason,
					RejectionSubcategory: in.Subcategory,
					IsRetryable:          in.Reason.IsRetryable(),
					Notes:                notes,
					RespondedAt:          now,
				})
			}
		}

		po.SupplierResponse = entity.ActionReject
		po.SupplierResponseDate = &now
		po.SupplierNotes = notes
		po.SupplierModifications = nil
		applyRejection(po, in.Reason, in.Subcategory)
		return nil
	})
}

// applyRejection copies the taxonomy verdict onto the order
func applyRejection(po *entity.PurchaseOrder, reason entity.RejectionReason, sub string) {
	policy := reason.Policy()
	po.RejectionReason = reason
	po.RejectionSubcategory = sub
	po.IsRetryable = policy.Retryable
	po.RetryRecommendation = policy.Recommendation
	po.NeedsReassignment = policy.NeedsReassignment
}

// summarizeRejections sets the order-level rejection from its rejected lines
func summarizeRejections(po *entity.PurchaseOrder) {
	allRetryable, anyReassign := true, false
	var first *entity.MaterialResponse
	for i := range po.MaterialResponses {
		r := &po.MaterialResponses[i]
		if r.Action != entity.ActionReject {
			continue
		}
		if first == nil {
			first = r
		}
		policy := r.RejectionReason.Policy()
		allRetryable = allRetryable && policy.Retryable
		anyReassign = anyReassign || policy.NeedsReassignment
	}
	if first == nil {
		return
	}
	applyRejection(po, first.RejectionReason, first.RejectionSubcategory)
	po.IsRetryable = allRetryable
	po.NeedsReassignment = anyReassign
}

func hasRejectedResponse(po *entity.PurchaseOrder) bool {
	for _, r := range po.MaterialResponses {
		if r.Action == entity.ActionReject {
			return true
		}
	}
	return false
}

func (s *responseProcessorImpl) Modify(ctx context.Context, orderID int64, actor entity.Actor, in ModifyInput) (*entity.PurchaseOrder, error) {
	return s.modify(ctx, orderID, actor, "", in)
}

func (s *responseProcessorImpl) modify(ctx context.Context, orderID int64, actor entity.Actor, token string, in ModifyInput) (*entity.PurchaseOrder, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	req := appwf.TransitionRequest{
		OrderID:      orderID,
		Trigger:      domainwf.TriggerModify,
		Actor:        actor,
		Token:        token,
		TokenPurpose: entity.TokenPurposeResponse,
	}

	return s.transition(ctx, req, func(ctx context.Context, po *entity.PurchaseOrder, out *outcome) error {
		if po.IsBulkOrder || len(po.Items) == 0 {
			return apperr.Validation("materials", "bulk orders propose modifications per material in a bulk response")
		}
		if !proposalDiffers(po, &po.Items[0], in.QuantityOrdered, in.UnitCost, in.DeliveryDate) {
			return apperr.Validation("", "the proposed modification does not change the order")
		}

		now := time.Now()
		po.SupplierModifications = in.modifications()
		po.SupplierResponse = entity.ActionModify
		po.SupplierResponseDate = &now
		po.SupplierNotes = strings.TrimSpace(in.Notes)
		po.ModificationApproved = nil
		po.ModificationRejectionReason = ""
		return nil
	})
}

// proposalDiffers reports whether any proposed field changes the line or the order
func proposalDiffers(po *entity.PurchaseOrder, li *entity.LineItem, qty, cost *decimal.Decimal, date *time.Time) bool {
	if qty != nil && !qty.Equal(li.Quantity) {
		return true
	}
	if cost != nil && !cost.Equal(li.UnitCost) {
		return true
	}
	if date != nil && !date.Equal(po.DeliveryDate) {
		return true
	}
	return false
}

func (s *responseProcessorImpl) RespondBulk(ctx context.Context, orderID int64, actor entity.Actor, in BulkResponseInput) (*entity.PurchaseOrder, error) {
	return s.respondBulk(ctx, orderID, actor, "", in)
}

// bulkTriggers maps a shared outcome to its trigger; mixed outcomes are a partial response
var bulkTriggers = map[entity.ResponseAction]domainwf.Trigger{
	entity.ActionAccept: domainwf.TriggerAccept,
	entity.ActionReject: domainwf.TriggerReject,
	entity.ActionModify: domainwf.TriggerModify,
}

func (s *responseProcessorImpl) respondBulk(ctx context.Context, orderID int64, actor entity.Actor, token string, in BulkResponseInput) (*entity.PurchaseOrder, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	shared := in.outcome()
	trigger, ok := bulkTriggers[shared]
	if !ok {
		trigger = domainwf.TriggerPartialResponse
	}

	req := appwf.TransitionRequest{
		OrderID:      orderID,
		Trigger:      trigger,
		Actor:        actor,
		Token:        token,
		TokenPurpose: entity.TokenPurposeResponse,
		ActionData:   map[string]interface{}{"materials": len(in.Materials)},
	}

	return s.transition(ctx, req, func(ctx context.Context, po *entity.PurchaseOrder, out *outcome) error {
		if !po.IsBulkOrder {
			return apperr.Validation("materials", "per-material responses require a bulk order")
		}

		decisions := make(map[string]MaterialDecision, len(in.Materials))
		for _, d := range in.Materials {
			decisions[d.MaterialRequestID] = d
		}

		v := &apperr.ValidationError{}
		active := po.ActiveItems()
		for _, li := range active {
			if _, ok := decisions[li.MaterialRequestID]; !ok {
				v.Add("materials", "no decision for material "+li.MaterialRequestID)
			}
		}
		if len(decisions) != len(active) {
			for id := range decisions {
				if li := po.Item(id); li == nil || li.Dropped {
					v.Add("materials", "material "+id+" is not part of this order")
				}
			}
		}
		if err := v.OrNil(); err != nil {
			return err
		}

		now := time.Now()
		responses := make([]entity.MaterialResponse, 0, len(active))
		var firstRejected *entity.MaterialResponse
		allRetryable, anyReassign := true, false
		var notes []string

		for _, li := range active {
			d := decisions[li.MaterialRequestID]
			resp := entity.MaterialResponse{
				MaterialRequestID: li.MaterialRequestID,
				Action:            d.Action,
				Notes:             strings.TrimSpace(d.Notes),
				RespondedAt:       now,
			}

			switch d.Action {
			case entity.ActionAccept:
				if d.QuantityOrdered != nil {
					li.Quantity = *d.QuantityOrdered
				}
				if d.UnitCost != nil {
					li.UnitCost = *d.UnitCost
				}
			case entity.ActionReject:
				policy := d.Reason.Policy()
				resp.RejectionReason = d.Reason
				resp.RejectionSubcategory = d.Subcategory
				resp.IsRetryable = policy.Retryable
				allRetryable = allRetryable && policy.Retryable
				anyReassign = anyReassign || policy.NeedsReassignment
			case entity.ActionModify:
				if !proposalDiffers(po, li, d.QuantityOrdered, d.UnitCost, d.DeliveryDate) {
					v.Add("materials", "modification for "+li.MaterialRequestID+" does not change the order")
				}
				resp.Modifications = &entity.Modifications{
					QuantityOrdered: d.QuantityOrdered,
					UnitCost:        d.UnitCost,
					DeliveryDate:    d.DeliveryDate,
					Notes:           resp.Notes,
				}
			}

			if resp.Notes != "" {
				notes = append(notes, li.MaterialName+": "+resp.Notes)
			}
			responses = append(responses, resp)
			if d.Action == entity.ActionReject && firstRejected == nil {
				first := resp
				firstRejected = &first
			}
		}
		if err := v.OrNil(); err != nil {
			return err
		}

		po.MaterialResponses = responses
		po.SupplierResponse = shared
		po.SupplierResponseDate = &now
		po.SupplierNotes = strings.TrimSpace(in.SupplierNotes)
		if po.SupplierNotes == "" {
			po.SupplierNotes = strings.Join(notes, "; ")
		}
		po.SupplierModifications = nil

		if firstRejected != nil {
			applyRejection(po, firstRejected.RejectionReason, firstRejected.RejectionSubcategory)
			po.IsRetryable = allRetryable
			po.NeedsReassignment = anyReassign
		}

		if shared == entity.ActionAccept {
			return s.commit(ctx, po, out, now)
		}
		return nil
	})
}

func (s *responseProcessorImpl) RespondWithToken(ctx context.Context, token string, in SupplierResponseInput) (*entity.PurchaseOrder, error) {
	tok, err := s.engine.ResolveToken(ctx, token, entity.TokenPurposeResponse)
	if err != nil {
		return nil, err
	}

	po, err := s.orders.GetByID(ctx, tok.PurchaseOrderID)
	if err != nil {
		return nil, err
	}
	if po == nil || po.IsDeleted() {
		return nil, apperr.ErrTokenInvalid
	}
	actor := entity.SupplierTokenActor(po.SupplierID)

	if in.Bulk != nil {
		return s.respondBulk(ctx, po.ID, actor, token, *in.Bulk)
	}

	switch in.Action {
	case entity.ActionAccept:
		var accept AcceptInput
		if in.Accept != nil {
			accept = *in.Accept
		}
		return s.accept(ctx, po.ID, actor, token, accept)
	case entity.ActionReject:
		if in.Reject == nil {
			return nil, apperr.Validation("reject", "rejection details are required")
		}
		return s.reject(ctx, po.ID, actor, token, *in.Reject)
	case entity.ActionModify:
		if in.Modify == nil {
			return nil, apperr.Validation("modify", "proposed modifications are required")
		}
		return s.modify(ctx, po.ID, actor, token, *in.Modify)
	default:
		return nil, apperr.Validation("action", "must be accept, reject or modify")
	}
}

func (s *responseProcessorImpl) ApproveModification(ctx context.Context, orderID int64, actor entity.Actor, autoCommit *bool) (*entity.PurchaseOrder, error) {
	commit := s.settings.AutoCommitDefault
	if autoCommit != nil {
		commit = *autoCommit
	}

	trigger := domainwf.TriggerApproveModificationResend
	if commit {
		trigger = domainwf.TriggerApproveModification
	}

	req := appwf.TransitionRequest{
		OrderID:    orderID,
		Trigger:    trigger,
		Actor:      actor,
		ActionData: map[string]interface{}{"auto_commit": commit},
	}

	return s.transition(ctx, req, func(ctx context.Context, po *entity.PurchaseOrder, out *outcome) error {
		now := time.Now()

		if po.IsBulkOrder {
			applied := 0
			for i := range po.MaterialResponses {
				r := &po.MaterialResponses[i]
				if r.Action != entity.ActionModify {
					continue
				}
				if li := po.Item(r.MaterialRequestID); li != nil {
					applyModifications(po, li, r.Modifications)
					applied++
				}
				r.Modifications = nil
				r.Action = entity.ActionAccept
			}
			if applied == 0 {
				return apperr.Validation("supplierModifications", "there is no pending modification to approve")
			}
		} else {
			if po.SupplierModifications == nil || len(po.Items) == 0 {
				return apperr.Validation("supplierModifications", "there is no pending modification to approve")
			}
			applyModifications(po, &po.Items[0], po.SupplierModifications)
		}

		po.SupplierModifications = nil
		po.ModificationApproved = boolPtr(true)
		po.ModificationApprovedBy = actor.UserID
		po.ModificationApprovedAt = &now
		po.ModificationRejectionReason = ""

		if commit {
			if hasRejectedResponse(po) {
				// rejected lines stay open for commit_partial or alternatives
				po.Recalculate()
				return nil
			}
			po.SupplierResponse = entity.ActionAccept
			return s.commit(ctx, po, out, now)
		}
		po.Recalculate()
		return s.resend(ctx, po, out, now)
	})
}

func applyModifications(po *entity.PurchaseOrder, li *entity.LineItem, m *entity.Modifications) {
	if m == nil {
		return
	}
	if m.QuantityOrdered != nil {
		li.Quantity = *m.QuantityOrdered
	}
	if m.UnitCost != nil {
		li.UnitCost = *m.UnitCost
	}
	if m.DeliveryDate != nil {
		po.DeliveryDate = *m.DeliveryDate
	}
}

func (s *responseProcessorImpl) RejectModification(ctx context.Context, orderID int64, actor entity.Actor, reason string, closeOrder bool) (*entity.PurchaseOrder, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, apperr.Validation("reason", "rejecting a modification requires a reason")
	}

	trigger := domainwf.TriggerRejectModification
	if closeOrder {
		trigger = domainwf.TriggerRejectModificationClose
	}

	req := appwf.TransitionRequest{
		OrderID:    orderID,
		Trigger:    trigger,
		Actor:      actor,
		ActionData: map[string]interface{}{"reason": reason, "close": closeOrder},
	}

	return s.transition(ctx, req, func(ctx context.Context, po *entity.PurchaseOrder, out *outcome) error {
		now := time.Now()

		po.ModificationApproved = boolPtr(false)
		po.ModificationApprovedBy = actor.UserID
		po.ModificationApprovedAt = &now
		po.ModificationRejectionReason = reason
		po.SupplierModifications = nil

		if !closeOrder {
			return s.resend(ctx, po, out, now)
		}

		if !po.IsBulkOrder {
			po.SupplierResponse = entity.ActionReject
			applyRejection(po, entity.ReasonOther, "modification_rejected")
			return nil
		}

		accepted := false
		for i := range po.MaterialResponses {
			r := &po.MaterialResponses[i]
			switch r.Action {
			case entity.ActionModify:
				r.Modifications = nil
				r.Action = entity.ActionReject
				r.RejectionReason = entity.ReasonOther
				r.RejectionSubcategory = "modification_rejected"
				r.IsRetryable = entity.ReasonOther.IsRetryable()
			case entity.ActionAccept:
				accepted = true
			}
		}
		if !accepted {
			po.SupplierResponse = entity.ActionReject
		}
		summarizeRejections(po)
		return nil
	})
}

func (s *responseProcessorImpl) CommitPartial(ctx context.Context, orderID int64, actor entity.Actor) (*entity.PurchaseOrder, error) {
	req := appwf.TransitionRequest{
		OrderID: orderID,
		Trigger: domainwf.TriggerCommitPartial,
		Actor:   actor,
	}

	return s.transition(ctx, req, func(ctx context.Context, po *entity.PurchaseOrder, out *outcome) error {
		if !po.IsBulkOrder {
			return apperr.Validation("isBulkOrder", "only bulk orders can be partially committed")
		}

		accepted := 0
		var dropped []string
		for _, li := range po.ActiveItems() {
			r := po.ResponseFor(li.MaterialRequestID)
			if r == nil {
				return apperr.Validation("materials", "material "+li.MaterialRequestID+" has no supplier response")
			}
			switch r.Action {
			case entity.ActionAccept:
				accepted++
			case entity.ActionReject:
				li.Dropped = true
				dropped = append(dropped, li.MaterialRequestID)
			}
		}
		if accepted == 0 {
			return apperr.Validation("materials", "no accepted material to commit")
		}

		now := time.Now()
		po.SupplierResponse = entity.ActionAccept
		po.NeedsReassignment = false

		s.logger.Info("Committing partially accepted order",
			"order_id", po.ID,
			"accepted", accepted,
			"dropped", dropped,
		)
		return s.commit(ctx, po, out, now)
	})
}
