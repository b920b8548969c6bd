package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/garyjia/po-workflow/internal/application/dispatcher"
	"github.com/garyjia/po-workflow/internal/application/port"
	"github.com/garyjia/po-workflow/internal/domain/apperr"
	"github.com/garyjia/po-workflow/internal/domain/entity"
	"github.com/garyjia/po-workflow/internal/domain/event"
	domainwf "github.com/garyjia/po-workflow/internal/domain/workflow"
)

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// engineImpl is the concrete implementation of WorkflowEngine
type engineImpl struct {
	orderRepo   port.PurchaseOrderRepository
	historyRepo port.HistoryRepository
	tokenRepo   port.TokenRepository
	permissions port.PermissionChecker
	txManager   port.TransactionManager
	dispatcher  dispatcher.Dispatcher
	logger      Logger
	now         func() time.Time
}

// EngineOption configures the workflow engine
type EngineOption func(*engineImpl)

// WithDispatcher sets the event dispatcher for emitting events
func WithDispatcher(d dispatcher.Dispatcher) EngineOption {
	return func(e *engineImpl) {
		e.dispatcher = d
	}
}

// WithLogger sets the engine logger
func WithLogger(logger Logger) EngineOption {
	return func(e *engineImpl) {
		e.logger = logger
	}
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) EngineOption {
	return func(e *engineImpl) {
		e.now = now
	}
}

// NewEngine creates a new workflow engine
func NewEngine(
	orderRepo port.PurchaseOrderRepository,
	historyRepo port.HistoryRepository,
	tokenRepo port.TokenRepository,
	permissions port.PermissionChecker,
	txManager port.TransactionManager,
	opts ...EngineOption,
) WorkflowEngine {
	e := &engineImpl{
		orderRepo:   orderRepo,
		historyRepo: historyRepo,
		tokenRepo:   tokenRepo,
		permissions: permissions,
		txManager:   txManager,
		now:         time.Now,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

func (e *engineImpl) Authorize(ctx context.Context, actor entity.Actor, trigger domainwf.Trigger) error {
	perm := PermissionFor(trigger)
	if perm == "" {
		return fmt.Errorf("%w: unknown action %s", domainwf.ErrInvalidTransition, trigger)
	}

	if actor.ViaToken {
		if !TokenCanFire(trigger) {
			return apperr.PermissionDenied(actor.UserID, perm)
		}
		return nil
	}

	if actor.Role == entity.RoleSystem {
		if !RoleHasPermission(entity.RoleSystem, perm) {
			return apperr.PermissionDenied(actor.UserID, perm)
		}
		return nil
	}

	ok, err := e.permissions.HasPermission(ctx, actor.UserID, perm)
	if err != nil {
		return fmt.Errorf("failed to check permission %s: %w", perm, err)
	}
	if !ok {
		return apperr.PermissionDenied(actor.UserID, perm)
	}
	return nil
}

func (e *engineImpl) ResolveToken(ctx context.Context, token string, purpose entity.TokenPurpose) (*entity.ResponseToken, error) {
	if token == "" {
		return nil, apperr.ErrTokenInvalid
	}

	tok, err := e.tokenRepo.Get(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("failed to load token: %w", err)
	}
	if err := tokenError(tok, purpose, e.now()); err != nil {
		return nil, err
	}
	return tok, nil
}

// tokenError classifies why a token cannot be used, or returns nil
func tokenError(tok *entity.ResponseToken, purpose entity.TokenPurpose, now time.Time) error {
	switch {
	case tok == nil || tok.Purpose != purpose:
		return apperr.ErrTokenInvalid
	case tok.IsUsed():
		return fmt.Errorf("%w: %s on %s", apperr.ErrTokenAlreadyUsed, tok.UsedAction, tok.UsedAt.Format(time.RFC3339))
	case tok.IsExpired(now):
		return apperr.ErrTokenExpired
	}
	return nil
}

func (e *engineImpl) AllowedActions(ctx context.Context, po *entity.PurchaseOrder, role entity.Role) []domainwf.Trigger {
	return AllowedActions(ctx, po, role)
}

// Transition loads the order, fires the trigger and persists the result in one transaction
func (e *engineImpl) Transition(ctx context.Context, req TransitionRequest) (*TransitionResult, error) {
	if !req.Authorized {
		if err := e.Authorize(ctx, req.Actor, req.Trigger); err != nil {
			return nil, err
		}
	}

	var result *TransitionResult

	err := e.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		po, err := e.orderRepo.GetByID(txCtx, req.OrderID)
		if err != nil {
			return fmt.Errorf("failed to fetch purchase order: %w", err)
		}
		if po == nil || po.IsDeleted() {
			return apperr.NotFound("purchase order", req.OrderID)
		}

		now := e.now()

		if req.Token != "" {
			if err := e.consumeToken(txCtx, po.ID, req, now); err != nil {
				return err
			}
		}

		before := po.Clone()
		previousState := po.Status
		if !previousState.IsValid() {
			return fmt.Errorf("%w: %s", domainwf.ErrInvalidState, previousState)
		}

		machine := BuildPurchaseOrderStateMachine(previousState)
		if err := machine.Fire(WithOrder(txCtx, po), req.Trigger); err != nil {
			return err
		}

		if req.Apply != nil {
			if err := req.Apply(txCtx, po); err != nil {
				return err
			}
		}

		if !req.Hold {
			po.Status = machine.State()
		}
		if po.FinancialStatus != before.FinancialStatus && !before.FinancialStatus.CanAdvanceTo(po.FinancialStatus) {
			return fmt.Errorf("financial status cannot move from %s to %s", before.FinancialStatus, po.FinancialStatus)
		}
		po.Recalculate()
		po.UpdatedAt = now

		if err := e.orderRepo.Update(txCtx, po); err != nil {
			if errors.Is(err, apperr.ErrStaleOrder) {
				return e.staleError(txCtx, req)
			}
			return fmt.Errorf("failed to update purchase order: %w", err)
		}

		history := &entity.StatusHistory{
			PurchaseOrderID: po.ID,
			ActorUserID:     req.Actor.UserID,
			ActorRole:       req.Actor.Role,
			PreviousStatus:  previousState.String(),
			NewStatus:       po.Status.String(),
			ActionType:      req.Trigger.String(),
			ActionData:      encodeActionData(req.ActionData),
			Timestamp:       now,
		}
		if req.Hold {
			history.ActionType = req.Trigger.String() + "_recorded"
		}

		if err := e.historyRepo.Create(txCtx, history); err != nil {
			return fmt.Errorf("failed to create history record: %w", err)
		}

		result = &TransitionResult{
			From:   previousState,
			To:     po.Status,
			Before: before,
			After:  po,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if e.logger != nil {
		e.logger.Info("Purchase order transitioned",
			"order_id", req.OrderID,
			"trigger", req.Trigger,
			"from", result.From,
			"to", result.To,
			"actor", req.Actor.UserID,
		)
	}

	e.emit(ctx, req, result)

	return result, nil
}

func (e *engineImpl) consumeToken(ctx context.Context, orderID int64, req TransitionRequest, now time.Time) error {
	tok, err := e.tokenRepo.Get(ctx, req.Token)
	if err != nil {
		return fmt.Errorf("failed to load token: %w", err)
	}
	if tok == nil || tok.PurchaseOrderID != orderID {
		return apperr.ErrTokenInvalid
	}
	if err := tokenError(tok, req.TokenPurpose, now); err != nil {
		return err
	}

	ok, err := e.tokenRepo.Consume(ctx, req.Token, req.TokenPurpose, req.Trigger.String(), now)
	if err != nil {
		return fmt.Errorf("failed to consume token: %w", err)
	}
	if !ok {
		// lost the race against a concurrent submission
		return apperr.ErrTokenAlreadyUsed
	}
	return nil
}

// staleError reloads the order and reports the attempt against its current status
func (e *engineImpl) staleError(ctx context.Context, req TransitionRequest) error {
	current, err := e.orderRepo.GetByID(ctx, req.OrderID)
	if err != nil || current == nil {
		return apperr.ErrStaleOrder
	}
	return &domainwf.TransitionError{
		From:    current.Status,
		Trigger: req.Trigger,
		Reason:  apperr.ErrStaleOrder.Error(),
	}
}

func (e *engineImpl) emit(ctx context.Context, req TransitionRequest, result *TransitionResult) {
	if e.dispatcher == nil {
		return
	}

	payload := map[string]interface{}{
		"previous_status": result.From.String(),
		"new_status":      result.To.String(),
		"trigger":         req.Trigger.String(),
	}
	for k, v := range req.ActionData {
		payload[k] = v
	}

	base := event.NewEvent(event.TypeStatusChanged, req.OrderID, req.Actor, payload).
		WithSnapshots(result.Before, result.After)

	var events []*event.Event
	if result.From != result.To {
		events = append(events, base)
	}

	if !req.Hold {
		for _, t := range transitionEvents[req.Trigger] {
			if settledEvents[t] && result.From == result.To {
				continue
			}
			events = append(events, base.Derive(t))
		}
	}
	for _, t := range req.Events {
		events = append(events, base.Derive(t))
	}

	if len(events) > 0 {
		e.dispatcher.DispatchAsync(ctx, events...)
	}
}

func encodeActionData(data map[string]interface{}) string {
	if len(data) == 0 {
		return ""
	}
	b, err := json.Marshal(data)
	if err != nil {
		return ""
	}
	return string(b)
}
