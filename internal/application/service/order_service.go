package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/garyjia/po-workflow/internal/application/dispatcher"
	"github.com/garyjia/po-workflow/internal/application/port"
	appwf "github.com/garyjia/po-workflow/internal/application/workflow"
	"github.com/garyjia/po-workflow/internal/domain/apperr"
	"github.com/garyjia/po-workflow/internal/domain/entity"
	"github.com/garyjia/po-workflow/internal/domain/event"
	domainwf "github.com/garyjia/po-workflow/internal/domain/workflow"
	"github.com/garyjia/po-workflow/pkg/utils"
)

// TokenView is what a supplier sees behind a public link
type TokenView struct {
	Order          *entity.PurchaseOrder `json:"order"`
	Purpose        entity.TokenPurpose   `json:"purpose"`
	ExpiresAt      time.Time             `json:"expiresAt"`
	AllowedActions []domainwf.Trigger    `json:"allowedActions"`
}

// OrderService creates, reads, cancels and deletes purchase orders
type OrderService interface {
	Create(ctx context.Context, actor entity.Actor, in CreateOrderInput) (*entity.PurchaseOrder, error)
	Get(ctx context.Context, actor entity.Actor, orderID int64) (*entity.PurchaseOrder, error)
	List(ctx context.Context, actor entity.Actor, filter port.OrderFilter) ([]*entity.PurchaseOrder, int, error)
	History(ctx context.Context, actor entity.Actor, orderID int64) ([]*entity.StatusHistory, error)
	AllowedActions(ctx context.Context, actor entity.Actor, orderID int64) ([]domainwf.Trigger, error)

	// Cancel releases any capital commitment and revokes outstanding links
	Cancel(ctx context.Context, orderID int64, actor entity.Actor, reason string) (*entity.PurchaseOrder, error)

	// SoftDelete hides an order that never committed capital
	SoftDelete(ctx context.Context, orderID int64, actor entity.Actor) error

	// GetByToken is a read-only lookup; it reports the same token errors as a submission
	GetByToken(ctx context.Context, token string) (*TokenView, error)

	CreateSupplier(ctx context.Context, actor entity.Actor, in SupplierInput) (*entity.Supplier, error)
	ListSuppliers(ctx context.Context, actor entity.Actor, activeOnly bool) ([]*entity.Supplier, error)

	SetProjectBudget(ctx context.Context, actor entity.Actor, projectID string, total decimal.Decimal) (*entity.ProjectBudget, error)
	AvailableCapital(ctx context.Context, actor entity.Actor, projectID string) (decimal.Decimal, bool, error)
}

type orderServiceImpl struct {
	runner
	orders      port.PurchaseOrderRepository
	history     port.HistoryRepository
	tokens      port.TokenRepository
	suppliers   port.SupplierRepository
	ledger      port.CapitalLedger
	permissions port.PermissionChecker
	txManager   port.TransactionManager
	issuer      *TokenIssuer
}

// NewOrderService creates a new OrderService
func NewOrderService(
	engine appwf.WorkflowEngine,
	orders port.PurchaseOrderRepository,
	history port.HistoryRepository,
	tokens port.TokenRepository,
	suppliers port.SupplierRepository,
	users port.UserRepository,
	ledger port.CapitalLedger,
	permissions port.PermissionChecker,
	txManager port.TransactionManager,
	issuer *TokenIssuer,
	d dispatcher.Dispatcher,
	logger Logger,
) OrderService {
	return &orderServiceImpl{
		runner:      runner{engine: engine, users: users, dispatcher: d, logger: logger},
		orders:      orders,
		history:     history,
		tokens:      tokens,
		suppliers:   suppliers,
		ledger:      ledger,
		permissions: permissions,
		txManager:   txManager,
		issuer:      issuer,
	}
}

func (s *orderServiceImpl) Create(ctx context.Context, actor entity.Actor, in CreateOrderInput) (*entity.PurchaseOrder, error) {
	if err := authorize(ctx, s.permissions, actor, entity.PermCreatePurchaseOrder); err != nil {
		return nil, err
	}
	if err := in.Validate(); err != nil {
		return nil, err
	}

	sup, err := s.suppliers.GetByID(ctx, in.SupplierID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch supplier: %w", err)
	}
	if sup == nil {
		return nil, apperr.NotFound("supplier", in.SupplierID)
	}
	if !sup.IsActive() {
		return nil, apperr.Validation("supplierId", "supplier is not active")
	}

	now := time.Now()
	po := &entity.PurchaseOrder{
		PurchaseOrderNumber: newOrderNumber(now),
		IsBulkOrder:         len(in.Items) > 1,
		MaterialRequestID:   in.MaterialRequestID,
		ProjectID:           in.ProjectID,
		CreatedBy:           actor.UserID,
		SupplierID:          sup.ID,
		SupplierName:        sup.Name,
		SupplierEmail:       sup.Email,
		SupplierPhone:       sup.Phone,
		DeliveryDate:        in.DeliveryDate,
		Terms:               utils.SanitizeString(in.Terms),
		Notes:               utils.SanitizeString(in.Notes),
		Status:              domainwf.StateOrderSent,
		FinancialStatus:     entity.FinancialNotCommitted,
		CreatedAt:           now,
		SentAt:              &now,
		UpdatedAt:           now,
	}
	for _, it := range in.Items {
		po.Items = append(po.Items, entity.LineItem{
			MaterialRequestID: it.MaterialRequestID,
			MaterialName:      utils.SanitizeString(it.MaterialName),
			Category:          it.Category,
			Unit:              it.Unit,
			Quantity:          it.Quantity,
			UnitCost:          it.UnitCost,
		})
	}
	if po.MaterialRequestID == "" {
		po.MaterialRequestID = po.Items[0].MaterialRequestID
	}
	po.Recalculate()

	var tok *entity.ResponseToken
	err = s.txManager.WithTransaction(ctx, func(ctx context.Context) error {
		if err := s.orders.Create(ctx, po); err != nil {
			return fmt.Errorf("failed to create purchase order: %w", err)
		}
		if err := s.history.Create(ctx, &entity.StatusHistory{
			PurchaseOrderID: po.ID,
			ActorUserID:     actor.UserID,
			ActorRole:       actor.Role,
			NewStatus:       string(po.Status),
			ActionType:      "create",
			Timestamp:       now,
		}); err != nil {
			return fmt.Errorf("failed to record history: %w", err)
		}
		tok, err = s.issuer.Issue(ctx, po.ID, entity.TokenPurposeResponse)
		return err
	})
	if err != nil {
		s.logger.Error("Failed to create purchase order",
			"project_id", in.ProjectID,
			"supplier_id", in.SupplierID,
			"error", err,
		)
		return nil, err
	}

	s.logger.Info("Purchase order created",
		"order_id", po.ID,
		"number", po.PurchaseOrderNumber,
		"total", po.TotalCost.String(),
		"bulk", po.IsBulkOrder,
	)
	publish(ctx, s.dispatcher,
		event.NewEvent(event.TypeOrderCreated, po.ID, actor, nil).WithSnapshots(nil, po),
		tokenIssuedEvent(actor, po, tok),
	)
	return po, nil
}

func (s *orderServiceImpl) Get(ctx context.Context, actor entity.Actor, orderID int64) (*entity.PurchaseOrder, error) {
	if err := authorize(ctx, s.permissions, actor, entity.PermViewPurchaseOrder); err != nil {
		return nil, err
	}
	po, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch purchase order: %w", err)
	}
	if po == nil || po.IsDeleted() {
		return nil, apperr.NotFound("purchase order", orderID)
	}
	if err := checkSupplierActor(ctx, s.users, actor, po); err != nil {
		return nil, err
	}
	return po, nil
}

func (s *orderServiceImpl) List(ctx context.Context, actor entity.Actor, filter port.OrderFilter) ([]*entity.PurchaseOrder, int, error) {
	if err := authorize(ctx, s.permissions, actor, entity.PermViewPurchaseOrder); err != nil {
		return nil, 0, err
	}
	if actor.Role == entity.RoleSupplier {
		user, err := s.users.GetByID(ctx, actor.UserID)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to load user: %w", err)
		}
		if user == nil || user.SupplierID == "" {
			return nil, 0, apperr.PermissionDenied(actor.UserID, entity.PermViewPurchaseOrder)
		}
		filter.SupplierID = user.SupplierID
		filter.IncludeDeleted = false
	}
	if filter.Limit <= 0 || filter.Limit > 200 {
		filter.Limit = 50
	}

	orders, err := s.orders.List(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list purchase orders: %w", err)
	}
	total, err := s.orders.Count(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count purchase orders: %w", err)
	}
	return orders, total, nil
}

func (s *orderServiceImpl) History(ctx context.Context, actor entity.Actor, orderID int64) ([]*entity.StatusHistory, error) {
	if _, err := s.Get(ctx, actor, orderID); err != nil {
		return nil, err
	}
	return s.history.GetByOrderID(ctx, orderID)
}

func (s *orderServiceImpl) AllowedActions(ctx context.Context, actor entity.Actor, orderID int64) ([]domainwf.Trigger, error) {
	po, err := s.Get(ctx, actor, orderID)
	if err != nil {
		return nil, err
	}
	return s.engine.AllowedActions(ctx, po, actor.Role), nil
}

func (s *orderServiceImpl) Cancel(ctx context.Context, orderID int64, actor entity.Actor, reason string) (*entity.PurchaseOrder, error) {
	reason = utils.SanitizeString(reason)
	po, _, err := s.run(ctx, appwf.TransitionRequest{
		OrderID:    orderID,
		Trigger:    domainwf.TriggerCancel,
		Actor:      actor,
		ActionData: map[string]interface{}{"reason": reason},
	}, func(ctx context.Context, po *entity.PurchaseOrder, out *outcome) error {
		if po.FinancialStatus == entity.FinancialCommitted || po.FinancialStatus == entity.FinancialFulfilled {
			if err := s.ledger.Release(ctx, po.ID); err != nil {
				return fmt.Errorf("failed to release capital: %w", err)
			}
		}
		po.FinancialStatus = entity.FinancialCancelled
		if _, err := s.tokens.RevokeForOrder(ctx, po.ID, time.Now()); err != nil {
			return fmt.Errorf("failed to revoke tokens: %w", err)
		}
		return nil
	})
	return po, err
}

func (s *orderServiceImpl) SoftDelete(ctx context.Context, orderID int64, actor entity.Actor) error {
	if err := authorize(ctx, s.permissions, actor, entity.PermDeletePurchaseOrder); err != nil {
		return err
	}

	var before, after *entity.PurchaseOrder
	err := s.txManager.WithTransaction(ctx, func(ctx context.Context) error {
		po, err := s.orders.GetByID(ctx, orderID)
		if err != nil {
			return fmt.Errorf("failed to fetch purchase order: %w", err)
		}
		if po == nil || po.IsDeleted() {
			return apperr.NotFound("purchase order", orderID)
		}
		if po.FinancialStatus == entity.FinancialCommitted || po.FinancialStatus == entity.FinancialFulfilled {
			return apperr.Validation("financialStatus", "orders with committed capital must be cancelled, not deleted")
		}

		before = po.Clone()
		now := time.Now()
		po.DeletedAt = &now
		po.UpdatedAt = now
		if err := s.orders.Update(ctx, po); err != nil {
			return fmt.Errorf("failed to delete purchase order: %w", err)
		}
		if _, err := s.tokens.RevokeForOrder(ctx, po.ID, now); err != nil {
			return fmt.Errorf("failed to revoke tokens: %w", err)
		}
		if err := s.history.Create(ctx, &entity.StatusHistory{
			PurchaseOrderID: po.ID,
			ActorUserID:     actor.UserID,
			ActorRole:       actor.Role,
			PreviousStatus:  string(po.Status),
			NewStatus:       string(po.Status),
			ActionType:      "delete",
			Timestamp:       now,
		}); err != nil {
			return fmt.Errorf("failed to record history: %w", err)
		}
		after = po
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Info("Purchase order deleted", "order_id", orderID, "actor", actor.UserID)
	publish(ctx, s.dispatcher, event.NewEvent(event.TypeOrderDeleted, orderID, actor, nil).WithSnapshots(before, after))
	return nil
}

func (s *orderServiceImpl) GetByToken(ctx context.Context, token string) (*TokenView, error) {
	tok, err := s.tokens.Get(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch token: %w", err)
	}
	if tok == nil {
		return nil, apperr.ErrTokenInvalid
	}
	if _, err := s.engine.ResolveToken(ctx, token, tok.Purpose); err != nil {
		return nil, err
	}

	po, err := s.orders.GetByID(ctx, tok.PurchaseOrderID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch purchase order: %w", err)
	}
	if po == nil || po.IsDeleted() {
		return nil, apperr.ErrTokenInvalid
	}

	actions := make([]domainwf.Trigger, 0)
	for _, t := range s.engine.AllowedActions(ctx, po, entity.RoleSupplier) {
		if !appwf.TokenCanFire(t) {
			continue
		}
		if (t == domainwf.TriggerFulfill) == (tok.Purpose == entity.TokenPurposeFulfillment) {
			actions = append(actions, t)
		}
	}

	return &TokenView{
		Order:          po,
		Purpose:        tok.Purpose,
		ExpiresAt:      tok.ExpiresAt,
		AllowedActions: actions,
	}, nil
}

// Validate checks the supplier fields
func (in SupplierInput) Validate() error {
	v := &apperr.ValidationError{}
	if strings.TrimSpace(in.Name) == "" {
		v.Add("name", "is required")
	}
	if err := utils.ValidateEmail(in.Email); err != nil {
		v.Add("email", err.Error())
	}
	if in.Phone != "" {
		if err := utils.ValidatePhone(in.Phone); err != nil {
			v.Add("phone", err.Error())
		}
	} else if in.SMSOptIn {
		v.Add("phone", "is required to receive text messages")
	}
	if in.QualityRating < 0 || in.QualityRating > 5 {
		v.Add("qualityRating", "must be between 0 and 5")
	}
	return v.OrNil()
}

func (s *orderServiceImpl) CreateSupplier(ctx context.Context, actor entity.Actor, in SupplierInput) (*entity.Supplier, error) {
	if err := authorize(ctx, s.permissions, actor, entity.PermManageSuppliers); err != nil {
		return nil, err
	}
	if err := in.Validate(); err != nil {
		return nil, err
	}

	now := time.Now()
	sup := &entity.Supplier{
		ID:            uuid.NewString(),
		Name:          utils.SanitizeString(in.Name),
		Email:         strings.ToLower(strings.TrimSpace(in.Email)),
		Categories:    in.Categories,
		Status:        entity.SupplierActive,
		SMSOptIn:      in.SMSOptIn,
		QualityRating: in.QualityRating,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if in.Phone != "" {
		sup.Phone = utils.NormalizePhone(in.Phone)
	}
	if err := s.suppliers.Create(ctx, sup); err != nil {
		return nil, fmt.Errorf("failed to create supplier: %w", err)
	}

	s.logger.Info("Supplier created", "supplier_id", sup.ID, "name", sup.Name)
	return sup, nil
}

func (s *orderServiceImpl) ListSuppliers(ctx context.Context, actor entity.Actor, activeOnly bool) ([]*entity.Supplier, error) {
	if err := authorize(ctx, s.permissions, actor, entity.PermViewPurchaseOrder); err != nil {
		return nil, err
	}
	return s.suppliers.List(ctx, activeOnly)
}

func (s *orderServiceImpl) SetProjectBudget(ctx context.Context, actor entity.Actor, projectID string, total decimal.Decimal) (*entity.ProjectBudget, error) {
	if err := authorize(ctx, s.permissions, actor, entity.PermManageBudgets); err != nil {
		return nil, err
	}
	v := &apperr.ValidationError{}
	if strings.TrimSpace(projectID) == "" {
		v.Add("projectId", "is required")
	}
	if total.IsNegative() {
		v.Add("totalBudget", "must not be negative")
	}
	if err := v.OrNil(); err != nil {
		return nil, err
	}

	budget := &entity.ProjectBudget{
		ProjectID:   projectID,
		TotalBudget: total,
		UpdatedBy:   actor.UserID,
		UpdatedAt:   time.Now(),
	}
	if err := s.ledger.SetBudget(ctx, budget); err != nil {
		return nil, err
	}

	s.logger.Info("Project budget set", "project_id", projectID, "total", total.String())
	return budget, nil
}

func (s *orderServiceImpl) AvailableCapital(ctx context.Context, actor entity.Actor, projectID string) (decimal.Decimal, bool, error) {
	if err := authorize(ctx, s.permissions, actor, entity.PermViewPurchaseOrder); err != nil {
		return decimal.Zero, false, err
	}
	return s.ledger.Available(ctx, projectID)
}
