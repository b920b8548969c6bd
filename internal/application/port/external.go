package port

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/garyjia/po-workflow/internal/domain/entity"
)

// MaterialCreationRequest carries what a delivery confirmed
type MaterialCreationRequest struct {
	PurchaseOrderID        int64
	Creator                entity.Actor
	ActualQuantityReceived *decimal.Decimal
	ActualUnitCost         *decimal.Decimal
	MaterialQuantities     map[string]decimal.Decimal
	MaterialUnitCosts      map[string]decimal.Decimal
	Notes                  string
	IsAutomatic            bool
}

// MaterialCreationResult lists what was created
type MaterialCreationResult struct {
	CreatedMaterials []*entity.MaterialEntry
	MaterialIDs      []string
}

// MaterialCreator turns a delivered order into project material entries.
// Calling it twice for one order returns the entries of the first call.
type MaterialCreator interface {
	CreateMaterialFromPurchaseOrder(ctx context.Context, req MaterialCreationRequest) (*MaterialCreationResult, error)
}

// PermissionChecker gates state-changing actions by role
type PermissionChecker interface {
	HasPermission(ctx context.Context, userID string, permission string) (bool, error)
}

// CapitalLedger guards and records project capital commitments.
// Calls join the transaction carried by ctx.
type CapitalLedger interface {
	// Reserve fails with apperr.ErrInsufficientCapital when amount exceeds what the project has left
	Reserve(ctx context.Context, projectID string, orderID int64, amount decimal.Decimal) error
	Fulfil(ctx context.Context, orderID int64) error
	Release(ctx context.Context, orderID int64) error
	SetBudget(ctx context.Context, budget *entity.ProjectBudget) error
	Available(ctx context.Context, projectID string) (decimal.Decimal, bool, error)
}

// AuditLogger records before/after snapshots of every transition
type AuditLogger interface {
	CreateAuditLog(ctx context.Context, log *entity.AuditLog) error
}

// NotificationCreator stores in-app notifications
type NotificationCreator interface {
	CreateNotifications(ctx context.Context, notifications []*entity.Notification) error
}

// SMSSender delivers text messages to suppliers
type SMSSender interface {
	SendSMS(ctx context.Context, to string, message string) error
}

// SupplierEmail is an order email to a supplier
type SupplierEmail struct {
	To           string
	SupplierName string
	Subject      string
	OrderNumber  string
	Body         string
	Link         string
}

// SupplierMailer emails suppliers their response links
type SupplierMailer interface {
	SendOrderEmail(ctx context.Context, msg SupplierEmail) error
}

// ChatMessenger pushes a text message to an internal user's chat account
type ChatMessenger interface {
	SendText(ctx context.Context, openID string, text string) error
}

// RejectionClassifier suggests a taxonomy reason for free-text rejection notes
type RejectionClassifier interface {
	Classify(ctx context.Context, notes string) (entity.RejectionReason, error)
}

// SupplierScore ranks a candidate supplier for an order
type SupplierScore struct {
	SupplierID string
	Priority   int
	Reasons    []string
}

// SupplierScorer ranks alternative suppliers by historical performance
type SupplierScorer interface {
	Score(ctx context.Context, order *entity.PurchaseOrder, candidates []*entity.Supplier) ([]SupplierScore, error)
}
