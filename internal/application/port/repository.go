package port

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/garyjia/po-workflow/internal/domain/entity"
	"github.com/garyjia/po-workflow/internal/domain/workflow"
)

// TransactionManager runs fn in a database transaction carried by ctx.
// Nested calls join the outer transaction.
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// OrderFilter selects purchase orders. Zero values do not filter.
type OrderFilter struct {
	Statuses       []workflow.State
	ProjectID      string
	SupplierID     string
	IsBulk         *bool
	ParentOrderID  *int64
	CreatedFrom    *time.Time
	CreatedTo      *time.Time
	SentBefore     *time.Time
	IncludeDeleted bool
	Limit          int
	Offset         int
}

// PurchaseOrderRepository persists purchase orders.
// GetByID and GetByNumber return nil, nil when nothing matches.
type PurchaseOrderRepository interface {
	Create(ctx context.Context, po *entity.PurchaseOrder) error
	GetByID(ctx context.Context, id int64) (*entity.PurchaseOrder, error)
	GetByNumber(ctx context.Context, number string) (*entity.PurchaseOrder, error)

	// Update writes the order only if its stored version still equals po.Version,
	// then increments po.Version. A mismatch returns apperr.ErrStaleOrder.
	Update(ctx context.Context, po *entity.PurchaseOrder) error

	// SetSuggestedReason annotates a rejected order without touching its version
	SetSuggestedReason(ctx context.Context, id int64, reason entity.RejectionReason) error

	List(ctx context.Context, filter OrderFilter) ([]*entity.PurchaseOrder, error)
	Count(ctx context.Context, filter OrderFilter) (int, error)

	// SupplierPerformance aggregates order history per supplier
	SupplierPerformance(ctx context.Context, supplierIDs []string) (map[string]*entity.SupplierPerformance, error)
}

// TokenRepository stores response tokens
type TokenRepository interface {
	Create(ctx context.Context, token *entity.ResponseToken) error

	// Get returns nil, nil for an unknown token
	Get(ctx context.Context, token string) (*entity.ResponseToken, error)

	// Consume marks the token used in a single conditional update.
	// It returns false when the token was unknown, used, revoked, expired or issued for another purpose.
	Consume(ctx context.Context, token string, purpose entity.TokenPurpose, action string, now time.Time) (bool, error)

	RevokeForOrder(ctx context.Context, orderID int64, now time.Time) (int64, error)
	ActiveForOrder(ctx context.Context, orderID int64, purpose entity.TokenPurpose, now time.Time) (*entity.ResponseToken, error)
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// HistoryRepository stores the workflow trail of each order
type HistoryRepository interface {
	Create(ctx context.Context, history *entity.StatusHistory) error
	GetByOrderID(ctx context.Context, orderID int64) ([]*entity.StatusHistory, error)
}

// SupplierRepository persists suppliers
type SupplierRepository interface {
	Create(ctx context.Context, supplier *entity.Supplier) error
	GetByID(ctx context.Context, id string) (*entity.Supplier, error)
	List(ctx context.Context, activeOnly bool) ([]*entity.Supplier, error)
}

// UserRepository reads internal users
type UserRepository interface {
	GetByID(ctx context.Context, id string) (*entity.User, error)
	ListByRole(ctx context.Context, roles ...entity.Role) ([]*entity.User, error)
}

// MaterialRepository stores material entries created from orders
type MaterialRepository interface {
	CreateBatch(ctx context.Context, entries []*entity.MaterialEntry) error
	ListByOrderID(ctx context.Context, orderID int64) ([]*entity.MaterialEntry, error)
}

// BudgetRepository stores project budgets and the amounts committed against them
type BudgetRepository interface {
	GetBudget(ctx context.Context, projectID string) (*entity.ProjectBudget, error)
	UpsertBudget(ctx context.Context, budget *entity.ProjectBudget) error
	CommittedTotal(ctx context.Context, projectID string) (decimal.Decimal, error)
	UpsertCommitment(ctx context.Context, orderID int64, projectID string, amount decimal.Decimal, status entity.FinancialStatus) error
	SetCommitmentStatus(ctx context.Context, orderID int64, status entity.FinancialStatus) error
}
