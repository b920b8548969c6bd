package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/garyjia/po-workflow/internal/application/port"
	"github.com/garyjia/po-workflow/internal/domain/apperr"
	"github.com/garyjia/po-workflow/internal/domain/entity"
	"github.com/garyjia/po-workflow/internal/domain/workflow"
	"github.com/garyjia/po-workflow/internal/infrastructure/persistence/sqlite"
)

// PurchaseOrderRepository implements port.PurchaseOrderRepository.
// The order document lives in the data column; filterable fields are mirrored in columns.
type PurchaseOrderRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewPurchaseOrderRepository creates a new purchase order repository
func NewPurchaseOrderRepository(db *sql.DB, logger *zap.Logger) port.PurchaseOrderRepository {
	return &PurchaseOrderRepository{
		db:     db,
		logger: logger,
	}
}

const orderColumns = `id, data, suggested_reason, version`

// Create inserts a new purchase order and assigns its ID
func (r *PurchaseOrderRepository) Create(ctx context.Context, po *entity.PurchaseOrder) error {
	now := time.Now()
	if po.CreatedAt.IsZero() {
		po.CreatedAt = now
	}
	po.UpdatedAt = now
	if po.Version == 0 {
		po.Version = 1
	}

	data, err := json.Marshal(po)
	if err != nil {
		return fmt.Errorf("failed to encode purchase order: %w", err)
	}

	query := `
		INSERT INTO purchase_orders (
			purchase_order_number, project_id, supplier_id, created_by, parent_order_id,
			is_bulk_order, status, financial_status, total_cost, suggested_reason,
			data, sent_at, created_at, updated_at, deleted_at, version
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := r.getExecutor(ctx).ExecContext(ctx, query,
		po.PurchaseOrderNumber,
		po.ProjectID,
		po.SupplierID,
		po.CreatedBy,
		po.ParentOrderID,
		po.IsBulkOrder,
		string(po.Status),
		string(po.FinancialStatus),
		po.TotalCost,
		string(po.SuggestedReason),
		string(data),
		nullableTime(po.SentAt),
		po.CreatedAt.UTC(),
		po.UpdatedAt.UTC(),
		nullableTime(po.DeletedAt),
		po.Version,
	)
	if err != nil {
		r.logger.Error("Failed to create purchase order",
			zap.String("number", po.PurchaseOrderNumber),
			zap.Error(err))
		return fmt.Errorf("failed to create purchase order: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	po.ID = id
	return nil
}

// GetByID retrieves a purchase order, deleted ones included
func (r *PurchaseOrderRepository) GetByID(ctx context.Context, id int64) (*entity.PurchaseOrder, error) {
	row := r.getExecutor(ctx).QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM purchase_orders WHERE id = ?`, id)

	po, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get purchase order", zap.Int64("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get purchase order: %w", err)
	}
	return po, nil
}

// GetByNumber retrieves a purchase order by its human-readable number
func (r *PurchaseOrderRepository) GetByNumber(ctx context.Context, number string) (*entity.PurchaseOrder, error) {
	row := r.getExecutor(ctx).QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM purchase_orders WHERE purchase_order_number = ?`, number)

	po, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get purchase order by number: %w", err)
	}
	return po, nil
}

// Update writes the order when the stored version still matches
func (r *PurchaseOrderRepository) Update(ctx context.Context, po *entity.PurchaseOrder) error {
	expected := po.Version
	po.Version = expected + 1
	po.UpdatedAt = time.Now()

	data, err := json.Marshal(po)
	if err != nil {
		po.Version = expected
		return fmt.Errorf("failed to encode purchase order: %w", err)
	}

	query := `
		UPDATE purchase_orders SET
			supplier_id = ?, is_bulk_order = ?, status = ?, financial_status = ?,
			total_cost = ?, suggested_reason = ?, data = ?, sent_at = ?, updated_at = ?,
			deleted_at = ?, version = version + 1
		WHERE id = ? AND version = ?
	`

	result, err := r.getExecutor(ctx).ExecContext(ctx, query,
		po.SupplierID,
		po.IsBulkOrder,
		string(po.Status),
		string(po.FinancialStatus),
		po.TotalCost,
		string(po.SuggestedReason),
		string(data),
		nullableTime(po.SentAt),
		po.UpdatedAt.UTC(),
		nullableTime(po.DeletedAt),
		po.ID,
		expected,
	)
	if err != nil {
		po.Version = expected
		r.logger.Error("Failed to update purchase order", zap.Int64("id", po.ID), zap.Error(err))
		return fmt.Errorf("failed to update purchase order: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		po.Version = expected
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		po.Version = expected
		return fmt.Errorf("purchase order %d at version %d: %w", po.ID, expected, apperr.ErrStaleOrder)
	}
	return nil
}

// SetSuggestedReason stores the classifier's suggestion without bumping the version
func (r *PurchaseOrderRepository) SetSuggestedReason(ctx context.Context, id int64, reason entity.RejectionReason) error {
	_, err := r.getExecutor(ctx).ExecContext(ctx,
		`UPDATE purchase_orders SET suggested_reason = ? WHERE id = ?`, string(reason), id)
	if err != nil {
		return fmt.Errorf("failed to set suggested reason: %w", err)
	}
	return nil
}

// List returns orders matching the filter ordered by ID
func (r *PurchaseOrderRepository) List(ctx context.Context, filter port.OrderFilter) ([]*entity.PurchaseOrder, error) {
	where, args := buildOrderWhere(filter)
	query := `SELECT ` + orderColumns + ` FROM purchase_orders` + where + ` ORDER BY id ASC`
	if filter.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, filter.Limit, filter.Offset)
	} else if filter.Offset > 0 {
		query += ` LIMIT -1 OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := r.getExecutor(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to list purchase orders", zap.Error(err))
		return nil, fmt.Errorf("failed to list purchase orders: %w", err)
	}
	defer rows.Close()

	var orders []*entity.PurchaseOrder
	for rows.Next() {
		po, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan purchase order: %w", err)
		}
		orders = append(orders, po)
	}
	return orders, rows.Err()
}

// Count returns the number of orders matching the filter, ignoring paging
func (r *PurchaseOrderRepository) Count(ctx context.Context, filter port.OrderFilter) (int, error) {
	where, args := buildOrderWhere(filter)
	var count int
	err := r.getExecutor(ctx).QueryRowContext(ctx, `SELECT COUNT(*) FROM purchase_orders`+where, args...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count purchase orders: %w", err)
	}
	return count, nil
}

// SupplierPerformance aggregates the order history of the given suppliers
func (r *PurchaseOrderRepository) SupplierPerformance(ctx context.Context, supplierIDs []string) (map[string]*entity.SupplierPerformance, error) {
	out := make(map[string]*entity.SupplierPerformance, len(supplierIDs))
	if len(supplierIDs) == 0 {
		return out, nil
	}

	args := make([]interface{}, 0, len(supplierIDs))
	for _, id := range supplierIDs {
		args = append(args, id)
	}
	query := `SELECT ` + orderColumns + ` FROM purchase_orders
		WHERE deleted_at IS NULL AND supplier_id IN (` + placeholders(len(supplierIDs)) + `)`

	rows, err := r.getExecutor(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to load supplier history: %w", err)
	}
	defer rows.Close()

	var orders []*entity.PurchaseOrder
	for rows.Next() {
		po, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan purchase order: %w", err)
		}
		orders = append(orders, po)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for id, p := range AggregatePerformance(orders) {
		out[id] = p
	}
	return out, nil
}

// AggregatePerformance derives per-supplier history from their orders
func AggregatePerformance(orders []*entity.PurchaseOrder) map[string]*entity.SupplierPerformance {
	out := make(map[string]*entity.SupplierPerformance)
	costSums := make(map[string]decimal.Decimal)
	costCounts := make(map[string]int64)

	for _, po := range orders {
		p, ok := out[po.SupplierID]
		if !ok {
			p = &entity.SupplierPerformance{SupplierID: po.SupplierID}
			out[po.SupplierID] = p
		}
		p.TotalOrders++

		switch {
		case po.FinancialStatus == entity.FinancialCommitted || po.FinancialStatus == entity.FinancialFulfilled:
			p.AcceptedOrders++
		case po.Status == workflow.StateOrderRejected || po.SupplierResponse == entity.ActionReject:
			p.RejectedOrders++
		}

		if po.DeliveryConfirmedAt != nil {
			p.DeliveredOrders++
			deadline := po.DeliveryDate.AddDate(0, 0, 1)
			if po.DeliveryDate.IsZero() || po.DeliveryConfirmedAt.Before(deadline) {
				p.OnTimeDeliveries++
			}
		}

		for _, li := range po.ActiveItems() {
			costSums[po.SupplierID] = costSums[po.SupplierID].Add(li.UnitCost)
			costCounts[po.SupplierID]++
		}
	}

	for id, p := range out {
		if n := costCounts[id]; n > 0 {
			p.AverageUnitCost = costSums[id].Div(decimal.NewFromInt(n)).Round(4)
		}
	}
	return out
}

func buildOrderWhere(f port.OrderFilter) (string, []interface{}) {
	var conds []string
	var args []interface{}

	if !f.IncludeDeleted {
		conds = append(conds, "deleted_at IS NULL")
	}
	if len(f.Statuses) > 0 {
		conds = append(conds, "status IN ("+placeholders(len(f.Statuses))+")")
		for _, s := range f.Statuses {
			args = append(args, string(s))
		}
	}
	if f.ProjectID != "" {
		conds = append(conds, "project_id = ?")
		args = append(args, f.ProjectID)
	}
	if f.SupplierID != "" {
		conds = append(conds, "supplier_id = ?")
		args = append(args, f.SupplierID)
	}
	if f.IsBulk != nil {
		conds = append(conds, "is_bulk_order = ?")
		args = append(args, *f.IsBulk)
	}
	if f.ParentOrderID != nil {
		conds = append(conds, "parent_order_id = ?")
		args = append(args, *f.ParentOrderID)
	}
	if f.CreatedFrom != nil {
		conds = append(conds, "created_at >= ?")
		args = append(args, f.CreatedFrom.UTC())
	}
	if f.CreatedTo != nil {
		conds = append(conds, "created_at <= ?")
		args = append(args, f.CreatedTo.UTC())
	}
	if f.SentBefore != nil {
		conds = append(conds, "sent_at IS NOT NULL AND sent_at < ?")
		args = append(args, f.SentBefore.UTC())
	}

	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanOrder(row rowScanner) (*entity.PurchaseOrder, error) {
	var (
		id        int64
		data      string
		suggested string
		version   int64
	)
	if err := row.Scan(&id, &data, &suggested, &version); err != nil {
		return nil, err
	}

	var po entity.PurchaseOrder
	if err := json.Unmarshal([]byte(data), &po); err != nil {
		return nil, fmt.Errorf("failed to decode purchase order %d: %w", id, err)
	}
	po.ID = id
	po.Version = version
	po.SuggestedReason = entity.RejectionReason(suggested)
	return &po, nil
}

func (r *PurchaseOrderRepository) getExecutor(ctx context.Context) sqlite.Executor {
	return sqlite.Conn(ctx, r.db)
}

var _ port.PurchaseOrderRepository = (*PurchaseOrderRepository)(nil)
