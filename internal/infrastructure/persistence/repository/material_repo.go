package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/garyjia/po-workflow/internal/application/port"
	"github.com/garyjia/po-workflow/internal/domain/apperr"
	"github.com/garyjia/po-workflow/internal/domain/entity"
	"github.com/garyjia/po-workflow/internal/infrastructure/persistence/sqlite"
)

// MaterialRepository implements port.MaterialRepository
type MaterialRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewMaterialRepository creates a new material entry repository
func NewMaterialRepository(db *sql.DB, logger *zap.Logger) port.MaterialRepository {
	return &MaterialRepository{
		db:     db,
		logger: logger,
	}
}

const materialColumns = `id, purchase_order_id, material_request_id, project_id, name, unit,
	quantity, unit_cost, total_cost, supplier_id, created_by, is_automatic, notes, created_at`

// CreateBatch inserts material entries
func (r *MaterialRepository) CreateBatch(ctx context.Context, entries []*entity.MaterialEntry) error {
	exec := r.getExecutor(ctx)
	for _, e := range entries {
		if e.CreatedAt.IsZero() {
			e.CreatedAt = time.Now()
		}
		_, err := exec.ExecContext(ctx, `
			INSERT INTO material_entries (`+materialColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			e.ID,
			e.PurchaseOrderID,
			e.MaterialRequestID,
			e.ProjectID,
			e.Name,
			e.Unit,
			e.Quantity,
			e.UnitCost,
			e.TotalCost,
			e.SupplierID,
			e.CreatedBy,
			e.IsAutomatic,
			e.Notes,
			e.CreatedAt.UTC(),
		)
		if err != nil {
			r.logger.Error("Failed to create material entry",
				zap.Int64("order_id", e.PurchaseOrderID),
				zap.String("material_request_id", e.MaterialRequestID),
				zap.Error(err))
			return fmt.Errorf("failed to create material entry: %w", err)
		}
	}
	return nil
}

// ListByOrderID returns the entries created from an order
func (r *MaterialRepository) ListByOrderID(ctx context.Context, orderID int64) ([]*entity.MaterialEntry, error) {
	rows, err := r.getExecutor(ctx).QueryContext(ctx,
		`SELECT `+materialColumns+` FROM material_entries WHERE purchase_order_id = ? ORDER BY rowid ASC`, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to list material entries: %w", err)
	}
	defer rows.Close()

	var entries []*entity.MaterialEntry
	for rows.Next() {
		var e entity.MaterialEntry
		err := rows.Scan(
			&e.ID,
			&e.PurchaseOrderID,
			&e.MaterialRequestID,
			&e.ProjectID,
			&e.Name,
			&e.Unit,
			&e.Quantity,
			&e.UnitCost,
			&e.TotalCost,
			&e.SupplierID,
			&e.CreatedBy,
			&e.IsAutomatic,
			&e.Notes,
			&e.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan material entry: %w", err)
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

func (r *MaterialRepository) getExecutor(ctx context.Context) sqlite.Executor {
	return sqlite.Conn(ctx, r.db)
}

// MaterialCreator records delivered orders as project material entries
type MaterialCreator struct {
	tx        port.TransactionManager
	orders    port.PurchaseOrderRepository
	materials port.MaterialRepository
	logger    *zap.Logger
}

// NewMaterialCreator creates the sqlite-backed port.MaterialCreator
func NewMaterialCreator(tx port.TransactionManager, orders port.PurchaseOrderRepository, materials port.MaterialRepository, logger *zap.Logger) *MaterialCreator {
	return &MaterialCreator{
		tx:        tx,
		orders:    orders,
		materials: materials,
		logger:    logger,
	}
}

// CreateMaterialFromPurchaseOrder creates one entry per active line.
// An order that already has entries gets them back unchanged.
func (c *MaterialCreator) CreateMaterialFromPurchaseOrder(ctx context.Context, req port.MaterialCreationRequest) (*port.MaterialCreationResult, error) {
	var entries []*entity.MaterialEntry

	err := c.tx.WithTransaction(ctx, func(ctx context.Context) error {
		existing, err := c.materials.ListByOrderID(ctx, req.PurchaseOrderID)
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			entries = existing
			return nil
		}

		po, err := c.orders.GetByID(ctx, req.PurchaseOrderID)
		if err != nil {
			return err
		}
		if po == nil || po.IsDeleted() {
			return apperr.NotFound("purchase order", req.PurchaseOrderID)
		}

		entries = buildEntries(po, req, time.Now())
		if len(entries) == 0 {
			return fmt.Errorf("purchase order %d has no active lines", po.ID)
		}
		return c.materials.CreateBatch(ctx, entries)
	})
	if err != nil {
		return nil, err
	}

	result := &port.MaterialCreationResult{CreatedMaterials: entries}
	for _, e := range entries {
		result.MaterialIDs = append(result.MaterialIDs, e.ID)
	}

	c.logger.Info("Material entries created",
		zap.Int64("order_id", req.PurchaseOrderID),
		zap.Strings("material_ids", result.MaterialIDs),
		zap.String("total_value", TotalValue(entries).StringFixed(2)),
		zap.Bool("automatic", req.IsAutomatic))
	return result, nil
}

func buildEntries(po *entity.PurchaseOrder, req port.MaterialCreationRequest, now time.Time) []*entity.MaterialEntry {
	items := po.ActiveItems()
	entries := make([]*entity.MaterialEntry, 0, len(items))

	for _, li := range items {
		qty, cost := li.Quantity, li.UnitCost
		if po.IsBulkOrder {
			if q, ok := req.MaterialQuantities[li.MaterialRequestID]; ok {
				qty = q
			}
			if c, ok := req.MaterialUnitCosts[li.MaterialRequestID]; ok {
				cost = c
			}
		} else {
			if req.ActualQuantityReceived != nil {
				qty = *req.ActualQuantityReceived
			}
			if req.ActualUnitCost != nil {
				cost = *req.ActualUnitCost
			}
		}

		entries = append(entries, &entity.MaterialEntry{
			ID:                "mat-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16],
			PurchaseOrderID:   po.ID,
			MaterialRequestID: li.MaterialRequestID,
			ProjectID:         po.ProjectID,
			Name:              li.MaterialName,
			Unit:              li.Unit,
			Quantity:          qty,
			UnitCost:          cost,
			TotalCost:         qty.Mul(cost).Round(2),
			SupplierID:        po.SupplierID,
			CreatedBy:         req.Creator.UserID,
			IsAutomatic:       req.IsAutomatic,
			Notes:             req.Notes,
			CreatedAt:         now,
		})
	}
	return entries
}

// TotalValue sums the entries' totals
func TotalValue(entries []*entity.MaterialEntry) decimal.Decimal {
	total := decimal.Zero
	for _, e := range entries {
		total = total.Add(e.TotalCost)
	}
	return total
}

var (
	_ port.MaterialRepository = (*MaterialRepository)(nil)
	_ port.MaterialCreator    = (*MaterialCreator)(nil)
)
