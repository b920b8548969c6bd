package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/po-workflow/internal/application/port"
	"github.com/garyjia/po-workflow/internal/domain/entity"
	"github.com/garyjia/po-workflow/internal/infrastructure/persistence/sqlite"
)

const historyColumns = `purchase_order_id, actor_user_id, actor_role, previous_status,
	new_status, action_type, action_data, timestamp`

// HistoryRepository implements port.HistoryRepository. Rows are append-only
// and written inside the transition transaction through the context.
type HistoryRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewHistoryRepository creates a new history repository
func NewHistoryRepository(db *sql.DB, logger *zap.Logger) port.HistoryRepository {
	return &HistoryRepository{db: db, logger: logger}
}

// Create appends one transition to an order's trail
func (r *HistoryRepository) Create(ctx context.Context, h *entity.StatusHistory) error {
	if h.Timestamp.IsZero() {
		h.Timestamp = time.Now()
	}

	res, err := sqlite.Conn(ctx, r.db).ExecContext(ctx,
		`INSERT INTO status_history (`+historyColumns+`) VALUES (`+placeholders(8)+`)`,
		h.PurchaseOrderID, h.ActorUserID, string(h.ActorRole), h.PreviousStatus,
		h.NewStatus, h.ActionType, h.ActionData, h.Timestamp.UTC(),
	)
	if err != nil {
		r.logger.Error("Failed to record status change",
			zap.Int64("order_id", h.PurchaseOrderID),
			zap.String("action", h.ActionType),
			zap.Error(err))
		return fmt.Errorf("failed to record status change: %w", err)
	}

	if h.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("failed to read history id: %w", err)
	}
	return nil
}

// GetByOrderID returns an order's trail, oldest first
func (r *HistoryRepository) GetByOrderID(ctx context.Context, orderID int64) ([]*entity.StatusHistory, error) {
	rows, err := sqlite.Conn(ctx, r.db).QueryContext(ctx,
		`SELECT id, `+historyColumns+` FROM status_history WHERE purchase_order_id = ? ORDER BY id`,
		orderID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query history of order %d: %w", orderID, err)
	}
	defer rows.Close()

	trail := []*entity.StatusHistory{}
	for rows.Next() {
		h := &entity.StatusHistory{}
		var role string
		if err := rows.Scan(&h.ID, &h.PurchaseOrderID, &h.ActorUserID, &role, &h.PreviousStatus,
			&h.NewStatus, &h.ActionType, &h.ActionData, &h.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		h.ActorRole = entity.Role(role)
		trail = append(trail, h)
	}
	return trail, rows.Err()
}

var _ port.HistoryRepository = (*HistoryRepository)(nil)
