package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/garyjia/po-workflow/internal/application/port"
	"github.com/garyjia/po-workflow/internal/domain/entity"
	"github.com/garyjia/po-workflow/internal/infrastructure/persistence/sqlite"
)

// BudgetRepository implements port.BudgetRepository
type BudgetRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewBudgetRepository creates a new budget repository
func NewBudgetRepository(db *sql.DB, logger *zap.Logger) port.BudgetRepository {
	return &BudgetRepository{
		db:     db,
		logger: logger,
	}
}

// GetBudget returns nil, nil for a project without a budget
func (r *BudgetRepository) GetBudget(ctx context.Context, projectID string) (*entity.ProjectBudget, error) {
	var b entity.ProjectBudget
	err := r.getExecutor(ctx).QueryRowContext(ctx, `
		SELECT project_id, total_budget, updated_by, updated_at
		FROM project_budgets WHERE project_id = ?`, projectID).Scan(
		&b.ProjectID,
		&b.TotalBudget,
		&b.UpdatedBy,
		&b.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get budget: %w", err)
	}
	return &b, nil
}

// UpsertBudget sets a project's total budget
func (r *BudgetRepository) UpsertBudget(ctx context.Context, budget *entity.ProjectBudget) error {
	if budget.UpdatedAt.IsZero() {
		budget.UpdatedAt = time.Now()
	}
	_, err := r.getExecutor(ctx).ExecContext(ctx, `
		INSERT INTO project_budgets (project_id, total_budget, updated_by, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(project_id) DO UPDATE SET
			total_budget = excluded.total_budget,
			updated_by = excluded.updated_by,
			updated_at = excluded.updated_at`,
		budget.ProjectID, budget.TotalBudget, budget.UpdatedBy, budget.UpdatedAt.UTC(),
	)
	if err != nil {
		r.logger.Error("Failed to upsert budget", zap.String("project_id", budget.ProjectID), zap.Error(err))
		return fmt.Errorf("failed to upsert budget: %w", err)
	}
	return nil
}

// CommittedTotal sums committed and fulfilled amounts. The sum is done with
// decimals because sqlite aggregates TEXT columns as floats.
func (r *BudgetRepository) CommittedTotal(ctx context.Context, projectID string) (decimal.Decimal, error) {
	rows, err := r.getExecutor(ctx).QueryContext(ctx, `
		SELECT amount FROM capital_commitments
		WHERE project_id = ? AND status IN (?, ?)`,
		projectID, string(entity.FinancialCommitted), string(entity.FinancialFulfilled))
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to sum commitments: %w", err)
	}
	defer rows.Close()

	total := decimal.Zero
	for rows.Next() {
		var amount decimal.Decimal
		if err := rows.Scan(&amount); err != nil {
			return decimal.Zero, fmt.Errorf("failed to scan commitment: %w", err)
		}
		total = total.Add(amount)
	}
	return total, rows.Err()
}

// UpsertCommitment records the amount an order commits against its project
func (r *BudgetRepository) UpsertCommitment(ctx context.Context, orderID int64, projectID string, amount decimal.Decimal, status entity.FinancialStatus) error {
	_, err := r.getExecutor(ctx).ExecContext(ctx, `
		INSERT INTO capital_commitments (purchase_order_id, project_id, amount, status, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(purchase_order_id) DO UPDATE SET
			project_id = excluded.project_id,
			amount = excluded.amount,
			status = excluded.status,
			updated_at = excluded.updated_at`,
		orderID, projectID, amount, string(status), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert commitment: %w", err)
	}
	return nil
}

// SetCommitmentStatus moves an order's commitment; orders without one are ignored
func (r *BudgetRepository) SetCommitmentStatus(ctx context.Context, orderID int64, status entity.FinancialStatus) error {
	_, err := r.getExecutor(ctx).ExecContext(ctx, `
		UPDATE capital_commitments SET status = ?, updated_at = ? WHERE purchase_order_id = ?`,
		string(status), time.Now().UTC(), orderID)
	if err != nil {
		return fmt.Errorf("failed to update commitment: %w", err)
	}
	return nil
}

func (r *BudgetRepository) getExecutor(ctx context.Context) sqlite.Executor {
	return sqlite.Conn(ctx, r.db)
}

var _ port.BudgetRepository = (*BudgetRepository)(nil)
