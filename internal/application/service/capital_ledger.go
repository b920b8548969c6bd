package service

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/garyjia/po-workflow/internal/application/port"
	"github.com/garyjia/po-workflow/internal/domain/apperr"
	"github.com/garyjia/po-workflow/internal/domain/entity"
)

// capitalLedger keeps one commitment row per order against the project budget.
// Projects without a budget are not guarded.
type capitalLedger struct {
	budgets port.BudgetRepository
}

// NewCapitalLedger creates the budget-backed CapitalLedger
func NewCapitalLedger(budgets port.BudgetRepository) port.CapitalLedger {
	return &capitalLedger{budgets: budgets}
}

func (l *capitalLedger) Reserve(ctx context.Context, projectID string, orderID int64, amount decimal.Decimal) error {
	available, budgeted, err := l.Available(ctx, projectID)
	if err != nil {
		return err
	}
	if budgeted && amount.GreaterThan(available) {
		return apperr.InsufficientCapital(projectID, amount.StringFixed(2), available.StringFixed(2))
	}
	if err := l.budgets.UpsertCommitment(ctx, orderID, projectID, amount, entity.FinancialCommitted); err != nil {
		return fmt.Errorf("failed to record commitment: %w", err)
	}
	return nil
}

func (l *capitalLedger) Fulfil(ctx context.Context, orderID int64) error {
	if err := l.budgets.SetCommitmentStatus(ctx, orderID, entity.FinancialFulfilled); err != nil {
		return fmt.Errorf("failed to fulfil commitment: %w", err)
	}
	return nil
}

func (l *capitalLedger) Release(ctx context.Context, orderID int64) error {
	if err := l.budgets.SetCommitmentStatus(ctx, orderID, entity.FinancialCancelled); err != nil {
		return fmt.Errorf("failed to release commitment: %w", err)
	}
	return nil
}

func (l *capitalLedger) SetBudget(ctx context.Context, budget *entity.ProjectBudget) error {
	if err := l.budgets.UpsertBudget(ctx, budget); err != nil {
		return fmt.Errorf("failed to save budget: %w", err)
	}
	return nil
}

// Available is the budget minus committed and fulfilled amounts
func (l *capitalLedger) Available(ctx context.Context, projectID string) (decimal.Decimal, bool, error) {
	budget, err := l.budgets.GetBudget(ctx, projectID)
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("failed to load budget: %w", err)
	}
	if budget == nil {
		return decimal.Zero, false, nil
	}
	committed, err := l.budgets.CommittedTotal(ctx, projectID)
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("failed to sum commitments: %w", err)
	}
	return budget.TotalBudget.Sub(committed), true, nil
}
