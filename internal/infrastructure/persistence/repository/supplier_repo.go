package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/po-workflow/internal/application/port"
	"github.com/garyjia/po-workflow/internal/domain/entity"
	"github.com/garyjia/po-workflow/internal/infrastructure/persistence/sqlite"
)

// SupplierRepository implements port.SupplierRepository
type SupplierRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewSupplierRepository creates a new supplier repository
func NewSupplierRepository(db *sql.DB, logger *zap.Logger) port.SupplierRepository {
	return &SupplierRepository{
		db:     db,
		logger: logger,
	}
}

const supplierColumns = `id, name, email, phone, categories, status, sms_opt_in, quality_rating, created_at, updated_at`

// Create inserts a supplier
func (r *SupplierRepository) Create(ctx context.Context, supplier *entity.Supplier) error {
	now := time.Now()
	if supplier.CreatedAt.IsZero() {
		supplier.CreatedAt = now
	}
	supplier.UpdatedAt = now
	if supplier.Status == "" {
		supplier.Status = entity.SupplierActive
	}

	categories, err := json.Marshal(supplier.Categories)
	if err != nil {
		return fmt.Errorf("failed to encode categories: %w", err)
	}

	_, err = r.getExecutor(ctx).ExecContext(ctx, `
		INSERT INTO suppliers (`+supplierColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		supplier.ID,
		supplier.Name,
		supplier.Email,
		supplier.Phone,
		string(categories),
		string(supplier.Status),
		supplier.SMSOptIn,
		supplier.QualityRating,
		supplier.CreatedAt.UTC(),
		supplier.UpdatedAt.UTC(),
	)
	if err != nil {
		r.logger.Error("Failed to create supplier", zap.String("supplier_id", supplier.ID), zap.Error(err))
		return fmt.Errorf("failed to create supplier: %w", err)
	}
	return nil
}

// GetByID retrieves a supplier; unknown IDs return nil, nil
func (r *SupplierRepository) GetByID(ctx context.Context, id string) (*entity.Supplier, error) {
	row := r.getExecutor(ctx).QueryRowContext(ctx,
		`SELECT `+supplierColumns+` FROM suppliers WHERE id = ?`, id)

	s, err := scanSupplier(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get supplier: %w", err)
	}
	return s, nil
}

// List returns suppliers ordered by name
func (r *SupplierRepository) List(ctx context.Context, activeOnly bool) ([]*entity.Supplier, error) {
	query := `SELECT ` + supplierColumns + ` FROM suppliers`
	var args []interface{}
	if activeOnly {
		query += ` WHERE status = ?`
		args = append(args, string(entity.SupplierActive))
	}
	query += ` ORDER BY name ASC, id ASC`

	rows, err := r.getExecutor(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to list suppliers", zap.Error(err))
		return nil, fmt.Errorf("failed to list suppliers: %w", err)
	}
	defer rows.Close()

	suppliers := []*entity.Supplier{}
	for rows.Next() {
		s, err := scanSupplier(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan supplier: %w", err)
		}
		suppliers = append(suppliers, s)
	}
	return suppliers, rows.Err()
}

func scanSupplier(row rowScanner) (*entity.Supplier, error) {
	var (
		s          entity.Supplier
		categories string
		status     string
	)
	err := row.Scan(
		&s.ID,
		&s.Name,
		&s.Email,
		&s.Phone,
		&categories,
		&status,
		&s.SMSOptIn,
		&s.QualityRating,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	s.Status = entity.SupplierStatus(status)
	if categories != "" {
		if err := json.Unmarshal([]byte(categories), &s.Categories); err != nil {
			return nil, fmt.Errorf("failed to decode categories: %w", err)
		}
	}
	return &s, nil
}

func (r *SupplierRepository) getExecutor(ctx context.Context) sqlite.Executor {
	return sqlite.Conn(ctx, r.db)
}

var _ port.SupplierRepository = (*SupplierRepository)(nil)
