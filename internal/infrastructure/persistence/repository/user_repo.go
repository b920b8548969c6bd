package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/garyjia/po-workflow/internal/application/port"
	"github.com/garyjia/po-workflow/internal/domain/entity"
	"github.com/garyjia/po-workflow/internal/infrastructure/persistence/sqlite"
)

// UserRepository implements port.UserRepository. Users are provisioned by the
// identity service: SyncIdentity records what a verified bearer token says,
// Upsert seeds contact details.
type UserRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewUserRepository creates a new user repository
func NewUserRepository(db *sql.DB, logger *zap.Logger) *UserRepository {
	return &UserRepository{
		db:     db,
		logger: logger,
	}
}

const userColumns = `id, name, email, phone, role, lark_open_id, supplier_id`

// Upsert inserts or replaces a user
func (r *UserRepository) Upsert(ctx context.Context, user *entity.User) error {
	_, err := r.getExecutor(ctx).ExecContext(ctx, `
		INSERT INTO users (`+userColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name, email = excluded.email, phone = excluded.phone,
			role = excluded.role, lark_open_id = excluded.lark_open_id,
			supplier_id = excluded.supplier_id`,
		user.ID, user.Name, user.Email, user.Phone, string(user.Role), user.LarkOpenID, user.SupplierID,
	)
	if err != nil {
		r.logger.Error("Failed to upsert user", zap.String("user_id", user.ID), zap.Error(err))
		return fmt.Errorf("failed to upsert user: %w", err)
	}
	return nil
}

// SyncIdentity records the name and role carried by a verified token,
// keeping contact details already on file
func (r *UserRepository) SyncIdentity(ctx context.Context, id, name string, role entity.Role) error {
	_, err := r.getExecutor(ctx).ExecContext(ctx, `
		INSERT INTO users (id, name, role) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, role = excluded.role`,
		id, name, string(role),
	)
	if err != nil {
		r.logger.Error("Failed to sync user identity", zap.String("user_id", id), zap.Error(err))
		return fmt.Errorf("failed to sync user identity: %w", err)
	}
	return nil
}

// GetByID retrieves a user; unknown IDs return nil, nil
func (r *UserRepository) GetByID(ctx context.Context, id string) (*entity.User, error) {
	row := r.getExecutor(ctx).QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = ?`, id)

	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return u, nil
}

// ListByRole returns users holding any of the roles, ordered by ID
func (r *UserRepository) ListByRole(ctx context.Context, roles ...entity.Role) ([]*entity.User, error) {
	if len(roles) == 0 {
		return []*entity.User{}, nil
	}
	args := make([]interface{}, 0, len(roles))
	for _, role := range roles {
		args = append(args, string(role))
	}

	rows, err := r.getExecutor(ctx).QueryContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE role IN (`+placeholders(len(roles))+`) ORDER BY id ASC`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	users := []*entity.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func scanUser(row rowScanner) (*entity.User, error) {
	var u entity.User
	var role string
	if err := row.Scan(&u.ID, &u.Name, &u.Email, &u.Phone, &role, &u.LarkOpenID, &u.SupplierID); err != nil {
		return nil, err
	}
	u.Role = entity.Role(role)
	return &u, nil
}

func (r *UserRepository) getExecutor(ctx context.Context) sqlite.Executor {
	return sqlite.Conn(ctx, r.db)
}

var _ port.UserRepository = (*UserRepository)(nil)
