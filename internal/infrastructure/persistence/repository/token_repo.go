package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/po-workflow/internal/application/port"
	"github.com/garyjia/po-workflow/internal/domain/entity"
	"github.com/garyjia/po-workflow/internal/infrastructure/persistence/sqlite"
)

// TokenRepository implements port.TokenRepository
type TokenRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewTokenRepository creates a new response token repository
func NewTokenRepository(db *sql.DB, logger *zap.Logger) port.TokenRepository {
	return &TokenRepository{
		db:     db,
		logger: logger,
	}
}

const tokenColumns = `token, purchase_order_id, purpose, expires_at, used_at, used_action, revoked_at, created_at`

// Create stores a newly issued token
func (r *TokenRepository) Create(ctx context.Context, token *entity.ResponseToken) error {
	if token.CreatedAt.IsZero() {
		token.CreatedAt = time.Now()
	}

	_, err := r.getExecutor(ctx).ExecContext(ctx, `
		INSERT INTO response_tokens (`+tokenColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		token.Token,
		token.PurchaseOrderID,
		string(token.Purpose),
		token.ExpiresAt.UTC(),
		nullableTime(token.UsedAt),
		token.UsedAction,
		nullableTime(token.RevokedAt),
		token.CreatedAt.UTC(),
	)
	if err != nil {
		r.logger.Error("Failed to create response token",
			zap.Int64("order_id", token.PurchaseOrderID),
			zap.Error(err))
		return fmt.Errorf("failed to create response token: %w", err)
	}
	return nil
}

// Get retrieves a token; unknown tokens return nil, nil
func (r *TokenRepository) Get(ctx context.Context, token string) (*entity.ResponseToken, error) {
	row := r.getExecutor(ctx).QueryRowContext(ctx,
		`SELECT `+tokenColumns+` FROM response_tokens WHERE token = ?`, token)

	t, err := scanToken(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get response token: %w", err)
	}
	return t, nil
}

// Consume marks the token used if it is still valid for purpose.
// The check and the mark are one statement, so concurrent submissions cannot both succeed.
func (r *TokenRepository) Consume(ctx context.Context, token string, purpose entity.TokenPurpose, action string, now time.Time) (bool, error) {
	query := `
		UPDATE response_tokens
		SET used_at = ?, used_action = ?
		WHERE token = ? AND purpose = ?
			AND used_at IS NULL AND revoked_at IS NULL AND expires_at > ?
	`

	result, err := r.getExecutor(ctx).ExecContext(ctx, query,
		now.UTC(), action, token, string(purpose), now.UTC())
	if err != nil {
		r.logger.Error("Failed to consume response token", zap.Error(err))
		return false, fmt.Errorf("failed to consume response token: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return affected == 1, nil
}

// RevokeForOrder invalidates every unused token of an order
func (r *TokenRepository) RevokeForOrder(ctx context.Context, orderID int64, now time.Time) (int64, error) {
	result, err := r.getExecutor(ctx).ExecContext(ctx, `
		UPDATE response_tokens SET revoked_at = ?
		WHERE purchase_order_id = ? AND used_at IS NULL AND revoked_at IS NULL`,
		now.UTC(), orderID)
	if err != nil {
		return 0, fmt.Errorf("failed to revoke response tokens: %w", err)
	}
	return result.RowsAffected()
}

// ActiveForOrder returns the newest usable token of a purpose, or nil
func (r *TokenRepository) ActiveForOrder(ctx context.Context, orderID int64, purpose entity.TokenPurpose, now time.Time) (*entity.ResponseToken, error) {
	row := r.getExecutor(ctx).QueryRowContext(ctx, `
		SELECT `+tokenColumns+` FROM response_tokens
		WHERE purchase_order_id = ? AND purpose = ?
			AND used_at IS NULL AND revoked_at IS NULL AND expires_at > ?
		ORDER BY created_at DESC
		LIMIT 1`,
		orderID, string(purpose), now.UTC())

	t, err := scanToken(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get active response token: %w", err)
	}
	return t, nil
}

// DeleteExpired removes tokens that expired before the cutoff
func (r *TokenRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.getExecutor(ctx).ExecContext(ctx,
		`DELETE FROM response_tokens WHERE expires_at < ?`, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired tokens: %w", err)
	}
	return result.RowsAffected()
}

func scanToken(row rowScanner) (*entity.ResponseToken, error) {
	var (
		t       entity.ResponseToken
		purpose string
		usedAt  sql.NullTime
		revoked sql.NullTime
	)
	err := row.Scan(
		&t.Token,
		&t.PurchaseOrderID,
		&purpose,
		&t.ExpiresAt,
		&usedAt,
		&t.UsedAction,
		&revoked,
		&t.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	t.Purpose = entity.TokenPurpose(purpose)
	t.UsedAt = timePtr(usedAt)
	t.RevokedAt = timePtr(revoked)
	return &t, nil
}

func (r *TokenRepository) getExecutor(ctx context.Context) sqlite.Executor {
	return sqlite.Conn(ctx, r.db)
}

var _ port.TokenRepository = (*TokenRepository)(nil)
