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

// NotificationRepository implements port.NotificationCreator
type NotificationRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewNotificationRepository creates a new notification repository
func NewNotificationRepository(db *sql.DB, logger *zap.Logger) *NotificationRepository {
	return &NotificationRepository{
		db:     db,
		logger: logger,
	}
}

// CreateNotifications stores a batch of in-app notifications
func (r *NotificationRepository) CreateNotifications(ctx context.Context, notifications []*entity.Notification) error {
	query := `
		INSERT INTO notifications (
			user_id, type, title, message, related_model, related_id,
			project_id, created_by, read_at, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	exec := r.getExecutor(ctx)
	now := time.Now()
	for _, n := range notifications {
		if n.CreatedAt.IsZero() {
			n.CreatedAt = now
		}
		result, err := exec.ExecContext(ctx, query,
			n.UserID,
			n.Type,
			n.Title,
			n.Message,
			n.RelatedModel,
			n.RelatedID,
			n.ProjectID,
			n.CreatedBy,
			nullableTime(n.ReadAt),
			n.CreatedAt.UTC(),
		)
		if err != nil {
			r.logger.Error("Failed to create notification",
				zap.String("user_id", n.UserID),
				zap.String("type", n.Type),
				zap.Error(err))
			return fmt.Errorf("failed to create notification: %w", err)
		}

		id, err := result.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to get last insert id: %w", err)
		}
		n.ID = id
	}
	return nil
}

// ListUnread returns a user's unread notifications, newest first
func (r *NotificationRepository) ListUnread(ctx context.Context, userID string, limit int) ([]*entity.Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.getExecutor(ctx).QueryContext(ctx, `
		SELECT id, user_id, type, title, message, related_model, related_id,
			project_id, created_by, read_at, created_at
		FROM notifications
		WHERE user_id = ? AND read_at IS NULL
		ORDER BY id DESC
		LIMIT ?`, userID, limit)
	if err != nil {
		r.logger.Error("Failed to list notifications", zap.String("user_id", userID), zap.Error(err))
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	defer rows.Close()

	notifications := []*entity.Notification{}
	for rows.Next() {
		var n entity.Notification
		var readAt sql.NullTime
		err := rows.Scan(
			&n.ID,
			&n.UserID,
			&n.Type,
			&n.Title,
			&n.Message,
			&n.RelatedModel,
			&n.RelatedID,
			&n.ProjectID,
			&n.CreatedBy,
			&readAt,
			&n.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		n.ReadAt = timePtr(readAt)
		notifications = append(notifications, &n)
	}
	return notifications, rows.Err()
}

// MarkRead marks a user's notification as read
func (r *NotificationRepository) MarkRead(ctx context.Context, userID string, id int64) error {
	_, err := r.getExecutor(ctx).ExecContext(ctx,
		`UPDATE notifications SET read_at = ? WHERE id = ? AND user_id = ? AND read_at IS NULL`,
		time.Now().UTC(), id, userID)
	if err != nil {
		r.logger.Error("Failed to mark notification read", zap.Int64("id", id), zap.Error(err))
		return fmt.Errorf("failed to mark notification read: %w", err)
	}
	return nil
}

func (r *NotificationRepository) getExecutor(ctx context.Context) sqlite.Executor {
	return sqlite.Conn(ctx, r.db)
}

var _ port.NotificationCreator = (*NotificationRepository)(nil)
