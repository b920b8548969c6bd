package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/po-workflow/internal/application/port"
	"github.com/garyjia/po-workflow/internal/domain/entity"
	"github.com/garyjia/po-workflow/internal/infrastructure/persistence/sqlite"
)

// AuditRepository implements port.AuditLogger
type AuditRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewAuditRepository creates a new audit log repository
func NewAuditRepository(db *sql.DB, logger *zap.Logger) *AuditRepository {
	return &AuditRepository{
		db:     db,
		logger: logger,
	}
}

// CreateAuditLog stores one audit record with its snapshots encoded as JSON
func (r *AuditRepository) CreateAuditLog(ctx context.Context, log *entity.AuditLog) error {
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now()
	}
	changes, err := json.Marshal(log.Changes)
	if err != nil {
		return fmt.Errorf("failed to encode audit changes: %w", err)
	}

	result, err := r.getExecutor(ctx).ExecContext(ctx, `
		INSERT INTO audit_logs (user_id, action, entity_type, entity_id, project_id, changes, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		log.UserID,
		log.Action,
		log.EntityType,
		log.EntityID,
		log.ProjectID,
		string(changes),
		log.CreatedAt.UTC(),
	)
	if err != nil {
		r.logger.Error("Failed to create audit log",
			zap.String("action", log.Action),
			zap.String("entity_id", log.EntityID),
			zap.Error(err))
		return fmt.Errorf("failed to create audit log: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	log.ID = id
	return nil
}

// ListByEntity returns the audit trail of one entity, oldest first.
// Snapshots come back as raw JSON.
func (r *AuditRepository) ListByEntity(ctx context.Context, entityType, entityID string) ([]*entity.AuditLog, error) {
	rows, err := r.getExecutor(ctx).QueryContext(ctx, `
		SELECT id, user_id, action, entity_type, entity_id, project_id, changes, created_at
		FROM audit_logs
		WHERE entity_type = ? AND entity_id = ?
		ORDER BY id ASC`, entityType, entityID)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit logs: %w", err)
	}
	defer rows.Close()

	var logs []*entity.AuditLog
	for rows.Next() {
		var l entity.AuditLog
		var changes string
		if err := rows.Scan(&l.ID, &l.UserID, &l.Action, &l.EntityType, &l.EntityID, &l.ProjectID, &changes, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit log: %w", err)
		}
		var raw struct {
			Before json.RawMessage `json:"before"`
			After  json.RawMessage `json:"after"`
		}
		if err := json.Unmarshal([]byte(changes), &raw); err != nil {
			return nil, fmt.Errorf("failed to decode audit changes: %w", err)
		}
		l.Changes = entity.AuditChanges{Before: raw.Before, After: raw.After}
		logs = append(logs, &l)
	}
	return logs, rows.Err()
}

func (r *AuditRepository) getExecutor(ctx context.Context) sqlite.Executor {
	return sqlite.Conn(ctx, r.db)
}

var _ port.AuditLogger = (*AuditRepository)(nil)
