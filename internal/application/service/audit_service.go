package service

import (
	"context"
	"fmt"
	"strconv"

	"github.com/garyjia/po-workflow/internal/application/port"
	"github.com/garyjia/po-workflow/internal/domain/entity"
	"github.com/garyjia/po-workflow/internal/domain/event"
)

// AuditService records before/after snapshots of every order change
type AuditService interface {
	RecordEvent(ctx context.Context, evt *event.Event) error
}

type auditServiceImpl struct {
	audit  port.AuditLogger
	logger Logger
}

// NewAuditService creates a new AuditService
func NewAuditService(audit port.AuditLogger, logger Logger) AuditService {
	return &auditServiceImpl{
		audit:  audit,
		logger: logger,
	}
}

func (s *auditServiceImpl) RecordEvent(ctx context.Context, evt *event.Event) error {
	po := evt.Order()
	projectID := ""
	if po != nil {
		projectID = po.ProjectID
	}

	action := string(evt.Type)
	if trigger := evt.GetPayloadString("trigger"); trigger != "" {
		action += ":" + trigger
	}

	log := &entity.AuditLog{
		UserID:     evt.Actor.UserID,
		Action:     action,
		EntityType: "purchase_order",
		EntityID:   strconv.FormatInt(evt.OrderID, 10),
		ProjectID:  projectID,
		Changes: entity.AuditChanges{
			Before: evt.Before,
			After:  evt.After,
		},
		CreatedAt: evt.Timestamp,
	}
	if err := s.audit.CreateAuditLog(ctx, log); err != nil {
		return fmt.Errorf("create audit log: %w", err)
	}
	return nil
}
