package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/garyjia/po-workflow/internal/application/port"
	"github.com/garyjia/po-workflow/internal/application/service"
	"github.com/garyjia/po-workflow/internal/domain/apperr"
	"github.com/garyjia/po-workflow/internal/domain/entity"
	domainwf "github.com/garyjia/po-workflow/internal/domain/workflow"
)

// NotificationInbox reads and acknowledges a user's in-app notifications
type NotificationInbox interface {
	ListUnread(ctx context.Context, userID string, limit int) ([]*entity.Notification, error)
	MarkRead(ctx context.Context, userID string, id int64) error
}

// AuditTrail reads the audit log of an entity
type AuditTrail interface {
	ListByEntity(ctx context.Context, entityType, entityID string) ([]*entity.AuditLog, error)
}

// Services groups the application services the handlers call
type Services struct {
	Orders     service.OrderService
	Responses  service.ResponseProcessor
	Deliveries service.DeliveryConfirmer
	Retries    service.RetryAdvisor
	Analytics  service.AnalyticsService
	Inbox      NotificationInbox
	Audit      AuditTrail
	Identities IdentitySync
}

// Handlers contains all HTTP request handlers
type Handlers struct {
	services Services
	version  string
	logger   Logger
}

// NewHandlers creates a new Handlers instance
func NewHandlers(services Services, version string, logger Logger) *Handlers {
	return &Handlers{
		services: services,
		version:  version,
		logger:   logger,
	}
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
}

// CapitalResponse reports what a project has left to commit
type CapitalResponse struct {
	ProjectID string          `json:"projectId"`
	Budgeted  bool            `json:"budgeted"`
	Available decimal.Decimal `json:"available"`
}

// ReasonResponse describes one rejection taxonomy entry
type ReasonResponse struct {
	Reason            entity.RejectionReason `json:"reason"`
	Label             string                 `json:"label"`
	Retryable         bool                   `json:"retryable"`
	NeedsReassignment bool                   `json:"needsReassignment"`
	Recommendation    string                 `json:"recommendation"`
	Subcategories     []string               `json:"subcategories,omitempty"`
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

type approveModificationRequest struct {
	AutoCommit *bool `json:"autoCommit,omitempty"`
}

type rejectModificationRequest struct {
	Reason     string `json:"reason"`
	CloseOrder bool   `json:"closeOrder"`
}

type verifyReceiptRequest struct {
	Notes string `json:"notes"`
}

type budgetRequest struct {
	Total decimal.Decimal `json:"total"`
}

// HealthCheck handles GET /health
func (h *Handlers) HealthCheck(c *gin.Context) {
	ok(c, http.StatusOK, HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   h.version,
	})
}

// CreateOrder handles POST /api/v1/purchase-orders
func (h *Handlers) CreateOrder(c *gin.Context) {
	var in service.CreateOrderInput
	if !h.bind(c, &in) {
		return
	}
	po, err := h.services.Orders.Create(c.Request.Context(), mustActor(c), in)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusCreated, po)
}

// ListOrders handles GET /api/v1/purchase-orders
func (h *Handlers) ListOrders(c *gin.Context) {
	filter, err := parseOrderFilter(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	orders, total, err := h.services.Orders.List(c.Request.Context(), mustActor(c), filter)
	if err != nil {
		h.fail(c, err)
		return
	}
	if orders == nil {
		orders = []*entity.PurchaseOrder{}
	}
	ok(c, http.StatusOK, ListResponse{Items: orders, Total: total, Limit: filter.Limit, Offset: filter.Offset})
}

// GetOrder handles GET /api/v1/purchase-orders/:id
func (h *Handlers) GetOrder(c *gin.Context) {
	id, good := h.orderID(c)
	if !good {
		return
	}
	po, err := h.services.Orders.Get(c.Request.Context(), mustActor(c), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusOK, po)
}

// AllowedActions handles GET /api/v1/purchase-orders/:id/actions
func (h *Handlers) AllowedActions(c *gin.Context) {
	id, good := h.orderID(c)
	if !good {
		return
	}
	actions, err := h.services.Orders.AllowedActions(c.Request.Context(), mustActor(c), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	if actions == nil {
		actions = []domainwf.Trigger{}
	}
	ok(c, http.StatusOK, gin.H{"orderId": id, "actions": actions})
}

// History handles GET /api/v1/purchase-orders/:id/history
func (h *Handlers) History(c *gin.Context) {
	id, good := h.orderID(c)
	if !good {
		return
	}
	history, err := h.services.Orders.History(c.Request.Context(), mustActor(c), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusOK, history)
}

// AuditLog handles GET /api/v1/purchase-orders/:id/audit
func (h *Handlers) AuditLog(c *gin.Context) {
	id, good := h.orderID(c)
	if !good {
		return
	}
	ctx := c.Request.Context()
	if _, err := h.services.Orders.Get(ctx, mustActor(c), id); err != nil {
		h.fail(c, err)
		return
	}
	logs, err := h.services.Audit.ListByEntity(ctx, "purchase_order", strconv.FormatInt(id, 10))
	if err != nil {
		h.fail(c, err)
		return
	}
	if logs == nil {
		logs = []*entity.AuditLog{}
	}
	ok(c, http.StatusOK, logs)
}

// Accept handles POST /api/v1/purchase-orders/:id/accept
func (h *Handlers) Accept(c *gin.Context) {
	var in service.AcceptInput
	h.orderAction(c, &in, func(ctx context.Context, id int64, actor entity.Actor) (*entity.PurchaseOrder, error) {
		return h.services.Responses.Accept(ctx, id, actor, in)
	})
}

// Reject handles POST /api/v1/purchase-orders/:id/reject
func (h *Handlers) Reject(c *gin.Context) {
	var in service.RejectInput
	h.orderAction(c, &in, func(ctx context.Context, id int64, actor entity.Actor) (*entity.PurchaseOrder, error) {
		return h.services.Responses.Reject(ctx, id, actor, in)
	})
}

// Modify handles POST /api/v1/purchase-orders/:id/modify
func (h *Handlers) Modify(c *gin.Context) {
	var in service.ModifyInput
	h.orderAction(c, &in, func(ctx context.Context, id int64, actor entity.Actor) (*entity.PurchaseOrder, error) {
		return h.services.Responses.Modify(ctx, id, actor, in)
	})
}

// RespondBulk handles POST /api/v1/purchase-orders/:id/bulk-response
func (h *Handlers) RespondBulk(c *gin.Context) {
	var in service.BulkResponseInput
	h.orderAction(c, &in, func(ctx context.Context, id int64, actor entity.Actor) (*entity.PurchaseOrder, error) {
		return h.services.Responses.RespondBulk(ctx, id, actor, in)
	})
}

// ApproveModification handles POST /api/v1/purchase-orders/:id/modification/approve
func (h *Handlers) ApproveModification(c *gin.Context) {
	var in approveModificationRequest
	h.orderAction(c, &in, func(ctx context.Context, id int64, actor entity.Actor) (*entity.PurchaseOrder, error) {
		return h.services.Responses.ApproveModification(ctx, id, actor, in.AutoCommit)
	})
}

// RejectModification handles POST /api/v1/purchase-orders/:id/modification/reject
func (h *Handlers) RejectModification(c *gin.Context) {
	var in rejectModificationRequest
	h.orderAction(c, &in, func(ctx context.Context, id int64, actor entity.Actor) (*entity.PurchaseOrder, error) {
		return h.services.Responses.RejectModification(ctx, id, actor, in.Reason, in.CloseOrder)
	})
}

// CommitPartial handles POST /api/v1/purchase-orders/:id/commit-partial
func (h *Handlers) CommitPartial(c *gin.Context) {
	h.orderAction(c, nil, func(ctx context.Context, id int64, actor entity.Actor) (*entity.PurchaseOrder, error) {
		return h.services.Responses.CommitPartial(ctx, id, actor)
	})
}

// Fulfill handles POST /api/v1/purchase-orders/:id/fulfill
func (h *Handlers) Fulfill(c *gin.Context) {
	var in service.DeliveryInput
	h.orderAction(c, &in, func(ctx context.Context, id int64, actor entity.Actor) (*entity.PurchaseOrder, error) {
		return h.services.Deliveries.Fulfill(ctx, id, actor, in)
	})
}

// ConfirmDelivery handles POST /api/v1/purchase-orders/:id/confirm-delivery
func (h *Handlers) ConfirmDelivery(c *gin.Context) {
	var in service.DeliveryInput
	h.orderAction(c, &in, func(ctx context.Context, id int64, actor entity.Actor) (*entity.PurchaseOrder, error) {
		return h.services.Deliveries.ConfirmDelivery(ctx, id, actor, in)
	})
}

// CreateMaterial handles POST /api/v1/purchase-orders/:id/create-material
func (h *Handlers) CreateMaterial(c *gin.Context) {
	h.orderAction(c, nil, func(ctx context.Context, id int64, actor entity.Actor) (*entity.PurchaseOrder, error) {
		return h.services.Deliveries.CreateMaterial(ctx, id, actor)
	})
}

// VerifyReceipt handles POST /api/v1/purchase-orders/:id/verify-receipt
func (h *Handlers) VerifyReceipt(c *gin.Context) {
	var in verifyReceiptRequest
	h.orderAction(c, &in, func(ctx context.Context, id int64, actor entity.Actor) (*entity.PurchaseOrder, error) {
		return h.services.Deliveries.VerifyReceipt(ctx, id, actor, in.Notes)
	})
}

// Retry handles POST /api/v1/purchase-orders/:id/retry
func (h *Handlers) Retry(c *gin.Context) {
	var in service.RetryInput
	h.orderAction(c, &in, func(ctx context.Context, id int64, actor entity.Actor) (*entity.PurchaseOrder, error) {
		return h.services.Retries.Retry(ctx, id, actor, in)
	})
}

// Cancel handles POST /api/v1/purchase-orders/:id/cancel
func (h *Handlers) Cancel(c *gin.Context) {
	var in cancelRequest
	h.orderAction(c, &in, func(ctx context.Context, id int64, actor entity.Actor) (*entity.PurchaseOrder, error) {
		return h.services.Orders.Cancel(ctx, id, actor, in.Reason)
	})
}

// DeleteOrder handles DELETE /api/v1/purchase-orders/:id
func (h *Handlers) DeleteOrder(c *gin.Context) {
	id, good := h.orderID(c)
	if !good {
		return
	}
	if err := h.services.Orders.SoftDelete(c.Request.Context(), id, mustActor(c)); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// FindAlternatives handles GET /api/v1/purchase-orders/:id/alternatives
func (h *Handlers) FindAlternatives(c *gin.Context) {
	id, good := h.orderID(c)
	if !good {
		return
	}
	ctx := c.Request.Context()
	if _, err := h.services.Orders.Get(ctx, mustActor(c), id); err != nil {
		h.fail(c, err)
		return
	}

	mode := service.AlternativeMode(c.DefaultQuery("mode", string(service.ModeHybrid)))
	limit, err := queryInt(c, "limit", 0)
	if err != nil {
		h.fail(c, err)
		return
	}

	result, err := h.services.Retries.FindAlternatives(ctx, id, mode, limit)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusOK, result)
}

// SendToAlternatives handles POST /api/v1/purchase-orders/:id/alternatives
func (h *Handlers) SendToAlternatives(c *gin.Context) {
	id, good := h.orderID(c)
	if !good {
		return
	}
	var in service.AlternativesInput
	if !h.bind(c, &in) {
		return
	}
	orders, err := h.services.Retries.SendToAlternatives(c.Request.Context(), id, mustActor(c), in)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusCreated, orders)
}

// RejectionReasons handles GET /api/v1/rejection-reasons
func (h *Handlers) RejectionReasons(c *gin.Context) {
	reasons := entity.AllRejectionReasons()
	out := make([]ReasonResponse, 0, len(reasons))
	for _, r := range reasons {
		policy := r.Policy()
		out = append(out, ReasonResponse{
			Reason:            r,
			Label:             policy.Label,
			Retryable:         h.services.Retries.IsRetryable(r),
			NeedsReassignment: policy.NeedsReassignment,
			Recommendation:    h.services.Retries.Recommendation(r),
			Subcategories:     policy.Subcategories,
		})
	}
	ok(c, http.StatusOK, out)
}

// ListSuppliers handles GET /api/v1/suppliers
func (h *Handlers) ListSuppliers(c *gin.Context) {
	activeOnly := c.DefaultQuery("activeOnly", "true") != "false"
	suppliers, err := h.services.Orders.ListSuppliers(c.Request.Context(), mustActor(c), activeOnly)
	if err != nil {
		h.fail(c, err)
		return
	}
	if suppliers == nil {
		suppliers = []*entity.Supplier{}
	}
	ok(c, http.StatusOK, suppliers)
}

// CreateSupplier handles POST /api/v1/suppliers
func (h *Handlers) CreateSupplier(c *gin.Context) {
	var in service.SupplierInput
	if !h.bind(c, &in) {
		return
	}
	sup, err := h.services.Orders.CreateSupplier(c.Request.Context(), mustActor(c), in)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusCreated, sup)
}

// GetBudget handles GET /api/v1/projects/:id/budget
func (h *Handlers) GetBudget(c *gin.Context) {
	projectID := c.Param("id")
	available, budgeted, err := h.services.Orders.AvailableCapital(c.Request.Context(), mustActor(c), projectID)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusOK, CapitalResponse{ProjectID: projectID, Budgeted: budgeted, Available: available})
}

// SetBudget handles PUT /api/v1/projects/:id/budget
func (h *Handlers) SetBudget(c *gin.Context) {
	var in budgetRequest
	if !h.bind(c, &in) {
		return
	}
	budget, err := h.services.Orders.SetProjectBudget(c.Request.Context(), mustActor(c), c.Param("id"), in.Total)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusOK, budget)
}

// RejectionSummary handles GET /api/v1/analytics/rejections
func (h *Handlers) RejectionSummary(c *gin.Context) {
	filter, err := parseAnalyticsFilter(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	summary, err := h.services.Analytics.RejectionSummary(c.Request.Context(), mustActor(c), filter)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusOK, summary)
}

// ExportRejectionSummary handles GET /api/v1/analytics/rejections/export
func (h *Handlers) ExportRejectionSummary(c *gin.Context) {
	filter, err := parseAnalyticsFilter(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	data, err := h.services.Analytics.ExportRejectionSummary(c.Request.Context(), mustActor(c), filter)
	if err != nil {
		h.fail(c, err)
		return
	}

	filename := fmt.Sprintf("rejections-%s.xlsx", time.Now().UTC().Format("20060102"))
	c.Header("Content-Disposition", `attachment; filename="`+filename+`"`)
	c.Data(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", data)
}

// ListNotifications handles GET /api/v1/notifications
func (h *Handlers) ListNotifications(c *gin.Context) {
	limit, err := queryInt(c, "limit", 50)
	if err != nil {
		h.fail(c, err)
		return
	}
	notifications, err := h.services.Inbox.ListUnread(c.Request.Context(), mustActor(c).UserID, limit)
	if err != nil {
		h.fail(c, err)
		return
	}
	if notifications == nil {
		notifications = []*entity.Notification{}
	}
	ok(c, http.StatusOK, notifications)
}

// MarkNotificationRead handles POST /api/v1/notifications/:id/read
func (h *Handlers) MarkNotificationRead(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		h.badRequest(c, "id", errors.New("must be a positive integer"))
		return
	}
	if err := h.services.Inbox.MarkRead(c.Request.Context(), mustActor(c).UserID, id); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// orderAction binds an optional body, runs fn for the order in the path and writes the order back
func (h *Handlers) orderAction(c *gin.Context, body interface{}, fn func(ctx context.Context, id int64, actor entity.Actor) (*entity.PurchaseOrder, error)) {
	id, good := h.orderID(c)
	if !good {
		return
	}
	if body != nil && !h.bindOptional(c, body) {
		return
	}
	po, err := fn(c.Request.Context(), id, mustActor(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusOK, po)
}

func (h *Handlers) orderID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		h.badRequest(c, "id", errors.New("must be a positive integer"))
		return 0, false
	}
	return id, true
}

func (h *Handlers) bind(c *gin.Context, dst interface{}) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		h.badRequest(c, "body", fmt.Errorf("invalid JSON: %w", err))
		return false
	}
	return true
}

// bindOptional accepts an empty body
func (h *Handlers) bindOptional(c *gin.Context, dst interface{}) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	return h.bind(c, dst)
}

// mustActor returns the actor set by JWTAuth
func mustActor(c *gin.Context) entity.Actor {
	actor, _ := actorFrom(c)
	return actor
}

func queryInt(c *gin.Context, key string, def int) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, apperr.Validation(key, "must be a non-negative integer")
	}
	return n, nil
}

func queryTime(c *gin.Context, key string) (*time.Time, error) {
	raw := c.Query(key)
	if raw == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return &t, nil
		}
	}
	return nil, apperr.Validation(key, "must be an RFC 3339 timestamp or a YYYY-MM-DD date")
}

func parseOrderFilter(c *gin.Context) (port.OrderFilter, error) {
	filter := port.OrderFilter{
		ProjectID:  c.Query("projectId"),
		SupplierID: c.Query("supplierId"),
	}

	if raw := c.Query("status"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			state := domainwf.State(strings.TrimSpace(s))
			if !state.IsValid() {
				return filter, apperr.Validation("status", "unknown status "+string(state))
			}
			filter.Statuses = append(filter.Statuses, state)
		}
	}
	if raw := c.Query("isBulk"); raw != "" {
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return filter, apperr.Validation("isBulk", "must be true or false")
		}
		filter.IsBulk = &b
	}
	if raw := c.Query("parentId"); raw != "" {
		parent, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return filter, apperr.Validation("parentId", "must be an integer")
		}
		filter.ParentOrderID = &parent
	}

	var err error
	if filter.CreatedFrom, err = queryTime(c, "from"); err != nil {
		return filter, err
	}
	if filter.CreatedTo, err = queryTime(c, "to"); err != nil {
		return filter, err
	}
	if filter.Limit, err = queryInt(c, "limit", 50); err != nil {
		return filter, err
	}
	if filter.Offset, err = queryInt(c, "offset", 0); err != nil {
		return filter, err
	}
	return filter, nil
}

func parseAnalyticsFilter(c *gin.Context) (service.AnalyticsFilter, error) {
	filter := service.AnalyticsFilter{
		ProjectID:  c.Query("projectId"),
		SupplierID: c.Query("supplierId"),
	}
	var err error
	if filter.From, err = queryTime(c, "from"); err != nil {
		return filter, err
	}
	if filter.To, err = queryTime(c, "to"); err != nil {
		return filter, err
	}
	return filter, nil
}
