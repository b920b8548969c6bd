package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/garyjia/po-workflow/internal/application/dispatcher"
	"github.com/garyjia/po-workflow/internal/application/port"
	appwf "github.com/garyjia/po-workflow/internal/application/workflow"
	"github.com/garyjia/po-workflow/internal/domain/apperr"
	"github.com/garyjia/po-workflow/internal/domain/entity"
	"github.com/garyjia/po-workflow/internal/domain/event"
)

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// Settings are the workflow knobs read from configuration
type Settings struct {
	AutoCommitDefault bool
	HybridTopN        int
}

// TokenIssuer creates response and fulfillment links for suppliers
type TokenIssuer struct {
	tokens         port.TokenRepository
	responseTTL    time.Duration
	fulfillmentTTL time.Duration
}

// NewTokenIssuer creates a TokenIssuer
func NewTokenIssuer(tokens port.TokenRepository, responseTTL, fulfillmentTTL time.Duration) *TokenIssuer {
	return &TokenIssuer{
		tokens:         tokens,
		responseTTL:    responseTTL,
		fulfillmentTTL: fulfillmentTTL,
	}
}

// Issue stores a new token for the order. It joins the transaction carried by ctx.
func (i *TokenIssuer) Issue(ctx context.Context, orderID int64, purpose entity.TokenPurpose) (*entity.ResponseToken, error) {
	ttl := i.responseTTL
	if purpose == entity.TokenPurposeFulfillment {
		ttl = i.fulfillmentTTL
	}

	now := time.Now()
	tok := &entity.ResponseToken{
		Token:           strings.ReplaceAll(uuid.NewString(), "-", ""),
		PurchaseOrderID: orderID,
		Purpose:         purpose,
		ExpiresAt:       now.Add(ttl),
		CreatedAt:       now,
	}
	if err := i.tokens.Create(ctx, tok); err != nil {
		return nil, fmt.Errorf("failed to issue %s token: %w", purpose, err)
	}
	return tok, nil
}

// Reissue revokes every outstanding token of the order and issues a new response token
func (i *TokenIssuer) Reissue(ctx context.Context, orderID int64) (*entity.ResponseToken, error) {
	if _, err := i.tokens.RevokeForOrder(ctx, orderID, time.Now()); err != nil {
		return nil, fmt.Errorf("failed to revoke tokens: %w", err)
	}
	return i.Issue(ctx, orderID, entity.TokenPurposeResponse)
}

// tokenIssuedEvent announces a new supplier link
func tokenIssuedEvent(actor entity.Actor, po *entity.PurchaseOrder, tok *entity.ResponseToken) *event.Event {
	return event.NewEvent(event.TypeTokenIssued, po.ID, actor, map[string]interface{}{
		"token":      tok.Token,
		"purpose":    string(tok.Purpose),
		"expires_at": tok.ExpiresAt.Format(time.RFC3339),
	}).WithSnapshots(nil, po)
}

func publish(ctx context.Context, d dispatcher.Dispatcher, evts ...*event.Event) {
	if d == nil || len(evts) == 0 {
		return
	}
	d.DispatchAsync(ctx, evts...)
}

// authorize checks a permission that is not tied to a transition
func authorize(ctx context.Context, checker port.PermissionChecker, actor entity.Actor, permission string) error {
	if actor.ViaToken {
		return apperr.PermissionDenied(actor.UserID, permission)
	}
	if actor.Role == entity.RoleSystem {
		if appwf.RoleHasPermission(entity.RoleSystem, permission) {
			return nil
		}
		return apperr.PermissionDenied(actor.UserID, permission)
	}
	ok, err := checker.HasPermission(ctx, actor.UserID, permission)
	if err != nil {
		return fmt.Errorf("failed to check permission %s: %w", permission, err)
	}
	if !ok {
		return apperr.PermissionDenied(actor.UserID, permission)
	}
	return nil
}

// checkSupplierActor ensures an authenticated supplier user answers only their own orders
func checkSupplierActor(ctx context.Context, users port.UserRepository, actor entity.Actor, po *entity.PurchaseOrder) error {
	if actor.Role != entity.RoleSupplier || actor.ViaToken {
		return nil
	}
	user, err := users.GetByID(ctx, actor.UserID)
	if err != nil {
		return fmt.Errorf("failed to load user: %w", err)
	}
	if user == nil || user.SupplierID != po.SupplierID {
		return apperr.PermissionDenied(actor.UserID, "respond for supplier "+po.SupplierID)
	}
	return nil
}

// newOrderNumber formats PO-YYYYMMDD-XXXXXX
func newOrderNumber(now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:6])
	return fmt.Sprintf("PO-%s-%s", now.Format("20060102"), suffix)
}

// clearSupplierResponse resets what the supplier last answered so the order can be sent again
func clearSupplierResponse(po *entity.PurchaseOrder) {
	po.SupplierResponse = ""
	po.SupplierResponseDate = nil
	po.SupplierNotes = ""
	po.SupplierModifications = nil
	po.MaterialResponses = nil
	po.RejectionReason = ""
	po.RejectionSubcategory = ""
	po.SuggestedReason = ""
	po.IsRetryable = false
	po.RetryRecommendation = ""
	po.NeedsReassignment = false
}

func timePtr(t time.Time) *time.Time {
	return &t
}

func boolPtr(b bool) *bool {
	return &b
}

type issuedToken struct {
	order *entity.PurchaseOrder
	token *entity.ResponseToken
}

// outcome collects what an Apply step produced so it can be announced after commit
type outcome struct {
	tokens  []issuedToken
	created []*entity.PurchaseOrder
}

// issue records a token; a nil order means the order being transitioned
func (o *outcome) issue(po *entity.PurchaseOrder, tok *entity.ResponseToken) {
	o.tokens = append(o.tokens, issuedToken{order: po, token: tok})
}

type applyFunc func(ctx context.Context, po *entity.PurchaseOrder, out *outcome) error

// runner fires transitions for the services and announces issued tokens afterwards
type runner struct {
	engine     appwf.WorkflowEngine
	users      port.UserRepository
	dispatcher dispatcher.Dispatcher
	logger     Logger
}

func (r runner) run(ctx context.Context, req appwf.TransitionRequest, apply applyFunc) (*entity.PurchaseOrder, *outcome, error) {
	out := &outcome{}
	req.Apply = func(txCtx context.Context, po *entity.PurchaseOrder) error {
		// Apply runs once per transaction; reset in case of a retried transaction
		*out = outcome{}
		if err := checkSupplierActor(txCtx, r.users, req.Actor, po); err != nil {
			return err
		}
		if apply == nil {
			return nil
		}
		return apply(txCtx, po, out)
	}

	res, err := r.engine.Transition(ctx, req)
	if err != nil {
		r.logger.Error("Purchase order transition failed",
			"order_id", req.OrderID,
			"trigger", req.Trigger,
			"actor", req.Actor.UserID,
			"error", err,
		)
		return nil, nil, err
	}

	for _, created := range out.created {
		publish(ctx, r.dispatcher, event.NewEvent(event.TypeOrderCreated, created.ID, req.Actor, map[string]interface{}{
			"parent_order_id": req.OrderID,
		}).WithSnapshots(nil, created))
	}
	for _, it := range out.tokens {
		po := it.order
		if po == nil {
			po = res.After
		}
		publish(ctx, r.dispatcher, tokenIssuedEvent(req.Actor, po, it.token))
	}
	return res.After, out, nil
}
