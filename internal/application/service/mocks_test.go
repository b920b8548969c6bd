package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/garyjia/po-workflow/internal/application/dispatcher"
	"github.com/garyjia/po-workflow/internal/application/port"
	appwf "github.com/garyjia/po-workflow/internal/application/workflow"
	"github.com/garyjia/po-workflow/internal/domain/apperr"
	"github.com/garyjia/po-workflow/internal/domain/entity"
	"github.com/garyjia/po-workflow/internal/domain/event"
)

type mockLogger struct{}

func (m *mockLogger) Info(msg string, keysAndValues ...interface{})  {}
func (m *mockLogger) Error(msg string, keysAndValues ...interface{}) {}

type commitment struct {
	projectID string
	amount    decimal.Decimal
	status    entity.FinancialStatus
}

// memDB backs every repository mock
type memDB struct {
	nextID      int64
	orders      map[int64]*entity.PurchaseOrder
	tokens      map[string]*entity.ResponseToken
	history     []*entity.StatusHistory
	suppliers   map[string]*entity.Supplier
	users       map[string]*entity.User
	budgets     map[string]*entity.ProjectBudget
	commitments map[int64]commitment
	materials   map[int64][]*entity.MaterialEntry
	performance map[string]*entity.SupplierPerformance
}

func newMemDB() *memDB {
	return &memDB{
		orders:      make(map[int64]*entity.PurchaseOrder),
		tokens:      make(map[string]*entity.ResponseToken),
		suppliers:   make(map[string]*entity.Supplier),
		users:       make(map[string]*entity.User),
		budgets:     make(map[string]*entity.ProjectBudget),
		commitments: make(map[int64]commitment),
		materials:   make(map[int64][]*entity.MaterialEntry),
		performance: make(map[string]*entity.SupplierPerformance),
	}
}

func (db *memDB) clone() memDB {
	cp := *db
	cp.orders = make(map[int64]*entity.PurchaseOrder, len(db.orders))
	for id, po := range db.orders {
		cp.orders[id] = po.Clone()
	}
	cp.tokens = make(map[string]*entity.ResponseToken, len(db.tokens))
	for k, tok := range db.tokens {
		t := *tok
		cp.tokens[k] = &t
	}
	cp.history = append([]*entity.StatusHistory(nil), db.history...)
	cp.budgets = make(map[string]*entity.ProjectBudget, len(db.budgets))
	for k, b := range db.budgets {
		cp.budgets[k] = b
	}
	cp.commitments = make(map[int64]commitment, len(db.commitments))
	for k, c := range db.commitments {
		cp.commitments[k] = c
	}
	cp.materials = make(map[int64][]*entity.MaterialEntry, len(db.materials))
	for k, m := range db.materials {
		cp.materials[k] = m
	}
	return cp
}

// memTxManager restores the store when fn fails
type memTxManager struct {
	db    *memDB
	depth int
}

func (m *memTxManager) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if m.depth > 0 {
		return fn(ctx)
	}
	snapshot := m.db.clone()
	m.depth++
	err := fn(ctx)
	m.depth--
	if err != nil {
		*m.db = snapshot
	}
	return err
}

type memOrderRepo struct{ db *memDB }

func (r *memOrderRepo) Create(ctx context.Context, po *entity.PurchaseOrder) error {
	r.db.nextID++
	po.ID = r.db.nextID
	r.db.orders[po.ID] = po.Clone()
	return nil
}

func (r *memOrderRepo) GetByID(ctx context.Context, id int64) (*entity.PurchaseOrder, error) {
	po, ok := r.db.orders[id]
	if !ok {
		return nil, nil
	}
	return po.Clone(), nil
}

func (r *memOrderRepo) GetByNumber(ctx context.Context, number string) (*entity.PurchaseOrder, error) {
	for _, po := range r.db.orders {
		if po.PurchaseOrderNumber == number {
			return po.Clone(), nil
		}
	}
	return nil, nil
}

func (r *memOrderRepo) Update(ctx context.Context, po *entity.PurchaseOrder) error {
	stored, ok := r.db.orders[po.ID]
	if !ok {
		return apperr.NotFound("purchase order", po.ID)
	}
	if stored.Version != po.Version {
		return apperr.ErrStaleOrder
	}
	po.Version++
	r.db.orders[po.ID] = po.Clone()
	return nil
}

func (r *memOrderRepo) SetSuggestedReason(ctx context.Context, id int64, reason entity.RejectionReason) error {
	if po, ok := r.db.orders[id]; ok {
		po.SuggestedReason = reason
	}
	return nil
}

func (r *memOrderRepo) filter(f port.OrderFilter) []*entity.PurchaseOrder {
	var out []*entity.PurchaseOrder
	for _, po := range r.db.orders {
		if po.IsDeleted() && !f.IncludeDeleted {
			continue
		}
		if f.ProjectID != "" && po.ProjectID != f.ProjectID {
			continue
		}
		if f.SupplierID != "" && po.SupplierID != f.SupplierID {
			continue
		}
		if f.ParentOrderID != nil && (po.ParentOrderID == nil || *po.ParentOrderID != *f.ParentOrderID) {
			continue
		}
		if len(f.Statuses) > 0 {
			match := false
			for _, s := range f.Statuses {
				match = match || po.Status == s
			}
			if !match {
				continue
			}
		}
		out = append(out, po.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *memOrderRepo) List(ctx context.Context, f port.OrderFilter) ([]*entity.PurchaseOrder, error) {
	out := r.filter(f)
	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return nil, nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (r *memOrderRepo) Count(ctx context.Context, f port.OrderFilter) (int, error) {
	return len(r.filter(f)), nil
}

func (r *memOrderRepo) SupplierPerformance(ctx context.Context, ids []string) (map[string]*entity.SupplierPerformance, error) {
	out := make(map[string]*entity.SupplierPerformance)
	for _, id := range ids {
		if p, ok := r.db.performance[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

type memTokenRepo struct{ db *memDB }

func (r *memTokenRepo) Create(ctx context.Context, tok *entity.ResponseToken) error {
	t := *tok
	r.db.tokens[tok.Token] = &t
	return nil
}

func (r *memTokenRepo) Get(ctx context.Context, token string) (*entity.ResponseToken, error) {
	tok, ok := r.db.tokens[token]
	if !ok {
		return nil, nil
	}
	t := *tok
	return &t, nil
}

func (r *memTokenRepo) Consume(ctx context.Context, token string, purpose entity.TokenPurpose, action string, now time.Time) (bool, error) {
	tok, ok := r.db.tokens[token]
	if !ok || tok.Purpose != purpose || tok.UsedAt != nil || tok.IsExpired(now) {
		return false, nil
	}
	tok.UsedAt = &now
	tok.UsedAction = action
	return true, nil
}

func (r *memTokenRepo) RevokeForOrder(ctx context.Context, orderID int64, now time.Time) (int64, error) {
	var n int64
	for _, tok := range r.db.tokens {
		if tok.PurchaseOrderID == orderID && tok.UsedAt == nil && tok.RevokedAt == nil {
			tok.RevokedAt = &now
			n++
		}
	}
	return n, nil
}

func (r *memTokenRepo) ActiveForOrder(ctx context.Context, orderID int64, purpose entity.TokenPurpose, now time.Time) (*entity.ResponseToken, error) {
	for _, tok := range r.db.tokens {
		if tok.PurchaseOrderID == orderID && tok.Purpose == purpose && tok.UsedAt == nil && !tok.IsExpired(now) {
			t := *tok
			return &t, nil
		}
	}
	return nil, nil
}

func (r *memTokenRepo) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	var n int64
	for k, tok := range r.db.tokens {
		if tok.ExpiresAt.Before(before) {
			delete(r.db.tokens, k)
			n++
		}
	}
	return n, nil
}

type memHistoryRepo struct{ db *memDB }

func (r *memHistoryRepo) Create(ctx context.Context, h *entity.StatusHistory) error {
	h.ID = int64(len(r.db.history) + 1)
	r.db.history = append(r.db.history, h)
	return nil
}

func (r *memHistoryRepo) GetByOrderID(ctx context.Context, orderID int64) ([]*entity.StatusHistory, error) {
	var out []*entity.StatusHistory
	for _, h := range r.db.history {
		if h.PurchaseOrderID == orderID {
			out = append(out, h)
		}
	}
	return out, nil
}

type memSupplierRepo struct{ db *memDB }

func (r *memSupplierRepo) Create(ctx context.Context, s *entity.Supplier) error {
	r.db.suppliers[s.ID] = s
	return nil
}

func (r *memSupplierRepo) GetByID(ctx context.Context, id string) (*entity.Supplier, error) {
	return r.db.suppliers[id], nil
}

func (r *memSupplierRepo) List(ctx context.Context, activeOnly bool) ([]*entity.Supplier, error) {
	var out []*entity.Supplier
	for _, s := range r.db.suppliers {
		if !activeOnly || s.IsActive() {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

type memUserRepo struct{ db *memDB }

func (r *memUserRepo) GetByID(ctx context.Context, id string) (*entity.User, error) {
	return r.db.users[id], nil
}

func (r *memUserRepo) ListByRole(ctx context.Context, roles ...entity.Role) ([]*entity.User, error) {
	var out []*entity.User
	for _, u := range r.db.users {
		for _, role := range roles {
			if u.Role == role {
				out = append(out, u)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type memBudgetRepo struct{ db *memDB }

func (r *memBudgetRepo) GetBudget(ctx context.Context, projectID string) (*entity.ProjectBudget, error) {
	return r.db.budgets[projectID], nil
}

func (r *memBudgetRepo) UpsertBudget(ctx context.Context, b *entity.ProjectBudget) error {
	r.db.budgets[b.ProjectID] = b
	return nil
}

func (r *memBudgetRepo) CommittedTotal(ctx context.Context, projectID string) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, c := range r.db.commitments {
		if c.projectID == projectID && (c.status == entity.FinancialCommitted || c.status == entity.FinancialFulfilled) {
			total = total.Add(c.amount)
		}
	}
	return total, nil
}

func (r *memBudgetRepo) UpsertCommitment(ctx context.Context, orderID int64, projectID string, amount decimal.Decimal, status entity.FinancialStatus) error {
	r.db.commitments[orderID] = commitment{projectID: projectID, amount: amount, status: status}
	return nil
}

func (r *memBudgetRepo) SetCommitmentStatus(ctx context.Context, orderID int64, status entity.FinancialStatus) error {
	if c, ok := r.db.commitments[orderID]; ok {
		c.status = status
		r.db.commitments[orderID] = c
	}
	return nil
}

// memMaterialCreator creates one entry per active line, once per order
type memMaterialCreator struct {
	db    *memDB
	err   error
	calls []port.MaterialCreationRequest
}

func (m *memMaterialCreator) CreateMaterialFromPurchaseOrder(ctx context.Context, req port.MaterialCreationRequest) (*port.MaterialCreationResult, error) {
	m.calls = append(m.calls, req)
	if m.err != nil {
		return nil, m.err
	}
	entries, ok := m.db.materials[req.PurchaseOrderID]
	if !ok {
		po := m.db.orders[req.PurchaseOrderID]
		for _, li := range po.ActiveItems() {
			entries = append(entries, &entity.MaterialEntry{
				ID:                fmt.Sprintf("mat-%d-%s", po.ID, li.MaterialRequestID),
				PurchaseOrderID:   po.ID,
				MaterialRequestID: li.MaterialRequestID,
				Quantity:          li.Quantity,
				UnitCost:          li.UnitCost,
				IsAutomatic:       req.IsAutomatic,
			})
		}
		m.db.materials[req.PurchaseOrderID] = entries
	}
	res := &port.MaterialCreationResult{CreatedMaterials: entries}
	for _, e := range entries {
		res.MaterialIDs = append(res.MaterialIDs, e.ID)
	}
	return res, nil
}

// recordingDispatcher keeps published events instead of running handlers
type recordingDispatcher struct {
	mu     sync.Mutex
	events []*event.Event
}

func (d *recordingDispatcher) Subscribe(eventType event.Type, handler dispatcher.Handler) {}

func (d *recordingDispatcher) SubscribeNamed(eventType event.Type, name string, handler dispatcher.Handler) {
}

func (d *recordingDispatcher) Dispatch(ctx context.Context, evt *event.Event) error {
	d.DispatchAsync(ctx, evt)
	return nil
}

func (d *recordingDispatcher) DispatchAsync(ctx context.Context, evts ...*event.Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, evts...)
}

func (d *recordingDispatcher) HandlerNames(eventType event.Type) []string { return nil }

func (d *recordingDispatcher) Close() error { return nil }

func (d *recordingDispatcher) count(t event.Type) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, e := range d.events {
		if e.Type == t {
			n++
		}
	}
	return n
}

func (d *recordingDispatcher) last(t event.Type) *event.Event {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := len(d.events) - 1; i >= 0; i-- {
		if d.events[i].Type == t {
			return d.events[i]
		}
	}
	return nil
}

var (
	ownerActor    = entity.Actor{UserID: "owner-1", Name: "Olivia", Role: entity.RoleOwner}
	pmActor       = entity.Actor{UserID: "pm-1", Name: "Pat", Role: entity.RolePM}
	clerkActor    = entity.Actor{UserID: "clerk-1", Name: "Chris", Role: entity.RoleClerk}
	supplierActor = entity.Actor{UserID: "sup-user-1", Name: "Acme sales", Role: entity.RoleSupplier}
)

type harness struct {
	db        *memDB
	events    *recordingDispatcher
	materials *memMaterialCreator
	engine    appwf.WorkflowEngine
	issuer    *TokenIssuer
	orders    OrderService
	responses ResponseProcessor
	retries   RetryAdvisor
	delivery  DeliveryConfirmer
}

func newHarness() *harness {
	db := newMemDB()
	db.users["owner-1"] = &entity.User{ID: "owner-1", Name: "Olivia", Role: entity.RoleOwner, LarkOpenID: "ou_owner"}
	db.users["pm-1"] = &entity.User{ID: "pm-1", Name: "Pat", Role: entity.RolePM}
	db.users["clerk-1"] = &entity.User{ID: "clerk-1", Name: "Chris", Role: entity.RoleClerk}
	db.users["sup-user-1"] = &entity.User{ID: "sup-user-1", Role: entity.RoleSupplier, SupplierID: "sup-1"}
	db.users["sup-user-2"] = &entity.User{ID: "sup-user-2", Role: entity.RoleSupplier, SupplierID: "sup-2"}

	db.suppliers["sup-1"] = &entity.Supplier{ID: "sup-1", Name: "Acme Steel", Email: "sales@acme.test", Phone: "+15550001",
		Status: entity.SupplierActive, SMSOptIn: true, QualityRating: 4.5, Categories: []string{"steel"}}
	db.suppliers["sup-2"] = &entity.Supplier{ID: "sup-2", Name: "Beta Build", Email: "orders@beta.test",
		Status: entity.SupplierActive, QualityRating: 4, Categories: []string{"steel", "concrete"}}
	db.suppliers["sup-3"] = &entity.Supplier{ID: "sup-3", Name: "Cobalt Supply", Email: "hi@cobalt.test",
		Status: entity.SupplierActive, QualityRating: 2, Categories: []string{"timber"}}
	db.suppliers["sup-4"] = &entity.Supplier{ID: "sup-4", Name: "Dormant Co", Email: "x@dormant.test",
		Status: entity.SupplierSuspended}

	orders := &memOrderRepo{db: db}
	tokens := &memTokenRepo{db: db}
	history := &memHistoryRepo{db: db}
	suppliers := &memSupplierRepo{db: db}
	users := &memUserRepo{db: db}
	budgets := &memBudgetRepo{db: db}

	logger := &mockLogger{}
	events := &recordingDispatcher{}
	tx := &memTxManager{db: db}
	permissions := NewPermissionChecker(users)
	ledger := NewCapitalLedger(budgets)
	materials := &memMaterialCreator{db: db}
	settings := Settings{AutoCommitDefault: true, HybridTopN: 2}

	engine := appwf.NewEngine(orders, history, tokens, permissions, tx, appwf.WithDispatcher(events))
	issuer := NewTokenIssuer(tokens, 7*24*time.Hour, 30*24*time.Hour)

	return &harness{
		db:        db,
		events:    events,
		materials: materials,
		engine:    engine,
		issuer:    issuer,
		orders:    NewOrderService(engine, orders, history, tokens, suppliers, users, ledger, permissions, tx, issuer, events, logger),
		responses: NewResponseProcessor(engine, orders, users, ledger, issuer, events, settings, logger),
		retries:   NewRetryAdvisor(engine, orders, suppliers, users, NewSupplierScorer(orders), issuer, events, settings, logger),
		delivery:  NewDeliveryConfirmer(engine, orders, users, materials, ledger, events, logger),
	}
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func decp(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

// createSingle sends 10 x 100 of rebar to Acme Steel
func (h *harness) createSingle(t *testing.T) *entity.PurchaseOrder {
	t.Helper()
	po, err := h.orders.Create(context.Background(), pmActor, CreateOrderInput{
		ProjectID:    "proj-1",
		SupplierID:   "sup-1",
		DeliveryDate: time.Now().Add(14 * 24 * time.Hour).Truncate(time.Second),
		Items: []LineItemInput{
			{MaterialRequestID: "mr-1", MaterialName: "Rebar 12mm", Category: "steel", Unit: "t", Quantity: dec("10"), UnitCost: dec("100")},
		},
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	return po
}

// createBulk sends n materials of 10 x 100 each to Acme Steel
func (h *harness) createBulk(t *testing.T, n int) *entity.PurchaseOrder {
	t.Helper()
	in := CreateOrderInput{
		ProjectID:    "proj-1",
		SupplierID:   "sup-1",
		DeliveryDate: time.Now().Add(14 * 24 * time.Hour).Truncate(time.Second),
	}
	for i := 1; i <= n; i++ {
		in.Items = append(in.Items, LineItemInput{
			MaterialRequestID: fmt.Sprintf("mr-%d", i),
			MaterialName:      fmt.Sprintf("Material %d", i),
			Category:          "steel",
			Unit:              "t",
			Quantity:          dec("10"),
			UnitCost:          dec("100"),
		})
	}
	po, err := h.orders.Create(context.Background(), pmActor, in)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	return po
}

// token returns the usable token of the given purpose for an order
func (h *harness) token(t *testing.T, orderID int64, purpose entity.TokenPurpose) string {
	t.Helper()
	for _, tok := range h.db.tokens {
		if tok.PurchaseOrderID == orderID && tok.Purpose == purpose && tok.UsedAt == nil && tok.RevokedAt == nil {
			return tok.Token
		}
	}
	t.Fatalf("no %s token for order %d", purpose, orderID)
	return ""
}

func (h *harness) stored(orderID int64) *entity.PurchaseOrder {
	return h.db.orders[orderID].Clone()
}
