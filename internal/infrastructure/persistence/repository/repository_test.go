package repository

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/po-workflow/internal/application/port"
	"github.com/garyjia/po-workflow/internal/domain/apperr"
	"github.com/garyjia/po-workflow/internal/domain/entity"
	"github.com/garyjia/po-workflow/internal/domain/workflow"
	"github.com/garyjia/po-workflow/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/po-workflow/pkg/database"
)

type testStore struct {
	tx        *sqlite.DB
	orders    port.PurchaseOrderRepository
	tokens    port.TokenRepository
	history   port.HistoryRepository
	suppliers port.SupplierRepository
	users     *UserRepository
	budgets   port.BudgetRepository
	materials port.MaterialRepository
	audit     *AuditRepository
	notes     *NotificationRepository
}

func newTestStore(t *testing.T) *testStore {
	t.Helper()
	logger := zap.NewNop()

	db, err := database.New(database.Config{
		Path:         filepath.Join(t.TempDir(), "po.db"),
		MaxOpenConns: 1,
		MaxIdleConns: 1,
	}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, database.NewMigrator(db, logger).Run())

	return &testStore{
		tx:        sqlite.NewDB(db.DB, logger),
		orders:    NewPurchaseOrderRepository(db.DB, logger),
		tokens:    NewTokenRepository(db.DB, logger),
		history:   NewHistoryRepository(db.DB, logger),
		suppliers: NewSupplierRepository(db.DB, logger),
		users:     NewUserRepository(db.DB, logger),
		budgets:   NewBudgetRepository(db.DB, logger),
		materials: NewMaterialRepository(db.DB, logger),
		audit:     NewAuditRepository(db.DB, logger),
		notes:     NewNotificationRepository(db.DB, logger),
	}
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newOrder(number, supplierID string) *entity.PurchaseOrder {
	sent := time.Now().Add(-time.Hour)
	po := &entity.PurchaseOrder{
		PurchaseOrderNumber: number,
		ProjectID:           "proj-1",
		CreatedBy:           "pm-1",
		SupplierID:          supplierID,
		SupplierName:        "Acme Steel",
		SupplierEmail:       "sales@acme.test",
		Items: []entity.LineItem{{
			MaterialRequestID: "mr-1",
			MaterialName:      "Rebar 12mm",
			Category:          "steel",
			Unit:              "t",
			Quantity:          dec("10"),
			UnitCost:          dec("100"),
		}},
		DeliveryDate:    time.Now().AddDate(0, 0, 14).Truncate(time.Second),
		Status:          workflow.StateOrderSent,
		FinancialStatus: entity.FinancialNotCommitted,
		SentAt:          &sent,
	}
	po.MaterialRequestID = "mr-1"
	po.Recalculate()
	return po
}

func TestPurchaseOrderRepository_CreateGetUpdate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	po := newOrder("PO-20261016-AAAAAA", "sup-1")
	require.NoError(t, s.orders.Create(ctx, po))
	require.NotZero(t, po.ID)
	assert.Equal(t, int64(1), po.Version)

	got, err := s.orders.GetByID(ctx, po.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, po.ID, got.ID)
	assert.True(t, got.TotalCost.Equal(dec("1000")))
	assert.True(t, got.Items[0].UnitCost.Equal(dec("100")))
	assert.Equal(t, workflow.StateOrderSent, got.Status)

	byNumber, err := s.orders.GetByNumber(ctx, "PO-20261016-AAAAAA")
	require.NoError(t, err)
	assert.Equal(t, po.ID, byNumber.ID)

	missing, err := s.orders.GetByID(ctx, 999)
	require.NoError(t, err)
	assert.Nil(t, missing)

	got.Status = workflow.StateOrderAccepted
	got.FinancialStatus = entity.FinancialCommitted
	require.NoError(t, s.orders.Update(ctx, got))
	assert.Equal(t, int64(2), got.Version)

	// po still carries version 1
	po.Status = workflow.StateCancelled
	err = s.orders.Update(ctx, po)
	assert.ErrorIs(t, err, apperr.ErrStaleOrder)
	assert.Equal(t, int64(1), po.Version)

	reloaded, err := s.orders.GetByID(ctx, po.ID)
	require.NoError(t, err)
	assert.Equal(t, workflow.StateOrderAccepted, reloaded.Status)
	assert.Equal(t, int64(2), reloaded.Version)
}

func TestPurchaseOrderRepository_SetSuggestedReasonKeepsVersion(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	po := newOrder("PO-20261016-BBBBBB", "sup-1")
	require.NoError(t, s.orders.Create(ctx, po))
	require.NoError(t, s.orders.SetSuggestedReason(ctx, po.ID, entity.ReasonTimeline))

	got, err := s.orders.GetByID(ctx, po.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.ReasonTimeline, got.SuggestedReason)
	assert.Equal(t, int64(1), got.Version)
}

func TestPurchaseOrderRepository_ListFilters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := newOrder("PO-A", "sup-1")
	b := newOrder("PO-B", "sup-2")
	b.IsBulkOrder = true
	c := newOrder("PO-C", "sup-1")
	c.ProjectID = "proj-2"
	for _, po := range []*entity.PurchaseOrder{a, b, c} {
		require.NoError(t, s.orders.Create(ctx, po))
	}
	child := newOrder("PO-D", "sup-3")
	child.ParentOrderID = &a.ID
	require.NoError(t, s.orders.Create(ctx, child))

	now := time.Now()
	c.DeletedAt = &now
	require.NoError(t, s.orders.Update(ctx, c))

	bulk := true
	tests := []struct {
		name   string
		filter port.OrderFilter
		want   []string
	}{
		{"all live", port.OrderFilter{}, []string{"PO-A", "PO-B", "PO-D"}},
		{"include deleted", port.OrderFilter{IncludeDeleted: true}, []string{"PO-A", "PO-B", "PO-C", "PO-D"}},
		{"supplier", port.OrderFilter{SupplierID: "sup-1"}, []string{"PO-A"}},
		{"bulk", port.OrderFilter{IsBulk: &bulk}, []string{"PO-B"}},
		{"parent", port.OrderFilter{ParentOrderID: &a.ID}, []string{"PO-D"}},
		{"status", port.OrderFilter{Statuses: []workflow.State{workflow.StateOrderAccepted}}, nil},
		{"paging", port.OrderFilter{Limit: 1, Offset: 1}, []string{"PO-B"}},
		{"offset only", port.OrderFilter{Offset: 2}, []string{"PO-D"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			orders, err := s.orders.List(ctx, tt.filter)
			require.NoError(t, err)
			var numbers []string
			for _, po := range orders {
				numbers = append(numbers, po.PurchaseOrderNumber)
			}
			assert.Equal(t, tt.want, numbers)
		})
	}

	count, err := s.orders.Count(ctx, port.OrderFilter{Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	cutoff := time.Now()
	sent, err := s.orders.List(ctx, port.OrderFilter{SentBefore: &cutoff})
	require.NoError(t, err)
	assert.Len(t, sent, 3)
}

func TestAggregatePerformance(t *testing.T) {
	due := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	onTime := due.Add(20 * time.Hour)
	late := due.AddDate(0, 0, 3)

	orders := []*entity.PurchaseOrder{
		{SupplierID: "s1", FinancialStatus: entity.FinancialFulfilled, DeliveryDate: due, DeliveryConfirmedAt: &onTime,
			Items: []entity.LineItem{{UnitCost: dec("80")}}},
		{SupplierID: "s1", FinancialStatus: entity.FinancialFulfilled, DeliveryDate: due, DeliveryConfirmedAt: &late,
			Items: []entity.LineItem{{UnitCost: dec("100")}, {UnitCost: dec("999"), Dropped: true}}},
		{SupplierID: "s1", Status: workflow.StateOrderRejected, FinancialStatus: entity.FinancialNotCommitted,
			Items: []entity.LineItem{{UnitCost: dec("120")}}},
		{SupplierID: "s2", Status: workflow.StateOrderSent, FinancialStatus: entity.FinancialNotCommitted},
	}

	perf := AggregatePerformance(orders)

	require.Contains(t, perf, "s1")
	s1 := perf["s1"]
	assert.Equal(t, 3, s1.TotalOrders)
	assert.Equal(t, 2, s1.AcceptedOrders)
	assert.Equal(t, 1, s1.RejectedOrders)
	assert.Equal(t, 2, s1.DeliveredOrders)
	assert.Equal(t, 1, s1.OnTimeDeliveries)
	assert.True(t, s1.AverageUnitCost.Equal(dec("100")), s1.AverageUnitCost.String())

	s2 := perf["s2"]
	assert.Equal(t, 1, s2.TotalOrders)
	assert.True(t, s2.AverageUnitCost.IsZero())
}

func TestTokenRepository_ConsumeOnce(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	po := newOrder("PO-T", "sup-1")
	require.NoError(t, s.orders.Create(ctx, po))

	now := time.Now()
	require.NoError(t, s.tokens.Create(ctx, &entity.ResponseToken{
		Token: "tok-1", PurchaseOrderID: po.ID, Purpose: entity.TokenPurposeResponse, ExpiresAt: now.Add(time.Hour),
	}))

	ok, err := s.tokens.Consume(ctx, "tok-1", entity.TokenPurposeFulfillment, "fulfill", now)
	require.NoError(t, err)
	assert.False(t, ok, "wrong purpose")

	ok, err = s.tokens.Consume(ctx, "tok-1", entity.TokenPurposeResponse, "accept", now)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.tokens.Consume(ctx, "tok-1", entity.TokenPurposeResponse, "reject", now)
	require.NoError(t, err)
	assert.False(t, ok, "replay")

	tok, err := s.tokens.Get(ctx, "tok-1")
	require.NoError(t, err)
	require.NotNil(t, tok)
	assert.True(t, tok.IsUsed())
	assert.Equal(t, "accept", tok.UsedAction)

	unknown, err := s.tokens.Get(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, unknown)
}

func TestTokenRepository_ExpiryAndRevocation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	po := newOrder("PO-E", "sup-1")
	require.NoError(t, s.orders.Create(ctx, po))

	now := time.Now()
	require.NoError(t, s.tokens.Create(ctx, &entity.ResponseToken{
		Token: "old", PurchaseOrderID: po.ID, Purpose: entity.TokenPurposeResponse, ExpiresAt: now.Add(-time.Minute),
	}))
	require.NoError(t, s.tokens.Create(ctx, &entity.ResponseToken{
		Token: "live", PurchaseOrderID: po.ID, Purpose: entity.TokenPurposeResponse, ExpiresAt: now.Add(time.Hour),
	}))

	ok, err := s.tokens.Consume(ctx, "old", entity.TokenPurposeResponse, "accept", now)
	require.NoError(t, err)
	assert.False(t, ok)

	active, err := s.tokens.ActiveForOrder(ctx, po.ID, entity.TokenPurposeResponse, now)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, "live", active.Token)

	n, err := s.tokens.RevokeForOrder(ctx, po.ID, now)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	active, err = s.tokens.ActiveForOrder(ctx, po.ID, entity.TokenPurposeResponse, now)
	require.NoError(t, err)
	assert.Nil(t, active)

	deleted, err := s.tokens.DeleteExpired(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
}

func TestTransaction_RollsBackTokenConsumption(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	po := newOrder("PO-R", "sup-1")
	require.NoError(t, s.orders.Create(ctx, po))
	now := time.Now()
	require.NoError(t, s.tokens.Create(ctx, &entity.ResponseToken{
		Token: "tok-r", PurchaseOrderID: po.ID, Purpose: entity.TokenPurposeResponse, ExpiresAt: now.Add(time.Hour),
	}))

	boom := errors.New("capital check failed")
	err := s.tx.WithTransaction(ctx, func(ctx context.Context) error {
		ok, err := s.tokens.Consume(ctx, "tok-r", entity.TokenPurposeResponse, "accept", now)
		require.NoError(t, err)
		require.True(t, ok)

		// nested calls join the outer transaction
		return s.tx.WithTransaction(ctx, func(ctx context.Context) error {
			return boom
		})
	})
	assert.ErrorIs(t, err, boom)

	tok, err := s.tokens.Get(ctx, "tok-r")
	require.NoError(t, err)
	assert.False(t, tok.IsUsed())
}

func TestHistoryRepository(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	po := newOrder("PO-H", "sup-1")
	require.NoError(t, s.orders.Create(ctx, po))

	for _, action := range []string{"create", "accept"} {
		require.NoError(t, s.history.Create(ctx, &entity.StatusHistory{
			PurchaseOrderID: po.ID,
			ActorUserID:     "pm-1",
			ActorRole:       entity.RolePM,
			PreviousStatus:  "order_sent",
			NewStatus:       "order_accepted",
			ActionType:      action,
		}))
	}

	records, err := s.history.GetByOrderID(ctx, po.ID)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "create", records[0].ActionType)
	assert.Equal(t, entity.RolePM, records[1].ActorRole)

	empty, err := s.history.GetByOrderID(ctx, 999)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestSupplierAndUserRepositories(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.suppliers.Create(ctx, &entity.Supplier{
		ID: "sup-2", Name: "Beta Build", Email: "beta@test", Categories: []string{"steel", "concrete"}, QualityRating: 4,
	}))
	require.NoError(t, s.suppliers.Create(ctx, &entity.Supplier{
		ID: "sup-1", Name: "Acme Steel", Email: "acme@test", SMSOptIn: true, Phone: "+15550001",
	}))
	require.NoError(t, s.suppliers.Create(ctx, &entity.Supplier{
		ID: "sup-3", Name: "Cobalt", Email: "c@test", Status: entity.SupplierSuspended,
	}))

	got, err := s.suppliers.GetByID(ctx, "sup-2")
	require.NoError(t, err)
	assert.Equal(t, []string{"steel", "concrete"}, got.Categories)
	assert.Equal(t, entity.SupplierActive, got.Status)

	active, err := s.suppliers.List(ctx, true)
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, "Acme Steel", active[0].Name)
	assert.True(t, active[0].SMSOptIn)

	all, err := s.suppliers.List(ctx, false)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	require.NoError(t, s.users.Upsert(ctx, &entity.User{ID: "pm-1", Name: "Pat", Role: entity.RolePM}))
	require.NoError(t, s.users.Upsert(ctx, &entity.User{ID: "owner-1", Name: "Olivia", Role: entity.RoleOwner, LarkOpenID: "ou_1"}))
	require.NoError(t, s.users.Upsert(ctx, &entity.User{ID: "clerk-1", Name: "Chris", Role: entity.RoleClerk}))

	managers, err := s.users.ListByRole(ctx, entity.RoleOwner, entity.RolePM)
	require.NoError(t, err)
	require.Len(t, managers, 2)
	assert.Equal(t, "owner-1", managers[0].ID)
	assert.Equal(t, "ou_1", managers[0].LarkOpenID)

	require.NoError(t, s.users.SyncIdentity(ctx, "owner-1", "Olivia R.", entity.RolePM))
	require.NoError(t, s.users.SyncIdentity(ctx, "new-1", "Nia", entity.RoleClerk))
	synced, err := s.users.GetByID(ctx, "owner-1")
	require.NoError(t, err)
	assert.Equal(t, "Olivia R.", synced.Name)
	assert.Equal(t, entity.RolePM, synced.Role)
	assert.Equal(t, "ou_1", synced.LarkOpenID)
	fresh, err := s.users.GetByID(ctx, "new-1")
	require.NoError(t, err)
	assert.Equal(t, entity.RoleClerk, fresh.Role)

	ghost, err := s.users.GetByID(ctx, "ghost")
	require.NoError(t, err)
	assert.Nil(t, ghost)
}

func TestBudgetRepository(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	budget, err := s.budgets.GetBudget(ctx, "proj-1")
	require.NoError(t, err)
	assert.Nil(t, budget)

	require.NoError(t, s.budgets.UpsertBudget(ctx, &entity.ProjectBudget{ProjectID: "proj-1", TotalBudget: dec("5000.50")}))
	require.NoError(t, s.budgets.UpsertBudget(ctx, &entity.ProjectBudget{ProjectID: "proj-1", TotalBudget: dec("6000.25")}))
	budget, err = s.budgets.GetBudget(ctx, "proj-1")
	require.NoError(t, err)
	assert.True(t, budget.TotalBudget.Equal(dec("6000.25")))

	var ids []int64
	for _, n := range []string{"PO-1", "PO-2", "PO-3"} {
		po := newOrder(n, "sup-1")
		require.NoError(t, s.orders.Create(ctx, po))
		ids = append(ids, po.ID)
	}
	require.NoError(t, s.budgets.UpsertCommitment(ctx, ids[0], "proj-1", dec("0.1"), entity.FinancialCommitted))
	require.NoError(t, s.budgets.UpsertCommitment(ctx, ids[1], "proj-1", dec("0.2"), entity.FinancialCommitted))
	require.NoError(t, s.budgets.UpsertCommitment(ctx, ids[2], "proj-1", dec("100"), entity.FinancialCommitted))
	require.NoError(t, s.budgets.SetCommitmentStatus(ctx, ids[1], entity.FinancialFulfilled))
	require.NoError(t, s.budgets.SetCommitmentStatus(ctx, ids[2], entity.FinancialCancelled))

	total, err := s.budgets.CommittedTotal(ctx, "proj-1")
	require.NoError(t, err)
	assert.Equal(t, "0.3", total.String())
}

func TestMaterialCreator_IsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	creator := NewMaterialCreator(s.tx, s.orders, s.materials, zap.NewNop())

	po := newOrder("PO-M", "sup-1")
	po.IsBulkOrder = true
	po.Items = append(po.Items,
		entity.LineItem{MaterialRequestID: "mr-2", MaterialName: "Sand", Unit: "m3", Quantity: dec("5"), UnitCost: dec("20")},
		entity.LineItem{MaterialRequestID: "mr-3", MaterialName: "Gravel", Quantity: dec("1"), UnitCost: dec("1"), Dropped: true},
	)
	po.Recalculate()
	require.NoError(t, s.orders.Create(ctx, po))

	req := port.MaterialCreationRequest{
		PurchaseOrderID:    po.ID,
		Creator:            entity.Actor{UserID: "pm-1", Role: entity.RolePM},
		MaterialQuantities: map[string]decimal.Decimal{"mr-1": dec("8")},
		MaterialUnitCosts:  map[string]decimal.Decimal{"mr-2": dec("19.5")},
		Notes:              "gate 3",
	}

	first, err := creator.CreateMaterialFromPurchaseOrder(ctx, req)
	require.NoError(t, err)
	require.Len(t, first.CreatedMaterials, 2)
	assert.Equal(t, "mr-1", first.CreatedMaterials[0].MaterialRequestID)
	assert.True(t, first.CreatedMaterials[0].TotalCost.Equal(dec("800")))
	assert.True(t, first.CreatedMaterials[1].TotalCost.Equal(dec("97.5")))
	assert.Equal(t, "proj-1", first.CreatedMaterials[1].ProjectID)

	second, err := creator.CreateMaterialFromPurchaseOrder(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, first.MaterialIDs, second.MaterialIDs)

	stored, err := s.materials.ListByOrderID(ctx, po.ID)
	require.NoError(t, err)
	assert.Len(t, stored, 2)
	assert.True(t, TotalValue(stored).Equal(dec("897.5")))

	_, err = creator.CreateMaterialFromPurchaseOrder(ctx, port.MaterialCreationRequest{PurchaseOrderID: 999})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestAuditAndNotificationRepositories(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	po := newOrder("PO-N", "sup-1")
	require.NoError(t, s.audit.CreateAuditLog(ctx, &entity.AuditLog{
		UserID: "pm-1", Action: "purchase_order.created", EntityType: "purchase_order", EntityID: "1",
		Changes: entity.AuditChanges{After: po},
	}))
	logs, err := s.audit.ListByEntity(ctx, "purchase_order", "1")
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "purchase_order.created", logs[0].Action)
	require.IsType(t, json.RawMessage{}, logs[0].Changes.After)
	assert.Contains(t, string(logs[0].Changes.After.(json.RawMessage)), "PO-N")

	require.NoError(t, s.notes.CreateNotifications(ctx, []*entity.Notification{
		{UserID: "pm-1", Type: entity.NotificationOrderAccepted, Title: "a", Message: "first"},
		{UserID: "pm-1", Type: entity.NotificationDelivered, Title: "b", Message: "second"},
		{UserID: "owner-1", Type: entity.NotificationDelivered, Title: "c", Message: "other"},
	}))

	unread, err := s.notes.ListUnread(ctx, "pm-1", 0)
	require.NoError(t, err)
	require.Len(t, unread, 2)
	assert.Equal(t, "second", unread[0].Message)

	require.NoError(t, s.notes.MarkRead(ctx, "pm-1", unread[0].ID))
	unread, err = s.notes.ListUnread(ctx, "pm-1", 10)
	require.NoError(t, err)
	require.Len(t, unread, 1)
	assert.Equal(t, "first", unread[0].Message)
}
