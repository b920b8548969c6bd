package entity

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyjia/po-workflow/internal/domain/workflow"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestPurchaseOrder_Recalculate(t *testing.T) {
	po := &PurchaseOrder{
		Items: []LineItem{
			{MaterialRequestID: "mr-1", Quantity: dec("10"), UnitCost: dec("100")},
			{MaterialRequestID: "mr-2", Quantity: dec("2.5"), UnitCost: dec("40.10")},
			{MaterialRequestID: "mr-3", Quantity: dec("4"), UnitCost: dec("5"), Dropped: true},
		},
	}

	po.Recalculate()

	assert.True(t, po.Items[0].TotalCost.Equal(dec("1000")))
	assert.True(t, po.Items[1].TotalCost.Equal(dec("100.25")))
	assert.True(t, po.Items[2].TotalCost.Equal(dec("20")), "dropped lines still carry their own total")
	assert.True(t, po.TotalCost.Equal(dec("1100.25")), "got %s", po.TotalCost)

	for _, li := range po.Items {
		assert.True(t, li.TotalCost.Equal(li.Quantity.Mul(li.UnitCost)))
	}
}

func TestPurchaseOrder_SingleOrderAccessors(t *testing.T) {
	po := &PurchaseOrder{Items: []LineItem{{Unit: "bags", Quantity: dec("10"), UnitCost: dec("100")}}}

	assert.Equal(t, "bags", po.Unit())
	assert.True(t, po.QuantityOrdered().Equal(dec("10")))
	assert.True(t, po.UnitCost().Equal(dec("100")))

	empty := &PurchaseOrder{}
	assert.True(t, empty.QuantityOrdered().IsZero())
	assert.Equal(t, "", empty.Unit())
}

func TestPurchaseOrder_HasLinkedMaterial(t *testing.T) {
	assert.False(t, (&PurchaseOrder{Items: []LineItem{{}}}).HasLinkedMaterial())
	assert.True(t, (&PurchaseOrder{LinkedMaterialID: "mat-1"}).HasLinkedMaterial())
	assert.True(t, (&PurchaseOrder{LinkedMaterials: []string{"mat-1"}}).HasLinkedMaterial())
	assert.True(t, (&PurchaseOrder{Items: []LineItem{{LinkedMaterialID: "mat-2"}}}).HasLinkedMaterial())
}

func TestPurchaseOrder_RejectedItems(t *testing.T) {
	five := decimal.NewFromInt(5)
	bulk := &PurchaseOrder{
		IsBulkOrder: true,
		Items: []LineItem{
			{MaterialRequestID: "a", Quantity: five}, {MaterialRequestID: "b", Quantity: five}, {MaterialRequestID: "c", Quantity: five},
		},
		MaterialResponses: []MaterialResponse{
			{MaterialRequestID: "a", Action: ActionAccept},
			{MaterialRequestID: "b", Action: ActionReject},
			{MaterialRequestID: "c", Action: ActionReject},
		},
	}

	rejected := bulk.RejectedItems()
	require.Len(t, rejected, 2)
	assert.Equal(t, "b", rejected[0].MaterialRequestID)
	assert.Equal(t, "c", rejected[1].MaterialRequestID)

	bulk.Items[1].ReassignedQuantity = decimal.NewFromInt(2)
	bulk.Items[2].ReassignedQuantity = five
	rejected = bulk.RejectedItems()
	require.Len(t, rejected, 1, "fully reassigned lines are left out")
	assert.Equal(t, "b", rejected[0].MaterialRequestID)
	assert.True(t, rejected[0].UnassignedQuantity().Equal(decimal.NewFromInt(3)))

	single := &PurchaseOrder{Status: workflow.StateOrderRejected, Items: []LineItem{{MaterialRequestID: "x", Quantity: five}}}
	assert.Len(t, single.RejectedItems(), 1)

	single.Status = workflow.StateOrderSent
	assert.Empty(t, single.RejectedItems())
}

func TestPurchaseOrder_CloneIsDeep(t *testing.T) {
	now := time.Now()
	po := &PurchaseOrder{
		ID:              7,
		Items:           []LineItem{{MaterialRequestID: "a", Quantity: dec("1"), UnitCost: dec("2")}},
		SentAt:          &now,
		LinkedMaterials: []string{"m1"},
	}

	cp := po.Clone()
	cp.Items[0].Quantity = dec("99")
	cp.LinkedMaterials[0] = "changed"

	assert.Equal(t, int64(7), cp.ID)
	assert.True(t, po.Items[0].Quantity.Equal(dec("1")))
	assert.Equal(t, "m1", po.LinkedMaterials[0])
	assert.Nil(t, (*PurchaseOrder)(nil).Clone())
}

func TestFinancialStatus_CanAdvanceTo(t *testing.T) {
	tests := []struct {
		from, to FinancialStatus
		want     bool
	}{
		{FinancialNotCommitted, FinancialCommitted, true},
		{FinancialCommitted, FinancialFulfilled, true},
		{FinancialNotCommitted, FinancialFulfilled, true},
		{FinancialCommitted, FinancialNotCommitted, false},
		{FinancialFulfilled, FinancialCommitted, false},
		{FinancialCommitted, FinancialCommitted, false},
		{FinancialFulfilled, FinancialCancelled, true},
		{FinancialNotCommitted, FinancialCancelled, true},
		{FinancialCancelled, FinancialCommitted, false},
		{FinancialCancelled, FinancialCancelled, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanAdvanceTo(tt.to))
		})
	}
}

func TestRejectionReason_Taxonomy(t *testing.T) {
	tests := []struct {
		reason       RejectionReason
		retryable    bool
		reassignment bool
	}{
		{ReasonPriceTooHigh, true, false},
		{ReasonUnavailable, false, true},
		{ReasonTimeline, true, false},
		{ReasonSpecification, true, false},
		{ReasonQuantity, true, false},
		{ReasonPolicy, false, true},
		{ReasonExternalFactors, true, false},
		{ReasonOther, true, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.reason), func(t *testing.T) {
			assert.True(t, tt.reason.IsValid())
			assert.Equal(t, tt.retryable, tt.reason.IsRetryable())
			assert.Equal(t, tt.reassignment, tt.reason.Policy().NeedsReassignment)
			assert.NotEmpty(t, tt.reason.Policy().Recommendation)
		})
	}

	assert.Len(t, AllRejectionReasons(), len(tests))
	assert.False(t, RejectionReason("too_far").IsValid())
}

func TestRejectionReason_AllowsSubcategory(t *testing.T) {
	assert.True(t, ReasonUnavailable.AllowsSubcategory("out_of_stock"))
	assert.True(t, ReasonUnavailable.AllowsSubcategory(""))
	assert.False(t, ReasonUnavailable.AllowsSubcategory("weather"))
	assert.True(t, ReasonOther.AllowsSubcategory("anything goes"))
}

func TestResponseToken_State(t *testing.T) {
	now := time.Now()
	tok := &ResponseToken{ExpiresAt: now.Add(time.Hour)}
	assert.False(t, tok.IsUsed())
	assert.False(t, tok.IsExpired(now))
	assert.True(t, tok.IsExpired(now.Add(2*time.Hour)))

	tok.RevokedAt = &now
	assert.True(t, tok.IsExpired(now))

	tok.UsedAt = &now
	assert.True(t, tok.IsUsed())
}

func TestSupplierPerformance_Rates(t *testing.T) {
	p := &SupplierPerformance{AcceptedOrders: 3, RejectedOrders: 1, DeliveredOrders: 4, OnTimeDeliveries: 3}
	assert.InDelta(t, 0.75, p.AcceptanceRate(), 1e-9)
	assert.InDelta(t, 0.75, p.OnTimeRate(), 1e-9)

	var none SupplierPerformance
	assert.Zero(t, none.AcceptanceRate())
	assert.Zero(t, none.OnTimeRate())
}

func TestSupplier_Supplies(t *testing.T) {
	s := &Supplier{Categories: []string{"cement", "steel"}}
	assert.True(t, s.Supplies("steel"))
	assert.False(t, s.Supplies("timber"))
	assert.True(t, s.Supplies(""))
	assert.True(t, (&Supplier{}).Supplies("timber"))
}
