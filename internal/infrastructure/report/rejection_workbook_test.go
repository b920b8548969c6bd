package report

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/garyjia/po-workflow/internal/application/service"
	"github.com/garyjia/po-workflow/internal/domain/entity"
)

func TestRenderRejectionSummary(t *testing.T) {
	summary := &service.RejectionSummary{
		GeneratedAt:    time.Date(2026, 10, 16, 9, 30, 0, 0, time.UTC),
		Filter:         service.AnalyticsFilter{ProjectID: "proj-1"},
		TotalOrders:    5,
		RejectedOrders: 4,
		RejectionRate:  0.8,
		ByReason: []service.ReasonBreakdown{
			{Reason: entity.ReasonPriceTooHigh, Label: "Price too high", Count: 3, Retryable: true},
			{Reason: entity.ReasonOther, Label: "Other", Count: 1, Retryable: true,
				Suggested: map[entity.RejectionReason]int{entity.ReasonTimeline: 1, entity.ReasonPolicy: 2}},
		},
		BySupplier: []service.SupplierBreakdown{
			{SupplierID: "sup-1", SupplierName: "Acme", Orders: 5, Rejections: 4, RejectionRate: 0.8},
		},
	}

	data, err := NewRejectionWorkbook(zap.NewNop()).RenderRejectionSummary(summary)
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{SheetOverview, SheetReasons, SheetSuppliers}, f.GetSheetList())

	v, err := f.GetCellValue(SheetOverview, "B2")
	require.NoError(t, err)
	assert.Equal(t, "2026-10-16 09:30:00", v)

	v, err = f.GetCellValue(SheetOverview, "B5")
	require.NoError(t, err)
	assert.Equal(t, "5", v)

	rows, err := f.GetRows(SheetReasons)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"price_too_high", "Price too high", "3", "TRUE"}, rows[1][:4])
	assert.Equal(t, "policy=2, timeline=1", rows[2][4])

	name, err := f.GetCellValue(SheetSuppliers, "B2")
	require.NoError(t, err)
	assert.Equal(t, "Acme", name)
}

func TestRenderRejectionSummary_Nil(t *testing.T) {
	_, err := NewRejectionWorkbook(zap.NewNop()).RenderRejectionSummary(nil)
	assert.Error(t, err)
}
