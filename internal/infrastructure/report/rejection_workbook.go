// Package report renders analytics as downloadable spreadsheets.
package report

import (
	"fmt"
	"sort"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/garyjia/po-workflow/internal/application/service"
	"github.com/garyjia/po-workflow/internal/domain/entity"
)

const (
	SheetOverview  = "Overview"
	SheetReasons   = "Reasons"
	SheetSuppliers = "Suppliers"
)

// RejectionWorkbook renders rejection summaries as xlsx workbooks
type RejectionWorkbook struct {
	logger *zap.Logger
}

var _ service.SummaryRenderer = (*RejectionWorkbook)(nil)

// NewRejectionWorkbook creates a new workbook renderer
func NewRejectionWorkbook(logger *zap.Logger) *RejectionWorkbook {
	return &RejectionWorkbook{logger: logger}
}

// RenderRejectionSummary writes overview, reason and supplier sheets
func (w *RejectionWorkbook) RenderRejectionSummary(summary *service.RejectionSummary) ([]byte, error) {
	if summary == nil {
		return nil, fmt.Errorf("summary cannot be nil")
	}

	f := excelize.NewFile()
	defer func() {
		if err := f.Close(); err != nil {
			w.logger.Warn("Failed to close workbook", zap.Error(err))
		}
	}()

	if err := f.SetSheetName("Sheet1", SheetOverview); err != nil {
		return nil, fmt.Errorf("failed to rename sheet: %w", err)
	}
	for _, name := range []string{SheetReasons, SheetSuppliers} {
		if _, err := f.NewSheet(name); err != nil {
			return nil, fmt.Errorf("failed to create sheet %s: %w", name, err)
		}
	}

	header, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}

	w.writeOverview(f, summary)
	w.writeReasons(f, summary)
	w.writeSuppliers(f, summary)

	for sheet, last := range map[string]string{SheetOverview: "A1", SheetReasons: "E1", SheetSuppliers: "E1"} {
		if err := f.SetCellStyle(sheet, "A1", last, header); err != nil {
			w.logger.Warn("Failed to style header", zap.String("sheet", sheet), zap.Error(err))
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func (w *RejectionWorkbook) writeOverview(f *excelize.File, s *service.RejectionSummary) {
	rows := [][]interface{}{
		{"Rejection summary"},
		{"Generated at", s.GeneratedAt.UTC().Format("2006-01-02 15:04:05")},
		{"Project", s.Filter.ProjectID},
		{"Supplier", s.Filter.SupplierID},
		{"Total orders", s.TotalOrders},
		{"Rejected orders", s.RejectedOrders},
		{"Partially responded", s.PartiallyResponded},
		{"Rejection rate", s.RejectionRate},
		{"Retried orders", s.RetriedOrders},
		{"Retry successes", s.RetrySuccesses},
		{"Retry success rate", s.RetrySuccessRate},
		{"Average retry count", s.AverageRetryCount},
		{"Reassigned orders", s.ReassignedOrders},
	}
	w.writeRows(f, SheetOverview, rows)
}

func (w *RejectionWorkbook) writeReasons(f *excelize.File, s *service.RejectionSummary) {
	rows := [][]interface{}{{"Reason", "Label", "Count", "Retryable", "Suggested"}}
	for _, r := range s.ByReason {
		rows = append(rows, []interface{}{string(r.Reason), r.Label, r.Count, r.Retryable, suggestedText(r.Suggested)})
	}
	w.writeRows(f, SheetReasons, rows)
}

func (w *RejectionWorkbook) writeSuppliers(f *excelize.File, s *service.RejectionSummary) {
	rows := [][]interface{}{{"Supplier ID", "Supplier", "Orders", "Rejections", "Rejection rate"}}
	for _, b := range s.BySupplier {
		rows = append(rows, []interface{}{b.SupplierID, b.SupplierName, b.Orders, b.Rejections, b.RejectionRate})
	}
	w.writeRows(f, SheetSuppliers, rows)
}

func (w *RejectionWorkbook) writeRows(f *excelize.File, sheet string, rows [][]interface{}) {
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			w.logger.Warn("Invalid cell coordinates", zap.Int("row", i+1), zap.Error(err))
			continue
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			w.logger.Warn("Failed to set row",
				zap.String("sheet", sheet),
				zap.String("cell", cell),
				zap.Error(err))
		}
	}
}

// suggestedText lists classifier suggestions as "reason=count" sorted by reason
func suggestedText(suggested map[entity.RejectionReason]int) string {
	if len(suggested) == 0 {
		return ""
	}
	keys := make([]string, 0, len(suggested))
	for r := range suggested {
		keys = append(keys, string(r))
	}
	sort.Strings(keys)

	out := ""
	for i, k := range keys {
		if i > 0 {
			out += ", "
		}
		out += fmt.Sprintf("%s=%d", k, suggested[entity.RejectionReason(k)])
	}
	return out
}
