package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/garyjia/po-workflow/internal/application/port"
	"github.com/garyjia/po-workflow/internal/domain/entity"
	domainwf "github.com/garyjia/po-workflow/internal/domain/workflow"
)

// AnalyticsFilter narrows the rejection summary. Zero values do not filter.
type AnalyticsFilter struct {
	ProjectID  string     `json:"projectId,omitempty"`
	SupplierID string     `json:"supplierId,omitempty"`
	From       *time.Time `json:"from,omitempty"`
	To         *time.Time `json:"to,omitempty"`
}

// ReasonBreakdown counts rejections for one reason
type ReasonBreakdown struct {
	Reason    entity.RejectionReason         `json:"reason"`
	Label     string                         `json:"label"`
	Count     int                            `json:"count"`
	Retryable bool                           `json:"retryable"`
	Suggested map[entity.RejectionReason]int `json:"suggested,omitempty"`
}

// SupplierBreakdown is the rejection record of one supplier
type SupplierBreakdown struct {
	SupplierID    string  `json:"supplierId"`
	SupplierName  string  `json:"supplierName"`
	Orders        int     `json:"orders"`
	Rejections    int     `json:"rejections"`
	RejectionRate float64 `json:"rejectionRate"`
}

// RejectionSummary aggregates why suppliers turn orders down and what happened next
type RejectionSummary struct {
	GeneratedAt        time.Time           `json:"generatedAt"`
	Filter             AnalyticsFilter     `json:"filter"`
	TotalOrders        int                 `json:"totalOrders"`
	RejectedOrders     int                 `json:"rejectedOrders"`
	PartiallyResponded int                 `json:"partiallyResponded"`
	RejectionRate      float64             `json:"rejectionRate"`
	ByReason           []ReasonBreakdown   `json:"byReason"`
	BySupplier         []SupplierBreakdown `json:"bySupplier"`
	RetriedOrders      int                 `json:"retriedOrders"`
	RetrySuccesses     int                 `json:"retrySuccesses"`
	RetrySuccessRate   float64             `json:"retrySuccessRate"`
	AverageRetryCount  float64             `json:"averageRetryCount"`
	ReassignedOrders   int                 `json:"reassignedOrders"`
}

// SummaryRenderer turns a summary into a downloadable document
type SummaryRenderer interface {
	RenderRejectionSummary(summary *RejectionSummary) ([]byte, error)
}

// AnalyticsService reports on supplier rejections
type AnalyticsService interface {
	RejectionSummary(ctx context.Context, actor entity.Actor, filter AnalyticsFilter) (*RejectionSummary, error)
	ExportRejectionSummary(ctx context.Context, actor entity.Actor, filter AnalyticsFilter) ([]byte, error)
}

type analyticsServiceImpl struct {
	orders      port.PurchaseOrderRepository
	permissions port.PermissionChecker
	renderer    SummaryRenderer
	logger      Logger
}

// NewAnalyticsService creates a new AnalyticsService
func NewAnalyticsService(orders port.PurchaseOrderRepository, permissions port.PermissionChecker, renderer SummaryRenderer, logger Logger) AnalyticsService {
	return &analyticsServiceImpl{
		orders:      orders,
		permissions: permissions,
		renderer:    renderer,
		logger:      logger,
	}
}

func (s *analyticsServiceImpl) RejectionSummary(ctx context.Context, actor entity.Actor, filter AnalyticsFilter) (*RejectionSummary, error) {
	if err := authorize(ctx, s.permissions, actor, entity.PermViewAnalytics); err != nil {
		return nil, err
	}

	orders, err := s.orders.List(ctx, port.OrderFilter{
		ProjectID:   filter.ProjectID,
		SupplierID:  filter.SupplierID,
		CreatedFrom: filter.From,
		CreatedTo:   filter.To,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list purchase orders: %w", err)
	}

	summary := summarize(orders)
	summary.Filter = filter
	summary.GeneratedAt = time.Now()
	return summary, nil
}

func (s *analyticsServiceImpl) ExportRejectionSummary(ctx context.Context, actor entity.Actor, filter AnalyticsFilter) ([]byte, error) {
	summary, err := s.RejectionSummary(ctx, actor, filter)
	if err != nil {
		return nil, err
	}
	data, err := s.renderer.RenderRejectionSummary(summary)
	if err != nil {
		s.logger.Error("Failed to render rejection summary", "error", err)
		return nil, fmt.Errorf("failed to render rejection summary: %w", err)
	}
	return data, nil
}

// rejections lists the reasons recorded on an order, one per rejected material for bulk orders
func rejections(po *entity.PurchaseOrder) []entity.RejectionReason {
	if !po.IsBulkOrder {
		if po.RejectionReason != "" {
			return []entity.RejectionReason{po.RejectionReason}
		}
		return nil
	}
	var out []entity.RejectionReason
	for _, r := range po.MaterialResponses {
		if r.Action == entity.ActionReject && r.RejectionReason != "" {
			out = append(out, r.RejectionReason)
		}
	}
	return out
}

func summarize(orders []*entity.PurchaseOrder) *RejectionSummary {
	summary := &RejectionSummary{
		ByReason:   []ReasonBreakdown{},
		BySupplier: []SupplierBreakdown{},
	}

	reasons := make(map[entity.RejectionReason]*ReasonBreakdown)
	suppliers := make(map[string]*SupplierBreakdown)
	parents := make(map[int64]bool)
	retryTotal := 0

	for _, po := range orders {
		summary.TotalOrders++

		sb, ok := suppliers[po.SupplierID]
		if !ok {
			sb = &SupplierBreakdown{SupplierID: po.SupplierID, SupplierName: po.SupplierName}
			suppliers[po.SupplierID] = sb
		}
		sb.Orders++

		rejectedNow := po.Status == domainwf.StateOrderRejected
		if po.Status == domainwf.StateOrderPartiallyResponded {
			summary.PartiallyResponded++
		}
		found := rejections(po)
		if rejectedNow || len(found) > 0 || po.RetryCount > 0 {
			summary.RejectedOrders++
			sb.Rejections++
		}

		for _, reason := range found {
			rb, ok := reasons[reason]
			if !ok {
				policy := reason.Policy()
				rb = &ReasonBreakdown{Reason: reason, Label: policy.Label, Retryable: policy.Retryable}
				reasons[reason] = rb
			}
			rb.Count++
			if reason == entity.ReasonOther && po.SuggestedReason != "" {
				if rb.Suggested == nil {
					rb.Suggested = make(map[entity.RejectionReason]int)
				}
				rb.Suggested[po.SuggestedReason]++
			}
		}

		if po.RetryCount > 0 {
			summary.RetriedOrders++
			retryTotal += po.RetryCount
			switch po.Status {
			case domainwf.StateOrderAccepted, domainwf.StateReadyForDelivery, domainwf.StateDelivered:
				summary.RetrySuccesses++
			}
		}
		if po.ParentOrderID != nil {
			parents[*po.ParentOrderID] = true
		}
	}

	summary.ReassignedOrders = len(parents)
	if summary.TotalOrders > 0 {
		summary.RejectionRate = ratio(summary.RejectedOrders, summary.TotalOrders)
	}
	if summary.RetriedOrders > 0 {
		summary.RetrySuccessRate = ratio(summary.RetrySuccesses, summary.RetriedOrders)
		summary.AverageRetryCount = ratio(retryTotal, summary.RetriedOrders)
	}

	for _, rb := range reasons {
		summary.ByReason = append(summary.ByReason, *rb)
	}
	sort.Slice(summary.ByReason, func(i, j int) bool {
		if summary.ByReason[i].Count != summary.ByReason[j].Count {
			return summary.ByReason[i].Count > summary.ByReason[j].Count
		}
		return summary.ByReason[i].Reason < summary.ByReason[j].Reason
	})

	for _, sb := range suppliers {
		sb.RejectionRate = ratio(sb.Rejections, sb.Orders)
		summary.BySupplier = append(summary.BySupplier, *sb)
	}
	sort.Slice(summary.BySupplier, func(i, j int) bool {
		if summary.BySupplier[i].Rejections != summary.BySupplier[j].Rejections {
			return summary.BySupplier[i].Rejections > summary.BySupplier[j].Rejections
		}
		return summary.BySupplier[i].SupplierID < summary.BySupplier[j].SupplierID
	})

	return summary
}

// ratio rounds to four decimal places
func ratio(n, d int) float64 {
	if d == 0 {
		return 0
	}
	return float64(int(float64(n)/float64(d)*10000+0.5)) / 10000
}
