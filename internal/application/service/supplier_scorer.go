package service

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/garyjia/po-workflow/internal/application/port"
	"github.com/garyjia/po-workflow/internal/domain/entity"
)

// Score weights. Missing history scores neutral.
const (
	weightQuality    = 0.30
	weightOnTime     = 0.25
	weightPrice      = 0.25
	weightAcceptance = 0.20
	categoryBonus    = 0.10
	neutralScore     = 0.5
)

type performanceScorer struct {
	orders port.PurchaseOrderRepository
}

// NewSupplierScorer ranks suppliers from their order history
func NewSupplierScorer(orders port.PurchaseOrderRepository) port.SupplierScorer {
	return &performanceScorer{orders: orders}
}

func (s *performanceScorer) Score(ctx context.Context, order *entity.PurchaseOrder, candidates []*entity.Supplier) ([]port.SupplierScore, error) {
	if len(candidates) == 0 {
		return []port.SupplierScore{}, nil
	}

	ids := make([]string, 0, len(candidates))
	for _, c := range candidates {
		ids = append(ids, c.ID)
	}
	perf, err := s.orders.SupplierPerformance(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load supplier performance: %w", err)
	}

	items := order.RejectedItems()
	if len(items) == 0 {
		items = order.ActiveItems()
	}
	reference := referenceUnitCost(items)

	scores := make([]port.SupplierScore, 0, len(candidates))
	for _, c := range candidates {
		scores = append(scores, scoreSupplier(c, perf[c.ID], items, reference))
	}
	sort.SliceStable(scores, func(i, j int) bool {
		if scores[i].Priority != scores[j].Priority {
			return scores[i].Priority > scores[j].Priority
		}
		return scores[i].SupplierID < scores[j].SupplierID
	})
	return scores, nil
}

func referenceUnitCost(items []*entity.LineItem) decimal.Decimal {
	if len(items) == 0 {
		return decimal.Zero
	}
	sum := decimal.Zero
	for _, li := range items {
		sum = sum.Add(li.UnitCost)
	}
	return sum.Div(decimal.NewFromInt(int64(len(items))))
}

func scoreSupplier(sup *entity.Supplier, p *entity.SupplierPerformance, items []*entity.LineItem, reference decimal.Decimal) port.SupplierScore {
	var reasons []string

	quality := neutralScore
	if sup.QualityRating > 0 {
		quality = math.Min(sup.QualityRating/5, 1)
		if sup.QualityRating >= 4 {
			reasons = append(reasons, fmt.Sprintf("High quality rating (%.1f/5)", sup.QualityRating))
		}
	}

	onTime, acceptance, price := neutralScore, neutralScore, neutralScore
	if p != nil {
		if p.DeliveredOrders > 0 {
			onTime = p.OnTimeRate()
			if onTime >= 0.9 {
				reasons = append(reasons, fmt.Sprintf("%.0f%% on-time delivery", onTime*100))
			}
		}
		if p.AcceptedOrders+p.RejectedOrders > 0 {
			acceptance = p.AcceptanceRate()
			if acceptance >= 0.8 {
				reasons = append(reasons, fmt.Sprintf("Accepts %.0f%% of orders", acceptance*100))
			}
		}
		if p.AverageUnitCost.IsPositive() && reference.IsPositive() {
			ratio, _ := reference.Div(p.AverageUnitCost).Float64()
			price = math.Min(ratio, 1)
			if p.AverageUnitCost.LessThan(reference) {
				reasons = append(reasons, "Historically priced below this order")
			}
		}
	}

	score := weightQuality*quality + weightOnTime*onTime + weightPrice*price + weightAcceptance*acceptance

	matched := len(items) > 0
	for _, li := range items {
		if !sup.Supplies(li.Category) {
			matched = false
			break
		}
	}
	if matched {
		score += categoryBonus
		reasons = append(reasons, "Supplies the rejected material categories")
	}
	if len(reasons) == 0 {
		reasons = append(reasons, "Active supplier")
	}

	return port.SupplierScore{
		SupplierID: sup.ID,
		Priority:   int(math.Round(math.Min(score, 1) * 100)),
		Reasons:    reasons,
	}
}
