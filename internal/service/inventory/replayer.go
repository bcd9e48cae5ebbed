package inventory

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

// Исходы диагностики позиции.
const (
	OutcomeMatched = "matched"
	OutcomeNoMatch = "noMatch"
)

// Report: диагностический отчёт по заказу.
type Report struct {
	OrderID     string             `json:"orderId"`
	OrderStatus domain.OrderStatus `json:"orderStatus"`
	OrderTotal  decimal.Decimal    `json:"orderTotal"`
	ItemCount   int                `json:"itemCount"`
	Items       []ItemReport       `json:"items"`
}

// ItemReport: результат повторного сопоставления одной позиции.
type ItemReport struct {
	Index     int    `json:"index"`
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
	Outcome   string `json:"outcome"`

	VariantID           string `json:"variantId,omitempty"`
	StockBefore         *int   `json:"stockBefore,omitempty"`
	StockAfterIfApplied *int   `json:"stockAfterIfApplied,omitempty"`

	SuppliedLabel      string   `json:"suppliedLabel"`
	AllCandidateLabels []string `json:"allCandidateLabels"`

	// Для позиций с variant_id: найден ли вариант по точной ссылке.
	SuppliedVariantID string `json:"suppliedVariantId,omitempty"`
	ReferenceFound    *bool  `json:"referenceFound,omitempty"`
}

// Replayer повторяет сопоставление по меткам для каждой позиции заказа без изменений состояния.
type Replayer struct {
	orders   domain.OrderRepository
	resolver *Resolver
}

// NewReplayer создаёт диагностический инструмент.
func NewReplayer(orders domain.OrderRepository, resolver *Resolver) *Replayer {
	return &Replayer{orders: orders, resolver: resolver}
}

// Diagnose строит отчёт. Путь по метке прогоняется для всех позиций, даже с variant_id.
func (p *Replayer) Diagnose(ctx context.Context, orderID string) (Report, error) {
	if orderID == "" {
		return Report{}, domain.ErrOrderIDRequired
	}

	order, err := p.orders.Get(ctx, orderID)
	if err != nil {
		return Report{}, err
	}

	report := Report{
		OrderID:     order.ID,
		OrderStatus: order.Status,
		OrderTotal:  order.TotalAmount,
		ItemCount:   len(order.Items),
		Items:       make([]ItemReport, 0, len(order.Items)),
	}

	for i, item := range order.Items {
		itemReport, err := p.diagnoseItem(ctx, i, item)
		if err != nil {
			return Report{}, fmt.Errorf("diagnose item %d: %w", i, err)
		}
		report.Items = append(report.Items, itemReport)
	}

	return report, nil
}

func (p *Replayer) diagnoseItem(ctx context.Context, index int, item domain.LineItem) (ItemReport, error) {
	res, err := p.resolver.MatchLabel(ctx, item.ProductID, item.SizeLabel)
	if err != nil {
		return ItemReport{}, err
	}

	report := ItemReport{
		Index:              index,
		ProductID:          item.ProductID,
		Quantity:           item.Quantity,
		SuppliedLabel:      item.SizeLabel,
		AllCandidateLabels: res.Candidates,
		SuppliedVariantID:  item.VariantID,
	}

	if item.VariantID != "" {
		byRef, err := p.resolver.Resolve(ctx, item)
		if err != nil {
			return ItemReport{}, err
		}
		found := byRef.Matched
		report.ReferenceFound = &found
	}

	if !res.Matched {
		report.Outcome = OutcomeNoMatch
		return report, nil
	}

	before := res.Variant.StockQuantity
	after := domain.FloorStock(before, item.Quantity)
	report.Outcome = OutcomeMatched
	report.VariantID = res.Variant.ID
	report.StockBefore = &before
	report.StockAfterIfApplied = &after
	return report, nil
}
