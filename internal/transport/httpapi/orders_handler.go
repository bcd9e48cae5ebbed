package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
	"github.com/vladislavdragonenkov/checkout/internal/service/checkout"
)

type lineItemResponse struct {
	ProductID string          `json:"productId"`
	VariantID string          `json:"variantId,omitempty"`
	SizeLabel string          `json:"sizeLabel,omitempty"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
	Name      string          `json:"name,omitempty"`
	ImageRef  string          `json:"imageRef,omitempty"`
}

type orderResponse struct {
	ID               string                 `json:"id"`
	Status           domain.OrderStatus     `json:"status"`
	Buyer            domain.BuyerInfo       `json:"buyerInfo"`
	Items            []lineItemResponse     `json:"items"`
	ShippingCost     decimal.Decimal        `json:"shippingCost"`
	TotalAmount      decimal.Decimal        `json:"totalAmount"`
	Currency         string                 `json:"currency"`
	PaymentReference string                 `json:"paymentReference,omitempty"`
	CreatedAt        time.Time              `json:"createdAt"`
	UpdatedAt        time.Time              `json:"updatedAt"`
	Timeline         []domain.TimelineEvent `json:"timeline"`
}

func toOrderResponse(view checkout.OrderView) orderResponse {
	o := view.Order
	items := make([]lineItemResponse, 0, len(o.Items))
	for _, item := range o.Items {
		items = append(items, lineItemResponse{
			ProductID: item.ProductID,
			VariantID: item.VariantID,
			SizeLabel: item.SizeLabel,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			Name:      item.Name,
			ImageRef:  item.ImageRef,
		})
	}
	timeline := view.Timeline
	if timeline == nil {
		timeline = []domain.TimelineEvent{}
	}
	return orderResponse{
		ID:               o.ID,
		Status:           o.Status,
		Buyer:            o.Buyer,
		Items:            items,
		ShippingCost:     o.ShippingCost,
		TotalAmount:      o.TotalAmount,
		Currency:         o.Currency,
		PaymentReference: o.PaymentReference,
		CreatedAt:        o.CreatedAt,
		UpdatedAt:        o.UpdatedAt,
		Timeline:         timeline,
	}
}

// GET /api/orders/{orderID}
func (h *handlers) getOrder(w http.ResponseWriter, r *http.Request) {
	logger := loggerFrom(r.Context(), h.logger)

	view, err := h.deps.Checkout.Order(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		writeError(w, logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(view))
}

// GET /api/orders/{orderID}/diagnostics: повтор сопоставления позиций без изменения данных.
func (h *handlers) diagnoseOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")
	logger := loggerFrom(r.Context(), h.logger).WithField("order_id", orderID)

	report, err := h.deps.Diagnostics.Diagnose(r.Context(), orderID)
	if err != nil {
		writeError(w, logger, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}
