package httpapi

import (
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
	"github.com/vladislavdragonenkov/checkout/internal/service/checkout"
)

type addressRequest struct {
	Street     string `json:"street,omitempty"`
	Number     string `json:"number,omitempty"`
	City       string `json:"city,omitempty"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postalCode,omitempty"`
	Country    string `json:"country,omitempty"`
}

type buyerRequest struct {
	Name     string         `json:"name,omitempty"`
	Surname  string         `json:"surname,omitempty"`
	Email    string         `json:"email" validate:"omitempty,email"`
	Phone    string         `json:"phone,omitempty"`
	Document string         `json:"document,omitempty"`
	Address  addressRequest `json:"address"`
}

type lineItemRequest struct {
	ProductID string          `json:"productId" validate:"required"`
	VariantID string          `json:"variantId,omitempty"`
	SizeLabel string          `json:"sizeLabel" validate:"required_without=VariantID"`
	Quantity  int             `json:"quantity" validate:"min=1"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
	Name      string          `json:"name,omitempty"`
	ImageRef  string          `json:"imageRef,omitempty"`
}

type checkoutRequest struct {
	Items        []lineItemRequest `json:"items" validate:"required,min=1,dive"`
	Buyer        buyerRequest      `json:"buyerInfo"`
	ShippingCost decimal.Decimal   `json:"shippingCost"`
	Total        decimal.Decimal   `json:"total"`
	Currency     string            `json:"currency,omitempty" validate:"omitempty,len=3"`
}

func (req checkoutRequest) toService() checkout.Request {
	items := make([]domain.LineItem, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, domain.LineItem{
			ProductID: item.ProductID,
			VariantID: item.VariantID,
			SizeLabel: item.SizeLabel,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			Name:      item.Name,
			ImageRef:  item.ImageRef,
		})
	}
	b := req.Buyer
	return checkout.Request{
		Buyer: domain.BuyerInfo{
			Name:     b.Name,
			Surname:  b.Surname,
			Email:    b.Email,
			Phone:    b.Phone,
			Document: b.Document,
			Address: domain.ShippingAddress{
				Street:     b.Address.Street,
				Number:     b.Address.Number,
				City:       b.Address.City,
				State:      b.Address.State,
				PostalCode: b.Address.PostalCode,
				Country:    b.Address.Country,
			},
		},
		Items:        items,
		ShippingCost: req.ShippingCost,
		Total:        req.Total,
		Currency:     req.Currency,
	}
}

// POST /api/checkout
func (h *handlers) createCheckout(w http.ResponseWriter, r *http.Request) {
	logger := loggerFrom(r.Context(), h.logger)

	var req checkoutRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeError(w, logger, err)
		return
	}

	h.withIdempotency(w, r, "checkout", req, func() (int, any, error) {
		session, err := h.deps.Checkout.Start(r.Context(), req.toService())
		if err != nil {
			return 0, nil, err
		}
		return http.StatusCreated, session, nil
	})
}
