package domain

import "time"

// Типы событий в истории заказа.
const (
	TimelineOrderCreated          = "OrderCreated"
	TimelineCheckoutSessionOpened = "CheckoutSessionOpened"
	TimelineCheckoutSessionFailed = "CheckoutSessionFailed"
	TimelineOrderPaid             = "OrderPaid"
	TimelineStockDecremented      = "StockDecremented"
	TimelineLineItemUnresolved    = "LineItemUnresolved"
)

// TimelineEvent описывает событие в жизненном цикле заказа.
type TimelineEvent struct {
	OrderID  string    `json:"-"`
	Type     string    `json:"type"`
	Reason   string    `json:"reason,omitempty"`
	Occurred time.Time `json:"occurred"`
}
