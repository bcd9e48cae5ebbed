package domain

import (
	"github.com/shopspring/decimal"
)

// PaymentStatus: канонический статус платежа на стороне шлюза.
type PaymentStatus string

const (
	// PaymentStatusApproved: единственный статус, по которому подтверждается заказ.
	PaymentStatusApproved   PaymentStatus = "approved"
	PaymentStatusPending    PaymentStatus = "pending"
	PaymentStatusInProcess  PaymentStatus = "in_process"
	PaymentStatusRejected   PaymentStatus = "rejected"
	PaymentStatusCancelled  PaymentStatus = "cancelled"
	PaymentStatusRefunded   PaymentStatus = "refunded"
	PaymentStatusChargeback PaymentStatus = "charged_back"
)

// RedirectURLs: адреса возврата покупателя после страницы оплаты.
type RedirectURLs struct {
	Success string
	Failure string
	Pending string
}

// GatewayItem: позиция в запросе на создание платёжной сессии.
type GatewayItem struct {
	ID         string
	Title      string
	Quantity   int
	UnitPrice  decimal.Decimal
	Currency   string
	PictureURL string
}

// CheckoutRequest: запрос платёжной сессии. ExternalReference всегда равен ID заказа.
type CheckoutRequest struct {
	ExternalReference string
	Items             []GatewayItem
	ShippingCost      decimal.Decimal
	Currency          string
	Payer             BuyerInfo
	Redirects         RedirectURLs
	NotificationURL   string
}

// CheckoutSession: ответ шлюза: куда перенаправить покупателя.
type CheckoutSession struct {
	ID        string
	InitPoint string
}

// PaymentInfo: результат запроса канонического статуса платежа.
type PaymentInfo struct {
	ID                string
	Status            PaymentStatus
	ExternalReference string
}

// Approved сообщает, можно ли подтверждать заказ по этому платежу.
func (p PaymentInfo) Approved() bool {
	return p.Status == PaymentStatusApproved
}

// NotificationTopicPayment: тема уведомлений, относящихся к платежам.
const NotificationTopicPayment = "payment"

// PaymentNotification: разобранное уведомление от шлюза. Само по себе не является
// доказательством оплаты: статус всегда перепроверяется через PaymentGateway.GetPayment.
type PaymentNotification struct {
	Provider   string
	Topic      string
	Action     string
	ResourceID string
	EventID    string
}

// IsPayment сообщает, относится ли уведомление к платежу.
func (n PaymentNotification) IsPayment() bool {
	return n.Topic == NotificationTopicPayment && n.ResourceID != ""
}

// DeliveryKey: ключ дедупликации повторных доставок одного уведомления.
func (n PaymentNotification) DeliveryKey() string {
	return n.Provider + ":" + n.Topic + ":" + n.ResourceID
}
