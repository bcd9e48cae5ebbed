package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus описывает жизненный цикл заказа: pending -> paid, без обратных переходов.
type OrderStatus string

const (
	// OrderStatusPending: заказ создан, платёжная сессия открыта, оплата не подтверждена.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusPaid: оплата подтверждена, склад списан.
	OrderStatusPaid OrderStatus = "paid"
)

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s OrderStatus) Valid() bool {
	return s == OrderStatusPending || s == OrderStatusPaid
}

// ShippingAddress: адрес доставки покупателя.
type ShippingAddress struct {
	Street     string `json:"street,omitempty"`
	Number     string `json:"number,omitempty"`
	City       string `json:"city,omitempty"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postal_code,omitempty"`
	Country    string `json:"country,omitempty"`
}

// BuyerInfo: контактные данные покупателя. Ядро их не интерпретирует,
// только сохраняет и передаёт платёжному шлюзу.
type BuyerInfo struct {
	Name     string          `json:"name,omitempty"`
	Surname  string          `json:"surname,omitempty"`
	Email    string          `json:"email,omitempty"`
	Phone    string          `json:"phone,omitempty"`
	Document string          `json:"document,omitempty"`
	Address  ShippingAddress `json:"address"`
}

// LineItem: позиция заказа в том виде, в котором её прислал клиент.
type LineItem struct {
	ProductID string
	// VariantID может быть пустым у старых клиентов, тогда работает SizeLabel.
	VariantID string
	SizeLabel string
	Quantity  int
	UnitPrice decimal.Decimal
	Name      string
	ImageRef  string
}

// Reference возвращает способ поиска складской записи для позиции.
func (li LineItem) Reference() VariantRef {
	if li.VariantID != "" {
		return ByReference{VariantID: li.VariantID, Qty: li.Quantity}
	}
	return BySizeLabel{ProductID: li.ProductID, SizeLabel: li.SizeLabel, Qty: li.Quantity}
}

// Subtotal: цена позиции с учётом количества.
func (li LineItem) Subtotal() decimal.Decimal {
	return li.UnitPrice.Mul(decimal.NewFromInt(int64(li.Quantity)))
}

// Order агрегирует состояние заказа и его позиции.
// Позиции неизменны после создания; меняются только Status, PaymentReference и UpdatedAt.
type Order struct {
	ID               string
	Buyer            BuyerInfo
	Items            []LineItem
	ShippingCost     decimal.Decimal
	TotalAmount      decimal.Decimal
	Currency         string
	Status           OrderStatus
	PaymentReference string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// IsPaid сообщает, прошёл ли заказ подтверждение оплаты.
func (o Order) IsPaid() bool {
	return o.Status == OrderStatusPaid
}

// ValidateInvariants проверяет базовые инварианты заказа и возвращает список замечаний.
// Итоговая сумма намеренно не сверяется с ценами позиций: её считает клиент.
func (o *Order) ValidateInvariants() []error {
	var errs []error

	if o.Currency == "" {
		errs = append(errs, ErrCurrencyRequired)
	}
	if len(o.Items) == 0 {
		errs = append(errs, ErrItemsRequired)
	}
	if o.TotalAmount.IsNegative() {
		errs = append(errs, ErrTotalNegative)
	}
	if o.ShippingCost.IsNegative() {
		errs = append(errs, ErrShippingNegative)
	}

	for _, item := range o.Items {
		if item.ProductID == "" {
			errs = append(errs, ErrProductRequired)
		}
		if strings.TrimSpace(item.VariantID) == "" && strings.TrimSpace(item.SizeLabel) == "" {
			errs = append(errs, ErrVariantSelectorRequired)
		}
		if item.Quantity <= 0 {
			errs = append(errs, ErrItemQtyInvalid)
		}
		if item.UnitPrice.IsNegative() {
			errs = append(errs, ErrItemPriceInvalid)
		}
	}

	return errs
}
