package domain

import "errors"

var (
	// Ошибка отсутствующего кода валюты.
	ErrCurrencyRequired = errors.New("currency is required")
	// Ошибка отсутствия хотя бы одного товара в заказе.
	ErrItemsRequired = errors.New("order must contain at least one item")
	// Ошибка отрицательной итоговой суммы.
	ErrTotalNegative = errors.New("total must be non-negative")
	// Ошибка отрицательной стоимости доставки.
	ErrShippingNegative = errors.New("shipping cost must be non-negative")
	// Ошибка при некорректном количестве товара (<= 0).
	ErrItemQtyInvalid = errors.New("item quantity must be greater than zero")
	// Ошибка, если цена позиции отрицательная.
	ErrItemPriceInvalid = errors.New("item price must be non-negative")
	// Ошибка отсутствующего идентификатора товара в позиции.
	ErrProductRequired = errors.New("item product_id is required")
	// Позиция должна нести variant_id или size_label.
	ErrVariantSelectorRequired = errors.New("item must carry variant_id or size_label")
	// Ошибка отсутствующего идентификатора заказа.
	ErrOrderIDRequired = errors.New("order_id is required")
	// Ошибка отсутствующего идентификатора платежа в уведомлении.
	ErrPaymentIDRequired = errors.New("payment id is required")
	// ErrInvalidNotification: уведомление шлюза не удалось разобрать или проверить подпись.
	ErrInvalidNotification = errors.New("invalid payment notification")

	// ErrOrderNotFound возвращается, если заказ не найден в репозитории.
	ErrOrderNotFound = errors.New("order not found")
	// ErrOrderAlreadyExists: попытка создать заказ с занятым ID.
	ErrOrderAlreadyExists = errors.New("order already exists")
	// ErrVariantNotFound: складская запись с таким ID отсутствует.
	ErrVariantNotFound = errors.New("inventory variant not found")
	// ErrUnresolvedLineItem: позицию не удалось сопоставить со складом.
	ErrUnresolvedLineItem = errors.New("line item could not be resolved to an inventory variant")

	// ErrGatewayUnavailable: временная ошибка платёжного шлюза, запрос можно повторить.
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
	// ErrGatewayRejected: шлюз отклонил запрос (4xx), повтор не поможет.
	ErrGatewayRejected = errors.New("payment gateway rejected request")

	// ErrOutboxPublish: ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")
)

var validationErrors = []error{
	ErrCurrencyRequired,
	ErrItemsRequired,
	ErrTotalNegative,
	ErrShippingNegative,
	ErrItemQtyInvalid,
	ErrItemPriceInvalid,
	ErrProductRequired,
	ErrVariantSelectorRequired,
	ErrOrderIDRequired,
	ErrPaymentIDRequired,
}

// IsValidation проверяет, относится ли ошибка к некорректным входным данным.
func IsValidation(err error) bool {
	for _, target := range validationErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// IsRetryable сообщает, имеет ли смысл повторить операцию позже.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrGatewayUnavailable)
}

// UpstreamGatewayError: платёжная сессия не открыта после того, как заказ уже сохранён.
// OrderID указывает на оставшийся pending-заказ.
type UpstreamGatewayError struct {
	OrderID string
	Err     error
}

func (e *UpstreamGatewayError) Error() string {
	return "checkout session for order " + e.OrderID + ": " + e.Err.Error()
}

func (e *UpstreamGatewayError) Unwrap() error {
	return e.Err
}
