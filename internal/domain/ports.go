package domain

import (
	"context"
	"time"
)

// OrderRepository описывает требования к хранилищу заказов.
type OrderRepository interface {
	// Create сохраняет новый заказ. ErrOrderAlreadyExists, если ID занят.
	Create(ctx context.Context, order Order) error
	// Get возвращает заказ по идентификатору или ErrOrderNotFound, если его нет.
	Get(ctx context.Context, id string) (Order, error)
	// MarkPaid атомарно переводит заказ из pending в paid.
	// Возвращает true только тому вызову, который реально выполнил переход;
	// для уже оплаченного заказа: false без ошибки, для отсутствующего: ErrOrderNotFound.
	MarkPaid(ctx context.Context, id, paymentReference string, at time.Time) (bool, error)
}

// InventoryRepository: доступ к складским остаткам вариантов.
type InventoryRepository interface {
	// GetVariant возвращает вариант по ID или ErrVariantNotFound.
	GetVariant(ctx context.Context, id string) (InventoryVariant, error)
	// ListByProduct возвращает все варианты товара в стабильном порядке.
	ListByProduct(ctx context.Context, productID string) ([]InventoryVariant, error)
	// DecrementStock атомарно уменьшает остаток на qty с полом в ноль.
	DecrementStock(ctx context.Context, variantID string, qty int) (StockChange, error)
}

// PaymentGateway: контракт внешнего платёжного шлюза.
type PaymentGateway interface {
	// CreateCheckout открывает платёжную сессию и возвращает ссылку для покупателя.
	CreateCheckout(ctx context.Context, req CheckoutRequest) (CheckoutSession, error)
	// GetPayment возвращает канонический статус платежа по его идентификатору.
	GetPayment(ctx context.Context, paymentID string) (PaymentInfo, error)
}

// NotificationDecoder разбирает входящее уведомление конкретного шлюза.
type NotificationDecoder interface {
	DecodeNotification(header map[string][]string, query map[string][]string, body []byte) (PaymentNotification, error)
}

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(event OutboxMessage) error
}

// OutboxRepository позволяет сохранять события для последующей публикации.
type OutboxRepository interface {
	Enqueue(ctx context.Context, msg OutboxMessage) (OutboxMessage, error)
	PullPending(ctx context.Context, limit int) ([]OutboxMessage, error)
	Stats(ctx context.Context) (OutboxStats, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string) error
}

// TimelineRepository хранит события жизненного цикла заказа.
type TimelineRepository interface {
	Append(ctx context.Context, event TimelineEvent) error
	List(ctx context.Context, orderID string) ([]TimelineEvent, error)
}

// IdempotencyRepository хранит состояние обработки запросов по idempotency-key.
type IdempotencyRepository interface {
	CreateProcessing(ctx context.Context, key, requestHash string, ttlAt time.Time) (IdempotencyRecord, error)
	Get(ctx context.Context, key string) (IdempotencyRecord, error)
	MarkDone(ctx context.Context, key string, responseBody []byte, httpStatus int) error
	MarkFailed(ctx context.Context, key string, responseBody []byte, httpStatus int) error
	DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error)
}

// Типы событий outbox.
const (
	EventOrderCreated       = "order.created"
	EventOrderPaid          = "order.paid"
	EventLineItemUnresolved = "inventory.line_item_unresolved"
	AggregateOrder          = "order"
)

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}
