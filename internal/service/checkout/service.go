package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
	"github.com/vladislavdragonenkov/checkout/internal/metrics"
)

const defaultGatewayTimeout = 15 * time.Second

// Пути страниц возврата покупателя; ID заказа передаётся параметром orderId.
const (
	SuccessPath = "/checkout/success"
	FailurePath = "/checkout/failure"
	PendingPath = "/checkout/pending"

	orderIDParam = "orderId"
)

// Request: данные корзины на момент оформления.
type Request struct {
	Buyer        domain.BuyerInfo
	Items        []domain.LineItem
	ShippingCost decimal.Decimal
	Total        decimal.Decimal
	Currency     string
}

// Session: результат оформления: куда перенаправить покупателя.
type Session struct {
	OrderID   string `json:"orderId"`
	InitPoint string `json:"initPoint"`
	SessionID string `json:"sessionId,omitempty"`
}

// Config задаёт внешние адреса сервиса.
type Config struct {
	// PublicBaseURL: адрес витрины, на который шлюз возвращает покупателя.
	PublicBaseURL string
	// NotificationURL: адрес вебхука; пусто: используется настройка аккаунта шлюза.
	NotificationURL string
	GatewayTimeout  time.Duration
	// DefaultCurrency подставляется, когда запрос не указывает валюту.
	DefaultCurrency string
}

// Service создаёт pending-заказ и открывает платёжную сессию.
type Service struct {
	cfg      Config
	orders   domain.OrderRepository
	gateway  domain.PaymentGateway
	outbox   domain.OutboxRepository
	timeline domain.TimelineRepository
	metrics  *metrics.CheckoutMetrics
	logger   *log.Entry
	newID    func() string
	now      func() time.Time
}

// Option настраивает Service.
type Option func(*Service)

// WithOutbox включает событие order.created.
func WithOutbox(repo domain.OutboxRepository) Option {
	return func(s *Service) { s.outbox = repo }
}

// WithTimeline включает запись истории заказа.
func WithTimeline(repo domain.TimelineRepository) Option {
	return func(s *Service) { s.timeline = repo }
}

// WithMetrics задаёт метрики.
func WithMetrics(m *metrics.CheckoutMetrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(s *Service) { s.logger = logger }
}

// WithIDGenerator подменяет генератор ID заказов (для тестов).
func WithIDGenerator(newID func() string) Option {
	return func(s *Service) { s.newID = newID }
}

// NewService создаёт сервис оформления заказа.
func NewService(cfg Config, orders domain.OrderRepository, gateway domain.PaymentGateway, options ...Option) *Service {
	if cfg.GatewayTimeout <= 0 {
		cfg.GatewayTimeout = defaultGatewayTimeout
	}
	cfg.PublicBaseURL = strings.TrimRight(cfg.PublicBaseURL, "/")
	cfg.DefaultCurrency = strings.ToUpper(strings.TrimSpace(cfg.DefaultCurrency))

	s := &Service{
		cfg:     cfg,
		orders:  orders,
		gateway: gateway,
		newID:   uuid.NewString,
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, option := range options {
		option(s)
	}
	if s.logger == nil {
		s.logger = log.WithField("component", "checkout")
	}
	return s
}

// Start сохраняет заказ в статусе pending и запрашивает платёжную сессию.
// Если шлюз недоступен, заказ остаётся pending, а ошибка *domain.UpstreamGatewayError несёт его ID.
func (s *Service) Start(ctx context.Context, req Request) (Session, error) {
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = s.cfg.DefaultCurrency
	}

	now := s.now()
	order := domain.Order{
		ID:           s.newID(),
		Buyer:        req.Buyer,
		Items:        normalizeItems(req.Items),
		ShippingCost: req.ShippingCost,
		TotalAmount:  req.Total,
		Currency:     currency,
		Status:       domain.OrderStatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if errs := order.ValidateInvariants(); len(errs) > 0 {
		s.metrics.RecordSession("invalid")
		return Session{}, errors.Join(errs...)
	}

	logger := s.logger.WithFields(log.Fields{
		"order_id": order.ID,
		"items":    len(order.Items),
		"total":    order.TotalAmount.String(),
	})

	if err := s.orders.Create(ctx, order); err != nil {
		s.metrics.RecordSession("storage_error")
		logger.WithError(err).Error("failed to persist order")
		return Session{}, fmt.Errorf("persist order: %w", err)
	}
	s.appendTimeline(ctx, order.ID, domain.TimelineOrderCreated, "", now, logger)
	s.enqueueCreated(ctx, order, logger)

	gatewayCtx, cancel := context.WithTimeout(ctx, s.cfg.GatewayTimeout)
	defer cancel()

	session, err := s.gateway.CreateCheckout(gatewayCtx, s.checkoutRequest(order))
	if err != nil {
		s.metrics.RecordSession("gateway_error")
		logger.WithError(err).Error("payment gateway refused checkout session, order left pending")
		s.appendTimeline(ctx, order.ID, domain.TimelineCheckoutSessionFailed, err.Error(), s.now(), logger)
		return Session{OrderID: order.ID}, &domain.UpstreamGatewayError{OrderID: order.ID, Err: err}
	}

	s.metrics.RecordSession("opened")
	s.appendTimeline(ctx, order.ID, domain.TimelineCheckoutSessionOpened, session.ID, s.now(), logger)
	logger.WithField("session_id", session.ID).Info("checkout session opened")

	return Session{OrderID: order.ID, InitPoint: session.InitPoint, SessionID: session.ID}, nil
}

// RedirectURLs строит адреса возврата, каждый из которых содержит ID заказа.
func (s *Service) RedirectURLs(orderID string) domain.RedirectURLs {
	return domain.RedirectURLs{
		Success: s.redirectURL(SuccessPath, orderID),
		Failure: s.redirectURL(FailurePath, orderID),
		Pending: s.redirectURL(PendingPath, orderID),
	}
}

func (s *Service) redirectURL(path, orderID string) string {
	return s.cfg.PublicBaseURL + path + "?" + url.Values{orderIDParam: {orderID}}.Encode()
}

func (s *Service) checkoutRequest(order domain.Order) domain.CheckoutRequest {
	items := make([]domain.GatewayItem, 0, len(order.Items))
	for _, item := range order.Items {
		id := item.VariantID
		if id == "" {
			id = item.ProductID
		}
		title := item.Name
		if title == "" {
			title = item.ProductID
		}
		if item.SizeLabel != "" {
			title += " (" + item.SizeLabel + ")"
		}
		items = append(items, domain.GatewayItem{
			ID:         id,
			Title:      title,
			Quantity:   item.Quantity,
			UnitPrice:  item.UnitPrice,
			Currency:   order.Currency,
			PictureURL: item.ImageRef,
		})
	}

	return domain.CheckoutRequest{
		ExternalReference: order.ID,
		Items:             items,
		ShippingCost:      order.ShippingCost,
		Currency:          order.Currency,
		Payer:             order.Buyer,
		Redirects:         s.RedirectURLs(order.ID),
		NotificationURL:   s.cfg.NotificationURL,
	}
}

// Метки размера сохраняются как прислал клиент, кроме крайних пробелов в ID.
func normalizeItems(items []domain.LineItem) []domain.LineItem {
	result := make([]domain.LineItem, len(items))
	for i, item := range items {
		item.ProductID = strings.TrimSpace(item.ProductID)
		item.VariantID = strings.TrimSpace(item.VariantID)
		result[i] = item
	}
	return result
}

type orderCreatedPayload struct {
	OrderID   string          `json:"order_id"`
	Total     decimal.Decimal `json:"total"`
	Currency  string          `json:"currency"`
	ItemCount int             `json:"item_count"`
	CreatedAt time.Time       `json:"created_at"`
}

func (s *Service) enqueueCreated(ctx context.Context, order domain.Order, logger *log.Entry) {
	if s.outbox == nil {
		return
	}
	payload, err := json.Marshal(orderCreatedPayload{
		OrderID:   order.ID,
		Total:     order.TotalAmount,
		Currency:  order.Currency,
		ItemCount: len(order.Items),
		CreatedAt: order.CreatedAt,
	})
	if err != nil {
		logger.WithError(err).Error("failed to encode order.created payload")
		return
	}
	if _, err := s.outbox.Enqueue(ctx, domain.OutboxMessage{
		AggregateType: domain.AggregateOrder,
		AggregateID:   order.ID,
		EventType:     domain.EventOrderCreated,
		Payload:       payload,
	}); err != nil {
		logger.WithError(err).Warn("failed to enqueue order.created")
		return
	}
	s.metrics.RecordOutboxEvent()
}

func (s *Service) appendTimeline(ctx context.Context, orderID, eventType, reason string, at time.Time, logger *log.Entry) {
	if s.timeline == nil {
		return
	}
	if err := s.timeline.Append(ctx, domain.TimelineEvent{OrderID: orderID, Type: eventType, Reason: reason, Occurred: at}); err != nil {
		logger.WithError(err).WithField("event", eventType).Warn("failed to append timeline event")
		return
	}
	s.metrics.RecordTimelineEvent()
}
