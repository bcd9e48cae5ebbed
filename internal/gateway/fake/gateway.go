package fake

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

// Provider: имя провайдера в метриках и ключах дедупликации.
const Provider = "fake"

// Gateway: конфигурируемая заглушка платёжного шлюза для тестов и локального запуска.
// Платёжные сессии не открываются: InitPoint указывает на BaseURL.
type Gateway struct {
	mu sync.Mutex

	BaseURL   string
	CreateErr error
	GetErr    error

	payments map[string]domain.PaymentInfo
	requests []domain.CheckoutRequest

	CreateCalls int
	GetCalls    int
}

// NewGateway возвращает заглушку с успешным сценарием по умолчанию.
func NewGateway(baseURL string) *Gateway {
	return &Gateway{
		BaseURL:  baseURL,
		payments: make(map[string]domain.PaymentInfo),
	}
}

// CreateCheckout запоминает запрос и возвращает ссылку на фиктивную страницу оплаты.
func (g *Gateway) CreateCheckout(_ context.Context, req domain.CheckoutRequest) (domain.CheckoutSession, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.CreateCalls++
	if g.CreateErr != nil {
		return domain.CheckoutSession{}, g.CreateErr
	}
	g.requests = append(g.requests, req)

	id := uuid.NewString()
	return domain.CheckoutSession{
		ID:        id,
		InitPoint: fmt.Sprintf("%s/pay/%s?ref=%s", g.BaseURL, id, req.ExternalReference),
	}, nil
}

// GetPayment возвращает ранее заданный платёж или ErrGatewayRejected.
func (g *Gateway) GetPayment(_ context.Context, paymentID string) (domain.PaymentInfo, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.GetCalls++
	if g.GetErr != nil {
		return domain.PaymentInfo{}, g.GetErr
	}
	info, ok := g.payments[paymentID]
	if !ok {
		return domain.PaymentInfo{}, fmt.Errorf("payment %s: %w", paymentID, domain.ErrGatewayRejected)
	}
	return info, nil
}

// SetPayment задаёт канонический статус платежа.
func (g *Gateway) SetPayment(info domain.PaymentInfo) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.payments[info.ID] = info
}

// Requests возвращает копию принятых запросов CreateCheckout.
func (g *Gateway) Requests() []domain.CheckoutRequest {
	g.mu.Lock()
	defer g.mu.Unlock()

	result := make([]domain.CheckoutRequest, len(g.requests))
	copy(result, g.requests)
	return result
}

type notificationBody struct {
	Type   string `json:"type"`
	Action string `json:"action"`
	Data   struct {
		ID string `json:"id"`
	} `json:"data"`
}

// DecodeNotification принимает JSON вида {"type":"payment","data":{"id":"..."}}.
func (g *Gateway) DecodeNotification(_ map[string][]string, _ map[string][]string, body []byte) (domain.PaymentNotification, error) {
	var payload notificationBody
	if err := json.Unmarshal(body, &payload); err != nil {
		return domain.PaymentNotification{}, fmt.Errorf("%w: %v", domain.ErrInvalidNotification, err)
	}
	return domain.PaymentNotification{
		Provider:   Provider,
		Topic:      payload.Type,
		Action:     payload.Action,
		ResourceID: payload.Data.ID,
	}, nil
}

var (
	_ domain.PaymentGateway      = (*Gateway)(nil)
	_ domain.NotificationDecoder = (*Gateway)(nil)
)
