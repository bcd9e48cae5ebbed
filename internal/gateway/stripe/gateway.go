package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"
	stripeapi "github.com/stripe/stripe-go/v83"
	"github.com/stripe/stripe-go/v83/webhook"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

// Provider: имя провайдера в метриках и ключах дедупликации.
const Provider = "stripe"

const (
	signatureHeader = "Stripe-Signature"
	shippingTitle   = "Shipping"
	orderIDMetadata = "order_id"

	eventSessionCompleted      = "checkout.session.completed"
	eventAsyncPaymentSucceeded = "checkout.session.async_payment_succeeded"
	eventAsyncPaymentFailed    = "checkout.session.async_payment_failed"
)

var (
	errAPIKeyRequired = errors.New("stripe api key is required")
	errSecretRequired = errors.New("stripe webhook secret is required")
)

// sessionAPI: подмножество Client.V1CheckoutSessions, которое использует шлюз.
// Контекст вызова доходит до HTTP-запроса к Stripe.
type sessionAPI interface {
	Create(ctx context.Context, params *stripeapi.CheckoutSessionCreateParams) (*stripeapi.CheckoutSession, error)
	Retrieve(ctx context.Context, id string, params *stripeapi.CheckoutSessionRetrieveParams) (*stripeapi.CheckoutSession, error)
}

// Gateway открывает Stripe Checkout Session. Идентификатором платежа служит ID сессии:
// именно его несут события checkout.session.*.
type Gateway struct {
	sessions      sessionAPI
	signingSecret string
}

// NewGateway создаёт шлюз по секретному ключу и секрету подписи вебхуков.
// Опции клиента передаются в stripe.NewClient (например, WithBackends).
func NewGateway(apiKey, signingSecret string, opts ...stripeapi.ClientOption) (*Gateway, error) {
	key := strings.TrimSpace(apiKey)
	if key == "" {
		return nil, errAPIKeyRequired
	}
	secret := strings.TrimSpace(signingSecret)
	if secret == "" {
		return nil, errSecretRequired
	}
	return &Gateway{
		sessions:      stripeapi.NewClient(key, opts...).V1CheckoutSessions,
		signingSecret: secret,
	}, nil
}

// CreateCheckout создаёт сессию в режиме payment. У Stripe нет отдельного адреса для
// ожидающей оплаты: покупатель возвращается на success, статус уточняется вебхуком.
func (g *Gateway) CreateCheckout(ctx context.Context, req domain.CheckoutRequest) (domain.CheckoutSession, error) {
	if req.ExternalReference == "" {
		return domain.CheckoutSession{}, domain.ErrOrderIDRequired
	}

	currency := strings.ToLower(req.Currency)
	params := &stripeapi.CheckoutSessionCreateParams{
		Mode:              stripeapi.String(string(stripeapi.CheckoutSessionModePayment)),
		ClientReferenceID: stripeapi.String(req.ExternalReference),
		SuccessURL:        stripeapi.String(req.Redirects.Success),
		CancelURL:         stripeapi.String(req.Redirects.Failure),
		Metadata:          map[string]string{orderIDMetadata: req.ExternalReference},
	}
	if req.Payer.Email != "" {
		params.CustomerEmail = stripeapi.String(req.Payer.Email)
	}
	for _, item := range req.Items {
		params.LineItems = append(params.LineItems, lineItem(item.Title, item.PictureURL, item.Quantity, item.UnitPrice, currency))
	}
	if req.ShippingCost.IsPositive() {
		params.LineItems = append(params.LineItems, lineItem(shippingTitle, "", 1, req.ShippingCost, currency))
	}
	params.SetIdempotencyKey("checkout-" + req.ExternalReference)

	s, err := g.sessions.Create(ctx, params)
	if err != nil {
		return domain.CheckoutSession{}, classify("create checkout session", err)
	}
	return domain.CheckoutSession{ID: s.ID, InitPoint: s.URL}, nil
}

// GetPayment перечитывает сессию и переводит её состояние в канонический статус.
func (g *Gateway) GetPayment(ctx context.Context, paymentID string) (domain.PaymentInfo, error) {
	id := strings.TrimSpace(paymentID)
	if id == "" {
		return domain.PaymentInfo{}, domain.ErrPaymentIDRequired
	}

	s, err := g.sessions.Retrieve(ctx, id, nil)
	if err != nil {
		return domain.PaymentInfo{}, classify("get checkout session", err)
	}

	reference := s.ClientReferenceID
	if reference == "" {
		reference = s.Metadata[orderIDMetadata]
	}
	return domain.PaymentInfo{
		ID:                s.ID,
		Status:            sessionStatus(s),
		ExternalReference: reference,
	}, nil
}

// DecodeNotification проверяет подпись Stripe-Signature и извлекает ID сессии.
// События, не относящиеся к оплате сессии, возвращаются с темой, равной типу события.
func (g *Gateway) DecodeNotification(header map[string][]string, _ map[string][]string, body []byte) (domain.PaymentNotification, error) {
	event, err := webhook.ConstructEventWithOptions(body, http.Header(header).Get(signatureHeader), g.signingSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return domain.PaymentNotification{}, fmt.Errorf("%w: %v", domain.ErrInvalidNotification, err)
	}

	n := domain.PaymentNotification{
		Provider: Provider,
		Topic:    string(event.Type),
		Action:   string(event.Type),
		EventID:  event.ID,
	}
	switch event.Type {
	case eventSessionCompleted, eventAsyncPaymentSucceeded, eventAsyncPaymentFailed:
	default:
		return n, nil
	}

	if event.Data == nil {
		return domain.PaymentNotification{}, fmt.Errorf("%w: event %s has no data", domain.ErrInvalidNotification, event.ID)
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(event.Data.Raw, &obj); err != nil {
		return domain.PaymentNotification{}, fmt.Errorf("%w: decode session: %v", domain.ErrInvalidNotification, err)
	}
	n.Topic = domain.NotificationTopicPayment
	n.ResourceID = obj.ID
	return n, nil
}

func lineItem(title, image string, qty int, price decimal.Decimal, currency string) *stripeapi.CheckoutSessionCreateLineItemParams {
	product := &stripeapi.CheckoutSessionCreateLineItemPriceDataProductDataParams{Name: stripeapi.String(title)}
	if image != "" {
		product.Images = []*string{stripeapi.String(image)}
	}
	return &stripeapi.CheckoutSessionCreateLineItemParams{
		Quantity: stripeapi.Int64(int64(qty)),
		PriceData: &stripeapi.CheckoutSessionCreateLineItemPriceDataParams{
			Currency:    stripeapi.String(currency),
			UnitAmount:  stripeapi.Int64(toMinorUnits(price)),
			ProductData: product,
		},
	}
}

// toMinorUnits переводит сумму в центы; валюты без дробной части не поддерживаются.
func toMinorUnits(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}

func sessionStatus(s *stripeapi.CheckoutSession) domain.PaymentStatus {
	switch {
	case s.PaymentStatus == stripeapi.CheckoutSessionPaymentStatusPaid,
		s.PaymentStatus == stripeapi.CheckoutSessionPaymentStatusNoPaymentRequired:
		return domain.PaymentStatusApproved
	case s.Status == stripeapi.CheckoutSessionStatusExpired:
		return domain.PaymentStatusCancelled
	case s.Status == stripeapi.CheckoutSessionStatusComplete:
		// сессия завершена, но асинхронный платёж ещё не прошёл
		return domain.PaymentStatusInProcess
	default:
		return domain.PaymentStatusPending
	}
}

// classify сводит ошибки Stripe к доменным: 429, 5xx и сетевые сбои можно повторить.
// Сетевые ошибки, включая отмену контекста, остаются в цепочке.
func classify(op string, err error) error {
	var stripeErr *stripeapi.Error
	if errors.As(err, &stripeErr) {
		if stripeErr.HTTPStatusCode >= http.StatusInternalServerError || stripeErr.HTTPStatusCode == http.StatusTooManyRequests {
			return fmt.Errorf("%s: %w: %v", op, domain.ErrGatewayUnavailable, err)
		}
		return fmt.Errorf("%s: %w: %v", op, domain.ErrGatewayRejected, err)
	}
	return fmt.Errorf("%s: %w: %w", op, domain.ErrGatewayUnavailable, err)
}

var (
	_ domain.PaymentGateway      = (*Gateway)(nil)
	_ domain.NotificationDecoder = (*Gateway)(nil)
)
