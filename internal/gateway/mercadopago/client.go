package mercadopago

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mercadopago/sdk-go/pkg/config"
	"github.com/mercadopago/sdk-go/pkg/mperror"
	"github.com/mercadopago/sdk-go/pkg/payment"
	"github.com/mercadopago/sdk-go/pkg/preference"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

// Provider: имя провайдера в метриках и ключах дедупликации.
const Provider = "mercadopago"

const (
	defaultTimeout           = 10 * time.Second
	autoReturnApproved       = "approved"
	idempotencyHeader        = "X-Idempotency-Key"
	shipmentModeNotSpecified = "not_specified"
)

var errAccessTokenRequired = errors.New("mercadopago access token is required")

// preferenceAPI и paymentAPI: части клиентов SDK, которые использует шлюз.
type preferenceAPI interface {
	Create(ctx context.Context, request preference.Request) (*preference.Response, error)
}

type paymentAPI interface {
	Get(ctx context.Context, id int) (*payment.Response, error)
}

// Client: шлюз MercadoPago Checkout Pro поверх официального SDK.
type Client struct {
	preferences   preferenceAPI
	payments      paymentAPI
	httpClient    *http.Client
	webhookSecret string
	sandbox       bool
}

// Option настраивает Client.
type Option func(*Client)

// WithHTTPClient подменяет HTTP-клиент, через который ходит SDK.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithWebhookSecret включает проверку заголовка x-signature у уведомлений.
func WithWebhookSecret(secret string) Option {
	return func(c *Client) { c.webhookSecret = strings.TrimSpace(secret) }
}

// WithSandbox возвращает sandbox_init_point вместо боевой ссылки.
func WithSandbox(enabled bool) Option {
	return func(c *Client) { c.sandbox = enabled }
}

// NewClient создаёт клиент по access token продавца.
func NewClient(accessToken string, opts ...Option) (*Client, error) {
	token := strings.TrimSpace(accessToken)
	if token == "" {
		return nil, errAccessTokenRequired
	}

	client := &Client{httpClient: &http.Client{Timeout: defaultTimeout}}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}

	// SDK генерирует случайный X-Idempotency-Key; подменяем его ID заказа.
	httpClient := *client.httpClient
	httpClient.Transport = idempotencyTransport{next: httpClient.Transport}

	cfg, err := config.New(token, config.WithHTTPClient(&httpClient))
	if err != nil {
		return nil, fmt.Errorf("mercadopago config: %w", err)
	}
	client.preferences = preference.NewClient(cfg)
	client.payments = payment.NewClient(cfg)
	return client, nil
}

// CreateCheckout создаёт preference и возвращает ссылку на оплату.
func (c *Client) CreateCheckout(ctx context.Context, req domain.CheckoutRequest) (domain.CheckoutSession, error) {
	if req.ExternalReference == "" {
		return domain.CheckoutSession{}, domain.ErrOrderIDRequired
	}

	request := preference.Request{
		Items:             make([]preference.ItemRequest, 0, len(req.Items)),
		Payer:             toPayer(req.Payer),
		AutoReturn:        autoReturnApproved,
		ExternalReference: req.ExternalReference,
		NotificationURL:   req.NotificationURL,
		BackURLs: &preference.BackURLsRequest{
			Success: req.Redirects.Success,
			Failure: req.Redirects.Failure,
			Pending: req.Redirects.Pending,
		},
	}
	if req.Redirects.Success == "" {
		request.AutoReturn = ""
	}
	for _, item := range req.Items {
		request.Items = append(request.Items, preference.ItemRequest{
			ID:         item.ID,
			Title:      item.Title,
			Quantity:   item.Quantity,
			UnitPrice:  item.UnitPrice.InexactFloat64(),
			CurrencyID: item.Currency,
			PictureURL: item.PictureURL,
		})
	}
	if req.ShippingCost.IsPositive() {
		request.Shipments = &preference.ShipmentsRequest{Cost: req.ShippingCost.InexactFloat64(), Mode: shipmentModeNotSpecified}
	}

	resp, err := c.preferences.Create(withIdempotencyKey(ctx, req.ExternalReference), request)
	if err != nil {
		return domain.CheckoutSession{}, classify("create preference", err)
	}

	initPoint := resp.InitPoint
	if c.sandbox && resp.SandboxInitPoint != "" {
		initPoint = resp.SandboxInitPoint
	}
	if initPoint == "" {
		return domain.CheckoutSession{}, fmt.Errorf("create preference: empty init_point: %w", domain.ErrGatewayRejected)
	}
	return domain.CheckoutSession{ID: resp.ID, InitPoint: initPoint}, nil
}

// GetPayment запрашивает канонический статус платежа.
func (c *Client) GetPayment(ctx context.Context, paymentID string) (domain.PaymentInfo, error) {
	id := strings.TrimSpace(paymentID)
	if id == "" {
		return domain.PaymentInfo{}, domain.ErrPaymentIDRequired
	}
	numericID, err := strconv.Atoi(id)
	if err != nil {
		return domain.PaymentInfo{}, fmt.Errorf("get payment: id %q is not numeric: %w", id, domain.ErrGatewayRejected)
	}

	resp, err := c.payments.Get(ctx, numericID)
	if err != nil {
		return domain.PaymentInfo{}, classify("get payment", err)
	}

	info := domain.PaymentInfo{
		ID:                strconv.Itoa(resp.ID),
		Status:            domain.PaymentStatus(resp.Status),
		ExternalReference: resp.ExternalReference,
	}
	if resp.ID == 0 {
		info.ID = id
	}
	return info, nil
}

// classify: сеть, таймаут, 429 и 5xx дают ErrGatewayUnavailable; прочие ответы API: ErrGatewayRejected.
func classify(op string, err error) error {
	var respErr *mperror.ResponseError
	if errors.As(err, &respErr) {
		if respErr.StatusCode >= http.StatusInternalServerError || respErr.StatusCode == http.StatusTooManyRequests {
			return fmt.Errorf("%s: %w: status %d: %v", op, domain.ErrGatewayUnavailable, respErr.StatusCode, err)
		}
		return fmt.Errorf("%s: %w: status %d: %v", op, domain.ErrGatewayRejected, respErr.StatusCode, err)
	}
	return fmt.Errorf("%s: %w: %w", op, domain.ErrGatewayUnavailable, err)
}

type idempotencyKey struct{}

func withIdempotencyKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, idempotencyKey{}, key)
}

// idempotencyTransport переписывает X-Idempotency-Key, если ключ лежит в контексте запроса.
type idempotencyTransport struct {
	next http.RoundTripper
}

func (t idempotencyTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	next := t.next
	if next == nil {
		next = http.DefaultTransport
	}
	key, _ := req.Context().Value(idempotencyKey{}).(string)
	if key == "" {
		return next.RoundTrip(req)
	}
	clone := req.Clone(req.Context())
	clone.Header.Set(idempotencyHeader, key)
	return next.RoundTrip(clone)
}

func toPayer(buyer domain.BuyerInfo) *preference.PayerRequest {
	payer := &preference.PayerRequest{
		Name:    buyer.Name,
		Surname: buyer.Surname,
		Email:   buyer.Email,
	}
	if buyer.Phone != "" {
		payer.Phone = &preference.PhoneRequest{Number: buyer.Phone}
	}
	if buyer.Document != "" {
		payer.Identification = &preference.IdentificationRequest{Type: "DNI", Number: buyer.Document}
	}
	if buyer.Address.PostalCode != "" || buyer.Address.Street != "" {
		payer.Address = &preference.AddressRequest{ZipCode: buyer.Address.PostalCode, StreetName: buyer.Address.Street}
	}
	return payer
}

var _ domain.PaymentGateway = (*Client)(nil)
