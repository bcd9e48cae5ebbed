package stripe

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	stripeapi "github.com/stripe/stripe-go/v83"
	"github.com/stripe/stripe-go/v83/webhook"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

type fakeSessions struct {
	created  *stripeapi.CheckoutSessionCreateParams
	sessions map[string]*stripeapi.CheckoutSession
	err      error
}

func (f *fakeSessions) Create(_ context.Context, params *stripeapi.CheckoutSessionCreateParams) (*stripeapi.CheckoutSession, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.created = params
	return &stripeapi.CheckoutSession{ID: "cs_test_1", URL: "https://checkout.stripe.test/c/pay/cs_test_1"}, nil
}

func (f *fakeSessions) Retrieve(_ context.Context, id string, _ *stripeapi.CheckoutSessionRetrieveParams) (*stripeapi.CheckoutSession, error) {
	if f.err != nil {
		return nil, f.err
	}
	s, ok := f.sessions[id]
	if !ok {
		return nil, &stripeapi.Error{HTTPStatusCode: 404, Msg: "No such checkout.session"}
	}
	return s, nil
}

const testSecret = "whsec_test"

func newTestGateway(sessions *fakeSessions) *Gateway {
	return &Gateway{sessions: sessions, signingSecret: testSecret}
}

func TestNewGatewayRequiresSecrets(t *testing.T) {
	_, err := NewGateway("", testSecret)
	require.ErrorIs(t, err, errAPIKeyRequired)

	_, err = NewGateway("sk_test_123", "")
	require.ErrorIs(t, err, errSecretRequired)

	gw, err := NewGateway("sk_test_123", testSecret)
	require.NoError(t, err)
	require.NotNil(t, gw.sessions)
}

func TestGatewayCreateCheckout(t *testing.T) {
	sessions := &fakeSessions{}
	gw := newTestGateway(sessions)

	cs, err := gw.CreateCheckout(context.Background(), domain.CheckoutRequest{
		ExternalReference: "order-1",
		Currency:          "EUR",
		Items: []domain.GatewayItem{
			{Title: "Box", Quantity: 2, UnitPrice: decimal.RequireFromString("12.345")},
		},
		ShippingCost: decimal.RequireFromString("4.90"),
		Payer:        domain.BuyerInfo{Email: "ana@example.com"},
		Redirects:    domain.RedirectURLs{Success: "https://shop/s?orderId=order-1", Failure: "https://shop/f?orderId=order-1"},
	})
	require.NoError(t, err)
	require.Equal(t, "cs_test_1", cs.ID)
	require.NotEmpty(t, cs.InitPoint)

	params := sessions.created
	require.Equal(t, "order-1", *params.ClientReferenceID)
	require.Equal(t, "https://shop/f?orderId=order-1", *params.CancelURL)
	require.Equal(t, "ana@example.com", *params.CustomerEmail)
	require.Len(t, params.LineItems, 2)
	require.Equal(t, int64(1235), *params.LineItems[0].PriceData.UnitAmount)
	require.Equal(t, "eur", *params.LineItems[0].PriceData.Currency)
	require.Equal(t, int64(490), *params.LineItems[1].PriceData.UnitAmount)
	require.Equal(t, "order-1", params.Metadata[orderIDMetadata])
}

func TestGatewayGetPayment(t *testing.T) {
	sessions := &fakeSessions{sessions: map[string]*stripeapi.CheckoutSession{
		"cs_paid":    {ID: "cs_paid", ClientReferenceID: "order-1", PaymentStatus: stripeapi.CheckoutSessionPaymentStatusPaid, Status: stripeapi.CheckoutSessionStatusComplete},
		"cs_async":   {ID: "cs_async", ClientReferenceID: "order-2", PaymentStatus: stripeapi.CheckoutSessionPaymentStatusUnpaid, Status: stripeapi.CheckoutSessionStatusComplete},
		"cs_open":    {ID: "cs_open", Metadata: map[string]string{orderIDMetadata: "order-3"}, PaymentStatus: stripeapi.CheckoutSessionPaymentStatusUnpaid, Status: stripeapi.CheckoutSessionStatusOpen},
		"cs_expired": {ID: "cs_expired", PaymentStatus: stripeapi.CheckoutSessionPaymentStatusUnpaid, Status: stripeapi.CheckoutSessionStatusExpired},
	}}
	gw := newTestGateway(sessions)
	ctx := context.Background()

	info, err := gw.GetPayment(ctx, "cs_paid")
	require.NoError(t, err)
	require.True(t, info.Approved())
	require.Equal(t, "order-1", info.ExternalReference)

	info, err = gw.GetPayment(ctx, "cs_async")
	require.NoError(t, err)
	require.Equal(t, domain.PaymentStatusInProcess, info.Status)

	info, err = gw.GetPayment(ctx, "cs_open")
	require.NoError(t, err)
	require.Equal(t, domain.PaymentStatusPending, info.Status)
	require.Equal(t, "order-3", info.ExternalReference)

	info, err = gw.GetPayment(ctx, "cs_expired")
	require.NoError(t, err)
	require.Equal(t, domain.PaymentStatusCancelled, info.Status)

	_, err = gw.GetPayment(ctx, "cs_missing")
	require.ErrorIs(t, err, domain.ErrGatewayRejected)
}

func TestGatewayErrorClassification(t *testing.T) {
	gw := newTestGateway(&fakeSessions{err: &stripeapi.Error{HTTPStatusCode: 503, Msg: "unavailable"}})
	_, err := gw.GetPayment(context.Background(), "cs_1")
	require.True(t, domain.IsRetryable(err))

	gw = newTestGateway(&fakeSessions{err: errors.New("dial tcp: connection refused")})
	_, err = gw.CreateCheckout(context.Background(), domain.CheckoutRequest{ExternalReference: "order-1"})
	require.True(t, domain.IsRetryable(err))

	gw = newTestGateway(&fakeSessions{err: &stripeapi.Error{HTTPStatusCode: 400, Msg: "bad"}})
	_, err = gw.CreateCheckout(context.Background(), domain.CheckoutRequest{ExternalReference: "order-1"})
	require.ErrorIs(t, err, domain.ErrGatewayRejected)
}

// newBackendGateway направляет настоящий клиент Stripe на тестовый сервер.
func newBackendGateway(t *testing.T, handler http.HandlerFunc) *Gateway {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	backends := stripeapi.NewBackendsWithConfig(&stripeapi.BackendConfig{
		URL:               stripeapi.String(srv.URL),
		HTTPClient:        srv.Client(),
		MaxNetworkRetries: stripeapi.Int64(0),
		LeveledLogger:     &stripeapi.LeveledLogger{Level: stripeapi.LevelNull},
	})
	gw, err := NewGateway("sk_test_123", testSecret, stripeapi.WithBackends(backends))
	require.NoError(t, err)
	return gw
}

func TestGatewayRetrievesSessionThroughClient(t *testing.T) {
	gw := newBackendGateway(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/v1/checkout/sessions/cs_paid" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"cs_paid","object":"checkout.session","client_reference_id":"order-1","payment_status":"paid","status":"complete"}`))
	})

	info, err := gw.GetPayment(context.Background(), "cs_paid")
	require.NoError(t, err)
	require.True(t, info.Approved())
	require.Equal(t, "order-1", info.ExternalReference)
}

func TestGatewayHonoursCancelledContext(t *testing.T) {
	var hits atomic.Int32
	gw := newBackendGateway(t, func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := gw.CreateCheckout(ctx, domain.CheckoutRequest{ExternalReference: "order-1", Currency: "EUR"})
	require.ErrorIs(t, err, context.Canceled)
	require.True(t, domain.IsRetryable(err))

	_, err = gw.GetPayment(ctx, "cs_1")
	require.ErrorIs(t, err, context.Canceled)
	require.Zero(t, hits.Load())
}

func TestGatewayStopsWaitingAtDeadline(t *testing.T) {
	release := make(chan struct{})
	gw := newBackendGateway(t, func(_ http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	})
	t.Cleanup(func() { close(release) })

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	started := time.Now()
	_, err := gw.GetPayment(ctx, "cs_slow")
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Less(t, time.Since(started), 5*time.Second)
}

func signedHeader(t *testing.T, payload []byte) map[string][]string {
	t.Helper()
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    testSecret,
		Timestamp: time.Now(),
	})
	return map[string][]string{signatureHeader: {signed.Header}}
}

func TestGatewayDecodeNotification(t *testing.T) {
	gw := newTestGateway(&fakeSessions{})

	payload := []byte(`{"id":"evt_1","object":"event","type":"checkout.session.completed","data":{"object":{"id":"cs_test_1","object":"checkout.session"}}}`)
	n, err := gw.DecodeNotification(signedHeader(t, payload), nil, payload)
	require.NoError(t, err)
	require.True(t, n.IsPayment())
	require.Equal(t, "cs_test_1", n.ResourceID)
	require.Equal(t, "evt_1", n.EventID)
	require.Equal(t, "stripe:payment:cs_test_1", n.DeliveryKey())

	other := []byte(`{"id":"evt_2","object":"event","type":"customer.created","data":{"object":{"id":"cus_1"}}}`)
	n, err = gw.DecodeNotification(signedHeader(t, other), nil, other)
	require.NoError(t, err)
	require.False(t, n.IsPayment())

	_, err = gw.DecodeNotification(map[string][]string{signatureHeader: {"t=1,v1=deadbeef"}}, nil, payload)
	require.ErrorIs(t, err, domain.ErrInvalidNotification)
}
