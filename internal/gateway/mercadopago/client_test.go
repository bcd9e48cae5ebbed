package mercadopago

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"

	"github.com/mercadopago/sdk-go/pkg/preference"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

// redirectTransport отправляет запросы SDK на тестовый сервер вместо api.mercadopago.com.
type redirectTransport struct {
	target *url.URL
}

func (rt redirectTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())
	clone.URL.Scheme = rt.target.Scheme
	clone.URL.Host = rt.target.Host
	clone.Host = ""
	return http.DefaultTransport.RoundTrip(clone)
}

func redirectedHTTPClient(t *testing.T, serverURL string) *http.Client {
	t.Helper()
	target, err := url.Parse(serverURL)
	require.NoError(t, err)
	return &http.Client{Transport: redirectTransport{target: target}}
}

func newTestClient(t *testing.T, handler http.HandlerFunc, opts ...Option) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient("TEST-token", append([]Option{WithHTTPClient(redirectedHTTPClient(t, server.URL))}, opts...)...)
	require.NoError(t, err)
	return client
}

func TestNewClientRequiresToken(t *testing.T) {
	_, err := NewClient("  ")
	require.ErrorIs(t, err, errAccessTokenRequired)
}

func TestClientCreateCheckout(t *testing.T) {
	var (
		captured     preference.Request
		capturedReq  *http.Request
		capturedBody []byte
	)
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		capturedReq = r.Clone(r.Context())
		capturedBody, _ = io.ReadAll(r.Body)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"pref-1","init_point":"https://mp.example/init","sandbox_init_point":"https://sandbox.mp.example/init"}`))
	})

	session, err := client.CreateCheckout(context.Background(), domain.CheckoutRequest{
		ExternalReference: "order-1",
		Items: []domain.GatewayItem{
			{ID: "V1", Title: "Caja", Quantity: 2, UnitPrice: decimal.RequireFromString("1500.50"), Currency: "ARS"},
		},
		ShippingCost: decimal.NewFromInt(300),
		Payer:        domain.BuyerInfo{Name: "Ana", Email: "ana@example.com", Document: "30111222"},
		Redirects: domain.RedirectURLs{
			Success: "https://shop/checkout/success?orderId=order-1",
			Failure: "https://shop/checkout/failure?orderId=order-1",
			Pending: "https://shop/checkout/pending?orderId=order-1",
		},
		NotificationURL: "https://api/webhooks/payments",
	})
	require.NoError(t, err)
	require.Equal(t, http.MethodPost, capturedReq.Method)
	require.Equal(t, "/checkout/preferences", capturedReq.URL.Path)
	require.Equal(t, "Bearer TEST-token", capturedReq.Header.Get("Authorization"))
	require.Equal(t, "order-1", capturedReq.Header.Get(idempotencyHeader))
	require.NoError(t, json.Unmarshal(capturedBody, &captured))

	require.Equal(t, "pref-1", session.ID)
	require.Equal(t, "https://mp.example/init", session.InitPoint)

	require.Equal(t, "order-1", captured.ExternalReference)
	require.Equal(t, autoReturnApproved, captured.AutoReturn)
	require.Equal(t, "https://shop/checkout/pending?orderId=order-1", captured.BackURLs.Pending)
	require.Len(t, captured.Items, 1)
	require.InDelta(t, 1500.50, captured.Items[0].UnitPrice, 0.001)
	require.NotNil(t, captured.BackURLs)
	require.NotNil(t, captured.Shipments)
	require.InDelta(t, 300, captured.Shipments.Cost, 0.001)
	require.NotNil(t, captured.Payer)
	require.NotNil(t, captured.Payer.Identification)
	require.Equal(t, "30111222", captured.Payer.Identification.Number)
}

func TestClientCreateCheckoutSandbox(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"id":"pref-1","init_point":"https://mp.example/init","sandbox_init_point":"https://sandbox.mp.example/init"}`))
	}, WithSandbox(true))

	session, err := client.CreateCheckout(context.Background(), domain.CheckoutRequest{ExternalReference: "order-1"})
	require.NoError(t, err)
	require.Equal(t, "https://sandbox.mp.example/init", session.InitPoint)
}

func TestClientErrorClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   error
	}{
		{name: "server error", status: http.StatusBadGateway, want: domain.ErrGatewayUnavailable},
		{name: "rate limited", status: http.StatusTooManyRequests, want: domain.ErrGatewayUnavailable},
		{name: "bad request", status: http.StatusBadRequest, want: domain.ErrGatewayRejected},
		{name: "not found", status: http.StatusNotFound, want: domain.ErrGatewayRejected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
				http.Error(w, `{"message":"nope"}`, tt.status)
			})

			_, err := client.GetPayment(context.Background(), "123")
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestClientNetworkFailureIsRetryable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	baseURL := server.URL
	server.Close()

	client, err := NewClient("TEST-token", WithHTTPClient(redirectedHTTPClient(t, baseURL)))
	require.NoError(t, err)

	_, err = client.GetPayment(context.Background(), "123")
	require.True(t, domain.IsRetryable(err))
}

func TestClientHonoursCancelledContext(t *testing.T) {
	var hits atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.CreateCheckout(ctx, domain.CheckoutRequest{ExternalReference: "order-1"})
	require.True(t, domain.IsRetryable(err))

	_, err = client.GetPayment(ctx, "123")
	require.True(t, domain.IsRetryable(err))
	require.Zero(t, hits.Load())
}

func TestClientGetPayment(t *testing.T) {
	var path string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		_, _ = w.Write([]byte(`{"id":987654,"status":"approved","external_reference":"order-1"}`))
	})

	info, err := client.GetPayment(context.Background(), "987654")
	require.NoError(t, err)
	require.Equal(t, "/v1/payments/987654", path)
	require.Equal(t, "987654", info.ID)
	require.True(t, info.Approved())
	require.Equal(t, "order-1", info.ExternalReference)

	_, err = client.GetPayment(context.Background(), " ")
	require.ErrorIs(t, err, domain.ErrPaymentIDRequired)
}

func TestClientRejectsNonNumericPaymentID(t *testing.T) {
	var hits atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	})

	_, err := client.GetPayment(context.Background(), "pay-abc")
	require.ErrorIs(t, err, domain.ErrGatewayRejected)
	require.Zero(t, hits.Load())
}
