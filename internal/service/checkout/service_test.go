package checkout_test

import (
	"context"
	"errors"
	"net/url"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
	"github.com/vladislavdragonenkov/checkout/internal/gateway/fake"
	"github.com/vladislavdragonenkov/checkout/internal/service/checkout"
	"github.com/vladislavdragonenkov/checkout/internal/storage/memory"
)

func validRequest() checkout.Request {
	return checkout.Request{
		Buyer: domain.BuyerInfo{Name: "Ana", Email: "ana@example.com"},
		Items: []domain.LineItem{
			{ProductID: "P1", VariantID: "V1", Quantity: 2, UnitPrice: decimal.NewFromInt(1000), Name: "Caja"},
			{ProductID: "P1", SizeLabel: "10x10x5 cm", Quantity: 1, UnitPrice: decimal.NewFromInt(500)},
		},
		ShippingCost: decimal.NewFromInt(300),
		Total:        decimal.NewFromInt(2800),
		Currency:     "ars",
	}
}

func newService(gw *fake.Gateway, outbox *memory.OutboxRepository) (*checkout.Service, domain.OrderRepository, domain.TimelineRepository) {
	orders := memory.NewOrderRepository()
	timeline := memory.NewTimelineRepository()
	svc := checkout.NewService(
		checkout.Config{PublicBaseURL: "https://shop.example.com/", NotificationURL: "https://api.example.com/webhooks/payments"},
		orders,
		gw,
		checkout.WithOutbox(outbox),
		checkout.WithTimeline(timeline),
		checkout.WithIDGenerator(func() string { return "order-1" }),
	)
	return svc, orders, timeline
}

func TestService_StartCreatesPendingOrder(t *testing.T) {
	gw := fake.NewGateway("https://pay.example.com")
	outbox := memory.NewOutboxRepository()
	svc, orders, timeline := newService(gw, outbox)
	ctx := context.Background()

	session, err := svc.Start(ctx, validRequest())
	require.NoError(t, err)
	require.Equal(t, "order-1", session.OrderID)
	require.NotEmpty(t, session.InitPoint)

	order, err := orders.Get(ctx, "order-1")
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusPending, order.Status)
	require.Equal(t, "ARS", order.Currency)
	require.Len(t, order.Items, 2)

	requests := gw.Requests()
	require.Len(t, requests, 1)
	req := requests[0]
	require.Equal(t, "order-1", req.ExternalReference)
	require.Equal(t, "https://api.example.com/webhooks/payments", req.NotificationURL)
	require.Equal(t, "Caja", req.Items[0].Title)
	require.Equal(t, "P1 (10x10x5 cm)", req.Items[1].Title)

	for _, raw := range []string{req.Redirects.Success, req.Redirects.Failure, req.Redirects.Pending} {
		u, err := url.Parse(raw)
		require.NoError(t, err)
		require.Equal(t, "shop.example.com", u.Host)
		require.Equal(t, "order-1", u.Query().Get("orderId"))
	}
	require.Equal(t, "https://shop.example.com/checkout/success?orderId=order-1", req.Redirects.Success)

	msgs, err := outbox.PullPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, domain.EventOrderCreated, msgs[0].EventType)

	events, err := timeline.List(ctx, "order-1")
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, domain.TimelineOrderCreated, events[0].Type)
	require.Equal(t, domain.TimelineCheckoutSessionOpened, events[1].Type)
}

func TestService_GatewayFailureLeavesOrphanOrder(t *testing.T) {
	gw := fake.NewGateway("")
	gw.CreateErr = domain.ErrGatewayUnavailable
	svc, orders, timeline := newService(gw, memory.NewOutboxRepository())
	ctx := context.Background()

	session, err := svc.Start(ctx, validRequest())
	require.Error(t, err)
	require.True(t, domain.IsRetryable(err))

	var upstream *domain.UpstreamGatewayError
	require.True(t, errors.As(err, &upstream))
	require.Equal(t, "order-1", upstream.OrderID)
	require.Equal(t, "order-1", session.OrderID)
	require.Empty(t, session.InitPoint)

	order, err := orders.Get(ctx, "order-1")
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusPending, order.Status)

	events, err := timeline.List(ctx, "order-1")
	require.NoError(t, err)
	require.Equal(t, domain.TimelineCheckoutSessionFailed, events[len(events)-1].Type)
}

func TestService_StartRejectsInvalidCart(t *testing.T) {
	gw := fake.NewGateway("")
	svc, orders, _ := newService(gw, memory.NewOutboxRepository())

	req := validRequest()
	req.Items[1].SizeLabel = ""
	req.Items[0].Quantity = 0

	_, err := svc.Start(context.Background(), req)
	require.Error(t, err)
	require.True(t, domain.IsValidation(err))
	require.ErrorIs(t, err, domain.ErrItemQtyInvalid)
	require.ErrorIs(t, err, domain.ErrVariantSelectorRequired)
	require.Zero(t, gw.CreateCalls)

	_, err = orders.Get(context.Background(), "order-1")
	require.ErrorIs(t, err, domain.ErrOrderNotFound)
}

func TestService_StartRejectsBlankSizeLabel(t *testing.T) {
	gw := fake.NewGateway("")
	svc, orders, _ := newService(gw, memory.NewOutboxRepository())

	req := validRequest()
	req.Items[1].SizeLabel = "   "

	_, err := svc.Start(context.Background(), req)
	require.ErrorIs(t, err, domain.ErrVariantSelectorRequired)
	require.Zero(t, gw.CreateCalls)

	_, err = orders.Get(context.Background(), "order-1")
	require.ErrorIs(t, err, domain.ErrOrderNotFound)
}

func TestService_StartFallsBackToDefaultCurrency(t *testing.T) {
	gw := fake.NewGateway("")
	orders := memory.NewOrderRepository()
	svc := checkout.NewService(
		checkout.Config{PublicBaseURL: "https://shop.example.com", DefaultCurrency: " ars "},
		orders,
		gw,
		checkout.WithIDGenerator(func() string { return "order-1" }),
	)
	ctx := context.Background()

	req := validRequest()
	req.Currency = ""
	_, err := svc.Start(ctx, req)
	require.NoError(t, err)

	order, err := orders.Get(ctx, "order-1")
	require.NoError(t, err)
	require.Equal(t, "ARS", order.Currency)
	requests := gw.Requests()
	require.Len(t, requests, 1)
	require.Equal(t, "ARS", requests[0].Currency)
}

func TestService_StartWithoutAnyCurrency(t *testing.T) {
	gw := fake.NewGateway("")
	svc, _, _ := newService(gw, memory.NewOutboxRepository())

	req := validRequest()
	req.Currency = " "
	_, err := svc.Start(context.Background(), req)
	require.ErrorIs(t, err, domain.ErrCurrencyRequired)
	require.Zero(t, gw.CreateCalls)
}

func TestService_OrderView(t *testing.T) {
	gw := fake.NewGateway("")
	svc, _, _ := newService(gw, memory.NewOutboxRepository())
	ctx := context.Background()

	_, err := svc.Start(ctx, validRequest())
	require.NoError(t, err)

	view, err := svc.Order(ctx, "order-1")
	require.NoError(t, err)
	require.Equal(t, "order-1", view.Order.ID)
	require.Len(t, view.Timeline, 2)

	_, err = svc.Order(ctx, "missing")
	require.ErrorIs(t, err, domain.ErrOrderNotFound)
}
