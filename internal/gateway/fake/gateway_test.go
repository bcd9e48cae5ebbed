package fake

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

func TestGateway_CreateCheckout(t *testing.T) {
	gw := NewGateway("http://localhost:8080")

	session, err := gw.CreateCheckout(context.Background(), domain.CheckoutRequest{ExternalReference: "order-1"})
	require.NoError(t, err)
	require.NotEmpty(t, session.ID)
	require.Contains(t, session.InitPoint, "ref=order-1")
	require.Equal(t, 1, gw.CreateCalls)
	require.Len(t, gw.Requests(), 1)

	gw.CreateErr = domain.ErrGatewayUnavailable
	_, err = gw.CreateCheckout(context.Background(), domain.CheckoutRequest{ExternalReference: "order-2"})
	require.ErrorIs(t, err, domain.ErrGatewayUnavailable)
	require.Len(t, gw.Requests(), 1)
}

func TestGateway_GetPayment(t *testing.T) {
	gw := NewGateway("")

	_, err := gw.GetPayment(context.Background(), "p-1")
	require.ErrorIs(t, err, domain.ErrGatewayRejected)

	gw.SetPayment(domain.PaymentInfo{ID: "p-1", Status: domain.PaymentStatusApproved, ExternalReference: "order-1"})
	info, err := gw.GetPayment(context.Background(), "p-1")
	require.NoError(t, err)
	require.True(t, info.Approved())
	require.Equal(t, "order-1", info.ExternalReference)

	gw.GetErr = errors.New("boom")
	_, err = gw.GetPayment(context.Background(), "p-1")
	require.Error(t, err)
	require.Equal(t, 3, gw.GetCalls)
}

func TestGateway_DecodeNotification(t *testing.T) {
	gw := NewGateway("")

	n, err := gw.DecodeNotification(nil, nil, []byte(`{"type":"payment","action":"payment.updated","data":{"id":"42"}}`))
	require.NoError(t, err)
	require.True(t, n.IsPayment())
	require.Equal(t, "42", n.ResourceID)
	require.Equal(t, "fake:payment:42", n.DeliveryKey())

	_, err = gw.DecodeNotification(nil, nil, []byte(`not json`))
	require.ErrorIs(t, err, domain.ErrInvalidNotification)
}
