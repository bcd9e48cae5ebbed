package postgres

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

func TestOrderRepository_PostgresCreateAndGet(t *testing.T) {
	store := newMigratedStore(t)
	repo := NewOrderRepository(store)
	ctx := context.Background()

	now := time.Now().UTC().Round(time.Microsecond)
	order := sampleOrder("order-1", now)
	require.NoError(t, repo.Create(ctx, order))

	got, err := repo.Get(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, order.ID, got.ID)
	require.Equal(t, domain.OrderStatusPending, got.Status)
	require.Equal(t, order.Buyer, got.Buyer)
	require.True(t, order.TotalAmount.Equal(got.TotalAmount), "total: %s", got.TotalAmount)
	require.True(t, order.ShippingCost.Equal(got.ShippingCost))
	require.True(t, got.CreatedAt.Equal(now))

	require.Len(t, got.Items, 2)
	require.Equal(t, "V1", got.Items[0].VariantID)
	require.Equal(t, "", got.Items[1].VariantID)
	require.Equal(t, "10x10x5 cm", got.Items[1].SizeLabel)
	require.True(t, decimal.RequireFromString("12.50").Equal(got.Items[0].UnitPrice))
}

func TestOrderRepository_PostgresKeepsAmountPrecision(t *testing.T) {
	repo := NewOrderRepository(newMigratedStore(t))
	ctx := context.Background()

	order := sampleOrder("order-precision", time.Now().UTC())
	order.TotalAmount = decimal.RequireFromString("1234.5678")
	order.ShippingCost = decimal.RequireFromString("0.125")
	order.Items[0].UnitPrice = decimal.RequireFromString("19.9999")
	require.NoError(t, repo.Create(ctx, order))

	got, err := repo.Get(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, "1234.5678", got.TotalAmount.String())
	require.Equal(t, "0.125", got.ShippingCost.String())
	require.Equal(t, "19.9999", got.Items[0].UnitPrice.String())
}

func TestOrderRepository_PostgresErrors(t *testing.T) {
	store := newMigratedStore(t)
	repo := NewOrderRepository(store)
	ctx := context.Background()

	order := sampleOrder("order-errors", time.Now().UTC())

	_, err := repo.Get(ctx, "missing-order")
	require.ErrorIs(t, err, domain.ErrOrderNotFound)

	_, err = repo.MarkPaid(ctx, "missing-order", "pay-1", time.Now())
	require.ErrorIs(t, err, domain.ErrOrderNotFound)

	require.NoError(t, repo.Create(ctx, order))
	require.ErrorIs(t, repo.Create(ctx, order), domain.ErrOrderAlreadyExists)
}

func TestOrderRepository_PostgresMarkPaidOnce(t *testing.T) {
	store := newMigratedStore(t)
	repo := NewOrderRepository(store)
	ctx := context.Background()

	order := sampleOrder("order-paid", time.Now().UTC())
	require.NoError(t, repo.Create(ctx, order))

	paidAt := time.Now().UTC().Round(time.Microsecond)
	won, err := repo.MarkPaid(ctx, order.ID, "pay-123", paidAt)
	require.NoError(t, err)
	require.True(t, won)

	won, err = repo.MarkPaid(ctx, order.ID, "pay-456", paidAt.Add(time.Minute))
	require.NoError(t, err)
	require.False(t, won)

	got, err := repo.Get(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusPaid, got.Status)
	require.Equal(t, "pay-123", got.PaymentReference)
	require.True(t, got.UpdatedAt.Equal(paidAt))
}

func TestOrderRepository_PostgresMarkPaidKeepsReferenceWhenEmpty(t *testing.T) {
	store := newMigratedStore(t)
	repo := NewOrderRepository(store)
	ctx := context.Background()

	order := sampleOrder("order-callback", time.Now().UTC())
	order.PaymentReference = "pref-1"
	require.NoError(t, repo.Create(ctx, order))

	won, err := repo.MarkPaid(ctx, order.ID, "", time.Now())
	require.NoError(t, err)
	require.True(t, won)

	got, err := repo.Get(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, "pref-1", got.PaymentReference)
}

func TestOrderRepository_PostgresConcurrentMarkPaid(t *testing.T) {
	store := newMigratedStore(t)
	repo := NewOrderRepository(store)
	ctx := context.Background()

	order := sampleOrder("order-race", time.Now().UTC())
	require.NoError(t, repo.Create(ctx, order))

	const callers = 16
	var (
		wg      sync.WaitGroup
		winners atomic.Int32
		errs    atomic.Int32
	)
	wg.Add(callers)
	for i := 0; i < callers; i++ {
		go func() {
			defer wg.Done()
			won, err := repo.MarkPaid(ctx, order.ID, "pay-race", time.Now())
			if err != nil {
				errs.Add(1)
				return
			}
			if won {
				winners.Add(1)
			}
		}()
	}
	wg.Wait()

	require.Zero(t, errs.Load())
	require.EqualValues(t, 1, winners.Load())
}

func TestIsUniqueViolation(t *testing.T) {
	if !isUniqueViolation(&pgconn.PgError{Code: "23505"}) {
		t.Fatal("expected unique violation for code 23505")
	}
	if isUniqueViolation(&pgconn.PgError{Code: "22001"}) {
		t.Fatal("unexpected unique violation for non-unique code")
	}
	if isUniqueViolation(errors.New("plain error")) {
		t.Fatal("plain error must not be unique violation")
	}
}

func sampleOrder(id string, createdAt time.Time) domain.Order {
	createdAt = createdAt.Round(time.Microsecond)
	return domain.Order{
		ID: id,
		Buyer: domain.BuyerInfo{
			Name:    "Ana",
			Surname: "Souza",
			Email:   "ana@example.com",
			Address: domain.ShippingAddress{City: "Curitiba", PostalCode: "80000-000"},
		},
		Items: []domain.LineItem{
			{ProductID: "P1", VariantID: "V1", SizeLabel: "Small (5cm)", Quantity: 2, UnitPrice: decimal.RequireFromString("12.50"), Name: "Box"},
			{ProductID: "P1", SizeLabel: "10x10x5 cm", Quantity: 1, UnitPrice: decimal.RequireFromString("20.00"), Name: "Box"},
		},
		ShippingCost: decimal.RequireFromString("5.00"),
		TotalAmount:  decimal.RequireFromString("50.00"),
		Currency:     "BRL",
		Status:       domain.OrderStatusPending,
		CreatedAt:    createdAt,
		UpdatedAt:    createdAt,
	}
}
