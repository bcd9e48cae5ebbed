package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

func orderEvent(orderID, eventType string) domain.OutboxMessage {
	return domain.OutboxMessage{
		AggregateType: domain.AggregateOrder,
		AggregateID:   orderID,
		EventType:     eventType,
		Payload:       []byte(`{"orderId":"` + orderID + `"}`),
	}
}

func TestOutboxRepository_PostgresFlow(t *testing.T) {
	repo := NewOutboxRepository(newMigratedStore(t))
	ctx := context.Background()

	created, err := repo.Enqueue(ctx, orderEvent("order-1", domain.EventOrderCreated))
	require.NoError(t, err)
	require.NotEmpty(t, created.ID, "id is generated when empty")

	fixed := orderEvent("order-1", domain.EventOrderPaid)
	fixed.ID = "outbox-fixed-id"
	paid, err := repo.Enqueue(ctx, fixed)
	require.NoError(t, err)
	require.Equal(t, "outbox-fixed-id", paid.ID)

	pending, err := repo.PullPending(ctx, 0)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	require.Equal(t, domain.EventOrderCreated, pending[0].EventType, "events of one order keep write order")
	require.JSONEq(t, `{"orderId":"order-1"}`, string(pending[1].Payload))

	stats, err := repo.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, stats.PendingCount)
	require.False(t, stats.OldestPendingAt.IsZero())

	require.NoError(t, repo.MarkSent(ctx, created.ID))
	require.NoError(t, repo.MarkFailed(ctx, paid.ID))

	pending, err = repo.PullPending(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, pending)

	stats, err = repo.Stats(ctx)
	require.NoError(t, err)
	require.Zero(t, stats.PendingCount)
	require.True(t, stats.OldestPendingAt.IsZero())
}

func TestOutboxRepository_PostgresUnknownID(t *testing.T) {
	repo := NewOutboxRepository(newMigratedStore(t))
	ctx := context.Background()

	require.ErrorIs(t, repo.MarkSent(ctx, "missing-outbox"), domain.ErrOutboxPublish)
	require.ErrorIs(t, repo.MarkFailed(ctx, "missing-outbox"), domain.ErrOutboxPublish)
}

func TestOutboxRepository_PostgresOldestPendingMovesForward(t *testing.T) {
	repo := NewOutboxRepository(newMigratedStore(t))
	ctx := context.Background()

	first, err := repo.Enqueue(ctx, orderEvent("order-old", domain.EventOrderCreated))
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	_, err = repo.Enqueue(ctx, orderEvent("order-new", domain.EventOrderCreated))
	require.NoError(t, err)

	before, err := repo.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, before.PendingCount)

	require.NoError(t, repo.MarkSent(ctx, first.ID))

	after, err := repo.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, after.PendingCount)
	require.True(t, after.OldestPendingAt.After(before.OldestPendingAt))
}
