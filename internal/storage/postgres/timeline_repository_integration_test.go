package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

func eventTypes(events []domain.TimelineEvent) []string {
	types := make([]string, len(events))
	for i, ev := range events {
		types[i] = ev.Type
	}
	return types
}

func TestTimelineRepository_PostgresHistoryOfOrder(t *testing.T) {
	store := newMigratedStore(t)
	timeline := NewTimelineRepository(store)
	ctx := context.Background()

	createdAt := time.Now().UTC().Add(-time.Minute).Round(time.Microsecond)
	order := sampleOrder("timeline-order", createdAt)
	require.NoError(t, NewOrderRepository(store).Create(ctx, order))

	// событие с явным временем раньше события без времени
	require.NoError(t, timeline.Append(ctx, domain.TimelineEvent{
		OrderID: order.ID,
		Type:    domain.TimelineOrderPaid,
		Reason:  "webhook",
	}))
	require.NoError(t, timeline.Append(ctx, domain.TimelineEvent{
		OrderID:  order.ID,
		Type:     domain.TimelineOrderCreated,
		Reason:   "checkout",
		Occurred: createdAt,
	}))
	require.NoError(t, timeline.Append(ctx, domain.TimelineEvent{
		OrderID:  "other-order",
		Type:     domain.TimelineOrderCreated,
		Occurred: createdAt,
	}))

	events, err := timeline.List(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, []string{domain.TimelineOrderCreated, domain.TimelineOrderPaid}, eventTypes(events))
	require.Equal(t, "checkout", events[0].Reason)
	require.True(t, events[0].Occurred.Equal(createdAt))
	require.Equal(t, time.UTC, events[1].Occurred.Location())
}

func TestTimelineRepository_PostgresUnknownOrderIsEmpty(t *testing.T) {
	events, err := NewTimelineRepository(newMigratedStore(t)).List(context.Background(), "missing-order")
	require.NoError(t, err)
	require.NotNil(t, events)
	require.Empty(t, events)
}

func TestTimelineRepository_PostgresSameInstantKeepsInsertOrder(t *testing.T) {
	timeline := NewTimelineRepository(newMigratedStore(t))
	ctx := context.Background()

	at := time.Now().UTC().Round(time.Microsecond)
	written := []string{domain.TimelineOrderPaid, domain.TimelineStockDecremented, domain.TimelineLineItemUnresolved}
	for _, eventType := range written {
		require.NoError(t, timeline.Append(ctx, domain.TimelineEvent{OrderID: "order-same", Type: eventType, Occurred: at}))
	}

	events, err := timeline.List(ctx, "order-same")
	require.NoError(t, err)
	require.Equal(t, written, eventTypes(events))
}
