package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
	"github.com/vladislavdragonenkov/checkout/internal/storage/memory"
)

func TestTimelineRepository_AppendKeepsChronology(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewTimelineRepository()
	base := time.Now().UTC()

	events := []domain.TimelineEvent{
		{OrderID: "o-1", Type: domain.TimelineOrderPaid, Occurred: base.Add(2 * time.Second)},
		{OrderID: "o-1", Type: domain.TimelineOrderCreated, Occurred: base},
		{OrderID: "o-2", Type: domain.TimelineOrderCreated, Occurred: base},
	}
	for _, event := range events {
		if err := repo.Append(ctx, event); err != nil {
			t.Fatalf("append failed: %v", err)
		}
	}

	list, err := repo.List(ctx, "o-1")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 events, got %d", len(list))
	}
	if list[0].Type != domain.TimelineOrderCreated || list[1].Type != domain.TimelineOrderPaid {
		t.Fatalf("unexpected order: %+v", list)
	}
}
