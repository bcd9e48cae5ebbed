package memory

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

type timelineRepositoryInMemory struct {
	mu      sync.RWMutex
	byOrder map[string][]domain.TimelineEvent
}

// NewTimelineRepository создаёт журнал событий заказов в памяти.
func NewTimelineRepository() domain.TimelineRepository {
	return &timelineRepositoryInMemory{byOrder: make(map[string][]domain.TimelineEvent)}
}

// Append вставляет событие после всех событий с тем же или более ранним временем.
func (r *timelineRepositoryInMemory) Append(_ context.Context, event domain.TimelineEvent) error {
	if event.Occurred.IsZero() {
		event.Occurred = time.Now().UTC()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	history := r.byOrder[event.OrderID]
	at := sort.Search(len(history), func(i int) bool {
		return history[i].Occurred.After(event.Occurred)
	})
	r.byOrder[event.OrderID] = slices.Insert(history, at, event)
	return nil
}

func (r *timelineRepositoryInMemory) List(_ context.Context, orderID string) ([]domain.TimelineEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]domain.TimelineEvent{}, r.byOrder[orderID]...), nil
}

var _ domain.TimelineRepository = (*timelineRepositoryInMemory)(nil)
