package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

const defaultOutboxPullLimit = 100

type outboxState uint8

const (
	outboxPending outboxState = iota
	outboxSent
	outboxFailed
)

type outboxRecord struct {
	msg        domain.OutboxMessage
	state      outboxState
	enqueuedAt time.Time
}

// OutboxRepository: transactional outbox в памяти. Порядок выдачи совпадает с порядком Enqueue,
// поэтому события одного заказа не переставляются даже при одинаковых отметках времени.
type OutboxRepository struct {
	mu    sync.RWMutex
	queue []*outboxRecord
	byID  map[string]*outboxRecord
	now   func() time.Time
}

func NewOutboxRepository() *OutboxRepository {
	return &OutboxRepository{
		byID: make(map[string]*outboxRecord),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

func (r *OutboxRepository) Enqueue(_ context.Context, msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if _, dup := r.byID[msg.ID]; dup {
		return domain.OutboxMessage{}, fmt.Errorf("outbox message %s already enqueued", msg.ID)
	}
	rec := &outboxRecord{msg: msg, enqueuedAt: r.now()}
	r.queue = append(r.queue, rec)
	r.byID[msg.ID] = rec
	return msg, nil
}

// PullPending не меняет состояние записей: повторный вызов без MarkSent/MarkFailed вернёт их снова.
func (r *OutboxRepository) PullPending(_ context.Context, limit int) ([]domain.OutboxMessage, error) {
	if limit <= 0 {
		limit = defaultOutboxPullLimit
	}
	return r.pending(limit), nil
}

func (r *OutboxRepository) Stats(_ context.Context) (domain.OutboxStats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var stats domain.OutboxStats
	for _, rec := range r.queue {
		if rec.state != outboxPending {
			continue
		}
		if stats.PendingCount == 0 {
			stats.OldestPendingAt = rec.enqueuedAt
		}
		stats.PendingCount++
	}
	return stats, nil
}

func (r *OutboxRepository) MarkSent(_ context.Context, id string) error {
	return r.settle(id, outboxSent)
}

func (r *OutboxRepository) MarkFailed(_ context.Context, id string) error {
	return r.settle(id, outboxFailed)
}

// AllPending отдаёт весь backlog, используется в тестах.
func (r *OutboxRepository) AllPending() []domain.OutboxMessage {
	return r.pending(0)
}

func (r *OutboxRepository) settle(id string, state outboxState) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.byID[id]
	if !ok {
		return fmt.Errorf("%w: outbox message %s not found", domain.ErrOutboxPublish, id)
	}
	rec.state = state
	return nil
}

// pending копирует до limit ожидающих сообщений; limit <= 0 без ограничения.
func (r *OutboxRepository) pending(limit int) []domain.OutboxMessage {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.OutboxMessage, 0)
	for _, rec := range r.queue {
		if rec.state != outboxPending {
			continue
		}
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, rec.msg)
	}
	return out
}

var _ domain.OutboxRepository = (*OutboxRepository)(nil)
