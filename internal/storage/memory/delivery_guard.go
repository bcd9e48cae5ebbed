package memory

import (
	"context"
	"sync"
	"time"
)

// DeliveryGuard: in-memory пометки обработанных вебхуков с TTL.
type DeliveryGuard struct {
	mu   sync.Mutex
	ttl  time.Duration
	now  func() time.Time
	keys map[string]time.Time
}

// NewDeliveryGuard создаёт guard; ttl <= 0 означает бессрочные пометки.
func NewDeliveryGuard(ttl time.Duration) *DeliveryGuard {
	return &DeliveryGuard{
		ttl:  ttl,
		now:  time.Now,
		keys: make(map[string]time.Time),
	}
}

// Processed сообщает, есть ли непросроченная пометка ключа.
func (g *DeliveryGuard) Processed(_ context.Context, key string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	expiresAt, ok := g.keys[key]
	return ok && (expiresAt.IsZero() || g.now().Before(expiresAt)), nil
}

// MarkProcessed помечает ключ; повторная пометка продлевает срок.
func (g *DeliveryGuard) MarkProcessed(_ context.Context, key string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	var expiresAt time.Time
	if g.ttl > 0 {
		expiresAt = g.now().Add(g.ttl)
	}
	g.keys[key] = expiresAt
	return nil
}

// DeleteExpired удаляет просроченные пометки; limit<=0 снимает ограничение.
// Бессрочные пометки не удаляются.
func (g *DeliveryGuard) DeleteExpired(_ context.Context, before time.Time, limit int) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	removed := 0
	for key, expiresAt := range g.keys {
		if limit > 0 && removed >= limit {
			break
		}
		if expiresAt.IsZero() || expiresAt.After(before) {
			continue
		}
		delete(g.keys, key)
		removed++
	}
	return removed, nil
}
