package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

type orderStore struct {
	mu     sync.RWMutex
	orders map[string]domain.Order
}

// NewOrderRepository хранит заказы в памяти процесса. Наружу отдаются только копии.
func NewOrderRepository() domain.OrderRepository {
	return &orderStore{orders: make(map[string]domain.Order)}
}

func (s *orderStore) Create(_ context.Context, order domain.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.orders[order.ID]; taken {
		return domain.ErrOrderAlreadyExists
	}
	order.Items = slices.Clone(order.Items)
	s.orders[order.ID] = order
	return nil
}

func (s *orderStore) Get(_ context.Context, id string) (domain.Order, error) {
	s.mu.RLock()
	order, ok := s.orders[id]
	s.mu.RUnlock()

	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	order.Items = slices.Clone(order.Items)
	return order, nil
}

// MarkPaid: pending -> paid под записывающей блокировкой. false без ошибки значит, что заказ уже не pending.
func (s *orderStore) MarkPaid(_ context.Context, id, paymentReference string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[id]
	switch {
	case !ok:
		return false, domain.ErrOrderNotFound
	case order.Status != domain.OrderStatusPending:
		return false, nil
	}

	order.Status = domain.OrderStatusPaid
	order.UpdatedAt = at.UTC()
	if paymentReference != "" {
		order.PaymentReference = paymentReference
	}
	s.orders[id] = order
	return true, nil
}

var _ domain.OrderRepository = (*orderStore)(nil)
