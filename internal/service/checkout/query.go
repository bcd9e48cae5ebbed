package checkout

import (
	"context"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

// OrderView: заказ вместе с историей для чтения через API.
type OrderView struct {
	Order    domain.Order
	Timeline []domain.TimelineEvent
}

// Order возвращает заказ и, если история включена, его события.
func (s *Service) Order(ctx context.Context, id string) (OrderView, error) {
	if id == "" {
		return OrderView{}, domain.ErrOrderIDRequired
	}
	order, err := s.orders.Get(ctx, id)
	if err != nil {
		return OrderView{}, err
	}

	view := OrderView{Order: order}
	if s.timeline != nil {
		events, err := s.timeline.List(ctx, id)
		if err != nil {
			s.logger.WithError(err).WithField("order_id", id).Warn("failed to load order timeline")
		}
		view.Timeline = events
	}
	return view, nil
}
