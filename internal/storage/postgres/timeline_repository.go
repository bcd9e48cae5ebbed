package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

const (
	insertTimelineEventSQL = `INSERT INTO timeline_events (order_id, type, reason, occurred) VALUES ($1, $2, $3, $4)`
	// одинаковое время упорядочивается по порядку записи
	selectTimelineSQL = `SELECT order_id, type, reason, occurred FROM timeline_events WHERE order_id = $1 ORDER BY occurred, id`
)

type timelineRepository struct {
	db *sql.DB
}

// NewTimelineRepository создаёт журнал событий заказов в PostgreSQL.
func NewTimelineRepository(store *Store) domain.TimelineRepository {
	return &timelineRepository{db: store.DB()}
}

func (r *timelineRepository) Append(ctx context.Context, event domain.TimelineEvent) error {
	if event.Occurred.IsZero() {
		event.Occurred = time.Now().UTC()
	}

	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	_, err := r.db.ExecContext(ctx, insertTimelineEventSQL, event.OrderID, event.Type, event.Reason, event.Occurred)
	if err != nil {
		return fmt.Errorf("append timeline event %s for order %s: %w", event.Type, event.OrderID, err)
	}
	return nil
}

func (r *timelineRepository) List(ctx context.Context, orderID string) ([]domain.TimelineEvent, error) {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, selectTimelineSQL, orderID)
	if err != nil {
		return nil, fmt.Errorf("query timeline of order %s: %w", orderID, err)
	}
	defer rows.Close()

	history := []domain.TimelineEvent{}
	for rows.Next() {
		var ev domain.TimelineEvent
		if err := rows.Scan(&ev.OrderID, &ev.Type, &ev.Reason, &ev.Occurred); err != nil {
			return nil, fmt.Errorf("scan timeline row: %w", err)
		}
		ev.Occurred = ev.Occurred.UTC()
		history = append(history, ev)
	}
	return history, rows.Err()
}

var _ domain.TimelineRepository = (*timelineRepository)(nil)
