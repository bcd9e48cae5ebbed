package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

const markPaidSQL = `
	WITH target AS (
		SELECT id FROM orders WHERE id = $1
	), paid AS (
		UPDATE orders
		SET status = 'paid',
		    payment_reference = COALESCE(NULLIF($2, ''), payment_reference),
		    updated_at = $3
		WHERE id = $1
		  AND status = 'pending'
		RETURNING id
	)
	SELECT EXISTS (SELECT 1 FROM target), EXISTS (SELECT 1 FROM paid)`

type orderRepository struct {
	db *sql.DB
}

// NewOrderRepository создаёт PostgreSQL-реализацию OrderRepository.
func NewOrderRepository(store *Store) domain.OrderRepository {
	return &orderRepository{db: store.DB()}
}

func (r *orderRepository) Create(ctx context.Context, order domain.Order) (err error) {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	buyer, err := json.Marshal(order.Buyer)
	if err != nil {
		return fmt.Errorf("encode buyer: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (
			id, buyer, status, currency, shipping_cost, total_amount,
			payment_reference, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`,
		order.ID, buyer, string(order.Status), order.Currency,
		order.ShippingCost, order.TotalAmount, order.PaymentReference,
		order.CreatedAt, order.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrOrderAlreadyExists
		}
		return fmt.Errorf("insert order: %w", err)
	}

	for position, item := range order.Items {
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO order_items (
				order_id, position, product_id, variant_id, size_label,
				quantity, unit_price, name, image_ref
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		`,
			order.ID, position, item.ProductID, item.VariantID, item.SizeLabel,
			item.Quantity, item.UnitPrice, item.Name, item.ImageRef,
		); err != nil {
			return fmt.Errorf("insert order item %d: %w", position, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit create order: %w", err)
	}
	return nil
}

func (r *orderRepository) Get(ctx context.Context, id string) (domain.Order, error) {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	var (
		order  domain.Order
		status string
		buyer  []byte
	)

	err := r.db.QueryRowContext(ctx, `
		SELECT id, buyer, status, currency, shipping_cost, total_amount,
		       payment_reference, created_at, updated_at
		FROM orders
		WHERE id = $1
	`, id).Scan(
		&order.ID, &buyer, &status, &order.Currency, &order.ShippingCost,
		&order.TotalAmount, &order.PaymentReference, &order.CreatedAt, &order.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, fmt.Errorf("select order: %w", err)
	}

	order.Status = domain.OrderStatus(status)
	if !order.Status.Valid() {
		return domain.Order{}, fmt.Errorf("invalid order status %q for order %s", status, id)
	}
	if len(buyer) > 0 {
		if err := json.Unmarshal(buyer, &order.Buyer); err != nil {
			return domain.Order{}, fmt.Errorf("decode buyer: %w", err)
		}
	}
	order.CreatedAt = order.CreatedAt.UTC()
	order.UpdatedAt = order.UpdatedAt.UTC()

	items, err := r.loadItems(ctx, order.ID)
	if err != nil {
		return domain.Order{}, err
	}
	order.Items = items

	return order, nil
}

// MarkPaid: переход pending -> paid одним условным UPDATE. В READ COMMITTED конкурирующий UPDATE
// перечитывает строку после коммита соседа и видит уже paid, поэтому победитель ровно один.
// Тот же запрос сообщает, существует ли заказ, без второго обращения к базе.
func (r *orderRepository) MarkPaid(ctx context.Context, id, paymentReference string, at time.Time) (bool, error) {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	if at.IsZero() {
		at = time.Now().UTC()
	}

	var found, won bool
	if err := r.db.QueryRowContext(ctx, markPaidSQL, id, paymentReference, at).Scan(&found, &won); err != nil {
		return false, fmt.Errorf("mark order %s paid: %w", id, err)
	}
	if !found {
		return false, domain.ErrOrderNotFound
	}
	return won, nil
}

func (r *orderRepository) loadItems(ctx context.Context, orderID string) ([]domain.LineItem, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT product_id, variant_id, size_label, quantity, unit_price, name, image_ref
		FROM order_items
		WHERE order_id = $1
		ORDER BY position ASC
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("load order items: %w", err)
	}
	defer rows.Close()

	items := make([]domain.LineItem, 0)
	for rows.Next() {
		var (
			item  domain.LineItem
			price decimal.Decimal
		)
		if err := rows.Scan(
			&item.ProductID, &item.VariantID, &item.SizeLabel, &item.Quantity,
			&price, &item.Name, &item.ImageRef,
		); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		item.UnitPrice = price
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order items: %w", err)
	}

	return items, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

var _ domain.OrderRepository = (*orderRepository)(nil)
