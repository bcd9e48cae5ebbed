package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

// InventoryRepository: складские остатки в PostgreSQL.
type InventoryRepository struct {
	db *sql.DB
}

// NewInventoryRepository создаёт PostgreSQL-реализацию InventoryRepository.
func NewInventoryRepository(store *Store) *InventoryRepository {
	return &InventoryRepository{db: store.DB()}
}

// GetVariant возвращает вариант по ID.
func (r *InventoryRepository) GetVariant(ctx context.Context, id string) (domain.InventoryVariant, error) {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	var variant domain.InventoryVariant
	err := r.db.QueryRowContext(ctx, `
		SELECT id, product_id, size_label, stock_quantity, unit_price, updated_at
		FROM inventory_variants
		WHERE id = $1
	`, id).Scan(
		&variant.ID, &variant.ProductID, &variant.SizeLabel,
		&variant.StockQuantity, &variant.UnitPrice, &variant.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.InventoryVariant{}, domain.ErrVariantNotFound
		}
		return domain.InventoryVariant{}, fmt.Errorf("select inventory variant: %w", err)
	}
	variant.UpdatedAt = variant.UpdatedAt.UTC()
	return variant, nil
}

// ListByProduct возвращает варианты товара в порядке добавления (по seq).
func (r *InventoryRepository) ListByProduct(ctx context.Context, productID string) ([]domain.InventoryVariant, error) {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, product_id, size_label, stock_quantity, unit_price, updated_at
		FROM inventory_variants
		WHERE product_id = $1
		ORDER BY seq ASC
	`, productID)
	if err != nil {
		return nil, fmt.Errorf("list inventory variants: %w", err)
	}
	defer rows.Close()

	result := make([]domain.InventoryVariant, 0)
	for rows.Next() {
		var variant domain.InventoryVariant
		if err := rows.Scan(
			&variant.ID, &variant.ProductID, &variant.SizeLabel,
			&variant.StockQuantity, &variant.UnitPrice, &variant.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan inventory variant: %w", err)
		}
		variant.UpdatedAt = variant.UpdatedAt.UTC()
		result = append(result, variant)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate inventory variants: %w", err)
	}
	return result, nil
}

// DecrementStock списывает qty с полом в ноль. Строка блокируется на время
// запроса, так что остаток "до" и "после" согласованы между конкурентами.
func (r *InventoryRepository) DecrementStock(ctx context.Context, variantID string, qty int) (domain.StockChange, error) {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	if qty < 0 {
		qty = 0
	}

	change := domain.StockChange{VariantID: variantID}
	err := r.db.QueryRowContext(ctx, `
		WITH locked AS (
			SELECT id, stock_quantity
			FROM inventory_variants
			WHERE id = $1
			FOR UPDATE
		)
		UPDATE inventory_variants AS v
		SET stock_quantity = GREATEST(locked.stock_quantity - $2, 0),
		    updated_at = $3
		FROM locked
		WHERE v.id = locked.id
		RETURNING locked.stock_quantity, v.stock_quantity
	`, variantID, qty, time.Now().UTC()).Scan(&change.Before, &change.After)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.StockChange{}, domain.ErrVariantNotFound
		}
		return domain.StockChange{}, fmt.Errorf("decrement stock: %w", err)
	}
	return change, nil
}

// Upsert добавляет вариант или обновляет существующий, сохраняя его позицию в порядке товара.
// Используется сидированием и тестами; отрицательный остаток приводится к нулю.
func (r *InventoryRepository) Upsert(ctx context.Context, variant domain.InventoryVariant) error {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	if variant.StockQuantity < 0 {
		variant.StockQuantity = 0
	}
	if variant.UpdatedAt.IsZero() {
		variant.UpdatedAt = time.Now().UTC()
	}

	if _, err := r.db.ExecContext(ctx, `
		INSERT INTO inventory_variants (id, product_id, size_label, stock_quantity, unit_price, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (id) DO UPDATE
		SET product_id = EXCLUDED.product_id,
		    size_label = EXCLUDED.size_label,
		    stock_quantity = EXCLUDED.stock_quantity,
		    unit_price = EXCLUDED.unit_price,
		    updated_at = EXCLUDED.updated_at
	`,
		variant.ID, variant.ProductID, variant.SizeLabel,
		variant.StockQuantity, variant.UnitPrice, variant.UpdatedAt,
	); err != nil {
		return fmt.Errorf("upsert inventory variant: %w", err)
	}
	return nil
}

var _ domain.InventoryRepository = (*InventoryRepository)(nil)
