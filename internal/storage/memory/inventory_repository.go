package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

// InventoryRepository: in-memory склад. Put используется каталогом в dev-режиме и тестами.
type InventoryRepository struct {
	mu       sync.RWMutex
	variants map[string]domain.InventoryVariant
	// порядок вставки нужен для детерминированного "первого совпадения"
	order []string
}

// NewInventoryRepository создаёт пустой in-memory склад.
func NewInventoryRepository() *InventoryRepository {
	return &InventoryRepository{variants: make(map[string]domain.InventoryVariant)}
}

// Put добавляет или заменяет вариант. Отрицательный остаток приводится к нулю.
func (r *InventoryRepository) Put(variant domain.InventoryVariant) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if variant.StockQuantity < 0 {
		variant.StockQuantity = 0
	}
	if variant.UpdatedAt.IsZero() {
		variant.UpdatedAt = time.Now().UTC()
	}
	if _, exists := r.variants[variant.ID]; !exists {
		r.order = append(r.order, variant.ID)
	}
	r.variants[variant.ID] = variant
}

// GetVariant возвращает вариант по ID.
func (r *InventoryRepository) GetVariant(_ context.Context, id string) (domain.InventoryVariant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	variant, ok := r.variants[id]
	if !ok {
		return domain.InventoryVariant{}, domain.ErrVariantNotFound
	}
	return variant, nil
}

// ListByProduct возвращает варианты товара в порядке добавления.
func (r *InventoryRepository) ListByProduct(_ context.Context, productID string) ([]domain.InventoryVariant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.InventoryVariant, 0)
	for _, id := range r.order {
		variant := r.variants[id]
		if variant.ProductID == productID {
			result = append(result, variant)
		}
	}
	return result, nil
}

// DecrementStock уменьшает остаток с полом в ноль.
func (r *InventoryRepository) DecrementStock(_ context.Context, variantID string, qty int) (domain.StockChange, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	variant, ok := r.variants[variantID]
	if !ok {
		return domain.StockChange{}, domain.ErrVariantNotFound
	}

	change := domain.StockChange{
		VariantID: variantID,
		Before:    variant.StockQuantity,
		After:     domain.FloorStock(variant.StockQuantity, qty),
	}
	variant.StockQuantity = change.After
	variant.UpdatedAt = time.Now().UTC()
	r.variants[variantID] = variant
	return change, nil
}

// Snapshot возвращает копию всех вариантов, отсортированную по ID (для тестов и отладки).
func (r *InventoryRepository) Snapshot() []domain.InventoryVariant {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.InventoryVariant, 0, len(r.variants))
	for _, variant := range r.variants {
		result = append(result, variant)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

var _ domain.InventoryRepository = (*InventoryRepository)(nil)
