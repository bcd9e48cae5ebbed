package inventory

import (
	"context"
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

// MatchPath: каким путём позиция сопоставлена со складом.
type MatchPath string

const (
	// MatchExactReference: по variant_id из позиции, всегда авторитетен.
	MatchExactReference MatchPath = "exact_reference"
	// MatchSizeLabel: по совпадению метки размера после нормализации.
	MatchSizeLabel MatchPath = "size_label"
)

// Resolution: результат сопоставления одной позиции.
type Resolution struct {
	Matched bool
	Path    MatchPath
	Variant domain.InventoryVariant
	// SuppliedLabel и Candidates заполняются для пути по метке и нужны для диагностики.
	SuppliedLabel string
	Candidates    []string
}

// Resolver находит складскую запись для позиции заказа.
// Только читает склад, поэтому безопасен для диагностики.
type Resolver struct {
	repo domain.InventoryRepository
}

// NewResolver создаёт резолвер поверх репозитория склада.
func NewResolver(repo domain.InventoryRepository) *Resolver {
	return &Resolver{repo: repo}
}

// Resolve сопоставляет позицию. Отсутствие совпадения: не ошибка, а Resolution{Matched: false};
// ошибка возвращается только при сбое хранилища.
func (r *Resolver) Resolve(ctx context.Context, item domain.LineItem) (Resolution, error) {
	switch ref := item.Reference().(type) {
	case domain.ByReference:
		return r.byReference(ctx, ref)
	case domain.BySizeLabel:
		return r.MatchLabel(ctx, ref.ProductID, ref.SizeLabel)
	default:
		return Resolution{}, fmt.Errorf("unsupported variant reference %T", ref)
	}
}

func (r *Resolver) byReference(ctx context.Context, ref domain.ByReference) (Resolution, error) {
	variant, err := r.repo.GetVariant(ctx, ref.VariantID)
	if err != nil {
		if errors.Is(err, domain.ErrVariantNotFound) {
			return Resolution{Path: MatchExactReference}, nil
		}
		return Resolution{}, fmt.Errorf("get variant %s: %w", ref.VariantID, err)
	}
	return Resolution{Matched: true, Path: MatchExactReference, Variant: variant}, nil
}

// MatchLabel ищет среди вариантов товара первый с той же меткой после обрезки пробелов.
func (r *Resolver) MatchLabel(ctx context.Context, productID, label string) (Resolution, error) {
	variants, err := r.repo.ListByProduct(ctx, productID)
	if err != nil {
		return Resolution{}, fmt.Errorf("list variants of product %s: %w", productID, err)
	}

	res := Resolution{
		Path:          MatchSizeLabel,
		SuppliedLabel: label,
		Candidates:    make([]string, 0, len(variants)),
	}
	wanted := domain.NormalizeSizeLabel(label)
	for _, variant := range variants {
		res.Candidates = append(res.Candidates, variant.SizeLabel)
		if !res.Matched && domain.NormalizeSizeLabel(variant.SizeLabel) == wanted {
			res.Matched = true
			res.Variant = variant
		}
	}

	return res, nil
}
