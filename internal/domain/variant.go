package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// InventoryVariant: складская запись конкретного варианта товара.
// Создаётся каталогом, ядро только уменьшает StockQuantity.
type InventoryVariant struct {
	ID            string
	ProductID     string
	SizeLabel     string
	StockQuantity int
	// UnitPrice справочная, цена позиции заказа фиксируется при оформлении.
	UnitPrice decimal.Decimal
	UpdatedAt time.Time
}

// StockChange: результат списания: остаток до и после.
type StockChange struct {
	VariantID string
	Before    int
	After     int
}

// Applied возвращает фактически списанное количество (с учётом пола в ноль).
func (c StockChange) Applied() int {
	return c.Before - c.After
}

// FloorStock вычитает qty из остатка, не опускаясь ниже нуля.
func FloorStock(stock, qty int) int {
	if qty >= stock {
		return 0
	}
	return stock - qty
}

// NormalizeSizeLabel приводит метку размера к виду для сравнения.
// Убираются только внешние пробелы: "10x10x5cm" и "10x10x5 cm" остаются разными.
func NormalizeSizeLabel(label string) string {
	return strings.TrimSpace(label)
}

// VariantRef: закрытое множество способов сослаться на складскую запись:
// ByReference (точный идентификатор) или BySizeLabel (совпадение по метке).
type VariantRef interface {
	Quantity() int
	variantRef()
}

// ByReference: позиция несёт идентификатор варианта.
type ByReference struct {
	VariantID string
	Qty       int
}

// BySizeLabel: позиция несёт только человекочитаемую метку размера.
type BySizeLabel struct {
	ProductID string
	SizeLabel string
	Qty       int
}

func (r ByReference) Quantity() int { return r.Qty }
func (r BySizeLabel) Quantity() int { return r.Qty }

func (ByReference) variantRef() {}
func (BySizeLabel) variantRef() {}
