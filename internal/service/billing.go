package service

import (
	"github.com/richoz-sanitaire/intervention-service/internal/model"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Totals — суммы счёта, округлённые до сантимов.
type Totals struct {
	Subtotal decimal.Decimal
	Discount decimal.Decimal
	Taxable  decimal.Decimal
	VATRate  decimal.Decimal
	VAT      decimal.Decimal
	Total    decimal.Decimal
}

// ComputeTotals: subtotal = Σ total строк (quantity × unit_price, если total не задан),
// taxable = subtotal − discount, VAT = round2(taxable × rate / 100), total = round2(taxable + VAT).
// Возвращает строки с заполненным total.
func ComputeTotals(items []model.LineItem, discount decimal.Decimal, vatRate decimal.Decimal) ([]model.LineItem, Totals, error) {
	if len(items) == 0 {
		return nil, Totals{}, validationError("line_items: at least one item is required")
	}
	if discount.IsNegative() {
		return nil, Totals{}, validationError("discount_amount must not be negative")
	}
	out := make([]model.LineItem, len(items))
	subtotal := decimal.Zero
	for i, it := range items {
		if it.Quantity.IsNegative() || it.UnitPrice.IsNegative() {
			return nil, Totals{}, validationError("line_items[%d]: negative quantity or price", i)
		}
		if it.Total.IsZero() {
			it.Total = it.Quantity.Mul(it.UnitPrice)
		}
		it.Total = it.Total.Round(2)
		out[i] = it
		subtotal = subtotal.Add(it.Total)
	}
	subtotal = subtotal.Round(2)
	discount = discount.Round(2)
	if discount.GreaterThan(subtotal) {
		return nil, Totals{}, validationError("discount_amount exceeds subtotal")
	}
	taxable := subtotal.Sub(discount)
	vat := taxable.Mul(vatRate).Div(hundred).Round(2)
	return out, Totals{
		Subtotal: subtotal,
		Discount: discount,
		Taxable:  taxable,
		VATRate:  vatRate,
		VAT:      vat,
		Total:    taxable.Add(vat).Round(2),
	}, nil
}
