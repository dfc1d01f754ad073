// Package pricing computes sale totals. The quote is a pure function of
// the cart and the pricing parameters and is recomputed in full on every
// change; nothing is incrementally patched, so totals cannot drift.
package pricing

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/rxflow/dispensary/internal/domain/cart"
)

type DiscountType string

const (
	DiscountPercentage DiscountType = "percentage"
	DiscountFlat       DiscountType = "flat"
)

var (
	ErrNegativeDiscount    = errors.New("discount cannot be negative")
	ErrPercentOutOfRange   = errors.New("percentage discount must be between 0 and 100")
	ErrNegativeTaxRate     = errors.New("tax rate cannot be negative")
	ErrUnknownDiscountType = errors.New("unknown discount type")
)

var oneHundred = decimal.NewFromInt(100)

// Quote holds unrounded amounts. Accumulation stays unrounded so rounding
// error cannot compound across lines; call Rounded at display or commit.
type Quote struct {
	Subtotal       decimal.Decimal `json:"subtotal"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	TaxAmount      decimal.Decimal `json:"tax_amount"`
	Total          decimal.Decimal `json:"total"`
}

// Rounded returns the quote with every amount rounded half-up to 2 decimal
// places, the currency precision persisted on a sale.
func (q Quote) Rounded() Quote {
	return Quote{
		Subtotal:       q.Subtotal.Round(2),
		DiscountAmount: q.DiscountAmount.Round(2),
		TaxAmount:      q.TaxAmount.Round(2),
		Total:          q.Total.Round(2),
	}
}

// Price computes subtotal, discount, tax, and total for the cart.
// Order is fixed: discount applies to the subtotal, tax applies to the
// discounted amount. A flat discount is capped at the subtotal so the
// discounted base can never go negative.
func Price(c cart.Cart, discount decimal.Decimal, discountType DiscountType, taxRatePercent decimal.Decimal) (Quote, error) {
	if discount.IsNegative() {
		return Quote{}, ErrNegativeDiscount
	}
	if taxRatePercent.IsNegative() {
		return Quote{}, ErrNegativeTaxRate
	}

	subtotal := decimal.Zero
	for _, line := range c.Lines {
		subtotal = subtotal.Add(line.UnitPrice.Mul(decimal.NewFromInt(int64(line.Quantity))))
	}

	var discountAmount decimal.Decimal
	switch discountType {
	case DiscountPercentage:
		if discount.GreaterThan(oneHundred) {
			return Quote{}, ErrPercentOutOfRange
		}
		discountAmount = subtotal.Mul(discount).Div(oneHundred)
	case DiscountFlat:
		discountAmount = decimal.Min(discount, subtotal)
	default:
		return Quote{}, fmt.Errorf("%w: %q", ErrUnknownDiscountType, discountType)
	}

	taxable := subtotal.Sub(discountAmount)
	taxAmount := taxable.Mul(taxRatePercent).Div(oneHundred)

	return Quote{
		Subtotal:       subtotal,
		DiscountAmount: discountAmount,
		TaxAmount:      taxAmount,
		Total:          taxable.Add(taxAmount),
	}, nil
}
