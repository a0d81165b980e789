package orders

import (
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/marketplace-backend/pkg/config"
)

var basisPoints = decimal.NewFromInt(10000)

// Totals are the order-level money figures.
type Totals struct {
	SubtotalCents     int64
	ShippingCostCents int64
	TaxCents          int64
	DiscountCents     int64
	TotalCents        int64
	// ShippingPerSeller is what each seller order carries.
	ShippingPerSeller int64
}

// computeTotals applies the pricing policy. Tax is charged on the discounted
// subtotal and rounded half-up to the cent.
func computeTotals(policy config.PricingConfig, groups []sellerGroup, discountCents int64, freeShipping bool) Totals {
	var t Totals
	for _, g := range groups {
		t.SubtotalCents += g.SubtotalCents
	}
	if discountCents > t.SubtotalCents {
		discountCents = t.SubtotalCents
	}
	if discountCents < 0 {
		discountCents = 0
	}
	t.DiscountCents = discountCents

	if !freeShipping {
		t.ShippingPerSeller = policy.ShippingFeeCents
	}
	t.ShippingCostCents = t.ShippingPerSeller * int64(len(groups))

	taxable := t.SubtotalCents - t.DiscountCents
	if policy.TaxRateBps > 0 && taxable > 0 {
		t.TaxCents = decimal.NewFromInt(taxable).
			Mul(decimal.NewFromInt(policy.TaxRateBps)).
			Div(basisPoints).
			Round(0).
			IntPart()
	}
	t.TotalCents = t.SubtotalCents + t.ShippingCostCents + t.TaxCents - t.DiscountCents
	return t
}
