package orders

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/angelmondragon/marketplace-backend/internal/campaigns"
	"github.com/angelmondragon/marketplace-backend/pkg/config"
)

func TestGroupBySellerOrdersAndSums(t *testing.T) {
	groups := groupBySeller([]campaigns.Line{
		{ListingID: 3, SellerID: 9, UnitPriceCents: 100, Quantity: 2},
		{ListingID: 1, SellerID: 4, UnitPriceCents: 250, Quantity: 1},
		{ListingID: 2, SellerID: 9, UnitPriceCents: 50, Quantity: 3},
	})
	if assert.Len(t, groups, 2) {
		assert.Equal(t, uint(4), groups[0].SellerID)
		assert.Equal(t, int64(250), groups[0].SubtotalCents)
		assert.Equal(t, uint(9), groups[1].SellerID)
		assert.Equal(t, int64(350), groups[1].SubtotalCents)
		assert.Len(t, groups[1].Lines, 2)
	}
}

func TestComputeTotals(t *testing.T) {
	groups := []sellerGroup{{SellerID: 1, SubtotalCents: 20000}, {SellerID: 2, SubtotalCents: 5000}}
	policy := config.PricingConfig{ShippingFeeCents: 400, TaxRateBps: 1000}

	paid := computeTotals(policy, groups, 2500, false)
	assert.Equal(t, int64(800), paid.ShippingCostCents)
	assert.Equal(t, int64(2250), paid.TaxCents)
	assert.Equal(t, int64(25000+800+2250-2500), paid.TotalCents)

	free := computeTotals(policy, groups, 0, true)
	assert.Zero(t, free.ShippingCostCents)
	assert.Zero(t, free.ShippingPerSeller)

	clamped := computeTotals(config.PricingConfig{}, groups, 99999, false)
	assert.Equal(t, int64(25000), clamped.DiscountCents)
	assert.Zero(t, clamped.TotalCents)
}

func TestComputeTotalsRoundsTaxHalfUp(t *testing.T) {
	groups := []sellerGroup{{SellerID: 1, SubtotalCents: 1020}}
	got := computeTotals(config.PricingConfig{TaxRateBps: 250}, groups, 0, false)
	assert.Equal(t, int64(26), got.TaxCents)
}
