package campaigns

import (
	"github.com/angelmondragon/marketplace-backend/pkg/enums"
)

// Line is one cart line as seen by the campaign engine.
type Line struct {
	ListingID      uint
	ProductID      uint
	CategoryID     uint
	SellerID       uint
	UnitPriceCents int64
	Quantity       int
}

// TotalCents is UnitPrice × Quantity.
func (l Line) TotalCents() int64 {
	return l.UnitPriceCents * int64(l.Quantity)
}

// Applied is one campaign's contribution to the order.
type Applied struct {
	CampaignID    uint               `json:"campaign_id"`
	Name          string             `json:"name"`
	Type          enums.CampaignType `json:"type"`
	DiscountCents int64              `json:"discount_cents"`
	FreeShipping  bool               `json:"free_shipping"`
}

// Result is the resolved discount for a cart.
type Result struct {
	SubtotalCents int64     `json:"subtotal_cents"`
	Applied       []Applied `json:"applied"`
	DiscountCents int64     `json:"discount_cents"`
	FreeShipping  bool      `json:"free_shipping"`
	CouponCode    *string   `json:"coupon_code,omitempty"`
}

// CampaignIDs lists the applied campaign ids in application order.
func (r *Result) CampaignIDs() []uint {
	if r == nil {
		return nil
	}
	ids := make([]uint, 0, len(r.Applied))
	for _, a := range r.Applied {
		ids = append(ids, a.CampaignID)
	}
	return ids
}

func subtotal(lines []Line) int64 {
	var total int64
	for _, l := range lines {
		total += l.TotalCents()
	}
	return total
}

func quantity(lines []Line) int {
	var total int
	for _, l := range lines {
		total += l.Quantity
	}
	return total
}
