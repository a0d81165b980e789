package campaigns

import (
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/marketplace-backend/pkg/db/models"
	"github.com/angelmondragon/marketplace-backend/pkg/enums"
)

var hundred = decimal.NewFromInt(100)

// matchingLines returns the lines a campaign's scope covers.
func matchingLines(c models.Campaign, lines []Line) []Line {
	if c.Scope == enums.CampaignScopeAllProducts {
		return lines
	}
	targets := make(map[uint]struct{}, len(c.TargetIDs))
	for _, id := range c.TargetIDs {
		targets[id] = struct{}{}
	}
	out := make([]Line, 0, len(lines))
	for _, l := range lines {
		var key uint
		switch c.Scope {
		case enums.CampaignScopeProducts:
			key = l.ProductID
		case enums.CampaignScopeCategories:
			key = l.CategoryID
		case enums.CampaignScopeListings:
			key = l.ListingID
		default:
			continue
		}
		if _, ok := targets[key]; ok {
			out = append(out, l)
		}
	}
	return out
}

// meetsThresholds checks min order amount and min quantity against the matching lines.
func meetsThresholds(c models.Campaign, matched []Line) bool {
	if len(matched) == 0 {
		return false
	}
	if c.MinOrderAmountCents > 0 && subtotal(matched) < c.MinOrderAmountCents {
		return false
	}
	if c.MinQuantity > 0 && quantity(matched) < c.MinQuantity {
		return false
	}
	return true
}

// contribution computes the monetary discount a campaign yields on its matching lines.
// Free shipping campaigns return 0 and true.
func contribution(c models.Campaign, matched []Line) (int64, bool) {
	base := subtotal(matched)
	var amount int64
	switch c.Type {
	case enums.CampaignTypePercentage:
		amount = percentOf(base, c.DiscountPercent)
	case enums.CampaignTypeFixedAmount:
		amount = c.DiscountAmountCents
	case enums.CampaignTypeBuyXGetY:
		amount = buyXGetY(c.BuyQuantity, c.GetQuantity, matched)
	case enums.CampaignTypeFreeShipping:
		return 0, true
	case enums.CampaignTypeMinAmountDiscount:
		if base < c.MinOrderAmountCents {
			return 0, false
		}
		if c.DiscountPercent.IsPositive() {
			amount = percentOf(base, c.DiscountPercent)
		} else {
			amount = c.DiscountAmountCents
		}
	}
	if c.MaxDiscountAmountCents != nil && amount > *c.MaxDiscountAmountCents {
		amount = *c.MaxDiscountAmountCents
	}
	if amount > base {
		amount = base
	}
	if amount < 0 {
		amount = 0
	}
	return amount, false
}

// percentOf rounds half-up to the cent.
func percentOf(cents int64, pct decimal.Decimal) int64 {
	if !pct.IsPositive() {
		return 0
	}
	return decimal.NewFromInt(cents).Mul(pct).Div(hundred).Round(0).IntPart()
}

// buyXGetY values floor(q/(buy+get))×get free units per line at that line's unit price.
func buyXGetY(buy, get int, lines []Line) int64 {
	if buy <= 0 || get <= 0 {
		return 0
	}
	group := buy + get
	var amount int64
	for _, l := range lines {
		free := (l.Quantity / group) * get
		if free > l.Quantity {
			free = l.Quantity
		}
		amount += int64(free) * l.UnitPriceCents
	}
	return amount
}
