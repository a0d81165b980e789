package orders

import (
	"sort"

	"github.com/angelmondragon/marketplace-backend/internal/campaigns"
	"github.com/angelmondragon/marketplace-backend/pkg/db/models"
)

// mergeCartItems sums quantities per listing so duplicate cart rows become one line.
func mergeCartItems(items []models.CartItem) map[uint]int {
	merged := make(map[uint]int, len(items))
	for _, item := range items {
		merged[item.ListingID] += item.Quantity
	}
	return merged
}

func lineFor(listing models.Listing, qty int) campaigns.Line {
	return campaigns.Line{
		ListingID:      listing.ID,
		ProductID:      listing.ProductID,
		CategoryID:     listing.CategoryID,
		SellerID:       listing.SellerID,
		UnitPriceCents: listing.PriceCents,
		Quantity:       qty,
	}
}

// sellerGroup is one seller's share of the cart.
type sellerGroup struct {
	SellerID      uint
	Lines         []campaigns.Line
	SubtotalCents int64
}

// groupBySeller splits lines per seller, ordered by seller id for stable numbering.
func groupBySeller(lines []campaigns.Line) []sellerGroup {
	index := map[uint]int{}
	var groups []sellerGroup
	for _, line := range lines {
		pos, ok := index[line.SellerID]
		if !ok {
			pos = len(groups)
			index[line.SellerID] = pos
			groups = append(groups, sellerGroup{SellerID: line.SellerID})
		}
		groups[pos].Lines = append(groups[pos].Lines, line)
		groups[pos].SubtotalCents += line.TotalCents()
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].SellerID < groups[j].SellerID })
	return groups
}
