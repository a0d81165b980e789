package checkout

import (
	"fmt"

	pkgerrors "github.com/angelmondragon/marketplace-backend/pkg/errors"
)

// StockValidationInput pairs a requested quantity with the stock read inside the checkout transaction.
type StockValidationInput struct {
	ListingID uint
	Title     string
	Available int
	Requested int
	Active    bool
}

// StockViolationDetail exposes the data returned to callers when a validation fails.
type StockViolationDetail struct {
	ListingID    uint   `json:"listing_id"`
	Title        string `json:"title,omitempty"`
	Available    int    `json:"available"`
	RequestedQty int    `json:"requested_qty"`
	Reason       string `json:"reason"`
}

// ValidateStock reports every line whose listing cannot cover the requested quantity.
// The whole checkout is rejected; nothing is partially reserved.
func ValidateStock(items []StockValidationInput) error {
	var violations []StockViolationDetail
	for _, item := range items {
		switch {
		case !item.Active:
			violations = append(violations, StockViolationDetail{
				ListingID:    item.ListingID,
				Title:        item.Title,
				Available:    0,
				RequestedQty: item.Requested,
				Reason:       "listing_inactive",
			})
		case item.Requested > item.Available:
			violations = append(violations, StockViolationDetail{
				ListingID:    item.ListingID,
				Title:        item.Title,
				Available:    item.Available,
				RequestedQty: item.Requested,
				Reason:       "insufficient_stock",
			})
		}
	}
	if len(violations) == 0 {
		return nil
	}
	return pkgerrors.New(pkgerrors.CodeConflict, fmt.Sprintf("insufficient stock for %d item(s)", len(violations))).WithDetails(map[string]any{
		"violations": violations,
	})
}
