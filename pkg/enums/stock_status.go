package enums

import "fmt"

// StockStatus is derived from a listing's remaining quantity.
type StockStatus string

const (
	StockStatusInStock    StockStatus = "in_stock"
	StockStatusLowStock   StockStatus = "low_stock"
	StockStatusOutOfStock StockStatus = "out_of_stock"
)

var validStockStatusValues = []StockStatus{
	StockStatusInStock,
	StockStatusLowStock,
	StockStatusOutOfStock,
}

// String implements fmt.Stringer.
func (v StockStatus) String() string {
	return string(v)
}

// IsValid reports whether the value is a known StockStatus.
func (v StockStatus) IsValid() bool {
	for _, candidate := range validStockStatusValues {
		if candidate == v {
			return true
		}
	}
	return false
}

// ParseStockStatus converts raw input into a StockStatus.
func ParseStockStatus(value string) (StockStatus, error) {
	for _, candidate := range validStockStatusValues {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid stock status %q", value)
}

// StockStatusFor derives the status from a quantity and a low-stock threshold.
func StockStatusFor(quantity, lowStockThreshold int) StockStatus {
	switch {
	case quantity <= 0:
		return StockStatusOutOfStock
	case quantity <= lowStockThreshold:
		return StockStatusLowStock
	default:
		return StockStatusInStock
	}
}
