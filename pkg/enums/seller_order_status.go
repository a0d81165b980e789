package enums

import "fmt"

// SellerOrderStatus tracks one seller's slice of an order.
type SellerOrderStatus string

const (
	SellerOrderStatusPlaced      SellerOrderStatus = "placed"
	SellerOrderStatusReadyToShip SellerOrderStatus = "ready_to_ship"
	SellerOrderStatusShipped     SellerOrderStatus = "shipped"
	SellerOrderStatusDelivered   SellerOrderStatus = "delivered"
	SellerOrderStatusCancelled   SellerOrderStatus = "cancelled"
	SellerOrderStatusRefunded    SellerOrderStatus = "refunded"
)

var validSellerOrderStatusValues = []SellerOrderStatus{
	SellerOrderStatusPlaced,
	SellerOrderStatusReadyToShip,
	SellerOrderStatusShipped,
	SellerOrderStatusDelivered,
	SellerOrderStatusCancelled,
	SellerOrderStatusRefunded,
}

// String implements fmt.Stringer.
func (v SellerOrderStatus) String() string {
	return string(v)
}

// IsValid reports whether the value is a known SellerOrderStatus.
func (v SellerOrderStatus) IsValid() bool {
	for _, candidate := range validSellerOrderStatusValues {
		if candidate == v {
			return true
		}
	}
	return false
}

// ParseSellerOrderStatus converts raw input into a SellerOrderStatus.
func ParseSellerOrderStatus(value string) (SellerOrderStatus, error) {
	for _, candidate := range validSellerOrderStatusValues {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid seller order status %q", value)
}
