package enums

import "fmt"

// OrderEventType classifies entries in the order audit trail.
type OrderEventType string

const (
	OrderEventTypePlaced            OrderEventType = "placed"
	OrderEventTypePaid              OrderEventType = "paid"
	OrderEventTypeShipped           OrderEventType = "shipped"
	OrderEventTypeDelivered         OrderEventType = "delivered"
	OrderEventTypeCompleted         OrderEventType = "completed"
	OrderEventTypeCancelled         OrderEventType = "cancelled"
	OrderEventTypeRefunded          OrderEventType = "refunded"
	OrderEventTypePartiallyRefunded OrderEventType = "partially_refunded"
)

var validOrderEventTypeValues = []OrderEventType{
	OrderEventTypePlaced,
	OrderEventTypePaid,
	OrderEventTypeShipped,
	OrderEventTypeDelivered,
	OrderEventTypeCompleted,
	OrderEventTypeCancelled,
	OrderEventTypeRefunded,
	OrderEventTypePartiallyRefunded,
}

// String implements fmt.Stringer.
func (v OrderEventType) String() string {
	return string(v)
}

// IsValid reports whether the value is a known OrderEventType.
func (v OrderEventType) IsValid() bool {
	for _, candidate := range validOrderEventTypeValues {
		if candidate == v {
			return true
		}
	}
	return false
}

// ParseOrderEventType converts raw input into a OrderEventType.
func ParseOrderEventType(value string) (OrderEventType, error) {
	for _, candidate := range validOrderEventTypeValues {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid order event type %q", value)
}
