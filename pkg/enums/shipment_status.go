package enums

import "fmt"

// ShipmentStatus tracks a seller shipment.
type ShipmentStatus string

const (
	ShipmentStatusCreated   ShipmentStatus = "created"
	ShipmentStatusShipped   ShipmentStatus = "shipped"
	ShipmentStatusDelivered ShipmentStatus = "delivered"
)

var validShipmentStatusValues = []ShipmentStatus{
	ShipmentStatusCreated,
	ShipmentStatusShipped,
	ShipmentStatusDelivered,
}

// String implements fmt.Stringer.
func (v ShipmentStatus) String() string {
	return string(v)
}

// IsValid reports whether the value is a known ShipmentStatus.
func (v ShipmentStatus) IsValid() bool {
	for _, candidate := range validShipmentStatusValues {
		if candidate == v {
			return true
		}
	}
	return false
}

// ParseShipmentStatus converts raw input into a ShipmentStatus.
func ParseShipmentStatus(value string) (ShipmentStatus, error) {
	for _, candidate := range validShipmentStatusValues {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid shipment status %q", value)
}
