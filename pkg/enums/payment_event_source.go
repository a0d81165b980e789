package enums

import "fmt"

// PaymentEventSource records what triggered a payment transition.
type PaymentEventSource string

const (
	PaymentEventSourceAPI     PaymentEventSource = "api"
	PaymentEventSourceWebhook PaymentEventSource = "webhook"
	PaymentEventSourceGateway PaymentEventSource = "gateway"
	PaymentEventSourceSystem  PaymentEventSource = "system"
)

var validPaymentEventSourceValues = []PaymentEventSource{
	PaymentEventSourceAPI,
	PaymentEventSourceWebhook,
	PaymentEventSourceGateway,
	PaymentEventSourceSystem,
}

// String implements fmt.Stringer.
func (v PaymentEventSource) String() string {
	return string(v)
}

// IsValid reports whether the value is a known PaymentEventSource.
func (v PaymentEventSource) IsValid() bool {
	for _, candidate := range validPaymentEventSourceValues {
		if candidate == v {
			return true
		}
	}
	return false
}

// ParsePaymentEventSource converts raw input into a PaymentEventSource.
func ParsePaymentEventSource(value string) (PaymentEventSource, error) {
	for _, candidate := range validPaymentEventSourceValues {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid payment event source %q", value)
}
