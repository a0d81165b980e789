package enums

import "fmt"

// PaymentProvider names the gateway behind an intent.
type PaymentProvider string

const (
	PaymentProviderSandbox PaymentProvider = "sandbox"
	PaymentProviderSquare  PaymentProvider = "square"
)

var validPaymentProviderValues = []PaymentProvider{
	PaymentProviderSandbox,
	PaymentProviderSquare,
}

// String implements fmt.Stringer.
func (v PaymentProvider) String() string {
	return string(v)
}

// IsValid reports whether the value is a known PaymentProvider.
func (v PaymentProvider) IsValid() bool {
	for _, candidate := range validPaymentProviderValues {
		if candidate == v {
			return true
		}
	}
	return false
}

// ParsePaymentProvider converts raw input into a PaymentProvider.
func ParsePaymentProvider(value string) (PaymentProvider, error) {
	for _, candidate := range validPaymentProviderValues {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid payment provider %q", value)
}
