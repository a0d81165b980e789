package enums

import "fmt"

// PaymentStatus tracks the lifecycle of a payment intent.
type PaymentStatus string

const (
	PaymentStatusCreated           PaymentStatus = "created"
	PaymentStatusRequires3DS       PaymentStatus = "requires_3ds"
	PaymentStatusAuthorized        PaymentStatus = "authorized"
	PaymentStatusCaptured          PaymentStatus = "captured"
	PaymentStatusPartiallyRefunded PaymentStatus = "partially_refunded"
	PaymentStatusRefunded          PaymentStatus = "refunded"
	PaymentStatusCancelled         PaymentStatus = "cancelled"
	PaymentStatusFailed            PaymentStatus = "failed"
)

var validPaymentStatusValues = []PaymentStatus{
	PaymentStatusCreated,
	PaymentStatusRequires3DS,
	PaymentStatusAuthorized,
	PaymentStatusCaptured,
	PaymentStatusPartiallyRefunded,
	PaymentStatusRefunded,
	PaymentStatusCancelled,
	PaymentStatusFailed,
}

// String implements fmt.Stringer.
func (v PaymentStatus) String() string {
	return string(v)
}

// IsValid reports whether the value is a known PaymentStatus.
func (v PaymentStatus) IsValid() bool {
	for _, candidate := range validPaymentStatusValues {
		if candidate == v {
			return true
		}
	}
	return false
}

// ParsePaymentStatus converts raw input into a PaymentStatus.
func ParsePaymentStatus(value string) (PaymentStatus, error) {
	for _, candidate := range validPaymentStatusValues {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid payment status %q", value)
}

// Captured reports whether money has moved for this status.
func (v PaymentStatus) Captured() bool {
	switch v {
	case PaymentStatusCaptured, PaymentStatusPartiallyRefunded, PaymentStatusRefunded:
		return true
	}
	return false
}

// Terminal reports whether no further transition is possible.
func (v PaymentStatus) Terminal() bool {
	switch v {
	case PaymentStatusRefunded, PaymentStatusCancelled, PaymentStatusFailed:
		return true
	}
	return false
}
