package enums

import "fmt"

// WebhookOutcome records what happened to an ingested webhook.
type WebhookOutcome string

const (
	WebhookOutcomeApplied  WebhookOutcome = "applied"
	WebhookOutcomeIgnored  WebhookOutcome = "ignored"
	WebhookOutcomeUnmapped WebhookOutcome = "unmapped"
	WebhookOutcomeRejected WebhookOutcome = "rejected"
)

var validWebhookOutcomeValues = []WebhookOutcome{
	WebhookOutcomeApplied,
	WebhookOutcomeIgnored,
	WebhookOutcomeUnmapped,
	WebhookOutcomeRejected,
}

// String implements fmt.Stringer.
func (v WebhookOutcome) String() string {
	return string(v)
}

// IsValid reports whether the value is a known WebhookOutcome.
func (v WebhookOutcome) IsValid() bool {
	for _, candidate := range validWebhookOutcomeValues {
		if candidate == v {
			return true
		}
	}
	return false
}

// ParseWebhookOutcome converts raw input into a WebhookOutcome.
func ParseWebhookOutcome(value string) (WebhookOutcome, error) {
	for _, candidate := range validWebhookOutcomeValues {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid webhook outcome %q", value)
}
