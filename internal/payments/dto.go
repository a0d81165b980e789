package payments

import (
	"github.com/angelmondragon/marketplace-backend/pkg/db/models"
	"github.com/angelmondragon/marketplace-backend/pkg/enums"
)

// CreateIntentInput opens the payment intent of a pending order.
type CreateIntentInput struct {
	OrderID uint
	Method  enums.PaymentMethod
}

// AuthorizeInput carries the tokenized payment source.
type AuthorizeInput struct {
	PaymentToken      string
	VerificationToken string
}

// RefundInput refunds AmountCents, or everything left when zero.
type RefundInput struct {
	AmountCents int64
	Reason      string
}

// ThreeDSStart is returned when a 3-D Secure challenge is opened.
type ThreeDSStart struct {
	Intent      models.PaymentIntent
	Reference   string
	RedirectURL string
}

// ExternalAction is the normalized provider vocabulary.
type ExternalAction string

const (
	ActionAuthorize  ExternalAction = "authorize"
	ActionRequire3DS ExternalAction = "require_3ds"
	ActionCapture    ExternalAction = "capture"
	ActionFail       ExternalAction = "fail"
	ActionCancel     ExternalAction = "cancel"
	ActionRefund     ExternalAction = "refund"
)

// ExternalUpdate is a provider-reported state change, already verified and mapped.
type ExternalUpdate struct {
	Provider    enums.PaymentProvider
	Reference   string
	Action      ExternalAction
	AmountCents int64
	// RefundID is the provider's refund id; refunds already recorded under it are ignored.
	RefundID string
	Reason   string
	Payload  map[string]any
}

// ExternalResult says what ApplyExternal did with an update.
type ExternalResult struct {
	Intent  *models.PaymentIntent
	Outcome enums.WebhookOutcome
	Detail  string
}
