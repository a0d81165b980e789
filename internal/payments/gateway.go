package payments

import (
	"context"

	"github.com/angelmondragon/marketplace-backend/pkg/enums"
)

// AuthorizeOutcome is the gateway's verdict on an authorization attempt.
type AuthorizeOutcome string

const (
	OutcomeApproved    AuthorizeOutcome = "approved"
	OutcomeRequires3DS AuthorizeOutcome = "requires_3ds"
	OutcomeDeclined    AuthorizeOutcome = "declined"
)

// AuthorizeRequest carries what a gateway needs to place a hold.
type AuthorizeRequest struct {
	IntentID          uint
	OrderID           uint
	AmountCents       int64
	Currency          string
	PaymentToken      string
	VerificationToken string
	IdempotencyKey    string
}

// AuthorizeResult is returned by Authorize and Complete3DS.
type AuthorizeResult struct {
	Reference     string
	Outcome       AuthorizeOutcome
	RedirectURL   string
	DeclineReason string
	Raw           map[string]any
}

// ThreeDSRequest starts a 3-D Secure challenge.
type ThreeDSRequest struct {
	IntentID     uint
	AmountCents  int64
	Currency     string
	PaymentToken string
}

// ThreeDSSession is the redirect artifact handed to the buyer.
type ThreeDSSession struct {
	Reference   string
	RedirectURL string
	Raw         map[string]any
}

// RefundRequest refunds part of a captured payment.
type RefundRequest struct {
	Reference      string
	AmountCents    int64
	Currency       string
	Reason         string
	IdempotencyKey string
}

// Receipt acknowledges a capture, cancel or refund. RefundID is the
// provider's id for the refund and is empty for other operations.
type Receipt struct {
	Reference string
	RefundID  string
	Raw       map[string]any
}

// Gateway is the abstract payment provider. Implementations must be safe for
// concurrent use and honor ctx deadlines.
type Gateway interface {
	Provider() enums.PaymentProvider
	Authorize(ctx context.Context, req AuthorizeRequest) (*AuthorizeResult, error)
	Initialize3DS(ctx context.Context, req ThreeDSRequest) (*ThreeDSSession, error)
	Complete3DS(ctx context.Context, reference string, payload map[string]any) (*AuthorizeResult, error)
	Capture(ctx context.Context, reference string, amountCents int64, currency string) (*Receipt, error)
	Cancel(ctx context.Context, reference string) (*Receipt, error)
	Refund(ctx context.Context, req RefundRequest) (*Receipt, error)
}
