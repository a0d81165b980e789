package payments

import (
	"context"
	"strconv"
	"strings"

	sq "github.com/square/square-go-sdk"

	"github.com/angelmondragon/marketplace-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-backend/pkg/errors"
	"github.com/angelmondragon/marketplace-backend/pkg/square"
)

type squarePayments interface {
	AuthorizePayment(ctx context.Context, params square.PaymentAuthorizeParams) (*sq.Payment, error)
	CompletePayment(ctx context.Context, paymentID string) (*sq.Payment, error)
	CancelPayment(ctx context.Context, paymentID string) (*sq.Payment, error)
	RefundPayment(ctx context.Context, params square.RefundParams) (*sq.PaymentRefund, error)
	DeclineCode(err error) (string, bool)
}

// SquareGateway adapts the Square Payments API. Square runs buyer verification
// in the Web Payments SDK, so card holds arrive with a verification token and
// the server-side 3DS redirect flow is not offered.
type SquareGateway struct {
	client squarePayments
}

// NewSquareGateway wraps a Square client.
func NewSquareGateway(client squarePayments) *SquareGateway {
	return &SquareGateway{client: client}
}

func (g *SquareGateway) Provider() enums.PaymentProvider {
	return enums.PaymentProviderSquare
}

func (g *SquareGateway) Authorize(ctx context.Context, req AuthorizeRequest) (*AuthorizeResult, error) {
	payment, err := g.client.AuthorizePayment(ctx, square.PaymentAuthorizeParams{
		AmountCents:       req.AmountCents,
		Currency:          req.Currency,
		SourceID:          req.PaymentToken,
		VerificationToken: req.VerificationToken,
		ReferenceID:       strconv.FormatUint(uint64(req.OrderID), 10),
		IdempotencyKey:    req.IdempotencyKey,
	})
	if err != nil {
		if code, ok := g.client.DeclineCode(err); ok {
			return &AuthorizeResult{Outcome: OutcomeDeclined, DeclineReason: code, Raw: map[string]any{"error": code}}, nil
		}
		return nil, err
	}
	ref, status := paymentFields(payment)
	raw := map[string]any{"id": ref, "status": status}
	switch strings.ToUpper(status) {
	case "APPROVED", "COMPLETED":
		return &AuthorizeResult{Reference: ref, Outcome: OutcomeApproved, Raw: raw}, nil
	case "PENDING":
		return &AuthorizeResult{Reference: ref, Outcome: OutcomeRequires3DS, Raw: raw}, nil
	default:
		return &AuthorizeResult{Reference: ref, Outcome: OutcomeDeclined, DeclineReason: strings.ToLower(status), Raw: raw}, nil
	}
}

func (g *SquareGateway) Initialize3DS(context.Context, ThreeDSRequest) (*ThreeDSSession, error) {
	return nil, pkgerrors.New(pkgerrors.CodeValidation, "square verifies buyers client-side; authorize with a verification token instead")
}

func (g *SquareGateway) Complete3DS(context.Context, string, map[string]any) (*AuthorizeResult, error) {
	return nil, pkgerrors.New(pkgerrors.CodeValidation, "square verifies buyers client-side; authorize with a verification token instead")
}

func (g *SquareGateway) Capture(ctx context.Context, reference string, _ int64, _ string) (*Receipt, error) {
	payment, err := g.client.CompletePayment(ctx, reference)
	if err != nil {
		return nil, err
	}
	ref, status := paymentFields(payment)
	return &Receipt{Reference: ref, Raw: map[string]any{"id": ref, "status": status}}, nil
}

func (g *SquareGateway) Cancel(ctx context.Context, reference string) (*Receipt, error) {
	payment, err := g.client.CancelPayment(ctx, reference)
	if err != nil {
		return nil, err
	}
	ref, status := paymentFields(payment)
	return &Receipt{Reference: ref, Raw: map[string]any{"id": ref, "status": status}}, nil
}

func (g *SquareGateway) Refund(ctx context.Context, req RefundRequest) (*Receipt, error) {
	refund, err := g.client.RefundPayment(ctx, square.RefundParams{
		PaymentID:      req.Reference,
		AmountCents:    req.AmountCents,
		Currency:       req.Currency,
		Reason:         req.Reason,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		return nil, err
	}
	refundID := refund.GetID()
	return &Receipt{
		Reference: req.Reference,
		RefundID:  refundID,
		Raw:       map[string]any{"payment_id": req.Reference, "refund_id": refundID, "amount": req.AmountCents},
	}, nil
}

func paymentFields(payment *sq.Payment) (string, string) {
	if payment == nil {
		return "", ""
	}
	var id, status string
	if v := payment.GetID(); v != nil {
		id = *v
	}
	if v := payment.GetStatus(); v != nil {
		status = *v
	}
	return id, status
}
