package payments

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/angelmondragon/marketplace-backend/pkg/enums"
)

// Sandbox payment tokens understood by SandboxGateway.Authorize.
const (
	SandboxTokenApprove      = "tok_approve"
	SandboxToken3DS          = "tok_3ds"
	SandboxTokenDecline      = "tok_decline"
	SandboxTokenInsufficient = "tok_insufficient_funds"
	SandboxTokenTimeout      = "tok_timeout"
	SandboxTokenError        = "tok_error"
)

// ErrSandboxUnavailable is returned for SandboxTokenError and injected failures.
var ErrSandboxUnavailable = errors.New("sandbox gateway unavailable")

// SandboxGateway is an in-process deterministic gateway. The payment token picks
// the outcome; anything unrecognised is approved.
type SandboxGateway struct {
	returnURL string

	mu       sync.Mutex
	failNext map[string]error
}

// NewSandboxGateway builds the sandbox. returnURL is where 3DS challenges send the buyer back.
func NewSandboxGateway(returnURL string) *SandboxGateway {
	return &SandboxGateway{returnURL: returnURL, failNext: map[string]error{}}
}

// FailNext makes the next call to op ("capture", "cancel", "refund", "complete_3ds") return err.
func (g *SandboxGateway) FailNext(op string, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failNext[op] = err
}

func (g *SandboxGateway) takeFailure(op string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	err, ok := g.failNext[op]
	if !ok {
		return nil
	}
	delete(g.failNext, op)
	return err
}

func (g *SandboxGateway) Provider() enums.PaymentProvider {
	return enums.PaymentProviderSandbox
}

func newSandboxReference() string {
	return "sbx_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

func (g *SandboxGateway) redirectFor(reference string) string {
	base := g.returnURL
	if base == "" {
		base = "https://sandbox.invalid/3ds"
	}
	u, err := url.Parse(base)
	if err != nil {
		return base + "?reference=" + url.QueryEscape(reference)
	}
	q := u.Query()
	q.Set("reference", reference)
	u.RawQuery = q.Encode()
	return u.String()
}

func (g *SandboxGateway) Authorize(ctx context.Context, req AuthorizeRequest) (*AuthorizeResult, error) {
	token := strings.TrimSpace(req.PaymentToken)
	switch token {
	case SandboxTokenTimeout:
		<-ctx.Done()
		return nil, ctx.Err()
	case SandboxTokenError:
		return nil, ErrSandboxUnavailable
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ref := newSandboxReference()
	raw := map[string]any{"id": ref, "amount": req.AmountCents, "currency": req.Currency}
	switch token {
	case SandboxToken3DS:
		redirect := g.redirectFor(ref)
		raw["status"] = "pending_authentication"
		raw["redirect_url"] = redirect
		return &AuthorizeResult{Reference: ref, Outcome: OutcomeRequires3DS, RedirectURL: redirect, Raw: raw}, nil
	case SandboxTokenDecline:
		raw["status"] = "declined"
		return &AuthorizeResult{Reference: ref, Outcome: OutcomeDeclined, DeclineReason: "card_declined", Raw: raw}, nil
	case SandboxTokenInsufficient:
		raw["status"] = "declined"
		return &AuthorizeResult{Reference: ref, Outcome: OutcomeDeclined, DeclineReason: "insufficient_funds", Raw: raw}, nil
	}
	raw["status"] = "authorized"
	return &AuthorizeResult{Reference: ref, Outcome: OutcomeApproved, Raw: raw}, nil
}

func (g *SandboxGateway) Initialize3DS(ctx context.Context, req ThreeDSRequest) (*ThreeDSSession, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := g.takeFailure("initialize_3ds"); err != nil {
		return nil, err
	}
	ref := newSandboxReference()
	redirect := g.redirectFor(ref)
	return &ThreeDSSession{
		Reference:   ref,
		RedirectURL: redirect,
		Raw:         map[string]any{"id": ref, "status": "pending_authentication", "redirect_url": redirect},
	}, nil
}

// Complete3DS approves unless the bank callback payload carries result=failed.
func (g *SandboxGateway) Complete3DS(ctx context.Context, reference string, payload map[string]any) (*AuthorizeResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := g.takeFailure("complete_3ds"); err != nil {
		return nil, err
	}
	raw := map[string]any{"id": reference}
	if result, _ := payload["result"].(string); strings.EqualFold(result, "failed") {
		raw["status"] = "declined"
		return &AuthorizeResult{Reference: reference, Outcome: OutcomeDeclined, DeclineReason: "three_ds_failed", Raw: raw}, nil
	}
	raw["status"] = "authorized"
	return &AuthorizeResult{Reference: reference, Outcome: OutcomeApproved, Raw: raw}, nil
}

func (g *SandboxGateway) Capture(ctx context.Context, reference string, amountCents int64, currency string) (*Receipt, error) {
	return g.receipt(ctx, "capture", reference, map[string]any{"amount": amountCents, "currency": currency, "status": "captured"})
}

func (g *SandboxGateway) Cancel(ctx context.Context, reference string) (*Receipt, error) {
	return g.receipt(ctx, "cancel", reference, map[string]any{"status": "cancelled"})
}

// Refund derives the refund id from the idempotency key, so a retried refund
// reports the same id the way a real provider does.
func (g *SandboxGateway) Refund(ctx context.Context, req RefundRequest) (*Receipt, error) {
	refundID := "sbx_rf_" + uuid.NewSHA1(uuid.NameSpaceOID, []byte(req.Reference+"/"+req.IdempotencyKey)).String()
	receipt, err := g.receipt(ctx, "refund", req.Reference, map[string]any{"amount": req.AmountCents, "currency": req.Currency, "status": "refunded", "refund_id": refundID})
	if err != nil {
		return nil, err
	}
	receipt.RefundID = refundID
	return receipt, nil
}

func (g *SandboxGateway) receipt(ctx context.Context, op, reference string, raw map[string]any) (*Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := g.takeFailure(op); err != nil {
		return nil, err
	}
	raw["id"] = reference
	return &Receipt{Reference: reference, Raw: raw}, nil
}
