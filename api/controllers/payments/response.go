package payments

import (
	"encoding/json"
	"time"

	internalpayments "github.com/angelmondragon/marketplace-backend/internal/payments"
	"github.com/angelmondragon/marketplace-backend/pkg/db/models"
)

type intentResponse struct {
	ID                  uint       `json:"id"`
	OrderID             uint       `json:"order_id"`
	Status              string     `json:"status"`
	Method              string     `json:"method"`
	Provider            string     `json:"provider"`
	AmountCents         int64      `json:"amount_cents"`
	RefundedAmountCents int64      `json:"refunded_amount_cents"`
	Currency            string     `json:"currency"`
	Requires3DS         bool       `json:"requires_3ds"`
	RedirectURL         *string    `json:"redirect_url,omitempty"`
	FailureReason       *string    `json:"failure_reason,omitempty"`
	AuthorizedAt        *time.Time `json:"authorized_at,omitempty"`
	CapturedAt          *time.Time `json:"captured_at,omitempty"`
	CancelledAt         *time.Time `json:"cancelled_at,omitempty"`
	RefundedAt          *time.Time `json:"refunded_at,omitempty"`
	FailedAt            *time.Time `json:"failed_at,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

type eventResponse struct {
	ID          uint            `json:"id"`
	FromStatus  *string         `json:"from_status,omitempty"`
	Status      string          `json:"status"`
	Source      string          `json:"source"`
	AmountCents int64           `json:"amount_cents"`
	Reason      *string         `json:"reason,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

type threeDSResponse struct {
	Intent      intentResponse `json:"intent"`
	Reference   string         `json:"reference"`
	RedirectURL string         `json:"redirect_url"`
}

func newIntentResponse(p *models.PaymentIntent) intentResponse {
	if p == nil {
		return intentResponse{}
	}
	return intentResponse{
		ID:                  p.ID,
		OrderID:             p.OrderID,
		Status:              string(p.Status),
		Method:              string(p.Method),
		Provider:            string(p.Provider),
		AmountCents:         p.AmountCents,
		RefundedAmountCents: p.RefundedAmountCents,
		Currency:            p.Currency,
		Requires3DS:         p.Requires3DS,
		RedirectURL:         p.RedirectURL,
		FailureReason:       p.FailureReason,
		AuthorizedAt:        p.AuthorizedAt,
		CapturedAt:          p.CapturedAt,
		CancelledAt:         p.CancelledAt,
		RefundedAt:          p.RefundedAt,
		FailedAt:            p.FailedAt,
		CreatedAt:           p.CreatedAt,
		UpdatedAt:           p.UpdatedAt,
	}
}

func newEventResponses(events []models.PaymentEvent) []eventResponse {
	out := make([]eventResponse, 0, len(events))
	for _, ev := range events {
		var from *string
		if ev.FromStatus != nil {
			s := string(*ev.FromStatus)
			from = &s
		}
		var payload json.RawMessage
		if ev.Payload != "" && json.Valid([]byte(ev.Payload)) {
			payload = json.RawMessage(ev.Payload)
		}
		out = append(out, eventResponse{
			ID:          ev.ID,
			FromStatus:  from,
			Status:      string(ev.Status),
			Source:      string(ev.Source),
			AmountCents: ev.AmountCents,
			Reason:      ev.Reason,
			Payload:     payload,
			CreatedAt:   ev.CreatedAt,
		})
	}
	return out
}

func newThreeDSResponse(start *internalpayments.ThreeDSStart) threeDSResponse {
	if start == nil {
		return threeDSResponse{}
	}
	return threeDSResponse{
		Intent:      newIntentResponse(&start.Intent),
		Reference:   start.Reference,
		RedirectURL: start.RedirectURL,
	}
}
