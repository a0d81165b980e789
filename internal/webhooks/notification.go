package webhooks

import (
	"encoding/json"
	"strings"

	"github.com/angelmondragon/marketplace-backend/internal/payments"
	"github.com/angelmondragon/marketplace-backend/pkg/enums"
)

// Notification is a provider callback decoded into the payments vocabulary.
// Action is empty when the event type has no mapping.
type Notification struct {
	EventID     string
	EventType   string
	Reference   string
	Action      payments.ExternalAction
	AmountCents int64
	RefundID    string
	Reason      string
	Payload     map[string]any
}

// Mapped reports whether the event maps onto a payment action.
func (n Notification) Mapped() bool {
	return n.Action != "" && n.Reference != ""
}

type decoder func(body []byte) (*Notification, error)

var decoders = map[enums.PaymentProvider]decoder{
	enums.PaymentProviderSandbox: decodeSandbox,
	enums.PaymentProviderSquare:  decodeSquare,
}

type sandboxEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Reference   string `json:"reference"`
		AmountCents int64  `json:"amount_cents"`
		RefundID    string `json:"refund_id"`
		Reason      string `json:"reason"`
	} `json:"data"`
}

var sandboxActions = map[string]payments.ExternalAction{
	"payment.authorized":      payments.ActionAuthorize,
	"payment.requires_action": payments.ActionRequire3DS,
	"payment.captured":        payments.ActionCapture,
	"payment.failed":          payments.ActionFail,
	"payment.cancelled":       payments.ActionCancel,
	"payment.refunded":        payments.ActionRefund,
}

func decodeSandbox(body []byte) (*Notification, error) {
	var event sandboxEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, err
	}
	n := &Notification{
		EventID:     strings.TrimSpace(event.ID),
		EventType:   strings.ToLower(strings.TrimSpace(event.Type)),
		Reference:   strings.TrimSpace(event.Data.Reference),
		AmountCents: event.Data.AmountCents,
		RefundID:    strings.TrimSpace(event.Data.RefundID),
		Reason:      event.Data.Reason,
	}
	n.Action = sandboxActions[n.EventType]
	return n, nil
}

type squareMoney struct {
	Amount int64 `json:"amount"`
}

type squareEvent struct {
	EventID string `json:"event_id"`
	Type    string `json:"type"`
	Data    struct {
		ID     string `json:"id"`
		Object struct {
			Payment *struct {
				ID     string `json:"id"`
				Status string `json:"status"`
			} `json:"payment"`
			Refund *struct {
				ID          string       `json:"id"`
				PaymentID   string       `json:"payment_id"`
				Status      string       `json:"status"`
				Reason      string       `json:"reason"`
				AmountMoney *squareMoney `json:"amount_money"`
			} `json:"refund"`
		} `json:"object"`
	} `json:"data"`
}

var squarePaymentActions = map[string]payments.ExternalAction{
	"APPROVED":  payments.ActionAuthorize,
	"COMPLETED": payments.ActionCapture,
	"CANCELED":  payments.ActionCancel,
	"FAILED":    payments.ActionFail,
}

// decodeSquare understands payment.created/updated and refund.created/updated.
// Payment events map on the payment status; refunds only once COMPLETED.
func decodeSquare(body []byte) (*Notification, error) {
	var event squareEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, err
	}
	n := &Notification{
		EventID:   strings.TrimSpace(event.EventID),
		EventType: strings.ToLower(strings.TrimSpace(event.Type)),
	}
	obj := event.Data.Object
	switch {
	case strings.HasPrefix(n.EventType, "payment.") && obj.Payment != nil:
		n.Reference = obj.Payment.ID
		n.Action = squarePaymentActions[strings.ToUpper(obj.Payment.Status)]
		if n.Action == payments.ActionFail {
			n.Reason = "square_failed"
		}
	case strings.HasPrefix(n.EventType, "refund.") && obj.Refund != nil:
		n.Reference = obj.Refund.PaymentID
		if strings.EqualFold(obj.Refund.Status, "COMPLETED") {
			n.Action = payments.ActionRefund
			n.RefundID = strings.TrimSpace(obj.Refund.ID)
			n.Reason = obj.Refund.Reason
			if obj.Refund.AmountMoney != nil {
				n.AmountCents = obj.Refund.AmountMoney.Amount
			}
		}
	}
	return n, nil
}
