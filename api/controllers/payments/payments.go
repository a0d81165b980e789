package payments

import (
	"net/http"
	"strings"

	"github.com/angelmondragon/marketplace-backend/api/middleware"
	"github.com/angelmondragon/marketplace-backend/api/responses"
	"github.com/angelmondragon/marketplace-backend/api/validators"
	internalpayments "github.com/angelmondragon/marketplace-backend/internal/payments"
	"github.com/angelmondragon/marketplace-backend/pkg/auth"
	"github.com/angelmondragon/marketplace-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-backend/pkg/errors"
	"github.com/angelmondragon/marketplace-backend/pkg/logger"
)

type createIntentRequest struct {
	OrderID uint   `json:"order_id" validate:"required,gt=0"`
	Method  string `json:"method,omitempty" validate:"omitempty,oneof=card wallet bank_transfer"`
}

type authorizeRequest struct {
	PaymentToken      string `json:"payment_token" validate:"required,max=512"`
	VerificationToken string `json:"verification_token,omitempty" validate:"max=512"`
}

type cancelRequest struct {
	Reason string `json:"reason,omitempty" validate:"max=500"`
}

type refundRequest struct {
	AmountCents int64  `json:"amount_cents,omitempty" validate:"gte=0"`
	Reason      string `json:"reason,omitempty" validate:"max=500"`
}

type confirmRequest struct {
	Payload map[string]any `json:"payload,omitempty"`
}

type initialize3DSRequest struct {
	IntentID     uint   `json:"intent_id" validate:"required,gt=0"`
	PaymentToken string `json:"payment_token" validate:"required,max=512"`
}

type complete3DSRequest struct {
	Reference string         `json:"reference" validate:"required,max=255"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// CreateIntent opens the payment intent of a pending order.
func CreateIntent(svc internalpayments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payments service unavailable"))
			return
		}
		caller, err := middleware.RequestCaller(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var payload createIntentRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		intent, err := svc.CreateIntent(r.Context(), caller, internalpayments.CreateIntentInput{
			OrderID: payload.OrderID,
			Method:  enums.PaymentMethod(payload.Method),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, newIntentResponse(intent))
	}
}

// GetIntent returns one payment intent.
func GetIntent(svc internalpayments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, intentID, ok := intentRequest(w, r, svc, logg)
		if !ok {
			return
		}
		intent, err := svc.Get(r.Context(), caller, intentID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newIntentResponse(intent))
	}
}

// ListEvents returns the audit trail of a payment intent.
func ListEvents(svc internalpayments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, intentID, ok := intentRequest(w, r, svc, logg)
		if !ok {
			return
		}
		events, err := svc.ListEvents(r.Context(), caller, intentID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newEventResponses(events))
	}
}

// Authorize submits the tokenized card. Declines are returned as a failed intent, not an error.
func Authorize(svc internalpayments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, intentID, ok := intentRequest(w, r, svc, logg)
		if !ok {
			return
		}
		var payload authorizeRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		intent, err := svc.Authorize(r.Context(), caller, intentID, internalpayments.AuthorizeInput{
			PaymentToken:      strings.TrimSpace(payload.PaymentToken),
			VerificationToken: strings.TrimSpace(payload.VerificationToken),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newIntentResponse(intent))
	}
}

func Capture(svc internalpayments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, intentID, ok := intentRequest(w, r, svc, logg)
		if !ok {
			return
		}
		intent, err := svc.Capture(r.Context(), caller, intentID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newIntentResponse(intent))
	}
}

func Cancel(svc internalpayments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, intentID, ok := intentRequest(w, r, svc, logg)
		if !ok {
			return
		}
		var payload cancelRequest
		if err := validators.DecodeOptionalJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		intent, err := svc.Cancel(r.Context(), caller, intentID, validators.SanitizeString(payload.Reason, 500))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newIntentResponse(intent))
	}
}

// Refund refunds part or all of a captured payment. A zero amount refunds the remainder.
func Refund(svc internalpayments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, intentID, ok := intentRequest(w, r, svc, logg)
		if !ok {
			return
		}
		var payload refundRequest
		if err := validators.DecodeOptionalJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		intent, err := svc.Refund(r.Context(), caller, intentID, internalpayments.RefundInput{
			AmountCents: payload.AmountCents,
			Reason:      validators.SanitizeString(payload.Reason, 500),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newIntentResponse(intent))
	}
}

// Confirm3DS completes a challenge from the buyer's session.
func Confirm3DS(svc internalpayments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, intentID, ok := intentRequest(w, r, svc, logg)
		if !ok {
			return
		}
		var payload confirmRequest
		if err := validators.DecodeOptionalJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		intent, err := svc.Confirm3DS(r.Context(), caller, intentID, payload.Payload)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newIntentResponse(intent))
	}
}

// Initialize3DS opens a challenge up front and returns the redirect.
func Initialize3DS(svc internalpayments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payments service unavailable"))
			return
		}
		caller, err := middleware.RequestCaller(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var payload initialize3DSRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		start, err := svc.Initialize3DS(r.Context(), caller, payload.IntentID, strings.TrimSpace(payload.PaymentToken))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newThreeDSResponse(start))
	}
}

// Complete3DS is the unauthenticated return leg from the issuer, keyed by gateway reference.
func Complete3DS(svc internalpayments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payments service unavailable"))
			return
		}
		var payload complete3DSRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		intent, err := svc.Complete3DSecure(r.Context(), strings.TrimSpace(payload.Reference), payload.Payload)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newIntentResponse(intent))
	}
}

func intentRequest(w http.ResponseWriter, r *http.Request, svc internalpayments.Service, logg *logger.Logger) (auth.Caller, uint, bool) {
	if svc == nil {
		responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payments service unavailable"))
		return auth.Caller{}, 0, false
	}
	caller, err := middleware.RequestCaller(r)
	if err != nil {
		responses.WriteError(r.Context(), logg, w, err)
		return auth.Caller{}, 0, false
	}
	intentID, err := validators.ParseIDParam(r, "intentId")
	if err != nil {
		responses.WriteError(r.Context(), logg, w, err)
		return auth.Caller{}, 0, false
	}
	return caller, intentID, true
}
