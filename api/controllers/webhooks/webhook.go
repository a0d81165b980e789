package webhooks

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/marketplace-backend/api/responses"
	"github.com/angelmondragon/marketplace-backend/api/validators"
	internalwebhooks "github.com/angelmondragon/marketplace-backend/internal/webhooks"
	"github.com/angelmondragon/marketplace-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/marketplace-backend/pkg/errors"
	"github.com/angelmondragon/marketplace-backend/pkg/logger"
	"github.com/angelmondragon/marketplace-backend/pkg/pagination"
)

const maxWebhookBody = 1 << 20

type webhookEventResponse struct {
	ID              uint            `json:"id"`
	Provider        string          `json:"provider"`
	EventID         string          `json:"event_id"`
	EventType       string          `json:"event_type"`
	PaymentIntentID *uint           `json:"payment_intent_id,omitempty"`
	Outcome         string          `json:"outcome"`
	Detail          *string         `json:"detail,omitempty"`
	Payload         json.RawMessage `json:"payload"`
	CreatedAt       time.Time       `json:"created_at"`
}

type reconciliationResponse struct {
	Events     []webhookEventResponse `json:"events"`
	NextCursor string                 `json:"next_cursor,omitempty"`
}

func newWebhookEventResponse(e models.WebhookEvent) webhookEventResponse {
	payload := json.RawMessage(e.Payload)
	if !json.Valid(payload) {
		payload = json.RawMessage("{}")
	}
	return webhookEventResponse{
		ID:              e.ID,
		Provider:        string(e.Provider),
		EventID:         e.EventID,
		EventType:       e.EventType,
		PaymentIntentID: e.PaymentIntentID,
		Outcome:         string(e.Outcome),
		Detail:          e.Detail,
		Payload:         payload,
		CreatedAt:       e.CreatedAt,
	}
}

// Receive accepts a signed provider callback. Duplicates and events the
// engine cannot apply are still acknowledged so the provider stops retrying.
func Receive(processor internalwebhooks.Processor, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if processor == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook processor unavailable"))
			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request body"))
			return
		}

		provider := strings.TrimSpace(chi.URLParam(r, "provider"))
		signature := strings.TrimSpace(r.Header.Get(internalwebhooks.SignatureHeader))
		if signature == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "webhook signature missing"))
			return
		}

		result, err := processor.Process(ctx, provider, signature, body)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteRaw(w, http.StatusOK, map[string]any{
			"received":  true,
			"event_id":  result.EventID,
			"outcome":   string(result.Outcome),
			"duplicate": result.Duplicate,
		})
	}
}

// Reconciliation lists rejected callbacks awaiting manual review.
func Reconciliation(processor internalwebhooks.Processor, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if processor == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook processor unavailable"))
			return
		}
		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		rows, next, err := processor.Reconciliation(r.Context(), pagination.Params{
			Limit:  limit,
			Cursor: strings.TrimSpace(r.URL.Query().Get("cursor")),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		out := reconciliationResponse{Events: make([]webhookEventResponse, 0, len(rows)), NextCursor: next}
		for _, row := range rows {
			out.Events = append(out.Events, newWebhookEventResponse(row))
		}
		responses.WriteSuccess(w, out)
	}
}
