package payments

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/marketplace-backend/api/middleware"
	internalpayments "github.com/angelmondragon/marketplace-backend/internal/payments"
	"github.com/angelmondragon/marketplace-backend/pkg/auth"
	"github.com/angelmondragon/marketplace-backend/pkg/db/models"
	"github.com/angelmondragon/marketplace-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-backend/pkg/errors"
)

// stubPayments embeds the interface so only the methods under test need bodies.
type stubPayments struct {
	internalpayments.Service
	authorize func(caller auth.Caller, id uint, in internalpayments.AuthorizeInput) (*models.PaymentIntent, error)
	refund    func(caller auth.Caller, id uint, in internalpayments.RefundInput) (*models.PaymentIntent, error)
	complete  func(reference string, payload map[string]any) (*models.PaymentIntent, error)
	events    []models.PaymentEvent
}

func (s *stubPayments) Authorize(_ context.Context, caller auth.Caller, id uint, in internalpayments.AuthorizeInput) (*models.PaymentIntent, error) {
	return s.authorize(caller, id, in)
}

func (s *stubPayments) Refund(_ context.Context, caller auth.Caller, id uint, in internalpayments.RefundInput) (*models.PaymentIntent, error) {
	return s.refund(caller, id, in)
}

func (s *stubPayments) Complete3DSecure(_ context.Context, reference string, payload map[string]any) (*models.PaymentIntent, error) {
	return s.complete(reference, payload)
}

func (s *stubPayments) ListEvents(context.Context, auth.Caller, uint) ([]models.PaymentEvent, error) {
	return s.events, nil
}

var buyer = auth.Caller{UserID: 7, Role: enums.RoleBuyer}

func intentReq(method, body string, caller *auth.Caller, intentID string) *http.Request {
	req := httptest.NewRequest(method, "/", strings.NewReader(body))
	rc := chi.NewRouteContext()
	if intentID != "" {
		rc.URLParams.Add("intentId", intentID)
	}
	ctx := context.WithValue(req.Context(), chi.RouteCtxKey, rc)
	if caller != nil {
		ctx = middleware.WithCaller(ctx, *caller)
	}
	return req.WithContext(ctx)
}

func decodeIntent(t *testing.T, resp *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body struct {
		Data map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	return body.Data
}

func TestAuthorizeDeclineIsNotAnError(t *testing.T) {
	reason := "card_declined"
	svc := &stubPayments{
		authorize: func(caller auth.Caller, id uint, in internalpayments.AuthorizeInput) (*models.PaymentIntent, error) {
			assert.Equal(t, uint(5), id)
			assert.Equal(t, "tok_decline", in.PaymentToken)
			return &models.PaymentIntent{ID: 5, Status: enums.PaymentStatusFailed, FailureReason: &reason}, nil
		},
	}
	resp := httptest.NewRecorder()
	Authorize(svc, nil).ServeHTTP(resp, intentReq(http.MethodPost, `{"payment_token":" tok_decline "}`, &buyer, "5"))

	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	data := decodeIntent(t, resp)
	assert.Equal(t, "failed", data["status"])
	assert.Equal(t, "card_declined", data["failure_reason"])
}

func TestAuthorizeIllegalTransitionIsConflict(t *testing.T) {
	svc := &stubPayments{
		authorize: func(auth.Caller, uint, internalpayments.AuthorizeInput) (*models.PaymentIntent, error) {
			return nil, pkgerrors.New(pkgerrors.CodeConflict, "illegal transition captured -> authorized")
		},
	}
	resp := httptest.NewRecorder()
	Authorize(svc, nil).ServeHTTP(resp, intentReq(http.MethodPost, `{"payment_token":"tok_approve"}`, &buyer, "5"))
	assert.Equal(t, http.StatusConflict, resp.Code)
}

func TestRefundDefaultsToRemainder(t *testing.T) {
	admin := auth.Caller{UserID: 1, Role: enums.RoleAdmin}
	var got internalpayments.RefundInput
	svc := &stubPayments{
		refund: func(caller auth.Caller, id uint, in internalpayments.RefundInput) (*models.PaymentIntent, error) {
			got = in
			return &models.PaymentIntent{ID: id, Status: enums.PaymentStatusRefunded, AmountCents: 500, RefundedAmountCents: 500}, nil
		},
	}
	resp := httptest.NewRecorder()
	Refund(svc, nil).ServeHTTP(resp, intentReq(http.MethodPost, "", &admin, "9"))
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Zero(t, got.AmountCents)

	resp = httptest.NewRecorder()
	Refund(svc, nil).ServeHTTP(resp, intentReq(http.MethodPost, `{"amount_cents":-5}`, &admin, "9"))
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestComplete3DSNeedsNoCaller(t *testing.T) {
	svc := &stubPayments{
		complete: func(reference string, payload map[string]any) (*models.PaymentIntent, error) {
			assert.Equal(t, "sbx_abc", reference)
			assert.Equal(t, "succeeded", payload["result"])
			return &models.PaymentIntent{ID: 3, Status: enums.PaymentStatusAuthorized}, nil
		},
	}
	resp := httptest.NewRecorder()
	Complete3DS(svc, nil).ServeHTTP(resp, intentReq(http.MethodPost, `{"reference":"sbx_abc","payload":{"result":"succeeded"}}`, nil, ""))
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	assert.Equal(t, "authorized", decodeIntent(t, resp)["status"])
}

func TestListEventsRendersPayload(t *testing.T) {
	from := enums.PaymentStatusCreated
	svc := &stubPayments{events: []models.PaymentEvent{
		{ID: 1, FromStatus: &from, Status: enums.PaymentStatusAuthorized, Source: enums.PaymentEventSourceAPI, Payload: `{"reference":"sbx_1"}`},
	}}
	resp := httptest.NewRecorder()
	ListEvents(svc, nil).ServeHTTP(resp, intentReq(http.MethodGet, "", &buyer, "4"))
	require.Equal(t, http.StatusOK, resp.Code)

	var body struct {
		Data []struct {
			FromStatus string         `json:"from_status"`
			Status     string         `json:"status"`
			Payload    map[string]any `json:"payload"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	require.Len(t, body.Data, 1)
	assert.Equal(t, "created", body.Data[0].FromStatus)
	assert.Equal(t, "sbx_1", body.Data[0].Payload["reference"])
}

func TestIntentRoutesRequireCallerAndID(t *testing.T) {
	svc := &stubPayments{}
	resp := httptest.NewRecorder()
	Capture(svc, nil).ServeHTTP(resp, intentReq(http.MethodPost, "", nil, "4"))
	assert.Equal(t, http.StatusUnauthorized, resp.Code)

	resp = httptest.NewRecorder()
	Capture(svc, nil).ServeHTTP(resp, intentReq(http.MethodPost, "", &buyer, "x"))
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}
