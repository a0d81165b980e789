package validators

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/angelmondragon/marketplace-backend/pkg/errors"
)

type refundBody struct {
	AmountCents int64  `json:"amount_cents" validate:"gte=0"`
	Reason      string `json:"reason" validate:"max=10"`
	Carrier     string `json:"carrier" validate:"required"`
}

func TestDecodeJSONBodyReportsFieldErrors(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"amount_cents":-1,"reason":"way too long a reason"}`))
	var body refundBody
	err := DecodeJSONBody(req, &body)
	require.Error(t, err)

	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeValidation, typed.Code())
	details, ok := typed.Details().(map[string]string)
	require.True(t, ok)
	assert.Equal(t, "must be at least 0", details["amount_cents"])
	assert.Equal(t, "must be at most 10", details["reason"])
	assert.Equal(t, "is required", details["carrier"])
}

func TestDecodeJSONBodyRejectsUnknownFields(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"carrier":"ups","extra":true}`))
	var body refundBody
	err := DecodeJSONBody(req, &body)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestParseIDParam(t *testing.T) {
	build := func(value string) *http.Request {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rc := chi.NewRouteContext()
		rc.URLParams.Add("orderId", value)
		return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rc))
	}

	id, err := ParseIDParam(build("17"), "orderId")
	require.NoError(t, err)
	assert.Equal(t, uint(17), id)

	for _, bad := range []string{"", "0", "-3", "abc"} {
		_, err := ParseIDParam(build(bad), "orderId")
		assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation), bad)
	}
}

func TestParseQueryIntBounds(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?limit=500", nil)
	_, err := ParseQueryInt(req, "limit", 25, 1, 100)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	v, err := ParseQueryInt(req, "limit", 25, 1, 100)
	require.NoError(t, err)
	assert.Equal(t, 25, v)
}

func TestDecodeJSONBodyEmptyAndTrailingInput(t *testing.T) {
	var body refundBody
	err := DecodeJSONBody(httptest.NewRequest(http.MethodPost, "/", http.NoBody), &body)
	require.Error(t, err)
	assert.Equal(t, "request body required", pkgerrors.As(err).Message())

	var optional struct {
		Reason string `json:"reason" validate:"max=5"`
	}
	require.NoError(t, DecodeOptionalJSONBody(httptest.NewRequest(http.MethodPost, "/", http.NoBody), &optional))
	assert.Empty(t, optional.Reason)

	err = DecodeOptionalJSONBody(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"reason":"ok"}{"reason":"x"}`)), &optional)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestDecodeJSONBodyRejectsOversizedBody(t *testing.T) {
	huge := `{"carrier":"` + strings.Repeat("a", MaxBodyBytes) + `"}`
	var body refundBody
	err := DecodeJSONBody(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(huge)), &body)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestSanitizeStringKeepsRunesWhole(t *testing.T) {
	assert.Equal(t, "abc", SanitizeString("  abc  ", 0))
	assert.Equal(t, "ab", SanitizeString("abcdef", 2))
	// "é" is two bytes; cutting at 2 would split it.
	assert.Equal(t, "a", SanitizeString("aé", 2))
}
