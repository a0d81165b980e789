package square

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	sq "github.com/square/square-go-sdk"
	sqclient "github.com/square/square-go-sdk/client"
	sqcore "github.com/square/square-go-sdk/core"
	sqoption "github.com/square/square-go-sdk/option"

	"github.com/angelmondragon/marketplace-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/marketplace-backend/pkg/errors"
	"github.com/angelmondragon/marketplace-backend/pkg/logger"
)

const (
	sandboxEnv    = "sandbox"
	productionEnv = "production"
)

var baseURLs = map[string]string{
	sandboxEnv:    "https://connect.squareupsandbox.com",
	productionEnv: "https://connect.squareup.com",
}

var sensitiveKeys = []string{"card", "nonce", "source", "token", "cvv", "cvc", "secret", "email", "phone"}

// Client is the slice of the Square Payments and Refunds APIs used for
// delayed-capture card payments at a single location.
type Client struct {
	sdk        *sqclient.Client
	locationID string
	logg       *logger.Logger
}

func NewClient(ctx context.Context, cfg config.SquareConfig, logg *logger.Logger) (*Client, error) {
	env := cfg.Environment()
	baseURL, known := baseURLs[env]
	token := strings.TrimSpace(cfg.AccessToken)
	location := strings.TrimSpace(cfg.LocationID)
	switch {
	case logg == nil:
		return nil, errors.New("square logger is required")
	case !known:
		return nil, fmt.Errorf("square environment must be %q or %q", sandboxEnv, productionEnv)
	case token == "":
		return nil, errors.New("square access token is required")
	case location == "":
		return nil, errors.New("square location id is required")
	}

	c := &Client{
		sdk:        sqclient.NewClient(sqoption.WithBaseURL(baseURL), sqoption.WithToken(token)),
		locationID: location,
		logg:       logg,
	}
	logg.Info(logg.WithField(ctx, "square_env", env), "square client initialized")
	return c, nil
}

// AuthorizePayment places a hold (autocomplete off). The payment stays
// APPROVED until CompletePayment or CancelPayment.
func (c *Client) AuthorizePayment(ctx context.Context, params PaymentAuthorizeParams) (*sq.Payment, error) {
	req := params.toSquareRequest(idempotencyKey("payment.authorize", params.IdempotencyKey), c.locationID)
	fields := map[string]any{
		"reference_id": params.ReferenceID,
		"amount":       params.AmountCents,
		"source_id":    params.SourceID,
	}
	return call(ctx, c, "authorize_payment", fields, func(ctx context.Context) (*sq.Payment, error) {
		resp, err := c.sdk.Payments.Create(ctx, req)
		if err != nil {
			return nil, err
		}
		return resp.GetPayment(), nil
	})
}

func (c *Client) CompletePayment(ctx context.Context, paymentID string) (*sq.Payment, error) {
	return call(ctx, c, "complete_payment", map[string]any{"payment_id": paymentID}, func(ctx context.Context) (*sq.Payment, error) {
		resp, err := c.sdk.Payments.Complete(ctx, &sq.CompletePaymentRequest{PaymentID: paymentID})
		if err != nil {
			return nil, err
		}
		return resp.GetPayment(), nil
	})
}

// CancelPayment voids an approved hold.
func (c *Client) CancelPayment(ctx context.Context, paymentID string) (*sq.Payment, error) {
	return call(ctx, c, "cancel_payment", map[string]any{"payment_id": paymentID}, func(ctx context.Context) (*sq.Payment, error) {
		resp, err := c.sdk.Payments.Cancel(ctx, &sq.CancelPaymentsRequest{PaymentID: paymentID})
		if err != nil {
			return nil, err
		}
		return resp.GetPayment(), nil
	})
}

func (c *Client) RefundPayment(ctx context.Context, params RefundParams) (*sq.PaymentRefund, error) {
	req := params.toSquareRequest(idempotencyKey("payment.refund", params.IdempotencyKey))
	fields := map[string]any{"payment_id": params.PaymentID, "amount": params.AmountCents}
	return call(ctx, c, "refund_payment", fields, func(ctx context.Context) (*sq.PaymentRefund, error) {
		resp, err := c.sdk.Refunds.RefundPayment(ctx, req)
		if err != nil {
			return nil, err
		}
		return resp.GetRefund(), nil
	})
}

// DeclineCode reports the Square error code when err is a 4xx rejection of
// the card rather than a transport or server failure.
func (c *Client) DeclineCode(err error) (string, bool) {
	var apiErr *sqcore.APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode < 400 || apiErr.StatusCode >= 500 {
		return "", false
	}
	for _, sqErr := range squareErrors(apiErr) {
		if sqErr != nil && sqErr.Code != "" {
			return strings.ToLower(string(sqErr.Code)), true
		}
	}
	return "card_declined", true
}

// call runs one SDK request with redacted request logging, latency and error
// mapping into the platform's error codes.
func call[T any](ctx context.Context, c *Client, op string, fields map[string]any, fn func(context.Context) (T, error)) (T, error) {
	start := time.Now()
	out, err := fn(ctx)
	if c.logg != nil {
		logCtx := c.logg.WithFields(ctx, redactFields(fields))
		logCtx = c.logg.WithFields(logCtx, map[string]any{
			"operation":   op,
			"duration_ms": time.Since(start).Milliseconds(),
		})
		if err != nil {
			c.logg.Error(logCtx, "square "+op+" failed", err)
		} else {
			c.logg.Info(logCtx, "square "+op)
		}
	}
	if err != nil {
		var zero T
		return zero, mapSquareError(err, op)
	}
	return out, nil
}

func idempotencyKey(prefix, provided string) string {
	if strings.TrimSpace(provided) != "" {
		return provided
	}
	if prefix = strings.TrimSpace(prefix); prefix == "" {
		prefix = "mkt"
	}
	return prefix + "-" + uuid.NewString()
}

func redactFields(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = redact(k, v)
	}
	return out
}

func redact(key string, value any) any {
	lower := strings.ToLower(key)
	for _, sensitive := range sensitiveKeys {
		if strings.Contains(lower, sensitive) {
			return "[REDACTED]"
		}
	}
	return value
}

func mapSquareError(err error, op string) error {
	msg := fmt.Sprintf("square %s failed", op)
	var apiErr *sqcore.APIError
	if !errors.As(err, &apiErr) {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, msg)
	}
	code := codeForStatus(apiErr.StatusCode)
	for _, sqErr := range squareErrors(apiErr) {
		switch {
		case sqErr == nil:
			continue
		case sqErr.Code == sq.ErrorCodeIdempotencyKeyReused:
			return pkgerrors.Wrap(pkgerrors.CodeIdempotency, err, msg)
		case sqErr.Category == sq.ErrorCategoryAuthenticationError:
			return pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, msg)
		}
	}
	return pkgerrors.Wrap(code, err, msg)
}

// squareErrors decodes the {"errors":[...]} body the SDK keeps on APIError.
func squareErrors(apiErr *sqcore.APIError) []*sq.Error {
	inner := apiErr.Unwrap()
	if inner == nil {
		return nil
	}
	var payload struct {
		Errors []*sq.Error `json:"errors"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(inner.Error())), &payload); err != nil {
		return nil
	}
	return payload.Errors
}

func codeForStatus(status int) pkgerrors.Code {
	switch status {
	case http.StatusUnauthorized:
		return pkgerrors.CodeUnauthorized
	case http.StatusForbidden:
		return pkgerrors.CodeForbidden
	case http.StatusNotFound:
		return pkgerrors.CodeNotFound
	case http.StatusConflict, http.StatusUnprocessableEntity:
		return pkgerrors.CodeConflict
	case http.StatusPaymentRequired:
		return pkgerrors.CodeGateway
	case http.StatusTooManyRequests:
		return pkgerrors.CodeDependency
	}
	if status >= 400 && status < 500 {
		return pkgerrors.CodeValidation
	}
	return pkgerrors.CodeDependency
}
