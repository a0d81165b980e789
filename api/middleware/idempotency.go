package middleware

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/angelmondragon/marketplace-backend/api/responses"
	pkgerrors "github.com/angelmondragon/marketplace-backend/pkg/errors"
	"github.com/angelmondragon/marketplace-backend/pkg/logger"
	pkgredis "github.com/angelmondragon/marketplace-backend/pkg/redis"
)

const (
	IdempotencyKeyHeader = "Idempotency-Key"
	ReplayedHeader       = "Idempotent-Replayed"

	defaultIdempotencyTTL  = 24 * time.Hour
	criticalIdempotencyTTL = 7 * 24 * time.Hour
	maxIdempotentBody      = 1 << 20
)

// idempotentRoute matches a method and a path template where "{name}"
// stands for exactly one non-empty segment.
type idempotentRoute struct {
	method   string
	segments []string
	ttl      time.Duration
}

func idempotent(method, template string, ttl time.Duration) idempotentRoute {
	return idempotentRoute{method: method, segments: splitPath(template), ttl: ttl}
}

func (r idempotentRoute) matches(method string, segments []string) bool {
	if r.method != method || len(r.segments) != len(segments) {
		return false
	}
	for i, want := range r.segments {
		if strings.HasPrefix(want, "{") {
			if segments[i] == "" {
				return false
			}
			continue
		}
		if want != segments[i] {
			return false
		}
	}
	return true
}

// Money and order state changes keep their keys for a week so a client
// retrying after a long outage still gets the original answer.
var idempotentRoutes = []idempotentRoute{
	idempotent(http.MethodPost, "/api/v1/orders/checkout", criticalIdempotencyTTL),
	idempotent(http.MethodPost, "/api/v1/orders/{orderId}/cancel", criticalIdempotencyTTL),
	idempotent(http.MethodPost, "/api/v1/orders/{orderId}/complete", criticalIdempotencyTTL),
	idempotent(http.MethodPost, "/api/v1/payments/intents/{intentId}/authorize", criticalIdempotencyTTL),
	idempotent(http.MethodPost, "/api/v1/payments/intents/{intentId}/capture", criticalIdempotencyTTL),
	idempotent(http.MethodPost, "/api/v1/payments/intents/{intentId}/cancel", criticalIdempotencyTTL),
	idempotent(http.MethodPost, "/api/v1/payments/intents/{intentId}/refund", criticalIdempotencyTTL),
	idempotent(http.MethodPost, "/api/v1/payments/intents/{intentId}/3ds/confirm", criticalIdempotencyTTL),

	idempotent(http.MethodPost, "/api/v1/payments/intents", defaultIdempotencyTTL),
	idempotent(http.MethodPost, "/api/v1/payments/gateway/3ds/initialize", defaultIdempotencyTTL),
	idempotent(http.MethodPatch, "/api/v1/seller/orders/{sellerOrderId}/status", defaultIdempotencyTTL),
	idempotent(http.MethodPost, "/api/v1/seller/orders/{sellerOrderId}/ship", defaultIdempotencyTTL),
	idempotent(http.MethodPost, "/api/v1/seller/orders/{sellerOrderId}/deliver", defaultIdempotencyTTL),
}

const (
	recordPending  = "pending"
	recordComplete = "complete"
)

type idempotencyRecord struct {
	State       string `json:"state"`
	RequestHash string `json:"request_hash"`
	Status      int    `json:"status,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	Body        string `json:"body,omitempty"`
}

// Idempotency makes the mutating routes above safe to retry. The key is
// claimed before the handler runs, so a concurrent duplicate gets 409 instead
// of a second execution. Completed responses are replayed verbatim; a 5xx or
// 429 releases the key so the client can retry.
func Idempotency(store pkgredis.IdempotencyStore, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ttl, ok := routeTTL(r.Method, r.URL.Path)
			if !ok || store == nil {
				next.ServeHTTP(w, r)
				return
			}
			ctx := r.Context()

			clientKey := strings.TrimSpace(r.Header.Get(IdempotencyKeyHeader))
			if clientKey == "" {
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, IdempotencyKeyHeader+" header required"))
				return
			}

			body, err := io.ReadAll(io.LimitReader(r.Body, maxIdempotentBody))
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request body"))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			hash := hashBody(body)
			key := store.IdempotencyKey(callerScope(r), clientKey)

			claimed, existing, err := claim(r, store, key, hash, ttl)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "idempotency store"))
				return
			}
			if !claimed {
				switch {
				case existing.RequestHash != hash:
					responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeIdempotency, "idempotency key reused with different request body"))
				case existing.State != recordComplete:
					responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeConflict, "a request with this idempotency key is still in progress"))
				default:
					replay(w, existing)
				}
				return
			}

			capture := &responseCapture{ResponseWriter: w}
			next.ServeHTTP(capture, r)
			status := capture.statusCode()

			if retryable(status) {
				if err := store.Del(ctx, key); err != nil && logg != nil {
					logg.Error(ctx, "release idempotency key", err)
				}
				return
			}
			done, _ := json.Marshal(idempotencyRecord{
				State:       recordComplete,
				RequestHash: hash,
				Status:      status,
				ContentType: capture.Header().Get("Content-Type"),
				Body:        base64.StdEncoding.EncodeToString(capture.body.Bytes()),
			})
			if err := store.Set(ctx, key, string(done), ttl); err != nil && logg != nil {
				logg.Error(ctx, "persist idempotency record", err)
			}
		})
	}
}

func retryable(status int) bool {
	return status >= http.StatusInternalServerError || status == http.StatusTooManyRequests
}

// claim writes a pending marker for key. When another request already owns
// the key it returns that request's record instead.
func claim(r *http.Request, store pkgredis.IdempotencyStore, key, hash string, ttl time.Duration) (bool, *idempotencyRecord, error) {
	pending, _ := json.Marshal(idempotencyRecord{State: recordPending, RequestHash: hash})
	// A second pass covers the record expiring between SETNX and GET.
	for attempt := 0; attempt < 2; attempt++ {
		won, err := store.SetNX(r.Context(), key, string(pending), ttl)
		if err != nil {
			return false, nil, err
		}
		if won {
			return true, nil, nil
		}
		raw, err := store.Get(r.Context(), key)
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return false, nil, err
		}
		var existing idempotencyRecord
		if err := json.Unmarshal([]byte(raw), &existing); err != nil {
			return false, nil, err
		}
		return false, &existing, nil
	}
	return false, nil, errors.New("idempotency key churned during claim")
}

func replay(w http.ResponseWriter, record *idempotencyRecord) {
	if record.ContentType != "" {
		w.Header().Set("Content-Type", record.ContentType)
	}
	w.Header().Set(ReplayedHeader, "true")
	w.WriteHeader(record.Status)
	if body, err := base64.StdEncoding.DecodeString(record.Body); err == nil {
		_, _ = w.Write(body)
	}
}

// callerScope keeps keys from colliding across users and endpoints.
func callerScope(r *http.Request) string {
	userID := "anon"
	if caller, ok := CallerFromContext(r.Context()); ok {
		userID = strconv.FormatUint(uint64(caller.UserID), 10)
	}
	return userID + "|" + r.Method + "|" + r.URL.Path
}

func hashBody(payload []byte) string {
	sum := sha256.Sum256(payload)
	return base64.StdEncoding.EncodeToString(sum[:])
}

func routeTTL(method, path string) (time.Duration, bool) {
	segments := splitPath(path)
	for _, route := range idempotentRoutes {
		if route.matches(method, segments) {
			return route.ttl, true
		}
	}
	return 0, false
}

func splitPath(path string) []string {
	return strings.Split(strings.Trim(path, "/"), "/")
}

type responseCapture struct {
	http.ResponseWriter
	body   bytes.Buffer
	status int
}

func (c *responseCapture) WriteHeader(code int) {
	if c.status == 0 {
		c.status = code
	}
	c.ResponseWriter.WriteHeader(code)
}

func (c *responseCapture) Write(b []byte) (int, error) {
	if c.status == 0 {
		c.status = http.StatusOK
	}
	c.body.Write(b)
	return c.ResponseWriter.Write(b)
}

func (c *responseCapture) statusCode() int {
	if c.status == 0 {
		return http.StatusOK
	}
	return c.status
}
