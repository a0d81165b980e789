package middleware

import (
	"context"
	"net/http"

	"github.com/angelmondragon/marketplace-backend/pkg/auth"
	pkgerrors "github.com/angelmondragon/marketplace-backend/pkg/errors"
)

type contextKey string

const ctxCaller contextKey = "caller"

// CallerFromContext returns the authenticated caller, if any.
func CallerFromContext(ctx context.Context) (auth.Caller, bool) {
	if ctx == nil {
		return auth.Caller{}, false
	}
	caller, ok := ctx.Value(ctxCaller).(auth.Caller)
	return caller, ok && caller.UserID != 0
}

// WithCaller injects the caller into the context for downstream handlers.
func WithCaller(ctx context.Context, caller auth.Caller) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxCaller, caller)
}

// RequestCaller is CallerFromContext for handlers that need an authenticated caller.
func RequestCaller(r *http.Request) (auth.Caller, error) {
	caller, ok := CallerFromContext(r.Context())
	if !ok {
		return auth.Caller{}, pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required")
	}
	return caller, nil
}
