package campaigns

import (
	"context"
	"fmt"

	"github.com/angelmondragon/marketplace-backend/pkg/auth"
	pkgerrors "github.com/angelmondragon/marketplace-backend/pkg/errors"
)

// CartLineLoader loads a buyer's current cart as engine lines.
type CartLineLoader interface {
	CartLines(ctx context.Context, userID uint) ([]Line, error)
}

// Service exposes read-only campaign operations to the API.
type Service interface {
	Preview(ctx context.Context, caller auth.Caller, couponCode string) (*Result, error)
}

type service struct {
	engine *Engine
	carts  CartLineLoader
}

// NewService wires the preview service.
func NewService(engine *Engine, carts CartLineLoader) (Service, error) {
	if engine == nil {
		return nil, fmt.Errorf("campaign engine required")
	}
	if carts == nil {
		return nil, fmt.Errorf("cart loader required")
	}
	return &service{engine: engine, carts: carts}, nil
}

// Preview computes the discount the caller's cart would receive. Nothing is persisted.
func (s *service) Preview(ctx context.Context, caller auth.Caller, couponCode string) (*Result, error) {
	if caller.UserID == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "caller required")
	}
	lines, err := s.carts.CartLines(ctx, caller.UserID)
	if err != nil {
		return nil, err
	}
	if len(lines) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "cart is empty")
	}
	return s.engine.Resolve(ctx, caller.UserID, lines, couponCode)
}
