package webhooks

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// DedupeStore is the Redis surface used by the fast-path guard.
type DedupeStore interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error
	WebhookEventKey(provider, eventID string) string
}

// IdempotencyGuard marks provider events as seen in Redis. It is only a fast
// path: the webhook_events unique index is what guarantees single application.
type IdempotencyGuard struct {
	store DedupeStore
	ttl   time.Duration
}

func NewIdempotencyGuard(store DedupeStore, ttl time.Duration) (*IdempotencyGuard, error) {
	if store == nil {
		return nil, errors.New("dedupe store is required")
	}
	if ttl < 0 {
		return nil, errors.New("ttl must be non-negative")
	}
	return &IdempotencyGuard{store: store, ttl: ttl}, nil
}

// CheckAndMark reports whether the event was already seen and marks it otherwise.
func (g *IdempotencyGuard) CheckAndMark(ctx context.Context, provider, eventID string) (bool, error) {
	if eventID == "" {
		return false, errors.New("event id is required")
	}
	set, err := g.store.SetNX(ctx, g.store.WebhookEventKey(provider, eventID), "1", g.ttl)
	if err != nil {
		return false, fmt.Errorf("set webhook dedupe key: %w", err)
	}
	return !set, nil
}

// Release forgets the event so a provider retry is processed again.
func (g *IdempotencyGuard) Release(ctx context.Context, provider, eventID string) error {
	if eventID == "" {
		return errors.New("event id is required")
	}
	return g.store.Del(ctx, g.store.WebhookEventKey(provider, eventID))
}
