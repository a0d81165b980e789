package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/angelmondragon/marketplace-backend/pkg/instance"
)

const defaultLockTTL = 10 * time.Minute

// Lock elects the single replica that runs a reconciliation cycle.
// Acquire returns a nil Lease when another replica holds the lock.
type Lock interface {
	Acquire(ctx context.Context) (Lease, error)
}

// Lease is a held lock. Release is safe to call once the TTL has lapsed.
type Lease interface {
	Release(ctx context.Context) error
}

type leaseStore interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Get(ctx context.Context, key string) (string, error)
	Del(ctx context.Context, keys ...string) error
}

// RedisLock stores the holder token under one key with a TTL, so a replica
// that dies mid-cycle blocks the others for at most the TTL.
type RedisLock struct {
	store leaseStore
	key   string
	ttl   time.Duration
}

func NewRedisLock(store leaseStore, key string, ttl time.Duration) (*RedisLock, error) {
	switch {
	case store == nil:
		return nil, errors.New("redis client required for lock")
	case key == "":
		return nil, errors.New("lock key is required")
	}
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &RedisLock{store: store, key: key, ttl: ttl}, nil
}

func (l *RedisLock) Acquire(ctx context.Context) (Lease, error) {
	token := fmt.Sprintf("%s:%s", instance.GetID(), uuid.NewString())
	won, err := l.store.SetNX(ctx, l.key, token, l.ttl)
	if err != nil {
		return nil, fmt.Errorf("claim %s: %w", l.key, err)
	}
	if !won {
		return nil, nil
	}
	return &redisLease{store: l.store, key: l.key, token: token}, nil
}

type redisLease struct {
	store leaseStore
	key   string
	token string
}

// Release deletes the key only while it still carries this lease's token;
// after expiry another replica may own it.
func (l *redisLease) Release(ctx context.Context) error {
	current, err := l.store.Get(ctx, l.key)
	switch {
	case errors.Is(err, redis.Nil):
		return nil
	case err != nil:
		return fmt.Errorf("read %s: %w", l.key, err)
	case current != l.token:
		return nil
	}
	if err := l.store.Del(ctx, l.key); err != nil {
		return fmt.Errorf("drop %s: %w", l.key, err)
	}
	return nil
}
