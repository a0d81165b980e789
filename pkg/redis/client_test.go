package redis

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/marketplace-backend/pkg/config"
)

func TestIncrWithTTLStartsWindowOnce(t *testing.T) {
	ctx := context.Background()
	fake := newFakeCommands()
	client := &Client{cmd: fake, keys: NewKeys("")}

	for want := int64(1); want <= 3; want++ {
		got, err := client.IncrWithTTL(ctx, "rl:ip:checkout:1.2.3.4", time.Minute)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
	require.Len(t, fake.expires, 1, "only the first hit of a window sets the expiry")
	require.Equal(t, time.Minute, fake.expires[0].ttl)
}

func TestIncrWithTTLReportsExpireFailure(t *testing.T) {
	fake := newFakeCommands()
	fake.expireErr = errors.New("READONLY")
	client := &Client{cmd: fake}

	count, err := client.IncrWithTTL(context.Background(), "k", time.Second)
	require.Error(t, err)
	require.Equal(t, int64(1), count)
}

func TestSetNXGuardsSecondWriter(t *testing.T) {
	ctx := context.Background()
	client := &Client{cmd: newFakeCommands(), keys: NewKeys("test")}
	key := client.WebhookEventKey("Sandbox", "evt_1")

	ok, err := client.SetNX(ctx, key, "1", time.Hour)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = client.SetNX(ctx, key, "1", time.Hour)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, client.Set(ctx, key, "2", time.Hour))
	got, err := client.Get(ctx, key)
	require.NoError(t, err)
	require.Equal(t, "2", got)

	require.NoError(t, client.Del(ctx, key))
	_, err = client.Get(ctx, key)
	require.ErrorIs(t, err, redis.Nil)
	require.NoError(t, client.Del(ctx))
}

func TestKeysAreNamespaced(t *testing.T) {
	keys := NewKeys(" staging: ")
	require.Equal(t, "staging:idempotency:scope:id", keys.Idempotency("scope", "id"))
	require.Equal(t, "staging:webhook:square:evt", keys.WebhookEvent("Square", "evt"))
	require.Equal(t, "staging:lock:cron-worker", keys.Lock("cron-worker"))
	require.Equal(t, "staging:idempotency:scope", keys.Idempotency("scope", ""))

	require.Equal(t, "mkt:lock:x", NewKeys("").Lock("x"))
	require.Equal(t, "mkt:lock:x", (&Client{}).LockKey("x"))
}

func TestOptionsFromConfig(t *testing.T) {
	_, err := optionsFromConfig(config.RedisConfig{})
	require.Error(t, err)

	opts, err := optionsFromConfig(config.RedisConfig{URL: "redis://localhost:6379/3", DB: 1, PoolSize: 7})
	require.NoError(t, err)
	require.Equal(t, 3, opts.DB, "db from the url wins")
	require.Equal(t, 7, opts.PoolSize)

	opts, err = optionsFromConfig(config.RedisConfig{Address: "cache:6379", DB: 2})
	require.NoError(t, err)
	require.Equal(t, "cache:6379", opts.Addr)
	require.Equal(t, 2, opts.DB)
}

func TestUninitializedClient(t *testing.T) {
	client := &Client{}
	require.ErrorIs(t, client.Ping(context.Background()), errNotInitialized)
	_, err := client.SetNX(context.Background(), "k", "v", time.Second)
	require.ErrorIs(t, err, errNotInitialized)
	require.NoError(t, client.Close())
}

type expireCall struct {
	key string
	ttl time.Duration
}

type fakeCommands struct {
	data      map[string]string
	counters  map[string]int64
	expires   []expireCall
	expireErr error
}

func newFakeCommands() *fakeCommands {
	return &fakeCommands{data: map[string]string{}, counters: map[string]int64{}}
}

func (f *fakeCommands) Ping(context.Context) *redis.StatusCmd {
	return redis.NewStatusResult("PONG", nil)
}

func (f *fakeCommands) Set(_ context.Context, key string, value any, _ time.Duration) *redis.StatusCmd {
	f.data[key] = fmt.Sprint(value)
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeCommands) Get(_ context.Context, key string) *redis.StringCmd {
	v, ok := f.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeCommands) SetNX(_ context.Context, key string, value any, _ time.Duration) *redis.BoolCmd {
	if _, exists := f.data[key]; exists {
		return redis.NewBoolResult(false, nil)
	}
	f.data[key] = fmt.Sprint(value)
	return redis.NewBoolResult(true, nil)
}

func (f *fakeCommands) Incr(_ context.Context, key string) *redis.IntCmd {
	f.counters[key]++
	return redis.NewIntResult(f.counters[key], nil)
}

func (f *fakeCommands) Expire(_ context.Context, key string, ttl time.Duration) *redis.BoolCmd {
	if f.expireErr != nil {
		return redis.NewBoolResult(false, f.expireErr)
	}
	f.expires = append(f.expires, expireCall{key: key, ttl: ttl})
	return redis.NewBoolResult(true, nil)
}

func (f *fakeCommands) Del(_ context.Context, keys ...string) *redis.IntCmd {
	for _, key := range keys {
		delete(f.data, key)
	}
	return redis.NewIntResult(int64(len(keys)), nil)
}
