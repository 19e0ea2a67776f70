package lease

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unclebandit/wa-dispatch/internal/config"
)

// fakeRedis keeps keys in a map; expiry is ignored.
type fakeRedis struct {
	mu   sync.Mutex
	keys map[string]string
	err  error
}

func (f *fakeRedis) SetNX(ctx context.Context, key string, value interface{}, _ time.Duration) *redis.BoolCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return redis.NewBoolResult(false, f.err)
	}
	if _, ok := f.keys[key]; ok {
		return redis.NewBoolResult(false, nil)
	}
	f.keys[key] = value.(string)
	return redis.NewBoolResult(true, nil)
}

func (f *fakeRedis) Eval(ctx context.Context, _ string, keys []string, args ...interface{}) *redis.Cmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.keys[keys[0]] == args[0].(string) {
		delete(f.keys, keys[0])
		return redis.NewCmdResult(int64(1), nil)
	}
	return redis.NewCmdResult(int64(0), nil)
}

func TestRedisLocker_ExclusiveUntilReleased(t *testing.T) {
	rdb := &fakeRedis{keys: map[string]string{}}
	l := NewRedisLocker(rdb, time.Minute)
	ctx := context.Background()

	release, ok, err := l.Acquire(ctx, "m1")
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = l.Acquire(ctx, "m1")
	require.NoError(t, err)
	assert.False(t, ok, "second holder must be refused")

	_, ok, _ = l.Acquire(ctx, "m2")
	assert.True(t, ok, "leases are per key")

	release(ctx)
	_, ok, _ = l.Acquire(ctx, "m1")
	assert.True(t, ok)
}

func TestRedisLocker_ReleaseKeepsForeignToken(t *testing.T) {
	rdb := &fakeRedis{keys: map[string]string{}}
	l := NewRedisLocker(rdb, time.Minute)
	ctx := context.Background()

	release, ok, _ := l.Acquire(ctx, "m1")
	require.True(t, ok)

	// lease expired and was taken by someone else
	rdb.keys[keyPrefix+"m1"] = "other-token"
	release(ctx)
	assert.Equal(t, "other-token", rdb.keys[keyPrefix+"m1"])
}

func TestRedisLocker_Error(t *testing.T) {
	l := NewRedisLocker(&fakeRedis{keys: map[string]string{}, err: errors.New("connection refused")}, time.Minute)

	release, ok, err := l.Acquire(context.Background(), "m1")
	assert.Error(t, err)
	assert.False(t, ok)
	assert.NotPanics(t, func() { release(context.Background()) })
}

func TestNoop(t *testing.T) {
	_, ok, err := Noop{}.Acquire(context.Background(), "m1")
	assert.NoError(t, err)
	assert.True(t, ok)
}

func TestNew_NoopWithoutAddr(t *testing.T) {
	assert.IsType(t, Noop{}, New(config.RedisConfig{}, time.Minute, zerolog.Nop()))
	assert.IsType(t, &RedisLocker{}, New(config.RedisConfig{Addr: "localhost:6379"}, time.Minute, zerolog.Nop()))
}
