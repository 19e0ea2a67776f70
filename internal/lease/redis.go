package lease

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/unclebandit/wa-dispatch/internal/config"
)

const keyPrefix = "wa-dispatch:lease:"

// releaseScript deletes the key only if it still holds our token.
const releaseScript = `if redis.call("GET", KEYS[1]) == ARGV[1] then return redis.call("DEL", KEYS[1]) else return 0 end`

// Client is the subset of *redis.Client the locker uses.
type Client interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
}

// Locker grants exclusive short-lived ownership of a key.
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(context.Context), acquired bool, err error)
}

// New returns a Redis-backed locker, or Noop when no Redis address is configured.
func New(cfg config.RedisConfig, ttl time.Duration, log zerolog.Logger) Locker {
	if cfg.Addr == "" {
		log.Warn().Msg("REDIS_ADDR not set, concurrent duplicate deliveries are not serialized")
		return Noop{}
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB})
	return NewRedisLocker(client, ttl)
}

// RedisLocker hands out short exclusive leases keyed by message id.
type RedisLocker struct {
	client Client
	ttl    time.Duration
}

func NewRedisLocker(client Client, ttl time.Duration) *RedisLocker {
	return &RedisLocker{client: client, ttl: ttl}
}

// Acquire returns acquired=false when another holder owns key. The returned
// release func is a no-op unless the lease was acquired.
func (l *RedisLocker) Acquire(ctx context.Context, key string) (func(context.Context), bool, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, keyPrefix+key, token, l.ttl).Result()
	if err != nil {
		return func(context.Context) {}, false, fmt.Errorf("redis SetNX failed: %w", err)
	}
	if !ok {
		return func(context.Context) {}, false, nil
	}

	release := func(ctx context.Context) {
		_ = l.client.Eval(ctx, releaseScript, []string{keyPrefix + key}, token).Err()
	}
	return release, true, nil
}

// Noop always grants the lease. Used when no Redis is configured.
type Noop struct{}

func (Noop) Acquire(context.Context, string) (func(context.Context), bool, error) {
	return func(context.Context) {}, true, nil
}
