// Package idempotency stores client idempotency keys for article creation in Redis.
package idempotency

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/DeafMist/article-catalog/backend/internal/catalog"
)

const pending = "pending"

type kv interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// Config configures the Redis connection.
type Config struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
	TTL      time.Duration
}

// Keys implements catalog.IdempotencyKeys.
type Keys struct {
	client kv
	closer func() error
	prefix string
	ttl    time.Duration
}

// New connects to Redis and verifies connectivity.
func New(ctx context.Context, cfg Config) (*Keys, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis at %s: %w", cfg.Addr, err)
	}

	k := newKeys(client, cfg.Prefix, cfg.TTL)
	k.closer = client.Close
	return k, nil
}

func newKeys(client kv, prefix string, ttl time.Duration) *Keys {
	if prefix == "" {
		prefix = "articles:idempotency:"
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Keys{client: client, prefix: prefix, ttl: ttl}
}

// Reserve claims key for a new create, or reports the article a previous
// request created with it.
func (k *Keys) Reserve(ctx context.Context, key string) (int64, error) {
	ok, err := k.client.SetNX(ctx, k.prefix+key, pending, k.ttl).Result()
	if err != nil {
		return 0, fmt.Errorf("reserve idempotency key: %w: %w", catalog.ErrStore, err)
	}
	if ok {
		return 0, nil
	}

	val, err := k.client.Get(ctx, k.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		// Expired between SETNX and GET; treat as still busy.
		return 0, catalog.ErrConflict
	}
	if err != nil {
		return 0, fmt.Errorf("read idempotency key: %w: %w", catalog.ErrStore, err)
	}
	if val == pending {
		return 0, catalog.ErrConflict
	}
	id, err := strconv.ParseInt(val, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: corrupt idempotency value %q", catalog.ErrStore, val)
	}
	return id, nil
}

// Complete records the article id created under key.
func (k *Keys) Complete(ctx context.Context, key string, id int64) error {
	if err := k.client.Set(ctx, k.prefix+key, strconv.FormatInt(id, 10), k.ttl).Err(); err != nil {
		return fmt.Errorf("complete idempotency key: %w", err)
	}
	return nil
}

// Release forgets key so the client may retry.
func (k *Keys) Release(ctx context.Context, key string) error {
	if err := k.client.Del(ctx, k.prefix+key).Err(); err != nil {
		return fmt.Errorf("release idempotency key: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func (k *Keys) Close() error {
	if k.closer == nil {
		return nil
	}
	return k.closer()
}
