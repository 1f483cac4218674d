package redisclient

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"reservation-service/internal/util"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

//go:embed scripts/release_lock.lua
var releaseLockScript string

const (
	lockPrefix        = "lock:"
	idempotencyPrefix = "idempotency:"
	releaseTimeout    = 2 * time.Second
)

// Client wraps redis for checkout locks and the idempotency cache
type Client struct {
	rdb           *redis.Client
	releaseScript *redis.Script
	logger        *zap.Logger
}

// NewClient creates a new Redis client with Lua scripts loaded
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{
		rdb:           rdb,
		releaseScript: redis.NewScript(releaseLockScript),
		logger:        util.GetLogger(),
	}, nil
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping checks the connection
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// TryLock acquires a distributed lock without waiting. The lock holds a
// random token so that unlock never deletes a lock taken over after expiry.
func (c *Client) TryLock(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	lockKey := lockPrefix + key
	token := uuid.New().String()

	ok, err := c.rdb.SetNX(ctx, lockKey, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}

	unlock := func() {
		ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
		defer cancel()

		if err := c.releaseScript.Run(ctx, c.rdb, []string{lockKey}, token).Err(); err != nil {
			c.logger.Warn("Failed to release lock", zap.String("key", key), zap.Error(err))
		}
	}
	return unlock, true, nil
}

// LoadResult reads a cached result stored under an idempotency key
func (c *Client) LoadResult(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := c.rdb.Get(ctx, idempotencyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read idempotency key %s: %w", key, err)
	}
	return val, true, nil
}

// SaveResult stores a result under an idempotency key with TTL
func (c *Client) SaveResult(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.rdb.Set(ctx, idempotencyPrefix+key, value, ttl).Err(); err != nil {
		return fmt.Errorf("write idempotency key %s: %w", key, err)
	}
	return nil
}
