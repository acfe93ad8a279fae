package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"threatpulse/internal/config"
	"threatpulse/internal/domain/models"
	"threatpulse/pkg/logger"
)

// Cache keys, relative to the configured prefix
const (
	KeySnapshotLatest  = "snapshot:latest"
	KeyRateLimitPrefix = "rate_limit:"
	KeyLockPrefix      = "lock:"
	ChannelSnapshots   = "snapshots"

	snapshotTTL = 24 * time.Hour
)

// RedisCache wraps the Redis client with the operations the service needs
type RedisCache struct {
	client    *redis.Client
	keyPrefix string
	now       func() time.Time
	logger    *logger.Logger
}

// NewRedis connects to Redis and verifies the connection
func NewRedis(ctx context.Context, cfg config.RedisConfig, log *logger.Logger) (*RedisCache, error) {
	log = log.WithComponent("redis")
	log.Info().Str("host", cfg.Host).Int("port", cfg.Port).Msg("connecting to Redis")

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	log.Info().Msg("connected to Redis successfully")
	return NewFromClient(client, cfg.KeyPrefix, log), nil
}

// NewFromClient wraps an existing client
func NewFromClient(client *redis.Client, keyPrefix string, log *logger.Logger) *RedisCache {
	return &RedisCache{
		client:    client,
		keyPrefix: keyPrefix,
		now:       time.Now,
		logger:    log,
	}
}

// Ping checks the connection, used by readiness probes
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis connection
func (c *RedisCache) Close() error {
	c.logger.Info().Msg("closing Redis connection")
	return c.client.Close()
}

// key prepends the namespace prefix to a key
func (c *RedisCache) key(k string) string {
	return c.keyPrefix + k
}

// SetJSON marshals and stores a value with optional TTL
func (c *RedisCache) SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}
	return c.client.Set(ctx, c.key(key), data, ttl).Err()
}

// Publish publishes a message to a prefixed channel
func (c *RedisCache) Publish(ctx context.Context, channel string, message any) error {
	return c.client.Publish(ctx, c.key(channel), message).Err()
}

// CheckRateLimit counts a hit in the current fixed window.
// Returns (allowed, remaining, resetTime, error).
func (c *RedisCache) CheckRateLimit(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, time.Time, error) {
	if window < time.Second {
		window = time.Second
	}
	now := c.now()
	bucket := now.Unix() / int64(window.Seconds())
	windowKey := c.key(fmt.Sprintf("%s%s:%d", KeyRateLimitPrefix, key, bucket))

	pipe := c.client.Pipeline()
	incr := pipe.Incr(ctx, windowKey)
	pipe.Expire(ctx, windowKey, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, 0, time.Time{}, err
	}

	count := incr.Val()
	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}
	resetTime := time.Unix((bucket+1)*int64(window.Seconds()), 0)

	return count <= limit, remaining, resetTime, nil
}

// AcquireLock takes a named lock for ttl. It reports false when another
// holder has it.
func (c *RedisCache) AcquireLock(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	return c.client.SetNX(ctx, c.key(KeyLockPrefix+name), c.now().UTC().Format(time.RFC3339), ttl).Result()
}

// ExtendLock resets the lock's ttl
func (c *RedisCache) ExtendLock(ctx context.Context, name string, ttl time.Duration) error {
	return c.client.Expire(ctx, c.key(KeyLockPrefix+name), ttl).Err()
}

// ReleaseLock drops the lock
func (c *RedisCache) ReleaseLock(ctx context.Context, name string) error {
	return c.client.Del(ctx, c.key(KeyLockPrefix+name)).Err()
}

// SnapshotNotice is published on the snapshot channel after each mirror write
type SnapshotNotice struct {
	ID           string    `json:"id"`
	Timestamp    time.Time `json:"timestamp"`
	Status       string    `json:"status"`
	TotalThreats int       `json:"total_threats"`
}

// Name identifies the cache as a snapshot sink
func (c *RedisCache) Name() string {
	return "redis"
}

// PublishSnapshot mirrors the snapshot under KeySnapshotLatest and
// announces it on ChannelSnapshots
func (c *RedisCache) PublishSnapshot(ctx context.Context, snap *models.AggregateSnapshot) error {
	if err := c.SetJSON(ctx, KeySnapshotLatest, snap, snapshotTTL); err != nil {
		return fmt.Errorf("mirror snapshot: %w", err)
	}
	notice, err := json.Marshal(SnapshotNotice{
		ID:           snap.ID,
		Timestamp:    snap.Timestamp,
		Status:       string(snap.Status),
		TotalThreats: snap.TotalThreats,
	})
	if err != nil {
		return fmt.Errorf("marshal snapshot notice: %w", err)
	}
	if err := c.Publish(ctx, ChannelSnapshots, notice); err != nil {
		return fmt.Errorf("announce snapshot: %w", err)
	}
	return nil
}
