// Package redis publishes migration events and caches pass reports in Redis.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/limiquantix/vmmigrate/internal/config"
	"github.com/limiquantix/vmmigrate/internal/drs"
)

// ErrCacheMiss indicates the key was not found in cache.
var ErrCacheMiss = errors.New("cache miss")

const lastReportKey = "migration:last_report"

// Cache wraps a Redis client for events and report caching.
type Cache struct {
	client  *redis.Client
	channel string
	logger  *zap.Logger
}

// NewCache creates a new Redis connection.
func NewCache(cfg config.RedisConfig, logger *zap.Logger) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("Connected to Redis", zap.String("addr", cfg.Address()), zap.String("channel", cfg.Channel))

	return &Cache{client: client, channel: cfg.Channel, logger: logger}, nil
}

// Close closes the Redis connection.
func (c *Cache) Close() error {
	return c.client.Close()
}

// Health checks if Redis is reachable.
func (c *Cache) Health(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Get retrieves a value from cache and unmarshals it into dest.
func (c *Cache) Get(ctx context.Context, key string, dest any) error {
	val, err := c.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return ErrCacheMiss
	}
	if err != nil {
		return fmt.Errorf("redis get error: %w", err)
	}

	return json.Unmarshal([]byte(val), dest)
}

// Set stores a value in cache with a TTL.
func (c *Cache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}

	return c.client.Set(ctx, key, data, ttl).Err()
}

// Event is a migration event as published on the channel.
type Event struct {
	Type       string    `json:"type"`
	ResourceID string    `json:"resource_id"`
	Data       any       `json:"data,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Publish publishes an event to a channel.
func (c *Cache) Publish(ctx context.Context, channel string, event Event) error {
	event.Timestamp = time.Now()
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	return c.client.Publish(ctx, channel, data).Err()
}

// PublishMigrationEvent publishes to the configured migration channel. The report carried
// by a pass-finished event is also kept as the last report.
func (c *Cache) PublishMigrationEvent(ctx context.Context, eventType, resourceID string, data any) error {
	if err := c.Publish(ctx, c.channel, Event{
		Type:       eventType,
		ResourceID: resourceID,
		Data:       data,
	}); err != nil {
		return err
	}

	if eventType == drs.EventPassFinished {
		if err := c.Set(ctx, lastReportKey, data, 24*time.Hour); err != nil {
			c.logger.Warn("Failed to cache migration report", zap.String("resource_id", resourceID), zap.Error(err))
		}
	}
	return nil
}

// LastReport decodes the last cached pass report into dest.
func (c *Cache) LastReport(ctx context.Context, dest any) error {
	return c.Get(ctx, lastReportKey, dest)
}
