// Package redis publishes scheduling cycle reports to Redis: the last report is cached
// under a key and every report is announced on a pub/sub channel.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/limiquantix/quantix-sched/internal/config"
	"github.com/limiquantix/quantix-sched/internal/domain"
)

// Keys and channels.
const (
	LastCycleKey  = "sched:cycle:last"
	CyclesChannel = "sched:cycles"

	EventCycleCompleted = "cycle.completed"
	EventCycleFailed    = "cycle.failed"
)

// ErrCacheMiss indicates the key was not found in cache.
var ErrCacheMiss = errors.New("cache miss")

// Cache wraps a Redis client for caching operations.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewCache creates a new Redis cache connection.
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

	logger.Info("Connected to Redis", zap.String("addr", cfg.Address()))

	return NewCacheFromClient(client, cfg.ReportTTL, logger), nil
}

// NewCacheFromClient wraps an existing client. ttl bounds how long the last report is kept
// (0 = forever).
func NewCacheFromClient(client *redis.Client, ttl time.Duration, logger *zap.Logger) *Cache {
	return &Cache{
		client: client,
		ttl:    ttl,
		logger: logger.With(zap.String("component", "redis")),
	}
}

// Close closes the Redis connection.
func (c *Cache) Close() error {
	return c.client.Close()
}

// Health checks if Redis is reachable.
func (c *Cache) Health(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// =============================================================================
// Generic Cache Operations
// =============================================================================

// Get retrieves a value from cache and unmarshals it into dest.
func (c *Cache) Get(ctx context.Context, key string, dest interface{}) error {
	val, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return ErrCacheMiss
	}
	if err != nil {
		return fmt.Errorf("redis get error: %w", err)
	}

	return json.Unmarshal([]byte(val), dest)
}

// Set stores a value in cache with a TTL.
func (c *Cache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}

	return c.client.Set(ctx, key, data, ttl).Err()
}

// =============================================================================
// Cycle reports
// =============================================================================

// Report implements scheduler.Reporter.
func (c *Cache) Report(ctx context.Context, report *domain.CycleReport) error {
	if err := c.Set(ctx, LastCycleKey, report, c.ttl); err != nil {
		return fmt.Errorf("failed to cache cycle report: %w", err)
	}

	eventType := EventCycleCompleted
	if report.Err != "" {
		eventType = EventCycleFailed
	}
	return c.Publish(ctx, CyclesChannel, Event{
		Type:       eventType,
		ResourceID: report.ID,
		Data:       report,
	})
}

// LastReport returns the cached report of the last cycle.
func (c *Cache) LastReport(ctx context.Context) (*domain.CycleReport, error) {
	var report domain.CycleReport
	if err := c.Get(ctx, LastCycleKey, &report); err != nil {
		return nil, err
	}
	return &report, nil
}

// =============================================================================
// Pub/Sub Operations
// =============================================================================

// Event represents a published cycle event.
type Event struct {
	Type       string              `json:"type"` // "cycle.completed" or "cycle.failed"
	ResourceID string              `json:"resource_id"`
	Data       *domain.CycleReport `json:"data,omitempty"`
	Timestamp  time.Time           `json:"timestamp"`
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

// Subscribe subscribes to channels and returns an event channel that is closed when ctx
// is done. The subscription is confirmed before Subscribe returns.
func (c *Cache) Subscribe(ctx context.Context, channels ...string) (<-chan Event, error) {
	pubsub := c.client.Subscribe(ctx, channels...)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}

	events := make(chan Event, 100)
	msgs := pubsub.Channel()

	go func() {
		defer close(events)
		defer pubsub.Close()

		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var event Event
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					c.logger.Warn("Failed to unmarshal event", zap.Error(err))
					continue
				}
				select {
				case events <- event:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return events, nil
}
