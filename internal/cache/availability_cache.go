// Package cache keeps a short-lived Redis projection of availability
// answers so hot availability reads skip the engine. Entries are
// invalidated on availability-changed events and on commit, so the cache
// only ever serves answers the index would still give.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"kennelbook/internal/availability"
	"kennelbook/internal/events"
	"kennelbook/internal/models"
)

// AvailabilityCache stores per-resource availability answers under a TTL.
type AvailabilityCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *zerolog.Logger
}

// New creates a cache over the given Redis client.
func New(client *redis.Client, ttl time.Duration, logger *zerolog.Logger) *AvailabilityCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &AvailabilityCache{client: client, ttl: ttl, logger: logger}
}

func answerKey(tenantID, resourceID string, iv models.Interval) string {
	return fmt.Sprintf("avail:%s:%s:%d:%d", tenantID, resourceID, iv.Start.Unix(), iv.End.Unix())
}

func resourceSetKey(tenantID, resourceID string) string {
	return fmt.Sprintf("avail:keys:%s:%s", tenantID, resourceID)
}

// Get returns the cached answer for one resource and interval, or false on
// a miss. Cache errors degrade to a miss.
func (c *AvailabilityCache) Get(ctx context.Context, tenantID, resourceID string, iv models.Interval) (availability.ResourceAvailability, bool) {
	var answer availability.ResourceAvailability
	data, err := c.client.Get(ctx, answerKey(tenantID, resourceID, iv)).Bytes()
	if err == redis.Nil {
		return answer, false
	}
	if err != nil {
		c.logger.Warn().Err(err).Msg("availability cache read failed")
		return answer, false
	}
	if err := json.Unmarshal(data, &answer); err != nil {
		c.logger.Warn().Err(err).Msg("availability cache entry corrupt")
		return answer, false
	}
	return answer, true
}

// Set stores an answer and tracks its key for per-resource invalidation.
func (c *AvailabilityCache) Set(ctx context.Context, tenantID, resourceID string, iv models.Interval, answer availability.ResourceAvailability) {
	data, err := json.Marshal(answer)
	if err != nil {
		return
	}

	key := answerKey(tenantID, resourceID, iv)
	setKey := resourceSetKey(tenantID, resourceID)
	pipe := c.client.Pipeline()
	pipe.Set(ctx, key, data, c.ttl)
	pipe.SAdd(ctx, setKey, key)
	pipe.Expire(ctx, setKey, c.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		c.logger.Warn().Err(err).Msg("availability cache write failed")
	}
}

// Invalidate drops every cached answer for the resource.
func (c *AvailabilityCache) Invalidate(ctx context.Context, tenantID, resourceID string) {
	setKey := resourceSetKey(tenantID, resourceID)
	keys, err := c.client.SMembers(ctx, setKey).Result()
	if err != nil {
		c.logger.Warn().Err(err).Msg("availability cache invalidation read failed")
		return
	}
	keys = append(keys, setKey)
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		c.logger.Warn().Err(err).Msg("availability cache invalidation failed")
	}
}

// Bind invalidates the affected resource on every availability change.
func (c *AvailabilityCache) Bind(bus *events.Bus) {
	bus.Subscribe(func(ev events.AvailabilityChanged) {
		c.Invalidate(context.Background(), ev.TenantID, ev.ResourceID)
	})
}

// Ping checks the Redis connection.
func (c *AvailabilityCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
