/**
 * @description
 * This file provides a Redis-backed cache for resolved entitlement sets.
 * Entitlement resolution is cheap but sits on the hot path of every feature
 * gate in the marketplace, so results are cached per user for a short TTL and
 * invalidated whenever a lifecycle transition changes what the user owns.
 */
package entitlementcache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/homevia/subscription-service/internal/domain"
)

// Cache stores resolved entitlement sets keyed by user id.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// New connects to Redis and returns a Cache. The connection is verified with
// a ping so a misconfigured URL fails at startup, not on the first request.
func New(redisURL string, ttl time.Duration) (*Cache, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opt)
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Cache{client: client, ttl: ttl}, nil
}

func key(userID string) string {
	return "entitlements:" + userID
}

// Get returns the cached entitlement set for a user, or ok=false on a miss.
// Cache errors are reported as misses so a Redis outage only costs a resolve.
func (c *Cache) Get(ctx context.Context, userID string) (domain.EntitlementSet, bool) {
	payload, err := c.client.Get(ctx, key(userID)).Bytes()
	if err != nil {
		return domain.EntitlementSet{}, false
	}
	var set domain.EntitlementSet
	if err := json.Unmarshal(payload, &set); err != nil {
		return domain.EntitlementSet{}, false
	}
	return set, true
}

// Set stores a resolved entitlement set with the configured TTL.
func (c *Cache) Set(ctx context.Context, userID string, set domain.EntitlementSet) error {
	payload, err := json.Marshal(set)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key(userID), payload, c.ttl).Err()
}

// Invalidate drops the cached entitlement set for a user. Called after every
// successful lifecycle transition.
func (c *Cache) Invalidate(ctx context.Context, userID string) error {
	return c.client.Del(ctx, key(userID)).Err()
}

// Close releases the underlying Redis connection.
func (c *Cache) Close() error {
	return c.client.Close()
}
