// Package stats serves per-player aggregate stats with a Redis
// read-through cache in front of the durable players table.
package stats

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultCacheTTL = 5 * time.Minute

// PlayerStats is the client-facing aggregate view.
type PlayerStats struct {
	UserID       string `json:"user_id"`
	Rating       int    `json:"rating"`
	TotalMatches int    `json:"total_matches"`
	Wins         int    `json:"wins"`
	Losses       int    `json:"losses"`
	Draws        int    `json:"draws"`
}

// Cache is the Redis layer for aggregate stats entries.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCache creates a stats cache.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &Cache{client: client, ttl: ttl}
}

func key(userID string) string { return "stats:player:" + userID }

// Get returns the cached entry or nil on a miss.
func (c *Cache) Get(ctx context.Context, userID string) (*PlayerStats, error) {
	data, err := c.client.Get(ctx, key(userID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var s PlayerStats
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Set stores the entry with the cache TTL.
func (c *Cache) Set(ctx context.Context, s PlayerStats) error {
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key(s.UserID), data, c.ttl).Err()
}

// Invalidate drops a player's cached entry. Called by the finalizer after
// stats increments.
func (c *Cache) Invalidate(ctx context.Context, userID string) error {
	if err := c.client.Del(ctx, key(userID)).Err(); err != nil {
		return fmt.Errorf("invalidate stats for %s: %w", userID, err)
	}
	return nil
}
