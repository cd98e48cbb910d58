// Package cache provides an optional Redis-backed cache for live stats
// snapshots. Snapshots are recomputed from scratch on every tick; the cache
// only smooths over bursts of teacher dashboards polling between ticks. With
// no Redis configured every read is a miss and callers recompute.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/classlens/classlens/internal/model"
)

// ErrCacheMiss is returned when no snapshot is cached for the session.
var ErrCacheMiss = errors.New("cache: miss")

// StatsCache caches live stats snapshots keyed by session with a short TTL.
// A nil *StatsCache is valid and always misses.
type StatsCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// New connects to Redis via URL. Returns nil (cache disabled) when url is empty.
func New(ctx context.Context, url string, ttl time.Duration, logger *slog.Logger) (*StatsCache, error) {
	if url == "" {
		return nil, nil
	}

	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("cache: parse redis URL: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("cache: ping redis: %w", err)
	}

	return &StatsCache{client: client, ttl: ttl, logger: logger}, nil
}

func statsKey(sessionID uuid.UUID) string {
	return "classlens:stats:" + sessionID.String()
}

// GetStats returns the cached snapshot for a session, or ErrCacheMiss.
func (c *StatsCache) GetStats(ctx context.Context, sessionID uuid.UUID) (model.SessionStats, error) {
	if c == nil {
		return model.SessionStats{}, ErrCacheMiss
	}

	data, err := c.client.Get(ctx, statsKey(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return model.SessionStats{}, ErrCacheMiss
		}
		return model.SessionStats{}, fmt.Errorf("cache: get stats: %w", err)
	}

	var stats model.SessionStats
	if err := json.Unmarshal(data, &stats); err != nil {
		return model.SessionStats{}, fmt.Errorf("cache: decode stats: %w", err)
	}
	return stats, nil
}

// SetStats caches a snapshot. Failures are logged, not returned; the cache is
// an optimization and must never fail a stats read.
func (c *StatsCache) SetStats(ctx context.Context, sessionID uuid.UUID, stats model.SessionStats) {
	if c == nil {
		return
	}

	data, err := json.Marshal(stats)
	if err != nil {
		c.logger.Warn("cache: encode stats failed", "error", err)
		return
	}
	if err := c.client.Set(ctx, statsKey(sessionID), data, c.ttl).Err(); err != nil {
		c.logger.Warn("cache: set stats failed", "error", err)
	}
}

// Invalidate drops the cached snapshot after a write that changes stats.
func (c *StatsCache) Invalidate(ctx context.Context, sessionID uuid.UUID) {
	if c == nil {
		return
	}
	if err := c.client.Del(ctx, statsKey(sessionID)).Err(); err != nil {
		c.logger.Warn("cache: invalidate stats failed", "error", err)
	}
}

// Close releases the Redis connection.
func (c *StatsCache) Close() error {
	if c == nil {
		return nil
	}
	return c.client.Close()
}
