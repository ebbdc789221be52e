package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	audit "portalquejas/pkg/platform/audit"
)

// StatsCacheKey is the redis key holding the cached summary.
const StatsCacheKey = "historial:stats"

// StatsCache stores the most recent history summary.
type StatsCache interface {
	// Get reports ok=false on a miss.
	Get(ctx context.Context) (summary audit.Summary, ok bool, err error)
	Set(ctx context.Context, summary audit.Summary) error
}

// RedisStatsCache keeps the summary as JSON under one key with a TTL.
type RedisStatsCache struct {
	client redis.Cmdable
	ttl    time.Duration
}

func NewRedisStatsCache(client redis.Cmdable, ttl time.Duration) *RedisStatsCache {
	return &RedisStatsCache{client: client, ttl: ttl}
}

func (c *RedisStatsCache) Get(ctx context.Context) (audit.Summary, bool, error) {
	data, err := c.client.Get(ctx, StatsCacheKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return audit.Summary{}, false, nil
	}
	if err != nil {
		return audit.Summary{}, false, fmt.Errorf("get cached stats: %w", err)
	}

	var summary audit.Summary
	if err := json.Unmarshal(data, &summary); err != nil {
		return audit.Summary{}, false, fmt.Errorf("decode cached stats: %w", err)
	}
	for i := range summary.MostRecent {
		e := &summary.MostRecent[i].Event
		if audit.IsEmptyDocument(e.PreviousState) {
			e.PreviousState = nil
		}
		if audit.IsEmptyDocument(e.NewState) {
			e.NewState = nil
		}
	}
	return summary, true, nil
}

func (c *RedisStatsCache) Set(ctx context.Context, summary audit.Summary) error {
	data, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("encode stats: %w", err)
	}
	if err := c.client.Set(ctx, StatsCacheKey, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("set cached stats: %w", err)
	}
	return nil
}
