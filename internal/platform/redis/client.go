// Package redis opens the optional Redis connection used to cache history
// stats.
package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"portalquejas/internal/platform/config"
)

// Client is a connected go-redis client.
type Client struct {
	*redis.Client
}

// New connects to cfg.URL and pings it. It returns nil, nil when no URL is
// configured, so callers treat Redis as optional.
func New(ctx context.Context, cfg config.RedisConfig) (*Client, error) {
	if cfg.URL == "" {
		return nil, nil
	}

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	applyOverrides(opts, cfg)

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", opts.Addr, err)
	}
	return &Client{Client: client}, nil
}

// applyOverrides keeps the URL's values for every zero field of cfg.
func applyOverrides(opts *redis.Options, cfg config.RedisConfig) {
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	if cfg.MinIdleConns > 0 {
		opts.MinIdleConns = cfg.MinIdleConns
	}
	if cfg.DialTimeout > 0 {
		opts.DialTimeout = cfg.DialTimeout
	}
	if cfg.ReadTimeout > 0 {
		opts.ReadTimeout = cfg.ReadTimeout
	}
	if cfg.WriteTimeout > 0 {
		opts.WriteTimeout = cfg.WriteTimeout
	}
}

// Health pings the server; /health reports it as the "redis" check.
func (c *Client) Health(ctx context.Context) error {
	return c.Ping(ctx).Err()
}
