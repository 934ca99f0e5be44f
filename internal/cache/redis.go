// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ManuGH/lavasync/internal/log"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// DefaultRedisPrefix namespaces cache keys in a shared redis database.
const DefaultRedisPrefix = "lavasync:cache:"

const opTimeout = 2 * time.Second

// RedisConfig selects the redis server backing a Redis cache.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// Redis is a Cache shared between processes. Values are stored as JSON, so
// V must round-trip through encoding/json.
type Redis[V any] struct {
	client *redis.Client
	prefix string
	logger zerolog.Logger
	stats  counters
}

// NewRedis connects to the server in cfg and verifies it with a ping.
func NewRedis[V any](ctx context.Context, cfg RedisConfig) (*Redis[V], error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis cache %s: %w", cfg.Addr, err)
	}
	c := NewRedisFromClient[V](client, cfg.Prefix)
	c.logger.Info().Str("addr", cfg.Addr).Int("db", cfg.DB).Msg("connected to redis cache")
	return c, nil
}

// NewRedisFromClient wraps an existing client. An empty prefix selects
// DefaultRedisPrefix.
func NewRedisFromClient[V any](client *redis.Client, prefix string) *Redis[V] {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &Redis[V]{client: client, prefix: prefix, logger: log.WithComponent("cache")}
}

func (c *Redis[V]) Get(key string) (V, bool) {
	var zero V
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	data, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn().Err(err).Str("key", key).Msg("redis get failed")
		}
		c.stats.misses.Add(1)
		return zero, false
	}
	var v V
	if err := json.Unmarshal(data, &v); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("cached value undecodable")
		c.stats.misses.Add(1)
		return zero, false
	}
	c.stats.hits.Add(1)
	return v, true
}

func (c *Redis[V]) Set(key string, value V, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	data, err := json.Marshal(value)
	if err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("value not cacheable")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	if err := c.client.Set(ctx, c.prefix+key, data, ttl).Err(); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("redis set failed")
		return
	}
	c.stats.sets.Add(1)
}

func (c *Redis[V]) Delete(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	if err := c.client.Del(ctx, c.prefix+key).Err(); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("redis delete failed")
	}
}

// Clear deletes the keys under the cache prefix only.
func (c *Redis[V]) Clear() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	iter := c.client.Scan(ctx, 0, c.prefix+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		c.logger.Warn().Err(err).Msg("redis scan failed")
		return
	}
	if len(keys) == 0 {
		return
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		c.logger.Warn().Err(err).Msg("redis clear failed")
	}
}

// Stats reports local counters. Size is not tracked for a shared cache.
func (c *Redis[V]) Stats() Stats {
	return c.stats.snapshot(0)
}

func (c *Redis[V]) HealthCheck(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *Redis[V]) Close() error {
	return c.client.Close()
}

var _ Cache[int] = (*Redis[int])(nil)
