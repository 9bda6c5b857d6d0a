// Package rediscache stores generative suggestion results in Redis.
package rediscache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/LanreCloud/minicoach/internal/model"
)

// Config is used to initialise the Redis client.
type Config struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
}

// Cache implements suggest.Cache with plain GET/SET EX.
type Cache struct {
	client *redis.Client
}

// New creates a client and verifies connectivity with PING.
func New(ctx context.Context, c Config) (*Cache, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     c.Addr,
		Password: c.Password,
		DB:       c.DB,
		PoolSize: c.PoolSize,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, err
	}
	return &Cache{client: rdb}, nil
}

// NewWithClient wraps an existing client.
func NewWithClient(rdb *redis.Client) *Cache { return &Cache{client: rdb} }

func (c *Cache) Get(ctx context.Context, key string) ([]model.Suggestion, bool, error) {
	b, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var out []model.Suggestion
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, false, err
	}
	return out, true, nil
}

func (c *Cache) Set(ctx context.Context, key string, s []model.Suggestion, ttl time.Duration) error {
	b, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, b, ttl).Err()
}

// HealthPing implements health.HealthPinger.
func (c *Cache) HealthPing(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *Cache) Close() error { return c.client.Close() }
