// Package redis wraps go-redis with the helpers the services share: JSON
// caching of health reports and a token-checked distributed lock.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/leozw/blueprint-sot/internal/core"
)

const healthTTL = 5 * time.Minute

type Client struct {
	*redis.Client
}

// NewClient accepts either a redis:// URL or a bare host:port address.
func NewClient(redisURL string) *Client {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		opt = &redis.Options{
			Addr: redisURL,
		}
	}

	return &Client{redis.NewClient(opt)}
}

func (c *Client) SetJSON(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}

	return c.Set(ctx, key, data, expiration).Err()
}

// GetJSON decodes the cached value into dest. A missing key is reported as
// core.ErrNotFound.
func (c *Client) GetJSON(ctx context.Context, key string, dest interface{}) error {
	data, err := c.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return core.NotFound("redis.GetJSON", "key %s not cached", key)
		}
		return err
	}

	return json.Unmarshal([]byte(data), dest)
}

func healthKey(instanceID string) string {
	return fmt.Sprintf("sot:health:%s", instanceID)
}

func (c *Client) CacheHealth(ctx context.Context, instanceID string, report interface{}) error {
	return c.SetJSON(ctx, healthKey(instanceID), report, healthTTL)
}

func (c *Client) GetCachedHealth(ctx context.Context, instanceID string, dest interface{}) error {
	return c.GetJSON(ctx, healthKey(instanceID), dest)
}

// InvalidateHealth drops the cached report after a new check-in.
func (c *Client) InvalidateHealth(ctx context.Context, instanceID string) error {
	return c.Del(ctx, healthKey(instanceID)).Err()
}
