// Package rediscache implements coordinator.ReceiverCache over Redis.
package rediscache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultTTL = 24 * time.Hour

// Cache stores each controller's latest receiver snapshot as a JSON array
// under a per-controller key, so a restarted Dispatcher can seed a rejoining
// controller's receiver values before its first new ReceiverStatus frame.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

func New(client *redis.Client) *Cache {
	return &Cache{client: client, ttl: defaultTTL}
}

func (c *Cache) Set(ctx context.Context, controllerID int64, values []uint32) error {
	data, err := json.Marshal(values)
	if err != nil {
		return fmt.Errorf("rediscache: marshal: %w", err)
	}
	if err := c.client.Set(ctx, key(controllerID), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("rediscache: set: %w", err)
	}
	return nil
}

func (c *Cache) Get(ctx context.Context, controllerID int64) ([]uint32, bool, error) {
	data, err := c.client.Get(ctx, key(controllerID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("rediscache: get: %w", err)
	}

	var values []uint32
	if err := json.Unmarshal(data, &values); err != nil {
		return nil, false, fmt.Errorf("rediscache: unmarshal: %w", err)
	}
	return values, true, nil
}

func key(controllerID int64) string {
	return fmt.Sprintf("receiver_status:%d", controllerID)
}
