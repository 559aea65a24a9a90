package redisclient

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

type Client struct {
	rdb *redis.Client
}

// NewClient creates a new Redis client
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// AcquireOrderLock serializes webhook application for one order. Returns
// false when another delivery currently holds the lock.
func (c *Client) AcquireOrderLock(ctx context.Context, orderRef string, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, fmt.Sprintf("lock:order:%s", orderRef), "1", ttl).Result()
}

// ReleaseOrderLock releases a per-order webhook lock
func (c *Client) ReleaseOrderLock(ctx context.Context, orderRef string) error {
	return c.rdb.Del(ctx, fmt.Sprintf("lock:order:%s", orderRef)).Err()
}

// MarkWebhookSeen records a caller-supplied webhook id for deduplication.
// Returns true when this is the first time the id was seen within the TTL.
func (c *Client) MarkWebhookSeen(ctx context.Context, source, webhookID string, ttl time.Duration) (bool, error) {
	if webhookID == "" {
		return true, nil
	}
	return c.rdb.SetNX(ctx, fmt.Sprintf("webhook:%s:%s", source, webhookID), "1", ttl).Result()
}
