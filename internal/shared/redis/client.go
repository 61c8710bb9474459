package redis

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
)

// Client wraps the Redis connection used as the progress push channel.
// Progress events are fanned out to external consumers via pub/sub topics
// of the form user/{ownerID}/generation/{requestID}/progress.
type Client struct {
	client *redis.Client
}

// New creates a new Redis client
func New(ctx context.Context, redisURL string) (*Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	// Test connection
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("Redis ping failed: %w", err)
	}

	return &Client{client: client}, nil
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.client.Close()
}

// Ping checks Redis reachability for health reporting
func (c *Client) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Publish pushes an event payload to a pub/sub topic
func (c *Client) Publish(ctx context.Context, topic string, payload []byte) error {
	return c.client.Publish(ctx, topic, payload).Err()
}
