package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// ErrMiss is returned by Get when the key does not exist.
var ErrMiss = errors.New("cache miss")

const rateLimitWindow = 60 * time.Second

type Client struct {
	rdb *redis.Client
}

// NewClient connects to the Redis instance at url (redis://host:port/db).
func NewClient(url string) (*Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := rdb.Ping(ctx).Result(); err != nil {
		_ = rdb.Close()
		return nil, err
	}

	return &Client{rdb: rdb}, nil
}

// Redis exposes the underlying connection for document storage.
func (c *Client) Redis() *redis.Client {
	return c.rdb
}

// IsRateLimited counts a request from ip in the current window and reports
// whether it exceeds maxRequests. A non-positive maxRequests disables limiting.
func (c *Client) IsRateLimited(ctx context.Context, ip string, maxRequests int) bool {
	if maxRequests <= 0 {
		return false
	}
	key := fmt.Sprintf("ratelimit:%s", ip)

	pipe := c.rdb.Pipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, rateLimitWindow)
	_, err := pipe.Exec(ctx)

	if err != nil {
		return false
	}

	return incr.Val() > int64(maxRequests)
}

func (c *Client) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMiss
	}
	return b, err
}

func (c *Client) Set(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	return c.rdb.Set(ctx, key, data, ttl).Err()
}

func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func (c *Client) Close() error {
	return c.rdb.Close()
}
