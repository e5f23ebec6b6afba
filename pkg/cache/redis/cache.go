// Package redis stores cached responses in Redis, relying on key expiry
// instead of an expires_at column.
package redis

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/ledgerlens/ledgerlens/pkg/cache"
	"github.com/ledgerlens/ledgerlens/pkg/models"
)

const defaultPrefix = "ledgerlens:cache:"

// Cache implements cache.Store on a Redis client.
type Cache struct {
	client *goredis.Client
	prefix string
	hits   atomic.Int64
	misses atomic.Int64
}

var _ cache.Store = (*Cache)(nil)

// Option customizes the cache.
type Option func(*Cache)

// WithPrefix namespaces keys, mainly so tests can share a server.
func WithPrefix(prefix string) Option {
	return func(c *Cache) {
		if prefix != "" {
			c.prefix = prefix
		}
	}
}

// New connects to the Redis server at url (redis://host:port/db) and pings it.
func New(ctx context.Context, url string, opts ...Option) (*Cache, error) {
	ropts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := goredis.NewClient(ropts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}

	c := &Cache{client: client, prefix: defaultPrefix}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Cache) key(fingerprint string) string {
	return c.prefix + fingerprint
}

// Get returns the cached response. Redis drops expired keys itself.
func (c *Cache) Get(ctx context.Context, fingerprint string) (string, bool, error) {
	val, err := c.client.HGet(ctx, c.key(fingerprint), "response").Result()
	if errors.Is(err, goredis.Nil) {
		c.misses.Add(1)
		return "", false, nil
	}
	if err != nil {
		return "", false, &cache.Error{Op: "get", Err: err}
	}
	c.hits.Add(1)
	return val, true, nil
}

// Put writes the prompt and response as a hash and sets its expiry in the
// same transaction. A non-positive ttl removes any existing entry.
func (c *Cache) Put(ctx context.Context, fingerprint, prompt, response string, ttl time.Duration) error {
	key := c.key(fingerprint)
	_, err := c.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Del(ctx, key)
		if ttl <= 0 {
			return nil
		}
		pipe.HSet(ctx, key,
			"prompt", prompt,
			"response", response,
			"created_at", time.Now().UnixNano(),
		)
		pipe.PExpire(ctx, key, ttl)
		return nil
	})
	if err != nil {
		return &cache.Error{Op: "put", Err: err}
	}
	return nil
}

func (c *Cache) keys(ctx context.Context) ([]string, error) {
	var out []string
	iter := c.client.Scan(ctx, 0, c.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		out = append(out, iter.Val())
	}
	return out, iter.Err()
}

// Stats counts live keys. Expired is always zero since Redis evicts them.
func (c *Cache) Stats(ctx context.Context) (models.CacheStats, error) {
	keys, err := c.keys(ctx)
	if err != nil {
		return models.CacheStats{}, &cache.Error{Op: "stats", Err: err}
	}
	return models.CacheStats{
		Entries: int64(len(keys)),
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
	}, nil
}

// Clear deletes every key under the prefix. With expiredOnly it is a no-op.
func (c *Cache) Clear(ctx context.Context, expiredOnly bool) error {
	if expiredOnly {
		return nil
	}
	keys, err := c.keys(ctx)
	if err != nil {
		return &cache.Error{Op: "clear", Err: err}
	}
	if len(keys) == 0 {
		return nil
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return &cache.Error{Op: "clear", Err: err}
	}
	return nil
}

// Close closes the client.
func (c *Cache) Close() error {
	return c.client.Close()
}
