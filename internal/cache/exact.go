package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultQueryTimeout = 500 * time.Millisecond
	pingTimeout         = 5 * time.Second
)

// ExactCache stores response bodies in Redis under the keys produced by
// gemini.Client (already namespaced with "gemini:").
//
// Get and Set never surface Redis failures: Get reports a miss and Set
// returns nil, both after a WARN log. Delete returns the error.
type ExactCache struct {
	client       *redis.Client
	queryTimeout time.Duration
	log          *slog.Logger
	owned        bool
}

// NewExactCacheFromClient wraps a client owned by the caller. Close on the
// cache leaves it open.
func NewExactCacheFromClient(rdb *redis.Client, log *slog.Logger) *ExactCache {
	if log == nil {
		log = slog.Default()
	}
	return &ExactCache{client: rdb, queryTimeout: defaultQueryTimeout, log: log}
}

// NewExactCacheFromURL dials redisURL and PINGs it. The cache owns the
// resulting client.
func NewExactCacheFromURL(ctx context.Context, redisURL string, log *slog.Logger) (*ExactCache, error) {
	if ctx == nil {
		return nil, fmt.Errorf("cache: context must not be nil")
	}
	rdb, err := Dial(ctx, redisURL)
	if err != nil {
		return nil, err
	}
	c := NewExactCacheFromClient(rdb, log)
	c.owned = true
	return c, nil
}

// Dial parses a redis:// or rediss:// URL and verifies it with PING.
func Dial(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("cache: parse url: %w", err)
	}
	rdb := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("cache: ping: %w", err)
	}
	return rdb, nil
}

func (c *ExactCache) Get(ctx context.Context, key string) ([]byte, bool) {
	ctx, cancel := context.WithTimeout(ctx, c.queryTimeout)
	defer cancel()

	val, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log.WarnContext(ctx, "cache_get_error",
				slog.String("key", key),
				slog.String("error", err.Error()),
			)
		}
		return nil, false
	}
	return val, true
}

// Set stores value with ttl (DefaultTTL when non-positive). Always nil.
func (c *ExactCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	ctx, cancel := context.WithTimeout(ctx, c.queryTimeout)
	defer cancel()

	if err := c.client.Set(ctx, key, value, ttl).Err(); err != nil {
		c.log.WarnContext(ctx, "cache_set_error",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
	}
	return nil
}

func (c *ExactCache) Delete(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, c.queryTimeout)
	defer cancel()

	if err := c.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("cache: DEL %s: %w", key, err)
	}
	return nil
}

// Ping reports whether Redis answers within a second.
func (c *ExactCache) Ping(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	return c.client.Ping(ctx).Err() == nil
}

// Close releases the client if the cache created it.
func (c *ExactCache) Close() error {
	if !c.owned {
		return nil
	}
	return c.client.Close()
}
