package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const pingTimeout = 5 * time.Second

// New creates a Redis client and pings it. addr may be host:port or a
// redis:// URL.
func New(ctx context.Context, addr string) (*redis.Client, error) {
	opts, err := parseOptions(addr)
	if err != nil {
		return nil, fmt.Errorf("platform/cache: parse addr: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("platform/cache: ping: %w", err)
	}

	return client, nil
}

func parseOptions(addr string) (*redis.Options, error) {
	if len(addr) > 8 && (addr[:8] == "redis://" || (len(addr) > 9 && addr[:9] == "rediss://")) {
		return redis.ParseURL(addr)
	}
	return &redis.Options{Addr: addr}, nil
}
