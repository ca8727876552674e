package redis

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/evanramirez88/restaurant-consulting-site/automation/queue"
)

var _ queue.Index = (*Index)(nil)

// Option configures the Index.
type Option func(*Index)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(x *Index) { x.logger = l }
}

// WithKeyPrefix namespaces every key, e.g. "staging:".
func WithKeyPrefix(p string) Option {
	return func(x *Index) { x.prefix = p }
}

// Index implements queue.Index backed by Redis Sorted Sets.
type Index struct {
	client redis.Cmdable
	logger *slog.Logger
	prefix string
}

// New creates a Redis-backed index. The caller owns the client lifecycle.
func New(client redis.Cmdable, opts ...Option) *Index {
	x := &Index{client: client, logger: slog.Default()}
	for _, o := range opts {
		o(x)
	}
	return x
}

// Connect parses a redis:// URL, opens a client, and pings it.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	o, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("automation/redis: parse url: %w", err)
	}
	client := redis.NewClient(o)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("automation/redis: ping: %w", err)
	}
	return client, nil
}

// Client returns the underlying Redis client.
func (x *Index) Client() redis.Cmdable { return x.client }

// Ping verifies the Redis connection is alive.
func (x *Index) Ping(ctx context.Context) error {
	return x.client.Ping(ctx).Err()
}
