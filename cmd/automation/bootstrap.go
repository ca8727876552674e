package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"

	"github.com/evanramirez88/restaurant-consulting-site/automation"
	"github.com/evanramirez88/restaurant-consulting-site/automation/backoff"
	"github.com/evanramirez88/restaurant-consulting-site/automation/engine"
	"github.com/evanramirez88/restaurant-consulting-site/automation/internal/config"
	"github.com/evanramirez88/restaurant-consulting-site/automation/queue"
	"github.com/evanramirez88/restaurant-consulting-site/automation/store"
	"github.com/evanramirez88/restaurant-consulting-site/automation/store/memory"
	"github.com/evanramirez88/restaurant-consulting-site/automation/store/postgres"
	redisstore "github.com/evanramirez88/restaurant-consulting-site/automation/store/redis"
)

// backends are the connected persistence layers of one process.
type backends struct {
	store store.Store
	index queue.Index
	// indexPing is nil for the in-process index.
	indexPing func(context.Context) error
	closers   []func() error
}

// Close releases what openBackends connected, except the store, which
// the orchestrator closes on Stop.
func (b *backends) Close() error {
	var errs error
	for i := len(b.closers) - 1; i >= 0; i-- {
		errs = errors.Join(errs, b.closers[i]())
	}
	return errs
}

// openBackends connects the configured store and dispatch index. Network
// backends are retried while they come up.
func openBackends(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*backends, error) {
	strategy := backoff.NewConstant(cfg.BootstrapRetryDelay)
	b := &backends{}

	var pg *postgres.Store
	switch cfg.Store {
	case config.BackendPostgres:
		err := backoff.Retry(ctx, cfg.BootstrapRetryAttempts, strategy, func(ctx context.Context) error {
			s, err := postgres.New(ctx, cfg.DatabaseURL, postgres.WithLogger(logger))
			if err != nil {
				logger.Warn("postgres not ready, retrying", slog.String("error", err.Error()))
				return err
			}
			pg = s
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		b.store = pg
	default:
		logger.Warn("using in-memory store; jobs do not survive a restart")
		b.store = memory.New()
	}

	switch cfg.DispatchIndex {
	case config.BackendRedis:
		var client *goredis.Client
		err := backoff.Retry(ctx, cfg.BootstrapRetryAttempts, strategy, func(ctx context.Context) error {
			c, err := redisstore.Connect(ctx, cfg.RedisURL)
			if err != nil {
				logger.Warn("redis not ready, retrying", slog.String("error", err.Error()))
				return err
			}
			client = c
			return nil
		})
		if err != nil {
			_ = b.store.Close()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		idx := redisstore.New(client, redisstore.WithLogger(logger))
		b.index = idx
		b.indexPing = idx.Ping
		b.closers = append(b.closers, client.Close)
	case config.BackendPostgres:
		b.index = pg.Index()
		b.indexPing = pg.Ping
	default:
		b.index = queue.NewMemoryIndex()
	}
	return b, nil
}

// buildEngine assembles an orchestrator and engine over b.
func buildEngine(cfg *config.Config, logger *slog.Logger, b *backends, opts ...engine.Option) (*automation.Orchestrator, *engine.Engine, error) {
	o, err := automation.New(
		automation.WithLogger(logger),
		automation.WithStore(b.store),
		automation.WithConfig(cfg.Engine()),
	)
	if err != nil {
		return nil, nil, err
	}
	opts = append([]engine.Option{engine.WithIndex(b.index)}, opts...)
	if cfg.CreateRate > 0 {
		opts = append(opts, engine.WithLimiter(queue.NewLimiter(queue.Config{
			RateLimit: cfg.CreateRate,
			RateBurst: cfg.CreateBurst,
		})))
	}
	eng, err := engine.Build(o, opts...)
	if err != nil {
		return nil, nil, err
	}
	return o, eng, nil
}
