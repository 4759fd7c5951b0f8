package store

import (
	"context"
	"fmt"

	"L402Paywall/internal/config"
	"L402Paywall/internal/db"

	"github.com/redis/go-redis/v9"
)

// Open connects the backend named by store.driver. The returned func
// releases the underlying connections.
func Open(ctx context.Context, cfg *config.Config) (Store, func(), error) {
	switch cfg.Store.Driver {
	case "postgres":
		pool, err := db.Connect(ctx, cfg.Store.DSN)
		if err != nil {
			return nil, nil, err
		}
		return NewPostgresStore(pool), pool.Close, nil
	case "redis", "":
		opts, err := redis.ParseURL(cfg.Store.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("parse redis url: %w", err)
		}
		client := redis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("ping redis: %w", err)
		}
		closer := func() { _ = client.Close() }
		return NewRedisStore(client, cfg.Store.KeyPrefix, cfg.ProcessedTTL()), closer, nil
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}
