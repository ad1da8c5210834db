// Package db builds the shared Postgres and Redis clients from gateway
// configuration.
package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	redis "github.com/redis/go-redis/v9"

	"github.com/XueKirby/mastodon-streaming/internal/config"
)

// NewPostgresPool opens the bounded connection pool serving auth, list, and
// filter queries.
func NewPostgresPool(ctx context.Context, cfg config.Config) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	if cfg.DBPoolSize > 0 {
		poolCfg.MaxConns = cfg.DBPoolSize
	}
	poolCfg.ConnConfig.RuntimeParams["application_name"] = "mastodon-streaming"

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	return pool, nil
}

// NewRedisClient opens the client used for the subscriber connection and the
// marker writes. REDIS_URL wins over the discrete REDIS_* variables.
func NewRedisClient(cfg config.Config) (redis.UniversalClient, error) {
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		return redis.NewClient(opts), nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}), nil
}
