package database

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/sevendev/crosspost/internal/config"
)

// NewRedisClient creates a new Redis client for the rate budget ledger
func NewRedisClient(ctx context.Context, cfg config.Redis) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("pinging redis: %w", err)
	}

	return client, nil
}
