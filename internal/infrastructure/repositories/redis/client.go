package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// NewRedisClient connects, pings and migrates the call store.
func NewRedisClient(address, password string, db, poolSize int, logger *zap.SugaredLogger) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         address,
		Password:     password,
		DB:           db,
		PoolSize:     poolSize,
		MinIdleConns: 2,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	if err := Migrate(ctx, client, logger); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	if logger != nil {
		logger.Infow("connected to Redis",
			"address", address,
			"db", db,
			"pool_size", poolSize,
		)
	}
	return client, nil
}

func CloseRedisClient(client *redis.Client) error {
	if client != nil {
		return client.Close()
	}
	return nil
}
