package cmd

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/director/pkg/lock"
	redis "github.com/redis/go-redis/v9"
)

const lockTTL = 30 * time.Second

// NewRedisClient parses a redis:// URL. An empty URL returns nil.
func NewRedisClient(redisURL string) (*redis.Client, error) {
	if redisURL == "" {
		return nil, nil
	}

	options, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	return redis.NewClient(options), nil
}

// NewLocker returns a Redis lock when client is set, an in-process one otherwise.
func NewLocker(client *redis.Client, logger *slog.Logger) lock.Locker {
	if client == nil {
		return lock.NewLocal()
	}

	return lock.NewRedis(client, lockTTL, logger)
}
