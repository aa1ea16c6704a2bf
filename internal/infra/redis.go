// README: Redis client initialization for the courier GEO index.
package infra

import (
	"github.com/redis/go-redis/v9"

	"foodcourt/internal/config"
)

func NewRedis(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr: cfg.Addr,
		DB:   cfg.DB,
	})
}
