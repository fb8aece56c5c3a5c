package app

import (
	"context"
	"fmt"
	"strings"

	goredis "github.com/redis/go-redis/v9"

	"github.com/usd-asset-library/backend/internal/pkg/logger"
	"github.com/usd-asset-library/backend/internal/platform/redis"
)

// Clients holds optional external connections. All fields are nil when
// REDIS_ADDR is unset.
type Clients struct {
	Redis      *goredis.Client
	LockEvents redis.LockEventBus
	URLCache   *redis.URLCache
}

func wireClients(ctx context.Context, log *logger.Logger, cfg Config) (Clients, error) {
	log.Info("Wiring clients...")
	if strings.TrimSpace(cfg.RedisAddr) == "" {
		log.Info("REDIS_ADDR not set; lock events and presign cache disabled")
		return Clients{}, nil
	}

	rdb, err := redis.NewClient(ctx, cfg.RedisAddr)
	if err != nil {
		return Clients{}, fmt.Errorf("init redis client: %w", err)
	}
	bus, err := redis.NewLockEventBus(log, rdb, cfg.LockChannel)
	if err != nil {
		_ = rdb.Close()
		return Clients{}, fmt.Errorf("init redis lock event bus: %w", err)
	}
	return Clients{
		Redis:      rdb,
		LockEvents: bus,
		URLCache:   redis.NewURLCache(log, rdb),
	}, nil
}

func (c *Clients) Close() {
	if c == nil {
		return
	}
	if c.Redis != nil {
		_ = c.Redis.Close()
	}
}
