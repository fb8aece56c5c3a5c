package redis

import (
	"context"
	"errors"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/usd-asset-library/backend/internal/pkg/logger"
)

const urlCachePrefix = "assetlib:presign:"

// URLCache keeps presigned URLs for less than their expiry so list pages do
// not re-sign every thumbnail.
type URLCache struct {
	log *logger.Logger
	rdb *goredis.Client
}

func NewURLCache(log *logger.Logger, rdb *goredis.Client) *URLCache {
	return &URLCache{log: log.With("service", "RedisURLCache"), rdb: rdb}
}

func (c *URLCache) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := c.rdb.Get(ctx, urlCacheKey(key)).Result()
	if errors.Is(err, goredis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (c *URLCache) Set(ctx context.Context, key, url string, ttl time.Duration) error {
	return c.rdb.Set(ctx, urlCacheKey(key), url, ttl).Err()
}

func urlCacheKey(storeKey string) string {
	return urlCachePrefix + storeKey
}
