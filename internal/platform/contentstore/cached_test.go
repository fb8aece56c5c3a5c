package contentstore_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/usd-asset-library/backend/internal/pkg/logger"
	"github.com/usd-asset-library/backend/internal/platform/contentstore"
	"github.com/usd-asset-library/backend/internal/platform/contentstore/memstore"
)

type mapCache struct {
	mu     sync.Mutex
	m      map[string]string
	getErr error
}

func (c *mapCache) Get(_ context.Context, key string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.getErr != nil {
		return "", false, c.getErr
	}
	v, ok := c.m[key]
	return v, ok, nil
}

func (c *mapCache) Set(_ context.Context, key, url string, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[key] = url
	return nil
}

func TestWithURLCache(t *testing.T) {
	log, err := logger.New("test")
	require.NoError(t, err)

	inner := memstore.New()
	signed := 0
	inner.FailPresign = func(string) error { signed++; return nil }

	cache := &mapCache{m: map[string]string{}}
	var results []string
	store := contentstore.WithURLCache(inner, cache, time.Minute, log, func(r string) { results = append(results, r) })
	ctx := context.Background()

	u1, err := store.PresignedURL(ctx, "chair/thumbnail.png")
	require.NoError(t, err)
	u2, err := store.PresignedURL(ctx, "chair/thumbnail.png")
	require.NoError(t, err)
	require.Equal(t, u1, u2)
	require.Equal(t, 1, signed)
	require.Equal(t, []string{"miss", "hit"}, results)

	cache.getErr = errors.New("redis down")
	_, err = store.PresignedURL(ctx, "chair/thumbnail.png")
	require.NoError(t, err)
	require.Equal(t, 2, signed)
}

func TestWithURLCacheDisabled(t *testing.T) {
	log, err := logger.New("test")
	require.NoError(t, err)
	inner := memstore.New()
	require.Same(t, inner, contentstore.WithURLCache(inner, nil, time.Minute, log, nil))
}
