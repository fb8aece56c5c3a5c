package contentstore

import (
	"context"
	"time"

	"github.com/usd-asset-library/backend/internal/pkg/logger"
)

// URLCache stores presigned URLs by store key.
type URLCache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, url string, ttl time.Duration) error
}

type cachedStore struct {
	Store
	cache   URLCache
	ttl     time.Duration
	log     *logger.Logger
	observe func(result string)
}

// WithURLCache serves PresignedURL from cache for ttl, which must be shorter
// than the backend's URL expiry. Cache failures fall through to the backend.
// observe, when non-nil, receives "hit", "miss" or "error" per lookup.
func WithURLCache(inner Store, cache URLCache, ttl time.Duration, log *logger.Logger, observe func(result string)) Store {
	if inner == nil || cache == nil || ttl <= 0 {
		return inner
	}
	return &cachedStore{Store: inner, cache: cache, ttl: ttl, log: log.With("service", "PresignCache"), observe: observe}
}

func (s *cachedStore) PresignedURL(ctx context.Context, key string) (string, error) {
	u, ok, err := s.cache.Get(ctx, key)
	switch {
	case err != nil:
		s.note("error")
		s.log.Warn("presign cache lookup failed", "key", key, "error", err)
	case ok:
		s.note("hit")
		return u, nil
	default:
		s.note("miss")
	}
	u, err = s.Store.PresignedURL(ctx, key)
	if err != nil {
		return "", err
	}
	if err := s.cache.Set(ctx, key, u, s.ttl); err != nil {
		s.log.Warn("presign cache store failed", "key", key, "error", err)
	}
	return u, nil
}

func (s *cachedStore) note(result string) {
	if s.observe != nil {
		s.observe(result)
	}
}
