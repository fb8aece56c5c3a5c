package app

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/usd-asset-library/backend/internal/observability"
	"github.com/usd-asset-library/backend/internal/pkg/logger"
	"github.com/usd-asset-library/backend/internal/platform/contentstore"
	"github.com/usd-asset-library/backend/internal/platform/contentstore/memstore"
	"github.com/usd-asset-library/backend/internal/platform/gcp"
	"github.com/usd-asset-library/backend/internal/platform/s3store"
)

func TestResolveContentStoreMemory(t *testing.T) {
	metrics := observability.NewMetrics()
	store, err := resolveContentStore(testLogger(t), Config{ContentStore: ContentStoreMemory}, metrics, nil)
	require.NoError(t, err)

	ctx := context.Background()
	_, err = store.Put(ctx, "chair/chair.usda", strings.NewReader("#usda 1.0"))
	require.NoError(t, err)
	_, err = store.Get(ctx, "chair/missing.usda")
	require.ErrorIs(t, err, contentstore.ErrObjectNotFound)

	n, err := testutil.GatherAndCount(metrics.Registry(), "assetlib_content_store_operations_total")
	require.NoError(t, err)
	if n < 2 {
		t.Fatalf("expected put and get to be observed, got %d series", n)
	}
}

func TestResolveContentStoreGCSEmulator(t *testing.T) {
	orig := newBucketStore
	t.Cleanup(func() { newBucketStore = orig })

	var captured gcp.BucketConfig
	newBucketStore = func(_ *logger.Logger, cfg gcp.BucketConfig) (contentstore.Store, error) {
		captured = cfg
		return memstore.New(), nil
	}

	_, err := resolveContentStore(testLogger(t), Config{
		ContentStore:        ContentStoreGCSEmulator,
		BucketName:          "assets",
		StorageEmulatorHost: "http://fake-gcs:4443",
	}, nil, nil)
	require.NoError(t, err)
	require.Equal(t, gcp.ModeEmulator, captured.Storage.Mode)
	require.Equal(t, "http://fake-gcs:4443", captured.Storage.EmulatorHost)
	require.Equal(t, "assets", captured.BucketName)
}

func TestResolveContentStoreMissingEmulatorHost(t *testing.T) {
	_, err := resolveContentStore(testLogger(t), Config{
		ContentStore: ContentStoreGCSEmulator,
		BucketName:   "assets",
	}, nil, nil)

	var got *ContentStoreBootstrapError
	if !errors.As(err, &got) {
		t.Fatalf("expected ContentStoreBootstrapError, got=%T (%v)", err, err)
	}
	if got.Code != ContentStoreBootstrapErrorMissingEmulatorHost {
		t.Fatalf("code: want=%q got=%q", ContentStoreBootstrapErrorMissingEmulatorHost, got.Code)
	}
}

func TestResolveContentStoreS3ConnectFailed(t *testing.T) {
	orig := newS3Store
	t.Cleanup(func() { newS3Store = orig })

	newS3Store = func(_ *logger.Logger, _ s3store.Option, _ ...s3store.Option) (contentstore.Store, error) {
		return nil, errors.New("dial tcp: connection refused")
	}

	_, err := resolveContentStore(testLogger(t), Config{ContentStore: ContentStoreS3, BucketName: "assets"}, nil, nil)
	require.Equal(t, ContentStoreBootstrapErrorConnectFailed, contentStoreBootstrapErrorCode(err))
}

func TestResolveContentStoreInvalidMode(t *testing.T) {
	_, err := resolveContentStore(testLogger(t), Config{ContentStore: "ftp"}, nil, nil)
	require.Equal(t, ContentStoreBootstrapErrorInvalidMode, contentStoreBootstrapErrorCode(err))
}

type staticURLCache struct {
	urls map[string]string
	sets int
}

func (c *staticURLCache) Get(_ context.Context, key string) (string, bool, error) {
	u, ok := c.urls[key]
	return u, ok, nil
}

func (c *staticURLCache) Set(_ context.Context, key, url string, _ time.Duration) error {
	c.urls[key] = url
	c.sets++
	return nil
}

func TestInstrumentedStoreBehindURLCache(t *testing.T) {
	inner := &countingStore{Store: memstore.New()}
	cache := &staticURLCache{urls: map[string]string{}}
	store := contentstore.WithURLCache(instrumentContentStore("memory", inner, nil), cache, time.Minute, testLogger(t), nil)

	ctx := context.Background()
	_, err := store.Put(ctx, "lamp/thumbnail.png", strings.NewReader("png"))
	require.NoError(t, err)

	first, err := store.PresignedURL(ctx, "lamp/thumbnail.png")
	require.NoError(t, err)
	second, err := store.PresignedURL(ctx, "lamp/thumbnail.png")
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.Equal(t, 1, inner.presigns)
	require.Equal(t, 1, cache.sets)

	rc, err := store.Get(ctx, "lamp/thumbnail.png")
	require.NoError(t, err)
	body, _ := io.ReadAll(rc)
	_ = rc.Close()
	require.Equal(t, "png", string(body))
}

type countingStore struct {
	contentstore.Store
	presigns int
}

func (s *countingStore) PresignedURL(ctx context.Context, key string) (string, error) {
	s.presigns++
	return s.Store.PresignedURL(ctx, key)
}
