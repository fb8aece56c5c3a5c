package app

import (
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go/aws"

	"github.com/usd-asset-library/backend/internal/observability"
	"github.com/usd-asset-library/backend/internal/pkg/logger"
	"github.com/usd-asset-library/backend/internal/platform/contentstore"
	"github.com/usd-asset-library/backend/internal/platform/contentstore/memstore"
	"github.com/usd-asset-library/backend/internal/platform/gcp"
	"github.com/usd-asset-library/backend/internal/platform/redis"
	"github.com/usd-asset-library/backend/internal/platform/s3store"
)

var (
	newBucketStore = gcp.NewBucketStore
	newS3Store     = s3store.New
)

type ContentStoreBootstrapErrorCode string

const (
	ContentStoreBootstrapErrorInvalidMode         ContentStoreBootstrapErrorCode = "invalid_mode"
	ContentStoreBootstrapErrorMissingEmulatorHost ContentStoreBootstrapErrorCode = "missing_emulator_host"
	ContentStoreBootstrapErrorInvalidEmulatorHost ContentStoreBootstrapErrorCode = "invalid_emulator_host"
	ContentStoreBootstrapErrorConnectFailed       ContentStoreBootstrapErrorCode = "connect_failed"
)

type ContentStoreBootstrapError struct {
	Code    ContentStoreBootstrapErrorCode
	Backend string
	Bucket  string
	Cause   error
}

func (e *ContentStoreBootstrapError) Error() string {
	if e == nil {
		return "content store bootstrap failed"
	}
	return fmt.Sprintf(
		"content store bootstrap failed (code=%s backend=%q bucket=%q): %v",
		e.Code,
		e.Backend,
		e.Bucket,
		e.Cause,
	)
}

func (e *ContentStoreBootstrapError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// resolveContentStore builds the configured backend, instruments it and, when
// a URL cache is supplied, fronts PresignedURL with it.
func resolveContentStore(log *logger.Logger, cfg Config, metrics *observability.Metrics, urlCache *redis.URLCache) (contentstore.Store, error) {
	backend := strings.TrimSpace(cfg.ContentStore)
	log.Info("Selecting content store", "backend", backend, "bucket", cfg.BucketName)

	var (
		store contentstore.Store
		err   error
	)
	switch backend {
	case ContentStoreGCS, ContentStoreGCSEmulator:
		var storageCfg gcp.StorageConfig
		storageCfg, err = gcp.ResolveStorageConfig(backend, cfg.StorageEmulatorHost)
		if err == nil {
			store, err = newBucketStore(log, gcp.BucketConfig{
				Storage:      storageCfg,
				BucketName:   cfg.BucketName,
				SignedURLTTL: cfg.PresignTTL,
			})
		}
	case ContentStoreS3:
		awsCfg := aws.NewConfig().WithRegion(cfg.S3Region)
		if ep := strings.TrimSpace(cfg.S3Endpoint); ep != "" {
			awsCfg = awsCfg.WithEndpoint(ep).WithS3ForcePathStyle(true)
		}
		store, err = newS3Store(log, s3store.Bucket(cfg.BucketName), s3store.AWSConfig(awsCfg), s3store.PresignTTL(cfg.PresignTTL))
	case ContentStoreMemory:
		log.Warn("Using in-memory content store; objects do not survive restarts")
		store = memstore.New()
	default:
		err = fmt.Errorf("unsupported content store %q", backend)
	}
	if err != nil {
		classified := classifyContentStoreBootstrapError(backend, cfg.BucketName, err)
		log.Error(
			"Content store bootstrap failed",
			"backend", backend,
			"bucket", cfg.BucketName,
			"error_code", contentStoreBootstrapErrorCode(classified),
			"error", classified,
		)
		return nil, classified
	}

	store = instrumentContentStore(backend, store, metrics)
	if urlCache != nil {
		store = contentstore.WithURLCache(store, urlCache, cfg.URLCacheTTL(), log, metrics.IncURLCache)
	}
	return store, nil
}

func classifyContentStoreBootstrapError(backend, bucket string, err error) error {
	code := ContentStoreBootstrapErrorConnectFailed
	var cfgErr *gcp.ConfigError
	if errors.As(err, &cfgErr) {
		switch cfgErr.Code {
		case gcp.ConfigErrorInvalidMode:
			code = ContentStoreBootstrapErrorInvalidMode
		case gcp.ConfigErrorMissingEmulatorHost:
			code = ContentStoreBootstrapErrorMissingEmulatorHost
		case gcp.ConfigErrorInvalidEmulatorHost:
			code = ContentStoreBootstrapErrorInvalidEmulatorHost
		}
	} else if !isKnownBackend(backend) {
		code = ContentStoreBootstrapErrorInvalidMode
	}
	return &ContentStoreBootstrapError{
		Code:    code,
		Backend: backend,
		Bucket:  bucket,
		Cause:   err,
	}
}

func contentStoreBootstrapErrorCode(err error) ContentStoreBootstrapErrorCode {
	var bootstrapErr *ContentStoreBootstrapError
	if errors.As(err, &bootstrapErr) && bootstrapErr.Code != "" {
		return bootstrapErr.Code
	}
	return ContentStoreBootstrapErrorConnectFailed
}

func isKnownBackend(backend string) bool {
	switch backend {
	case ContentStoreGCS, ContentStoreGCSEmulator, ContentStoreS3, ContentStoreMemory:
		return true
	}
	return false
}
