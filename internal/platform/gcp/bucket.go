package gcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/usd-asset-library/backend/internal/pkg/logger"
	"github.com/usd-asset-library/backend/internal/platform/contentstore"
)

type BucketConfig struct {
	Storage    StorageConfig
	BucketName string
	// SignedURLTTL bounds presigned GET URLs.
	SignedURLTTL time.Duration
	// SignerEmail/SignerKey are only needed when the ambient credentials cannot sign.
	SignerEmail string
	SignerKey   []byte
}

// bucketStore is a contentstore.Store over a GCS bucket with object
// versioning enabled. The object generation is the store version id.
type bucketStore struct {
	log           *logger.Logger
	storageClient *storage.Client
	storageMode   Mode
	emulatorHost  string
	bucket        string
	signedURLTTL  time.Duration
	signerEmail   string
	signerKey     []byte
	httpClient    *http.Client
}

func NewBucketStore(log *logger.Logger, cfg BucketConfig) (contentstore.Store, error) {
	if err := cfg.Storage.Validate(); err != nil {
		return nil, fmt.Errorf("validate object storage config: %w", err)
	}
	if strings.TrimSpace(cfg.BucketName) == "" {
		return nil, fmt.Errorf("missing asset bucket name")
	}
	serviceLog := log.With("service", "BucketStore")

	ctx := context.Background()
	stClient, err := newStorageClientForMode(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}

	ttl := cfg.SignedURLTTL
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}

	serviceLog.Info(
		"Object storage initialized",
		"mode", cfg.Storage.Mode,
		"implied_emulator", cfg.Storage.ImpliedEmulator,
		"emulator_host", cfg.Storage.EmulatorHost,
		"bucket", cfg.BucketName,
		"signed_url_ttl", ttl.String(),
	)

	return &bucketStore{
		log:           serviceLog,
		storageClient: stClient,
		storageMode:   cfg.Storage.Mode,
		emulatorHost:  strings.TrimRight(strings.TrimSpace(cfg.Storage.EmulatorHost), "/"),
		bucket:        cfg.BucketName,
		signedURLTTL:  ttl,
		signerEmail:   cfg.SignerEmail,
		signerKey:     cfg.SignerKey,
		httpClient:    &http.Client{Timeout: 2 * time.Minute},
	}, nil
}

func newStorageClientForMode(ctx context.Context, storageCfg StorageConfig) (*storage.Client, error) {
	switch storageCfg.Mode {
	case ModeGCS:
		opts := ClientOptionsFromEnv()
		opts = append(opts, option.WithScopes(storage.ScopeReadWrite))
		return storage.NewClient(ctx, opts...)
	case ModeEmulator:
		endpoint := strings.TrimRight(strings.TrimSpace(storageCfg.EmulatorHost), "/")
		_ = os.Setenv("STORAGE_EMULATOR_HOST", endpoint)
		return storage.NewClient(ctx, option.WithoutAuthentication())
	default:
		return nil, &ConfigError{
			Code: ConfigErrorInvalidMode,
			Mode: string(storageCfg.Mode),
		}
	}
}

func (bs *bucketStore) Put(ctx context.Context, key string, r io.Reader) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	w := bs.storageClient.Bucket(bs.bucket).Object(key).NewWriter(ctx)
	w.ContentType = contentstore.ContentTypeForKey(key)
	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("failed to write data to GCS: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("failed to close GCS writer: %w", err)
	}
	attrs := w.Attrs()
	if attrs == nil {
		return "", nil
	}
	return strconv.FormatInt(attrs.Generation, 10), nil
}

func (bs *bucketStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	if bs.isEmulatorMode() {
		return bs.emulatorGet(ctx, key)
	}
	// The reader outlives this call; cancel runs on Close.
	ctx2, cancel := context.WithTimeout(ctx, 2*time.Minute)
	r, err := bs.storageClient.Bucket(bs.bucket).Object(key).NewReader(ctx2)
	if err != nil {
		cancel()
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, fmt.Errorf("%s: %w", key, contentstore.ErrObjectNotFound)
		}
		return nil, fmt.Errorf("failed to open GCS reader: %w", err)
	}
	return &readCloserWithCancel{ReadCloser: r, cancel: cancel}, nil
}

func (bs *bucketStore) emulatorGet(ctx context.Context, key string) (io.ReadCloser, error) {
	ctx2, cancel := context.WithTimeout(ctx, 2*time.Minute)
	req, err := http.NewRequestWithContext(ctx2, http.MethodGet, bs.emulatorObjectMediaURL(key), nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed creating emulator download request: %w", err)
	}
	resp, err := bs.httpClient.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed emulator download request: %w", err)
	}
	if resp.StatusCode == http.StatusNotFound {
		_ = resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("%s: %w", key, contentstore.ErrObjectNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		_ = resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("emulator download failed: status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return &readCloserWithCancel{ReadCloser: resp.Body, cancel: cancel}, nil
}

func (bs *bucketStore) ListByPrefix(ctx context.Context, prefix string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	it := bs.storageClient.Bucket(bs.bucket).Objects(ctx, &storage.Query{Prefix: prefix})
	out := []string{}
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}
		out = append(out, attrs.Name)
	}
	return out, nil
}

func (bs *bucketStore) Delete(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := bs.storageClient.Bucket(bs.bucket).Object(key).Delete(ctx); err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return fmt.Errorf("%s: %w", key, contentstore.ErrObjectNotFound)
		}
		return fmt.Errorf("failed to delete GCS object %q in bucket %q: %w", key, bs.bucket, err)
	}
	return nil
}

// DeleteVersion removes one generation. Unlike S3, deleting the live
// generation does not promote the previous one.
func (bs *bucketStore) DeleteVersion(ctx context.Context, key, versionID string) error {
	if versionID == "" {
		return bs.Delete(ctx, key)
	}
	gen, err := strconv.ParseInt(versionID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid GCS generation %q: %w", versionID, err)
	}
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := bs.storageClient.Bucket(bs.bucket).Object(key).Generation(gen).Delete(ctx); err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return fmt.Errorf("%s@%s: %w", key, versionID, contentstore.ErrObjectNotFound)
		}
		return fmt.Errorf("failed to delete GCS object %q generation %d: %w", key, gen, err)
	}
	return nil
}

func (bs *bucketStore) PresignedURL(ctx context.Context, key string) (string, error) {
	key = strings.TrimLeft(strings.TrimSpace(key), "/")
	if bs.storageMode == ModeEmulator {
		// The emulator serves objects unauthenticated.
		return bs.emulatorObjectMediaURL(key), nil
	}
	opts := &storage.SignedURLOptions{
		Scheme:  storage.SigningSchemeV4,
		Method:  http.MethodGet,
		Expires: time.Now().Add(bs.signedURLTTL),
	}
	if bs.signerEmail != "" && len(bs.signerKey) > 0 {
		opts.GoogleAccessID = bs.signerEmail
		opts.PrivateKey = bs.signerKey
	}
	u, err := bs.storageClient.Bucket(bs.bucket).SignedURL(key, opts)
	if err != nil {
		return "", fmt.Errorf("sign GCS url for %q: %w", key, err)
	}
	return u, nil
}

type readCloserWithCancel struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (r *readCloserWithCancel) Close() error {
	err := r.ReadCloser.Close()
	if r.cancel != nil {
		r.cancel()
	}
	return err
}

func (bs *bucketStore) isEmulatorMode() bool {
	return bs != nil && bs.storageMode == ModeEmulator && strings.TrimSpace(bs.emulatorHost) != ""
}

func (bs *bucketStore) emulatorObjectMediaURL(key string) string {
	return emulatorObjectMediaURL(bs.emulatorHost, bs.bucket, key)
}

func emulatorObjectMediaURL(host, bucket, key string) string {
	return fmt.Sprintf(
		"%s/storage/v1/b/%s/o/%s?alt=media",
		strings.TrimRight(strings.TrimSpace(host), "/"),
		url.PathEscape(bucket),
		url.PathEscape(key),
	)
}
