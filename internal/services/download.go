package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zip"
	"go.opentelemetry.io/otel/attribute"

	"github.com/usd-asset-library/backend/internal/domain"
	"github.com/usd-asset-library/backend/internal/pkg/dbctx"
	"github.com/usd-asset-library/backend/internal/pkg/logger"
	"github.com/usd-asset-library/backend/internal/platform/apierr"
	"github.com/usd-asset-library/backend/internal/platform/contentstore"
)

// Archive is a resolved download: the object keys are known before any byte
// is written so lookup failures can still be reported as errors.
type Archive struct {
	AssetName string
	Prefix    string
	Keys      []string
}

func (a *Archive) FileName() string {
	return a.AssetName + ".zip"
}

type DownloadService interface {
	OpenArchive(dbc dbctx.Context, assetName string) (*Archive, error)
	// WriteArchive streams a zip of every object in a to w, one object at a time.
	WriteArchive(ctx context.Context, a *Archive, w io.Writer) error
}

type downloadService struct {
	log        *logger.Logger
	store      contentstore.Store
	versioning VersioningService
}

func NewDownloadService(log *logger.Logger, store contentstore.Store, versioning VersioningService) DownloadService {
	return &downloadService{
		log:        log.With("service", "DownloadService"),
		store:      store,
		versioning: versioning,
	}
}

func (s *downloadService) OpenArchive(dbc dbctx.Context, assetName string) (*Archive, error) {
	asset, err := s.versioning.GetAssetByName(dbc, assetName)
	if err != nil {
		return nil, err
	}
	prefix := domain.AssetPrefix(asset.AssetName)
	keys, err := s.store.ListByPrefix(dbc.Ctx, prefix)
	if err != nil {
		return nil, apierr.Upstream(err, "list objects of %q", assetName)
	}
	if len(keys) == 0 {
		return nil, apierr.NotFound("asset %q has no stored files", assetName)
	}
	sort.Strings(keys)
	return &Archive{AssetName: asset.AssetName, Prefix: prefix, Keys: keys}, nil
}

func (s *downloadService) WriteArchive(ctx context.Context, a *Archive, w io.Writer) error {
	ctx, span := tracer.Start(ctx, "DownloadService.WriteArchive")
	defer span.End()
	span.SetAttributes(attribute.String("asset.name", a.AssetName), attribute.Int("archive.entries", len(a.Keys)))

	zw := zip.NewWriter(w)
	zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, flate.BestSpeed)
	})
	now := time.Now()
	for _, key := range a.Keys {
		if err := s.addEntry(ctx, zw, a, key, now); err != nil {
			// Headers are already sent; the truncated archive is the only signal
			// the client gets besides the log line.
			s.log.Error("archive stream aborted", "asset", a.AssetName, "key", key, "error", err)
			_ = zw.Close()
			return err
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("finish archive: %w", err)
	}
	return nil
}

func (s *downloadService) addEntry(ctx context.Context, zw *zip.Writer, a *Archive, key string, mod time.Time) error {
	rc, err := s.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, contentstore.ErrObjectNotFound) {
			// Listed then deleted; skip rather than fail the whole archive.
			s.log.Warn("object vanished during download", "asset", a.AssetName, "key", key)
			return nil
		}
		return apierr.Upstream(err, "read %s", key)
	}
	defer rc.Close()

	fw, err := zw.CreateHeader(&zip.FileHeader{
		Name:     strings.TrimPrefix(key, a.Prefix),
		Method:   zip.Deflate,
		Modified: mod,
	})
	if err != nil {
		return err
	}
	if _, err := io.Copy(fw, rc); err != nil {
		return fmt.Errorf("copy %s: %w", key, err)
	}
	return nil
}
