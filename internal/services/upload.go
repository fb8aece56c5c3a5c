package services

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/usd-asset-library/backend/internal/domain"
	"github.com/usd-asset-library/backend/internal/observability"
	"github.com/usd-asset-library/backend/internal/pkg/dbctx"
	"github.com/usd-asset-library/backend/internal/pkg/httpx"
	"github.com/usd-asset-library/backend/internal/pkg/logger"
	"github.com/usd-asset-library/backend/internal/platform/apierr"
	"github.com/usd-asset-library/backend/internal/platform/contentstore"
)

const (
	uploadConcurrency = 4
	uploadAttempts    = 3
	uploadBackoff     = 200 * time.Millisecond
)

// UploadFile is one file of a multi-file upload. Open may be called more
// than once when a put is retried.
type UploadFile struct {
	// RelPath is relative to the asset root, e.g. "LODs/chair_LOD1.usda".
	RelPath string
	// Name optionally labels non-.usda files in the version list.
	Name string
	Open func() (io.ReadCloser, error)
}

type CreateAssetInput struct {
	Asset RegisterAssetInput
	Files []UploadFile
}

type CheckInInput struct {
	AssetName string
	HolderKey string
	// Commit.AuthorKey defaults to HolderKey.
	Commit         CommitInput
	Keywords       []string
	Files          []UploadFile
	KeepCheckedOut bool
}

type UploadResult struct {
	Asset  *domain.Asset  `json:"asset"`
	Commit *domain.Commit `json:"commit"`
}

// UploadService runs the store-then-metadata flows. Objects are confirmed in
// the content store before any metadata referencing them is written.
type UploadService interface {
	CreateAsset(dbc dbctx.Context, in CreateAssetInput) (*UploadResult, error)
	CheckIn(dbc dbctx.Context, in CheckInInput) (*UploadResult, error)
}

type uploadService struct {
	db         *gorm.DB
	log        *logger.Logger
	metrics    *observability.Metrics
	store      contentstore.Store
	versioning VersioningService
	checkout   CheckoutService
}

func NewUploadService(
	db *gorm.DB,
	log *logger.Logger,
	metrics *observability.Metrics,
	store contentstore.Store,
	versioning VersioningService,
	checkout CheckoutService,
) UploadService {
	return &uploadService{
		db:         db,
		log:        log.With("service", "UploadService"),
		metrics:    metrics,
		store:      store,
		versioning: versioning,
		checkout:   checkout,
	}
}

func (s *uploadService) CreateAsset(dbc dbctx.Context, in CreateAssetInput) (*UploadResult, error) {
	ctx, span := tracer.Start(dbc.Ctx, "UploadService.CreateAsset")
	defer span.End()
	span.SetAttributes(attribute.String("asset.name", in.Asset.Name), attribute.Int("upload.files", len(in.Files)))
	dbc.Ctx = ctx

	name := in.Asset.Name
	if err := validateAssetName(name); err != nil {
		return nil, err
	}
	if len(in.Files) == 0 {
		return nil, apierr.InvalidArgument("no files to upload")
	}
	existing, err := s.versioning.GetAssetByName(dbc, name)
	if err != nil && apierr.KindOf(err) != apierr.KindNotFound {
		return nil, err
	}
	if existing != nil {
		return nil, apierr.Conflict("asset %q already exists", name)
	}

	entries, err := s.uploadAll(dbc.Ctx, name, in.Files)
	if err != nil {
		return nil, err
	}

	if in.Asset.InitialCommit.Timestamp.IsZero() {
		in.Asset.InitialCommit.Timestamp = time.Now().UTC()
	}
	asset, err := s.versioning.RegisterAsset(dbc, in.Asset)
	if err != nil {
		// A concurrent creator won the name; our versions now shadow theirs.
		s.afterMetadataFailure(dbc.Ctx, name, entries, err)
		return nil, err
	}
	// The registration commit carries no records; the uploaded files land in
	// the follow-up commit.
	commit, err := s.versioning.RecordCommit(dbc, RecordCommitInput{
		AssetName: name,
		Commit:    in.Asset.InitialCommit,
		Versions:  entries,
	})
	if err != nil {
		s.afterMetadataFailure(dbc.Ctx, name, entries, err)
		return nil, err
	}
	return &UploadResult{Asset: asset, Commit: commit}, nil
}

func (s *uploadService) CheckIn(dbc dbctx.Context, in CheckInInput) (*UploadResult, error) {
	ctx, span := tracer.Start(dbc.Ctx, "UploadService.CheckIn")
	defer span.End()
	span.SetAttributes(attribute.String("asset.name", in.AssetName), attribute.Int("upload.files", len(in.Files)))
	dbc.Ctx = ctx

	holder := normalizeKey(in.HolderKey)
	if holder == "" {
		return nil, apierr.InvalidArgument("holder key is required")
	}
	if len(in.Files) == 0 {
		return nil, apierr.InvalidArgument("no files to upload")
	}
	asset, err := s.versioning.GetAssetByName(dbc, in.AssetName)
	if err != nil {
		return nil, err
	}
	if !asset.IsCheckedOut() {
		return nil, apierr.Conflict("Asset %q must be checked out before check-in", in.AssetName)
	}
	if *asset.CheckedOutBy != holder {
		return nil, apierr.Conflict("Asset %q is checked out by another user", in.AssetName)
	}

	entries, err := s.uploadAll(dbc.Ctx, in.AssetName, in.Files)
	if err != nil {
		return nil, err
	}

	c := in.Commit
	if strings.TrimSpace(c.AuthorKey) == "" {
		c.AuthorKey = holder
	}
	commit, err := s.versioning.RecordCommit(dbc, RecordCommitInput{
		AssetName:     in.AssetName,
		Commit:        c,
		Versions:      entries,
		Keywords:      in.Keywords,
		RequireHolder: holder,
	})
	if err != nil {
		s.afterMetadataFailure(dbc.Ctx, in.AssetName, entries, err)
		return nil, err
	}

	if !in.KeepCheckedOut {
		released, err := s.checkout.Release(dbc, in.AssetName, holder)
		switch {
		case err == nil:
			return &UploadResult{Asset: released, Commit: commit}, nil
		case apierr.KindOf(err) == apierr.KindConflict:
			// The commit landed while we held the lock; it was taken from us
			// before the release.
			s.log.Warn("Checkout lost after commit; skipping release", withRequest(dbc.Ctx, "asset", in.AssetName, "holder", holder, "error", err)...)
		default:
			return nil, fmt.Errorf("commit recorded but release failed: %w", err)
		}
	}
	if asset, err = s.versioning.GetAssetByName(dbc, in.AssetName); err != nil {
		return nil, err
	}
	return &UploadResult{Asset: asset, Commit: commit}, nil
}

type uploaded struct {
	key, versionID string
}

// uploadAll puts every file under the asset prefix. On any failure the
// objects already written by this call are removed and UpstreamFailure is
// returned; no metadata is touched.
func (s *uploadService) uploadAll(ctx context.Context, assetName string, files []UploadFile) ([]VersionEntry, error) {
	prefix := domain.AssetPrefix(assetName)
	keys := make([]string, len(files))
	seen := make(map[string]struct{}, len(files))
	for i, f := range files {
		key, ok := contentstore.JoinKey(prefix, f.RelPath)
		if !ok {
			return nil, apierr.InvalidArgument("invalid file path %q", f.RelPath)
		}
		if _, dup := seen[key]; dup {
			return nil, apierr.InvalidArgument("file %q uploaded twice", f.RelPath)
		}
		if f.Open == nil {
			return nil, apierr.InvalidArgument("file %q has no content", f.RelPath)
		}
		seen[key] = struct{}{}
		keys[i] = key
	}

	done := make([]*uploaded, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(uploadConcurrency)
	for i := range files {
		i := i
		g.Go(func() error {
			vid, err := s.putWithRetry(gctx, keys[i], files[i])
			if err != nil {
				return fmt.Errorf("upload %s: %w", keys[i], err)
			}
			done[i] = &uploaded{key: keys[i], versionID: vid}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		s.compensate(ctx, assetName, done)
		return nil, apierr.Upstream(err, "content store upload failed")
	}

	out := make([]VersionEntry, len(files))
	for i, u := range done {
		out[i] = VersionEntry{StoreKey: u.key, StoreVersionID: u.versionID, FallbackName: files[i].Name}
	}
	s.log.Info("Uploaded asset files", withRequest(ctx, "asset", assetName, "files", len(out))...)
	return out, nil
}

func (s *uploadService) putWithRetry(ctx context.Context, key string, f UploadFile) (string, error) {
	var vid string
	err := httpx.Retry(ctx, uploadAttempts, uploadBackoff, func(ctx context.Context) error {
		rc, err := f.Open()
		if err != nil {
			return err
		}
		defer rc.Close()
		cr := &countingReader{r: rc}
		id, err := s.store.Put(ctx, key, cr)
		if err != nil {
			return err
		}
		s.metrics.AddUploadBytes(cr.n.Load())
		vid = id
		return nil
	})
	return vid, err
}

// afterMetadataFailure rolls back the batch when the metadata write was
// rejected outright (lost name race, lost checkout, missing asset). Other
// failures leave the objects in place and log them.
func (s *uploadService) afterMetadataFailure(ctx context.Context, assetName string, entries []VersionEntry, err error) {
	switch apierr.KindOf(err) {
	case apierr.KindConflict, apierr.KindNotFound, apierr.KindInvalidArgument:
		done := make([]*uploaded, len(entries))
		for i, e := range entries {
			done[i] = &uploaded{key: e.StoreKey, versionID: e.StoreVersionID}
		}
		s.log.Warn("metadata write rejected after upload; rolling back batch", withRequest(ctx, "asset", assetName, "error", err)...)
		s.compensate(ctx, assetName, done)
	default:
		s.log.Warn("metadata write failed after upload; objects left in store", withRequest(ctx, "asset", assetName, "error", err)...)
	}
}

// compensate removes this batch's versions. Prior versions of the same keys
// are left in place.
func (s *uploadService) compensate(ctx context.Context, assetName string, done []*uploaded) {
	ctx = context.WithoutCancel(ctx)
	var errs error
	n := 0
	for _, u := range done {
		if u == nil {
			continue
		}
		n++
		errs = multierr.Append(errs, s.store.DeleteVersion(ctx, u.key, u.versionID))
	}
	if errs != nil {
		s.log.Error("upload rollback incomplete; orphaned objects remain", withRequest(ctx, "asset", assetName, "error", errs)...)
		return
	}
	if n > 0 {
		s.log.Warn("Rolled back partial upload", withRequest(ctx, "asset", assetName, "objects", n)...)
	}
}

type countingReader struct {
	r io.Reader
	n atomic.Int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n.Add(int64(n))
	return n, err
}
