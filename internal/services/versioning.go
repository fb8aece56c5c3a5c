package services

import (
	"encoding/json"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/usd-asset-library/backend/internal/data/repos"
	"github.com/usd-asset-library/backend/internal/domain"
	"github.com/usd-asset-library/backend/internal/observability"
	"github.com/usd-asset-library/backend/internal/pkg/dbctx"
	"github.com/usd-asset-library/backend/internal/pkg/logger"
	"github.com/usd-asset-library/backend/internal/platform/apierr"
)

type CommitInput struct {
	AuthorKey string
	Timestamp time.Time
	Version   string
	Note      string
}

type RegisterAssetInput struct {
	Name             string
	StructureVersion string
	HasTexture       bool
	// ThumbnailKey defaults to <name>/thumbnail.png.
	ThumbnailKey  string
	Keywords      []string
	InitialCommit CommitInput
}

// VersionEntry is one confirmed upload. FallbackName labels keys that are not
// .usda layers; when empty the key's base name is used.
type VersionEntry struct {
	StoreKey       string `json:"key"`
	StoreVersionID string `json:"versionId,omitempty"`
	FallbackName   string `json:"name,omitempty"`
}

type RecordCommitInput struct {
	AssetName string
	Commit    CommitInput
	Versions  []VersionEntry
	Keywords  []string
	// RequireHolder, when set, makes the commit conditional on this key
	// holding the asset's checkout at write time.
	RequireHolder string
}

type VersioningService interface {
	RegisterAsset(dbc dbctx.Context, in RegisterAssetInput) (*domain.Asset, error)
	// RecordCommit appends a commit and its version records. Prior history is
	// never touched.
	RecordCommit(dbc dbctx.Context, in RecordCommitInput) (*domain.Commit, error)
	// GetHistory returns commits oldest first; equal timestamps keep insertion order.
	GetHistory(dbc dbctx.Context, assetName string) ([]*domain.Commit, error)
	GetAssetByName(dbc dbctx.Context, assetName string) (*domain.Asset, error)
}

type versioningService struct {
	db          *gorm.DB
	log         *logger.Logger
	metrics     *observability.Metrics
	identity    IdentityService
	assetRepo   repos.AssetRepo
	commitRepo  repos.CommitRepo
	recordRepo  repos.VersionRecordRepo
	keywordRepo repos.KeywordRepo
}

func NewVersioningService(
	db *gorm.DB,
	log *logger.Logger,
	metrics *observability.Metrics,
	identity IdentityService,
	assetRepo repos.AssetRepo,
	commitRepo repos.CommitRepo,
	recordRepo repos.VersionRecordRepo,
	keywordRepo repos.KeywordRepo,
) VersioningService {
	return &versioningService{
		db:          db,
		log:         log.With("service", "VersioningService"),
		metrics:     metrics,
		identity:    identity,
		assetRepo:   assetRepo,
		commitRepo:  commitRepo,
		recordRepo:  recordRepo,
		keywordRepo: keywordRepo,
	}
}

// validateAssetName rejects names that cannot serve as a store prefix.
func validateAssetName(name string) error {
	if name == "" {
		return apierr.InvalidArgument("asset name is required")
	}
	if name != strings.TrimSpace(name) {
		return apierr.InvalidArgument("asset name %q has surrounding whitespace", name)
	}
	if strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return apierr.InvalidArgument("asset name %q must be a single path segment", name)
	}
	return nil
}

func validateCommit(in *CommitInput) error {
	in.AuthorKey = normalizeKey(in.AuthorKey)
	in.Version = strings.TrimSpace(in.Version)
	if in.AuthorKey == "" {
		return apierr.InvalidArgument("commit author is required")
	}
	if in.Version == "" {
		return apierr.InvalidArgument("commit version is required")
	}
	if in.Timestamp.IsZero() {
		in.Timestamp = time.Now()
	}
	in.Timestamp = in.Timestamp.UTC()
	return nil
}

func (s *versioningService) RegisterAsset(dbc dbctx.Context, in RegisterAssetInput) (*domain.Asset, error) {
	ctx, span := tracer.Start(dbc.Ctx, "VersioningService.RegisterAsset")
	defer span.End()
	span.SetAttributes(attribute.String("asset.name", in.Name))
	dbc.Ctx = ctx

	if err := validateAssetName(in.Name); err != nil {
		return nil, err
	}
	if err := validateCommit(&in.InitialCommit); err != nil {
		return nil, err
	}
	thumb := strings.TrimSpace(in.ThumbnailKey)
	if thumb == "" {
		thumb = domain.DefaultThumbnailKey(in.Name)
	}
	keywords := domain.NormalizeKeywords(in.Keywords)

	var created *domain.Asset
	err := inTx(s.db, dbc, func(dbc dbctx.Context) error {
		existing, err := s.assetRepo.GetByName(dbc, in.Name)
		if err != nil {
			return dbError(err, "lookup asset %q", in.Name)
		}
		if existing != nil {
			return apierr.Conflict("asset %q already exists", in.Name)
		}
		if _, err := s.identity.EnsureAuthor(dbc, in.InitialCommit.AuthorKey); err != nil {
			return err
		}
		asset := &domain.Asset{
			AssetName:        in.Name,
			StructureVersion: strings.TrimSpace(in.StructureVersion),
			HasTexture:       in.HasTexture,
			ThumbnailKey:     &thumb,
		}
		if err := s.assetRepo.Create(dbc, asset); err != nil {
			return dbError(err, "asset %q already exists", in.Name)
		}
		if err := s.attachKeywords(dbc, asset, keywords); err != nil {
			return err
		}
		if _, err := s.appendCommit(dbc, asset, in.InitialCommit, nil, ""); err != nil {
			return err
		}
		created, err = s.assetRepo.GetByID(dbc, asset.ID)
		return dbError(err, "reload asset %q", in.Name)
	})
	if err != nil {
		return nil, err
	}
	s.metrics.ObserveCommit(0)
	s.log.Info("Asset registered", withRequest(dbc.Ctx, "asset", in.Name, "author", in.InitialCommit.AuthorKey)...)
	return created, nil
}

func (s *versioningService) RecordCommit(dbc dbctx.Context, in RecordCommitInput) (*domain.Commit, error) {
	ctx, span := tracer.Start(dbc.Ctx, "VersioningService.RecordCommit")
	defer span.End()
	span.SetAttributes(
		attribute.String("asset.name", in.AssetName),
		attribute.Int("commit.versions", len(in.Versions)),
	)
	dbc.Ctx = ctx

	if in.AssetName == "" {
		return nil, apierr.InvalidArgument("asset name is required")
	}
	if err := validateCommit(&in.Commit); err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(in.Versions))
	for i := range in.Versions {
		k := strings.TrimSpace(in.Versions[i].StoreKey)
		if k == "" {
			return nil, apierr.InvalidArgument("version entry %d has no store key", i)
		}
		if _, dup := seen[k]; dup {
			return nil, apierr.InvalidArgument("store key %q appears more than once", k)
		}
		seen[k] = struct{}{}
		in.Versions[i].StoreKey = k
	}
	keywords := domain.NormalizeKeywords(in.Keywords)

	var out *domain.Commit
	err := inTx(s.db, dbc, func(dbc dbctx.Context) error {
		asset, err := s.assetRepo.GetByName(dbc, in.AssetName)
		if err != nil {
			return dbError(err, "lookup asset %q", in.AssetName)
		}
		if asset == nil {
			return apierr.NotFound("asset %q not found", in.AssetName)
		}
		if _, err := s.identity.EnsureAuthor(dbc, in.Commit.AuthorKey); err != nil {
			return err
		}
		if err := s.attachKeywords(dbc, asset, keywords); err != nil {
			return err
		}
		out, err = s.appendCommit(dbc, asset, in.Commit, in.Versions, normalizeKey(in.RequireHolder))
		return err
	})
	if err != nil {
		return nil, err
	}
	s.metrics.ObserveCommit(len(in.Versions))
	s.log.Info("Commit recorded", withRequest(dbc.Ctx,
		"asset", in.AssetName,
		"commit_id", out.ID,
		"seq", out.Seq,
		"version", out.Version,
		"records", len(out.Sublayers),
	)...)
	return out, nil
}

func (s *versioningService) attachKeywords(dbc dbctx.Context, asset *domain.Asset, keywords []string) error {
	if len(keywords) == 0 {
		return nil
	}
	if err := s.keywordRepo.Ensure(dbc, keywords); err != nil {
		return dbError(err, "ensure keywords")
	}
	if err := s.keywordRepo.Attach(dbc, asset.ID, keywords); err != nil {
		return dbError(err, "attach keywords to %q", asset.AssetName)
	}
	return nil
}

// appendCommit must run inside a transaction: the sequence bump and the
// inserts commit or roll back together. A non-empty holder makes the bump
// conditional on that holder still owning the checkout.
func (s *versioningService) appendCommit(dbc dbctx.Context, asset *domain.Asset, in CommitInput, versions []VersionEntry, holder string) (*domain.Commit, error) {
	var seq int64
	if holder == "" {
		next, err := s.assetRepo.NextCommitSeq(dbc, asset.ID)
		if err != nil {
			return nil, dbError(err, "allocate commit sequence for %q", asset.AssetName)
		}
		seq = next
	} else {
		next, ok, err := s.assetRepo.NextCommitSeqHeldBy(dbc, asset.ID, holder)
		if err != nil {
			return nil, dbError(err, "allocate commit sequence for %q", asset.AssetName)
		}
		if !ok {
			return nil, apierr.Conflict("Asset %q is no longer checked out by %s", asset.AssetName, holder)
		}
		seq = next
	}
	commit := &domain.Commit{
		AssetID:   asset.ID,
		Seq:       seq,
		AuthorKey: in.AuthorKey,
		Timestamp: in.Timestamp,
		Version:   in.Version,
		Note:      strings.TrimSpace(in.Note),
	}
	if versions != nil {
		raw, err := json.Marshal(versions)
		if err != nil {
			return nil, apierr.Internal(err, "encode version manifest")
		}
		commit.Manifest = datatypes.JSON(raw)
	}
	if err := s.commitRepo.Create(dbc, commit); err != nil {
		return nil, dbError(err, "insert commit for %q", asset.AssetName)
	}
	if len(versions) == 0 {
		return commit, nil
	}

	rows := make([]*domain.VersionRecord, 0, len(versions))
	for i, v := range versions {
		row := &domain.VersionRecord{
			AssetID:     asset.ID,
			CommitID:    commit.ID,
			Position:    i,
			VersionName: domain.ClassifyVersionName(v.StoreKey, v.FallbackName),
			StoreKey:    v.StoreKey,
			Version:     in.Version,
		}
		if v.StoreVersionID != "" {
			id := v.StoreVersionID
			row.StoreVersionID = &id
		}
		rows = append(rows, row)
	}
	created, err := s.recordRepo.Create(dbc, rows)
	if err != nil {
		return nil, dbError(err, "insert version records for %q", asset.AssetName)
	}
	commit.Sublayers = created
	return commit, nil
}

func (s *versioningService) GetHistory(dbc dbctx.Context, assetName string) ([]*domain.Commit, error) {
	asset, err := s.GetAssetByName(dbc, assetName)
	if err != nil {
		return nil, err
	}
	out, err := s.commitRepo.ListByAsset(dbc, asset.ID)
	if err != nil {
		return nil, dbError(err, "list history for %q", assetName)
	}
	return out, nil
}

func (s *versioningService) GetAssetByName(dbc dbctx.Context, assetName string) (*domain.Asset, error) {
	if assetName == "" {
		return nil, apierr.InvalidArgument("asset name is required")
	}
	asset, err := s.assetRepo.GetByName(dbc, assetName)
	if err != nil {
		return nil, dbError(err, "lookup asset %q", assetName)
	}
	if asset == nil {
		return nil, apierr.NotFound("asset %q not found", assetName)
	}
	return asset, nil
}
