package library

import (
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/usd-asset-library/backend/internal/domain"
	"github.com/usd-asset-library/backend/internal/pkg/dbctx"
	"github.com/usd-asset-library/backend/internal/pkg/logger"
)

// Commits are ordered by (timestamp, seq); seq is the per-asset insertion order.
const (
	commitOrderAsc  = "timestamp ASC, seq ASC"
	commitOrderDesc = "timestamp DESC, seq DESC"
)

type CommitListFilter struct {
	AssetID   *uuid.UUID
	AuthorKey string
	Limit     int
}

type CommitRepo interface {
	Create(dbc dbctx.Context, commit *domain.Commit) error
	GetByID(dbc dbctx.Context, id uuid.UUID) (*domain.Commit, error)
	// ListByAsset returns the asset's history oldest first.
	ListByAsset(dbc dbctx.Context, assetID uuid.UUID) ([]*domain.Commit, error)
	// List returns commits newest first.
	List(dbc dbctx.Context, f CommitListFilter) ([]*domain.Commit, error)
	// BoundsByAssetIDs returns the first and latest commit per asset.
	BoundsByAssetIDs(dbc dbctx.Context, assetIDs []uuid.UUID) (first, latest map[uuid.UUID]*domain.Commit, err error)
	CountByAsset(dbc dbctx.Context, assetID uuid.UUID) (int64, error)
}

type commitRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewCommitRepo(db *gorm.DB, baseLog *logger.Logger) CommitRepo {
	return &commitRepo{db: db, log: baseLog.With("repo", "CommitRepo")}
}

func (r *commitRepo) Create(dbc dbctx.Context, commit *domain.Commit) error {
	// Sublayers are written by VersionRecordRepo.
	return dbc.Conn(r.db).Omit("Sublayers", "Author").Create(commit).Error
}

func (r *commitRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*domain.Commit, error) {
	var out domain.Commit
	err := dbc.Conn(r.db).
		Preload("Author").
		Preload("Sublayers", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).
		Where("id = ?", id).
		Take(&out).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *commitRepo) ListByAsset(dbc dbctx.Context, assetID uuid.UUID) ([]*domain.Commit, error) {
	var out []*domain.Commit
	err := dbc.Conn(r.db).
		Preload("Author").
		Preload("Sublayers", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).
		Where("asset_id = ?", assetID).
		Order(commitOrderAsc).
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *commitRepo) List(dbc dbctx.Context, f CommitListFilter) ([]*domain.Commit, error) {
	q := dbc.Conn(r.db).Preload("Author")
	if f.AssetID != nil {
		q = q.Where("asset_id = ?", *f.AssetID)
	}
	if f.AuthorKey != "" {
		q = q.Where("author_key = ?", f.AuthorKey)
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	var out []*domain.Commit
	if err := q.Order(commitOrderDesc).Order("id ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *commitRepo) BoundsByAssetIDs(dbc dbctx.Context, assetIDs []uuid.UUID) (map[uuid.UUID]*domain.Commit, map[uuid.UUID]*domain.Commit, error) {
	first := map[uuid.UUID]*domain.Commit{}
	latest := map[uuid.UUID]*domain.Commit{}
	if len(assetIDs) == 0 {
		return first, latest, nil
	}
	var rows []*domain.Commit
	err := dbc.Conn(r.db).
		Preload("Author").
		Where("asset_id IN ?", assetIDs).
		Order(commitOrderAsc).
		Find(&rows).Error
	if err != nil {
		return nil, nil, err
	}
	for _, c := range rows {
		if _, ok := first[c.AssetID]; !ok {
			first[c.AssetID] = c
		}
		latest[c.AssetID] = c
	}
	return first, latest, nil
}

func (r *commitRepo) CountByAsset(dbc dbctx.Context, assetID uuid.UUID) (int64, error) {
	var n int64
	err := dbc.Conn(r.db).Model(&domain.Commit{}).Where("asset_id = ?", assetID).Count(&n).Error
	return n, err
}
