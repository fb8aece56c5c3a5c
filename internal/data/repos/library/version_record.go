package library

import (
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/usd-asset-library/backend/internal/domain"
	"github.com/usd-asset-library/backend/internal/pkg/dbctx"
	"github.com/usd-asset-library/backend/internal/pkg/logger"
)

type VersionRecordRepo interface {
	Create(dbc dbctx.Context, rows []*domain.VersionRecord) ([]*domain.VersionRecord, error)
	ListByCommitIDs(dbc dbctx.Context, commitIDs []uuid.UUID) (map[uuid.UUID][]*domain.VersionRecord, error)
	ListByAsset(dbc dbctx.Context, assetID uuid.UUID) ([]*domain.VersionRecord, error)
	CountByAsset(dbc dbctx.Context, assetID uuid.UUID) (int64, error)
}

type versionRecordRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewVersionRecordRepo(db *gorm.DB, baseLog *logger.Logger) VersionRecordRepo {
	return &versionRecordRepo{db: db, log: baseLog.With("repo", "VersionRecordRepo")}
}

func (r *versionRecordRepo) Create(dbc dbctx.Context, rows []*domain.VersionRecord) ([]*domain.VersionRecord, error) {
	if len(rows) == 0 {
		return []*domain.VersionRecord{}, nil
	}
	if err := dbc.Conn(r.db).Create(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *versionRecordRepo) ListByCommitIDs(dbc dbctx.Context, commitIDs []uuid.UUID) (map[uuid.UUID][]*domain.VersionRecord, error) {
	out := map[uuid.UUID][]*domain.VersionRecord{}
	if len(commitIDs) == 0 {
		return out, nil
	}
	var rows []*domain.VersionRecord
	if err := dbc.Conn(r.db).
		Where("commit_id IN ?", commitIDs).
		Order("position ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	for _, v := range rows {
		out[v.CommitID] = append(out[v.CommitID], v)
	}
	return out, nil
}

func (r *versionRecordRepo) ListByAsset(dbc dbctx.Context, assetID uuid.UUID) ([]*domain.VersionRecord, error) {
	var rows []*domain.VersionRecord
	if err := dbc.Conn(r.db).
		Where("asset_id = ?", assetID).
		Order("created_at ASC, position ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *versionRecordRepo) CountByAsset(dbc dbctx.Context, assetID uuid.UUID) (int64, error) {
	var n int64
	err := dbc.Conn(r.db).Model(&domain.VersionRecord{}).Where("asset_id = ?", assetID).Count(&n).Error
	return n, err
}
