package library

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/usd-asset-library/backend/internal/domain"
	"github.com/usd-asset-library/backend/internal/pkg/dbctx"
	"github.com/usd-asset-library/backend/internal/pkg/logger"
)

type KeywordRepo interface {
	// Ensure get-or-creates each keyword. Input must already be normalized.
	Ensure(dbc dbctx.Context, keywords []string) error
	// Attach links keywords to an asset; existing links are kept.
	Attach(dbc dbctx.Context, assetID uuid.UUID, keywords []string) error
	ListByAssetIDs(dbc dbctx.Context, assetIDs []uuid.UUID) (map[uuid.UUID][]string, error)
}

type keywordRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewKeywordRepo(db *gorm.DB, baseLog *logger.Logger) KeywordRepo {
	return &keywordRepo{db: db, log: baseLog.With("repo", "KeywordRepo")}
}

func (r *keywordRepo) Ensure(dbc dbctx.Context, keywords []string) error {
	if len(keywords) == 0 {
		return nil
	}
	rows := make([]*domain.Keyword, 0, len(keywords))
	for _, k := range keywords {
		rows = append(rows, &domain.Keyword{Keyword: k})
	}
	return dbc.Conn(r.db).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&rows).Error
}

func (r *keywordRepo) Attach(dbc dbctx.Context, assetID uuid.UUID, keywords []string) error {
	if len(keywords) == 0 {
		return nil
	}
	rows := make([]*domain.AssetKeyword, 0, len(keywords))
	for _, k := range keywords {
		rows = append(rows, &domain.AssetKeyword{AssetID: assetID, Keyword: k})
	}
	return dbc.Conn(r.db).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&rows).Error
}

func (r *keywordRepo) ListByAssetIDs(dbc dbctx.Context, assetIDs []uuid.UUID) (map[uuid.UUID][]string, error) {
	out := map[uuid.UUID][]string{}
	if len(assetIDs) == 0 {
		return out, nil
	}
	var rows []*domain.AssetKeyword
	if err := dbc.Conn(r.db).
		Where("asset_id IN ?", assetIDs).
		Order("keyword ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	for _, k := range rows {
		out[k.AssetID] = append(out[k.AssetID], k.Keyword)
	}
	return out, nil
}
