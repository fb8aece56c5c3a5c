package library

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/usd-asset-library/backend/internal/domain"
	"github.com/usd-asset-library/backend/internal/pkg/dbctx"
	"github.com/usd-asset-library/backend/internal/pkg/logger"
)

// AssetFilter narrows List. Zero values match everything.
type AssetFilter struct {
	// Search is a case-insensitive substring of the asset name or one of its keywords.
	Search        string
	CheckedInOnly bool
	CheckedOutBy  string
}

type AssetRepo interface {
	Create(dbc dbctx.Context, asset *domain.Asset) error
	GetByName(dbc dbctx.Context, name string) (*domain.Asset, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*domain.Asset, error)
	GetByIDs(dbc dbctx.Context, ids []uuid.UUID) ([]*domain.Asset, error)
	List(dbc dbctx.Context, f AssetFilter) ([]*domain.Asset, error)
	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error

	// NextCommitSeq increments the asset's commit counter and returns the new
	// value. Inside a transaction the row stays locked until commit.
	NextCommitSeq(dbc dbctx.Context, id uuid.UUID) (int64, error)
	// NextCommitSeqHeldBy is NextCommitSeq for an asset currently checked out
	// by holder. ok is false, and nothing changes, when holder lost the lock.
	NextCommitSeqHeldBy(dbc dbctx.Context, id uuid.UUID, holder string) (seq int64, ok bool, err error)

	// SetHolderIfAvailable sets checked_out_by only when it is currently NULL.
	// It reports whether the row was changed.
	SetHolderIfAvailable(dbc dbctx.Context, name, holder string, at time.Time) (bool, error)
	// ClearHolder clears the lock only when holder currently owns it.
	ClearHolder(dbc dbctx.Context, name, holder string) (bool, error)
	// ForceClearHolder clears the lock whoever holds it.
	ForceClearHolder(dbc dbctx.Context, name string) (bool, error)
}

type assetRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewAssetRepo(db *gorm.DB, baseLog *logger.Logger) AssetRepo {
	return &assetRepo{db: db, log: baseLog.With("repo", "AssetRepo")}
}

func (r *assetRepo) Create(dbc dbctx.Context, asset *domain.Asset) error {
	return dbc.Conn(r.db).Create(asset).Error
}

func (r *assetRepo) GetByName(dbc dbctx.Context, name string) (*domain.Asset, error) {
	var out domain.Asset
	err := dbc.Conn(r.db).Where("asset_name = ?", name).Take(&out).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *assetRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*domain.Asset, error) {
	var out domain.Asset
	err := dbc.Conn(r.db).Where("id = ?", id).Take(&out).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *assetRepo) GetByIDs(dbc dbctx.Context, ids []uuid.UUID) ([]*domain.Asset, error) {
	var out []*domain.Asset
	if len(ids) == 0 {
		return out, nil
	}
	if err := dbc.Conn(r.db).Where("id IN ?", ids).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *assetRepo) List(dbc dbctx.Context, f AssetFilter) ([]*domain.Asset, error) {
	q := dbc.Conn(r.db).Model(&domain.Asset{})
	if s := strings.TrimSpace(f.Search); s != "" {
		pattern := "%" + escapeLike(strings.ToLower(s)) + "%"
		sub := dbc.Conn(r.db).
			Model(&domain.AssetKeyword{}).
			Select("asset_id").
			Where(`keyword LIKE ? ESCAPE '\'`, pattern)
		q = q.Where(`(LOWER(asset_name) LIKE ? ESCAPE '\' OR id IN (?))`, pattern, sub)
	}
	if f.CheckedInOnly {
		q = q.Where("checked_out_by IS NULL")
	}
	if f.CheckedOutBy != "" {
		q = q.Where("checked_out_by = ?", f.CheckedOutBy)
	}
	var out []*domain.Asset
	if err := q.Order("created_at ASC, id ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *assetRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	if len(updates) == 0 {
		return nil
	}
	return dbc.Conn(r.db).Model(&domain.Asset{}).Where("id = ?", id).Updates(updates).Error
}

func (r *assetRepo) NextCommitSeq(dbc dbctx.Context, id uuid.UUID) (int64, error) {
	seq, ok, err := r.bumpCommitCount(dbc, dbc.Conn(r.db).Where("id = ?", id), id)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, gorm.ErrRecordNotFound
	}
	return seq, nil
}

func (r *assetRepo) NextCommitSeqHeldBy(dbc dbctx.Context, id uuid.UUID, holder string) (int64, bool, error) {
	return r.bumpCommitCount(dbc, dbc.Conn(r.db).Where("id = ? AND checked_out_by = ?", id, holder), id)
}

func (r *assetRepo) bumpCommitCount(dbc dbctx.Context, scope *gorm.DB, id uuid.UUID) (int64, bool, error) {
	res := scope.Model(&domain.Asset{}).
		UpdateColumn("commit_count", gorm.Expr("commit_count + ?", 1))
	if res.Error != nil {
		return 0, false, res.Error
	}
	if res.RowsAffected == 0 {
		return 0, false, nil
	}
	var seq int64
	if err := dbc.Conn(r.db).Model(&domain.Asset{}).Where("id = ?", id).Select("commit_count").Scan(&seq).Error; err != nil {
		return 0, false, err
	}
	return seq, true, nil
}

func (r *assetRepo) SetHolderIfAvailable(dbc dbctx.Context, name, holder string, at time.Time) (bool, error) {
	res := dbc.Conn(r.db).
		Model(&domain.Asset{}).
		Where("asset_name = ? AND checked_out_by IS NULL", name).
		Updates(map[string]interface{}{
			"checked_out_by": holder,
			"checked_out_at": at,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *assetRepo) ClearHolder(dbc dbctx.Context, name, holder string) (bool, error) {
	res := dbc.Conn(r.db).
		Model(&domain.Asset{}).
		Where("asset_name = ? AND checked_out_by = ?", name, holder).
		Updates(map[string]interface{}{
			"checked_out_by": nil,
			"checked_out_at": nil,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *assetRepo) ForceClearHolder(dbc dbctx.Context, name string) (bool, error) {
	res := dbc.Conn(r.db).
		Model(&domain.Asset{}).
		Where("asset_name = ? AND checked_out_by IS NOT NULL", name).
		Updates(map[string]interface{}{
			"checked_out_by": nil,
			"checked_out_at": nil,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
