package library

import (
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/usd-asset-library/backend/internal/domain"
	"github.com/usd-asset-library/backend/internal/pkg/dbctx"
	"github.com/usd-asset-library/backend/internal/pkg/logger"
)

type AuthorRepo interface {
	// Ensure returns the author for pennkey, inserting a placeholder with empty
	// names when none exists. Safe under concurrent callers.
	Ensure(dbc dbctx.Context, pennkey string) (*domain.Author, error)
	Upsert(dbc dbctx.Context, author *domain.Author) (*domain.Author, error)
	GetByKey(dbc dbctx.Context, pennkey string) (*domain.Author, error)
	GetByKeys(dbc dbctx.Context, pennkeys []string) ([]*domain.Author, error)
	List(dbc dbctx.Context) ([]*domain.Author, error)
}

type authorRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewAuthorRepo(db *gorm.DB, baseLog *logger.Logger) AuthorRepo {
	return &authorRepo{db: db, log: baseLog.With("repo", "AuthorRepo")}
}

func (r *authorRepo) Ensure(dbc dbctx.Context, pennkey string) (*domain.Author, error) {
	t := dbc.Conn(r.db)
	pennkey = strings.TrimSpace(pennkey)
	row := &domain.Author{Pennkey: pennkey}
	if err := t.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "pennkey"}},
		DoNothing: true,
	}).Create(row).Error; err != nil {
		return nil, err
	}
	var out domain.Author
	if err := t.Where("pennkey = ?", pennkey).Take(&out).Error; err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *authorRepo) Upsert(dbc dbctx.Context, author *domain.Author) (*domain.Author, error) {
	t := dbc.Conn(r.db)
	author.UpdatedAt = time.Now().UTC()
	if err := t.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "pennkey"}},
		DoUpdates: clause.AssignmentColumns([]string{"first_name", "last_name", "email", "updated_at"}),
	}).Create(author).Error; err != nil {
		return nil, err
	}
	return r.GetByKey(dbc, author.Pennkey)
}

func (r *authorRepo) GetByKey(dbc dbctx.Context, pennkey string) (*domain.Author, error) {
	var out domain.Author
	err := dbc.Conn(r.db).Where("pennkey = ?", pennkey).Take(&out).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *authorRepo) GetByKeys(dbc dbctx.Context, pennkeys []string) ([]*domain.Author, error) {
	var out []*domain.Author
	if len(pennkeys) == 0 {
		return out, nil
	}
	if err := dbc.Conn(r.db).Where("pennkey IN ?", pennkeys).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *authorRepo) List(dbc dbctx.Context) ([]*domain.Author, error) {
	var out []*domain.Author
	if err := dbc.Conn(r.db).Order("pennkey ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
