package repos

import (
	"github.com/usd-asset-library/backend/internal/data/repos/library"
	"github.com/usd-asset-library/backend/internal/pkg/logger"
	"gorm.io/gorm"
)

type AuthorRepo = library.AuthorRepo
type AssetRepo = library.AssetRepo
type CommitRepo = library.CommitRepo
type VersionRecordRepo = library.VersionRecordRepo
type KeywordRepo = library.KeywordRepo

type AssetFilter = library.AssetFilter
type CommitListFilter = library.CommitListFilter

func NewAuthorRepo(db *gorm.DB, baseLog *logger.Logger) AuthorRepo {
	return library.NewAuthorRepo(db, baseLog)
}
func NewAssetRepo(db *gorm.DB, baseLog *logger.Logger) AssetRepo {
	return library.NewAssetRepo(db, baseLog)
}
func NewCommitRepo(db *gorm.DB, baseLog *logger.Logger) CommitRepo {
	return library.NewCommitRepo(db, baseLog)
}
func NewVersionRecordRepo(db *gorm.DB, baseLog *logger.Logger) VersionRecordRepo {
	return library.NewVersionRecordRepo(db, baseLog)
}
func NewKeywordRepo(db *gorm.DB, baseLog *logger.Logger) KeywordRepo {
	return library.NewKeywordRepo(db, baseLog)
}
