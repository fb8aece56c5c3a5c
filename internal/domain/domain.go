package domain

import "github.com/usd-asset-library/backend/internal/domain/library"

type Author = library.Author
type Asset = library.Asset
type Commit = library.Commit
type VersionRecord = library.VersionRecord
type Keyword = library.Keyword
type AssetKeyword = library.AssetKeyword
type LockEvent = library.LockEvent
type LockAction = library.LockAction

const (
	VersionNameVariantSet = library.VersionNameVariantSet
	VersionNameLOD0       = library.VersionNameLOD0
	VersionNameLOD1       = library.VersionNameLOD1
	VersionNameLOD2       = library.VersionNameLOD2
	DefaultVersion        = library.DefaultVersion

	LockAcquired      = library.LockAcquired
	LockReleased      = library.LockReleased
	LockForceReleased = library.LockForceReleased
)

// AllModels lists every persisted model in migration order.
func AllModels() []any {
	return []any{
		&Author{},
		&Asset{},
		&Keyword{},
		&AssetKeyword{},
		&Commit{},
		&VersionRecord{},
	}
}

var (
	ClassifyVersionName = library.ClassifyVersionName
	DefaultThumbnailKey = library.DefaultThumbnailKey
	AssetPrefix         = library.AssetPrefix
	NormalizeKeywords   = library.NormalizeKeywords
)
