package library

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Asset is a named, versioned unit of content. AssetName is the natural key
// and never changes after creation.
type Asset struct {
	ID               uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	AssetName        string     `gorm:"column:asset_name;uniqueIndex;not null;size:255" json:"assetName"`
	StructureVersion string     `gorm:"column:structure_version;not null;default:''" json:"assetStructureVersion"`
	HasTexture       bool       `gorm:"column:has_texture;not null;default:false" json:"hasTexture"`
	ThumbnailKey     *string    `gorm:"column:thumbnail_key" json:"thumbnailKey,omitempty"`
	CheckedOutBy     *string    `gorm:"column:checked_out_by;index;size:64" json:"checkedOutBy,omitempty"`
	CheckedOutAt     *time.Time `gorm:"column:checked_out_at" json:"checkedOutAt,omitempty"`
	CommitCount      int64      `gorm:"column:commit_count;not null;default:0" json:"commitCount"`

	CreatedAt time.Time `gorm:"column:created_at;not null" json:"createdAt"`
	UpdatedAt time.Time `gorm:"column:updated_at;not null" json:"updatedAt"`
}

func (Asset) TableName() string { return "assets" }

func (a *Asset) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}

func (a *Asset) IsCheckedOut() bool {
	return a != nil && a.CheckedOutBy != nil && *a.CheckedOutBy != ""
}
