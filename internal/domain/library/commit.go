package library

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Commit is an immutable history entry. Seq is the 1-based insertion order
// within the asset and breaks timestamp ties.
type Commit struct {
	ID        uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	AssetID   uuid.UUID      `gorm:"type:uuid;not null;index;uniqueIndex:idx_commit_asset_seq,priority:1" json:"assetId"`
	Seq       int64          `gorm:"column:seq;not null;uniqueIndex:idx_commit_asset_seq,priority:2" json:"seq"`
	AuthorKey string         `gorm:"column:author_key;not null;index;size:64" json:"author"`
	Timestamp time.Time      `gorm:"column:timestamp;not null;index" json:"timestamp"`
	Version   string         `gorm:"column:version;not null" json:"version"`
	Note      string         `gorm:"column:note;not null;default:''" json:"note"`
	Manifest  datatypes.JSON `gorm:"column:manifest" json:"manifest,omitempty"`

	Author    *Author          `gorm:"foreignKey:AuthorKey;references:Pennkey" json:"-"`
	Sublayers []*VersionRecord `gorm:"foreignKey:CommitID" json:"sublayers,omitempty"`

	CreatedAt time.Time `gorm:"column:created_at;not null" json:"createdAt"`
}

func (Commit) TableName() string { return "commits" }

func (c *Commit) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}
