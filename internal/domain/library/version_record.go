package library

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// VersionRecord is one stored file variant ("sublayer") produced by a commit.
type VersionRecord struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	AssetID        uuid.UUID `gorm:"type:uuid;not null;index" json:"assetId"`
	CommitID       uuid.UUID `gorm:"type:uuid;not null;index" json:"commitId"`
	Position       int       `gorm:"column:position;not null;default:0" json:"-"`
	VersionName    string    `gorm:"column:version_name;not null" json:"versionName"`
	StoreKey       string    `gorm:"column:store_key;not null;index" json:"filepath"`
	StoreVersionID *string   `gorm:"column:store_version_id" json:"s3id,omitempty"`
	Version        string    `gorm:"column:version;not null" json:"version"`

	CreatedAt time.Time `gorm:"column:created_at;not null" json:"createdAt"`
}

func (VersionRecord) TableName() string { return "version_records" }

func (v *VersionRecord) BeforeCreate(tx *gorm.DB) error {
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	return nil
}
