package library

import (
	"strings"
	"time"

	"gorm.io/datatypes"
)

// Author is an identity keyed by its external key (pennkey). Names are empty
// for placeholder identities created on first reference by a commit.
type Author struct {
	Pennkey   string         `gorm:"column:pennkey;primaryKey;size:64" json:"pennkey"`
	FirstName string         `gorm:"column:first_name;not null;default:''" json:"firstName"`
	LastName  string         `gorm:"column:last_name;not null;default:''" json:"lastName"`
	Email     *string        `gorm:"column:email" json:"email,omitempty"`
	Profile   datatypes.JSON `gorm:"column:profile" json:"profile,omitempty"`
	CreatedAt time.Time      `gorm:"column:created_at;not null" json:"createdAt"`
	UpdatedAt time.Time      `gorm:"column:updated_at;not null" json:"updatedAt"`
}

func (Author) TableName() string { return "authors" }

// FullName is "First Last" with missing parts dropped.
func (a *Author) FullName() string {
	if a == nil {
		return ""
	}
	return strings.TrimSpace(strings.TrimSpace(a.FirstName) + " " + strings.TrimSpace(a.LastName))
}

// DisplayName prefers the full name and falls back to the pennkey.
func (a *Author) DisplayName() string {
	if a == nil {
		return ""
	}
	if n := a.FullName(); n != "" {
		return n
	}
	return a.Pennkey
}
