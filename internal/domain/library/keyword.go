package library

import (
	"strings"

	"github.com/google/uuid"
)

// Keyword is a normalized tag shared across assets.
type Keyword struct {
	Keyword string `gorm:"column:keyword;primaryKey;size:128" json:"keyword"`
}

func (Keyword) TableName() string { return "keywords" }

// AssetKeyword is the many-to-many join between assets and keywords.
type AssetKeyword struct {
	AssetID uuid.UUID `gorm:"type:uuid;primaryKey" json:"assetId"`
	Keyword string    `gorm:"column:keyword;primaryKey;size:128" json:"keyword"`
}

func (AssetKeyword) TableName() string { return "asset_keywords" }

// NormalizeKeywords lower-cases, trims and de-duplicates, keeping first-seen order.
func NormalizeKeywords(raw []string) []string {
	out := make([]string, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))
	for _, k := range raw {
		k = strings.ToLower(strings.TrimSpace(k))
		if k == "" {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}
