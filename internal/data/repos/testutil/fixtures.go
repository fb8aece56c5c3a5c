package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/usd-asset-library/backend/internal/domain"
	"gorm.io/gorm"
)

func SeedAuthor(tb testing.TB, ctx context.Context, tx *gorm.DB, pennkey, first, last string) *domain.Author {
	tb.Helper()
	a := &domain.Author{Pennkey: pennkey, FirstName: first, LastName: last}
	if err := tx.WithContext(ctx).Create(a).Error; err != nil {
		tb.Fatalf("seed author: %v", err)
	}
	return a
}

func SeedAsset(tb testing.TB, ctx context.Context, tx *gorm.DB, name string) *domain.Asset {
	tb.Helper()
	a := &domain.Asset{AssetName: name, StructureVersion: "03.00.00"}
	if err := tx.WithContext(ctx).Create(a).Error; err != nil {
		tb.Fatalf("seed asset: %v", err)
	}
	return a
}

// SeedCommit appends a commit with the next sequence number.
func SeedCommit(tb testing.TB, ctx context.Context, tx *gorm.DB, asset *domain.Asset, authorKey, version string, ts time.Time) *domain.Commit {
	tb.Helper()
	asset.CommitCount++
	if err := tx.WithContext(ctx).Model(&domain.Asset{}).Where("id = ?", asset.ID).Update("commit_count", asset.CommitCount).Error; err != nil {
		tb.Fatalf("bump commit count: %v", err)
	}
	c := &domain.Commit{
		AssetID:   asset.ID,
		Seq:       asset.CommitCount,
		AuthorKey: authorKey,
		Timestamp: ts.UTC(),
		Version:   version,
		Note:      "note " + version,
	}
	if err := tx.WithContext(ctx).Create(c).Error; err != nil {
		tb.Fatalf("seed commit: %v", err)
	}
	return c
}
