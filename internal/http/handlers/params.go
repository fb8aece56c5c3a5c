package handlers

import (
	"strconv"
	"strings"
	"time"

	"github.com/usd-asset-library/backend/internal/platform/apierr"
	"github.com/usd-asset-library/backend/internal/services"
)

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// parseTimestamp accepts RFC 3339 and zone-less ISO 8601; zone-less values
// are UTC. Empty means "now" downstream.
func parseTimestamp(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, apierr.InvalidArgument("invalid timestamp %q", raw)
}

func parseBool(raw string) (bool, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, apierr.InvalidArgument("invalid boolean %q", raw)
	}
	return b, nil
}

func parseLimit(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, apierr.InvalidArgument("invalid limit %q", raw)
	}
	return n, nil
}

type commitBody struct {
	Author    string `json:"author"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
	Note      string `json:"note"`
}

func (b commitBody) toInput() (services.CommitInput, error) {
	ts, err := parseTimestamp(b.Timestamp)
	if err != nil {
		return services.CommitInput{}, err
	}
	return services.CommitInput{
		AuthorKey: b.Author,
		Timestamp: ts,
		Version:   b.Version,
		Note:      b.Note,
	}, nil
}

type registerBody struct {
	AssetStructureVersion string     `json:"assetStructureVersion"`
	HasTexture            bool       `json:"hasTexture"`
	ThumbnailKey          string     `json:"thumbnailKey"`
	Keywords              []string   `json:"keywords"`
	Commit                commitBody `json:"commit"`
}

func (b registerBody) toInput(name string) (services.RegisterAssetInput, error) {
	c, err := b.Commit.toInput()
	if err != nil {
		return services.RegisterAssetInput{}, err
	}
	return services.RegisterAssetInput{
		Name:             name,
		StructureVersion: b.AssetStructureVersion,
		HasTexture:       b.HasTexture,
		ThumbnailKey:     b.ThumbnailKey,
		Keywords:         b.Keywords,
		InitialCommit:    c,
	}, nil
}

type recordBody struct {
	Commit     commitBody              `json:"commit"`
	VersionMap []services.VersionEntry `json:"versionMap"`
	Keywords   []string                `json:"keywords"`
}

type checkInBody struct {
	Commit         commitBody `json:"commit"`
	Keywords       []string   `json:"keywords"`
	KeepCheckedOut bool       `json:"keepCheckedOut"`
}

type holderBody struct {
	Pennkey string `json:"pennkey"`
}
