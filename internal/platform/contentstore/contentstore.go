package contentstore

import (
	"context"
	"errors"
	"io"
	"path"
	"strings"
)

var ErrObjectNotFound = errors.New("object not found")

// Store is a versioned object store addressed by key.
type Store interface {
	// Put writes r under key and returns the store's version identifier for the
	// new object, or "" when the backend does not version objects.
	Put(ctx context.Context, key string, r io.Reader) (string, error)
	// Get opens the current version of key. Missing keys return ErrObjectNotFound.
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	ListByPrefix(ctx context.Context, prefix string) ([]string, error)
	Delete(ctx context.Context, key string) error
	// DeleteVersion removes one version of key. An empty versionID behaves
	// like Delete.
	DeleteVersion(ctx context.Context, key, versionID string) error
	// PresignedURL returns a time-limited GET URL for key.
	PresignedURL(ctx context.Context, key string) (string, error)
}

// JoinKey places a client-supplied relative path under prefix. Absolute paths
// and paths that climb out of prefix are rejected.
func JoinKey(prefix, rel string) (string, bool) {
	rel = strings.TrimSpace(strings.ReplaceAll(rel, "\\", "/"))
	if rel == "" || strings.HasPrefix(rel, "/") {
		return "", false
	}
	clean := path.Clean(rel)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", false
	}
	return strings.TrimSuffix(prefix, "/") + "/" + clean, true
}

// ContentTypeForKey guesses a content type from the key's extension.
func ContentTypeForKey(key string) string {
	s := strings.ToLower(strings.TrimSpace(key))
	switch {
	case strings.HasSuffix(s, ".png"):
		return "image/png"
	case strings.HasSuffix(s, ".jpg"), strings.HasSuffix(s, ".jpeg"):
		return "image/jpeg"
	case strings.HasSuffix(s, ".usda"), strings.HasSuffix(s, ".txt"):
		return "text/plain"
	case strings.HasSuffix(s, ".usd"), strings.HasSuffix(s, ".usdc"):
		return "application/octet-stream"
	case strings.HasSuffix(s, ".usdz"):
		return "model/vnd.usdz+zip"
	case strings.HasSuffix(s, ".json"):
		return "application/json"
	default:
		return "application/octet-stream"
	}
}
