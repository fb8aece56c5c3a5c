// Package memstore is an in-memory versioned contentstore.Store used by tests
// and local runs without cloud credentials.
package memstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strings"
	"sync"

	"github.com/usd-asset-library/backend/internal/platform/contentstore"
)

type version struct {
	id   string
	data []byte
}

type Store struct {
	mu      sync.Mutex
	objects map[string][]version
	seq     int64
	baseURL string

	// FailPut, when set, is consulted before every Put.
	FailPut func(key string) error
	// FailPresign, when set, is consulted before every PresignedURL.
	FailPresign func(key string) error
}

func New() *Store {
	return &Store{objects: map[string][]version{}, baseURL: "memory://assets"}
}

func (s *Store) Put(ctx context.Context, key string, r io.Reader) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if s.FailPut != nil {
		if err := s.FailPut(key); err != nil {
			return "", err
		}
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	id := fmt.Sprintf("v%d", s.seq)
	s.objects[key] = append(s.objects[key], version{id: id, data: data})
	return id, nil
}

func (s *Store) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	vs := s.objects[key]
	if len(vs) == 0 {
		return nil, fmt.Errorf("%s: %w", key, contentstore.ErrObjectNotFound)
	}
	return io.NopCloser(bytes.NewReader(vs[len(vs)-1].data)), nil
}

func (s *Store) ListByPrefix(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []string{}
	for k, vs := range s.objects {
		if len(vs) > 0 && strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	vs := s.objects[key]
	if len(vs) == 0 {
		return fmt.Errorf("%s: %w", key, contentstore.ErrObjectNotFound)
	}
	// Drop the latest version, exposing the previous one like a versioned bucket.
	s.objects[key] = vs[:len(vs)-1]
	if len(s.objects[key]) == 0 {
		delete(s.objects, key)
	}
	return nil
}

func (s *Store) DeleteVersion(ctx context.Context, key, versionID string) error {
	if versionID == "" {
		return s.Delete(ctx, key)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	vs := s.objects[key]
	for i, v := range vs {
		if v.id == versionID {
			s.objects[key] = append(vs[:i:i], vs[i+1:]...)
			if len(s.objects[key]) == 0 {
				delete(s.objects, key)
			}
			return nil
		}
	}
	return fmt.Errorf("%s@%s: %w", key, versionID, contentstore.ErrObjectNotFound)
}

func (s *Store) PresignedURL(ctx context.Context, key string) (string, error) {
	if s.FailPresign != nil {
		if err := s.FailPresign(key); err != nil {
			return "", err
		}
	}
	return s.baseURL + "/" + url.PathEscape(key), nil
}

// Versions returns the number of stored versions of key.
func (s *Store) Versions(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.objects[key])
}

var _ contentstore.Store = (*Store)(nil)
