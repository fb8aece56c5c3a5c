package app

import (
	"context"
	"errors"
	"io"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/usd-asset-library/backend/internal/observability"
	"github.com/usd-asset-library/backend/internal/platform/contentstore"
)

var storeTracer = otel.Tracer("assetlib/contentstore")

type instrumentedContentStore struct {
	backend string
	inner   contentstore.Store
	metrics *observability.Metrics
}

func instrumentContentStore(backend string, inner contentstore.Store, metrics *observability.Metrics) contentstore.Store {
	if inner == nil {
		return nil
	}
	return &instrumentedContentStore{
		backend: backend,
		inner:   inner,
		metrics: metrics,
	}
}

func (s *instrumentedContentStore) Put(ctx context.Context, key string, r io.Reader) (string, error) {
	ctx, span, start := s.begin(ctx, "put", key)
	versionID, err := s.inner.Put(ctx, key, r)
	s.end(span, "put", err, time.Since(start))
	return versionID, err
}

func (s *instrumentedContentStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	ctx, span, start := s.begin(ctx, "get", key)
	rc, err := s.inner.Get(ctx, key)
	s.end(span, "get", err, time.Since(start))
	return rc, err
}

func (s *instrumentedContentStore) ListByPrefix(ctx context.Context, prefix string) ([]string, error) {
	ctx, span, start := s.begin(ctx, "list", prefix)
	keys, err := s.inner.ListByPrefix(ctx, prefix)
	span.SetAttributes(attribute.Int("store.keys", len(keys)))
	s.end(span, "list", err, time.Since(start))
	return keys, err
}

func (s *instrumentedContentStore) Delete(ctx context.Context, key string) error {
	ctx, span, start := s.begin(ctx, "delete", key)
	err := s.inner.Delete(ctx, key)
	s.end(span, "delete", err, time.Since(start))
	return err
}

func (s *instrumentedContentStore) DeleteVersion(ctx context.Context, key, versionID string) error {
	ctx, span, start := s.begin(ctx, "delete_version", key)
	err := s.inner.DeleteVersion(ctx, key, versionID)
	s.end(span, "delete_version", err, time.Since(start))
	return err
}

func (s *instrumentedContentStore) PresignedURL(ctx context.Context, key string) (string, error) {
	ctx, span, start := s.begin(ctx, "presign", key)
	u, err := s.inner.PresignedURL(ctx, key)
	s.end(span, "presign", err, time.Since(start))
	return u, err
}

func (s *instrumentedContentStore) begin(ctx context.Context, operation, key string) (context.Context, trace.Span, time.Time) {
	ctx, span := storeTracer.Start(ctx, "contentstore."+operation, trace.WithAttributes(
		attribute.String("store.backend", s.backend),
		attribute.String("store.key", key),
	))
	return ctx, span, time.Now()
}

func (s *instrumentedContentStore) end(span trace.Span, operation string, err error, dur time.Duration) {
	status := "success"
	switch {
	case err == nil:
	case errors.Is(err, contentstore.ErrObjectNotFound):
		status = "not_found"
	default:
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
	s.metrics.ObserveStoreOperation(s.backend, operation, status, dur)
}
