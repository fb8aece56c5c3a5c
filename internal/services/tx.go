package services

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	"gorm.io/gorm"

	"github.com/usd-asset-library/backend/internal/pkg/dbctx"
	"github.com/usd-asset-library/backend/internal/pkg/reqctx"
	"github.com/usd-asset-library/backend/internal/platform/apierr"
)

var tracer = otel.Tracer("github.com/usd-asset-library/backend/internal/services")

// inTx runs fn inside dbc.Tx when the caller already opened one, otherwise in
// a fresh transaction on db.
func inTx(db *gorm.DB, dbc dbctx.Context, fn func(dbctx.Context) error) error {
	if dbc.Tx != nil {
		return fn(dbc)
	}
	return db.WithContext(dbc.Ctx).Transaction(func(tx *gorm.DB) error {
		return fn(dbc.WithTx(tx))
	})
}

// dbError classifies a repository error. Errors already carrying a kind pass
// through untouched.
func dbError(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	var ae *apierr.Error
	if errors.As(err, &ae) {
		return err
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return apierr.New(apierr.KindConflict, err, format, args...)
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apierr.New(apierr.KindNotFound, err, format, args...)
	}
	return apierr.Internal(err, format, args...)
}

// withRequest appends the request's correlation ids to kv.
func withRequest(ctx context.Context, kv ...interface{}) []interface{} {
	return append(kv, reqctx.LogFields(ctx)...)
}
