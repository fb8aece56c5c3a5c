package services

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"

	"github.com/usd-asset-library/backend/internal/data/repos"
	"github.com/usd-asset-library/backend/internal/domain"
	"github.com/usd-asset-library/backend/internal/observability"
	"github.com/usd-asset-library/backend/internal/pkg/dbctx"
	"github.com/usd-asset-library/backend/internal/pkg/logger"
	"github.com/usd-asset-library/backend/internal/platform/apierr"
)

// LockEventPublisher receives acquire/release notifications. Publishing is
// best effort and never affects the outcome of the lock operation.
type LockEventPublisher interface {
	Publish(ctx context.Context, ev domain.LockEvent) error
}

// CheckoutService owns the single-holder lock on an asset. Acquire is a
// conditional write on "no current holder"; it never reads then writes.
type CheckoutService interface {
	Checkout(dbc dbctx.Context, assetName, holderKey string) (*domain.Asset, error)
	// Release frees the lock; only the current holder may release.
	Release(dbc dbctx.Context, assetName, holderKey string) (*domain.Asset, error)
	// ForceRelease frees the lock regardless of holder.
	ForceRelease(dbc dbctx.Context, assetName string) (*domain.Asset, error)
}

type checkoutService struct {
	db         *gorm.DB
	log        *logger.Logger
	metrics    *observability.Metrics
	events     LockEventPublisher
	assetRepo  repos.AssetRepo
	authorRepo repos.AuthorRepo
	now        func() time.Time
}

func NewCheckoutService(
	db *gorm.DB,
	log *logger.Logger,
	metrics *observability.Metrics,
	events LockEventPublisher,
	assetRepo repos.AssetRepo,
	authorRepo repos.AuthorRepo,
) CheckoutService {
	return &checkoutService{
		db:         db,
		log:        log.With("service", "CheckoutService"),
		metrics:    metrics,
		events:     events,
		assetRepo:  assetRepo,
		authorRepo: authorRepo,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (s *checkoutService) Checkout(dbc dbctx.Context, assetName, holderKey string) (asset *domain.Asset, err error) {
	ctx, span := tracer.Start(dbc.Ctx, "CheckoutService.Checkout")
	defer span.End()
	span.SetAttributes(attribute.String("asset.name", assetName))
	dbc.Ctx = ctx
	defer func() { s.metrics.IncCheckout("checkout", outcomeOf(err)) }()

	holderKey = normalizeKey(holderKey)
	if holderKey == "" {
		return nil, apierr.InvalidArgument("holder key is required")
	}
	if assetName == "" {
		return nil, apierr.InvalidArgument("asset name is required")
	}
	holder, err := s.authorRepo.GetByKey(dbc, holderKey)
	if err != nil {
		return nil, dbError(err, "lookup holder %q", holderKey)
	}
	if holder == nil {
		return nil, apierr.NotFound("user %q not found", holderKey)
	}

	now := s.now()
	ok, err := s.assetRepo.SetHolderIfAvailable(dbc, assetName, holderKey, now)
	if err != nil {
		return nil, dbError(err, "checkout %q", assetName)
	}
	asset, err = s.assetRepo.GetByName(dbc, assetName)
	if err != nil {
		return nil, dbError(err, "reload asset %q", assetName)
	}
	if asset == nil {
		return nil, apierr.NotFound("asset %q not found", assetName)
	}
	if !ok {
		return nil, s.heldConflict(dbc, asset)
	}

	s.log.Info("Asset checked out", withRequest(dbc.Ctx, "asset", assetName, "holder", holderKey)...)
	s.publish(dbc.Ctx, domain.LockEvent{AssetName: assetName, Holder: holderKey, Action: domain.LockAcquired, At: now})
	return asset, nil
}

func (s *checkoutService) Release(dbc dbctx.Context, assetName, holderKey string) (asset *domain.Asset, err error) {
	ctx, span := tracer.Start(dbc.Ctx, "CheckoutService.Release")
	defer span.End()
	span.SetAttributes(attribute.String("asset.name", assetName))
	dbc.Ctx = ctx
	defer func() { s.metrics.IncCheckout("release", outcomeOf(err)) }()

	holderKey = normalizeKey(holderKey)
	if holderKey == "" {
		return nil, apierr.InvalidArgument("holder key is required")
	}
	if assetName == "" {
		return nil, apierr.InvalidArgument("asset name is required")
	}
	ok, err := s.assetRepo.ClearHolder(dbc, assetName, holderKey)
	if err != nil {
		return nil, dbError(err, "release %q", assetName)
	}
	asset, err = s.assetRepo.GetByName(dbc, assetName)
	if err != nil {
		return nil, dbError(err, "reload asset %q", assetName)
	}
	if asset == nil {
		return nil, apierr.NotFound("asset %q not found", assetName)
	}
	if !ok {
		if !asset.IsCheckedOut() {
			return nil, apierr.Conflict("Asset %q is not checked out", assetName)
		}
		return nil, s.heldConflict(dbc, asset)
	}

	s.log.Info("Asset released", withRequest(dbc.Ctx, "asset", assetName, "holder", holderKey)...)
	s.publish(dbc.Ctx, domain.LockEvent{AssetName: assetName, Holder: holderKey, Action: domain.LockReleased, At: s.now()})
	return asset, nil
}

func (s *checkoutService) ForceRelease(dbc dbctx.Context, assetName string) (asset *domain.Asset, err error) {
	ctx, span := tracer.Start(dbc.Ctx, "CheckoutService.ForceRelease")
	defer span.End()
	dbc.Ctx = ctx
	defer func() { s.metrics.IncCheckout("force_release", outcomeOf(err)) }()

	if assetName == "" {
		return nil, apierr.InvalidArgument("asset name is required")
	}
	before, err := s.assetRepo.GetByName(dbc, assetName)
	if err != nil {
		return nil, dbError(err, "lookup asset %q", assetName)
	}
	if before == nil {
		return nil, apierr.NotFound("asset %q not found", assetName)
	}
	if _, err := s.assetRepo.ForceClearHolder(dbc, assetName); err != nil {
		return nil, dbError(err, "force release %q", assetName)
	}
	asset, err = s.assetRepo.GetByName(dbc, assetName)
	if err != nil {
		return nil, dbError(err, "reload asset %q", assetName)
	}
	if before.IsCheckedOut() {
		s.log.Warn("Asset force released", withRequest(dbc.Ctx, "asset", assetName, "previous_holder", *before.CheckedOutBy)...)
		s.publish(dbc.Ctx, domain.LockEvent{AssetName: assetName, Holder: *before.CheckedOutBy, Action: domain.LockForceReleased, At: s.now()})
	}
	return asset, nil
}

// heldConflict names the current holder the way users know them.
func (s *checkoutService) heldConflict(dbc dbctx.Context, asset *domain.Asset) error {
	if !asset.IsCheckedOut() {
		// Lost a race with a release; the caller can retry.
		return apierr.Conflict("Asset %q changed state concurrently, try again", asset.AssetName)
	}
	key := *asset.CheckedOutBy
	name := key
	if holder, err := s.authorRepo.GetByKey(dbc, key); err != nil {
		s.log.Warn("holder lookup failed", "asset", asset.AssetName, "holder", key, "error", err)
	} else if holder != nil {
		name = holder.DisplayName()
	}
	return apierr.Conflict("Asset is already checked out by %s", name)
}

func (s *checkoutService) publish(ctx context.Context, ev domain.LockEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, ev); err != nil {
		s.log.Warn("lock event publish failed", "asset", ev.AssetName, "action", ev.Action, "error", err)
	}
}

func outcomeOf(err error) string {
	if err == nil {
		return "success"
	}
	return string(apierr.KindOf(err))
}
