package app

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/usd-asset-library/backend/internal/data/db"
	"github.com/usd-asset-library/backend/internal/domain"
	"github.com/usd-asset-library/backend/internal/pkg/logger"
	"github.com/usd-asset-library/backend/internal/services"
)

// Admin is the metadata-only slice of the app used by assetctl. It never
// touches the content store.
type Admin struct {
	Log        *logger.Logger
	DB         *gorm.DB
	Cfg        Config
	Identity   services.IdentityService
	Versioning services.VersioningService
	Checkout   services.CheckoutService

	clients Clients
}

func NewAdmin(ctx context.Context) (*Admin, error) {
	log, err := NewLogger()
	if err != nil {
		return nil, err
	}
	cfg, err := LoadConfig(log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("load config: %w", err)
	}
	theDB, err := OpenDB(log, cfg)
	if err != nil {
		log.Sync()
		return nil, err
	}
	clients, err := wireClients(ctx, log, cfg)
	if err != nil {
		log.Sync()
		return nil, err
	}

	r := wireRepos(theDB, log)
	identity := services.NewIdentityService(theDB, log, r.Author)
	return &Admin{
		Log:        log,
		DB:         theDB,
		Cfg:        cfg,
		Identity:   identity,
		Versioning: services.NewVersioningService(theDB, log, nil, identity, r.Asset, r.Commit, r.VersionRecord, r.Keyword),
		Checkout:   services.NewCheckoutService(theDB, log, nil, clients.LockEvents, r.Asset, r.Author),
		clients:    clients,
	}, nil
}

func (a *Admin) Migrate() error {
	if err := db.AutoMigrateAll(a.DB); err != nil {
		return fmt.Errorf("automigrate: %w", err)
	}
	a.Log.Info("Schema migrated", "driver", a.Cfg.DBDriver)
	return nil
}

// ErrLockEventsDisabled is returned by WatchLocks when REDIS_ADDR is unset.
var ErrLockEventsDisabled = errors.New("lock events disabled: REDIS_ADDR not set")

// WatchLocks delivers checkout events published by any server instance until
// ctx is done.
func (a *Admin) WatchLocks(ctx context.Context, onEvent func(domain.LockEvent)) error {
	if a.clients.LockEvents == nil {
		return ErrLockEventsDisabled
	}
	if err := a.clients.LockEvents.Subscribe(ctx, onEvent); err != nil {
		return err
	}
	a.Log.Info("Watching lock events", "channel", a.Cfg.LockChannel)
	<-ctx.Done()
	return nil
}

func (a *Admin) Close() {
	if a == nil {
		return
	}
	a.clients.Close()
	if sqlDB, err := a.DB.DB(); err == nil {
		_ = sqlDB.Close()
	}
	a.Log.Sync()
}
