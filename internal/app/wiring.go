package app

import (
	"gorm.io/gorm"

	"github.com/usd-asset-library/backend/internal/data/repos"
	httpH "github.com/usd-asset-library/backend/internal/http/handlers"
	"github.com/usd-asset-library/backend/internal/observability"
	"github.com/usd-asset-library/backend/internal/pkg/logger"
	"github.com/usd-asset-library/backend/internal/platform/contentstore"
	"github.com/usd-asset-library/backend/internal/services"
)

type Repos struct {
	Author        repos.AuthorRepo
	Asset         repos.AssetRepo
	Commit        repos.CommitRepo
	VersionRecord repos.VersionRecordRepo
	Keyword       repos.KeywordRepo
}

func wireRepos(db *gorm.DB, log *logger.Logger) Repos {
	log.Info("Wiring repos...")
	return Repos{
		Author:        repos.NewAuthorRepo(db, log),
		Asset:         repos.NewAssetRepo(db, log),
		Commit:        repos.NewCommitRepo(db, log),
		VersionRecord: repos.NewVersionRecordRepo(db, log),
		Keyword:       repos.NewKeywordRepo(db, log),
	}
}

type Services struct {
	Identity   services.IdentityService
	Versioning services.VersioningService
	Checkout   services.CheckoutService
	Query      services.QueryService
	Upload     services.UploadService
	Download   services.DownloadService
}

func wireServices(
	db *gorm.DB,
	log *logger.Logger,
	metrics *observability.Metrics,
	store contentstore.Store,
	events services.LockEventPublisher,
	r Repos,
) Services {
	log.Info("Wiring services...")
	identity := services.NewIdentityService(db, log, r.Author)
	versioning := services.NewVersioningService(db, log, metrics, identity, r.Asset, r.Commit, r.VersionRecord, r.Keyword)
	checkout := services.NewCheckoutService(db, log, metrics, events, r.Asset, r.Author)
	query := services.NewQueryService(db, log, metrics, store, r.Asset, r.Author, r.Commit, r.VersionRecord, r.Keyword)
	return Services{
		Identity:   identity,
		Versioning: versioning,
		Checkout:   checkout,
		Query:      query,
		Upload:     services.NewUploadService(db, log, metrics, store, versioning, checkout),
		Download:   services.NewDownloadService(log, store, versioning),
	}
}

type Handlers struct {
	Health *httpH.HealthHandler
	Asset  *httpH.AssetHandler
	Commit *httpH.CommitHandler
	User   *httpH.UserHandler
}

func wireHandlers(db *gorm.DB, log *logger.Logger, cfg Config, s Services) Handlers {
	log.Info("Wiring handlers...")
	return Handlers{
		Health: httpH.NewHealthHandler(pingDB(db)),
		Asset: httpH.NewAssetHandler(httpH.AssetHandlerDeps{
			Log:            log,
			Query:          s.Query,
			Versioning:     s.Versioning,
			Checkout:       s.Checkout,
			Upload:         s.Upload,
			Download:       s.Download,
			MaxUploadBytes: cfg.MaxUploadBytes,
		}),
		Commit: httpH.NewCommitHandler(log, s.Query),
		User:   httpH.NewUserHandler(log, s.Identity, s.Query),
	}
}
