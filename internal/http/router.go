package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	httpH "github.com/usd-asset-library/backend/internal/http/handlers"
	httpMW "github.com/usd-asset-library/backend/internal/http/middleware"
	"github.com/usd-asset-library/backend/internal/observability"
	"github.com/usd-asset-library/backend/internal/pkg/logger"
)

type RouterConfig struct {
	Log            *logger.Logger
	Metrics        *observability.Metrics
	ServiceName    string
	AllowedOrigins []string
	// AdminEnabled mounts the /api/admin group.
	AdminEnabled bool

	AssetHandler  *httpH.AssetHandler
	CommitHandler *httpH.CommitHandler
	UserHandler   *httpH.UserHandler
	HealthHandler *httpH.HealthHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	if cfg.ServiceName != "" {
		r.Use(otelgin.Middleware(cfg.ServiceName))
	}
	r.Use(httpMW.RequestContext())
	r.Use(httpMW.RequestLogger(cfg.Log))
	r.Use(httpMW.Metrics(cfg.Metrics))
	r.Use(httpMW.CORS(cfg.AllowedOrigins))

	// Health
	if cfg.HealthHandler != nil {
		r.GET("/healthcheck", cfg.HealthHandler.HealthCheck)
		r.GET("/readyz", cfg.HealthHandler.Ready)
	}
	if cfg.Metrics != nil {
		r.GET("/metrics", gin.WrapH(cfg.Metrics.Handler()))
	}

	api := r.Group("/api")
	{
		// Assets
		if cfg.AssetHandler != nil {
			api.GET("/assets", cfg.AssetHandler.ListAssets)
			api.GET("/assets/:name", cfg.AssetHandler.GetAsset)
			api.POST("/assets/:name/metadata", cfg.AssetHandler.PostMetadata)
			api.PUT("/assets/:name/metadata", cfg.AssetHandler.PutMetadata)
			api.POST("/assets/:name/upload", cfg.AssetHandler.Upload)
			api.POST("/assets/:name/checkin", cfg.AssetHandler.CheckIn)
			api.POST("/assets/:name/checkout", cfg.AssetHandler.Checkout)
			api.POST("/assets/:name/release", cfg.AssetHandler.Release)
			api.GET("/assets/:name/history", cfg.AssetHandler.History)
			api.GET("/assets/:name/download", cfg.AssetHandler.Download)
		}

		// Commits
		if cfg.CommitHandler != nil {
			api.GET("/commits", cfg.CommitHandler.ListCommits)
			api.GET("/commits/:id", cfg.CommitHandler.GetCommit)
		}

		// Users
		if cfg.UserHandler != nil {
			api.GET("/users", cfg.UserHandler.ListUsers)
			api.POST("/users", cfg.UserHandler.RegisterUser)
			api.GET("/users/:pennkey", cfg.UserHandler.GetUser)
		}
	}

	if cfg.AdminEnabled && cfg.AssetHandler != nil {
		admin := api.Group("/admin")
		admin.POST("/assets/:name/release", cfg.AssetHandler.ForceRelease)
	}

	return r
}
